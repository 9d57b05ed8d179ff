package config

import (
	"context"
	"strings"

	"mcp-meal-vision/internal/vision"
)

// Variables holding the vision API key, most specific first.
var apiKeyVars = []string{EnvPrefix + "API_KEY", "OPENAI_API_KEY"}

// EnvCredentials resolves the vision credentials from the environment, the
// .env file and finally the config file, on every call. A key removed from
// all of them surfaces as a blank key, which the vision client reports as a
// missing credential.
type EnvCredentials struct {
	vision VisionConfig
	env    env
}

func (c *EnvCredentials) Credentials(ctx context.Context) (vision.Credentials, error) {
	if err := ctx.Err(); err != nil {
		return vision.Credentials{}, err
	}

	key := strings.TrimSpace(c.vision.APIKey)
	for _, name := range apiKeyVars {
		if v, ok := c.env.get(name); ok && strings.TrimSpace(v) != "" {
			key = strings.TrimSpace(v)
			break
		}
	}

	return vision.Credentials{
		APIKey:   key,
		Endpoint: c.vision.Endpoint,
		Model:    c.vision.Model,
	}, nil
}
