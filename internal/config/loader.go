package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable the service reads, except
// the conventional OPENAI_API_KEY.
const EnvPrefix = "MEAL_VISION_"

// Loader assembles a Config from its sources.
type Loader struct {
	path   string
	dotEnv string
	lookup func(string) (string, bool)
}

// NewLoader reads the YAML file at path when it is not empty. A .env file in
// the working directory is read when present.
func NewLoader(path string) *Loader {
	return &Loader{path: path, dotEnv: ".env", lookup: os.LookupEnv}
}

// WithDotEnv changes the .env location; an empty path disables it.
func (l *Loader) WithDotEnv(path string) *Loader {
	l.dotEnv = path
	return l
}

// WithLookup replaces the process environment, mainly for tests.
func (l *Loader) WithLookup(lookup func(string) (string, bool)) *Loader {
	if lookup != nil {
		l.lookup = lookup
	}
	return l
}

// Result is a loaded configuration plus what is needed to resolve secrets
// later.
type Result struct {
	Config *Config
	Path   string
	env    env
}

// Credentials returns a provider that re-reads the API key on every call.
func (r *Result) Credentials() *EnvCredentials {
	return &EnvCredentials{vision: r.Config.Vision, env: r.env}
}

// Load merges defaults, the YAML file, the .env file and the environment.
// Flag overrides are applied by the caller with Apply before Validate.
func (l *Loader) Load(ctx context.Context) (*Result, error) {
	cfg := Default()

	if l.path != "" {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(l.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	e := env{lookup: l.lookup}
	if l.dotEnv != "" {
		vars, err := godotenv.Read(l.dotEnv)
		switch {
		case err == nil:
			e.dotEnv = vars
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read %s: %w", l.dotEnv, err)
		}
	}

	if err := e.apply(&cfg); err != nil {
		return nil, err
	}

	return &Result{Config: &cfg, Path: l.path, env: e}, nil
}

// env resolves a variable from the process first and the .env file second.
type env struct {
	lookup func(string) (string, bool)
	dotEnv map[string]string
}

func (e env) get(name string) (string, bool) {
	if e.lookup != nil {
		if v, ok := e.lookup(name); ok {
			return v, true
		}
	}
	v, ok := e.dotEnv[name]
	return v, ok
}

func (e env) apply(cfg *Config) error {
	str := func(name string, dst *string) {
		if v, ok := e.get(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(name string, set func(string) error) {
		if v, ok := e.get(EnvPrefix + name); ok && v != "" {
			if err := set(v); err != nil {
				errs = append(errs, fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err))
			}
		}
	}

	str("HOST", &cfg.Server.Host)
	num("PORT", func(v string) (err error) { cfg.Server.Port, err = strconv.Atoi(v); return })
	str("DB_PATH", &cfg.Storage.DBPath)
	str("ENDPOINT", &cfg.Vision.Endpoint)
	str("MODEL", &cfg.Vision.Model)
	num("TIMEOUT", func(v string) (err error) { cfg.Vision.Timeout, err = time.ParseDuration(v); return })
	num("MAX_ATTEMPTS", func(v string) (err error) { cfg.Retry.MaxAttempts, err = strconv.Atoi(v); return })
	num("MAX_CONCURRENT", func(v string) (err error) {
		cfg.Jobs.MaxConcurrent, err = strconv.ParseInt(v, 10, 64)
		return
	})
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FILE", &cfg.Log.File)
	str("DEEP_LINK_BASE", &cfg.Notify.DeepLinkBase)

	if v, ok := e.get(EnvPrefix + "FORMATS"); ok && v != "" {
		cfg.Photo.AllowedFormats = splitList(v)
	}

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}

// Overrides are command-line values; zero values leave the config untouched.
type Overrides struct {
	Host   string
	Port   int
	DBPath string
}

func (c *Config) Apply(o Overrides) {
	if o.Host != "" {
		c.Server.Host = o.Host
	}
	if o.Port != 0 {
		c.Server.Port = o.Port
	}
	if o.DBPath != "" {
		c.Storage.DBPath = o.DBPath
	}
}
