// Package config loads service settings from defaults, a YAML file, an
// optional .env file, the process environment and command-line overrides,
// in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type ServerConfig struct {
	Transport string `yaml:"transport" validate:"required,oneof=http"`
	Host      string `yaml:"host" validate:"required"`
	Port      int    `yaml:"port" validate:"min=1,max=65535"`
}

type StorageConfig struct {
	DBPath string `yaml:"db_path" validate:"required"`
}

type VisionConfig struct {
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`
	Model    string `yaml:"model" validate:"required"`
	// APIKey is normally supplied through OPENAI_API_KEY rather than the file.
	APIKey            string        `yaml:"api_key"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxTokens         int           `yaml:"max_tokens" validate:"min=1"`
	Temperature       float32       `yaml:"temperature" validate:"min=0,max=2"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int           `yaml:"burst" validate:"gte=0"`
}

type RetryConfig struct {
	MaxAttempts         int           `yaml:"max_attempts" validate:"min=1,max=10"`
	InitialInterval     time.Duration `yaml:"initial_interval" validate:"gt=0"`
	MaxInterval         time.Duration `yaml:"max_interval" validate:"gtefield=InitialInterval"`
	Multiplier          float64       `yaml:"multiplier" validate:"gte=1"`
	RandomizationFactor float64       `yaml:"randomization_factor" validate:"gte=0,lt=1"`
}

type JobsConfig struct {
	MaxConcurrent int64 `yaml:"max_concurrent" validate:"min=1"`
}

type PhotoConfig struct {
	MaxBytes       int64    `yaml:"max_bytes" validate:"min=1"`
	MaxWidth       int      `yaml:"max_width" validate:"min=1"`
	MaxHeight      int      `yaml:"max_height" validate:"min=1"`
	AllowedFormats []string `yaml:"allowed_formats" validate:"required,min=1,dive,oneof=jpeg jpg png gif webp"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	// File is appended to; empty means stderr.
	File string `yaml:"file"`
}

type NotifyConfig struct {
	DeepLinkBase string `yaml:"deep_link_base" validate:"required"`
}

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Vision  VisionConfig  `yaml:"vision"`
	Retry   RetryConfig   `yaml:"retry"`
	Jobs    JobsConfig    `yaml:"jobs"`
	Photo   PhotoConfig   `yaml:"photo"`
	Log     LogConfig     `yaml:"log"`
	Notify  NotifyConfig  `yaml:"notify"`
}

// Default returns the built-in settings every other source overrides.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Transport: "http",
			Host:      "0.0.0.0",
			Port:      8011,
		},
		Storage: StorageConfig{DBPath: "/data/meal-vision.db"},
		Vision: VisionConfig{
			Model:             "gpt-4o-mini",
			Timeout:           60 * time.Second,
			MaxTokens:         1000,
			Temperature:       0.2,
			RequestsPerSecond: 1,
			Burst:             2,
		},
		Retry: RetryConfig{
			MaxAttempts:         3,
			InitialInterval:     2 * time.Second,
			MaxInterval:         30 * time.Second,
			Multiplier:          2.0,
			RandomizationFactor: 0.2,
		},
		Jobs: JobsConfig{MaxConcurrent: 2},
		Photo: PhotoConfig{
			MaxBytes:       10 << 20,
			MaxWidth:       8192,
			MaxHeight:      8192,
			AllowedFormats: []string{"jpeg", "png", "gif", "webp"},
		},
		Log:    LogConfig{Level: "info"},
		Notify: NotifyConfig{DeepLinkBase: "mealvision://app"},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every section and reports all violations at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("failed to validate config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", field, fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
