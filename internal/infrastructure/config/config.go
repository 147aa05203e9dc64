// Package config loads the application configuration from defaults, an
// optional YAML file, and ADE_-prefixed environment variables, in that
// order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/davidleathers/anomaly-detection-backend/internal/detector"
	"github.com/davidleathers/anomaly-detection-backend/internal/service/alerting"
	detectionsvc "github.com/davidleathers/anomaly-detection-backend/internal/service/detection"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment" validate:"oneof=development staging production"`
	LogLevel    string `koanf:"log_level" validate:"oneof=debug info warn error"`

	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`

	Detection detectionsvc.Config `koanf:"detection"`
	Scoring   detector.Config     `koanf:"scoring"`
	Alerting  AlertingConfig      `koanf:"alerting"`
	Security  SecurityConfig      `koanf:"security"`
	Telemetry TelemetryConfig     `koanf:"telemetry"`
}

type ServerConfig struct {
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// URL is empty in the dev profile; the in-memory store is used instead.
	URL             string        `koanf:"url"`
	MaxConns        int           `koanf:"max_conns"`
	MinConns        int           `koanf:"min_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	// Addr is empty when Redis is absent; alert dedupe falls back to the
	// in-process guard.
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type AlertingConfig struct {
	Dispatch       alerting.Config `koanf:"dispatch"`
	WebhookURL     string          `koanf:"webhook_url" validate:"omitempty,url"`
	WebhookTimeout time.Duration   `koanf:"webhook_timeout"`
	// Email is enabled when a host is configured.
	Email alerting.EmailConfig `koanf:"email"`
}

type SecurityConfig struct {
	// JWTSecret enables bearer auth on the API when set.
	JWTSecret string          `koanf:"jwt_secret"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `koanf:"requests_per_second" validate:"min=1"`
	BurstSize         int `koanf:"burst_size" validate:"min=1"`
}

type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	OTLPEndpoint string  `koanf:"otlp_endpoint"`
	SamplingRate float64 `koanf:"sampling_rate" validate:"min=0,max=1"`
}

func defaults() *Config {
	return &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxConns:        25,
			MinConns:        5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Detection: detectionsvc.DefaultConfig(),
		Scoring:   detector.DefaultConfig(),
		Alerting: AlertingConfig{
			Dispatch:       alerting.DefaultConfig(),
			WebhookTimeout: 5 * time.Second,
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 100,
				BurstSize:         200,
			},
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

// Load reads configuration from the default file location.
func Load() (*Config, error) {
	return LoadFrom("configs/config.yaml")
}

// LoadFrom reads configuration layered as defaults, then the YAML file at
// path (optional), then ADE_ environment variables.
func LoadFrom(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// The config file is optional.
	_ = k.Load(file.Provider(path), yaml.Parser())

	if err := k.Load(env.Provider("ADE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "ADE_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces field constraints plus the cross-field rules the struct
// tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := c.Detection.Severity.Validate(); err != nil {
		return fmt.Errorf("invalid severity bounds: %w", err)
	}
	if err := c.Scoring.Normalize(); err != nil {
		return fmt.Errorf("invalid scoring configuration: %w", err)
	}
	return nil
}

// IsDevelopment reports whether the dev profile is active.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
