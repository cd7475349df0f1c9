package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the receiver configuration.
const (
	DefaultGRPCPort   = 50051
	DefaultHTTPPort   = 8081
	DefaultSeriesTTL  = 24 * time.Hour
	DefaultMaxSamples = 288 // one day of 5-minute cycles
)

// Config holds the receiver configuration parsed from the `server:` section
// of the YAML file. Agent sections in the same file are ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all receiver settings.
type ServerConfig struct {
	// GRPCPort is the port PutMetricData is served on (default 50051).
	GRPCPort int `yaml:"grpc_port"`

	// HTTPPort serves the series REST API and /metrics (default 8081).
	HTTPPort int `yaml:"http_port"`

	Auth AuthConfig `yaml:"auth"`

	Retention RetentionConfig `yaml:"retention"`
}

// AuthConfig controls client authentication for both gRPC and REST.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv names the environment variable holding the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the gRPC metadata key and HTTP header carrying the key.
	// Defaults to "x-api-key".
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// RetentionConfig bounds what the series store keeps in memory.
type RetentionConfig struct {
	// TTL evicts a series that has received no point for this long.
	TTL time.Duration `yaml:"ttl"`

	// MaxSamples caps the samples kept per series; the oldest are dropped.
	MaxSamples int `yaml:"max_samples"`
}

// Load reads and parses the config file at path.
// Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCPort: DefaultGRPCPort,
			HTTPPort: DefaultHTTPPort,
			Retention: RetentionConfig{
				TTL:        DefaultSeriesTTL,
				MaxSamples: DefaultMaxSamples,
			},
		},
	}
}

func validate(cfg *Config) error {
	s := cfg.Server
	if s.GRPCPort <= 0 || s.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [1, 65535]", s.GRPCPort)
	}
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	if s.GRPCPort == s.HTTPPort {
		return fmt.Errorf("server.grpc_port and server.http_port must differ")
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	if s.Auth.Mode == "apikey" && s.Auth.KeyEnv == "" {
		return fmt.Errorf("server.auth.key_env is required when mode is apikey")
	}
	if s.Retention.TTL <= 0 {
		return fmt.Errorf("server.retention.ttl must be positive")
	}
	if s.Retention.MaxSamples <= 0 {
		return fmt.Errorf("server.retention.max_samples must be positive")
	}
	return nil
}
