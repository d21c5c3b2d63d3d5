package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries everything the API process needs at boot. Values come from
// the environment; an optional YAML file (CONFIG_FILE) fills in anything the
// environment leaves at its default.
type Config struct {
	HTTPPort    int    `yaml:"http_port"`
	DatabaseURL string `yaml:"database_url"`
	JWTSecret   string `yaml:"jwt_secret"`

	Gateway   GatewayConfig   `yaml:"gateway"`
	Geocoder  GeocoderConfig  `yaml:"geocoder"`
	Quorum    QuorumConfig    `yaml:"quorum"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
}

// GatewayConfig points at the payment provider's callable endpoints.
type GatewayConfig struct {
	BaseURL string        `yaml:"base_url"`
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout"`
}

// GeocoderConfig points at the address resolution endpoint.
type GeocoderConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// QuorumConfig holds the peer-verification vote threshold. The threshold is
// configuration, not a literal: product has already flip-flopped between 2
// and 3.
type QuorumConfig struct {
	Threshold int `yaml:"threshold"`
}

// ReconcileConfig tunes the escrow settlement sweep.
type ReconcileConfig struct {
	Interval       time.Duration `yaml:"interval"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

const DefaultQuorumThreshold = 2

// Load builds a Config from the environment, merging CONFIG_FILE first when
// it is set.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.HTTPPort = getEnvInt("HTTP_PORT", cfg.HTTPPort)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.Gateway.BaseURL = getEnv("GATEWAY_BASE_URL", cfg.Gateway.BaseURL)
	cfg.Gateway.Secret = getEnv("GATEWAY_SECRET", cfg.Gateway.Secret)
	cfg.Geocoder.BaseURL = getEnv("GEOCODER_BASE_URL", cfg.Geocoder.BaseURL)
	cfg.Quorum.Threshold = getEnvInt("QUORUM_THRESHOLD", cfg.Quorum.Threshold)

	if cfg.Quorum.Threshold < 1 {
		return nil, fmt.Errorf("config: quorum threshold must be at least 1, got %d", cfg.Quorum.Threshold)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		HTTPPort: 8080,
		Gateway: GatewayConfig{
			Timeout: 15 * time.Second,
		},
		Geocoder: GeocoderConfig{
			BaseURL: "https://nominatim.openstreetmap.org",
			Timeout: 10 * time.Second,
		},
		Quorum: QuorumConfig{
			Threshold: DefaultQuorumThreshold,
		},
		Reconcile: ReconcileConfig{
			Interval:       time.Minute,
			InitialBackoff: 5 * time.Second,
			MaxBackoff:     10 * time.Minute,
		},
	}
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
