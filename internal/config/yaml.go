package config

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the top-level licensor configuration file.
type YAMLConfig struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Engine  EngineConfig  `yaml:"engine"`
	Audit   AuditConfig   `yaml:"audit"`
	Auth    AuthConfig    `yaml:"auth"`
	Metrics MetricsConfig `yaml:"metrics"`
	MCP     MCPConfig     `yaml:"mcp"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string          `yaml:"host"`
	Port            int             `yaml:"port"`
	MaxBodySize     string          `yaml:"max_body_size"`
	ShutdownTimeout string          `yaml:"shutdown_timeout"`
	CORS            CORSConfig      `yaml:"cors"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	TLS             TLSConfig       `yaml:"tls"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
	Methods []string `yaml:"methods"`
}

// RateLimitConfig bounds requests per client IP on the public license
// endpoints (activate and sync) and per API key on the authenticated ones.
// Zero disables the corresponding limit.
type RateLimitConfig struct {
	ClientRPM int `yaml:"client_rpm"`
	KeyRPM    int `yaml:"key_rpm"`
}

// TLSConfig controls TLS termination at the server level.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// StoreConfig selects the license store backend.
type StoreConfig struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	Database     string `yaml:"database,omitempty"`
	KeyPrefix    string `yaml:"key_prefix,omitempty"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// EngineConfig tunes the license engine.
type EngineConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	MaxBulk     int `yaml:"max_bulk"`
}

// AuditConfig controls where usage log entries go besides the license store.
type AuditConfig struct {
	Buffer int         `yaml:"buffer"`
	Kafka  KafkaConfig `yaml:"kafka"`
}

// KafkaConfig enables streaming audit entries to a Kafka topic. Empty
// Brokers disables it.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// AuthConfig controls authentication settings.
type AuthConfig struct {
	JWTSecret    string `yaml:"jwt_secret"`
	JWTExpiry    string `yaml:"jwt_expiry"`
	APIKeyHeader string `yaml:"api_key_header"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled         bool   `yaml:"enabled"`
	RefreshInterval string `yaml:"refresh_interval"`
}

// MCPConfig controls the MCP (Model Context Protocol) server.
type MCPConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Transport string `yaml:"transport"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadYAMLConfig reads and parses a YAML configuration file on top of the
// defaults. Environment variables referenced as ${VAR_NAME} in the file are
// expanded before parsing.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	content := os.ExpandEnv(string(data))

	cfg := DefaultYAMLConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with sensible defaults.
func DefaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			MaxBodySize:     "1MB",
			ShutdownTimeout: "30s",
			CORS: CORSConfig{
				Origins: []string{"*"},
				Methods: []string{"GET", "POST", "DELETE"},
			},
			RateLimit: RateLimitConfig{ClientRPM: 600, KeyRPM: 1200},
		},
		Store: StoreConfig{
			Driver:       "sqlite",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Engine: EngineConfig{
			MaxAttempts: 8,
			MaxBulk:     10000,
		},
		Audit: AuditConfig{
			Buffer: 1024,
			Kafka:  KafkaConfig{Brokers: []string{}, Topic: "license.usage"},
		},
		Auth: AuthConfig{
			JWTExpiry:    "1h",
			APIKeyHeader: "X-API-Key",
		},
		Metrics: MetricsConfig{
			Enabled:         true,
			RefreshInterval: "1m",
		},
		MCP: MCPConfig{
			Enabled:   true,
			Transport: "stdio",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	cfg := DefaultYAMLConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// BodyLimit parses MaxBodySize ("1MB", "512KiB", "65536") into bytes.
func (c ServerConfig) BodyLimit() (int64, error) {
	if c.MaxBodySize == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.MaxBodySize)
	if err != nil {
		return 0, fmt.Errorf("server.max_body_size: %w", err)
	}
	return int64(n), nil
}

// ShutdownGrace parses ShutdownTimeout.
func (c ServerConfig) ShutdownGrace() (time.Duration, error) {
	return parseDuration("server.shutdown_timeout", c.ShutdownTimeout, 30*time.Second)
}

// SessionTTL parses JWTExpiry.
func (c AuthConfig) SessionTTL() (time.Duration, error) {
	return parseDuration("auth.jwt_expiry", c.JWTExpiry, time.Hour)
}

// Interval parses RefreshInterval.
func (c MetricsConfig) Interval() (time.Duration, error) {
	return parseDuration("metrics.refresh_interval", c.RefreshInterval, time.Minute)
}

func parseDuration(field, value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", field, value)
	}
	return d, nil
}
