package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging"`
	History   HistoryConfig   `yaml:"history"`
	Retention RetentionConfig `yaml:"retention"`
}

// ServerConfig holds listen and storage settings.
type ServerConfig struct {
	Address string    `yaml:"address"`
	Port    int       `yaml:"port"`
	DBPath  string    `yaml:"db_path"`
	TLS     TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AuthConfig drives bearer-credential verification on the websocket
// handshake. All three of secret, audience and issuer are checked.
type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	Audience         string `yaml:"audience"`
	Issuer           string `yaml:"issuer"`
	HandshakeTimeout string `yaml:"handshake_timeout"`
}

// SecurityConfig holds origin and rate limit settings.
type SecurityConfig struct {
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// HistoryConfig bounds the per-conversation replay window.
type HistoryConfig struct {
	Limit int `yaml:"limit"`
}

// RetentionConfig holds configuration for the automatic purge runner.
type RetentionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
	Period  string `yaml:"period"`
}

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// HandshakeTimeout returns the bounded wait for the identification signal.
func (c *Config) HandshakeTimeout() time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(c.Auth.HandshakeTimeout)); err == nil && d > 0 {
		return d
	}
	return 10 * time.Second
}

// HistoryLimit returns the replay window size per conversation.
func (c *Config) HistoryLimit() int {
	if c.History.Limit > 0 {
		return c.History.Limit
	}
	return 50
}

// RetentionPeriod parses the retention period. Accepts Go durations
// ("720h") or a day suffix ("30d").
func (c *Config) RetentionPeriod() (time.Duration, error) {
	p := strings.TrimSpace(c.Retention.Period)
	if p == "" {
		return 0, fmt.Errorf("empty retention period")
	}
	if strings.HasSuffix(p, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(p, "d"))
		if err != nil {
			return 0, fmt.Errorf("invalid retention period %q: %w", p, err)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(p)
	if err != nil {
		return 0, fmt.Errorf("invalid retention period %q: %w", p, err)
	}
	return d, nil
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
