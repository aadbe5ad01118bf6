package server

import (
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hermesync/hermesync/internal/core/observability/log"
)

// Config holds the gateway options. Both listeners accept the same frame
// shape; either address may be left empty to disable that transport.
type Config struct {
	// WebSocketAddr is the host:port the HTTP listener binds to.
	WebSocketAddr string `yaml:"websocket_addr" json:"websocket_addr"`
	// QUICAddr is the host:port the QUIC listener binds to.
	QUICAddr string `yaml:"quic_addr" json:"quic_addr"`

	MaxClients     int   `yaml:"max_clients" json:"max_clients"`
	MaxMessageSize int64 `yaml:"max_message_size" json:"max_message_size"`

	ReadTimeout         time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout        time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ClientTimeout       time.Duration `yaml:"client_timeout" json:"client_timeout"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// TLSConfig overrides the self-signed certificate the QUIC listener
	// generates when nil. Not loadable from file.
	TLSConfig *tls.Config `yaml:"-" json:"-"`
}

// DefaultConfig returns the standard gateway options.
func DefaultConfig() Config {
	return Config{
		WebSocketAddr:       "localhost:8080",
		QUICAddr:            "localhost:9090",
		MaxClients:          1000,
		MaxMessageSize:      64 * 1024,
		ReadTimeout:         30 * time.Second,
		WriteTimeout:        10 * time.Second,
		ClientTimeout:       2 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
		LogLevel:            "info",
	}
}

// LoadConfig reads a YAML config from path, filling omitted fields with the
// defaults.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer func() { _ = f.Close() }()
	return ReadConfig(f)
}

// ReadConfig decodes a YAML config from the reader on top of the defaults.
func ReadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations no listener could run with.
func (c Config) Validate() error {
	if c.WebSocketAddr == "" && c.QUICAddr == "" {
		return fmt.Errorf("%w: no listen address", ErrInvalidConfig)
	}
	if c.MaxClients <= 0 {
		return fmt.Errorf("%w: max_clients must be positive", ErrInvalidConfig)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: max_message_size must be positive", ErrInvalidConfig)
	}
	return nil
}

// Level maps the configured log level name onto the logger's levels.
// Unknown names fall back to info.
func (c Config) Level() log.Level {
	switch c.LogLevel {
	case "debug":
		return log.LevelDebug
	case "warn":
		return log.LevelWarn
	case "error":
		return log.LevelError
	case "silent":
		return log.LevelSilent
	default:
		return log.LevelInfo
	}
}
