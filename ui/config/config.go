// Package config loads the client configuration: a YAML file, then
// UICONN_* environment variables on top of it.
//
//	server_url: ws://localhost:8080/ui
//	debug: true
//	flush_interval: 50ms
//	log:
//	  level: debug
//	  format: json
//	transport:
//	  read_timeout: 30s
//	  send_rate: 20
//	metrics_addr: :9090
//
// The same settings as environment variables are UICONN_SERVER_URL,
// UICONN_DEBUG, UICONN_LOG_LEVEL, UICONN_TRANSPORT_READ_TIMEOUT and so on.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable the package reads.
const EnvPrefix = "UICONN_"

// Config is the complete client configuration.
type Config struct {
	ServerURL     string          `yaml:"server_url" env:"SERVER_URL"`
	Debug         bool            `yaml:"debug" env:"DEBUG"`
	FlushInterval time.Duration   `yaml:"flush_interval" env:"FLUSH_INTERVAL"`
	MetricsAddr   string          `yaml:"metrics_addr" env:"METRICS_ADDR"`
	Log           LogConfig       `yaml:"log" envPrefix:"LOG_"`
	Transport     TransportConfig `yaml:"transport" envPrefix:"TRANSPORT_"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"FORMAT"` // text or json
}

// TransportConfig tunes the websocket connection.
type TransportConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" env:"HANDSHAKE_TIMEOUT"`
	ReadTimeout      time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout     time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	PingTimeout      time.Duration `yaml:"ping_timeout" env:"PING_TIMEOUT"`
	SendRate         float64       `yaml:"send_rate" env:"SEND_RATE"`
	SendBurst        int           `yaml:"send_burst" env:"SEND_BURST"`
}

// Default returns the configuration used for anything not set.
func Default() *Config {
	return &Config{
		ServerURL:     "ws://localhost:8080/ui",
		FlushInterval: 50 * time.Millisecond,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Transport: TransportConfig{
			HandshakeTimeout: 5 * time.Second,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     5 * time.Second,
			PingTimeout:      10 * time.Second,
			SendRate:         50,
			SendBurst:        10,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies the
// environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with the UICONN_* variables that are set.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	return nil
}

// Validate checks the values that cannot be used as given.
func (c *Config) Validate() error {
	var errs []error
	if c.ServerURL == "" {
		errs = append(errs, errors.New("server_url is empty"))
	} else if !strings.HasPrefix(c.ServerURL, "ws://") && !strings.HasPrefix(c.ServerURL, "wss://") {
		errs = append(errs, fmt.Errorf("server_url %q is not a websocket url", c.ServerURL))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log format %q: want text or json", c.Log.Format))
	}
	if c.FlushInterval < 0 {
		errs = append(errs, fmt.Errorf("flush_interval %v is negative", c.FlushInterval))
	}
	if c.Transport.SendRate < 0 {
		errs = append(errs, fmt.Errorf("send_rate %v is negative", c.Transport.SendRate))
	}
	if t := c.Transport; t.ReadTimeout > 0 && (t.PingTimeout <= 0 || t.PingTimeout >= t.ReadTimeout) {
		errs = append(errs, fmt.Errorf("ping_timeout %v must be positive and below read_timeout %v", t.PingTimeout, t.ReadTimeout))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Logger builds the logger the configuration asks for, writing to w.
func (c *Config) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", s, err)
	}
	return l, nil
}
