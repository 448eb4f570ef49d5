// Package config loads realtime client settings from an optional YAML file
// and PULSEWIRE_* environment variables. Environment values win.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PULSEWIRE_"

// Config is the full client configuration.
type Config struct {
	// URL is the websocket endpoint, e.g. wss://host/api/ws.
	URL string `yaml:"url"`

	// Token is only read from the environment or flags, never from files.
	Token string `yaml:"-"`

	// TokenParam is the query parameter carrying the token.
	TokenParam string `yaml:"token_param"`

	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`

	// ReadIdleTimeout closes a socket that has been silent this long.
	ReadIdleTimeout time.Duration `yaml:"read_idle_timeout"`

	// SignalPingInterval throttles pings triggered by visibility signals.
	SignalPingInterval time.Duration `yaml:"signal_ping_interval"`

	Backoff     BackoffConfig     `yaml:"backoff"`
	CursorStore CursorStoreConfig `yaml:"cursor_store"`

	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// BackoffConfig configures reconnect delays.
type BackoffConfig struct {
	Base        time.Duration `yaml:"base"`
	Max         time.Duration `yaml:"max"`
	ExponentCap int           `yaml:"exponent_cap"`
}

// CursorStoreConfig selects where resume cursors live.
type CursorStoreConfig struct {
	// Backend is memory, redis or postgres.
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	KeyPrefix     string `yaml:"key_prefix"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		TokenParam:         "token",
		ConnectTimeout:     10 * time.Second,
		KeepaliveInterval:  25 * time.Second,
		WriteTimeout:       10 * time.Second,
		ReadIdleTimeout:    60 * time.Second,
		SignalPingInterval: 5 * time.Second,
		Backoff: BackoffConfig{
			Base:        500 * time.Millisecond,
			Max:         30 * time.Second,
			ExponentCap: 6,
		},
		CursorStore: CursorStoreConfig{
			Backend:   "memory",
			KeyPrefix: "pulsewire",
		},
		LogLevel:    "info",
		MetricsAddr: ":9464",
	}
}

// Load reads the config like Read and validates the result.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Read loads path (if non-empty) over the defaults and applies environment
// overrides, without validating. Callers layering flags on top validate
// afterwards.
func Read(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides cfg from PULSEWIRE_* variables.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}

	str("URL", &cfg.URL)
	str("TOKEN", &cfg.Token)
	str("TOKEN_PARAM", &cfg.TokenParam)
	dur("CONNECT_TIMEOUT", &cfg.ConnectTimeout)
	dur("KEEPALIVE_INTERVAL", &cfg.KeepaliveInterval)
	dur("WRITE_TIMEOUT", &cfg.WriteTimeout)
	dur("READ_IDLE_TIMEOUT", &cfg.ReadIdleTimeout)
	dur("SIGNAL_PING_INTERVAL", &cfg.SignalPingInterval)
	dur("BACKOFF_BASE", &cfg.Backoff.Base)
	dur("BACKOFF_MAX", &cfg.Backoff.Max)
	num("BACKOFF_EXPONENT_CAP", &cfg.Backoff.ExponentCap)
	str("CURSOR_STORE", &cfg.CursorStore.Backend)
	str("REDIS_ADDR", &cfg.CursorStore.RedisAddr)
	str("REDIS_PASSWORD", &cfg.CursorStore.RedisPassword)
	num("REDIS_DB", &cfg.CursorStore.RedisDB)
	str("POSTGRES_DSN", &cfg.CursorStore.PostgresDSN)
	str("KEY_PREFIX", &cfg.CursorStore.KeyPrefix)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("METRICS_ADDR", &cfg.MetricsAddr)

	return errors.Join(errs...)
}

// Validate reports every problem with cfg at once.
func (c Config) Validate() error {
	var errs []error

	if c.URL == "" {
		errs = append(errs, errors.New("url is required"))
	} else if u, err := url.Parse(c.URL); err != nil {
		errs = append(errs, fmt.Errorf("url: %w", err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("url scheme must be ws or wss, got %q", u.Scheme))
	}
	if c.TokenParam == "" {
		errs = append(errs, errors.New("token_param must not be empty"))
	}

	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"connect_timeout", c.ConnectTimeout},
		{"keepalive_interval", c.KeepaliveInterval},
		{"write_timeout", c.WriteTimeout},
		{"signal_ping_interval", c.SignalPingInterval},
		{"backoff.base", c.Backoff.Base},
		{"backoff.max", c.Backoff.Max},
	} {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.name))
		}
	}
	if c.ReadIdleTimeout < 0 {
		errs = append(errs, errors.New("read_idle_timeout must not be negative"))
	}
	if c.ReadIdleTimeout > 0 && c.ReadIdleTimeout <= c.KeepaliveInterval {
		errs = append(errs, errors.New("read_idle_timeout must exceed keepalive_interval"))
	}
	if c.Backoff.Max < c.Backoff.Base {
		errs = append(errs, errors.New("backoff.max must be >= backoff.base"))
	}
	if c.Backoff.ExponentCap < 0 || c.Backoff.ExponentCap > 30 {
		errs = append(errs, errors.New("backoff.exponent_cap must be within 0..30"))
	}

	switch c.CursorStore.Backend {
	case "", "memory":
	case "redis":
		if c.CursorStore.RedisAddr == "" {
			errs = append(errs, errors.New("cursor_store.redis_addr is required for the redis backend"))
		}
	case "postgres":
		if c.CursorStore.PostgresDSN == "" {
			errs = append(errs, errors.New("cursor_store.postgres_dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cursor_store.backend %q is not one of memory, redis, postgres", c.CursorStore.Backend))
	}

	return errors.Join(errs...)
}
