package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"
)

// Config is read from the environment at startup.
type Config struct {
	Port             string        `env:"PORT" envDefault:"8080"`
	FunctionsPort    string        `env:"FUNCTIONS_CUSTOMHANDLER_PORT"`
	Debug            bool          `env:"DEBUG"`
	LogFormat        string        `env:"LOG_FORMAT" envDefault:"text"`
	RedisConnection  string        `env:"REDIS_CONNECTION_STRING"`
	TasksCacheTTL    time.Duration `env:"TASKS_CACHE_TTL" envDefault:"1m"`
	DeduperTTL       time.Duration `env:"DEDUPER_TTL" envDefault:"24h"`
	MaxEventBytes    int64         `env:"MAX_EVENT_BYTES" envDefault:"65536"`
	TracingEnabled   bool          `env:"TRACING_ENABLED"`
	PprofEnabled     bool          `env:"PPROF_ENABLED"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RedisDialTimeout time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.TasksCacheTTL < 0 {
		return errors.New("invalid TASKS_CACHE_TTL: must not be negative")
	}
	if c.DeduperTTL <= 0 {
		return errors.New("invalid DEDUPER_TTL: must be greater than zero")
	}
	if c.MaxEventBytes <= 0 {
		return errors.New("invalid MAX_EVENT_BYTES: must be greater than zero")
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q: want text or json", c.LogFormat)
	}
	return nil
}

// ListenAddr prefers the Functions custom handler port when it is set.
func (c Config) ListenAddr() string {
	if c.FunctionsPort != "" {
		return ":" + c.FunctionsPort
	}
	return ":" + c.Port
}

// parseRedisOptions accepts a redis:// URL or the "host:port,password=...,ssl=true"
// connection string form.
func parseRedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("empty redis connection string")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	if strings.TrimSpace(parts[0]) == "" {
		return nil, fmt.Errorf("invalid redis connection string %q", conn)
	}
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}
