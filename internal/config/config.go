// Package config loads service settings.
//
// The loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values, when a path is given
//  3. Environment variables prefixed with AUTHCORE_
//
// Environment variables follow the pattern AUTHCORE_SECTION_KEY, for example
// AUTHCORE_DATABASE_DSN or AUTHCORE_CACHE_REDIS_URL.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"authcore.org/internal/auth"
	"authcore.org/internal/cache"
	"authcore.org/internal/obs"
	"authcore.org/internal/store/pg"
)

const EnvPrefix = "AUTHCORE_"

type Config struct {
	HTTP     HTTPConfig        `yaml:"http" envPrefix:"HTTP_"`
	GRPC     GRPCConfig        `yaml:"grpc" envPrefix:"GRPC_"`
	Log      LogConfig         `yaml:"log" envPrefix:"LOG_"`
	Database DatabaseConfig    `yaml:"database" envPrefix:"DATABASE_"`
	Token    TokenConfig       `yaml:"token" envPrefix:"TOKEN_"`
	Password PasswordConfig    `yaml:"password" envPrefix:"PASSWORD_"`
	Cache    CacheConfig       `yaml:"cache" envPrefix:"CACHE_"`
	Tracing  obs.TracingConfig `yaml:"tracing" envPrefix:"TRACING_"`
	Root     auth.RootAccount  `yaml:"root" envPrefix:"ROOT_"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
	CORSOrigins     []string      `yaml:"cors_origins" env:"CORS_ORIGINS"`
}

// GRPCConfig is the listener of the gRPC health service. Empty disables it.
type GRPCConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
}

// DatabaseConfig selects the store. Driver is "pg" or "memory".
type DatabaseConfig struct {
	Driver string        `yaml:"driver" env:"DRIVER"`
	DSN    string        `yaml:"dsn" env:"DSN"`
	Pool   pg.PoolConfig `yaml:"pool" envPrefix:"POOL_"`
}

type TokenConfig struct {
	TTL           time.Duration `yaml:"ttl" env:"TTL"`
	PurgeSchedule string        `yaml:"purge_schedule" env:"PURGE_SCHEDULE"`
}

type PasswordConfig struct {
	auth.PasswordParams `yaml:",inline"`
	Concurrency         int `yaml:"concurrency" env:"CONCURRENCY"`
}

// CacheConfig selects the principal cache. Mode is "none", "memory" or "redis".
type CacheConfig struct {
	Mode  string            `yaml:"mode" env:"MODE"`
	Size  int               `yaml:"size" env:"SIZE"`
	TTL   time.Duration     `yaml:"ttl" env:"TTL"`
	Redis cache.RedisConfig `yaml:"redis" envPrefix:"REDIS_"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		GRPC:     GRPCConfig{Addr: ":9090"},
		Log:      LogConfig{Level: "info"},
		Database: DatabaseConfig{Driver: "pg"},
		Token:    TokenConfig{PurgeSchedule: "@hourly"},
		Password: PasswordConfig{PasswordParams: auth.DefaultPasswordParams()},
		Cache: CacheConfig{
			Mode: "none",
			Size: 10000,
			TTL:  time.Minute,
		},
		Tracing: obs.TracingConfig{ServiceName: "authcore", SampleRatio: 1},
		Root:    auth.RootAccount{Name: "Root", Email: "root@localhost.localdomain", Username: "root"},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Cache.Redis.TTL = cfg.Cache.TTL

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.HTTP.Addr == "" {
		errs = append(errs, "http.addr is required")
	}
	switch c.Database.Driver {
	case "pg":
		if c.Database.DSN == "" {
			errs = append(errs, "database.dsn is required (set AUTHCORE_DATABASE_DSN)")
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("database.driver must be pg or memory, got %q", c.Database.Driver))
	}
	if c.Token.TTL < 0 {
		errs = append(errs, "token.ttl must not be negative")
	}
	if c.Token.PurgeSchedule != "" {
		if _, err := cron.ParseStandard(c.Token.PurgeSchedule); err != nil {
			errs = append(errs, fmt.Sprintf("token.purge_schedule: %v", err))
		}
	}
	p := c.Password.PasswordParams
	if p.Memory < 8*uint32(p.Parallelism) || p.Iterations == 0 || p.Parallelism == 0 {
		errs = append(errs, "password: memory_kib, iterations and parallelism must be positive and memory_kib >= 8*parallelism")
	}
	if p.KeyLength < 16 {
		errs = append(errs, "password.key_length must be at least 16")
	}
	switch c.Cache.Mode {
	case "none", "memory":
	case "redis":
		if c.Cache.Redis.URL == "" {
			errs = append(errs, "cache.redis.url is required when cache.mode is redis")
		}
	default:
		errs = append(errs, fmt.Sprintf("cache.mode must be none, memory or redis, got %q", c.Cache.Mode))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, "tracing.sample_ratio must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateRoot checks the seed account settings used by the migrate seed command.
func (c *Config) ValidateRoot() error {
	if c.Root.Password == "" {
		return errors.New("root.password is required for seeding (set AUTHCORE_ROOT_PASSWORD)")
	}
	if c.Root.Username == "" || c.Root.Email == "" {
		return errors.New("root.username and root.email are required for seeding")
	}
	return nil
}
