package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "authcore.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWithMemoryDriver(t *testing.T) {
	t.Setenv("AUTHCORE_DATABASE_DRIVER", "memory")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" || cfg.Token.PurgeSchedule != "@hourly" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Token.TTL != 0 {
		t.Fatalf("tokens must not expire by default, got %s", cfg.Token.TTL)
	}
	if cfg.Password.Memory != 64*1024 {
		t.Fatalf("unexpected argon2 memory %d", cfg.Password.Memory)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := writeConfig(t, `
http:
  addr: ":9000"
  cors_origins: ["https://a.example", "https://b.example"]
database:
  dsn: postgres://file/db
  pool:
    max_open_conns: 7
token:
  ttl: 24h
password:
  memory_kib: 19456
  iterations: 2
  parallelism: 1
  key_length: 32
  concurrency: 3
cache:
  mode: redis
  ttl: 30s
  redis:
    url: redis://localhost:6379/0
log:
  level: debug
`)
	t.Setenv("AUTHCORE_DATABASE_DSN", "postgres://env/db")
	t.Setenv("AUTHCORE_PASSWORD_ITERATIONS", "4")
	t.Setenv("AUTHCORE_HTTP_CORS_ORIGINS", "https://c.example")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":9000" {
		t.Fatalf("yaml addr not applied: %q", cfg.HTTP.Addr)
	}
	if cfg.Database.DSN != "postgres://env/db" {
		t.Fatalf("env must override yaml, got %q", cfg.Database.DSN)
	}
	if cfg.Database.Pool.MaxOpenConns != 7 {
		t.Fatalf("pool size not applied: %d", cfg.Database.Pool.MaxOpenConns)
	}
	if cfg.Token.TTL != 24*time.Hour {
		t.Fatalf("token ttl: %s", cfg.Token.TTL)
	}
	if cfg.Password.Memory != 19456 || cfg.Password.Iterations != 4 || cfg.Password.Concurrency != 3 {
		t.Fatalf("password params: %+v", cfg.Password)
	}
	if cfg.Cache.Redis.TTL != 30*time.Second {
		t.Fatalf("redis ttl should follow cache ttl, got %s", cfg.Cache.Redis.TTL)
	}
	if len(cfg.HTTP.CORSOrigins) != 1 || cfg.HTTP.CORSOrigins[0] != "https://c.example" {
		t.Fatalf("cors origins: %v", cfg.HTTP.CORSOrigins)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level: %q", cfg.Log.Level)
	}
}

func TestValidateAggregates(t *testing.T) {
	cfg := Default()
	cfg.Database.DSN = ""
	cfg.Cache.Mode = "memcached"
	cfg.Token.PurgeSchedule = "every tuesday"
	cfg.Password.KeyLength = 4

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"database.dsn", "cache.mode", "token.purge_schedule", "password.key_length"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateRoot(t *testing.T) {
	cfg := Default()
	if err := cfg.ValidateRoot(); err == nil {
		t.Fatal("seeding without a password must fail")
	}
	cfg.Root.Password = "R00tPass"
	if err := cfg.ValidateRoot(); err != nil {
		t.Fatalf("ValidateRoot: %v", err)
	}
}
