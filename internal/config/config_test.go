package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", BackendMemory)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Rewards.LedgerTimeout != 5*time.Second {
		t.Errorf("expected 5s ledger timeout, got %v", cfg.Rewards.LedgerTimeout)
	}
	if cfg.Redis.Enabled() {
		t.Error("redis must be disabled without an address")
	}
	if cfg.Learning.TargetStudyMinutes != 150 {
		t.Errorf("expected study target 150, got %d", cfg.Learning.TargetStudyMinutes)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", BackendMemory)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("CLEANUP_INTERVAL", "90s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("REDIS_ADDRESS", "localhost:6379")
	t.Setenv("CHAIN_MIRROR_ENDPOINT", "http://gateway.local/mirror")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Cleanup.Interval != 90*time.Second {
		t.Errorf("unexpected values: port=%d interval=%v", cfg.Server.Port, cfg.Cleanup.Interval)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Errorf("unexpected origins: %v", cfg.Server.CORSOrigins)
	}
	if level, _ := cfg.Log.SlogLevel(); level != slog.LevelDebug {
		t.Errorf("expected debug level, got %v", level)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: 8080},
			Storage:  StorageConfig{Backend: BackendMemory},
			Rewards:  RewardsConfig{LedgerTimeout: time.Second},
			Exchange: ExchangeConfig{Driver: "sqlite3"},
			Log:      LogConfig{Level: "info"},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "mongo" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = BackendPostgres }},
		{"zero ledger timeout", func(c *Config) { c.Rewards.LedgerTimeout = 0 }},
		{"unknown exchange driver", func(c *Config) { c.Exchange.Driver = "mysql" }},
		{"mirror without redis", func(c *Config) { c.Chain.MirrorEndpoint = "http://gw" }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
	for _, tt := range tests {
		c := valid()
		tt.mutate(c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", BackendMemory)
	t.Setenv("LOG_LEVEL", "loud")

	if _, err := Load(); err == nil {
		t.Fatal("expected Load to reject an unknown log level")
	}
}
