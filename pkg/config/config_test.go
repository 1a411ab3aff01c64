package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const sampleLedger = `
plans:
  - id: basic
    name: Basic
    dailyYieldPercent: "10"
    cycleDays: 3
    quotaMin: "50"
    quotaMax: "1000"
periods:
  - seconds: 60
    percent: "20"
    minAmount: "10"
levers: ["1x", "10x"]
prices:
  BTC/USDT: "60000"
autoResolveResult: lose
`

func TestParseLedgerFile(t *testing.T) {
	f, err := ParseLedgerFile([]byte(sampleLedger))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	plans, err := f.ParsedPlans()
	if err != nil || len(plans) != 1 {
		t.Fatalf("plans: %v %v", plans, err)
	}
	if plans[0].CycleDays != 3 || !plans[0].DailyYieldPercent.Equal(decimal.NewFromInt(10)) {
		t.Errorf("unexpected plan: %+v", plans[0])
	}

	periods, _ := f.ParsedPeriods()
	if len(periods) != 1 || periods[0].Seconds != 60 || !periods[0].MinAmount.Equal(decimal.NewFromInt(10)) {
		t.Errorf("unexpected periods: %+v", periods)
	}

	prices, _ := f.ParsedPrices()
	if !prices["BTC/USDT"].Equal(decimal.NewFromInt(60000)) {
		t.Errorf("unexpected prices: %v", prices)
	}
	if f.AutoResolveResult != "lose" {
		t.Errorf("expected lose, got %q", f.AutoResolveResult)
	}
}

func TestParseLedgerFileRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing plan id", "plans:\n  - name: x\n    dailyYieldPercent: \"1\"\n    cycleDays: 1\n"},
		{"zero cycle", "plans:\n  - id: a\n    name: x\n    dailyYieldPercent: \"1\"\n    cycleDays: 0\n"},
		{"bad decimal", "plans:\n  - id: a\n    name: x\n    dailyYieldPercent: abc\n    cycleDays: 1\n"},
		{"duplicate plan", "plans:\n  - {id: a, name: x, dailyYieldPercent: \"1\", cycleDays: 1}\n  - {id: a, name: y, dailyYieldPercent: \"1\", cycleDays: 1}\n"},
		{"quota inverted", "plans:\n  - {id: a, name: x, dailyYieldPercent: \"1\", cycleDays: 1, quotaMin: \"10\", quotaMax: \"5\"}\n"},
		{"zero price", "prices:\n  BTC/USDT: \"0\"\n"},
		{"bad auto result", "autoResolveResult: win\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseLedgerFile([]byte(tt.doc)); err == nil {
				t.Errorf("expected error for %q", tt.doc)
			}
		})
	}
}

func TestDefaultLedgerFileIsValid(t *testing.T) {
	if err := DefaultLedgerFile().Validate(); err != nil {
		t.Fatalf("default ledger config invalid: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.yaml")
	if err := os.WriteFile(path, []byte(sampleLedger), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("LEDGER_CONFIG", path)
	t.Setenv("STORE_BACKEND", "kv")
	t.Setenv("DB_PATH", filepath.Join(dir, "ledger.db"))
	t.Setenv("LOCK_BACKEND", "local")
	t.Setenv("SWEEP_INTERVAL", "250ms")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("AUTO_RESOLVE_RESULT", "")
	t.Setenv("ADMIN_JWT_SECRET", "admin-secret")
	t.Setenv("SWEEP_RESYNC_EVERY", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SweepInterval != 250*time.Millisecond {
		t.Errorf("sweep interval: %v", cfg.SweepInterval)
	}
	if cfg.SweepResyncEvery != defaultResyncEvery {
		t.Errorf("resync every: %d", cfg.SweepResyncEvery)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("brokers: %v", cfg.KafkaBrokers)
	}
	// Falls back to the file value.
	if cfg.AutoResolveResult != "lose" {
		t.Errorf("auto result: %q", cfg.AutoResolveResult)
	}

	t.Setenv("AUTO_RESOLVE_RESULT", "draw")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.AutoResolveResult != "draw" {
		t.Errorf("env should win, got %q", cfg.AutoResolveResult)
	}
}

func TestValidateBackends(t *testing.T) {
	base := Config{StoreBackend: "kv", DBPath: "x.db", LockBackend: "local", AutoResolveResult: "draw", SweepInterval: time.Second, SweepWorkers: 1, AdminJWTSecret: "s"}

	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"postgres without dsn", func(c *Config) { c.StoreBackend = "postgres" }, false},
		{"remote with url", func(c *Config) { c.StoreBackend = "remote"; c.RemoteStoreURL = "http://node" }, true},
		{"unknown store", func(c *Config) { c.StoreBackend = "bolt" }, false},
		{"unknown lock", func(c *Config) { c.LockBackend = "etcd" }, false},
		{"short wallet key", func(c *Config) { c.WalletKey = "abcd" }, false},
		{"win auto result", func(c *Config) { c.AutoResolveResult = "win" }, false},
		{"no admin secret in debug", func(c *Config) { c.AdminJWTSecret = "" }, true},
		{"no admin secret in release", func(c *Config) { c.AdminJWTSecret = ""; c.Release = true }, false},
		{"admin secret in release", func(c *Config) { c.Release = true }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			err := c.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("ok=%v, got err %v", tt.ok, err)
			}
		})
	}
}

func TestValidateFillsDefaults(t *testing.T) {
	c := Config{StoreBackend: "kv", DBPath: "x.db", LockBackend: "local", AutoResolveResult: "lose", SweepInterval: time.Second}
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if c.SweepWorkers != 1 || c.SweepResyncEvery != defaultResyncEvery {
		t.Errorf("sweep workers=%d resync=%d", c.SweepWorkers, c.SweepResyncEvery)
	}
	if c.AdminJWTSecret != devAdminSecret {
		t.Errorf("admin secret = %q", c.AdminJWTSecret)
	}
}

func TestLoadRefusesReleaseWithoutAdminSecret(t *testing.T) {
	t.Setenv("LEDGER_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("STORE_BACKEND", "kv")
	t.Setenv("LOCK_BACKEND", "local")
	t.Setenv("ADMIN_JWT_SECRET", "")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("GIN_MODE", "release")

	if _, err := Load(); err == nil {
		t.Fatal("release mode without ADMIN_JWT_SECRET should not load")
	}

	t.Setenv("GIN_MODE", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("debug load: %v", err)
	}
	if cfg.Release || cfg.AdminJWTSecret != devAdminSecret {
		t.Errorf("release=%v admin secret=%q", cfg.Release, cfg.AdminJWTSecret)
	}
}
