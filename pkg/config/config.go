package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultResyncEvery = 30
	devAdminSecret     = "dev-admin-secret"
)

// Config holds environment-driven settings for the ledger service.
type Config struct {
	Port     string
	GRPCPort string
	NodeID   string

	// Persistence: "kv" (embedded SQLite), "postgres" or "remote".
	StoreBackend     string
	DBPath           string
	PostgresDSN      string
	RemoteStoreURL   string
	RemoteStoreToken string

	// Per-account locking: "local" or "redis".
	LockBackend   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockTTL       time.Duration

	// Event sink; disabled when no brokers are set.
	KafkaBrokers []string
	KafkaTopic   string

	// Sweeper
	ConsulAddr       string
	SweepInterval    time.Duration
	SweepWorkers     int
	SweepResyncEvery int

	// "draw" (refund) or "lose" for features orders nobody settled.
	AutoResolveResult string

	// Auth
	JWTSecret        string
	AdminJWTSecret   string
	ReplicationToken string

	// 64 hex chars; empty stores wallet addresses unsealed.
	WalletKey string

	// Release runs gin in release mode and requires real secrets. Set by
	// GIN_MODE=release or any log level other than debug.
	Release bool

	Log LogConfig

	LedgerConfigPath string
	Ledger           *LedgerFile
}

// LogConfig controls the zerolog output.
type LogConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Load reads environment variables (optionally via .env) and the ledger YAML
// file into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	hostname, _ := os.Hostname()
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		GRPCPort:          getEnv("GRPC_PORT", "9090"),
		NodeID:            getEnv("NODE_ID", hostname),
		StoreBackend:      strings.ToLower(getEnv("STORE_BACKEND", "kv")),
		DBPath:            getEnv("DB_PATH", "./data/ledger.db"),
		PostgresDSN:       os.Getenv("POSTGRES_DSN"),
		RemoteStoreURL:    os.Getenv("REMOTE_STORE_URL"),
		RemoteStoreToken:  os.Getenv("REMOTE_STORE_TOKEN"),
		LockBackend:       strings.ToLower(getEnv("LOCK_BACKEND", "local")),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		LockTTL:           getEnvDuration("LOCK_TTL", 10*time.Second),
		KafkaBrokers:      splitAndTrim(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:        getEnv("KAFKA_TOPIC", "ledger-events"),
		ConsulAddr:        os.Getenv("CONSUL_ADDR"),
		SweepInterval:     getEnvDuration("SWEEP_INTERVAL", time.Second),
		SweepWorkers:      getEnvInt("SWEEP_WORKERS", 8),
		SweepResyncEvery:  getEnvInt("SWEEP_RESYNC_EVERY", defaultResyncEvery),
		AutoResolveResult: strings.ToLower(getEnv("AUTO_RESOLVE_RESULT", "")),
		JWTSecret:         getEnv("JWT_SECRET", "dev-secret"),
		AdminJWTSecret:    os.Getenv("ADMIN_JWT_SECRET"),
		ReplicationToken:  os.Getenv("REPLICATION_TOKEN"),
		WalletKey:         os.Getenv("WALLET_KEY"),
		Log: LogConfig{
			Level:      strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Pretty:     getEnvBool("LOG_PRETTY", false),
			File:       os.Getenv("LOG_FILE"),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 30),
		},
		LedgerConfigPath: getEnv("LEDGER_CONFIG", "./config/ledger.yaml"),
	}
	cfg.Release = os.Getenv("GIN_MODE") == "release" || cfg.Log.Level != "debug"

	ledger, err := LoadLedgerFile(cfg.LedgerConfigPath)
	if errors.Is(err, os.ErrNotExist) {
		ledger = DefaultLedgerFile()
	} else if err != nil {
		return nil, err
	}
	cfg.Ledger = ledger

	// The env var wins over the file.
	if cfg.AutoResolveResult == "" {
		cfg.AutoResolveResult = ledger.AutoResolveResult
	}
	if cfg.AutoResolveResult == "" {
		cfg.AutoResolveResult = "draw"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the cross-field settings the backends depend on.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case "kv":
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH is required for the kv store")
		}
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the postgres store")
		}
	case "remote":
		if c.RemoteStoreURL == "" {
			return fmt.Errorf("REMOTE_STORE_URL is required for the remote store")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.LockBackend {
	case "local", "redis":
	default:
		return fmt.Errorf("unknown LOCK_BACKEND %q", c.LockBackend)
	}
	switch c.AutoResolveResult {
	case "draw", "lose":
	default:
		return fmt.Errorf("AUTO_RESOLVE_RESULT must be draw or lose, got %q", c.AutoResolveResult)
	}
	if c.WalletKey != "" && len(c.WalletKey) != 64 {
		return fmt.Errorf("WALLET_KEY must be 64 hex characters")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if c.SweepWorkers <= 0 {
		c.SweepWorkers = 1
	}
	if c.SweepResyncEvery <= 0 {
		c.SweepResyncEvery = defaultResyncEvery
	}
	if c.AdminJWTSecret == "" {
		if c.Release {
			return fmt.Errorf("ADMIN_JWT_SECRET is required in release mode")
		}
		c.AdminJWTSecret = devAdminSecret
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("1s", "500ms") or plain seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
