package db

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpenAppliesSchema(t *testing.T) {
	database, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	// Migrations are idempotent
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Second ApplyMigrations failed: %v", err)
	}

	var n int
	err = database.DB.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'kv'`).Scan(&n)
	if err != nil || n != 1 {
		t.Fatalf("kv table missing: n=%d err=%v", n, err)
	}

	if err := database.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")
	database, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", path, err)
	}
	defer database.Close()

	if _, err := database.DB.Exec(`INSERT INTO kv (bucket, id, body) VALUES ('accounts', 'u1', '{}')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestApplyMigrationsNil(t *testing.T) {
	if err := ApplyMigrations(nil); err == nil {
		t.Fatal("expected error for nil database")
	}
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
