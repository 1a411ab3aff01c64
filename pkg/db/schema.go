package db

import (
	"fmt"
)

// The embedded store is a bucketed key-value table. Bodies are JSON documents;
// user_id, status and due_at are lifted out so listing queries can use indexes.
const schema = `
PRAGMA journal_mode=WAL;
PRAGMA busy_timeout=5000;

CREATE TABLE IF NOT EXISTS kv (
    bucket TEXT NOT NULL,
    id TEXT NOT NULL,
    user_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT '',
    due_at INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL DEFAULT 0,
    version INTEGER NOT NULL DEFAULT 0,
    body TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (bucket, id)
);

CREATE INDEX IF NOT EXISTS idx_kv_user ON kv(bucket, user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_kv_status_due ON kv(bucket, status, due_at);
`

// ApplyMigrations creates the kv table and its indexes if missing.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
