// Package postgres is the PostgreSQL Repository. It keeps the same bucketed
// document layout as the embedded store in a single ledger_kv table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger-core/internal/ledger"
	"ledger-core/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS ledger_kv (
		bucket      TEXT NOT NULL,
		id          TEXT NOT NULL,
		user_id     TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL DEFAULT '',
		due_at      BIGINT NOT NULL DEFAULT 0,
		created_at  BIGINT NOT NULL DEFAULT 0,
		version     BIGINT NOT NULL DEFAULT 0,
		body        JSONB NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (bucket, id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_kv_user ON ledger_kv(bucket, user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_kv_status_due ON ledger_kv(bucket, status, due_at)`,
}

// Store implements ledger.Repository on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ ledger.Repository = (*Store)(nil)

// Connect opens a pool for dsn, checks it and applies the schema.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 25
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(dialCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.migrate(dialCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

func getAs[T any](ctx context.Context, s *Store, bucket, id string) (*T, error) {
	var body string
	err := s.pool.QueryRow(ctx,
		`SELECT body::text FROM ledger_kv WHERE bucket = $1 AND id = $2`, bucket, id,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, id, err)
	}
	return store.Decode[T](bucket, id, []byte(body))
}

func listAs[T any](ctx context.Context, s *Store, bucket, query string, args ...any) ([]T, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", bucket, err)
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("scan %s: %w", bucket, err)
		}
		v, err := store.Decode[T](bucket, id, []byte(body))
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

const (
	byUser = `SELECT id, body::text FROM ledger_kv
		WHERE bucket = $1 AND user_id = $2 ORDER BY created_at, id`
	byStatus = `SELECT id, body::text FROM ledger_kv
		WHERE bucket = $1 AND status = $2 ORDER BY due_at, id`
)

func (s *Store) GetAccount(ctx context.Context, userID string) (*ledger.Account, error) {
	if userID == "" {
		return nil, ledger.ErrUserIDRequired
	}
	return getAs[ledger.Account](ctx, s, store.BucketAccounts, userID)
}

func (s *Store) GetTrade(ctx context.Context, id string) (*ledger.Trade, error) {
	return getAs[ledger.Trade](ctx, s, store.BucketTrades, id)
}

func (s *Store) GetWithdrawal(ctx context.Context, id string) (*ledger.WithdrawalRequest, error) {
	return getAs[ledger.WithdrawalRequest](ctx, s, store.BucketWithdrawals, id)
}

func (s *Store) GetPledge(ctx context.Context, id string) (*ledger.Pledge, error) {
	return getAs[ledger.Pledge](ctx, s, store.BucketPledges, id)
}

func (s *Store) ListTrades(ctx context.Context, userID string) ([]ledger.Trade, error) {
	if userID == "" {
		return nil, ledger.ErrUserIDRequired
	}
	return listAs[ledger.Trade](ctx, s, store.BucketTrades, byUser, store.BucketTrades, userID)
}

func (s *Store) ListPendingFeatures(ctx context.Context) ([]ledger.Trade, error) {
	return listAs[ledger.Trade](ctx, s, store.BucketTrades, byStatus, store.BucketTrades, store.PendingFeatures)
}

func (s *Store) ListWithdrawals(ctx context.Context, userID string) ([]ledger.WithdrawalRequest, error) {
	if userID == "" {
		return listAs[ledger.WithdrawalRequest](ctx, s, store.BucketWithdrawals,
			`SELECT id, body::text FROM ledger_kv WHERE bucket = $1 ORDER BY created_at, id`,
			store.BucketWithdrawals)
	}
	return listAs[ledger.WithdrawalRequest](ctx, s, store.BucketWithdrawals, byUser, store.BucketWithdrawals, userID)
}

func (s *Store) ListPledges(ctx context.Context, userID string) ([]ledger.Pledge, error) {
	if userID == "" {
		return nil, ledger.ErrUserIDRequired
	}
	return listAs[ledger.Pledge](ctx, s, store.BucketPledges, byUser, store.BucketPledges, userID)
}

func (s *Store) ListActivePledges(ctx context.Context) ([]ledger.Pledge, error) {
	return listAs[ledger.Pledge](ctx, s, store.BucketPledges, byStatus, store.BucketPledges, store.ActivePledge)
}

// Commit writes the changeset in a serializable transaction. A serialization
// failure is reported as ErrConflict.
func (s *Store) Commit(ctx context.Context, cs ledger.Changeset) error {
	if cs.Empty() {
		return nil
	}
	rows, err := store.Rows(cs)
	if err != nil {
		return err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if cs.Account != nil {
		var stored int64
		err := tx.QueryRow(ctx,
			`SELECT version FROM ledger_kv WHERE bucket = $1 AND id = $2 FOR UPDATE`,
			store.BucketAccounts, cs.Account.UserID,
		).Scan(&stored)
		exists := err == nil
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return conflictOr(fmt.Errorf("read account version: %w", err))
		}
		if err := store.CheckVersion(cs.Account.UserID, stored, exists, cs.Account.Version); err != nil {
			return err
		}
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO ledger_kv (bucket, id, user_id, status, due_at, created_at, version, body, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, NOW())
			ON CONFLICT (bucket, id) DO UPDATE SET
				user_id = EXCLUDED.user_id,
				status = EXCLUDED.status,
				due_at = EXCLUDED.due_at,
				version = EXCLUDED.version,
				body = EXCLUDED.body,
				updated_at = NOW()
		`, r.Bucket, r.ID, r.UserID, r.Status, r.DueAt, r.CreatedAt, r.Version, string(r.Body))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return conflictOr(fmt.Errorf("write changeset: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return conflictOr(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// conflictOr turns serialization and unique violations into ErrConflict.
func conflictOr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "23505":
			return fmt.Errorf("%w: %v", ledger.ErrConflict, err)
		}
	}
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
