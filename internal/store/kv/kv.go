// Package kv is the embedded Repository: one SQLite table keyed by
// (bucket, id).
package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ledger-core/internal/ledger"
	"ledger-core/internal/store"
	"ledger-core/pkg/db"
)

// Store implements ledger.Repository on the embedded database.
type Store struct {
	db *db.Database
}

var _ ledger.Repository = (*Store)(nil)

// New wraps an opened, migrated database.
func New(database *db.Database) *Store {
	return &Store{db: database}
}

func (s *Store) get(ctx context.Context, bucket, id string) ([]byte, error) {
	var body string
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT body FROM kv WHERE bucket = ? AND id = ?`, bucket, id,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, id, err)
	}
	return []byte(body), nil
}

func getAs[T any](ctx context.Context, s *Store, bucket, id string) (*T, error) {
	body, err := s.get(ctx, bucket, id)
	if err != nil {
		return nil, err
	}
	return store.Decode[T](bucket, id, body)
}

func listAs[T any](ctx context.Context, s *Store, bucket, query string, args ...any) ([]T, error) {
	rows, err := s.db.DB.QueryContext(ctx, query, args...)
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
	return listAs[ledger.Trade](ctx, s, store.BucketTrades, `
		SELECT id, body FROM kv
		WHERE bucket = ? AND user_id = ?
		ORDER BY created_at, id
	`, store.BucketTrades, userID)
}

func (s *Store) ListPendingFeatures(ctx context.Context) ([]ledger.Trade, error) {
	return listAs[ledger.Trade](ctx, s, store.BucketTrades, `
		SELECT id, body FROM kv
		WHERE bucket = ? AND status = ?
		ORDER BY due_at, id
	`, store.BucketTrades, store.PendingFeatures)
}

func (s *Store) ListWithdrawals(ctx context.Context, userID string) ([]ledger.WithdrawalRequest, error) {
	if userID == "" {
		return listAs[ledger.WithdrawalRequest](ctx, s, store.BucketWithdrawals, `
			SELECT id, body FROM kv
			WHERE bucket = ?
			ORDER BY created_at, id
		`, store.BucketWithdrawals)
	}
	return listAs[ledger.WithdrawalRequest](ctx, s, store.BucketWithdrawals, `
		SELECT id, body FROM kv
		WHERE bucket = ? AND user_id = ?
		ORDER BY created_at, id
	`, store.BucketWithdrawals, userID)
}

func (s *Store) ListPledges(ctx context.Context, userID string) ([]ledger.Pledge, error) {
	if userID == "" {
		return nil, ledger.ErrUserIDRequired
	}
	return listAs[ledger.Pledge](ctx, s, store.BucketPledges, `
		SELECT id, body FROM kv
		WHERE bucket = ? AND user_id = ?
		ORDER BY created_at, id
	`, store.BucketPledges, userID)
}

func (s *Store) ListActivePledges(ctx context.Context) ([]ledger.Pledge, error) {
	return listAs[ledger.Pledge](ctx, s, store.BucketPledges, `
		SELECT id, body FROM kv
		WHERE bucket = ? AND status = ?
		ORDER BY due_at, id
	`, store.BucketPledges, store.ActivePledge)
}

// Commit writes the changeset in one transaction after checking the account
// version.
func (s *Store) Commit(ctx context.Context, cs ledger.Changeset) error {
	if cs.Empty() {
		return nil
	}
	rows, err := store.Rows(cs)
	if err != nil {
		return err
	}

	tx, err := s.db.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if cs.Account != nil {
		var stored int64
		err := tx.QueryRowContext(ctx,
			`SELECT version FROM kv WHERE bucket = ? AND id = ?`,
			store.BucketAccounts, cs.Account.UserID,
		).Scan(&stored)
		exists := err == nil
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read account version: %w", err)
		}
		if err := store.CheckVersion(cs.Account.UserID, stored, exists, cs.Account.Version); err != nil {
			return err
		}
	}

	for _, r := range rows {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO kv (bucket, id, user_id, status, due_at, created_at, version, body, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(bucket, id) DO UPDATE SET
				user_id = excluded.user_id,
				status = excluded.status,
				due_at = excluded.due_at,
				version = excluded.version,
				body = excluded.body,
				updated_at = CURRENT_TIMESTAMP
		`, r.Bucket, r.ID, r.UserID, r.Status, r.DueAt, r.CreatedAt, r.Version, string(r.Body))
		if err != nil {
			return fmt.Errorf("put %s/%s: %w", r.Bucket, r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
