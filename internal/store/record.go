// Package store holds the row encoding shared by the SQL-backed repositories.
// Every entity is stored as a JSON document in a bucket, with a few indexed
// columns lifted out for the listing queries.
package store

import (
	"encoding/json"
	"fmt"

	"ledger-core/internal/ledger"
)

// Buckets, one per entity type.
const (
	BucketAccounts    = "accounts"
	BucketTrades      = "trades"
	BucketWithdrawals = "withdrawals"
	BucketPledges     = "pledges"
)

// Row is one stored document plus its index columns.
type Row struct {
	Bucket    string
	ID        string
	UserID    string
	Status    string
	DueAt     int64 // unix millis, 0 when not applicable
	CreatedAt int64 // unix nanos, for stable ordering
	Version   int64
	Body      []byte
}

// Rows flattens a changeset. The account row, when present, comes first.
func Rows(cs ledger.Changeset) ([]Row, error) {
	rows := make([]Row, 0, 1+len(cs.Trades)+len(cs.Withdrawals)+len(cs.Pledges))
	if cs.Account != nil {
		r, err := AccountRow(cs.Account)
		if err != nil {
			return nil, err
		}
		rows = append(rows, r)
	}
	for i := range cs.Trades {
		r, err := TradeRow(&cs.Trades[i])
		if err != nil {
			return nil, err
		}
		rows = append(rows, r)
	}
	for i := range cs.Withdrawals {
		r, err := WithdrawalRow(&cs.Withdrawals[i])
		if err != nil {
			return nil, err
		}
		rows = append(rows, r)
	}
	for i := range cs.Pledges {
		r, err := PledgeRow(&cs.Pledges[i])
		if err != nil {
			return nil, err
		}
		rows = append(rows, r)
	}
	return rows, nil
}

func AccountRow(a *ledger.Account) (Row, error) {
	body, err := json.Marshal(a)
	if err != nil {
		return Row{}, fmt.Errorf("encode account %s: %w", a.UserID, err)
	}
	return Row{
		Bucket:    BucketAccounts,
		ID:        a.UserID,
		UserID:    a.UserID,
		CreatedAt: a.CreatedAt.UnixNano(),
		Version:   a.Version,
		Body:      body,
	}, nil
}

func TradeRow(t *ledger.Trade) (Row, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return Row{}, fmt.Errorf("encode trade %s: %w", t.ID, err)
	}
	r := Row{
		Bucket:    BucketTrades,
		ID:        t.ID,
		UserID:    t.UserID,
		Status:    string(t.Type),
		CreatedAt: t.CreatedAt.UnixNano(),
		Body:      body,
	}
	if t.Type == ledger.TradeFeatures {
		r.Status = string(t.FeaturesStatus)
		r.DueAt = t.EndsAt.UnixMilli()
	}
	return r, nil
}

func WithdrawalRow(w *ledger.WithdrawalRequest) (Row, error) {
	body, err := json.Marshal(w)
	if err != nil {
		return Row{}, fmt.Errorf("encode withdrawal %s: %w", w.ID, err)
	}
	return Row{
		Bucket:    BucketWithdrawals,
		ID:        w.ID,
		UserID:    w.UserID,
		Status:    string(w.Status),
		CreatedAt: w.CreatedAt.UnixNano(),
		Body:      body,
	}, nil
}

func PledgeRow(p *ledger.Pledge) (Row, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return Row{}, fmt.Errorf("encode pledge %s: %w", p.ID, err)
	}
	return Row{
		Bucket:    BucketPledges,
		ID:        p.ID,
		UserID:    p.UserID,
		Status:    string(p.Status),
		DueAt:     p.EndsAt.UnixMilli(),
		CreatedAt: p.CreatedAt.UnixNano(),
		Body:      body,
	}, nil
}

// Decode unmarshals a stored document.
func Decode[T any](bucket, id string, body []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", bucket, id, err)
	}
	return &v, nil
}

// CheckVersion enforces the optimistic account version rule: a new account
// commits with version 1, an existing one with stored+1.
func CheckVersion(userID string, stored int64, exists bool, next int64) error {
	want := int64(1)
	if exists {
		want = stored + 1
	}
	if next != want {
		return fmt.Errorf("%w: account %s at version %d, write carries %d", ledger.ErrConflict, userID, stored, next)
	}
	return nil
}

// Pending trade status value used by the pending-features queries.
var PendingFeatures = string(ledger.FeaturesPending)

// ActivePledge status value used by the active-pledge queries.
var ActivePledge = string(ledger.PledgeActive)
