package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"ledger-core/internal/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Requires a reachable database; the tests use random user ids so they can
// share one.
func connect(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("LEDGER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LEDGER_TEST_POSTGRES_DSN not set")
	}
	s, err := Connect(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCommitAndRead(t *testing.T) {
	s := connect(t)
	ctx := context.Background()
	userID := "pg-" + uuid.NewString()
	now := time.Now().UTC()

	acct := &ledger.Account{UserID: userID, Balance: decimal.NewFromInt(50), Holdings: map[string]decimal.Decimal{}, Version: 1, CreatedAt: now, UpdatedAt: now}
	if err := s.Commit(ctx, ledger.Changeset{Account: acct}); err != nil {
		t.Fatalf("create: %v", err)
	}

	trade := ledger.Trade{
		ID: uuid.NewString(), UserID: userID, Type: ledger.TradeFeatures, Pair: "BTC/USDT",
		Amount: decimal.NewFromInt(10), CreatedAt: now, EndsAt: now.Add(-time.Second),
		FeaturesStatus: ledger.FeaturesPending,
	}
	next := *acct
	next.Version = 2
	next.Balance = decimal.NewFromInt(40)
	if err := s.Commit(ctx, ledger.Changeset{Account: &next, Trades: []ledger.Trade{trade}}); err != nil {
		t.Fatalf("commit trade: %v", err)
	}

	if err := s.Commit(ctx, ledger.Changeset{Account: &next}); !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("stale version: expected ErrConflict, got %v", err)
	}

	got, err := s.GetAccount(ctx, userID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !got.Balance.Equal(decimal.NewFromInt(40)) || got.Version != 2 {
		t.Errorf("unexpected account: %+v", got)
	}

	trades, err := s.ListTrades(ctx, userID)
	if err != nil || len(trades) != 1 || trades[0].ID != trade.ID {
		t.Fatalf("list trades: %v %v", trades, err)
	}

	pending, err := s.ListPendingFeatures(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	found := false
	for _, p := range pending {
		found = found || p.ID == trade.ID
	}
	if !found {
		t.Errorf("trade %s missing from pending list", trade.ID)
	}

	if _, err := s.GetPledge(ctx, uuid.NewString()); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
