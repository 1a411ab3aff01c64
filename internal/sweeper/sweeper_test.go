package sweeper

import (
	"context"
	"sync"
	"testing"
	"time"

	"ledger-core/internal/events"
	"ledger-core/internal/ledger"
	"ledger-core/internal/lock"
	"ledger-core/internal/monitor"
	"ledger-core/internal/store/kv"
	"ledger-core/pkg/db"

	"github.com/shopspring/decimal"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc   *ledger.Service
	repo  *kv.Store
	sw    *Service
	clock *clock
	bus   *events.Bus
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	repo := kv.New(database)
	t.Cleanup(func() { _ = repo.Close() })

	clk := &clock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	bus := events.NewBus()
	svc := ledger.NewService(repo, lock.NewLocal(),
		ledger.WithClock(clk.Now),
		ledger.WithPublisher(bus),
		ledger.WithPlans(ledger.StaticPlans{{
			ID: "basic", Name: "Basic", DailyYieldPercent: decimal.NewFromInt(10), CycleDays: 3,
		}}),
	)

	opts = append([]Option{WithClock(clk.Now), WithBus(bus)}, opts...)
	sw, err := New(svc, Config{Interval: time.Hour, Workers: 4}, opts...)
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	t.Cleanup(sw.Close)
	return &fixture{svc: svc, repo: repo, sw: sw, clock: clk, bus: bus}
}

func (f *fixture) fund(t *testing.T, userID string, amount int64) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.svc.OpenAccount(ctx, userID); err != nil {
		t.Fatalf("open %s: %v", userID, err)
	}
	if _, err := f.svc.Deposit(ctx, userID, decimal.NewFromInt(amount)); err != nil {
		t.Fatalf("deposit %s: %v", userID, err)
	}
}

func order(userID string, period int64) ledger.FeaturesOrder {
	return ledger.FeaturesOrder{
		UserID: userID, Pair: "BTC/USDT", Variant: ledger.VariantUp,
		Amount: decimal.NewFromInt(100), PeriodSeconds: period,
		PeriodPercent: decimal.NewFromInt(30), Lever: "1x",
	}
}

func (f *fixture) place(t *testing.T, userID string, period int64) *ledger.Trade {
	t.Helper()
	tr, err := f.svc.PlaceFeaturesOrder(context.Background(), order(userID, period))
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	return tr
}

func TestRunOnceSettlesExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "u1", 500)

	short := f.place(t, "u1", 60)
	long := f.place(t, "u1", 600)
	if err := f.sw.Resync(ctx); err != nil {
		t.Fatalf("resync: %v", err)
	}
	if f.sw.Index().Len() != 2 {
		t.Fatalf("index len = %d", f.sw.Index().Len())
	}

	rep, err := f.sw.RunOnce(ctx)
	if err != nil || rep.Settled != 0 {
		t.Fatalf("nothing is due yet: %+v %v", rep, err)
	}

	f.clock.Advance(61 * time.Second)
	rep, err = f.sw.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Settled != 1 {
		t.Fatalf("settled = %d", rep.Settled)
	}

	got, _ := f.svc.Trade(ctx, short.ID)
	if got.FeaturesStatus != ledger.FeaturesSettled || got.FeaturesResult != ledger.ResultDraw {
		t.Errorf("short order: status=%s result=%s", got.FeaturesStatus, got.FeaturesResult)
	}
	still, _ := f.svc.Trade(ctx, long.ID)
	if still.FeaturesStatus != ledger.FeaturesPending {
		t.Errorf("long order should still be pending")
	}

	// Auto-draw refunds the stake: 500 - 100 - 100 + 100.
	acct, _ := f.svc.Account(ctx, "u1")
	if !acct.Balance.Equal(decimal.NewFromInt(400)) {
		t.Errorf("balance = %s", acct.Balance)
	}

	// A second pass must not pay again.
	rep, _ = f.sw.RunOnce(ctx)
	if rep.Settled != 0 {
		t.Errorf("second pass settled %d", rep.Settled)
	}
	acct, _ = f.svc.Account(ctx, "u1")
	if !acct.Balance.Equal(decimal.NewFromInt(400)) {
		t.Errorf("balance after second pass = %s", acct.Balance)
	}
}

func TestSweepUsesDeclaredResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "u1", 100)

	tr := f.place(t, "u1", 60)
	if _, err := f.svc.SettleFeaturesOrder(ctx, tr.ID, ledger.ResultWin); err != nil {
		t.Fatalf("declare: %v", err)
	}

	f.clock.Advance(2 * time.Minute)
	rep, err := f.sw.Sweep(ctx)
	if err != nil || rep.Settled != 1 {
		t.Fatalf("sweep: %+v %v", rep, err)
	}

	// win: 100 + 100*30/100*1
	acct, _ := f.svc.Account(ctx, "u1")
	if !acct.Balance.Equal(decimal.NewFromInt(130)) {
		t.Errorf("balance = %s", acct.Balance)
	}
}

func TestSweepCompletesPledges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "u1", 100)

	if _, err := f.svc.CreatePledge(ctx, "u1", "basic", decimal.NewFromInt(100)); err != nil {
		t.Fatalf("pledge: %v", err)
	}
	f.clock.Advance(3 * 24 * time.Hour)

	rep, err := f.sw.Sweep(ctx)
	if err != nil || rep.Completed != 1 {
		t.Fatalf("sweep: %+v %v", rep, err)
	}
	acct, _ := f.svc.Account(ctx, "u1")
	if !acct.Balance.Equal(decimal.NewFromInt(30)) {
		t.Errorf("balance = %s, want 30", acct.Balance)
	}
}

type never struct{}

func (never) IsLeader(context.Context) bool { return false }

func TestFollowerSkips(t *testing.T) {
	f := newFixture(t, WithLeader(never{}))
	ctx := context.Background()
	f.fund(t, "u1", 100)
	f.place(t, "u1", 60)
	_ = f.sw.Resync(ctx)
	f.clock.Advance(time.Hour)

	rep, err := f.sw.RunOnce(ctx)
	if err != nil || !rep.Skipped {
		t.Fatalf("follower should skip: %+v %v", rep, err)
	}
	if f.sw.Index().Len() != 1 {
		t.Errorf("follower should not touch the index")
	}
}

func TestTrackFollowsEvents(t *testing.T) {
	metrics := monitor.NewMetrics()
	f := newFixture(t, WithMetrics(metrics))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.fund(t, "u1", 100)

	f.sw.Start(ctx)

	tr := f.place(t, "u1", 60)
	waitFor(t, func() bool { return f.sw.Index().Len() == 1 })

	f.clock.Advance(time.Minute)
	if _, err := f.svc.SettleFeaturesOrder(ctx, tr.ID, ledger.ResultLose); err != nil {
		t.Fatalf("settle: %v", err)
	}
	waitFor(t, func() bool { return f.sw.Index().Len() == 0 })
	cancel()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

// Orders committed by another node never reach the local bus; the periodic
// reload must still pick them up.
func TestSettlesOrdersCommittedWithoutEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "u1", 100)
	if f.sw.cfg.ResyncEvery != DefaultResyncEvery {
		t.Fatalf("resync every = %d, want %d", f.sw.cfg.ResyncEvery, DefaultResyncEvery)
	}
	if err := f.sw.Resync(ctx); err != nil {
		t.Fatalf("resync: %v", err)
	}

	other := ledger.NewService(f.repo, lock.NewLocal(), ledger.WithClock(f.clock.Now))
	tr, err := other.PlaceFeaturesOrder(ctx, order("u1", 60))
	if err != nil {
		t.Fatalf("place on other node: %v", err)
	}
	if f.sw.Index().Len() != 0 {
		t.Fatalf("order should not be indexed yet")
	}

	f.clock.Advance(time.Hour)
	settled := 0
	for i := 0; i < DefaultResyncEvery; i++ {
		rep, err := f.sw.RunOnce(ctx)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		settled += rep.Settled
	}
	if settled != 1 {
		t.Fatalf("settled = %d, want 1", settled)
	}
	got, _ := f.svc.Trade(ctx, tr.ID)
	if got.FeaturesStatus != ledger.FeaturesSettled {
		t.Errorf("status = %s", got.FeaturesStatus)
	}
}

// An item the ledger declines stays indexed until it can be finalized.
func TestKeepsItemsNotYetDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "u1", 100)

	ahead := func() time.Time { return f.clock.Now().Add(time.Hour) }
	sw, err := New(f.svc, Config{Interval: time.Hour, Workers: 1}, WithClock(ahead))
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	t.Cleanup(sw.Close)

	tr := f.place(t, "u1", 60)
	if err := sw.Resync(ctx); err != nil {
		t.Fatalf("resync: %v", err)
	}

	rep, err := sw.RunOnce(ctx)
	if err != nil || rep.Settled != 0 {
		t.Fatalf("ledger clock has not reached the deadline: %+v %v", rep, err)
	}
	if sw.Index().Len() != 1 {
		t.Fatalf("declined item dropped from the index")
	}

	f.clock.Advance(61 * time.Second)
	rep, err = sw.RunOnce(ctx)
	if err != nil || rep.Settled != 1 {
		t.Fatalf("run: %+v %v", rep, err)
	}
	if sw.Index().Len() != 0 {
		t.Errorf("settled item still indexed")
	}
	got, _ := f.svc.Trade(ctx, tr.ID)
	if got.FeaturesStatus != ledger.FeaturesSettled {
		t.Errorf("status = %s", got.FeaturesStatus)
	}
}
