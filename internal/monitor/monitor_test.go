package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"ledger-core/internal/events"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type memorySink struct {
	mu   sync.Mutex
	msgs []string
}

func (s *memorySink) Send(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, message)
	return nil
}

func (s *memorySink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.msgs...)
}

func escrow(amount, balance, frozen int64) events.EscrowSnapshot {
	return events.EscrowSnapshot{
		Amount:  decimal.NewFromInt(amount),
		Balance: decimal.NewFromInt(balance),
		Frozen:  decimal.NewFromInt(frozen),
	}
}

func TestOverReservedWithdrawal(t *testing.T) {
	tests := []struct {
		name string
		ev   events.LedgerEvent
		fire bool
	}{
		{"covered", events.LedgerEvent{Type: events.EventWithdrawalRequested, Data: escrow(10, 100, 10)}, false},
		{"exactly covered", events.LedgerEvent{Type: events.EventWithdrawalRequested, Data: escrow(100, 100, 100)}, false},
		{"over reserved", events.LedgerEvent{Type: events.EventWithdrawalRequested, UserID: "u1", EntityID: "w1", Data: escrow(50, 40, 60)}, true},
		{"other event", events.LedgerEvent{Type: events.EventWithdrawalAccepted, Data: escrow(50, 40, 60)}, false},
		{"no snapshot", events.LedgerEvent{Type: events.EventWithdrawalRequested}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, fire := OverReservedWithdrawal(tt.ev)
			if fire != tt.fire {
				t.Fatalf("fire = %v, want %v", fire, tt.fire)
			}
			if fire && (!strings.Contains(msg, "w1") || !strings.Contains(msg, "u1")) {
				t.Errorf("message = %q", msg)
			}
		})
	}
}

func TestMonitorDeliversAlerts(t *testing.T) {
	bus := events.NewBus()
	sink := &memorySink{}
	m := &Monitor{Bus: bus, Sink: sink, Rules: []Rule{OverReservedWithdrawal}, Log: zerolog.Nop()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	bus.Publish(events.EventWithdrawalRequested, events.LedgerEvent{
		Type: events.EventWithdrawalRequested, UserID: "u1", EntityID: "w1", Data: escrow(50, 40, 60),
	})
	bus.Publish(events.EventWithdrawalRequested, events.LedgerEvent{
		Type: events.EventWithdrawalRequested, UserID: "u2", EntityID: "w2", Data: escrow(5, 40, 5),
	})

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	got := sink.all()
	if len(got) != 1 || !strings.Contains(got[0], "w1") {
		t.Errorf("alerts = %v", got)
	}
}

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	start := time.Now()
	m.ObserveOp("deposit", start, nil)
	m.ObserveOp("deposit", start, nil)
	m.ObserveOp("deposit", start, errors.New("boom"))
	m.ObserveAPI(3*time.Millisecond, 200)
	m.ObserveAPI(5*time.Millisecond, 409)
	m.ObserveSweep(time.Millisecond, 2, 1)

	snap := m.Snapshot()
	if c := snap.Operations["deposit"]; c.OK != 2 || c.Errors != 1 {
		t.Errorf("deposit counts = %+v", c)
	}
	if snap.APIRequests != 2 || snap.APIErrors != 1 {
		t.Errorf("api = %d/%d", snap.APIRequests, snap.APIErrors)
	}
	if snap.SweepPasses != 1 || snap.TradesAutoSettled != 2 || snap.PledgesCompleted != 1 {
		t.Errorf("sweep counters = %d %d %d", snap.SweepPasses, snap.TradesAutoSettled, snap.PledgesCompleted)
	}
	if snap.LastSweep == nil {
		t.Error("LastSweep not set")
	}
	if snap.OpLatency.Count != 3 || snap.APILatency.Count != 2 {
		t.Errorf("latency counts = %d %d", snap.OpLatency.Count, snap.APILatency.Count)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveOp("x", time.Now(), nil)
	m.ObserveAPI(time.Millisecond, 500)
	m.ObserveSweep(time.Millisecond, 1, 1)
}

func TestLatencyHistogramWindow(t *testing.T) {
	h := NewLatencyHistogram(3)
	for _, v := range []float64{100, 1, 2, 3} {
		h.Record(v)
	}
	s := h.Stats()
	if s.Count != 3 || s.Max != 3 || s.Min != 1 {
		t.Errorf("stats = %+v", s)
	}
}
