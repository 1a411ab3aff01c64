package monitor

import (
	"context"
	"fmt"

	"ledger-core/internal/events"

	"github.com/rs/zerolog"
)

// Rule inspects a ledger event and returns an alert message when it fires.
type Rule func(ev events.LedgerEvent) (string, bool)

// Monitor watches ledger events and emits alerts.
type Monitor struct {
	Bus   *events.Bus
	Sink  AlertSink
	Rules []Rule
	Log   zerolog.Logger
}

// Start subscribes to every ledger topic until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Sink == nil || len(m.Rules) == 0 {
		m.Log.Info().Msg("monitor not fully configured; skipping")
		return
	}
	stream, unsub := m.Bus.Subscribe(256, events.LedgerTopics...)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				ev, ok := msg.(events.LedgerEvent)
				if !ok {
					continue
				}
				m.evaluate(ev)
			}
		}
	}()
}

func (m *Monitor) evaluate(ev events.LedgerEvent) {
	for _, rule := range m.Rules {
		if text, fire := rule(ev); fire {
			if err := m.Sink.Send(text); err != nil {
				m.Log.Error().Err(err).Msg("alert delivery failed")
			}
		}
	}
}

// OverReservedWithdrawal fires when a withdrawal request leaves the frozen
// amount above the balance. Requests are not balance-checked at creation, so
// this is the place operators learn about it.
func OverReservedWithdrawal(ev events.LedgerEvent) (string, bool) {
	if ev.Type != events.EventWithdrawalRequested {
		return "", false
	}
	snap, ok := ev.Data.(events.EscrowSnapshot)
	if !ok || snap.Frozen.LessThanOrEqual(snap.Balance) {
		return "", false
	}
	return fmt.Sprintf("withdrawal %s for user %s reserves %s; frozen %s exceeds balance %s",
		ev.EntityID, ev.UserID, snap.Amount, snap.Frozen, snap.Balance), true
}
