package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event enumerates ledger topics.
type Event string

const (
	EventAccountOpened       Event = "account.opened"
	EventAccountUpdated      Event = "account.updated"
	EventTradeCreated        Event = "trade.created"
	EventTradeResultDeclared Event = "trade.result_declared"
	EventTradeSettled        Event = "trade.settled"
	EventWithdrawalRequested Event = "withdrawal.requested"
	EventWithdrawalAccepted  Event = "withdrawal.accepted"
	EventWithdrawalDeclined  Event = "withdrawal.declined"
	EventPledgeCreated       Event = "pledge.created"
	EventPledgeCompleted     Event = "pledge.completed"
)

// LedgerTopics lists every topic a ledger mutation can publish.
var LedgerTopics = []Event{
	EventAccountOpened,
	EventAccountUpdated,
	EventTradeCreated,
	EventTradeResultDeclared,
	EventTradeSettled,
	EventWithdrawalRequested,
	EventWithdrawalAccepted,
	EventWithdrawalDeclined,
	EventPledgeCreated,
	EventPledgeCompleted,
}

// LedgerEvent is the payload published after a successful commit.
type LedgerEvent struct {
	Type     Event     `json:"type"`
	UserID   string    `json:"userId"`
	EntityID string    `json:"entityId"`
	At       time.Time `json:"at"`
	Data     any       `json:"data,omitempty"`
}

// EscrowSnapshot accompanies withdrawal events: the request amount and the
// account balances right after the commit.
type EscrowSnapshot struct {
	Amount  decimal.Decimal `json:"amount"`
	Balance decimal.Decimal `json:"balance"`
	Frozen  decimal.Decimal `json:"frozen"`
}
