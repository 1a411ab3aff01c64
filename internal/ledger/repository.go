package ledger

import "context"

// Changeset is the unit of atomic persistence: at most one account plus the
// log records written alongside it.
//
// When Account is set its Version must be exactly one more than the stored
// version (1 for a new account); otherwise Commit fails with ErrConflict.
type Changeset struct {
	Account     *Account
	Trades      []Trade
	Withdrawals []WithdrawalRequest
	Pledges     []Pledge
}

// Empty reports whether the changeset writes nothing.
func (c *Changeset) Empty() bool {
	return c.Account == nil && len(c.Trades) == 0 && len(c.Withdrawals) == 0 && len(c.Pledges) == 0
}

// Repository is the storage capability the ledger runs against. Embedded,
// PostgreSQL and remote HTTP backends all implement it.
type Repository interface {
	GetAccount(ctx context.Context, userID string) (*Account, error)
	GetTrade(ctx context.Context, id string) (*Trade, error)
	GetWithdrawal(ctx context.Context, id string) (*WithdrawalRequest, error)
	GetPledge(ctx context.Context, id string) (*Pledge, error)

	ListTrades(ctx context.Context, userID string) ([]Trade, error)
	ListPendingFeatures(ctx context.Context) ([]Trade, error)
	// ListWithdrawals returns every request when userID is empty.
	ListWithdrawals(ctx context.Context, userID string) ([]WithdrawalRequest, error)
	ListPledges(ctx context.Context, userID string) ([]Pledge, error)
	ListActivePledges(ctx context.Context) ([]Pledge, error)

	Commit(ctx context.Context, cs Changeset) error
	Ping(ctx context.Context) error
	Close() error
}
