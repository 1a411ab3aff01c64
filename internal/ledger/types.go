package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuoteAsset is the settlement currency of every account balance.
const QuoteAsset = "USDT"

// TradeType distinguishes spot fills from features orders.
type TradeType string

const (
	TradeSpot     TradeType = "spot"
	TradeFeatures TradeType = "features"
)

// Side is the direction of a spot trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Variant is the predicted direction of a features order.
type Variant string

const (
	VariantUp   Variant = "up"
	VariantFall Variant = "fall"
)

// FeaturesStatus is the lifecycle state of a features order.
type FeaturesStatus string

const (
	FeaturesPending FeaturesStatus = "pending"
	FeaturesSettled FeaturesStatus = "settled"
)

// Result is the declared or automatic outcome of a features order.
type Result string

const (
	ResultWin  Result = "win"
	ResultLose Result = "lose"
	ResultDraw Result = "draw"
)

// Valid reports whether r is one of the three known outcomes.
func (r Result) Valid() bool {
	switch r {
	case ResultWin, ResultLose, ResultDraw:
		return true
	}
	return false
}

// WithdrawalStatus is the escrow state of a withdrawal request.
type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalAccepted WithdrawalStatus = "accepted"
	WithdrawalDeclined WithdrawalStatus = "declined"
)

// PledgeStatus is the state of a staking position.
type PledgeStatus string

const (
	PledgeActive    PledgeStatus = "active"
	PledgeCompleted PledgeStatus = "completed"
)

// Account is the per-user ledger row.
type Account struct {
	UserID        string                     `json:"userId"`
	Balance       decimal.Decimal            `json:"balance"`
	Frozen        decimal.Decimal            `json:"frozen"`
	Holdings      map[string]decimal.Decimal `json:"holdings"`
	Locked        bool                       `json:"locked"`
	BalanceFrozen bool                       `json:"balanceFrozen"`
	Version       int64                      `json:"version"`
	CreatedAt     time.Time                  `json:"createdAt"`
	UpdatedAt     time.Time                  `json:"updatedAt"`
}

// Available is the part of the balance not reserved by pending withdrawals.
func (a *Account) Available() decimal.Decimal {
	avail := a.Balance.Sub(a.Frozen)
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

// Holding returns the quantity held of asset, zero when absent.
func (a *Account) Holding(asset string) decimal.Decimal {
	if a.Holdings == nil {
		return decimal.Zero
	}
	return a.Holdings[asset]
}

func (a *Account) clone() Account {
	out := *a
	out.Holdings = make(map[string]decimal.Decimal, len(a.Holdings))
	for k, v := range a.Holdings {
		out.Holdings[k] = v
	}
	return out
}

// Trade is an immutable spot fill or a features order.
type Trade struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Type      TradeType       `json:"type"`
	Pair      string          `json:"pair"`
	Side      Side            `json:"side,omitempty"`
	Variant   Variant         `json:"variant,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"createdAt"`

	// Features only.
	PeriodSeconds  int64           `json:"period,omitempty"`
	PeriodPercent  decimal.Decimal `json:"periodPercent"`
	Lever          string          `json:"lever,omitempty"`
	EndsAt         time.Time       `json:"endsAt"`
	FeaturesStatus FeaturesStatus  `json:"featuresStatus,omitempty"`
	FeaturesResult Result          `json:"featuresResult,omitempty"`
	PayoutAmount   decimal.Decimal `json:"payoutAmount"`
	SettledAt      *time.Time      `json:"settledAt,omitempty"`
}

// Pending reports whether the trade is a features order still awaiting payout.
func (t *Trade) Pending() bool {
	return t.Type == TradeFeatures && t.FeaturesStatus == FeaturesPending
}

// WithdrawalRequest reserves funds until an admin accepts or declines it.
type WithdrawalRequest struct {
	ID            string           `json:"id"`
	UserID        string           `json:"userId"`
	Amount        decimal.Decimal  `json:"amount"`
	Status        WithdrawalStatus `json:"status"`
	WalletAddress string           `json:"walletAddress"`
	WalletNetwork string           `json:"walletNetwork"`
	CreatedAt     time.Time        `json:"createdAt"`
	ResolvedAt    *time.Time       `json:"resolvedAt,omitempty"`
}

// Pledge is a fixed-term staking position.
type Pledge struct {
	ID                string          `json:"id"`
	UserID            string          `json:"userId"`
	PlanID            string          `json:"planId"`
	Amount            decimal.Decimal `json:"amount"`
	DailyYieldPercent decimal.Decimal `json:"dailyYieldPercent"`
	CycleDays         int             `json:"cycleDays"`
	Status            PledgeStatus    `json:"status"`
	TotalEarned       decimal.Decimal `json:"totalEarned"`
	CreatedAt         time.Time       `json:"createdAt"`
	EndsAt            time.Time       `json:"endsAt"`
	CompletedAt       *time.Time      `json:"completedAt,omitempty"`
}

// Plan is an admin-configured staking product.
type Plan struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	DailyYieldPercent decimal.Decimal `json:"dailyYieldPercent"`
	CycleDays         int             `json:"cycleDays"`
	QuotaMin          decimal.Decimal `json:"quotaMin"`
	QuotaMax          decimal.Decimal `json:"quotaMax"`
}

// PeriodRule is one row of the admin features period table.
type PeriodRule struct {
	Seconds   int64
	Percent   decimal.Decimal
	MinAmount decimal.Decimal
}

// PledgeView is a pledge plus its read-time accrual projection.
type PledgeView struct {
	Pledge
	ElapsedDays     int             `json:"elapsedDays"`
	DailyEarnings   decimal.Decimal `json:"dailyEarnings"`
	ProjectedEarned decimal.Decimal `json:"projectedEarned"`
}

// PledgeStats aggregates a user's pledges for display.
type PledgeStats struct {
	AmountMined      decimal.Decimal `json:"amountMined"`
	TodayEarnings    decimal.Decimal `json:"todayEarnings"`
	CumulativeIncome decimal.Decimal `json:"cumulativeIncome"`
	IncomeOrder      int             `json:"incomeOrder"`
}

// PledgeSummary is the staking page payload.
type PledgeSummary struct {
	Pledges []PledgeView `json:"pledges"`
	Stats   PledgeStats  `json:"stats"`
}
