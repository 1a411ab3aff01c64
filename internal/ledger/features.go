package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ledger-core/internal/events"

	"github.com/shopspring/decimal"
)

// FeaturesOrder is a timed up/fall wager.
type FeaturesOrder struct {
	UserID        string
	Pair          string
	Variant       Variant
	Amount        decimal.Decimal
	PeriodSeconds int64
	PeriodPercent decimal.Decimal
	Lever         string
}

func (r FeaturesRules) check(o FeaturesOrder) error {
	if len(r.Periods) > 0 {
		var match *PeriodRule
		for i := range r.Periods {
			if r.Periods[i].Seconds == o.PeriodSeconds && r.Periods[i].Percent.Equal(o.PeriodPercent) {
				match = &r.Periods[i]
				break
			}
		}
		if match == nil {
			return fmt.Errorf("%w: no period of %ds at %s%%", ErrInvalidInput, o.PeriodSeconds, o.PeriodPercent)
		}
		if o.Amount.LessThan(match.MinAmount) {
			return fmt.Errorf("%w: minimum stake for %ds is %s", ErrInvalidAmount, o.PeriodSeconds, match.MinAmount)
		}
	}
	if len(r.Levers) > 0 {
		allowed := false
		for _, l := range r.Levers {
			if strings.EqualFold(strings.TrimSpace(l), strings.TrimSpace(o.Lever)) {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: lever %q not offered", ErrInvalidInput, o.Lever)
		}
	}
	return nil
}

// PlaceFeaturesOrder debits the stake and opens a pending order that expires
// PeriodSeconds from now.
func (s *Service) PlaceFeaturesOrder(ctx context.Context, o FeaturesOrder) (trade *Trade, err error) {
	defer s.observe("features_place", time.Now(), &err)

	pair, err := NormalizePair(o.Pair)
	if err != nil {
		return nil, err
	}
	if o.Variant != VariantUp && o.Variant != VariantFall {
		return nil, fmt.Errorf("%w: variant %q", ErrInvalidInput, o.Variant)
	}
	if !o.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: stake must be positive, got %s", ErrInvalidAmount, o.Amount)
	}
	if o.PeriodSeconds <= 0 {
		return nil, fmt.Errorf("%w: period must be positive", ErrInvalidInput)
	}
	if o.PeriodPercent.IsNegative() {
		return nil, fmt.Errorf("%w: period percent must not be negative", ErrInvalidInput)
	}
	if _, err := LeverValue(o.Lever); err != nil {
		return nil, err
	}
	if err := s.rules.check(o); err != nil {
		return nil, err
	}

	acct, err := s.apply(ctx, o.UserID, func(a *Account, now time.Time) (*Changeset, error) {
		if err := checkTradable(a); err != nil {
			return nil, err
		}
		if a.Balance.LessThan(o.Amount) {
			return nil, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, o.Amount, a.Balance)
		}
		a.Balance = a.Balance.Sub(o.Amount)

		trade = &Trade{
			ID:             s.newID(),
			UserID:         o.UserID,
			Type:           TradeFeatures,
			Pair:           pair,
			Variant:        o.Variant,
			Price:          decimal.Zero,
			Quantity:       decimal.Zero,
			Amount:         o.Amount,
			CreatedAt:      now,
			PeriodSeconds:  o.PeriodSeconds,
			PeriodPercent:  o.PeriodPercent,
			Lever:          o.Lever,
			EndsAt:         now.Add(time.Duration(o.PeriodSeconds) * time.Second),
			FeaturesStatus: FeaturesPending,
			PayoutAmount:   decimal.Zero,
		}
		return &Changeset{Trades: []Trade{*trade}}, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("user_id", o.UserID).
		Str("trade_id", trade.ID).
		Str("stake", o.Amount.String()).
		Time("ends_at", trade.EndsAt).
		Msg("features order placed")
	s.publish(events.EventTradeCreated, o.UserID, trade.ID, *trade)
	s.publishAccount(acct)
	return trade, nil
}

// SettleFeaturesOrder records an admin-declared result. The payout is applied
// now if the order has expired, otherwise when the sweeper reaches it.
// Settling an already settled order is a no-op.
func (s *Service) SettleFeaturesOrder(ctx context.Context, tradeID string, result Result) (trade *Trade, err error) {
	defer s.observe("features_settle", time.Now(), &err)
	if !result.Valid() {
		return nil, fmt.Errorf("%w: result %q", ErrInvalidInput, result)
	}
	trade, _, err = s.settle(ctx, tradeID, result)
	return trade, err
}

// SettleExpired pays out one expired order using its declared result or the
// configured automatic result. It reports whether this call settled it.
func (s *Service) SettleExpired(ctx context.Context, tradeID string) (bool, error) {
	_, settled, err := s.settle(ctx, tradeID, "")
	return settled, err
}

// PendingFeatures lists every features order awaiting payout.
func (s *Service) PendingFeatures(ctx context.Context) ([]Trade, error) {
	return s.repo.ListPendingFeatures(ctx)
}

// SweepExpiredFeaturesOrders settles every pending order whose timer has
// elapsed and returns how many this pass settled. Failures on single orders
// do not stop the pass.
func (s *Service) SweepExpiredFeaturesOrders(ctx context.Context) (n int, err error) {
	defer s.observe("features_sweep", time.Now(), &err)

	pending, err := s.repo.ListPendingFeatures(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending features: %w", err)
	}
	now := s.now()
	var errs []error
	for i := range pending {
		if now.Before(pending[i].EndsAt) {
			continue
		}
		settled, err := s.SettleExpired(ctx, pending[i].ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("trade %s: %w", pending[i].ID, err))
			continue
		}
		if settled {
			n++
		}
	}
	return n, errors.Join(errs...)
}

// settle is the single settlement path behind admin action and the sweeper.
// A non-empty declared result is stored on the order; the payout happens only
// once the order has expired.
func (s *Service) settle(ctx context.Context, tradeID string, declared Result) (*Trade, bool, error) {
	t, err := s.repo.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, false, fmt.Errorf("trade %s: %w", tradeID, err)
	}
	if t.Type != TradeFeatures {
		return nil, false, fmt.Errorf("%w: trade %s is not a features order", ErrInvalidState, tradeID)
	}

	var (
		out      *Trade
		paid     bool
		recorded bool
	)
	acct, err := s.apply(ctx, t.UserID, func(a *Account, now time.Time) (*Changeset, error) {
		cur, err := s.repo.GetTrade(ctx, tradeID)
		if err != nil {
			return nil, fmt.Errorf("trade %s: %w", tradeID, err)
		}
		out = cur
		if cur.FeaturesStatus == FeaturesSettled {
			if declared != "" && declared != cur.FeaturesResult {
				s.log.Warn().
					Str("trade_id", tradeID).
					Str("settled_as", string(cur.FeaturesResult)).
					Str("declared", string(declared)).
					Msg("result declared after settlement ignored")
			}
			return nil, nil
		}

		next := *cur
		if declared != "" && declared != next.FeaturesResult {
			next.FeaturesResult = declared
			recorded = true
		}
		if now.Before(next.EndsAt) {
			if !recorded {
				return nil, nil
			}
			out = &next
			return &Changeset{Trades: []Trade{next}}, nil
		}

		if next.FeaturesResult == "" {
			next.FeaturesResult = s.rules.AutoResult
		}
		payout, err := FeaturesPayout(next.Amount, next.PeriodPercent, next.Lever, next.FeaturesResult)
		if err != nil {
			return nil, err
		}
		settledAt := now
		a.Balance = a.Balance.Add(payout)
		next.FeaturesStatus = FeaturesSettled
		next.PayoutAmount = payout
		next.SettledAt = &settledAt

		out = &next
		paid = true
		return &Changeset{Trades: []Trade{next}}, nil
	})
	if err != nil {
		return nil, false, err
	}

	switch {
	case paid:
		s.log.Info().
			Str("user_id", out.UserID).
			Str("trade_id", tradeID).
			Str("result", string(out.FeaturesResult)).
			Str("payout", out.PayoutAmount.String()).
			Msg("features order settled")
		s.publish(events.EventTradeSettled, out.UserID, tradeID, *out)
		s.publishAccount(acct)
	case recorded:
		s.log.Info().
			Str("trade_id", tradeID).
			Str("result", string(out.FeaturesResult)).
			Time("ends_at", out.EndsAt).
			Msg("features result declared before expiry")
		s.publish(events.EventTradeResultDeclared, out.UserID, tradeID, *out)
	}
	return out, paid, nil
}
