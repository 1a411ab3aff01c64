package ledger

import (
	"context"
	"fmt"
	"time"

	"ledger-core/internal/events"

	"github.com/shopspring/decimal"
)

// SpotOrder is a buy or sell instruction at an externally sourced price.
type SpotOrder struct {
	UserID   string
	Pair     string
	Side     Side
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// ExecuteSpotTrade moves price×quantity between the balance and the base
// asset holding and records a terminal spot trade. Nothing changes on error.
func (s *Service) ExecuteSpotTrade(ctx context.Context, o SpotOrder) (trade *Trade, err error) {
	defer s.observe("spot_trade", time.Now(), &err)

	pair, err := NormalizePair(o.Pair)
	if err != nil {
		return nil, err
	}
	base, _ := BaseAsset(pair)
	if o.Side != SideBuy && o.Side != SideSell {
		return nil, fmt.Errorf("%w: side %q", ErrInvalidInput, o.Side)
	}
	if !o.Price.IsPositive() || !o.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: price and quantity must be positive", ErrInvalidAmount)
	}
	amount := o.Price.Mul(o.Quantity)

	acct, err := s.apply(ctx, o.UserID, func(a *Account, now time.Time) (*Changeset, error) {
		if err := checkTradable(a); err != nil {
			return nil, err
		}
		switch o.Side {
		case SideBuy:
			if a.Balance.LessThan(amount) {
				return nil, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, amount, a.Balance)
			}
			a.Balance = a.Balance.Sub(amount)
			a.Holdings[base] = a.Holding(base).Add(o.Quantity)
		case SideSell:
			held := a.Holding(base)
			if held.LessThan(o.Quantity) {
				return nil, fmt.Errorf("%w: %s need %s, have %s", ErrInsufficientHoldings, base, o.Quantity, held)
			}
			a.Balance = a.Balance.Add(amount)
			if rest := floorZero(held.Sub(o.Quantity)); rest.IsZero() {
				delete(a.Holdings, base)
			} else {
				a.Holdings[base] = rest
			}
		}

		trade = &Trade{
			ID:        s.newID(),
			UserID:    o.UserID,
			Type:      TradeSpot,
			Pair:      pair,
			Side:      o.Side,
			Price:     o.Price,
			Quantity:  o.Quantity,
			Amount:    amount,
			CreatedAt: now,
		}
		return &Changeset{Trades: []Trade{*trade}}, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("user_id", o.UserID).
		Str("trade_id", trade.ID).
		Str("pair", pair).
		Str("side", string(o.Side)).
		Str("amount", amount.String()).
		Msg("spot trade executed")
	s.publish(events.EventTradeCreated, o.UserID, trade.ID, *trade)
	s.publishAccount(acct)
	return trade, nil
}
