package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ledger-core/internal/events"

	"github.com/shopspring/decimal"
)

// WithdrawalInput is a user's request to move funds off the platform.
type WithdrawalInput struct {
	UserID        string
	Amount        decimal.Decimal
	WalletAddress string
	WalletNetwork string
}

// RequestWithdrawal reserves amount in the frozen balance and opens a pending
// request. The balance itself is untouched until an admin accepts.
//
// The available balance is deliberately not checked here; the monitor flags
// requests that over-reserve.
func (s *Service) RequestWithdrawal(ctx context.Context, in WithdrawalInput) (w *WithdrawalRequest, err error) {
	defer s.observe("withdrawal_request", time.Now(), &err)

	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: withdrawal must be positive, got %s", ErrInvalidAmount, in.Amount)
	}
	address := strings.TrimSpace(in.WalletAddress)
	network := strings.TrimSpace(in.WalletNetwork)
	if address == "" || network == "" {
		return nil, fmt.Errorf("%w: wallet address and network are required", ErrInvalidInput)
	}
	stored := address
	if s.sealer != nil {
		if stored, err = s.sealer.Seal(address); err != nil {
			return nil, fmt.Errorf("seal wallet address: %w", err)
		}
	}

	acct, err := s.apply(ctx, in.UserID, func(a *Account, now time.Time) (*Changeset, error) {
		if err := checkTradable(a); err != nil {
			return nil, err
		}
		a.Frozen = a.Frozen.Add(in.Amount)

		w = &WithdrawalRequest{
			ID:            s.newID(),
			UserID:        in.UserID,
			Amount:        in.Amount,
			Status:        WithdrawalPending,
			WalletAddress: stored,
			WalletNetwork: network,
			CreatedAt:     now,
		}
		return &Changeset{Withdrawals: []WithdrawalRequest{*w}}, nil
	})
	if err != nil {
		return nil, err
	}
	w.WalletAddress = address

	s.log.Info().
		Str("user_id", in.UserID).
		Str("withdrawal_id", w.ID).
		Str("amount", in.Amount.String()).
		Str("network", network).
		Msg("withdrawal requested")
	s.publish(events.EventWithdrawalRequested, in.UserID, w.ID, events.EscrowSnapshot{
		Amount:  in.Amount,
		Balance: acct.Balance,
		Frozen:  acct.Frozen,
	})
	s.publishAccount(acct)
	return w, nil
}

// AcceptWithdrawal debits the reserved amount from both balance and frozen.
func (s *Service) AcceptWithdrawal(ctx context.Context, id string) (w *WithdrawalRequest, err error) {
	defer s.observe("withdrawal_accept", time.Now(), &err)
	return s.resolveWithdrawal(ctx, id, WithdrawalAccepted)
}

// DeclineWithdrawal releases the reservation and leaves the balance as is.
func (s *Service) DeclineWithdrawal(ctx context.Context, id string) (w *WithdrawalRequest, err error) {
	defer s.observe("withdrawal_decline", time.Now(), &err)
	return s.resolveWithdrawal(ctx, id, WithdrawalDeclined)
}

func (s *Service) resolveWithdrawal(ctx context.Context, id string, to WithdrawalStatus) (*WithdrawalRequest, error) {
	w, err := s.repo.GetWithdrawal(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("withdrawal %s: %w", id, err)
	}

	var out WithdrawalRequest
	acct, err := s.apply(ctx, w.UserID, func(a *Account, now time.Time) (*Changeset, error) {
		cur, err := s.repo.GetWithdrawal(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("withdrawal %s: %w", id, err)
		}
		if cur.Status != WithdrawalPending {
			return nil, fmt.Errorf("%w: withdrawal %s is already %s", ErrInvalidState, id, cur.Status)
		}
		if to == WithdrawalAccepted {
			a.Balance = floorZero(a.Balance.Sub(cur.Amount))
		}
		a.Frozen = floorZero(a.Frozen.Sub(cur.Amount))

		resolvedAt := now
		out = *cur
		out.Status = to
		out.ResolvedAt = &resolvedAt
		return &Changeset{Withdrawals: []WithdrawalRequest{out}}, nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.openAddress(&out); err != nil {
		return nil, err
	}

	ev := events.EventWithdrawalAccepted
	if to == WithdrawalDeclined {
		ev = events.EventWithdrawalDeclined
	}
	s.log.Info().
		Str("user_id", out.UserID).
		Str("withdrawal_id", id).
		Str("status", string(to)).
		Str("amount", out.Amount.String()).
		Msg("withdrawal resolved")
	s.publish(ev, out.UserID, id, events.EscrowSnapshot{
		Amount:  out.Amount,
		Balance: acct.Balance,
		Frozen:  acct.Frozen,
	})
	s.publishAccount(acct)
	return &out, nil
}

// Withdrawal returns one request with its wallet address readable.
func (s *Service) Withdrawal(ctx context.Context, id string) (*WithdrawalRequest, error) {
	w, err := s.repo.GetWithdrawal(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("withdrawal %s: %w", id, err)
	}
	if err := s.openAddress(w); err != nil {
		return nil, err
	}
	return w, nil
}

// Withdrawals lists a user's requests, or every request when userID is empty.
func (s *Service) Withdrawals(ctx context.Context, userID string) ([]WithdrawalRequest, error) {
	list, err := s.repo.ListWithdrawals(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if err := s.openAddress(&list[i]); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (s *Service) openAddress(w *WithdrawalRequest) error {
	if s.sealer == nil {
		return nil
	}
	plain, err := s.sealer.Open(w.WalletAddress)
	if err != nil {
		return fmt.Errorf("open wallet address of %s: %w", w.ID, err)
	}
	w.WalletAddress = plain
	return nil
}
