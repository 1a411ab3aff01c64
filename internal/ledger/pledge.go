package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger-core/internal/events"

	"github.com/shopspring/decimal"
)

// CreatePledge stakes amount into planID for the plan's cycle.
func (s *Service) CreatePledge(ctx context.Context, userID, planID string, amount decimal.Decimal) (p *Pledge, err error) {
	defer s.observe("pledge_create", time.Now(), &err)

	plan, ok := s.plans.Plan(planID)
	if !ok {
		return nil, fmt.Errorf("plan %s: %w", planID, ErrNotFound)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: stake must be positive, got %s", ErrInvalidAmount, amount)
	}
	if amount.LessThan(plan.QuotaMin) || (plan.QuotaMax.IsPositive() && amount.GreaterThan(plan.QuotaMax)) {
		return nil, fmt.Errorf("%w: %s is outside the %s quota [%s, %s]",
			ErrInvalidAmount, amount, plan.ID, plan.QuotaMin, plan.QuotaMax)
	}

	acct, err := s.apply(ctx, userID, func(a *Account, now time.Time) (*Changeset, error) {
		if a.Locked {
			return nil, fmt.Errorf("%w: user %s", ErrAccountLocked, userID)
		}
		if a.Balance.LessThan(amount) {
			return nil, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, amount, a.Balance)
		}
		a.Balance = a.Balance.Sub(amount)

		p = &Pledge{
			ID:                s.newID(),
			UserID:            userID,
			PlanID:            plan.ID,
			Amount:            amount,
			DailyYieldPercent: plan.DailyYieldPercent,
			CycleDays:         plan.CycleDays,
			Status:            PledgeActive,
			TotalEarned:       decimal.Zero,
			CreatedAt:         now,
			EndsAt:            now.Add(time.Duration(plan.CycleDays) * day),
		}
		return &Changeset{Pledges: []Pledge{*p}}, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("user_id", userID).
		Str("pledge_id", p.ID).
		Str("plan_id", plan.ID).
		Str("amount", amount.String()).
		Time("ends_at", p.EndsAt).
		Msg("pledge created")
	s.publish(events.EventPledgeCreated, userID, p.ID, *p)
	s.publishAccount(acct)
	return p, nil
}

// CompletePledge credits the full-cycle yield of an ended pledge. Completing
// an already completed pledge returns it unchanged; completing one that has
// not ended is ErrInvalidState.
func (s *Service) CompletePledge(ctx context.Context, id string) (p *Pledge, err error) {
	defer s.observe("pledge_complete", time.Now(), &err)
	p, _, err = s.complete(ctx, id, true)
	return p, err
}

// CompletePledgeIfDue completes the pledge when it has ended and reports
// whether this call did so.
func (s *Service) CompletePledgeIfDue(ctx context.Context, id string) (bool, error) {
	_, done, err := s.complete(ctx, id, false)
	return done, err
}

// ActivePledges lists every active pledge.
func (s *Service) ActivePledges(ctx context.Context) ([]Pledge, error) {
	return s.repo.ListActivePledges(ctx)
}

// CompleteDuePledges completes every active pledge past its end.
func (s *Service) CompleteDuePledges(ctx context.Context) (n int, err error) {
	defer s.observe("pledge_sweep", time.Now(), &err)

	active, err := s.repo.ListActivePledges(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active pledges: %w", err)
	}
	now := s.now()
	var errs []error
	for i := range active {
		if !active[i].Due(now) {
			continue
		}
		done, err := s.CompletePledgeIfDue(ctx, active[i].ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("pledge %s: %w", active[i].ID, err))
			continue
		}
		if done {
			n++
		}
	}
	return n, errors.Join(errs...)
}

func (s *Service) complete(ctx context.Context, id string, strict bool) (*Pledge, bool, error) {
	p, err := s.repo.GetPledge(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("pledge %s: %w", id, err)
	}

	var (
		out  *Pledge
		done bool
	)
	acct, err := s.apply(ctx, p.UserID, func(a *Account, now time.Time) (*Changeset, error) {
		cur, err := s.repo.GetPledge(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("pledge %s: %w", id, err)
		}
		out = cur
		if cur.Status == PledgeCompleted {
			return nil, nil
		}
		if !cur.Due(now) {
			if strict {
				return nil, fmt.Errorf("%w: pledge %s ends at %s", ErrInvalidState, id, cur.EndsAt.Format(time.RFC3339))
			}
			return nil, nil
		}

		next := *cur
		completedAt := now
		next.TotalEarned = next.CycleEarnings()
		next.Status = PledgeCompleted
		next.CompletedAt = &completedAt
		a.Balance = a.Balance.Add(next.TotalEarned)

		out = &next
		done = true
		return &Changeset{Pledges: []Pledge{next}}, nil
	})
	if err != nil {
		return nil, false, err
	}

	if done {
		s.log.Info().
			Str("user_id", out.UserID).
			Str("pledge_id", id).
			Str("earned", out.TotalEarned.String()).
			Msg("pledge completed")
		s.publish(events.EventPledgeCompleted, out.UserID, id, *out)
		s.publishAccount(acct)
	}
	return out, done, nil
}

// Pledges completes any of the user's pledges that have ended, then returns
// all of them with their projections and the aggregate stats.
func (s *Service) Pledges(ctx context.Context, userID string) (*PledgeSummary, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	list, err := s.repo.ListPledges(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	completed := false
	for i := range list {
		if !list[i].Due(now) {
			continue
		}
		done, err := s.CompletePledgeIfDue(ctx, list[i].ID)
		if err != nil {
			return nil, err
		}
		completed = completed || done
	}
	if completed {
		if list, err = s.repo.ListPledges(ctx, userID); err != nil {
			return nil, err
		}
	}

	now = s.now()
	views := make([]PledgeView, 0, len(list))
	for _, p := range list {
		views = append(views, p.View(now))
	}
	return &PledgeSummary{
		Pledges: views,
		Stats:   ComputePledgeStats(list, now),
	}, nil
}
