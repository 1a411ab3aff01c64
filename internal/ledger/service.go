// Package ledger holds the account ledger and the operations that move money
// between a user's balance, frozen reservation and holdings.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger-core/internal/events"
	"ledger-core/internal/lock"
	"ledger-core/internal/monitor"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PlanSource supplies the admin-configured staking plans.
type PlanSource interface {
	Plan(id string) (Plan, bool)
	Plans() []Plan
}

// Publisher receives ledger events after each successful commit.
type Publisher interface {
	Publish(e events.Event, payload any)
}

// AddressSealer protects wallet addresses at rest.
type AddressSealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// FeaturesRules is the admin configuration for features orders. Empty tables
// accept any period or lever.
type FeaturesRules struct {
	Periods    []PeriodRule
	Levers     []string
	AutoResult Result
}

// Service runs every ledger mutation against a Repository. Mutations on the
// same account are serialized through the Locker.
type Service struct {
	repo    Repository
	locker  lock.Locker
	plans   PlanSource
	rules   FeaturesRules
	bus     Publisher
	sealer  AddressSealer
	metrics *monitor.Metrics
	log     zerolog.Logger
	now     func() time.Time
	newID   func() string
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l.With().Str("component", "ledger").Logger() }
}

// WithPublisher sets the event publisher.
func WithPublisher(p Publisher) Option { return func(s *Service) { s.bus = p } }

// WithMetrics records per-operation counters and latency.
func WithMetrics(m *monitor.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithPlans sets the staking plan source.
func WithPlans(p PlanSource) Option { return func(s *Service) { s.plans = p } }

// WithFeaturesRules sets the period/lever tables and the auto-resolution result.
func WithFeaturesRules(r FeaturesRules) Option { return func(s *Service) { s.rules = r } }

// WithAddressSealer encrypts withdrawal wallet addresses before they are stored.
func WithAddressSealer(a AddressSealer) Option { return func(s *Service) { s.sealer = a } }

// WithIDGenerator overrides entity id generation.
func WithIDGenerator(f func() string) Option { return func(s *Service) { s.newID = f } }

// NewService creates a ledger service.
func NewService(repo Repository, locker lock.Locker, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		locker: locker,
		plans:  StaticPlans(nil),
		log:    zerolog.Nop(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rules.AutoResult == "" {
		s.rules.AutoResult = ResultDraw
	}
	return s
}

// mutation computes the next state of acct, a private copy of the stored
// account, and returns the records to commit with it. A nil changeset
// commits nothing.
type mutation func(acct *Account, now time.Time) (*Changeset, error)

// apply is the read-compute-write step shared by every operation. The account
// lock is held across all three.
func (s *Service) apply(ctx context.Context, userID string, fn mutation) (*Account, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	unlock, err := s.locker.Lock(ctx, "account:"+userID)
	if err != nil {
		return nil, fmt.Errorf("lock account %s: %w", userID, err)
	}
	defer unlock()

	cur, err := s.repo.GetAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", userID, err)
	}
	next := cur.clone()
	now := s.now()

	cs, err := fn(&next, now)
	if err != nil {
		return nil, err
	}
	if cs == nil {
		return cur, nil
	}
	next.Version = cur.Version + 1
	next.UpdatedAt = now
	cs.Account = &next
	if err := s.repo.Commit(ctx, *cs); err != nil {
		return nil, fmt.Errorf("commit account %s: %w", userID, err)
	}
	return &next, nil
}

func (s *Service) observe(op string, start time.Time, errp *error) {
	s.metrics.ObserveOp(op, start, *errp)
}

func (s *Service) publish(e events.Event, userID, entityID string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(e, events.LedgerEvent{
		Type:     e,
		UserID:   userID,
		EntityID: entityID,
		At:       s.now(),
		Data:     data,
	})
}

func (s *Service) publishAccount(acct *Account) {
	s.publish(events.EventAccountUpdated, acct.UserID, acct.UserID, *acct)
}

// checkTradable enforces the user-initiated gates: the kill-switch and the
// balance freeze.
func checkTradable(a *Account) error {
	if a.Locked {
		return fmt.Errorf("%w: user %s", ErrAccountLocked, a.UserID)
	}
	if a.BalanceFrozen {
		return fmt.Errorf("%w: user %s", ErrBalanceFrozen, a.UserID)
	}
	return nil
}

// OpenAccount creates a zero-balance account for userID, or returns the
// existing one.
func (s *Service) OpenAccount(ctx context.Context, userID string) (acct *Account, err error) {
	defer s.observe("open_account", time.Now(), &err)
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	unlock, err := s.locker.Lock(ctx, "account:"+userID)
	if err != nil {
		return nil, fmt.Errorf("lock account %s: %w", userID, err)
	}
	defer unlock()

	existing, err := s.repo.GetAccount(ctx, userID)
	if err == nil {
		return existing, nil
	}
	if !isNotFound(err) {
		return nil, fmt.Errorf("account %s: %w", userID, err)
	}

	now := s.now()
	acct = &Account{
		UserID:    userID,
		Balance:   decimal.Zero,
		Frozen:    decimal.Zero,
		Holdings:  map[string]decimal.Decimal{},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Commit(ctx, Changeset{Account: acct}); err != nil {
		return nil, fmt.Errorf("create account %s: %w", userID, err)
	}
	s.log.Info().Str("user_id", userID).Msg("account opened")
	s.publish(events.EventAccountOpened, userID, userID, *acct)
	return acct, nil
}

// Account returns the current account snapshot.
func (s *Service) Account(ctx context.Context, userID string) (*Account, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	acct, err := s.repo.GetAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", userID, err)
	}
	return acct, nil
}

// Deposit credits amount to the balance. Admin path: ignores account flags.
func (s *Service) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (acct *Account, err error) {
	defer s.observe("deposit", time.Now(), &err)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: deposit must be positive, got %s", ErrInvalidAmount, amount)
	}
	acct, err = s.apply(ctx, userID, func(a *Account, _ time.Time) (*Changeset, error) {
		a.Balance = a.Balance.Add(amount)
		return &Changeset{}, nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("user_id", userID).Str("amount", amount.String()).Msg("deposit credited")
	s.publishAccount(acct)
	return acct, nil
}

// SetFlags updates the administrative kill-switch and balance freeze.
func (s *Service) SetFlags(ctx context.Context, userID string, locked, balanceFrozen bool) (acct *Account, err error) {
	defer s.observe("set_flags", time.Now(), &err)
	acct, err = s.apply(ctx, userID, func(a *Account, _ time.Time) (*Changeset, error) {
		if a.Locked == locked && a.BalanceFrozen == balanceFrozen {
			return nil, nil
		}
		a.Locked = locked
		a.BalanceFrozen = balanceFrozen
		return &Changeset{}, nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("user_id", userID).Bool("locked", locked).Bool("balance_frozen", balanceFrozen).Msg("account flags set")
	s.publishAccount(acct)
	return acct, nil
}

// Trades lists every trade of a user, oldest first.
func (s *Service) Trades(ctx context.Context, userID string) ([]Trade, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	return s.repo.ListTrades(ctx, userID)
}

// Trade returns one trade by id.
func (s *Service) Trade(ctx context.Context, id string) (*Trade, error) {
	t, err := s.repo.GetTrade(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("trade %s: %w", id, err)
	}
	return t, nil
}

// Plans lists the configured staking plans.
func (s *Service) Plans() []Plan {
	return s.plans.Plans()
}

// StaticPlans is a PlanSource over a fixed list.
type StaticPlans []Plan

func (p StaticPlans) Plan(id string) (Plan, bool) {
	for _, plan := range p {
		if plan.ID == id {
			return plan, true
		}
	}
	return Plan{}, false
}

func (p StaticPlans) Plans() []Plan {
	out := make([]Plan, len(p))
	copy(out, p)
	return out
}

func isNotFound(err error) bool {
	return err != nil && errors.Is(err, ErrNotFound)
}
