package subscriptions

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// estimated cost per message, a coarse placeholder used for the audit
// trail only, never billed.
const costPerMessage = 0.001

// Store is the narrow transactional surface the ledger needs. The MySQL
// implementation lives in repository.go; tests use an in-memory fake that
// honors the same contract.
type Store interface {
	// WithSubscription loads the user's subscription for update, applies
	// fn to it and persists the mutated counters together with the usage
	// record fn returns (if any), all inside a single transaction. When fn
	// returns an error nothing is persisted. ErrUserNotFound and
	// ErrNoSubscription are reported without invoking fn.
	WithSubscription(ctx context.Context, userID int, fn func(*Subscription) (*UsageRecord, error)) (*Subscription, error)

	// Subscription returns the current record without locking it, or
	// ErrUserNotFound / ErrNoSubscription.
	Subscription(ctx context.Context, userID int) (*Subscription, error)
}

// Ledger decides whether a message send is permitted and charges the
// correct pool. It is the sole writer of usage counters in this service;
// payment renewal is the only other writer and goes through the same
// store.
type Ledger struct {
	store Store
	now   func() time.Time
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// DeductMessageCredits charges amount messages (model is the audit tag)
// against the user's subscription, drawing from the first pool with
// available capacity: standard allowance, premium allowance, purchased
// premium credits, purchased standard credits. An expired billing period
// rejects the call before any pool is considered. On success the updated
// subscription is returned and one usage record has been appended
// atomically with the counter mutation.
func (l *Ledger) DeductMessageCredits(ctx context.Context, userID, amount int, model string) (*Subscription, error) {
	if amount <= 0 {
		amount = 1
	}
	now := l.now()
	var pool Pool
	sub, err := l.store.WithSubscription(ctx, userID, func(s *Subscription) (*UsageRecord, error) {
		if !s.PeriodCurrent(now) {
			return nil, ErrSubscriptionExpired
		}
		p, err := s.deduct(amount)
		if err != nil {
			return nil, err
		}
		pool = p
		return &UsageRecord{
			ID:            uuid.NewString(),
			UserID:        userID,
			Model:         model,
			Amount:        amount,
			EstimatedCost: costPerMessage * float64(amount),
			Date:          dayBucket(now),
			CreatedAt:     now,
		}, nil
	})
	if err != nil {
		log.Printf("[ledger][deny] user_id=%d amount=%d model=%s reason=%v", userID, amount, model, err)
		return nil, err
	}
	log.Printf("[ledger][ok] user_id=%d amount=%d model=%s pool=%s", userID, amount, model, pool)
	return sub, nil
}

// CheckMessageCredits reports whether a deduction of one message would
// currently succeed: the billing period is current and at least one pool
// has capacity. Read-only; callers racing a concurrent deduction must
// still handle ErrInsufficientCredits from the deduction itself.
func (l *Ledger) CheckMessageCredits(ctx context.Context, userID int) (bool, error) {
	sub, err := l.store.Subscription(ctx, userID)
	if err != nil {
		return false, err
	}
	return sub.PeriodCurrent(l.now()) && sub.HasCapacity(1), nil
}

func dayBucket(t time.Time) int64 {
	return t.UnixMilli() / dayMillis * dayMillis
}
