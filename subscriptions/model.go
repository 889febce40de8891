package subscriptions

import "time"

const dayMillis = 86_400_000

// Tier is the subscription plan level. It gates feature access
// independently of the remaining message counters.
type Tier string

const (
	TierFree    Tier = "free"
	TierPro     Tier = "pro"
	TierProPlus Tier = "pro_plus"
)

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPro, TierProPlus:
		return true
	}
	return false
}

// Pool identifies which capacity counter a deduction drew from.
type Pool string

const (
	PoolStandard        Pool = "standard"
	PoolPremium         Pool = "premium"
	PoolPremiumCredits  Pool = "premium_credits"
	PoolStandardCredits Pool = "standard_credits"
)

// Plan holds the per-tier defaults applied when a subscription is created
// or renewed.
type Plan struct {
	ID                   int     `json:"id"`
	Tier                 Tier    `json:"tier"`
	Name                 string  `json:"name"`
	Currency             string  `json:"currency"`
	Price                float64 `json:"price"`
	MessagesLimit        int     `json:"messages_limit"`
	PremiumMessagesLimit int     `json:"premium_messages_limit"`
	StripeProductID      string  `json:"stripe_product_id,omitempty"`
	StripePriceID        string  `json:"stripe_price_id,omitempty"`
}

// Subscription is the per-user accounting record, one row per user.
// Timestamps are epoch milliseconds; the billing period is
// [current_period_start, current_period_end). Purchased credits persist
// across period rollovers, the *_used counters do not.
type Subscription struct {
	UserID                int   `json:"user_id"`
	Tier                  Tier  `json:"tier"`
	MessagesUsed          int   `json:"messages_used"`
	MessagesLimit         int   `json:"messages_limit"`
	PremiumMessagesUsed   int   `json:"premium_messages_used"`
	PremiumMessagesLimit  int   `json:"premium_messages_limit"`
	MessageCredits        int   `json:"message_credits"`
	PremiumMessageCredits int   `json:"premium_message_credits"`
	CurrentPeriodStart    int64 `json:"current_period_start"`
	CurrentPeriodEnd      int64 `json:"current_period_end"`
	AutoRenew             bool  `json:"auto_renew"`
}

// PeriodCurrent reports whether the billing period covers now.
func (s *Subscription) PeriodCurrent(now time.Time) bool {
	return s.CurrentPeriodEnd > now.UnixMilli()
}

// HasCapacity reports whether any of the four pools could satisfy a
// deduction of amount.
func (s *Subscription) HasCapacity(amount int) bool {
	if s.MessagesUsed < s.MessagesLimit {
		return true
	}
	if s.PremiumMessagesUsed < s.PremiumMessagesLimit {
		return true
	}
	return s.PremiumMessageCredits >= amount || s.MessageCredits >= amount
}

// deduct consumes amount from the first pool with available capacity and
// reports which pool was charged. The subscription allowances (pools 1 and
// 2) are gated on "used < limit", not "used + amount <= limit": a pool
// with any remaining capacity absorbs the full amount, which can push the
// used counter past its limit. The mobile and web clients derive their
// projections from the same rule, so keep the boundary as is.
func (s *Subscription) deduct(amount int) (Pool, error) {
	switch {
	case s.MessagesUsed < s.MessagesLimit:
		s.MessagesUsed += amount
		return PoolStandard, nil
	case s.PremiumMessagesUsed < s.PremiumMessagesLimit:
		s.PremiumMessagesUsed += amount
		return PoolPremium, nil
	case s.PremiumMessageCredits >= amount:
		s.PremiumMessageCredits -= amount
		return PoolPremiumCredits, nil
	case s.MessageCredits >= amount:
		s.MessageCredits -= amount
		return PoolStandardCredits, nil
	}
	return "", ErrInsufficientCredits
}

// UsageRecord is an append-only audit entry, written once per successful
// deduction and never mutated afterwards.
type UsageRecord struct {
	ID            string    `json:"id"`
	UserID        int       `json:"user_id"`
	Model         string    `json:"model"`
	Amount        int       `json:"amount"`
	EstimatedCost float64   `json:"estimated_cost"`
	Date          int64     `json:"date"` // day-bucketed epoch millis
	CreatedAt     time.Time `json:"created_at"`
}
