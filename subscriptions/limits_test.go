package subscriptions

import (
	"testing"
	"time"
)

func TestDeriveLimitsNil(t *testing.T) {
	if got := DeriveLimits(nil, testNow); got != (Limits{}) {
		t.Fatalf("nil subscription should project to the zero value, got %+v", got)
	}
}

func TestDeriveLimitsRemaining(t *testing.T) {
	sub := activeSub(func(s *Subscription) {
		s.MessagesUsed = 4
		s.PremiumMessagesLimit = 5
		s.PremiumMessagesUsed = 5
	})
	got := DeriveLimits(sub, testNow)
	if got.MessagesRemaining != 6 {
		t.Fatalf("messages_remaining = %d, want 6", got.MessagesRemaining)
	}
	if got.PremiumMessagesRemaining != 0 {
		t.Fatalf("premium_messages_remaining = %d, want 0", got.PremiumMessagesRemaining)
	}
	if !got.CanSendMessage {
		t.Fatalf("can_send_message should be true")
	}
}

// Remaining counts clamp at zero even when the boundary behavior pushed
// used past the limit.
func TestDeriveLimitsNeverNegative(t *testing.T) {
	sub := activeSub(func(s *Subscription) {
		s.MessagesUsed = 14 // over the limit of 10
		s.PremiumMessagesUsed = 3
	})
	got := DeriveLimits(sub, testNow)
	if got.MessagesRemaining != 0 || got.PremiumMessagesRemaining != 0 {
		t.Fatalf("remaining went negative: %+v", got)
	}
	if got.CanSendMessage {
		t.Fatalf("can_send_message should be false once exhausted")
	}
}

func TestDeriveLimitsDaysUntilReset(t *testing.T) {
	sub := activeSub(nil)

	sub.CurrentPeriodEnd = testNow.Add(36 * time.Hour).UnixMilli()
	if got := DeriveLimits(sub, testNow).DaysUntilReset; got != 2 {
		t.Fatalf("days_until_reset = %d, want 2 (ceil of 1.5 days)", got)
	}

	sub.CurrentPeriodEnd = testNow.Add(24 * time.Hour).UnixMilli()
	if got := DeriveLimits(sub, testNow).DaysUntilReset; got != 1 {
		t.Fatalf("days_until_reset = %d, want 1", got)
	}

	sub.CurrentPeriodEnd = testNow.Add(-time.Hour).UnixMilli()
	if got := DeriveLimits(sub, testNow).DaysUntilReset; got != 0 {
		t.Fatalf("days_until_reset = %d, want 0 for an expired period", got)
	}
}

func TestDeriveLimitsTierGates(t *testing.T) {
	base := func(tier Tier) *Subscription {
		return activeSub(func(s *Subscription) {
			s.Tier = tier
			s.PremiumMessagesLimit = 5
		})
	}

	free := DeriveLimits(base(TierFree), testNow)
	if free.CanUsePremiumModel {
		t.Fatalf("free tier must not reach premium models even with premium allowance")
	}
	if free.CanUploadLargeFiles || free.CanAccessAdvancedFeatures || free.CanUseAPI {
		t.Fatalf("free tier has pro_plus gates open: %+v", free)
	}

	pro := DeriveLimits(base(TierPro), testNow)
	if !pro.CanUsePremiumModel {
		t.Fatalf("pro tier with premium allowance should reach premium models")
	}
	if pro.CanUploadLargeFiles || pro.CanUseAPI {
		t.Fatalf("pro tier has pro_plus gates open: %+v", pro)
	}

	proPlus := DeriveLimits(base(TierProPlus), testNow)
	if !proPlus.CanUploadLargeFiles || !proPlus.CanAccessAdvancedFeatures || !proPlus.CanUseAPI {
		t.Fatalf("pro_plus gates should all be open: %+v", proPlus)
	}
}

// The projection is a pure view: same inputs, same output.
func TestDeriveLimitsIdempotent(t *testing.T) {
	sub := activeSub(func(s *Subscription) {
		s.MessagesUsed = 3
		s.PremiumMessagesLimit = 5
		s.PremiumMessagesUsed = 1
	})
	first := DeriveLimits(sub, testNow)
	second := DeriveLimits(sub, testNow)
	if first != second {
		t.Fatalf("projection not idempotent: %+v vs %+v", first, second)
	}
}
