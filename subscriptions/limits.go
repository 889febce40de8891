package subscriptions

import "time"

// Limits is the UI-facing projection of a subscription's raw counters.
type Limits struct {
	MessagesRemaining         int  `json:"messages_remaining"`
	PremiumMessagesRemaining  int  `json:"premium_messages_remaining"`
	DaysUntilReset            int  `json:"days_until_reset"`
	CanSendMessage            bool `json:"can_send_message"`
	CanUsePremiumModel        bool `json:"can_use_premium_model"`
	CanUploadLargeFiles       bool `json:"can_upload_large_files"`
	CanAccessAdvancedFeatures bool `json:"can_access_advanced_features"`
	CanUseAPI                 bool `json:"can_use_api"`
}

// DeriveLimits projects the subscription counters into remaining counts
// and feature gates. Pure and total: a nil subscription yields the zero
// value. It is a view over now, not cached state; recompute on every read.
func DeriveLimits(sub *Subscription, now time.Time) Limits {
	if sub == nil {
		return Limits{}
	}
	remaining := sub.MessagesLimit - sub.MessagesUsed
	if remaining < 0 {
		remaining = 0
	}
	premiumRemaining := sub.PremiumMessagesLimit - sub.PremiumMessagesUsed
	if premiumRemaining < 0 {
		premiumRemaining = 0
	}
	days := 0
	if ms := sub.CurrentPeriodEnd - now.UnixMilli(); ms > 0 {
		days = int((ms + dayMillis - 1) / dayMillis)
	}
	proPlus := sub.Tier == TierProPlus
	return Limits{
		MessagesRemaining:         remaining,
		PremiumMessagesRemaining:  premiumRemaining,
		DaysUntilReset:            days,
		CanSendMessage:            remaining > 0,
		CanUsePremiumModel:        premiumRemaining > 0 && sub.Tier != TierFree,
		CanUploadLargeFiles:       proPlus,
		CanAccessAdvancedFeatures: proPlus,
		CanUseAPI:                 proPlus,
	}
}
