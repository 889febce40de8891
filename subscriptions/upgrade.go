package subscriptions

// Urgency of an upgrade prompt.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// UpgradePrompt is the upsell suggestion shown when usage approaches the
// plan limits. ShouldShow false means no prompt.
type UpgradePrompt struct {
	ShouldShow    bool    `json:"should_show"`
	Urgency       Urgency `json:"urgency,omitempty"`
	SuggestedTier Tier    `json:"suggested_tier,omitempty"`
	Message       string  `json:"message,omitempty"`
}

// DeriveUpgradePrompt evaluates the upsell decision table top to bottom
// and returns the first matching rule. Pure; a nil subscription or a
// pro_plus account with nothing to upsell yields ShouldShow false.
func DeriveUpgradePrompt(sub *Subscription) UpgradePrompt {
	if sub == nil {
		return UpgradePrompt{}
	}
	next := TierProPlus
	if sub.Tier == TierFree {
		next = TierPro
	}
	standard := usageRatio(sub.MessagesUsed, sub.MessagesLimit)
	premium := usageRatio(sub.PremiumMessagesUsed, sub.PremiumMessagesLimit)

	switch {
	case standard >= 0.95:
		return UpgradePrompt{
			ShouldShow:    true,
			Urgency:       UrgencyHigh,
			SuggestedTier: next,
			Message:       "You've nearly used up this month's messages. Upgrade to keep chatting.",
		}
	case premium >= 0.90 && sub.Tier != TierProPlus:
		return UpgradePrompt{
			ShouldShow:    true,
			Urgency:       UrgencyHigh,
			SuggestedTier: TierProPlus,
			Message:       "You're almost out of premium model messages. Pro+ includes a larger allowance.",
		}
	case standard >= 0.75:
		return UpgradePrompt{
			ShouldShow:    true,
			Urgency:       UrgencyMedium,
			SuggestedTier: next,
			Message:       "You've used most of this month's messages. Upgrade for a higher limit.",
		}
	case sub.Tier == TierFree && standard >= 0.50:
		return UpgradePrompt{
			ShouldShow:    true,
			Urgency:       UrgencyLow,
			SuggestedTier: TierPro,
			Message:       "Enjoying Anubis? Pro unlocks more messages and premium models.",
		}
	}
	return UpgradePrompt{}
}

// usageRatio returns used/limit, or -1 when the limit is zero so the
// caller's threshold comparisons never match (rather than propagating
// NaN or Inf into the UI).
func usageRatio(used, limit int) float64 {
	if limit <= 0 {
		return -1
	}
	return float64(used) / float64(limit)
}
