package subscriptions

import "errors"

// Ledger failures. All are terminal for the single call; the chat-send
// flow translates them into a blocking upgrade state instead of retrying.
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrNoSubscription      = errors.New("no subscription")
	ErrSubscriptionExpired = errors.New("subscription expired")
	ErrInsufficientCredits = errors.New("insufficient credits")
)
