package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

// paymentStore is the persistence surface the payment flow writes
// through; implemented by Repository. The Apply* methods record the
// session id atomically with the mutation and report whether this call
// applied the purchase.
type paymentStore interface {
	GetPlanByID(ctx context.Context, id int) (*Plan, error)
	UpdatePlan(ctx context.Context, id int, p *Plan) error
	RenewSubscription(ctx context.Context, userID int, tier Tier) (*Subscription, error)
	ApplyCreditPurchase(ctx context.Context, sessionID string, userID, standard, premium int) (bool, error)
	ApplyPlanPurchase(ctx context.Context, sessionID string, userID int, tier Tier) (bool, error)
}

// StripeService creates checkout sessions for plan renewals and credit
// packs and applies the resulting payments. It is the "external payment
// process" writer: it renews periods and tops up credits, never touching
// the used counters the ledger owns. Disabled (nil) when
// STRIPE_SECRET_KEY is unset.
type StripeService struct {
	repo          paymentStore
	secretKey     string
	webhookSecret string
	successURL    string
	cancelURL     string
	sc            *client.API
	invalidKey    bool // once detected, short-circuit further remote calls
}

var ErrStripeInvalidAPIKey = errors.New("stripe_invalid_api_key")

// CreditPack is a one-off purchasable top-up. Credits persist across
// billing periods.
type CreditPack struct {
	Name           string
	Credits        int
	PremiumCredits int
	Price          float64 // USD
}

var creditPacks = map[string]CreditPack{
	"standard_500": {Name: "500 messages", Credits: 500, Price: 4.99},
	"premium_100":  {Name: "100 premium messages", PremiumCredits: 100, Price: 9.99},
}

func maskKey(k string) string {
	if len(k) < 12 {
		return "****"
	}
	return k[:7] + "..." + k[len(k)-4:]
}

// NewStripeFromEnv returns a configured service or nil when the secret
// key is missing.
func NewStripeFromEnv(repo *Repository) *StripeService {
	key := os.Getenv("STRIPE_SECRET_KEY")
	if key == "" {
		return nil
	}
	success := os.Getenv("STRIPE_SUCCESS_URL")
	if success == "" {
		success = "https://example.com/checkout/success"
	}
	cancel := os.Getenv("STRIPE_CANCEL_URL")
	if cancel == "" {
		cancel = "https://example.com/checkout/cancel"
	}
	sc := &client.API{}
	sc.Init(key, nil)
	return &StripeService{
		repo:          repo,
		secretKey:     key,
		webhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		successURL:    success,
		cancelURL:     cancel,
		sc:            sc,
	}
}

func (s *StripeService) keyError(stage string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && (se.HTTPStatusCode == 401 || strings.Contains(strings.ToLower(se.Msg), "invalid api key")) {
		log.Printf("[stripe][%s] invalid api key (%s): %v", stage, maskKey(s.secretKey), se)
		s.invalidKey = true
		return ErrStripeInvalidAPIKey
	}
	return err
}

// ensureProductAndPrice lazily creates the Stripe product/price pair for a
// plan, keeping old prices around for historic invoices when the amount
// changes.
func (s *StripeService) ensureProductAndPrice(ctx context.Context, p *Plan) error {
	if p.Price == 0 {
		return nil
	}
	if p.StripeProductID == "" {
		prod, err := s.sc.Products.New(&stripe.ProductParams{Name: stripe.String(p.Name)})
		if err != nil {
			return err
		}
		p.StripeProductID = prod.ID
	}
	desired := int64(p.Price * 100)
	if p.StripePriceID != "" {
		if pr, err := s.sc.Prices.Get(p.StripePriceID, nil); err == nil {
			if pr.UnitAmount != desired {
				p.StripePriceID = ""
			}
		} else {
			p.StripePriceID = ""
		}
	}
	if p.StripePriceID == "" {
		price, err := s.sc.Prices.New(&stripe.PriceParams{
			Product:    stripe.String(p.StripeProductID),
			Currency:   stripe.String(p.Currency),
			UnitAmount: stripe.Int64(desired),
			Recurring:  &stripe.PriceRecurringParams{Interval: stripe.String("month")},
		})
		if err != nil {
			return err
		}
		p.StripePriceID = price.ID
	}
	return nil
}

// CreatePlanCheckout returns a checkout URL and session id for a plan
// purchase. A free plan short-circuits to an immediate renewal.
func (s *StripeService) CreatePlanCheckout(ctx context.Context, userID, planID int) (string, string, error) {
	if s == nil {
		return "", "", errors.New("stripe not configured")
	}
	if s.invalidKey {
		return "", "", ErrStripeInvalidAPIKey
	}
	plan, err := s.repo.GetPlanByID(ctx, planID)
	if err != nil || plan == nil {
		return "", "", fmt.Errorf("invalid plan")
	}
	if plan.Price == 0 {
		if _, err := s.repo.RenewSubscription(ctx, userID, plan.Tier); err != nil {
			return "", "", err
		}
		return s.successURL, "", nil
	}
	if err := s.ensureProductAndPrice(ctx, plan); err != nil {
		return "", "", s.keyError("ensure", err)
	}
	if err := s.repo.UpdatePlan(ctx, plan.ID, plan); err != nil {
		// Checkout can proceed on the ids we hold in memory, but warn:
		// losing them means recreating products on the next checkout.
		log.Printf("[stripe][plans] could not persist stripe ids for plan %d: %v", plan.ID, err)
	}
	sess, err := s.sc.CheckoutSessions.New(&stripe.CheckoutSessionParams{
		SuccessURL: stripe.String(s.successURL),
		CancelURL:  stripe.String(s.cancelURL),
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(plan.StripePriceID),
			Quantity: stripe.Int64(1),
		}},
		Metadata: map[string]string{
			"kind":    "plan",
			"user_id": strconv.Itoa(userID),
			"plan_id": strconv.Itoa(planID),
		},
	})
	if err != nil {
		return "", "", s.keyError("checkout", err)
	}
	return sess.URL, sess.ID, nil
}

// CreateCreditCheckout returns a one-off payment session for a credit pack.
func (s *StripeService) CreateCreditCheckout(ctx context.Context, userID int, packID string) (string, string, error) {
	if s == nil {
		return "", "", errors.New("stripe not configured")
	}
	if s.invalidKey {
		return "", "", ErrStripeInvalidAPIKey
	}
	pack, ok := creditPacks[packID]
	if !ok {
		return "", "", fmt.Errorf("unknown credit pack %q", packID)
	}
	sess, err := s.sc.CheckoutSessions.New(&stripe.CheckoutSessionParams{
		SuccessURL: stripe.String(s.successURL),
		CancelURL:  stripe.String(s.cancelURL),
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String("usd"),
				UnitAmount: stripe.Int64(int64(pack.Price * 100)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(pack.Name),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		Metadata: map[string]string{
			"kind":            "credits",
			"user_id":         strconv.Itoa(userID),
			"credits":         strconv.Itoa(pack.Credits),
			"premium_credits": strconv.Itoa(pack.PremiumCredits),
		},
	})
	if err != nil {
		return "", "", s.keyError("checkout", err)
	}
	return sess.URL, sess.ID, nil
}

// applySession performs the paid-for mutation exactly once per session
// id. The store commits the session marker and the mutation together: a
// failed mutation leaves the session unprocessed, so Stripe's webhook
// retry (or the client's confirm call) gets a clean attempt instead of
// silently dropping the paid purchase.
func (s *StripeService) applySession(ctx context.Context, sessionID string, md map[string]string) error {
	userID, _ := strconv.Atoi(md["user_id"])
	if userID == 0 || sessionID == "" {
		return fmt.Errorf("incomplete metadata")
	}
	switch md["kind"] {
	case "credits":
		credits, _ := strconv.Atoi(md["credits"])
		premium, _ := strconv.Atoi(md["premium_credits"])
		if credits == 0 && premium == 0 {
			return fmt.Errorf("incomplete metadata")
		}
		applied, err := s.repo.ApplyCreditPurchase(ctx, sessionID, userID, credits, premium)
		if err != nil {
			return err
		}
		if applied {
			log.Printf("[stripe][credits] user_id=%d credits=%d premium=%d session=%s", userID, credits, premium, sessionID)
		}
		return nil
	default: // plan
		planID, _ := strconv.Atoi(md["plan_id"])
		if planID == 0 {
			return fmt.Errorf("incomplete metadata")
		}
		plan, err := s.repo.GetPlanByID(ctx, planID)
		if err != nil || plan == nil {
			return fmt.Errorf("invalid plan")
		}
		applied, err := s.repo.ApplyPlanPurchase(ctx, sessionID, userID, plan.Tier)
		if err != nil {
			return err
		}
		if applied {
			log.Printf("[stripe][renew] user_id=%d tier=%s session=%s", userID, plan.Tier, sessionID)
		}
		return nil
	}
}

// HandleWebhook consumes checkout.session.completed events and applies
// the purchase encoded in the session metadata.
func (s *StripeService) HandleWebhook(w http.ResponseWriter, r *http.Request) error {
	if s == nil {
		return errors.New("stripe not configured")
	}
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if s.webhookSecret != "" {
		sig := r.Header.Get("Stripe-Signature")
		if _, err := webhook.ConstructEvent(payload, sig, s.webhookSecret); err != nil {
			return fmt.Errorf("invalid signature: %w", err)
		}
	}
	var event struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID       string            `json:"id"`
				Metadata map[string]string `json:"metadata"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return err
	}
	if event.Type != "checkout.session.completed" {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ignored"))
		return nil
	}
	if err := s.applySession(r.Context(), event.Data.Object.ID, event.Data.Object.Metadata); err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
	return nil
}

// ConfirmSession queries Stripe directly and applies the session if it
// completed; idempotent with the webhook path. Returns whether this call
// applied the purchase.
func (s *StripeService) ConfirmSession(ctx context.Context, sessionID string) (bool, error) {
	if s == nil {
		return false, errors.New("stripe not configured")
	}
	if sessionID == "" {
		return false, errors.New("session_id required")
	}
	sess, err := s.sc.CheckoutSessions.Get(sessionID, nil)
	if err != nil {
		return false, s.keyError("confirm", err)
	}
	if sess.Status != stripe.CheckoutSessionStatusComplete {
		return false, nil
	}
	if err := s.applySession(ctx, sessionID, sess.Metadata); err != nil {
		return false, err
	}
	return true, nil
}
