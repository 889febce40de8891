package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakePayments honors the Repository contract: the session marker and the
// purchase mutation commit together, so a failed mutation leaves the
// session unprocessed.
type fakePayments struct {
	plans     map[int]*Plan
	processed map[string]bool
	failNext  error

	credits int
	premium int
	renewed []Tier
}

func newFakePayments(plans ...*Plan) *fakePayments {
	f := &fakePayments{plans: map[int]*Plan{}, processed: map[string]bool{}}
	for _, p := range plans {
		f.plans[p.ID] = p
	}
	return f
}

func (f *fakePayments) GetPlanByID(ctx context.Context, id int) (*Plan, error) {
	return f.plans[id], nil
}

func (f *fakePayments) UpdatePlan(ctx context.Context, id int, p *Plan) error { return nil }

func (f *fakePayments) RenewSubscription(ctx context.Context, userID int, tier Tier) (*Subscription, error) {
	f.renewed = append(f.renewed, tier)
	return &Subscription{UserID: userID, Tier: tier}, nil
}

func (f *fakePayments) applyOnce(sessionID string, mutate func()) (bool, error) {
	if f.processed[sessionID] {
		return false, nil
	}
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return false, err
	}
	mutate()
	f.processed[sessionID] = true
	return true, nil
}

func (f *fakePayments) ApplyCreditPurchase(ctx context.Context, sessionID string, userID, standard, premium int) (bool, error) {
	return f.applyOnce(sessionID, func() {
		f.credits += standard
		f.premium += premium
	})
}

func (f *fakePayments) ApplyPlanPurchase(ctx context.Context, sessionID string, userID int, tier Tier) (bool, error) {
	return f.applyOnce(sessionID, func() {
		f.renewed = append(f.renewed, tier)
	})
}

func checkoutCompleted(sessionID string, md map[string]string) []byte {
	b, _ := json.Marshal(map[string]any{
		"type": "checkout.session.completed",
		"data": map[string]any{
			"object": map[string]any{
				"id":       sessionID,
				"metadata": md,
			},
		},
	})
	return b
}

func postWebhook(t *testing.T, s *StripeService, payload []byte) (*httptest.ResponseRecorder, error) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/stripe/webhook", strings.NewReader(string(payload)))
	w := httptest.NewRecorder()
	return w, s.HandleWebhook(w, req)
}

func TestWebhookAppliesCreditPurchase(t *testing.T) {
	store := newFakePayments()
	s := &StripeService{repo: store}

	payload := checkoutCompleted("cs_1", map[string]string{
		"kind": "credits", "user_id": "1", "credits": "500", "premium_credits": "0",
	})
	if _, err := postWebhook(t, s, payload); err != nil {
		t.Fatalf("webhook failed: %v", err)
	}
	if store.credits != 500 || store.premium != 0 {
		t.Fatalf("credits=%d premium=%d, want 500/0", store.credits, store.premium)
	}

	// Redelivery of an applied session must not top up again.
	if _, err := postWebhook(t, s, payload); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if store.credits != 500 {
		t.Fatalf("redelivery double-applied: credits=%d", store.credits)
	}
}

// A transient store failure must leave the session unprocessed so the
// webhook retry still applies the paid purchase.
func TestWebhookRetryAfterStoreFailure(t *testing.T) {
	store := newFakePayments()
	store.failNext = errors.New("connection reset")
	s := &StripeService{repo: store}

	payload := checkoutCompleted("cs_2", map[string]string{
		"kind": "credits", "user_id": "1", "credits": "100",
	})
	if _, err := postWebhook(t, s, payload); err == nil {
		t.Fatalf("expected the first delivery to fail")
	}
	if store.credits != 0 || store.processed["cs_2"] {
		t.Fatalf("failed delivery must not mark the session: credits=%d processed=%v", store.credits, store.processed["cs_2"])
	}

	if _, err := postWebhook(t, s, payload); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if store.credits != 100 {
		t.Fatalf("retry did not apply the purchase: credits=%d", store.credits)
	}
}

func TestWebhookAppliesPlanPurchase(t *testing.T) {
	store := newFakePayments(&Plan{ID: 3, Tier: TierPro, Name: "Pro"})
	s := &StripeService{repo: store}

	payload := checkoutCompleted("cs_3", map[string]string{
		"kind": "plan", "user_id": "1", "plan_id": "3",
	})
	if _, err := postWebhook(t, s, payload); err != nil {
		t.Fatalf("webhook failed: %v", err)
	}
	if len(store.renewed) != 1 || store.renewed[0] != TierPro {
		t.Fatalf("unexpected renewals: %v", store.renewed)
	}
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	store := newFakePayments()
	s := &StripeService{repo: store}

	b, _ := json.Marshal(map[string]any{"type": "invoice.paid"})
	w, err := postWebhook(t, s, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Code != http.StatusOK || store.credits != 0 {
		t.Fatalf("event should be acknowledged and ignored: code=%d credits=%d", w.Code, store.credits)
	}
}

func TestWebhookRejectsIncompleteMetadata(t *testing.T) {
	store := newFakePayments()
	s := &StripeService{repo: store}

	cases := []map[string]string{
		{"kind": "credits", "credits": "100"},             // no user
		{"kind": "credits", "user_id": "1"},               // no amounts
		{"kind": "plan", "user_id": "1"},                  // no plan
		{"kind": "plan", "user_id": "1", "plan_id": "99"}, // unknown plan
	}
	for _, md := range cases {
		if _, err := postWebhook(t, s, checkoutCompleted("cs_bad", md)); err == nil {
			t.Fatalf("metadata %v should be rejected", md)
		}
	}
	if store.credits != 0 || len(store.renewed) != 0 {
		t.Fatalf("rejected sessions mutated the store")
	}
}
