package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"anubis-backend/openai"
	"anubis-backend/subscriptions"
)

type mockAI struct {
	calls  int
	models []string
}

func (m *mockAI) StreamMessage(ctx context.Context, model, prompt string) (<-chan string, error) {
	m.calls++
	m.models = append(m.models, model)
	ch := make(chan string, 2)
	ch <- "hello "
	ch <- "world"
	close(ch)
	return ch, nil
}

type fakeGate struct {
	err   error
	calls int
}

func (g *fakeGate) DeductMessageCredits(ctx context.Context, userID, amount int, model string) (*subscriptions.Subscription, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return &subscriptions.Subscription{UserID: userID, MessagesUsed: 1, MessagesLimit: 10}, nil
}

type fakeStore struct {
	sub *subscriptions.Subscription
}

func (s *fakeStore) WithSubscription(ctx context.Context, userID int, fn func(*subscriptions.Subscription) (*subscriptions.UsageRecord, error)) (*subscriptions.Subscription, error) {
	if s.sub == nil {
		return nil, subscriptions.ErrNoSubscription
	}
	if _, err := fn(s.sub); err != nil {
		return nil, err
	}
	return s.sub, nil
}

func (s *fakeStore) Subscription(ctx context.Context, userID int) (*subscriptions.Subscription, error) {
	if s.sub == nil {
		return nil, subscriptions.ErrNoSubscription
	}
	return s.sub, nil
}

func activeSub(tier subscriptions.Tier) *subscriptions.Subscription {
	return &subscriptions.Subscription{
		UserID:               1,
		Tier:                 tier,
		MessagesLimit:        10,
		PremiumMessagesLimit: 5,
		CurrentPeriodEnd:     time.Now().Add(24 * time.Hour).UnixMilli(),
	}
}

func authed(c *gin.Context) (int, bool) { return 1, true }
func anon(c *gin.Context) (int, bool)   { return 0, false }

func setupRouter(ai AIClient, gate CreditGate, store subscriptions.Store, resolve UserResolver) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(ai, gate, store, resolve).RegisterRoutes(r)
	return r
}

func sendMessage(r *gin.Engine, body map[string]any) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/chat/message", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMessage_streamsTokens(t *testing.T) {
	ai := &mockAI{}
	gate := &fakeGate{}
	r := setupRouter(ai, gate, &fakeStore{sub: activeSub(subscriptions.TierPro)}, authed)

	w := sendMessage(r, map[string]any{"prompt": "hi"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if !strings.Contains(body, "data: hello") || !strings.Contains(body, "data: [DONE]") {
		t.Fatalf("unexpected SSE body: %q", body)
	}
	if gate.calls != 1 || ai.calls != 1 {
		t.Fatalf("gate calls=%d ai calls=%d, want 1/1", gate.calls, ai.calls)
	}
	if ai.models[0] != openai.ModelStandard {
		t.Fatalf("model = %s, want standard", ai.models[0])
	}
}

// A failed deduction must block the model call entirely.
func TestMessage_failsClosedOnInsufficientCredits(t *testing.T) {
	ai := &mockAI{}
	gate := &fakeGate{err: subscriptions.ErrInsufficientCredits}
	sub := activeSub(subscriptions.TierFree)
	sub.MessagesUsed = 10
	r := setupRouter(ai, gate, &fakeStore{sub: sub}, authed)

	w := sendMessage(r, map[string]any{"prompt": "hi"})
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", w.Code, w.Body.String())
	}
	if ai.calls != 0 {
		t.Fatalf("model was called despite a failed deduction")
	}
	var resp struct {
		Prompt subscriptions.UpgradePrompt `json:"upgrade_prompt"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if !resp.Prompt.ShouldShow {
		t.Fatalf("402 response should carry an upgrade prompt")
	}
}

func TestMessage_expiredSubscription(t *testing.T) {
	ai := &mockAI{}
	gate := &fakeGate{err: subscriptions.ErrSubscriptionExpired}
	r := setupRouter(ai, gate, &fakeStore{sub: activeSub(subscriptions.TierPro)}, authed)

	w := sendMessage(r, map[string]any{"prompt": "hi"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
	if ai.calls != 0 {
		t.Fatalf("model was called despite an expired subscription")
	}
}

func TestMessage_premiumModel(t *testing.T) {
	ai := &mockAI{}
	gate := &fakeGate{}
	r := setupRouter(ai, gate, &fakeStore{sub: activeSub(subscriptions.TierPro)}, authed)

	w := sendMessage(r, map[string]any{"prompt": "hi", "model": "premium"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ai.models[0] != openai.ModelPremium {
		t.Fatalf("model = %s, want premium", ai.models[0])
	}
}

// Free tier never reaches premium models, and no message is charged for
// the rejected attempt.
func TestMessage_premiumGateClosed(t *testing.T) {
	ai := &mockAI{}
	gate := &fakeGate{}
	r := setupRouter(ai, gate, &fakeStore{sub: activeSub(subscriptions.TierFree)}, authed)

	w := sendMessage(r, map[string]any{"prompt": "hi", "model": "premium"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
	if gate.calls != 0 || ai.calls != 0 {
		t.Fatalf("rejected premium request must not charge or call the model")
	}
}

func TestMessage_unauthorized(t *testing.T) {
	ai := &mockAI{}
	gate := &fakeGate{}
	r := setupRouter(ai, gate, &fakeStore{}, anon)

	w := sendMessage(r, map[string]any{"prompt": "hi"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if gate.calls != 0 || ai.calls != 0 {
		t.Fatalf("anonymous request must not charge or call the model")
	}
}

func TestMessage_emptyPrompt(t *testing.T) {
	gate := &fakeGate{}
	r := setupRouter(&mockAI{}, gate, &fakeStore{sub: activeSub(subscriptions.TierPro)}, authed)

	w := sendMessage(r, map[string]any{"prompt": "   "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if gate.calls != 0 {
		t.Fatalf("empty prompt must not be charged")
	}
}

func TestStart_returnsThreadID(t *testing.T) {
	r := setupRouter(&mockAI{}, &fakeGate{}, &fakeStore{}, authed)
	req := httptest.NewRequest(http.MethodPost, "/chat/start", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		ThreadID string `json:"thread_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.ThreadID == "" {
		t.Fatalf("missing thread_id")
	}
}
