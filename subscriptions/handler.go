package subscriptions

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// PlanStore is the plan-registry surface the handler needs; implemented
// by Repository.
type PlanStore interface {
	GetPlans(ctx context.Context) ([]Plan, error)
	GetPlanByID(ctx context.Context, id int) (*Plan, error)
	CreatePlan(ctx context.Context, p *Plan) error
	UpdatePlan(ctx context.Context, id int, p *Plan) error
	DeletePlan(ctx context.Context, id int) error
}

type Handler struct {
	ledger *Ledger
	store  Store
	plans  PlanStore
	stripe *StripeService
}

func NewHandler(ledger *Ledger, store Store, plans PlanStore, stripe *StripeService) *Handler {
	return &Handler{ledger: ledger, store: store, plans: plans, stripe: stripe}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/plans", h.getPlans)
	r.POST("/plans", h.createPlan)
	r.PUT("/plans/:id", h.updatePlan)
	r.DELETE("/plans/:id", h.deletePlan)

	r.GET("/subscriptions", h.getSubscription)
	r.POST("/subscriptions/deduct", h.deduct)
	r.GET("/subscriptions/check", h.check)
	r.GET("/subscriptions/limits", h.limits)
	r.GET("/subscriptions/upgrade-prompt", h.upgradePrompt)

	if h.stripe != nil {
		r.POST("/checkout", h.checkout)
		r.POST("/checkout/credits", h.checkoutCredits)
		r.POST("/stripe/webhook", h.webhook)
		r.GET("/confirm-session", h.confirmSession)
	}
}

func queryUserID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Query("user_id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return 0, false
	}
	return id, true
}

// deduct charges the ledger. Failures come back with the status the chat
// client keys its blocking UI off: 402 out of messages (with the upgrade
// prompt attached), 403 expired period, 404 unknown account.
func (h *Handler) deduct(c *gin.Context) {
	var body struct {
		UserID int    `json:"user_id"`
		Amount int    `json:"amount"`
		Model  string `json:"model"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.UserID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	sub, err := h.ledger.DeductMessageCredits(c.Request.Context(), body.UserID, body.Amount, body.Model)
	if err != nil {
		h.deductError(c, body.UserID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (h *Handler) deductError(c *gin.Context, userID int, err error) {
	switch {
	case errors.Is(err, ErrInsufficientCredits):
		resp := gin.H{"error": "insufficient_credits"}
		if sub, serr := h.store.Subscription(c.Request.Context(), userID); serr == nil {
			resp["upgrade_prompt"] = DeriveUpgradePrompt(sub)
		}
		c.JSON(http.StatusPaymentRequired, resp)
	case errors.Is(err, ErrSubscriptionExpired):
		c.JSON(http.StatusForbidden, gin.H{"error": "subscription_expired", "renew_url": "/checkout"})
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrNoSubscription):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *Handler) check(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}
	canSend, err := h.ledger.CheckMessageCredits(c.Request.Context(), userID)
	if err != nil {
		h.deductError(c, userID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"can_send": canSend})
}

func (h *Handler) getSubscription(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}
	sub, err := h.store.Subscription(c.Request.Context(), userID)
	if err != nil {
		h.deductError(c, userID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (h *Handler) limits(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}
	sub, err := h.store.Subscription(c.Request.Context(), userID)
	if err != nil && !errors.Is(err, ErrNoSubscription) {
		h.deductError(c, userID, err)
		return
	}
	// A missing subscription projects to the all-false zero value.
	c.JSON(http.StatusOK, gin.H{"data": DeriveLimits(sub, time.Now())})
}

func (h *Handler) upgradePrompt(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}
	sub, err := h.store.Subscription(c.Request.Context(), userID)
	if err != nil && !errors.Is(err, ErrNoSubscription) {
		h.deductError(c, userID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": DeriveUpgradePrompt(sub)})
}

func (h *Handler) getPlans(c *gin.Context) {
	plans, err := h.plans.GetPlans(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": plans})
}

func (h *Handler) createPlan(c *gin.Context) {
	var p Plan
	if err := c.ShouldBindJSON(&p); err != nil || !p.Tier.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid plan"})
		return
	}
	if err := h.plans.CreatePlan(c.Request.Context(), &p); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) updatePlan(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var p Plan
	if err := c.ShouldBindJSON(&p); err != nil || !p.Tier.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid plan"})
		return
	}
	if err := h.plans.UpdatePlan(c.Request.Context(), id, &p); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) deletePlan(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := h.plans.DeletePlan(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// checkout starts a Stripe session for a plan upgrade/renewal.
func (h *Handler) checkout(c *gin.Context) {
	var body struct {
		UserID int `json:"user_id"`
		PlanID int `json:"plan_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.UserID == 0 || body.PlanID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and plan_id required"})
		return
	}
	url, sessionID, err := h.stripe.CreatePlanCheckout(c.Request.Context(), body.UserID, body.PlanID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkout_url": url, "session_id": sessionID})
}

// checkoutCredits starts a Stripe session for a one-off credit pack.
func (h *Handler) checkoutCredits(c *gin.Context) {
	var body struct {
		UserID int    `json:"user_id"`
		Pack   string `json:"pack"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.UserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	url, sessionID, err := h.stripe.CreateCreditCheckout(c.Request.Context(), body.UserID, body.Pack)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkout_url": url, "session_id": sessionID})
}

func (h *Handler) webhook(c *gin.Context) {
	if err := h.stripe.HandleWebhook(c.Writer, c.Request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

func (h *Handler) confirmSession(c *gin.Context) {
	created, err := h.stripe.ConfirmSession(c.Request.Context(), c.Query("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"created": created})
}
