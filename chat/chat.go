package chat

import (
	"context"
	"errors"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"anubis-backend/files"
	"anubis-backend/openai"
	"anubis-backend/sse"
	"anubis-backend/subscriptions"
)

// largeFileLimit is the upload size beyond which the pro_plus gate applies.
const largeFileLimit = 10 << 20

// CreditGate is the slice of the ledger the send flow needs. Every send
// must pass through it before the model is invoked; a failed deduction
// blocks the AI call entirely.
type CreditGate interface {
	DeductMessageCredits(ctx context.Context, userID, amount int, model string) (*subscriptions.Subscription, error)
}

// UserResolver turns a request into the authenticated user id.
type UserResolver func(c *gin.Context) (int, bool)

type Handler struct {
	ai      AIClient
	gate    CreditGate
	store   subscriptions.Store
	resolve UserResolver
}

func NewHandler(ai AIClient, gate CreditGate, store subscriptions.Store, resolve UserResolver) *Handler {
	return &Handler{ai: ai, gate: gate, store: store, resolve: resolve}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/chat/start", h.Start)
	r.POST("/chat/message", h.Message)
}

func (h *Handler) Start(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"thread_id": uuid.NewString()})
}

// Message handles a chat send: resolve the user, apply the tier gates,
// charge the ledger, then stream the model response as SSE tokens.
func (h *Handler) Message(c *gin.Context) {
	userID, ok := h.resolve(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}

	prompt, model, ok := h.buildRequest(c, userID)
	if !ok {
		return
	}
	if strings.TrimSpace(prompt) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt required"})
		return
	}

	if _, err := h.gate.DeductMessageCredits(c.Request.Context(), userID, 1, model); err != nil {
		h.failClosed(c, userID, err)
		return
	}

	ch, err := h.ai.StreamMessage(c.Request.Context(), model, prompt)
	if err != nil {
		// The message was charged but the model call failed; surface the
		// error instead of retrying (a retry would double-charge).
		log.Printf("[chat][error] user_id=%d model=%s err=%v", userID, model, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "model unavailable"})
		return
	}
	sse.Stream(c, ch)
}

// buildRequest extracts prompt and model from either a JSON body or a
// multipart form with an optional PDF attachment, applying the premium
// and large-file tier gates. ok=false means a response was written.
func (h *Handler) buildRequest(c *gin.Context, userID int) (prompt, model string, ok bool) {
	var requested string
	if strings.HasPrefix(c.GetHeader("Content-Type"), "multipart/form-data") {
		prompt = c.PostForm("prompt")
		requested = c.PostForm("model")
		if upload, err := c.FormFile("file"); err == nil && upload != nil {
			extract, attached := h.attachFile(c, userID, upload)
			if !attached {
				return "", "", false
			}
			if extract != "" {
				prompt = prompt + "\n\n---\nAttached document:\n" + extract
			}
		}
	} else {
		var body struct {
			Prompt string `json:"prompt"`
			Model  string `json:"model"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return "", "", false
		}
		prompt, requested = body.Prompt, body.Model
	}

	model = openai.ModelStandard
	if requested == "premium" {
		limits, ok := h.userLimits(c, userID)
		if !ok {
			return "", "", false
		}
		if !limits.CanUsePremiumModel {
			c.JSON(http.StatusForbidden, gin.H{"error": "premium_model_not_available"})
			return "", "", false
		}
		model = openai.ModelPremium
	}
	return prompt, model, true
}

// attachFile enforces the large-file gate, saves the upload to a temp
// path and extracts text from PDF attachments. ok=false means a response
// was written.
func (h *Handler) attachFile(c *gin.Context, userID int, upload *multipart.FileHeader) (extract string, ok bool) {
	if upload.Size > largeFileLimit {
		limits, ok := h.userLimits(c, userID)
		if !ok {
			return "", false
		}
		if !limits.CanUploadLargeFiles {
			c.JSON(http.StatusForbidden, gin.H{"error": "large_files_require_pro_plus"})
			return "", false
		}
	}
	ext := strings.ToLower(filepath.Ext(upload.Filename))
	if ext != ".pdf" {
		return "", true
	}
	tmp := filepath.Join(os.TempDir(), uuid.NewString()+ext)
	if err := c.SaveUploadedFile(upload, tmp); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store upload"})
		return "", false
	}
	defer os.Remove(tmp)
	info, err := files.InspectPDF(tmp, 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable pdf"})
		return "", false
	}
	log.Printf("[chat][pdf] user_id=%d pages=%d bytes=%d", userID, info.Pages, upload.Size)
	return info.Text, true
}

func (h *Handler) userLimits(c *gin.Context, userID int) (subscriptions.Limits, bool) {
	sub, err := h.store.Subscription(c.Request.Context(), userID)
	if err != nil && !errors.Is(err, subscriptions.ErrNoSubscription) {
		h.failClosed(c, userID, err)
		return subscriptions.Limits{}, false
	}
	return subscriptions.DeriveLimits(sub, time.Now()), true
}

// failClosed maps a ledger failure onto the blocking states the client
// renders: 402 with an upgrade prompt when the pools are exhausted, 403
// when the billing period lapsed, 404 for unknown accounts.
func (h *Handler) failClosed(c *gin.Context, userID int, err error) {
	switch {
	case errors.Is(err, subscriptions.ErrInsufficientCredits):
		resp := gin.H{"error": "insufficient_credits"}
		if sub, serr := h.store.Subscription(c.Request.Context(), userID); serr == nil {
			resp["upgrade_prompt"] = subscriptions.DeriveUpgradePrompt(sub)
		}
		c.JSON(http.StatusPaymentRequired, resp)
	case errors.Is(err, subscriptions.ErrSubscriptionExpired):
		c.JSON(http.StatusForbidden, gin.H{"error": "subscription_expired", "renew_url": "/checkout"})
	case errors.Is(err, subscriptions.ErrUserNotFound), errors.Is(err, subscriptions.ErrNoSubscription):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
