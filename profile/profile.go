package profile

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"anubis-backend/login"
	"anubis-backend/migrations"
	"anubis-backend/subscriptions"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	store subscriptions.Store
	usage *subscriptions.Repository
}

func NewHandler(store subscriptions.Store, usage *subscriptions.Repository) *Handler {
	return &Handler{store: store, usage: usage}
}

// RegisterRoutes registers profile endpoints
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/user-detail/:id", h.getProfile)
	r.POST("/user-detail/:id", h.updateProfile)
	// Aggregated overview to reduce sequential fetches on app start.
	r.GET("/user-overview/:id", h.getOverview)
}

// requestUser authorizes the path id against the session token; admins
// may read any profile.
func requestUser(c *gin.Context) (*migrations.User, bool) {
	user := login.UserFromRequest(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return nil, false
	}
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return nil, false
	}
	if user.ID != id && user.Role != "super_admin" {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return nil, false
	}
	if user.ID != id {
		user = migrations.GetUserByID(id)
		if user == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return nil, false
		}
	}
	return user, true
}

func userJSON(u *migrations.User) gin.H {
	return gin.H{
		"id":         u.ID,
		"email":      u.Email,
		"first_name": u.FirstName,
		"last_name":  u.LastName,
		"role":       u.Role,
	}
}

func (h *Handler) getProfile(c *gin.Context) {
	user, ok := requestUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": userJSON(user)})
}

func (h *Handler) updateProfile(c *gin.Context) {
	user, ok := requestUser(c)
	if !ok {
		return
	}
	var body struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := migrations.UpdateUserProfile(user.ID, body.FirstName, body.LastName); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// getOverview returns the profile together with the subscription record,
// the derived limits and the current upgrade prompt in one response.
func (h *Handler) getOverview(c *gin.Context) {
	user, ok := requestUser(c)
	if !ok {
		return
	}
	resp := gin.H{"user": userJSON(user)}

	sub, err := h.store.Subscription(c.Request.Context(), user.ID)
	if err != nil && !errors.Is(err, subscriptions.ErrNoSubscription) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	resp["subscription"] = sub // null when the user has none
	resp["limits"] = subscriptions.DeriveLimits(sub, time.Now())
	resp["upgrade_prompt"] = subscriptions.DeriveUpgradePrompt(sub)

	if h.usage != nil {
		if records, err := h.usage.RecentUsage(c.Request.Context(), user.ID, 30); err == nil {
			resp["recent_usage"] = records
		}
	}
	c.JSON(http.StatusOK, resp)
}
