// Package api is the gateway's REST side API. It lets a client fetch the
// friend requests it missed while offline.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/whisper/randomchat/internal/auth"
	"github.com/whisper/randomchat/internal/logger"
	"github.com/whisper/randomchat/internal/models"
	"github.com/whisper/randomchat/internal/store"
)

const userIDKey = "user_id"

// FriendRequests is the read side of friend request persistence.
type FriendRequests interface {
	ListPendingFor(ctx context.Context, userID string) ([]models.FriendRequest, error)
	Get(ctx context.Context, id string) (*models.FriendRequest, error)
}

// NewRouter builds the API engine. Every route requires a bearer token.
func NewRouter(verifier *auth.Verifier, requests FriendRequests, log *zap.Logger) *gin.Engine {
	log = logger.OrNop(log).Named("api")

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	h := &friendHandler{requests: requests, log: log}
	g := r.Group("/api", authRequired(verifier))
	g.GET("/friend-requests/pending", h.listPending)
	g.GET("/friend-requests/:id", h.get)
	return r
}

// authRequired verifies the bearer token and stores the subject as the
// caller's user id.
func authRequired(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := verifier.Verify(auth.TokenFromRequest(c.Request))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// requestLogger logs server errors and slow requests only.
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		cost := time.Since(start)
		status := c.Writer.Status()
		if status >= http.StatusInternalServerError || cost > 2*time.Second {
			log.Warn("slow request or server error",
				zap.Int("status", status),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("errors", c.Errors.ByType(gin.ErrorTypePrivate).String()),
				zap.Duration("cost", cost))
		}
	}
}

type friendHandler struct {
	requests FriendRequests
	log      *zap.Logger
}

// listPending returns the caller's pending requests, incoming and outgoing,
// newest first.
func (h *friendHandler) listPending(c *gin.Context) {
	userID := c.GetString(userIDKey)

	reqs, err := h.requests.ListPendingFor(c.Request.Context(), userID)
	if err != nil {
		h.log.Error("list pending friend requests failed", zap.String("user_id", userID), zap.Error(err))
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong"})
		return
	}

	incoming := make([]models.FriendRequest, 0, len(reqs))
	outgoing := make([]models.FriendRequest, 0, len(reqs))
	for _, r := range reqs {
		if r.To == userID {
			incoming = append(incoming, r)
		} else {
			outgoing = append(outgoing, r)
		}
	}
	c.JSON(http.StatusOK, gin.H{"incoming": incoming, "outgoing": outgoing})
}

// get returns one request. Requests of other users are reported as missing.
func (h *friendHandler) get(c *gin.Context) {
	userID := c.GetString(userIDKey)
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Friend request not found"})
		return
	}

	req, err := h.requests.Get(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !req.Involves(userID)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Friend request not found"})
		return
	}
	if err != nil {
		h.log.Error("get friend request failed", zap.String("request_id", id), zap.Error(err))
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong"})
		return
	}
	c.JSON(http.StatusOK, req)
}
