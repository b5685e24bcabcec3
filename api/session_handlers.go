package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/syncpad/syncpad/internal/slogging"
	"github.com/syncpad/syncpad/internal/uuidgen"
)

// defaultSessionListLimit caps the public session listing.
const defaultSessionListLimit = 50

// SessionHandlers serves the HTTP CRUD surface around sessions.
type SessionHandlers struct {
	store Store
	cache *CacheService
	stats *StatsAggregator
}

// NewSessionHandlers creates the handler set. cache may be nil.
func NewSessionHandlers(store Store, cache *CacheService, stats *StatsAggregator) *SessionHandlers {
	return &SessionHandlers{store: store, cache: cache, stats: stats}
}

// RegisterRoutes attaches the session API under the given router group.
func (h *SessionHandlers) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/sessions", h.CreateSession)
	group.GET("/sessions", h.ListSessions)
	group.GET("/sessions/:id", h.GetSession)
	group.GET("/sessions/code/:code", h.ResolveSessionCode)
	group.POST("/sessions/:id/join", h.JoinSession)
	group.GET("/stats", h.GetStats)
}

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	Title       string `json:"title" binding:"required"`
	Language    string `json:"language" binding:"required"`
	Description string `json:"description"`
	Code        string `json:"code"`
	IsPublic    bool   `json:"isPublic"`
}

// CreateSession creates a session owned by the caller, generating a
// unique join code.
func (h *SessionHandlers) CreateSession(c *gin.Context) {
	identity, ok := IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, Error{Error: "unauthorized", Message: "Authentication required"})
		return
	}

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Error{Error: "invalid_request", Message: "Title and language are required"})
		return
	}

	code, err := GenerateSessionCode(c.Request.Context(), h.store)
	if err != nil {
		slogging.Get().Error("Failed to generate session code: %v", err)
		c.JSON(http.StatusInternalServerError, Error{Error: "internal_error", Message: "Failed to create session"})
		return
	}

	now := time.Now().UTC()
	session := &Session{
		ID:           uuidgen.MustNewForEntity(uuidgen.EntityTypeSession).String(),
		Title:        req.Title,
		Language:     req.Language,
		Description:  req.Description,
		Code:         req.Code,
		CreatedBy:    identity.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
		Participants: []string{identity.ID},
		IsActive:     true,
		IsPublic:     req.IsPublic,
		SessionCode:  code,
	}

	if err := h.store.CreateSession(c.Request.Context(), session); err != nil {
		slogging.Get().Error("Failed to create session: %v", err)
		c.JSON(http.StatusInternalServerError, Error{Error: "internal_error", Message: "Failed to create session"})
		return
	}

	c.JSON(http.StatusCreated, session)
}

// GetSession fetches a session by id.
func (h *SessionHandlers) GetSession(c *gin.Context) {
	session, err := h.store.GetSession(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, Error{Error: "not_found", Message: "Session not found"})
		return
	}
	if err != nil {
		slogging.Get().Error("Failed to get session %s: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, Error{Error: "internal_error", Message: "Failed to get session"})
		return
	}
	c.JSON(http.StatusOK, session)
}

// ResolveSessionCode resolves a join code to its session.
func (h *SessionHandlers) ResolveSessionCode(c *gin.Context) {
	session, err := h.store.ResolveSessionCode(c.Request.Context(), c.Param("code"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, Error{Error: "not_found", Message: "No active session with that code"})
		return
	}
	if err != nil {
		slogging.Get().Error("Failed to resolve session code: %v", err)
		c.JSON(http.StatusInternalServerError, Error{Error: "internal_error", Message: "Failed to resolve session code"})
		return
	}
	c.JSON(http.StatusOK, session)
}

// ListSessions lists active public sessions, newest first.
func (h *SessionHandlers) ListSessions(c *gin.Context) {
	sessions, err := h.store.ListPublicSessions(c.Request.Context(), defaultSessionListLimit)
	if err != nil {
		slogging.Get().Error("Failed to list sessions: %v", err)
		c.JSON(http.StatusInternalServerError, Error{Error: "internal_error", Message: "Failed to list sessions"})
		return
	}
	if sessions == nil {
		sessions = []Session{}
	}
	c.JSON(http.StatusOK, sessions)
}

// JoinSession appends the caller to the session's participant set. The
// set is append-only: leaving a session never removes the record of
// having participated.
func (h *SessionHandlers) JoinSession(c *gin.Context) {
	identity, ok := IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, Error{Error: "unauthorized", Message: "Authentication required"})
		return
	}

	err := h.store.AddParticipant(c.Request.Context(), c.Param("id"), identity.ID)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, Error{Error: "not_found", Message: "Session not found"})
		return
	}
	if err != nil {
		slogging.Get().Error("Failed to join session %s: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, Error{Error: "internal_error", Message: "Failed to join session"})
		return
	}
	c.Status(http.StatusNoContent)
}

// GetStats returns the current platform stats, preferring the cache.
func (h *SessionHandlers) GetStats(c *gin.Context) {
	if h.cache != nil {
		if stats, err := h.cache.GetCachedGlobalStats(c.Request.Context()); err == nil && stats != nil {
			c.JSON(http.StatusOK, stats)
			return
		}
	}
	stats := h.stats.Current()
	c.JSON(http.StatusOK, stats)
}
