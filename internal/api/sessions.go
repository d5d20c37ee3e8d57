// Package api holds the HTTP handlers. They sit above the live layer so
// every mutation taken over REST flows through the same optimistic cache
// that websocket clients watch.
package api

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bubbly-live/backend/internal/live"
	"github.com/bubbly-live/backend/internal/middleware"
	"github.com/bubbly-live/backend/internal/models"
	"github.com/bubbly-live/backend/internal/sessions"
	"github.com/bubbly-live/backend/internal/viewerstate"
	"github.com/bubbly-live/backend/pkg/response"
)

// CreateRequest is the body for POST /sessions. Dates are ms epoch, the
// unit everything else in the room data uses.
type CreateRequest struct {
	Title     string `json:"title" binding:"required"`
	Code      string `json:"code"`
	StartDate int64  `json:"start_date"`
	EndDate   int64  `json:"end_date" binding:"required"`
}

// UpdateRequest is the body for PATCH /sessions/:code.
type UpdateRequest struct {
	Title     *string `json:"title"`
	StartDate *int64  `json:"start_date"`
	EndDate   *int64  `json:"end_date"`
}

// SessionHandler handles session HTTP endpoints.
type SessionHandler struct {
	repo    *sessions.Repository
	manager *live.Manager
	viewers *viewerstate.Service
	logger  *zap.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(repo *sessions.Repository, manager *live.Manager, viewers *viewerstate.Service, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{repo: repo, manager: manager, viewers: viewers, logger: logger}
}

func hostInfo(c *gin.Context) sessions.HostInfo {
	return sessions.HostInfo{
		UID:         c.MustGet(middleware.ContextUserID).(uuid.UUID).String(),
		DisplayName: c.GetString(middleware.ContextUserName),
		Email:       c.GetString(middleware.ContextUserEmail),
	}
}

// Create handles POST /sessions.
func (h *SessionHandler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	session, err := h.repo.Create(c.Request.Context(), hostInfo(c), req.Title, req.Code, req.StartDate, req.EndDate)
	switch {
	case errors.Is(err, sessions.ErrEmptyTitle), errors.Is(err, sessions.ErrInvalidDates), errors.Is(err, sessions.ErrInvalidCode):
		response.BadRequest(c, err.Error())
		return
	case err != nil:
		h.logger.Error("create session", zap.Error(err))
		response.Internal(c, "failed to create session")
		return
	}
	response.Created(c, session)
}

// Get handles GET /sessions/:code. Public: viewers resolve a room by its
// code before joining. Passing a viewer id records the visit.
func (h *SessionHandler) Get(c *gin.Context) {
	code := c.Param("code")
	session, err := h.repo.Fetch(c.Request.Context(), code)
	if errors.Is(err, sessions.ErrNotFound) {
		response.NotFound(c, "session not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to load session")
		return
	}

	if viewerID := c.GetHeader("X-Viewer-ID"); viewerID != "" {
		if err := h.viewers.RecordVisit(c.Request.Context(), viewerID, session.Code, session.Title); err != nil {
			h.logger.Warn("record visit", zap.String("session", code), zap.Error(err))
		}
	}
	response.OK(c, session)
}

// ListMine handles GET /sessions. Returns the authenticated host's rooms,
// newest first.
func (h *SessionHandler) ListMine(c *gin.Context) {
	uid := c.MustGet(middleware.ContextUserID).(uuid.UUID).String()
	list, err := h.repo.FetchHostSessions(c.Request.Context(), uid)
	if err != nil {
		response.Internal(c, "failed to list sessions")
		return
	}
	response.OK(c, list)
}

// requireOwned loads the session and verifies the caller owns it.
func requireOwned(c *gin.Context, repo *sessions.Repository) (*models.Session, bool) {
	code := c.Param("code")
	session, err := repo.Fetch(c.Request.Context(), code)
	if errors.Is(err, sessions.ErrNotFound) {
		response.NotFound(c, "session not found")
		return nil, false
	}
	if err != nil {
		response.Internal(c, "failed to load session")
		return nil, false
	}
	uid := c.MustGet(middleware.ContextUserID).(uuid.UUID).String()
	if session.HostUID != uid {
		response.Forbidden(c, "not your session")
		return nil, false
	}
	return session, true
}

// withRoom runs fn against the acquired room so mutations flow through the
// optimistic cache that websocket clients observe.
func (h *SessionHandler) withRoom(c *gin.Context, fn func(room *live.Room) error) error {
	room, err := h.manager.Acquire(c.Request.Context(), c.Param("code"))
	if err != nil {
		return err
	}
	defer room.Release()
	return fn(room)
}

// End handles POST /sessions/:code/end (owner only).
func (h *SessionHandler) End(c *gin.Context) {
	if _, ok := requireOwned(c, h.repo); !ok {
		return
	}
	err := h.withRoom(c, func(room *live.Room) error {
		return room.Session.End(c.Request.Context())
	})
	if err != nil {
		h.logger.Error("end session", zap.String("session", c.Param("code")), zap.Error(err))
		response.Internal(c, "failed to end session")
		return
	}
	response.NoContent(c)
}

// Reactivate handles POST /sessions/:code/reactivate (owner only).
func (h *SessionHandler) Reactivate(c *gin.Context) {
	if _, ok := requireOwned(c, h.repo); !ok {
		return
	}
	err := h.withRoom(c, func(room *live.Room) error {
		return room.Session.Reactivate(c.Request.Context())
	})
	if err != nil {
		response.Internal(c, "failed to reactivate session")
		return
	}
	response.NoContent(c)
}

// Update handles PATCH /sessions/:code (owner only).
func (h *SessionHandler) Update(c *gin.Context) {
	if _, ok := requireOwned(c, h.repo); !ok {
		return
	}
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	upd := sessions.Update{Title: req.Title, StartDate: req.StartDate, EndDate: req.EndDate}
	err := h.withRoom(c, func(room *live.Room) error {
		return room.Session.ApplyUpdate(c.Request.Context(), upd)
	})
	switch {
	case errors.Is(err, sessions.ErrEmptyTitle), errors.Is(err, sessions.ErrInvalidDates):
		response.BadRequest(c, err.Error())
		return
	case err != nil:
		response.Internal(c, "failed to update session")
		return
	}
	session, err := h.repo.Fetch(c.Request.Context(), c.Param("code"))
	if err != nil {
		response.Internal(c, "failed to load session")
		return
	}
	response.OK(c, session)
}

// Delete handles DELETE /sessions/:code (owner only). The room is dropped
// from the manager so open sockets see the deletion and detach.
func (h *SessionHandler) Delete(c *gin.Context) {
	session, ok := requireOwned(c, h.repo)
	if !ok {
		return
	}
	if err := h.repo.Delete(c.Request.Context(), session.Code, session.HostUID); err != nil {
		h.logger.Error("delete session", zap.String("session", session.Code), zap.Error(err))
		response.Internal(c, "failed to delete session")
		return
	}
	h.manager.Drop(session.Code)
	response.NoContent(c)
}
