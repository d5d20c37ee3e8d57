package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bubbly-live/backend/internal/viewerstate"
	"github.com/bubbly-live/backend/pkg/response"
)

// ViewerHandler exposes the anonymous viewer's own state: recent rooms,
// nickname and per-session reaction map.
type ViewerHandler struct {
	viewers *viewerstate.Service
	logger  *zap.Logger
}

// NewViewerHandler creates a viewer handler.
func NewViewerHandler(viewers *viewerstate.Service, logger *zap.Logger) *ViewerHandler {
	return &ViewerHandler{viewers: viewers, logger: logger}
}

func viewerID(c *gin.Context) (string, bool) {
	id := c.GetHeader("X-Viewer-ID")
	if id == "" {
		response.BadRequest(c, "X-Viewer-ID header required")
		return "", false
	}
	return id, true
}

// RecentRooms handles GET /viewers/me/rooms.
func (h *ViewerHandler) RecentRooms(c *gin.Context) {
	id, ok := viewerID(c)
	if !ok {
		return
	}
	rooms, err := h.viewers.RecentRooms(c.Request.Context(), id)
	if err != nil {
		response.Internal(c, "failed to load recent rooms")
		return
	}
	response.OK(c, rooms)
}

// Nickname handles GET /viewers/me/nickname, generating one on first call.
func (h *ViewerHandler) Nickname(c *gin.Context) {
	id, ok := viewerID(c)
	if !ok {
		return
	}
	name, err := h.viewers.Nickname(c.Request.Context(), id)
	if err != nil {
		response.Internal(c, "failed to load nickname")
		return
	}
	response.OK(c, gin.H{"nickname": name})
}

// Reactions handles GET /viewers/me/reactions/:code. The audience view
// needs this to paint already-liked questions after a reload.
func (h *ViewerHandler) Reactions(c *gin.Context) {
	id, ok := viewerID(c)
	if !ok {
		return
	}
	liked, err := h.viewers.Reactions(c.Request.Context(), id, c.Param("code"))
	if err != nil {
		response.Internal(c, "failed to load reactions")
		return
	}
	response.OK(c, liked)
}
