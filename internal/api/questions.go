package api

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bubbly-live/backend/internal/live"
	"github.com/bubbly-live/backend/internal/middleware"
	"github.com/bubbly-live/backend/internal/models"
	"github.com/bubbly-live/backend/internal/questions"
	"github.com/bubbly-live/backend/internal/ranking"
	"github.com/bubbly-live/backend/internal/sessions"
	"github.com/bubbly-live/backend/internal/viewerstate"
	"github.com/bubbly-live/backend/pkg/response"
)

// SubmitRequest is the body for POST /sessions/:code/questions.
type SubmitRequest struct {
	Content    string `json:"content" binding:"required"`
	AuthorName string `json:"author_name"`
}

// StatusRequest is the body for PATCH .../questions/:id/status.
type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// HighlightRequest is the body for POST .../questions/:id/highlight.
type HighlightRequest struct {
	Highlighted bool `json:"highlighted"`
}

// CommentRequest is the body for POST .../questions/:id/comments.
type CommentRequest struct {
	Content string `json:"content" binding:"required"`
}

// ModerationView groups a room's questions by status for the host console.
type ModerationView struct {
	Pending  []models.Question `json:"pending"`
	Approved []models.Question `json:"approved"`
	Archived []models.Question `json:"archived"`
}

// QuestionHandler handles question HTTP endpoints.
type QuestionHandler struct {
	repo     *questions.Repository
	sessions *sessions.Repository
	manager  *live.Manager
	viewers  *viewerstate.Service
	logger   *zap.Logger
}

// NewQuestionHandler creates a question handler.
func NewQuestionHandler(repo *questions.Repository, sessionRepo *sessions.Repository, manager *live.Manager, viewers *viewerstate.Service, logger *zap.Logger) *QuestionHandler {
	return &QuestionHandler{repo: repo, sessions: sessionRepo, manager: manager, viewers: viewers, logger: logger}
}

func (h *QuestionHandler) withRoom(c *gin.Context, fn func(room *live.Room) error) error {
	room, err := h.manager.Acquire(c.Request.Context(), c.Param("code"))
	if err != nil {
		return err
	}
	defer room.Release()
	return fn(room)
}

// List handles GET /sessions/:code/questions. Public: the audience list,
// approved questions ranked by ?order=latest|popular with the highlighted
// question pinned into its temporal slot.
func (h *QuestionHandler) List(c *gin.Context) {
	code := c.Param("code")
	if _, err := h.sessions.Fetch(c.Request.Context(), code); err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			response.NotFound(c, "session not found")
			return
		}
		response.Internal(c, "failed to load session")
		return
	}
	all, err := h.repo.Fetch(c.Request.Context(), code)
	if err != nil {
		response.Internal(c, "failed to load questions")
		return
	}
	order := ranking.ParseOrder(c.Query("order"))
	approved := ranking.Filter(all, models.StatusApproved)
	response.OK(c, ranking.Rank(approved, order))
}

// Moderation handles GET /sessions/:code/questions/moderation (owner only).
// Returns every question grouped by status, newest first within each group.
func (h *QuestionHandler) Moderation(c *gin.Context) {
	if _, ok := requireOwned(c, h.sessions); !ok {
		return
	}
	all, err := h.repo.Fetch(c.Request.Context(), c.Param("code"))
	if err != nil {
		response.Internal(c, "failed to load questions")
		return
	}
	response.OK(c, ModerationView{
		Pending:  ranking.Filter(all, models.StatusPending),
		Approved: ranking.Rank(ranking.Filter(all, models.StatusApproved), ranking.OrderLatest),
		Archived: ranking.Filter(all, models.StatusArchived),
	})
}

// Submit handles POST /sessions/:code/questions. Open to anyone while the
// session is active and inside its submission window; content is normalized
// and validated before any write.
func (h *QuestionHandler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	content := questions.NormalizeContent(req.Content)
	if err := questions.ValidateContent(content); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	session, err := h.sessions.Fetch(c.Request.Context(), c.Param("code"))
	if errors.Is(err, sessions.ErrNotFound) {
		response.NotFound(c, "session not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to load session")
		return
	}
	if !session.AcceptsQuestions(time.Now().UnixMilli()) {
		response.Forbidden(c, "session is not accepting questions")
		return
	}

	var created *models.Question
	err = h.withRoom(c, func(room *live.Room) error {
		var err error
		created, err = room.Questions.Submit(c.Request.Context(), models.QuestionPayload{
			Content:    content,
			AuthorName: req.AuthorName,
		})
		return err
	})
	if err != nil {
		h.logger.Error("submit question", zap.String("session", session.Code), zap.Error(err))
		response.Internal(c, "failed to submit question")
		return
	}
	response.Created(c, created)
}

// UpdateStatus handles PATCH .../questions/:id/status (owner only).
func (h *QuestionHandler) UpdateStatus(c *gin.Context) {
	if _, ok := requireOwned(c, h.sessions); !ok {
		return
	}
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	status := models.QuestionStatus(req.Status)
	err := h.withRoom(c, func(room *live.Room) error {
		return room.Questions.ChangeStatus(c.Request.Context(), c.Param("id"), status)
	})
	if errors.Is(err, questions.ErrInvalidStatus) {
		response.BadRequest(c, err.Error())
		return
	}
	if err != nil {
		response.Internal(c, "failed to update question")
		return
	}
	response.NoContent(c)
}

// Highlight handles POST .../questions/:id/highlight (owner only).
func (h *QuestionHandler) Highlight(c *gin.Context) {
	if _, ok := requireOwned(c, h.sessions); !ok {
		return
	}
	var req HighlightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	err := h.withRoom(c, func(room *live.Room) error {
		return room.Questions.ToggleHighlight(c.Request.Context(), c.Param("id"), req.Highlighted)
	})
	if err != nil {
		response.Internal(c, "failed to toggle highlight")
		return
	}
	response.NoContent(c)
}

// React handles POST .../questions/:id/react. Toggles the caller's like:
// the viewer map flips first, then the counter moves by the resulting
// delta; a failed counter write reverts the map so the two stay consistent.
func (h *QuestionHandler) React(c *gin.Context) {
	viewerID := c.GetHeader("X-Viewer-ID")
	if viewerID == "" {
		response.BadRequest(c, "X-Viewer-ID header required")
		return
	}
	code := c.Param("code")
	id := c.Param("id")

	delta, err := h.viewers.ToggleReaction(c.Request.Context(), viewerID, code, id)
	if err != nil {
		response.Internal(c, "failed to record reaction")
		return
	}
	err = h.withRoom(c, func(room *live.Room) error {
		return room.Questions.React(c.Request.Context(), id, delta)
	})
	if err != nil {
		if revertErr := h.viewers.ClearReaction(c.Request.Context(), viewerID, code, id, delta); revertErr != nil {
			h.logger.Error("revert reaction", zap.String("session", code), zap.Error(revertErr))
		}
		response.Internal(c, "failed to apply reaction")
		return
	}
	response.OK(c, gin.H{"liked": delta > 0})
}

// Comment handles POST .../questions/:id/comments (owner only). Host
// replies carry the host's display name.
func (h *QuestionHandler) Comment(c *gin.Context) {
	if _, ok := requireOwned(c, h.sessions); !ok {
		return
	}
	var req CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	author := c.GetString(middleware.ContextUserName)

	var created *models.Comment
	err := h.withRoom(c, func(room *live.Room) error {
		var err error
		created, err = room.Questions.Comment(c.Request.Context(), c.Param("id"), author, req.Content)
		return err
	})
	if err != nil {
		response.Internal(c, "failed to add comment")
		return
	}
	response.Created(c, created)
}

// Delete handles DELETE .../questions/:id (owner only).
func (h *QuestionHandler) Delete(c *gin.Context) {
	if _, ok := requireOwned(c, h.sessions); !ok {
		return
	}
	err := h.withRoom(c, func(room *live.Room) error {
		return room.Questions.Remove(c.Request.Context(), c.Param("id"))
	})
	if err != nil {
		response.Internal(c, "failed to delete question")
		return
	}
	response.NoContent(c)
}
