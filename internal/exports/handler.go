package exports

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bubbly-live/backend/internal/middleware"
	"github.com/bubbly-live/backend/internal/sessions"
	"github.com/bubbly-live/backend/pkg/queue"
	"github.com/bubbly-live/backend/pkg/response"
	"github.com/bubbly-live/backend/pkg/storage"
)

// ExportView is the API shape of an export, with a download URL once the
// transcript is in S3.
type ExportView struct {
	Export
	DownloadURL string `json:"download_url,omitempty"`
}

// Handler handles transcript export HTTP endpoints.
type Handler struct {
	repo     *Repository
	sessions *sessions.Repository
	queue    *queue.Queue
	s3       *storage.S3
	logger   *zap.Logger
}

// NewHandler creates an export handler. s3 may be nil when exports are not
// configured; requests then fail with 503.
func NewHandler(repo *Repository, sessionRepo *sessions.Repository, q *queue.Queue, s3 *storage.S3, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, sessions: sessionRepo, queue: q, s3: s3, logger: logger}
}

func (h *Handler) requireOwned(c *gin.Context) (string, bool) {
	code := c.Param("code")
	session, err := h.sessions.Fetch(c.Request.Context(), code)
	if errors.Is(err, sessions.ErrNotFound) {
		response.NotFound(c, "session not found")
		return "", false
	}
	if err != nil {
		response.Internal(c, "failed to load session")
		return "", false
	}
	uid := c.MustGet(middleware.ContextUserID).(uuid.UUID).String()
	if session.HostUID != uid {
		response.Forbidden(c, "not your session")
		return "", false
	}
	return code, true
}

// Create handles POST /sessions/:code/exports (owner only). Queues the
// export and returns the record; poll Get until it completes.
func (h *Handler) Create(c *gin.Context) {
	if h.s3 == nil {
		response.ServiceUnavailable(c, "exports are not configured")
		return
	}
	code, ok := h.requireOwned(c)
	if !ok {
		return
	}
	uid := c.MustGet(middleware.ContextUserID).(uuid.UUID).String()

	exp, err := h.repo.Create(c.Request.Context(), code, uid)
	if err != nil {
		h.logger.Error("create export", zap.String("session", code), zap.Error(err))
		response.Internal(c, "failed to create export")
		return
	}
	err = h.queue.EnqueueTranscriptExport(c.Request.Context(), queue.TranscriptExportPayload{
		ExportID:    exp.ID,
		SessionCode: code,
		RequestedBy: uid,
	})
	if err != nil {
		h.logger.Error("enqueue export", zap.String("export_id", exp.ID), zap.Error(err))
		_ = h.repo.MarkFailed(c.Request.Context(), exp.ID, "enqueue failed")
		response.Internal(c, "failed to queue export")
		return
	}
	response.Created(c, ExportView{Export: *exp})
}

// List handles GET /sessions/:code/exports (owner only).
func (h *Handler) List(c *gin.Context) {
	code, ok := h.requireOwned(c)
	if !ok {
		return
	}
	exps, err := h.repo.List(c.Request.Context(), code)
	if err != nil {
		response.Internal(c, "failed to list exports")
		return
	}
	views := make([]ExportView, 0, len(exps))
	for _, exp := range exps {
		views = append(views, h.view(c, exp))
	}
	response.OK(c, views)
}

// ListDeadLetters handles GET /admin/exports/dlq (admin only). Surfaces
// jobs that exhausted their retries so someone can requeue or discard them.
func (h *Handler) ListDeadLetters(c *gin.Context) {
	jobs, err := h.queue.DeadLetters(c.Request.Context())
	if err != nil {
		response.Internal(c, "failed to read dead letter queue")
		return
	}
	response.OK(c, jobs)
}

// Get handles GET /sessions/:code/exports/:id (owner only).
func (h *Handler) Get(c *gin.Context) {
	code, ok := h.requireOwned(c)
	if !ok {
		return
	}
	exp, err := h.repo.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) || (err == nil && exp.SessionCode != code) {
		response.NotFound(c, "export not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to load export")
		return
	}

	response.OK(c, h.view(c, *exp))
}

// Delete handles DELETE /sessions/:code/exports/:id (owner only). Removes
// the record and, for completed exports, the uploaded object.
func (h *Handler) Delete(c *gin.Context) {
	code, ok := h.requireOwned(c)
	if !ok {
		return
	}
	exp, err := h.repo.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) || (err == nil && exp.SessionCode != code) {
		response.NotFound(c, "export not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to load export")
		return
	}
	if exp.Key != "" && h.s3 != nil {
		if err := h.s3.DeleteObject(c.Request.Context(), h.s3.ExportsBucket(), exp.Key); err != nil {
			h.logger.Warn("delete export object", zap.String("export_id", exp.ID), zap.Error(err))
		}
	}
	if err := h.repo.Delete(c.Request.Context(), exp.ID); err != nil {
		response.Internal(c, "failed to delete export")
		return
	}
	response.NoContent(c)
}

// view attaches a presigned download URL to completed exports.
func (h *Handler) view(c *gin.Context, exp Export) ExportView {
	view := ExportView{Export: exp}
	if exp.Status == StatusCompleted && exp.Key != "" && h.s3 != nil {
		url, err := h.s3.GeneratePresignedDownloadURL(c.Request.Context(), h.s3.ExportsBucket(), exp.Key, h.s3.PresignExpire())
		if err != nil {
			h.logger.Warn("presign export", zap.String("export_id", exp.ID), zap.Error(err))
		} else {
			view.DownloadURL = url
		}
	}
	return view
}
