package exports

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/bubbly-live/backend/internal/models"
	"github.com/bubbly-live/backend/internal/store"
)

// ErrNotFound means no export record exists for the requested id.
var ErrNotFound = errors.New("export not found")

// Status is the lifecycle state of an export job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Export is one transcript export request.
type Export struct {
	ID          string `json:"id"`
	SessionCode string `json:"sessionCode"`
	RequestedBy string `json:"requestedBy"`
	Status      Status `json:"status"`
	Key         string `json:"key,omitempty"`
	Error       string `json:"error,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
	CompletedAt int64  `json:"completedAt,omitempty"`
}

func exportPath(id string) string {
	return "exports/" + id
}

// Repository tracks export records through the shared store, so they live
// next to the rest of the room data and replicate the same way.
type Repository struct {
	store store.Store
	now   func() time.Time
}

// NewRepository creates an export repository. A nil now falls back to
// time.Now.
func NewRepository(st store.Store, now func() time.Time) *Repository {
	if now == nil {
		now = time.Now
	}
	return &Repository{store: st, now: now}
}

// Create records a new queued export and returns it.
func (r *Repository) Create(ctx context.Context, sessionCode, requestedBy string) (*Export, error) {
	exp := &Export{
		ID:          uuid.NewString(),
		SessionCode: sessionCode,
		RequestedBy: requestedBy,
		Status:      StatusQueued,
		CreatedAt:   r.now().UnixMilli(),
	}
	if err := r.store.Write(ctx, exportPath(exp.ID), exp); err != nil {
		return nil, fmt.Errorf("write export: %w", err)
	}
	return exp, nil
}

// Get returns the export record for id, or ErrNotFound.
func (r *Repository) Get(ctx context.Context, id string) (*Export, error) {
	raw, err := r.store.Read(ctx, exportPath(id))
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}
	m, ok := raw.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, ErrNotFound
	}
	return &Export{
		ID:          models.StringField(m, "id", id),
		SessionCode: models.StringField(m, "sessionCode", ""),
		RequestedBy: models.StringField(m, "requestedBy", ""),
		Status:      Status(models.StringField(m, "status", string(StatusQueued))),
		Key:         models.StringField(m, "key", ""),
		Error:       models.StringField(m, "error", ""),
		CreatedAt:   models.Int64Field(m, "createdAt", 0),
		CompletedAt: models.Int64Field(m, "completedAt", 0),
	}, nil
}

// List returns the exports requested for a session, newest first.
func (r *Repository) List(ctx context.Context, sessionCode string) ([]Export, error) {
	raw, err := r.store.Read(ctx, "exports")
	if err != nil {
		return nil, fmt.Errorf("read exports: %w", err)
	}
	record, ok := raw.(map[string]any)
	if !ok {
		return []Export{}, nil
	}
	out := make([]Export, 0, len(record))
	for id, value := range record {
		m, ok := value.(map[string]any)
		if !ok {
			continue
		}
		if models.StringField(m, "sessionCode", "") != sessionCode {
			continue
		}
		out = append(out, Export{
			ID:          models.StringField(m, "id", id),
			SessionCode: sessionCode,
			RequestedBy: models.StringField(m, "requestedBy", ""),
			Status:      Status(models.StringField(m, "status", string(StatusQueued))),
			Key:         models.StringField(m, "key", ""),
			Error:       models.StringField(m, "error", ""),
			CreatedAt:   models.Int64Field(m, "createdAt", 0),
			CompletedAt: models.Int64Field(m, "completedAt", 0),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// MarkProcessing flips a queued export to processing.
func (r *Repository) MarkProcessing(ctx context.Context, id string) error {
	return r.update(ctx, id, map[string]any{"status": string(StatusProcessing)})
}

// MarkCompleted records the uploaded object key.
func (r *Repository) MarkCompleted(ctx context.Context, id, key string) error {
	return r.update(ctx, id, map[string]any{
		"status":      string(StatusCompleted),
		"key":         key,
		"error":       nil,
		"completedAt": r.now().UnixMilli(),
	})
}

// MarkFailed records the terminal failure reason.
func (r *Repository) MarkFailed(ctx context.Context, id, reason string) error {
	return r.update(ctx, id, map[string]any{
		"status":      string(StatusFailed),
		"error":       reason,
		"completedAt": r.now().UnixMilli(),
	})
}

// Delete removes the export record.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if err := r.store.Remove(ctx, exportPath(id)); err != nil {
		return fmt.Errorf("delete export: %w", err)
	}
	return nil
}

func (r *Repository) update(ctx context.Context, id string, fields map[string]any) error {
	if err := r.store.Update(ctx, exportPath(id), fields); err != nil {
		return fmt.Errorf("update export: %w", err)
	}
	return nil
}
