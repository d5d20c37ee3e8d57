// Package questions implements submission, moderation, reactions and
// comments for the questions of a Q&A room, including the highlight toggle
// that keeps at most one approved question pinned per session.
package questions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/bubbly-live/backend/internal/models"
	"github.com/bubbly-live/backend/internal/sessions"
	"github.com/bubbly-live/backend/internal/store"
)

var (
	// ErrEmptyContent rejects a question that is blank after trimming.
	ErrEmptyContent = errors.New("question content must not be empty")
	// ErrContentTooLong rejects content above MaxContentLength runes.
	ErrContentTooLong = errors.New("question content too long")
	// ErrInvalidStatus rejects unknown status values.
	ErrInvalidStatus = errors.New("invalid question status")
)

// MaxContentLength bounds question content, enforced at the call boundary
// rather than by storage.
const MaxContentLength = 150

// AnonymousAuthor is the sentinel author name for unnamed submissions.
const AnonymousAuthor = "anonymous"

// CollectionPath returns the questions collection path of a session.
func CollectionPath(code string) string {
	return sessions.Path(code) + "/questions"
}

// QuestionPath returns the path of one question.
func QuestionPath(id, code string) string {
	return CollectionPath(code) + "/" + id
}

func commentsPath(id, code string) string {
	return QuestionPath(id, code) + "/comments"
}

// Repository composes store calls into question operations.
type Repository struct {
	store store.Store
	now   func() time.Time
}

// NewRepository creates a question repository. A nil now falls back to
// time.Now; tests inject a fixed clock.
func NewRepository(st store.Store, now func() time.Time) *Repository {
	if now == nil {
		now = time.Now
	}
	return &Repository{store: st, now: now}
}

// Fetch returns every question of the session, normalized and sorted by
// createdAt descending.
func (r *Repository) Fetch(ctx context.Context, code string) ([]models.Question, error) {
	raw, err := r.store.Read(ctx, CollectionPath(code))
	if err != nil {
		return nil, fmt.Errorf("read questions: %w", err)
	}
	return normalizeQuestions(raw, r.now), nil
}

// Watch subscribes to the session's question collection.
func (r *Repository) Watch(code string, handler func([]models.Question), onError func(error)) (func(), error) {
	return r.store.Watch(CollectionPath(code), func(v any) {
		handler(normalizeQuestions(v, r.now))
	}, onError)
}

// Submit writes a new pending question with zeroed counters and returns the
// created entity. Content validation is the caller's job; the repository
// stores what it is given.
func (r *Repository) Submit(ctx context.Context, payload models.QuestionPayload, code string) (*models.Question, error) {
	author := payload.AuthorName
	if author == "" {
		author = AnonymousAuthor
	}
	question := &models.Question{
		ID:         uuid.NewString(),
		Content:    payload.Content,
		AuthorName: author,
		Status:     models.StatusPending,
		Like:       0,
		Comments:   []models.Comment{},
		CreatedAt:  r.now().UnixMilli(),
	}
	if err := r.store.Write(ctx, QuestionPath(question.ID, code), question); err != nil {
		return nil, fmt.Errorf("write question: %w", err)
	}
	return question, nil
}

// UpdateStatus sets the moderation status. There is no server-side
// transition guard; the host surface only offers legal transitions.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status models.QuestionStatus, code string) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	if err := r.store.Update(ctx, QuestionPath(id, code), map[string]any{"status": string(status)}); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// ToggleHighlight pins or unpins a question. Pinning re-reads the session's
// questions, then clears every other approved highlighted question and sets
// the target in one multi-path batch, enforcing the at-most-one invariant
// without a storage constraint. Two hosts pinning concurrently can both
// read the same prior state and leave two questions highlighted until the
// next toggle; last write wins at the field level.
func (r *Repository) ToggleHighlight(ctx context.Context, id string, highlighted bool, code string) error {
	if !highlighted {
		if err := r.store.Update(ctx, QuestionPath(id, code), map[string]any{"highlighted": false}); err != nil {
			return fmt.Errorf("unhighlight question: %w", err)
		}
		return nil
	}

	all, err := r.Fetch(ctx, code)
	if err != nil {
		return err
	}
	updates := map[string]any{
		QuestionPath(id, code) + "/highlighted": true,
	}
	for _, q := range all {
		if q.ID != id && q.Status == models.StatusApproved && q.Highlighted {
			updates[QuestionPath(q.ID, code)+"/highlighted"] = false
		}
	}
	if err := r.store.Update(ctx, "", updates); err != nil {
		return fmt.Errorf("highlight question: %w", err)
	}
	return nil
}

// React adjusts the like counter by delta via the store's atomic increment;
// the current value is never read client-side for the write.
func (r *Repository) React(ctx context.Context, id string, delta int64, code string) error {
	if err := r.store.Update(ctx, QuestionPath(id, code), map[string]any{"like": store.Increment(delta)}); err != nil {
		return fmt.Errorf("react: %w", err)
	}
	return nil
}

// AddComment appends a comment under the question and returns it.
func (r *Repository) AddComment(ctx context.Context, id string, author, content, code string) (*models.Comment, error) {
	if author == "" {
		author = AnonymousAuthor
	}
	comment := &models.Comment{
		ID:        uuid.NewString(),
		Author:    author,
		Content:   content,
		CreatedAt: r.now().UnixMilli(),
	}
	if _, err := r.store.Push(ctx, commentsPath(id, code), comment); err != nil {
		return nil, fmt.Errorf("add comment: %w", err)
	}
	return comment, nil
}

// Delete removes the question subtree.
func (r *Repository) Delete(ctx context.Context, id, code string) error {
	if err := r.store.Remove(ctx, QuestionPath(id, code)); err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	return nil
}

// normalizeQuestions decodes the raw questions collection defensively:
// missing fields default, the like counter may live at "like" or at the
// legacy "reaction/like" location, comments may be an object-of-objects or
// a legacy array, and unknown shapes degrade to empty rather than failing.
func normalizeQuestions(raw any, now func() time.Time) []models.Question {
	record, ok := raw.(map[string]any)
	if !ok {
		return []models.Question{}
	}
	out := make([]models.Question, 0, len(record))
	for id, value := range record {
		m, ok := value.(map[string]any)
		if !ok {
			continue
		}
		status := models.QuestionStatus(models.StringField(m, "status", string(models.StatusPending)))
		if !status.Valid() {
			status = models.StatusPending
		}
		like := models.Int64Field(m, "like", -1)
		if like < 0 {
			like = 0
			if reaction, ok := m["reaction"].(map[string]any); ok {
				like = models.Int64Field(reaction, "like", 0)
			}
		}
		out = append(out, models.Question{
			ID:          id,
			Content:     models.StringField(m, "content", ""),
			AuthorName:  models.StringField(m, "authorName", AnonymousAuthor),
			Status:      status,
			CreatedAt:   models.Int64Field(m, "createdAt", now().UnixMilli()),
			Like:        like,
			Comments:    normalizeComments(m["comments"]),
			Highlighted: models.BoolField(m, "highlighted"),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// normalizeComments accepts an object-of-objects or a legacy array shape;
// anything else yields an empty list. Comments sort oldest first.
func normalizeComments(raw any) []models.Comment {
	var nodes []any
	switch v := raw.(type) {
	case map[string]any:
		nodes = make([]any, 0, len(v))
		for _, child := range v {
			nodes = append(nodes, child)
		}
	case []any:
		nodes = v
	default:
		return []models.Comment{}
	}
	out := make([]models.Comment, 0, len(nodes))
	for _, node := range nodes {
		m, ok := node.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, models.Comment{
			ID:        models.StringField(m, "id", ""),
			Author:    models.StringField(m, "author", AnonymousAuthor),
			Content:   models.StringField(m, "content", ""),
			CreatedAt: models.Int64Field(m, "createdAt", 0),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}
