package live

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/bubbly-live/backend/internal/models"
	"github.com/bubbly-live/backend/internal/questions"
)

// questionsKey namespaces question entries in the shared cache.
func questionsKey(code string) string {
	return "questions:" + code
}

// QuestionFeed keeps one session's question list synchronized. It owns the
// single store subscription for the collection and funnels every mutation
// through the optimistic protocol so readers observe updates immediately and
// converge on authoritative state once writes settle.
type QuestionFeed struct {
	code        string
	key         string
	repo        *questions.Repository
	cache       *Cache
	logger      *zap.Logger
	cancelWatch func()
}

// OpenQuestions seeds the cache with a point read and attaches the
// collection subscription. Close releases both.
func OpenQuestions(ctx context.Context, code string, repo *questions.Repository, cache *Cache, logger *zap.Logger) (*QuestionFeed, error) {
	f := &QuestionFeed{
		code:   code,
		key:    questionsKey(code),
		repo:   repo,
		cache:  cache,
		logger: logger,
	}
	items, err := repo.Fetch(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("seed questions %s: %w", code, err)
	}
	f.cache.Replace(f.key, items)

	cancel, err := repo.Watch(code, func(items []models.Question) {
		f.cache.Replace(f.key, items)
	}, func(err error) {
		f.logger.Warn("question watch error, reconciling", zap.String("session", code), zap.Error(err))
		f.invalidate(f.cache.Begin(f.key))
	})
	if err != nil {
		return nil, fmt.Errorf("watch questions %s: %w", code, err)
	}
	f.cancelWatch = cancel
	return f, nil
}

// Close detaches the subscription and discards the cached list.
func (f *QuestionFeed) Close() {
	f.cancelWatch()
	f.cache.Drop(f.key)
}

// Current returns the latest synchronized question list. Callers must treat
// the slice as read-only; it is shared with every listener.
func (f *QuestionFeed) Current() []models.Question {
	v, ok := f.cache.Get(f.key)
	if !ok {
		return []models.Question{}
	}
	items, _ := v.([]models.Question)
	return items
}

// Listen registers fn for every installed question list.
func (f *QuestionFeed) Listen(fn func([]models.Question)) func() {
	return f.cache.Listen(f.key, func(v any) {
		if items, ok := v.([]models.Question); ok {
			fn(items)
		}
	})
}

// Submit writes a new question. The subscription delivers it; there is no
// optimistic apply because the submitter blocks on the write anyway.
func (f *QuestionFeed) Submit(ctx context.Context, payload models.QuestionPayload) (*models.Question, error) {
	created, err := f.repo.Submit(ctx, payload, f.code)
	if err != nil {
		return nil, err
	}
	f.invalidate(f.cache.Begin(f.key))
	return created, nil
}

// ChangeStatus moves a question between moderation states, optimistically.
func (f *QuestionFeed) ChangeStatus(ctx context.Context, id string, status models.QuestionStatus) error {
	return f.mutate(ctx, func(items []models.Question) []models.Question {
		for i := range items {
			if items[i].ID == id {
				items[i].Status = status
			}
		}
		return items
	}, func(ctx context.Context) error {
		return f.repo.UpdateStatus(ctx, id, status, f.code)
	})
}

// ToggleHighlight pins or unpins a question; pinning optimistically clears
// every other pin so the list never shows two.
func (f *QuestionFeed) ToggleHighlight(ctx context.Context, id string, highlighted bool) error {
	return f.mutate(ctx, func(items []models.Question) []models.Question {
		for i := range items {
			switch {
			case items[i].ID == id:
				items[i].Highlighted = highlighted
			case highlighted:
				items[i].Highlighted = false
			}
		}
		return items
	}, func(ctx context.Context) error {
		return f.repo.ToggleHighlight(ctx, id, highlighted, f.code)
	})
}

// React adjusts the like counter by delta. The optimistic value clamps at
// zero; the committed counter is adjusted atomically by the store.
func (f *QuestionFeed) React(ctx context.Context, id string, delta int64) error {
	return f.mutate(ctx, func(items []models.Question) []models.Question {
		for i := range items {
			if items[i].ID == id {
				items[i].Like += delta
				if items[i].Like < 0 {
					items[i].Like = 0
				}
			}
		}
		return items
	}, func(ctx context.Context) error {
		return f.repo.React(ctx, id, delta, f.code)
	})
}

// Comment appends a comment to a question and returns the created comment.
func (f *QuestionFeed) Comment(ctx context.Context, id, author, content string) (*models.Comment, error) {
	var created *models.Comment
	err := f.mutate(ctx, func(items []models.Question) []models.Question {
		return items
	}, func(ctx context.Context) error {
		var err error
		created, err = f.repo.AddComment(ctx, id, author, content, f.code)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Remove deletes a question, optimistically splicing it out of the list.
func (f *QuestionFeed) Remove(ctx context.Context, id string) error {
	return f.mutate(ctx, func(items []models.Question) []models.Question {
		out := items[:0]
		for _, q := range items {
			if q.ID != id {
				out = append(out, q)
			}
		}
		return out
	}, func(ctx context.Context) error {
		return f.repo.Delete(ctx, id, f.code)
	})
}

// mutate runs the three-phase protocol: begin (cancelling in-flight
// refetches), apply the optimistic value while remembering the prior one,
// commit, restore the prior value on failure, and reconcile with an
// authoritative refetch either way. The refetch result is installed only if
// no later mutation began in the meantime.
func (f *QuestionFeed) mutate(ctx context.Context, apply func([]models.Question) []models.Question, commit func(context.Context) error) error {
	gen := f.cache.Begin(f.key)
	prev, had := f.cache.Get(f.key)
	if had {
		if items, ok := prev.([]models.Question); ok {
			f.cache.Replace(f.key, apply(cloneQuestions(items)))
		}
	}

	err := commit(ctx)
	if err != nil && had {
		f.cache.Replace(f.key, prev)
	}
	f.invalidate(gen)
	return err
}

func (f *QuestionFeed) invalidate(gen uint64) {
	items, err := f.repo.Fetch(context.Background(), f.code)
	if err != nil {
		f.logger.Warn("question refetch failed", zap.String("session", f.code), zap.Error(err))
		return
	}
	f.cache.ReplaceIfCurrent(f.key, gen, items)
}

// cloneQuestions deep-copies a question list so optimistic edits never leak
// into the value listeners already hold.
func cloneQuestions(items []models.Question) []models.Question {
	out := make([]models.Question, len(items))
	copy(out, items)
	for i := range out {
		comments := make([]models.Comment, len(out[i].Comments))
		copy(comments, out[i].Comments)
		out[i].Comments = comments
	}
	return out
}
