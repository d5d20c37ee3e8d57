package live

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bubbly-live/backend/internal/models"
	"github.com/bubbly-live/backend/internal/sessions"
)

func sessionKey(code string) string {
	return "session:" + code
}

// SessionFeed keeps one session's metadata synchronized. The cached value is
// a *models.Session; nil means the session was deleted while watched.
type SessionFeed struct {
	code        string
	key         string
	repo        *sessions.Repository
	cache       *Cache
	logger      *zap.Logger
	cancelWatch func()
}

// OpenSession seeds the cache and attaches the metadata subscription. A
// missing session surfaces as sessions.ErrNotFound.
func OpenSession(ctx context.Context, code string, repo *sessions.Repository, cache *Cache, logger *zap.Logger) (*SessionFeed, error) {
	f := &SessionFeed{
		code:   code,
		key:    sessionKey(code),
		repo:   repo,
		cache:  cache,
		logger: logger,
	}
	session, err := repo.Fetch(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("seed session %s: %w", code, err)
	}
	f.cache.Replace(f.key, session)

	cancel, err := repo.Watch(code, func(session *models.Session) {
		f.cache.Replace(f.key, session)
	}, func(err error) {
		f.logger.Warn("session watch error, reconciling", zap.String("session", code), zap.Error(err))
		f.invalidate(f.cache.Begin(f.key))
	})
	if err != nil {
		return nil, fmt.Errorf("watch session %s: %w", code, err)
	}
	f.cancelWatch = cancel
	return f, nil
}

// Close detaches the subscription and discards the cached metadata.
func (f *SessionFeed) Close() {
	f.cancelWatch()
	f.cache.Drop(f.key)
}

// Current returns the latest synchronized metadata, nil once deleted.
func (f *SessionFeed) Current() *models.Session {
	v, ok := f.cache.Get(f.key)
	if !ok {
		return nil
	}
	session, _ := v.(*models.Session)
	return session
}

// Listen registers fn for every installed metadata value.
func (f *SessionFeed) Listen(fn func(*models.Session)) func() {
	return f.cache.Listen(f.key, func(v any) {
		session, _ := v.(*models.Session)
		fn(session)
	})
}

// End closes the session, optimistically flipping isActive and stamping the
// end time; the committed timestamp from the repository wins on reconcile.
func (f *SessionFeed) End(ctx context.Context) error {
	return f.mutate(ctx, func(s *models.Session) {
		s.IsActive = false
		s.EndedAt = time.Now().UnixMilli()
	}, func(ctx context.Context) error {
		_, err := f.repo.End(ctx, f.code)
		return err
	})
}

// Reactivate reopens an ended session.
func (f *SessionFeed) Reactivate(ctx context.Context) error {
	return f.mutate(ctx, func(s *models.Session) {
		s.IsActive = true
		s.EndedAt = 0
	}, func(ctx context.Context) error {
		_, err := f.repo.Reactivate(ctx, f.code)
		return err
	})
}

// ApplyUpdate edits the session's title or date window.
func (f *SessionFeed) ApplyUpdate(ctx context.Context, upd sessions.Update) error {
	return f.mutate(ctx, func(s *models.Session) {
		if upd.Title != nil {
			s.Title = *upd.Title
		}
		if upd.StartDate != nil {
			s.StartDate = *upd.StartDate
		}
		if upd.EndDate != nil {
			s.EndDate = *upd.EndDate
		}
	}, func(ctx context.Context) error {
		_, err := f.repo.ApplyUpdate(ctx, f.code, upd)
		return err
	})
}

// Delete removes the session and its questions. There is no optimistic
// apply; the caller tears the room down on success.
func (f *SessionFeed) Delete(ctx context.Context, hostUID string) error {
	return f.repo.Delete(ctx, f.code, hostUID)
}

func (f *SessionFeed) mutate(ctx context.Context, apply func(*models.Session), commit func(context.Context) error) error {
	gen := f.cache.Begin(f.key)
	prev, had := f.cache.Get(f.key)
	if had {
		if session, ok := prev.(*models.Session); ok && session != nil {
			next := *session
			apply(&next)
			f.cache.Replace(f.key, &next)
		}
	}

	err := commit(ctx)
	if err != nil && had {
		f.cache.Replace(f.key, prev)
	}
	f.invalidate(gen)
	return err
}

func (f *SessionFeed) invalidate(gen uint64) {
	session, err := f.repo.Fetch(context.Background(), f.code)
	if err != nil {
		f.logger.Warn("session refetch failed", zap.String("session", f.code), zap.Error(err))
		return
	}
	f.cache.ReplaceIfCurrent(f.key, gen, session)
}
