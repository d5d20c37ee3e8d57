package live

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/bubbly-live/backend/internal/models"
	"github.com/bubbly-live/backend/internal/sessions"
)

func hostSessionsKey(uid string) string {
	return "host-sessions:" + uid
}

// HostSessionsFeed keeps a host's dashboard session list synchronized. It is
// read-only; session mutations go through SessionFeed and reach this list
// via the subscription.
type HostSessionsFeed struct {
	uid         string
	key         string
	repo        *sessions.Repository
	cache       *Cache
	logger      *zap.Logger
	cancelWatch func()
}

// OpenHostSessions seeds the cache and attaches the dashboard subscription.
func OpenHostSessions(ctx context.Context, uid string, repo *sessions.Repository, cache *Cache, logger *zap.Logger) (*HostSessionsFeed, error) {
	f := &HostSessionsFeed{
		uid:    uid,
		key:    hostSessionsKey(uid),
		repo:   repo,
		cache:  cache,
		logger: logger,
	}
	items, err := repo.FetchHostSessions(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("seed host sessions %s: %w", uid, err)
	}
	f.cache.Replace(f.key, items)

	cancel, err := repo.WatchHostSessions(uid, func(items []models.Session) {
		f.cache.Replace(f.key, items)
	}, func(err error) {
		f.logger.Warn("host sessions watch error", zap.String("host", uid), zap.Error(err))
	})
	if err != nil {
		return nil, fmt.Errorf("watch host sessions %s: %w", uid, err)
	}
	f.cancelWatch = cancel
	return f, nil
}

// Close detaches the subscription and discards the cached list.
func (f *HostSessionsFeed) Close() {
	f.cancelWatch()
	f.cache.Drop(f.key)
}

// Current returns the latest synchronized session list, newest first.
func (f *HostSessionsFeed) Current() []models.Session {
	v, ok := f.cache.Get(f.key)
	if !ok {
		return []models.Session{}
	}
	items, _ := v.([]models.Session)
	return items
}

// Listen registers fn for every installed session list.
func (f *HostSessionsFeed) Listen(fn func([]models.Session)) func() {
	return f.cache.Listen(f.key, func(v any) {
		if items, ok := v.([]models.Session); ok {
			fn(items)
		}
	})
}
