package live

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/bubbly-live/backend/internal/models"
	"github.com/bubbly-live/backend/internal/questions"
	"github.com/bubbly-live/backend/internal/sessions"
	"github.com/bubbly-live/backend/internal/store"
)

type env struct {
	store     *flakyStore
	sessions  *sessions.Repository
	questions *questions.Repository
	cache     *Cache
	manager   *Manager
}

// flakyStore passes through to a memory store until failWrites is set, then
// rejects every mutation. Reads and watches keep working so rollback and
// reconcile paths stay exercisable.
type flakyStore struct {
	store.Store

	mu         sync.Mutex
	failWrites bool
}

var errInjected = errors.New("injected write failure")

func (f *flakyStore) failing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failWrites
}

func (f *flakyStore) setFailing(v bool) {
	f.mu.Lock()
	f.failWrites = v
	f.mu.Unlock()
}

func (f *flakyStore) Write(ctx context.Context, path string, value any) error {
	if f.failing() {
		return errInjected
	}
	return f.Store.Write(ctx, path, value)
}

func (f *flakyStore) Update(ctx context.Context, path string, fields map[string]any) error {
	if f.failing() {
		return errInjected
	}
	return f.Store.Update(ctx, path, fields)
}

func (f *flakyStore) Remove(ctx context.Context, path string) error {
	if f.failing() {
		return errInjected
	}
	return f.Store.Remove(ctx, path)
}

func testClock() func() time.Time {
	var mu sync.Mutex
	at := time.UnixMilli(1_700_000_000_000)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		at = at.Add(time.Second)
		return at
	}
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := &flakyStore{Store: store.NewMemory()}
	clock := testClock()
	cache := NewCache()
	sessionRepo := sessions.NewRepository(st, clock)
	questionRepo := questions.NewRepository(st, clock)
	return &env{
		store:     st,
		sessions:  sessionRepo,
		questions: questionRepo,
		cache:     cache,
		manager:   NewManager(cache, sessionRepo, questionRepo, zap.NewNop()),
	}
}

func (e *env) createSession(t *testing.T, code string) *models.Session {
	t.Helper()
	host := sessions.HostInfo{UID: "host-1", DisplayName: "Dana", Email: "dana@example.com"}
	session, err := e.sessions.Create(context.Background(), host, "Town hall", code, 0, 1_800_000_000_000)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func (e *env) submit(t *testing.T, feed *QuestionFeed, content string) *models.Question {
	t.Helper()
	q, err := feed.Submit(context.Background(), models.QuestionPayload{Content: content, AuthorName: "alex"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return q
}

func TestQuestionFeedFollowsRemoteWrites(t *testing.T) {
	e := newEnv(t)
	session := e.createSession(t, "")
	feed, err := OpenQuestions(context.Background(), session.Code, e.questions, e.cache, zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer feed.Close()

	if got := feed.Current(); len(got) != 0 {
		t.Fatalf("seed list = %v, want empty", got)
	}

	// A write outside the feed arrives through the subscription.
	created, err := e.questions.Submit(context.Background(), models.QuestionPayload{Content: "hello"}, session.Code)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	got := feed.Current()
	if len(got) != 1 || got[0].ID != created.ID {
		t.Fatalf("after remote write Current = %v", got)
	}
}

func TestQuestionFeedMutationsConverge(t *testing.T) {
	e := newEnv(t)
	session := e.createSession(t, "")
	ctx := context.Background()
	feed, err := OpenQuestions(ctx, session.Code, e.questions, e.cache, zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer feed.Close()

	q1 := e.submit(t, feed, "first question")
	q2 := e.submit(t, feed, "second question")

	if err := feed.ChangeStatus(ctx, q1.ID, models.StatusApproved); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := feed.ChangeStatus(ctx, q2.ID, models.StatusApproved); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := feed.ToggleHighlight(ctx, q1.ID, true); err != nil {
		t.Fatalf("highlight: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := feed.React(ctx, q2.ID, 1); err != nil {
			t.Fatalf("react: %v", err)
		}
	}
	if err := feed.React(ctx, q2.ID, -1); err != nil {
		t.Fatalf("unreact: %v", err)
	}
	if _, err := feed.Comment(ctx, q1.ID, "sam", "great point"); err != nil {
		t.Fatalf("comment: %v", err)
	}

	settled, err := e.questions.Fetch(ctx, session.Code)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got := feed.Current(); !reflect.DeepEqual(got, settled) {
		t.Fatalf("cache diverged from store:\ncache: %+v\nstore: %+v", got, settled)
	}
	for _, q := range settled {
		if q.ID == q2.ID && q.Like != 2 {
			t.Fatalf("like = %d, want 2", q.Like)
		}
	}
}

func TestQuestionFeedRollsBackFailedMutation(t *testing.T) {
	e := newEnv(t)
	session := e.createSession(t, "")
	ctx := context.Background()
	feed, err := OpenQuestions(ctx, session.Code, e.questions, e.cache, zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer feed.Close()
	q := e.submit(t, feed, "does this roll back")

	var likes []int64
	cancel := feed.Listen(func(items []models.Question) {
		for _, item := range items {
			if item.ID == q.ID {
				likes = append(likes, item.Like)
			}
		}
	})
	defer cancel()

	e.store.setFailing(true)
	if err := feed.React(ctx, q.ID, 1); !errors.Is(err, errInjected) {
		t.Fatalf("React error = %v, want injected failure", err)
	}
	e.store.setFailing(false)

	// The optimistic value was visible, then rolled back.
	if len(likes) == 0 || likes[0] != 1 {
		t.Fatalf("listener saw %v, want optimistic 1 first", likes)
	}
	if last := likes[len(likes)-1]; last != 0 {
		t.Fatalf("listener saw %v, want rollback to 0 last", likes)
	}
	if got := feed.Current(); got[0].Like != 0 {
		t.Fatalf("Current like = %d after rollback", got[0].Like)
	}
}

func TestToggleHighlightKeepsOnePin(t *testing.T) {
	e := newEnv(t)
	session := e.createSession(t, "")
	ctx := context.Background()
	feed, err := OpenQuestions(ctx, session.Code, e.questions, e.cache, zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer feed.Close()

	q1 := e.submit(t, feed, "first")
	q2 := e.submit(t, feed, "second")
	for _, id := range []string{q1.ID, q2.ID} {
		if err := feed.ChangeStatus(ctx, id, models.StatusApproved); err != nil {
			t.Fatalf("approve: %v", err)
		}
	}

	if err := feed.ToggleHighlight(ctx, q1.ID, true); err != nil {
		t.Fatalf("highlight q1: %v", err)
	}
	if err := feed.ToggleHighlight(ctx, q2.ID, true); err != nil {
		t.Fatalf("highlight q2: %v", err)
	}

	var pinned []string
	for _, q := range feed.Current() {
		if q.Highlighted {
			pinned = append(pinned, q.ID)
		}
	}
	if len(pinned) != 1 || pinned[0] != q2.ID {
		t.Fatalf("pinned = %v, want only %s", pinned, q2.ID)
	}
}

func TestSessionFeedLifecycle(t *testing.T) {
	e := newEnv(t)
	session := e.createSession(t, "TOWN01")
	ctx := context.Background()
	feed, err := OpenSession(ctx, session.Code, e.sessions, e.cache, zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer feed.Close()

	if err := feed.End(ctx); err != nil {
		t.Fatalf("end: %v", err)
	}
	current := feed.Current()
	if current.IsActive || current.EndedAt == 0 {
		t.Fatalf("after End: %+v", current)
	}

	if err := feed.Reactivate(ctx); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	current = feed.Current()
	if !current.IsActive || current.EndedAt != 0 {
		t.Fatalf("after Reactivate: %+v", current)
	}

	title := "Renamed town hall"
	if err := feed.ApplyUpdate(ctx, sessions.Update{Title: &title}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := feed.Current().Title; got != title {
		t.Fatalf("title = %q", got)
	}
}

func TestHostSessionsFeedTracksMutations(t *testing.T) {
	e := newEnv(t)
	session := e.createSession(t, "")
	ctx := context.Background()

	h, err := e.manager.AcquireHost(ctx, "host-1")
	if err != nil {
		t.Fatalf("acquire host: %v", err)
	}
	defer h.Release()

	list := h.Sessions.Current()
	if len(list) != 1 || list[0].Code != session.Code {
		t.Fatalf("dashboard = %v", list)
	}

	if _, err := e.sessions.End(ctx, session.Code); err != nil {
		t.Fatalf("end: %v", err)
	}
	list = h.Sessions.Current()
	if len(list) != 1 || list[0].IsActive {
		t.Fatalf("dashboard after end = %+v", list)
	}
}

func TestManagerSharesAndClosesRooms(t *testing.T) {
	e := newEnv(t)
	session := e.createSession(t, "")
	ctx := context.Background()

	r1, err := e.manager.Acquire(ctx, session.Code)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	r2, err := e.manager.Acquire(ctx, session.Code)
	if err != nil {
		t.Fatalf("acquire again: %v", err)
	}
	if r1 != r2 {
		t.Fatal("two acquires returned different rooms")
	}

	r1.Release()
	if r2.Session.Current() == nil {
		t.Fatal("room unusable while a reference remains")
	}
	r2.Release()
	if _, ok := e.cache.Get(sessionKey(session.Code)); ok {
		t.Fatal("cache entry survived last release")
	}

	if _, err := e.manager.Acquire(ctx, "NOSUCH"); !errors.Is(err, sessions.ErrNotFound) {
		t.Fatalf("missing session error = %v", err)
	}
}
