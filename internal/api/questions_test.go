package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bubbly-live/backend/internal/live"
	"github.com/bubbly-live/backend/internal/questions"
	"github.com/bubbly-live/backend/internal/sessions"
	"github.com/bubbly-live/backend/internal/store"
	"github.com/bubbly-live/backend/internal/viewerstate"
)

// countingStore counts mutating calls so tests can assert that a rejected
// request never reached storage.
type countingStore struct {
	store.Store

	mu     sync.Mutex
	writes int
}

func (c *countingStore) count() {
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()
}

func (c *countingStore) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

func (c *countingStore) Write(ctx context.Context, path string, value any) error {
	c.count()
	return c.Store.Write(ctx, path, value)
}

func (c *countingStore) Update(ctx context.Context, path string, fields map[string]any) error {
	c.count()
	return c.Store.Update(ctx, path, fields)
}

func (c *countingStore) Push(ctx context.Context, parentPath string, value any) (string, error) {
	c.count()
	return c.Store.Push(ctx, parentPath, value)
}

func (c *countingStore) Remove(ctx context.Context, path string) error {
	c.count()
	return c.Store.Remove(ctx, path)
}

type questionEnv struct {
	st       *countingStore
	sessions *sessions.Repository
	handler  *QuestionHandler
}

func newQuestionEnv(t *testing.T) *questionEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	st := &countingStore{Store: store.NewMemory()}
	sessionRepo := sessions.NewRepository(st, nil)
	questionRepo := questions.NewRepository(st, nil)
	viewers := viewerstate.NewService(st, nil)
	manager := live.NewManager(live.NewCache(), sessionRepo, questionRepo, logger)
	return &questionEnv{
		st:       st,
		sessions: sessionRepo,
		handler:  NewQuestionHandler(questionRepo, sessionRepo, manager, viewers, logger),
	}
}

func postQuestion(t *testing.T, env *questionEnv, code, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/sessions/"+code+"/questions", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "code", Value: code}}
	env.handler.Submit(c)
	return w
}

func TestSubmitRejectsInvalidContentWithoutStoreWrites(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing content", `{}`},
		{"empty content", `{"content":""}`},
		{"whitespace only", `{"content":"   \n\t  "}`},
		{"too long", `{"content":"` + strings.Repeat("x", 151) + `"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newQuestionEnv(t)
			w := postQuestion(t, env, "ROOM01", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if got := env.st.Writes(); got != 0 {
				t.Fatalf("store saw %d writes for rejected submission", got)
			}
		})
	}
}

func TestSubmitWritesOnceForValidContent(t *testing.T) {
	env := newQuestionEnv(t)
	host := sessions.HostInfo{UID: "host-1", DisplayName: "Dana"}
	session, err := env.sessions.Create(context.Background(), host, "Town hall", "", 0, time.Now().Add(time.Hour).UnixMilli())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	before := env.st.Writes()

	w := postQuestion(t, env, session.Code, `{"content":"  what is   next? "}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := env.st.Writes() - before; got != 1 {
		t.Fatalf("store saw %d writes for one submission, want 1", got)
	}
	if body := w.Body.String(); !strings.Contains(body, "what is next?") {
		t.Fatalf("content not normalized in response: %s", body)
	}
}
