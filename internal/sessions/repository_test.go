package sessions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bubbly-live/backend/internal/store"
)

// countingStore counts mutating calls so tests can assert that validation
// failures never reach storage.
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

func (c *countingStore) Remove(ctx context.Context, path string) error {
	c.count()
	return c.Store.Remove(ctx, path)
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

func testHost() HostInfo {
	return HostInfo{UID: "host-1", DisplayName: "Dana", Email: "dana@example.com"}
}

func TestCreateValidatesBeforeAnyWrite(t *testing.T) {
	st := &countingStore{Store: store.NewMemory()}
	repo := NewRepository(st, testClock())
	ctx := context.Background()

	if _, err := repo.Create(ctx, testHost(), "   ", "", 0, 100); !errors.Is(err, ErrEmptyTitle) {
		t.Fatalf("blank title error = %v", err)
	}
	if _, err := repo.Create(ctx, testHost(), "Town hall", "", 200, 100); !errors.Is(err, ErrInvalidDates) {
		t.Fatalf("inverted dates error = %v", err)
	}
	if _, err := repo.Create(ctx, testHost(), "Town hall", "x", 0, 100); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("short code error = %v", err)
	}
	if got := st.Writes(); got != 0 {
		t.Fatalf("store saw %d writes for invalid input", got)
	}
}

func TestCreateGeneratesCode(t *testing.T) {
	repo := NewRepository(store.NewMemory(), testClock())
	session, err := repo.Create(context.Background(), testHost(), "Town hall", "", 0, 100)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(session.Code) != DefaultCodeLength {
		t.Fatalf("code %q length = %d", session.Code, len(session.Code))
	}
	for _, r := range session.Code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			t.Fatalf("code %q contains %q", session.Code, r)
		}
	}
	if !session.IsActive {
		t.Fatal("new session not active")
	}
}

func TestCreateUppercasesCustomCode(t *testing.T) {
	repo := NewRepository(store.NewMemory(), testClock())
	session, err := repo.Create(context.Background(), testHost(), "Town hall", " myroom ", 0, 100)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if session.Code != "MYROOM" {
		t.Fatalf("code = %q, want MYROOM", session.Code)
	}
}

func TestFetchMissingSession(t *testing.T) {
	repo := NewRepository(store.NewMemory(), testClock())
	if _, err := repo.Fetch(context.Background(), "NOSUCH"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestEndAndReactivateKeepMirrorInLockstep(t *testing.T) {
	st := store.NewMemory()
	repo := NewRepository(st, testClock())
	ctx := context.Background()
	session, err := repo.Create(ctx, testHost(), "Town hall", "", 0, 1_800_000_000_000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	mirrorPath := HostSessionsPath("host-1") + "/" + session.Code

	ended, err := repo.End(ctx, session.Code)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.IsActive || ended.EndedAt == 0 {
		t.Fatalf("after end: %+v", ended)
	}
	mirror := readRecord(t, st, mirrorPath)
	if mirror["isActive"] != false {
		t.Fatalf("mirror after end: %v", mirror)
	}

	reopened, err := repo.Reactivate(ctx, session.Code)
	if err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if !reopened.IsActive || reopened.EndedAt != 0 {
		t.Fatalf("after reactivate: %+v", reopened)
	}
	mirror = readRecord(t, st, mirrorPath)
	if mirror["isActive"] != true {
		t.Fatalf("mirror after reactivate: %v", mirror)
	}
	if _, present := mirror["endedAt"]; present {
		t.Fatalf("endedAt survived reactivate in mirror: %v", mirror)
	}

	mine, err := repo.FetchHostSessions(ctx, "host-1")
	if err != nil || len(mine) != 1 {
		t.Fatalf("host sessions = %v, %v", mine, err)
	}
	if !mine[0].IsActive || mine[0].EndedAt != 0 {
		t.Fatalf("host listing after reactivate: %+v", mine[0])
	}
}

func readRecord(t *testing.T, st store.Store, path string) map[string]any {
	t.Helper()
	raw, err := st.Read(context.Background(), path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	m, ok := raw.(map[string]any)
	if !ok {
		t.Fatalf("record at %s = %v", path, raw)
	}
	return m
}

func TestApplyUpdateValidatesCombinedWindow(t *testing.T) {
	repo := NewRepository(store.NewMemory(), testClock())
	ctx := context.Background()
	session, err := repo.Create(ctx, testHost(), "Town hall", "", 100, 200)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Moving only the start past the current end must fail.
	start := int64(300)
	if _, err := repo.ApplyUpdate(ctx, session.Code, Update{StartDate: &start}); !errors.Is(err, ErrInvalidDates) {
		t.Fatalf("error = %v, want ErrInvalidDates", err)
	}

	// Moving both together is fine.
	end := int64(400)
	updated, err := repo.ApplyUpdate(ctx, session.Code, Update{StartDate: &start, EndDate: &end})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.StartDate != 300 || updated.EndDate != 400 {
		t.Fatalf("window = [%d, %d]", updated.StartDate, updated.EndDate)
	}
}

func TestDeleteRemovesSessionAndMirror(t *testing.T) {
	st := store.NewMemory()
	repo := NewRepository(st, testClock())
	ctx := context.Background()
	session, err := repo.Create(ctx, testHost(), "Town hall", "", 0, 100)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.Delete(ctx, session.Code, "host-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.Fetch(ctx, session.Code); !errors.Is(err, ErrNotFound) {
		t.Fatalf("fetch after delete = %v", err)
	}
	if raw, _ := st.Read(ctx, HostSessionsPath("host-1")+"/"+session.Code); raw != nil {
		t.Fatalf("mirror survived delete: %v", raw)
	}
	mine, err := repo.FetchHostSessions(ctx, "host-1")
	if err != nil {
		t.Fatalf("host sessions: %v", err)
	}
	if len(mine) != 0 {
		t.Fatalf("mirror survived delete: %v", mine)
	}
}

func TestFetchHostSessionsNewestFirst(t *testing.T) {
	repo := NewRepository(store.NewMemory(), testClock())
	ctx := context.Background()
	for _, title := range []string{"first", "second", "third"} {
		if _, err := repo.Create(ctx, testHost(), title, "", 0, 100); err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
	}
	other := HostInfo{UID: "host-2", DisplayName: "Sam", Email: "sam@example.com"}
	if _, err := repo.Create(ctx, other, "not mine", "", 0, 100); err != nil {
		t.Fatalf("create other: %v", err)
	}

	mine, err := repo.FetchHostSessions(ctx, "host-1")
	if err != nil {
		t.Fatalf("host sessions: %v", err)
	}
	if len(mine) != 3 {
		t.Fatalf("len = %d, want 3", len(mine))
	}
	want := []string{"third", "second", "first"}
	for i, title := range want {
		if mine[i].Title != title {
			t.Fatalf("order = %v", mine)
		}
	}
}

func TestGenerateCodeIsUppercaseAlphanumeric(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, err := GenerateCode(DefaultCodeLength)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(code) != DefaultCodeLength {
			t.Fatalf("length of %q", code)
		}
		if !validCode(code) {
			t.Fatalf("invalid code %q", code)
		}
		seen[code] = true
	}
	if len(seen) < 95 {
		t.Fatalf("only %d distinct codes in 100 draws", len(seen))
	}
}
