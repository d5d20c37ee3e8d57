package store

import (
	"context"
	"reflect"
	"sync"
	"testing"
)

func TestReadAbsentPathReturnsNilNotError(t *testing.T) {
	s := NewMemory()
	v, err := s.Read(context.Background(), "sessions/NOPE/metadata")
	if err != nil {
		t.Fatalf("Read returned error for absent path: %v", err)
	}
	if v != nil {
		t.Fatalf("Read returned %v for absent path, want nil", v)
	}
}

func TestWriteAndReadRoundTrip(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	type record struct {
		Title string `json:"title"`
		Count int    `json:"count"`
	}
	if err := s.Write(ctx, "sessions/AB12CD/metadata", record{Title: "demo", Count: 3}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	v, err := s.Read(ctx, "sessions/AB12CD/metadata/title")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if v != "demo" {
		t.Fatalf("Read title = %v, want demo", v)
	}
	v, err = s.Read(ctx, "sessions/AB12CD/metadata/count")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if v != float64(3) {
		t.Fatalf("Read count = %v, want 3", v)
	}
}

func TestUpdateNestedAndSiblingPaths(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if err := s.Write(ctx, "sessions/AB12CD/questions/q1", map[string]any{"highlighted": true, "status": "approved"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Write(ctx, "sessions/AB12CD/questions/q2", map[string]any{"status": "approved"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Multi-path batch rooted above both documents.
	err := s.Update(ctx, "", map[string]any{
		"sessions/AB12CD/questions/q1/highlighted": false,
		"sessions/AB12CD/questions/q2/highlighted": true,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	v, _ := s.Read(ctx, "sessions/AB12CD/questions/q1/highlighted")
	if v != false {
		t.Fatalf("q1 highlighted = %v, want false", v)
	}
	v, _ = s.Read(ctx, "sessions/AB12CD/questions/q2/highlighted")
	if v != true {
		t.Fatalf("q2 highlighted = %v, want true", v)
	}
}

func TestUpdateNilDeletesField(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if err := s.Write(ctx, "sessions/AB12CD/metadata", map[string]any{"isActive": false, "endedAt": 123}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Update(ctx, "sessions/AB12CD/metadata", map[string]any{"isActive": true, "endedAt": nil}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	v, _ := s.Read(ctx, "sessions/AB12CD/metadata")
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("metadata = %T, want map", v)
	}
	if m["isActive"] != true {
		t.Fatalf("isActive = %v, want true", m["isActive"])
	}
	if _, present := m["endedAt"]; present {
		t.Fatalf("endedAt still present after nil update: %v", m["endedAt"])
	}
}

func TestIncrementUnderConcurrency(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if err := s.Write(ctx, "sessions/AB12CD/questions/q1", map[string]any{"like": 5}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	const incs, decs = 40, 15
	var wg sync.WaitGroup
	for i := 0; i < incs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update(ctx, "sessions/AB12CD/questions/q1", map[string]any{"like": Increment(1)})
		}()
	}
	for i := 0; i < decs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update(ctx, "sessions/AB12CD/questions/q1", map[string]any{"like": Increment(-1)})
		}()
	}
	wg.Wait()

	v, err := s.Read(ctx, "sessions/AB12CD/questions/q1/like")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if v != float64(5+incs-decs) {
		t.Fatalf("like = %v, want %d regardless of interleaving", v, 5+incs-decs)
	}
}

func TestIncrementOnAbsentFieldStartsAtZero(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	if err := s.Update(ctx, "sessions/AB12CD/questions/q1", map[string]any{"like": Increment(2)}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	v, _ := s.Read(ctx, "sessions/AB12CD/questions/q1/like")
	if v != float64(2) {
		t.Fatalf("like = %v, want 2", v)
	}
}

func TestPushGeneratesDistinctKeys(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	k1, err := s.Push(ctx, "sessions/AB12CD/questions/q1/comments", map[string]any{"content": "a"})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	k2, err := s.Push(ctx, "sessions/AB12CD/questions/q1/comments", map[string]any{"content": "b"})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if k1 == "" || k1 == k2 {
		t.Fatalf("Push keys %q, %q should be distinct and non-empty", k1, k2)
	}

	v, _ := s.Read(ctx, "sessions/AB12CD/questions/q1/comments")
	m, ok := v.(map[string]any)
	if !ok || len(m) != 2 {
		t.Fatalf("comments = %v, want two entries", v)
	}
}

func TestRemoveSubtree(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	_ = s.Write(ctx, "sessions/AB12CD/metadata", map[string]any{"title": "demo"})
	_ = s.Write(ctx, "sessions/AB12CD/questions/q1", map[string]any{"content": "hi"})
	if err := s.Remove(ctx, "sessions/AB12CD"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	v, _ := s.Read(ctx, "sessions/AB12CD")
	if v != nil {
		t.Fatalf("session still present after Remove: %v", v)
	}
	// Removing again is not an error.
	if err := s.Remove(ctx, "sessions/AB12CD"); err != nil {
		t.Fatalf("Remove absent: %v", err)
	}
}

func TestWatchPushesInitialValueThenChanges(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	_ = s.Write(ctx, "sessions/AB12CD/metadata", map[string]any{"title": "before"})

	var mu sync.Mutex
	var got []any
	cancel, err := s.Watch("sessions/AB12CD/metadata/title", func(v any) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	}, nil)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer cancel()

	_ = s.Update(ctx, "sessions/AB12CD/metadata", map[string]any{"title": "after"})

	mu.Lock()
	defer mu.Unlock()
	want := []any{"before", "after"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("watch deliveries = %v, want %v", got, want)
	}
}

func TestWatchStopsAfterCancel(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	var mu sync.Mutex
	count := 0
	cancel, err := s.Watch("sessions/AB12CD/metadata", func(any) {
		mu.Lock()
		count++
		mu.Unlock()
	}, nil)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	cancel()
	_ = s.Write(ctx, "sessions/AB12CD/metadata", map[string]any{"title": "x"})

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("deliveries after cancel = %d, want only the initial push", count)
	}
}

func TestReadReturnsCopies(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	_ = s.Write(ctx, "sessions/AB12CD/metadata", map[string]any{"title": "demo"})
	v, _ := s.Read(ctx, "sessions/AB12CD/metadata")
	v.(map[string]any)["title"] = "tampered"

	again, _ := s.Read(ctx, "sessions/AB12CD/metadata")
	if again.(map[string]any)["title"] != "demo" {
		t.Fatal("mutating a Read result leaked into the store")
	}
}
