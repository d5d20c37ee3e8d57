package viewerstate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bubbly-live/backend/internal/store"
)

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

func TestToggleReaction(t *testing.T) {
	svc := NewService(store.NewMemory(), testClock())
	ctx := context.Background()

	delta, err := svc.ToggleReaction(ctx, "v1", "ROOM01", "q1")
	if err != nil || delta != 1 {
		t.Fatalf("first toggle = %d, %v", delta, err)
	}
	liked, err := svc.Reactions(ctx, "v1", "ROOM01")
	if err != nil || !liked["q1"] {
		t.Fatalf("reactions = %v, %v", liked, err)
	}

	delta, err = svc.ToggleReaction(ctx, "v1", "ROOM01", "q1")
	if err != nil || delta != -1 {
		t.Fatalf("second toggle = %d, %v", delta, err)
	}
	liked, err = svc.Reactions(ctx, "v1", "ROOM01")
	if err != nil || liked["q1"] {
		t.Fatalf("reactions after untoggle = %v, %v", liked, err)
	}
}

func TestReactionsAreScopedPerSession(t *testing.T) {
	svc := NewService(store.NewMemory(), testClock())
	ctx := context.Background()

	if _, err := svc.ToggleReaction(ctx, "v1", "ROOM01", "q1"); err != nil {
		t.Fatal(err)
	}
	liked, err := svc.Reactions(ctx, "v1", "ROOM02")
	if err != nil || len(liked) != 0 {
		t.Fatalf("other session reactions = %v, %v", liked, err)
	}
	liked, err = svc.Reactions(ctx, "v2", "ROOM01")
	if err != nil || len(liked) != 0 {
		t.Fatalf("other viewer reactions = %v, %v", liked, err)
	}
}

func TestClearReactionRevertsToggle(t *testing.T) {
	svc := NewService(store.NewMemory(), testClock())
	ctx := context.Background()

	delta, err := svc.ToggleReaction(ctx, "v1", "ROOM01", "q1")
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.ClearReaction(ctx, "v1", "ROOM01", "q1", delta); err != nil {
		t.Fatal(err)
	}
	liked, err := svc.Reactions(ctx, "v1", "ROOM01")
	if err != nil || liked["q1"] {
		t.Fatalf("reactions after revert = %v, %v", liked, err)
	}
}

func TestRecentRoomsDedupeAndCap(t *testing.T) {
	svc := NewService(store.NewMemory(), testClock())
	ctx := context.Background()

	for i := 0; i < RecentRoomsLimit+3; i++ {
		code := fmt.Sprintf("ROOM%02d", i)
		if err := svc.RecordVisit(ctx, "v1", code, "Room "+code); err != nil {
			t.Fatal(err)
		}
	}
	// Revisiting moves the room to the front without duplicating it.
	if err := svc.RecordVisit(ctx, "v1", "ROOM05", "Room ROOM05"); err != nil {
		t.Fatal(err)
	}

	rooms, err := svc.RecentRooms(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != RecentRoomsLimit {
		t.Fatalf("len = %d, want %d", len(rooms), RecentRoomsLimit)
	}
	if rooms[0].Code != "ROOM05" {
		t.Fatalf("front = %s, want ROOM05", rooms[0].Code)
	}
	seen := make(map[string]bool)
	for _, room := range rooms {
		if seen[room.Code] {
			t.Fatalf("duplicate code %s", room.Code)
		}
		seen[room.Code] = true
	}
}

func TestNicknameIsStable(t *testing.T) {
	svc := NewService(store.NewMemory(), testClock())
	ctx := context.Background()

	first, err := svc.Nickname(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if parts := strings.Split(first, "-"); len(parts) != 3 {
		t.Fatalf("nickname shape = %q", first)
	}
	second, err := svc.Nickname(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("nickname changed: %q then %q", first, second)
	}
}
