// Package viewerstate persists per-viewer, per-session state that the
// original product kept on the device: which questions a viewer has liked,
// the rooms they visited recently, and their generated display nickname.
// Viewers are anonymous; the viewer id is minted client-side and carried on
// requests, so everything here is advisory rather than authenticated.
package viewerstate

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/bubbly-live/backend/internal/models"
	"github.com/bubbly-live/backend/internal/store"
)

// RecentRoomsLimit caps the visited-rooms list; older entries fall off.
const RecentRoomsLimit = 10

func viewerPath(viewerID string) string {
	return "viewers/" + viewerID
}

func reactionsPath(viewerID, code string) string {
	return viewerPath(viewerID) + "/reactions/" + code
}

func recentPath(viewerID string) string {
	return viewerPath(viewerID) + "/recent"
}

func nicknamePath(viewerID string) string {
	return viewerPath(viewerID) + "/nickname"
}

// RecentRoom is one entry of a viewer's visited list.
type RecentRoom struct {
	Code      string `json:"code"`
	Title     string `json:"title"`
	VisitedAt int64  `json:"visitedAt"`
}

// Service reads and writes viewer state through the shared store.
type Service struct {
	store store.Store
	now   func() time.Time
}

// NewService creates a viewer state service. A nil now falls back to
// time.Now.
func NewService(st store.Store, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: st, now: now}
}

// Reactions returns the set of question ids the viewer has liked in the
// session.
func (s *Service) Reactions(ctx context.Context, viewerID, code string) (map[string]bool, error) {
	raw, err := s.store.Read(ctx, reactionsPath(viewerID, code))
	if err != nil {
		return nil, fmt.Errorf("read reactions: %w", err)
	}
	out := make(map[string]bool)
	if m, ok := raw.(map[string]any); ok {
		for id, v := range m {
			if liked, ok := v.(bool); ok && liked {
				out[id] = true
			}
		}
	}
	return out, nil
}

// ToggleReaction flips the viewer's like on a question and returns the
// resulting delta to apply to the counter: +1 when the like was added, -1
// when it was removed.
func (s *Service) ToggleReaction(ctx context.Context, viewerID, code, questionID string) (int64, error) {
	current, err := s.Reactions(ctx, viewerID, code)
	if err != nil {
		return 0, err
	}
	if current[questionID] {
		err = s.store.Update(ctx, reactionsPath(viewerID, code), map[string]any{questionID: nil})
		if err != nil {
			return 0, fmt.Errorf("clear reaction: %w", err)
		}
		return -1, nil
	}
	err = s.store.Update(ctx, reactionsPath(viewerID, code), map[string]any{questionID: true})
	if err != nil {
		return 0, fmt.Errorf("set reaction: %w", err)
	}
	return 1, nil
}

// ClearReaction reverts a recorded like after the counter write failed, so
// the viewer's map never claims a like the counter does not hold.
func (s *Service) ClearReaction(ctx context.Context, viewerID, code, questionID string, delta int64) error {
	var value any
	if delta > 0 {
		value = nil
	} else {
		value = true
	}
	if err := s.store.Update(ctx, reactionsPath(viewerID, code), map[string]any{questionID: value}); err != nil {
		return fmt.Errorf("revert reaction: %w", err)
	}
	return nil
}

// RecordVisit prepends the room to the viewer's recent list, deduplicating
// by code and trimming to RecentRoomsLimit.
func (s *Service) RecordVisit(ctx context.Context, viewerID, code, title string) error {
	recent, err := s.RecentRooms(ctx, viewerID)
	if err != nil {
		return err
	}
	next := make([]RecentRoom, 0, len(recent)+1)
	next = append(next, RecentRoom{Code: code, Title: title, VisitedAt: s.now().UnixMilli()})
	for _, room := range recent {
		if room.Code != code {
			next = append(next, room)
		}
	}
	if len(next) > RecentRoomsLimit {
		next = next[:RecentRoomsLimit]
	}
	if err := s.store.Write(ctx, recentPath(viewerID), next); err != nil {
		return fmt.Errorf("write recent rooms: %w", err)
	}
	return nil
}

// RecentRooms returns the viewer's visited rooms, most recent first.
func (s *Service) RecentRooms(ctx context.Context, viewerID string) ([]RecentRoom, error) {
	raw, err := s.store.Read(ctx, recentPath(viewerID))
	if err != nil {
		return nil, fmt.Errorf("read recent rooms: %w", err)
	}
	items, ok := raw.([]any)
	if !ok {
		return []RecentRoom{}, nil
	}
	out := make([]RecentRoom, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, RecentRoom{
			Code:      models.StringField(m, "code", ""),
			Title:     models.StringField(m, "title", "Untitled"),
			VisitedAt: models.Int64Field(m, "visitedAt", 0),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].VisitedAt > out[j].VisitedAt
	})
	return out, nil
}

// Nickname returns the viewer's stored nickname, generating and persisting
// one on first use.
func (s *Service) Nickname(ctx context.Context, viewerID string) (string, error) {
	raw, err := s.store.Read(ctx, nicknamePath(viewerID))
	if err != nil {
		return "", fmt.Errorf("read nickname: %w", err)
	}
	if name, ok := raw.(string); ok && name != "" {
		return name, nil
	}
	name, err := GenerateNickname()
	if err != nil {
		return "", err
	}
	if err := s.store.Write(ctx, nicknamePath(viewerID), name); err != nil {
		return "", fmt.Errorf("write nickname: %w", err)
	}
	return name, nil
}

var nicknameAdjectives = []string{
	"brisk", "calm", "clever", "curious", "eager", "gentle", "keen",
	"lively", "merry", "quick", "quiet", "sunny", "swift", "witty",
}

var nicknameNouns = []string{
	"otter", "falcon", "badger", "heron", "lynx", "marmot", "puffin",
	"raven", "seal", "sparrow", "stoat", "tern", "vole", "wren",
}

// GenerateNickname builds an adjective-noun-digits handle like
// "clever-otter-42".
func GenerateNickname() (string, error) {
	adj, err := pick(nicknameAdjectives)
	if err != nil {
		return "", err
	}
	noun, err := pick(nicknameNouns)
	if err != nil {
		return "", err
	}
	n, err := rand.Int(rand.Reader, big.NewInt(100))
	if err != nil {
		return "", fmt.Errorf("generate nickname: %w", err)
	}
	return fmt.Sprintf("%s-%s-%02d", adj, noun, n.Int64()), nil
}

func pick(options []string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(options))))
	if err != nil {
		return "", fmt.Errorf("generate nickname: %w", err)
	}
	return options[n.Int64()], nil
}
