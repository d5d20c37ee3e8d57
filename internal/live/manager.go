package live

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/bubbly-live/backend/internal/questions"
	"github.com/bubbly-live/backend/internal/sessions"
)

// Manager hands out refcounted rooms and dashboards so HTTP handlers and
// websocket clients share one pair of store subscriptions per session
// regardless of how many of them are attached.
type Manager struct {
	mu        sync.Mutex
	cache     *Cache
	sessions  *sessions.Repository
	questions *questions.Repository
	logger    *zap.Logger
	rooms     map[string]*Room
	hosts     map[string]*HostHandle
}

// NewManager creates a manager over the given repositories.
func NewManager(cache *Cache, sessionRepo *sessions.Repository, questionRepo *questions.Repository, logger *zap.Logger) *Manager {
	return &Manager{
		cache:     cache,
		sessions:  sessionRepo,
		questions: questionRepo,
		logger:    logger,
		rooms:     make(map[string]*Room),
		hosts:     make(map[string]*HostHandle),
	}
}

// Room bundles the two feeds of one session. Every Acquire must be paired
// with a Release; the feeds close when the last reference drops.
type Room struct {
	m    *Manager
	code string
	refs int

	Session   *SessionFeed
	Questions *QuestionFeed
}

// Code returns the room's session code.
func (r *Room) Code() string { return r.code }

// Acquire returns the room for code, opening its feeds on first use. A
// missing session surfaces as sessions.ErrNotFound.
func (m *Manager) Acquire(ctx context.Context, code string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if room, ok := m.rooms[code]; ok {
		room.refs++
		return room, nil
	}

	sessionFeed, err := OpenSession(ctx, code, m.sessions, m.cache, m.logger)
	if err != nil {
		return nil, fmt.Errorf("open room %s: %w", code, err)
	}
	questionFeed, err := OpenQuestions(ctx, code, m.questions, m.cache, m.logger)
	if err != nil {
		sessionFeed.Close()
		return nil, fmt.Errorf("open room %s: %w", code, err)
	}

	room := &Room{m: m, code: code, refs: 1, Session: sessionFeed, Questions: questionFeed}
	m.rooms[code] = room
	m.logger.Debug("room opened", zap.String("session", code))
	return room, nil
}

// Release drops one reference; the last release closes both feeds.
func (r *Room) Release() {
	m := r.m
	m.mu.Lock()
	r.refs--
	last := r.refs <= 0
	if last && m.rooms[r.code] == r {
		delete(m.rooms, r.code)
	}
	m.mu.Unlock()
	if last {
		r.Session.Close()
		r.Questions.Close()
		m.logger.Debug("room closed", zap.String("session", r.code))
	}
}

// HostHandle is a refcounted dashboard feed for one host.
type HostHandle struct {
	m    *Manager
	uid  string
	refs int

	Sessions *HostSessionsFeed
}

// AcquireHost returns the dashboard handle for uid, opening the feed on
// first use.
func (m *Manager) AcquireHost(ctx context.Context, uid string) (*HostHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.hosts[uid]; ok {
		h.refs++
		return h, nil
	}
	feed, err := OpenHostSessions(ctx, uid, m.sessions, m.cache, m.logger)
	if err != nil {
		return nil, fmt.Errorf("open dashboard %s: %w", uid, err)
	}
	h := &HostHandle{m: m, uid: uid, refs: 1, Sessions: feed}
	m.hosts[uid] = h
	return h, nil
}

// Release drops one reference; the last release closes the feed.
func (h *HostHandle) Release() {
	m := h.m
	m.mu.Lock()
	h.refs--
	last := h.refs <= 0
	if last {
		delete(m.hosts, h.uid)
	}
	m.mu.Unlock()
	if last {
		h.Sessions.Close()
	}
}

// Drop detaches a room from the manager after its session was deleted, so
// no new Acquire can join it. Outstanding holders observe the nil session
// pushed by the subscription and release on their own; the feeds close when
// the last reference drains.
func (m *Manager) Drop(code string) {
	m.mu.Lock()
	delete(m.rooms, code)
	m.mu.Unlock()
}
