// Package realtime fans synchronized room state out to websocket clients.
// The hub holds one live.Room per session regardless of how many sockets
// are attached; feed listeners push every cache change to the local room,
// and a Redis presence channel reconciles audience counts across instances.
package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/bubbly-live/backend/internal/live"
	"github.com/bubbly-live/backend/internal/models"
)

const (
	// EventSession carries the session metadata snapshot.
	EventSession = "session"
	// EventQuestions carries the full question list snapshot.
	EventQuestions = "questions"
	// EventSessions carries a host's dashboard session list.
	EventSessions = "sessions"
	// EventAudienceCount carries the aggregated viewer count.
	EventAudienceCount = "audience_count"
)

// PresencePublisher announces local audience counts to other instances.
type PresencePublisher interface {
	PublishAudience(code string, count int) error
}

// PresenceSubscriber delivers audience counts announced by any instance.
type PresenceSubscriber interface {
	SubscribeAudience(code string, handler func(count int)) (cancel func(), err error)
}

// Hub maintains session code -> connected clients and host uid -> dashboard
// clients. Data events originate from live feed listeners, so every socket
// sees exactly what the cache holds.
type Hub struct {
	mu      sync.Mutex
	rooms   map[string]*hubRoom
	hosts   map[string]*hubDashboard
	manager *live.Manager
	pub     PresencePublisher
	sub     PresenceSubscriber
	logger  *zap.Logger
}

type hubRoom struct {
	clients map[string]*Client
	room    *live.Room
	cancels []func()
}

type hubDashboard struct {
	clients map[string]*Client
	handle  *live.HostHandle
	cancel  func()
}

// NewHub creates a hub over the room manager. Presence publisher and
// subscriber may be nil in single-instance deployments.
func NewHub(manager *live.Manager, pub PresencePublisher, sub PresenceSubscriber, logger *zap.Logger) *Hub {
	return &Hub{
		rooms:   make(map[string]*hubRoom),
		hosts:   make(map[string]*hubDashboard),
		manager: manager,
		pub:     pub,
		sub:     sub,
		logger:  logger,
	}
}

// Register attaches a client to its session room, opening the room on first
// use. The client immediately receives the current session and question
// snapshots.
func (h *Hub) Register(ctx context.Context, c *Client) error {
	h.mu.Lock()
	hr, ok := h.rooms[c.SessionCode]
	if !ok {
		room, err := h.manager.Acquire(ctx, c.SessionCode)
		if err != nil {
			h.mu.Unlock()
			return err
		}
		hr = &hubRoom{clients: make(map[string]*Client), room: room}
		code := c.SessionCode
		hr.cancels = append(hr.cancels, room.Session.Listen(func(s *models.Session) {
			h.broadcast(code, EventSession, s)
		}))
		hr.cancels = append(hr.cancels, room.Questions.Listen(func(items []models.Question) {
			h.broadcast(code, EventQuestions, items)
		}))
		if h.sub != nil {
			if cancel, err := h.sub.SubscribeAudience(code, func(count int) {
				h.broadcast(code, EventAudienceCount, map[string]int{"count": count})
			}); err == nil {
				hr.cancels = append(hr.cancels, cancel)
			} else {
				h.logger.Warn("audience subscribe failed", zap.String("session", code), zap.Error(err))
			}
		}
		h.rooms[c.SessionCode] = hr
	}
	hr.clients[c.ID] = c
	count := len(hr.clients)
	room := hr.room
	h.mu.Unlock()

	c.enqueue(EventSession, room.Session.Current())
	c.enqueue(EventQuestions, room.Questions.Current())
	h.announceAudience(c.SessionCode, count)
	h.logger.Debug("client joined", zap.String("client_id", c.ID), zap.String("session", c.SessionCode))
	return nil
}

// Unregister detaches a client; the last one out releases the room.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	var count int
	var release *live.Room
	var cancels []func()
	if hr, ok := h.rooms[c.SessionCode]; ok {
		delete(hr.clients, c.ID)
		count = len(hr.clients)
		if count == 0 {
			delete(h.rooms, c.SessionCode)
			release = hr.room
			cancels = hr.cancels
		}
	}
	h.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if release != nil {
		release.Release()
	}
	if count > 0 {
		h.announceAudience(c.SessionCode, count)
	}
	h.logger.Debug("client left", zap.String("client_id", c.ID), zap.String("session", c.SessionCode))
}

// RegisterDashboard attaches a host's socket to their session list feed.
func (h *Hub) RegisterDashboard(ctx context.Context, c *Client) error {
	h.mu.Lock()
	hd, ok := h.hosts[c.HostUID]
	if !ok {
		handle, err := h.manager.AcquireHost(ctx, c.HostUID)
		if err != nil {
			h.mu.Unlock()
			return err
		}
		uid := c.HostUID
		hd = &hubDashboard{clients: make(map[string]*Client), handle: handle}
		hd.cancel = handle.Sessions.Listen(func(items []models.Session) {
			h.broadcastDashboard(uid, items)
		})
		h.hosts[uid] = hd
	}
	hd.clients[c.ID] = c
	handle := hd.handle
	h.mu.Unlock()

	c.enqueue(EventSessions, handle.Sessions.Current())
	return nil
}

// UnregisterDashboard detaches a dashboard socket.
func (h *Hub) UnregisterDashboard(c *Client) {
	h.mu.Lock()
	var release *live.HostHandle
	var cancel func()
	if hd, ok := h.hosts[c.HostUID]; ok {
		delete(hd.clients, c.ID)
		if len(hd.clients) == 0 {
			delete(h.hosts, c.HostUID)
			release = hd.handle
			cancel = hd.cancel
		}
	}
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if release != nil {
		release.Release()
	}
}

// AudienceCount returns the number of locally connected clients in a room.
func (h *Hub) AudienceCount(code string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if hr, ok := h.rooms[code]; ok {
		return len(hr.clients)
	}
	return 0
}

func (h *Hub) broadcast(code, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("marshal broadcast", zap.String("event", event), zap.Error(err))
		return
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.Lock()
	var clients []*Client
	if hr, ok := h.rooms[code]; ok {
		clients = make([]*Client, 0, len(hr.clients))
		for _, c := range hr.clients {
			clients = append(clients, c)
		}
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.trySend(msg)
	}
}

func (h *Hub) broadcastDashboard(uid string, items []models.Session) {
	data, err := json.Marshal(items)
	if err != nil {
		return
	}
	msg := WSMessage{Event: EventSessions, Data: data}

	h.mu.Lock()
	var clients []*Client
	if hd, ok := h.hosts[uid]; ok {
		clients = make([]*Client, 0, len(hd.clients))
		for _, c := range hd.clients {
			clients = append(clients, c)
		}
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.trySend(msg)
	}
}

// announceAudience publishes the local count; with presence wired the
// subscriber callback performs the broadcast once for every instance,
// otherwise we broadcast directly.
func (h *Hub) announceAudience(code string, count int) {
	if h.pub != nil {
		if err := h.pub.PublishAudience(code, count); err == nil {
			return
		}
	}
	h.broadcast(code, EventAudienceCount, map[string]int{"count": count})
}
