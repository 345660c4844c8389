// ABOUTME: In-memory fan-out hub for conversation channels and the presence feed
// ABOUTME: Maps conversation id to attached connections and broadcasts events to them

package hub

import (
	"log/slog"
	"sync"

	"github.com/relayhq/livedesk/internal/event"
	"github.com/relayhq/livedesk/internal/store"
)

// Hub owns the sets of live connections: one set per conversation plus the
// process-wide presence feed. Delivery is best-effort per connection; a
// connection that cannot keep up is detached rather than stalling the
// broadcaster.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Conn // conversationID -> connID -> conn
	feed  map[string]*Conn            // connID -> conn (presence feed)

	logger *slog.Logger
}

// NewHub creates a hub. Pass nil logger for default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:  make(map[string]map[string]*Conn),
		feed:   make(map[string]*Conn),
		logger: logger.With("component", "hub"),
	}
}

// Attach registers a connection for a conversation and enqueues the catch-up
// replay before any later broadcast can be observed. The caller is expected
// to have authorized the connection and fetched the replay while holding the
// conversation's lock.
func (h *Hub) Attach(conversationID string, c *Conn, replay []*event.Event) {
	h.mu.Lock()
	if _, ok := h.rooms[conversationID]; !ok {
		h.rooms[conversationID] = make(map[string]*Conn)
	}
	h.rooms[conversationID][c.ID] = c
	// Replay under the hub lock so no broadcast interleaves with history
	for _, evt := range replay {
		c.send(evt)
	}
	h.mu.Unlock()

	h.logger.Debug("connection attached",
		"conversation_id", conversationID,
		"conn_id", c.ID,
		"user", c.Username,
		"replayed", len(replay))
}

// AttachFeed registers a presence-feed connection and seeds it with the
// given snapshot event.
func (h *Hub) AttachFeed(c *Conn, snapshot *event.Event) {
	h.mu.Lock()
	h.feed[c.ID] = c
	c.send(snapshot)
	h.mu.Unlock()

	h.logger.Debug("presence feed attached", "conn_id", c.ID, "user", c.Username)
}

// Detach removes a connection from whichever set it belongs to and closes
// its outbound queue. Idempotent: detaching an unknown or already-detached
// connection is a no-op. Runs on abnormal disconnect as well as normal close.
func (h *Hub) Detach(c *Conn) {
	h.mu.Lock()

	if c.ConversationID != "" {
		if room, ok := h.rooms[c.ConversationID]; ok {
			if _, exists := room[c.ID]; exists {
				delete(room, c.ID)
				// Drop empty conversation entries so no dangling state remains
				if len(room) == 0 {
					delete(h.rooms, c.ConversationID)
				}
			}
		}
	} else {
		delete(h.feed, c.ID)
	}

	h.mu.Unlock()

	c.close()

	h.logger.Debug("connection detached",
		"conversation_id", c.ConversationID,
		"conn_id", c.ID,
		"user", c.Username)
}

// Broadcast sends an event to every connection attached to the conversation.
// If excludeUser is non-empty, every connection belonging to that user is
// skipped, not just the originating one. A connection whose queue is full is
// detached; its failure never blocks the others.
func (h *Hub) Broadcast(conversationID string, evt *event.Event, excludeUser string) {
	h.mu.RLock()
	room, ok := h.rooms[conversationID]
	if !ok || len(room) == 0 {
		h.mu.RUnlock()
		return
	}

	// Copy targets under read lock to avoid holding it during sends
	targets := make([]*Conn, 0, len(room))
	for _, c := range room {
		if excludeUser != "" && c.Username == excludeUser {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.send(evt) {
			h.logger.Warn("dropping slow connection",
				"conversation_id", conversationID,
				"conn_id", c.ID,
				"user", c.Username)
			go h.Detach(c)
		}
	}
}

// BroadcastPresence sends an event to every presence-feed connection.
// Implements presence.Feed.
func (h *Hub) BroadcastPresence(evt *event.Event) {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.feed))
	for _, c := range h.feed {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.send(evt) {
			h.logger.Warn("dropping slow presence connection",
				"conn_id", c.ID,
				"user", c.Username)
			go h.Detach(c)
		}
	}
}

// DetachAll detaches every connection attached to a conversation. Used when
// the conversation is closed; each connection's queue close is the
// normal-closure signal to its transport.
func (h *Hub) DetachAll(conversationID string) {
	h.mu.Lock()
	room, ok := h.rooms[conversationID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.rooms, conversationID)
	conns := make([]*Conn, 0, len(room))
	for _, c := range room {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
	}

	h.logger.Debug("all connections detached", "conversation_id", conversationID, "count", len(conns))
}

// OtherAttached reports whether a counterpart connection is attached to the
// conversation: someone other than the sender, not counting supervisor
// observers. Drives the SENT -> DELIVERED transition, which belongs to the
// customer/agent pair rather than anyone watching.
func (h *Hub) OtherAttached(conversationID, excludeUser string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	room, ok := h.rooms[conversationID]
	if !ok {
		return false
	}
	for _, c := range room {
		if c.Username == excludeUser || c.Role == store.RoleSupervisor {
			continue
		}
		return true
	}
	return false
}

// ConnCount returns how many connections are attached to the conversation.
func (h *Hub) ConnCount(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conversationID])
}

// Close detaches every connection and the whole presence feed.
func (h *Hub) Close() {
	h.mu.Lock()
	var conns []*Conn
	for id, room := range h.rooms {
		for _, c := range room {
			conns = append(conns, c)
		}
		delete(h.rooms, id)
	}
	for id, c := range h.feed {
		conns = append(conns, c)
		delete(h.feed, id)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
	}

	h.logger.Debug("hub closed")
}
