// ABOUTME: Process-wide registry of currently connected users and their roles
// ABOUTME: Reference-counted per identity so multiple tabs don't flap online/offline

package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/relayhq/livedesk/internal/event"
	"github.com/relayhq/livedesk/internal/hub"
	"github.com/relayhq/livedesk/internal/store"
)

// Feed receives presence events and feed attachments for fan-out to
// supervisor connections. Implemented by the session hub.
type Feed interface {
	BroadcastPresence(evt *event.Event)
	AttachFeed(c *hub.Conn, snapshot *event.Event)
}

// entry tracks one online identity
type entry struct {
	role  store.Role
	refs  int
	since time.Time
}

// Registry is the process-wide table of connected users. Every live
// connection calls Connect on open and Disconnect on close, regardless of
// which conversation it belongs to.
//
// Feed calls happen while holding the registry mutex. That keeps each
// identity's online/offline sequence strictly alternating on the feed, and
// makes Attach atomic with respect to Connect: a concurrent edge either
// lands in the snapshot or arrives as an event, never both lost. Feed sends
// are non-blocking, so holding the mutex across them is safe.
type Registry struct {
	mu     sync.Mutex
	online map[string]*entry
	feed   Feed
	logger *slog.Logger
}

// NewRegistry creates a presence registry publishing to the given feed.
// Pass nil logger for default.
func NewRegistry(feed Feed, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		online: make(map[string]*entry),
		feed:   feed,
		logger: logger.With("component", "presence"),
	}
}

// Connect increments the connection count for an identity. The first
// connection (0 -> 1) emits presence.online to the feed.
func (r *Registry) Connect(username string, role store.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.online[username]; ok {
		e.refs++
		r.logger.Debug("presence ref added", "user", username, "refs", e.refs)
		return
	}
	r.online[username] = &entry{role: role, refs: 1, since: time.Now()}

	r.logger.Info("user online", "user", username, "role", role)
	r.feed.BroadcastPresence(event.NewPresenceOnline(username, string(role)))
}

// Disconnect decrements the connection count for an identity. The last
// connection (1 -> 0) emits presence.offline to the feed. Disconnecting an
// unknown identity is a no-op.
func (r *Registry) Disconnect(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.online[username]
	if !ok {
		return
	}
	e.refs--
	if e.refs > 0 {
		r.logger.Debug("presence ref removed", "user", username, "refs", e.refs)
		return
	}
	delete(r.online, username)

	r.logger.Info("user offline", "user", username)
	r.feed.BroadcastPresence(event.NewPresenceOffline(username))
}

// Attach registers a connection on the presence feed, seeded with the
// current snapshot. Seeding and registration happen under the registry
// mutex so no concurrent Connect or Disconnect can slip between them.
func (r *Registry) Attach(c *hub.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feed.AttachFeed(c, event.NewPresenceSnapshot(r.snapshotLocked()))
}

// Snapshot returns the current set of online users, sorted by username so
// feed seeds are deterministic.
func (r *Registry) Snapshot() []event.OnlineUser {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []event.OnlineUser {
	users := make([]event.OnlineUser, 0, len(r.online))
	for username, e := range r.online {
		users = append(users, event.OnlineUser{Username: username, Role: string(e.role)})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users
}

// IsOnline reports whether the identity currently has at least one live
// connection.
func (r *Registry) IsOnline(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.online[username]
	return ok
}
