// ABOUTME: Live connection handle with a bounded outbound event queue
// ABOUTME: Sends are non-blocking; a full queue marks the connection for detach

package hub

import (
	"sync"

	"github.com/google/uuid"

	"github.com/relayhq/livedesk/internal/event"
	"github.com/relayhq/livedesk/internal/store"
)

// Conn is an ephemeral handle for one live connection, bound to either a
// conversation channel or the presence feed. The transport layer consumes
// Events() and writes each event to the socket; the hub never blocks on a
// slow consumer.
type Conn struct {
	ID             string
	Username       string
	Role           store.Role
	ConversationID string // empty for presence-feed connections

	mu     sync.RWMutex
	out    chan *event.Event
	closed bool
}

// NewConn creates a connection handle for the given identity. buffer is the
// outbound queue capacity.
func NewConn(username string, role store.Role, conversationID string, buffer int) *Conn {
	return &Conn{
		ID:             uuid.New().String(),
		Username:       username,
		Role:           role,
		ConversationID: conversationID,
		out:            make(chan *event.Event, buffer),
	}
}

// Events returns the outbound queue. The channel is closed when the
// connection is detached, which the transport treats as normal closure.
func (c *Conn) Events() <-chan *event.Event {
	return c.out
}

// Notify enqueues an event for this connection only, bypassing room fan-out.
// Used by the transport layer for per-connection signals such as rejected
// inbound events. Returns false if the connection is closed or its queue is
// full.
func (c *Conn) Notify(evt *event.Event) bool {
	return c.send(evt)
}

// send enqueues an event without blocking.
// Returns false if the connection is closed or its queue is full.
func (c *Conn) send(evt *event.Event) bool {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return false
	}
	// Hold the read lock while sending to prevent close during send
	select {
	case c.out <- evt:
		c.mu.RUnlock()
		return true
	default:
		// Queue full
		c.mu.RUnlock()
		return false
	}
}

// close closes the outbound queue. Safe to call more than once.
func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.out)
}

// isClosed reports whether the connection has been detached.
func (c *Conn) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
