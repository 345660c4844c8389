// ABOUTME: Per-conversation ephemeral tracker of who is currently typing
// ABOUTME: Entries expire after a fixed window unless refreshed; never persisted

package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/relayhq/livedesk/internal/event"
)

// typingEntry holds the expiry timer for one (conversation, user) pair
type typingEntry struct {
	timer *time.Timer
}

// TypingTracker records which users are typing in which conversation. A
// start within the expiry window refreshes the timer without re-emitting
// typing.start; expiry or an explicit stop emits typing.stop exactly once.
type TypingTracker struct {
	mu     sync.Mutex
	window time.Duration
	typing map[string]map[string]*typingEntry // conversationID -> username -> entry
	hub    *Hub
	logger *slog.Logger
}

// NewTypingTracker creates a tracker broadcasting through the given hub.
// Pass nil logger for default.
func NewTypingTracker(window time.Duration, hub *Hub, logger *slog.Logger) *TypingTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &TypingTracker{
		window: window,
		typing: make(map[string]map[string]*typingEntry),
		hub:    hub,
		logger: logger.With("component", "typing"),
	}
}

// Start marks a user as typing. The first start emits typing.start to the
// other side; the typist's own connections never see it, whichever tab it
// came from. Repeats within the window only refresh the expiry timer.
func (t *TypingTracker) Start(conversationID, username string) {
	t.mu.Lock()

	users, ok := t.typing[conversationID]
	if !ok {
		users = make(map[string]*typingEntry)
		t.typing[conversationID] = users
	}

	if e, exists := users[username]; exists {
		// Refresh without re-emitting. The timer is replaced rather than
		// Reset so a concurrently firing expiry sees a stale pointer and
		// does nothing.
		e.timer.Stop()
		e.timer = t.expiryTimer(conversationID, username, e)
		t.mu.Unlock()
		return
	}

	e := &typingEntry{}
	e.timer = t.expiryTimer(conversationID, username, e)
	users[username] = e
	t.mu.Unlock()

	t.logger.Debug("typing started", "conversation_id", conversationID, "user", username)
	t.hub.Broadcast(conversationID, event.NewTyping(event.TypeTypingStart, username), username)
}

// Stop clears a user's typing state and emits typing.stop. A stop for a user
// who is not typing is a no-op.
func (t *TypingTracker) Stop(conversationID, username string) {
	t.mu.Lock()
	if !t.clearLocked(conversationID, username, nil) {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	t.logger.Debug("typing stopped", "conversation_id", conversationID, "user", username)
	t.hub.Broadcast(conversationID, event.NewTyping(event.TypeTypingStop, username), username)
}

// expiryTimer arms the expiry for an entry. The entry/timer pair is checked
// again at fire time so refreshes and explicit stops cancel a pending expiry.
func (t *TypingTracker) expiryTimer(conversationID, username string, e *typingEntry) *time.Timer {
	var tm *time.Timer
	tm = time.AfterFunc(t.window, func() {
		t.mu.Lock()
		if !t.clearLocked(conversationID, username, tm) {
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()

		t.logger.Debug("typing expired", "conversation_id", conversationID, "user", username)
		t.hub.Broadcast(conversationID, event.NewTyping(event.TypeTypingStop, username), username)
	})
	return tm
}

// clearLocked removes the typing entry if present and, when expected is
// non-nil, only if its timer is still the one that fired. Returns true if an
// entry was removed. Caller holds t.mu.
func (t *TypingTracker) clearLocked(conversationID, username string, expected *time.Timer) bool {
	users, ok := t.typing[conversationID]
	if !ok {
		return false
	}
	e, ok := users[username]
	if !ok {
		return false
	}
	if expected != nil && e.timer != expected {
		return false
	}
	e.timer.Stop()
	delete(users, username)
	if len(users) == 0 {
		delete(t.typing, conversationID)
	}
	return true
}

// IsTyping reports whether the user currently has an unexpired typing entry.
func (t *TypingTracker) IsTyping(conversationID, username string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.typing[conversationID]
	if !ok {
		return false
	}
	_, ok = users[username]
	return ok
}

// Close cancels every pending expiry timer without emitting events.
func (t *TypingTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for convID, users := range t.typing {
		for username, e := range users {
			e.timer.Stop()
			delete(users, username)
		}
		delete(t.typing, convID)
	}
}
