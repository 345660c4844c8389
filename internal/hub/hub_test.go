// ABOUTME: Tests for hub fan-out, catch-up replay, and slow-consumer handling
// ABOUTME: Exercises attach/detach lifecycle and broadcast exclusion

package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayhq/livedesk/internal/event"
	"github.com/relayhq/livedesk/internal/store"
)

func TestHub_AttachReplaysBeforeBroadcast(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	replay := []*event.Event{
		event.NewMessage("msg-1", "alice", "first", "SENT", time.Now()),
		event.NewMessage("msg-2", "alice", "second", "SENT", time.Now()),
	}

	c := NewConn("dana", store.RoleAgent, "conv-1", 16)
	h.Attach("conv-1", c, replay)
	h.Broadcast("conv-1", event.NewMessage("msg-3", "alice", "third", "SENT", time.Now()), "")

	// History arrives before the live event, no duplicates
	for i, want := range []string{"msg-1", "msg-2", "msg-3"} {
		select {
		case evt := <-c.Events():
			assert.Equal(t, want, evt.MessageID, "event %d", i)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestHub_BroadcastExcludesOriginator(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	sender := NewConn("alice", store.RoleCustomer, "conv-1", 16)
	senderTab := NewConn("alice", store.RoleCustomer, "conv-1", 16)
	receiver := NewConn("dana", store.RoleAgent, "conv-1", 16)
	h.Attach("conv-1", sender, nil)
	h.Attach("conv-1", senderTab, nil)
	h.Attach("conv-1", receiver, nil)

	h.Broadcast("conv-1", event.NewTyping(event.TypeTypingStart, "alice"), "alice")

	select {
	case evt := <-receiver.Events():
		assert.Equal(t, event.TypeTypingStart, evt.Type)
	case <-time.After(time.Second):
		t.Fatal("receiver never got the event")
	}

	// Exclusion is by user, so every one of the originator's connections
	// is skipped, not just the one the input arrived on
	for _, c := range []*Conn{sender, senderTab} {
		select {
		case evt := <-c.Events():
			t.Fatalf("originator should not receive its own event, got %v", evt.Type)
		default:
		}
	}
}

func TestHub_BroadcastIsolatedPerConversation(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	c1 := NewConn("alice", store.RoleCustomer, "conv-1", 16)
	c2 := NewConn("carol", store.RoleCustomer, "conv-2", 16)
	h.Attach("conv-1", c1, nil)
	h.Attach("conv-2", c2, nil)

	h.Broadcast("conv-1", event.NewMessage("msg-1", "alice", "hi", "SENT", time.Now()), "")

	select {
	case <-c1.Events():
	case <-time.After(time.Second):
		t.Fatal("conv-1 connection never got the event")
	}

	select {
	case evt := <-c2.Events():
		t.Fatalf("conv-2 connection got a conv-1 event: %v", evt.Type)
	default:
	}
}

func TestHub_DetachIsIdempotent(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	c := NewConn("alice", store.RoleCustomer, "conv-1", 16)
	h.Attach("conv-1", c, nil)

	h.Detach(c)
	h.Detach(c) // second detach must not panic or double-close

	assert.Equal(t, 0, h.ConnCount("conv-1"))

	// Queue is closed; the transport sees that as normal closure
	_, ok := <-c.Events()
	assert.False(t, ok)
}

func TestHub_SlowConsumerIsDropped(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	slow := NewConn("alice", store.RoleCustomer, "conv-1", 1)
	h.Attach("conv-1", slow, nil)

	// First fills the queue, second overflows and triggers detach
	h.Broadcast("conv-1", event.NewMessage("msg-1", "dana", "a", "SENT", time.Now()), "")
	h.Broadcast("conv-1", event.NewMessage("msg-2", "dana", "b", "SENT", time.Now()), "")

	require.Eventually(t, func() bool {
		return h.ConnCount("conv-1") == 0
	}, time.Second, 10*time.Millisecond, "slow connection was not detached")

	// The queued event is still drained before close
	evt, ok := <-slow.Events()
	require.True(t, ok)
	assert.Equal(t, "msg-1", evt.MessageID)
	_, ok = <-slow.Events()
	assert.False(t, ok)
}

func TestHub_DetachAllClosesEveryConnection(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	c1 := NewConn("alice", store.RoleCustomer, "conv-1", 16)
	c2 := NewConn("dana", store.RoleAgent, "conv-1", 16)
	h.Attach("conv-1", c1, nil)
	h.Attach("conv-1", c2, nil)

	h.DetachAll("conv-1")

	assert.Equal(t, 0, h.ConnCount("conv-1"))
	for _, c := range []*Conn{c1, c2} {
		_, ok := <-c.Events()
		assert.False(t, ok, "queue for %s should be closed", c.Username)
	}
}

func TestHub_OtherAttached(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	alice := NewConn("alice", store.RoleCustomer, "conv-1", 16)
	h.Attach("conv-1", alice, nil)

	// Only the sender's own connection is attached
	assert.False(t, h.OtherAttached("conv-1", "alice"))

	// A supervisor observer is not a counterpart
	sam := NewConn("sam", store.RoleSupervisor, "conv-1", 16)
	h.Attach("conv-1", sam, nil)
	assert.False(t, h.OtherAttached("conv-1", "alice"))

	dana := NewConn("dana", store.RoleAgent, "conv-1", 16)
	h.Attach("conv-1", dana, nil)

	assert.True(t, h.OtherAttached("conv-1", "alice"))
	assert.True(t, h.OtherAttached("conv-1", "dana"))
	assert.False(t, h.OtherAttached("conv-2", "alice"))
}

func TestHub_PresenceFeed(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	snapshot := event.NewPresenceSnapshot([]event.OnlineUser{{Username: "alice", Role: "CUSTOMER"}})
	sup := NewConn("sam", store.RoleSupervisor, "", 16)
	h.AttachFeed(sup, snapshot)

	select {
	case evt := <-sup.Events():
		require.Equal(t, event.TypePresenceSnapshot, evt.Type)
		assert.Len(t, evt.Users, 1)
	case <-time.After(time.Second):
		t.Fatal("snapshot never arrived")
	}

	h.BroadcastPresence(event.NewPresenceOnline("dana", "AGENT"))

	select {
	case evt := <-sup.Events():
		assert.Equal(t, event.TypePresenceOnline, evt.Type)
		assert.Equal(t, "dana", evt.User)
	case <-time.After(time.Second):
		t.Fatal("presence event never arrived")
	}
}

func TestConn_NotifyAfterClose(t *testing.T) {
	c := NewConn("alice", store.RoleCustomer, "conv-1", 16)
	assert.True(t, c.Notify(event.NewError("test", "detail")))

	c.close()
	assert.False(t, c.Notify(event.NewError("test", "detail")))
}
