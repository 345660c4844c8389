// ABOUTME: Tests for the refcounted presence registry
// ABOUTME: Verifies online/offline edges fire only on the first and last connection

package presence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayhq/livedesk/internal/event"
	"github.com/relayhq/livedesk/internal/hub"
	"github.com/relayhq/livedesk/internal/store"
)

// recordingFeed captures broadcast presence events for assertions.
type recordingFeed struct {
	mu     sync.Mutex
	events []*event.Event
}

func (f *recordingFeed) BroadcastPresence(evt *event.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
}

func (f *recordingFeed) AttachFeed(c *hub.Conn, snapshot *event.Event) {
	f.BroadcastPresence(snapshot)
}

func (f *recordingFeed) all() []*event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*event.Event(nil), f.events...)
}

func TestRegistry_OnlineOfflineEdges(t *testing.T) {
	feed := &recordingFeed{}
	r := NewRegistry(feed, nil)

	r.Connect("alice", store.RoleCustomer)
	assert.True(t, r.IsOnline("alice"))

	r.Disconnect("alice")
	assert.False(t, r.IsOnline("alice"))

	events := feed.all()
	require.Len(t, events, 2)
	assert.Equal(t, event.TypePresenceOnline, events[0].Type)
	assert.Equal(t, "alice", events[0].User)
	assert.Equal(t, "CUSTOMER", events[0].Role)
	assert.Equal(t, event.TypePresenceOffline, events[1].Type)
	assert.Equal(t, "alice", events[1].User)
}

func TestRegistry_RefcountSuppressesFlapping(t *testing.T) {
	feed := &recordingFeed{}
	r := NewRegistry(feed, nil)

	// Three tabs for the same identity
	r.Connect("alice", store.RoleCustomer)
	r.Connect("alice", store.RoleCustomer)
	r.Connect("alice", store.RoleCustomer)

	r.Disconnect("alice")
	r.Disconnect("alice")
	assert.True(t, r.IsOnline("alice"), "still online while one connection remains")

	r.Disconnect("alice")
	assert.False(t, r.IsOnline("alice"))

	// Exactly one online and one offline event despite three connections
	events := feed.all()
	require.Len(t, events, 2)
	assert.Equal(t, event.TypePresenceOnline, events[0].Type)
	assert.Equal(t, event.TypePresenceOffline, events[1].Type)
}

func TestRegistry_DisconnectUnknownIsNoop(t *testing.T) {
	feed := &recordingFeed{}
	r := NewRegistry(feed, nil)

	r.Disconnect("ghost")
	assert.Empty(t, feed.all())
}

func TestRegistry_SnapshotSorted(t *testing.T) {
	feed := &recordingFeed{}
	r := NewRegistry(feed, nil)

	r.Connect("dana", store.RoleAgent)
	r.Connect("alice", store.RoleCustomer)
	r.Connect("sam", store.RoleSupervisor)

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "alice", snap[0].Username)
	assert.Equal(t, "dana", snap[1].Username)
	assert.Equal(t, "sam", snap[2].Username)
	assert.Equal(t, "AGENT", snap[1].Role)
}

func TestRegistry_PerIdentityEventsAlternate(t *testing.T) {
	feed := &recordingFeed{}
	r := NewRegistry(feed, nil)

	// Same-identity churn, as in a page refresh racing its own reconnect
	var wg sync.WaitGroup
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Connect("alice", store.RoleCustomer)
			r.Disconnect("alice")
		}()
	}
	wg.Wait()

	events := feed.all()
	require.NotEmpty(t, events)
	want := event.TypePresenceOnline
	for i, evt := range events {
		require.Equal(t, want, evt.Type, "event %d breaks the online/offline alternation", i)
		if want == event.TypePresenceOnline {
			want = event.TypePresenceOffline
		} else {
			want = event.TypePresenceOnline
		}
	}
	assert.Equal(t, event.TypePresenceOffline, events[len(events)-1].Type)
}

func TestRegistry_AttachNeverMissesConcurrentConnect(t *testing.T) {
	// A user coming online while a feed connection is being seeded must show
	// up either in the snapshot or as a presence.online event.
	for range 100 {
		h := hub.NewHub(nil)
		r := NewRegistry(h, nil)

		sup := hub.NewConn("sam", store.RoleSupervisor, "", 64)
		done := make(chan struct{})
		go func() {
			r.Connect("alice", store.RoleCustomer)
			close(done)
		}()
		r.Attach(sup)
		<-done
		h.Detach(sup)

		seen := false
		for evt := range sup.Events() {
			switch evt.Type {
			case event.TypePresenceSnapshot:
				for _, u := range evt.Users {
					if u.Username == "alice" {
						seen = true
					}
				}
			case event.TypePresenceOnline:
				if evt.User == "alice" {
					seen = true
				}
			}
		}
		require.True(t, seen, "online user missing from both snapshot and event stream")
		h.Close()
	}
}

func TestRegistry_ConcurrentConnects(t *testing.T) {
	feed := &recordingFeed{}
	r := NewRegistry(feed, nil)

	const n = 32
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Connect("alice", store.RoleCustomer)
		}()
	}
	wg.Wait()

	assert.True(t, r.IsOnline("alice"))

	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Disconnect("alice")
		}()
	}
	wg.Wait()

	assert.False(t, r.IsOnline("alice"))
}
