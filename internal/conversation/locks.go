// ABOUTME: Per-conversation mutex table so unrelated conversations never contend
// ABOUTME: Entries are reference counted and dropped when the last holder unlocks

package conversation

import "sync"

// lockEntry is one conversation's mutex plus its holder count
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// keyedMutex serializes all mutations of one conversation's state without a
// global lock across conversations.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*lockEntry)}
}

// Lock acquires the mutex for the given key and returns its unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &lockEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
