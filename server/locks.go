package main

import "sync"

// clientLocks serializes read-then-write sequences per client: the
// invalidate-then-insert inside enqueue, submit-credential's
// check-then-update, and the liveness sweep's prune. Requests for
// different clients never contend.
type clientLocks struct {
	mu   sync.Mutex
	held map[string]*clientLock
}

type clientLock struct {
	mu   sync.Mutex
	refs int
}

func newClientLocks() *clientLocks {
	return &clientLocks{held: make(map[string]*clientLock)}
}

// lock acquires the lock for clientID and returns the release function.
// Entries are reference-counted so the map does not grow with every client
// ever seen.
func (l *clientLocks) lock(clientID string) func() {
	l.mu.Lock()
	entry, ok := l.held[clientID]
	if !ok {
		entry = &clientLock{}
		l.held[clientID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.held, clientID)
		}
		l.mu.Unlock()
	}
}
