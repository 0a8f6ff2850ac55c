// Copyright (c) 2026 Tenauth. All rights reserved.
// Author: declan.vu.dev@gmail.com

package registry

import "sync"

// # Advisory Locking

// NamedLock provides blocking mutual exclusion keyed by caller-chosen strings.
// The zero value is ready to use.
//
// Storage backends use it to serialize operations that are not naturally
// transactional (a shared in-memory database has a single writer), and the
// registry uses it for its per-scope-key advisory locks.
type NamedLock struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu sync.Mutex
	// refs counts the holder plus every goroutine waiting on mu. The entry is
	// removed from the table once the last reference releases.
	refs int
}

// Lock acquires the lock for key, blocking until it is available.
func (l *NamedLock) Lock(key string) {
	l.mu.Lock()
	if l.entries == nil {
		l.entries = make(map[string]*lockEntry)
	}
	entry := l.entries[key]
	if entry == nil {
		entry = &lockEntry{}
		l.entries[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
}

// Unlock releases the lock for key. Unlocking a key that is not held is a
// programming error and panics, matching sync.Mutex semantics.
func (l *NamedLock) Unlock(key string) {
	l.mu.Lock()
	entry := l.entries[key]
	if entry == nil {
		l.mu.Unlock()
		panic("registry: unlock of unheld named lock " + key)
	}
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
	l.mu.Unlock()

	entry.mu.Unlock()
}
