package services

import (
	"sort"
	"sync"
)

// recordLocks serializes read-modify-write cycles per local media ID.
// Entries are reference counted and dropped when the last holder leaves.
type recordLocks struct {
	mu    sync.Mutex
	locks map[string]*recordLock
}

type recordLock struct {
	mu   sync.Mutex
	refs int
}

func newRecordLocks() *recordLocks {
	return &recordLocks{locks: make(map[string]*recordLock)}
}

// Lock blocks until id is free and returns the matching unlock func.
func (l *recordLocks) Lock(id string) func() {
	l.mu.Lock()
	rl, ok := l.locks[id]
	if !ok {
		rl = &recordLock{}
		l.locks[id] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()

	return func() {
		rl.mu.Unlock()

		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// LockAll locks ids in sorted order so concurrent multi-record lockers
// cannot deadlock each other.
func (l *recordLocks) LockAll(ids []string) func() {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	unlocks := make([]func(), 0, len(sorted))
	var prev string
	for i, id := range sorted {
		if i > 0 && id == prev {
			continue
		}
		prev = id
		unlocks = append(unlocks, l.Lock(id))
	}

	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

func (l *recordLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
