package state

import "sync"

// LockTable serializes work per session id: no two turns of the same
// session run concurrently, while distinct sessions proceed in parallel.
// Entries are created on first use and never removed; a bare mutex per
// live session is cheap enough not to warrant refcounting.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[string]*sync.Mutex)}
}

// Acquire locks the session's mutex and returns the unlock function.
func (t *LockTable) Acquire(id string) func() {
	t.mu.Lock()
	lock, ok := t.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[id] = lock
	}
	t.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
