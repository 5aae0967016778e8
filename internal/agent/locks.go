package agent

import "sync"

// lockTable serializes turns per conversation id. A second chat or
// confirm call on a conversation whose turn is still running fails
// fast instead of queueing. Entries are one mutex per conversation
// seen by this process and are never removed.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.Mutex)}
}

func (t *lockTable) tryLock(id string) bool {
	t.mu.Lock()
	l, ok := t.locks[id]
	if !ok {
		l = &sync.Mutex{}
		t.locks[id] = l
	}
	t.mu.Unlock()
	return l.TryLock()
}

func (t *lockTable) unlock(id string) {
	t.mu.Lock()
	l := t.locks[id]
	t.mu.Unlock()
	if l != nil {
		l.Unlock()
	}
}
