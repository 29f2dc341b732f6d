// Package rowlock provides row-level mutual exclusion keyed by primary
// key, generalizing the teacher's single coarse record lock
// (concurrency.LockManager) into the full-lock / custom-lock algorithm
// the engine needs for concurrent row updates (spec §4.3).
package rowlock

import "sync"

// Lock is one shared, awaitable lock handle. A caller installs it (or
// merges into an existing RowLock), does its work, then calls Unlock so
// every other goroutine waiting on Wait unblocks.
type Lock struct {
	done chan struct{}
	once sync.Once
}

// NewLock returns a lock in the held state.
func NewLock() *Lock {
	return &Lock{done: make(chan struct{})}
}

// Unlock releases the lock. Safe to call more than once.
func (l *Lock) Unlock() { l.once.Do(func() { close(l.done) }) }

// Wait blocks until the lock is released.
func (l *Lock) Wait() { <-l.done }

// RowLock is the per-PK structure: one optional lock handle per column,
// plus one for the whole row (full-lock). A nil entry means that column
// (or the row as a whole) is not currently locked.
type RowLock struct {
	full    *Lock
	columns map[string]*Lock
}

func newRowLock() *RowLock {
	return &RowLock{columns: make(map[string]*Lock)}
}

// refs reports whether any lock handle still references this row.
func (r *RowLock) refs() bool {
	if r.full != nil {
		return true
	}
	return len(r.columns) > 0
}

// Manager is the table's lock map: one RowLock per currently-locked
// primary key, plus a coarse index-wide lock mirroring the teacher's
// LockManager.IndexMu for structural index mutations.
type Manager struct {
	mu   sync.Mutex
	rows map[any]*RowLock

	// IndexMu serializes structural index mutations the same way the
	// teacher's LockManager.IndexMu does for B-tree rebalancing.
	IndexMu sync.Mutex
}

// NewManager creates an empty row lock map.
func NewManager() *Manager {
	return &Manager{rows: make(map[any]*RowLock)}
}

// AcquireFull installs (or merges into) a full-row lock for pk: every
// column slot is pointed at the same new Lock. Returns the new lock the
// caller now holds and the set of preexisting locks observed during the
// merge, which the caller should Wait() on before proceeding (spec §4.3
// "full lock for update").
func (m *Manager) AcquireFull(pk any, columns []string) (*Lock, []*Lock) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[pk]
	if !ok {
		row = newRowLock()
		m.rows[pk] = row
	}

	held := make(map[*Lock]struct{})
	if row.full != nil {
		held[row.full] = struct{}{}
	}
	for _, l := range row.columns {
		held[l] = struct{}{}
	}

	next := NewLock()
	row.full = next
	for _, c := range columns {
		row.columns[c] = next
	}

	preexisting := make([]*Lock, 0, len(held))
	for l := range held {
		preexisting = append(preexisting, l)
	}
	return next, preexisting
}

// AcquireCustom installs (or merges into) locks for only the named
// columns (spec §4.3 "custom lock for update", used by column-group
// queries). Preexisting locks on any of those columns, or on the row as
// a whole, are returned for the caller to await.
func (m *Manager) AcquireCustom(pk any, columns []string) (*Lock, []*Lock) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[pk]
	if !ok {
		row = newRowLock()
		m.rows[pk] = row
	}

	held := make(map[*Lock]struct{})
	if row.full != nil {
		held[row.full] = struct{}{}
	}
	next := NewLock()
	for _, c := range columns {
		if l, ok := row.columns[c]; ok {
			held[l] = struct{}{}
		}
		row.columns[c] = next
	}

	preexisting := make([]*Lock, 0, len(held))
	for l := range held {
		preexisting = append(preexisting, l)
	}
	return next, preexisting
}

// Release unlocks l and then removes pk from the lock map if no other
// lock handle still references it (spec §4.3 "remove_with_lock_check").
func (m *Manager) Release(pk any, l *Lock) {
	l.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[pk]
	if !ok {
		return
	}
	if row.full == l {
		row.full = nil
	}
	for c, held := range row.columns {
		if held == l {
			delete(row.columns, c)
		}
	}
	if !row.refs() {
		delete(m.rows, pk)
	}
}
