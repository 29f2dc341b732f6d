package indexmap

import (
	"sync"

	"github.com/gowt/worktable/link"
)

// LinkSet is a concurrent, unordered set of link.Link values: the value
// type stored at each key of a non-unique secondary index, where several
// rows can share one indexed column value. The teacher's B-tree only ever
// stores one link per key (storage is a unique-PK table); WorkTable's
// secondary indexes are not, so this is new surface rather than an
// adaptation. A mutex-guarded map is a pragmatic, far simpler substitute
// for a lock-free set — correct under the coarse IndexMap lock already
// serializing structural changes, revisited only if profiling shows
// contention here.
type LinkSet struct {
	mu    sync.Mutex
	links map[link.Link]struct{}
}

// NewLinkSet creates a set containing the given links.
func NewLinkSet(links ...link.Link) *LinkSet {
	s := &LinkSet{links: make(map[link.Link]struct{}, len(links))}
	for _, l := range links {
		s.links[l] = struct{}{}
	}
	return s
}

// Add inserts l into the set.
func (s *LinkSet) Add(l link.Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[l] = struct{}{}
}

// Remove deletes l from the set, reporting whether the set is now empty.
func (s *LinkSet) Remove(l link.Link) (empty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.links, l)
	return len(s.links) == 0
}

// Len returns the number of links currently in the set.
func (s *LinkSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

// Each calls fn for every link currently in the set.
func (s *LinkSet) Each(fn func(link.Link)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for l := range s.links {
		fn(l)
	}
}

// IndexMultiMap adapts IndexMap to a non-unique secondary index: each key
// maps to a LinkSet rather than a single link.Link, so InsertLink can add
// a second row under an already-indexed value instead of overwriting it.
type IndexMultiMap[K any] struct {
	inner *IndexMap[K, *LinkSet]
}

// NewMultiMap creates an empty non-unique index ordered by cmp.
func NewMultiMap[K any](cmp CompareFunc[K], policy Policy[K]) *IndexMultiMap[K] {
	return &IndexMultiMap[K]{inner: New[K, *LinkSet](cmp, policy)}
}

// InsertLink adds l to the set stored under key. A new key gets a fresh
// set and the events of a structural insert (CreateNode when the map is
// empty, otherwise InsertAt, preceded by SplitNode when the target node is
// full); a key that already holds a set emits an InsertAt value-update
// event against its existing node.
func (m *IndexMultiMap[K]) InsertLink(key K, l link.Link) []ChangeEvent[K, *LinkSet] {
	if set, ok := m.inner.Get(key); ok {
		set.Add(l)
		return m.inner.Insert(key, set)
	}
	return m.inner.Insert(key, NewLinkSet(l))
}

// RemoveLink removes l from the set stored under key, removing the key
// entirely once its set becomes empty; otherwise it emits an InsertAt
// value-update event carrying the set with l removed.
func (m *IndexMultiMap[K]) RemoveLink(key K, l link.Link) ([]ChangeEvent[K, *LinkSet], error) {
	set, ok := m.inner.Get(key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	if set.Remove(l) {
		return m.inner.Remove(key)
	}
	return m.inner.Insert(key, set), nil
}

// Get returns the LinkSet stored under key, if any.
func (m *IndexMultiMap[K]) Get(key K) (*LinkSet, bool) { return m.inner.Get(key) }

// AttachNode inserts a fully-formed node loaded from disk directly into
// the underlying map, rebuilding one LinkSet per key from its full
// persisted link slice. Used only during reload (space package), before
// the index is exposed to callers.
func (m *IndexMultiMap[K]) AttachNode(nodeID K, keys []K, linkSets [][]link.Link) {
	sets := make([]*LinkSet, len(linkSets))
	for i, ls := range linkSets {
		sets[i] = NewLinkSet(ls...)
	}
	m.inner.AttachNode(nodeID, keys, sets)
}

// Len returns the number of distinct keys in the index.
func (m *IndexMultiMap[K]) Len() int { return m.inner.Len() }

// Range calls fn for every (key, *LinkSet) pair with lo <= key <= hi.
func (m *IndexMultiMap[K]) Range(lo, hi *K, fn func(K, *LinkSet) bool) { m.inner.Range(lo, hi, fn) }

// Iter calls fn for every (key, *LinkSet) pair in ascending key order.
func (m *IndexMultiMap[K]) Iter(fn func(K, *LinkSet) bool) { m.inner.Iter(fn) }
