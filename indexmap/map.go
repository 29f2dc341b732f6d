package indexmap

import (
	"errors"
	"sort"
	"sync"

	"github.com/gowt/worktable/link"
)

// ErrKeyExists is returned by InsertChecked when the key is already
// present in a unique index.
var ErrKeyExists = errors.New("indexmap: key already exists")

// ErrKeyNotFound is returned by Remove (and IndexMultiMap.RemoveLink) when
// the key is absent.
var ErrKeyNotFound = errors.New("indexmap: key not found")

// CompareFunc orders two keys the way sort.Search / a B-tree needs:
// negative if a<b, zero if equal, positive if a>b.
type CompareFunc[K any] func(a, b K) int

// Policy bounds how large one node may grow before it must split. Sized
// keys (spec §4.2 "Sized keys: node capacity is derived once ... and
// fixed") set MaxEntries; unsized keys (e.g. strings) set ByteBudget and
// KeyBytes so capacity is judged in bytes rather than element count.
type Policy[K any] struct {
	MaxEntries int
	ByteBudget int
	KeyBytes   func(K) int
}

// linkOverhead approximates the per-entry link.Size contribution to a
// byte-budgeted node, matching the page-level UnsizedIndexPage layout.
const linkOverhead = 12

type entry[K any, V any] struct {
	key   K
	value V
}

type node[K any, V any] struct {
	id          K
	entries     []entry[K, V]
	keyBytesSum int
}

// IndexMap is a concurrent ordered map from key to value, internally a
// B-tree of nodes, emitting a ChangeEvent for every structural mutation
// (spec §4.2). V is typically link.Link for a unique index; non-unique
// indexes layer IndexMultiMap (a *LinkSet per key) on top instead.
type IndexMap[K any, V any] struct {
	mu     sync.RWMutex
	nodes  []*node[K, V]
	cmp    CompareFunc[K]
	policy Policy[K]
	evGen  link.EventIdGenerator
}

// New creates an empty IndexMap ordered by cmp and bounded by policy.
func New[K any, V any](cmp CompareFunc[K], policy Policy[K]) *IndexMap[K, V] {
	return &IndexMap[K, V]{cmp: cmp, policy: policy}
}

// nodeIndex returns the index of the first node whose id is >= key, i.e.
// the node that would contain key (or where a new node for key belongs).
func (m *IndexMap[K, V]) nodeIndex(key K) int {
	return sort.Search(len(m.nodes), func(i int) bool {
		return m.cmp(m.nodes[i].id, key) >= 0
	})
}

func (n *node[K, V]) entryIndex(cmp CompareFunc[K], key K) (int, bool) {
	i := sort.Search(len(n.entries), func(i int) bool {
		return cmp(n.entries[i].key, key) >= 0
	})
	if i < len(n.entries) && cmp(n.entries[i].key, key) == 0 {
		return i, true
	}
	return i, false
}

func (m *IndexMap[K, V]) full(n *node[K, V], newKeyBytes int) bool {
	if m.policy.MaxEntries > 0 {
		return len(n.entries)+1 > m.policy.MaxEntries
	}
	if m.policy.ByteBudget > 0 {
		return n.keyBytesSum+newKeyBytes+linkOverhead*(len(n.entries)+1) > m.policy.ByteBudget
	}
	return false
}

func (m *IndexMap[K, V]) keyBytes(k K) int {
	if m.policy.KeyBytes == nil {
		return 0
	}
	return m.policy.KeyBytes(k)
}

// Get returns the value stored for key, if present.
func (m *IndexMap[K, V]) Get(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var zero V
	if len(m.nodes) == 0 {
		return zero, false
	}
	ni := m.nodeIndex(key)
	if ni == len(m.nodes) {
		return zero, false
	}
	n := m.nodes[ni]
	ei, ok := n.entryIndex(m.cmp, key)
	if !ok {
		return zero, false
	}
	return n.entries[ei].value, true
}

// Insert inserts or overwrites the value for key, returning the CDC
// events the mutation produced.
func (m *IndexMap[K, V]) Insert(key K, value V) []ChangeEvent[K, V] {
	m.mu.Lock()
	defer m.mu.Unlock()
	events, _ := m.insertLocked(key, value, false)
	return events
}

// InsertChecked behaves like Insert but fails with ErrKeyExists if key is
// already present, used for unique-index enforcement (spec §4.2
// "insert_checked").
func (m *IndexMap[K, V]) InsertChecked(key K, value V) ([]ChangeEvent[K, V], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(key, value, true)
}

func (m *IndexMap[K, V]) insertLocked(key K, value V, checked bool) ([]ChangeEvent[K, V], error) {
	if len(m.nodes) == 0 {
		n := &node[K, V]{id: key, entries: []entry[K, V]{{key: key, value: value}}, keyBytesSum: m.keyBytes(key)}
		m.nodes = append(m.nodes, n)
		ev := ChangeEvent[K, V]{ID: m.evGen.Next(), Kind: CreateNode, NodeID: key, Key: key, Value: value, Index: 0}
		return []ChangeEvent[K, V]{ev}, nil
	}

	ni := m.nodeIndex(key)
	if ni == len(m.nodes) {
		ni = len(m.nodes) - 1 // key larger than every node's max: belongs in the last node
	}
	n := m.nodes[ni]

	ei, exists := n.entryIndex(m.cmp, key)
	if exists {
		if checked {
			return nil, ErrKeyExists
		}
		n.entries[ei].value = value
		ev := ChangeEvent[K, V]{ID: m.evGen.Next(), Kind: InsertAt, NodeID: n.id, PrevNodeID: n.id, Key: key, Value: value, Index: ei}
		return []ChangeEvent[K, V]{ev}, nil
	}

	keyBytes := m.keyBytes(key)
	if m.full(n, keyBytes) && len(n.entries) > 1 {
		splitEvent := m.splitLocked(ni)
		// re-route: the key may now belong to the newly created lower node.
		ni = m.nodeIndex(key)
		if ni == len(m.nodes) {
			ni = len(m.nodes) - 1
		}
		n = m.nodes[ni]
		ei, _ = n.entryIndex(m.cmp, key)
		insertEv := m.insertEntryLocked(n, ei, key, value, keyBytes)
		return []ChangeEvent[K, V]{splitEvent, insertEv}, nil
	}

	ev := m.insertEntryLocked(n, ei, key, value, keyBytes)
	return []ChangeEvent[K, V]{ev}, nil
}

func (m *IndexMap[K, V]) insertEntryLocked(n *node[K, V], ei int, key K, value V, keyBytes int) ChangeEvent[K, V] {
	prevID := n.id
	n.entries = append(n.entries, entry[K, V]{})
	copy(n.entries[ei+1:], n.entries[ei:len(n.entries)-1])
	n.entries[ei] = entry[K, V]{key: key, value: value}
	n.keyBytesSum += keyBytes

	extended := ei == len(n.entries)-1 && m.cmp(key, n.id) > 0
	if extended {
		n.id = key
	}
	return ChangeEvent[K, V]{ID: m.evGen.Next(), Kind: InsertAt, NodeID: n.id, PrevNodeID: prevID, Key: key, Value: value, Index: ei}
}

// splitLocked splits the node at index ni into two nodes near its
// midpoint (byte midpoint with ±1 tolerance for byte-budgeted policies,
// element midpoint otherwise; spec §4.2) and returns the SplitNode event.
func (m *IndexMap[K, V]) splitLocked(ni int) ChangeEvent[K, V] {
	n := m.nodes[ni]
	splitAt := m.splitPoint(n)

	lower := &node[K, V]{entries: append([]entry[K, V]{}, n.entries[:splitAt]...)}
	lower.id = lower.entries[len(lower.entries)-1].key
	for _, e := range lower.entries {
		lower.keyBytesSum += m.keyBytes(e.key)
	}

	upper := n.entries[splitAt:]
	n.entries = append([]entry[K, V]{}, upper...)
	n.keyBytesSum = 0
	for _, e := range n.entries {
		n.keyBytesSum += m.keyBytes(e.key)
	}

	m.nodes = append(m.nodes, nil)
	copy(m.nodes[ni+1:], m.nodes[ni:len(m.nodes)-1])
	m.nodes[ni] = lower

	return ChangeEvent[K, V]{
		ID:        m.evGen.Next(),
		Kind:      SplitNode,
		NodeID:    n.id,
		NewNodeID: lower.id,
		Index:     splitAt,
	}
}

func (m *IndexMap[K, V]) splitPoint(n *node[K, V]) int {
	if m.policy.ByteBudget == 0 {
		mid := len(n.entries) / 2
		if mid < 1 {
			mid = 1
		}
		return mid
	}
	target := (n.keyBytesSum + linkOverhead*len(n.entries)) / 2
	cum, best, bestDelta := 0, 1, int(^uint(0)>>1)
	for i, e := range n.entries {
		cum += m.keyBytes(e.key) + linkOverhead
		delta := cum - target
		if delta < 0 {
			delta = -delta
		}
		if delta < bestDelta && i+1 < len(n.entries) {
			best, bestDelta = i+1, delta
		}
	}
	return best
}

// Remove removes key and returns the CDC events produced, or
// ErrKeyNotFound if key is absent.
func (m *IndexMap[K, V]) Remove(key K) ([]ChangeEvent[K, V], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.nodes) == 0 {
		return nil, ErrKeyNotFound
	}
	ni := m.nodeIndex(key)
	if ni == len(m.nodes) {
		return nil, ErrKeyNotFound
	}
	n := m.nodes[ni]
	ei, ok := n.entryIndex(m.cmp, key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	removedValue := n.entries[ei].value
	prevID := n.id
	n.entries = append(n.entries[:ei], n.entries[ei+1:]...)
	n.keyBytesSum -= m.keyBytes(key)

	if len(n.entries) == 0 {
		m.nodes = append(m.nodes[:ni], m.nodes[ni+1:]...)
		ev := ChangeEvent[K, V]{ID: m.evGen.Next(), Kind: RemoveNode, NodeID: prevID, Key: key, Value: removedValue, Index: ei}
		return []ChangeEvent[K, V]{ev}, nil
	}
	n.id = n.entries[len(n.entries)-1].key
	ev := ChangeEvent[K, V]{ID: m.evGen.Next(), Kind: RemoveAt, NodeID: n.id, PrevNodeID: prevID, Key: key, Value: removedValue, Index: ei}
	return []ChangeEvent[K, V]{ev}, nil
}

// Peek returns the value of the smallest key >= key without removing it.
func (m *IndexMap[K, V]) Peek(key K) (K, V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var zeroK K
	var zeroV V
	for _, n := range m.nodes {
		for _, e := range n.entries {
			if m.cmp(e.key, key) >= 0 {
				return e.key, e.value, true
			}
		}
	}
	return zeroK, zeroV, false
}

// Len returns the total number of keys across all nodes.
func (m *IndexMap[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, nd := range m.nodes {
		n += len(nd.entries)
	}
	return n
}

// Iter calls fn for every (key, value) pair in ascending key order,
// stopping early if fn returns false.
func (m *IndexMap[K, V]) Iter(fn func(K, V) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, n := range m.nodes {
		for _, e := range n.entries {
			if !fn(e.key, e.value) {
				return
			}
		}
	}
}

// Range calls fn for every (key, value) pair with lo <= key <= hi, in
// ascending order. A nil lo/hi means unbounded on that side.
func (m *IndexMap[K, V]) Range(lo, hi *K, fn func(K, V) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, n := range m.nodes {
		for _, e := range n.entries {
			if lo != nil && m.cmp(e.key, *lo) < 0 {
				continue
			}
			if hi != nil && m.cmp(e.key, *hi) > 0 {
				return
			}
			if !fn(e.key, e.value) {
				return
			}
		}
	}
}

// NodeSnapshot is one node's contents, handed back by IterNodes for
// persistence (§4.7 incremental write needs each node's id and members).
type NodeSnapshot[K any, V any] struct {
	NodeID  K
	Entries []entry[K, V]
}

// Len and At expose the (key, value) pairs of a node snapshot.
func (s NodeSnapshot[K, V]) Len() int { return len(s.Entries) }
func (s NodeSnapshot[K, V]) At(i int) (K, V) {
	return s.Entries[i].key, s.Entries[i].value
}

// IterNodes calls fn once per node, in ascending node-id order, for
// inspecting the map's node structure (the tests use it).
func (m *IndexMap[K, V]) IterNodes(fn func(NodeSnapshot[K, V])) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, n := range m.nodes {
		fn(NodeSnapshot[K, V]{NodeID: n.id, Entries: append([]entry[K, V]{}, n.entries...)})
	}
}

// AttachNode inserts a fully-formed node loaded from disk directly into
// the map, without generating events. Used only during reload (space
// package), before the map is exposed to callers (spec §4.2 "attach_node").
func (m *IndexMap[K, V]) AttachNode(nodeID K, keys []K, values []V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]entry[K, V], len(keys))
	sum := 0
	for i := range keys {
		entries[i] = entry[K, V]{key: keys[i], value: values[i]}
		sum += m.keyBytes(keys[i])
	}
	n := &node[K, V]{id: nodeID, entries: entries, keyBytesSum: sum}
	ni := m.nodeIndex(nodeID)
	m.nodes = append(m.nodes, nil)
	copy(m.nodes[ni+1:], m.nodes[ni:len(m.nodes)-1])
	m.nodes[ni] = n
}
