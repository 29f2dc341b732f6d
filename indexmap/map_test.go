package indexmap

import (
	"testing"

	"github.com/gowt/worktable/link"
)

func uint64Cmp(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func lk(n uint32) link.Link { return link.Link{PageID: 1, Offset: n, Length: 8} }

func TestInsertAndGet(t *testing.T) {
	m := New[uint64, link.Link](uint64Cmp, Policy[uint64]{MaxEntries: 4})

	events := m.Insert(10, lk(1))
	if len(events) != 1 || events[0].Kind != CreateNode {
		t.Fatalf("expected a single CreateNode event, got %+v", events)
	}

	m.Insert(20, lk(2))
	m.Insert(5, lk(3))

	v, ok := m.Get(20)
	if !ok || v.Offset != 2 {
		t.Fatalf("expected to find key 20, got %+v ok=%v", v, ok)
	}
	if _, ok := m.Get(999); ok {
		t.Fatalf("expected key 999 to be absent")
	}
	if m.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", m.Len())
	}
}

func TestInsertCheckedRejectsDuplicate(t *testing.T) {
	m := New[uint64, link.Link](uint64Cmp, Policy[uint64]{MaxEntries: 4})
	if _, err := m.InsertChecked(1, lk(1)); err != nil {
		t.Fatalf("unexpected error on first insert: %v", err)
	}
	if _, err := m.InsertChecked(1, lk(2)); err != ErrKeyExists {
		t.Fatalf("expected ErrKeyExists, got %v", err)
	}
}

func TestInsertOverwritesExisting(t *testing.T) {
	m := New[uint64, link.Link](uint64Cmp, Policy[uint64]{MaxEntries: 4})
	m.Insert(1, lk(1))
	events := m.Insert(1, lk(2))
	if len(events) != 1 || events[0].Kind != InsertAt {
		t.Fatalf("expected InsertAt on overwrite, got %+v", events)
	}
	v, _ := m.Get(1)
	if v.Offset != 2 {
		t.Fatalf("expected overwritten value, got %+v", v)
	}
	if m.Len() != 1 {
		t.Fatalf("expected overwrite not to grow the map, got len %d", m.Len())
	}
}

func TestRemoveProducesRemoveNodeWhenNodeEmpties(t *testing.T) {
	m := New[uint64, link.Link](uint64Cmp, Policy[uint64]{MaxEntries: 4})
	m.Insert(1, lk(1))

	events, err := m.Remove(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Kind != RemoveNode {
		t.Fatalf("expected RemoveNode, got %+v", events)
	}
	if m.Len() != 0 {
		t.Fatalf("expected empty map after removing the only key")
	}
	if _, err := m.Remove(1); err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound on second remove, got %v", err)
	}
}

func TestRemoveFromMultiEntryNodeKeepsNode(t *testing.T) {
	m := New[uint64, link.Link](uint64Cmp, Policy[uint64]{MaxEntries: 4})
	m.Insert(1, lk(1))
	m.Insert(2, lk(2))

	events, err := m.Remove(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Kind != RemoveAt {
		t.Fatalf("expected RemoveAt, got %+v", events)
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 remaining entry, got %d", m.Len())
	}
}

func TestSplitOnOverflowEmitsSplitNode(t *testing.T) {
	m := New[uint64, link.Link](uint64Cmp, Policy[uint64]{MaxEntries: 2})
	m.Insert(1, lk(1))
	m.Insert(2, lk(2))

	events := m.Insert(3, lk(3))
	foundSplit := false
	for _, ev := range events {
		if ev.Kind == SplitNode {
			foundSplit = true
		}
	}
	if !foundSplit {
		t.Fatalf("expected a SplitNode event among %+v", events)
	}
	if m.Len() != 3 {
		t.Fatalf("expected 3 entries after split+insert, got %d", m.Len())
	}

	var seen []uint64
	m.Iter(func(k uint64, _ link.Link) bool {
		seen = append(seen, k)
		return true
	})
	if len(seen) != 3 || seen[0] != 1 || seen[1] != 2 || seen[2] != 3 {
		t.Fatalf("expected ascending iteration 1,2,3 got %+v", seen)
	}
}

func TestRangeRespectsBounds(t *testing.T) {
	m := New[uint64, link.Link](uint64Cmp, Policy[uint64]{MaxEntries: 8})
	for i := uint64(1); i <= 10; i++ {
		m.Insert(i, lk(uint32(i)))
	}
	lo, hi := uint64(3), uint64(6)
	var got []uint64
	m.Range(&lo, &hi, func(k uint64, _ link.Link) bool {
		got = append(got, k)
		return true
	})
	if len(got) != 4 || got[0] != 3 || got[3] != 6 {
		t.Fatalf("unexpected range result: %+v", got)
	}
}

func TestIterNodesCoversAllEntries(t *testing.T) {
	m := New[uint64, link.Link](uint64Cmp, Policy[uint64]{MaxEntries: 2})
	for i := uint64(1); i <= 5; i++ {
		m.Insert(i, lk(uint32(i)))
	}
	total := 0
	m.IterNodes(func(n NodeSnapshot[uint64, link.Link]) {
		total += n.Len()
	})
	if total != 5 {
		t.Fatalf("expected 5 entries across all nodes, got %d", total)
	}
}

func TestAttachNodeLoadsWithoutEvents(t *testing.T) {
	m := New[uint64, link.Link](uint64Cmp, Policy[uint64]{MaxEntries: 8})
	m.AttachNode(30, []uint64{10, 20, 30}, []link.Link{lk(1), lk(2), lk(3)})

	if m.Len() != 3 {
		t.Fatalf("expected 3 entries after attach, got %d", m.Len())
	}
	v, ok := m.Get(20)
	if !ok || v.Offset != 2 {
		t.Fatalf("expected attached key 20, got %+v ok=%v", v, ok)
	}
}
