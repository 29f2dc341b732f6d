package indexmap

import (
	"testing"
)

func stringCmp(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func TestMultiMapAccumulatesLinksUnderOneKey(t *testing.T) {
	m := NewMultiMap[string](stringCmp, Policy[string]{MaxEntries: 8})

	events := m.InsertLink("active", lk(1))
	if len(events) != 1 || events[0].Kind != CreateNode {
		t.Fatalf("expected CreateNode on first link for a key, got %+v", events)
	}

	events = m.InsertLink("active", lk(2))
	if len(events) != 1 || events[0].Kind != InsertAt {
		t.Fatalf("expected an InsertAt value-update event adding a second link to an existing key, got %+v", events)
	}
	if events[0].NodeID != events[0].PrevNodeID {
		t.Fatalf("expected no rename on a value-only update, got %+v", events[0])
	}
	if set, ok := events[0].Value.(*LinkSet); !ok || set.Len() != 2 {
		t.Fatalf("expected event value to carry the full 2-link set, got %+v", events[0].Value)
	}

	set, ok := m.Get("active")
	if !ok || set.Len() != 2 {
		t.Fatalf("expected 2 links under 'active', got ok=%v len=%d", ok, set.Len())
	}
}

func TestMultiMapRemoveLinkDropsKeyWhenSetEmpties(t *testing.T) {
	m := NewMultiMap[string](stringCmp, Policy[string]{MaxEntries: 8})
	m.InsertLink("active", lk(1))
	m.InsertLink("active", lk(2))

	if _, err := m.RemoveLink("active", lk(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := m.Get("active"); !ok {
		t.Fatalf("expected key 'active' to survive with one link left")
	}

	events, err := m.RemoveLink("active", lk(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Kind != RemoveNode {
		t.Fatalf("expected RemoveNode once the set empties, got %+v", events)
	}
	if _, ok := m.Get("active"); ok {
		t.Fatalf("expected key 'active' to be gone")
	}
}

func TestMultiMapRemoveLinkUnknownKey(t *testing.T) {
	m := NewMultiMap[string](stringCmp, Policy[string]{MaxEntries: 8})
	if _, err := m.RemoveLink("missing", lk(1)); err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}
