package cdc

import (
	"testing"

	"github.com/gowt/worktable/indexmap"
	"github.com/gowt/worktable/link"
)

func ev(id uint64, kind indexmap.ChangeEventKind) IndexEvent {
	return IndexEvent{Index: "by_name", ID: link.IndexChangeEventId(id), Kind: kind}
}

func TestSecondaryEventsExtendAndSort(t *testing.T) {
	s := NewSecondaryEvents()
	s.Extend("by_name", []IndexEvent{ev(3, indexmap.InsertAt), ev(1, indexmap.InsertAt), ev(2, indexmap.InsertAt)})
	s.Sort()

	evs := s.Events("by_name")
	if evs[0].ID != 1 || evs[1].ID != 2 || evs[2].ID != 3 {
		t.Fatalf("expected ascending order, got %+v", evs)
	}
}

func TestSecondaryEventsFirstAndLast(t *testing.T) {
	s := NewSecondaryEvents()
	s.Extend("by_name", []IndexEvent{ev(5, indexmap.InsertAt), ev(7, indexmap.RemoveAt)})

	first := s.FirstEvs()["by_name"]
	last := s.LastEvs()["by_name"]
	if first.ID != 5 || last.ID != 7 {
		t.Fatalf("unexpected first/last: %+v %+v", first, last)
	}
}

func TestSecondaryEventsRemove(t *testing.T) {
	s := NewSecondaryEvents()
	s.Extend("by_name", []IndexEvent{ev(1, indexmap.InsertAt), ev(2, indexmap.InsertAt)})
	s.Remove("by_name", 1)

	evs := s.Events("by_name")
	if len(evs) != 1 || evs[0].ID != 2 {
		t.Fatalf("expected only id 2 to remain, got %+v", evs)
	}
}

func TestSecondaryEventsIsEmptyAndIsUnit(t *testing.T) {
	s := NewSecondaryEvents()
	if !s.IsEmpty() {
		t.Fatalf("expected a fresh SecondaryEvents to be empty")
	}
	s.Extend("by_name", []IndexEvent{ev(1, indexmap.InsertAt)})
	if s.IsEmpty() {
		t.Fatalf("expected non-empty after Extend")
	}
	if !s.IsUnit() {
		t.Fatalf("expected a single event to be a unit")
	}
	s.Extend("by_age", []IndexEvent{ev(2, indexmap.InsertAt)})
	if s.IsUnit() {
		t.Fatalf("expected two events across indexes not to be a unit")
	}
}

func TestSecondaryEventsIsFirstEvIsSplit(t *testing.T) {
	s := NewSecondaryEvents()
	s.Extend("by_name", []IndexEvent{ev(1, indexmap.SplitNode), ev(2, indexmap.InsertAt)})
	if !s.IsFirstEvIsSplit("by_name") {
		t.Fatalf("expected the first event (lowest id) to be recognized as a split")
	}
}

func TestSecondaryEventsValidateRemovesRejected(t *testing.T) {
	s := NewSecondaryEvents()
	s.Extend("by_name", []IndexEvent{ev(1, indexmap.InsertAt), ev(2, indexmap.RemoveAt)})

	removed := s.Validate(func(index string, evs []IndexEvent) []link.IndexChangeEventId {
		var rejected []link.IndexChangeEventId
		for _, e := range evs {
			if e.Kind == indexmap.RemoveAt {
				rejected = append(rejected, e.ID)
			}
		}
		return rejected
	})
	if removed != 1 {
		t.Fatalf("expected 1 event removed, got %d", removed)
	}
	if s.ContainsEvent("by_name", 2) {
		t.Fatalf("expected event 2 to have been removed")
	}
	if !s.ContainsEvent("by_name", 1) {
		t.Fatalf("expected event 1 to survive")
	}
}

func TestOperationConstructors(t *testing.T) {
	id, err := link.NewOperationId(link.OriginSingle)
	if err != nil {
		t.Fatalf("new operation id: %v", err)
	}
	l := link.Link{PageID: 1, Offset: 0, Length: 10}
	sec := NewSecondaryEvents()

	insert := NewInsert(id, l, nil, sec, nil, []byte("row-bytes"))
	if insert.Kind != Insert || string(insert.Bytes) != "row-bytes" {
		t.Fatalf("unexpected insert operation: %+v", insert)
	}

	del := NewDelete(id, l, nil, sec)
	if del.Kind != Delete || del.Bytes != nil {
		t.Fatalf("expected delete to carry no bytes: %+v", del)
	}
}
