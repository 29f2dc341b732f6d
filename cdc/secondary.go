package cdc

import (
	"sort"

	"github.com/gowt/worktable/indexmap"
	"github.com/gowt/worktable/link"
)

// SecondaryEvents is the schema-keyed struct of per-index event vectors
// (spec §4.4): one slice of IndexEvent per secondary index, plus the
// capability set (extend, remove, first_evs, ...) the batcher uses to
// manipulate them without caring which indexes exist.
type SecondaryEvents struct {
	byIndex map[string][]IndexEvent
}

// NewSecondaryEvents creates an empty event set.
func NewSecondaryEvents() *SecondaryEvents {
	return &SecondaryEvents{byIndex: make(map[string][]IndexEvent)}
}

// Extend appends evs to the vector for the given index.
func (s *SecondaryEvents) Extend(index string, evs []IndexEvent) {
	s.byIndex[index] = append(s.byIndex[index], evs...)
}

// Remove deletes every event whose ID matches id from the named index's
// vector, used by the validator to drop a contradicting event.
func (s *SecondaryEvents) Remove(index string, id link.IndexChangeEventId) {
	kept := s.byIndex[index][:0]
	for _, ev := range s.byIndex[index] {
		if ev.ID != id {
			kept = append(kept, ev)
		}
	}
	s.byIndex[index] = kept
}

// Indexes returns the names of every index with at least one event.
func (s *SecondaryEvents) Indexes() []string {
	names := make([]string, 0, len(s.byIndex))
	for name, evs := range s.byIndex {
		if len(evs) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Events returns the event vector for one index.
func (s *SecondaryEvents) Events(index string) []IndexEvent { return s.byIndex[index] }

// FirstEvs returns, per index, the event with the smallest ID.
func (s *SecondaryEvents) FirstEvs() map[string]IndexEvent {
	out := make(map[string]IndexEvent)
	for name, evs := range s.byIndex {
		if len(evs) == 0 {
			continue
		}
		first := evs[0]
		for _, ev := range evs[1:] {
			if ev.ID < first.ID {
				first = ev
			}
		}
		out[name] = first
	}
	return out
}

// LastEvs returns, per index, the event with the largest ID — the
// bookkeeping the continuity checker compares the next batch against.
func (s *SecondaryEvents) LastEvs() map[string]IndexEvent {
	out := make(map[string]IndexEvent)
	for name, evs := range s.byIndex {
		if len(evs) == 0 {
			continue
		}
		last := evs[0]
		for _, ev := range evs[1:] {
			if ev.ID > last.ID {
				last = ev
			}
		}
		out[name] = last
	}
	return out
}

// IterEventIDs calls fn for every (index, id) pair across all indexes.
func (s *SecondaryEvents) IterEventIDs(fn func(index string, id link.IndexChangeEventId)) {
	for name, evs := range s.byIndex {
		for _, ev := range evs {
			fn(name, ev.ID)
		}
	}
}

// ContainsEvent reports whether index has an event with the given id.
func (s *SecondaryEvents) ContainsEvent(index string, id link.IndexChangeEventId) bool {
	for _, ev := range s.byIndex[index] {
		if ev.ID == id {
			return true
		}
	}
	return false
}

// IsFirstEvIsSplit reports whether the first (lowest-id) event recorded
// for index is a SplitNode, the one case the continuity checker allows a
// 2-step gap for (spec §4.5).
func (s *SecondaryEvents) IsFirstEvIsSplit(index string) bool {
	first, ok := s.FirstEvs()[index]
	return ok && first.Kind == indexmap.SplitNode
}

// Sort orders every index's event vector ascending by ID, the form the
// batcher's validator and committer require.
func (s *SecondaryEvents) Sort() {
	for name := range s.byIndex {
		evs := s.byIndex[name]
		sort.Slice(evs, func(i, j int) bool { return evs[i].ID < evs[j].ID })
		s.byIndex[name] = evs
	}
}

// IsEmpty reports whether no index has any recorded event.
func (s *SecondaryEvents) IsEmpty() bool {
	for _, evs := range s.byIndex {
		if len(evs) > 0 {
			return false
		}
	}
	return true
}

// IsUnit reports whether exactly one index has exactly one event — the
// minimal non-empty shape, used by the batcher's fast path for
// single-row operations.
func (s *SecondaryEvents) IsUnit() bool {
	count := 0
	for _, evs := range s.byIndex {
		count += len(evs)
		if count > 1 {
			return false
		}
	}
	return count == 1
}

// Validate runs fn over every index's events, letting it report events
// that contradict an invariant (e.g. RemoveAt for an absent key); those
// are removed. Repeated by the batcher until a fixed point (spec §4.5
// "validate_events ... until a fixed point").
func (s *SecondaryEvents) Validate(fn func(index string, evs []IndexEvent) (rejected []link.IndexChangeEventId)) (removed int) {
	for _, name := range s.Indexes() {
		for _, id := range fn(name, s.byIndex[name]) {
			s.Remove(name, id)
			removed++
		}
	}
	return removed
}
