// Package cdc models the change-data-capture operation log: one record
// per mutating table call, carrying the already-serialized row bytes and
// the index events the mutation produced, ready for the persistence
// task's batcher (spec §4.4).
package cdc

import (
	"github.com/gowt/worktable/indexmap"
	"github.com/gowt/worktable/link"
)

// IndexEvent is a type-erased indexmap.ChangeEvent: the persistence
// batcher manipulates events across every index in the schema without
// knowing each index's key type, so keys and values cross this boundary
// as `any` (spec §9 "a capability set implemented once per generated
// struct" — here implemented once, directly, since Go generics cannot
// range over a schema's heterogeneous set of key types at this layer).
type IndexEvent struct {
	Index      string
	ID         link.IndexChangeEventId
	Kind       indexmap.ChangeEventKind
	NodeID     any
	PrevNodeID any
	NewNodeID  any
	Key        any
	Value      any
	Pos        int
}

// FromChangeEvent erases a typed indexmap.ChangeEvent into an IndexEvent
// tagged with the index it came from.
func FromChangeEvent[K any, V any](index string, ev indexmap.ChangeEvent[K, V]) IndexEvent {
	return IndexEvent{
		Index:      index,
		ID:         ev.ID,
		Kind:       ev.Kind,
		NodeID:     ev.NodeID,
		PrevNodeID: ev.PrevNodeID,
		NewNodeID:  ev.NewNodeID,
		Key:        ev.Key,
		Value:      ev.Value,
		Pos:        ev.Index,
	}
}

// FromChangeEvents erases a whole batch of same-index events at once.
func FromChangeEvents[K any, V any](index string, evs []indexmap.ChangeEvent[K, V]) []IndexEvent {
	out := make([]IndexEvent, len(evs))
	for i, ev := range evs {
		out[i] = FromChangeEvent(index, ev)
	}
	return out
}
