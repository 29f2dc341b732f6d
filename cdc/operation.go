package cdc

import (
	"github.com/gowt/worktable/link"
	"github.com/gowt/worktable/page"
)

// Kind tags an Operation's variant (spec §4.4).
type Kind byte

const (
	Insert Kind = iota
	Update
	Delete
)

func (k Kind) String() string {
	switch k {
	case Insert:
		return "Insert"
	case Update:
		return "Update"
	case Delete:
		return "Delete"
	default:
		return "Unknown"
	}
}

// Operation is one insert/update/delete record produced by a table call
// and pushed into the persistence task's queue. Modeled as a single
// product struct over the three variants rather than three separate Go
// types: only the fields relevant to Kind are populated, mirroring the
// same tagged-variant-plus-product-struct shape as indexmap.ChangeEvent.
type Operation struct {
	ID   link.OperationId
	Kind Kind
	Link link.Link

	// PrimaryKeyEvents is populated for Insert and Delete.
	PrimaryKeyEvents []IndexEvent
	// SecondaryEvents is populated for every kind.
	SecondaryEvents *SecondaryEvents
	// PKGenState is populated for Insert when the table uses a
	// generator, so the persistence task can persist the advanced
	// counter alongside the row.
	PKGenState *page.GeneratorState
	// Bytes is the already-serialized row, present for Insert/Update so
	// the persistence layer never re-serializes (spec §4.1 insert_cdc).
	Bytes []byte
}

// NewInsert builds an Insert operation.
func NewInsert(id link.OperationId, l link.Link, pkEvents []IndexEvent, secEvents *SecondaryEvents, gen *page.GeneratorState, bytes []byte) Operation {
	return Operation{
		ID:               id,
		Kind:             Insert,
		Link:             l,
		PrimaryKeyEvents: pkEvents,
		SecondaryEvents:  secEvents,
		PKGenState:       gen,
		Bytes:            bytes,
	}
}

// NewUpdate builds an Update operation: post-update serialized bytes,
// the secondary index events the update produced, at the row's
// unchanged Link (updates never move a row: spec §4.1 update()).
func NewUpdate(id link.OperationId, l link.Link, secEvents *SecondaryEvents, bytes []byte) Operation {
	return Operation{
		ID:              id,
		Kind:            Update,
		Link:            l,
		SecondaryEvents: secEvents,
		Bytes:           bytes,
	}
}

// NewDelete builds a Delete operation.
func NewDelete(id link.OperationId, l link.Link, pkEvents []IndexEvent, secEvents *SecondaryEvents) Operation {
	return Operation{
		ID:               id,
		Kind:             Delete,
		Link:             l,
		PrimaryKeyEvents: pkEvents,
		SecondaryEvents:  secEvents,
	}
}
