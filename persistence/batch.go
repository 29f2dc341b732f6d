package persistence

import (
	"github.com/gowt/worktable/cdc"
	"github.com/gowt/worktable/link"
	"github.com/gowt/worktable/page"
)

// Batch is a bounded set of operations to commit atomically (spec §4.5
// "Batching rule"): the ordered operations plus a side table mapping
// each Link to its last write, since only the last update/insert's
// bytes need to be written and deletes cancel earlier writes for the
// same Link within the batch.
type Batch struct {
	Ops        []cdc.Operation
	posByOpID  map[link.OperationId]int
	lastWrite  map[link.Link]int // index into Ops of the last insert/update for a link
	deleted    map[link.Link]bool
	PrimaryKey []cdc.IndexEvent
	Secondary  *cdc.SecondaryEvents
	// GenState is the furthest-advanced generator state among this
	// batch's inserts, nil if none carried one. Arrival order within a
	// batch is also generator-counter order, so the last non-nil value
	// wins.
	GenState *page.GeneratorState
}

// BuildBatch collapses a drained slice of queue entries into a Batch:
// walks operations in arrival order, keeping only the last write per
// Link and recording which links were ultimately deleted.
func BuildBatch(entries []queueEntry) *Batch {
	b := &Batch{
		posByOpID:  make(map[link.OperationId]int, len(entries)),
		lastWrite:  make(map[link.Link]int),
		deleted:    make(map[link.Link]bool),
		Secondary:  cdc.NewSecondaryEvents(),
		PrimaryKey: nil,
	}
	for _, e := range entries {
		op := e.op
		pos := len(b.Ops)
		b.Ops = append(b.Ops, op)
		b.posByOpID[op.ID] = pos

		switch op.Kind {
		case cdc.Insert, cdc.Update:
			b.lastWrite[op.Link] = pos
			delete(b.deleted, op.Link)
		case cdc.Delete:
			delete(b.lastWrite, op.Link)
			b.deleted[op.Link] = true
		}

		if op.PrimaryKeyEvents != nil {
			b.PrimaryKey = append(b.PrimaryKey, op.PrimaryKeyEvents...)
		}
		if op.SecondaryEvents != nil {
			for _, name := range op.SecondaryEvents.Indexes() {
				b.Secondary.Extend(name, op.SecondaryEvents.Events(name))
			}
		}
		if op.PKGenState != nil {
			b.GenState = op.PKGenState
		}
	}
	return b
}

// WritesFor returns the final (Link, bytes) pairs the batch must write
// to data pages: one entry per link that was written and not
// subsequently deleted within the batch (spec §4.5 "save_batch_data").
func (b *Batch) WritesFor() map[link.Link][]byte {
	out := make(map[link.Link][]byte, len(b.lastWrite))
	for l, pos := range b.lastWrite {
		out[l] = b.Ops[pos].Bytes
	}
	return out
}

// Deletes returns the links deleted within this batch.
func (b *Batch) Deletes() []link.Link {
	out := make([]link.Link, 0, len(b.deleted))
	for l := range b.deleted {
		out = append(out, l)
	}
	return out
}

// removeOp drops the operation with id opID from the batch's data writes
// and its events from the prepared event streams. Nothing in this
// package calls it: Validate removes rejected events only and leaves
// their originating operations in the batch.
func (b *Batch) removeOp(opID link.OperationId) {
	pos, ok := b.posByOpID[opID]
	if !ok {
		return
	}
	op := b.Ops[pos]
	delete(b.posByOpID, opID)

	kept := b.PrimaryKey[:0]
	for _, ev := range b.PrimaryKey {
		if belongsTo(ev, op) {
			continue
		}
		kept = append(kept, ev)
	}
	b.PrimaryKey = kept

	for _, name := range b.Secondary.Indexes() {
		var ids []link.IndexChangeEventId
		for _, ev := range b.Secondary.Events(name) {
			if belongsTo(ev, op) {
				ids = append(ids, ev.ID)
			}
		}
		for _, id := range ids {
			b.Secondary.Remove(name, id)
		}
	}

	if l, ok := b.lastWrite[op.Link]; ok && l == pos {
		delete(b.lastWrite, op.Link)
	}
}

func belongsTo(ev cdc.IndexEvent, op cdc.Operation) bool {
	for _, e := range op.PrimaryKeyEvents {
		if e.ID == ev.ID && e.Index == ev.Index {
			return true
		}
	}
	if op.SecondaryEvents != nil {
		return op.SecondaryEvents.ContainsEvent(ev.Index, ev.ID)
	}
	return false
}
