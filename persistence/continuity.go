package persistence

import (
	"github.com/gowt/worktable/cdc"
	"github.com/gowt/worktable/indexmap"
	"github.com/gowt/worktable/link"
)

// attemptsRelaxThreshold is the magic constant from the source (spec §9
// "Attempt threshold 8 ... treat as tunable"): past this many retries,
// the continuity check is relaxed for SplitNode gaps.
const attemptsRelaxThreshold = 8

// LastEventIds records, per index name, the id of the last event this
// table has committed — the bookkeeping the continuity checker compares
// the next batch's first event against (spec §4.5).
type LastEventIds struct {
	ids map[string]link.IndexChangeEventId
}

// NewLastEventIds creates an empty bookkeeping table.
func NewLastEventIds() *LastEventIds {
	return &LastEventIds{ids: make(map[string]link.IndexChangeEventId)}
}

// Get returns the last committed event id for index, or (0, false) if
// this index has not committed any event yet.
func (l *LastEventIds) Get(index string) (link.IndexChangeEventId, bool) {
	id, ok := l.ids[index]
	return id, ok
}

// Set records index's last committed event id.
func (l *LastEventIds) Set(index string, id link.IndexChangeEventId) {
	l.ids[index] = id
}

// ValidateEventsFunc mirrors the schema-side validate_events hook (spec
// §4.5): given one index's prepared, id-sorted event vector, return the
// ids of events that contradict an invariant (e.g. a RemoveAt for a key
// never inserted earlier in the applied stream) so the batcher can drop
// them and retry to a fixed point.
type ValidateEventsFunc func(index string, evs []cdc.IndexEvent) (rejected []link.IndexChangeEventId)

// Validate repeatedly applies fn to every index's secondary events (and
// to the primary-key event vector, under the reserved index name
// "primary") until no more events are rejected — the fixed point spec
// §4.5 describes.
func Validate(batch *Batch, fn ValidateEventsFunc) {
	primaryName := "primary"
	for {
		removed := batch.Secondary.Validate(fn)

		var rejected []link.IndexChangeEventId
		rejected = fn(primaryName, batch.PrimaryKey)
		if len(rejected) > 0 {
			kept := batch.PrimaryKey[:0]
			rejectedSet := make(map[link.IndexChangeEventId]bool, len(rejected))
			for _, id := range rejected {
				rejectedSet[id] = true
			}
			for _, ev := range batch.PrimaryKey {
				if !rejectedSet[ev.ID] {
					kept = append(kept, ev)
				}
			}
			batch.PrimaryKey = kept
			removed += len(rejected)
		}

		if removed == 0 {
			return
		}
	}
}

// CheckContinuity verifies that, for every index that produced events in
// this batch, the first event id is the predecessor's immediate
// successor. A single 2-step gap is tolerated when the first event of
// that index is a SplitNode (splits legitimately generate paired ids);
// once attempts exceeds attemptsRelaxThreshold, any gap is tolerated when
// the first event is a SplitNode (spec §4.5 "Continuity check").
func CheckContinuity(batch *Batch, last *LastEventIds, attempts int) (ok bool, failedIndex string) {
	firstBySecondary := batch.Secondary.FirstEvs()
	for name, first := range firstBySecondary {
		if !continuousFor(name, first.ID, first.Kind == indexmap.SplitNode, last, attempts) {
			return false, name
		}
	}
	if len(batch.PrimaryKey) > 0 {
		first := batch.PrimaryKey[0]
		for _, ev := range batch.PrimaryKey[1:] {
			if ev.ID < first.ID {
				first = ev
			}
		}
		if !continuousFor("primary", first.ID, first.Kind == indexmap.SplitNode, last, attempts) {
			return false, "primary"
		}
	}
	return true, ""
}

func continuousFor(index string, firstID link.IndexChangeEventId, firstIsSplit bool, last *LastEventIds, attempts int) bool {
	prev, ok := last.Get(index)
	if !ok {
		return true // first batch ever to touch this index
	}
	gap := firstID.Gap(prev)
	if gap == 1 {
		return true
	}
	if gap == 2 && firstIsSplit {
		return true
	}
	if attempts > attemptsRelaxThreshold && firstIsSplit {
		return true
	}
	return false
}

// Commit records the last event id per index once a batch has committed
// successfully, for the next batch's continuity check.
func Commit(batch *Batch, last *LastEventIds) {
	for name, ev := range batch.Secondary.LastEvs() {
		last.Set(name, ev.ID)
	}
	if len(batch.PrimaryKey) > 0 {
		maxID := batch.PrimaryKey[0].ID
		for _, ev := range batch.PrimaryKey[1:] {
			if ev.ID > maxID {
				maxID = ev.ID
			}
		}
		last.Set("primary", maxID)
	}
}
