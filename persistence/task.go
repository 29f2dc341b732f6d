package persistence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gowt/worktable/cdc"
	"github.com/gowt/worktable/link"
	"github.com/gowt/worktable/page"
)

// Committer is the space-file writer a Task drives through the 4-step
// commit order (spec §4.5). Implemented by the space package; kept as
// an interface here so persistence never imports space, avoiding an
// import cycle since space's reload path in turn depends on rowstore
// and indexmap, not on persistence.
type Committer interface {
	ApplyPrimaryEvents(evs []cdc.IndexEvent) error
	ApplySecondaryEvents(index string, evs []cdc.IndexEvent) error
	WriteDataPages(writes map[link.Link][]byte) error
	SetGeneratorState(gen page.GeneratorState)
	WriteSpaceInfo() error
}

// Config tunes the batcher's draining policy.
type Config struct {
	MaxBatchSize int
	MaxBatchWait time.Duration
	ValidateFn   ValidateEventsFunc
}

// DefaultConfig matches the spec's defaults: drain up to 256 ops or
// 10ms, whichever comes first, and a no-op validator (schema-generated
// tables supply their own invariant checks via ValidateFn).
func DefaultConfig() Config {
	return Config{
		MaxBatchSize: 256,
		MaxBatchWait: 10 * time.Millisecond,
		ValidateFn:   func(string, []cdc.IndexEvent) []link.IndexChangeEventId { return nil },
	}
}

// Task is the single-consumer background worker that drains the queue,
// batches, validates, and commits operations to a table's space files
// (spec §4.5).
type Task struct {
	queue     *Queue
	committer Committer
	cfg       Config
	last      *LastEventIds
	log       *zap.Logger

	waiters chan chan struct{}
	done    chan struct{}
}

// NewTask creates a persistence task bound to committer. Call Run in a
// goroutine to start draining.
func NewTask(committer Committer, cfg Config, log *zap.Logger) *Task {
	if log == nil {
		log = zap.NewNop()
	}
	return &Task{
		queue:     NewQueue(),
		committer: committer,
		cfg:       cfg,
		last:      NewLastEventIds(),
		log:       log,
		waiters:   make(chan chan struct{}, 16),
		done:      make(chan struct{}),
	}
}

// Enqueue pushes op onto the queue without blocking (the public table
// façade's only interaction with persistence on the hot path).
func (t *Task) Enqueue(op cdc.Operation) { t.queue.Push(op) }

// WaitForOps blocks until a drain leaves the queue empty, i.e. every
// operation enqueued before this call has been committed, or until ctx
// is done (spec §4.8 "wait_for_ops"). A batch whose commit fails is
// requeued, so WaitForOps keeps waiting rather than reporting the error.
func (t *Task) WaitForOps(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case t.waiters <- ack:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the queue in a loop until ctx is cancelled. Intended to run
// in its own goroutine, the table's dedicated consumer task (spec §5
// "one dedicated consumer task drains the persistence queue").
func (t *Task) Run(ctx context.Context) {
	defer close(t.done)
	ticker := time.NewTicker(t.cfg.MaxBatchWait)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.drainWaiters()
			return
		case <-t.queue.Wait():
		case <-ticker.C:
		}
		t.drainOnce()
		t.ackWaitersIfQueueEmpty()
	}
}

func (t *Task) drainWaiters() {
	for {
		select {
		case ack := <-t.waiters:
			close(ack)
		default:
			return
		}
	}
}

func (t *Task) ackWaitersIfQueueEmpty() {
	if t.queue.Len() > 0 {
		return
	}
	for {
		select {
		case ack := <-t.waiters:
			close(ack)
		default:
			return
		}
	}
}

// drainOnce pulls one batch and commits it, requeueing on continuity
// failure per spec §4.5.
func (t *Task) drainOnce() {
	entries := t.queue.drain(t.cfg.MaxBatchSize)
	if len(entries) == 0 {
		return
	}
	batch := BuildBatch(entries)
	Validate(batch, t.cfg.ValidateFn)

	maxAttempts := 0
	for _, e := range entries {
		if e.attempts > maxAttempts {
			maxAttempts = e.attempts
		}
	}

	ok, failedIndex := CheckContinuity(batch, t.last, maxAttempts)
	if !ok {
		t.log.Warn("batch rejected by continuity check, requeuing",
			zap.String("index", failedIndex), zap.Int("ops", len(entries)))
		for _, e := range entries {
			t.queue.requeue(e)
		}
		return
	}

	if err := t.commit(batch); err != nil {
		t.log.Error("batch commit failed, requeuing", zap.Error(err))
		for _, e := range entries {
			t.queue.requeue(e)
		}
		return
	}

	Commit(batch, t.last)
	t.log.Debug("batch committed", zap.Int("ops", len(batch.Ops)))
}

// commit applies the batch in the 4-step order the spec requires:
// primary index, secondary indexes, data pages, then space info.
func (t *Task) commit(batch *Batch) error {
	if len(batch.PrimaryKey) > 0 {
		if err := t.committer.ApplyPrimaryEvents(batch.PrimaryKey); err != nil {
			return err
		}
	}
	for _, name := range batch.Secondary.Indexes() {
		if err := t.committer.ApplySecondaryEvents(name, batch.Secondary.Events(name)); err != nil {
			return err
		}
	}
	writes := make(map[link.Link][]byte, len(batch.lastWrite))
	for l, pos := range batch.lastWrite {
		writes[l] = batch.Ops[pos].Bytes
	}
	if err := t.committer.WriteDataPages(writes); err != nil {
		return err
	}
	if batch.GenState != nil {
		t.committer.SetGeneratorState(*batch.GenState)
	}
	return t.committer.WriteSpaceInfo()
}
