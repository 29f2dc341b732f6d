// Package worktable wires the paged row store, index maps, row-lock
// manager, and persistence task into the public table façade (spec
// §4.8). Grounded on the teacher's top-level Collection type
// (storage/pager.go's CollectionMeta-backed object, the thing a caller
// actually opens and calls Insert/Select/Delete on), generalized from a
// hand-rolled SQL-document table to a generic, schema-driven one.
package worktable

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/gowt/worktable/cdc"
	"github.com/gowt/worktable/indexmap"
	"github.com/gowt/worktable/link"
	"github.com/gowt/worktable/page"
	"github.com/gowt/worktable/persistence"
	"github.com/gowt/worktable/rowlock"
	"github.com/gowt/worktable/rowstore"
	"github.com/gowt/worktable/schema"
	"github.com/gowt/worktable/space"
)

// SecondaryIndex describes one secondary index over Row (spec §6
// "indexes"). KeyOf projects a row to its indexed value; Compare orders
// two such values the way indexmap.CompareFunc requires. Codec is the
// erased page codec space needs to persist the index (nil for a
// non-persistent table).
type SecondaryIndex[Row any] struct {
	Name    string
	Unique  bool
	KeyOf   func(Row) any
	Compare func(a, b any) int
	Codec   space.IndexCodec
	Policy  indexmap.Policy[any]
}

type secondaryState[Row any] struct {
	def    SecondaryIndex[Row]
	unique *indexmap.IndexMap[any, link.Link]
	multi  *indexmap.IndexMultiMap[any]
}

func newSecondaryState[Row any](def SecondaryIndex[Row]) *secondaryState[Row] {
	s := &secondaryState[Row]{def: def}
	if def.Unique {
		s.unique = indexmap.New[any, link.Link](def.Compare, def.Policy)
	} else {
		s.multi = indexmap.NewMultiMap[any](def.Compare, def.Policy)
	}
	return s
}

func (s *secondaryState[Row]) insert(key any, l link.Link) ([]cdc.IndexEvent, error) {
	if s.def.Unique {
		evs, err := s.unique.InsertChecked(key, l)
		if err != nil {
			return nil, err
		}
		return cdc.FromChangeEvents(s.def.Name, evs), nil
	}
	return cdc.FromChangeEvents(s.def.Name, s.multi.InsertLink(key, l)), nil
}

func (s *secondaryState[Row]) remove(key any, l link.Link) []cdc.IndexEvent {
	if s.def.Unique {
		evs, err := s.unique.Remove(key)
		if err != nil {
			return nil
		}
		return cdc.FromChangeEvents(s.def.Name, evs)
	}
	evs, _ := s.multi.RemoveLink(key, l)
	return cdc.FromChangeEvents(s.def.Name, evs)
}

// Config is everything New/LoadFromFile needs to stand up one table.
type Config[Row any, PK comparable] struct {
	Schema    schema.TableSchema
	RowCodec  rowstore.Codec[Row]
	PKOf      func(Row) PK
	PKCompare func(a, b PK) int
	PKPolicy  indexmap.Policy[PK]
	// PKCodec is required when Schema.Persist is true: the erased page
	// codec for the primary key, e.g. page.Erase[uint64](page.Uint64Codec{}).
	PKCodec space.IndexCodec
	// PKFromGenerator converts an autoincrement counter value into PK,
	// required for GetNextPK to work with a GeneratorAutoincrement schema.
	PKFromGenerator func(uint64) PK
	GeneratorKind   schema.GeneratorKind
	Secondary       []SecondaryIndex[Row]
	// Files backs the space package's durable files; required when
	// Schema.Persist is true.
	Files             space.Files
	PersistenceConfig persistence.Config
	Logger            *zap.Logger
}

// Table is the generic, schema-driven table façade (spec §4.8), wiring
// a paged row store, a primary index map, zero or more secondary
// indexes, a row-lock manager, and (when the schema asks for
// persistence) a background persistence task.
type Table[Row any, PK comparable] struct {
	name      string
	pageSize  int
	pkOf      func(Row) PK
	pkCompare func(a, b PK) int
	pkFromGen func(uint64) PK

	rows      *rowstore.Store[Row]
	primary   *indexmap.IndexMap[PK, link.Link]
	secondary map[string]*secondaryState[Row]

	locks *rowlock.Manager
	gen   *schema.Generator

	persist    bool
	task       *persistence.Task
	taskCancel context.CancelFunc
	space      *space.Space

	log *zap.Logger
	mu  sync.RWMutex
}

// New creates an empty table from cfg (spec §4.8 "new").
func New[Row any, PK comparable](cfg Config[Row, PK]) (*Table[Row, PK], error) {
	if err := cfg.Schema.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	t := &Table[Row, PK]{
		name:      cfg.Schema.TableName,
		pageSize:  cfg.Schema.Config.PageSize,
		pkOf:      cfg.PKOf,
		pkCompare: cfg.PKCompare,
		pkFromGen: cfg.PKFromGenerator,
		rows:      rowstore.New[Row](cfg.Schema.Config.PageSize, cfg.RowCodec),
		primary:   indexmap.New[PK, link.Link](cfg.PKCompare, cfg.PKPolicy),
		secondary: make(map[string]*secondaryState[Row], len(cfg.Secondary)),
		locks:     rowlock.NewManager(),
		gen:       schema.NewGenerator(cfg.GeneratorKind),
		persist:   cfg.Schema.Persist,
		log:       log,
	}
	for _, def := range cfg.Secondary {
		t.secondary[def.Name] = newSecondaryState(def)
	}

	if t.persist {
		sp, err := space.Bootstrap(spaceConfigFor(cfg), cfg.Files)
		if err != nil {
			return nil, err
		}
		sp.SetSchema(cfg.Schema.ColumnDescriptors(), cfg.Schema.PrimaryKeyFields(), cfg.Schema.IndexDescriptors(), t.gen.State())
		t.space = sp
		t.startPersistence(cfg.PersistenceConfig)
	}
	return t, nil
}

// LoadFromFile reopens a persisted table, rebuilding every in-memory
// structure from its space files (spec §4.8 "load_from_file", §4.7
// "Load").
func LoadFromFile[Row any, PK comparable](cfg Config[Row, PK]) (*Table[Row, PK], error) {
	if err := cfg.Schema.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	sp, err := space.Load(spaceConfigFor(cfg), cfg.Files)
	if err != nil {
		return nil, err
	}
	dataPages, err := sp.LoadDataPages()
	if err != nil {
		return nil, err
	}

	t := &Table[Row, PK]{
		name:      cfg.Schema.TableName,
		pageSize:  cfg.Schema.Config.PageSize,
		pkOf:      cfg.PKOf,
		pkCompare: cfg.PKCompare,
		pkFromGen: cfg.PKFromGenerator,
		rows:      rowstore.FromDataPages[Row](cfg.Schema.Config.PageSize, cfg.RowCodec, dataPages),
		primary:   indexmap.New[PK, link.Link](cfg.PKCompare, cfg.PKPolicy),
		secondary: make(map[string]*secondaryState[Row], len(cfg.Secondary)),
		locks:     rowlock.NewManager(),
		persist:   true,
		space:     sp,
		log:       log,
	}
	t.rows.RestoreEmptyLinks(sp.Info().EmptyDataLinks)
	t.gen = schema.LoadGenerator(sp.Info().Generator)

	sp.AttachPrimaryTo(func(nodeID any, keys []any, linkSets [][]link.Link) {
		typedKeys := make([]PK, len(keys))
		typedLinks := make([]link.Link, len(linkSets))
		for i := range keys {
			typedKeys[i] = keys[i].(PK)
			typedLinks[i] = linkSets[i][0]
		}
		t.primary.AttachNode(nodeID.(PK), typedKeys, typedLinks)
	})

	for _, def := range cfg.Secondary {
		st := newSecondaryState(def)
		t.secondary[def.Name] = st
		err := sp.AttachSecondaryTo(def.Name, func(nodeID any, keys []any, linkSets [][]link.Link) {
			if st.unique != nil {
				typedLinks := make([]link.Link, len(linkSets))
				for i := range linkSets {
					typedLinks[i] = linkSets[i][0]
				}
				st.unique.AttachNode(nodeID, keys, typedLinks)
			} else {
				st.multi.AttachNode(nodeID, keys, linkSets)
			}
		})
		if err != nil {
			return nil, err
		}
	}

	t.startPersistence(cfg.PersistenceConfig)
	return t, nil
}

func spaceConfigFor[Row any, PK comparable](cfg Config[Row, PK]) space.Config {
	sec := make(map[string]space.IndexCodec, len(cfg.Secondary))
	for _, def := range cfg.Secondary {
		codec := def.Codec
		codec.Multi = !def.Unique
		sec[def.Name] = codec
	}
	return space.Config{
		TableName: cfg.Schema.TableName,
		PageSize:  cfg.Schema.Config.PageSize,
		Primary:   cfg.PKCodec,
		Secondary: sec,
	}
}

func (t *Table[Row, PK]) startPersistence(cfg persistence.Config) {
	t.task = persistence.NewTask(t.space, cfg, t.log)
	ctx, cancel := context.WithCancel(context.Background())
	t.taskCancel = cancel
	go t.task.Run(ctx)
}

// Close stops the background persistence task, if any. Does not flush
// pending operations; call WaitForOps first if that matters.
func (t *Table[Row, PK]) Close() {
	if t.taskCancel != nil {
		t.taskCancel()
	}
}

// Name returns the table's name.
func (t *Table[Row, PK]) Name() string { return t.name }

// Count returns the number of resident rows.
func (t *Table[Row, PK]) Count() int { return t.primary.Len() }

// GetNextPK returns the primary key an autoincrement generator would
// assign to the next inserted row, without consuming it (spec §4.8
// "get_next_pk"). The caller is expected to embed this value in the row
// it passes to Insert; Insert then advances the counter to match. Fails
// if the schema has no generator wired.
func (t *Table[Row, PK]) GetNextPK() (PK, error) {
	var zero PK
	if t.gen.Kind() == schema.GeneratorNone || t.pkFromGen == nil {
		return zero, fmt.Errorf("worktable: table %q has no primary-key generator configured", t.name)
	}
	return t.pkFromGen(t.gen.Peek()), nil
}

// Select returns the row at pk (spec §4.8 "select").
func (t *Table[Row, PK]) Select(pk PK) (Row, error) {
	var zero Row
	l, ok := t.primary.Get(pk)
	if !ok {
		return zero, ErrNotFound
	}
	return t.rows.Select(l)
}

// SelectAll returns every resident row in ascending primary-key order
// (spec §4.8 "select_all").
func (t *Table[Row, PK]) SelectAll() ([]Row, error) {
	rows := make([]Row, 0, t.primary.Len())
	var firstErr error
	t.primary.Iter(func(_ PK, l link.Link) bool {
		row, err := t.rows.Select(l)
		if err != nil {
			firstErr = err
			return false
		}
		rows = append(rows, row)
		return true
	})
	return rows, firstErr
}

// IterWith calls fn for every resident row in ascending primary-key
// order, stopping early if fn returns false (spec §4.8 "iter_with").
func (t *Table[Row, PK]) IterWith(fn func(Row) bool) error {
	var firstErr error
	t.primary.Iter(func(_ PK, l link.Link) bool {
		row, err := t.rows.Select(l)
		if err != nil {
			firstErr = err
			return false
		}
		return fn(row)
	})
	return firstErr
}

// IterWithAsync dispatches fn over every resident row concurrently,
// mirroring the Rust original's iter_with_async (spec §4.8), and returns
// the first error reported by any call (order unspecified, since the
// calls themselves race). ctx is passed through to fn so callers can
// cancel long-running per-row work.
func (t *Table[Row, PK]) IterWithAsync(ctx context.Context, fn func(context.Context, Row) error) error {
	rows, err := t.SelectAll()
	if err != nil {
		return err
	}
	var wg sync.WaitGroup
	errs := make([]error, len(rows))
	for i, row := range rows {
		wg.Add(1)
		go func(i int, row Row) {
			defer wg.Done()
			errs[i] = fn(ctx, row)
		}(i, row)
	}
	wg.Wait()
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

// WaitForOps blocks until every operation enqueued before this call has
// been durably committed (spec §4.8 "wait_for_ops"). A no-op for a
// non-persistent table.
func (t *Table[Row, PK]) WaitForOps(ctx context.Context) error {
	if !t.persist {
		return nil
	}
	return t.task.WaitForOps(ctx)
}

// Insert adds row, enforcing primary-key and unique-secondary-index
// constraints, rolling back any partial index insertion on failure (spec
// §4.8 "insert", §7 "uniqueness violation ... engine rolls back").
func (t *Table[Row, PK]) Insert(row Row) (PK, error) {
	pk := t.pkOf(row)
	lock, preexisting := t.locks.AcquireFull(pk, nil)
	defer t.locks.Release(pk, lock)
	for _, l := range preexisting {
		l.Wait()
	}

	if _, ok := t.primary.Get(pk); ok {
		return pk, &AlreadyExistsError{At: "primary"}
	}

	l, bytes, err := t.rows.InsertCDC(row)
	if err != nil {
		return pk, err
	}

	inserted := make([]string, 0, len(t.secondary))
	rollback := func() {
		t.rows.Delete(l)
		for _, name := range inserted {
			st := t.secondary[name]
			st.remove(st.def.KeyOf(row), l)
		}
	}

	pkEvents, err := t.primary.InsertChecked(pk, l)
	if err != nil {
		rollback()
		return pk, &AlreadyExistsError{At: "primary"}
	}

	secEvents := cdc.NewSecondaryEvents()
	for name, st := range t.secondary {
		key := st.def.KeyOf(row)
		evs, err := st.insert(key, l)
		if err != nil {
			t.primary.Remove(pk)
			rollback()
			return pk, &AlreadyExistsError{At: name, InsertedAlready: inserted}
		}
		secEvents.Extend(name, evs)
		inserted = append(inserted, name)
	}

	var genState *page.GeneratorState
	if t.gen.Kind() != schema.GeneratorNone {
		// Advance the bookkeeping counter to match the row the caller
		// just inserted (the caller obtained this pk from GetNextPK).
		t.gen.Next()
		st := t.gen.State()
		genState = &st
	}

	if t.persist {
		opID, err := link.NewOperationId(link.OriginSingle)
		if err != nil {
			return pk, err
		}
		op := cdc.NewInsert(opID, l, cdc.FromChangeEvents("primary", pkEvents), secEvents, genState, bytes)
		t.task.Enqueue(op)
	}
	return pk, nil
}

// Reinsert is the table-façade entry point for recreating a row at a
// primary key that was previously deleted (spec §4.8 "reinsert"): the
// row-store free-link stack already transparently reuses the same Link
// when the new row's serialized length matches, so this is semantically
// identical to Insert here.
func (t *Table[Row, PK]) Reinsert(row Row) (PK, error) {
	return t.Insert(row)
}

// Upsert inserts row if its primary key is absent, or updates the
// existing row otherwise (spec §4.8 "upsert").
func (t *Table[Row, PK]) Upsert(row Row) error {
	pk := t.pkOf(row)
	if _, ok := t.primary.Get(pk); ok {
		return t.Update(pk, row)
	}
	_, err := t.Insert(row)
	return err
}

// Update replaces the row at pk with row in place. Fails with
// rowstore.ErrInvalidLink if row's serialized length differs from the
// resident row's (spec §4.1 "update": callers wanting to resize must
// delete and insert instead).
func (t *Table[Row, PK]) Update(pk PK, row Row) error {
	lock, preexisting := t.locks.AcquireFull(pk, nil)
	defer t.locks.Release(pk, lock)
	for _, l := range preexisting {
		l.Wait()
	}

	l, ok := t.primary.Get(pk)
	if !ok {
		return ErrNotFound
	}
	oldRow, err := t.rows.Select(l)
	if err != nil {
		return err
	}
	return t.applyUpdate(l, oldRow, row)
}

// UpdateWith atomically reads the row at pk, applies fn, and writes the
// result back, holding pk's full row lock for the entire read-modify-
// write (spec §4.8's in-place "update_val_by_id"-style queries, §8 S4:
// two goroutines each performing 10000 increments on the same pk must
// serialize rather than lose updates). Plain Update cannot serve this —
// it re-reads the resident row itself but takes the new row value from
// the caller, who would otherwise have read it outside the lock.
func (t *Table[Row, PK]) UpdateWith(pk PK, fn func(Row) Row) error {
	lock, preexisting := t.locks.AcquireFull(pk, nil)
	defer t.locks.Release(pk, lock)
	for _, l := range preexisting {
		l.Wait()
	}

	l, ok := t.primary.Get(pk)
	if !ok {
		return ErrNotFound
	}
	oldRow, err := t.rows.Select(l)
	if err != nil {
		return err
	}
	return t.applyUpdate(l, oldRow, fn(oldRow))
}

// applyUpdate writes row over the resident oldRow at l, reconciling
// secondary indexes and enqueuing a persistence op if needed. Callers
// must already hold the row's full lock.
func (t *Table[Row, PK]) applyUpdate(l link.Link, oldRow, row Row) error {
	bytes, err := t.rows.UpdateCDC(row, l)
	if err != nil {
		return err
	}

	secEvents := cdc.NewSecondaryEvents()
	for name, st := range t.secondary {
		oldKey := st.def.KeyOf(oldRow)
		newKey := st.def.KeyOf(row)
		if st.def.Compare(oldKey, newKey) == 0 {
			continue
		}
		evsIns, err := st.insert(newKey, l)
		if err != nil {
			return &AlreadyExistsError{At: name}
		}
		evsRem := st.remove(oldKey, l)
		secEvents.Extend(name, evsRem)
		secEvents.Extend(name, evsIns)
	}

	if t.persist {
		opID, err := link.NewOperationId(link.OriginSingle)
		if err != nil {
			return err
		}
		op := cdc.NewUpdate(opID, l, secEvents, bytes)
		t.task.Enqueue(op)
	}
	return nil
}

// Delete removes the row at pk (spec §4.8 "delete"). A second call for
// the same pk returns ErrNotFound (Testable Property 2).
func (t *Table[Row, PK]) Delete(pk PK) error {
	lock, preexisting := t.locks.AcquireFull(pk, nil)
	defer t.locks.Release(pk, lock)
	for _, l := range preexisting {
		l.Wait()
	}

	l, ok := t.primary.Get(pk)
	if !ok {
		return ErrNotFound
	}
	row, err := t.rows.Select(l)
	if err != nil {
		return err
	}

	pkEvents, err := t.primary.Remove(pk)
	if err != nil {
		return ErrNotFound
	}

	secEvents := cdc.NewSecondaryEvents()
	for name, st := range t.secondary {
		evs := st.remove(st.def.KeyOf(row), l)
		secEvents.Extend(name, evs)
	}

	t.rows.Delete(l)

	if t.persist {
		opID, err := link.NewOperationId(link.OriginSingle)
		if err != nil {
			return err
		}
		op := cdc.NewDelete(opID, l, cdc.FromChangeEvents("primary", pkEvents), secEvents)
		t.task.Enqueue(op)
	}
	return nil
}
