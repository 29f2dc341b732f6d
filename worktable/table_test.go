package worktable

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gowt/worktable/indexmap"
	"github.com/gowt/worktable/page"
	"github.com/gowt/worktable/persistence"
	"github.com/gowt/worktable/schema"
	"github.com/gowt/worktable/space"
)

type widget struct {
	ID   uint64
	Name string
	Qty  uint64
}

type widgetCodec struct{}

func (widgetCodec) Encode(w widget) ([]byte, error) {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[0:], w.ID)
	binary.LittleEndian.PutUint64(buf[8:], w.Qty)
	name := make([]byte, 8)
	copy(name, w.Name)
	copy(buf[16:], name)
	return buf, nil
}

func (widgetCodec) Decode(buf []byte) (widget, error) {
	if len(buf) != 24 {
		return widget{}, errors.New("bad widget length")
	}
	name := string(buf[16:24])
	for i := len(name) - 1; i >= 0 && name[i] == 0; i-- {
		name = name[:i]
	}
	return widget{
		ID:   binary.LittleEndian.Uint64(buf[0:]),
		Qty:  binary.LittleEndian.Uint64(buf[8:]),
		Name: name,
	}, nil
}

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

func stringCmp(a, b any) int {
	as, bs := a.(string), b.(string)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func newTestSchema(persist bool) schema.TableSchema {
	return schema.TableSchema{
		TableName: "widgets",
		Columns: []schema.ColumnDesc{
			{Name: "id", TypeName: "uint64", PrimaryKey: true, Generator: schema.GeneratorAutoincrement},
			{Name: "name", TypeName: "string"},
			{Name: "qty", TypeName: "uint64"},
		},
		Indexes: []schema.IndexDesc{{Name: "by_name", Column: "name", Unique: true}},
		Config:  schema.DefaultConfig(),
		Persist: persist,
	}
}

func newTestConfig(persist bool) Config[widget, uint64] {
	return Config[widget, uint64]{
		Schema:          newTestSchema(persist),
		RowCodec:        widgetCodec{},
		PKOf:            func(w widget) uint64 { return w.ID },
		PKCompare:       uint64Cmp,
		PKPolicy:        indexmap.Policy[uint64]{MaxEntries: 64},
		PKFromGenerator: func(v uint64) uint64 { return v },
		GeneratorKind:   schema.GeneratorAutoincrement,
		Secondary: []SecondaryIndex[widget]{
			{
				Name:    "by_name",
				Unique:  true,
				KeyOf:   func(w widget) any { return w.Name },
				Compare: stringCmp,
			},
		},
	}
}

func TestInsertSelectAndCount(t *testing.T) {
	tbl, err := New(newTestConfig(false))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	pk, err := tbl.Insert(widget{ID: 1, Name: "bolt", Qty: 10})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if pk != 1 {
		t.Fatalf("expected pk 1, got %d", pk)
	}
	if tbl.Count() != 1 {
		t.Fatalf("expected count 1, got %d", tbl.Count())
	}

	got, err := tbl.Select(1)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got.Name != "bolt" || got.Qty != 10 {
		t.Fatalf("unexpected row: %+v", got)
	}
}

func TestSelectMissingReturnsNotFound(t *testing.T) {
	tbl, _ := New(newTestConfig(false))
	if _, err := tbl.Select(99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertDuplicatePrimaryKeyFails(t *testing.T) {
	tbl, _ := New(newTestConfig(false))
	if _, err := tbl.Insert(widget{ID: 1, Name: "bolt"}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := tbl.Insert(widget{ID: 1, Name: "nut"}); err == nil {
		t.Fatalf("expected a duplicate primary key to be rejected")
	}
}

func TestInsertDuplicateSecondaryRollsBackPrimary(t *testing.T) {
	tbl, _ := New(newTestConfig(false))
	if _, err := tbl.Insert(widget{ID: 1, Name: "bolt"}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := tbl.Insert(widget{ID: 2, Name: "bolt"}); err == nil {
		t.Fatalf("expected the unique secondary index to reject a repeated name")
	}

	if tbl.Count() != 1 {
		t.Fatalf("expected the rolled-back insert to leave count at 1, got %d", tbl.Count())
	}
	if _, err := tbl.Select(2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected the rolled-back row to be absent, got %v", err)
	}
	// the primary key should be free again for a fresh insert
	if _, err := tbl.Insert(widget{ID: 2, Name: "nut"}); err != nil {
		t.Fatalf("expected pk 2 to be reusable after rollback: %v", err)
	}
}

func TestUpdateInPlace(t *testing.T) {
	tbl, _ := New(newTestConfig(false))
	if _, err := tbl.Insert(widget{ID: 1, Name: "bolt", Qty: 1}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tbl.Update(1, widget{ID: 1, Name: "bolt", Qty: 2}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := tbl.Select(1)
	if got.Qty != 2 {
		t.Fatalf("expected updated qty 2, got %d", got.Qty)
	}
}

func TestUpdateMissingFails(t *testing.T) {
	tbl, _ := New(newTestConfig(false))
	if err := tbl.Update(1, widget{ID: 1, Name: "bolt"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteThenReinsert(t *testing.T) {
	tbl, _ := New(newTestConfig(false))
	if _, err := tbl.Insert(widget{ID: 1, Name: "bolt"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tbl.Delete(1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := tbl.Delete(1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected a second delete to fail with ErrNotFound, got %v", err)
	}
	if _, err := tbl.Reinsert(widget{ID: 1, Name: "bolt again"}); err != nil {
		t.Fatalf("reinsert: %v", err)
	}
	got, err := tbl.Select(1)
	if err != nil || got.Name != "bolt again" {
		t.Fatalf("expected reinserted row, got %+v, %v", got, err)
	}
}

func TestUpsertInsertsThenUpdates(t *testing.T) {
	tbl, _ := New(newTestConfig(false))
	if err := tbl.Upsert(widget{ID: 1, Name: "bolt", Qty: 1}); err != nil {
		t.Fatalf("upsert insert: %v", err)
	}
	if err := tbl.Upsert(widget{ID: 1, Name: "bolt", Qty: 9}); err != nil {
		t.Fatalf("upsert update: %v", err)
	}
	got, _ := tbl.Select(1)
	if got.Qty != 9 {
		t.Fatalf("expected qty 9 after upsert update, got %d", got.Qty)
	}
	if tbl.Count() != 1 {
		t.Fatalf("expected exactly one row after upsert-then-upsert, got %d", tbl.Count())
	}
}

func TestSelectAllAndIterWithAscendingOrder(t *testing.T) {
	tbl, _ := New(newTestConfig(false))
	for i, name := range []string{"c", "a", "b"} {
		if _, err := tbl.Insert(widget{ID: uint64(i + 1), Name: name}); err != nil {
			t.Fatalf("insert %s: %v", name, err)
		}
	}

	rows, err := tbl.SelectAll()
	if err != nil {
		t.Fatalf("select all: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	for i := range rows {
		if rows[i].ID != uint64(i+1) {
			t.Fatalf("expected ascending primary-key order, got %+v", rows)
		}
	}

	var seen []uint64
	if err := tbl.IterWith(func(w widget) bool {
		seen = append(seen, w.ID)
		return true
	}); err != nil {
		t.Fatalf("iter with: %v", err)
	}
	if len(seen) != 3 {
		t.Fatalf("expected iter_with to visit 3 rows, got %d", len(seen))
	}
}

func TestIterWithAsyncReportsPerRowError(t *testing.T) {
	tbl, _ := New(newTestConfig(false))
	tbl.Insert(widget{ID: 1, Name: "bolt"})
	tbl.Insert(widget{ID: 2, Name: "nut"})

	boom := errors.New("boom")
	err := tbl.IterWithAsync(context.Background(), func(_ context.Context, w widget) error {
		if w.ID == 2 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the per-row error to surface, got %v", err)
	}
}

func TestGetNextPKPeeksWithoutConsuming(t *testing.T) {
	tbl, _ := New(newTestConfig(false))
	first, err := tbl.GetNextPK()
	if err != nil {
		t.Fatalf("get next pk: %v", err)
	}
	if first != 1 {
		t.Fatalf("expected first next pk 1, got %d", first)
	}
	// peeking twice without inserting must not advance the counter
	second, _ := tbl.GetNextPK()
	if second != first {
		t.Fatalf("expected repeated peeks to return the same value, got %d then %d", first, second)
	}

	if _, err := tbl.Insert(widget{ID: first, Name: "bolt"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	next, _ := tbl.GetNextPK()
	if next != first+1 {
		t.Fatalf("expected next pk to advance to %d after insert, got %d", first+1, next)
	}
}

func newPersistentFiles() space.Files {
	return space.Files{
		Info:      space.NewMemFile(),
		Data:      space.NewMemFile(),
		Primary:   space.NewMemFile(),
		Secondary: map[string]space.StorageFile{"by_name": space.NewMemFile()},
	}
}

func TestInsertThenWaitForOpsThenLoadFromFile(t *testing.T) {
	files := newPersistentFiles()
	cfg := newTestConfig(true)
	cfg.PKCodec = space.IndexCodec{Sized: true, Key: page.Erase[uint64](page.Uint64Codec{})}
	cfg.Secondary[0].Codec = space.IndexCodec{Sized: false, Unsized: page.EraseUnsized[string](page.StringCodec{})}
	cfg.Files = files
	cfg.PersistenceConfig = persistence.DefaultConfig()

	tbl, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer tbl.Close()

	for i := uint64(1); i <= 50; i++ {
		w := widget{ID: i, Name: nameFor(i), Qty: i * 2}
		if _, err := tbl.Insert(w); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tbl.WaitForOps(waitCtx); err != nil {
		t.Fatalf("wait for ops: %v", err)
	}
	tbl.Close()

	reloadCfg := newTestConfig(true)
	reloadCfg.PKCodec = cfg.PKCodec
	reloadCfg.Secondary[0].Codec = cfg.Secondary[0].Codec
	reloadCfg.Files = files
	reloadCfg.PersistenceConfig = persistence.DefaultConfig()

	reloaded, err := LoadFromFile(reloadCfg)
	if err != nil {
		t.Fatalf("load from file: %v", err)
	}
	defer reloaded.Close()

	if reloaded.Count() != 50 {
		t.Fatalf("expected 50 resident rows after reload, got %d", reloaded.Count())
	}
	got, err := reloaded.Select(25)
	if err != nil {
		t.Fatalf("select after reload: %v", err)
	}
	if got.Name != nameFor(25) || got.Qty != 50 {
		t.Fatalf("unexpected row after reload: %+v", got)
	}
	next, err := reloaded.GetNextPK()
	if err != nil {
		t.Fatalf("get next pk after reload: %v", err)
	}
	if next != 51 {
		t.Fatalf("expected next pk 51 after reloading 50 rows, got %d", next)
	}
}

func nameFor(i uint64) string {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, i)
	return string(buf)
}

// TestConcurrentUpdateWithSerializesIncrements exercises §8 S4: two
// goroutines each performing 10000 in-place increments on the same row
// must serialize through the row's full lock rather than lose updates.
func TestConcurrentUpdateWithSerializesIncrements(t *testing.T) {
	tbl, _ := New(newTestConfig(false))
	if _, err := tbl.Insert(widget{ID: 1, Name: "counter", Qty: 0}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	const perGoroutine = 10000
	increment := func(w widget) widget {
		w.Qty++
		return w
	}

	var wg sync.WaitGroup
	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				if err := tbl.UpdateWith(1, increment); err != nil {
					t.Errorf("update with: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, err := tbl.Select(1)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got.Qty != 2*perGoroutine {
		t.Fatalf("expected qty %d after concurrent increments, got %d", 2*perGoroutine, got.Qty)
	}
}

// TestAscendingSecondaryInsertsSurviveNodeSplits exercises S6: inserting
// enough ascending secondary keys to force node splits must still let
// the persistence task accept every batch (the continuity checker's
// +2-on-SplitNode allowance), never stalling wait_for_ops.
func TestAscendingSecondaryInsertsSurviveNodeSplits(t *testing.T) {
	s := schema.TableSchema{
		TableName: "split_widgets",
		Columns: []schema.ColumnDesc{
			{Name: "id", TypeName: "uint64", PrimaryKey: true, Generator: schema.GeneratorAutoincrement},
			{Name: "name", TypeName: "string"},
			{Name: "qty", TypeName: "uint64"},
		},
		Indexes: []schema.IndexDesc{{Name: "by_name", Column: "name", Unique: false}},
		Config:  schema.DefaultConfig(),
		Persist: true,
	}
	cfg := Config[widget, uint64]{
		Schema:          s,
		RowCodec:        widgetCodec{},
		PKOf:            func(w widget) uint64 { return w.ID },
		PKCompare:       uint64Cmp,
		PKPolicy:        indexmap.Policy[uint64]{MaxEntries: 64},
		PKFromGenerator: func(v uint64) uint64 { return v },
		GeneratorKind:   schema.GeneratorAutoincrement,
		Secondary: []SecondaryIndex[widget]{
			{
				Name:   "by_name",
				Unique: false,
				KeyOf:  func(w widget) any { return w.Name },
				// a small node capacity forces frequent splits over 1000
				// ascending string keys, instead of one giant node.
				Compare: stringCmp,
				Policy:  indexmap.Policy[any]{MaxEntries: 8},
				Codec:   space.IndexCodec{Sized: false, Unsized: page.EraseUnsized[string](page.StringCodec{})},
			},
		},
		PKCodec:           space.IndexCodec{Sized: true, Key: page.Erase[uint64](page.Uint64Codec{})},
		Files:             newPersistentFiles(),
		PersistenceConfig: persistence.DefaultConfig(),
	}

	tbl, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer tbl.Close()

	const n = 1000
	for i := uint64(1); i <= n; i++ {
		if _, err := tbl.Insert(widget{ID: i, Name: nameFor(i), Qty: i}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tbl.WaitForOps(ctx); err != nil {
		t.Fatalf("wait for ops: %v (split batches should eventually be accepted)", err)
	}
	if tbl.Count() != n {
		t.Fatalf("expected %d resident rows, got %d", n, tbl.Count())
	}
}
