package space

import (
	"testing"

	"github.com/gowt/worktable/cdc"
	"github.com/gowt/worktable/indexmap"
	"github.com/gowt/worktable/link"
	"github.com/gowt/worktable/page"
)

func testConfig() Config {
	return Config{
		TableName: "widgets",
		PageSize:  page.DefaultPageSize,
		Primary:   IndexCodec{Sized: true, Key: page.Erase[uint64](page.Uint64Codec{})},
	}
}

func testFiles() Files {
	return Files{
		Info:      NewMemFile(),
		Data:      NewMemFile(),
		Primary:   NewMemFile(),
		Secondary: map[string]StorageFile{},
	}
}

func TestBootstrapThenReloadEmptyTable(t *testing.T) {
	cfg := testConfig()
	files := testFiles()

	sp, err := Bootstrap(cfg, files)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := sp.WriteSpaceInfo(); err != nil {
		t.Fatalf("write space info: %v", err)
	}

	reloaded, err := Load(cfg, files)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if reloaded.Info().TableName != "widgets" {
		t.Fatalf("expected table name 'widgets', got %q", reloaded.Info().TableName)
	}
	if reloaded.Info().PageCount != 0 {
		t.Fatalf("expected 0 data pages for a freshly bootstrapped table, got %d", reloaded.Info().PageCount)
	}
}

func TestApplyPrimaryEventsThenReloadAttachesNodes(t *testing.T) {
	cfg := testConfig()
	files := testFiles()

	sp, err := Bootstrap(cfg, files)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	cmp := func(a, b uint64) int {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	}
	im := indexmap.New[uint64, link.Link](cmp, indexmap.Policy[uint64]{MaxEntries: 64})

	var evs []cdc.IndexEvent
	for i, key := range []uint64{10, 20, 30} {
		l := link.Link{PageID: 1, Offset: uint32(i * 16), Length: 16}
		evs = append(evs, cdc.FromChangeEvents("primary", im.Insert(key, l))...)
	}

	if err := sp.ApplyPrimaryEvents(evs); err != nil {
		t.Fatalf("apply primary events: %v", err)
	}
	if err := sp.WriteDataPages(map[link.Link][]byte{}); err != nil {
		t.Fatalf("write data pages: %v", err)
	}
	if err := sp.WriteSpaceInfo(); err != nil {
		t.Fatalf("write space info: %v", err)
	}

	reloaded, err := Load(cfg, files)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	seen := map[uint64]link.Link{}
	reloaded.AttachPrimaryTo(func(_ any, keys []any, linkSets [][]link.Link) {
		for i := range keys {
			seen[keys[i].(uint64)] = linkSets[i][0]
		}
	})

	if len(seen) != 3 {
		t.Fatalf("expected 3 keys reattached, got %d: %+v", len(seen), seen)
	}
	if seen[20].Offset != 16 {
		t.Fatalf("expected key 20's link offset to survive the roundtrip, got %+v", seen[20])
	}
}

func TestApplyPrimaryEventsSplitPersistsTwoNodes(t *testing.T) {
	cfg := testConfig()
	files := testFiles()

	sp, err := Bootstrap(cfg, files)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	cmp := func(a, b uint64) int {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	}
	im := indexmap.New[uint64, link.Link](cmp, indexmap.Policy[uint64]{MaxEntries: 2})

	var evs []cdc.IndexEvent
	for _, key := range []uint64{1, 2, 3} {
		l := link.Link{PageID: 1, Offset: uint32(key), Length: 4}
		evs = append(evs, cdc.FromChangeEvents("primary", im.Insert(key, l))...)
	}

	if err := sp.ApplyPrimaryEvents(evs); err != nil {
		t.Fatalf("apply primary events: %v", err)
	}
	if err := sp.WriteDataPages(map[link.Link][]byte{}); err != nil {
		t.Fatalf("write data pages: %v", err)
	}
	if err := sp.WriteSpaceInfo(); err != nil {
		t.Fatalf("write space info: %v", err)
	}

	reloaded, err := Load(cfg, files)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	nodeCount := 0
	keyCount := 0
	reloaded.AttachPrimaryTo(func(_ any, keys []any, _ [][]link.Link) {
		nodeCount++
		keyCount += len(keys)
	})
	if nodeCount != 2 {
		t.Fatalf("expected the 3rd insert to have split the node in two, got %d node(s)", nodeCount)
	}
	if keyCount != 3 {
		t.Fatalf("expected all 3 keys to survive the split across both nodes, got %d", keyCount)
	}
}

func TestNonUniqueSecondaryIndexSurvivesReloadWithFullLinkSet(t *testing.T) {
	cfg := testConfig()
	cfg.Secondary = map[string]IndexCodec{
		"by_exchange": {Multi: true, Unsized: page.EraseUnsized[string](page.StringCodec{})},
	}
	files := testFiles()
	files.Secondary["by_exchange"] = NewMemFile()

	sp, err := Bootstrap(cfg, files)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	mm := indexmap.NewMultiMap[string](func(a, b string) int {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	}, indexmap.Policy[string]{MaxEntries: 512})

	var evs []cdc.IndexEvent
	const n = 200
	for i := 0; i < n; i++ {
		l := link.Link{PageID: 1, Offset: uint32(i * 16), Length: 16}
		evs = append(evs, cdc.FromChangeEvents("by_exchange", mm.InsertLink("NASDAQ", l))...)
	}

	if err := sp.ApplySecondaryEvents("by_exchange", evs); err != nil {
		t.Fatalf("apply secondary events: %v", err)
	}
	if err := sp.WriteDataPages(map[link.Link][]byte{}); err != nil {
		t.Fatalf("write data pages: %v", err)
	}
	if err := sp.WriteSpaceInfo(); err != nil {
		t.Fatalf("write space info: %v", err)
	}

	reloaded, err := Load(cfg, files)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	seen := map[string]int{}
	if err := reloaded.AttachSecondaryTo("by_exchange", func(_ any, keys []any, linkSets [][]link.Link) {
		for i, k := range keys {
			seen[k.(string)] += len(linkSets[i])
		}
	}); err != nil {
		t.Fatalf("attach secondary: %v", err)
	}

	if got := seen["NASDAQ"]; got != n {
		t.Fatalf("expected all %d links under 'NASDAQ' to survive reload, got %d", n, got)
	}
}

func TestWriteDataPagesPersistsRowBytesAcrossReload(t *testing.T) {
	cfg := testConfig()
	files := testFiles()

	sp, err := Bootstrap(cfg, files)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	l := link.Link{PageID: 1, Offset: uint32(page.HeaderSize + 4), Length: 4}
	if err := sp.WriteDataPages(map[link.Link][]byte{l: []byte("abcd")}); err != nil {
		t.Fatalf("write data pages: %v", err)
	}
	if err := sp.WriteSpaceInfo(); err != nil {
		t.Fatalf("write space info: %v", err)
	}

	reloaded, err := Load(cfg, files)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	pages, err := reloaded.LoadDataPages()
	if err != nil {
		t.Fatalf("load data pages: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("expected 1 data page, got %d", len(pages))
	}
	got, err := pages[0].ReadAt(l.Offset, l.Length)
	if err != nil {
		t.Fatalf("read at: %v", err)
	}
	if string(got) != "abcd" {
		t.Fatalf("expected 'abcd', got %q", got)
	}
}
