package page

import (
	"bytes"
	"testing"

	"github.com/gowt/worktable/link"
)

func TestDataPageAppendAndRead(t *testing.T) {
	dp := NewDataPage(3, DefaultPageSize)
	off1, err := dp.Append([]byte("hello"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	off2, err := dp.Append([]byte("world!"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	got1, err := dp.ReadAt(off1, 5)
	if err != nil || string(got1) != "hello" {
		t.Fatalf("read 1: %q, %v", got1, err)
	}
	got2, err := dp.ReadAt(off2, 6)
	if err != nil || string(got2) != "world!" {
		t.Fatalf("read 2: %q, %v", got2, err)
	}
}

func TestDataPageFullOnOverflow(t *testing.T) {
	dp := NewDataPage(0, HeaderSize+4+4)
	if _, err := dp.Append([]byte("ab")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := dp.Append([]byte("cde")); err == nil {
		t.Fatalf("expected page-full error")
	}
}

func TestDataPageRoundtrip(t *testing.T) {
	dp := NewDataPage(5, DefaultPageSize)
	dp.Append([]byte("payload"))

	buf := dp.Bytes()
	parsed, err := ParseDataPage(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.FreeOffset() != dp.FreeOffset() {
		t.Fatalf("free offset mismatch: %d vs %d", parsed.FreeOffset(), dp.FreeOffset())
	}
	got, err := parsed.ReadAt(HeaderSize+freeOffsetSize, 7)
	if err != nil || string(got) != "payload" {
		t.Fatalf("roundtrip payload mismatch: %q, %v", got, err)
	}
}

func TestDataPageWriteAtInPlace(t *testing.T) {
	dp := NewDataPage(0, DefaultPageSize)
	off, _ := dp.Append([]byte("AAAA"))
	if err := dp.WriteAt(off, []byte("BBBB")); err != nil {
		t.Fatalf("write at: %v", err)
	}
	got, _ := dp.ReadAt(off, 4)
	if string(got) != "BBBB" {
		t.Fatalf("expected BBBB, got %q", got)
	}
}

func TestIndexPageInsertRemoveAndSlotReuse(t *testing.T) {
	codec := Uint64Codec{}
	p := NewIndexPage[uint64](1, DefaultPageSize, codec, 0)

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	must(p.InsertAt(0, IndexValue[uint64]{Key: 10, Link: link.Link{PageID: 1, Offset: 0, Length: 8}}))
	must(p.InsertAt(1, IndexValue[uint64]{Key: 20, Link: link.Link{PageID: 1, Offset: 8, Length: 8}}))
	must(p.InsertAt(2, IndexValue[uint64]{Key: 30, Link: link.Link{PageID: 1, Offset: 16, Length: 8}}))

	if p.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", p.Len())
	}
	if p.At(1).Key != 20 {
		t.Fatalf("expected key 20 at logical position 1, got %d", p.At(1).Key)
	}

	removed := p.RemoveAt(1)
	if removed.Key != 20 {
		t.Fatalf("expected to remove key 20, got %d", removed.Key)
	}
	if p.Len() != 2 {
		t.Fatalf("expected 2 entries after remove, got %d", p.Len())
	}

	must(p.InsertAt(1, IndexValue[uint64]{Key: 25, Link: link.Link{PageID: 1, Offset: 24, Length: 8}}))
	if p.At(0).Key != 10 || p.At(1).Key != 25 || p.At(2).Key != 30 {
		t.Fatalf("unexpected order after reinsert: %d %d %d", p.At(0).Key, p.At(1).Key, p.At(2).Key)
	}
}

func TestIndexPageRoundtrip(t *testing.T) {
	codec := Uint64Codec{}
	p := NewIndexPage[uint64](1, DefaultPageSize, codec, 99)
	p.InsertAt(0, IndexValue[uint64]{Key: 1, Link: link.Link{PageID: 2, Offset: 0, Length: 4}})
	p.InsertAt(1, IndexValue[uint64]{Key: 2, Link: link.Link{PageID: 2, Offset: 4, Length: 4}})

	buf := p.Bytes(DefaultPageSize)
	parsed, err := ParseIndexPage[uint64](buf, codec)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Len() != 2 || parsed.NodeID != 99 {
		t.Fatalf("roundtrip mismatch: len=%d nodeID=%d", parsed.Len(), parsed.NodeID)
	}
	if parsed.At(0).Key != 1 || parsed.At(1).Key != 2 {
		t.Fatalf("roundtrip key order mismatch")
	}
}

func TestUnsizedIndexPageInsertAndSplit(t *testing.T) {
	codec := StringCodec{}
	p := NewUnsizedIndexPage[string](1, DefaultPageSize, codec, "")

	keys := []string{"alpha", "bravo", "charlie", "delta", "echo"}
	for i, k := range keys {
		if err := p.InsertAt(i, k, link.Link{PageID: 1, Offset: uint32(i), Length: 4}); err != nil {
			t.Fatalf("insert %s: %v", k, err)
		}
	}
	if p.Len() != len(keys) {
		t.Fatalf("expected %d entries, got %d", len(keys), p.Len())
	}
	for i, want := range keys {
		gotKey, _ := p.At(i)
		if gotKey != want {
			t.Fatalf("position %d: want %q, got %q", i, want, gotKey)
		}
	}

	split := p.SplitIndex()
	if split <= 0 || split >= p.Len() {
		t.Fatalf("split index %d out of bounds for %d entries", split, p.Len())
	}
}

func TestUnsizedIndexPageRoundtrip(t *testing.T) {
	codec := StringCodec{}
	p := NewUnsizedIndexPage[string](3, DefaultPageSize, codec, "zzz")
	p.InsertAt(0, "aaa", link.Link{PageID: 1, Offset: 0, Length: 4})
	p.InsertAt(1, "bbb", link.Link{PageID: 1, Offset: 4, Length: 4})

	buf := p.Bytes(DefaultPageSize)
	parsed, err := ParseUnsizedIndexPage[string](buf, codec)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.NodeID != "zzz" || parsed.Len() != 2 {
		t.Fatalf("roundtrip mismatch: nodeID=%q len=%d", parsed.NodeID, parsed.Len())
	}
	k0, l0 := parsed.At(0)
	if k0 != "aaa" || l0.Offset != 0 {
		t.Fatalf("roundtrip entry 0 mismatch: %q %+v", k0, l0)
	}
}

func TestTableOfContentsPutRemoveAndFreeList(t *testing.T) {
	toc := NewTableOfContentsPage[string](0, StringCodec{})
	toc.Put("node-a", 10)
	toc.Put("node-b", 11)
	toc.Put("node-a", 20) // update in place

	if len(toc.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(toc.Entries))
	}
	toc.Remove("node-b")
	if len(toc.Entries) != 1 {
		t.Fatalf("expected 1 entry after remove, got %d", len(toc.Entries))
	}
	id, ok := toc.TakeEmptyPage()
	if !ok || id != 11 {
		t.Fatalf("expected reclaimed page 11, got %d, ok=%v", id, ok)
	}
}

func TestTableOfContentsRoundtrip(t *testing.T) {
	toc := NewTableOfContentsPage[string](0, StringCodec{})
	toc.Put("a", 1)
	toc.Put("b", 2)
	toc.Remove("a")

	buf := toc.Bytes(DefaultPageSize)
	parsed, err := ParseTableOfContentsPage[string](buf, StringCodec{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(parsed.Entries) != 1 || parsed.Entries[0].NodeID != "b" {
		t.Fatalf("unexpected entries after roundtrip: %+v", parsed.Entries)
	}
	if len(parsed.EmptyPages) != 1 || parsed.EmptyPages[0] != 1 {
		t.Fatalf("unexpected empty pages after roundtrip: %+v", parsed.EmptyPages)
	}
}

func TestSpaceInfoPageRoundtrip(t *testing.T) {
	info := NewSpaceInfoPage("jobs")
	info.SpaceID = 42
	info.Columns = []ColumnDescriptor{{Name: "id", TypeName: "u64"}, {Name: "name", TypeName: "string"}}
	info.PrimaryKeyFields = []string{"id"}
	info.SecondaryIndexes = []IndexDescriptor{{Name: "by_name", Column: "name", Unique: true}}
	info.Generator = GeneratorState{Kind: GeneratorAutoincrement, NextValue: 7}
	info.EmptyDataLinks = []link.Link{{PageID: 3, Offset: 12, Length: 8}}

	buf := info.Bytes(DefaultPageSize)
	parsed, err := ParseSpaceInfoPage(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.TableName != "jobs" || parsed.SpaceID != 42 {
		t.Fatalf("identity mismatch: %+v", parsed)
	}
	if len(parsed.Columns) != 2 || parsed.Columns[1].Name != "name" {
		t.Fatalf("columns mismatch: %+v", parsed.Columns)
	}
	if parsed.Generator.NextValue != 7 {
		t.Fatalf("generator state mismatch: %+v", parsed.Generator)
	}
	if len(parsed.EmptyDataLinks) != 1 || parsed.EmptyDataLinks[0].Offset != 12 {
		t.Fatalf("empty links mismatch: %+v", parsed.EmptyDataLinks)
	}
	if !bytes.Equal(parsed.Bytes(DefaultPageSize), buf) {
		t.Fatalf("re-serialization is not stable")
	}
}
