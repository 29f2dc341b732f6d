package page

import "encoding/binary"

// TOCEntry maps one index node's identifier (its max key) to the page id
// that currently stores it.
type TOCEntry[K any] struct {
	NodeID K
	PageID uint32
}

// TableOfContentsPage maps an index's current node ids to page ids, plus
// a free list of reclaimed page ids available for reuse (spec §3
// "TableOfContentsPage<K>"). One TOC page holds the whole directory: it
// does not chain to a continuation page when its body outgrows the page.
type TableOfContentsPage[K any] struct {
	Header GeneralHeader
	Codec  UnsizedKeyCodec[K]

	Entries   []TOCEntry[K]
	EmptyPages []uint32
}

// NewTableOfContentsPage allocates an empty TOC page.
func NewTableOfContentsPage[K any](pageID uint32, codec UnsizedKeyCodec[K]) *TableOfContentsPage[K] {
	return &TableOfContentsPage[K]{
		Header: GeneralHeader{
			DataVersion: CurrentDataVersion,
			PageType:    TypeIndexTableOfContents,
			PageID:      pageID,
		},
		Codec: codec,
	}
}

// Put records (or updates) the page id a node currently lives on.
func (t *TableOfContentsPage[K]) Put(nodeID K, pageID uint32) {
	for i := range t.Entries {
		if t.Codec.Compare(t.Entries[i].NodeID, nodeID) == 0 {
			t.Entries[i].PageID = pageID
			return
		}
	}
	t.Entries = append(t.Entries, TOCEntry[K]{NodeID: nodeID, PageID: pageID})
}

// Remove drops a node's entry and pushes its page id onto the free list.
func (t *TableOfContentsPage[K]) Remove(nodeID K) {
	for i := range t.Entries {
		if t.Codec.Compare(t.Entries[i].NodeID, nodeID) == 0 {
			t.EmptyPages = append(t.EmptyPages, t.Entries[i].PageID)
			t.Entries = append(t.Entries[:i], t.Entries[i+1:]...)
			return
		}
	}
}

// TakeEmptyPage pops a reclaimed page id off the free list, if any.
func (t *TableOfContentsPage[K]) TakeEmptyPage() (uint32, bool) {
	if len(t.EmptyPages) == 0 {
		return 0, false
	}
	n := len(t.EmptyPages) - 1
	id := t.EmptyPages[n]
	t.EmptyPages = t.EmptyPages[:n]
	return id, true
}

// SizeBytes reports the serialized body size, which must fit within the
// page's inner size for Bytes to succeed.
func (t *TableOfContentsPage[K]) SizeBytes() int {
	size := 4 + 4 // entry count + empty-page count
	for _, e := range t.Entries {
		size += 2 + len(t.Codec.Encode(e.NodeID)) + 4
	}
	size += 4 * len(t.EmptyPages)
	return size
}

// Bytes serializes the TOC page. It panics with an index-out-of-range
// error if the body (see SizeBytes) does not fit in pageSize.
func (t *TableOfContentsPage[K]) Bytes(pageSize int) []byte {
	buf := make([]byte, pageSize)
	t.Header.PutBytes(buf[0:HeaderSize])
	off := HeaderSize

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(t.Entries)))
	off += 4
	for _, e := range t.Entries {
		enc := t.Codec.Encode(e.NodeID)
		binary.LittleEndian.PutUint16(buf[off:], uint16(len(enc)))
		off += 2
		copy(buf[off:], enc)
		off += len(enc)
		binary.LittleEndian.PutUint32(buf[off:], e.PageID)
		off += 4
	}

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(t.EmptyPages)))
	off += 4
	for _, p := range t.EmptyPages {
		binary.LittleEndian.PutUint32(buf[off:], p)
		off += 4
	}
	return buf
}

// ParseTableOfContentsPage reconstructs a TOC page from its on-disk bytes.
func ParseTableOfContentsPage[K any](buf []byte, codec UnsizedKeyCodec[K]) (*TableOfContentsPage[K], error) {
	if len(buf) < HeaderSize+8 {
		return nil, newErr(KindCorruptPage, "buffer shorter than toc prefix")
	}
	h := ParseHeader(buf)
	if h.PageType != TypeIndexTableOfContents {
		return nil, newErr(KindUnknownPageType, "expected toc page")
	}
	off := HeaderSize
	t := &TableOfContentsPage[K]{Header: h, Codec: codec}

	n := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	t.Entries = make([]TOCEntry[K], n)
	for i := 0; i < n; i++ {
		kl := int(binary.LittleEndian.Uint16(buf[off:]))
		off += 2
		key := codec.Decode(buf[off : off+kl])
		off += kl
		pid := binary.LittleEndian.Uint32(buf[off:])
		off += 4
		t.Entries[i] = TOCEntry[K]{NodeID: key, PageID: pid}
	}

	m := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	t.EmptyPages = make([]uint32, m)
	for i := 0; i < m; i++ {
		t.EmptyPages[i] = binary.LittleEndian.Uint32(buf[off:])
		off += 4
	}
	return t, nil
}
