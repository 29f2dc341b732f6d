// Package rowstore implements the paged row store: an ordered vector of
// data pages with append allocation, stable Link addresses, and
// deletion via a free-link stack (spec §4.1). Grounded on the teacher's
// Pager (storage/pager.go), which guards its page vector with a
// sync.RWMutex and double-checks allocation under the write lock; here
// the page vector holds page.DataPage values instead of the teacher's
// raw PageSize byte arrays, and allocation is driven by free-space
// rather than a free page-id list.
package rowstore

import (
	"sync"

	"github.com/klauspost/compress/snappy"

	"github.com/gowt/worktable/link"
	"github.com/gowt/worktable/page"
)

// compressThreshold is the row size at or above which Store compresses the
// serialized bytes with snappy before appending, reusing the teacher's
// dependency (storage/pager.go imports klauspost/compress/snappy for
// page-level compression) at row granularity instead.
const compressThreshold = 256

// Codec serializes and deserializes one row type. Supplied by the
// generated schema; the row store never interprets row bytes itself.
type Codec[Row any] interface {
	Encode(row Row) ([]byte, error)
	Decode(buf []byte) (Row, error)
}

// Store is the paged row store for one table.
type Store[Row any] struct {
	mu        sync.RWMutex
	pageSize  int
	pages     []*page.DataPage
	codec     Codec[Row]
	freeStack freeStack
}

// New creates an empty row store with one initial data page.
func New[Row any](pageSize int, codec Codec[Row]) *Store[Row] {
	s := &Store[Row]{pageSize: pageSize, codec: codec}
	s.pages = append(s.pages, page.NewDataPage(1, pageSize))
	return s
}

// FromDataPages reconstructs a row store from pages parsed off disk
// during reload (space.Load -> page.from_data_page in the spec).
func FromDataPages[Row any](pageSize int, codec Codec[Row], pages []*page.DataPage) *Store[Row] {
	return &Store[Row]{pageSize: pageSize, codec: codec, pages: pages}
}

func compress(raw []byte) []byte {
	if len(raw) < compressThreshold {
		return append([]byte{0}, raw...)
	}
	return append([]byte{1}, snappy.Encode(nil, raw)...)
}

func decompress(buf []byte) ([]byte, error) {
	if len(buf) == 0 {
		return nil, newErr(KindCorruptRow, "empty row buffer")
	}
	if buf[0] == 0 {
		return buf[1:], nil
	}
	return snappy.Decode(nil, buf[1:])
}

// Insert serializes row, finds storage for it, and returns its stable
// Link (spec §4.1 "insert").
func (s *Store[Row]) Insert(row Row) (link.Link, error) {
	l, _, err := s.InsertCDC(row)
	return l, err
}

// InsertCDC serializes row and also returns the serialized bytes, so a
// caller building a CDC operation never re-serializes the row (spec
// §4.1 "insert_cdc").
func (s *Store[Row]) InsertCDC(row Row) (link.Link, []byte, error) {
	raw, err := s.codec.Encode(row)
	if err != nil {
		return link.Link{}, nil, newErr(KindSerializeError, err.Error())
	}
	stored := compress(raw)

	if l, ok := s.tryReuseFreeLink(stored); ok {
		return l, stored, nil
	}

	l, err := s.appendWithRetry(stored)
	if err != nil {
		return link.Link{}, nil, err
	}
	return l, stored, nil
}

// tryReuseFreeLink pops a free link whose length matches stored and
// overwrites it in place (spec §4.1 free-link stack reuse policy).
func (s *Store[Row]) tryReuseFreeLink(stored []byte) (link.Link, bool) {
	for {
		l, ok := s.freeStack.pop(uint32(len(stored)))
		if !ok {
			return link.Link{}, false
		}
		s.mu.RLock()
		var pg *page.DataPage
		if int(l.PageID) <= len(s.pages) && l.PageID >= 1 {
			pg = s.pages[l.PageID-1]
		}
		s.mu.RUnlock()
		if pg == nil {
			continue
		}
		if err := pg.WriteAt(l.Offset, stored); err != nil {
			// length mismatch despite the stack's bookkeeping: push back
			// and fall through to a fresh append (spec "reuse attempts
			// that fail with InvalidLink push the link back").
			s.freeStack.push(l)
			return link.Link{}, false
		}
		return l, true
	}
}

// appendWithRetry appends stored to the tail page, allocating a new
// page under a write lock (with a double-check, mirroring the teacher's
// allocatePageUnlocked pattern) when the tail page is full.
func (s *Store[Row]) appendWithRetry(stored []byte) (link.Link, error) {
	for {
		s.mu.RLock()
		tail := s.pages[len(s.pages)-1]
		tailID := link.PageId(len(s.pages))
		s.mu.RUnlock()

		off, err := tail.Append(stored)
		if err == nil {
			return link.Link{PageID: tailID, Offset: off, Length: uint32(len(stored))}, nil
		}

		s.mu.Lock()
		if link.PageId(len(s.pages)) == tailID {
			// still the tail we saw: nobody else allocated while we waited
			s.pages = append(s.pages, page.NewDataPage(uint32(len(s.pages)+1), s.pageSize))
		}
		s.mu.Unlock()
	}
}

// Select decodes and returns the row addressed by l.
func (s *Store[Row]) Select(l link.Link) (Row, error) {
	var zero Row
	raw, err := s.readRaw(l)
	if err != nil {
		return zero, err
	}
	row, err := s.codec.Decode(raw)
	if err != nil {
		return zero, newErr(KindSerializeError, err.Error())
	}
	return row, nil
}

// SelectRaw returns the decompressed-but-undecoded row bytes addressed
// by l (spec §4.1 "select_raw"), without running the row codec.
func (s *Store[Row]) SelectRaw(l link.Link) ([]byte, error) { return s.readRaw(l) }

func (s *Store[Row]) readRaw(l link.Link) ([]byte, error) {
	pg, err := s.pageFor(l)
	if err != nil {
		return nil, err
	}
	if l.Offset+l.Length > pg.FreeOffset() {
		return nil, newErr(KindInvalidLink, "link past page's free offset")
	}
	stored, err := pg.ReadAt(l.Offset, l.Length)
	if err != nil {
		return nil, newErr(KindInvalidLink, err.Error())
	}
	return decompress(stored)
}

// WithRef calls fn with the row addressed by l, decoded in place.
// Equivalent to Select but named to mirror the spec's read-only
// accessor alongside WithMutRef.
func (s *Store[Row]) WithRef(l link.Link, fn func(Row) error) error {
	row, err := s.Select(l)
	if err != nil {
		return err
	}
	return fn(row)
}

// WithMutRef decodes the row at l, lets fn mutate it, then re-encodes
// and writes it back in place if the encoded length is unchanged. This
// is the only in-place mutation path and is unsafe without an
// appropriate row lock held by the caller (spec §4.1 "with_mut_ref").
func (s *Store[Row]) WithMutRef(l link.Link, fn func(*Row) error) error {
	row, err := s.Select(l)
	if err != nil {
		return err
	}
	if err := fn(&row); err != nil {
		return err
	}
	return s.Update(row, l)
}

// Update re-serializes row and overwrites the bytes at l in place.
// Fails with ErrInvalidLink if the new length differs — callers wanting
// to resize must delete and insert instead (spec §4.1 "update").
func (s *Store[Row]) Update(row Row, l link.Link) error {
	_, err := s.UpdateCDC(row, l)
	return err
}

// UpdateCDC behaves like Update but also returns the stored (possibly
// compressed) bytes, so a caller building a CDC operation never
// re-serializes the row, mirroring InsertCDC.
func (s *Store[Row]) UpdateCDC(row Row, l link.Link) ([]byte, error) {
	raw, err := s.codec.Encode(row)
	if err != nil {
		return nil, newErr(KindSerializeError, err.Error())
	}
	stored := compress(raw)
	if uint32(len(stored)) != l.Length {
		return nil, newErr(KindInvalidLink, "update changed the row's serialized length")
	}
	pg, err := s.pageFor(l)
	if err != nil {
		return nil, err
	}
	if err := pg.WriteAt(l.Offset, stored); err != nil {
		return nil, newErr(KindInvalidLink, err.Error())
	}
	return stored, nil
}

// Delete pushes l onto the free-link stack without touching page bytes
// (spec §4.1 "delete"). Pushing the same Link twice is tolerated: a push
// of a link already on the stack is ignored.
func (s *Store[Row]) Delete(l link.Link) {
	s.freeStack.push(l)
}

func (s *Store[Row]) pageFor(l link.Link) (*page.DataPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if l.PageID < 1 || int(l.PageID) > len(s.pages) {
		return nil, newErr(KindInvalidLink, "link references an unknown page")
	}
	return s.pages[l.PageID-1], nil
}

// Pages returns the current data pages, for the persistence task's
// batch data write and for full-snapshot export.
func (s *Store[Row]) Pages() []*page.DataPage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*page.DataPage, len(s.pages))
	copy(out, s.pages)
	return out
}

// EmptyLinks returns a copy of the free-link stack's current contents,
// for persisting into the space-info page's empty-link list (spec §4.7).
func (s *Store[Row]) EmptyLinks() []link.Link {
	return s.freeStack.snapshot()
}

// RestoreEmptyLinks reinstates a free-link stack read back from a
// SpaceInfoPage during reload.
func (s *Store[Row]) RestoreEmptyLinks(links []link.Link) {
	s.freeStack.restore(links)
}
