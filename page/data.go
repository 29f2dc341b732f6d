package page

import (
	"encoding/binary"
	"sync"
)

// freeOffsetSize is the width of the in-body free_offset field that
// precedes the raw row bytes of a DataPage.
const freeOffsetSize = 4

// DataPage is an append-only page of row bytes (spec §3 "Data page").
// Body layout: [free_offset uint32][bytes...]. free_offset is the
// authoritative position of the first free byte in the page; it is
// non-decreasing under normal appends (spec invariant).
//
// Append/WriteAt/ReadAt guard the page's bytes with mu: rowstore.Store
// only serializes inserts per-PK, so two goroutines inserting different
// rows can both target the same tail page concurrently. mu makes the
// read-free-offset/copy/advance-free-offset sequence atomic instead of
// relying on the store's page-vector lock, which only protects which
// *page.DataPage the tail pointer resolves to, not the bytes inside it.
type DataPage struct {
	Header GeneralHeader
	mu     sync.RWMutex
	buf    []byte // full page: header + body, len == page size
}

// NewDataPage allocates an empty data page of the given total size.
func NewDataPage(pageID uint32, pageSize int) *DataPage {
	dp := &DataPage{
		Header: GeneralHeader{
			DataVersion: CurrentDataVersion,
			PageType:    TypeData,
			PageID:      pageID,
		},
		buf: make([]byte, pageSize),
	}
	dp.setFreeOffsetLocked(uint32(HeaderSize + freeOffsetSize))
	dp.syncHeader()
	return dp
}

// ParseDataPage reconstructs a DataPage from its on-disk bytes.
func ParseDataPage(buf []byte) (*DataPage, error) {
	if len(buf) < HeaderSize+freeOffsetSize {
		return nil, newErr(KindCorruptPage, "buffer shorter than data page prefix")
	}
	h := ParseHeader(buf)
	if h.PageType != TypeData {
		return nil, newErr(KindUnknownPageType, "expected data page")
	}
	owned := make([]byte, len(buf))
	copy(owned, buf)
	return &DataPage{Header: h, buf: owned}, nil
}

// syncHeader stamps DataLength from the current free offset. Callers
// must hold mu (for writing).
func (dp *DataPage) syncHeader() {
	dp.Header.DataLength = uint16(dp.freeOffsetLocked())
	dp.Header.PutBytes(dp.buf[0:HeaderSize])
}

// PageSize returns the total on-disk size of the page.
func (dp *DataPage) PageSize() int { return len(dp.buf) }

func (dp *DataPage) freeOffsetLocked() uint32 {
	return binary.LittleEndian.Uint32(dp.buf[HeaderSize : HeaderSize+freeOffsetSize])
}

func (dp *DataPage) setFreeOffsetLocked(off uint32) {
	binary.LittleEndian.PutUint32(dp.buf[HeaderSize:HeaderSize+freeOffsetSize], off)
}

// FreeOffset returns the absolute offset (from the start of the page,
// header included) of the first free byte.
func (dp *DataPage) FreeOffset() uint32 {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	return dp.freeOffsetLocked()
}

// FreeSpace returns how many bytes remain available for append.
func (dp *DataPage) FreeSpace() int {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	return dp.PageSize() - int(dp.freeOffsetLocked())
}

// Append reserves space at the current free offset, writes data there,
// and advances the free offset, all under mu so two goroutines appending
// to the same tail page concurrently cannot reserve overlapping spans.
// Returns ErrPageFull if there is not enough room.
func (dp *DataPage) Append(data []byte) (offset uint32, err error) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	off := dp.freeOffsetLocked()
	if len(data) > dp.PageSize()-int(off) {
		return 0, newErr(KindPageFull, "not enough free space")
	}
	copy(dp.buf[off:int(off)+len(data)], data)
	dp.setFreeOffsetLocked(off + uint32(len(data)))
	dp.syncHeader()
	return off, nil
}

// ReadAt returns a copy of the `length` bytes starting at `offset`.
// Returns ErrLinkOutOfRange if the span does not fit inside the page.
func (dp *DataPage) ReadAt(offset, length uint32) ([]byte, error) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if offset+length > uint32(dp.PageSize()) || offset+length > dp.freeOffsetLocked() {
		return nil, newErr(KindLinkOutOfRange, "span exceeds written region")
	}
	out := make([]byte, length)
	copy(out, dp.buf[offset:offset+length])
	return out, nil
}

// WriteAt overwrites the `len(data)` bytes starting at `offset` in place.
// Used for update-in-place and for link reuse after a length-matching
// delete. Returns ErrLinkOutOfRange if the span falls outside the
// written region of the page.
func (dp *DataPage) WriteAt(offset uint32, data []byte) error {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	end := offset + uint32(len(data))
	if end > uint32(dp.PageSize()) || end > dp.freeOffsetLocked() {
		return newErr(KindLinkOutOfRange, "span exceeds written region")
	}
	copy(dp.buf[offset:end], data)
	return nil
}

// Bytes returns the full on-disk page image (header + body).
func (dp *DataPage) Bytes() []byte {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.syncHeader()
	out := make([]byte, len(dp.buf))
	copy(out, dp.buf)
	return out
}
