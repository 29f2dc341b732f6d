// Package link defines the stable row address and the identifiers used to
// order mutations and index events across the engine.
package link

import (
	"encoding/binary"
	"fmt"
)

// PageId identifies a page within a space file. Data pages are numbered
// from 1; 0 is never a data page id.
type PageId uint32

// Size is the on-disk width of a Link: page_id(4) + offset(4) + length(4).
const Size = 12

// Link is the opaque, stable address of a row inside a table's data file.
// It is the identity of a row until the row is deleted.
type Link struct {
	PageID PageId
	Offset uint32
	Length uint32
}

// End returns the first byte past the link's span.
func (l Link) End() uint32 {
	return l.Offset + l.Length
}

// PutBytes writes the 12-byte on-disk form of l into buf[0:Size].
func (l Link) PutBytes(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(l.PageID))
	binary.LittleEndian.PutUint32(buf[4:8], l.Offset)
	binary.LittleEndian.PutUint32(buf[8:12], l.Length)
}

// Bytes returns the 12-byte on-disk form of l.
func (l Link) Bytes() []byte {
	buf := make([]byte, Size)
	l.PutBytes(buf)
	return buf
}

// FromBytes parses the 12-byte on-disk form of a Link.
func FromBytes(buf []byte) Link {
	return Link{
		PageID: PageId(binary.LittleEndian.Uint32(buf[0:4])),
		Offset: binary.LittleEndian.Uint32(buf[4:8]),
		Length: binary.LittleEndian.Uint32(buf[8:12]),
	}
}

func (l Link) String() string {
	return fmt.Sprintf("Link{page=%d, offset=%d, length=%d}", l.PageID, l.Offset, l.Length)
}
