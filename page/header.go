// Package page implements the on-disk page formats shared by every space
// file: a fixed GeneralHeader followed by a type-specific body. Layout
// follows the byte-offset-constant style of the teacher's
// storage/page.go, generalized with generics over the index key type
// instead of being hand-duplicated per key type.
package page

import "encoding/binary"

// Type identifies the body format that follows a GeneralHeader.
type Type byte

const (
	TypeSpaceInfo            Type = 1
	TypeData                 Type = 2
	TypeIndex                Type = 3
	TypeIndexTableOfContents Type = 4
)

// DefaultPageSize is the total on-disk size of a page (header + body)
// when a table's schema does not override it (spec §6).
const DefaultPageSize = 16 * 1024

// HeaderSize is the fixed width of GeneralHeader, in bytes.
const HeaderSize = 20

// GeneralHeader is the fixed-width prefix of every page.
//
// Layout:
//
//	[0]     data_version uint8
//	[1]     page_type    uint8
//	[2:6]   page_id      uint32
//	[6:10]  previous_id  uint32
//	[10:14] next_id      uint32
//	[14:18] space_id     uint32
//	[18:20] data_length  uint16
type GeneralHeader struct {
	DataVersion uint8
	PageType    Type
	PageID      uint32
	PreviousID  uint32
	NextID      uint32
	SpaceID     uint32
	DataLength  uint16
}

// CurrentDataVersion is stamped into every page this build writes, so a
// future on-disk format change can detect and reject old pages explicitly
// rather than misreading them.
const CurrentDataVersion = 1

// PutBytes serializes h into buf[0:HeaderSize].
func (h GeneralHeader) PutBytes(buf []byte) {
	buf[0] = h.DataVersion
	buf[1] = byte(h.PageType)
	binary.LittleEndian.PutUint32(buf[2:6], h.PageID)
	binary.LittleEndian.PutUint32(buf[6:10], h.PreviousID)
	binary.LittleEndian.PutUint32(buf[10:14], h.NextID)
	binary.LittleEndian.PutUint32(buf[14:18], h.SpaceID)
	binary.LittleEndian.PutUint16(buf[18:20], h.DataLength)
}

// ParseHeader reads a GeneralHeader from buf[0:HeaderSize].
func ParseHeader(buf []byte) GeneralHeader {
	return GeneralHeader{
		DataVersion: buf[0],
		PageType:    Type(buf[1]),
		PageID:      binary.LittleEndian.Uint32(buf[2:6]),
		PreviousID:  binary.LittleEndian.Uint32(buf[6:10]),
		NextID:      binary.LittleEndian.Uint32(buf[10:14]),
		SpaceID:     binary.LittleEndian.Uint32(buf[14:18]),
		DataLength:  binary.LittleEndian.Uint16(buf[18:20]),
	}
}

// InnerSize returns the usable body size for a page of the given total size.
func InnerSize(pageSize int) int {
	return pageSize - HeaderSize
}
