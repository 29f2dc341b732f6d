package page

import (
	"encoding/binary"

	"github.com/gowt/worktable/link"
)

// GeneratorKind is the primary-key generation strategy persisted in a
// SpaceInfoPage, mirroring the schema's `generator` field (spec §6).
type GeneratorKind byte

const (
	GeneratorNone GeneratorKind = iota
	GeneratorAutoincrement
	GeneratorCustom
)

// GeneratorState is the durable state of a table's primary-key generator.
type GeneratorState struct {
	Kind      GeneratorKind
	NextValue uint64
}

// ColumnDescriptor is the persisted form of one schema column.
type ColumnDescriptor struct {
	Name     string
	TypeName string
}

// IndexDescriptor is the persisted form of one secondary index.
type IndexDescriptor struct {
	Name   string
	Column string
	Unique bool
}

// SpaceInfoPage is the first page of every space file (spec §3
// "SpaceInfoPage"): table identity, schema descriptors, generator state,
// and the free-link list for the data file.
type SpaceInfoPage struct {
	Header GeneralHeader

	SpaceID          uint32
	PageCount        uint32
	TableName        string
	Columns          []ColumnDescriptor
	PrimaryKeyFields []string
	SecondaryIndexes []IndexDescriptor
	Generator        GeneratorState
	EmptyDataLinks   []link.Link
}

// NewSpaceInfoPage creates a defaulted info page for a freshly bootstrapped
// space file (spec §4.7 "Bootstrap").
func NewSpaceInfoPage(tableName string) *SpaceInfoPage {
	return &SpaceInfoPage{
		Header: GeneralHeader{
			DataVersion: CurrentDataVersion,
			PageType:    TypeSpaceInfo,
			PageID:      0,
		},
		TableName: tableName,
		PageCount: 1,
	}
}

func putString(buf []byte, off int, s string) int {
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(s)))
	off += 2
	copy(buf[off:], s)
	return off + len(s)
}

func getString(buf []byte, off int) (string, int) {
	n := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	return string(buf[off : off+n]), off + n
}

// SizeBytes reports the serialized size, so callers can decide whether it
// still fits the configured page size before writing.
func (s *SpaceInfoPage) SizeBytes() int {
	size := HeaderSize + 4 + 4 // space_id + page_count
	size += 2 + len(s.TableName)
	size += 2 // column count
	for _, c := range s.Columns {
		size += 2 + len(c.Name) + 2 + len(c.TypeName)
	}
	size += 2 // pk field count
	for _, f := range s.PrimaryKeyFields {
		size += 2 + len(f)
	}
	size += 2 // secondary index count
	for _, idx := range s.SecondaryIndexes {
		size += 2 + len(idx.Name) + 2 + len(idx.Column) + 1
	}
	size += 1 + 8 // generator kind + next value
	size += 4     // empty link count
	size += len(s.EmptyDataLinks) * link.Size
	return size
}

// Bytes serializes the info page into a page-sized buffer.
func (s *SpaceInfoPage) Bytes(pageSize int) []byte {
	buf := make([]byte, pageSize)
	s.Header.PutBytes(buf[0:HeaderSize])
	off := HeaderSize

	binary.LittleEndian.PutUint32(buf[off:], s.SpaceID)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], s.PageCount)
	off += 4
	off = putString(buf, off, s.TableName)

	binary.LittleEndian.PutUint16(buf[off:], uint16(len(s.Columns)))
	off += 2
	for _, c := range s.Columns {
		off = putString(buf, off, c.Name)
		off = putString(buf, off, c.TypeName)
	}

	binary.LittleEndian.PutUint16(buf[off:], uint16(len(s.PrimaryKeyFields)))
	off += 2
	for _, f := range s.PrimaryKeyFields {
		off = putString(buf, off, f)
	}

	binary.LittleEndian.PutUint16(buf[off:], uint16(len(s.SecondaryIndexes)))
	off += 2
	for _, idx := range s.SecondaryIndexes {
		off = putString(buf, off, idx.Name)
		off = putString(buf, off, idx.Column)
		if idx.Unique {
			buf[off] = 1
		} else {
			buf[off] = 0
		}
		off++
	}

	buf[off] = byte(s.Generator.Kind)
	off++
	binary.LittleEndian.PutUint64(buf[off:], s.Generator.NextValue)
	off += 8

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(s.EmptyDataLinks)))
	off += 4
	for _, l := range s.EmptyDataLinks {
		l.PutBytes(buf[off : off+link.Size])
		off += link.Size
	}
	return buf
}

// ParseSpaceInfoPage reconstructs a SpaceInfoPage from its on-disk bytes.
func ParseSpaceInfoPage(buf []byte) (*SpaceInfoPage, error) {
	if len(buf) < HeaderSize+8 {
		return nil, newErr(KindCorruptPage, "buffer shorter than info page prefix")
	}
	h := ParseHeader(buf)
	if h.PageType != TypeSpaceInfo {
		return nil, newErr(KindUnknownPageType, "expected space info page")
	}
	off := HeaderSize
	s := &SpaceInfoPage{Header: h}

	s.SpaceID = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	s.PageCount = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	s.TableName, off = getString(buf, off)

	ncols := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	s.Columns = make([]ColumnDescriptor, ncols)
	for i := 0; i < ncols; i++ {
		var name, typeName string
		name, off = getString(buf, off)
		typeName, off = getString(buf, off)
		s.Columns[i] = ColumnDescriptor{Name: name, TypeName: typeName}
	}

	npk := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	s.PrimaryKeyFields = make([]string, npk)
	for i := 0; i < npk; i++ {
		s.PrimaryKeyFields[i], off = getString(buf, off)
	}

	nidx := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	s.SecondaryIndexes = make([]IndexDescriptor, nidx)
	for i := 0; i < nidx; i++ {
		var name, column string
		name, off = getString(buf, off)
		column, off = getString(buf, off)
		unique := buf[off] == 1
		off++
		s.SecondaryIndexes[i] = IndexDescriptor{Name: name, Column: column, Unique: unique}
	}

	s.Generator.Kind = GeneratorKind(buf[off])
	off++
	s.Generator.NextValue = binary.LittleEndian.Uint64(buf[off:])
	off += 8

	nlinks := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	s.EmptyDataLinks = make([]link.Link, nlinks)
	for i := 0; i < nlinks; i++ {
		s.EmptyDataLinks[i] = link.FromBytes(buf[off : off+link.Size])
		off += link.Size
	}
	return s, nil
}
