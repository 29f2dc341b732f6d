package page

import (
	"encoding/binary"

	"github.com/gowt/worktable/link"
)

// UnsizedKeyCodec serializes a variable-length key type K (e.g. string)
// for use in an UnsizedIndexPage.
type UnsizedKeyCodec[K any] interface {
	Encode(k K) []byte
	Decode(buf []byte) K
	Compare(a, b K) int
}

// StringCodec is the UnsizedKeyCodec for string keys.
type StringCodec struct{}

func (StringCodec) Encode(k string) []byte { return []byte(k) }
func (StringCodec) Decode(buf []byte) string {
	return string(buf)
}
func (StringCodec) Compare(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// unsizedSlot is the (offset, length) pair describing where one value's
// bytes (encoded key + link) live in the page's growing tail region.
type unsizedSlot struct {
	offset uint16
	length uint16
}

// UnsizedIndexPage models one node of the index B-tree for variable-length
// keys (spec §3 "UnsizedIndexPage<K, LEN>"). Values are appended from a
// growing tail offset and never moved on insert; only the slot table
// (offset,length pairs) is rewritten. Node capacity is a byte budget
// rather than an element count, since keys vary in size.
type UnsizedIndexPage[K any] struct {
	Header GeneralHeader
	Codec  UnsizedKeyCodec[K]

	NodeID         K
	ByteCapacity   int // usable bytes for the slot table + value tail
	lastValueOffset uint16 // next free offset in the value tail, relative to tail start

	slots  []unsizedSlot // logical order
	values [][]byte      // raw encoded(key)+link bytes per slot, parallel to slots
	keys   []K           // decoded key per slot, parallel to slots
}

// UnsizedNodeByteCapacity derives the per-node byte budget from the page's
// inner size and the fixed node_id/slots_size/last_value_offset prefix
// (spec §4.2 "a node carries a capacity in bytes").
func UnsizedNodeByteCapacity(pageSize int) int {
	// prefix: slots_size(2) + last_value_offset(2); node_id is stored
	// length-prefixed ahead of this budget so its size doesn't eat into it.
	return InnerSize(pageSize) - 4
}

// NewUnsizedIndexPage allocates an empty unsized index node.
func NewUnsizedIndexPage[K any](pageID uint32, pageSize int, codec UnsizedKeyCodec[K], nodeID K) *UnsizedIndexPage[K] {
	return &UnsizedIndexPage[K]{
		Header: GeneralHeader{
			DataVersion: CurrentDataVersion,
			PageType:    TypeIndex,
			PageID:      pageID,
		},
		Codec:        codec,
		NodeID:       nodeID,
		ByteCapacity: UnsizedNodeByteCapacity(pageSize),
	}
}

// Len returns the number of logically live entries.
func (p *UnsizedIndexPage[K]) Len() int { return len(p.slots) }

// UsedBytes returns how many bytes of the node's byte budget are
// currently committed: the slot table plus the value tail, including
// bytes belonging to since-removed entries (those are only reclaimed by
// a rebuild, e.g. during a split).
func (p *UnsizedIndexPage[K]) UsedBytes() int {
	return len(p.slots)*4 + int(p.lastValueOffset)
}

// Fits reports whether a value of the given encoded key length could be
// inserted without exceeding the node's byte budget.
func (p *UnsizedIndexPage[K]) Fits(encodedKeyLen int) bool {
	need := 4 + encodedKeyLen + link.Size // one more slot + value bytes
	return p.UsedBytes()+need <= p.ByteCapacity
}

// At returns the i-th logically ordered (key, link) pair.
func (p *UnsizedIndexPage[K]) At(i int) (K, link.Link) {
	raw := p.values[i]
	keyLen := len(raw) - link.Size
	return p.Codec.Decode(raw[:keyLen]), link.FromBytes(raw[keyLen:])
}

// InsertAt inserts (key, l) at logical position i.
func (p *UnsizedIndexPage[K]) InsertAt(i int, key K, l link.Link) error {
	encoded := p.Codec.Encode(key)
	if !p.Fits(len(encoded)) {
		return newErr(KindPageFull, "unsized index node at byte capacity")
	}
	raw := make([]byte, len(encoded)+link.Size)
	copy(raw, encoded)
	l.PutBytes(raw[len(encoded):])

	slot := unsizedSlot{offset: p.lastValueOffset, length: uint16(len(raw))}
	p.lastValueOffset += uint16(len(raw))

	p.slots = append(p.slots, unsizedSlot{})
	copy(p.slots[i+1:], p.slots[i:len(p.slots)-1])
	p.slots[i] = slot

	p.values = append(p.values, nil)
	copy(p.values[i+1:], p.values[i:len(p.values)-1])
	p.values[i] = raw

	p.keys = append(p.keys, key)
	copy(p.keys[i+1:], p.keys[i:len(p.keys)-1])
	p.keys[i] = key
	return nil
}

// ReplaceAt overwrites the value stored at logical position i with a fresh
// (key, l) pair by appending new bytes to the tail and repointing that
// slot; the slot table's length and ordering are unchanged. Used when a
// key's value changes without any structural insert or removal (e.g. a
// non-unique index's link set gaining or losing a member).
func (p *UnsizedIndexPage[K]) ReplaceAt(i int, key K, l link.Link) error {
	encoded := p.Codec.Encode(key)
	if !p.Fits(len(encoded)) {
		return newErr(KindPageFull, "unsized index node at byte capacity")
	}
	raw := make([]byte, len(encoded)+link.Size)
	copy(raw, encoded)
	l.PutBytes(raw[len(encoded):])

	p.slots[i] = unsizedSlot{offset: p.lastValueOffset, length: uint16(len(raw))}
	p.lastValueOffset += uint16(len(raw))
	p.values[i] = raw
	p.keys[i] = key
	return nil
}

// RemoveAt removes the logical i-th entry. The underlying value bytes are
// left in the tail (never moved); only the slot/value/key tables shrink.
func (p *UnsizedIndexPage[K]) RemoveAt(i int) (K, link.Link) {
	key, l := p.At(i)
	p.slots = append(p.slots[:i], p.slots[i+1:]...)
	p.values = append(p.values[:i], p.values[i+1:]...)
	p.keys = append(p.keys[:i], p.keys[i+1:]...)
	return key, l
}

// SplitIndex chooses the logical position to split at, targeting the
// byte-midpoint of the value tail (±1 tolerance) rather than the element
// midpoint, per spec §4.2.
func (p *UnsizedIndexPage[K]) SplitIndex() int {
	target := int(p.lastValueOffset) / 2
	cum := 0
	best, bestDelta := 0, int(^uint(0)>>1)
	for i, s := range p.slots {
		cum += int(s.length)
		if delta := abs(cum - target); delta < bestDelta {
			best, bestDelta = i+1, delta
		}
	}
	if best < 1 {
		best = 1
	}
	if best > len(p.slots)-1 && len(p.slots) > 1 {
		best = len(p.slots) - 1
	}
	return best
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// Bytes serializes the node. The value tail bytes are written verbatim
// (including any garbage left by removed entries); only entries reachable
// through the current slot table are meaningful on parse.
func (p *UnsizedIndexPage[K]) Bytes(pageSize int) []byte {
	buf := make([]byte, pageSize)
	p.Header.DataLength = uint16(len(p.slots))
	p.Header.PutBytes(buf[0:HeaderSize])

	off := HeaderSize
	encodedNodeID := p.Codec.Encode(p.NodeID)
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(encodedNodeID)))
	off += 2
	copy(buf[off:], encodedNodeID)
	off += len(encodedNodeID)

	binary.LittleEndian.PutUint16(buf[off:], uint16(len(p.slots)))
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], p.lastValueOffset)
	off += 2

	slotTableOff := off
	tailStart := slotTableOff + len(p.slots)*4
	for i, s := range p.slots {
		binary.LittleEndian.PutUint16(buf[slotTableOff+i*4:], s.offset)
		binary.LittleEndian.PutUint16(buf[slotTableOff+i*4+2:], s.length)
	}
	for i, v := range p.values {
		copy(buf[tailStart+int(p.slots[i].offset):], v)
	}
	return buf
}

// ParseUnsizedIndexPage reconstructs an UnsizedIndexPage[K] from its
// on-disk bytes.
func ParseUnsizedIndexPage[K any](buf []byte, codec UnsizedKeyCodec[K]) (*UnsizedIndexPage[K], error) {
	if len(buf) < HeaderSize+2 {
		return nil, newErr(KindCorruptPage, "buffer shorter than header")
	}
	h := ParseHeader(buf)
	if h.PageType != TypeIndex {
		return nil, newErr(KindUnknownPageType, "expected index page")
	}
	off := HeaderSize
	nodeIDLen := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	nodeID := codec.Decode(buf[off : off+nodeIDLen])
	off += nodeIDLen

	logicalLen := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	lastValueOffset := binary.LittleEndian.Uint16(buf[off:])
	off += 2

	slotTableOff := off
	tailStart := slotTableOff + logicalLen*4

	p := &UnsizedIndexPage[K]{
		Header:          h,
		Codec:           codec,
		NodeID:          nodeID,
		ByteCapacity:    UnsizedNodeByteCapacity(len(buf)),
		lastValueOffset: lastValueOffset,
		slots:           make([]unsizedSlot, logicalLen),
		values:          make([][]byte, logicalLen),
		keys:            make([]K, logicalLen),
	}
	for i := 0; i < logicalLen; i++ {
		s := unsizedSlot{
			offset: binary.LittleEndian.Uint16(buf[slotTableOff+i*4:]),
			length: binary.LittleEndian.Uint16(buf[slotTableOff+i*4+2:]),
		}
		p.slots[i] = s
		raw := make([]byte, s.length)
		copy(raw, buf[tailStart+int(s.offset):tailStart+int(s.offset)+int(s.length)])
		p.values[i] = raw
		keyLen := len(raw) - link.Size
		p.keys[i] = codec.Decode(raw[:keyLen])
	}
	return p, nil
}
