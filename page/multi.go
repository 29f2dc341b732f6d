package page

import (
	"encoding/binary"

	"github.com/gowt/worktable/link"
)

// MultiIndexPage models one node of a non-unique secondary index, where a
// single key maps to a growing set of links (spec §3 "a non-unique index
// key maps to more than one row"). It is laid out exactly like
// UnsizedIndexPage[K] — a byte-budget node with a growing value tail and
// a slot table pointing into it — except each slot's raw value carries N
// links instead of exactly one, and InsertAt/ReplaceAt compact the tail
// once when it has no room left for the new value.
type MultiIndexPage[K any] struct {
	Header GeneralHeader
	Codec  UnsizedKeyCodec[K]

	NodeID          K
	ByteCapacity    int
	lastValueOffset uint16

	slots  []unsizedSlot
	values [][]byte
	keys   []K
}

// MultiNodeByteCapacity derives the per-node byte budget the same way
// UnsizedNodeByteCapacity does; the two page kinds share a header layout.
func MultiNodeByteCapacity(pageSize int) int {
	return InnerSize(pageSize) - 4
}

// NewMultiIndexPage allocates an empty multi-link index node.
func NewMultiIndexPage[K any](pageID uint32, pageSize int, codec UnsizedKeyCodec[K], nodeID K) *MultiIndexPage[K] {
	return &MultiIndexPage[K]{
		Header: GeneralHeader{
			DataVersion: CurrentDataVersion,
			PageType:    TypeIndex,
			PageID:      pageID,
		},
		Codec:        codec,
		NodeID:       nodeID,
		ByteCapacity: MultiNodeByteCapacity(pageSize),
	}
}

// Len returns the number of logically live entries (keys, not links).
func (p *MultiIndexPage[K]) Len() int { return len(p.slots) }

// UsedBytes returns the bytes currently committed to the slot table and
// value tail, garbage from removed/replaced entries included.
func (p *MultiIndexPage[K]) UsedBytes() int {
	return len(p.slots)*4 + int(p.lastValueOffset)
}

// Fits reports whether a value carrying linkCount links and an
// encodedKeyLen-byte key could be inserted as a new slot without
// exceeding the node's byte budget.
func (p *MultiIndexPage[K]) Fits(encodedKeyLen, linkCount int) bool {
	need := 4 + 2 + encodedKeyLen + linkCount*link.Size
	return p.UsedBytes()+need <= p.ByteCapacity
}

func (p *MultiIndexPage[K]) fitsTail(rawLen int) bool {
	return p.UsedBytes()+rawLen <= p.ByteCapacity
}

// compact rebuilds the value tail from only the currently live slots,
// discarding garbage left by prior ReplaceAt/RemoveAt calls. A key whose
// link set grows one link at a time (InsertLink called repeatedly under
// one already-indexed key) would otherwise re-append a slightly larger
// copy of its whole link set on every call and exhaust the byte budget
// after a bounded number of links rather than growing with it.
func (p *MultiIndexPage[K]) compact() {
	off := uint16(0)
	for i, v := range p.values {
		p.slots[i] = unsizedSlot{offset: off, length: uint16(len(v))}
		off += uint16(len(v))
	}
	p.lastValueOffset = off
}

func encodeLinks(encoded []byte, links []link.Link) []byte {
	raw := make([]byte, 2+len(encoded)+len(links)*link.Size)
	binary.LittleEndian.PutUint16(raw, uint16(len(encoded)))
	copy(raw[2:], encoded)
	off := 2 + len(encoded)
	for _, l := range links {
		l.PutBytes(raw[off:])
		off += link.Size
	}
	return raw
}

func decodeLinks[K any](raw []byte, codec UnsizedKeyCodec[K]) (K, []link.Link) {
	keyLen := int(binary.LittleEndian.Uint16(raw))
	key := codec.Decode(raw[2 : 2+keyLen])
	body := raw[2+keyLen:]
	links := make([]link.Link, len(body)/link.Size)
	for i := range links {
		links[i] = link.FromBytes(body[i*link.Size:])
	}
	return key, links
}

// At returns the i-th logically ordered (key, link set) pair.
func (p *MultiIndexPage[K]) At(i int) (K, []link.Link) {
	return decodeLinks(p.values[i], p.Codec)
}

// InsertAt inserts a genuinely new (key, links) slot at logical position i.
func (p *MultiIndexPage[K]) InsertAt(i int, key K, links []link.Link) error {
	encoded := p.Codec.Encode(key)
	raw := encodeLinks(encoded, links)
	if !p.fitsTail(4 + len(raw)) {
		p.compact()
	}
	if !p.fitsTail(4 + len(raw)) {
		return newErr(KindPageFull, "multi index node at byte capacity")
	}

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

// ReplaceAt overwrites the link set stored at logical position i, appending
// fresh bytes to the tail and repointing that slot. Used when a key's link
// set membership changes without the key itself being added or removed.
// Compacts the node once if the tail has no room, reclaiming space the
// stale value being replaced (and any other garbage) was holding, before
// giving up with KindPageFull.
func (p *MultiIndexPage[K]) ReplaceAt(i int, key K, links []link.Link) error {
	encoded := p.Codec.Encode(key)
	raw := encodeLinks(encoded, links)
	if !p.fitsTail(len(raw)) {
		p.compact()
	}
	if !p.fitsTail(len(raw)) {
		return newErr(KindPageFull, "multi index node at byte capacity")
	}

	p.slots[i] = unsizedSlot{offset: p.lastValueOffset, length: uint16(len(raw))}
	p.lastValueOffset += uint16(len(raw))
	p.values[i] = raw
	p.keys[i] = key
	return nil
}

// RemoveAt removes the logical i-th entry (a key whose link set has been
// fully emptied). The underlying bytes are left in the tail.
func (p *MultiIndexPage[K]) RemoveAt(i int) (K, []link.Link) {
	key, links := p.At(i)
	p.slots = append(p.slots[:i], p.slots[i+1:]...)
	p.values = append(p.values[:i], p.values[i+1:]...)
	p.keys = append(p.keys[:i], p.keys[i+1:]...)
	return key, links
}

// SplitIndex targets the byte-midpoint of the value tail, mirroring
// UnsizedIndexPage.SplitIndex.
func (p *MultiIndexPage[K]) SplitIndex() int {
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

// Bytes serializes the node.
func (p *MultiIndexPage[K]) Bytes(pageSize int) []byte {
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

// ParseMultiIndexPage reconstructs a MultiIndexPage[K] from its on-disk
// bytes.
func ParseMultiIndexPage[K any](buf []byte, codec UnsizedKeyCodec[K]) (*MultiIndexPage[K], error) {
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

	p := &MultiIndexPage[K]{
		Header:          h,
		Codec:           codec,
		NodeID:          nodeID,
		ByteCapacity:    MultiNodeByteCapacity(len(buf)),
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
		keyLen := int(binary.LittleEndian.Uint16(raw))
		p.keys[i] = codec.Decode(raw[2 : 2+keyLen])
	}
	return p, nil
}
