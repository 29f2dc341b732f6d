package page

import (
	"encoding/binary"

	"github.com/gowt/worktable/link"
)

// freePhysicalSentinel is written into unused slot-table entries so the
// serialized page has a deterministic byte pattern; parsing reconstructs
// which physical positions are free from the live slot table, not from
// this value.
const freePhysicalSentinel = 0xFFFF

// IndexValue is one (key, link) pair stored in an IndexPage's value array.
type IndexValue[K any] struct {
	Key  K
	Link link.Link
}

// IndexPage models one node of the in-memory B-tree index on disk (spec
// §3 "IndexPage<K>"). It carries a fixed-capacity physical value array
// plus a slot array giving the logical (sorted) order: slots[i] is the
// physical position of the i-th logically ordered value. Removing a
// value frees its physical slot for reuse without shifting the other
// values — the same "mark and reuse" approach the teacher's free-link
// stack uses for data pages (storage/pager.go), applied here to index
// node slots instead of whole rows.
type IndexPage[K any] struct {
	Header GeneralHeader
	Codec  KeyCodec[K]

	NodeID   K // largest key currently stored in this node
	Capacity int

	slots  []uint16          // logical order -> physical index, len == logical count
	values []IndexValue[K]   // physical array, len == Capacity
	used   []bool            // used[i] == physical slot i holds a live value
}

// SizedNodeCapacity derives a fixed per-node capacity from the page's
// inner size and the width of one (key, link) pair, per spec §4.2
// "node capacity is derived once from (DATA_LENGTH, sizeof(K)+sizeof(Link))".
func SizedNodeCapacity(pageSize, keySize int) int {
	inner := InnerSize(pageSize)
	// body = keySize (node_id) + 2 (entry count) + 2 (capacity)
	//      + capacity*2 (slots) + capacity*(keySize+link.Size) (values)
	fixed := keySize + 4
	perSlot := 2 + keySize + link.Size
	cap := (inner - fixed) / perSlot
	if cap < 1 {
		cap = 1
	}
	return cap
}

// NewIndexPage allocates an empty index node page.
func NewIndexPage[K any](pageID uint32, pageSize int, codec KeyCodec[K], nodeID K) *IndexPage[K] {
	capacity := SizedNodeCapacity(pageSize, codec.Size())
	return &IndexPage[K]{
		Header: GeneralHeader{
			DataVersion: CurrentDataVersion,
			PageType:    TypeIndex,
			PageID:      pageID,
		},
		Codec:    codec,
		NodeID:   nodeID,
		Capacity: capacity,
		slots:    make([]uint16, 0, capacity),
		values:   make([]IndexValue[K], capacity),
		used:     make([]bool, capacity),
	}
}

// Len returns the number of logically live entries in the node.
func (p *IndexPage[K]) Len() int { return len(p.slots) }

// Full reports whether the node has no free physical slot left.
func (p *IndexPage[K]) Full() bool {
	return p.physicalUsed() >= p.Capacity
}

func (p *IndexPage[K]) physicalUsed() int {
	n := 0
	for _, u := range p.used {
		if u {
			n++
		}
	}
	return n
}

func (p *IndexPage[K]) freePhysicalSlot() (int, bool) {
	for i, u := range p.used {
		if !u {
			return i, true
		}
	}
	return 0, false
}

// At returns the i-th logically ordered (key, link) pair.
func (p *IndexPage[K]) At(i int) IndexValue[K] {
	return p.values[p.slots[i]]
}

// InsertAt inserts value at logical position i (spec's ChangeEvent
// InsertAt). Returns ErrPageFull if the node has no free physical slot.
func (p *IndexPage[K]) InsertAt(i int, v IndexValue[K]) error {
	phys, ok := p.freePhysicalSlot()
	if !ok {
		return newErr(KindPageFull, "index node at capacity")
	}
	p.values[phys] = v
	p.used[phys] = true
	p.slots = append(p.slots, 0)
	copy(p.slots[i+1:], p.slots[i:len(p.slots)-1])
	p.slots[i] = uint16(phys)
	return nil
}

// ReplaceAt overwrites the value stored at logical position i in place,
// without touching the slot table or physical allocation.
func (p *IndexPage[K]) ReplaceAt(i int, v IndexValue[K]) {
	p.values[p.slots[i]] = v
}

// RemoveAt removes the logical i-th entry, freeing its physical slot for
// reuse without moving any other value (spec's ChangeEvent RemoveAt).
func (p *IndexPage[K]) RemoveAt(i int) IndexValue[K] {
	phys := p.slots[i]
	v := p.values[phys]
	p.used[phys] = false
	p.slots = append(p.slots[:i], p.slots[i+1:]...)
	return v
}

// Bytes serializes the node into a page-sized buffer.
func (p *IndexPage[K]) Bytes(pageSize int) []byte {
	buf := make([]byte, pageSize)
	p.Header.DataLength = uint16(len(p.slots))
	p.Header.PutBytes(buf[0:HeaderSize])

	off := HeaderSize
	keySize := p.Codec.Size()
	p.Codec.Encode(p.NodeID, buf[off:off+keySize])
	off += keySize

	binary.LittleEndian.PutUint16(buf[off:], uint16(len(p.slots)))
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], uint16(p.Capacity))
	off += 2

	for _, s := range p.slots {
		binary.LittleEndian.PutUint16(buf[off:], s)
		off += 2
	}
	// pad remaining slot table so physical layout is deterministic across writes
	for i := len(p.slots); i < p.Capacity; i++ {
		binary.LittleEndian.PutUint16(buf[off:], freePhysicalSentinel)
		off += 2
	}

	linkBuf := make([]byte, link.Size)
	for i := 0; i < p.Capacity; i++ {
		if p.used[i] {
			p.Codec.Encode(p.values[i].Key, buf[off:off+keySize])
			p.values[i].Link.PutBytes(linkBuf)
			copy(buf[off+keySize:off+keySize+link.Size], linkBuf)
		}
		off += keySize + link.Size
	}
	return buf
}

// ParseIndexPage reconstructs an IndexPage[K] from its on-disk bytes.
// Free physical slots are reconstructed from which physical positions the
// live slot table does not reference, rather than stored explicitly.
func ParseIndexPage[K any](buf []byte, codec KeyCodec[K]) (*IndexPage[K], error) {
	if len(buf) < HeaderSize {
		return nil, newErr(KindCorruptPage, "buffer shorter than header")
	}
	h := ParseHeader(buf)
	if h.PageType != TypeIndex {
		return nil, newErr(KindUnknownPageType, "expected index page")
	}
	off := HeaderSize
	keySize := codec.Size()
	if off+keySize+4 > len(buf) {
		return nil, newErr(KindCorruptPage, "buffer too short for index node prefix")
	}
	nodeID := codec.Decode(buf[off : off+keySize])
	off += keySize
	logicalLen := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	capacity := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2

	p := &IndexPage[K]{
		Header:   h,
		Codec:    codec,
		NodeID:   nodeID,
		Capacity: capacity,
		slots:    make([]uint16, logicalLen),
		values:   make([]IndexValue[K], capacity),
		used:     make([]bool, capacity),
	}
	for i := 0; i < logicalLen; i++ {
		p.slots[i] = binary.LittleEndian.Uint16(buf[off:])
		off += 2
	}
	off += 2 * (capacity - logicalLen)

	for i := 0; i < capacity; i++ {
		k := codec.Decode(buf[off : off+keySize])
		l := link.FromBytes(buf[off+keySize : off+keySize+link.Size])
		p.values[i] = IndexValue[K]{Key: k, Link: l}
		off += keySize + link.Size
	}
	for _, phys := range p.slots {
		p.used[phys] = true
	}
	return p, nil
}
