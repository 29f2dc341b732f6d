package page

import "encoding/binary"

// KeyCodec serializes a fixed-width key type K to and from bytes, and
// orders two keys. IndexPage[K] needs this because Go generics carry no
// serialization or ordering capability on their own; the codec is the
// per-key-type plug-in a generated table would supply, the runtime
// equivalent of the teacher hand-rolling one string-keyed B+Tree per
// index instead of parameterizing over the key type.
type KeyCodec[K any] interface {
	// Size is the fixed encoded width of K, in bytes.
	Size() int
	Encode(k K, buf []byte)
	Decode(buf []byte) K
	Compare(a, b K) int
}

// Uint64Codec encodes uint64 keys (e.g. autoincrement primary keys).
type Uint64Codec struct{}

func (Uint64Codec) Size() int { return 8 }
func (Uint64Codec) Encode(k uint64, buf []byte) {
	binary.LittleEndian.PutUint64(buf, k)
}
func (Uint64Codec) Decode(buf []byte) uint64 {
	return binary.LittleEndian.Uint64(buf)
}
func (Uint64Codec) Compare(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Int64Codec encodes signed int64 keys, preserving numeric order by
// flipping the sign bit the way a lexicographically-sorted fixed-width
// key must.
type Int64Codec struct{}

func (Int64Codec) Size() int { return 8 }
func (Int64Codec) Encode(k int64, buf []byte) {
	binary.LittleEndian.PutUint64(buf, uint64(k)^(1<<63))
}
func (Int64Codec) Decode(buf []byte) int64 {
	return int64(binary.LittleEndian.Uint64(buf) ^ (1 << 63))
}
func (Int64Codec) Compare(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
