package page

// Erase adapts a concrete KeyCodec[K] into a KeyCodec[any], so the space
// package can hold one IndexPage[any]/UnsizedIndexPage[any] per index
// without itself being generic over every index's key type — the same
// type-erasure the cdc package applies to ChangeEvent at the batcher
// boundary (spec §9's "capability set implemented once per generated
// struct"), applied here one layer lower, at the page codec itself.
func Erase[K any](inner KeyCodec[K]) KeyCodec[any] { return erasedCodec[K]{inner} }

type erasedCodec[K any] struct{ inner KeyCodec[K] }

func (c erasedCodec[K]) Size() int                 { return c.inner.Size() }
func (c erasedCodec[K]) Encode(k any, buf []byte)   { c.inner.Encode(k.(K), buf) }
func (c erasedCodec[K]) Decode(buf []byte) any      { return c.inner.Decode(buf) }
func (c erasedCodec[K]) Compare(a, b any) int       { return c.inner.Compare(a.(K), b.(K)) }

// AsUnsized adapts a fixed-size KeyCodec[K] to the UnsizedKeyCodec[K]
// shape a TableOfContentsPage expects, since the TOC's key encoding
// never needs to know whether the index itself is sized or unsized.
func AsUnsized[K any](inner KeyCodec[K]) UnsizedKeyCodec[K] { return sizedAsUnsized[K]{inner} }

type sizedAsUnsized[K any] struct{ inner KeyCodec[K] }

func (c sizedAsUnsized[K]) Encode(k K) []byte {
	buf := make([]byte, c.inner.Size())
	c.inner.Encode(k, buf)
	return buf
}
func (c sizedAsUnsized[K]) Decode(buf []byte) K   { return c.inner.Decode(buf) }
func (c sizedAsUnsized[K]) Compare(a, b K) int     { return c.inner.Compare(a, b) }

// EraseUnsized adapts a concrete UnsizedKeyCodec[K] into one over `any`.
func EraseUnsized[K any](inner UnsizedKeyCodec[K]) UnsizedKeyCodec[any] {
	return erasedUnsizedCodec[K]{inner}
}

type erasedUnsizedCodec[K any] struct{ inner UnsizedKeyCodec[K] }

func (c erasedUnsizedCodec[K]) Encode(k any) []byte   { return c.inner.Encode(k.(K)) }
func (c erasedUnsizedCodec[K]) Decode(buf []byte) any { return c.inner.Decode(buf) }
func (c erasedUnsizedCodec[K]) Compare(a, b any) int  { return c.inner.Compare(a.(K), b.(K)) }
