package space

import (
	"github.com/gowt/worktable/cdc"
	"github.com/gowt/worktable/indexmap"
	"github.com/gowt/worktable/link"
	"github.com/gowt/worktable/page"
)

// nodePage is the common shape indexFile needs from one B-tree node,
// whether it is backed by a fixed-width page.IndexPage[any] (sized, unique
// keys), a variable-length page.UnsizedIndexPage[any] (unsized, unique
// keys), or a page.MultiIndexPage[any] (non-unique keys, any width), so
// the incremental event replay below is written once instead of three
// times. Every node kind reports its value as []link.Link: exactly one
// element for a unique index, one-or-more for a non-unique one.
type nodePage interface {
	Len() int
	At(i int) (key any, links []link.Link)
	InsertAt(i int, key any, links []link.Link) error
	ReplaceAt(i int, key any, links []link.Link) error
	RemoveAt(i int) (key any, links []link.Link)
	NodeID() any
	SetNodeID(k any)
	SetPageID(id uint32)
	Bytes(pageSize int) []byte
}

func firstLink(links []link.Link) link.Link {
	if len(links) == 0 {
		return link.Link{}
	}
	return links[0]
}

type sizedNode struct{ p *page.IndexPage[any] }

func (n sizedNode) Len() int { return n.p.Len() }
func (n sizedNode) At(i int) (any, []link.Link) {
	v := n.p.At(i)
	return v.Key, []link.Link{v.Link}
}
func (n sizedNode) InsertAt(i int, key any, links []link.Link) error {
	return n.p.InsertAt(i, page.IndexValue[any]{Key: key, Link: firstLink(links)})
}
func (n sizedNode) ReplaceAt(i int, key any, links []link.Link) error {
	n.p.ReplaceAt(i, page.IndexValue[any]{Key: key, Link: firstLink(links)})
	return nil
}
func (n sizedNode) RemoveAt(i int) (any, []link.Link) {
	v := n.p.RemoveAt(i)
	return v.Key, []link.Link{v.Link}
}
func (n sizedNode) NodeID() any               { return n.p.NodeID }
func (n sizedNode) SetNodeID(k any)           { n.p.NodeID = k }
func (n sizedNode) SetPageID(id uint32)       { n.p.Header.PageID = id }
func (n sizedNode) Bytes(pageSize int) []byte { return n.p.Bytes(pageSize) }

type unsizedNode struct{ p *page.UnsizedIndexPage[any] }

func (n unsizedNode) Len() int { return n.p.Len() }
func (n unsizedNode) At(i int) (any, []link.Link) {
	k, l := n.p.At(i)
	return k, []link.Link{l}
}
func (n unsizedNode) InsertAt(i int, key any, links []link.Link) error {
	return n.p.InsertAt(i, key, firstLink(links))
}
func (n unsizedNode) ReplaceAt(i int, key any, links []link.Link) error {
	return n.p.ReplaceAt(i, key, firstLink(links))
}
func (n unsizedNode) RemoveAt(i int) (any, []link.Link) {
	k, l := n.p.RemoveAt(i)
	return k, []link.Link{l}
}
func (n unsizedNode) NodeID() any               { return n.p.NodeID }
func (n unsizedNode) SetNodeID(k any)           { n.p.NodeID = k }
func (n unsizedNode) SetPageID(id uint32)       { n.p.Header.PageID = id }
func (n unsizedNode) Bytes(pageSize int) []byte { return n.p.Bytes(pageSize) }

type multiNode struct{ p *page.MultiIndexPage[any] }

func (n multiNode) Len() int                        { return n.p.Len() }
func (n multiNode) At(i int) (any, []link.Link)      { return n.p.At(i) }
func (n multiNode) InsertAt(i int, key any, links []link.Link) error {
	return n.p.InsertAt(i, key, links)
}
func (n multiNode) ReplaceAt(i int, key any, links []link.Link) error {
	return n.p.ReplaceAt(i, key, links)
}
func (n multiNode) RemoveAt(i int) (any, []link.Link) { return n.p.RemoveAt(i) }
func (n multiNode) NodeID() any                       { return n.p.NodeID }
func (n multiNode) SetNodeID(k any)                   { n.p.NodeID = k }
func (n multiNode) SetPageID(id uint32)               { n.p.Header.PageID = id }
func (n multiNode) Bytes(pageSize int) []byte         { return n.p.Bytes(pageSize) }

// indexFile owns one index's durable representation: a single
// TableOfContentsPage at page 0, followed by one page per live B-tree
// node. Node pages are cached fully in memory and marked dirty as events
// apply; Flush writes only what changed (spec §4.7's incremental write,
// simplified here to whole-node rewrites rather than in-place patches,
// and without TOC-page chaining — a table whose index outgrows one TOC
// page's capacity is out of scope for this build; see DESIGN.md).
type indexFile struct {
	name     string
	file     StorageFile
	pageSize int
	sized    bool
	multi    bool

	keyCodec     page.KeyCodec[any]
	unsizedCodec page.UnsizedKeyCodec[any]
	tocCodec     page.UnsizedKeyCodec[any]

	toc        *page.TableOfContentsPage[any]
	nodes      map[any]nodePage
	nodePageID map[any]uint32
	dirty      map[any]bool
	nextPageID uint32
	tocDirty   bool
}

func newSizedIndexFile(name string, file StorageFile, pageSize int, codec page.KeyCodec[any]) *indexFile {
	return &indexFile{
		name: name, file: file, pageSize: pageSize, sized: true,
		keyCodec:   codec,
		tocCodec:   page.AsUnsized[any](codec),
		toc:        page.NewTableOfContentsPage[any](0, page.AsUnsized[any](codec)),
		nodes:      map[any]nodePage{},
		nodePageID: map[any]uint32{},
		dirty:      map[any]bool{},
		nextPageID: 1,
		tocDirty:   true,
	}
}

func newUnsizedIndexFile(name string, file StorageFile, pageSize int, codec page.UnsizedKeyCodec[any]) *indexFile {
	return &indexFile{
		name: name, file: file, pageSize: pageSize, sized: false,
		unsizedCodec: codec,
		tocCodec:     codec,
		toc:          page.NewTableOfContentsPage[any](0, codec),
		nodes:        map[any]nodePage{},
		nodePageID:   map[any]uint32{},
		dirty:        map[any]bool{},
		nextPageID:   1,
		tocDirty:     true,
	}
}

func newMultiIndexFile(name string, file StorageFile, pageSize int, codec page.UnsizedKeyCodec[any]) *indexFile {
	return &indexFile{
		name: name, file: file, pageSize: pageSize, multi: true,
		unsizedCodec: codec,
		tocCodec:     codec,
		toc:          page.NewTableOfContentsPage[any](0, codec),
		nodes:        map[any]nodePage{},
		nodePageID:   map[any]uint32{},
		dirty:        map[any]bool{},
		nextPageID:   1,
		tocDirty:     true,
	}
}

// linksFromValue extracts the full slice of links a ChangeEvent's erased
// Value carries: a single-element slice for a plain link.Link (unique
// indexes), or every member of a *indexmap.LinkSet (non-unique indexes) in
// no particular order — order doesn't matter, ReplaceAt always rewrites
// the whole slot from scratch.
func linksFromValue(v any) []link.Link {
	switch val := v.(type) {
	case link.Link:
		return []link.Link{val}
	case *indexmap.LinkSet:
		out := make([]link.Link, 0, val.Len())
		val.Each(func(l link.Link) { out = append(out, l) })
		return out
	default:
		return nil
	}
}

func (f *indexFile) allocatePageID() uint32 {
	if id, ok := f.toc.TakeEmptyPage(); ok {
		return id
	}
	id := f.nextPageID
	f.nextPageID++
	return id
}

func (f *indexFile) newEmptyNode(nodeID any) nodePage {
	switch {
	case f.multi:
		return multiNode{page.NewMultiIndexPage[any](0, f.pageSize, f.unsizedCodec, nodeID)}
	case f.sized:
		return sizedNode{page.NewIndexPage[any](0, f.pageSize, f.keyCodec, nodeID)}
	default:
		return unsizedNode{page.NewUnsizedIndexPage[any](0, f.pageSize, f.unsizedCodec, nodeID)}
	}
}

// rename re-keys the in-memory caches and TOC when InsertAt/RemoveAt
// changed which key identifies a node (prev != cur).
func (f *indexFile) rename(prev, cur any, np nodePage) {
	if prev == cur {
		f.nodes[cur] = np
		f.dirty[cur] = true
		return
	}
	pid := f.nodePageID[prev]
	delete(f.nodes, prev)
	delete(f.nodePageID, prev)
	delete(f.dirty, prev)
	f.nodes[cur] = np
	f.nodePageID[cur] = pid
	f.dirty[cur] = true
	f.toc.Remove(prev)
	f.toc.Put(cur, pid)
	f.tocDirty = true
}

// ApplyEvents replays a batch of same-index CDC events against the
// cached node pages, in order (spec §4.7 "apply events in id order").
// An InsertAt event is ambiguous on its own: IndexMap emits the same
// Kind both for a genuinely new logical slot and for a value-only update
// to an already-occupied one (e.g. a non-unique index's link set gaining
// a member). The two are disambiguated here by checking whether position
// Pos in the node already holds ev.Key.
func (f *indexFile) ApplyEvents(evs []cdc.IndexEvent) error {
	for _, ev := range evs {
		switch ev.Kind {
		case indexmap.CreateNode:
			np := f.newEmptyNode(ev.NodeID)
			if err := np.InsertAt(0, ev.Key, linksFromValue(ev.Value)); err != nil {
				return err
			}
			pid := f.allocatePageID()
			np.SetPageID(pid)
			f.nodes[ev.NodeID] = np
			f.nodePageID[ev.NodeID] = pid
			f.dirty[ev.NodeID] = true
			f.toc.Put(ev.NodeID, pid)
			f.tocDirty = true

		case indexmap.InsertAt:
			np := f.nodes[ev.PrevNodeID]
			if np == nil {
				// no prior CreateNode for this node in the cache: can only
				// happen if the batch omitted it, which a correct producer
				// never does. Skip rather than fabricate a page id.
				continue
			}
			if ev.Pos < np.Len() {
				if k, _ := np.At(ev.Pos); k == ev.Key {
					if err := np.ReplaceAt(ev.Pos, ev.Key, linksFromValue(ev.Value)); err != nil {
						return err
					}
					np.SetNodeID(ev.NodeID)
					f.rename(ev.PrevNodeID, ev.NodeID, np)
					continue
				}
			}
			if err := np.InsertAt(ev.Pos, ev.Key, linksFromValue(ev.Value)); err != nil {
				return err
			}
			np.SetNodeID(ev.NodeID)
			f.rename(ev.PrevNodeID, ev.NodeID, np)

		case indexmap.RemoveAt:
			np := f.nodes[ev.PrevNodeID]
			if np == nil {
				continue
			}
			np.RemoveAt(ev.Pos)
			np.SetNodeID(ev.NodeID)
			f.rename(ev.PrevNodeID, ev.NodeID, np)

		case indexmap.RemoveNode:
			delete(f.nodes, ev.NodeID)
			delete(f.nodePageID, ev.NodeID)
			delete(f.dirty, ev.NodeID)
			f.toc.Remove(ev.NodeID)
			f.tocDirty = true

		case indexmap.SplitNode:
			survivor := f.nodes[ev.NodeID]
			if survivor == nil {
				continue
			}
			lower := f.newEmptyNode(ev.NewNodeID)
			for i := 0; i < ev.Pos; i++ {
				k, links := survivor.RemoveAt(0)
				if err := lower.InsertAt(i, k, links); err != nil {
					return err
				}
			}
			pid := f.allocatePageID()
			lower.SetPageID(pid)
			f.nodes[ev.NewNodeID] = lower
			f.nodePageID[ev.NewNodeID] = pid
			f.dirty[ev.NewNodeID] = true
			f.dirty[ev.NodeID] = true
			f.toc.Put(ev.NewNodeID, pid)
			f.tocDirty = true
		}
	}
	return nil
}

// Flush writes every dirty node page and, if changed, the TOC page.
func (f *indexFile) Flush() error {
	for nodeID := range f.dirty {
		np := f.nodes[nodeID]
		pid, ok := f.nodePageID[nodeID]
		if !ok {
			continue
		}
		if err := writePage(f.file, f.pageSize, pid, np.Bytes(f.pageSize)); err != nil {
			return err
		}
	}
	f.dirty = map[any]bool{}
	if f.tocDirty {
		if err := writePage(f.file, f.pageSize, 0, f.toc.Bytes(f.pageSize)); err != nil {
			return err
		}
		f.tocDirty = false
	}
	return nil
}

// loadIndexFile reconstructs an indexFile from an existing TOC + node
// pages, following every TOC entry and parsing its page (spec §4.7
// "Load": follow TOC chains, attach_node into the in-memory map").
func loadIndexFile(name string, file StorageFile, pageSize int, sized, multi bool, keyCodec page.KeyCodec[any], unsizedCodec page.UnsizedKeyCodec[any]) (*indexFile, error) {
	tocCodec := unsizedCodec
	if sized {
		tocCodec = page.AsUnsized[any](keyCodec)
	}
	raw, err := readPage(file, pageSize, 0)
	if err != nil {
		return nil, err
	}
	toc, err := page.ParseTableOfContentsPage[any](raw, tocCodec)
	if err != nil {
		return nil, err
	}

	f := &indexFile{
		name: name, file: file, pageSize: pageSize, sized: sized, multi: multi,
		keyCodec: keyCodec, unsizedCodec: unsizedCodec, tocCodec: tocCodec,
		toc:        toc,
		nodes:      map[any]nodePage{},
		nodePageID: map[any]uint32{},
		dirty:      map[any]bool{},
		nextPageID: 1,
	}
	for _, e := range toc.Entries {
		nodeBuf, err := readPage(file, pageSize, e.PageID)
		if err != nil {
			return nil, err
		}
		var np nodePage
		switch {
		case multi:
			p, err := page.ParseMultiIndexPage[any](nodeBuf, unsizedCodec)
			if err != nil {
				return nil, err
			}
			np = multiNode{p}
		case sized:
			p, err := page.ParseIndexPage[any](nodeBuf, keyCodec)
			if err != nil {
				return nil, err
			}
			np = sizedNode{p}
		default:
			p, err := page.ParseUnsizedIndexPage[any](nodeBuf, unsizedCodec)
			if err != nil {
				return nil, err
			}
			np = unsizedNode{p}
		}
		f.nodes[e.NodeID] = np
		f.nodePageID[e.NodeID] = e.PageID
		if e.PageID >= f.nextPageID {
			f.nextPageID = e.PageID + 1
		}
	}
	return f, nil
}

// eachNode calls fn for every cached node, completing the reload path for
// a table's indexes.
func (f *indexFile) eachNode(fn func(nodeID any, np nodePage)) {
	for nodeID, np := range f.nodes {
		fn(nodeID, np)
	}
}
