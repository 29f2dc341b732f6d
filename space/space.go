package space

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gowt/worktable/cdc"
	"github.com/gowt/worktable/link"
	"github.com/gowt/worktable/page"
)

// IndexCodec carries the sized-or-unsized key codec one index needs,
// erased to `any` via page.Erase/page.EraseUnsized so Space can hold a
// heterogeneous set of indexes without itself being generic over each
// one's key type. Multi selects the durable representation: a non-unique
// index's key maps to more than one link, so it always uses
// page.MultiIndexPage regardless of whether the key itself is sized or
// unsized; Sized only matters when Multi is false.
type IndexCodec struct {
	Sized   bool
	Multi   bool
	Key     page.KeyCodec[any]
	Unsized page.UnsizedKeyCodec[any]
}

// unsizedCodecFor derives the byte-budget UnsizedKeyCodec[any] a
// MultiIndexPage needs, regardless of whether the index's native key
// codec is itself sized or unsized.
func unsizedCodecFor(codec IndexCodec) page.UnsizedKeyCodec[any] {
	if codec.Sized {
		return page.AsUnsized[any](codec.Key)
	}
	return codec.Unsized
}

// Config describes the on-disk shape of one table's space files,
// supplied by the generated schema (spec §6).
type Config struct {
	TableName string
	PageSize  int
	Primary   IndexCodec
	Secondary map[string]IndexCodec
}

// Files are the already-open StorageFile handles backing one table's
// space: an info file, a data file, and one index file per index. The
// caller (worktable package, or a test) decides whether these are real
// os.Files or in-memory MemFiles.
type Files struct {
	Info      StorageFile
	Data      StorageFile
	Primary   StorageFile
	Secondary map[string]StorageFile
}

// Space owns one table's durable files and implements
// persistence.Committer, applying a validated batch in the 4-step order
// the persistence task drives (spec §4.5/§4.7): primary index, secondary
// indexes, data pages, then space info.
type Space struct {
	mu       sync.Mutex
	cfg      Config
	files    Files
	pageSize int

	primary   *indexFile
	secondary map[string]*indexFile

	info           *page.SpaceInfoPage
	dataPageInit   map[uint32]bool
	dataFreeOffset map[uint32]uint32
}

// Bootstrap creates fresh, empty space files for a table that has no
// prior on-disk state (spec §4.7 "Bootstrap": no file present, write a
// defaulted SpaceInfoPage").
func Bootstrap(cfg Config, files Files) (*Space, error) {
	s := &Space{
		cfg: cfg, files: files, pageSize: cfg.PageSize,
		secondary:      map[string]*indexFile{},
		dataPageInit:   map[uint32]bool{},
		dataFreeOffset: map[uint32]uint32{},
	}
	s.primary = newIndexFileFor("primary", files.Primary, cfg.PageSize, cfg.Primary)
	for name, codec := range cfg.Secondary {
		sf, ok := files.Secondary[name]
		if !ok {
			return nil, fmt.Errorf("space: missing file for secondary index %q", name)
		}
		s.secondary[name] = newIndexFileFor(name, sf, cfg.PageSize, codec)
	}

	s.info = page.NewSpaceInfoPage(cfg.TableName)
	if err := s.primary.Flush(); err != nil {
		return nil, err
	}
	for _, f := range s.secondary {
		if err := f.Flush(); err != nil {
			return nil, err
		}
	}
	if err := writePage(files.Info, cfg.PageSize, 0, s.info.Bytes(cfg.PageSize)); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reopens an existing table's space files, following each index's
// TOC to rebuild its node cache (spec §4.7 "Load").
func Load(cfg Config, files Files) (*Space, error) {
	s := &Space{
		cfg: cfg, files: files, pageSize: cfg.PageSize,
		secondary:      map[string]*indexFile{},
		dataPageInit:   map[uint32]bool{},
		dataFreeOffset: map[uint32]uint32{},
	}
	raw, err := readPage(files.Info, cfg.PageSize, 0)
	if err != nil {
		return nil, err
	}
	info, err := page.ParseSpaceInfoPage(raw)
	if err != nil {
		return nil, err
	}
	s.info = info

	primary, err := loadIndexFileFor("primary", files.Primary, cfg.PageSize, cfg.Primary)
	if err != nil {
		return nil, err
	}
	s.primary = primary

	for name, codec := range cfg.Secondary {
		sf, ok := files.Secondary[name]
		if !ok {
			return nil, fmt.Errorf("space: missing file for secondary index %q", name)
		}
		f, err := loadIndexFileFor(name, sf, cfg.PageSize, codec)
		if err != nil {
			return nil, err
		}
		s.secondary[name] = f
	}

	for id := uint32(1); id <= info.PageCount; id++ {
		s.dataPageInit[id] = true
	}
	return s, nil
}

func newIndexFileFor(name string, file StorageFile, pageSize int, codec IndexCodec) *indexFile {
	switch {
	case codec.Multi:
		return newMultiIndexFile(name, file, pageSize, unsizedCodecFor(codec))
	case codec.Sized:
		return newSizedIndexFile(name, file, pageSize, codec.Key)
	default:
		return newUnsizedIndexFile(name, file, pageSize, codec.Unsized)
	}
}

func loadIndexFileFor(name string, file StorageFile, pageSize int, codec IndexCodec) (*indexFile, error) {
	unsized := codec.Unsized
	if codec.Multi {
		unsized = unsizedCodecFor(codec)
	}
	return loadIndexFile(name, file, pageSize, codec.Sized, codec.Multi, codec.Key, unsized)
}

// ApplyPrimaryEvents applies one batch's primary-index events.
func (s *Space) ApplyPrimaryEvents(evs []cdc.IndexEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primary.ApplyEvents(evs)
}

// ApplySecondaryEvents applies one batch's events for a single named
// secondary index.
func (s *Space) ApplySecondaryEvents(index string, evs []cdc.IndexEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.secondary[index]
	if !ok {
		return fmt.Errorf("space: unknown secondary index %q", index)
	}
	return f.ApplyEvents(evs)
}

// dataPageID0 accounts for data-file page ids being 1-based
// (link.PageId), unlike index-file page ids which reserve 0 for the TOC.
func dataPageID0(id uint32) uint32 { return id - 1 }

func (s *Space) ensureDataPageInit(id uint32) error {
	if s.dataPageInit[id] {
		return nil
	}
	blank := page.NewDataPage(id, s.pageSize)
	if err := writePage(s.files.Data, s.pageSize, dataPageID0(id), blank.Bytes()); err != nil {
		return err
	}
	s.dataPageInit[id] = true
	s.dataFreeOffset[id] = uint32(page.HeaderSize + 4)
	return nil
}

func (s *Space) writeDataFreeOffset(id uint32, off uint32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, off)
	return writeAt(s.files.Data, s.pageSize, dataPageID0(id), uint32(page.HeaderSize), buf)
}

// WriteDataPages writes the batch's finalized per-link row bytes into the
// data file, then flushes every dirty index page produced by this
// batch's ApplyPrimaryEvents/ApplySecondaryEvents calls.
func (s *Space) WriteDataPages(writes map[link.Link][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for l, bytes := range writes {
		id := uint32(l.PageID)
		if err := s.ensureDataPageInit(id); err != nil {
			return err
		}
		if err := writeAt(s.files.Data, s.pageSize, dataPageID0(id), l.Offset, bytes); err != nil {
			return err
		}
		end := l.Offset + uint32(len(bytes))
		if end > s.dataFreeOffset[id] {
			s.dataFreeOffset[id] = end
			if err := s.writeDataFreeOffset(id, end); err != nil {
				return err
			}
		}
	}
	if err := s.primary.Flush(); err != nil {
		return err
	}
	for _, f := range s.secondary {
		if err := f.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// WriteSpaceInfo persists the info page, including the current page
// count so Load knows how many data pages to read back.
func (s *Space) WriteSpaceInfo() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info.PageCount = uint32(len(s.dataPageInit))
	return writePage(s.files.Info, s.pageSize, 0, s.info.Bytes(s.pageSize))
}

// SetEmptyDataLinks records the row store's free-link stack into the
// info page ahead of the next WriteSpaceInfo, so a reload can restore it
// (spec §4.7, mirrors rowstore.RestoreEmptyLinks on the read side).
func (s *Space) SetEmptyDataLinks(links []link.Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info.EmptyDataLinks = links
}

// SetSchema records the table's column/PK/index descriptors and
// generator state into the info page.
func (s *Space) SetSchema(columns []page.ColumnDescriptor, pkFields []string, indexes []page.IndexDescriptor, gen page.GeneratorState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info.Columns = columns
	s.info.PrimaryKeyFields = pkFields
	s.info.SecondaryIndexes = indexes
	s.info.Generator = gen
}

// SetGeneratorState records the table's advanced autoincrement counter
// ahead of the next WriteSpaceInfo, so a reload picks up where the
// generator left off (spec §4.7, driven by cdc.Operation.PKGenState).
func (s *Space) SetGeneratorState(gen page.GeneratorState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info.Generator = gen
}

// Info returns the current (possibly just-loaded) space info page.
func (s *Space) Info() *page.SpaceInfoPage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// LoadDataPages reads back every data page the info page's PageCount
// claims exist, for handing to rowstore.FromDataPages during reload.
func (s *Space) LoadDataPages() ([]*page.DataPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pages := make([]*page.DataPage, s.info.PageCount)
	for i := uint32(0); i < s.info.PageCount; i++ {
		id := i + 1
		raw, err := readPage(s.files.Data, s.pageSize, dataPageID0(id))
		if err != nil {
			return nil, err
		}
		dp, err := page.ParseDataPage(raw)
		if err != nil {
			return nil, err
		}
		pages[i] = dp
	}
	return pages, nil
}

// AttachPrimaryTo replays every cached primary-index node into a fresh
// indexmap.IndexMap[K, link.Link], completing the reload path (spec
// §4.7's attach_node step). K must match the codec's erased concrete
// type, or the type assertions inside fn will panic. The primary index is
// always unique, so each key's link slice always has exactly one element.
func (s *Space) AttachPrimaryTo(attach func(nodeID any, keys []any, linkSets [][]link.Link)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.primary.eachNode(func(nodeID any, np nodePage) {
		n := np.Len()
		keys := make([]any, n)
		linkSets := make([][]link.Link, n)
		for i := 0; i < n; i++ {
			k, links := np.At(i)
			keys[i] = k
			linkSets[i] = links
		}
		attach(nodeID, keys, linkSets)
	})
}

// AttachSecondaryTo replays one secondary index's cached nodes. A unique
// secondary index's link slices always have exactly one element; a
// non-unique index's carry the full persisted link set per key, restoring
// the index to exactly the membership it held when last flushed.
func (s *Space) AttachSecondaryTo(index string, attach func(nodeID any, keys []any, linkSets [][]link.Link)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.secondary[index]
	if !ok {
		return fmt.Errorf("space: unknown secondary index %q", index)
	}
	f.eachNode(func(nodeID any, np nodePage) {
		n := np.Len()
		keys := make([]any, n)
		linkSets := make([][]link.Link, n)
		for i := 0; i < n; i++ {
			k, links := np.At(i)
			keys[i] = k
			linkSets[i] = links
		}
		attach(nodeID, keys, linkSets)
	})
	return nil
}
