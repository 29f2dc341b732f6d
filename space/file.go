// Package space owns the three page-structured files backing one
// table: the info file, the primary/secondary index files, and the
// data file (spec §4.7). It implements persistence.Committer, applying
// a validated batch's primary, secondary, and data-page writes in the
// 4-step commit order and bootstrapping/reloading a table directory
// from disk. Grounded on the teacher's Pager (storage/pager.go): same
// StorageFile abstraction over a real file or an in-memory one, same
// OS-level exclusive file lock per table directory.
package space

import (
	"io"
	"os"
	"time"
)

// StorageFile abstracts one open file, real or in-memory, the way the
// teacher's Pager does (storage/memfile.go) so tests never touch disk.
type StorageFile interface {
	ReadAt(b []byte, off int64) (n int, err error)
	WriteAt(b []byte, off int64) (n int, err error)
	Sync() error
	Close() error
	Stat() (os.FileInfo, error)
}

// MemFile is an in-memory StorageFile, adapted from the teacher's
// storage.MemFile for use as a table's space files in tests.
type MemFile struct {
	data []byte
}

// NewMemFile creates an empty in-memory file.
func NewMemFile() *MemFile { return &MemFile{} }

func (m *MemFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemFile) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	return copy(m.data[off:], p), nil
}

func (m *MemFile) Sync() error  { return nil }
func (m *MemFile) Close() error { return nil }

func (m *MemFile) Stat() (os.FileInfo, error) {
	return &memFileInfo{size: int64(len(m.data))}, nil
}

type memFileInfo struct{ size int64 }

func (fi *memFileInfo) Name() string       { return "memfile" }
func (fi *memFileInfo) Size() int64        { return fi.size }
func (fi *memFileInfo) Mode() os.FileMode  { return 0644 }
func (fi *memFileInfo) ModTime() time.Time { return time.Time{} }
func (fi *memFileInfo) IsDir() bool        { return false }
func (fi *memFileInfo) Sys() interface{}   { return nil }
