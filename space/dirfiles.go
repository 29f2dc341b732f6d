package space

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirFiles is a real-disk-backed Files bundle plus the OS-level lock
// guarding the directory, returned by OpenDir. Grounded on the teacher's
// openPager (storage/pager.go): acquire the directory lock first, then
// open each backing file, unwinding the lock on any later failure.
type DirFiles struct {
	Files
	lock *fileLock
}

// Close releases the directory lock and closes every backing file.
func (d *DirFiles) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	record(d.Info.Close())
	record(d.Data.Close())
	record(d.Primary.Close())
	for _, f := range d.Secondary {
		record(f.Close())
	}
	if d.lock != nil {
		record(d.lock.unlock())
	}
	return firstErr
}

// OpenDir opens (creating if absent) the on-disk directory backing one
// table's space files: an info file, a data file, a primary index file,
// and one secondary index file per name in indexNames. Takes an
// exclusive OS-level lock on the directory for the lifetime of the
// returned DirFiles, preventing a second process from opening the same
// table concurrently (spec §4.7's space files are not safe for
// multi-process access).
func OpenDir(dir string, indexNames []string) (*DirFiles, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("space: create table directory: %w", err)
	}
	lock, err := lockFile(filepath.Join(dir, "space"))
	if err != nil {
		return nil, err
	}

	open := func(name string) (*os.File, error) {
		return os.OpenFile(filepath.Join(dir, name), os.O_RDWR|os.O_CREATE, 0644)
	}

	info, err := open("info.page")
	if err != nil {
		lock.unlock()
		return nil, err
	}
	data, err := open("data.page")
	if err != nil {
		info.Close()
		lock.unlock()
		return nil, err
	}
	primary, err := open("primary.idx")
	if err != nil {
		info.Close()
		data.Close()
		lock.unlock()
		return nil, err
	}

	secondary := make(map[string]StorageFile, len(indexNames))
	for _, name := range indexNames {
		f, err := open(name + ".idx")
		if err != nil {
			info.Close()
			data.Close()
			primary.Close()
			for _, sf := range secondary {
				sf.Close()
			}
			lock.unlock()
			return nil, err
		}
		secondary[name] = f
	}

	return &DirFiles{
		Files: Files{Info: info, Data: data, Primary: primary, Secondary: secondary},
		lock:  lock,
	}, nil
}
