//go:build js || wasip1

package space

// fileLock is a no-op on js/wasm (in-memory only, no file system).
type fileLock struct{}

func lockFile(_ string) (*fileLock, error) { return &fileLock{}, nil }

func (fl *fileLock) unlock() error { return nil }
