package substrate

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

// writeFileAtomic writes data to path by writing a temp file in the same
// directory, fsyncing it, then renaming over the destination. This is
// the same shape as the original's safe_json_save temp-file dance,
// minus the separate .bak copy — rename is already atomic so a
// snapshot copy adds nothing but I/O here.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", ErrPersistence, dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp: %v", ErrPersistence, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write temp: %v", ErrPersistence, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: fsync temp: %v", ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp: %v", ErrPersistence, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("%w: chmod temp: %v", ErrPersistence, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: rename: %v", ErrPersistence, err)
	}
	return nil
}

// fileGuard is a per-file write mutex. The data directory keeps one per
// managed file so concurrent writers to *different* files never block
// each other, matching spec §3's "process-wide write lock per file."
type fileGuard struct {
	mu sync.Mutex
}

var guards = struct {
	mu sync.Mutex
	m  map[string]*fileGuard
}{m: make(map[string]*fileGuard)}

func guardFor(path string) *fileGuard {
	guards.mu.Lock()
	defer guards.mu.Unlock()
	g, ok := guards.m[path]
	if !ok {
		g = &fileGuard{}
		guards.m[path] = g
	}
	return g
}

// dirLock is the process-wide exclusive advisory lock on a data
// directory, acquired once at Init via flock(2) on a LOCK file. No
// flock library appears anywhere in the example pack, so this is a
// direct, narrowly-scoped syscall use (see DESIGN.md).
type dirLock struct {
	f *os.File
}

func acquireDirLock(dataDir string) (*dirLock, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: mkdir %s: %v", ErrPersistence, dataDir, err)
	}
	path := filepath.Join(dataDir, "LOCK")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open lock file: %v", ErrPersistence, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrDirectoryLocked, dataDir)
	}
	return &dirLock{f: f}, nil
}

func (l *dirLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	return l.f.Close()
}
