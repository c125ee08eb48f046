// Package fileops provides the file-system abstraction every higher layer
// of the engine is built on: directory and file operations, positional
// read/write, fsync, and memory-mapping, behind one interface shared by a
// real posix implementation and an in-memory one used by tests.
//
// A process-wide registry maps path to a shared, reference-counted handle
// so that two callers opening the same table file coalesce onto one
// descriptor rather than racing two independent file handles.
package fileops

import (
	"fmt"
	"io"
	"sync"

	"github.com/stonebark/stonebark/pkg/errors"
)

// OpenFlags controls how File opens a path.
type OpenFlags struct {
	Create   bool
	ReadOnly bool
	DirectIO bool
}

// File is the method table every opened handle exposes, independent of
// whether it is backed by a real file or an in-memory buffer.
type File interface {
	// ReadAt reads len(p) bytes starting at offset off, as io.ReaderAt.
	ReadAt(p []byte, off int64) (int, error)
	// WriteAt writes p starting at offset off, as io.WriterAt.
	WriteAt(p []byte, off int64) (int, error)
	// Truncate resizes the file to size bytes.
	Truncate(size int64) error
	// Size returns the current file size in bytes.
	Size() (int64, error)
	// Fsync flushes data (and, unless metadataOnly, metadata) to stable storage.
	Fsync(metadataOnly bool) error
	// Lock acquires (or, if shared is false, attempts an exclusive) advisory lock.
	Lock(shared bool) error
	// Unlock releases a previously acquired advisory lock.
	Unlock() error
	// Close releases this handle's reference. The underlying descriptor is
	// only actually closed once every coalesced reference has been closed.
	Close() error
	// Path returns the path this handle was opened with.
	Path() string
}

// FileSystem is the collaborator contract of spec.md §6: existence checks,
// open/remove/rename, size, and directory listing, implemented by both
// Posix and Memory.
type FileSystem interface {
	Exists(name string) bool
	Open(name string, flags OpenFlags) (File, error)
	Remove(name string) error
	Rename(oldPath, newPath string) error
	Size(name string) (int64, error)
	ReadDir(dir string) ([]string, error)
	// SyncDir fsyncs a directory's own metadata, required after a file
	// create/rename so a crash cannot orphan the new name (see dir.go).
	SyncDir(path string) error
}

// registry is the process-wide path -> refcounted-handle map described by
// spec.md §4.1: opens of the same path by different callers coalesce onto
// one underlying descriptor.
type registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	handle   File
	refCount int
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*registryEntry)}
}

// acquire returns the existing handle for path if one is open, incrementing
// its refcount, or calls open to create one and stores it.
func (r *registry) acquire(path string, open func() (File, error)) (File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[path]; ok {
		entry.refCount++
		return &sharedHandle{registry: r, path: path, File: entry.handle}, nil
	}

	handle, err := open()
	if err != nil {
		return nil, err
	}

	r.entries[path] = &registryEntry{handle: handle, refCount: 1}
	return &sharedHandle{registry: r, path: path, File: handle}, nil
}

// release drops one reference to path's handle, closing the underlying
// handle for real once the last reference goes away.
func (r *registry) release(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[path]
	if !ok {
		return fmt.Errorf("fileops: release of unknown path %q", path)
	}

	entry.refCount--
	if entry.refCount > 0 {
		return nil
	}

	delete(r.entries, path)
	return entry.handle.(io.Closer).Close()
}

// sharedHandle wraps a coalesced File so Close decrements the registry
// refcount instead of closing the shared descriptor out from under peers.
type sharedHandle struct {
	File
	registry *registry
	path     string
	closed   bool
	mu       sync.Mutex
}

func (h *sharedHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.registry.release(h.path)
}

func (h *sharedHandle) Path() string { return h.path }

// notFoundIfMissing normalizes an ENOENT-shaped error the way spec.md §4.1
// requires: ENOENT must never be fatal for speculative opens, so callers
// probing existence get a typed NotFound error they can safely ignore.
func notFoundIfMissing(path string, err error) error {
	if err == nil {
		return nil
	}
	return errors.NewStorageError(err, errors.ErrorCodeNotFound, "file not found").WithPath(path)
}
