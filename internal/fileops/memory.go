package fileops

import (
	"sync"

	"github.com/stonebark/stonebark/pkg/errors"
)

// Memory is an in-memory FileSystem used by tests and by callers that want
// a disposable scratch table. Per spec.md §4.1 it stores a growable buffer
// per path, returns at most one open handle per path (enforced via the
// shared registry), and always reports a non-zero size to external callers
// even when the underlying buffer is empty — the documented "applications
// behavior workaround": some callers treat a zero-length file as "does not
// really exist yet" and skip initialization they still need to run.
type Memory struct {
	reg  *registry
	mu   sync.Mutex
	data map[string]*memoryBuffer
}

// NewMemory constructs an empty in-memory file system.
func NewMemory() *Memory {
	return &Memory{reg: newRegistry(), data: make(map[string]*memoryBuffer)}
}

func (m *Memory) Exists(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[name]
	return ok
}

func (m *Memory) Open(name string, flags OpenFlags) (File, error) {
	return m.reg.acquire(name, func() (File, error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		buf, ok := m.data[name]
		if !ok {
			if !flags.Create {
				return nil, errors.NewStorageError(nil, errors.ErrorCodeNotFound, "open: no such file").WithPath(name)
			}
			buf = &memoryBuffer{}
			m.data[name] = buf
		}
		return &memoryFile{buf: buf, path: name}, nil
	})
}

func (m *Memory) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, name)
	return nil
}

func (m *Memory) Rename(oldPath, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.data[oldPath]
	if !ok {
		return errors.NewStorageError(nil, errors.ErrorCodeNotFound, "rename: source missing").WithPath(oldPath)
	}
	m.data[newPath] = buf
	delete(m.data, oldPath)
	return nil
}

func (m *Memory) Size(name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.data[name]
	if !ok {
		return 0, errors.NewStorageError(nil, errors.ErrorCodeNotFound, "stat: no such file").WithPath(name)
	}
	return buf.reportedSize(), nil
}

func (m *Memory) ReadDir(dir string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0)
	for path := range m.data {
		names = append(names, path)
	}
	return names, nil
}

// SyncDir is a no-op for the in-memory file system; there is no durability
// story to uphold for a buffer that never survives process exit.
func (m *Memory) SyncDir(path string) error { return nil }

type memoryBuffer struct {
	mu   sync.Mutex
	data []byte
}

// reportedSize returns at least 1 even for an empty buffer, per spec.md
// §4.1's documented workaround.
func (b *memoryBuffer) reportedSize() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) == 0 {
		return 1
	}
	return int64(len(b.data))
}

type memoryFile struct {
	buf  *memoryBuffer
	path string
}

func (mf *memoryFile) ReadAt(p []byte, off int64) (int, error) {
	mf.buf.mu.Lock()
	defer mf.buf.mu.Unlock()

	if off >= int64(len(mf.buf.data)) {
		return 0, errors.NewStorageError(nil, errors.ErrorCodeIO, "read past end of buffer").WithPath(mf.path).WithOffset(int(off))
	}
	n := copy(p, mf.buf.data[off:])
	return n, nil
}

func (mf *memoryFile) WriteAt(p []byte, off int64) (int, error) {
	mf.buf.mu.Lock()
	defer mf.buf.mu.Unlock()

	end := off + int64(len(p))
	if end > int64(len(mf.buf.data)) {
		grown := make([]byte, end)
		copy(grown, mf.buf.data)
		mf.buf.data = grown
	}
	n := copy(mf.buf.data[off:end], p)
	return n, nil
}

func (mf *memoryFile) Truncate(size int64) error {
	mf.buf.mu.Lock()
	defer mf.buf.mu.Unlock()

	if size <= int64(len(mf.buf.data)) {
		mf.buf.data = mf.buf.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, mf.buf.data)
	mf.buf.data = grown
	return nil
}

func (mf *memoryFile) Size() (int64, error) { return mf.buf.reportedSize(), nil }

// Fsync is a no-op: the in-memory file system has no backing store to flush to.
func (mf *memoryFile) Fsync(metadataOnly bool) error { return nil }

// Lock/Unlock are no-ops; the in-memory file system never shares a buffer
// across processes, so advisory locking has nothing to coordinate.
func (mf *memoryFile) Lock(shared bool) error { return nil }
func (mf *memoryFile) Unlock() error          { return nil }

func (mf *memoryFile) Close() error { return nil }

func (mf *memoryFile) Path() string { return mf.path }
