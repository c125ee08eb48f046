package fileops

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/stonebark/stonebark/pkg/errors"
)

// Posix is a FileSystem backed by real files on disk, coalescing same-path
// opens through a process-wide registry (spec.md §4.1).
type Posix struct {
	reg *registry
	mu  sync.Mutex
}

// NewPosix constructs a Posix file system.
func NewPosix() *Posix {
	return &Posix{reg: newRegistry()}
}

func (p *Posix) Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

func (p *Posix) Open(name string, flags OpenFlags) (File, error) {
	return p.reg.acquire(name, func() (File, error) {
		osFlags := os.O_RDWR
		if flags.ReadOnly {
			osFlags = os.O_RDONLY
		}
		if flags.Create {
			osFlags |= os.O_CREATE
		}
		osFlags |= directIOFlag(flags.DirectIO)

		f, err := os.OpenFile(name, osFlags, 0644)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errors.NewStorageError(err, errors.ErrorCodeNotFound, "open: no such file").WithPath(name)
			}
			return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "open failed").WithPath(name)
		}
		return &posixFile{f: f, path: name}, nil
	})
}

func (p *Posix) Remove(name string) error {
	if err := os.Remove(name); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.NewStorageError(err, errors.ErrorCodeIO, "remove failed").WithPath(name)
	}
	return nil
}

func (p *Posix) Rename(oldPath, newPath string) error {
	if err := os.Rename(oldPath, newPath); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "rename failed").WithPath(oldPath).WithDetail("newPath", newPath)
	}
	return p.SyncDir(filepath.Dir(newPath))
}

func (p *Posix) Size(name string) (int64, error) {
	info, err := os.Stat(name)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.NewStorageError(err, errors.ErrorCodeNotFound, "stat: no such file").WithPath(name)
		}
		return 0, errors.NewStorageError(err, errors.ErrorCodeIO, "stat failed").WithPath(name)
	}
	return info.Size(), nil
}

func (p *Posix) ReadDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "readdir failed").WithPath(dir)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, filepath.Join(dir, e.Name()))
	}
	return names, nil
}

// posixFile adapts *os.File to the File interface. Fsync/Lock behavior that
// needs raw file descriptors is implemented per-platform in posix_unix.go
// and posix_other.go.
type posixFile struct {
	f    *os.File
	path string
	mu   sync.Mutex
}

func (pf *posixFile) ReadAt(p []byte, off int64) (int, error)  { return pf.f.ReadAt(p, off) }
func (pf *posixFile) WriteAt(p []byte, off int64) (int, error) { return pf.f.WriteAt(p, off) }

func (pf *posixFile) Truncate(size int64) error {
	if err := pf.f.Truncate(size); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "truncate failed").WithPath(pf.path)
	}
	return nil
}

func (pf *posixFile) Size() (int64, error) {
	info, err := pf.f.Stat()
	if err != nil {
		return 0, errors.NewStorageError(err, errors.ErrorCodeIO, "stat failed").WithPath(pf.path)
	}
	return info.Size(), nil
}

func (pf *posixFile) Path() string { return pf.path }

func (pf *posixFile) Close() error { return pf.f.Close() }
