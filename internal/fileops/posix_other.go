//go:build !linux

package fileops

import (
	"os"

	"github.com/stonebark/stonebark/pkg/errors"
)

// directIOFlag is a no-op outside Linux; O_DIRECT has no portable stdlib
// equivalent, so non-Linux builds fall back to buffered I/O through the
// kernel page cache, same as the teacher's own os.File-only approach.
func directIOFlag(direct bool) int {
	return 0
}

// Fsync falls back to the portable os.File.Sync, which always flushes both
// data and metadata; the metadataOnly distinction is only honored on Linux.
func (pf *posixFile) Fsync(metadataOnly bool) error {
	if err := pf.f.Sync(); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "fsync failed").WithPath(pf.path)
	}
	return nil
}

// Lock is unimplemented on non-Linux platforms; the engine still functions
// single-process, but cross-process advisory locking (and file-exclusive
// mode's nested-lock discipline) is a Linux-only guarantee in this build.
func (pf *posixFile) Lock(shared bool) error {
	return nil
}

func (pf *posixFile) Unlock() error {
	return nil
}

func mmapRegion(f *os.File, n int) ([]byte, error) {
	return nil, errors.NewStorageError(nil, errors.ErrorCodeIO, "mmap unsupported on this platform")
}

func munmapRegion(data []byte) error {
	return nil
}
