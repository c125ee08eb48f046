//go:build linux

package fileops

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/stonebark/stonebark/pkg/errors"
)

// directIOFlag returns O_DIRECT when requested and supported, bypassing the
// kernel page cache for table files the engine's own page cache already
// caches (spec.md §6 "direct-IO: on/off").
func directIOFlag(direct bool) int {
	if direct {
		return unix.O_DIRECT
	}
	return 0
}

// Fsync flushes data, and unless metadataOnly, metadata, to stable storage.
// fdatasync skips the metadata flush (mtime etc.) when the caller only needs
// the payload durable, matching spec.md §4.1's fsync(full|meta) distinction.
func (pf *posixFile) Fsync(metadataOnly bool) error {
	fd := int(pf.f.Fd())
	var err error
	if metadataOnly {
		err = unix.Fdatasync(fd)
	} else {
		err = unix.Fsync(fd)
	}
	if err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "fsync failed").WithPath(pf.path)
	}
	return nil
}

// Lock acquires an advisory flock; shared locks allow concurrent readers,
// exclusive locks exclude them. Nothing in this module takes either lock.
func (pf *posixFile) Lock(shared bool) error {
	how := unix.LOCK_EX
	if shared {
		how = unix.LOCK_SH
	}
	if err := unix.Flock(int(pf.f.Fd()), how); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "flock failed").WithPath(pf.path)
	}
	return nil
}

func (pf *posixFile) Unlock() error {
	if err := unix.Flock(int(pf.f.Fd()), unix.LOCK_UN); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "flock unlock failed").WithPath(pf.path)
	}
	return nil
}

// mmapRegion memory-maps the file's first n bytes read-only. Nothing in
// this module calls it; the block manager has no mmap read path.
func mmapRegion(f *os.File, n int) ([]byte, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, n, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "mmap failed")
	}
	return data, nil
}

func munmapRegion(data []byte) error {
	if err := unix.Munmap(data); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "munmap failed")
	}
	return nil
}

// isENOSPC reports whether err is the platform's disk-full errno. Nothing
// in this module calls it.
func isENOSPC(err error) bool {
	return err == syscall.ENOSPC
}
