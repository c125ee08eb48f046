package fileops

import (
	"os"

	"github.com/stonebark/stonebark/pkg/errors"
)

// SyncDir fsyncs a directory's own metadata, grounded on
// original_source/src/os_common/os_fhandle.c's directory-fsync-on-rename
// discipline: after creating or renaming a file, the directory entry itself
// must be flushed or a crash can leave the file unreachable by name even
// though its data is durable.
func (p *Posix) SyncDir(path string) error {
	dir, err := os.Open(path)
	if err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "open directory for fsync failed").WithPath(path)
	}
	defer dir.Close()

	if err := dir.Sync(); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "directory fsync failed").WithPath(path)
	}
	return nil
}
