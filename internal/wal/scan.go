package wal

import (
	"hash/crc32"
	"path"
	"strings"

	"github.com/stonebark/stonebark/internal/fileops"
	"github.com/stonebark/stonebark/pkg/errors"
	"github.com/stonebark/stonebark/pkg/seginfo"
)

// ScanFlags narrows what Scan delivers to its callback.
type ScanFlags struct {
	// BackupIDOnly restricts delivery to RecordBackupID records, per
	// spec.md §4.6's "used by ... backup-id enumeration".
	BackupIDOnly bool
}

// ScanFunc is invoked once per record Scan reads, in log order, receiving
// the record, its own LSN, and the LSN the next record (if any) will have.
type ScanFunc func(rec Record, lsn LSN, nextLSN LSN) error

// Scan reads records in order starting at start (the zero LSN means "from
// the beginning of the log"), stopping at the first unreadable or
// zero-length record it finds — either the true end of the log or the
// start of a pre-allocated segment's untouched tail. It is the shared
// primitive recovery, a printlog-style tool, and backup-id enumeration are
// all built on (spec.md §4.6 "Scan").
func (m *Manager) Scan(start LSN, flags ScanFlags, fn ScanFunc) error {
	fromID := start.FileID
	if fromID == 0 {
		fromID = 1
	}

	// Segment names embed their creation time, so existing segments are
	// found by listing the directory rather than rebuilt with segmentPath.
	names, _ := m.fs.ReadDir(m.dir)
	paths := make(map[uint32]string, len(names))
	for _, name := range names {
		base := path.Base(name)
		if !strings.HasPrefix(base, m.prefix) || !strings.HasSuffix(base, ".seg") {
			continue
		}
		if id, err := seginfo.ParseSegmentID(base, m.prefix); err == nil {
			paths[uint32(id)] = name
		}
	}

	for id := fromID; ; id++ {
		p, ok := paths[id]
		if !ok {
			return nil
		}

		if err := m.scanSegment(id, p, start, flags, fn); err != nil {
			// A torn or corrupt record ends the readable log.
			if we, ok := errors.AsWalError(err); ok && (we.Code() == errors.ErrorCodeLogRecordTruncated || we.Code() == errors.ErrorCodeChecksumMismatch) {
				return nil
			}
			return err
		}
	}
}

func (m *Manager) scanSegment(id uint32, p string, start LSN, flags ScanFlags, fn ScanFunc) error {
	f, err := m.fs.Open(p, fileops.OpenFlags{ReadOnly: true})
	if err != nil {
		return errors.NewWalError(err, errors.ErrorCodeIO, "failed to open wal segment for scan").WithSegmentFile(p)
	}
	defer f.Close()

	size, err := f.Size()
	if err != nil {
		return errors.NewWalError(err, errors.ErrorCodeIO, "failed to stat wal segment for scan").WithSegmentFile(p)
	}

	var offset uint64
	if id == start.FileID {
		offset = start.Offset
	}

	for offset+recordHeaderSize <= uint64(size) {
		header := make([]byte, recordHeaderSize)
		if _, err := f.ReadAt(header, int64(offset)); err != nil {
			return errors.NewLogRecordTruncatedError(p, lsnString(LSN{FileID: id, Offset: offset}))
		}

		payloadLen, checksum, prevLSN, err := decodeRecordHeader(header)
		if err != nil {
			return err
		}
		if payloadLen == 0 {
			// Either true end-of-log or an untouched pre-allocated tail.
			return nil
		}
		if offset+recordHeaderSize+uint64(payloadLen) > uint64(size) {
			return errors.NewLogRecordTruncatedError(p, lsnString(LSN{FileID: id, Offset: offset}))
		}

		payload := make([]byte, payloadLen)
		if _, err := f.ReadAt(payload, int64(offset+recordHeaderSize)); err != nil {
			return errors.NewLogRecordTruncatedError(p, lsnString(LSN{FileID: id, Offset: offset}))
		}

		got := crc32.ChecksumIEEE(append(append([]byte(nil), header[8:]...), payload...))
		if got != checksum {
			return errors.NewWalError(nil, errors.ErrorCodeChecksumMismatch, "wal record checksum mismatch").
				WithSegmentFile(p).WithLSN(lsnString(LSN{FileID: id, Offset: offset}))
		}

		rec, err := decodePayload(payload)
		if err != nil {
			return err
		}
		rec.PrevLSN = prevLSN

		lsn := LSN{FileID: id, Offset: offset}
		nextOffset := offset + recordHeaderSize + uint64(payloadLen)
		nextLSN := LSN{FileID: id, Offset: nextOffset}
		rec.LSN = lsn

		if !flags.BackupIDOnly || rec.Type == RecordBackupID {
			if err := fn(rec, lsn, nextLSN); err != nil {
				return err
			}
		}
		offset = nextOffset
	}
	return nil
}

func lsnString(l LSN) string { return l.String() }
