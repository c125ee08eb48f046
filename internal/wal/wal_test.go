package wal_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stonebark/stonebark/internal/fileops"
	"github.com/stonebark/stonebark/internal/wal"
	"github.com/stonebark/stonebark/pkg/options"
)

func newTestManager(t *testing.T, maxSize uint64) (*wal.Manager, fileops.FileSystem, string) {
	t.Helper()

	dir := t.TempDir()
	opts := options.NewDefaultOptions()
	opts.DataDir = dir
	opts.LogOptions.Size = maxSize
	opts.LogOptions.Directory = "log"
	opts.LogOptions.Prefix = "test-log"
	opts.LogOptions.SyncMode = options.SyncOn

	fs := fileops.NewPosix()
	m, err := wal.Open(&wal.Config{FS: fs, DataDir: dir, Options: &opts, Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, fs, dir
}

func TestAppendAndScanRoundTrip(t *testing.T) {
	m, _, _ := newTestManager(t, options.MinLogSegmentSize)

	lsn1, err := m.Append(wal.NewRowPutRecord(1, 7, []byte("k1"), []byte("v1")), true)
	require.NoError(t, err)
	lsn2, err := m.Append(wal.NewTxnCommitRecord(1, 5), true)
	require.NoError(t, err)
	require.True(t, lsn1.Less(lsn2))

	var got []wal.Record
	require.NoError(t, m.Scan(wal.LSN{}, wal.ScanFlags{}, func(rec wal.Record, lsn, next wal.LSN) error {
		got = append(got, rec)
		return nil
	}))

	require.Len(t, got, 2)
	require.Equal(t, wal.RecordRowPut, got[0].Type)
	require.Equal(t, []byte("k1"), got[0].Key)
	require.Equal(t, []byte("v1"), got[0].Value)
	require.Equal(t, wal.RecordTxnCommit, got[1].Type)
	require.Equal(t, uint64(1), got[1].TxnID)
}

func TestAppendChainsPrevLSN(t *testing.T) {
	m, _, _ := newTestManager(t, options.MinLogSegmentSize)

	require.NoError(t, must(m.Append(wal.NewRowPutRecord(1, 1, []byte("a"), []byte("1")), true)))
	require.NoError(t, must(m.Append(wal.NewRowPutRecord(2, 1, []byte("b"), []byte("2")), true)))

	var prevs []wal.LSN
	require.NoError(t, m.Scan(wal.LSN{}, wal.ScanFlags{}, func(rec wal.Record, lsn, next wal.LSN) error {
		prevs = append(prevs, rec.PrevLSN)
		return nil
	}))
	require.True(t, prevs[0].Zero(), "first record has no predecessor")
	require.False(t, prevs[1].Zero(), "second record chains back to the first")
}

func must(_ wal.LSN, err error) error { return err }

func TestScanBackupIDOnlyFiltersOtherRecords(t *testing.T) {
	m, _, _ := newTestManager(t, options.MinLogSegmentSize)

	_, err := m.Append(wal.NewRowPutRecord(1, 1, []byte("a"), []byte("1")), true)
	require.NoError(t, err)
	_, err = m.Append(wal.NewBackupIDRecord("backup-42"), true)
	require.NoError(t, err)
	_, err = m.Append(wal.NewRowPutRecord(2, 1, []byte("b"), []byte("2")), true)
	require.NoError(t, err)

	var got []wal.Record
	require.NoError(t, m.Scan(wal.LSN{}, wal.ScanFlags{BackupIDOnly: true}, func(rec wal.Record, lsn, next wal.LSN) error {
		got = append(got, rec)
		return nil
	}))

	require.Len(t, got, 1)
	require.Equal(t, "backup-42", string(got[0].Extra))
}

func TestRotationSpansSegmentsAndScanReadsAcrossThem(t *testing.T) {
	// A tiny max size forces several rotations across a handful of appends.
	dir := t.TempDir()
	opts := options.NewDefaultOptions()
	opts.DataDir = dir
	opts.LogOptions.Size = 128
	opts.LogOptions.Directory = "log"
	opts.LogOptions.Prefix = "rot"
	opts.LogOptions.SyncMode = options.SyncOn

	fs := fileops.NewPosix()
	mgr, err := wal.Open(&wal.Config{FS: fs, DataDir: dir, Options: &opts, Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)
	defer mgr.Close()

	const n = 20
	for i := 0; i < n; i++ {
		_, err := mgr.Append(wal.NewRowPutRecord(uint64(i), 1, []byte("key-padding-value"), []byte("value-padding-value")), true)
		require.NoError(t, err)
	}

	count := 0
	require.NoError(t, mgr.Scan(wal.LSN{}, wal.ScanFlags{}, func(rec wal.Record, lsn, next wal.LSN) error {
		count++
		return nil
	}))
	require.Equal(t, n, count)
}

func TestSyncOffDoesNotBlockOnFsync(t *testing.T) {
	dir := t.TempDir()
	opts := options.NewDefaultOptions()
	opts.DataDir = dir
	opts.LogOptions.Size = options.MinLogSegmentSize
	opts.LogOptions.Directory = "log"
	opts.LogOptions.Prefix = "off"
	opts.LogOptions.SyncMode = options.SyncOff

	fs := fileops.NewPosix()
	mgr, err := wal.Open(&wal.Config{FS: fs, DataDir: dir, Options: &opts, Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)
	defer mgr.Close()

	_, err = mgr.Append(wal.NewRowPutRecord(1, 1, []byte("a"), []byte("1")), false)
	require.NoError(t, err)
	require.NoError(t, mgr.Sync())

	var got []wal.Record
	require.NoError(t, mgr.Scan(wal.LSN{}, wal.ScanFlags{}, func(rec wal.Record, lsn, next wal.LSN) error {
		got = append(got, rec)
		return nil
	}))
	require.Len(t, got, 1)
}

func TestReopenContinuesActiveSegment(t *testing.T) {
	dir := t.TempDir()
	opts := options.NewDefaultOptions()
	opts.DataDir = dir
	opts.LogOptions.Size = options.MinLogSegmentSize
	opts.LogOptions.Directory = "log"
	opts.LogOptions.Prefix = "reopen"
	opts.LogOptions.SyncMode = options.SyncOn

	fs := fileops.NewPosix()
	mgr, err := wal.Open(&wal.Config{FS: fs, DataDir: dir, Options: &opts, Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)

	_, err = mgr.Append(wal.NewRowPutRecord(1, 1, []byte("a"), []byte("1")), true)
	require.NoError(t, err)
	require.NoError(t, mgr.Close())

	mgr2, err := wal.Open(&wal.Config{FS: fs, DataDir: dir, Options: &opts, Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)
	defer mgr2.Close()

	_, err = mgr2.Append(wal.NewRowPutRecord(2, 1, []byte("b"), []byte("2")), true)
	require.NoError(t, err)

	count := 0
	require.NoError(t, mgr2.Scan(wal.LSN{}, wal.ScanFlags{}, func(rec wal.Record, lsn, next wal.LSN) error {
		count++
		return nil
	}))
	require.Equal(t, 2, count, "reopen must continue the same segment rather than starting a fresh one")
}
