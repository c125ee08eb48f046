package checkpoint_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stonebark/stonebark/internal/cache"
	"github.com/stonebark/stonebark/internal/checkpoint"
	"github.com/stonebark/stonebark/internal/fileops"
	"github.com/stonebark/stonebark/internal/meta"
	"github.com/stonebark/stonebark/internal/txn"
	"github.com/stonebark/stonebark/internal/wal"
	"github.com/stonebark/stonebark/pkg/options"
)

type harness struct {
	fs      fileops.FileSystem
	dataDir string
	metaMgr *meta.Manager
	walMgr  *wal.Manager
	cache   *cache.Cache
	txMgr   *txn.Manager
	logger  *zap.SugaredLogger
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	dir := t.TempDir()
	logger := zap.NewNop().Sugar()
	fs := fileops.NewPosix()

	opts := options.NewDefaultOptions()
	opts.DataDir = dir
	opts.LogOptions.Size = options.MinLogSegmentSize
	opts.LogOptions.Directory = "log"
	opts.LogOptions.Prefix = "test-log"
	opts.LogOptions.SyncMode = options.SyncOn

	walMgr, err := wal.Open(&wal.Config{FS: fs, DataDir: dir, Options: &opts, Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { walMgr.Close() })

	metaMgr, err := meta.New(&meta.Config{FS: fs, DataDir: dir, Logger: logger})
	require.NoError(t, err)

	c := cache.New(&opts, logger)

	return &harness{
		fs:      fs,
		dataDir: dir,
		metaMgr: metaMgr,
		walMgr:  walMgr,
		cache:   c,
		txMgr:   txn.NewManager(),
		logger:  logger,
	}
}

func (h *harness) openTable(t *testing.T, uri string, columnStore bool) *checkpoint.TableHandle {
	t.Helper()
	tm, err := h.metaMgr.CreateTable(uri, columnStore)
	require.NoError(t, err)
	tbl, _, err := checkpoint.OpenTable(h.fs, h.dataDir, tm, h.cache, 128, 4096, h.metaMgr, h.walMgr, h.logger)
	require.NoError(t, err)
	return tbl
}

func TestCheckpointRunRecordsMetadataAndSurvivesReload(t *testing.T) {
	h := newHarness(t)
	orders := h.openTable(t, "table:orders", false)

	writer := h.txMgr.Begin()
	require.NoError(t, orders.Tree.Insert(writer, []byte("a"), []byte("apple")))
	require.NoError(t, orders.Tree.Insert(writer, []byte("b"), []byte("banana")))
	ops := writer.Commit(1)
	appendCommitted(t, h.walMgr, writer.ID, 1, ops)

	reader := h.txMgr.Begin()
	require.NoError(t, checkpoint.Run(h.metaMgr, h.walMgr, &reader.Snapshot, []*checkpoint.TableHandle{orders}, "ckpt-1", time.Unix(0, 0)))
	reader.Rollback()

	entry, ok := h.metaMgr.LatestCheckpoint("table:orders")
	require.True(t, ok)
	require.Equal(t, "ckpt-1", entry.Name)

	tm, ok := h.metaMgr.Table("table:orders")
	require.True(t, ok)
	reopened, lsn, err := checkpoint.OpenTable(h.fs, h.dataDir, tm, h.cache, 128, 4096, h.metaMgr, h.walMgr, h.logger)
	require.NoError(t, err)
	require.Equal(t, entry.LSN, lsn)

	getReader := h.txMgr.Begin()
	val, ok, err := reopened.Tree.Get([]byte("a"), &getReader.Snapshot, getReader.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("apple"), val)
	getReader.Rollback()
}

func TestCheckpointSkipsTablesWithNoDirtyData(t *testing.T) {
	h := newHarness(t)
	empty := h.openTable(t, "table:empty", false)

	reader := h.txMgr.Begin()
	err := checkpoint.Run(h.metaMgr, h.walMgr, &reader.Snapshot, []*checkpoint.TableHandle{empty}, "ckpt-1", time.Unix(0, 0))
	reader.Rollback()
	require.NoError(t, err)

	_, ok := h.metaMgr.LatestCheckpoint("table:empty")
	require.False(t, ok)
}

func TestRecoverReplaysCommittedAndDropsUncommitted(t *testing.T) {
	h := newHarness(t)
	orders := h.openTable(t, "table:orders", false)
	tables := map[uint32]*checkpoint.TableHandle{orders.BtreeID: orders}

	// Simulate a prior run's durable log directly: a fully committed put
	// for "a" and a put for "b" that never saw its commit record, as if
	// the process crashed between the write and the commit.
	_, err := h.walMgr.Append(wal.NewRowPutRecord(1, orders.BtreeID, []byte("a"), []byte("apple")), false)
	require.NoError(t, err)
	_, err = h.walMgr.Append(wal.NewTxnCommitRecord(1, 1), false)
	require.NoError(t, err)
	_, err = h.walMgr.Append(wal.NewRowPutRecord(2, orders.BtreeID, []byte("b"), []byte("banana")), true)
	require.NoError(t, err)

	freshTxMgr := txn.NewManager()
	thresholds := map[uint32]wal.LSN{orders.BtreeID: {}}
	require.NoError(t, checkpoint.Recover(h.walMgr, freshTxMgr, tables, thresholds, h.logger))

	reader := freshTxMgr.Begin()
	val, ok, err := orders.Tree.Get([]byte("a"), &reader.Snapshot, reader.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("apple"), val)

	_, ok, err = orders.Tree.Get([]byte("b"), &reader.Snapshot, reader.ID)
	require.NoError(t, err)
	require.False(t, ok)
	reader.Rollback()
}

func TestRecoverIsIdempotent(t *testing.T) {
	h := newHarness(t)
	orders := h.openTable(t, "table:orders", false)
	tables := map[uint32]*checkpoint.TableHandle{orders.BtreeID: orders}

	_, err := h.walMgr.Append(wal.NewRowPutRecord(1, orders.BtreeID, []byte("a"), []byte("apple")), false)
	require.NoError(t, err)
	_, err = h.walMgr.Append(wal.NewTxnCommitRecord(1, 1), true)
	require.NoError(t, err)

	thresholds := map[uint32]wal.LSN{orders.BtreeID: {}}
	require.NoError(t, checkpoint.Recover(h.walMgr, txn.NewManager(), tables, thresholds, h.logger))
	replayTxMgr := txn.NewManager()
	require.NoError(t, checkpoint.Recover(h.walMgr, replayTxMgr, tables, thresholds, h.logger))

	reader := replayTxMgr.Begin()
	val, ok, err := orders.Tree.Get([]byte("a"), &reader.Snapshot, reader.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("apple"), val)
	reader.Rollback()
}

// appendCommitted writes each op's record plus a trailing commit record,
// the shape a real commit path logs before Run/Recover ever see the log.
func appendCommitted(t *testing.T, walMgr *wal.Manager, txnID uint64, commitTS uint64, ops []txn.Op) {
	t.Helper()
	for _, op := range ops {
		_, err := walMgr.Append(wal.NewRowPutRecord(txnID, op.BtreeID, op.Key, op.Update.Value), false)
		require.NoError(t, err)
	}
	_, err := walMgr.Append(wal.NewTxnCommitRecord(txnID, commitTS), true)
	require.NoError(t, err)
}

