package btree_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stonebark/stonebark/internal/block"
	"github.com/stonebark/stonebark/internal/btree"
	"github.com/stonebark/stonebark/internal/cache"
	"github.com/stonebark/stonebark/internal/fileops"
	"github.com/stonebark/stonebark/internal/txn"
	"github.com/stonebark/stonebark/pkg/options"
)

// reopenOnto builds a fresh Btree sharing mgr's file and installs cookie as
// its root, the shape internal/checkpoint's recovery path uses once it has
// read a table's newest checkpoint entry out of internal/meta.
func reopenOnto(t *testing.T, mgr *block.Manager, cookie block.Cookie, pageType btree.PageType) *btree.Btree {
	t.Helper()

	cfg := options.NewDefaultOptions()
	c := cache.New(&cfg, zap.NewNop().Sugar())
	bt, err := btree.Open(&btree.Config{
		Name:         "test",
		BtreeID:      1,
		Manager:      mgr,
		Cache:        c,
		LeafMaxSlots: 128,
		Logger:       zap.NewNop().Sugar(),
	})
	require.NoError(t, err)
	require.NoError(t, bt.LoadRoot(cookie, pageType))
	return bt
}

func TestCheckpointEmptyTableWritesNothing(t *testing.T) {
	bt, txMgr := newTestBtree(t, 128)
	reader := txMgr.Begin()

	_, _, ok, err := bt.Checkpoint(&reader.Snapshot)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCheckpointSingleLeafRoundTrips(t *testing.T) {
	bt, txMgr, mgr := newTestBtreeWithManager(t, 128)

	writer := txMgr.Begin()
	keys := []string{"a", "b", "c"}
	for _, k := range keys {
		require.NoError(t, bt.Insert(writer, []byte(k), []byte(k+"-val")))
	}
	writer.Commit(1)

	snap := &txn.Snapshot{Min: 1000, Max: 1000, Concurrent: map[uint64]struct{}{}}
	cookie, pageType, ok, err := bt.Checkpoint(snap)
	require.NoError(t, err)
	require.True(t, ok)

	reloaded := reopenOnto(t, mgr, cookie, pageType)
	reader := txMgr.Begin()
	for _, k := range keys {
		val, found, err := reloaded.Get([]byte(k), &reader.Snapshot, reader.ID)
		require.NoError(t, err)
		require.True(t, found, "key %q must survive checkpoint reload", k)
		require.Equal(t, []byte(k+"-val"), val)
	}
}

func TestCheckpointMultiLeafRoundTripsAfterSplit(t *testing.T) {
	bt, txMgr, mgr := newTestBtreeWithManager(t, 2)

	writer := txMgr.Begin()
	keys := []string{"a", "b", "c", "d", "e", "f", "g"}
	for _, k := range keys {
		require.NoError(t, bt.Insert(writer, []byte(k), []byte(k+"-val")))
	}
	writer.Commit(1)

	snap := &txn.Snapshot{Min: 1000, Max: 1000, Concurrent: map[uint64]struct{}{}}
	cookie, pageType, ok, err := bt.Checkpoint(snap)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, pageType.IsLeaf(), "seven keys with a leaf cap of 2 must produce an internal root")

	reloaded := reopenOnto(t, mgr, cookie, pageType)
	reader := txMgr.Begin()
	for _, k := range keys {
		val, found, err := reloaded.Get([]byte(k), &reader.Snapshot, reader.ID)
		require.NoError(t, err)
		require.True(t, found, "key %q must survive a multi-leaf checkpoint reload", k)
		require.Equal(t, []byte(k+"-val"), val)
	}
}

func TestCheckpointReusesUnchangedLeafAddress(t *testing.T) {
	bt, txMgr, mgr := newTestBtreeWithManager(t, 128)

	writer := txMgr.Begin()
	require.NoError(t, bt.Insert(writer, []byte("k1"), []byte("v1")))
	writer.Commit(1)

	snap := &txn.Snapshot{Min: 1000, Max: 1000, Concurrent: map[uint64]struct{}{}}
	first, _, ok, err := bt.Checkpoint(snap)
	require.NoError(t, err)
	require.True(t, ok)

	second, _, ok, err := bt.Checkpoint(snap)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, first, second, "an untouched leaf must not be rewritten by a second checkpoint")

	_ = mgr
}

func newTestBtreeWithManager(t *testing.T, leafMax int) (*btree.Btree, *txn.Manager, *block.Manager) {
	t.Helper()

	mgr, err := block.Open(&block.Config{
		FS:             fileops.NewMemory(),
		Path:           "table.bt",
		AllocationSize: 512,
		Logger:         zap.NewNop().Sugar(),
	})
	require.NoError(t, err)

	cfg := options.NewDefaultOptions()
	c := cache.New(&cfg, zap.NewNop().Sugar())

	bt, err := btree.Open(&btree.Config{
		Name:         "test",
		BtreeID:      1,
		Manager:      mgr,
		Cache:        c,
		LeafMaxSlots: leafMax,
		Logger:       zap.NewNop().Sugar(),
	})
	require.NoError(t, err)

	return bt, txn.NewManager(), mgr
}
