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

func newTestBtree(t *testing.T, leafMax int) (*btree.Btree, *txn.Manager) {
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

	return bt, txn.NewManager()
}

func TestInsertAndSearch(t *testing.T) {
	bt, txMgr := newTestBtree(t, 128)
	tx := txMgr.Begin()

	require.NoError(t, bt.Insert(tx, []byte("k1"), []byte("v1")))
	tx.Commit(1)

	reader := txMgr.Begin()
	val, ok, err := bt.Get([]byte("k1"), &reader.Snapshot, reader.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), val)
}

func TestRemoveHidesKeyFromLaterReaders(t *testing.T) {
	bt, txMgr := newTestBtree(t, 128)

	writer := txMgr.Begin()
	require.NoError(t, bt.Insert(writer, []byte("k1"), []byte("v1")))
	writer.Commit(1)

	remover := txMgr.Begin()
	require.NoError(t, bt.Remove(remover, []byte("k1")))
	remover.Commit(2)

	reader := txMgr.Begin()
	_, ok, err := bt.Get([]byte("k1"), &reader.Snapshot, reader.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSnapshotIsolationHidesUncommittedWrite(t *testing.T) {
	bt, txMgr := newTestBtree(t, 128)

	base := txMgr.Begin()
	require.NoError(t, bt.Insert(base, []byte("k1"), []byte("v1")))
	base.Commit(1)

	reader := txMgr.Begin()
	writer := txMgr.Begin()
	require.NoError(t, bt.Insert(writer, []byte("k1"), []byte("v2")))

	val, ok, err := bt.Get([]byte("k1"), &reader.Snapshot, reader.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), val, "reader's snapshot predates writer, must not see v2")
}

func TestWriterSeesOwnUncommittedWrite(t *testing.T) {
	bt, txMgr := newTestBtree(t, 128)

	writer := txMgr.Begin()
	require.NoError(t, bt.Insert(writer, []byte("k1"), []byte("v1")))

	val, ok, err := bt.Get([]byte("k1"), &writer.Snapshot, writer.ID)
	require.NoError(t, err)
	require.True(t, ok, "a transaction must see its own uncommitted write")
	require.Equal(t, []byte("v1"), val)
}

func TestReserveIsSkippedAndDoesNotShadowStandard(t *testing.T) {
	bt, txMgr := newTestBtree(t, 128)

	base := txMgr.Begin()
	require.NoError(t, bt.Insert(base, []byte("k1"), []byte("v1")))
	base.Commit(1)

	reserver := txMgr.Begin()
	require.NoError(t, bt.Reserve(reserver, []byte("k1")))
	reserver.Commit(2)

	reader := txMgr.Begin()
	val, ok, err := bt.Get([]byte("k1"), &reader.Snapshot, reader.ID)
	require.NoError(t, err)
	require.True(t, ok, "a RESERVED entry must not shadow the older visible STANDARD value")
	require.Equal(t, []byte("v1"), val)
}

func TestConcurrentUpdateConflict(t *testing.T) {
	bt, txMgr := newTestBtree(t, 128)

	base := txMgr.Begin()
	require.NoError(t, bt.Insert(base, []byte("k1"), []byte("v1")))
	base.Commit(1)

	a := txMgr.Begin()
	b := txMgr.Begin()
	require.NotEqual(t, a.ID, b.ID)

	require.NoError(t, bt.Update(a, []byte("k1"), []byte("a-wins")))
	err := bt.Update(b, []byte("k1"), []byte("b-loses"))
	require.Error(t, err, "b must lose a write-write conflict against a's uncommitted update")
}

func TestModifyAppliesFragmentOverStandard(t *testing.T) {
	bt, txMgr := newTestBtree(t, 128)

	base := txMgr.Begin()
	require.NoError(t, bt.Insert(base, []byte("k1"), []byte("hello world")))
	base.Commit(1)

	modifier := txMgr.Begin()
	require.NoError(t, bt.Modify(modifier, []byte("k1"), []txn.ModOp{{Offset: 0, Size: 5, Data: []byte("howdy")}}))
	modifier.Commit(2)

	reader := txMgr.Begin()
	val, ok, err := bt.Get([]byte("k1"), &reader.Snapshot, reader.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("howdy world"), val)
}

func TestCursorNextPrevOrdering(t *testing.T) {
	bt, txMgr := newTestBtree(t, 128)

	writer := txMgr.Begin()
	for _, k := range []string{"b", "a", "c"} {
		require.NoError(t, bt.Insert(writer, []byte(k), []byte(k+"-val")))
	}
	writer.Commit(1)

	reader := txMgr.Begin()
	cur := bt.NewCursor(reader)

	var forward []string
	for {
		ok, err := cur.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		forward = append(forward, string(cur.Key()))
	}
	require.Equal(t, []string{"a", "b", "c"}, forward)

	cur.Reset()
	var backward []string
	for {
		ok, err := cur.Prev()
		require.NoError(t, err)
		if !ok {
			break
		}
		backward = append(backward, string(cur.Key()))
	}
	require.Equal(t, []string{"c", "b", "a"}, backward)
}

func TestSearchNearReturnsComparatorDirection(t *testing.T) {
	bt, txMgr := newTestBtree(t, 128)

	writer := txMgr.Begin()
	require.NoError(t, bt.Insert(writer, []byte("b"), []byte("bv")))
	require.NoError(t, bt.Insert(writer, []byte("d"), []byte("dv")))
	writer.Commit(1)

	reader := txMgr.Begin()
	cur := bt.NewCursor(reader)
	cur.SetKey([]byte("c"))
	cmp, err := cur.SearchNear()
	require.NoError(t, err)
	require.Equal(t, 1, cmp)
	require.Equal(t, []byte("d"), cur.Key())
}

func TestReconcileSplitsOversizeLeafAndRemainsReadable(t *testing.T) {
	bt, txMgr := newTestBtree(t, 2)

	writer := txMgr.Begin()
	keys := []string{"a", "b", "c", "d", "e"}
	for _, k := range keys {
		require.NoError(t, bt.Insert(writer, []byte(k), []byte(k+"-val")))
	}
	writer.Commit(1)

	snap := &txn.Snapshot{Min: 1000, Max: 1000, Concurrent: map[uint64]struct{}{}}
	require.NoError(t, bt.Reconcile(bt.Root(), snap))

	reader := txMgr.Begin()
	for _, k := range keys {
		val, ok, err := bt.Get([]byte(k), &reader.Snapshot, reader.ID)
		require.NoError(t, err)
		require.True(t, ok, "key %q must survive split", k)
		require.Equal(t, []byte(k+"-val"), val)
	}
}

func TestFastTruncateHidesRangeThenRollbackRestores(t *testing.T) {
	bt, txMgr := newTestBtree(t, 2)

	writer := txMgr.Begin()
	keys := []string{"a", "b", "c", "d"}
	for _, k := range keys {
		require.NoError(t, bt.Insert(writer, []byte(k), []byte(k)))
	}
	writer.Commit(1)

	snap := &txn.Snapshot{Min: 1000, Max: 1000, Concurrent: map[uint64]struct{}{}}
	require.NoError(t, bt.Reconcile(bt.Root(), snap))

	truncator := txMgr.Begin()
	truncated, err := bt.FastTruncate(truncator, []byte("a"), []byte("c"))
	require.NoError(t, err)

	if len(truncated) > 0 {
		hidden := bt.NewCursor(truncator)
		var seen []string
		for {
			ok, err := hidden.Next()
			require.NoError(t, err)
			if !ok {
				break
			}
			seen = append(seen, string(hidden.Key()))
		}
		for _, ref := range truncated {
			for _, slot := range ref.GetPage().Slots {
				require.NotContains(t, seen, string(slot.Key), "truncated range must be hidden")
			}
		}

		btree.RollbackTruncate(truncated)
		reader := txMgr.Begin()
		_, ok, err := bt.Get([]byte("a"), &reader.Snapshot, reader.ID)
		require.NoError(t, err)
		require.True(t, ok, "rollback must restore the truncated range")
	}
}
