package txn_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stonebark/stonebark/internal/txn"
)

func snapAll() *txn.Snapshot {
	return &txn.Snapshot{Min: 1000, Max: 1000, Concurrent: map[uint64]struct{}{}}
}

func TestVisibleValueStandard(t *testing.T) {
	head := &txn.Update{TxnID: 1, Committed: true, Type: txn.UpdateStandard, Value: []byte("hello")}
	val, ok := txn.VisibleValue(head, snapAll(), txn.NoTxnID)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), val)
}

func TestVisibleValueTombstoneHidesEverything(t *testing.T) {
	head := &txn.Update{
		TxnID: 2, Committed: true, Type: txn.UpdateTombstone,
		Next: &txn.Update{TxnID: 1, Committed: true, Type: txn.UpdateStandard, Value: []byte("hello")},
	}
	_, ok := txn.VisibleValue(head, snapAll(), txn.NoTxnID)
	require.False(t, ok)
}

func TestVisibleValueSkipsUncommitted(t *testing.T) {
	head := &txn.Update{
		TxnID: 2, Committed: false, Type: txn.UpdateStandard, Value: []byte("uncommitted"),
		Next: &txn.Update{TxnID: 1, Committed: true, Type: txn.UpdateStandard, Value: []byte("base")},
	}
	val, ok := txn.VisibleValue(head, snapAll(), txn.NoTxnID)
	require.True(t, ok)
	require.Equal(t, []byte("base"), val)
}

func TestVisibleValueAppliesModifyOverStandard(t *testing.T) {
	head := &txn.Update{
		TxnID: 2, Committed: true, Type: txn.UpdateModify,
		Mods: []txn.ModOp{{Offset: 0, Size: 5, Data: []byte("howdy")}},
		Next: &txn.Update{TxnID: 1, Committed: true, Type: txn.UpdateStandard, Value: []byte("hello world")},
	}
	val, ok := txn.VisibleValue(head, snapAll(), txn.NoTxnID)
	require.True(t, ok)
	require.Equal(t, []byte("howdy world"), val)
}

func TestVisibleValueSkipsReservedAndFallsThroughToStandard(t *testing.T) {
	head := &txn.Update{
		TxnID: 2, Committed: true, Type: txn.UpdateReserved,
		Next: &txn.Update{TxnID: 1, Committed: true, Type: txn.UpdateStandard, Value: []byte("hello")},
	}
	val, ok := txn.VisibleValue(head, snapAll(), txn.NoTxnID)
	require.True(t, ok, "a RESERVED entry must not shadow an older visible STANDARD value")
	require.Equal(t, []byte("hello"), val)
}

func TestVisibleValueOwnUncommittedWriteIsVisibleToSelf(t *testing.T) {
	head := &txn.Update{TxnID: 7, Committed: false, Type: txn.UpdateStandard, Value: []byte("mine")}
	val, ok := txn.VisibleValue(head, snapAll(), 7)
	require.True(t, ok, "a transaction must see its own uncommitted write")
	require.Equal(t, []byte("mine"), val)

	_, ok = txn.VisibleValue(head, snapAll(), 8)
	require.False(t, ok, "another transaction must not see an uncommitted write that isn't its own")
}

func TestVisibleValueOwnUncommittedTombstoneHidesValue(t *testing.T) {
	head := &txn.Update{
		TxnID: 7, Committed: false, Type: txn.UpdateTombstone,
		Next: &txn.Update{TxnID: 1, Committed: true, Type: txn.UpdateStandard, Value: []byte("base")},
	}
	_, ok := txn.VisibleValue(head, snapAll(), 7)
	require.False(t, ok, "a transaction's own uncommitted remove must hide the prior value from itself")
}

func TestApplyModifiesGrowsPastEnd(t *testing.T) {
	mods := []*txn.Update{
		{Mods: []txn.ModOp{{Offset: 5, Size: 0, Data: []byte("!!")}}},
	}
	out := txn.ApplyModifies([]byte("hello"), mods)
	require.Equal(t, []byte("hello!!"), out)
}

func TestApplyModifiesStackedFragmentsReplayInOrder(t *testing.T) {
	mods := []*txn.Update{
		{Mods: []txn.ModOp{{Offset: 6, Size: 5, Data: []byte("earth")}}}, // newest
		{Mods: []txn.ModOp{{Offset: 0, Size: 5, Data: []byte("howdy")}}}, // oldest
	}
	out := txn.ApplyModifies([]byte("hello world"), mods)
	require.Equal(t, []byte("howdy earth"), out)
}

func TestAppendModifyNonOverlappingDoesNotRewriteChain(t *testing.T) {
	base := &txn.Update{Type: txn.UpdateModify, Mods: []txn.ModOp{{Offset: 0, Size: 1, Data: []byte("a")}}}
	next := txn.AppendModify(base, []txn.ModOp{{Offset: 5, Size: 1, Data: []byte("b")}}, false)
	require.Same(t, base, next.Next)
}

func TestAppendModifySameRangeDropsPrevious(t *testing.T) {
	base := &txn.Update{
		Type: txn.UpdateModify,
		Mods: []txn.ModOp{{Offset: 0, Size: 5, Data: []byte("aaaaa")}},
		Next: &txn.Update{Type: txn.UpdateStandard, Value: []byte("base")},
	}
	next := txn.AppendModify(base, []txn.ModOp{{Offset: 0, Size: 5, Data: []byte("bbbbb")}}, true)
	require.NotSame(t, base, next.Next)
	require.Equal(t, txn.UpdateStandard, next.Next.Type)
}

func TestTrimObsoleteCutsBelowFirstVisibleBase(t *testing.T) {
	chain := &txn.Update{
		TxnID: 3, Committed: true, Type: txn.UpdateStandard, Value: []byte("newest"),
		Next: &txn.Update{
			TxnID: 2, Committed: true, Type: txn.UpdateStandard, Value: []byte("middle"),
			Next: &txn.Update{TxnID: 1, Committed: true, Type: txn.UpdateStandard, Value: []byte("oldest")},
		},
	}
	kept, dropped := txn.TrimObsolete(chain, 3)
	require.Same(t, chain, kept)
	require.Len(t, dropped, 1)
	require.Nil(t, kept.Next.Next)
}
