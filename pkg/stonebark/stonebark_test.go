package stonebark_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stonebark/stonebark/pkg/options"
	"github.com/stonebark/stonebark/pkg/stonebark"
)

func openInstance(t *testing.T) *stonebark.Instance {
	t.Helper()

	dir := t.TempDir()
	inst, err := stonebark.Open(
		context.Background(), "stonebark-test",
		options.WithDataDir(dir),
		options.WithLogSegmentDir("log"),
		options.WithLogSegmentSize(options.MinLogSegmentSize),
		options.WithLogSyncMode(options.SyncOn),
	)
	require.NoError(t, err)
	t.Cleanup(func() { inst.Close() })
	return inst
}

func TestPutGetRoundTripThroughCursor(t *testing.T) {
	inst := openInstance(t)
	require.NoError(t, inst.CreateTable("table:widgets", false))

	tx := inst.Begin()
	cur, err := inst.OpenCursor("table:widgets", tx)
	require.NoError(t, err)
	cur.SetKey([]byte("sku-1"))
	cur.SetValue([]byte("blue widget"))
	require.NoError(t, cur.Insert())
	require.NoError(t, inst.CommitNow(tx))

	reader := inst.Begin()
	readCur, err := inst.OpenCursor("table:widgets", reader)
	require.NoError(t, err)
	readCur.SetKey([]byte("sku-1"))
	found, err := readCur.Search()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("blue widget"), readCur.Value())
	inst.Rollback(reader)
}

func TestRemoveThenGetMisses(t *testing.T) {
	inst := openInstance(t)
	require.NoError(t, inst.CreateTable("table:widgets", false))

	tx := inst.Begin()
	cur, err := inst.OpenCursor("table:widgets", tx)
	require.NoError(t, err)
	cur.SetKey([]byte("sku-1"))
	cur.SetValue([]byte("blue widget"))
	require.NoError(t, cur.Insert())
	require.NoError(t, inst.CommitNow(tx))

	del := inst.Begin()
	delCur, err := inst.OpenCursor("table:widgets", del)
	require.NoError(t, err)
	delCur.SetKey([]byte("sku-1"))
	require.NoError(t, delCur.Remove())
	require.NoError(t, inst.CommitNow(del))

	reader := inst.Begin()
	readCur, err := inst.OpenCursor("table:widgets", reader)
	require.NoError(t, err)
	readCur.SetKey([]byte("sku-1"))
	found, err := readCur.Search()
	require.NoError(t, err)
	require.False(t, found)
	inst.Rollback(reader)
}

func TestSnapshotIsolationHidesUncommittedWrites(t *testing.T) {
	inst := openInstance(t)
	require.NoError(t, inst.CreateTable("table:widgets", false))

	writer := inst.Begin()
	cur, err := inst.OpenCursor("table:widgets", writer)
	require.NoError(t, err)
	cur.SetKey([]byte("sku-1"))
	cur.SetValue([]byte("blue widget"))
	require.NoError(t, cur.Insert())

	reader := inst.Begin()
	readCur, err := inst.OpenCursor("table:widgets", reader)
	require.NoError(t, err)
	readCur.SetKey([]byte("sku-1"))
	found, err := readCur.Search()
	require.NoError(t, err)
	require.False(t, found, "reader snapshot predates the writer's commit")
	inst.Rollback(reader)

	require.NoError(t, inst.CommitNow(writer))
}

func TestNonGoalCursorSurfacesRejected(t *testing.T) {
	inst := openInstance(t)
	tx := inst.Begin()
	defer inst.Rollback(tx)

	_, err := inst.OpenCursor("statistics:widgets", tx)
	require.Error(t, err)

	_, err = inst.OpenCursor("join:widgets", tx)
	require.Error(t, err)
}

func TestCheckpointAndClosePersistsData(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	opts := []options.OptionFunc{
		options.WithDataDir(dir),
		options.WithLogSegmentDir("log"),
		options.WithLogSegmentSize(options.MinLogSegmentSize),
		options.WithLogSyncMode(options.SyncOn),
	}

	inst, err := stonebark.Open(ctx, "stonebark-test", opts...)
	require.NoError(t, err)
	require.NoError(t, inst.CreateTable("table:widgets", false))

	tx := inst.Begin()
	cur, err := inst.OpenCursor("table:widgets", tx)
	require.NoError(t, err)
	cur.SetKey([]byte("sku-1"))
	cur.SetValue([]byte("blue widget"))
	require.NoError(t, cur.Insert())
	require.NoError(t, inst.CommitNow(tx))
	require.NoError(t, inst.Checkpoint("manual"))
	require.NoError(t, inst.Close())

	reopened, err := stonebark.Open(ctx, "stonebark-test", opts...)
	require.NoError(t, err)
	defer reopened.Close()

	reader := reopened.Begin()
	readCur, err := reopened.OpenCursor("table:widgets", reader)
	require.NoError(t, err)
	readCur.SetKey([]byte("sku-1"))
	found, err := readCur.Search()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("blue widget"), readCur.Value())
	reopened.Rollback(reader)
}
