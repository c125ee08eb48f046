package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stonebark/stonebark/internal/engine"
	"github.com/stonebark/stonebark/pkg/options"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()

	opts := options.NewDefaultOptions()
	opts.DataDir = t.TempDir()
	opts.LogOptions.Size = options.MinLogSegmentSize
	opts.LogOptions.Directory = "log"
	opts.LogOptions.Prefix = "test-log"
	opts.LogOptions.SyncMode = options.SyncOn
	opts.CheckpointOptions.Interval = 0

	e, err := engine.New(context.Background(), &engine.Config{Options: &opts, Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestCommitPersistsAcrossReopen(t *testing.T) {
	opts := options.NewDefaultOptions()
	opts.DataDir = t.TempDir()
	opts.LogOptions.Size = options.MinLogSegmentSize
	opts.LogOptions.Directory = "log"
	opts.LogOptions.Prefix = "test-log"
	opts.LogOptions.SyncMode = options.SyncOn
	opts.CheckpointOptions.Interval = 0
	logger := zap.NewNop().Sugar()

	e, err := engine.New(context.Background(), &engine.Config{Options: &opts, Logger: logger})
	require.NoError(t, err)
	require.NoError(t, e.CreateTable("table:orders", false))

	tx := e.Begin()
	cur, err := e.OpenCursor("table:orders", tx)
	require.NoError(t, err)
	cur.SetKey([]byte("a"))
	cur.SetValue([]byte("apple"))
	require.NoError(t, cur.Insert())
	require.NoError(t, e.Commit(tx, 1))
	require.NoError(t, e.Close())

	reopened, err := engine.New(context.Background(), &engine.Config{Options: &opts, Logger: logger})
	require.NoError(t, err)
	defer reopened.Close()

	reader := reopened.Begin()
	readCur, err := reopened.OpenCursor("table:orders", reader)
	require.NoError(t, err)
	readCur.SetKey([]byte("a"))
	found, err := readCur.Search()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("apple"), readCur.Value())
	reader.Rollback()
}

func TestRollbackDiscardsUncommittedWrite(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable("table:orders", false))

	tx := e.Begin()
	cur, err := e.OpenCursor("table:orders", tx)
	require.NoError(t, err)
	cur.SetKey([]byte("a"))
	cur.SetValue([]byte("apple"))
	require.NoError(t, cur.Insert())
	e.Rollback(tx)

	reader := e.Begin()
	readCur, err := e.OpenCursor("table:orders", reader)
	require.NoError(t, err)
	readCur.SetKey([]byte("a"))
	found, err := readCur.Search()
	require.NoError(t, err)
	require.False(t, found)
	reader.Rollback()
}

func TestTruncateThenRollbackRestoresRange(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable("table:orders", false))

	seed := e.Begin()
	cur, err := e.OpenCursor("table:orders", seed)
	require.NoError(t, err)
	for _, k := range []string{"a", "b", "c"} {
		cur.SetKey([]byte(k))
		cur.SetValue([]byte(k))
		require.NoError(t, cur.Insert())
	}
	require.NoError(t, e.Commit(seed, 1))

	tx := e.Begin()
	require.NoError(t, e.Truncate(tx, "table:orders", []byte("a"), []byte("z")))
	e.Rollback(tx)

	reader := e.Begin()
	readCur, err := e.OpenCursor("table:orders", reader)
	require.NoError(t, err)
	readCur.SetKey([]byte("b"))
	found, err := readCur.Search()
	require.NoError(t, err)
	require.True(t, found)
	reader.Rollback()
}

func TestOpenCursorRejectsNonGoalSurfaces(t *testing.T) {
	e := newTestEngine(t)
	tx := e.Begin()
	defer e.Rollback(tx)

	_, err := e.OpenCursor("statistics:orders", tx)
	require.Error(t, err)

	_, err = e.OpenCursor("join:orders", tx)
	require.Error(t, err)

	_, err = e.OpenCursor("backup:orders", tx)
	require.Error(t, err)

	_, err = e.OpenCursor("not-a-uri", tx)
	require.Error(t, err)
}

func TestOpenCursorUnknownTable(t *testing.T) {
	e := newTestEngine(t)
	tx := e.Begin()
	defer e.Rollback(tx)

	_, err := e.OpenCursor("table:missing", tx)
	require.Error(t, err)
}

func TestCheckpointThenCloseSurvivesReopen(t *testing.T) {
	opts := options.NewDefaultOptions()
	opts.DataDir = t.TempDir()
	opts.LogOptions.Size = options.MinLogSegmentSize
	opts.LogOptions.Directory = "log"
	opts.LogOptions.Prefix = "test-log"
	opts.LogOptions.SyncMode = options.SyncOn
	opts.CheckpointOptions.Interval = 0
	logger := zap.NewNop().Sugar()

	e, err := engine.New(context.Background(), &engine.Config{Options: &opts, Logger: logger})
	require.NoError(t, err)
	require.NoError(t, e.CreateTable("table:orders", false))

	tx := e.Begin()
	cur, err := e.OpenCursor("table:orders", tx)
	require.NoError(t, err)
	cur.SetKey([]byte("a"))
	cur.SetValue([]byte("apple"))
	require.NoError(t, cur.Insert())
	require.NoError(t, e.Commit(tx, 1))
	require.NoError(t, e.Checkpoint("manual"))
	require.NoError(t, e.Close())

	reopened, err := engine.New(context.Background(), &engine.Config{Options: &opts, Logger: logger})
	require.NoError(t, err)
	defer reopened.Close()

	reader := reopened.Begin()
	readCur, err := reopened.OpenCursor("table:orders", reader)
	require.NoError(t, err)
	readCur.SetKey([]byte("a"))
	found, err := readCur.Search()
	require.NoError(t, err)
	require.True(t, found)
	reader.Rollback()
}

func TestCloseIsIdempotentlyRejectedAfterClose(t *testing.T) {
	opts := options.NewDefaultOptions()
	opts.DataDir = t.TempDir()
	opts.LogOptions.Size = options.MinLogSegmentSize
	opts.LogOptions.Directory = "log"
	opts.LogOptions.Prefix = "test-log"
	opts.LogOptions.SyncMode = options.SyncOn
	opts.CheckpointOptions.Interval = 0

	e, err := engine.New(context.Background(), &engine.Config{Options: &opts, Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)
	require.NoError(t, e.Close())
	require.ErrorIs(t, e.Close(), engine.ErrEngineClosed)
}

func TestDropTableRemovesFromRegistry(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable("table:orders", false))
	require.NoError(t, e.DropTable("table:orders"))

	tx := e.Begin()
	defer e.Rollback(tx)
	_, err := e.OpenCursor("table:orders", tx)
	require.Error(t, err)
}

func TestBackgroundCheckpointLoopRuns(t *testing.T) {
	opts := options.NewDefaultOptions()
	opts.DataDir = t.TempDir()
	opts.LogOptions.Size = options.MinLogSegmentSize
	opts.LogOptions.Directory = "log"
	opts.LogOptions.Prefix = "test-log"
	opts.LogOptions.SyncMode = options.SyncOn
	opts.CheckpointOptions.Interval = 20 * time.Millisecond

	e, err := engine.New(context.Background(), &engine.Config{Options: &opts, Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)
	require.NoError(t, e.CreateTable("table:orders", false))

	tx := e.Begin()
	cur, err := e.OpenCursor("table:orders", tx)
	require.NoError(t, err)
	cur.SetKey([]byte("a"))
	cur.SetValue([]byte("apple"))
	require.NoError(t, cur.Insert())
	require.NoError(t, e.Commit(tx, 1))

	time.Sleep(80 * time.Millisecond)
	require.NoError(t, e.Close())
}
