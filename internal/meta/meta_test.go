package meta_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stonebark/stonebark/internal/block"
	"github.com/stonebark/stonebark/internal/fileops"
	"github.com/stonebark/stonebark/internal/meta"
	"github.com/stonebark/stonebark/internal/wal"
)

func newTestManager(t *testing.T) (*meta.Manager, string) {
	t.Helper()
	dir := t.TempDir()
	m, err := meta.New(&meta.Config{FS: fileops.NewPosix(), DataDir: dir, Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)
	return m, dir
}

func TestCreateTableAssignsDistinctBtreeIDs(t *testing.T) {
	m, _ := newTestManager(t)

	a, err := m.CreateTable("table:orders", false)
	require.NoError(t, err)
	b, err := m.CreateTable("table:customers", true)
	require.NoError(t, err)

	require.NotEqual(t, a.BtreeID, b.BtreeID)
	require.False(t, a.ColumnStore)
	require.True(t, b.ColumnStore)
}

func TestCreateTableRejectsDuplicateURI(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.CreateTable("table:orders", false)
	require.NoError(t, err)

	_, err = m.CreateTable("table:orders", false)
	require.Error(t, err)
}

func TestRecordCheckpointTracksLatest(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.CreateTable("table:orders", false)
	require.NoError(t, err)

	require.NoError(t, m.RecordCheckpoint("table:orders", meta.CheckpointEntry{
		Name: "checkpoint-1", LSN: wal.LSN{FileID: 1, Offset: 100}, Timestamp: time.Unix(1000, 0),
	}))
	require.NoError(t, m.RecordCheckpoint("table:orders", meta.CheckpointEntry{
		Name: "checkpoint-2", LSN: wal.LSN{FileID: 2, Offset: 50},
		RootCookie: block.Cookie{Offset: 4096, Size: 128, Checksum: 42},
		Timestamp:  time.Unix(2000, 0),
	}))

	latest, ok := m.LatestCheckpoint("table:orders")
	require.True(t, ok)
	require.Equal(t, "checkpoint-2", latest.Name)
	require.Equal(t, uint32(2), latest.LSN.FileID)
}

func TestMetadataSurvivesReopen(t *testing.T) {
	m, dir := newTestManager(t)
	_, err := m.CreateTable("table:orders", false)
	require.NoError(t, err)
	require.NoError(t, m.RecordCheckpoint("table:orders", meta.CheckpointEntry{Name: "checkpoint-1"}))

	fs := fileops.NewPosix()
	m2, err := meta.New(&meta.Config{FS: fs, DataDir: dir, Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)

	tbl, ok := m2.Table("table:orders")
	require.True(t, ok)
	require.Len(t, tbl.Checkpoints, 1)

	// A freshly reopened registry must not reassign an id already handed out.
	other, err := m2.CreateTable("table:customers", false)
	require.NoError(t, err)
	require.NotEqual(t, tbl.BtreeID, other.BtreeID)
}

func TestDropTableRemovesRegistration(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.CreateTable("table:orders", false)
	require.NoError(t, err)

	require.NoError(t, m.DropTable("table:orders"))
	_, ok := m.Table("table:orders")
	require.False(t, ok)

	err = m.RecordCheckpoint("table:orders", meta.CheckpointEntry{Name: "x"})
	require.Error(t, err)
}
