package block_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stonebark/stonebark/internal/block"
	"github.com/stonebark/stonebark/internal/fileops"
)

func newManager(t *testing.T) *block.Manager {
	t.Helper()
	fs := fileops.NewMemory()
	m, err := block.Open(&block.Config{
		FS:             fs,
		Path:           "table.db",
		AllocationSize: 512,
		Logger:         zap.NewNop().Sugar(),
	})
	require.NoError(t, err)
	return m
}

func TestWriteReadRoundTrip(t *testing.T) {
	m := newManager(t)
	cookie, err := m.Write([]byte("hello world"), 1)
	require.NoError(t, err)

	payload, err := m.Read(cookie)
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), payload)
}

func TestReadDetectsChecksumMismatch(t *testing.T) {
	m := newManager(t)
	cookie, err := m.Write([]byte("payload"), 1)
	require.NoError(t, err)

	cookie.Checksum ^= 0xFFFFFFFF
	_, err = m.Read(cookie)
	require.Error(t, err)
}

func TestFreeAndReallocate(t *testing.T) {
	m := newManager(t)
	cookie, err := m.Write([]byte("reusable"), 1)
	require.NoError(t, err)
	m.Free(cookie)

	require.True(t, m.FirstAvailable(uint32(cookie.Size)))
}

func TestExtentListAllocAndCoalesce(t *testing.T) {
	l := block.NewExtentList()
	l.Seed(0, 1000)

	offset, ok := l.Alloc(100)
	require.True(t, ok)
	require.Equal(t, uint64(0), offset)

	offset2, ok := l.Alloc(100)
	require.True(t, ok)
	require.Equal(t, uint64(100), offset2)

	l.Free(0, 100)
	l.Free(100, 100)

	extents := l.Extents()
	require.Len(t, extents, 1)
	require.Equal(t, uint64(0), extents[0].Offset)
	require.Equal(t, uint64(1000), extents[0].Size)
}

func TestExtentListFirstAvailable(t *testing.T) {
	l := block.NewExtentList()
	l.Seed(0, 100)

	require.True(t, l.FirstAvailable(100))
	require.False(t, l.FirstAvailable(101))
}
