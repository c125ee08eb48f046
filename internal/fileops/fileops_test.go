package fileops_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stonebark/stonebark/internal/fileops"
)

func TestMemoryReportsNonZeroSizeWhenEmpty(t *testing.T) {
	fs := fileops.NewMemory()
	f, err := fs.Open("table.db", fileops.OpenFlags{Create: true})
	require.NoError(t, err)
	defer f.Close()

	size, err := f.Size()
	require.NoError(t, err)
	require.Equal(t, int64(1), size)
}

func TestMemoryWriteReadRoundTrip(t *testing.T) {
	fs := fileops.NewMemory()
	f, err := fs.Open("table.db", fileops.OpenFlags{Create: true})
	require.NoError(t, err)
	defer f.Close()

	payload := []byte("hello stonebark")
	n, err := f.WriteAt(payload, 16)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	buf := make([]byte, len(payload))
	n, err = f.ReadAt(buf, 16)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, buf)
}

func TestMemoryOpenCoalescesSamePath(t *testing.T) {
	fs := fileops.NewMemory()
	a, err := fs.Open("shared.db", fileops.OpenFlags{Create: true})
	require.NoError(t, err)

	_, err = a.WriteAt([]byte("x"), 0)
	require.NoError(t, err)

	b, err := fs.Open("shared.db", fileops.OpenFlags{})
	require.NoError(t, err)
	defer b.Close()

	buf := make([]byte, 1)
	_, err = b.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("x"), buf)

	require.NoError(t, a.Close())
}

func TestMemoryOpenMissingWithoutCreateIsNotFound(t *testing.T) {
	fs := fileops.NewMemory()
	_, err := fs.Open("missing.db", fileops.OpenFlags{})
	require.Error(t, err)
}

func TestMemoryTruncateGrowsAndShrinks(t *testing.T) {
	fs := fileops.NewMemory()
	f, err := fs.Open("t.db", fileops.OpenFlags{Create: true})
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.Truncate(10))
	size, err := f.Size()
	require.NoError(t, err)
	require.Equal(t, int64(10), size)

	require.NoError(t, f.Truncate(0))
	size, err = f.Size()
	require.NoError(t, err)
	require.Equal(t, int64(1), size) // zero-length buffer still reports non-zero
}
