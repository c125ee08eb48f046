package cache_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stonebark/stonebark/internal/cache"
	"github.com/stonebark/stonebark/pkg/options"
)

func newTestCache() *cache.Cache {
	cfg := options.NewDefaultOptions()
	cfg.CacheOptions.SizeBytes = 1024
	cfg.CacheOptions.EvictionTriggerPercent = 90
	cfg.CacheOptions.EvictionTargetPercent = 50
	return cache.New(&cfg, zap.NewNop().Sugar())
}

func TestInstallAndLookup(t *testing.T) {
	c := newTestCache()
	ref := cache.NewRef(cache.RefMem)
	page := &cache.Page{ID: 1}
	page.MemorySize.Store(100)

	require.NoError(t, c.Install(1, 42, ref, page))

	got, ok := c.Lookup(1, 42)
	require.True(t, ok)
	require.Same(t, ref, got)
}

func TestHazardBarsEviction(t *testing.T) {
	c := newTestCache()
	_, hz := c.NewSession()

	ref := cache.NewRef(cache.RefMem)
	page := &cache.Page{ID: 1}
	page.MemorySize.Store(50)
	require.NoError(t, c.Install(2, 7, ref, page))

	slot, err := hz.Set(ref)
	require.NoError(t, err)
	defer slot.Clear()

	evicted, err := c.RunEvictionPass(
		func(r *cache.Ref, p *cache.Page) bool { return true },
		func(r *cache.Ref, p *cache.Page) error { return nil },
	)
	require.NoError(t, err)
	require.Equal(t, 0, evicted)
	require.Equal(t, cache.RefMem, ref.State())
}

func TestEvictionReclaimsUnheldPage(t *testing.T) {
	c := newTestCache()
	ref := cache.NewRef(cache.RefMem)
	page := &cache.Page{ID: 1}
	page.MemorySize.Store(50)
	require.NoError(t, c.Install(3, 9, ref, page))

	evicted, err := c.RunEvictionPass(
		func(r *cache.Ref, p *cache.Page) bool { return true },
		func(r *cache.Ref, p *cache.Page) error { return nil },
	)
	require.NoError(t, err)
	require.Equal(t, 1, evicted)
	require.Equal(t, cache.RefDisk, ref.State())

	_, ok := c.Lookup(3, 9)
	require.False(t, ok)
}

func TestHazardSetBusyWhenNotMem(t *testing.T) {
	hz := cache.NewHazardArray(4)
	ref := cache.NewRef(cache.RefDisk)

	_, err := hz.Set(ref)
	require.Error(t, err)
}
