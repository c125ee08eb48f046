package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/stonebark/stonebark/pkg/errors"
	"github.com/stonebark/stonebark/pkg/options"
)

// pageKey maps a (btree, on-disk-address) pair to the cached ref, as
// spec.md §4.3 describes the cache's domain.
type pageKey struct {
	btreeID uint32
	address uint64
}

// Stats is the cache-pressure snapshot (spec.md's §4.3a): current and
// dirty occupancy in bytes, not as a percentage of the budget, plus the
// number of eviction passes run. UpdatesBytes is never filled in and stays
// zero. It is exposed for an external metrics collaborator to poll (no
// exporter is wired in this module; Non-goals exclude statistics
// pretty-printing).
type Stats struct {
	SizeBytes     uint64
	DirtyBytes    uint64
	UpdatesBytes  uint64
	EvictionCalls uint64
}

// Cache is the page cache of spec.md §4.3: a soft byte budget enforced by
// an eviction server, hazard-pointer protected reads, and a five-generation
// reclamation scheme for objects that must outlive their logical removal
// until no reader can still observe them.
type Cache struct {
	mu    sync.RWMutex
	pages map[pageKey]*Ref

	budget     uint64
	used       atomic.Int64
	dirtyUsed  atomic.Int64
	generation *GenerationManager

	sessions   sync.Map // sessionID -> *HazardArray
	nextSessID atomic.Uint64

	cfg *options.Options
	log *zap.SugaredLogger

	evictionCalls atomic.Uint64
}

// New constructs a Cache bounded by cfg.CacheOptions.SizeBytes.
func New(cfg *options.Options, log *zap.SugaredLogger) *Cache {
	return &Cache{
		pages:      make(map[pageKey]*Ref),
		budget:     cfg.CacheOptions.SizeBytes,
		generation: NewGenerationManager(),
		cfg:        cfg,
		log:        log,
	}
}

// NewSession registers a new session's hazard array, returning its id.
func (c *Cache) NewSession() (uint64, *HazardArray) {
	id := c.nextSessID.Add(1)
	arr := NewHazardArray(8)
	arr.SetOnGrow(func(old []*HazardSlot) {
		c.generation.Stash(GenHazard, old)
	})
	c.sessions.Store(id, arr)
	return id, arr
}

// CloseSession releases a session's hazard array.
func (c *Cache) CloseSession(id uint64) {
	c.sessions.Delete(id)
}

// Lookup returns the ref cached for (btreeID, address), if present.
func (c *Cache) Lookup(btreeID uint32, address uint64) (*Ref, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.pages[pageKey{btreeID, address}]
	return r, ok
}

// Install registers ref for (btreeID, address) and accounts its page's
// memory footprint against the budget, returning a Busy error (a
// cache-pressure signal per spec.md §4.3) if the caller should stall
// before installing more pages.
func (c *Cache) Install(btreeID uint32, address uint64, ref *Ref, page *Page) error {
	c.mu.Lock()
	c.pages[pageKey{btreeID, address}] = ref
	c.mu.Unlock()

	ref.Page.Store(page)
	c.used.Add(page.MemorySize.Load())
	if page.Dirty.Load() {
		c.dirtyUsed.Add(page.MemorySize.Load())
	}

	if c.overTriggerPercent(c.cfg.CacheOptions.EvictionTriggerPercent) {
		return errors.NewRefBusyError("cache_install", "OVER_TRIGGER")
	}
	return nil
}

// Remove deletes (btreeID, address) from the cache and releases its
// accounted memory.
func (c *Cache) Remove(btreeID uint32, address uint64, page *Page) {
	c.mu.Lock()
	delete(c.pages, pageKey{btreeID, address})
	c.mu.Unlock()

	c.used.Add(-page.MemorySize.Load())
	if page.Dirty.Load() {
		c.dirtyUsed.Add(-page.MemorySize.Load())
	}
}

func (c *Cache) percentUsed() int {
	if c.budget == 0 {
		return 0
	}
	return int(c.used.Load() * 100 / int64(c.budget))
}

func (c *Cache) overTriggerPercent(trigger int) bool {
	return c.percentUsed() >= trigger
}

// Stats returns a point-in-time snapshot of cache occupancy.
func (c *Cache) Stats() Stats {
	return Stats{
		SizeBytes:     uint64(c.used.Load()),
		DirtyBytes:    uint64(c.dirtyUsed.Load()),
		EvictionCalls: c.evictionCalls.Load(),
	}
}

// WaitForRoom blocks, sleeping with exponential backoff (1ms, doubling to
// at most 64ms per sleep), until the cache drops below its eviction
// target, or returns a Busy error once cfg.CacheOptions.CacheWaitMax has
// elapsed — the "cooperative
// stall" spec.md §4.3 describes, with the backoff schedule itself the
// resolution of spec.md §9's open question 3 on hazard/eviction backoff.
func (c *Cache) WaitForRoom() error {
	deadline := time.Now().Add(c.cfg.CacheOptions.CacheWaitMax)
	backoff := time.Millisecond

	for c.overTriggerPercent(c.cfg.CacheOptions.EvictionTargetPercent) {
		if time.Now().After(deadline) {
			return errors.NewRefBusyError("cache_wait", "TIMEOUT")
		}
		time.Sleep(backoff)
		if backoff < 64*time.Millisecond {
			backoff *= 2
		}
	}
	return nil
}

// RunEvictionPass walks the cache once, asking shouldEvict for each ref
// whether it is a candidate, and reclaim to persist+release chosen
// victims. It implements the eviction walker of spec.md §4.3 at the level
// of a cooperative, single-pass sweep rather than a dedicated bucketed-LRU
// thread pool. No engine goroutine runs it on a timer or on pressure from
// WaitForRoom; its only callers are this package's tests.
func (c *Cache) RunEvictionPass(shouldEvict func(*Ref, *Page) bool, reclaim func(*Ref, *Page) error) (evicted int, err error) {
	c.evictionCalls.Add(1)

	type candidate struct {
		key  pageKey
		ref  *Ref
		page *Page
	}

	c.mu.RLock()
	candidates := make([]candidate, 0, len(c.pages))
	for k, ref := range c.pages {
		page := ref.Page.Load()
		if page == nil {
			continue
		}
		if shouldEvict(ref, page) {
			candidates = append(candidates, candidate{k, ref, page})
		}
	}
	c.mu.RUnlock()

	for _, cand := range candidates {
		if !cand.ref.CAS(RefMem, RefLocked) {
			continue
		}

		if c.anySessionHolds(cand.ref) {
			cand.ref.CAS(RefLocked, RefMem)
			continue
		}

		if err := reclaim(cand.ref, cand.page); err != nil {
			cand.ref.CAS(RefLocked, RefMem)
			return evicted, err
		}

		c.Remove(cand.key.btreeID, cand.key.address, cand.page)
		cand.ref.CAS(RefLocked, RefDisk)
		evicted++
	}

	c.generation.Advance(GenEvict)
	c.generation.Sweep(GenHazard, func(any) {})
	return evicted, nil
}

// anySessionHolds reports whether any live session's hazard array still
// points at ref, the hazard-safety check eviction must pass before
// reclaiming a page (spec.md §3's hazard-safety invariant).
func (c *Cache) anySessionHolds(ref *Ref) bool {
	held := false
	c.sessions.Range(func(_, v any) bool {
		arr := v.(*HazardArray)
		if arr.Scan(ref) {
			held = true
			return false
		}
		return true
	})
	return held
}
