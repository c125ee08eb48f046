// Package cache implements the in-memory page cache of spec.md §4.3:
// hazard-pointer protected page references, a five-generation reclamation
// scheme, and a soft-byte-budget eviction server.
package cache

import (
	"sync"
	"sync/atomic"
)

// Generation identifies one of the five reclamation epochs spec.md §4.3
// names: checkpoint, commit, evict, hazard, split. A session "enters" a
// generation before touching shared state whose reclamation depends on it,
// and "leaves" on completion; the sweeper frees stashed objects once every
// session has left a generation older than the object's birth generation.
type Generation int

const (
	GenCheckpoint Generation = iota
	GenCommit
	GenEvict
	GenHazard
	GenSplit
	generationCount
)

// GenerationManager tracks, per generation, a monotonic counter and the set
// of sessions currently "inside" it, plus a stash of objects awaiting
// reclamation once no session can still observe them.
type GenerationManager struct {
	current [generationCount]atomic.Uint64
	active  [generationCount]sync.Map // sessionID -> uint64 (the generation value the session entered at)
	stash   [generationCount]stashList
}

// NewGenerationManager returns a manager with every generation counter
// starting at 1 (0 is reserved to mean "never entered").
func NewGenerationManager() *GenerationManager {
	gm := &GenerationManager{}
	for i := range gm.current {
		gm.current[i].Store(1)
	}
	return gm
}

// Enter records that sessionID is inside generation g, returning the
// generation value it entered at (needed by Leave to clear the right slot).
func (gm *GenerationManager) Enter(g Generation, sessionID uint64) uint64 {
	v := gm.current[g].Load()
	gm.active[g].Store(sessionID, v)
	return v
}

// Leave records that sessionID is no longer inside generation g.
func (gm *GenerationManager) Leave(g Generation, sessionID uint64) {
	gm.active[g].Delete(sessionID)
}

// Advance bumps generation g's counter, returning the new value. Callers
// do this after completing a checkpoint, commit, eviction pass, hazard
// array growth, or split, so older stashed objects become reclaimable.
func (gm *GenerationManager) Advance(g Generation) uint64 {
	return gm.current[g].Add(1)
}

// oldestActive returns the smallest generation value any session is
// currently inside for g, or the current value if no session is active
// (meaning everything stashed before "now" is reclaimable).
func (gm *GenerationManager) oldestActive(g Generation) uint64 {
	oldest := gm.current[g].Load()
	gm.active[g].Range(func(_, v any) bool {
		gen := v.(uint64)
		if gen < oldest {
			oldest = gen
		}
		return true
	})
	return oldest
}

// Stash defers reclamation of obj (typically an old hazard array or a
// truncated update-chain tail) until every session has left the generation
// current at the time of the call.
func (gm *GenerationManager) Stash(g Generation, obj any) {
	gm.stash[g].push(stashedObject{birth: gm.current[g].Load(), obj: obj})
}

// Sweep frees every stashed object in generation g whose birth generation
// is older than the oldest generation any session is still inside,
// invoking free for each one. Cache.RunEvictionPass calls it for the
// hazard generation; no background sweeper goroutine runs it.
func (gm *GenerationManager) Sweep(g Generation, free func(any)) {
	boundary := gm.oldestActive(g)
	gm.stash[g].drainBelow(boundary, free)
}
