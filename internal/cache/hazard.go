package cache

import (
	"sync"
	"sync/atomic"

	"github.com/stonebark/stonebark/pkg/errors"
)

// RefState is the atomic lifecycle word of spec.md §3's ref state machine.
// All transitions are single-word CAS.
type RefState int32

const (
	RefDisk RefState = iota
	RefReading
	RefMem
	RefLocked
	RefDeleted
	RefSplit
)

// Ref is the lifecycle token for one child position in the tree
// (spec.md §3 "Reference (ref)"). The cache package only needs the state
// word and a page pointer; the btree package embeds Ref in its own richer
// node type carrying the address cookie.
type Ref struct {
	state atomic.Int32
	Page  atomic.Pointer[Page]
}

// NewRef returns a ref starting in the given state.
func NewRef(initial RefState) *Ref {
	r := &Ref{}
	r.state.Store(int32(initial))
	return r
}

// State returns the current ref state.
func (r *Ref) State() RefState { return RefState(r.state.Load()) }

// CAS attempts to transition the ref from "from" to "to", returning
// whether it succeeded.
func (r *Ref) CAS(from, to RefState) bool {
	return r.state.CompareAndSwap(int32(from), int32(to))
}

// Page is the in-memory representation of one btree page, enough of it
// for the cache layer: a memory footprint for budget accounting and a
// dirty flag for eviction/reconciliation decisions. The btree package
// embeds Page with its actual cell storage.
type Page struct {
	ID             uint64
	MemorySize     atomic.Int64
	Dirty          atomic.Bool
	ReadGeneration atomic.Uint64
}

// HazardSlot is one published hazard pointer: a session publishes a ref
// into a free slot before reading its page, barring eviction for as long
// as the slot is non-nil (spec.md §4.3).
type HazardSlot struct {
	ref atomic.Pointer[Ref]
}

// HazardArray is one session's growable array of hazard slots.
type HazardArray struct {
	mu     sync.RWMutex
	slots  []*HazardSlot
	onGrow func([]*HazardSlot)
}

// NewHazardArray returns an array with the given initial capacity.
func NewHazardArray(initialSlots int) *HazardArray {
	slots := make([]*HazardSlot, initialSlots)
	for i := range slots {
		slots[i] = &HazardSlot{}
	}
	return &HazardArray{slots: slots}
}

// Set publishes ref into a free slot, re-reads ref.State(), and returns a
// Busy error if the state is not MEM by the time publication is visible —
// the hazard-set protocol of spec.md §4.3.
func (h *HazardArray) Set(ref *Ref) (*HazardSlot, error) {
	h.mu.RLock()
	for _, slot := range h.slots {
		if slot.ref.CompareAndSwap(nil, ref) {
			h.mu.RUnlock()
			if ref.State() != RefMem {
				slot.ref.Store(nil)
				return nil, errors.NewRefBusyError("hazard_set", refStateName(ref.State()))
			}
			return slot, nil
		}
	}
	h.mu.RUnlock()

	slot := h.grow(ref)
	if ref.State() != RefMem {
		slot.ref.Store(nil)
		return nil, errors.NewRefBusyError("hazard_set", refStateName(ref.State()))
	}
	return slot, nil
}

// grow appends a new slot already holding ref, stashing the old backing
// array rather than freeing it directly (spec.md §4.3: "the old storage is
// handed to the generation stash").
func (h *HazardArray) grow(ref *Ref) *HazardSlot {
	h.mu.Lock()
	defer h.mu.Unlock()

	newSlot := &HazardSlot{}
	newSlot.ref.Store(ref)

	old := h.slots
	grown := make([]*HazardSlot, len(old)+1)
	copy(grown, old)
	grown[len(old)] = newSlot
	h.slots = grown

	if h.onGrow != nil {
		h.onGrow(old)
	}
	return newSlot
}

// SetOnGrow registers fn to be called with the array's previous backing
// slice on every growth, so the owner can stash it in the hazard
// generation instead of letting it leak or be freed out from under a
// concurrent reader.
func (h *HazardArray) SetOnGrow(fn func([]*HazardSlot)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onGrow = fn
}

// Clear nulls slot, releasing the hazard (spec.md §4.3 hazard_clear).
func (slot *HazardSlot) Clear() { slot.ref.Store(nil) }

// Scan reports whether any slot in the array currently points at ref,
// used by eviction's "scans all sessions' hazard arrays" check.
func (h *HazardArray) Scan(ref *Ref) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, slot := range h.slots {
		if slot.ref.Load() == ref {
			return true
		}
	}
	return false
}

func refStateName(s RefState) string {
	switch s {
	case RefDisk:
		return "DISK"
	case RefReading:
		return "READING"
	case RefMem:
		return "MEM"
	case RefLocked:
		return "LOCKED"
	case RefDeleted:
		return "DELETED"
	case RefSplit:
		return "SPLIT"
	default:
		return "UNKNOWN"
	}
}
