// Package btree implements the B-tree layer of spec.md §4.4: page layout,
// refs, search, mutation, reconciliation/splits, fast truncate, and tree
// walks, for both row-store (byte-string keyed) and column-store
// (recno-keyed) tables. Column-store tables share the row-store's search
// and reconciliation machinery by encoding the record number as a
// big-endian 8-byte key (see recnoKey); this trades a dedicated
// fixed/variable-length column cell format for a single well-tested code
// path, a simplification recorded in DESIGN.md.
package btree

import (
	"sync/atomic"

	"github.com/stonebark/stonebark/internal/block"
	"github.com/stonebark/stonebark/internal/cache"
	"github.com/stonebark/stonebark/internal/txn"
)

// PageType enumerates the five on-disk page kinds of spec.md §3.
type PageType uint8

const (
	PageRowInternal PageType = iota + 1
	PageRowLeaf
	PageColInternal
	PageColVar
	PageColFix
)

// IsLeaf reports whether pages of this type hold key/value slots directly
// rather than child refs.
func (t PageType) IsLeaf() bool {
	return t == PageRowLeaf || t == PageColVar || t == PageColFix
}

// IsColumnStore reports whether the type belongs to a recno-addressed tree.
func (t PageType) IsColumnStore() bool {
	return t == PageColInternal || t == PageColVar || t == PageColFix
}

// maxInsertListHeight is the insert-skip-list height cap of spec.md §3
// ("geometric distribution up to a maximum of 10").
const maxInsertListHeight = 10

// Page is the in-memory representation of spec.md §4.4's page layout: a
// header, an array of slots (leaves) or children (internal pages), and the
// cache-accounting fields every cached object carries.
type Page struct {
	cache.Page

	Type      PageType
	Version   uint32
	RecnoBase uint64 // column-store starting recno, leaves only

	// Leaf fields.
	Slots   []*Slot
	Leading *insertList // keys smaller than Slots[0], per spec.md §3 "insert list"

	// Internal fields.
	Children []*Ref
}

// Slot is one on-page key slot: its original (possibly prefix-compressed
// on disk, always fully materialized in memory here) key and baseline
// value, the mutable update chain hanging off it, and the insert list of
// keys that sort strictly between this slot and the next one.
type Slot struct {
	Key     []byte
	Value   []byte
	Recno   uint64
	Chain   *txn.Update
	Inserts *insertList
}

// Ref is the lifecycle token for one child position in the tree
// (spec.md §3 "Reference"). It embeds cache.Ref for the atomic CAS state
// machine and layers the address cookie, parent pointer, and in-memory
// page pointer the btree package needs on top.
type Ref struct {
	*cache.Ref

	Parent    *Ref
	address   atomic.Pointer[block.Cookie]
	page      atomic.Pointer[Page]
	deletedBy atomic.Uint64 // txn id that fast-truncated this ref, if DELETED
}

// NewRef returns a ref starting in the given lifecycle state.
func NewRef(initial cache.RefState) *Ref {
	return &Ref{Ref: cache.NewRef(initial)}
}

// GetPage returns the ref's in-memory page, or nil if none is resident.
func (r *Ref) GetPage() *Page { return r.page.Load() }

// SetPage installs p as the ref's in-memory page.
func (r *Ref) SetPage(p *Page) { r.page.Store(p) }

// GetAddress returns the ref's address cookie, if it has one.
func (r *Ref) GetAddress() (block.Cookie, bool) {
	c := r.address.Load()
	if c == nil {
		return block.Cookie{}, false
	}
	return *c, true
}

// SetAddress installs c as the ref's address cookie.
func (r *Ref) SetAddress(c block.Cookie) { r.address.Store(&c) }

// DeletedBy returns the id of the transaction that fast-truncated this
// ref, valid only while the ref is in the DELETED state.
func (r *Ref) DeletedBy() uint64 { return r.deletedBy.Load() }
