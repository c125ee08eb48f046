package btree

import (
	"bytes"

	"github.com/stonebark/stonebark/internal/cache"
	"github.com/stonebark/stonebark/internal/txn"
)

// rangeWhollyInside reports whether every key on page falls within
// [start, end) (nil bounds meaning unbounded), the test spec.md §4.4's
// "Fast truncate" applies to decide whether a child ref can be dropped
// wholesale. An empty page is trivially inside any range.
func rangeWhollyInside(page *Page, start, end []byte) bool {
	if len(page.Slots) == 0 {
		return true
	}
	lo := page.Slots[0].Key
	hi := page.Slots[len(page.Slots)-1].Key
	if start != nil && bytes.Compare(lo, start) < 0 {
		return false
	}
	if end != nil && bytes.Compare(hi, end) >= 0 {
		return false
	}
	return true
}

// FastTruncate marks every leaf child ref lying wholly inside [start, end)
// DELETED on behalf of tx, without touching individual keys (spec.md §4.4
// "Fast truncate"). Internal-page children are recursed into rather than
// truncated wholesale, a scope reduction from the full algorithm (which
// can also drop whole internal subtrees) recorded in DESIGN.md. Walk, and
// so Cursor.Next and Cursor.Prev, skip DELETED refs for every reader,
// whether or not its snapshot includes tx; Search and Get do not check ref
// state and still find keys on a DELETED leaf.
func (bt *Btree) FastTruncate(tx *txn.Txn, start, end []byte) ([]*Ref, error) {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	var truncated []*Ref
	var walk func(ref *Ref)
	walk = func(ref *Ref) {
		page := ref.GetPage()
		if page == nil || page.Type.IsLeaf() {
			return
		}
		for _, child := range page.Children {
			cp := child.GetPage()
			if cp == nil {
				continue
			}
			if cp.Type.IsLeaf() && rangeWhollyInside(cp, start, end) {
				if child.CAS(cache.RefMem, cache.RefDeleted) {
					child.deletedBy.Store(tx.ID)
					truncated = append(truncated, child)
				}
				continue
			}
			if !cp.Type.IsLeaf() {
				walk(child)
			}
		}
	}
	walk(bt.root.Load())
	return truncated, nil
}

// RollbackTruncate reverts refs fast-truncated by an aborted transaction
// back to MEM, per spec.md §4.4 "On rollback, DELETED pages revert to
// their prior state".
func RollbackTruncate(truncated []*Ref) {
	for _, ref := range truncated {
		ref.CAS(cache.RefDeleted, cache.RefMem)
	}
}
