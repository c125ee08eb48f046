package btree

import "github.com/stonebark/stonebark/internal/cache"

// WalkFunc is called for each on-page key in ascending order during an
// ordered tree walk; returning false stops the walk early.
type WalkFunc func(key []byte, slot *Slot) bool

// Walk performs an in-order traversal of the tree's current in-memory
// shape, visiting slots (including insert-list entries) in ascending key
// order and skipping DELETED (fast-truncated) subtrees — the tree-walk
// primitive of spec.md §4.4. Skip-on-leaf and skip-with-callback options
// are left to callers composing WalkFunc, since Go closures already
// express that cheaply without a dedicated options struct.
func (bt *Btree) Walk(fn WalkFunc) {
	bt.walkRef(bt.root.Load(), fn)
}

func (bt *Btree) walkRef(ref *Ref, fn WalkFunc) bool {
	if ref == nil || ref.State() == cache.RefDeleted {
		return true
	}
	page := ref.GetPage()
	if page == nil {
		return true
	}
	if page.Type.IsLeaf() {
		return walkLeaf(page, fn)
	}
	for _, child := range page.Children {
		if !bt.walkRef(child, fn) {
			return false
		}
	}
	return true
}

func walkLeaf(page *Page, fn WalkFunc) bool {
	cont := true
	visit := func(key []byte, slot *Slot) {
		if !cont {
			return
		}
		cont = fn(key, slot)
	}

	if page.Leading != nil {
		page.Leading.forEach(visit)
	}
	for _, slot := range page.Slots {
		if !cont {
			break
		}
		visit(slot.Key, slot)
		if slot.Inserts != nil {
			slot.Inserts.forEach(visit)
		}
	}
	return cont
}
