package btree

import (
	"bytes"
	"sort"

	"github.com/stonebark/stonebark/pkg/errors"
)

// SearchResult is what Search returns for a key: the leaf ref and slot it
// landed on (spec.md §4.4 "Search returns: the ref, the slot, whether
// compare == 0 ..."), plus whether the key matched exactly.
type SearchResult struct {
	Leaf  *Ref
	Slot  *Slot   // nil if the key falls in an insert-list gap or is absent
	Exact bool    // true iff a Slot or insert-list entry matched the key exactly
	Index int     // position among Leaf.GetPage().Slots, picks the insert list for a new key
}

// Search walks from root to the leaf that would contain key, binary
// searching internal pages to pick a child and the leaf's own slots, then
// falling back to the slot's insert list when the key lies strictly
// between two on-page slots (spec.md §4.4).
func (bt *Btree) Search(key []byte) (SearchResult, error) {
	if len(key) == 0 {
		return SearchResult{}, errors.NewEmptyKeyError("Search")
	}

	ref := bt.root.Load()
	for {
		page := ref.GetPage()
		if page == nil {
			return SearchResult{}, errors.NewRefBusyError("Search", "DISK")
		}
		if page.Type.IsLeaf() {
			return searchLeaf(ref, page, key), nil
		}
		ref = searchInternal(page, key)
	}
}

// searchInternal binary searches an internal page's children by their
// lower key bound and returns the child ref that would own key.
func searchInternal(page *Page, key []byte) *Ref {
	n := len(page.Children)
	idx := sort.Search(n, func(i int) bool {
		return bytes.Compare(childBound(page.Children[i]), key) > 0
	})
	if idx == 0 {
		idx = 1
	}
	return page.Children[idx-1]
}

// childBound returns the lower key bound a child ref was split at: a leaf
// child's first slot key, or, for an internal child, the bound of its own
// first child.
func childBound(ref *Ref) []byte {
	page := ref.GetPage()
	if page != nil && !page.Type.IsLeaf() && len(page.Children) > 0 {
		return childBound(page.Children[0])
	}
	if page == nil || len(page.Slots) == 0 {
		return nil
	}
	return page.Slots[0].Key
}

func searchLeaf(ref *Ref, page *Page, key []byte) SearchResult {
	n := len(page.Slots)
	idx := sort.Search(n, func(i int) bool {
		return bytes.Compare(page.Slots[i].Key, key) >= 0
	})

	if idx < n && bytes.Equal(page.Slots[idx].Key, key) {
		return SearchResult{Leaf: ref, Slot: page.Slots[idx], Exact: true, Index: idx}
	}

	// Key falls before Slots[0], or strictly between Slots[idx-1] and
	// Slots[idx]: consult the relevant insert list.
	var list *insertList
	switch {
	case idx == 0:
		list = page.Leading
	default:
		list = page.Slots[idx-1].Inserts
	}
	if list != nil {
		if slot, ok := list.get(key); ok {
			return SearchResult{Leaf: ref, Slot: slot, Exact: true, Index: idx}
		}
	}
	return SearchResult{Leaf: ref, Slot: nil, Exact: false, Index: idx}
}

// insertListFor returns (creating if necessary) the insert list a new key
// between Slots[idx-1] and Slots[idx] (or before Slots[0] when idx==0)
// belongs in.
func insertListFor(page *Page, idx int) *insertList {
	if idx == 0 {
		if page.Leading == nil {
			page.Leading = newInsertList()
		}
		return page.Leading
	}
	slot := page.Slots[idx-1]
	if slot.Inserts == nil {
		slot.Inserts = newInsertList()
	}
	return slot.Inserts
}

// descendToLeaf walks from root to the leaf ref that owns key, mirroring
// Search's descent without the slot lookup, for callers (reconciliation,
// truncate) that only need the leaf itself.
func (bt *Btree) descendToLeaf(key []byte) *Ref {
	ref := bt.root.Load()
	for {
		page := ref.GetPage()
		if page == nil || page.Type.IsLeaf() {
			return ref
		}
		ref = searchInternal(page, key)
	}
}
