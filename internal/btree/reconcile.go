package btree

import (
	"encoding/binary"

	"github.com/stonebark/stonebark/internal/cache"
	"github.com/stonebark/stonebark/internal/txn"
	"github.com/stonebark/stonebark/pkg/errors"
)

// mergedEntry is one key/value pair surviving reconciliation's chain walk.
type mergedEntry struct {
	key   []byte
	value []byte
}

// mergedVisible walks a leaf's on-page slots, each slot's insert list, and
// the page's leading insert list in key order, returning only the entries
// visible to snap — TOMBSTONEs and invisible updates are dropped
// (spec.md §4.4 "Reconciliation").
func mergedVisible(page *Page, snap *txn.Snapshot) []mergedEntry {
	var out []mergedEntry
	emit := func(key []byte, slot *Slot) {
		if slot == nil {
			return
		}
		val, ok := txn.VisibleValue(slot.Chain, snap, txn.NoTxnID)
		if !ok {
			return
		}
		out = append(out, mergedEntry{key, val})
	}

	if page.Leading != nil {
		page.Leading.forEach(emit)
	}
	for _, slot := range page.Slots {
		emit(slot.Key, slot)
		if slot.Inserts != nil {
			slot.Inserts.forEach(emit)
		}
	}
	return out
}

// encodeLeafCells packs entries as a sequence of (keyLen, key, valLen,
// value) cells, the row-store leaf cell layout of spec.md §4.4 without
// prefix compression (see DESIGN.md for why prefix compression is out of
// scope here).
func encodeLeafCells(entries []mergedEntry) []byte {
	buf := make([]byte, 0, 32*len(entries))
	var tmp [binary.MaxVarintLen64]byte
	for _, e := range entries {
		n := binary.PutUvarint(tmp[:], uint64(len(e.key)))
		buf = append(buf, tmp[:n]...)
		buf = append(buf, e.key...)
		n = binary.PutUvarint(tmp[:], uint64(len(e.value)))
		buf = append(buf, tmp[:n]...)
		buf = append(buf, e.value...)
	}
	return buf
}

// decodeLeafCells is encodeLeafCells's inverse, used to rematerialize a
// leaf page read back from disk (internal/checkpoint's recovery path).
func decodeLeafCells(buf []byte) ([]mergedEntry, error) {
	var out []mergedEntry
	for len(buf) > 0 {
		keyLen, n := binary.Uvarint(buf)
		if n <= 0 {
			return nil, errors.NewBtreeError(nil, errors.ErrorCodeCorruptMetadata, "leaf cell key length").WithOperation("LoadLeaf")
		}
		buf = buf[n:]
		if uint64(len(buf)) < keyLen {
			return nil, errors.NewBtreeError(nil, errors.ErrorCodeCorruptMetadata, "leaf cell key truncated").WithOperation("LoadLeaf")
		}
		key := append([]byte(nil), buf[:keyLen]...)
		buf = buf[keyLen:]

		valLen, n := binary.Uvarint(buf)
		if n <= 0 {
			return nil, errors.NewBtreeError(nil, errors.ErrorCodeCorruptMetadata, "leaf cell value length").WithOperation("LoadLeaf")
		}
		buf = buf[n:]
		if uint64(len(buf)) < valLen {
			return nil, errors.NewBtreeError(nil, errors.ErrorCodeCorruptMetadata, "leaf cell value truncated").WithOperation("LoadLeaf")
		}
		val := append([]byte(nil), buf[:valLen]...)
		buf = buf[valLen:]

		out = append(out, mergedEntry{key, val})
	}
	return out, nil
}

// rebuildLeafPage constructs a fresh leaf Page from a chunk of merged
// entries, each becoming a committed baseline update so future reads see
// it without needing the original writer's transaction still resolvable.
// Transaction id 0 is reserved (spec.md §4.5) and always compares older
// than every live snapshot, which is exactly the semantics an on-page
// baseline value needs.
func rebuildLeafPage(leafType PageType, chunk []mergedEntry) *Page {
	page := &Page{Type: leafType, Slots: make([]*Slot, 0, len(chunk))}
	for _, e := range chunk {
		page.Slots = append(page.Slots, &Slot{
			Key: e.key,
			Chain: &txn.Update{
				Type:      txn.UpdateStandard,
				Committed: true,
				Value:     e.value,
			},
		})
	}
	return page
}

// chunkSlice splits items into runs of at most max, always returning at
// least one (possibly empty) chunk.
func chunkSlice[T any](items []T, max int) [][]T {
	if len(items) == 0 {
		return [][]T{items}
	}
	var chunks [][]T
	for len(items) > 0 {
		n := max
		if n > len(items) {
			n = len(items)
		}
		chunks = append(chunks, items[:n])
		items = items[n:]
	}
	return chunks
}

func internalTypeFor(leafType PageType) PageType {
	if leafType.IsColumnStore() {
		return PageColInternal
	}
	return PageRowInternal
}

func indexOfChild(children []*Ref, target *Ref) int {
	for i, c := range children {
		if c == target {
			return i
		}
	}
	return -1
}

// Reconcile rebuilds ref's dirty leaf page into one or more on-disk
// images via the block manager, splitting when the merged entry count
// exceeds cfg.LeafMaxSlots, and bubbles the resulting ref(s) up into the
// parent (spec.md §4.4 "Reconciliation"/"Splits and merges"). Only leaf
// pages are ever written through the block manager in this
// implementation: internal and root pages remain in-memory-only, which
// spec.md §3's page description explicitly allows ("disk image pointer
// may be null if in-memory only").
func (bt *Btree) Reconcile(ref *Ref, snap *txn.Snapshot) error {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	page := ref.GetPage()
	if page == nil || !page.Dirty.Load() {
		return nil
	}
	if !page.Type.IsLeaf() {
		return errors.NewBtreeError(nil, errors.ErrorCodePanic, "Reconcile called on a non-leaf page").
			WithOperation("Reconcile")
	}

	entries := mergedVisible(page, snap)
	chunks := chunkSlice(entries, bt.cfg.LeafMaxSlots)

	newRefs := make([]*Ref, 0, len(chunks))
	for _, chunk := range chunks {
		payload := encodeLeafCells(chunk)
		cookie, err := bt.cfg.Manager.Write(payload, uint8(page.Type))
		if err != nil {
			return err
		}
		leaf := NewRef(cache.RefMem)
		leaf.SetAddress(cookie)
		leaf.SetPage(rebuildLeafPage(page.Type, chunk))
		newRefs = append(newRefs, leaf)
	}

	return bt.replaceRef(ref, newRefs)
}

// replaceRef swaps old out for replacements, either becoming the new root
// (possibly wrapped in a fresh internal page when there is more than one
// replacement) or splicing into old's parent, recursively splitting the
// parent if it now holds too many children.
func (bt *Btree) replaceRef(old *Ref, replacements []*Ref) error {
	parent := old.Parent
	if parent == nil {
		if len(replacements) == 1 {
			replacements[0].Parent = nil
			bt.root.Store(replacements[0])
			return nil
		}
		newRootPage := &Page{Type: internalTypeFor(replacements[0].GetPage().Type), Children: replacements}
		newRoot := NewRef(cache.RefMem)
		newRoot.SetPage(newRootPage)
		for _, c := range replacements {
			c.Parent = newRoot
		}
		bt.root.Store(newRoot)
		return nil
	}

	parentPage := parent.GetPage()
	idx := indexOfChild(parentPage.Children, old)
	if idx < 0 {
		return errors.NewBtreeError(nil, errors.ErrorCodePanic, "child ref not found on reconciling parent").
			WithOperation("Reconcile")
	}

	grown := make([]*Ref, 0, len(parentPage.Children)+len(replacements)-1)
	grown = append(grown, parentPage.Children[:idx]...)
	for _, r := range replacements {
		r.Parent = parent
		grown = append(grown, r)
	}
	grown = append(grown, parentPage.Children[idx+1:]...)
	parentPage.Children = grown
	parentPage.Dirty.Store(true)

	if len(parentPage.Children) > bt.cfg.LeafMaxSlots {
		return bt.splitInternal(parent)
	}
	return nil
}

// splitInternal divides an overflowing internal page's children into
// chunks of new internal pages and bubbles them into the grandparent,
// per spec.md §4.4 "Splits and merges".
func (bt *Btree) splitInternal(ref *Ref) error {
	page := ref.GetPage()
	chunks := chunkSlice(page.Children, bt.cfg.LeafMaxSlots)
	if len(chunks) <= 1 {
		return nil
	}

	newRefs := make([]*Ref, 0, len(chunks))
	for _, chunk := range chunks {
		p := &Page{Type: page.Type, Children: chunk}
		r := NewRef(cache.RefMem)
		r.SetPage(p)
		for _, c := range chunk {
			c.Parent = r
		}
		newRefs = append(newRefs, r)
	}
	return bt.replaceRef(ref, newRefs)
}
