package btree

import (
	"encoding/binary"

	"github.com/stonebark/stonebark/internal/block"
	"github.com/stonebark/stonebark/internal/cache"
	"github.com/stonebark/stonebark/internal/txn"
	"github.com/stonebark/stonebark/pkg/errors"
)

// Checkpoint reconciles every dirty leaf under snap and then persists the
// tree's internal pages too, something ordinary Reconcile never does (see
// its doc comment), so that a tree which has split into more than one leaf
// still reduces to a single root cookie recovery can load whole. Returns
// ok=false when the tree is empty and nothing needed to be written.
func (bt *Btree) Checkpoint(snap *txn.Snapshot) (block.Cookie, PageType, bool, error) {
	bt.FlushLock()
	defer bt.FlushUnlock()

	if err := bt.reconcileDirty(bt.root.Load(), snap); err != nil {
		return block.Cookie{}, 0, false, err
	}
	return bt.persistSubtree(bt.root.Load())
}

// reconcileDirty walks down to every dirty leaf and reconciles it. Internal
// pages never carry a Dirty flag that matters here: a split reshapes
// Children in place on the same Page object that every ancestor already
// points to (or, for the root, replaces bt.root entirely), so re-reading
// bt.root.Load() after this returns always observes the final shape.
func (bt *Btree) reconcileDirty(ref *Ref, snap *txn.Snapshot) error {
	page := ref.GetPage()
	if page == nil {
		return nil
	}
	if page.Type.IsLeaf() {
		if page.Dirty.Load() {
			return bt.Reconcile(ref, snap)
		}
		return nil
	}

	children := append([]*Ref(nil), page.Children...)
	for _, child := range children {
		if err := bt.reconcileDirty(child, snap); err != nil {
			return err
		}
	}
	return nil
}

// persistSubtree returns ref's durable address, writing a fresh internal
// page block for any internal ref it visits. A leaf ref already has an
// address once reconcileDirty has run (unless it was never written to and
// so never reconciled at all, the empty-table case). Internal pages are
// rewritten on every checkpoint, since they hold no Dirty flag of their
// own to skip unmodified subtrees with.
func (bt *Btree) persistSubtree(ref *Ref) (block.Cookie, PageType, bool, error) {
	page := ref.GetPage()
	if page == nil {
		return block.Cookie{}, 0, false, nil
	}

	if page.Type.IsLeaf() {
		cookie, ok := ref.GetAddress()
		if !ok {
			return block.Cookie{}, 0, false, nil
		}
		return cookie, page.Type, true, nil
	}

	entries := make([]internalEntry, 0, len(page.Children))
	for _, child := range page.Children {
		cookie, childType, ok, err := bt.persistSubtree(child)
		if err != nil {
			return block.Cookie{}, 0, false, err
		}
		if !ok {
			continue
		}
		entries = append(entries, internalEntry{
			pageType: childType,
			cookie:   cookie,
			firstKey: firstKeyOf(child),
		})
	}
	if len(entries) == 0 {
		return block.Cookie{}, 0, false, nil
	}

	payload := encodeInternalCells(entries)
	cookie, err := bt.cfg.Manager.Write(payload, uint8(page.Type))
	if err != nil {
		return block.Cookie{}, 0, false, err
	}
	return cookie, page.Type, true, nil
}

// firstKeyOf descends leftmost through ref's subtree to find its smallest
// routing key, used to label an internal page's child cells.
func firstKeyOf(ref *Ref) []byte {
	page := ref.GetPage()
	if page == nil {
		return nil
	}
	if !page.Type.IsLeaf() {
		if len(page.Children) == 0 {
			return nil
		}
		return firstKeyOf(page.Children[0])
	}
	if page.Leading != nil {
		if k, ok := page.Leading.firstKey(); ok {
			return k
		}
	}
	if len(page.Slots) > 0 {
		return page.Slots[0].Key
	}
	return nil
}

// internalEntry is one child cell of an on-disk internal page: the child's
// page type and address, plus the smallest key routed to it.
type internalEntry struct {
	pageType PageType
	cookie   block.Cookie
	firstKey []byte
}

// encodeInternalCells packs entries as a sequence of (pageType, offset,
// size, checksum, keyLen, key) cells, the on-disk layout for an internal
// page written at checkpoint time. Modeled on encodeLeafCells's
// length-prefixed cell format.
func encodeInternalCells(entries []internalEntry) []byte {
	buf := make([]byte, 0, 32*len(entries))
	var tmp [binary.MaxVarintLen64]byte
	var fixed [16]byte
	for _, e := range entries {
		buf = append(buf, byte(e.pageType))
		binary.LittleEndian.PutUint64(fixed[0:8], e.cookie.Offset)
		binary.LittleEndian.PutUint32(fixed[8:12], e.cookie.Size)
		binary.LittleEndian.PutUint32(fixed[12:16], e.cookie.Checksum)
		buf = append(buf, fixed[:]...)
		n := binary.PutUvarint(tmp[:], uint64(len(e.firstKey)))
		buf = append(buf, tmp[:n]...)
		buf = append(buf, e.firstKey...)
	}
	return buf
}

// decodeInternalCells is encodeInternalCells's inverse, used by LoadRoot to
// rematerialize an internal page read back from disk.
func decodeInternalCells(buf []byte) ([]internalEntry, error) {
	const fixedLen = 1 + 8 + 4 + 4

	var out []internalEntry
	for len(buf) > 0 {
		if len(buf) < fixedLen {
			return nil, errors.NewBtreeError(nil, errors.ErrorCodeCorruptMetadata, "internal cell header truncated").WithOperation("LoadRoot")
		}
		pageType := PageType(buf[0])
		offset := binary.LittleEndian.Uint64(buf[1:9])
		size := binary.LittleEndian.Uint32(buf[9:13])
		checksum := binary.LittleEndian.Uint32(buf[13:17])
		buf = buf[fixedLen:]

		keyLen, n := binary.Uvarint(buf)
		if n <= 0 {
			return nil, errors.NewBtreeError(nil, errors.ErrorCodeCorruptMetadata, "internal cell key length").WithOperation("LoadRoot")
		}
		buf = buf[n:]
		if uint64(len(buf)) < keyLen {
			return nil, errors.NewBtreeError(nil, errors.ErrorCodeCorruptMetadata, "internal cell key truncated").WithOperation("LoadRoot")
		}
		key := append([]byte(nil), buf[:keyLen]...)
		buf = buf[keyLen:]

		out = append(out, internalEntry{
			pageType: pageType,
			cookie:   block.Cookie{Offset: offset, Size: size, Checksum: checksum},
			firstKey: key,
		})
	}
	return out, nil
}

// LoadRoot reads cookie back through the block manager, recursively
// rematerializing internal pages (and their leaf children via LoadLeaf)
// into an in-memory ref tree, and installs it as the table's root —
// internal/checkpoint's recovery-path counterpart to Checkpoint.
func (bt *Btree) LoadRoot(cookie block.Cookie, pageType PageType) error {
	ref, err := bt.loadRef(cookie, pageType, nil)
	if err != nil {
		return err
	}
	bt.SetRoot(ref)
	return nil
}

func (bt *Btree) loadRef(cookie block.Cookie, pageType PageType, parent *Ref) (*Ref, error) {
	ref := NewRef(cache.RefMem)
	ref.SetAddress(cookie)
	ref.Parent = parent

	if pageType.IsLeaf() {
		page, err := bt.LoadLeaf(cookie, pageType)
		if err != nil {
			return nil, err
		}
		ref.SetPage(page)
		return ref, nil
	}

	payload, err := bt.cfg.Manager.Read(cookie)
	if err != nil {
		return nil, err
	}
	entries, err := decodeInternalCells(payload)
	if err != nil {
		return nil, err
	}

	page := &Page{Type: pageType}
	for _, e := range entries {
		child, err := bt.loadRef(e.cookie, e.pageType, ref)
		if err != nil {
			return nil, err
		}
		page.Children = append(page.Children, child)
	}
	ref.SetPage(page)
	return ref, nil
}
