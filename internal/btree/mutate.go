package btree

import (
	"github.com/stonebark/stonebark/internal/txn"
	"github.com/stonebark/stonebark/pkg/errors"
)

// resolveSlotForWrite resolves (and creates, if absent) the slot a write
// targets, serialized by the btree's structural lock — a coarser
// simplification of spec.md §4.4's per-insert-head publish-order lock,
// adequate for a single process-wide writer path.
func (bt *Btree) resolveSlotForWrite(key []byte) (*Ref, *Slot) {
	ref := bt.descendToLeaf(key)
	page := ref.GetPage()

	res := searchLeaf(ref, page, key)
	if res.Slot != nil {
		return ref, res.Slot
	}

	slot := &Slot{Key: append([]byte(nil), key...)}
	insertListFor(page, res.Index).insert(slot.Key, slot)
	return ref, slot
}

func (bt *Btree) push(tx *txn.Txn, btreeID uint32, key []byte, slot *Slot, u *txn.Update) error {
	if err := tx.CheckConflict(slot.Chain); err != nil {
		return err
	}
	u.TxnID = tx.ID
	u.Next = slot.Chain
	slot.Chain = u
	tx.LogOp(txn.Op{BtreeID: btreeID, HasKey: true, Key: key, Update: u})
	return nil
}

func markDirty(ref *Ref) {
	page := ref.GetPage()
	if page != nil {
		page.Dirty.Store(true)
	}
}

// Insert places or overwrites value at key (spec.md §4.4 "Insert").
func (bt *Btree) Insert(tx *txn.Txn, key, value []byte) error {
	if len(key) == 0 {
		return errors.NewEmptyKeyError("Insert")
	}
	bt.mu.Lock()
	defer bt.mu.Unlock()

	ref, slot := bt.resolveSlotForWrite(key)
	if err := bt.push(tx, bt.cfg.BtreeID, key, slot, &txn.Update{Type: txn.UpdateStandard, Value: append([]byte(nil), value...)}); err != nil {
		return err
	}
	markDirty(ref)
	return nil
}

// Update pushes a new value onto key's chain (spec.md §4.4 "Update").
// Like Insert, it resolves or creates the on-page slot, so updating a key
// that has never existed stores the value just as Insert would.
func (bt *Btree) Update(tx *txn.Txn, key, value []byte) error {
	if len(key) == 0 {
		return errors.NewEmptyKeyError("Update")
	}
	bt.mu.Lock()
	defer bt.mu.Unlock()

	ref, slot := bt.resolveSlotForWrite(key)
	if err := bt.push(tx, bt.cfg.BtreeID, key, slot, &txn.Update{Type: txn.UpdateStandard, Value: append([]byte(nil), value...)}); err != nil {
		return err
	}
	markDirty(ref)
	return nil
}

// Remove pushes a TOMBSTONE onto key's chain (spec.md §4.4 "Delete").
func (bt *Btree) Remove(tx *txn.Txn, key []byte) error {
	if len(key) == 0 {
		return errors.NewEmptyKeyError("Remove")
	}
	bt.mu.Lock()
	defer bt.mu.Unlock()

	ref, slot := bt.resolveSlotForWrite(key)
	if err := bt.push(tx, bt.cfg.BtreeID, key, slot, &txn.Update{Type: txn.UpdateTombstone}); err != nil {
		return err
	}
	markDirty(ref)
	return nil
}

// Reserve pushes a placeholder update to claim write-write conflict
// detection on key without writing a value (spec.md §4.4 "Reserve").
func (bt *Btree) Reserve(tx *txn.Txn, key []byte) error {
	if len(key) == 0 {
		return errors.NewEmptyKeyError("Reserve")
	}
	bt.mu.Lock()
	defer bt.mu.Unlock()

	ref, slot := bt.resolveSlotForWrite(key)
	if err := bt.push(tx, bt.cfg.BtreeID, key, slot, &txn.Update{Type: txn.UpdateReserved}); err != nil {
		return err
	}
	markDirty(ref)
	return nil
}

// Modify stores a fragment vector atop key's chain (spec.md §4.4 "Modify"),
// applied on read per spec.md §4.5's MODIFY algorithm.
func (bt *Btree) Modify(tx *txn.Txn, key []byte, mods []txn.ModOp) error {
	if len(key) == 0 {
		return errors.NewEmptyKeyError("Modify")
	}
	bt.mu.Lock()
	defer bt.mu.Unlock()

	ref, slot := bt.resolveSlotForWrite(key)
	if err := tx.CheckConflict(slot.Chain); err != nil {
		return err
	}
	u := txn.AppendModify(slot.Chain, mods, false)
	u.TxnID = tx.ID
	slot.Chain = u
	tx.LogOp(txn.Op{BtreeID: bt.cfg.BtreeID, HasKey: true, Key: key, Update: u})
	markDirty(ref)
	return nil
}

// Get resolves the value visible to snap at key, applying the chain-walk
// and MODIFY-application rules of spec.md §4.5. readerID is the id of the
// transaction doing the read (txn.NoTxnID for a pure read-only snapshot
// with no live transaction of its own), so the reader sees its own
// not-yet-committed writes.
func (bt *Btree) Get(key []byte, snap *txn.Snapshot, readerID uint64) ([]byte, bool, error) {
	res, err := bt.Search(key)
	if err != nil {
		return nil, false, err
	}
	if res.Slot == nil {
		return nil, false, nil
	}
	val, ok := txn.VisibleValue(res.Slot.Chain, snap, readerID)
	return val, ok, nil
}
