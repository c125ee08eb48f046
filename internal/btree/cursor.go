package btree

import (
	"bytes"

	"github.com/stonebark/stonebark/internal/txn"
	"github.com/stonebark/stonebark/pkg/errors"
)

// Cursor is the per-transaction positioned iteration/mutation handle of
// spec.md §6: SetKey/SetValue stage an operation, Search/SearchNear/
// Next/Prev position it, Insert/Update/Remove/Reserve/Modify mutate at
// the staged key, and Reset/Close release it.
type Cursor struct {
	bt   *Btree
	tx   *txn.Txn
	snap *txn.Snapshot

	key   []byte
	value []byte
	recno uint64
	valid bool
}

// NewCursor returns a cursor reading tx's snapshot over bt.
func (bt *Btree) NewCursor(tx *txn.Txn) *Cursor {
	return &Cursor{bt: bt, tx: tx, snap: &tx.Snapshot}
}

// SetKey stages key for the next Search/Insert/Update/Remove/Reserve/Modify.
func (c *Cursor) SetKey(key []byte) { c.key = append([]byte(nil), key...) }

// SetRecno stages a column-store record number as the cursor's key.
func (c *Cursor) SetRecno(recno uint64) {
	c.recno = recno
	c.key = recnoKey(recno)
}

// SetValue stages value for the next Insert/Update.
func (c *Cursor) SetValue(value []byte) { c.value = append([]byte(nil), value...) }

// Key returns the cursor's current key.
func (c *Cursor) Key() []byte { return c.key }

// Value returns the value found at the cursor's current position.
func (c *Cursor) Value() []byte { return c.value }

// Recno returns the cursor's current key decoded as a column-store recno.
func (c *Cursor) Recno() uint64 { return decodeRecnoKey(c.key) }

// Search positions the cursor exactly at Key(), returning whether a
// visible value exists there.
func (c *Cursor) Search() (bool, error) {
	val, ok, err := c.bt.Get(c.key, c.snap, c.tx.ID)
	if err != nil {
		return false, err
	}
	c.valid = ok
	if ok {
		c.value = val
	}
	return ok, nil
}

// SearchNear positions the cursor at the closest existing key to Key(),
// returning -1 if it landed below, 0 if exact, 1 if above (spec.md §6).
func (c *Cursor) SearchNear() (int, error) {
	var floorKey []byte
	var floorSlot *Slot
	haveFloor := false

	var ceilKey []byte
	var ceilSlot *Slot
	haveCeil := false

	c.bt.Walk(func(key []byte, slot *Slot) bool {
		if _, ok := txn.VisibleValue(slot.Chain, c.snap, c.tx.ID); !ok {
			return true
		}
		switch bytes.Compare(key, c.key) {
		case 0:
			ceilKey, ceilSlot, haveCeil = key, slot, true
			return false
		case -1:
			floorKey, floorSlot, haveFloor = key, slot, true
			return true
		default:
			ceilKey, ceilSlot, haveCeil = key, slot, true
			return false
		}
	})

	switch {
	case haveCeil && bytes.Equal(ceilKey, c.key):
		c.setPosition(ceilKey, ceilSlot)
		return 0, nil
	case haveCeil:
		c.setPosition(ceilKey, ceilSlot)
		return 1, nil
	case haveFloor:
		c.setPosition(floorKey, floorSlot)
		return -1, nil
	default:
		c.valid = false
		return 0, errors.NewBtreeError(nil, errors.ErrorCodeNotFound, "tree has no visible entries").
			WithOperation("SearchNear")
	}
}

func (c *Cursor) setPosition(key []byte, slot *Slot) {
	c.key = append([]byte(nil), key...)
	val, _ := txn.VisibleValue(slot.Chain, c.snap, c.tx.ID)
	c.value = val
	c.valid = true
}

// Next advances the cursor to the smallest visible key greater than the
// current position (or the smallest visible key at all, if unpositioned).
func (c *Cursor) Next() (bool, error) {
	var nextKey []byte
	var nextSlot *Slot
	found := false

	c.bt.Walk(func(key []byte, slot *Slot) bool {
		if c.valid && bytes.Compare(key, c.key) <= 0 {
			return true
		}
		if _, ok := txn.VisibleValue(slot.Chain, c.snap, c.tx.ID); !ok {
			return true
		}
		nextKey, nextSlot, found = key, slot, true
		return false
	})

	if !found {
		c.valid = false
		return false, nil
	}
	c.setPosition(nextKey, nextSlot)
	return true, nil
}

// Prev moves the cursor to the largest visible key less than the current
// position (or the largest visible key at all, if unpositioned).
func (c *Cursor) Prev() (bool, error) {
	var prevKey []byte
	var prevSlot *Slot
	found := false

	c.bt.Walk(func(key []byte, slot *Slot) bool {
		if c.valid && bytes.Compare(key, c.key) >= 0 {
			return true
		}
		if _, ok := txn.VisibleValue(slot.Chain, c.snap, c.tx.ID); !ok {
			return true
		}
		prevKey, prevSlot, found = key, slot, true
		return true
	})

	if !found {
		c.valid = false
		return false, nil
	}
	c.setPosition(prevKey, prevSlot)
	return true, nil
}

// Reset releases the cursor's current position without closing it.
func (c *Cursor) Reset() {
	c.key = nil
	c.value = nil
	c.valid = false
}

// Insert places or overwrites Value() at Key().
func (c *Cursor) Insert() error { return c.bt.Insert(c.tx, c.key, c.value) }

// Update pushes Value() onto Key()'s chain.
func (c *Cursor) Update() error { return c.bt.Update(c.tx, c.key, c.value) }

// Remove deletes Key().
func (c *Cursor) Remove() error { return c.bt.Remove(c.tx, c.key) }

// Reserve claims write-write conflict detection on Key() without a value.
func (c *Cursor) Reserve() error { return c.bt.Reserve(c.tx, c.key) }

// Modify applies a fragment vector atop Key()'s chain.
func (c *Cursor) Modify(mods []txn.ModOp) error { return c.bt.Modify(c.tx, c.key, mods) }

// Close releases the cursor. Cursors hold no resources beyond their
// staged key/value in this implementation, so Close only resets state.
func (c *Cursor) Close() error {
	c.Reset()
	return nil
}
