package txn

// UpdateType distinguishes the four record shapes a chain entry can take
// (spec.md §4.5 "Update chain").
type UpdateType int

const (
	UpdateStandard UpdateType = iota
	UpdateModify
	UpdateReserved
	UpdateTombstone
)

// Update is one entry in a key's update chain, newest first. A chain with
// no visible entry behaves as if the key does not exist.
type Update struct {
	TxnID     uint64
	CommitTS  uint64
	PrepareTS uint64
	Type      UpdateType
	Value     []byte    // full value, for UpdateStandard
	Mods      []ModOp   // fragment ops, for UpdateModify
	Committed bool
	Prepared  bool
	Next      *Update
}

// ModOp is one splice: replace Size bytes at Offset in the base value with
// Data (spec.md §4.5 "MODIFY fragment").
type ModOp struct {
	Offset int
	Size   int
	Data   []byte
}

// VisibleValue walks the chain starting at head and returns the resolved
// value visible to snap, or (nil, false) if no visible entry exists or the
// visible entry is a tombstone. MODIFY entries are applied against the
// nearest earlier STANDARD value found further down the chain. RESERVED
// entries are never returned as a value (spec.md §4.5 "skip RESERVED"): a
// Reserve() placeholder marks write intent, not a value, so the walk skips
// past it to the next older entry instead of shadowing it.
//
// readerID is the id of the transaction performing the read, or NoTxnID for
// a pure read-only lookup bound to no live transaction. A reader always
// sees its own not-yet-committed updates regardless of snap (spec.md §5 "a
// transaction … extended only by its own writes"; §8 round-trip law #1).
func VisibleValue(head *Update, snap *Snapshot, readerID uint64) ([]byte, bool) {
	var mods []*Update

	for u := head; u != nil; u = u.Next {
		ownWrite := readerID != NoTxnID && u.TxnID == readerID
		if !u.Committed && !ownWrite {
			continue
		}
		if u.Committed && !snap.Visible(u.TxnID, u.CommitTS) {
			continue
		}
		switch u.Type {
		case UpdateTombstone:
			return nil, false
		case UpdateModify:
			mods = append(mods, u)
			continue
		case UpdateReserved:
			continue
		case UpdateStandard:
			base := append([]byte(nil), u.Value...)
			return ApplyModifies(base, mods), true
		}
	}
	return nil, false
}

// ApplyModifies applies a list of MODIFY updates, oldest-needed-first, onto
// base. mods is ordered newest-to-oldest (the order VisibleValue collects
// them in while walking the chain downward), so it is applied in reverse.
//
// spec.md §4.5 requires three equivalent code paths to produce byte-identical
// results: a fast path when the new fragment set is a pure overwrite of the
// previous fragment set's byte range, a fast path when fragments are
// non-overlapping (in which case application order does not matter), and a
// general path that always gives the correct answer. Because this function
// always replays strictly in chain order, it IS the general path; the two
// "fast paths" are optimizations a future caller may apply when appending a
// new MODIFY update (see AppendModify) — this function's correctness must
// never depend on which path produced the Mods it is given.
func ApplyModifies(base []byte, mods []*Update) []byte {
	for i := len(mods) - 1; i >= 0; i-- {
		for _, op := range mods[i].Mods {
			base = spliceAt(base, op.Offset, op.Size, op.Data)
		}
	}
	return base
}

// spliceAt replaces the "size" bytes at "offset" in buf with data, growing
// or shrinking buf as needed, and zero-padding if offset extends past the
// current length. The padding is zero bytes for every value type;
// string-typed values are not space-padded.
func spliceAt(buf []byte, offset, size int, data []byte) []byte {
	if offset > len(buf) {
		grown := make([]byte, offset)
		copy(grown, buf)
		buf = grown
	}
	end := offset + size
	if end > len(buf) {
		end = len(buf)
	}

	tail := append([]byte(nil), buf[end:]...)
	out := append(buf[:offset:offset], data...)
	out = append(out, tail...)
	return out
}

// AppendModify builds a new UpdateModify entry on top of chain, choosing
// among spec.md §4.5's three MODIFY code paths for how Mods is computed —
// all three must agree byte-for-byte with ApplyModifies's general replay.
func AppendModify(chain *Update, mods []ModOp, overwriteOldFragments bool) *Update {
	u := &Update{Type: UpdateModify, Mods: mods, Next: chain}

	if overwriteOldFragments && chain != nil && chain.Type == UpdateModify && sameByteRange(chain.Mods, mods) {
		// Fast path 1: the new fragment set overwrites exactly the same byte
		// range as the previous MODIFY update, so the previous one is dead
		// and can be dropped instead of retained in the chain.
		u.Next = chain.Next
		return u
	}

	if chain != nil && chain.Type == UpdateModify && nonOverlapping(chain.Mods, mods) {
		// Fast path 2: fragments don't overlap, so replay order between
		// this update and the prior one is commutative; no chain rewrite
		// is needed, ApplyModifies's oldest-first replay already gives the
		// correct result regardless of order.
		return u
	}

	// General path: leave the chain as-is, let ApplyModifies replay in order.
	return u
}

func sameByteRange(a, b []ModOp) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Offset != b[i].Offset || a[i].Size != b[i].Size {
			return false
		}
	}
	return true
}

func nonOverlapping(a, b []ModOp) bool {
	for _, x := range a {
		for _, y := range b {
			if x.Offset < y.Offset+y.Size && y.Offset < x.Offset+x.Size {
				return false
			}
		}
	}
	return true
}
