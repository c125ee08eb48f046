// Package txn implements the update/transaction layer of spec.md §4.5:
// transaction ids, snapshots, update chains, MVCC visibility, and the
// MODIFY fragment application algorithm.
package txn

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/stonebark/stonebark/pkg/errors"
)

// Reserved transaction ids (spec.md §4.5 "zero and 'aborted' are reserved").
const (
	NoTxnID      uint64 = 0
	AbortedTxnID uint64 = ^uint64(0)
)

// IgnorePrepare controls whether a reader tolerates a prepared-but-
// uncommitted update in its visibility chain (spec.md §3).
type IgnorePrepare int

const (
	IgnorePrepareOff IgnorePrepare = iota
	IgnorePrepareOn
	IgnorePrepareForce // also makes the transaction read-only
)

// Snapshot is the set of transaction ids a reader considers committed,
// fixed at transaction start (spec.md §3, §4.5).
type Snapshot struct {
	Min        uint64
	Max        uint64
	Concurrent map[uint64]struct{}
	ReadTS     uint64
	HasReadTS  bool
}

// Visible reports whether id (with commitTS if timestamps are in use) is
// visible to the snapshot, per spec.md §4.5's visibility rule:
// id >= snapshot_max -> invisible; id < snapshot_min -> visible; else
// visible iff not in the concurrent set. With timestamps layered on top,
// visibility additionally requires commit_ts <= read_ts.
func (s *Snapshot) Visible(id, commitTS uint64) bool {
	if id >= s.Max {
		return false
	}
	idVisible := id < s.Min
	if !idVisible {
		_, concurrent := s.Concurrent[id]
		idVisible = !concurrent
	}
	if !idVisible {
		return false
	}
	if s.HasReadTS {
		return commitTS <= s.ReadTS
	}
	return true
}

// Manager allocates transaction ids and tracks which are currently active,
// the minimum state needed to construct a Snapshot at Begin.
type Manager struct {
	mu       sync.Mutex
	nextID   atomic.Uint64
	active   map[uint64]struct{}
	snapMin  uint64 // smallest id known to still be active, cached
	globalTS atomic.Uint64
}

// NextTimestamp hands out a monotonically increasing commit timestamp,
// for callers that don't maintain their own (spec.md §6's timestamp
// flags only govern how a supplied timestamp is interpreted, not where it
// comes from).
func (m *Manager) NextTimestamp() uint64 {
	return m.globalTS.Add(1)
}

// NewManager returns a Manager whose first allocated id is 1.
func NewManager() *Manager {
	m := &Manager{active: make(map[uint64]struct{})}
	m.nextID.Store(1)
	return m
}

// Begin allocates a new transaction id and captures its read snapshot.
func (m *Manager) Begin() *Txn {
	id := m.nextID.Add(1) - 1
	if id == NoTxnID {
		id = m.nextID.Add(1) - 1
	}

	m.mu.Lock()
	m.active[id] = struct{}{}
	snapMax := m.nextID.Load()
	concurrent := make(map[uint64]struct{}, len(m.active))
	snapMin := snapMax
	for activeID := range m.active {
		concurrent[activeID] = struct{}{}
		if activeID < snapMin {
			snapMin = activeID
		}
	}
	m.mu.Unlock()

	return &Txn{
		ID: id,
		Snapshot: Snapshot{
			Min:        snapMin,
			Max:        snapMax,
			Concurrent: concurrent,
		},
		mgr: m,
	}
}

// BeginRecovery returns a Txn bound to id, the transaction id recorded in
// the write-ahead log, rather than one freshly allocated by Begin. Used
// only by recovery replay, so that a replayed write's Update.TxnID matches
// what it originally committed as instead of a synthetic one. Its
// snapshot excludes no one: recovery reapplies already-committed
// operations strictly in log order, so every earlier-replayed write must
// already be visible once this transaction's own ops land.
func (m *Manager) BeginRecovery(id uint64) *Txn {
	m.mu.Lock()
	m.active[id] = struct{}{}
	if next := m.nextID.Load(); id >= next {
		m.nextID.Store(id + 1)
	}
	m.mu.Unlock()

	return &Txn{
		ID:       id,
		Snapshot: Snapshot{Min: id, Max: id + 1, Concurrent: map[uint64]struct{}{}},
		mgr:      m,
	}
}

func (m *Manager) forget(id uint64) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

// Op is one write recorded against a key inside a transaction's op list,
// used by Commit's sort-by-(btree,key) step (spec.md §4.5 "Commit").
type Op struct {
	BtreeID   uint32
	HasKey    bool
	Key       []byte
	Recno     uint64
	Update    *Update
}

// Txn is one in-flight transaction (spec.md §3).
type Txn struct {
	ID              uint64
	Snapshot        Snapshot
	CommitTS        uint64
	DurableTS       uint64
	PrepareTS       uint64
	IgnorePrepareFl IgnorePrepare
	RoundUpPrepared bool
	RoundUpRead     bool
	NoTimestamp     bool

	ops       []Op
	committed bool
	mgr       *Manager
}

// LogOp appends a write to the transaction's per-operation log.
func (t *Txn) LogOp(op Op) {
	t.ops = append(t.ops, op)
}

// Commit sorts the op list by (btree id, whether the op has a sortable
// key, key/recno) so operations on the same key are contiguous, per
// spec.md §4.5, marks every update the transaction pushed as committed so
// later readers' VisibleValue walks stop treating them as in-flight, and
// marks the transaction committed.
func (t *Txn) Commit(commitTS uint64) []Op {
	sort.SliceStable(t.ops, func(i, j int) bool {
		a, b := t.ops[i], t.ops[j]
		if a.BtreeID != b.BtreeID {
			return a.BtreeID < b.BtreeID
		}
		if a.HasKey != b.HasKey {
			return !a.HasKey && b.HasKey
		}
		if a.HasKey {
			return compareBytes(a.Key, b.Key) < 0
		}
		return a.Recno < b.Recno
	})

	for _, op := range t.ops {
		op.Update.Committed = true
		op.Update.CommitTS = commitTS
	}

	t.CommitTS = commitTS
	t.committed = true
	t.mgr.forget(t.ID)
	return t.ops
}

// Rollback discards the transaction without applying its ops.
func (t *Txn) Rollback() {
	t.mgr.forget(t.ID)
}

// CheckConflict rejects a write if head is a concurrent, uncommitted
// transaction's update (spec.md §4.4 "conflict detection rejects if the
// head of chain is a concurrent uncommitted txn").
func (t *Txn) CheckConflict(head *Update) error {
	if head == nil || head.Committed {
		return nil
	}
	if head.TxnID == t.ID {
		return nil
	}
	t.mgr.mu.Lock()
	_, active := t.mgr.active[head.TxnID]
	t.mgr.mu.Unlock()
	if !active {
		// The head belongs to a transaction that has already rolled back.
		return nil
	}
	return errors.NewWriteConflictError(t.ID, head.TxnID)
}

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return int(a[i]) - int(b[i])
		}
	}
	return len(a) - len(b)
}
