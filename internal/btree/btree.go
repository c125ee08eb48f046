package btree

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/stonebark/stonebark/internal/block"
	"github.com/stonebark/stonebark/internal/cache"
	"github.com/stonebark/stonebark/pkg/errors"
)

// Config configures a Btree's wiring to its backing block manager and
// shared page cache.
type Config struct {
	Name        string
	BtreeID     uint32
	Manager     *block.Manager
	Cache       *cache.Cache
	LeafMaxSlots int // entry-count split threshold, standing in for the
	                  // byte-size leaf_page_max check against a fully
	                  // reconciled image (see reconcile.go)
	ColumnStore bool
	Logger      *zap.SugaredLogger
}

const defaultLeafMaxSlots = 128

// Btree is one table's in-memory tree: a root ref, the block manager it
// reconciles dirty pages through, and the single structural lock spec.md
// §5 calls for ("one per-table lock during structural changes") guarding
// splits, merges, and fast truncate.
type Btree struct {
	cfg *Config
	mu  sync.RWMutex // structural lock: held across splits/merges/truncate

	// flushMu serializes the two operations that rewrite a table's whole
	// tree shape to disk: checkpoint and (eventually) compaction. Neither
	// acquires it around ordinary inserts/searches, only around its own
	// full-tree pass, per spec.md §4.7's "shared flush lock per btree
	// between checkpoint and compaction".
	flushMu sync.Mutex

	root      atomic.Pointer[Ref]
	nextRecno atomic.Uint64
}

// FlushLock acquires the tree's flush lock, held for the duration of a
// checkpoint or compaction pass.
func (bt *Btree) FlushLock() { bt.flushMu.Lock() }

// FlushUnlock releases the tree's flush lock.
func (bt *Btree) FlushUnlock() { bt.flushMu.Unlock() }

// Open creates a fresh, empty Btree (a single empty leaf as root).
func Open(cfg *Config) (*Btree, error) {
	if cfg == nil || cfg.Manager == nil || cfg.Cache == nil {
		return nil, errors.NewRequiredFieldError("Manager/Cache")
	}
	if cfg.LeafMaxSlots <= 0 {
		cfg.LeafMaxSlots = defaultLeafMaxSlots
	}

	leafType := PageRowLeaf
	if cfg.ColumnStore {
		leafType = PageColVar
	}

	root := NewRef(cache.RefMem)
	root.SetPage(&Page{Type: leafType})

	bt := &Btree{cfg: cfg}
	bt.root.Store(root)
	bt.nextRecno.Store(1)
	return bt, nil
}

// Root returns the current root ref.
func (bt *Btree) Root() *Ref { return bt.root.Load() }

// NextRecno allocates the next column-store record number.
func (bt *Btree) NextRecno() uint64 { return bt.nextRecno.Add(1) - 1 }

// recnoKey encodes a column-store record number as the big-endian byte
// key the shared search/reconciliation path operates on.
func recnoKey(recno uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, recno)
	return buf
}

func decodeRecnoKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key)
}
