// Package checkpoint implements spec.md §4.7's checkpoint and recovery
// coordinator: the glue between internal/meta's table registry,
// internal/btree's per-table tree reconciliation, internal/block's
// descriptor-embedded salvage cookie, and internal/wal's log, none of
// which has a teacher equivalent (the teacher's Bitcask-style storage has
// no checkpoint or recovery concept at all). Grounded on
// original_source/src/txn/txn_ckpt.c for the coordination sequence and
// src/txn/txn_recover.c for the replay algorithm.
package checkpoint

import (
	"encoding/binary"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/stonebark/stonebark/internal/block"
	"github.com/stonebark/stonebark/internal/btree"
	"github.com/stonebark/stonebark/internal/cache"
	"github.com/stonebark/stonebark/internal/fileops"
	"github.com/stonebark/stonebark/internal/meta"
	"github.com/stonebark/stonebark/internal/txn"
	"github.com/stonebark/stonebark/internal/wal"
)

// TableHandle bundles one table's open tree with the block manager backing
// it, as produced by OpenTable and consumed by Run and Recover.
type TableHandle struct {
	URI         string
	BtreeID     uint32
	ColumnStore bool
	Tree        *btree.Btree
	Manager     *block.Manager
}

// OpenTable opens (or creates) tm's backing file, builds its Btree, and
// installs the tree rooted at its newest checkpoint. It tries
// internal/meta's own record first and falls back to the block manager's
// descriptor-embedded root when that record holds no checkpoint entry
// (spec.md §4.7's salvage path) — a freshly created table, or one whose
// metadata and descriptor both lack a root, simply opens empty.
func OpenTable(fs fileops.FileSystem, dataDir string, tm *meta.TableMeta, c *cache.Cache, leafMaxSlots int, allocationSize uint32, metaMgr *meta.Manager, walMgr *wal.Manager, logger *zap.SugaredLogger) (*TableHandle, wal.LSN, error) {
	mgr, err := block.Open(&block.Config{
		FS:             fs,
		Path:           path.Join(dataDir, tm.FileName),
		AllocationSize: allocationSize,
		Logger:         logger,
	})
	if err != nil {
		return nil, wal.LSN{}, err
	}

	tree, err := btree.Open(&btree.Config{
		Name:         tm.URI,
		BtreeID:      tm.BtreeID,
		Manager:      mgr,
		Cache:        c,
		LeafMaxSlots: leafMaxSlots,
		ColumnStore:  tm.ColumnStore,
		Logger:       logger,
	})
	if err != nil {
		return nil, wal.LSN{}, err
	}

	var checkpointLSN wal.LSN
	if entry, ok := metaMgr.LatestCheckpoint(tm.URI); ok {
		if err := tree.LoadRoot(entry.RootCookie, btree.PageType(entry.RootPageType)); err != nil {
			return nil, wal.LSN{}, err
		}
		checkpointLSN = entry.LSN
	} else if cookie, pageType, ok := mgr.CheckpointRoot(); ok {
		logger.Warnw("metadata missing checkpoint entry, falling back to descriptor-embedded root", "uri", tm.URI)
		if err := tree.LoadRoot(cookie, btree.PageType(pageType)); err != nil {
			return nil, wal.LSN{}, err
		}
		if lsn, found, err := LastCheckpointLSN(walMgr); err == nil && found {
			checkpointLSN = lsn
		}
	}

	return &TableHandle{URI: tm.URI, BtreeID: tm.BtreeID, ColumnStore: tm.ColumnStore, Tree: tree, Manager: mgr}, checkpointLSN, nil
}

// Run performs one checkpoint cycle over tables: it reconciles and persists
// every table's dirty pages under snap, embeds each table's new root cookie
// in its file descriptor, writes a checkpoint-start log record carrying the
// log position recovery should resume from, and finally records the new
// checkpoint in internal/meta. Per spec.md §4.7's "partial failure discards
// new cookies": any error before the log record and metadata update leaves
// both untouched, so a crash mid-checkpoint simply falls back to the
// previous one on the next open — the half-written blocks become harmless
// orphaned space.
func Run(metaMgr *meta.Manager, walMgr *wal.Manager, snap *txn.Snapshot, tables []*TableHandle, name string, at time.Time) error {
	startLSN := walMgr.LastLSN()

	type result struct {
		uri      string
		cookie   block.Cookie
		pageType btree.PageType
	}
	var results []result

	for _, tbl := range tables {
		cookie, pageType, ok, err := tbl.Tree.Checkpoint(snap)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := tbl.Manager.WriteCheckpointDescriptor(cookie, uint8(pageType)); err != nil {
			return err
		}
		results = append(results, result{uri: tbl.URI, cookie: cookie, pageType: pageType})
	}

	if len(results) == 0 {
		return nil
	}

	if _, err := walMgr.Append(wal.NewCheckpointStartRecord(encodeLSN(startLSN)), true); err != nil {
		return err
	}

	for _, r := range results {
		entry := meta.CheckpointEntry{
			Name:         name,
			LSN:          startLSN,
			RootCookie:   r.cookie,
			RootPageType: uint8(r.pageType),
			Timestamp:    at,
		}
		if err := metaMgr.RecordCheckpoint(r.uri, entry); err != nil {
			return err
		}
	}
	return nil
}

// encodeLSN/decodeLSN pack a wal.LSN into the checkpoint-start record's
// Extra field, so recovery can read back the exact log position recorded
// at checkpoint time without depending on internal/meta at all.
func encodeLSN(l wal.LSN) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], l.FileID)
	binary.LittleEndian.PutUint64(buf[4:12], l.Offset)
	return buf
}

func decodeLSN(buf []byte) (wal.LSN, bool) {
	if len(buf) < 12 {
		return wal.LSN{}, false
	}
	return wal.LSN{
		FileID: binary.LittleEndian.Uint32(buf[0:4]),
		Offset: binary.LittleEndian.Uint64(buf[4:12]),
	}, true
}

// LastCheckpointLSN scans the whole log for the most recent
// checkpoint-start record and decodes its embedded replay-start LSN, the
// fallback OpenTable uses when a table's internal/meta record holds no
// checkpoint entry and it bootstraps from its descriptor-embedded root
// cookie instead.
func LastCheckpointLSN(walMgr *wal.Manager) (wal.LSN, bool, error) {
	var last wal.LSN
	found := false
	err := walMgr.Scan(wal.LSN{}, wal.ScanFlags{}, func(rec wal.Record, lsn wal.LSN, nextLSN wal.LSN) error {
		if rec.Type != wal.RecordCheckpointStart {
			return nil
		}
		if decoded, ok := decodeLSN(rec.Extra); ok {
			last = decoded
			found = true
		}
		return nil
	})
	if err != nil {
		return wal.LSN{}, false, err
	}
	return last, found, nil
}
