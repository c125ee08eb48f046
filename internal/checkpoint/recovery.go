package checkpoint

import (
	"go.uber.org/zap"

	"github.com/stonebark/stonebark/internal/btree"
	"github.com/stonebark/stonebark/internal/txn"
	"github.com/stonebark/stonebark/internal/wal"
)

// Recover replays a table's write-ahead log forward from the earliest
// point any of tables still needs it, applying only operations belonging
// to committed transactions (spec.md §4.7 "determine replay start LSN
// from the checkpoint-start record ... scan forward applying only
// committed transactions' ops"). Each table is skipped individually for
// any record already reflected in its own checkpoint, so one table
// checkpointed far more recently than another does not get its already-
// durable writes replayed a second time.
//
// Scan itself stops at the first unreadable or zero-length record, which
// doubles as "truncate the log past the last good record": whatever
// trailing bytes a crash left mid-append are simply never seen. Re-running
// Recover against an already-recovered log is idempotent: every record up
// to that point was already folded into either a checkpoint or the trees
// rebuilt from one, and BeginRecovery/Commit only ever mark Update objects
// that a fresh replay itself just pushed.
func Recover(walMgr *wal.Manager, txMgr *txn.Manager, tables map[uint32]*TableHandle, thresholds map[uint32]wal.LSN, logger *zap.SugaredLogger) error {
	start := earliestThreshold(thresholds)

	pending := make(map[uint64]*txn.Txn)
	truncated := make(map[uint64][]*btree.Ref)

	err := walMgr.Scan(start, wal.ScanFlags{}, func(rec wal.Record, lsn wal.LSN, nextLSN wal.LSN) error {
		rec.LSN = lsn

		switch rec.Type {
		case wal.RecordRowPut, wal.RecordColPut, wal.RecordRowRemove, wal.RecordColModify, wal.RecordColTruncate:
			return applyOp(tables, thresholds, pending, truncated, txMgr, rec)
		case wal.RecordTxnCommit:
			if tx, ok := pending[rec.TxnID]; ok {
				tx.Commit(rec.CommitTS)
				delete(pending, rec.TxnID)
				delete(truncated, rec.TxnID)
			}
			return nil
		default:
			// RecordTxnTimestamp, RecordCheckpointStart, RecordPrevLSN, and
			// RecordBackupID carry no table mutation to replay.
			return nil
		}
	})
	if err != nil {
		return err
	}

	for id, tx := range pending {
		logger.Infow("discarding uncommitted transaction left behind by crash", "txnID", id)
		btree.RollbackTruncate(truncated[id])
		tx.Rollback()
	}
	return nil
}

func applyOp(tables map[uint32]*TableHandle, thresholds map[uint32]wal.LSN, pending map[uint64]*txn.Txn, truncated map[uint64][]*btree.Ref, txMgr *txn.Manager, rec wal.Record) error {
	tbl, ok := tables[rec.BtreeID]
	if !ok {
		return nil
	}
	if threshold, ok := thresholds[rec.BtreeID]; ok && !threshold.Zero() && rec.LSN.Less(threshold) {
		return nil
	}

	tx, ok := pending[rec.TxnID]
	if !ok {
		tx = txMgr.BeginRecovery(rec.TxnID)
		pending[rec.TxnID] = tx
	}

	switch rec.Type {
	case wal.RecordRowPut, wal.RecordColPut:
		return tbl.Tree.Insert(tx, rec.Key, rec.Value)
	case wal.RecordRowRemove:
		return tbl.Tree.Remove(tx, rec.Key)
	case wal.RecordColModify:
		mods, err := txn.DecodeModOps(rec.Extra)
		if err != nil {
			return err
		}
		return tbl.Tree.Modify(tx, rec.Key, mods)
	case wal.RecordColTruncate:
		refs, err := tbl.Tree.FastTruncate(tx, rec.Key, rec.Extra)
		if err != nil {
			return err
		}
		truncated[rec.TxnID] = append(truncated[rec.TxnID], refs...)
		return nil
	}
	return nil
}

// earliestThreshold returns the oldest per-table checkpoint LSN, or the
// zero LSN (replay the whole log) if any table has none at all.
func earliestThreshold(thresholds map[uint32]wal.LSN) wal.LSN {
	var min wal.LSN
	first := true
	for _, lsn := range thresholds {
		if lsn.Zero() {
			return wal.LSN{}
		}
		if first || lsn.Less(min) {
			min = lsn
			first = false
		}
	}
	return min
}
