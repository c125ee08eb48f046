package wal

// Record constructors for each typed operation record spec.md §4.6 lists.
// Callers (internal/engine's commit and truncate paths, internal/checkpoint) build one of
// these per logged operation; Manager.Append handles framing, checksum,
// chaining, and durability.

// NewRowPutRecord builds a row-store insert/update record.
func NewRowPutRecord(txnID uint64, btreeID uint32, key, value []byte) Record {
	return Record{Type: RecordRowPut, TxnID: txnID, BtreeID: btreeID, Key: key, Value: value}
}

// NewRowRemoveRecord builds a row-store tombstone record.
func NewRowRemoveRecord(txnID uint64, btreeID uint32, key []byte) Record {
	return Record{Type: RecordRowRemove, TxnID: txnID, BtreeID: btreeID, Key: key}
}

// NewColPutRecord builds a column-store insert/update record; key is the
// big-endian-encoded record number.
func NewColPutRecord(txnID uint64, btreeID uint32, recnoKey, value []byte) Record {
	return Record{Type: RecordColPut, TxnID: txnID, BtreeID: btreeID, Key: recnoKey, Value: value}
}

// NewColModifyRecord builds a MODIFY fragment record; encodedMods is the
// wire encoding of the []txn.ModOp fragment vector.
func NewColModifyRecord(txnID uint64, btreeID uint32, key, encodedMods []byte) Record {
	return Record{Type: RecordColModify, TxnID: txnID, BtreeID: btreeID, Key: key, Extra: encodedMods}
}

// NewColTruncateRecord builds a fast-truncate range record.
func NewColTruncateRecord(txnID uint64, btreeID uint32, start, end []byte) Record {
	return Record{Type: RecordColTruncate, TxnID: txnID, BtreeID: btreeID, Key: start, Extra: end}
}

// NewTxnTimestampRecord records a transaction's commit timestamp
// independent of its commit marker, mirroring spec.md's separate
// "txn-timestamp" record type.
func NewTxnTimestampRecord(txnID uint64, commitTS uint64) Record {
	return Record{Type: RecordTxnTimestamp, TxnID: txnID, CommitTS: commitTS}
}

// NewTxnCommitRecord marks txnID's prior operation records as committed;
// recovery skips any operation record not followed by one of these.
func NewTxnCommitRecord(txnID uint64, commitTS uint64) Record {
	return Record{Type: RecordTxnCommit, TxnID: txnID, CommitTS: commitTS}
}

// NewCheckpointStartRecord marks the beginning of a checkpoint, carrying
// its descriptor bytes as recovery's replay-start marker.
func NewCheckpointStartRecord(descriptor []byte) Record {
	return Record{Type: RecordCheckpointStart, Extra: descriptor}
}

// NewBackupIDRecord marks a point in the log stream an external backup
// collaborator can enumerate via Scan with ScanFlags.BackupIDOnly.
func NewBackupIDRecord(id string) Record {
	return Record{Type: RecordBackupID, Extra: []byte(id)}
}
