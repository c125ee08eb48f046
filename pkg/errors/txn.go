package errors

// TxnError is a specialized error type for transaction and MVCC visibility
// failures: write-write conflicts, prepare-conflicts, and post-resolution
// misuse of a transaction handle.
type TxnError struct {
	*baseError
	txnID    uint64 // The transaction id involved in the failure.
	conflict uint64 // The id of the conflicting transaction, when known.
}

// NewTxnError creates a new transaction-specific error with the provided context.
func NewTxnError(err error, code ErrorCode, msg string) *TxnError {
	return &TxnError{baseError: NewBaseError(err, code, msg)}
}

// WithDetail adds contextual information while maintaining the TxnError type.
func (te *TxnError) WithDetail(key string, value any) *TxnError {
	te.baseError.WithDetail(key, value)
	return te
}

// WithTxnID records the transaction id that failed the operation.
func (te *TxnError) WithTxnID(id uint64) *TxnError {
	te.txnID = id
	return te
}

// WithConflictID records the id of the transaction this one conflicted with.
func (te *TxnError) WithConflictID(id uint64) *TxnError {
	te.conflict = id
	return te
}

// TxnID returns the transaction id associated with the error.
func (te *TxnError) TxnID() uint64 { return te.txnID }

// ConflictID returns the conflicting transaction id, or zero if none.
func (te *TxnError) ConflictID() uint64 { return te.conflict }

// NewWriteConflictError reports that txnID lost a write-write race to conflictID.
func NewWriteConflictError(txnID, conflictID uint64) *TxnError {
	return NewTxnError(nil, ErrorCodeWriteConflict, "write-write conflict under snapshot isolation").
		WithTxnID(txnID).
		WithConflictID(conflictID)
}

// NewPrepareConflictError reports that a read landed on a prepared, uncommitted update.
func NewPrepareConflictError(txnID, preparerID uint64) *TxnError {
	return NewTxnError(nil, ErrorCodePrepareConflict, "read hit a prepared but uncommitted update").
		WithTxnID(txnID).
		WithConflictID(preparerID)
}

// NewTxnRolledBackError reports use of a transaction handle after resolution.
func NewTxnRolledBackError(txnID uint64) *TxnError {
	return NewTxnError(nil, ErrorCodeTxnRolledBack, "transaction has already committed or rolled back").
		WithTxnID(txnID)
}
