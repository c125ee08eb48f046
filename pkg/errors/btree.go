package errors

// BtreeError is a specialized error type for B-tree page, ref, and cursor
// failures. It embeds baseError to inherit chaining and structured details,
// then adds the page/ref coordinates that matter when diagnosing a stuck
// traversal or a rejected ref-state transition.
type BtreeError struct {
	*baseError
	tableURI  string // Which table's B-tree the failing ref/page belonged to.
	pageAddr  string // Packed address cookie of the page involved, if known.
	refState  string // The ref state observed when the operation was rejected.
	operation string // Search, Insert, Update, Remove, Reconcile, Split, Truncate, ...
}

// NewBtreeError creates a new B-tree specific error with the provided context.
func NewBtreeError(err error, code ErrorCode, msg string) *BtreeError {
	return &BtreeError{baseError: NewBaseError(err, code, msg)}
}

// WithMessage updates the error message while maintaining the BtreeError type.
func (be *BtreeError) WithMessage(msg string) *BtreeError {
	be.baseError.WithMessage(msg)
	return be
}

// WithDetail adds contextual information while maintaining the BtreeError type.
func (be *BtreeError) WithDetail(key string, value any) *BtreeError {
	be.baseError.WithDetail(key, value)
	return be
}

// WithTableURI records which table's tree the error occurred in.
func (be *BtreeError) WithTableURI(uri string) *BtreeError {
	be.tableURI = uri
	return be
}

// WithPageAddr records the packed address cookie of the page involved.
func (be *BtreeError) WithPageAddr(addr string) *BtreeError {
	be.pageAddr = addr
	return be
}

// WithRefState records the ref state observed when the operation failed.
func (be *BtreeError) WithRefState(state string) *BtreeError {
	be.refState = state
	return be
}

// WithOperation records which B-tree operation was being performed.
func (be *BtreeError) WithOperation(op string) *BtreeError {
	be.operation = op
	return be
}

// TableURI returns the table URI associated with the error.
func (be *BtreeError) TableURI() string { return be.tableURI }

// PageAddr returns the packed address cookie associated with the error.
func (be *BtreeError) PageAddr() string { return be.pageAddr }

// RefState returns the ref state observed at failure time.
func (be *BtreeError) RefState() string { return be.refState }

// Operation returns the B-tree operation that was being performed.
func (be *BtreeError) Operation() string { return be.operation }

// NewEmptyKeyError reports an attempt to use a zero-length row key.
func NewEmptyKeyError(operation string) *BtreeError {
	return NewBtreeError(nil, ErrorCodeEmptyKey, "empty keys are not permitted").
		WithOperation(operation)
}

// NewRefBusyError reports a ref-state CAS that lost a race to a peer.
func NewRefBusyError(operation, refState string) *BtreeError {
	return NewBtreeError(nil, ErrorCodeRefBusy, "ref is locked by a concurrent worker").
		WithOperation(operation).
		WithRefState(refState)
}

// NewHazardConflictError reports eviction backing off because a session
// still holds a hazard pointer into the page being evicted.
func NewHazardConflictError(pageAddr string) *BtreeError {
	return NewBtreeError(nil, ErrorCodeHazardConflict, "page is hazard-protected by an active session").
		WithOperation("Evict").
		WithPageAddr(pageAddr)
}
