package errors

// WalError is a specialized error type for write-ahead log and recovery
// failures: truncated records, failed syncs, and checkpoint/metadata
// corruption discovered while replaying a log segment.
type WalError struct {
	*baseError
	segmentFile string // Which log segment file was being read or written.
	lsn         string // The LSN (file-id, offset) involved, formatted for logging.
}

// NewWalError creates a new log-specific error with the provided context.
func NewWalError(err error, code ErrorCode, msg string) *WalError {
	return &WalError{baseError: NewBaseError(err, code, msg)}
}

// WithDetail adds contextual information while maintaining the WalError type.
func (we *WalError) WithDetail(key string, value any) *WalError {
	we.baseError.WithDetail(key, value)
	return we
}

// WithSegmentFile records which log segment file was involved.
func (we *WalError) WithSegmentFile(name string) *WalError {
	we.segmentFile = name
	return we
}

// WithLSN records the log sequence number involved in the failure.
func (we *WalError) WithLSN(lsn string) *WalError {
	we.lsn = lsn
	return we
}

// SegmentFile returns the log segment file name associated with the error.
func (we *WalError) SegmentFile() string { return we.segmentFile }

// LSN returns the log sequence number associated with the error.
func (we *WalError) LSN() string { return we.lsn }

// NewLogRecordTruncatedError reports a record whose declared length ran past
// the readable bytes of its segment.
func NewLogRecordTruncatedError(segmentFile, lsn string) *WalError {
	return NewWalError(nil, ErrorCodeLogRecordTruncated, "log record truncated mid-segment").
		WithSegmentFile(segmentFile).
		WithLSN(lsn)
}

// NewLogSyncFailedError reports a failed fsync of a committed log slot.
func NewLogSyncFailedError(cause error, segmentFile string) *WalError {
	return NewWalError(cause, ErrorCodeLogSyncFailed, "failed to sync log segment").
		WithSegmentFile(segmentFile)
}

// NewCorruptMetadataError reports a metadata file or checkpoint descriptor
// that failed to parse and should trigger the salvage path.
func NewCorruptMetadataError(cause error, what string) *WalError {
	return NewWalError(cause, ErrorCodeCorruptMetadata, "metadata failed to parse: "+what)
}
