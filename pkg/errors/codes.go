package errors

// ErrorCode represents a standardized way to categorize different types of errors.
type ErrorCode string

// Base error codes represent the fundamental categories of failures that can
// occur across any software system. These codes provide the foundation layer
// of error classification.
const (
	// ErrorCodeIO represents failures in input/output operations across any
	// system boundary. This includes file system operations like reading or
	// writing segment files, network operations when communicating with remote
	// systems, and device I/O when accessing storage hardware.
	ErrorCodeIO ErrorCode = "IO_ERROR"

	// ErrorCodeInvalidInput represents client-side errors where the provided
	// data doesn't meet the system's requirements or constraints. This maps
	// to HTTP 400-series errors and indicates problems with the request itself
	// rather than system failures.
	ErrorCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// ErrorCodeInternal represents unexpected system failures that don't fit
	// into other categories. These are the equivalent of HTTP 500 errors and
	// indicate bugs, assertion failures, or other programming errors that
	// shouldn't occur during normal operation.
	ErrorCodeInternal ErrorCode = "INTERNAL_ERROR"

	// ErrorCodeNotFound covers absent files, blocks, and keys outside the
	// index-specific lookup path (see ErrorCodeIndexKeyNotFound for that).
	ErrorCodeNotFound ErrorCode = "NOT_FOUND"
)

// Storage-specific error codes extend the base error taxonomy to handle the
// unique failure modes that occur in persistent storage systems. These codes
// represent problems that are specific to the storage layer of your key-value
// store, particularly focusing on segment file management and data persistence.
const (
	// ErrorCodeSegmentCorrupted indicates that a segment file's data has been
	// damaged or is in an inconsistent state.
	ErrorCodeSegmentCorrupted ErrorCode = "SEGMENT_CORRUPTED"

	// ErrorCodeHeaderReadFailure occurs when the system cannot read the header
	// portion of a segment file. Headers contain critical metadata about the
	// segment's structure, so header read failures prevent access to the
	// entire segment and all data it contains.
	ErrorCodeHeaderReadFailure ErrorCode = "HEADER_READ_FAILURE"

	// ErrorCodePayloadReadFailure indicates problems reading the actual data
	// content from segment files after successfully reading the header. This
	// represents a more localized failure compared to header problems, as the
	// segment structure is intact but specific data regions are inaccessible.
	ErrorCodePayloadReadFailure ErrorCode = "PAYLOAD_READ_FAILURE"

	// ErrorCodeRecoveryFailed indicates that the storage system's attempt to
	// recover from a previous failure was unsuccessful. This represents a
	// compound failure where both the original problem and the recovery
	// mechanism have failed, creating a more serious operational situation.
	ErrorCodeRecoveryFailed ErrorCode = "STORAGE_RECOVERY_FAILED"

	// ErrorCodePermissionDenied indicates insufficient permissions to access a resource.
	// This is distinct from generic IO errors because it has a specific resolution path:
	// the user needs to adjust file/directory permissions or run with elevated privileges.
	ErrorCodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// ErrorCodeDiskFull indicates that the storage device has run out of space.
	// This requires specific handling like cleanup operations or alerting administrators.
	ErrorCodeDiskFull ErrorCode = "DISK_FULL"

	// ErrorCodeFilesystemReadonly indicates that the filesystem is mounted read-only.
	// This requires administrative intervention to remount the filesystem with write permissions.
	ErrorCodeFilesystemReadonly ErrorCode = "FILESYSTEM_READONLY"

	// ErrorCodeChecksumMismatch indicates a block's on-disk checksum did not match
	// the checksum computed over the bytes read back from disk. Non-fatal: the
	// caller may retry from a different copy or surface the block as unreadable.
	ErrorCodeChecksumMismatch ErrorCode = "CHECKSUM_MISMATCH"

	// ErrorCodeExtentExhausted indicates the block manager's free-space allocator
	// has no extent large enough to satisfy a requested allocation.
	ErrorCodeExtentExhausted ErrorCode = "EXTENT_EXHAUSTED"
)

// Index-specific error codes describe failures in the in-memory key index
// and, in this engine, the on-disk B-tree page index built on top of it.
const (
	// ErrorCodeIndexKeyNotFound indicates a lookup found no entry for the key.
	ErrorCodeIndexKeyNotFound ErrorCode = "INDEX_KEY_NOT_FOUND"

	// ErrorCodeIndexInvalidSegmentID indicates a record pointer referenced a
	// segment or block identifier the index has no knowledge of.
	ErrorCodeIndexInvalidSegmentID ErrorCode = "INDEX_INVALID_SEGMENT_ID"

	// ErrorCodeIndexTimestampExtraction indicates a segment/log filename could
	// not be parsed into its sequence and timestamp components.
	ErrorCodeIndexTimestampExtraction ErrorCode = "INDEX_TIMESTAMP_EXTRACTION_FAILED"

	// ErrorCodeIndexCorrupted indicates an internal structural invariant of the
	// index (key ordering, ref-state, skip-list linkage) was violated.
	ErrorCodeIndexCorrupted ErrorCode = "INDEX_CORRUPTED"
)

// B-tree specific error codes cover page, ref, and cursor-level failures.
const (
	// ErrorCodeRefBusy indicates a ref-state CAS could not proceed because a
	// peer thread holds the ref locked (eviction, split, or reconciliation).
	ErrorCodeRefBusy ErrorCode = "REF_BUSY"

	// ErrorCodeHazardConflict indicates eviction could not lock a ref because
	// at least one session still holds a hazard pointer to its page.
	ErrorCodeHazardConflict ErrorCode = "HAZARD_CONFLICT"

	// ErrorCodePageSplit indicates a cursor observed a ref transition to SPLIT
	// mid-traversal and must retry its search from the nearest stable ancestor.
	ErrorCodePageSplit ErrorCode = "PAGE_SPLIT_RETRY"

	// ErrorCodeEmptyKey indicates an operation supplied a zero-length row key,
	// which spec.md disallows unconditionally.
	ErrorCodeEmptyKey ErrorCode = "EMPTY_KEY"
)

// Transaction specific error codes cover MVCC visibility and commit failures.
const (
	// ErrorCodeWriteConflict indicates two concurrent transactions attempted to
	// modify the same key and one must abort per snapshot-isolation semantics.
	ErrorCodeWriteConflict ErrorCode = "WRITE_CONFLICT"

	// ErrorCodePrepareConflict indicates a reader's snapshot landed on a key
	// whose newest update belongs to a prepared-but-not-committed transaction.
	ErrorCodePrepareConflict ErrorCode = "PREPARE_CONFLICT"

	// ErrorCodeTxnRolledBack indicates an operation was attempted against a
	// transaction that has already committed, rolled back, or aborted.
	ErrorCodeTxnRolledBack ErrorCode = "TXN_ROLLED_BACK"
)

// Log/WAL specific error codes.
const (
	// ErrorCodeLogRecordTruncated indicates a log record's declared length ran
	// past the readable bytes in its segment; recovery stops at this record.
	ErrorCodeLogRecordTruncated ErrorCode = "LOG_RECORD_TRUNCATED"

	// ErrorCodeLogSyncFailed indicates the log writer could not fsync a slot
	// before returning a synchronous-commit result to the caller.
	ErrorCodeLogSyncFailed ErrorCode = "LOG_SYNC_FAILED"

	// ErrorCodeCorruptMetadata indicates the metadata file or a checkpoint
	// descriptor failed to parse; callers should fall back to the salvage path.
	ErrorCodeCorruptMetadata ErrorCode = "CORRUPT_METADATA"

	// ErrorCodePanic marks an internal invariant violation (ref-state, extent
	// disjointness, hazard integrity) serious enough to mark the connection dead.
	ErrorCodePanic ErrorCode = "PANIC"
)

// Metadata specific error codes cover table registration and checkpoint
// bookkeeping in internal/meta.
const (
	// ErrorCodeTableExists indicates CreateTable was called with a URI
	// already registered in the metadata file.
	ErrorCodeTableExists ErrorCode = "TABLE_EXISTS"

	// ErrorCodeTableNotFound indicates a lookup referenced a URI with no
	// registered table metadata.
	ErrorCodeTableNotFound ErrorCode = "TABLE_NOT_FOUND"
)

// Kind is the closed error taxonomy from which every fallible core operation
// draws its category, independent of the more granular ErrorCode values
// above. Kind answers "what should the caller do", ErrorCode answers
// "what exactly happened".
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindBusy
	KindConflict
	KindPrepareConflict
	KindChecksumMismatch
	KindCorruptMetadata
	KindIoError
	KindInvalidArgument
	KindPanic
)

// String renders the Kind using the names from spec.md's error table.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindBusy:
		return "Busy"
	case KindConflict:
		return "Conflict"
	case KindPrepareConflict:
		return "PrepareConflict"
	case KindChecksumMismatch:
		return "ChecksumMismatch"
	case KindCorruptMetadata:
		return "CorruptMetadata"
	case KindIoError:
		return "IoError"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindPanic:
		return "Panic"
	default:
		return "Unknown"
	}
}
