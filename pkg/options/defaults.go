package options

import "time"

const (
	// DefaultDataDir is where a stonebark instance stores its tables, log
	// segments, and metadata when no directory is configured explicitly.
	DefaultDataDir = "/var/lib/stonebark"

	// DefaultCompactInterval is how often the background compactor runs to
	// reclaim fragmented extents.
	DefaultCompactInterval = time.Hour * 5

	// MinLogSegmentSize is the smallest size a WAL segment file may be
	// configured to roll over at (1MB).
	MinLogSegmentSize uint64 = 1 * 1024 * 1024

	// MaxLogSegmentSize is the largest size a WAL segment file may grow to
	// before forced rotation (2GB).
	MaxLogSegmentSize uint64 = 2 * 1024 * 1024 * 1024

	// DefaultLogSegmentSize is the target size for a new WAL segment (100MB).
	DefaultLogSegmentSize uint64 = 100 * 1024 * 1024

	// DefaultLogSegmentDirectory is the subdirectory under DataDir holding
	// WAL segment files.
	DefaultLogSegmentDirectory = "log"

	// DefaultLogSegmentPrefix prefixes every WAL segment filename.
	DefaultLogSegmentPrefix = "stonebark-log"

	// DefaultLogSyncInterval is the period between background fsyncs when
	// SyncMode is SyncPeriodic.
	DefaultLogSyncInterval = 100 * time.Millisecond

	// DefaultAllocationSize is the block manager's default alignment unit (4KB).
	DefaultAllocationSize uint32 = 4 * 1024

	// DefaultLeafPageMax is the default target size for a reconciled leaf page (32KB).
	DefaultLeafPageMax uint32 = 32 * 1024

	// DefaultMemoryPageMax is the default in-memory size at which a page
	// becomes an eviction candidate (10MB).
	DefaultMemoryPageMax uint64 = 10 * 1024 * 1024

	// DefaultCompactThresholdPercent is the fragmentation percentage above
	// which compact() reclaims space from a file.
	DefaultCompactThresholdPercent = 20

	// DefaultCacheSize is the default soft cache byte budget (100MB).
	DefaultCacheSize uint64 = 100 * 1024 * 1024

	// DefaultEvictionTargetPercent / DefaultEvictionTriggerPercent bound the
	// fraction of the cache eviction keeps free under ordinary load.
	DefaultEvictionTargetPercent  = 80
	DefaultEvictionTriggerPercent = 95

	// DefaultDirtyTargetPercent / DefaultDirtyTriggerPercent bound the
	// fraction of the cache occupied by dirty (unreconciled) pages.
	DefaultDirtyTargetPercent  = 5
	DefaultDirtyTriggerPercent = 20

	// DefaultUpdatesTargetPercent / DefaultUpdatesTriggerPercent bound the
	// fraction of the cache consumed by in-memory update chains.
	DefaultUpdatesTargetPercent  = 20
	DefaultUpdatesTriggerPercent = 40

	// DefaultEvictionWorkers is the default size of the background eviction
	// thread pool.
	DefaultEvictionWorkers = 4

	// DefaultCacheWaitMax bounds how long an operation stalls under cache
	// pressure before returning Busy.
	DefaultCacheWaitMax = 2 * time.Second

	// DefaultStuckTimeout is how long the cache may make no eviction
	// progress before being declared stuck.
	DefaultStuckTimeout = 5 * time.Minute

	// DefaultCheckpointInterval is how often the background checkpointer
	// runs when automatic checkpointing is enabled.
	DefaultCheckpointInterval = time.Minute
)

// defaultOptions holds the baseline configuration every NewDefaultOptions
// call returns a fresh copy of. Because Options embeds pointer fields for
// its subsystem groups, NewDefaultOptions must allocate new nested structs
// per call rather than returning this value directly, or callers that
// mutate one Instance's options would corrupt every other instance's
// defaults.
var defaultOptions = Options{
	DataDir:         DefaultDataDir,
	CompactInterval: DefaultCompactInterval,
	LogFileMax:      DefaultLogSegmentSize,
}

// NewDefaultOptions returns a fresh, independently-mutable Options value
// populated with stonebark's documented defaults for every subsystem.
func NewDefaultOptions() Options {
	o := defaultOptions
	o.LogOptions = &logSegmentOptions{
		Size:         DefaultLogSegmentSize,
		Directory:    DefaultLogSegmentDirectory,
		Prefix:       DefaultLogSegmentPrefix,
		SyncMode:     SyncOn,
		SyncInterval: DefaultLogSyncInterval,
	}
	o.BlockOptions = &blockOptions{
		AllocationSize:          DefaultAllocationSize,
		LeafPageMax:             DefaultLeafPageMax,
		MemoryPageMax:           DefaultMemoryPageMax,
		DirectIO:                false,
		Mmap:                    false,
		CompactThresholdPercent: DefaultCompactThresholdPercent,
	}
	o.CacheOptions = &cacheOptions{
		SizeBytes:              DefaultCacheSize,
		EvictionTargetPercent:  DefaultEvictionTargetPercent,
		EvictionTriggerPercent: DefaultEvictionTriggerPercent,
		DirtyTargetPercent:     DefaultDirtyTargetPercent,
		DirtyTriggerPercent:    DefaultDirtyTriggerPercent,
		UpdatesTargetPercent:   DefaultUpdatesTargetPercent,
		UpdatesTriggerPercent:  DefaultUpdatesTriggerPercent,
		EvictionWorkers:        DefaultEvictionWorkers,
		CacheWaitMax:           DefaultCacheWaitMax,
		StuckTimeout:           DefaultStuckTimeout,
	}
	o.CheckpointOptions = &checkpointOptions{
		Wait:     false,
		Interval: DefaultCheckpointInterval,
	}
	o.TimestampOptions = &timestampOptions{}
	return o
}
