// Package options provides data structures and functions for configuring
// the stonebark storage engine. It defines every knob enumerated in
// SPEC_FULL.md §6: directory paths, allocation and page sizing, cache and
// eviction thresholds, log segmenting and sync policy, checkpoint/compact
// behavior, and transaction timestamp flags.
package options

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// logSegmentOptions configures the write-ahead log's segment files.
// Mirrors the teacher's per-segment knobs (size/directory/prefix), applied
// here to WAL segments instead of data segments.
type logSegmentOptions struct {
	// Size is the maximum size a log segment can grow to before rotation.
	//
	//  - Default: 100MB
	//  - Maximum: 2GB
	//  - Minimum: 1MB
	Size uint64 `yaml:"maxSegmentSize"`

	// Directory specifies where log segment files are stored, relative to DataDir.
	Directory string `yaml:"directory"`

	// Prefix is the filename prefix for log segment files.
	Prefix string `yaml:"prefix"`

	// SyncMode controls durability of log appends: off|periodic|on.
	SyncMode SyncMode `yaml:"syncMode"`

	// SyncInterval is the period between background syncs when SyncMode is periodic.
	SyncInterval time.Duration `yaml:"syncInterval"`
}

// SyncMode is the log durability policy from spec.md §6 ("log sync: off|periodic|on").
type SyncMode string

const (
	SyncOff      SyncMode = "off"
	SyncPeriodic SyncMode = "periodic"
	SyncOn       SyncMode = "on"
)

// blockOptions configures the block manager's allocation and page sizing.
type blockOptions struct {
	// AllocationSize is the power-of-two block alignment unit in bytes.
	AllocationSize uint32 `yaml:"allocationSize"`

	// LeafPageMax is the target maximum size of a reconciled leaf page image.
	LeafPageMax uint32 `yaml:"leafPageMax"`

	// MemoryPageMax is the in-memory size at which a page becomes an eviction candidate.
	MemoryPageMax uint64 `yaml:"memoryPageMax"`

	// DirectIO enables O_DIRECT (bypassing the page cache) on platforms that support it.
	DirectIO bool `yaml:"directIO"`

	// Mmap enables memory-mapping table files for reads.
	Mmap bool `yaml:"mmap"`

	// CompactThresholdPercent is the fragmentation percentage above which compact() acts.
	CompactThresholdPercent int `yaml:"compactThresholdPercent"`
}

// cacheOptions configures the page cache's soft byte budget and eviction thresholds.
type cacheOptions struct {
	// SizeBytes is the soft budget for total in-memory page footprint.
	SizeBytes uint64 `yaml:"cacheSizeBytes"`

	// EvictionTargetPercent is the percentage of SizeBytes eviction aims to settle at.
	EvictionTargetPercent int `yaml:"evictionTargetPercent"`

	// EvictionTriggerPercent is the percentage of SizeBytes that starts throttling application threads.
	EvictionTriggerPercent int `yaml:"evictionTriggerPercent"`

	// DirtyTargetPercent/DirtyTriggerPercent bound the fraction of the cache occupied by dirty pages.
	DirtyTargetPercent  int `yaml:"dirtyTargetPercent"`
	DirtyTriggerPercent int `yaml:"dirtyTriggerPercent"`

	// UpdatesTargetPercent/UpdatesTriggerPercent bound the fraction consumed by update chains.
	UpdatesTargetPercent  int `yaml:"updatesTargetPercent"`
	UpdatesTriggerPercent int `yaml:"updatesTriggerPercent"`

	// EvictionWorkers is the size of the background eviction thread pool.
	EvictionWorkers int `yaml:"evictionWorkers"`

	// CacheWaitMax bounds how long a cursor op stalls under cache pressure before returning Busy.
	CacheWaitMax time.Duration `yaml:"cacheWaitMax"`

	// StuckTimeout is the diagnostic interval after which a cache making no progress escalates to Panic.
	StuckTimeout time.Duration `yaml:"stuckTimeout"`
}

// checkpointOptions configures the checkpoint coordinator.
type checkpointOptions struct {
	// Wait, if true, makes Checkpoint() block until the checkpoint is durable;
	// otherwise it may run asynchronously.
	Wait bool `yaml:"checkpointWait"`

	// Interval is how often the background checkpointer runs, when non-zero.
	Interval time.Duration `yaml:"checkpointInterval"`
}

// timestampOptions mirrors spec.md §6's transaction timestamp flags.
type timestampOptions struct {
	IgnorePrepare   bool `yaml:"timestampIgnorePrepare"`
	RoundUpPrepared bool `yaml:"roundUpPrepared"`
	RoundUpRead     bool `yaml:"roundUpRead"`
	NoTimestamp     bool `yaml:"noTimestamp"`
}

// Options defines the full configuration surface for a stonebark engine
// instance. It provides control over storage, performance, and maintenance
// aspects, generalizing the teacher's flat Options struct into the nested
// per-subsystem groups SPEC_FULL.md §6 calls for.
type Options struct {
	// DataDir is the base path where all files (tables, log, metadata) are stored.
	DataDir string `yaml:"dataDir"`

	// LogFileMax is the maximum size of a single WAL segment, duplicated onto
	// LogOptions.Size for callers that only need the top-level knob.
	LogFileMax uint64 `yaml:"logFileMax"`

	LogOptions        *logSegmentOptions `yaml:"log"`
	BlockOptions      *blockOptions      `yaml:"block"`
	CacheOptions      *cacheOptions      `yaml:"cache"`
	CheckpointOptions *checkpointOptions `yaml:"checkpoint"`
	TimestampOptions  *timestampOptions  `yaml:"timestamp"`

	// CompactInterval is how often the background compactor runs to
	// reclaim fragmented extents.
	CompactInterval time.Duration `yaml:"compactInterval"`
}

// OptionFunc is a function type that modifies the engine's configuration.
type OptionFunc func(*Options)

// WithDefaultOptions applies a predefined set of default configuration values.
func WithDefaultOptions() OptionFunc {
	return func(o *Options) {
		*o = NewDefaultOptions()
	}
}

// WithDataDir sets the primary data directory.
func WithDataDir(directory string) OptionFunc {
	return func(o *Options) {
		directory = strings.TrimSpace(directory)
		if directory != "" {
			o.DataDir = directory
		}
	}
}

// WithCompactInterval sets the interval at which compaction runs.
func WithCompactInterval(interval time.Duration) OptionFunc {
	return func(o *Options) {
		if interval > 0 {
			o.CompactInterval = interval
		}
	}
}

// WithLogSegmentDir sets the directory for WAL segment files, relative to DataDir.
func WithLogSegmentDir(directory string) OptionFunc {
	return func(o *Options) {
		directory = strings.TrimSpace(directory)
		if directory != "" {
			o.LogOptions.Directory = directory
		}
	}
}

// WithLogSegmentSize sets the maximum size of individual WAL segment files.
func WithLogSegmentSize(size uint64) OptionFunc {
	return func(o *Options) {
		if size >= MinLogSegmentSize && size <= MaxLogSegmentSize {
			o.LogOptions.Size = size
			o.LogFileMax = size
		}
	}
}

// WithLogSyncMode sets the WAL durability policy.
func WithLogSyncMode(mode SyncMode) OptionFunc {
	return func(o *Options) {
		switch mode {
		case SyncOff, SyncPeriodic, SyncOn:
			o.LogOptions.SyncMode = mode
		}
	}
}

// WithCacheSize sets the soft cache byte budget.
func WithCacheSize(bytes uint64) OptionFunc {
	return func(o *Options) {
		if bytes > 0 {
			o.CacheOptions.SizeBytes = bytes
		}
	}
}

// WithAllocationSize sets the block manager's allocation unit; it must be a
// power of two, per spec.md §4.2.
func WithAllocationSize(size uint32) OptionFunc {
	return func(o *Options) {
		if size > 0 && size&(size-1) == 0 {
			o.BlockOptions.AllocationSize = size
		}
	}
}

// WithDirectIO toggles O_DIRECT for table files.
func WithDirectIO(enabled bool) OptionFunc {
	return func(o *Options) { o.BlockOptions.DirectIO = enabled }
}

// WithMmap toggles memory-mapped reads for table files.
func WithMmap(enabled bool) OptionFunc {
	return func(o *Options) { o.BlockOptions.Mmap = enabled }
}

// WithCheckpointWait toggles synchronous checkpoint completion.
func WithCheckpointWait(wait bool) OptionFunc {
	return func(o *Options) { o.CheckpointOptions.Wait = wait }
}

// WithNoTimestamp disables timestamp-based visibility, falling back to pure id visibility.
func WithNoTimestamp(enabled bool) OptionFunc {
	return func(o *Options) { o.TimestampOptions.NoTimestamp = enabled }
}

// Validate rejects configurations that violate documented bounds, returning
// a descriptive error instead of silently clamping — unlike the With*
// setters above, which are meant to be forgiving when composed from
// multiple call sites, Validate is the single hard gate Open() runs before
// trusting an Options value.
func (o *Options) Validate() error {
	if strings.TrimSpace(o.DataDir) == "" {
		return fmt.Errorf("options: dataDir is required")
	}
	if o.BlockOptions.AllocationSize == 0 || o.BlockOptions.AllocationSize&(o.BlockOptions.AllocationSize-1) != 0 {
		return fmt.Errorf("options: allocationSize must be a power of two, got %d", o.BlockOptions.AllocationSize)
	}
	if o.CacheOptions.EvictionTargetPercent >= o.CacheOptions.EvictionTriggerPercent {
		return fmt.Errorf("options: evictionTargetPercent must be < evictionTriggerPercent")
	}
	if o.LogOptions.Size < MinLogSegmentSize || o.LogOptions.Size > MaxLogSegmentSize {
		return fmt.Errorf("options: log segment size %d out of range [%d, %d]", o.LogOptions.Size, MinLogSegmentSize, MaxLogSegmentSize)
	}
	return nil
}

// LoadFile reads a YAML configuration file and merges it onto the defaults,
// the way a deployed engine externalizes tuning knobs without a recompile.
// Unset fields in the file keep their default values.
func LoadFile(path string) (Options, error) {
	opts := NewDefaultOptions()

	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("options: read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("options: parse config file: %w", err)
	}
	return opts, nil
}
