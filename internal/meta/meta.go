// Package meta implements the metadata layer of spec.md §4.7/§6: a
// URI-to-table registry persisted as one metadata file, mapping each
// table to its backing file and the list of checkpoints taken against it.
// Adapted from the teacher's internal/index (sync.RWMutex-guarded map,
// atomic closed flag, Config-struct constructor) — repurposed from an
// in-memory key index into a small durable registry, since this engine's
// actual key index lives in internal/btree instead.
package meta

import (
	"path"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/stonebark/stonebark/internal/block"
	"github.com/stonebark/stonebark/internal/fileops"
	"github.com/stonebark/stonebark/internal/wal"
	"github.com/stonebark/stonebark/pkg/errors"
)

// CheckpointEntry records one checkpoint taken against a table: the
// durable root cookie it installed, the log position replay must resume
// from, and when it ran (spec.md §4.7 "per-table metadata update").
type CheckpointEntry struct {
	Name         string    `yaml:"name"`
	LSN          wal.LSN   `yaml:"lsn"`
	RootCookie   block.Cookie `yaml:"rootCookie"`
	RootPageType uint8     `yaml:"rootPageType"`
	Timestamp    time.Time `yaml:"timestamp"`
}

// TableMeta is one table's durable registration: where its data file
// lives, its btree id, its column-store/row-store kind, and the
// checkpoint history recovery walks backward from.
type TableMeta struct {
	URI         string             `yaml:"uri"`
	BtreeID     uint32             `yaml:"btreeId"`
	FileName    string             `yaml:"fileName"`
	ColumnStore bool               `yaml:"columnStore"`
	Checkpoints []CheckpointEntry  `yaml:"checkpoints"`
}

// Config bundles a Manager's dependencies, following the teacher's
// Config-struct-per-constructor convention (internal/index.Config).
type Config struct {
	FS      fileops.FileSystem
	DataDir string
	Logger  *zap.SugaredLogger
}

type onDiskFormat struct {
	NextBtreeID uint32       `yaml:"nextBtreeId"`
	Tables      []*TableMeta `yaml:"tables"`
}

// Manager is the engine-wide table registry, backed by one metadata file
// under DataDir.
type Manager struct {
	mu     sync.RWMutex
	fs     fileops.FileSystem
	dir    string
	path   string
	tables map[string]*TableMeta

	nextBtreeID atomic.Uint32
	log         *zap.SugaredLogger
	closed      atomic.Bool
}

const metadataFileName = "stonebark.meta"

// New opens (creating if absent) the metadata file under cfg.DataDir.
func New(cfg *Config) (*Manager, error) {
	if cfg == nil || cfg.FS == nil || cfg.DataDir == "" || cfg.Logger == nil {
		return nil, errors.NewRequiredFieldError("FS/DataDir/Logger")
	}

	m := &Manager{
		fs:     cfg.FS,
		dir:    cfg.DataDir,
		path:   path.Join(cfg.DataDir, metadataFileName),
		tables: make(map[string]*TableMeta),
		log:    cfg.Logger,
	}
	m.nextBtreeID.Store(1)

	if cfg.FS.Exists(m.path) {
		if err := m.load(); err != nil {
			return nil, err
		}
		m.log.Infow("metadata file loaded", "path", m.path, "tables", len(m.tables))
	} else if err := m.persistLocked(); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Manager) load() error {
	f, err := m.fs.Open(m.path, fileops.OpenFlags{ReadOnly: true})
	if err != nil {
		return errors.NewMetaError(err, errors.ErrorCodeIO, "failed to open metadata file").WithURI(m.path)
	}
	defer f.Close()

	size, err := f.Size()
	if err != nil {
		return errors.NewMetaError(err, errors.ErrorCodeIO, "failed to stat metadata file").WithURI(m.path)
	}
	buf := make([]byte, size)
	if size > 0 {
		if _, err := f.ReadAt(buf, 0); err != nil {
			return errors.NewMetaError(err, errors.ErrorCodeIO, "failed to read metadata file").WithURI(m.path)
		}
	}

	var disk onDiskFormat
	if len(buf) > 0 {
		if err := yaml.Unmarshal(buf, &disk); err != nil {
			return errors.NewCorruptMetadataError(err, "metadata file")
		}
	}

	m.nextBtreeID.Store(disk.NextBtreeID)
	if disk.NextBtreeID == 0 {
		m.nextBtreeID.Store(1)
	}
	for _, t := range disk.Tables {
		m.tables[t.URI] = t
	}
	return nil
}

// persistLocked serializes the registry and writes it via a
// write-temp-then-rename sequence, fsyncing the directory afterward so a
// crash mid-write never leaves a half-written metadata file in place —
// the same durability shape internal/wal's segment rotation uses.
func (m *Manager) persistLocked() error {
	disk := onDiskFormat{NextBtreeID: m.nextBtreeID.Load()}
	for _, t := range m.tables {
		disk.Tables = append(disk.Tables, t)
	}

	buf, err := yaml.Marshal(disk)
	if err != nil {
		return errors.NewCorruptMetadataError(err, "metadata file encode")
	}

	tmpPath := m.path + ".tmp"
	f, err := m.fs.Open(tmpPath, fileops.OpenFlags{Create: true})
	if err != nil {
		return errors.NewMetaError(err, errors.ErrorCodeIO, "failed to open metadata temp file").WithURI(tmpPath)
	}
	if _, err := f.WriteAt(buf, 0); err != nil {
		f.Close()
		return errors.NewMetaError(err, errors.ErrorCodeIO, "failed to write metadata temp file").WithURI(tmpPath)
	}
	if err := f.Truncate(int64(len(buf))); err != nil {
		f.Close()
		return errors.NewMetaError(err, errors.ErrorCodeIO, "failed to truncate metadata temp file").WithURI(tmpPath)
	}
	if err := f.Fsync(false); err != nil {
		f.Close()
		return errors.NewMetaError(err, errors.ErrorCodeIO, "failed to fsync metadata temp file").WithURI(tmpPath)
	}
	if err := f.Close(); err != nil {
		return err
	}

	if err := m.fs.Rename(tmpPath, m.path); err != nil {
		return errors.NewMetaError(err, errors.ErrorCodeIO, "failed to install metadata file").WithURI(m.path)
	}
	return m.fs.SyncDir(m.dir)
}

// CreateTable registers a fresh table, allocating its btree id and backing
// file name, and persists the registry immediately.
func (m *Manager) CreateTable(uri string, columnStore bool) (*TableMeta, error) {
	if m.closed.Load() {
		return nil, errors.NewTableNotFoundError(uri)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tables[uri]; exists {
		return nil, errors.NewTableExistsError(uri)
	}

	id := m.nextBtreeID.Add(1) - 1
	t := &TableMeta{
		URI:         uri,
		BtreeID:     id,
		FileName:    tableFileName(uri, id),
		ColumnStore: columnStore,
	}
	m.tables[uri] = t
	if err := m.persistLocked(); err != nil {
		delete(m.tables, uri)
		return nil, err
	}
	m.log.Infow("table registered", "uri", uri, "btreeId", id, "columnStore", columnStore)
	return t, nil
}

// Table returns the registered metadata for uri, if any. The returned
// pointer is shared; callers must not mutate it directly — use
// RecordCheckpoint or DropTable.
func (m *Manager) Table(uri string) (*TableMeta, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[uri]
	return t, ok
}

// Tables returns a snapshot of every registered table, used by the
// checkpoint coordinator's per-table walk (spec.md §4.7).
func (m *Manager) Tables() []*TableMeta {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*TableMeta, 0, len(m.tables))
	for _, t := range m.tables {
		out = append(out, t)
	}
	return out
}

// DropTable removes uri's registration and persists the registry. It does
// not touch the table's backing file; the caller is responsible for that.
func (m *Manager) DropTable(uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[uri]
	if !ok {
		return errors.NewTableNotFoundError(uri)
	}
	delete(m.tables, uri)
	if err := m.persistLocked(); err != nil {
		m.tables[uri] = t
		return err
	}
	return nil
}

// RecordCheckpoint appends entry to uri's checkpoint history and persists
// the registry, the metadata-file half of spec.md §4.7's checkpoint
// sequence (data, then log, then metadata).
func (m *Manager) RecordCheckpoint(uri string, entry CheckpointEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[uri]
	if !ok {
		return errors.NewTableNotFoundError(uri)
	}
	t.Checkpoints = append(t.Checkpoints, entry)
	return m.persistLocked()
}

// LatestCheckpoint returns uri's most recent checkpoint entry, if any.
func (m *Manager) LatestCheckpoint(uri string) (CheckpointEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[uri]
	if !ok || len(t.Checkpoints) == 0 {
		return CheckpointEntry{}, false
	}
	return t.Checkpoints[len(t.Checkpoints)-1], true
}

// Close marks the registry closed; CreateTable fails after it, while
// DropTable and RecordCheckpoint do not check the flag.
func (m *Manager) Close() error {
	m.closed.Store(true)
	return nil
}

func tableFileName(uri string, id uint32) string {
	return path.Join("tables", sanitizeURI(uri)+"-"+strconv.FormatUint(uint64(id), 10)+".tbl")
}

// sanitizeURI replaces path separators in a cursor URI's table segment
// (e.g. "table:orders/2024") so the result is safe as a single file name.
func sanitizeURI(uri string) string {
	out := make([]rune, 0, len(uri))
	for _, r := range uri {
		if r == '/' || r == ':' {
			out = append(out, '_')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
