// Package wal implements the log manager of spec.md §4.6: segmented log
// files with group-commit append, background segment pre-allocation, and a
// forward scan used by recovery, printlog-style tooling, and backup-id
// enumeration.
//
// Segment lifecycle and naming are adapted from the teacher's
// internal/storage (a Bitcask-style append-only *data* log): one active
// segment file, seamless rotation on size, and pkg/seginfo's
// prefix_NNNNN_timestamp.seg naming convention. What changes is the
// payload: instead of opaque data records, this package writes typed,
// checksummed, chained log records and reserves append offsets through a
// lock-free counter shared by every writer, with one goroutine at a time
// acting as "slot leader" to fsync on everyone's behalf (spec.md §4.6
// "Append and group commit").
package wal

import (
	"path"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/stonebark/stonebark/internal/fileops"
	"github.com/stonebark/stonebark/pkg/errors"
	"github.com/stonebark/stonebark/pkg/filesys"
	"github.com/stonebark/stonebark/pkg/options"
)

// Config bundles a Manager's dependencies, following the teacher's
// Config-struct-per-constructor convention (internal/storage.Config).
type Config struct {
	FS      fileops.FileSystem
	DataDir string
	Options *options.Options
	Logger  *zap.SugaredLogger
}

type spareSegment struct {
	id   uint32
	path string
	file fileops.File
}

// Manager is one instance's write-ahead log.
type Manager struct {
	fs           fileops.FileSystem
	dir          string
	prefix       string
	maxSize      uint64
	syncMode     options.SyncMode
	syncInterval time.Duration
	log          *zap.SugaredLogger

	// mu guards segment identity (file/fileID), the group-commit flush
	// state, and the background-preallocated spare segment. It is held
	// only for short bookkeeping sections, never across a disk write.
	mu         sync.Mutex
	cond       *sync.Cond
	file       fileops.File
	fileID     uint32
	flushing   bool
	syncedFile uint32
	syncedUpTo uint64
	syncErr    error
	spare      *spareSegment

	// nextOffset is the lock-free fetch-and-add reservation cursor into
	// the active segment (spec.md §4.6's "slot" structure).
	nextOffset atomic.Uint64
	lastLSN    atomic.Value // LSN

	closed       atomic.Bool
	stopBg       chan struct{}
	bgWG         sync.WaitGroup
}

// Open bootstraps the log manager: discovers the latest segment (or
// starts fresh at segment 1), continuing it if it has spare capacity or
// rotating to a new one if full, exactly as the teacher's
// internal/storage.New decides between "continue" and "rotate".
func Open(cfg *Config) (*Manager, error) {
	if cfg == nil || cfg.FS == nil || cfg.DataDir == "" || cfg.Options == nil ||
		cfg.Options.LogOptions == nil || cfg.Logger == nil {
		return nil, errors.NewRequiredFieldError("FS/DataDir/Options/Logger")
	}

	logOpts := cfg.Options.LogOptions
	dir := path.Join(cfg.DataDir, logOpts.Directory)
	ensureDir(cfg.FS, dir)

	m := &Manager{
		fs:           cfg.FS,
		dir:          dir,
		prefix:       logOpts.Prefix,
		maxSize:      logOpts.Size,
		syncMode:     logOpts.SyncMode,
		syncInterval: logOpts.SyncInterval,
		log:          cfg.Logger,
		stopBg:       make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	m.lastLSN.Store(LSN{})

	id, segPath, found := discoverLatestSegment(cfg.FS, dir, logOpts.Prefix)
	var targetPath string
	switch {
	case !found:
		id = 1
		targetPath = segmentPath(dir, logOpts.Prefix, id)
		m.log.Infow("no existing wal segment found, starting fresh", "segment", targetPath)
	default:
		size, err := cfg.FS.Size(segPath)
		if err != nil {
			return nil, err
		}
		if uint64(size) >= logOpts.Size {
			id++
			targetPath = segmentPath(dir, logOpts.Prefix, id)
			m.log.Infow("wal segment full, rotating", "previous", segPath, "next", targetPath)
		} else {
			targetPath = segPath
			m.nextOffset.Store(uint64(size))
			m.log.Infow("continuing existing wal segment", "segment", targetPath, "offset", size)
		}
	}

	f, err := cfg.FS.Open(targetPath, fileops.OpenFlags{Create: true})
	if err != nil {
		return nil, errors.NewWalError(err, errors.ErrorCodeIO, "failed to open wal segment").WithSegmentFile(targetPath)
	}
	if err := cfg.FS.SyncDir(dir); err != nil {
		m.log.Warnw("wal segment directory sync failed", "dir", dir, "error", err)
	}

	m.file = f
	m.fileID = id
	m.syncedFile = id

	m.bgWG.Add(1)
	go m.preallocateLoop()

	if logOpts.SyncMode == options.SyncPeriodic {
		m.bgWG.Add(1)
		go m.periodicSyncLoop()
	}

	return m, nil
}

// ensureDir best-effort creates dir on filesystems backed by the real
// disk (reusing the teacher's own pkg/filesys.CreateDir, exactly as
// internal/storage.New did for its segment directory); the in-memory test
// filesystem has no real directories and needs nothing.
func ensureDir(fs fileops.FileSystem, dir string) {
	if _, ok := fs.(*fileops.Posix); ok {
		_ = filesys.CreateDir(dir, 0755, true)
	}
}

// Append reserves a slot for r in the active segment via an atomic
// fetch-and-add, writes the encoded record there, and returns its LSN.
// When durable is true (or the manager's sync policy is "on"), Append
// blocks until the bytes are fsynced, coalescing with any other pending
// durable append via the slot-leader protocol in syncThrough.
func (m *Manager) Append(r Record, durable bool) (LSN, error) {
	if m.closed.Load() {
		return LSN{}, errors.NewWalError(nil, errors.ErrorCodeIO, "append to closed wal")
	}

	forceWrite := false
	for {
		m.mu.Lock()
		fileID := m.fileID
		file := m.file
		m.mu.Unlock()

		prev, _ := m.lastLSN.Load().(LSN)
		buf := encodeRecord(r, prev)
		size := uint64(len(buf))

		offset := m.nextOffset.Add(size) - size
		if offset+size > m.maxSize && !forceWrite {
			m.mu.Lock()
			if m.fileID == fileID {
				if err := m.rotateLocked(); err != nil {
					m.mu.Unlock()
					return LSN{}, err
				}
			}
			m.mu.Unlock()
			if offset == 0 {
				// The record alone exceeds a whole empty segment; rotating
				// again would just repeat this forever, so accept the
				// oversized write on the fresh segment instead.
				forceWrite = true
			}
			continue
		}

		if _, err := file.WriteAt(buf, int64(offset)); err != nil {
			return LSN{}, errors.NewWalError(err, errors.ErrorCodeIO, "wal append write failed").WithSegmentFile(file.Path())
		}

		lsn := LSN{FileID: fileID, Offset: offset}
		m.lastLSN.Store(lsn)

		if !durable && m.syncMode != options.SyncOn {
			return lsn, nil
		}
		return lsn, m.syncThrough(fileID, offset+size)
	}
}

// Sync fsyncs the active segment through its current reservation cursor,
// for callers (e.g. the checkpoint coordinator) that need a durability
// barrier without appending a record of their own.
func (m *Manager) Sync() error {
	m.mu.Lock()
	fileID := m.fileID
	m.mu.Unlock()
	return m.syncThrough(fileID, m.nextOffset.Load())
}

// LastLSN returns the LSN of the most recently appended record.
func (m *Manager) LastLSN() LSN {
	lsn, _ := m.lastLSN.Load().(LSN)
	return lsn
}

// syncThrough is the slot-leader protocol: the first caller to arrive
// performs the fsync and records how far it covers; every other caller
// waiting on a target within that coverage returns without touching the
// disk itself.
func (m *Manager) syncThrough(fileID uint32, target uint64) error {
	m.mu.Lock()
	for {
		if fileID < m.fileID {
			// A rotation already closed out fileID's segment, fsyncing it
			// first (rotateLocked); our bytes are durable regardless of
			// how any later segment's sync went.
			m.mu.Unlock()
			return nil
		}
		if fileID == m.syncedFile && m.syncedUpTo >= target {
			err := m.syncErr
			m.mu.Unlock()
			return err
		}
		if !m.flushing {
			m.flushing = true
			file := m.file
			curID := m.fileID
			m.mu.Unlock()

			err := file.Fsync(false)

			m.mu.Lock()
			m.flushing = false
			m.syncErr = err
			m.syncedFile = curID
			m.syncedUpTo = m.nextOffset.Load()
			m.cond.Broadcast()
			continue
		}
		m.cond.Wait()
	}
}

// rotateLocked closes the current segment (syncing it first so any bytes
// written but not yet fsynced become durable before the handle goes away)
// and switches to the next one, consuming the background-preallocated
// spare if the preallocator kept up, or opening synchronously otherwise.
// Callers must hold m.mu.
func (m *Manager) rotateLocked() error {
	if err := m.file.Fsync(false); err != nil {
		m.log.Warnw("fsync of rotating-out wal segment failed", "error", err)
	}
	if err := m.file.Close(); err != nil {
		m.log.Warnw("failed to close previous wal segment", "error", err)
	}

	nextID := m.fileID + 1
	if m.spare != nil && m.spare.id == nextID {
		m.file = m.spare.file
		m.fileID = nextID
		m.spare = nil
	} else {
		if m.spare != nil {
			m.spare.file.Close()
			m.spare = nil
		}
		nextPath := segmentPath(m.dir, m.prefix, nextID)
		f, err := m.fs.Open(nextPath, fileops.OpenFlags{Create: true})
		if err != nil {
			return errors.NewWalError(err, errors.ErrorCodeIO, "failed to open next wal segment").WithSegmentFile(nextPath)
		}
		m.file = f
		m.fileID = nextID
	}

	if err := m.fs.SyncDir(m.dir); err != nil {
		m.log.Warnw("wal segment directory sync failed", "dir", m.dir, "error", err)
	}

	m.nextOffset.Store(0)
	m.syncedFile = m.fileID
	m.syncedUpTo = 0
	m.log.Infow("rotated wal segment", "newSegmentID", m.fileID)
	return nil
}

// preallocateLoop keeps one spare segment file pre-created ahead of the
// active one so a rotation never blocks on file creation (spec.md §4.6
// "Pre-allocation"). Best-effort: a burst of rotations faster than this
// loop's poll interval falls back to rotateLocked's synchronous open.
func (m *Manager) preallocateLoop() {
	defer m.bgWG.Done()
	for {
		select {
		case <-m.stopBg:
			return
		case <-time.After(50 * time.Millisecond):
		}

		m.mu.Lock()
		haveSpare := m.spare != nil
		curID := m.fileID
		m.mu.Unlock()
		if haveSpare {
			continue
		}

		nextID := curID + 1
		nextPath := segmentPath(m.dir, m.prefix, nextID)
		f, err := m.fs.Open(nextPath, fileops.OpenFlags{Create: true})
		if err != nil {
			m.log.Warnw("background wal pre-allocation failed", "error", err)
			continue
		}
		if err := f.Truncate(int64(m.maxSize)); err != nil {
			m.log.Warnw("background wal pre-allocation truncate failed", "error", err)
		}

		m.mu.Lock()
		if m.fileID == curID && m.spare == nil {
			m.spare = &spareSegment{id: nextID, path: nextPath, file: f}
		} else {
			f.Close()
		}
		m.mu.Unlock()
	}
}

func (m *Manager) periodicSyncLoop() {
	defer m.bgWG.Done()
	ticker := time.NewTicker(m.syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopBg:
			return
		case <-ticker.C:
			if err := m.Sync(); err != nil {
				m.log.Warnw("periodic wal sync failed", "error", err)
			}
		}
	}
}

// Close stops background workers, fsyncs, and closes the active segment.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(m.stopBg)
	m.bgWG.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.spare != nil {
		m.spare.file.Close()
		m.spare = nil
	}
	if err := m.file.Fsync(false); err != nil {
		return errors.NewLogSyncFailedError(err, m.file.Path())
	}
	return m.file.Close()
}
