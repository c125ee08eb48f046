// Package block implements the block manager of spec.md §4.2: one file per
// table, an aligned-block allocator backed by a free-space extent list, and
// checksum-validated block reads/writes. It also carries the
// descriptor-embedded checkpoint "salvage path" that lets a file be opened
// without its external metadata.
package block

import (
	"sync"

	"go.uber.org/zap"

	"github.com/stonebark/stonebark/internal/fileops"
	"github.com/stonebark/stonebark/pkg/errors"
)

// Cookie is the address triple (offset, size, checksum) identifying one
// block on disk, packed onto parent pages (spec.md §3).
type Cookie struct {
	Offset   uint64
	Size     uint32
	Checksum uint32
}

// Manager owns one table file: its descriptor block, extent list, and the
// read/write/alloc/free operations every higher layer goes through rather
// than touching the file directly.
type Manager struct {
	mu sync.Mutex

	file           fileops.File
	descriptor     *Descriptor
	extents        *ExtentList
	allocationSize uint32
	fileSize       uint64

	log *zap.SugaredLogger
}

// Config bundles a Manager's dependencies, following the teacher's
// Config-struct-per-constructor convention (internal/storage.Config,
// internal/index.Config).
type Config struct {
	FS             fileops.FileSystem
	Path           string
	AllocationSize uint32
	Logger         *zap.SugaredLogger
}

// Open opens (creating if necessary) a table file and either reads its
// existing descriptor and extent list or bootstraps a fresh one.
func Open(cfg *Config) (*Manager, error) {
	if cfg == nil || cfg.FS == nil || cfg.Path == "" || cfg.Logger == nil {
		return nil, errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "block.Open requires FS, Path, and Logger").
			WithField("config").WithRule("required")
	}

	allocSize := cfg.AllocationSize
	if allocSize == 0 {
		allocSize = 4096
	}

	existed := cfg.FS.Exists(cfg.Path)
	f, err := cfg.FS.Open(cfg.Path, fileops.OpenFlags{Create: true})
	if err != nil {
		return nil, err
	}

	m := &Manager{
		file:           f,
		extents:        NewExtentList(),
		allocationSize: allocSize,
		log:            cfg.Logger,
	}

	if existed {
		if err := m.loadDescriptor(); err != nil {
			return nil, err
		}
	} else {
		m.descriptor = NewDescriptor(allocSize)
		if err := m.writeDescriptor(); err != nil {
			return nil, err
		}
		m.fileSize = uint64(allocSize) // no free space yet beyond the descriptor block
	}

	m.log.Infow("block manager opened", "path", cfg.Path, "allocationSize", allocSize, "fileSize", m.fileSize)
	return m, nil
}

func (m *Manager) loadDescriptor() error {
	buf := make([]byte, 4096)
	if _, err := m.file.ReadAt(buf, 0); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "read descriptor block failed")
	}
	d, err := DecodeDescriptor(buf)
	if err != nil {
		return err
	}
	m.descriptor = d
	m.allocationSize = d.AllocationSize

	size, err := m.file.Size()
	if err != nil {
		return err
	}
	m.fileSize = uint64(size)
	return nil
}

func (m *Manager) writeDescriptor() error {
	buf := m.descriptor.Encode(m.allocationSize)
	if _, err := m.file.WriteAt(buf, 0); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "write descriptor block failed")
	}
	return m.file.Fsync(false)
}

// align rounds size up to the nearest multiple of the allocation unit.
func (m *Manager) align(size uint32) uint64 {
	unit := uint64(m.allocationSize)
	s := uint64(size)
	if s%unit == 0 {
		return s
	}
	return (s/unit + 1) * unit
}

// Write allocates space for payload, computes its checksum, and writes a
// header+payload block, returning the resulting (offset, size, checksum)
// cookie (spec.md §4.2 "Write and read").
func (m *Manager) Write(payload []byte, pageType uint8) (Cookie, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	diskSize := m.align(uint32(blockHeaderSize + len(payload)))

	offset, ok := m.extents.Alloc(diskSize)
	if !ok {
		offset = m.fileSize
		m.fileSize += diskSize
	}

	header := &BlockHeader{
		DiskSize: uint32(diskSize),
		MemSize:  uint32(len(payload)),
		Entries:  0,
		PageType: pageType,
		Version:  1,
	}
	header.Checksum = ChecksumPayload(header, payload)

	buf := append(EncodeBlockHeader(header), payload...)
	if uint64(len(buf)) < diskSize {
		buf = append(buf, make([]byte, diskSize-uint64(len(buf)))...)
	}

	if _, err := m.file.WriteAt(buf, int64(offset)); err != nil {
		return Cookie{}, errors.NewStorageError(err, errors.ErrorCodeIO, "write block failed").WithOffset(int(offset))
	}

	return Cookie{Offset: offset, Size: uint32(diskSize), Checksum: header.Checksum}, nil
}

// Read reads back the block at cookie, validating its checksum
// (spec.md §4.2: "on mismatch return a typed checksum error, not fatal").
func (m *Manager) Read(cookie Cookie) ([]byte, error) {
	buf := make([]byte, cookie.Size)
	if _, err := m.file.ReadAt(buf, int64(cookie.Offset)); err != nil {
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "read block failed").WithOffset(int(cookie.Offset))
	}

	header, err := DecodeBlockHeader(buf)
	if err != nil {
		return nil, err
	}

	payload := buf[blockHeaderSize:][:header.MemSize]
	if ChecksumPayload(header, payload) != cookie.Checksum || header.Checksum != cookie.Checksum {
		return nil, errors.NewChecksumMismatchError(m.file.Path(), int(cookie.Offset))
	}

	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

// Free releases cookie's space back to the extent list (spec.md §4.2 "free").
func (m *Manager) Free(cookie Cookie) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extents.Free(cookie.Offset, uint64(cookie.Size))
}

// FirstAvailable reports whether compaction has anywhere to move a block
// of the given size (spec.md §4.2's compact_skip precondition).
func (m *Manager) FirstAvailable(size uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.extents.FirstAvailable(m.align(size))
}

// CompactPageSkip reports whether the block at cookie lies above the
// file's current live-data boundary and is therefore worth relocating
// during compaction (spec.md §4.2 compact_page_skip).
func (m *Manager) CompactPageSkip(cookie Cookie, liveBoundary uint64) bool {
	return uint64(cookie.Offset) >= liveBoundary
}

// CompactPageRewrite allocates space for the block at cookie through the
// best-fit allocator (smallest fitting extent, lowest offset on ties) and
// moves the block there only if that offset lies below its current
// position, returning its new cookie (spec.md §4.2 compact_page_rewrite).
func (m *Manager) CompactPageRewrite(cookie Cookie) (Cookie, error) {
	payload, err := m.Read(cookie)
	if err != nil {
		return Cookie{}, err
	}

	m.mu.Lock()
	offset, ok := m.extents.Alloc(uint64(cookie.Size))
	m.mu.Unlock()
	if !ok || offset >= cookie.Offset {
		// Nothing better available; leave the block where it is.
		return cookie, nil
	}

	header := &BlockHeader{DiskSize: cookie.Size, MemSize: uint32(len(payload)), Version: 1}
	header.Checksum = ChecksumPayload(header, payload)
	buf := append(EncodeBlockHeader(header), payload...)
	if uint64(len(buf)) < uint64(cookie.Size) {
		buf = append(buf, make([]byte, uint64(cookie.Size)-uint64(len(buf)))...)
	}

	if _, err := m.file.WriteAt(buf, int64(offset)); err != nil {
		return Cookie{}, errors.NewStorageError(err, errors.ErrorCodeIO, "compact rewrite failed")
	}

	m.Free(cookie)
	return Cookie{Offset: offset, Size: cookie.Size, Checksum: header.Checksum}, nil
}

// WriteCheckpointDescriptor embeds root as the table's most recent
// checkpoint root and rewrites the descriptor block last, after all of a
// checkpoint's other writes, per spec.md §4.7's "descriptor-embedded
// checkpoint as the last avail-list write" — if the process dies before
// this call, the previous checkpoint's descriptor is still intact and
// recovery simply replays further from the log.
func (m *Manager) WriteCheckpointDescriptor(root Cookie, pageType uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.descriptor.HasRoot = true
	m.descriptor.RootOffset = root.Offset
	m.descriptor.RootSize = root.Size
	m.descriptor.RootChecksum = root.Checksum
	m.descriptor.RootPageType = pageType
	m.descriptor.Checksum = m.descriptor.computeChecksum()

	return m.writeDescriptor()
}

// CheckpointRoot returns the descriptor-embedded checkpoint root cookie,
// used as the fallback bootstrap source when internal/meta's metadata file
// is missing or corrupt (spec.md §4.7).
func (m *Manager) CheckpointRoot() (Cookie, uint8, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.descriptor.HasRoot {
		return Cookie{}, 0, false
	}
	return Cookie{Offset: m.descriptor.RootOffset, Size: m.descriptor.RootSize, Checksum: m.descriptor.RootChecksum},
		m.descriptor.RootPageType, true
}

// Close flushes and releases the underlying file handle.
func (m *Manager) Close() error {
	if err := m.file.Fsync(false); err != nil {
		return err
	}
	return m.file.Close()
}
