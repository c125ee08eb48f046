package block

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/stonebark/stonebark/pkg/errors"
)

// magicNumber identifies a stonebark table file in its descriptor block.
const magicNumber uint32 = 0x53544e42 // "STNB"

const (
	majorVersion = 1
	minorVersion = 0
)

// Descriptor is the fixed-size, allocation-unit-sized first block of every
// table file (spec.md §4.2): a magic number, version, allocation size, and
// a checksum over the rest of the header. It also carries the most recent
// checkpoint's root block address, embedded here as spec.md §4.7's
// salvage path — "descriptor-embedded checkpoint as the last avail-list
// write" — so a table can be opened from its own file alone when
// internal/meta's metadata file is missing or corrupt.
type Descriptor struct {
	Magic          uint32
	MajorVersion   uint8
	MinorVersion   uint8
	AllocationSize uint32

	HasRoot            bool
	RootOffset         uint64
	RootSize           uint32
	RootChecksum       uint32
	RootPageType       uint8

	Checksum uint32
}

// NewDescriptor builds a fresh descriptor for a table file using the given
// allocation unit size.
func NewDescriptor(allocationSize uint32) *Descriptor {
	d := &Descriptor{
		Magic:          magicNumber,
		MajorVersion:   majorVersion,
		MinorVersion:   minorVersion,
		AllocationSize: allocationSize,
	}
	d.Checksum = d.computeChecksum()
	return d
}

// descriptorEncodedSize is the on-disk size of the fixed fields above;
// the remainder of the allocation-unit block is zero-padded.
const descriptorEncodedSize = 4 + 1 + 1 + 4 + 1 + 8 + 4 + 4 + 1 + 4

func (d *Descriptor) fixedFields() []byte {
	buf := make([]byte, descriptorEncodedSize-4)
	binary.LittleEndian.PutUint32(buf[0:4], d.Magic)
	buf[4] = d.MajorVersion
	buf[5] = d.MinorVersion
	binary.LittleEndian.PutUint32(buf[6:10], d.AllocationSize)
	hasRoot := byte(0)
	if d.HasRoot {
		hasRoot = 1
	}
	buf[10] = hasRoot
	binary.LittleEndian.PutUint64(buf[11:19], d.RootOffset)
	binary.LittleEndian.PutUint32(buf[19:23], d.RootSize)
	binary.LittleEndian.PutUint32(buf[23:27], d.RootChecksum)
	buf[27] = d.RootPageType
	return buf
}

func (d *Descriptor) computeChecksum() uint32 {
	return crc32.ChecksumIEEE(d.fixedFields())
}

// Encode serializes the descriptor into a buffer of exactly size bytes
// (the table's allocation unit), zero-padding the remainder.
func (d *Descriptor) Encode(size uint32) []byte {
	buf := make([]byte, size)
	copy(buf, d.fixedFields())
	binary.LittleEndian.PutUint32(buf[descriptorEncodedSize-4:descriptorEncodedSize], d.Checksum)
	return buf
}

// DecodeDescriptor parses a descriptor block, validating magic and checksum.
func DecodeDescriptor(buf []byte) (*Descriptor, error) {
	if len(buf) < descriptorEncodedSize {
		return nil, errors.NewCorruptMetadataError(nil, "descriptor block truncated")
	}

	d := &Descriptor{
		Magic:          binary.LittleEndian.Uint32(buf[0:4]),
		MajorVersion:   buf[4],
		MinorVersion:   buf[5],
		AllocationSize: binary.LittleEndian.Uint32(buf[6:10]),
		HasRoot:        buf[10] != 0,
		RootOffset:     binary.LittleEndian.Uint64(buf[11:19]),
		RootSize:       binary.LittleEndian.Uint32(buf[19:23]),
		RootChecksum:   binary.LittleEndian.Uint32(buf[23:27]),
		RootPageType:   buf[27],
		Checksum:       binary.LittleEndian.Uint32(buf[descriptorEncodedSize-4 : descriptorEncodedSize]),
	}

	if d.Magic != magicNumber {
		return nil, errors.NewCorruptMetadataError(nil, "descriptor magic number mismatch")
	}
	if d.computeChecksum() != d.Checksum {
		return nil, errors.NewChecksumMismatchError("descriptor", 0)
	}
	return d, nil
}

// BlockHeader is the on-disk header preceding every non-descriptor block's
// payload (spec.md §6's "on-disk block header", all little-endian).
type BlockHeader struct {
	DiskSize   uint32
	Checksum   uint32
	MemSize    uint32
	Entries    uint32
	PageType   uint8
	Flags      uint8
	Version    uint8
	Reserved   uint8
	RecnoStart uint64
}

const blockHeaderSize = 4 + 4 + 4 + 4 + 1 + 1 + 1 + 1 + 8

// EncodeBlockHeader serializes h.
func EncodeBlockHeader(h *BlockHeader) []byte {
	buf := make([]byte, blockHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.DiskSize)
	binary.LittleEndian.PutUint32(buf[4:8], h.Checksum)
	binary.LittleEndian.PutUint32(buf[8:12], h.MemSize)
	binary.LittleEndian.PutUint32(buf[12:16], h.Entries)
	buf[16] = h.PageType
	buf[17] = h.Flags
	buf[18] = h.Version
	buf[19] = h.Reserved
	binary.LittleEndian.PutUint64(buf[20:28], h.RecnoStart)
	return buf
}

// DecodeBlockHeader parses a block header from buf's first blockHeaderSize bytes.
func DecodeBlockHeader(buf []byte) (*BlockHeader, error) {
	if len(buf) < blockHeaderSize {
		return nil, errors.NewCorruptMetadataError(nil, "block header truncated")
	}
	return &BlockHeader{
		DiskSize:   binary.LittleEndian.Uint32(buf[0:4]),
		Checksum:   binary.LittleEndian.Uint32(buf[4:8]),
		MemSize:    binary.LittleEndian.Uint32(buf[8:12]),
		Entries:    binary.LittleEndian.Uint32(buf[12:16]),
		PageType:   buf[16],
		Flags:      buf[17],
		Version:    buf[18],
		Reserved:   buf[19],
		RecnoStart: binary.LittleEndian.Uint64(buf[20:28]),
	}, nil
}

// ChecksumPayload computes the 32-bit CRC spec.md §4.2 requires over
// (header || payload), the header passed with its own Checksum field
// zeroed so the checksum doesn't depend on itself.
func ChecksumPayload(header *BlockHeader, payload []byte) uint32 {
	zeroed := *header
	zeroed.Checksum = 0
	buf := append(EncodeBlockHeader(&zeroed), payload...)
	return crc32.ChecksumIEEE(buf)
}
