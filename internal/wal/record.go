package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/stonebark/stonebark/pkg/errors"
)

// RecordType tags a log record's payload, the "record-type tag followed by
// typed operation records" of spec.md §4.6.
type RecordType uint8

const (
	RecordRowPut RecordType = iota + 1
	RecordRowRemove
	RecordColPut
	RecordColModify
	RecordColTruncate
	RecordTxnTimestamp
	RecordTxnCommit
	RecordCheckpointStart
	RecordPrevLSN
	RecordBackupID
)

// LSN is the log sequence number of spec.md's glossary: (file-id, offset)
// within the log stream.
type LSN struct {
	FileID uint32
	Offset uint64
}

// Less reports whether l precedes o in the log stream.
func (l LSN) Less(o LSN) bool {
	if l.FileID != o.FileID {
		return l.FileID < o.FileID
	}
	return l.Offset < o.Offset
}

// Zero reports whether l is the unset LSN, used as "no previous record" and
// "replay from the very start of the log".
func (l LSN) Zero() bool { return l.FileID == 0 && l.Offset == 0 }

// String renders l for log messages and error detail fields.
func (l LSN) String() string { return fmt.Sprintf("%d:%d", l.FileID, l.Offset) }

// Record is one typed log entry. Not every field is meaningful for every
// Type; see the record constructors in ops.go for which fields each
// RecordType uses.
type Record struct {
	Type     RecordType
	TxnID    uint64
	BtreeID  uint32
	CommitTS uint64
	Key      []byte
	Value    []byte
	Extra    []byte

	// LSN and PrevLSN are populated by Scan; Append ignores them on input.
	LSN     LSN
	PrevLSN LSN
}

// recordHeaderSize is the fixed prefix of every on-disk record: declared
// payload length, checksum, and the previous record's LSN (spec.md §4.6
// "{length, checksum, previous-record LSN, payload}").
const recordHeaderSize = 4 + 4 + 4 + 8

func encodePayload(r Record) []byte {
	var tmp [binary.MaxVarintLen64]byte
	buf := make([]byte, 0, 32+len(r.Key)+len(r.Value)+len(r.Extra))

	buf = append(buf, byte(r.Type))

	var fixed [20]byte
	binary.LittleEndian.PutUint64(fixed[0:8], r.TxnID)
	binary.LittleEndian.PutUint32(fixed[8:12], r.BtreeID)
	binary.LittleEndian.PutUint64(fixed[12:20], r.CommitTS)
	buf = append(buf, fixed[:]...)

	for _, field := range [][]byte{r.Key, r.Value, r.Extra} {
		n := binary.PutUvarint(tmp[:], uint64(len(field)))
		buf = append(buf, tmp[:n]...)
		buf = append(buf, field...)
	}
	return buf
}

func decodePayload(buf []byte) (Record, error) {
	var r Record
	if len(buf) < 1+20 {
		return r, errors.NewLogRecordTruncatedError("", "")
	}
	r.Type = RecordType(buf[0])
	buf = buf[1:]

	r.TxnID = binary.LittleEndian.Uint64(buf[0:8])
	r.BtreeID = binary.LittleEndian.Uint32(buf[8:12])
	r.CommitTS = binary.LittleEndian.Uint64(buf[12:20])
	buf = buf[20:]

	fields := make([][]byte, 3)
	for i := range fields {
		n, read := binary.Uvarint(buf)
		if read <= 0 {
			return Record{}, errors.NewLogRecordTruncatedError("", "")
		}
		buf = buf[read:]
		if uint64(len(buf)) < n {
			return Record{}, errors.NewLogRecordTruncatedError("", "")
		}
		fields[i] = append([]byte(nil), buf[:n]...)
		buf = buf[n:]
	}
	r.Key, r.Value, r.Extra = fields[0], fields[1], fields[2]
	return r, nil
}

// encodeRecord packs r into the on-disk record format: length, checksum,
// previous-record LSN, payload. checksum covers the previous-LSN field and
// the payload, mirroring internal/block's header-plus-payload checksum
// scope.
func encodeRecord(r Record, prevLSN LSN) []byte {
	payload := encodePayload(r)

	buf := make([]byte, recordHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[8:12], prevLSN.FileID)
	binary.LittleEndian.PutUint64(buf[12:20], prevLSN.Offset)
	copy(buf[recordHeaderSize:], payload)

	checksum := crc32.ChecksumIEEE(buf[8:])
	binary.LittleEndian.PutUint32(buf[4:8], checksum)
	return buf
}

// decodeRecordHeader reads just the fixed header at the start of buf,
// returning the declared payload length and the previous-record LSN.
func decodeRecordHeader(buf []byte) (payloadLen uint32, checksum uint32, prevLSN LSN, err error) {
	if len(buf) < recordHeaderSize {
		return 0, 0, LSN{}, errors.NewLogRecordTruncatedError("", "")
	}
	payloadLen = binary.LittleEndian.Uint32(buf[0:4])
	checksum = binary.LittleEndian.Uint32(buf[4:8])
	prevLSN.FileID = binary.LittleEndian.Uint32(buf[8:12])
	prevLSN.Offset = binary.LittleEndian.Uint64(buf[12:20])
	return payloadLen, checksum, prevLSN, nil
}
