package txn

import (
	"encoding/binary"

	"github.com/stonebark/stonebark/pkg/errors"
)

// EncodeModOps packs a MODIFY fragment vector into the wire form
// wal.NewColModifyRecord's encodedMods carries: a sequence of (offset,
// size, dataLen, data) cells, mirroring internal/btree's uvarint-prefixed
// cell formats.
func EncodeModOps(mods []ModOp) []byte {
	buf := make([]byte, 0, 24*len(mods))
	var tmp [binary.MaxVarintLen64]byte
	for _, m := range mods {
		n := binary.PutUvarint(tmp[:], uint64(m.Offset))
		buf = append(buf, tmp[:n]...)
		n = binary.PutUvarint(tmp[:], uint64(m.Size))
		buf = append(buf, tmp[:n]...)
		n = binary.PutUvarint(tmp[:], uint64(len(m.Data)))
		buf = append(buf, tmp[:n]...)
		buf = append(buf, m.Data...)
	}
	return buf
}

// DecodeModOps is EncodeModOps's inverse, used by recovery to replay a
// logged Modify call.
func DecodeModOps(buf []byte) ([]ModOp, error) {
	var out []ModOp
	for len(buf) > 0 {
		offset, n := binary.Uvarint(buf)
		if n <= 0 {
			return nil, errors.NewTxnError(nil, errors.ErrorCodeCorruptMetadata, "mod op offset truncated")
		}
		buf = buf[n:]

		size, n := binary.Uvarint(buf)
		if n <= 0 {
			return nil, errors.NewTxnError(nil, errors.ErrorCodeCorruptMetadata, "mod op size truncated")
		}
		buf = buf[n:]

		dataLen, n := binary.Uvarint(buf)
		if n <= 0 {
			return nil, errors.NewTxnError(nil, errors.ErrorCodeCorruptMetadata, "mod op data length truncated")
		}
		buf = buf[n:]
		if uint64(len(buf)) < dataLen {
			return nil, errors.NewTxnError(nil, errors.ErrorCodeCorruptMetadata, "mod op data truncated")
		}
		data := append([]byte(nil), buf[:dataLen]...)
		buf = buf[dataLen:]

		out = append(out, ModOp{Offset: int(offset), Size: int(size), Data: data})
	}
	return out, nil
}
