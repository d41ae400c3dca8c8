package ptls

import (
	"encoding/binary"
	"fmt"
)

// appendLP appends a 2-byte big-endian length prefix followed by data.
func appendLP(dst []byte, data []byte) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(data)))
	return append(dst, data...)
}

// readLP reads one length-prefixed field from data at the given offset,
// returning the field bytes and the offset immediately following it.
func readLP(data []byte, offset int) ([]byte, int, error) {
	if offset+2 > len(data) {
		return nil, 0, fmt.Errorf("ptls: truncated length prefix at offset %d", offset)
	}
	n := int(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2
	if offset+n > len(data) {
		return nil, 0, fmt.Errorf("ptls: truncated field of length %d at offset %d", n, offset)
	}
	return data[offset : offset+n], offset + n, nil
}
