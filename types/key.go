package types

import (
	"encoding/binary"
	"fmt"
)

/*
Order-preserving key encodings. The B+Tree compares keys as raw bytes, so
numeric keys are stored big-endian (signed values with the sign bit flipped)
to make byte order match numeric order.
*/

func Uint64Key(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func Int64Key(v int64) []byte {
	return Uint64Key(uint64(v) ^ (1 << 63))
}

func StringKey(s string) []byte {
	return []byte(s)
}

func DecodeUint64Key(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("numeric key must be 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

func DecodeInt64Key(b []byte) (int64, error) {
	u, err := DecodeUint64Key(b)
	if err != nil {
		return 0, err
	}
	return int64(u ^ (1 << 63)), nil
}
