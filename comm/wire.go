package comm

import (
	"encoding/binary"
	"fmt"
)

// encodeInts / decodeInts give AllToAll a fixed byte-oriented payload
// shape shared with the four all-to-all-v exchanges of spec.md §4.2,
// per §9's struct-of-arrays wire-layout preference: everything on the
// wire is a flat byte buffer, never a bespoke typed message.
func encodeInts(vals []int) []byte {
	buf := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(v))
	}
	return buf
}

func decodeInts(buf []byte) ([]int, error) {
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("comm: int payload not a multiple of 8 bytes (%d)", len(buf))
	}
	n := len(buf) / 8
	vals := make([]int, n)
	for i := 0; i < n; i++ {
		vals[i] = int(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vals, nil
}

// EncodeInts / DecodeInts are exported so interp's redistribution
// phase can serialise outGlobal / fan-in-count arrays without
// duplicating the wire format.
func EncodeInts(vals []int) []byte         { return encodeInts(vals) }
func DecodeInts(buf []byte) ([]int, error) { return decodeInts(buf) }
