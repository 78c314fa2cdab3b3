package distvec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// PackScalars / UnpackScalars serialise a slice of Scalar the way
// halo.Exchange and interp's redistribution phase move weights over
// comm.Communicator: a flat byte buffer, real components as 8-byte
// little-endian float64 bit patterns, complex components as an
// interleaved real/imag pair (16 bytes each). Kept here alongside
// Scalar so every collaborator that moves S values over the wire
// shares one encoding.
func PackScalars[S Scalar](vals []S) []byte {
	switch v := any(vals).(type) {
	case []float64:
		buf := make([]byte, 8*len(v))
		for i, x := range v {
			binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(x))
		}
		return buf
	case []complex128:
		buf := make([]byte, 16*len(v))
		for i, x := range v {
			binary.LittleEndian.PutUint64(buf[i*16:], math.Float64bits(real(x)))
			binary.LittleEndian.PutUint64(buf[i*16+8:], math.Float64bits(imag(x)))
		}
		return buf
	default:
		panic(fmt.Sprintf("distvec: unsupported scalar type %T", vals))
	}
}

// UnpackScalars is the inverse of PackScalars, given the element count.
func UnpackScalars[S Scalar](buf []byte, n int) []S {
	out := make([]S, n)
	switch v := any(out).(type) {
	case []float64:
		for i := range v {
			v[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
		}
	case []complex128:
		for i := range v {
			re := math.Float64frombits(binary.LittleEndian.Uint64(buf[i*16:]))
			im := math.Float64frombits(binary.LittleEndian.Uint64(buf[i*16+8:]))
			v[i] = complex(re, im)
		}
	default:
		panic(fmt.Sprintf("distvec: unsupported scalar type %T", out))
	}
	return out
}

// ScalarSize returns the wire size in bytes of one S value.
func ScalarSize[S Scalar]() int {
	var zero S
	switch any(zero).(type) {
	case float64:
		return 8
	case complex128:
		return 16
	default:
		panic(fmt.Sprintf("distvec: unsupported scalar type %T", zero))
	}
}
