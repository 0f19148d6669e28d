// Package pixel converts stored detector samples to the 16-bit wire form.
//
// Samples wider than 16 bits keep their low 16 bits, so the all-ones gap
// and dead-pixel markers of 32-bit data (-1 or 0xFFFFFFFF) arrive as
// 0xFFFF. No clamping or masking happens here; interpreting sentinels is
// the rendering client's job.
package pixel

import (
	"encoding/binary"
	"fmt"
)

// Integer is the set of sample types a container may store.
type Integer interface {
	~uint8 | ~int8 | ~uint16 | ~int16 | ~uint32 | ~int32 | ~uint64 | ~int64
}

// Narrow converts src into dst, keeping the low 16 bits of each sample.
// It panics if the lengths differ, which is a programming error.
func Narrow[T Integer](dst []uint16, src []T) {
	if len(dst) != len(src) {
		panic(fmt.Sprintf("pixel: narrow length mismatch %d != %d", len(dst), len(src)))
	}
	for i, v := range src {
		dst[i] = uint16(v)
	}
}

// DecodeLE fills dst from little-endian samples of elemSize bytes.
func DecodeLE(dst []uint16, raw []byte, elemSize int) error {
	if len(raw) != len(dst)*elemSize {
		return fmt.Errorf("pixel: %d bytes for %d samples of %d bytes", len(raw), len(dst), elemSize)
	}
	switch elemSize {
	case 1:
		for i, b := range raw {
			dst[i] = uint16(b)
		}
	case 2:
		for i := range dst {
			dst[i] = binary.LittleEndian.Uint16(raw[2*i:])
		}
	case 4:
		for i := range dst {
			dst[i] = uint16(binary.LittleEndian.Uint32(raw[4*i:]))
		}
	default:
		return fmt.Errorf("pixel: unsupported element size %d", elemSize)
	}
	return nil
}

// AppendLE appends samples to b as little-endian uint16 and returns the result.
func AppendLE(b []byte, samples []uint16) []byte {
	for _, v := range samples {
		b = binary.LittleEndian.AppendUint16(b, v)
	}
	return b
}

// EncodeLE returns samples as a fresh little-endian byte slice.
func EncodeLE(samples []uint16) []byte {
	return AppendLE(make([]byte, 0, 2*len(samples)), samples)
}
