package codec

import "fmt"

// blockedMult is the element granularity bitshuffle operates on.
const blockedMult = 8

// Unshuffle reverses a bitshuffle transpose of n elements of elemSize bytes.
// The shuffled layout is 8*elemSize bit rows of n/8 bytes each; row
// (byte j, bit b) holds bit b of byte j of every element, LSB first.
// n must be a multiple of 8.
func Unshuffle(dst, src []byte, n, elemSize int) error {
	if n%blockedMult != 0 {
		return fmt.Errorf("bitshuffle: %d elements is not a multiple of %d", n, blockedMult)
	}
	size := n * elemSize
	if len(src) < size || len(dst) < size {
		return fmt.Errorf("bitshuffle: buffers shorter than %d bytes", size)
	}
	clear(dst[:size])

	rowBytes := n / 8
	for j := 0; j < elemSize; j++ {
		for b := 0; b < 8; b++ {
			row := src[(j*8+b)*rowBytes : (j*8+b+1)*rowBytes]
			for k, bits := range row {
				if bits == 0 {
					continue
				}
				for i := 0; i < 8; i++ {
					if bits&(1<<i) != 0 {
						dst[(k*8+i)*elemSize+j] |= 1 << b
					}
				}
			}
		}
	}
	return nil
}

// Shuffle applies the bitshuffle transpose; it is the inverse of Unshuffle.
func Shuffle(dst, src []byte, n, elemSize int) error {
	if n%blockedMult != 0 {
		return fmt.Errorf("bitshuffle: %d elements is not a multiple of %d", n, blockedMult)
	}
	size := n * elemSize
	if len(src) < size || len(dst) < size {
		return fmt.Errorf("bitshuffle: buffers shorter than %d bytes", size)
	}
	clear(dst[:size])

	rowBytes := n / 8
	for e := 0; e < n; e++ {
		for j := 0; j < elemSize; j++ {
			v := src[e*elemSize+j]
			for b := 0; b < 8; b++ {
				if v&(1<<b) != 0 {
					dst[(j*8+b)*rowBytes+e/8] |= 1 << (e % 8)
				}
			}
		}
	}
	return nil
}
