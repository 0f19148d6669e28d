// Package codectest produces compressed payloads in the layouts package
// codec decodes, for building fixtures in tests.
package codectest

import (
	"encoding/binary"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/diffrant/diffrantd/internal/codec"
)

// BSLZ4 bitshuffles and LZ4-compresses raw in blocks of blockElems elements.
// blockElems must be a positive multiple of 8.
func BSLZ4(raw []byte, elemSize, blockElems int) []byte {
	out := header(len(raw), blockElems*elemSize)
	n := len(raw) / elemSize
	done := 0
	for done+8 <= n {
		count := min(blockElems, n-done)
		count -= count % 8
		shuffled := make([]byte, count*elemSize)
		if err := codec.Shuffle(shuffled, raw[done*elemSize:], count, elemSize); err != nil {
			panic(err)
		}
		out = appendBlock(out, compress(shuffled))
		done += count
	}
	return append(out, raw[done*elemSize:]...)
}

// LZ4 compresses raw in blocks of blockSize bytes, storing a block raw when
// compression does not shrink it.
func LZ4(raw []byte, blockSize int) []byte {
	out := header(len(raw), blockSize)
	for off := 0; off < len(raw); off += blockSize {
		chunk := raw[off:min(off+blockSize, len(raw))]
		block := compress(chunk)
		if len(block) >= len(chunk) {
			block = chunk
		}
		out = appendBlock(out, block)
	}
	return out
}

// Zstd returns raw as a single Zstandard frame.
func Zstd(raw []byte) []byte {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		panic(err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil)
}

func header(total, blockBytes int) []byte {
	h := make([]byte, 12)
	binary.BigEndian.PutUint64(h[0:8], uint64(total))
	binary.BigEndian.PutUint32(h[8:12], uint32(blockBytes))
	return h
}

func appendBlock(out, block []byte) []byte {
	out = binary.BigEndian.AppendUint32(out, uint32(len(block)))
	return append(out, block...)
}

// compress returns an LZ4 block for src. Incompressible input is emitted
// as a single literal run, which is still a valid block.
func compress(src []byte) []byte {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, dst, nil)
	if err != nil {
		panic(err)
	}
	if n > 0 {
		return dst[:n]
	}
	return literalBlock(src)
}

func literalBlock(src []byte) []byte {
	l := len(src)
	if l < 15 {
		return append([]byte{byte(l << 4)}, src...)
	}
	out := []byte{0xF0}
	for rest := l - 15; ; rest -= 255 {
		if rest < 255 {
			out = append(out, byte(rest))
			break
		}
		out = append(out, 255)
	}
	return append(out, src...)
}
