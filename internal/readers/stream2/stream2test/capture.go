// Package stream2test builds stream-v2 capture files for tests.
package stream2test

import (
	"bytes"
	"encoding/binary"

	"github.com/fxamacker/cbor/v2"
)

var selfDescribe = []byte{0xd9, 0xd9, 0xf7}

// Capture accumulates encoded messages.
type Capture struct {
	buf bytes.Buffer
	// Bare disables the self-describe tag prefix on new messages.
	Bare bool
}

func (c *Capture) add(msg map[string]any) *Capture {
	b, err := cbor.Marshal(msg)
	if err != nil {
		panic(err)
	}
	if !c.Bare {
		c.buf.Write(selfDescribe)
	}
	c.buf.Write(b)
	return c
}

// Start appends a start message with the given fields plus type.
func (c *Capture) Start(fields map[string]any) *Capture {
	msg := map[string]any{"type": "start"}
	for k, v := range fields {
		msg[k] = v
	}
	return c.add(msg)
}

// Image appends an image message carrying arrays keyed by channel.
func (c *Capture) Image(id int, data map[string]any) *Capture {
	return c.add(map[string]any{"type": "image", "image_id": id, "series_id": 1, "data": data})
}

// End appends an end message.
func (c *Capture) End() *Capture {
	return c.add(map[string]any{"type": "end", "series_id": 1})
}

// Raw appends arbitrary bytes.
func (c *Capture) Raw(b []byte) *Capture {
	c.buf.Write(b)
	return c
}

// Bytes returns the capture so far.
func (c *Capture) Bytes() []byte { return c.buf.Bytes() }

// StartFields returns the minimal start fields for rows x cols images.
func StartFields(rows, cols, images int) map[string]any {
	return map[string]any{
		"series_id":        1,
		"image_size_x":     cols,
		"image_size_y":     rows,
		"number_of_images": images,
		"channels":         []string{"threshold_1"},
	}
}

func multiDim(rows, cols int, typed cbor.Tag) cbor.Tag {
	return cbor.Tag{Number: 40, Content: []any{[]int{rows, cols}, typed}}
}

// Uint16 returns an uncompressed uint16 little-endian array.
func Uint16(rows, cols int, px []uint16) cbor.Tag {
	b := make([]byte, 0, 2*len(px))
	for _, v := range px {
		b = binary.LittleEndian.AppendUint16(b, v)
	}
	return multiDim(rows, cols, cbor.Tag{Number: 69, Content: b})
}

// Uint32 returns an uncompressed uint32 little-endian array.
func Uint32(rows, cols int, px []uint32) cbor.Tag {
	b := make([]byte, 0, 4*len(px))
	for _, v := range px {
		b = binary.LittleEndian.AppendUint32(b, v)
	}
	return multiDim(rows, cols, cbor.Tag{Number: 70, Content: b})
}

// Compressed wraps an already compressed payload of elemSize samples.
func Compressed(rows, cols, elemSize int, algorithm string, data []byte) cbor.Tag {
	typedTag := map[int]uint64{1: 64, 2: 69, 4: 70}[elemSize]
	inner := cbor.Tag{Number: 56500, Content: []any{algorithm, elemSize, data}}
	return multiDim(rows, cols, cbor.Tag{Number: typedTag, Content: inner})
}
