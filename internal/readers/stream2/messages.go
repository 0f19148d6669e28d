package stream2

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// selfDescribe is the encoded tag 55799 that may prefix each message.
var selfDescribe = []byte{0xd9, 0xd9, 0xf7}

const (
	tagMultiDim    = 40
	tagUint8       = 64
	tagUint16LE    = 69
	tagUint32LE    = 70
	tagCompression = 56500
)

const (
	typeStart = "start"
	typeImage = "image"
	typeEnd   = "end"
)

var decMode = mustDecMode()

func mustDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{
		MaxArrayElements: 1 << 20,
		MaxMapPairs:      1 << 20,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}

func stripSelfDescribe(b []byte) []byte {
	return bytes.TrimPrefix(b, selfDescribe)
}

// number accepts any CBOR integer or float and remembers whether it was present.
type number struct {
	V   float64
	Set bool
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (n *number) UnmarshalCBOR(b []byte) error {
	var v any
	if err := decMode.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		return nil
	case uint64:
		n.V = float64(x)
	case int64:
		n.V = float64(x)
	case float64:
		n.V = x
	case float32:
		n.V = float64(x)
	default:
		return fmt.Errorf("expected number, got %T", v)
	}
	n.Set = true
	return nil
}

func (n number) ptr(scale float64) *float64 {
	if !n.Set {
		return nil
	}
	v := n.V * scale
	return &v
}

type header struct {
	Type string `cbor:"type"`
}

type startMessage struct {
	ImageSizeX         uint64   `cbor:"image_size_x"`
	ImageSizeY         uint64   `cbor:"image_size_y"`
	NumberOfImages     uint64   `cbor:"number_of_images"`
	PixelSizeX         number   `cbor:"pixel_size_x"`
	DetectorDistance   number   `cbor:"detector_distance"`
	BeamCenterX        number   `cbor:"beam_center_x"`
	BeamCenterY        number   `cbor:"beam_center_y"`
	IncidentWavelength number   `cbor:"incident_wavelength"`
	IncidentEnergy     number   `cbor:"incident_energy"`
	SaturationValue    number   `cbor:"saturation_value"`
	Channels           []string `cbor:"channels"`
}

type imageMessage struct {
	ImageID uint64                     `cbor:"image_id"`
	Data    map[string]cbor.RawMessage `cbor:"data"`
}

// typedArray is the element layout of an RFC 8746 typed array tag.
type typedArray struct {
	elemSize int
}

var typedArrays = map[uint64]typedArray{
	tagUint8:    {elemSize: 1},
	tagUint16LE: {elemSize: 2},
	tagUint32LE: {elemSize: 4},
}

// payload is one channel's pixel array before decompression.
type payload struct {
	rows, cols int
	elemSize   int
	algorithm  string // empty when stored uncompressed
	data       []byte
}

// parsePayload unpacks tag 40 [dims, typed array].
func parsePayload(raw cbor.RawMessage) (payload, error) {
	var md cbor.RawTag
	if err := decMode.Unmarshal(raw, &md); err != nil {
		return payload{}, fmt.Errorf("pixel array: %w", err)
	}
	if md.Number != tagMultiDim {
		return payload{}, fmt.Errorf("pixel array: tag %d, want %d", md.Number, tagMultiDim)
	}
	var parts []cbor.RawMessage
	if err := decMode.Unmarshal(md.Content, &parts); err != nil || len(parts) != 2 {
		return payload{}, fmt.Errorf("pixel array: expected [dims, typed array]")
	}
	var dims []uint64
	if err := decMode.Unmarshal(parts[0], &dims); err != nil || len(dims) != 2 {
		return payload{}, fmt.Errorf("pixel array: expected 2 dimensions")
	}

	var ta cbor.RawTag
	if err := decMode.Unmarshal(parts[1], &ta); err != nil {
		return payload{}, fmt.Errorf("typed array: %w", err)
	}
	layout, ok := typedArrays[ta.Number]
	if !ok {
		return payload{}, fmt.Errorf("typed array tag %d not supported", ta.Number)
	}

	p := payload{rows: int(dims[0]), cols: int(dims[1]), elemSize: layout.elemSize}
	if len(ta.Content) > 0 && ta.Content[0]>>5 == 6 {
		var ct cbor.RawTag
		if err := decMode.Unmarshal(ta.Content, &ct); err != nil {
			return payload{}, fmt.Errorf("compressed array: %w", err)
		}
		if ct.Number != tagCompression {
			return payload{}, fmt.Errorf("compressed array: tag %d, want %d", ct.Number, tagCompression)
		}
		var c struct {
			_         struct{} `cbor:",toarray"`
			Algorithm string
			ElemSize  uint64
			Data      []byte
		}
		if err := decMode.Unmarshal(ct.Content, &c); err != nil {
			return payload{}, fmt.Errorf("compressed array: %w", err)
		}
		if int(c.ElemSize) != layout.elemSize {
			return payload{}, fmt.Errorf("compressed element size %d disagrees with typed array %d", c.ElemSize, layout.elemSize)
		}
		p.algorithm, p.data = c.Algorithm, c.Data
		return p, nil
	}

	if err := decMode.Unmarshal(ta.Content, &p.data); err != nil {
		return payload{}, fmt.Errorf("typed array: %w", err)
	}
	return p, nil
}
