package pixel

import (
	"bytes"
	"testing"
)

func TestNarrow_Sentinels(t *testing.T) {
	dst := make([]uint16, 4)

	Narrow(dst, []int32{-1, 0, 65535, 70000})
	want := []uint16{0xFFFF, 0, 0xFFFF, uint16(70000 & 0xFFFF)}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("int32 dst[%d] = %#x, want %#x", i, dst[i], want[i])
		}
	}

	Narrow(dst, []uint32{0xFFFFFFFF, 1, 2, 3})
	if dst[0] != 0xFFFF || dst[3] != 3 {
		t.Errorf("uint32 narrow = %v", dst)
	}

	Narrow(dst, []int16{-2, 5, 6, 7})
	if dst[0] != 0xFFFE {
		t.Errorf("int16 narrow = %#x, want 0xfffe", dst[0])
	}

	Narrow(dst, []uint8{255, 1, 2, 3})
	if dst[0] != 255 {
		t.Errorf("uint8 narrow = %d, want 255", dst[0])
	}
}

func TestNarrow_LengthMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Narrow did not panic on length mismatch")
		}
	}()
	Narrow(make([]uint16, 2), []int32{1})
}

func TestDecodeLE(t *testing.T) {
	tests := []struct {
		name     string
		raw      []byte
		elemSize int
		want     []uint16
	}{
		{"uint8", []byte{1, 255}, 1, []uint16{1, 255}},
		{"uint16", []byte{0x34, 0x12, 0xFF, 0xFF}, 2, []uint16{0x1234, 0xFFFF}},
		{"uint32 gap marker", []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x02, 0x00, 0x01, 0x00}, 4, []uint16{0xFFFF, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := make([]uint16, len(tt.want))
			if err := DecodeLE(dst, tt.raw, tt.elemSize); err != nil {
				t.Fatalf("DecodeLE: %v", err)
			}
			for i := range tt.want {
				if dst[i] != tt.want[i] {
					t.Errorf("dst[%d] = %#x, want %#x", i, dst[i], tt.want[i])
				}
			}
		})
	}
}

func TestDecodeLE_Errors(t *testing.T) {
	if err := DecodeLE(make([]uint16, 2), []byte{1, 2, 3}, 2); err == nil {
		t.Error("expected error for short input")
	}
	if err := DecodeLE(make([]uint16, 1), make([]byte, 8), 8); err == nil {
		t.Error("expected error for 8-byte elements")
	}
}

func TestEncodeLE(t *testing.T) {
	got := EncodeLE([]uint16{0x0102, 0xFFFF})
	want := []byte{0x02, 0x01, 0xFF, 0xFF}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeLE = %x, want %x", got, want)
	}
}
