// Package control is the stdio command channel the desktop shell drives
// the process through.
//
// Each message is a msgpack map preceded by its length as a 4-byte
// big-endian integer. Requests carry an id that is echoed in the reply.
package control

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	// LengthPrefixSize is the size of the frame length prefix in bytes.
	LengthPrefixSize = 4
	// MaxPayloadSize is the largest accepted frame payload (1 MiB).
	MaxPayloadSize = 1 << 20
)

// FrameErrorKind classifies frame errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame above MaxPayloadSize.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a payload that is not a valid message.
	FrameErrorDecode
)

// FrameError is a framing or decoding failure on the control channel.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether the stream cannot be resynchronized.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorPartial || e.Kind == FrameErrorTooLarge
}

// IsFatalFrameError reports whether err is a fatal *FrameError.
func IsFatalFrameError(err error) bool {
	var fe *FrameError
	if errors.As(err, &fe) {
		return fe.IsFatal()
	}
	return false
}

// ReadFrame reads one payload. It returns io.EOF only at a clean boundary.
func ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "read length prefix", Err: err}
	}

	size := binary.BigEndian.Uint32(prefix[:])
	if size > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", size, MaxPayloadSize),
		}
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "read payload", Err: err}
	}
	return payload, nil
}

// FrameWriter encodes values as frames. It is safe for concurrent use.
type FrameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewFrameWriter creates a writer on w.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteMessage marshals v and writes it as one frame.
func (fw *FrameWriter) WriteMessage(v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return &FrameError{Kind: FrameErrorTooLarge, Msg: fmt.Sprintf("message of %d bytes", len(payload))}
	}

	buf := make([]byte, LengthPrefixSize, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	buf = append(buf, payload...)

	fw.mu.Lock()
	defer fw.mu.Unlock()
	_, err = fw.w.Write(buf)
	return err
}

// DecodeRequest decodes a request payload.
func DecodeRequest(payload []byte) (Request, error) {
	var req Request
	if err := msgpack.Unmarshal(payload, &req); err != nil {
		return Request{}, &FrameError{Kind: FrameErrorDecode, Msg: "decode request", Err: err}
	}
	return req, nil
}
