package control

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/diffrant/diffrantd/internal/adapters/log"
	"github.com/diffrant/diffrantd/internal/domain"
)

type fakeDispatcher struct {
	current string
	opens   []string
}

func (f *fakeDispatcher) Open(path string) (domain.OpenResult, error) {
	f.opens = append(f.opens, path)
	if path == "bad.tiff" {
		return domain.OpenResult{}, domain.NewReaderError(domain.ErrUnsupportedFormat, "open", path, nil)
	}
	f.current = path
	return domain.OpenResult{Path: path, Format: "nexus", Session: "s-1", FrameCount: 100}, nil
}

func (f *fakeDispatcher) Current() (string, bool) { return f.current, f.current != "" }

func (f *fakeDispatcher) Unload() bool {
	was := f.current != ""
	f.current = ""
	return was
}

func frame(t *testing.T, v any) []byte {
	t.Helper()
	payload, err := msgpack.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	buf := binary.BigEndian.AppendUint32(nil, uint32(len(payload)))
	return append(buf, payload...)
}

func readResponses(t *testing.T, r io.Reader) []Response {
	t.Helper()
	var out []Response
	for {
		payload, err := ReadFrame(r)
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("ReadFrame() error = %v", err)
		}
		var resp Response
		if err := msgpack.Unmarshal(payload, &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		out = append(out, resp)
	}
}

func ptr[T any](v T) *T { return &v }

func TestRun_Session(t *testing.T) {
	var in bytes.Buffer
	in.Write(frame(t, Request{ID: 1, Type: TypePort}))
	in.Write(frame(t, Request{ID: 2, Type: TypeOpen, Path: "/data/scan.nxs"}))
	in.Write(frame(t, Request{ID: 3, Type: TypeCurrent}))
	in.Write(frame(t, Request{ID: 4, Type: TypeOpen, Path: "bad.tiff"}))
	in.Write(frame(t, Request{ID: 5, Type: TypeClose}))
	in.Write(frame(t, Request{ID: 6, Type: "rename"}))
	in.Write(frame(t, Request{ID: 7, Type: TypeOpen}))

	d := &fakeDispatcher{}
	c := New(d, func() int { return 4242 }, log.NoopLogger{})
	var out bytes.Buffer
	if err := c.Run(context.Background(), &in, &out); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := readResponses(t, &out)
	want := []Response{
		{Type: TypeReady, Port: 4242},
		{ID: 1, Type: TypeResult, Port: 4242},
		{ID: 2, Type: TypeResult, FrameCount: ptr(100), Session: "s-1", Format: "nexus", Path: "/data/scan.nxs"},
		{ID: 3, Type: TypeResult, Path: "/data/scan.nxs", Open: ptr(true)},
		{ID: 4, Type: TypeError, ErrorKind: "unsupported_format"},
		{ID: 5, Type: TypeResult, Open: ptr(false)},
		{ID: 6, Type: TypeError, ErrorKind: "internal"},
		{ID: 7, Type: TypeError, ErrorKind: "internal"},
	}
	ignoreMessage := cmp.FilterPath(func(p cmp.Path) bool {
		return p.Last().String() == ".Message"
	}, cmp.Ignore())
	if diff := cmp.Diff(want, got, ignoreMessage); diff != "" {
		t.Errorf("responses mismatch (-want +got):\n%s", diff)
	}
	if got[4].Message == "" {
		t.Error("error response carries no message")
	}
	if d.current != "" {
		t.Errorf("close left %q open", d.current)
	}
}

func TestRun_MalformedPayloadIsNotFatal(t *testing.T) {
	var in bytes.Buffer
	in.Write([]byte{0, 0, 0, 1, 0xc1}) // 0xc1 is never valid msgpack
	in.Write(frame(t, Request{ID: 9, Type: TypePort}))

	var out bytes.Buffer
	c := New(&fakeDispatcher{}, func() int { return 1 }, log.NoopLogger{})
	if err := c.Run(context.Background(), &in, &out); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := readResponses(t, &out)
	if len(got) != 3 || got[1].Type != TypeError || got[2].ID != 9 {
		t.Errorf("responses = %+v", got)
	}
}

func TestRun_FatalFrames(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"truncated prefix", []byte{0, 0}},
		{"truncated payload", []byte{0, 0, 0, 10, 1, 2}},
		{"oversized", []byte{0x7f, 0xff, 0xff, 0xff}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(&fakeDispatcher{}, func() int { return 1 }, log.NoopLogger{})
			err := c.Run(context.Background(), bytes.NewReader(tt.input), io.Discard)
			if !IsFatalFrameError(err) {
				t.Errorf("Run() error = %v, want fatal frame error", err)
			}
		})
	}
}

func TestRun_ContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := New(&fakeDispatcher{}, func() int { return 1 }, log.NoopLogger{})
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, pr, io.Discard) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// The input was closed, so the blocked read has returned.
	if _, err := pw.Write([]byte{0, 0, 0, 1}); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("write after cancel error = %v, want io.ErrClosedPipe", err)
	}
}

func TestFrameError(t *testing.T) {
	inner := errors.New("unexpected EOF")
	fe := &FrameError{Kind: FrameErrorPartial, Msg: "read payload", Err: inner}
	if fe.Error() != "read payload: unexpected EOF" {
		t.Errorf("Error() = %q", fe.Error())
	}
	if !errors.Is(fe, inner) {
		t.Error("FrameError does not unwrap")
	}
	if (&FrameError{Kind: FrameErrorDecode}).IsFatal() {
		t.Error("decode errors must not be fatal")
	}
	if IsFatalFrameError(errors.New("plain")) {
		t.Error("plain error reported fatal")
	}
}

func TestWriteMessage_TooLarge(t *testing.T) {
	fw := NewFrameWriter(io.Discard)
	big := Response{Type: TypeError, Message: string(make([]byte, MaxPayloadSize+1))}
	err := fw.WriteMessage(big)
	var fe *FrameError
	if !errors.As(err, &fe) || fe.Kind != FrameErrorTooLarge {
		t.Errorf("WriteMessage() error = %v, want FrameErrorTooLarge", err)
	}
}
