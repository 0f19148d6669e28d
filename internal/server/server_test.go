package server

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/diffrant/diffrantd/internal/adapters/log"
	"github.com/diffrant/diffrantd/internal/dispatch"
	"github.com/diffrant/diffrantd/internal/domain"
	"github.com/diffrant/diffrantd/internal/lifecycle"
	"github.com/diffrant/diffrantd/internal/ports"
	"github.com/diffrant/diffrantd/internal/readers/nexus"
	"github.com/diffrant/diffrantd/internal/readers/nexus/nexustest"
)

func pattern(frame, i int) uint16 { return uint16(frame*31 + i) }

// memFiles maps paths to in-memory containers for a nexus format.
type memFiles map[string]*nexustest.Container

func (m memFiles) format() dispatch.Format {
	return dispatch.Format{
		Name:       nexus.Name,
		Extensions: nexus.Extensions,
		Open: func(path string) (ports.FrameReader, error) {
			c, ok := m[path]
			if !ok {
				return nil, fmt.Errorf("no such file %s", path)
			}
			return nexus.Open(path, c.Opener(), log.NoopLogger{})
		},
	}
}

func stackFile(frames, rows, cols int) *nexustest.Container {
	return nexustest.New(map[string]*nexustest.Dataset{
		"entry/data/data": nexustest.Stack(frames, rows, cols, pattern),
	})
}

func newTestServer(t *testing.T, files memFiles) (*httptest.Server, *dispatch.Dispatcher) {
	t.Helper()
	d := dispatch.New([]dispatch.Format{files.format()})
	s := New(Config{MaxDecodes: 2}, d, log.NoopLogger{}, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = d.Close()
	})
	return ts, d
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestNoFileOpen(t *testing.T) {
	ts, _ := newTestServer(t, memFiles{})

	for _, path := range []string{"/metadata", "/image/0"} {
		resp, body := get(t, ts.URL+path)
		require.Equal(t, http.StatusConflict, resp.StatusCode, path)
		require.Contains(t, string(body), "no file open")
		require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	}
}

func TestHundredFrameScenario(t *testing.T) {
	ts, d := newTestServer(t, memFiles{"scan.nxs": stackFile(100, 512, 512)})
	res, err := d.Open("scan.nxs")
	require.NoError(t, err)

	resp, body := get(t, ts.URL+"/metadata?v="+res.Session)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var meta domain.DetectorMetadata
	require.NoError(t, json.Unmarshal(body, &meta))
	require.Equal(t, 100, meta.FrameCount)
	require.Equal(t, [2]int{512, 512}, meta.FrameShape)
	require.Equal(t, res.Session, meta.Session)
	require.Equal(t, 16, meta.ImageDepth)

	r0, b0 := get(t, ts.URL+"/image/0")
	require.Equal(t, http.StatusOK, r0.StatusCode)
	require.Equal(t, "application/octet-stream", r0.Header.Get("Content-Type"))
	require.Equal(t, "524288", r0.Header.Get("Content-Length"))
	require.Len(t, b0, 524288)

	r99, b99 := get(t, ts.URL+"/image/99?v=abc")
	require.Equal(t, http.StatusOK, r99.StatusCode)
	require.Len(t, b99, 524288)
	require.False(t, bytes.Equal(b0, b99))
	require.Equal(t, pattern(99, 1), binary.LittleEndian.Uint16(b99[2:]))

	r100, b100 := get(t, ts.URL+"/image/100")
	require.Equal(t, http.StatusNotFound, r100.StatusCode)
	require.Empty(t, b100)
}

func TestImage_IndexErrors(t *testing.T) {
	ts, d := newTestServer(t, memFiles{"a.nxs": stackFile(3, 2, 2)})
	_, err := d.Open("a.nxs")
	require.NoError(t, err)

	tests := []struct {
		index  string
		status int
	}{
		{"abc", http.StatusBadRequest},
		{"-1", http.StatusBadRequest},
		{"1.5", http.StatusBadRequest},
		{"3", http.StatusNotFound},
		{"99999999999999999999999", http.StatusNotFound},
	}
	for _, tt := range tests {
		resp, body := get(t, ts.URL+"/image/"+tt.index)
		require.Equal(t, tt.status, resp.StatusCode, "index %s", tt.index)
		require.Empty(t, body, "index %s", tt.index)
	}
}

func TestImage_RepeatedFetchIdentical(t *testing.T) {
	ts, d := newTestServer(t, memFiles{"a.nxs": stackFile(3, 16, 16)})
	_, err := d.Open("a.nxs")
	require.NoError(t, err)

	_, first := get(t, ts.URL+"/image/2")
	_, second := get(t, ts.URL+"/image/2")
	require.Equal(t, first, second)
}

func TestOpenSwapChangesShape(t *testing.T) {
	ts, d := newTestServer(t, memFiles{
		"a.nxs": stackFile(2, 4, 4),
		"b.nxs": stackFile(5, 3, 7),
	})
	_, err := d.Open("a.nxs")
	require.NoError(t, err)
	_, err = d.Open("b.nxs")
	require.NoError(t, err)

	resp, body := get(t, ts.URL+"/image/4")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body, 3*7*2)
	require.Equal(t, "3", resp.Header.Get("X-Frame-Rows"))
	require.Equal(t, "7", resp.Header.Get("X-Frame-Cols"))
}

func TestFailedOpenReportsNoFile(t *testing.T) {
	bad := nexustest.New(map[string]*nexustest.Dataset{
		"entry/instrument/detector/distance": nexustest.Scalar(0.1, "m"),
	})
	ts, d := newTestServer(t, memFiles{"bad.nxs": bad})

	_, err := d.Open("bad.nxs")
	require.ErrorIs(t, err, domain.ErrFormat)

	resp, _ := get(t, ts.URL+"/metadata")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestMissingCodec(t *testing.T) {
	ds := nexustest.Stack(4, 8, 8, pattern)
	ds.MissingFilters = []string{"bitshuffle (32008)"}
	c := nexustest.New(map[string]*nexustest.Dataset{"entry/data/data": ds})
	ts, d := newTestServer(t, memFiles{"eiger.h5": c})

	_, err := d.Open("eiger.h5")
	require.NoError(t, err)

	resp, _ := get(t, ts.URL+"/metadata")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := get(t, ts.URL+"/image/0")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Contains(t, string(body), "bitshuffle")
}

func TestImage_DecodeFailure(t *testing.T) {
	c := stackFile(2, 2, 2)
	c.ReadErr = fmt.Errorf("checksum mismatch")
	ts, d := newTestServer(t, memFiles{"a.nxs": c})
	_, err := d.Open("a.nxs")
	require.NoError(t, err)

	resp, _ := get(t, ts.URL+"/image/1")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

// shortReader claims a 2x2 shape but hands back three samples.
type shortReader struct{}

func (shortReader) Metadata() (domain.DetectorMetadata, error) {
	return domain.DetectorMetadata{FrameCount: 1, FrameShape: [2]int{2, 2}}, nil
}
func (shortReader) FrameCount() int { return 1 }
func (shortReader) ReadFrame(i int) (domain.Frame, error) {
	return domain.Frame{Index: i, Rows: 2, Cols: 2, Pixels: make([]uint16, 3)}, nil
}
func (shortReader) Close() error { return nil }

func TestImage_MalformedFrameIsServerError(t *testing.T) {
	d := dispatch.New([]dispatch.Format{{
		Name:       "short",
		Extensions: []string{".short"},
		Open:       func(string) (ports.FrameReader, error) { return shortReader{}, nil },
	}})
	defer d.Close()
	ts := httptest.NewServer(New(Config{}, d, log.NoopLogger{}, nil).Handler())
	defer ts.Close()

	_, err := d.Open("x.short")
	require.NoError(t, err)

	resp, body := get(t, ts.URL+"/image/0")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Contains(t, string(body), "3 samples for 2x2")
}

func TestConcurrentFetches(t *testing.T) {
	const frames, rows, cols = 24, 32, 32
	ts, d := newTestServer(t, memFiles{"a.nxs": stackFile(frames, rows, cols)})
	_, err := d.Open("a.nxs")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < frames; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			resp, err := http.Get(fmt.Sprintf("%s/image/%d", ts.URL, idx))
			if err != nil {
				t.Errorf("GET /image/%d: %v", idx, err)
				return
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusOK || len(body) != rows*cols*2 {
				t.Errorf("GET /image/%d: status %d, %d bytes", idx, resp.StatusCode, len(body))
				return
			}
			for j := 0; j < rows*cols; j++ {
				if binary.LittleEndian.Uint16(body[2*j:]) != pattern(idx, j) {
					t.Errorf("GET /image/%d: sample %d belongs to another frame", idx, j)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestPreflightAndHealth(t *testing.T) {
	ts, _ := newTestServer(t, memFiles{})

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/image/0", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://tauri.localhost")
	req.Header.Set("Access-Control-Request-Method", "GET")
	req.Header.Set("Access-Control-Request-Headers", "x-custom")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	require.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "GET")
	require.Equal(t, "x-custom", resp.Header.Get("Access-Control-Allow-Headers"))

	resp, body := get(t, ts.URL+"/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", strings.TrimSpace(string(body)))
}

func TestRecoverer(t *testing.T) {
	h := recoverer(log.NoopLogger{}, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metadata", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.RangeErr("f", 5, 2), http.StatusNotFound},
		{domain.ErrNoFileOpen, http.StatusConflict},
		{domain.NewReaderError(domain.ErrDependency, "read frame", "f", nil), http.StatusServiceUnavailable},
		{domain.Formatf("metadata", "f", "missing"), http.StatusInternalServerError},
		{domain.NewReaderError(domain.ErrDecode, "read frame", "f", nil), http.StatusInternalServerError},
		{fmt.Errorf("unclassified"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestStartStop(t *testing.T) {
	d := dispatch.New(nil)
	s := New(Config{ShutdownTimeout: time.Second}, d, log.NoopLogger{}, nil)

	require.Zero(t, s.Port())
	require.NoError(t, s.Start(context.Background()))
	require.Equal(t, lifecycle.StateRunning, s.State())
	require.NotZero(t, s.Port())
	require.ErrorIs(t, s.Start(context.Background()), domain.ErrAlreadyRunning)

	resp, body := get(t, fmt.Sprintf("http://127.0.0.1:%d/healthz", s.Port()))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(body))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Wait(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after cancel")
	}
	require.Equal(t, lifecycle.StateStopped, s.State())
}
