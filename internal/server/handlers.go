package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/diffrant/diffrantd/internal/domain"
	"github.com/diffrant/diffrantd/internal/pixel"
	"github.com/diffrant/diffrantd/internal/ports"
)

// statusFor maps a classified error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrRange):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNoFileOpen):
		return http.StatusConflict
	case errors.Is(err, domain.ErrDependency):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, fields ...ports.Field) {
	status := statusFor(err)
	switch status {
	case http.StatusNotFound:
		w.WriteHeader(status)
	case http.StatusConflict:
		http.Error(w, "no file open", status)
	default:
		s.logger.Warn("request error", append([]ports.Field{
			ports.String("path", r.URL.Path),
			ports.String("kind", domain.Kind(err)),
			ports.Err(err)}, fields...)...)
		http.Error(w, err.Error(), status)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	lease, err := s.src.Acquire()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer lease.Release()

	meta, err := lease.Metadata()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body, err := json.Marshal(meta)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	_, _ = w.Write(body)
}

// parseIndex distinguishes malformed indices from ones too large to exist.
func parseIndex(raw string) (idx int, ok bool, tooLarge bool) {
	v, err := strconv.ParseUint(raw, 10, 63)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, false, true
		}
		return 0, false, false
	}
	if v > uint64(int(^uint(0)>>1)) {
		return 0, false, true
	}
	return int(v), true, false
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	idx, ok, tooLarge := parseIndex(r.PathValue("index"))
	if !ok && !tooLarge {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	lease, err := s.src.Acquire()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer lease.Release()

	if tooLarge {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if err := s.decodes.Acquire(r.Context(), 1); err != nil {
		http.Error(w, "request cancelled", http.StatusServiceUnavailable)
		return
	}
	frame, err := lease.ReadFrame(idx)
	s.decodes.Release(1)
	if err == nil && !frame.Valid() {
		err = domain.NewReaderError(domain.ErrDecode, "read frame", lease.Path(),
			fmt.Errorf("frame %d: %d samples for %dx%d", idx, len(frame.Pixels), frame.Rows, frame.Cols))
	}
	if err != nil {
		s.writeError(w, r, err, ports.String("file", lease.Path()))
		return
	}

	body := pixel.EncodeLE(frame.Pixels)
	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("X-Frame-Rows", strconv.Itoa(frame.Rows))
	h.Set("X-Frame-Cols", strconv.Itoa(frame.Cols))
	h.Set("X-Session", lease.Session())
	_, _ = w.Write(body)
}
