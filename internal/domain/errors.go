package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors classify reader and dispatcher failures.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrUnsupportedFormat is returned when no reader variant recognizes a file.
	ErrUnsupportedFormat = errors.New("diffrant: unsupported format")

	// ErrFormat is returned when a file opens but required structure is missing or malformed.
	ErrFormat = errors.New("diffrant: invalid file layout")

	// ErrDependency is returned when a decompression codec is not available at runtime.
	ErrDependency = errors.New("diffrant: missing codec")

	// ErrRange is returned when a frame index is outside [0, frame_count).
	ErrRange = errors.New("diffrant: frame index out of range")

	// ErrDecode is returned when a single frame fails to decode.
	ErrDecode = errors.New("diffrant: frame decode failed")

	// ErrNoFileOpen is returned when no reader is installed.
	ErrNoFileOpen = errors.New("diffrant: no file open")

	// ErrClosed is returned by a reader that has already been closed.
	ErrClosed = errors.New("diffrant: reader closed")
)

// Lifecycle errors.
var (
	// ErrAlreadyRunning is returned when starting a component that is already running.
	ErrAlreadyRunning = errors.New("diffrant: already running")

	// ErrNotRunning is returned when stopping a component that is not running.
	ErrNotRunning = errors.New("diffrant: not running")

	// ErrShutdownTimeout is returned when graceful shutdown exceeds its deadline.
	ErrShutdownTimeout = errors.New("diffrant: shutdown timeout")
)

// ReaderError wraps an underlying error with its classification.
// It preserves the original error in the chain for inspection via errors.As.
type ReaderError struct {
	// Kind is the sentinel error for classification (e.g., ErrFormat).
	Kind error
	// Op is the operation that failed (e.g., "open", "metadata", "read frame").
	Op string
	// Path is the file involved, if any.
	Path string
	// Err is the underlying error.
	Err error
}

func (e *ReaderError) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", msg, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", msg, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *ReaderError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *ReaderError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// NewReaderError creates a classified reader error.
func NewReaderError(kind error, op, path string, err error) *ReaderError {
	return &ReaderError{Kind: kind, Op: op, Path: path, Err: err}
}

// Formatf builds an ErrFormat-classified error with a formatted cause.
func Formatf(op, path, format string, args ...any) error {
	return NewReaderError(ErrFormat, op, path, fmt.Errorf(format, args...))
}

// RangeErr builds an ErrRange-classified error for index against count.
func RangeErr(path string, index, count int) error {
	return NewReaderError(ErrRange, "read frame", path,
		fmt.Errorf("index %d not in [0, %d)", index, count))
}

// Kind returns a short machine-readable name for the classification of err.
// Unclassified errors report "internal".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, ErrFormat):
		return "format"
	case errors.Is(err, ErrDependency):
		return "dependency"
	case errors.Is(err, ErrRange):
		return "range"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrNoFileOpen):
		return "no_file_open"
	default:
		return "internal"
	}
}
