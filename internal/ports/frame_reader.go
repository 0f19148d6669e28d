package ports

import "github.com/diffrant/diffrantd/internal/domain"

// FrameReader gives random access to the frames of one open detector file.
// Implementations must allow concurrent calls to Metadata, FrameCount and
// ReadFrame; Close is called once, after every other call has returned.
type FrameReader interface {
	// Metadata returns the detector geometry and shape.
	// The value is computed once and never changes for this reader.
	Metadata() (domain.DetectorMetadata, error)

	// FrameCount returns the number of addressable frames. It never
	// touches frame data.
	FrameCount() int

	// ReadFrame decodes the frame at index and nothing else.
	// Returns an ErrRange-classified error for index outside
	// [0, FrameCount()), ErrDependency when a codec is missing and
	// ErrDecode when the stored data cannot be decoded.
	ReadFrame(index int) (domain.Frame, error)

	// Close releases the file and any native resources.
	Close() error
}
