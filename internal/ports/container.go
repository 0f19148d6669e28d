package ports

import "errors"

// ErrNotFound is returned by a Container for a dataset or attribute
// that does not exist.
var ErrNotFound = errors.New("not found")

// SampleClass is the storage class of a dataset's elements.
type SampleClass int

const (
	ClassOther SampleClass = iota
	ClassInteger
	ClassFloat
	ClassString
)

// DatasetInfo describes a dataset without reading its data.
type DatasetInfo struct {
	Dims  []uint64
	Class SampleClass
	// Size is the element size in bytes.
	Size int
	// MissingFilters lists filter pipeline entries the runtime cannot load.
	// Empty when every filter is available.
	MissingFilters []string
}

// ContainerOpener opens a container file read-only.
type ContainerOpener func(path string) (Container, error)

// Container is a hierarchical store of named, possibly chunked datasets.
// Paths are slash-separated and relative to the file root.
type Container interface {
	// Info reports shape, element class and codec availability of a dataset.
	Info(path string) (DatasetInfo, error)

	// ReadPlane reads the 2D plane at index along the first axis of a
	// 3-D integer dataset into dst, narrowing samples to 16 bits.
	// len(dst) must equal dims[1]*dims[2].
	ReadPlane(path string, index uint64, dst []uint16) error

	// ReadFloat reads the first element of a numeric dataset.
	ReadFloat(path string) (float64, error)

	// ReadStringAttr reads a string attribute attached to a dataset.
	ReadStringAttr(path, name string) (string, error)

	// Close releases the file.
	Close() error
}
