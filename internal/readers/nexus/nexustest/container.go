// Package nexustest provides an in-memory ports.Container for tests.
package nexustest

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/diffrant/diffrantd/internal/ports"
)

// Dataset is one in-memory dataset. Frame datasets set Plane; scalar
// datasets set Value.
type Dataset struct {
	Dims           []uint64
	Class          ports.SampleClass
	Size           int
	MissingFilters []string
	Attrs          map[string]string

	// Plane fills dst with plane index of a 3-D dataset.
	Plane func(index uint64, dst []uint16)
	// Value is returned by ReadFloat.
	Value float64
}

// Stack returns a 3-D uint16 frame dataset whose sample i of frame f is fill(f, i).
func Stack(frames, rows, cols int, fill func(frame, i int) uint16) *Dataset {
	return &Dataset{
		Dims:  []uint64{uint64(frames), uint64(rows), uint64(cols)},
		Class: ports.ClassInteger,
		Size:  2,
		Plane: func(index uint64, dst []uint16) {
			for i := range dst {
				dst[i] = fill(int(index), i)
			}
		},
	}
}

// Scalar returns a numeric dataset with an optional units attribute.
func Scalar(v float64, units string) *Dataset {
	d := &Dataset{Dims: []uint64{1}, Class: ports.ClassFloat, Size: 8, Value: v}
	if units != "" {
		d.Attrs = map[string]string{"units": units}
	}
	return d
}

// Container is a map of datasets keyed by path.
type Container struct {
	Datasets map[string]*Dataset

	// ReadErr, when set, is returned by every ReadPlane call.
	ReadErr error

	mu     sync.Mutex
	closed bool
	closes atomic.Int32
	reads  atomic.Int64
}

// New returns a container holding datasets.
func New(datasets map[string]*Dataset) *Container {
	return &Container{Datasets: datasets}
}

// Opener returns a ports.ContainerOpener that always yields c.
func (c *Container) Opener() ports.ContainerOpener {
	return func(string) (ports.Container, error) { return c, nil }
}

func (c *Container) dataset(path string) (*Dataset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("container closed")
	}
	d, ok := c.Datasets[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ports.ErrNotFound)
	}
	return d, nil
}

// Info implements ports.Container.
func (c *Container) Info(path string) (ports.DatasetInfo, error) {
	d, err := c.dataset(path)
	if err != nil {
		return ports.DatasetInfo{}, err
	}
	return ports.DatasetInfo{Dims: d.Dims, Class: d.Class, Size: d.Size, MissingFilters: d.MissingFilters}, nil
}

// ReadPlane implements ports.Container.
func (c *Container) ReadPlane(path string, index uint64, dst []uint16) error {
	d, err := c.dataset(path)
	if err != nil {
		return err
	}
	c.reads.Add(1)
	if c.ReadErr != nil {
		return c.ReadErr
	}
	if len(d.Dims) != 3 || d.Plane == nil {
		return fmt.Errorf("%s: not a frame dataset", path)
	}
	if index >= d.Dims[0] {
		return fmt.Errorf("%s: plane %d out of bounds", path, index)
	}
	if uint64(len(dst)) != d.Dims[1]*d.Dims[2] {
		return fmt.Errorf("%s: buffer of %d for %dx%d plane", path, len(dst), d.Dims[1], d.Dims[2])
	}
	d.Plane(index, dst)
	return nil
}

// ReadFloat implements ports.Container.
func (c *Container) ReadFloat(path string) (float64, error) {
	d, err := c.dataset(path)
	if err != nil {
		return 0, err
	}
	return d.Value, nil
}

// ReadStringAttr implements ports.Container.
func (c *Container) ReadStringAttr(path, name string) (string, error) {
	d, err := c.dataset(path)
	if err != nil {
		return "", err
	}
	v, ok := d.Attrs[name]
	if !ok {
		return "", fmt.Errorf("%s@%s: %w", path, name, ports.ErrNotFound)
	}
	return v, nil
}

// Close implements ports.Container.
func (c *Container) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.closes.Add(1)
	return nil
}

// Closes reports how many times Close was called.
func (c *Container) Closes() int { return int(c.closes.Load()) }

// Reads reports how many planes were read.
func (c *Container) Reads() int64 { return c.reads.Load() }
