package hdf5

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"gonum.org/v1/hdf5"

	"github.com/diffrant/diffrantd/internal/pixel"
	"github.com/diffrant/diffrantd/internal/ports"
)

// PluginPathEnv is the variable libhdf5 reads its filter plugin directory from.
const PluginPathEnv = "HDF5_PLUGIN_PATH"

// libMu serializes every libhdf5 call in the process.
var libMu sync.Mutex

var silenceOnce sync.Once

// SetPluginPath points libhdf5 at dir for dynamically loaded filters.
// It should be called before the first file is opened.
func SetPluginPath(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.Setenv(PluginPathEnv, dir); err != nil {
		return fmt.Errorf("hdf5: set %s: %w", PluginPathEnv, err)
	}
	libMu.Lock()
	defer libMu.Unlock()
	return prependPluginPath(dir)
}

// File is a read-only HDF5 file. It implements ports.Container.
type File struct {
	path string
	f    *hdf5.File

	datasets map[string]*hdf5.Dataset
	closed   bool
}

var _ ports.Container = (*File)(nil)

// Open opens path read-only. It has the ports.ContainerOpener signature.
func Open(path string) (ports.Container, error) {
	libMu.Lock()
	defer libMu.Unlock()
	silenceOnce.Do(silenceErrorStack)

	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	f, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("hdf5: open %s: %w", path, err)
	}
	return &File{path: path, f: f, datasets: make(map[string]*hdf5.Dataset)}, nil
}

// dataset returns a cached handle. Must be called with libMu held.
func (c *File) dataset(path string) (*hdf5.Dataset, error) {
	if c.closed {
		return nil, errors.New("hdf5: file closed")
	}
	if ds, ok := c.datasets[path]; ok {
		return ds, nil
	}
	ds, err := c.f.OpenDataset(path)
	if err != nil {
		// The bindings report no cause; a failed open means the link is absent
		// or is not a dataset.
		return nil, fmt.Errorf("%s: %w", path, ports.ErrNotFound)
	}
	c.datasets[path] = ds
	return ds, nil
}

// dims returns the extent of ds; scalars have none.
func dims(ds *hdf5.Dataset) ([]uint, error) {
	space := ds.Space()
	defer space.Close()
	if space.SimpleExtentNDims() == 0 {
		return nil, nil
	}
	d, _, err := space.SimpleExtentDims()
	return d, err
}

func typeInfo(ds *hdf5.Dataset) (ports.SampleClass, int, error) {
	dt, err := ds.Datatype()
	if err != nil {
		return ports.ClassOther, 0, err
	}
	defer dt.Close()

	size := int(dt.Size())
	switch dt.Class() {
	case hdf5.T_INTEGER:
		return ports.ClassInteger, size, nil
	case hdf5.T_FLOAT:
		return ports.ClassFloat, size, nil
	case hdf5.T_STRING:
		return ports.ClassString, size, nil
	default:
		return ports.ClassOther, size, nil
	}
}

// Info implements ports.Container.
func (c *File) Info(path string) (ports.DatasetInfo, error) {
	libMu.Lock()
	defer libMu.Unlock()

	ds, err := c.dataset(path)
	if err != nil {
		return ports.DatasetInfo{}, err
	}
	d, err := dims(ds)
	if err != nil {
		return ports.DatasetInfo{}, fmt.Errorf("%s: dataspace: %w", path, err)
	}
	class, size, err := typeInfo(ds)
	if err != nil {
		return ports.DatasetInfo{}, fmt.Errorf("%s: datatype: %w", path, err)
	}
	missing, err := unavailableFilters(c.path, path)
	if err != nil {
		return ports.DatasetInfo{}, err
	}

	info := ports.DatasetInfo{Class: class, Size: size, MissingFilters: missing}
	for _, v := range d {
		info.Dims = append(info.Dims, uint64(v))
	}
	return info, nil
}

// ReadPlane implements ports.Container. libhdf5 converts integer samples of
// any width to int64, which are then narrowed to their low 16 bits.
func (c *File) ReadPlane(path string, index uint64, dst []uint16) error {
	libMu.Lock()
	defer libMu.Unlock()

	ds, err := c.dataset(path)
	if err != nil {
		return err
	}
	d, err := dims(ds)
	if err != nil {
		return err
	}
	if len(d) != 3 {
		return fmt.Errorf("%s: expected 3-D dataset", path)
	}
	if index >= uint64(d[0]) {
		return fmt.Errorf("%s: plane %d of %d", path, index, d[0])
	}
	if len(dst) != int(d[1]*d[2]) {
		return fmt.Errorf("%s: buffer of %d for %dx%d plane", path, len(dst), d[1], d[2])
	}

	filespace := ds.Space()
	defer filespace.Close()
	offset := []uint{uint(index), 0, 0}
	count := []uint{1, d[1], d[2]}
	if err := filespace.SelectHyperslab(offset, nil, count, nil); err != nil {
		return fmt.Errorf("%s: select plane %d: %w", path, index, err)
	}
	memspace, err := hdf5.CreateSimpleDataspace(count, nil)
	if err != nil {
		return err
	}
	defer memspace.Close()

	buf := make([]int64, len(dst))
	if err := readInt64(ds, memspace, filespace, buf); err != nil {
		return fmt.Errorf("%s: read plane %d: %w", path, index, err)
	}
	pixel.Narrow(dst, buf)
	return nil
}

// ReadFloat implements ports.Container. Scalars and one-element arrays are
// both accepted; longer arrays yield their first element.
func (c *File) ReadFloat(path string) (float64, error) {
	libMu.Lock()
	defer libMu.Unlock()

	ds, err := c.dataset(path)
	if err != nil {
		return 0, err
	}
	d, err := dims(ds)
	if err != nil {
		return 0, err
	}
	n := 1
	for _, v := range d {
		n *= int(v)
	}
	if n == 0 {
		return 0, fmt.Errorf("%s: empty dataset", path)
	}
	buf := make([]float64, n)
	if err := readFloat64(ds, buf); err != nil {
		return 0, fmt.Errorf("%s: read: %w", path, err)
	}
	return buf[0], nil
}

// ReadStringAttr implements ports.Container.
func (c *File) ReadStringAttr(path, name string) (string, error) {
	libMu.Lock()
	defer libMu.Unlock()

	ds, err := c.dataset(path)
	if err != nil {
		return "", err
	}
	attr, err := ds.OpenAttribute(name)
	if err != nil {
		return "", fmt.Errorf("%s@%s: %w", path, name, ports.ErrNotFound)
	}
	defer attr.Close()

	var s string
	if err := attr.Read(&s, hdf5.T_GO_STRING); err != nil {
		return "", fmt.Errorf("%s@%s: read: %w", path, name, err)
	}
	return s, nil
}

// Close releases every open dataset and the file.
func (c *File) Close() error {
	libMu.Lock()
	defer libMu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	var errs []error
	for p, ds := range c.datasets {
		if err := ds.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
		}
	}
	c.datasets = nil
	if err := c.f.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
