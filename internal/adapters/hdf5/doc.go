// Package hdf5 implements ports.Container on top of libhdf5.
//
// libhdf5 is built without thread safety by default, so every library
// call in this package runs under one process-wide mutex. Callers may use
// a Container from many goroutines; decodes are serialized.
//
// Filter availability and converting reads go through the C API directly:
// the Go bindings expose neither the dataset creation property list nor a
// memory type for reads.
package hdf5
