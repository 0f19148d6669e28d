// Package nexus reads detector frames from NeXus/HDF5 files.
//
// The frame stack lives at entry/data/data, or for Eiger master files in
// the numbered sequence entry/data/data_000001, data_000002, ... whose
// frames concatenate in order. Geometry is taken from
// entry/instrument/detector and entry/instrument/beam when present.
//
// Container access goes through ports.Container, so the reader itself
// never touches libhdf5.
package nexus
