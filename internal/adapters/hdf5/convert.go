package hdf5

/*
#include <hdf5.h>

static herr_t diffrant_read_i64(hid_t did, hid_t mspace, hid_t fspace, void *buf) {
	return H5Dread(did, H5T_NATIVE_INT64, mspace, fspace, H5P_DEFAULT, buf);
}

static herr_t diffrant_read_f64(hid_t did, hid_t mspace, hid_t fspace, void *buf) {
	return H5Dread(did, H5T_NATIVE_DOUBLE, mspace, fspace, H5P_DEFAULT, buf);
}
*/
import "C"

import (
	"errors"
	"unsafe"

	"gonum.org/v1/hdf5"
)

// The bindings read with the dataset's file type as the memory type, which
// only works when the Go buffer already matches it. These helpers let
// libhdf5 convert any integer or float layout into the buffer instead.

var errRead = errors.New("hdf5: H5Dread failed")

// spaceAll is H5S_ALL.
const spaceAll C.hid_t = 0

func spaceID(s *hdf5.Dataspace) C.hid_t {
	if s == nil {
		return spaceAll
	}
	return C.hid_t(s.ID())
}

// readInt64 reads the selection into buf as native int64 samples.
// Must be called with libMu held.
func readInt64(ds *hdf5.Dataset, mem, file *hdf5.Dataspace, buf []int64) error {
	if len(buf) == 0 {
		return nil
	}
	if C.diffrant_read_i64(C.hid_t(ds.ID()), spaceID(mem), spaceID(file), unsafe.Pointer(&buf[0])) < 0 {
		return errRead
	}
	return nil
}

// readFloat64 reads the whole dataset into buf as native doubles.
// Must be called with libMu held.
func readFloat64(ds *hdf5.Dataset, buf []float64) error {
	if len(buf) == 0 {
		return nil
	}
	if C.diffrant_read_f64(C.hid_t(ds.ID()), spaceAll, spaceAll, unsafe.Pointer(&buf[0])) < 0 {
		return errRead
	}
	return nil
}
