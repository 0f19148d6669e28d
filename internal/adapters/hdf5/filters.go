package hdf5

/*
#cgo LDFLAGS: -lhdf5
#cgo linux,!arm64 CFLAGS: -I/usr/lib/x86_64-linux-gnu/hdf5/serial/include
#cgo linux,!arm64 LDFLAGS: -L/usr/lib/x86_64-linux-gnu/hdf5/serial
#cgo linux,arm64 CFLAGS: -I/usr/lib/aarch64-linux-gnu/hdf5/serial/include
#cgo linux,arm64 LDFLAGS: -L/usr/lib/aarch64-linux-gnu/hdf5/serial
#include <stdlib.h>
#include <hdf5.h>

static void diffrant_quiet(void) {
	H5Eset_auto2(H5E_DEFAULT, NULL, NULL);
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// knownFilters names registered filter ids that commonly appear in
// detector files.
var knownFilters = map[int]string{
	1:     "deflate",
	2:     "shuffle",
	3:     "fletcher32",
	4:     "szip",
	307:   "bzip2",
	32001: "blosc",
	32004: "lz4",
	32008: "bitshuffle",
	32015: "zstd",
}

func filterLabel(id int, name string) string {
	if name == "" {
		name = knownFilters[id]
	}
	if name == "" {
		return fmt.Sprintf("filter %d", id)
	}
	return fmt.Sprintf("%s (%d)", name, id)
}

// silenceErrorStack stops libhdf5 printing its error stack to stderr.
// Must be called with libMu held.
func silenceErrorStack() {
	C.diffrant_quiet()
}

// prependPluginPath adds dir to the front of the runtime plugin search path.
// Must be called with libMu held.
func prependPluginPath(dir string) error {
	cdir := C.CString(dir)
	defer C.free(unsafe.Pointer(cdir))
	if C.H5PLprepend(cdir) < 0 {
		return fmt.Errorf("hdf5: cannot add plugin directory %s", dir)
	}
	return nil
}

// unavailableFilters lists the filters of dataset in file that the library
// cannot load. Must be called with libMu held.
func unavailableFilters(file, dataset string) ([]string, error) {
	cfile := C.CString(file)
	defer C.free(unsafe.Pointer(cfile))
	cds := C.CString(dataset)
	defer C.free(unsafe.Pointer(cds))

	fid := C.H5Fopen(cfile, C.H5F_ACC_RDONLY, C.H5P_DEFAULT)
	if fid < 0 {
		return nil, fmt.Errorf("hdf5: filter check: open %s failed", file)
	}
	defer C.H5Fclose(fid)

	did := C.H5Dopen2(fid, cds, C.H5P_DEFAULT)
	if did < 0 {
		return nil, fmt.Errorf("hdf5: filter check: open dataset %s failed", dataset)
	}
	defer C.H5Dclose(did)

	plist := C.H5Dget_create_plist(did)
	if plist < 0 {
		return nil, fmt.Errorf("hdf5: no creation property list for %s", dataset)
	}
	defer C.H5Pclose(plist)

	n := int(C.H5Pget_nfilters(plist))
	var missing []string
	for i := 0; i < n; i++ {
		var (
			flags  C.uint
			nelmts C.size_t
			config C.uint
			name   [256]C.char
		)
		id := C.H5Pget_filter2(plist, C.uint(i), &flags, &nelmts, nil, C.size_t(len(name)), &name[0], &config)
		if id < 0 {
			return nil, fmt.Errorf("hdf5: cannot read filter %d of %s", i, dataset)
		}
		if C.H5Zfilter_avail(id) > 0 {
			continue
		}
		missing = append(missing, filterLabel(int(id), C.GoString(&name[0])))
	}
	return missing, nil
}
