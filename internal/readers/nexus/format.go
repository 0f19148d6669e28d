package nexus

import (
	"bytes"
	"io"
)

// Name identifies this reader variant in metadata and logs.
const Name = "nexus"

// Extensions lists the file extensions mapped to this variant.
var Extensions = []string{".nxs", ".h5", ".hdf5", ".nx5"}

var signature = []byte("\x89HDF\r\n\x1a\n")

// signatureOffsets are where the superblock may start when the file
// carries a userblock.
var signatureOffsets = []int64{0, 512, 1024, 2048}

// Sniff reports whether r starts with an HDF5 superblock signature.
func Sniff(r io.ReaderAt) bool {
	buf := make([]byte, len(signature))
	for _, off := range signatureOffsets {
		if _, err := r.ReadAt(buf, off); err != nil {
			return false
		}
		if bytes.Equal(buf, signature) {
			return true
		}
	}
	return false
}
