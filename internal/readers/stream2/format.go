package stream2

import (
	"bytes"
	"io"
)

// Name identifies this reader variant in metadata and logs.
const Name = "stream2"

// Extensions lists the file extensions mapped to this variant.
var Extensions = []string{".cbor"}

// Sniff reports whether r starts with a self-described CBOR message.
func Sniff(r io.ReaderAt) bool {
	buf := make([]byte, len(selfDescribe))
	if _, err := r.ReadAt(buf, 0); err != nil {
		return false
	}
	return bytes.Equal(buf, selfDescribe)
}
