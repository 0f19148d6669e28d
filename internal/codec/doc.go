// Package codec decodes compressed detector payloads.
//
// Codecs are looked up by the algorithm name recorded next to the payload.
// A name with no registered codec yields an error classified as
// domain.ErrDependency: the data is valid but this runtime cannot decode
// it. Corrupt payloads yield domain.ErrDecode.
//
// # Built-in Codecs
//
//   - bslz4: bitshuffle + LZ4 blocks (HDF5 filter 32008 chunk layout)
//   - lz4: LZ4 blocks (HDF5 filter 32004 chunk layout)
//   - zstd: a single Zstandard frame
package codec
