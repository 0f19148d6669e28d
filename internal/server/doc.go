// Package server is the local HTTP endpoint the rendering client pulls
// metadata and frames from.
//
// Routes:
//
//	GET /metadata        DetectorMetadata as JSON
//	GET /image/{index}   one frame, uint16 little-endian, row-major
//	GET /healthz         liveness
//
// Query strings are ignored; clients append ?v=<session> to defeat
// their own caches. Every response allows any origin.
package server
