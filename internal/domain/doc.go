// Package domain contains the core entities and error taxonomy for diffrantd.
//
// This package represents the innermost layer of the service. It has no
// dependencies on infrastructure concerns (HTTP, HDF5, logging) and contains
// only value types and the rules attached to them.
//
// # Entities
//
//   - [DetectorMetadata]: Geometry and shape of one open detector file
//   - [Frame]: One decoded 2D detector image, row-major uint16
//   - [OpenResult]: Outcome of installing a new active reader
//
// # Errors
//
// Every failure crossing a package boundary is classified by one of the
// sentinel errors in errors.go so that callers can map it to a transport
// status with errors.Is instead of matching strings.
package domain
