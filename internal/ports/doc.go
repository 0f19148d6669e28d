// Package ports defines the interfaces that connect the serving core to
// infrastructure adapters.
//
// # Port Interfaces
//
//   - [FrameReader]: One open detector file (metadata, frame count, frames)
//   - [Container]: Hierarchical dataset store a reader is built on (HDF5)
//   - [Logger]: Structured logging abstraction
//
// The dispatcher and the HTTP endpoint depend only on these interfaces.
// Adapters (internal/adapters) provide libhdf5 and zerolog implementations;
// tests substitute in-memory fakes.
package ports
