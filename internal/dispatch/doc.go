// Package dispatch owns the process's single active frame reader.
//
// Open picks a reader variant for a path, validates it by reading its
// metadata, then swaps it into the slot. Request handlers take a Lease on
// whatever reader is installed; a replaced reader stays open until its
// last lease is released and is then closed exactly once.
package dispatch
