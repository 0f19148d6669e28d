package domain

// Frame is one decoded detector image.
// It is built per request, serialized, and discarded; nothing caches it.
type Frame struct {
	// Index is the 0-based position of the frame in the file
	Index int

	// Rows is the slow-axis size (image height)
	Rows int

	// Cols is the fast-axis size (image width)
	Cols int

	// Pixels holds Rows*Cols samples in row-major order.
	// Sentinel values (gap, dead pixel) are left exactly as stored.
	Pixels []uint16
}

// Valid reports whether the pixel buffer matches the declared shape.
func (f Frame) Valid() bool {
	return f.Rows > 0 && f.Cols > 0 && len(f.Pixels) == f.Rows*f.Cols
}
