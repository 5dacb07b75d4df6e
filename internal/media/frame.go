// Package media defines the decoded picture type handed from the decode
// worker to the renderer, and the latest-value buffer that carries it.
package media

// Frame is one decoded picture in planar 4:2:0 layout. Y is full
// resolution; U and V are half resolution in each dimension, rounded up.
// The three planes are slices of one contiguous block, Y first.
//
// A published Frame is read-only for the renderer.
type Frame struct {
	Y      []byte
	U      []byte
	V      []byte
	Width  int
	Height int
	PTS    int64 // microseconds of stream time

	block []byte
}

// ChromaSize returns the dimensions of each chroma plane for a luma plane of
// width x height.
func ChromaSize(width, height int) (int, int) {
	return (width + 1) / 2, (height + 1) / 2
}

// PlaneSize returns the byte size of the luma plane and of each chroma plane.
func PlaneSize(width, height int) (luma, chroma int) {
	cw, ch := ChromaSize(width, height)
	return width * height, cw * ch
}

// BufferSize returns the total size of a 4:2:0 picture block.
func BufferSize(width, height int) int {
	luma, chroma := PlaneSize(width, height)
	return luma + 2*chroma
}

// NewFrame allocates plane storage for a width x height picture.
func NewFrame(width, height int) *Frame {
	f := &Frame{}
	f.alloc(width, height)
	return f
}

func (f *Frame) alloc(width, height int) {
	luma, chroma := PlaneSize(width, height)
	f.block = make([]byte, luma+2*chroma)
	f.Y = f.block[:luma:luma]
	f.U = f.block[luma : luma+chroma : luma+chroma]
	f.V = f.block[luma+chroma:]
	f.Width = width
	f.Height = height
}

// Block returns the contiguous Y, U, V storage.
func (f *Frame) Block() []byte { return f.block }

// Fits reports whether the frame's storage matches width x height.
func (f *Frame) Fits(width, height int) bool {
	return f != nil && f.Width == width && f.Height == height && f.block != nil
}

// ChromaWidth returns the width of the U and V planes.
func (f *Frame) ChromaWidth() int {
	cw, _ := ChromaSize(f.Width, f.Height)
	return cw
}

// ChromaHeight returns the height of the U and V planes.
func (f *Frame) ChromaHeight() int {
	_, ch := ChromaSize(f.Width, f.Height)
	return ch
}
