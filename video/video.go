// Package video provides random access to the luma plane of video frames.
package video

import "fmt"

// Info describes an opened video.
type Info struct {
	Path   string
	Frames int
	Width  int
	Height int
	FPS    float64
	Codec  string
}

func (i Info) String() string {
	return fmt.Sprintf("%s: %d frames %dx%d @ %.3g fps (%s)", i.Path, i.Frames, i.Width, i.Height, i.FPS, i.Codec)
}

// Source is an opened video. Frame must be safe for concurrent callers.
type Source interface {
	Info() Info
	Frame(i int) (*Frame, error)
	Close() error
}

// Frame is an 8-bit luma image, row-major.
type Frame struct {
	Width  int
	Height int
	Pix    []uint8
}

func NewFrame(w, h int) *Frame {
	return &Frame{Width: w, Height: h, Pix: make([]uint8, w*h)}
}

func (f *Frame) At(x, y int) uint8 {
	return f.Pix[y*f.Width+x]
}

func (f *Frame) Set(x, y int, v uint8) {
	f.Pix[y*f.Width+x] = v
}

// ClampPatch moves a size×size patch with top-left (x, y) inside a w×h image.
func ClampPatch(x, y, size, w, h int) (int, int) {
	x = max(0, min(x, w-size))
	y = max(0, min(y, h-size))
	return x, y
}

// Patch copies the size×size patch at (x, y), shifted inside the frame if
// needed, and returns the origin actually used.
func (f *Frame) Patch(x, y, size int) (int, int, []uint8) {
	x, y = ClampPatch(x, y, size, f.Width, f.Height)
	out := make([]uint8, size*size)
	for r := 0; r < size; r++ {
		row := (y+r)*f.Width + x
		copy(out[r*size:(r+1)*size], f.Pix[row:row+size])
	}
	return x, y, out
}
