package video

import (
	"fmt"
	"sync/atomic"

	"github.com/microsoft/ZooTracer/zt_errors"
)

// Memory is a Source over frames already in memory.
type Memory struct {
	info   Info
	frames []*Frame
	closed atomic.Bool
}

func NewMemory(path string, fps float64, frames []*Frame) *Memory {
	info := Info{Path: path, Frames: len(frames), FPS: fps, Codec: "memory"}
	if len(frames) > 0 {
		info.Width, info.Height = frames[0].Width, frames[0].Height
	}
	return &Memory{info: info, frames: frames}
}

// NewFrames renders n w×h frames from pixel(i, x, y).
func NewFrames(n, w, h int, pixel func(i, x, y int) uint8) []*Frame {
	frames := make([]*Frame, n)
	for i := range frames {
		f := NewFrame(w, h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				f.Set(x, y, pixel(i, x, y))
			}
		}
		frames[i] = f
	}
	return frames
}

func (m *Memory) Info() Info {
	return m.info
}

func (m *Memory) Frame(i int) (*Frame, error) {
	if m.closed.Load() {
		return nil, fmt.Errorf("%w: %s is closed", zt_errors.ErrUnreadable, m.info.Path)
	}
	if i < 0 || i >= len(m.frames) {
		return nil, fmt.Errorf("%w: %d of %d", zt_errors.ErrBadFrame, i, len(m.frames))
	}
	return m.frames[i], nil
}

func (m *Memory) Close() error {
	m.closed.Store(true)
	return nil
}

func (m *Memory) Closed() bool {
	return m.closed.Load()
}
