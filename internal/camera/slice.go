package camera

import (
	"context"
	"image"
	"sync"
)

// SliceCamera serves a fixed list of frames from memory.
type SliceCamera struct {
	mu     sync.Mutex
	frames []*image.Gray
	next   int
	closed bool
}

// NewSliceCamera returns a camera that yields frames in order and then
// ErrEndOfSequence.
func NewSliceCamera(frames ...*image.Gray) *SliceCamera {
	return &SliceCamera{frames: frames}
}

// Repeat returns a camera that yields img n times.
func Repeat(img *image.Gray, n int) *SliceCamera {
	frames := make([]*image.Gray, n)
	for i := range frames {
		frames[i] = img
	}
	return NewSliceCamera(frames...)
}

func (c *SliceCamera) NextFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Frame{}, &Error{Kind: InvalidRequest}
	}
	if c.next >= len(c.frames) {
		return Frame{}, ErrEndOfSequence
	}
	f := Frame{Index: c.next, Image: c.frames[c.next]}
	c.next++
	return f, nil
}

// Rewind restarts the sequence from the first frame.
func (c *SliceCamera) Rewind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = 0
}

func (c *SliceCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
