// Package camera provides frame sources for the scanner: a replay source
// reading an ordered directory of captures and an in-memory source for
// simulation.
package camera

import (
	"context"
	"fmt"
	"image"
)

// Frame is one captured grayscale image. Index counts from zero in capture order.
type Frame struct {
	Index int
	Image *image.Gray
}

// Camera yields frames in capture order. NextFrame may block on real
// hardware and must honour ctx.
type Camera interface {
	NextFrame(ctx context.Context) (Frame, error)
	Close() error
}

// Rewinder is implemented by replay sources that can restart from the
// first frame. The scanner rewinds before every sweep.
type Rewinder interface {
	Rewind()
}

// Kind classifies camera failures.
type Kind int

const (
	// NotFound means the source does not exist or holds no frames.
	NotFound Kind = iota + 1
	// WrongConfig means the source exists but a frame cannot be produced from it.
	WrongConfig
	// InvalidRequest means the camera was used after Close.
	InvalidRequest
	// EndOfSequence means every frame has been delivered.
	EndOfSequence
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "camera not found"
	case WrongConfig:
		return "wrong camera configuration"
	case InvalidRequest:
		return "invalid request"
	case EndOfSequence:
		return "no more frames"
	}
	return fmt.Sprintf("camera error %d", int(k))
}

// Error is the error type returned by cameras.
type Error struct {
	Kind Kind
	// Path names the offending file or directory, when there is one.
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a camera error of the same kind, so
// errors.Is(err, ErrEndOfSequence) matches any end-of-sequence error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// ErrEndOfSequence is returned by NextFrame once the source is exhausted.
var ErrEndOfSequence = &Error{Kind: EndOfSequence}
