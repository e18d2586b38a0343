// Package motor drives the turntable stepper.
package motor

import (
	"context"
	"fmt"
	"math"
)

// Motor advances the turntable. Step blocks until the move is complete.
type Motor interface {
	Step(ctx context.Context, count int) error
	StepsPerRevolution() float64
	Name() string
}

// HardwareError reports a motor that failed to complete a move.
type HardwareError struct {
	Motor string
	Err   error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("motor %s: %v", e.Motor, e.Err)
}

func (e *HardwareError) Unwrap() error { return e.Err }

// StepsForDegrees converts an angle to whole motor steps, truncating
// toward zero.
func StepsForDegrees(m Motor, degrees float64) int {
	return int(degrees / 360 * m.StepsPerRevolution())
}

// StepsPerIncrement returns the number of steps closest to degrees, never
// less than one, for advancing the turntable between captures.
func StepsPerIncrement(m Motor, degrees float64) int {
	n := int(math.Round(degrees / 360 * m.StepsPerRevolution()))
	if n < 1 {
		return 1
	}
	return n
}

// DegreesForSteps converts a step count back to an angle.
func DegreesForSteps(m Motor, steps int) float64 {
	return float64(steps) * 360 / m.StepsPerRevolution()
}

// TablePositions returns the table position, in whole steps from the first
// capture, for each of n captures spaced degrees apart. Positions are
// rounded from the cumulative angle, so no capture is more than half a
// step away from i·degrees and rounding never accumulates.
func TablePositions(m Motor, degrees float64, n int) []int {
	perCapture := degrees / 360 * m.StepsPerRevolution()
	pos := make([]int, n)
	for i := range pos {
		pos[i] = int(math.Round(float64(i) * perCapture))
	}
	return pos
}
