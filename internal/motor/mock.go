package motor

import (
	"context"
	"sync"
)

// DefaultStepsPerRevolution is the resolution of the stock 1.8° stepper.
const DefaultStepsPerRevolution = 200

// MockMotor counts steps without moving anything. It is the default driver
// when no controller is attached.
type MockMotor struct {
	mu    sync.Mutex
	spr   float64
	steps int
	calls []int
	err   error
}

// NewMockMotor returns a mock with DefaultStepsPerRevolution.
func NewMockMotor() *MockMotor {
	return &MockMotor{spr: DefaultStepsPerRevolution}
}

// WithStepsPerRevolution overrides the reported resolution.
func (m *MockMotor) WithStepsPerRevolution(spr float64) *MockMotor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spr = spr
	return m
}

// FailWith makes every later Step fail with err. Passing nil clears it.
func (m *MockMotor) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockMotor) Step(ctx context.Context, count int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return &HardwareError{Motor: m.Name(), Err: m.err}
	}
	m.steps += count
	m.calls = append(m.calls, count)
	return nil
}

// Steps returns the total number of steps taken.
func (m *MockMotor) Steps() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.steps
}

// Calls returns the step count of every successful Step call.
func (m *MockMotor) Calls() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockMotor) StepsPerRevolution() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spr
}

func (m *MockMotor) Name() string { return "mock" }
