package motor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Port is the minimal serial port surface the controller needs. It lets
// tests substitute an in-memory port.
type Port interface {
	io.ReadWriter
	io.Closer
}

// TimeoutPort is implemented by ports whose reads return (0, nil) after a
// timeout instead of blocking forever.
type TimeoutPort interface {
	Port
	SetReadTimeout(timeout time.Duration) error
}

// PortOptions describes the serial connection to the stepper controller.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o
	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch p := strings.TrimSpace(strings.ToUpper(opts.Parity)); p {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	return opts, nil
}

// SerialMode converts the options into the go.bug.st/serial mode.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// SerialConfig tunes a SerialMotor.
type SerialConfig struct {
	StepsPerRevolution float64
	// CommandTimeout bounds the wait for a reply beyond the move itself.
	CommandTimeout time.Duration
	// StepDuration is how long the controller takes per step.
	StepDuration time.Duration
	// PollInterval is the serial read timeout between context checks.
	PollInterval time.Duration
}

func (c SerialConfig) withDefaults() SerialConfig {
	if c.StepsPerRevolution <= 0 {
		c.StepsPerRevolution = DefaultStepsPerRevolution
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 2 * time.Second
	}
	if c.StepDuration <= 0 {
		c.StepDuration = time.Millisecond
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 50 * time.Millisecond
	}
	return c
}

var errTimeout = errors.New("timed out waiting for controller reply")

// SerialMotor drives a stepper controller over a serial line with a line
// protocol: the host writes "STEP <n>\n" and the controller answers "OK"
// once the move is done or "ERR <message>".
type SerialMotor struct {
	name string
	cfg  SerialConfig

	mu      sync.Mutex
	port    Port
	pending []byte
}

// OpenSerial opens the controller on path.
func OpenSerial(path string, opts PortOptions, cfg SerialConfig) (*SerialMotor, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, &HardwareError{Motor: path, Err: err}
	}
	m, err := NewSerialMotor(path, port, cfg)
	if err != nil {
		port.Close()
		return nil, err
	}
	return m, nil
}

// NewSerialMotor wraps an already open port. Ports with a read timeout get
// PollInterval so a silent controller cannot block past the command timeout
// or cancellation.
func NewSerialMotor(name string, port Port, cfg SerialConfig) (*SerialMotor, error) {
	cfg = cfg.withDefaults()
	if tp, ok := port.(TimeoutPort); ok {
		if err := tp.SetReadTimeout(cfg.PollInterval); err != nil {
			return nil, &HardwareError{Motor: name, Err: fmt.Errorf("set read timeout: %w", err)}
		}
	}
	return &SerialMotor{name: name, cfg: cfg, port: port}, nil
}

func (m *SerialMotor) Name() string                { return m.name }
func (m *SerialMotor) StepsPerRevolution() float64 { return m.cfg.StepsPerRevolution }

// Step sends one move command and waits for the reply.
func (m *SerialMotor) Step(ctx context.Context, count int) error {
	if count < 0 {
		return &HardwareError{Motor: m.name, Err: fmt.Errorf("negative step count %d", count)}
	}
	if count == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := fmt.Fprintf(m.port, "STEP %d\n", count); err != nil {
		return &HardwareError{Motor: m.name, Err: fmt.Errorf("write: %w", err)}
	}

	deadline := time.Now().Add(m.cfg.CommandTimeout + time.Duration(count)*m.cfg.StepDuration)
	line, err := m.readLine(ctx, deadline)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &HardwareError{Motor: m.name, Err: err}
	}

	switch {
	case line == "OK":
		return nil
	case strings.HasPrefix(line, "ERR"):
		msg := strings.TrimSpace(strings.TrimPrefix(line, "ERR"))
		if msg == "" {
			msg = "controller reported an error"
		}
		return &HardwareError{Motor: m.name, Err: errors.New(msg)}
	}
	return &HardwareError{Motor: m.name, Err: fmt.Errorf("unexpected reply %q", line)}
}

// readLine returns the next non-empty line without its terminator. Bytes
// after the newline are kept for the next call.
func (m *SerialMotor) readLine(ctx context.Context, deadline time.Time) (string, error) {
	buf := make([]byte, 64)
	for {
		if i := bytes.IndexByte(m.pending, '\n'); i >= 0 {
			line := strings.TrimSpace(string(m.pending[:i]))
			m.pending = m.pending[i+1:]
			if line == "" {
				continue
			}
			return line, nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if time.Now().After(deadline) {
			return "", errTimeout
		}
		n, err := m.port.Read(buf)
		m.pending = append(m.pending, buf[:n]...)
		if err != nil {
			return "", fmt.Errorf("read: %w", err)
		}
		if n == 0 {
			// Timed-out poll on a real port; avoid spinning on ports that
			// return immediately.
			time.Sleep(time.Millisecond)
		}
	}
}

// Close releases the serial port.
func (m *SerialMotor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port.Close()
}
