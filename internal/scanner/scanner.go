// Package scanner runs sweeps: it turns the table one increment at a time,
// captures a frame, triangulates it and streams the resulting points to the
// client that asked for the scan.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/scan3d/internal/calibration"
	"github.com/banshee-data/scan3d/internal/camera"
	"github.com/banshee-data/scan3d/internal/config"
	"github.com/banshee-data/scan3d/internal/monitoring"
	"github.com/banshee-data/scan3d/internal/motor"
	"github.com/banshee-data/scan3d/internal/protocol"
	"github.com/banshee-data/scan3d/internal/telemetry"
	"github.com/banshee-data/scan3d/internal/timeutil"
	"github.com/banshee-data/scan3d/internal/triangulate"
)

var log = monitoring.Component("scanner")

// ErrScanInProgress is returned by Replay while another sweep is running.
var ErrScanInProgress = errors.New("scan in progress")

// State is the orchestrator lifecycle state.
type State int

const (
	Idle State = iota
	Scanning
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Error:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Emitter receives the responses of one sweep in order. It is called from
// the sweep goroutine and may block to apply backpressure.
type Emitter func(protocol.Response)

// Options wires the orchestrator to its devices.
type Options struct {
	Camera      camera.Camera
	Motor       motor.Motor
	Calibration *calibration.Calibration
	// Sink receives diagnostics; nil disables telemetry.
	Sink telemetry.Sink
	// Recorder keeps scan history; nil disables it.
	Recorder Recorder
	Clock    timeutil.Clock
	Config   *config.ScanConfig
}

// Orchestrator owns the scanner hardware and allows one sweep at a time.
type Orchestrator struct {
	cam   camera.Camera
	motor motor.Motor
	calib *calibration.Calibration
	sink  telemetry.Sink
	rec   Recorder
	clock timeutil.Clock

	steps  int
	angle  float64
	settle time.Duration
	detect triangulate.Options

	// leadIn is the move before the first capture. positions[i] is the
	// table, in motor steps, at capture i relative to the first capture.
	leadIn    int
	positions []int

	mu       sync.Mutex
	state    State
	lastErr  string
	position float64
	lasers   protocol.Lasers
	session  *Session
	wg       sync.WaitGroup
}

// New builds an orchestrator and publishes the camera model to the sink.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		cam:   opts.Camera,
		motor: opts.Motor,
		calib: opts.Calibration,
		sink:  opts.Sink,
		rec:   opts.Recorder,
		clock: opts.Clock,
	}
	if o.sink == nil {
		o.sink = telemetry.Nop{}
	}
	if o.rec == nil {
		o.rec = NopRecorder{}
	}
	if o.clock == nil {
		o.clock = timeutil.RealClock{}
	}

	cfg := opts.Config
	o.steps = cfg.GetSteps()
	o.angle = cfg.GetAnglePerStepDeg()
	o.leadIn = motor.StepsPerIncrement(o.motor, o.angle)
	o.positions = motor.TablePositions(o.motor, o.angle, o.steps)
	o.settle = cfg.GetSettleTime()
	o.detect = triangulate.Options{
		Threshold:      cfg.GetBrightnessThreshold(),
		MinDenominator: cfg.GetMinDenominator(),
	}

	if err := o.sink.LogCamera(telemetry.EntityCamera, o.calib.Camera); err != nil {
		log.Logf("telemetry: log camera: %v", err)
	}
	log.Logf("%d steps of %.2f°, about %d motor steps each (%s)", o.steps, o.angle, o.leadIn, o.motor.Name())
	return o
}

// Steps returns the number of captures in one sweep.
func (o *Orchestrator) Steps() int { return o.steps }

// Status reports the laser and motor state. An Error state is cleared.
func (o *Orchestrator) Status() protocol.ScannerStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clearErrorLocked()
	return protocol.ScannerStatus{Lasers: o.lasers, MotorSpeed: o.position}
}

// Snapshot is the orchestrator state for the debug page.
type Snapshot struct {
	State     string  `json:"state"`
	LastError string  `json:"last_error,omitempty"`
	Position  float64 `json:"position_deg"`
	Session   string  `json:"session,omitempty"`
	Completed int     `json:"completed_steps"`
	Points    int     `json:"points"`
	Steps     int     `json:"steps"`
}

// Snapshot reads the state without clearing errors.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Snapshot{
		State:     o.state.String(),
		LastError: o.lastErr,
		Position:  o.position,
		Steps:     o.steps,
	}
	if o.session != nil {
		s.Session = o.session.ID
		s.Completed = o.session.CompletedSteps()
		s.Points = o.session.Points()
	}
	return s
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) clearErrorLocked() {
	if o.state == Error {
		o.state = Idle
		o.lastErr = ""
	}
}

// Replay starts a sweep on its own goroutine. Every response of the sweep
// goes through emit: one PointCloud per step followed by a single Ok or
// Error. Cancelling ctx stops the sweep at the next step boundary.
func (o *Orchestrator) Replay(ctx context.Context, emit Emitter) (*Session, error) {
	o.mu.Lock()
	o.clearErrorLocked()
	if o.state == Scanning {
		o.mu.Unlock()
		return nil, ErrScanInProgress
	}
	s := &Session{
		ID:        uuid.NewString(),
		StartedAt: o.clock.Now(),
		Steps:     o.steps,
		done:      make(chan struct{}),
	}
	prev := o.session
	o.state = Scanning
	o.session = s
	o.wg.Add(1)
	o.mu.Unlock()

	go o.sweep(ctx, s, prev, emit)
	return s, nil
}

// Wait blocks until no sweep is running.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// sweep runs s to completion. The state returns to Idle before the
// terminal response is emitted, so a sweep started in between waits for
// prev to finish emitting before it touches the devices or emits.
func (o *Orchestrator) sweep(ctx context.Context, s, prev *Session, emit Emitter) {
	defer o.wg.Done()
	defer close(s.done)

	if prev != nil {
		<-prev.done
	}

	log.Logf("scan %s started", s.ID)
	if r, ok := o.cam.(camera.Rewinder); ok {
		r.Rewind()
	}
	if err := o.rec.BeginScan(ScanInfo{
		ID:           s.ID,
		StartedAt:    s.StartedAt,
		PlannedSteps: o.steps,
		AnglePerStep: o.angle,
		MotorSteps:   o.leadIn,
		Motor:        o.motor.Name(),
	}); err != nil {
		log.Logf("history: begin scan %s: %v", s.ID, err)
	}

	for i := 0; i < o.steps; i++ {
		if ctx.Err() != nil {
			o.finish(s, emit, ctx.Err())
			return
		}
		if err := o.step(ctx, s, i, emit); err != nil {
			o.finish(s, emit, err)
			return
		}
	}
	o.finish(s, emit, nil)
}

// step advances the table, captures and triangulates frame i.
func (o *Orchestrator) step(ctx context.Context, s *Session, i int, emit Emitter) error {
	if err := o.motor.Step(ctx, o.increment(i)); err != nil {
		return err
	}
	if o.settle > 0 {
		o.clock.Sleep(o.settle)
	}
	frame, err := o.cam.NextFrame(ctx)
	if err != nil {
		return err
	}

	rotation := o.rotation(i)
	res := triangulate.Triangulate(frame.Image, o.calib, rotation, o.detect)
	emit(protocol.PointCloudResponse(protocol.NewPointCloud(res.Points)))

	s.points.Add(int64(len(res.Points)))
	s.completed.Add(1)
	o.mu.Lock()
	o.position = rotation
	o.mu.Unlock()

	o.sink.SetTimeSequence(telemetry.Timeline, int64(i))
	if err := o.sink.LogImage(telemetry.EntityImage, frame.Image); err != nil {
		log.Logf("telemetry: step %d image: %v", i, err)
	}
	if err := o.sink.LogPoints(telemetry.EntityPoints, res.Points); err != nil {
		log.Logf("telemetry: step %d points: %v", i, err)
	}
	if err := o.rec.RecordStep(s.ID, StepRecord{
		Step:        i,
		RotationDeg: rotation,
		Points:      len(res.Points),
		Detected:    res.Detected,
		Rejected:    res.Rejected,
		At:          o.clock.Now(),
	}); err != nil {
		log.Logf("history: step %d: %v", i, err)
	}
	return nil
}

// increment is the number of motor steps taken before capture i.
func (o *Orchestrator) increment(i int) int {
	if i == 0 {
		return o.leadIn
	}
	return o.positions[i] - o.positions[i-1]
}

// rotation is the table angle at capture i, measured from the first
// capture, as the motor actually turned it.
func (o *Orchestrator) rotation(i int) float64 {
	if o.motor.StepsPerRevolution() <= 0 {
		return float64(i) * o.angle
	}
	return motor.DegreesForSteps(o.motor, o.positions[i])
}

// finish settles the state, records the outcome and emits the terminal
// response.
func (o *Orchestrator) finish(s *Session, emit Emitter, err error) {
	summary := ScanSummary{
		CompletedSteps: s.CompletedSteps(),
		TotalPoints:    s.Points(),
		FinishedAt:     o.clock.Now(),
	}
	var final protocol.Response

	o.mu.Lock()
	switch {
	case err == nil:
		o.state = Idle
		summary.Outcome = OutcomeOK
		final = protocol.Ok()
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		o.state = Idle
		summary.Outcome = OutcomeCancelled
		summary.Error = "scan cancelled"
		final = protocol.Error(summary.Error)
	default:
		o.state = Error
		o.lastErr = err.Error()
		summary.Outcome = OutcomeError
		summary.Error = err.Error()
		final = protocol.Error(summary.Error)
	}
	s.err = err
	o.mu.Unlock()

	if rerr := o.rec.FinishScan(s.ID, summary); rerr != nil {
		log.Logf("history: finish scan %s: %v", s.ID, rerr)
	}
	if err != nil {
		log.Logf("scan %s %s after %d steps: %v", s.ID, summary.Outcome, summary.CompletedSteps, err)
	} else {
		log.Logf("scan %s complete: %d points", s.ID, summary.TotalPoints)
	}
	emit(final)
}

// Session is one running or finished sweep.
type Session struct {
	ID        string
	StartedAt time.Time
	Steps     int

	points    atomic.Int64
	completed atomic.Int64
	done      chan struct{}
	err       error
}

// Done is closed once the terminal response has been emitted.
func (s *Session) Done() <-chan struct{} { return s.done }

// Points returns the number of points emitted so far.
func (s *Session) Points() int { return int(s.points.Load()) }

// CompletedSteps returns the number of captures processed so far.
func (s *Session) CompletedSteps() int { return int(s.completed.Load()) }

// Err returns why the sweep stopped, or nil on success. Only valid after Done.
func (s *Session) Err() error {
	<-s.done
	return s.err
}
