package scanner

import "time"

// Outcome is how a sweep ended.
type Outcome string

const (
	OutcomeRunning   Outcome = "running"
	OutcomeOK        Outcome = "ok"
	OutcomeError     Outcome = "error"
	OutcomeCancelled Outcome = "cancelled"
)

// ScanInfo describes a sweep as it starts.
type ScanInfo struct {
	ID           string
	StartedAt    time.Time
	PlannedSteps int
	AnglePerStep float64
	// MotorSteps is the number of motor steps taken per capture.
	MotorSteps int
	Motor      string
}

// StepRecord is the result of one capture.
type StepRecord struct {
	Step        int
	RotationDeg float64
	Points      int
	Detected    int
	Rejected    int
	At          time.Time
}

// ScanSummary describes a finished sweep.
type ScanSummary struct {
	Outcome        Outcome
	Error          string
	CompletedSteps int
	TotalPoints    int
	FinishedAt     time.Time
}

// Recorder keeps a history of sweeps. Recorder errors are logged and never
// abort a sweep.
type Recorder interface {
	BeginScan(info ScanInfo) error
	RecordStep(scanID string, step StepRecord) error
	FinishScan(scanID string, summary ScanSummary) error
}

// NopRecorder records nothing.
type NopRecorder struct{}

func (NopRecorder) BeginScan(ScanInfo) error             { return nil }
func (NopRecorder) RecordStep(string, StepRecord) error  { return nil }
func (NopRecorder) FinishScan(string, ScanSummary) error { return nil }
