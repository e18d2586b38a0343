// Package scandb keeps a SQLite history of sweeps: when each ran, how it
// ended and how many points every step produced. Points themselves are
// never stored.
package scandb

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/scan3d/internal/monitoring"
	"github.com/banshee-data/scan3d/internal/scanner"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var log = monitoring.Component("scandb")

// ErrNotFound is returned when a scan ID is unknown.
var ErrNotFound = errors.New("scan not found")

type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the history database at path and applies
// pending migrations.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open scan history: %w", err)
	}
	db := &DB{DB: sqlDB, path: path}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the database file.
func (db *DB) Path() string { return db.path }

// MigrateUp applies all pending migrations.
func (db *DB) MigrateUp() error {
	m, err := db.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: that would close db.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the applied schema version, 0 when none.
func (db *DB) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := db.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (db *DB) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{monitoring.Component("migrate")}
	return m, nil
}

// migrateLogger routes golang-migrate output through the package logger.
type migrateLogger struct {
	monitoring.Logger
}

func (migrateLogger) Verbose() bool { return false }

// unixSeconds stores times the way the rest of the schema does: fractional
// seconds since the epoch.
func unixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

func fromUnixSeconds(v float64) time.Time {
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*1e3).UTC()
}

// BeginScan implements scanner.Recorder.
func (db *DB) BeginScan(info scanner.ScanInfo) error {
	_, err := db.Exec(
		`INSERT INTO scans (scan_id, started_at, outcome, motor, planned_steps, angle_per_step, motor_steps)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		info.ID, unixSeconds(info.StartedAt), string(scanner.OutcomeRunning), info.Motor,
		info.PlannedSteps, info.AnglePerStep, info.MotorSteps,
	)
	if err != nil {
		return fmt.Errorf("insert scan %s: %w", info.ID, err)
	}
	return nil
}

// RecordStep implements scanner.Recorder. The step row and the running
// totals on the scan are written together.
func (db *DB) RecordStep(scanID string, step scanner.StepRecord) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO scan_steps (scan_id, step, rotation_deg, points, detected, rejected, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		scanID, step.Step, step.RotationDeg, step.Points, step.Detected, step.Rejected, unixSeconds(step.At),
	); err != nil {
		return fmt.Errorf("insert step %d of scan %s: %w", step.Step, scanID, err)
	}
	res, err := tx.Exec(
		`UPDATE scans SET completed_steps = completed_steps + 1, total_points = total_points + ?
		WHERE scan_id = ?`,
		step.Points, scanID,
	)
	if err != nil {
		return fmt.Errorf("update scan %s: %w", scanID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// FinishScan implements scanner.Recorder.
func (db *DB) FinishScan(scanID string, summary scanner.ScanSummary) error {
	res, err := db.Exec(
		`UPDATE scans SET finished_at = ?, outcome = ?, error = ?, completed_steps = ?, total_points = ?
		WHERE scan_id = ?`,
		unixSeconds(summary.FinishedAt), string(summary.Outcome), summary.Error,
		summary.CompletedSteps, summary.TotalPoints, scanID,
	)
	if err != nil {
		return fmt.Errorf("finish scan %s: %w", scanID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Scan is one row of the history.
type Scan struct {
	ID             string     `json:"id"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Outcome        string     `json:"outcome"`
	Error          string     `json:"error,omitempty"`
	Motor          string     `json:"motor"`
	PlannedSteps   int        `json:"planned_steps"`
	CompletedSteps int        `json:"completed_steps"`
	TotalPoints    int        `json:"total_points"`
	AnglePerStep   float64    `json:"angle_per_step"`
	MotorSteps     int        `json:"motor_steps"`
}

// Step is one captured frame of a scan.
type Step struct {
	Step        int       `json:"step"`
	RotationDeg float64   `json:"rotation_deg"`
	Points      int       `json:"points"`
	Detected    int       `json:"detected"`
	Rejected    int       `json:"rejected"`
	RecordedAt  time.Time `json:"recorded_at"`
}

const scanColumns = `scan_id, started_at, finished_at, outcome, error, motor,
	planned_steps, completed_steps, total_points, angle_per_step, motor_steps`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(row rowScanner) (Scan, error) {
	var (
		s        Scan
		started  float64
		finished sql.NullFloat64
	)
	if err := row.Scan(&s.ID, &started, &finished, &s.Outcome, &s.Error, &s.Motor,
		&s.PlannedSteps, &s.CompletedSteps, &s.TotalPoints, &s.AnglePerStep, &s.MotorSteps); err != nil {
		return Scan{}, err
	}
	s.StartedAt = fromUnixSeconds(started)
	if finished.Valid {
		t := fromUnixSeconds(finished.Float64)
		s.FinishedAt = &t
	}
	return s, nil
}

// ListScans returns the most recent scans first. limit <= 0 returns all.
func (db *DB) ListScans(limit int) ([]Scan, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`SELECT `+scanColumns+` FROM scans ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scans []Scan
	for rows.Next() {
		s, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		scans = append(scans, s)
	}
	return scans, rows.Err()
}

// GetScan returns one scan or ErrNotFound.
func (db *DB) GetScan(id string) (Scan, error) {
	s, err := scanRow(db.QueryRow(`SELECT `+scanColumns+` FROM scans WHERE scan_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Scan{}, ErrNotFound
	}
	return s, err
}

// ScanSteps returns the steps of a scan in capture order.
func (db *DB) ScanSteps(id string) ([]Step, error) {
	rows, err := db.Query(
		`SELECT step, rotation_deg, points, detected, rejected, recorded_at
		FROM scan_steps WHERE scan_id = ? ORDER BY step`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var (
			st Step
			at float64
		)
		if err := rows.Scan(&st.Step, &st.RotationDeg, &st.Points, &st.Detected, &st.Rejected, &at); err != nil {
			return nil, err
		}
		st.RecordedAt = fromUnixSeconds(at)
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// MarkInterrupted closes out scans left running by a previous process.
func (db *DB) MarkInterrupted(now time.Time) (int64, error) {
	res, err := db.Exec(
		`UPDATE scans SET outcome = ?, error = 'interrupted', finished_at = ? WHERE outcome = ?`,
		string(scanner.OutcomeError), unixSeconds(now), string(scanner.OutcomeRunning),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if n > 0 {
		log.Logf("marked %d interrupted scans", n)
	}
	return n, err
}
