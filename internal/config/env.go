package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Motor driver names accepted by SCANNER_MOTOR.
const (
	MotorMock   = "mock"
	MotorSerial = "serial"
)

// ServerEnv is the part of the server configuration that comes from the
// process environment rather than the command line.
type ServerEnv struct {
	History    bool   `env:"SCANNER_HISTORY" envDefault:"true"`
	DBPath     string `env:"SCANNER_DB_PATH" envDefault:"scans.db"`
	Motor      string `env:"SCANNER_MOTOR" envDefault:"mock"`
	MotorPort  string `env:"SCANNER_MOTOR_PORT" envDefault:"/dev/ttyUSB0"`
	MotorBaud  int    `env:"SCANNER_MOTOR_BAUD" envDefault:"115200"`
	ScanConfig string `env:"SCANNER_SCAN_CONFIG"`
	ListenHost string `env:"SCANNER_LISTEN_HOST" envDefault:"0.0.0.0"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadServerEnv parses and validates ServerEnv.
func LoadServerEnv() (ServerEnv, error) {
	var cfg ServerEnv
	if err := ParseEnv(&cfg); err != nil {
		return ServerEnv{}, err
	}
	switch cfg.Motor {
	case MotorMock, MotorSerial:
	default:
		return ServerEnv{}, fmt.Errorf("SCANNER_MOTOR must be %q or %q, got %q", MotorMock, MotorSerial, cfg.Motor)
	}
	if cfg.MotorBaud <= 0 {
		return ServerEnv{}, fmt.Errorf("SCANNER_MOTOR_BAUD must be positive, got %d", cfg.MotorBaud)
	}
	return cfg, nil
}
