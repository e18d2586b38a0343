package config

import (
	"os"
	"strings"
	"testing"
)

func TestLoadServerEnvDefaults(t *testing.T) {
	for _, k := range []string{"SCANNER_HISTORY", "SCANNER_DB_PATH", "SCANNER_MOTOR", "SCANNER_MOTOR_PORT", "SCANNER_MOTOR_BAUD", "SCANNER_SCAN_CONFIG", "SCANNER_LISTEN_HOST"} {
		t.Setenv(k, "") // restores the original value after the test
		os.Unsetenv(k)
	}

	cfg, err := LoadServerEnv()
	if err != nil {
		t.Fatalf("LoadServerEnv: %v", err)
	}
	want := ServerEnv{
		History:    true,
		DBPath:     "scans.db",
		Motor:      MotorMock,
		MotorPort:  "/dev/ttyUSB0",
		MotorBaud:  115200,
		ListenHost: "0.0.0.0",
	}
	if cfg != want {
		t.Errorf("LoadServerEnv() = %+v, want %+v", cfg, want)
	}
}

func TestLoadServerEnvOverrides(t *testing.T) {
	t.Setenv("SCANNER_MOTOR", "serial")
	t.Setenv("SCANNER_MOTOR_PORT", "/dev/ttyACM0")
	t.Setenv("SCANNER_MOTOR_BAUD", "9600")
	t.Setenv("SCANNER_SCAN_CONFIG", "scan.json")
	t.Setenv("SCANNER_DB_PATH", "/var/lib/scanner/history.db")
	t.Setenv("SCANNER_HISTORY", "false")

	cfg, err := LoadServerEnv()
	if err != nil {
		t.Fatalf("LoadServerEnv: %v", err)
	}
	if cfg.Motor != MotorSerial || cfg.MotorPort != "/dev/ttyACM0" || cfg.MotorBaud != 9600 {
		t.Errorf("motor settings = %+v", cfg)
	}
	if cfg.ScanConfig != "scan.json" || cfg.DBPath != "/var/lib/scanner/history.db" || cfg.History {
		t.Errorf("paths = %+v", cfg)
	}
}

func TestLoadServerEnvErrors(t *testing.T) {
	t.Run("bad baud", func(t *testing.T) {
		t.Setenv("SCANNER_MOTOR_BAUD", "fast")
		_, err := LoadServerEnv()
		if err == nil || !strings.Contains(err.Error(), "parse env:") {
			t.Fatalf("expected parse env error, got %v", err)
		}
	})
	t.Run("unknown motor", func(t *testing.T) {
		t.Setenv("SCANNER_MOTOR", "gpio")
		_, err := LoadServerEnv()
		if err == nil || !strings.Contains(err.Error(), "SCANNER_MOTOR") {
			t.Fatalf("expected motor error, got %v", err)
		}
	})
}
