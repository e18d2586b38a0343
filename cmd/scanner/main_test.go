package main

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	"github.com/banshee-data/scan3d/internal/calibration"
	"github.com/banshee-data/scan3d/internal/camera"
	"github.com/banshee-data/scan3d/internal/config"
	"github.com/banshee-data/scan3d/internal/monitoring"
	"github.com/banshee-data/scan3d/internal/protocol"
	"github.com/banshee-data/scan3d/internal/testutil"
)

func testEnv(t *testing.T) config.ServerEnv {
	return config.ServerEnv{
		History:    true,
		DBPath:     filepath.Join(t.TempDir(), "scans.db"),
		Motor:      config.MotorMock,
		MotorBaud:  115200,
		ListenHost: "127.0.0.1",
	}
}

func TestParseRunArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    runArgs
		wantErr bool
	}{
		{"minimal", []string{"12345", "frames"}, runArgs{Port: 12345, ImageDir: "frames", Calibration: "calibration.json"}, false},
		{"calibration", []string{"1", "frames", "rig.json"}, runArgs{Port: 1, ImageDir: "frames", Calibration: "rig.json"}, false},
		{"telemetry", []string{"1", "frames", "rig.json", "10.0.0.2", "9876"},
			runArgs{Port: 1, ImageDir: "frames", Calibration: "rig.json", TelemetryHost: "10.0.0.2", TelemetryPort: 9876}, false},
		{"too few", []string{"12345"}, runArgs{}, true},
		{"too many", []string{"1", "f", "c", "h", "2", "x"}, runArgs{}, true},
		{"bad port", []string{"http", "frames"}, runArgs{}, true},
		{"port range", []string{"70000", "frames"}, runArgs{}, true},
		{"ip without port", []string{"1", "frames", "rig.json", "10.0.0.2"}, runArgs{}, true},
		{"bad telemetry port", []string{"1", "frames", "rig.json", "10.0.0.2", "x"}, runArgs{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRunArgs(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseDegrees(t *testing.T) {
	if d, err := parseDegrees("90.5"); err != nil || d != 90.5 {
		t.Errorf("parseDegrees(90.5) = %v, %v", d, err)
	}
	for _, bad := range []string{"-5", "ninety"} {
		if _, err := parseDegrees(bad); err == nil {
			t.Errorf("parseDegrees(%q) should fail", bad)
		}
	}
}

func TestMoveMotor(t *testing.T) {
	monitoring.SetLogger(nil)
	if err := moveMotor(context.Background(), 90, testEnv(t)); err != nil {
		t.Fatal(err)
	}
	env := testEnv(t)
	env.ScanConfig = testutil.WriteFile(t, "scan.json", `{"angle_per_step_deg": -1}`)
	if err := moveMotor(context.Background(), 90, env); err == nil {
		t.Error("invalid scan config should fail")
	}
}

func TestRunServerBadCalibration(t *testing.T) {
	path := testutil.WriteFile(t, "calibration.json", `{"camera": {}}`)
	called := false
	err := runServer(context.Background(), runArgs{Calibration: path, ImageDir: t.TempDir()}, testEnv(t), func(net.Addr) { called = true })
	var ce *calibration.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *calibration.ConfigError", err)
	}
	if called {
		t.Error("listener bound despite bad calibration")
	}
}

func TestRunServerMissingFrames(t *testing.T) {
	err := runServer(context.Background(), runArgs{
		Calibration: testutil.WriteCalibration(t),
		ImageDir:    filepath.Join(t.TempDir(), "missing"),
	}, testEnv(t), nil)
	if !errors.Is(err, &camera.Error{Kind: camera.NotFound}) {
		t.Errorf("err = %v, want camera not found", err)
	}
}

func TestRunServerServesClients(t *testing.T) {
	frames := t.TempDir()
	testutil.WritePNG(t, filepath.Join(frames, "000.png"), testutil.LaserFrame(64, 48, 40, 42))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addrc := make(chan net.Addr, 1)
	errc := make(chan error, 1)
	go func() {
		errc <- runServer(ctx, runArgs{
			Port:        0,
			ImageDir:    frames,
			Calibration: testutil.WriteCalibration(t),
		}, testEnv(t), func(a net.Addr) { addrc <- a })
	}()

	var addr net.Addr
	select {
	case addr = <-addrc:
	case err := <-errc:
		t.Fatalf("runServer: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	conn, err := websocket.Dial("ws://"+addr.String()+"/", "", "http://"+addr.String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if err := websocket.Message.Send(conn, `"Status"`); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg string
	if err := websocket.Message.Receive(conn, &msg); err != nil {
		t.Fatal(err)
	}
	if msg != `{"Status":{"lasers":{"laser_1":false,"laser_2":false},"motor_speed":0}}` {
		t.Errorf("status = %s", msg)
	}

	// One frame for a 72-step sweep: the camera runs out after the first step.
	if err := websocket.Message.Send(conn, `"Replay"`); err != nil {
		t.Fatal(err)
	}
	var responses []protocol.Response
	for {
		if err := websocket.Message.Receive(conn, &msg); err != nil {
			t.Fatal(err)
		}
		r, err := protocol.DecodeResponse([]byte(msg))
		if err != nil {
			t.Fatal(err)
		}
		responses = append(responses, r)
		if r.IsTerminal() {
			break
		}
	}
	if len(responses) != 2 || responses[1] != protocol.Error("no more frames") {
		t.Errorf("responses = %+v", responses)
	}

	cancel()
	if err := websocket.Message.Receive(conn, &msg); err != nil || msg != `"Close"` {
		t.Errorf("expected Close on shutdown, got %q, %v", msg, err)
	}
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("runServer = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("runServer did not return")
	}
}
