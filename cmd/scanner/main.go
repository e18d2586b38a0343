package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/banshee-data/scan3d/internal/calibration"
	"github.com/banshee-data/scan3d/internal/camera"
	"github.com/banshee-data/scan3d/internal/config"
	"github.com/banshee-data/scan3d/internal/motor"
	"github.com/banshee-data/scan3d/internal/scandb"
	"github.com/banshee-data/scan3d/internal/scanner"
	"github.com/banshee-data/scan3d/internal/server"
	"github.com/banshee-data/scan3d/internal/telemetry"
	"github.com/banshee-data/scan3d/internal/version"
)

var (
	debugRoutes     = flag.Bool("debug-routes", true, "Mount the /debug/ admin pages on the listener")
	shutdownTimeout = flag.Duration("shutdown-timeout", 2*time.Second, "How long to wait for clients on shutdown")
)

const defaultCalibration = "calibration.json"

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage:
  scanner [flags] run <port> <image_dir> [calibration=%s] [telemetry_ip] [telemetry_port]
  scanner [flags] motor <degrees>
  scanner version

Environment: SCANNER_HISTORY, SCANNER_DB_PATH, SCANNER_MOTOR, SCANNER_MOTOR_PORT,
SCANNER_MOTOR_BAUD, SCANNER_SCAN_CONFIG, SCANNER_LISTEN_HOST

Flags:
`, defaultCalibration)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	switch args[0] {
	case "version":
		fmt.Println(version.String())
		return
	case "run", "motor":
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		usage()
		os.Exit(2)
	}

	env, err := config.LoadServerEnv()
	if err != nil {
		log.Fatalf("invalid environment: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "run":
		ra, err := parseRunArgs(args[1:])
		if err != nil {
			log.Fatalf("run: %v", err)
		}
		log.Printf("starting %s", version.String())
		if err := runServer(ctx, ra, env, nil); err != nil {
			log.Fatalf("run: %v", err)
		}
		log.Printf("Graceful shutdown complete")
	case "motor":
		if len(args) != 2 {
			log.Fatal("usage: scanner motor <degrees>")
		}
		degrees, err := parseDegrees(args[1])
		if err != nil {
			log.Fatalf("motor: %v", err)
		}
		if err := moveMotor(ctx, degrees, env); err != nil {
			log.Fatalf("motor: %v", err)
		}
	}
}

// runArgs are the positional arguments of the run command.
type runArgs struct {
	Port          int
	ImageDir      string
	Calibration   string
	TelemetryHost string
	TelemetryPort int
}

func parseRunArgs(args []string) (runArgs, error) {
	if len(args) < 2 || len(args) > 5 {
		return runArgs{}, fmt.Errorf("expected <port> <image_dir> [calibration] [telemetry_ip] [telemetry_port], got %d arguments", len(args))
	}
	port, err := parsePort(args[0])
	if err != nil {
		return runArgs{}, fmt.Errorf("port: %w", err)
	}
	ra := runArgs{Port: port, ImageDir: args[1], Calibration: defaultCalibration}
	if len(args) > 2 && args[2] != "" {
		ra.Calibration = args[2]
	}
	switch len(args) {
	case 4:
		return runArgs{}, errors.New("telemetry_ip needs telemetry_port")
	case 5:
		ra.TelemetryHost = args[3]
		if ra.TelemetryPort, err = parsePort(args[4]); err != nil {
			return runArgs{}, fmt.Errorf("telemetry_port: %w", err)
		}
	}
	return ra, nil
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if p < 0 || p > 65535 {
		return 0, fmt.Errorf("%d out of range", p)
	}
	return p, nil
}

func parseDegrees(s string) (float64, error) {
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("degrees must not be negative, got %v", d)
	}
	return d, nil
}

func loadScanConfig(env config.ServerEnv) (*config.ScanConfig, error) {
	if env.ScanConfig == "" {
		return config.EmptyScanConfig(), nil
	}
	return config.LoadScanConfig(env.ScanConfig)
}

// openMotor selects the driver named by SCANNER_MOTOR.
func openMotor(env config.ServerEnv, cfg *config.ScanConfig) (motor.Motor, error) {
	spr := cfg.GetMotorStepsPerRevolution()
	switch env.Motor {
	case config.MotorSerial:
		m, err := motor.OpenSerial(env.MotorPort,
			motor.PortOptions{BaudRate: env.MotorBaud},
			motor.SerialConfig{StepsPerRevolution: spr})
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return motor.NewMockMotor().WithStepsPerRevolution(spr), nil
	}
}

func closeMotor(m motor.Motor) {
	if c, ok := m.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Printf("failed to close motor: %v", err)
		}
	}
}

// moveMotor performs a one-shot move, truncated to whole steps.
func moveMotor(ctx context.Context, degrees float64, env config.ServerEnv) error {
	cfg, err := loadScanConfig(env)
	if err != nil {
		return err
	}
	m, err := openMotor(env, cfg)
	if err != nil {
		return err
	}
	defer closeMotor(m)
	log.Printf("initialized %s motor", m.Name())

	steps := motor.StepsForDegrees(m, degrees)
	log.Printf("moving motor %v degrees, %d steps", degrees, steps)
	return m.Step(ctx, steps)
}

// runServer wires the scanner and serves clients until ctx is cancelled.
// Calibration and devices are loaded before the listener binds, so a bad
// setup never accepts a client. ready, if set, is called with the bound
// address.
func runServer(ctx context.Context, ra runArgs, env config.ServerEnv, ready func(net.Addr)) error {
	calib, err := calibration.Load(ra.Calibration)
	if err != nil {
		return err
	}
	cfg, err := loadScanConfig(env)
	if err != nil {
		return err
	}

	cam, err := camera.OpenDir(ra.ImageDir)
	if err != nil {
		return err
	}
	defer cam.Close()
	log.Printf("replaying %d frames from %s", cam.Len(), cam.Source())

	m, err := openMotor(env, cfg)
	if err != nil {
		return err
	}
	defer closeMotor(m)
	log.Printf("initialized %s motor", m.Name())

	var sink telemetry.Sink = telemetry.Nop{}
	if ra.TelemetryHost != "" {
		w, h := cfg.GetTelemetryImageSize()
		udp, err := telemetry.NewUDPSink(ctx, telemetry.UDPOptions{
			Host:        ra.TelemetryHost,
			Port:        ra.TelemetryPort,
			ImageWidth:  w,
			ImageHeight: h,
		})
		if err != nil {
			return err
		}
		defer func() {
			udp.Close()
			log.Printf("telemetry: %d datagrams sent, %d dropped", udp.Stats().Sent(), udp.Stats().Dropped())
		}()
		sink = udp
	}

	var (
		recorder scanner.Recorder
		history  *scandb.DB
	)
	if env.History {
		history, err = scandb.Open(env.DBPath)
		if err != nil {
			return err
		}
		defer history.Close()
		if v, dirty, err := history.MigrateVersion(); err != nil {
			log.Printf("failed to read scan history schema version: %v", err)
		} else {
			log.Printf("scan history %s at schema version %d (dirty=%v)", history.Path(), v, dirty)
		}
		if _, err := history.MarkInterrupted(time.Now()); err != nil {
			log.Printf("failed to close out interrupted scans: %v", err)
		}
		recorder = history
	}

	orch := scanner.New(scanner.Options{
		Camera:      cam,
		Motor:       m,
		Calibration: calib,
		Sink:        sink,
		Recorder:    recorder,
		Config:      cfg,
	})

	srv := server.New(orch, cfg.GetOutboundQueueSize())
	mux := srv.ServeMux()
	if *debugRoutes {
		srv.AttachAdminRoutes(mux, orch.Snapshot)
		if history != nil {
			if err := history.AttachAdminRoutes(mux); err != nil {
				return err
			}
		}
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(env.ListenHost, strconv.Itoa(ra.Port)))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	log.Printf("listening on %s", ln.Addr())
	if ready != nil {
		ready(ln.Addr())
	}

	httpServer := &http.Server{Handler: mux}
	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("client shutdown: %v", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		httpServer.Close()
	}
	orch.Wait()
	return nil
}
