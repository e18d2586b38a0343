package telemetry

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/scan3d/internal/monitoring"
	"github.com/banshee-data/scan3d/internal/timeutil"
)

var log = monitoring.Component("telemetry")

// Stats counts forwarded and dropped datagrams.
type Stats struct {
	sent    atomic.Uint64
	dropped atomic.Uint64
}

func (s *Stats) AddSent()        { s.sent.Add(1) }
func (s *Stats) AddDropped()     { s.dropped.Add(1) }
func (s *Stats) Sent() uint64    { return s.sent.Load() }
func (s *Stats) Dropped() uint64 { return s.dropped.Load() }

// Forwarder sends datagrams asynchronously. Callers never block: when the
// queue is full the datagram is dropped and counted.
type Forwarder struct {
	conn        net.Conn
	queue       chan []byte
	stats       *Stats
	logInterval time.Duration
	address     string
	clock       timeutil.Clock

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// queueSize bounds the datagrams waiting to be written.
const queueSize = 1000

// NewForwarder dials host:port over UDP. A nil clock uses the real one.
func NewForwarder(host string, port int, stats *Stats, logInterval time.Duration, clock timeutil.Clock) (*Forwarder, error) {
	address := net.JoinHostPort(host, fmt.Sprint(port))
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve telemetry address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create telemetry connection: %w", err)
	}
	if stats == nil {
		stats = &Stats{}
	}
	if logInterval <= 0 {
		logInterval = 10 * time.Second
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Forwarder{
		conn:        conn,
		queue:       make(chan []byte, queueSize),
		stats:       stats,
		logInterval: logInterval,
		address:     address,
		clock:       clock,
		done:        make(chan struct{}),
	}, nil
}

// Address returns the destination.
func (f *Forwarder) Address() string { return f.address }

// Stats returns the forwarding counters.
func (f *Forwarder) Stats() *Stats { return f.stats }

// Start runs the writer until ctx is cancelled or Close is called. Write
// errors are summarised once per log interval.
func (f *Forwarder) Start(ctx context.Context) {
	ticker := f.clock.NewTicker(f.logInterval)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer ticker.Stop()
		failed := 0
		var lastErr error

		for {
			select {
			case <-ctx.Done():
				return
			case <-f.done:
				return
			case pkt := <-f.queue:
				if _, err := f.conn.Write(pkt); err != nil {
					failed++
					lastErr = err
					f.stats.AddDropped()
					continue
				}
				f.stats.AddSent()
			case <-ticker.C():
				if failed > 0 {
					log.Logf("dropped %d datagrams to %s (latest: %v)", failed, f.address, lastErr)
					failed = 0
					lastErr = nil
				}
			}
		}
	}()
	log.Logf("forwarding telemetry to %s", f.address)
}

// ForwardAsync queues a copy of pkt.
func (f *Forwarder) ForwardAsync(pkt []byte) {
	cp := make([]byte, len(pkt))
	copy(cp, pkt)
	select {
	case <-f.done:
		f.stats.AddDropped()
	case f.queue <- cp:
	default:
		f.stats.AddDropped()
	}
}

// Close stops the writer and closes the socket. Queued datagrams are discarded.
func (f *Forwarder) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		f.wg.Wait()
		err = f.conn.Close()
	})
	return err
}
