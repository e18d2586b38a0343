// Package server accepts scanner clients over WebSocket. Each connection
// gets a reader that decodes and dispatches commands and a writer that
// drains a bounded queue of responses, so a slow client slows its own scan
// and nothing else.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/net/websocket"
	"tailscale.com/tsweb"

	"github.com/banshee-data/scan3d/internal/httputil"
	"github.com/banshee-data/scan3d/internal/monitoring"
	"github.com/banshee-data/scan3d/internal/protocol"
	"github.com/banshee-data/scan3d/internal/scanner"
)

var log = monitoring.Component("server")

const (
	// DefaultPort is the port clients connect to when none is given.
	DefaultPort = 12345
	// MaxPayloadBytes caps one inbound frame.
	MaxPayloadBytes = 64 << 10
	// DefaultQueueSize bounds the responses waiting for a slow client.
	DefaultQueueSize = 64
)

// TransportError reports a failed read or write on a client connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport %s: %v", e.Op, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

// Scanner is the orchestrator as seen by connections.
type Scanner interface {
	Status() protocol.ScannerStatus
	Replay(ctx context.Context, emit scanner.Emitter) (*scanner.Session, error)
}

// Server tracks live connections and serves the WebSocket endpoint.
type Server struct {
	scanner   Scanner
	queueSize int

	mu      sync.Mutex
	conns   map[*conn]struct{}
	closing bool
	wg      sync.WaitGroup
	served  uint64
}

// New returns a server dispatching to sc. queueSize <= 0 uses
// DefaultQueueSize.
func New(sc Scanner, queueSize int) *Server {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Server{
		scanner:   sc,
		queueSize: queueSize,
		conns:     make(map[*conn]struct{}),
	}
}

// ServeMux returns a mux with the WebSocket endpoint mounted at / and /ws.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	ws := s.Handler()
	mux.Handle("/{$}", ws)
	mux.Handle("/ws", ws)
	return mux
}

// Handler returns the WebSocket handler. Any Origin is accepted; clients
// are native programs, not browsers.
func (s *Server) Handler() http.Handler {
	return websocket.Server{
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler:   s.serveConn,
	}
}

func (s *Server) serveConn(ws *websocket.Conn) {
	ws.MaxPayloadBytes = MaxPayloadBytes
	c := newConn(s, ws)

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		c.rejectClosing()
		return
	}
	s.conns[c] = struct{}{}
	s.served++
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		s.wg.Done()
	}()
	c.run()
}

// Connections returns the number of live connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown sends Close to every connection and waits for them to finish or
// for ctx to expire. New connections are refused from then on.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	log.Logf("closing %d connections", len(conns))
	for _, c := range conns {
		go c.send(protocol.Close())
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		for _, c := range conns {
			c.ws.Close()
		}
		return ctx.Err()
	}
}

// AttachAdminRoutes mounts the scanner debug page.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux, state func() scanner.Snapshot) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("scanner", "Scanner state and connected clients", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		page := struct {
			Connections int              `json:"connections"`
			Served      uint64           `json:"connections_served"`
			Scanner     scanner.Snapshot `json:"scanner"`
		}{Connections: len(s.conns), Served: s.served}
		s.mu.Unlock()
		if state != nil {
			page.Scanner = state()
		}
		httputil.WriteJSON(w, http.StatusOK, page)
	})
}
