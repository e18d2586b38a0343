package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/banshee-data/scan3d/internal/protocol"
	"github.com/banshee-data/scan3d/internal/scanner"
)

// frame is one inbound WebSocket message.
type frame struct {
	data   []byte
	binary bool
}

// frameCodec sends responses as text frames and receives raw frames so
// binary messages can be refused.
var frameCodec = websocket.Codec{
	Marshal: func(v interface{}) ([]byte, byte, error) {
		r, ok := v.(protocol.Response)
		if !ok {
			return nil, 0, fmt.Errorf("cannot send %T", v)
		}
		data, err := protocol.EncodeResponse(r)
		return data, websocket.TextFrame, err
	},
	Unmarshal: func(data []byte, payloadType byte, v interface{}) error {
		f, ok := v.(*frame)
		if !ok {
			return fmt.Errorf("cannot receive into %T", v)
		}
		f.data = data
		f.binary = payloadType == websocket.BinaryFrame
		return nil
	},
}

// conn is one client. The reader goroutine (the WebSocket handler) is the
// only one that starts scans; the writer goroutine is the only one that
// writes to the socket.
type conn struct {
	srv    *Server
	ws     *websocket.Conn
	remote string

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards closing out against concurrent sends.
	mu     sync.RWMutex
	out    chan protocol.Response
	closed bool

	writerDone chan struct{}
	scan       *scanner.Session
}

func newConn(srv *Server, ws *websocket.Conn) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	remote := "unknown"
	if req := ws.Request(); req != nil {
		remote = req.RemoteAddr
	}
	return &conn{
		srv:        srv,
		ws:         ws,
		remote:     remote,
		ctx:        ctx,
		cancel:     cancel,
		out:        make(chan protocol.Response, srv.queueSize),
		writerDone: make(chan struct{}),
	}
}

// send queues r for the writer. It blocks while the queue is full and is a
// no-op once the connection is shutting down. The writer drains the queue
// until it is closed, even after a write failure, so send always returns.
func (c *conn) send(r protocol.Response) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	c.out <- r
}

func (c *conn) closeQueue() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
}

func (c *conn) run() {
	log.Logf("client %s connected", c.remote)
	go c.writeLoop()

	c.readLoop()

	// Abort our scan, let it emit its last response, then flush.
	c.cancel()
	if c.scan != nil {
		<-c.scan.Done()
	}
	c.closeQueue()
	<-c.writerDone
	c.ws.Close()
	log.Logf("client %s disconnected", c.remote)
}

func (c *conn) readLoop() {
	for {
		var f frame
		if err := frameCodec.Receive(c.ws, &f); err != nil {
			if errors.Is(err, websocket.ErrFrameTooLarge) {
				c.send(protocol.Errorf("message exceeds %d bytes", MaxPayloadBytes))
				continue
			}
			if !errors.Is(err, io.EOF) && c.ctx.Err() == nil {
				log.Logf("client %s: %v", c.remote, &TransportError{Op: "read", Err: err})
			}
			return
		}
		if f.binary {
			c.send(protocol.Error("binary messages are not supported"))
			continue
		}
		cmd, err := protocol.DecodeCommand(f.data)
		if err != nil {
			c.send(protocol.Errorf("invalid command: %v", err))
			continue
		}
		c.dispatch(cmd)
	}
}

func (c *conn) dispatch(cmd protocol.Command) {
	switch cmd.Type {
	case protocol.CommandStatus:
		c.send(protocol.StatusResponse(c.srv.scanner.Status()))
	case protocol.CommandReplay:
		if cmd.DataStreamURL != "" {
			log.Logf("client %s: replay with data stream %s", c.remote, cmd.DataStreamURL)
		}
		s, err := c.srv.scanner.Replay(c.ctx, c.send)
		if err != nil {
			c.send(protocol.Error(err.Error()))
			return
		}
		c.scan = s
		log.Logf("client %s: scan %s started", c.remote, s.ID)
	}
}

func (c *conn) writeLoop() {
	defer close(c.writerDone)
	failed := false
	for r := range c.out {
		if failed {
			continue
		}
		if err := frameCodec.Send(c.ws, r); err != nil {
			failed = true
			log.Logf("client %s: %v", c.remote, &TransportError{Op: "write", Err: err})
			c.cancel()
			continue
		}
		if r.Type == protocol.ResponseClose {
			// The client is told to go away; unblock the reader.
			failed = true
			c.cancel()
			c.ws.Close()
		}
	}
}

// rejectClosing answers a connection that arrived during shutdown.
func (c *conn) rejectClosing() {
	c.cancel()
	frameCodec.Send(c.ws, protocol.Close())
	c.ws.Close()
}
