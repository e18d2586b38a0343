// Package protocol defines the client/server message envelope.
//
// Messages are JSON and externally tagged: a variant without payload is the
// bare string of its name ("Ok", "Status"), a variant with payload is a
// single-key object whose key is the name ({"Error": "..."}). Every message
// travels as one WebSocket text frame.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// DecodeError reports a frame that is not a valid message.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode: " + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErrorf(format string, args ...any) error {
	return &DecodeError{Err: fmt.Errorf(format, args...)}
}

// CommandType names a client request.
type CommandType string

const (
	CommandStatus CommandType = "Status"
	CommandReplay CommandType = "Replay"
)

// Command is a client request.
type Command struct {
	Type CommandType
	// DataStreamURL is the optional Replay payload.
	DataStreamURL string
}

// Status returns a Status command.
func Status() Command { return Command{Type: CommandStatus} }

// Replay returns a Replay command with an optional data stream URL.
func Replay(dataStreamURL string) Command {
	return Command{Type: CommandReplay, DataStreamURL: dataStreamURL}
}

type replayPayload struct {
	DataStreamURL string `json:"data_stream_url"`
}

// MarshalJSON implements json.Marshaler.
func (c Command) MarshalJSON() ([]byte, error) {
	switch c.Type {
	case CommandStatus:
		return json.Marshal(string(c.Type))
	case CommandReplay:
		if c.DataStreamURL == "" {
			return json.Marshal(string(c.Type))
		}
		return json.Marshal(map[string]replayPayload{string(c.Type): {DataStreamURL: c.DataStreamURL}})
	}
	return nil, fmt.Errorf("unknown command %q", c.Type)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Command) UnmarshalJSON(data []byte) error {
	tag, payload, err := splitTagged(data)
	if err != nil {
		return err
	}
	switch CommandType(tag) {
	case CommandStatus:
		// Status carries no payload; tolerate null or an empty object.
		if !isEmptyPayload(payload) {
			return decodeErrorf("Status takes no payload")
		}
		*c = Status()
		return nil
	case CommandReplay:
		if isEmptyPayload(payload) {
			*c = Replay("")
			return nil
		}
		var p replayPayload
		if err := strictUnmarshal(payload, &p); err != nil {
			return decodeErrorf("Replay payload: %v", err)
		}
		*c = Replay(p.DataStreamURL)
		return nil
	}
	return decodeErrorf("unknown command %q", tag)
}

// ResponseType names a server message.
type ResponseType string

const (
	ResponseOk         ResponseType = "Ok"
	ResponseError      ResponseType = "Error"
	ResponseStatus     ResponseType = "Status"
	ResponsePointCloud ResponseType = "PointCloud"
	ResponseClose      ResponseType = "Close"
)

// Lasers reports the laser power state.
type Lasers struct {
	Laser1 bool `json:"laser_1"`
	Laser2 bool `json:"laser_2"`
}

// ScannerStatus is the Status response payload.
type ScannerStatus struct {
	Lasers     Lasers  `json:"lasers"`
	MotorSpeed float64 `json:"motor_speed"`
}

// Point is one 3D sample, encoded as [x, y, z].
type Point [3]float64

// PointCloud is a chunk of world-frame points.
type PointCloud struct {
	Points []Point `json:"points"`
}

// NewPointCloud copies vectors into a PointCloud.
func NewPointCloud(points []r3.Vec) PointCloud {
	if len(points) == 0 {
		return PointCloud{}
	}
	out := make([]Point, len(points))
	for i, p := range points {
		out[i] = Point{p.X, p.Y, p.Z}
	}
	return PointCloud{Points: out}
}

// Response is a server message. Exactly the payload matching Type is set.
type Response struct {
	Type       ResponseType
	Error      string
	Status     *ScannerStatus
	PointCloud *PointCloud
}

// Ok acknowledges a command or ends a successful sweep.
func Ok() Response { return Response{Type: ResponseOk} }

// Close tells the client the server is going away.
func Close() Response { return Response{Type: ResponseClose} }

// Error reports a failure with a human-readable reason.
func Error(reason string) Response { return Response{Type: ResponseError, Error: reason} }

// Errorf is Error with formatting.
func Errorf(format string, args ...any) Response {
	return Error(fmt.Sprintf(format, args...))
}

// StatusResponse wraps s.
func StatusResponse(s ScannerStatus) Response {
	return Response{Type: ResponseStatus, Status: &s}
}

// PointCloudResponse wraps pc.
func PointCloudResponse(pc PointCloud) Response {
	return Response{Type: ResponsePointCloud, PointCloud: &pc}
}

// IsTerminal reports whether r ends a sweep.
func (r Response) IsTerminal() bool {
	return r.Type == ResponseOk || r.Type == ResponseError
}

// MarshalJSON implements json.Marshaler.
func (r Response) MarshalJSON() ([]byte, error) {
	switch r.Type {
	case ResponseOk, ResponseClose:
		return json.Marshal(string(r.Type))
	case ResponseError:
		return json.Marshal(map[string]string{string(r.Type): r.Error})
	case ResponseStatus:
		var s ScannerStatus
		if r.Status != nil {
			s = *r.Status
		}
		return json.Marshal(map[string]ScannerStatus{string(r.Type): s})
	case ResponsePointCloud:
		pc := PointCloud{Points: []Point{}}
		if r.PointCloud != nil && len(r.PointCloud.Points) > 0 {
			pc = *r.PointCloud
		}
		return json.Marshal(map[string]PointCloud{string(r.Type): pc})
	}
	return nil, fmt.Errorf("unknown response %q", r.Type)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Response) UnmarshalJSON(data []byte) error {
	tag, payload, err := splitTagged(data)
	if err != nil {
		return err
	}
	switch t := ResponseType(tag); t {
	case ResponseOk, ResponseClose:
		if payload != nil {
			return decodeErrorf("%s takes no payload", t)
		}
		*r = Response{Type: t}
	case ResponseError:
		var reason string
		if err := json.Unmarshal(payload, &reason); err != nil {
			return decodeErrorf("Error payload: %v", err)
		}
		*r = Error(reason)
	case ResponseStatus:
		var s ScannerStatus
		if err := strictUnmarshal(payload, &s); err != nil {
			return decodeErrorf("Status payload: %v", err)
		}
		*r = StatusResponse(s)
	case ResponsePointCloud:
		var pc PointCloud
		if err := strictUnmarshal(payload, &pc); err != nil {
			return decodeErrorf("PointCloud payload: %v", err)
		}
		if len(pc.Points) == 0 {
			pc.Points = nil
		}
		*r = PointCloudResponse(pc)
	default:
		return decodeErrorf("unknown response %q", tag)
	}
	return nil
}

// splitTagged returns the variant name and its raw payload. A bare string
// yields a nil payload.
func splitTagged(data []byte) (string, json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return "", nil, decodeErrorf("empty message")
	}
	switch data[0] {
	case '"':
		var tag string
		if err := json.Unmarshal(data, &tag); err != nil {
			return "", nil, &DecodeError{Err: err}
		}
		return tag, nil, nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", nil, &DecodeError{Err: err}
		}
		if len(obj) != 1 {
			return "", nil, decodeErrorf("expected exactly one variant, got %d keys", len(obj))
		}
		for tag, payload := range obj {
			return tag, payload, nil
		}
	}
	return "", nil, decodeErrorf("expected a string or object")
}

func isEmptyPayload(payload json.RawMessage) bool {
	p := bytes.TrimSpace(payload)
	return len(p) == 0 || bytes.Equal(p, []byte("null")) || bytes.Equal(p, []byte("{}"))
}

func strictUnmarshal(data []byte, v any) error {
	if isNull(data) {
		return errors.New("missing payload")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func isNull(data []byte) bool {
	p := bytes.TrimSpace(data)
	return len(p) == 0 || bytes.Equal(p, []byte("null"))
}

// EncodeCommand renders c as one text frame.
func EncodeCommand(c Command) ([]byte, error) {
	return json.Marshal(c)
}

// DecodeCommand parses a text frame. Failures are *DecodeError.
func DecodeCommand(data []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(data, &c); err != nil {
		return Command{}, asDecodeError(err)
	}
	return c, nil
}

// EncodeResponse renders r as one text frame.
func EncodeResponse(r Response) ([]byte, error) {
	return json.Marshal(r)
}

// DecodeResponse parses a text frame. Failures are *DecodeError.
func DecodeResponse(data []byte) (Response, error) {
	var r Response
	if err := json.Unmarshal(data, &r); err != nil {
		return Response{}, asDecodeError(err)
	}
	return r, nil
}

func asDecodeError(err error) error {
	var de *DecodeError
	if errors.As(err, &de) {
		return de
	}
	return &DecodeError{Err: err}
}
