package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"sync"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/scan3d/internal/calibration"
	"github.com/banshee-data/scan3d/internal/geometry"
	"github.com/banshee-data/scan3d/internal/timeutil"
)

// MaxPointsPerDatagram keeps a points datagram well under the UDP limit.
const MaxPointsPerDatagram = 512

// maxDatagram is the largest payload sent; bigger records are refused.
const maxDatagram = 60000

// Record kinds.
const (
	KindImage     = "image"
	KindPoints    = "points"
	KindTransform = "transform"
	KindCamera    = "camera"
	KindArrows    = "arrows"
)

// Pinhole is the camera model sent with a camera record.
type Pinhole struct {
	FocalLengthPx float64 `json:"focal_length_px"`
	Width         float64 `json:"width"`
	Height        float64 `json:"height"`
}

// Arrow is one vector of an arrows record, with an RGB colour.
type Arrow struct {
	Vector [3]float64 `json:"vector"`
	Color  [3]uint8   `json:"color"`
}

// Datagram is the JSON body of one telemetry packet.
type Datagram struct {
	Seq      uint64 `json:"seq"`
	Kind     string `json:"kind"`
	Entity   string `json:"entity"`
	Timeline string `json:"timeline,omitempty"`
	Time     int64  `json:"time"`
	// Static records are not tied to a time position.
	Static bool `json:"static,omitempty"`

	// Points records may span several datagrams.
	Part   int          `json:"part,omitempty"`
	Parts  int          `json:"parts,omitempty"`
	Points [][3]float64 `json:"points,omitempty"`

	// Image is JPEG-encoded.
	Image  []byte `json:"image,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`

	Transform *[16]float64 `json:"transform,omitempty"`
	Camera    *Pinhole     `json:"camera,omitempty"`
	Arrows    []Arrow      `json:"arrows,omitempty"`
}

// UDPSink encodes telemetry as JSON datagrams and hands them to a Forwarder.
type UDPSink struct {
	fwd         *Forwarder
	thumbWidth  int
	thumbHeight int
	axisSize    float64
	jpegQuality int

	mu       sync.Mutex
	seq      uint64
	timeline string
	time     int64
}

// UDPOptions configures a UDPSink.
type UDPOptions struct {
	Host string
	Port int
	// ImageWidth and ImageHeight bound the thumbnail sent for each frame.
	ImageWidth  int
	ImageHeight int
	// Clock paces the dropped-datagram summary; nil uses the real clock.
	Clock timeutil.Clock
}

// NewUDPSink dials the viewer, starts forwarding and publishes the world
// reference axes.
func NewUDPSink(ctx context.Context, opts UDPOptions) (*UDPSink, error) {
	fwd, err := NewForwarder(opts.Host, opts.Port, nil, 0, opts.Clock)
	if err != nil {
		return nil, err
	}
	fwd.Start(ctx)
	s := newUDPSink(fwd, opts)
	if err := s.logWorldAxis(); err != nil {
		fwd.Close()
		return nil, err
	}
	return s, nil
}

func newUDPSink(fwd *Forwarder, opts UDPOptions) *UDPSink {
	w, h := opts.ImageWidth, opts.ImageHeight
	if w <= 0 {
		w = 160
	}
	if h <= 0 {
		h = 120
	}
	return &UDPSink{
		fwd:         fwd,
		thumbWidth:  w,
		thumbHeight: h,
		axisSize:    0.1,
		jpegQuality: 75,
	}
}

// Stats returns the forwarding counters.
func (s *UDPSink) Stats() *Stats { return s.fwd.Stats() }

// Close stops forwarding.
func (s *UDPSink) Close() error { return s.fwd.Close() }

func (s *UDPSink) SetTimeSequence(timeline string, seq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeline = timeline
	s.time = seq
}

// send stamps d and queues it.
func (s *UDPSink) send(d Datagram) error {
	s.mu.Lock()
	s.seq++
	d.Seq = s.seq
	if !d.Static {
		d.Timeline = s.timeline
		d.Time = s.time
	}
	s.mu.Unlock()

	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", d.Kind, err)
	}
	if len(data) > maxDatagram {
		return fmt.Errorf("%s record for %s is %d bytes (max %d)", d.Kind, d.Entity, len(data), maxDatagram)
	}
	s.fwd.ForwardAsync(data)
	return nil
}

// LogImage sends a JPEG thumbnail that fits within the configured size.
func (s *UDPSink) LogImage(entity string, img image.Image) error {
	thumb := imaging.Fit(img, s.thumbWidth, s.thumbHeight, imaging.Box)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(s.jpegQuality)); err != nil {
		return fmt.Errorf("encode thumbnail: %w", err)
	}
	b := thumb.Bounds()
	return s.send(Datagram{Kind: KindImage, Entity: entity, Image: buf.Bytes(), Width: b.Dx(), Height: b.Dy()})
}

// LogPoints sends points split into datagrams of at most
// MaxPointsPerDatagram. An empty set still sends one record so the viewer
// clears the entity for this time position.
func (s *UDPSink) LogPoints(entity string, points []r3.Vec) error {
	parts := (len(points) + MaxPointsPerDatagram - 1) / MaxPointsPerDatagram
	if parts == 0 {
		return s.send(Datagram{Kind: KindPoints, Entity: entity, Part: 1, Parts: 1})
	}
	for part := 0; part < parts; part++ {
		lo := part * MaxPointsPerDatagram
		hi := min(lo+MaxPointsPerDatagram, len(points))
		chunk := make([][3]float64, 0, hi-lo)
		for _, p := range points[lo:hi] {
			chunk = append(chunk, [3]float64{p.X, p.Y, p.Z})
		}
		if err := s.send(Datagram{Kind: KindPoints, Entity: entity, Part: part + 1, Parts: parts, Points: chunk}); err != nil {
			return err
		}
	}
	return nil
}

// LogTransform sends a static pose.
func (s *UDPSink) LogTransform(entity string, t geometry.Affine) error {
	pose := t.Pose()
	return s.send(Datagram{Kind: KindTransform, Entity: entity, Static: true, Transform: &pose})
}

// LogCamera sends the pinhole model and then the camera-to-world pose.
func (s *UDPSink) LogCamera(entity string, cam calibration.CameraCalibration) error {
	in := cam.Intrinsics
	pin := &Pinhole{FocalLengthPx: in.FocalLengthPx(), Width: in.Width, Height: in.Height}
	if err := s.send(Datagram{Kind: KindCamera, Entity: entity, Static: true, Camera: pin}); err != nil {
		return err
	}
	return s.LogTransform(entity, cam.ExtrinsicsAffine())
}

// logWorldAxis publishes unit axes: X red, Y green, Z blue.
func (s *UDPSink) logWorldAxis() error {
	a := s.axisSize
	return s.send(Datagram{Kind: KindArrows, Entity: EntityAxis, Static: true, Arrows: []Arrow{
		{Vector: [3]float64{a, 0, 0}, Color: [3]uint8{255, 0, 0}},
		{Vector: [3]float64{0, a, 0}, Color: [3]uint8{0, 255, 0}},
		{Vector: [3]float64{0, 0, a}, Color: [3]uint8{0, 0, 255}},
	}})
}
