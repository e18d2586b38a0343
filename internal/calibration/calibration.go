// Package calibration loads the scanner geometry (camera intrinsics and pose,
// laser fan-planes) and derives the transforms used by triangulation.
//
// A Calibration is built once at process start and then only read, so it is
// shared between connections and scan workers without locking.
package calibration

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/scan3d/internal/geometry"
)

// DefaultPath is the calibration file used when none is given on the command line.
const DefaultPath = "calibration.json"

// maxFileSize caps the calibration file; real files are a few hundred bytes.
const maxFileSize = 1 * 1024 * 1024

// ConfigError reports a calibration file that is missing, unparsable or
// incomplete. It is fatal at startup.
type ConfigError struct {
	Path  string
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Field != "" && e.Path != "":
		return fmt.Sprintf("calibration %s: field %s: %v", e.Path, e.Field, e.Err)
	case e.Field != "":
		return fmt.Sprintf("calibration: field %s: %v", e.Field, e.Err)
	case e.Path != "":
		return fmt.Sprintf("calibration %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("calibration: %v", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

var errMissing = errors.New("missing")

// LaserPlane is one laser fan-plane relative to the optical axis.
type LaserPlane struct {
	// Angle between the fan-plane and the optical axis, degrees.
	Angle float64
	// Baseline is the signed offset of the plane from the optical axis.
	Baseline float64
}

// AngleRad returns the plane angle in radians.
func (l LaserPlane) AngleRad() float64 {
	return geometry.Radians(l.Angle)
}

// CameraIntrinsics is the pinhole model of the camera.
type CameraIntrinsics struct {
	FocalLength    float64
	Width          float64
	Height         float64
	MetersPerPixel float64
}

// FocalLengthPx returns the focal length in pixels.
func (c CameraIntrinsics) FocalLengthPx() float64 {
	return c.FocalLength / c.MetersPerPixel
}

// RigidTransform is a pose given as Euler XYZ rotation (degrees) and a translation.
type RigidTransform struct {
	Rotation    r3.Vec
	Translation r3.Vec
}

// Affine converts the pose to a transform that rotates then translates.
func (t RigidTransform) Affine() geometry.Affine {
	return geometry.FromRotationTranslation(geometry.EulerXYZ(t.Rotation), t.Translation)
}

// CameraCalibration combines the camera model, its mount pose and the tilt of
// the image plane relative to the camera frame.
type CameraCalibration struct {
	Intrinsics         CameraIntrinsics
	Extrinsics         RigidTransform
	ImagePlaneRotation r3.Vec
}

// ImagePlaneToCamera maps image-plane coordinates (pixels scaled to length
// units, z along the viewing direction) into the camera frame. It is the
// inverse of translating by (0,0,-f) and then applying the image-plane tilt.
func (c CameraCalibration) ImagePlaneToCamera() (geometry.Affine, error) {
	t := r3.Vec{Z: -c.Intrinsics.FocalLength}
	camToImg := geometry.FromRotationTranslation(geometry.EulerXYZ(c.ImagePlaneRotation), t)
	return camToImg.Inverse()
}

// ExtrinsicsAffine returns the camera-to-world transform.
func (c CameraCalibration) ExtrinsicsAffine() geometry.Affine {
	return c.Extrinsics.Affine()
}

// Calibration is the full scanner geometry.
type Calibration struct {
	Camera     CameraCalibration
	LeftLaser  LaserPlane
	RightLaser LaserPlane

	imagePlaneToCamera geometry.Affine
	imagePlaneToWorld  geometry.Affine
}

// ImagePlaneToCamera returns the cached image-plane to camera transform.
func (c *Calibration) ImagePlaneToCamera() geometry.Affine {
	return c.imagePlaneToCamera
}

// ImagePlaneToWorld returns the cached composition
// ExtrinsicsAffine ∘ ImagePlaneToCamera.
func (c *Calibration) ImagePlaneToWorld() geometry.Affine {
	return c.imagePlaneToWorld
}

// New validates the geometry and computes the derived transforms. Construction
// is the only place the transforms are computed.
func New(camera CameraCalibration, left, right LaserPlane) (*Calibration, error) {
	c := &Calibration{Camera: camera, LeftLaser: left, RightLaser: right}
	if err := c.validate(); err != nil {
		return nil, err
	}
	img2cam, err := camera.ImagePlaneToCamera()
	if err != nil {
		return nil, &ConfigError{Field: "camera.cam_2_img_plane_rotation", Err: err}
	}
	c.imagePlaneToCamera = img2cam
	c.imagePlaneToWorld = camera.ExtrinsicsAffine().Mul(img2cam)
	return c, nil
}

func (c *Calibration) validate() error {
	in := c.Camera.Intrinsics
	if !(in.MetersPerPixel > 0) {
		return &ConfigError{Field: "camera.intrinsics.meters_per_px", Err: fmt.Errorf("must be positive, got %v", in.MetersPerPixel)}
	}
	if !(in.FocalLength > 0) {
		return &ConfigError{Field: "camera.intrinsics.focal_length", Err: fmt.Errorf("must be positive, got %v", in.FocalLength)}
	}
	if in.Width <= 0 || in.Height <= 0 {
		return &ConfigError{Field: "camera.intrinsics", Err: fmt.Errorf("width and height must be positive, got %vx%v", in.Width, in.Height)}
	}
	lasers := []struct {
		name  string
		plane LaserPlane
	}{{"left_laser", c.LeftLaser}, {"right_laser", c.RightLaser}}
	for _, l := range lasers {
		if l.plane.Baseline == 0 || math.IsNaN(l.plane.Baseline) {
			return &ConfigError{Field: l.name + ".baseline", Err: errors.New("must be non-zero")}
		}
		if math.Abs(math.Mod(l.plane.Angle, 180)) == 90 {
			return &ConfigError{Field: l.name + ".angle", Err: fmt.Errorf("tan(%v°) is undefined", l.plane.Angle)}
		}
	}
	return nil
}

// Load reads a calibration file. Every failure is a *ConfigError.
func Load(path string) (*Calibration, error) {
	cleanPath := filepath.Clean(path)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, &ConfigError{Path: cleanPath, Err: err}
	}
	if fileInfo.Size() > maxFileSize {
		return nil, &ConfigError{Path: cleanPath, Err: fmt.Errorf("file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)}
	}

	f, err := os.Open(cleanPath)
	if err != nil {
		return nil, &ConfigError{Path: cleanPath, Err: err}
	}
	defer f.Close()

	calib, err := Parse(f)
	if err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			cfgErr.Path = cleanPath
			return nil, cfgErr
		}
		return nil, &ConfigError{Path: cleanPath, Err: err}
	}
	return calib, nil
}

// Parse decodes calibration JSON from r.
func Parse(r io.Reader) (*Calibration, error) {
	var raw fileCalibration
	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("parse JSON: %w", err)}
	}
	return raw.build()
}
