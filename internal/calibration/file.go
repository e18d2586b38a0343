package calibration

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// On-disk schema. Pointer fields distinguish an absent key from a zero value
// so a file missing e.g. focal_length is rejected instead of silently loading 0.

type fileLaser struct {
	Angle    *float64 `json:"angle"`
	Baseline *float64 `json:"baseline"`
}

type fileIntrinsics struct {
	FocalLength    *float64 `json:"focal_length"`
	Width          *float64 `json:"width"`
	Height         *float64 `json:"height"`
	MetersPerPixel *float64 `json:"meters_per_px"`
}

type fileTransform struct {
	Rotation    *[3]float64 `json:"rotation"`
	Translation *[3]float64 `json:"translation"`
}

type fileCamera struct {
	Intrinsics         *fileIntrinsics `json:"intrinsics"`
	Extrinsics         *fileTransform  `json:"extrinsics"`
	ImagePlaneRotation *[3]float64     `json:"cam_2_img_plane_rotation"`
}

type fileCalibration struct {
	Camera     *fileCamera `json:"camera"`
	LeftLaser  *fileLaser  `json:"left_laser"`
	RightLaser *fileLaser  `json:"right_laser"`
}

func missing(field string) error {
	return &ConfigError{Field: field, Err: errMissing}
}

func vec(a [3]float64) r3.Vec {
	return r3.Vec{X: a[0], Y: a[1], Z: a[2]}
}

func (l *fileLaser) build(name string) (LaserPlane, error) {
	if l == nil {
		return LaserPlane{}, missing(name)
	}
	if l.Angle == nil {
		return LaserPlane{}, missing(name + ".angle")
	}
	if l.Baseline == nil {
		return LaserPlane{}, missing(name + ".baseline")
	}
	return LaserPlane{Angle: *l.Angle, Baseline: *l.Baseline}, nil
}

func (c *fileCamera) build() (CameraCalibration, error) {
	if c == nil {
		return CameraCalibration{}, missing("camera")
	}
	in := c.Intrinsics
	if in == nil {
		return CameraCalibration{}, missing("camera.intrinsics")
	}
	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"focal_length", in.FocalLength},
		{"width", in.Width},
		{"height", in.Height},
		{"meters_per_px", in.MetersPerPixel},
	} {
		if f.v == nil {
			return CameraCalibration{}, missing("camera.intrinsics." + f.name)
		}
	}
	ex := c.Extrinsics
	if ex == nil {
		return CameraCalibration{}, missing("camera.extrinsics")
	}
	if ex.Rotation == nil {
		return CameraCalibration{}, missing("camera.extrinsics.rotation")
	}
	if ex.Translation == nil {
		return CameraCalibration{}, missing("camera.extrinsics.translation")
	}
	if c.ImagePlaneRotation == nil {
		return CameraCalibration{}, missing("camera.cam_2_img_plane_rotation")
	}
	return CameraCalibration{
		Intrinsics: CameraIntrinsics{
			FocalLength:    *in.FocalLength,
			Width:          *in.Width,
			Height:         *in.Height,
			MetersPerPixel: *in.MetersPerPixel,
		},
		Extrinsics: RigidTransform{
			Rotation:    vec(*ex.Rotation),
			Translation: vec(*ex.Translation),
		},
		ImagePlaneRotation: vec(*c.ImagePlaneRotation),
	}, nil
}

func (f *fileCalibration) build() (*Calibration, error) {
	camera, err := f.Camera.build()
	if err != nil {
		return nil, err
	}
	left, err := f.LeftLaser.build("left_laser")
	if err != nil {
		return nil, err
	}
	right, err := f.RightLaser.build("right_laser")
	if err != nil {
		return nil, err
	}
	return New(camera, left, right)
}
