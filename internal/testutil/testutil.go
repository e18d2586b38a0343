// Package testutil provides shared test utilities and fixtures.
//
// This package centralises the calibration files and synthetic camera frames
// used by the triangulation, orchestrator and server tests.
package testutil

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
)

// CalibrationJSON is a well-formed calibration: camera looking along +z from
// the origin with an untilted image plane, lasers at ±30° with 10 cm baselines.
const CalibrationJSON = `{
  "camera": {
    "intrinsics": {
      "focal_length": 0.004,
      "width": 640,
      "height": 480,
      "meters_per_px": 0.000002
    },
    "extrinsics": {
      "rotation": [0, 0, 0],
      "translation": [0, 0, 0]
    },
    "cam_2_img_plane_rotation": [0, 0, 0]
  },
  "left_laser": {"angle": -30, "baseline": -0.1},
  "right_laser": {"angle": 30, "baseline": 0.1}
}`

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// WriteFile writes contents to name inside a fresh temp dir and returns the path.
func WriteFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// WriteCalibration writes CalibrationJSON to a temp file and returns its path.
func WriteCalibration(t *testing.T) string {
	t.Helper()
	return WriteFile(t, "calibration.json", CalibrationJSON)
}

// DarkFrame returns an all-black gray frame.
func DarkFrame(width, height int) *image.Gray {
	return image.NewGray(image.Rect(0, 0, width, height))
}

// FillRun sets pixels [start,end) of row to value.
func FillRun(img *image.Gray, row, start, end int, value uint8) {
	for x := start; x < end; x++ {
		img.Pix[img.PixOffset(x, row)] = value
	}
}

// LaserFrame returns a frame with a vertical bright stripe [start,end) on
// every row, the shape one laser line leaves on a flat target.
func LaserFrame(width, height, start, end int) *image.Gray {
	img := DarkFrame(width, height)
	for y := 0; y < height; y++ {
		FillRun(img, y, start, end, 255)
	}
	return img
}

// WritePNG saves img to path, for tests that replay frames from disk.
func WritePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	if err := imaging.Save(img, path); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
