package camera

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/banshee-data/scan3d/internal/testutil"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// stripeFrame marks frame i with a bright pixel at column i so delivery
// order can be read back from the decoded image.
func stripeFrame(i int) *image.Gray {
	img := testutil.DarkFrame(16, 4)
	img.SetGray(i, 0, color.Gray{Y: 255})
	return img
}

func TestDiskCameraOrderAndEnd(t *testing.T) {
	fsys := fstest.MapFS{
		"frames/002.png":     {Data: encodePNG(t, stripeFrame(2))},
		"frames/000.png":     {Data: encodePNG(t, stripeFrame(0))},
		"frames/001.png":     {Data: encodePNG(t, stripeFrame(1))},
		"frames/notes.txt":   {Data: []byte("not an image")},
		"frames/.hidden.png": {Data: []byte("ignored")},
		"frames/sub/003.png": {Data: encodePNG(t, stripeFrame(3))},
	}

	cam, err := NewDiskCamera(fsys, "frames")
	testutil.AssertNoError(t, err)
	if cam.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", cam.Len())
	}

	ctx := context.Background()
	for want := 0; want < 3; want++ {
		f, err := cam.NextFrame(ctx)
		testutil.AssertNoError(t, err)
		if f.Index != want {
			t.Errorf("Index = %d, want %d", f.Index, want)
		}
		if f.Image.GrayAt(want, 0).Y != 255 {
			t.Errorf("frame %d delivered out of order", want)
		}
	}

	_, err = cam.NextFrame(ctx)
	if !errors.Is(err, ErrEndOfSequence) {
		t.Fatalf("NextFrame after last = %v, want ErrEndOfSequence", err)
	}

	cam.Rewind()
	if f, err := cam.NextFrame(ctx); err != nil || f.Index != 0 {
		t.Errorf("NextFrame after Rewind = %d, %v, want frame 0", f.Index, err)
	}
}

func TestDiskCameraConvertsColour(t *testing.T) {
	rgba := image.NewNRGBA(image.Rect(0, 0, 4, 2))
	rgba.Set(1, 1, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	fsys := fstest.MapFS{"a.png": {Data: encodePNG(t, rgba)}}

	cam, err := NewDiskCamera(fsys, ".")
	testutil.AssertNoError(t, err)
	f, err := cam.NextFrame(context.Background())
	testutil.AssertNoError(t, err)

	if f.Image.Bounds() != image.Rect(0, 0, 4, 2) {
		t.Errorf("bounds = %v", f.Image.Bounds())
	}
	if f.Image.GrayAt(1, 1).Y != 255 || f.Image.GrayAt(0, 0).Y != 0 {
		t.Errorf("unexpected luminance: %v %v", f.Image.GrayAt(1, 1), f.Image.GrayAt(0, 0))
	}
}

func TestDiskCameraErrors(t *testing.T) {
	t.Run("empty directory", func(t *testing.T) {
		_, err := NewDiskCamera(fstest.MapFS{"d/readme.md": {Data: []byte("x")}}, "d")
		assertKind(t, err, NotFound)
	})
	t.Run("missing directory", func(t *testing.T) {
		_, err := OpenDir(filepath.Join(t.TempDir(), "missing"))
		assertKind(t, err, NotFound)
	})
	t.Run("not a directory", func(t *testing.T) {
		_, err := OpenDir(testutil.WriteFile(t, "file.png", "x"))
		assertKind(t, err, NotFound)
	})
	t.Run("corrupt image", func(t *testing.T) {
		cam, err := NewDiskCamera(fstest.MapFS{"bad.png": {Data: []byte("garbage")}}, ".")
		testutil.AssertNoError(t, err)
		_, err = cam.NextFrame(context.Background())
		assertKind(t, err, WrongConfig)
	})
	t.Run("after close", func(t *testing.T) {
		cam, err := NewDiskCamera(fstest.MapFS{"a.png": {Data: encodePNG(t, stripeFrame(0))}}, ".")
		testutil.AssertNoError(t, err)
		testutil.AssertNoError(t, cam.Close())
		_, err = cam.NextFrame(context.Background())
		assertKind(t, err, InvalidRequest)
	})
	t.Run("cancelled context", func(t *testing.T) {
		cam, err := NewDiskCamera(fstest.MapFS{"a.png": {Data: encodePNG(t, stripeFrame(0))}}, ".")
		testutil.AssertNoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := cam.NextFrame(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("NextFrame = %v, want context.Canceled", err)
		}
		if _, err := cam.NextFrame(context.Background()); err != nil {
			t.Errorf("a cancelled read must not consume a frame: %v", err)
		}
	})
}

func TestOpenDir(t *testing.T) {
	dir := t.TempDir()
	for i, name := range []string{"b.png", "a.png"} {
		if err := os.WriteFile(filepath.Join(dir, name), encodePNG(t, stripeFrame(i)), 0644); err != nil {
			t.Fatal(err)
		}
	}

	cam, err := OpenDir(dir)
	testutil.AssertNoError(t, err)
	if cam.Source() != dir {
		t.Errorf("Source() = %q, want %q", cam.Source(), dir)
	}
	f, err := cam.NextFrame(context.Background())
	testutil.AssertNoError(t, err)
	// a.png holds stripe 1 and sorts first.
	if f.Image.GrayAt(1, 0).Y != 255 {
		t.Error("expected a.png first")
	}
}

func TestSliceCamera(t *testing.T) {
	cam := Repeat(testutil.DarkFrame(2, 2), 2)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		f, err := cam.NextFrame(ctx)
		testutil.AssertNoError(t, err)
		if f.Index != i {
			t.Errorf("Index = %d, want %d", f.Index, i)
		}
	}
	if _, err := cam.NextFrame(ctx); !errors.Is(err, ErrEndOfSequence) {
		t.Errorf("want ErrEndOfSequence, got %v", err)
	}
	cam.Rewind()
	if _, err := cam.NextFrame(ctx); err != nil {
		t.Errorf("after Rewind: %v", err)
	}
}

func TestErrorIs(t *testing.T) {
	err := &Error{Kind: EndOfSequence, Path: "x"}
	if !errors.Is(err, ErrEndOfSequence) {
		t.Error("errors.Is should match on kind")
	}
	if errors.Is(&Error{Kind: NotFound}, ErrEndOfSequence) {
		t.Error("different kinds must not match")
	}
	if got := (&Error{Kind: NotFound, Path: "/dev/video0"}).Error(); got != "camera not found: /dev/video0" {
		t.Errorf("Error() = %q", got)
	}
}

func TestToGraySubImage(t *testing.T) {
	img := testutil.DarkFrame(8, 8)
	img.SetGray(5, 5, color.Gray{Y: 200})
	sub := img.SubImage(image.Rect(4, 4, 8, 8))

	g := ToGray(sub)
	if g.Bounds().Min != (image.Point{}) {
		t.Fatalf("origin = %v, want (0,0)", g.Bounds().Min)
	}
	if g.GrayAt(1, 1).Y != 200 {
		t.Errorf("pixel = %v, want 200", g.GrayAt(1, 1))
	}
}

func assertKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	var ce *Error
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *camera.Error", err)
	}
	if ce.Kind != kind {
		t.Errorf("Kind = %v, want %v", ce.Kind, kind)
	}
}
