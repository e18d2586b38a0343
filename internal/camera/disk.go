package camera

import (
	"context"
	"image"
	"image/draw"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
	".gif":  true,
}

// DiskCamera replays previously captured frames from a directory. Files are
// delivered in filename order, which is the capture order the recorder
// writes.
type DiskCamera struct {
	fsys  fs.FS
	dir   string
	label string

	mu     sync.Mutex
	files  []string
	next   int
	closed bool
}

// OpenDir returns a DiskCamera over the image files in dir.
func OpenDir(dir string) (*DiskCamera, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &Error{Kind: NotFound, Path: dir, Err: err}
	}
	if !info.IsDir() {
		return nil, &Error{Kind: NotFound, Path: dir, Err: fs.ErrInvalid}
	}
	c, err := NewDiskCamera(os.DirFS(dir), ".")
	if err != nil {
		if ce, ok := err.(*Error); ok {
			ce.Path = dir
		}
		return nil, err
	}
	c.label = dir
	return c, nil
}

// NewDiskCamera returns a DiskCamera over the image files in dir of fsys.
// Sub-directories, hidden files and non-image extensions are skipped. An
// empty directory is an error.
func NewDiskCamera(fsys fs.FS, dir string) (*DiskCamera, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, &Error{Kind: NotFound, Path: dir, Err: err}
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if !imageExts[strings.ToLower(path.Ext(name))] {
			continue
		}
		files = append(files, path.Join(dir, name))
	}
	if len(files) == 0 {
		return nil, &Error{Kind: NotFound, Path: dir, Err: fs.ErrNotExist}
	}
	sort.Strings(files)
	return &DiskCamera{fsys: fsys, dir: dir, label: dir, files: files}, nil
}

// Len returns the number of frames in the sequence.
func (c *DiskCamera) Len() int {
	return len(c.files)
}

// Source describes where frames come from, for logs.
func (c *DiskCamera) Source() string {
	return c.label
}

// NextFrame decodes the next file. It returns ErrEndOfSequence after the
// last one.
func (c *DiskCamera) NextFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Frame{}, &Error{Kind: InvalidRequest, Path: c.label}
	}
	if c.next >= len(c.files) {
		c.mu.Unlock()
		return Frame{}, ErrEndOfSequence
	}
	index := c.next
	name := c.files[index]
	c.next++
	c.mu.Unlock()

	img, err := c.decode(name)
	if err != nil {
		return Frame{}, &Error{Kind: WrongConfig, Path: name, Err: err}
	}
	return Frame{Index: index, Image: img}, nil
}

func (c *DiskCamera) decode(name string) (*image.Gray, error) {
	f, err := c.fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := imaging.Decode(f)
	if err != nil {
		return nil, err
	}
	return ToGray(img), nil
}

// Rewind restarts the sequence from the first file.
func (c *DiskCamera) Rewind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = 0
}

// Close releases the camera. Later NextFrame calls fail with InvalidRequest.
func (c *DiskCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// ToGray converts img to 8-bit luminance with its origin moved to (0,0).
// A *image.Gray already at the origin is returned as is.
func ToGray(img image.Image) *image.Gray {
	b := img.Bounds()
	if g, ok := img.(*image.Gray); ok && b.Min == (image.Point{}) {
		return g
	}
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}
