// Package framebuffer holds the display surface the receiver renders into and
// the blit writer that converts YUYV runs into BGRA pixels on it.
package framebuffer

import (
	"errors"
	"fmt"
	"image"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/colorspace"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/pkg/types"
)

var (
	// ErrNotFramebuffer is returned when the device rejects the fbdev ioctls
	ErrNotFramebuffer = errors.New("framebuffer: not a framebuffer device")
	// ErrUnsupportedDepth is returned for surfaces that are not 32 bits per pixel
	ErrUnsupportedDepth = errors.New("framebuffer: unsupported pixel depth")
)

// Surface is a BGRA pixel buffer with a row stride that may exceed width*4.
// Every access is bounds checked against the underlying buffer.
type Surface struct {
	buf    []byte
	stride int // bytes per row
	xres   int // visible width in pixels
	yres   int // visible height in pixels

	// Panning offsets reported by the device; added to every write
	xoffset int
	yoffset int

	release func() error
}

// NewSurface wraps buf. stride is in bytes; xres/yres are the visible size.
func NewSurface(buf []byte, stride, xres, yres int) (*Surface, error) {
	if stride < types.BytesPerDestPixel || xres <= 0 || yres <= 0 {
		return nil, fmt.Errorf("invalid surface geometry stride=%d %dx%d", stride, xres, yres)
	}
	if xres*types.BytesPerDestPixel > stride {
		return nil, fmt.Errorf("stride %d too small for width %d", stride, xres)
	}
	if len(buf) < stride*yres {
		return nil, fmt.Errorf("buffer of %d bytes cannot hold %d rows of %d bytes", len(buf), yres, stride)
	}
	return &Surface{
		buf:    buf,
		stride: stride,
		xres:   xres,
		yres:   yres,
	}, nil
}

// NewMemory allocates a headless surface of the given size
func NewMemory(xres, yres int) (*Surface, error) {
	stride := xres * types.BytesPerDestPixel
	return NewSurface(make([]byte, stride*yres), stride, xres, yres)
}

func (s *Surface) Stride() int   { return s.stride }
func (s *Surface) Width() int    { return s.xres }
func (s *Surface) Height() int   { return s.yres }
func (s *Surface) Bytes() []byte { return s.buf }

// Offset returns the device panning offset folded into every write
func (s *Surface) Offset() (x, y int) { return s.xoffset, s.yoffset }

func (s *Surface) index(x, y int) (int, bool) {
	x += s.xoffset
	y += s.yoffset
	if x < 0 || y < 0 || (x+1)*types.BytesPerDestPixel > s.stride {
		return 0, false
	}
	i := y*s.stride + x*types.BytesPerDestPixel
	if i+types.BytesPerDestPixel > len(s.buf) {
		return 0, false
	}
	return i, true
}

// SetPixel writes c at (x, y). It reports false, writing nothing, when the
// pixel lies outside the buffer.
func (s *Surface) SetPixel(x, y int, c colorspace.RGB) bool {
	i, ok := s.index(x, y)
	if !ok {
		return false
	}
	p := s.buf[i : i+4 : i+4]
	p[0] = c.B
	p[1] = c.G
	p[2] = c.R
	p[3] = 255
	return true
}

// Pixel reads the pixel at (x, y)
func (s *Surface) Pixel(x, y int) (colorspace.RGB, bool) {
	i, ok := s.index(x, y)
	if !ok {
		return colorspace.RGB{}, false
	}
	return colorspace.RGB{R: s.buf[i+2], G: s.buf[i+1], B: s.buf[i]}, true
}

// Fill paints the whole visible area
func (s *Surface) Fill(c colorspace.RGB) {
	for y := 0; y < s.yres; y++ {
		for x := 0; x < s.xres; x++ {
			s.SetPixel(x, y, c)
		}
	}
}

// Region copies r out of the surface as RGBA. Pixels outside the buffer are
// left transparent.
func (s *Surface) Region(r image.Rectangle) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			c, ok := s.Pixel(r.Min.X+x, r.Min.Y+y)
			if !ok {
				continue
			}
			o := img.PixOffset(x, y)
			img.Pix[o], img.Pix[o+1], img.Pix[o+2], img.Pix[o+3] = c.R, c.G, c.B, 255
		}
	}
	return img
}

// Close releases the mapping, if any
func (s *Surface) Close() error {
	if s.release == nil {
		return nil
	}
	err := s.release()
	s.release = nil
	s.buf = nil
	return err
}
