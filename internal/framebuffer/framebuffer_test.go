package framebuffer

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/colorspace"
)

func newTestSurface(t *testing.T, w, h int) *Surface {
	t.Helper()
	s, err := NewMemory(w, h)
	require.NoError(t, err)
	return s
}

func TestNewSurface_Geometry(t *testing.T) {
	_, err := NewSurface(make([]byte, 100), 16, 8, 2)
	assert.Error(t, err, "stride smaller than width")

	_, err = NewSurface(make([]byte, 10), 16, 4, 2)
	assert.Error(t, err, "buffer too small")

	s, err := NewSurface(make([]byte, 64), 32, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, 32, s.Stride())
	assert.Equal(t, 4, s.Width())
}

func TestSurface_SetPixelBGRA(t *testing.T) {
	s := newTestSurface(t, 4, 2)
	require.True(t, s.SetPixel(1, 1, colorspace.RGB{R: 10, G: 20, B: 30}))

	i := 1*s.Stride() + 1*4
	assert.Equal(t, []byte{30, 20, 10, 255}, s.Bytes()[i:i+4])

	c, ok := s.Pixel(1, 1)
	require.True(t, ok)
	assert.Equal(t, colorspace.RGB{R: 10, G: 20, B: 30}, c)
}

func TestSurface_OutOfRange(t *testing.T) {
	s := newTestSurface(t, 4, 2)
	before := append([]byte(nil), s.Bytes()...)

	assert.False(t, s.SetPixel(-1, 0, colorspace.RGB{R: 1}))
	assert.False(t, s.SetPixel(4, 0, colorspace.RGB{R: 1}))
	assert.False(t, s.SetPixel(0, 2, colorspace.RGB{R: 1}))
	assert.Equal(t, before, s.Bytes())
}

func TestSurface_StridePadding(t *testing.T) {
	// 2 visible pixels per row, 4 pixels of stride
	s, err := NewSurface(make([]byte, 16*2), 16, 2, 2)
	require.NoError(t, err)

	// Off-screen columns inside the stride are still addressable memory
	assert.True(t, s.SetPixel(3, 0, colorspace.RGB{G: 7}))
	assert.False(t, s.SetPixel(4, 0, colorspace.RGB{G: 7}))
	assert.Equal(t, byte(7), s.Bytes()[3*4+1])
}

func TestSurface_DeviceOffset(t *testing.T) {
	s := newTestSurface(t, 4, 4)
	s.xoffset, s.yoffset = 1, 2

	require.True(t, s.SetPixel(0, 0, colorspace.RGB{R: 99}))
	assert.Equal(t, byte(99), s.Bytes()[2*s.Stride()+1*4+2])
}

func TestSurface_Region(t *testing.T) {
	s := newTestSurface(t, 4, 4)
	s.Fill(colorspace.RGB{R: 1, G: 2, B: 3})

	img := s.Region(image.Rect(2, 2, 6, 6))
	assert.Equal(t, image.Rect(0, 0, 4, 4), img.Bounds())

	r, g, b, a := img.At(0, 0).RGBA()
	assert.Equal(t, []uint32{1, 2, 3, 255}, []uint32{r >> 8, g >> 8, b >> 8, a >> 8})

	// Outside the surface stays transparent
	_, _, _, a = img.At(3, 3).RGBA()
	assert.Zero(t, a)
}

func TestSurface_CloseWithoutMapping(t *testing.T) {
	s := newTestSurface(t, 2, 2)
	assert.NoError(t, s.Close())
}

func TestWriter_BlitWholeFrame(t *testing.T) {
	s := newTestSurface(t, 8, 4)
	w := NewWriter(s, 2, 1)

	// 4x2 frame of mid grey: Y=128, U=V=128
	frame := make([]byte, 4*2*2)
	for i := 0; i < len(frame); i += 4 {
		copy(frame[i:], []byte{128, 128, 128, 128})
	}

	groups, clipped := w.Blit(frame, 4, 2, 0)
	assert.Equal(t, 4, groups)
	assert.Zero(t, clipped)

	grey, _, _ := colorspace.YUVToRGB(128, 128, 128)
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			c, ok := s.Pixel(x+2, y+1)
			require.True(t, ok)
			assert.Equal(t, grey, c.R, "pixel (%d,%d)", x, y)
		}
	}

	// Pan region only
	c, _ := s.Pixel(0, 0)
	assert.Equal(t, colorspace.RGB{}, c)
}

func TestWriter_StartByteAddressing(t *testing.T) {
	s := newTestSurface(t, 4, 2)
	w := NewWriter(s, 0, 0)

	// startByte 8 in a 4-wide frame is the first pixel of row 1
	groups, _ := w.Blit([]byte{235, 128, 235, 128}, 4, 2, 8)
	assert.Equal(t, 1, groups)

	c, _ := s.Pixel(0, 1)
	assert.Equal(t, colorspace.RGB{R: 255, G: 255, B: 255}, c)
	c, _ = s.Pixel(0, 0)
	assert.Equal(t, colorspace.RGB{}, c)
}

func TestWriter_ClipsAtSurfaceEdge(t *testing.T) {
	s := newTestSurface(t, 4, 1)
	w := NewWriter(s, 2, 0)

	groups, clipped := w.Blit(make([]byte, 8), 4, 1, 0)
	assert.Equal(t, 2, groups)
	assert.Equal(t, 2, clipped)
}

func TestWriter_StopsAtLastRow(t *testing.T) {
	s := newTestSurface(t, 4, 4)
	w := NewWriter(s, 0, 0)

	// Run longer than the frame; only 2 rows of a 2x2 frame are written
	groups, _ := w.Blit(make([]byte, 32), 2, 2, 0)
	assert.Equal(t, 2, groups)
}

func TestWriter_IgnoresPartialGroup(t *testing.T) {
	s := newTestSurface(t, 4, 1)
	w := NewWriter(s, 0, 0)

	groups, _ := w.Blit([]byte{1, 2, 3}, 4, 1, 0)
	assert.Zero(t, groups)
}
