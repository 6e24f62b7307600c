package framebuffer

import (
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/colorspace"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/pkg/types"
)

// Writer blits YUYV runs onto a surface at a fixed pan offset
type Writer struct {
	surface *Surface
	panX    int
	panY    int
}

// NewWriter returns a Writer placing frame pixel (0,0) at (panX, panY)
func NewWriter(surface *Surface, panX, panY int) *Writer {
	return &Writer{
		surface: surface,
		panX:    panX,
		panY:    panY,
	}
}

func (w *Writer) Surface() *Surface { return w.surface }

// Pan returns the configured pan offset
func (w *Writer) Pan() (x, y int) { return w.panX, w.panY }

// Blit converts run, whose first byte sits at frame-relative offset
// startByte of a width x height frame, and writes it to the surface.
//
// The destination position is derived from startByte alone, so successive
// runs of one frame may arrive in separate calls. run is consumed in whole
// 4-byte groups; writing stops at the end of the run or of the last row.
// groups counts converted macropixels, clipped counts pixels that fell
// outside the surface buffer.
func (w *Writer) Blit(run []byte, width, height, startByte int) (groups, clipped int) {
	if width <= 0 || height <= 0 || startByte < 0 {
		return 0, 0
	}

	pixel := startByte / types.BytesPerSourcePixel
	row := pixel / width
	col := pixel % width

	for i := 0; i+types.BytesPerGroup <= len(run) && row < height; i += types.BytesPerGroup {
		p0, p1 := colorspace.Macropixel(run[i : i+types.BytesPerGroup])

		if !w.surface.SetPixel(col+w.panX, row+w.panY, p0) {
			clipped++
		}
		if !w.surface.SetPixel(col+1+w.panX, row+w.panY, p1) {
			clipped++
		}
		groups++

		col += types.PixelsPerGroup
		if col >= width {
			col = 0
			row++
		}
	}
	return groups, clipped
}
