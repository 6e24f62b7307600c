package sender

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/colorspace"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/pkg/types"
)

// SMPTE-style bars, left to right
var barColors = []color.RGBA{
	{192, 192, 192, 255},
	{192, 192, 0, 255},
	{0, 192, 192, 255},
	{0, 192, 0, 255},
	{192, 0, 192, 255},
	{192, 0, 0, 255},
	{0, 0, 192, 255},
	{16, 16, 16, 255},
}

// TestPattern emits colour bars that scroll one macropixel per frame, with
// a luma ramp along the bottom eighth of the frame.
type TestPattern struct {
	width  int
	height int
	row    []byte // two periods of one bar row, packed
	ramp   []byte
	n      uint64
	now    func() time.Time
}

// NewTestPattern builds a width x height pattern; width must be even
func NewTestPattern(width, height int) (*TestPattern, error) {
	if width <= 0 || height <= 0 || width%2 != 0 {
		return nil, fmt.Errorf("invalid pattern size %dx%d", width, height)
	}

	bars := image.NewRGBA(image.Rect(0, 0, 2*width, 1))
	barWidth := (width + len(barColors) - 1) / len(barColors)
	for x := 0; x < 2*width; x++ {
		c := barColors[(x%width)/barWidth]
		bars.SetRGBA(x, 0, c)
	}
	row, _, _ := colorspace.EncodeYUYV(bars)

	ramp := image.NewGray(image.Rect(0, 0, width, 1))
	for x := 0; x < width; x++ {
		ramp.SetGray(x, 0, color.Gray{Y: uint8(x * 255 / max(width-1, 1))})
	}
	rampRGBA := image.NewRGBA(ramp.Bounds())
	draw.Draw(rampRGBA, ramp.Bounds(), ramp, image.Point{}, draw.Src)
	rampRow, _, _ := colorspace.EncodeYUYV(rampRGBA)

	return &TestPattern{
		width:  width,
		height: height,
		row:    row,
		ramp:   rampRow,
		now:    time.Now,
	}, nil
}

func (p *TestPattern) Next(ctx context.Context) (*types.RawFrame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stride := p.width * types.BytesPerSourcePixel
	shift := int(p.n%uint64(p.width/types.PixelsPerGroup)) * types.BytesPerGroup
	bars := p.row[shift : shift+stride]

	data := make([]byte, stride*p.height)
	rampFrom := p.height - p.height/8
	for y := 0; y < p.height; y++ {
		dst := data[y*stride : (y+1)*stride]
		if y >= rampFrom {
			copy(dst, p.ramp)
		} else {
			copy(dst, bars)
		}
	}

	frame := &types.RawFrame{
		Data:      data,
		Timestamp: p.now(),
		FrameNum:  p.n,
		Width:     p.width,
		Height:    p.height,
	}
	p.n++
	return frame, nil
}

func (p *TestPattern) Close() error { return nil }
