package sender

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"time"

	"golang.org/x/image/draw"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/colorspace"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/pkg/types"
)

// ImageSource sends one still image, scaled to the frame size, over and over
type ImageSource struct {
	data   []byte
	width  int
	height int
	n      uint64
	now    func() time.Time
}

// NewImageSource decodes a PNG, JPEG or GIF file
func NewImageSource(path string, width, height int) (*ImageSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}
	return imageSourceFrom(img, width, height)
}

func imageSourceFrom(img image.Image, width, height int) (*ImageSource, error) {
	if width <= 0 || height <= 0 || width%2 != 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}

	scaled := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Src, nil)
	data, _, _ := colorspace.EncodeYUYV(scaled)

	return &ImageSource{data: data, width: width, height: height, now: time.Now}, nil
}

func (s *ImageSource) Next(ctx context.Context) (*types.RawFrame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	frame := &types.RawFrame{
		Data:      s.data,
		Timestamp: s.now(),
		FrameNum:  s.n,
		Width:     s.width,
		Height:    s.height,
	}
	s.n++
	return frame, nil
}

func (s *ImageSource) Close() error { return nil }
