package monitor

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	labelBackground = image.NewUniform(color.RGBA{0, 0, 0, 160})
	labelText       = image.NewUniform(color.RGBA{255, 255, 255, 255})
)

// drawLabel writes lines in the top-left corner on a translucent band
func drawLabel(img *image.RGBA, lines ...string) {
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: img, Src: labelText, Face: face}

	lineHeight := face.Metrics().Height.Ceil()
	width := 0
	for _, line := range lines {
		width = max(width, d.MeasureString(line).Ceil())
	}
	band := image.Rect(0, 0, width+8, len(lines)*lineHeight+6).Intersect(img.Bounds())
	draw.Draw(img, band, labelBackground, image.Point{}, draw.Over)

	for i, line := range lines {
		d.Dot = fixed.P(4, 3+(i+1)*lineHeight-face.Descent)
		d.DrawString(line)
	}
}

// scaleToWidth resizes img to width, keeping the aspect ratio
func scaleToWidth(img image.Image, width int) *image.RGBA {
	b := img.Bounds()
	height := max(1, b.Dy()*width/b.Dx())
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// noSignalJPEG renders colour bars with a caption, shown before any frame
func noSignalJPEG(width, height int) ([]byte, error) {
	colors := []color.RGBA{
		{R: 255, G: 255, B: 255, A: 255},
		{R: 255, G: 255, B: 0, A: 255},
		{R: 0, G: 255, B: 255, A: 255},
		{R: 0, G: 255, B: 0, A: 255},
		{R: 255, G: 0, B: 255, A: 255},
		{R: 255, G: 0, B: 0, A: 255},
		{R: 0, G: 0, B: 255, A: 255},
		{R: 0, G: 0, B: 0, A: 255},
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	barWidth := max(1, width/len(colors))
	for i, c := range colors {
		r := image.Rect(i*barWidth, 0, (i+1)*barWidth, height)
		if i == len(colors)-1 {
			r.Max.X = width
		}
		draw.Draw(img, r, image.NewUniform(c), image.Point{}, draw.Src)
	}
	drawLabel(img, "no signal")
	return encodeJPEG(img, 75)
}
