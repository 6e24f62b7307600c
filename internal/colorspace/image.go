package colorspace

import (
	"bufio"
	"fmt"
	"image"
	"io"
)

// EncodeYUYV packs img into YUYV. Each horizontal pixel pair shares the
// average of its two chroma samples. The width is rounded down to even.
func EncodeYUYV(img image.Image) (data []byte, width, height int) {
	bounds := img.Bounds()
	width = bounds.Dx() &^ 1
	height = bounds.Dy()
	data = make([]byte, width*height*2)

	i := 0
	for y := bounds.Min.Y; y < bounds.Min.Y+height; y++ {
		for x := bounds.Min.X; x < bounds.Min.X+width; x += 2 {
			y0, u0, v0 := rgbaToYUV(img, x, y)
			y1, u1, v1 := rgbaToYUV(img, x+1, y)

			data[i] = y0
			data[i+1] = uint8((int(u0) + int(u1) + 1) / 2)
			data[i+2] = y1
			data[i+3] = uint8((int(v0) + int(v1) + 1) / 2)
			i += 4
		}
	}
	return data, width, height
}

func rgbaToYUV(img image.Image, x, y int) (uint8, uint8, uint8) {
	r, g, b, _ := img.At(x, y).RGBA()
	return RGBToYUV(uint8(r>>8), uint8(g>>8), uint8(b>>8))
}

// DecodeYUYV expands a packed frame into an RGBA image
func DecodeYUYV(data []byte, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 || width%2 != 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d", width, height)
	}
	if len(data) < width*height*2 {
		return nil, fmt.Errorf("short frame: have %d bytes, need %d", len(data), width*height*2)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	src := 0
	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < width; x += 2 {
			p0, p1 := Macropixel(data[src : src+4])
			o := x * 4
			row[o], row[o+1], row[o+2], row[o+3] = p0.R, p0.G, p0.B, 255
			row[o+4], row[o+5], row[o+6], row[o+7] = p1.R, p1.G, p1.B, 255
			src += 4
		}
	}
	return img, nil
}

// WritePPM writes a packed frame as a binary P6 image
func WritePPM(w io.Writer, data []byte, width, height int) error {
	img, err := DecodeYUYV(data, width, height)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "P6\n%d %d\n255\n", width, height); err != nil {
		return err
	}
	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+width*4]
		for x := 0; x < len(row); x += 4 {
			if _, err := bw.Write(row[x : x+3]); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}
