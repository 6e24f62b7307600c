// Package colorspace converts between packed 4:2:2 (YUYV) macropixels and RGB.
//
// The YUV to RGB direction reproduces the integer transform used by the deployed
// framebuffer receivers bit for bit: chroma is re-centred on zero, luma is used as
// is (no 16 offset), and every channel is clipped to [0, 255].
package colorspace

// RGB is one display pixel
type RGB struct {
	R, G, B uint8
}

func clip(v int) uint8 {
	if v > 255 {
		return 255
	}
	if v < 0 {
		return 0
	}
	return uint8(v)
}

// YUVToRGB converts one luma sample and a shared chroma pair to RGB
func YUVToRGB(y, u, v uint8) (r, g, b uint8) {
	c := int(y)
	d := int(u) - 128
	e := int(v) - 128

	r = clip((298*c + 409*e + 128) >> 8)
	g = clip((298*c - 100*d - 208*e + 128) >> 8)
	b = clip((298*c + 516*d + 128) >> 8)
	return r, g, b
}

// Macropixel decodes a 4-byte Y0 U Y1 V group into its two pixels.
// group must hold at least 4 bytes.
func Macropixel(group []byte) (p0, p1 RGB) {
	_ = group[3]
	y0, u, y1, v := group[0], group[1], group[2], group[3]

	p0.R, p0.G, p0.B = YUVToRGB(y0, u, v)
	p1.R, p1.G, p1.B = YUVToRGB(y1, u, v)
	return p0, p1
}

// RGBToYUV inverts YUVToRGB: BT.601 coefficients in 8-bit fixed point with
// the luma offset left out, so white encodes to Y=219 and black to Y=0.
func RGBToYUV(r, g, b uint8) (y, u, v uint8) {
	R, G, B := int(r), int(g), int(b)

	y = clip((66*R + 129*G + 25*B + 128) >> 8)
	u = clip(((-38*R - 74*G + 112*B + 128) >> 8) + 128)
	v = clip(((112*R - 94*G - 18*B + 128) >> 8) + 128)
	return y, u, v
}
