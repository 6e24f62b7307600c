// Package wire implements the frame descriptor codec and the sender-side
// chunker that splits a logical frame into transmission units.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/pkg/types"
)

var (
	// ErrShortDescriptor is returned when fewer than DescriptorSize bytes are supplied
	ErrShortDescriptor = errors.New("wire: short frame descriptor")
	// ErrMalformedDescriptor is returned for degenerate or oversized frame dimensions
	ErrMalformedDescriptor = errors.New("wire: malformed frame descriptor")
)

// The descriptor mirrors a native struct { timeval; int width; int height }
// on 64-bit Linux, so fields use the host byte order.
var order = binary.NativeEndian

// PutDescriptor encodes d into dst, which must hold DescriptorSize bytes
func PutDescriptor(dst []byte, d types.FrameDescriptor) {
	_ = dst[types.DescriptorSize-1]

	usec := d.Timestamp.UnixMicro()
	order.PutUint64(dst[0:8], uint64(usec/1e6))
	order.PutUint64(dst[8:16], uint64(usec%1e6))
	order.PutUint32(dst[16:20], uint32(int32(d.Width)))
	order.PutUint32(dst[20:24], uint32(int32(d.Height)))
}

// AppendDescriptor appends the encoded descriptor to dst
func AppendDescriptor(dst []byte, d types.FrameDescriptor) []byte {
	var b [types.DescriptorSize]byte
	PutDescriptor(b[:], d)
	return append(dst, b[:]...)
}

// ParseDescriptor decodes the descriptor at the front of src. It does not
// validate the dimensions; see Validate.
func ParseDescriptor(src []byte) (types.FrameDescriptor, error) {
	if len(src) < types.DescriptorSize {
		return types.FrameDescriptor{}, fmt.Errorf("%w: %d bytes", ErrShortDescriptor, len(src))
	}

	sec := int64(order.Uint64(src[0:8]))
	usec := int64(order.Uint64(src[8:16]))

	return types.FrameDescriptor{
		Timestamp: time.Unix(sec, usec*int64(time.Microsecond)),
		Width:     int(int32(order.Uint32(src[16:20]))),
		Height:    int(int32(order.Uint32(src[20:24]))),
	}, nil
}

// Validate rejects descriptors whose payload could not be laid out as whole
// macropixel groups or would exceed maxPayload bytes (0 disables the limit).
func Validate(d types.FrameDescriptor, maxPayload int) error {
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("%w: non-positive size %dx%d", ErrMalformedDescriptor, d.Width, d.Height)
	}
	if d.Width%types.PixelsPerGroup != 0 {
		return fmt.Errorf("%w: odd width %d", ErrMalformedDescriptor, d.Width)
	}
	if maxPayload > 0 && int64(d.Width)*int64(d.Height)*types.BytesPerSourcePixel > int64(maxPayload) {
		return fmt.Errorf("%w: %dx%d exceeds %d payload bytes", ErrMalformedDescriptor, d.Width, d.Height, maxPayload)
	}
	return nil
}
