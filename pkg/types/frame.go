package types

import "time"

// FrameDescriptor describes one logical YUYV frame on the wire
type FrameDescriptor struct {
	Timestamp time.Time // Capture timestamp (microsecond resolution on the wire)
	Width     int       // Frame width in pixels
	Height    int       // Frame height in pixels
}

// PayloadSize returns the number of packed 4:2:2 bytes carried by the frame
func (d FrameDescriptor) PayloadSize() int {
	return d.Width * d.Height * BytesPerSourcePixel
}

// RawFrame is a captured packed 4:2:2 frame ready to be sent
type RawFrame struct {
	Data      []byte    // Y0 U Y1 V macropixels, row-major
	Timestamp time.Time // Frame capture timestamp
	FrameNum  uint64    // Sequential frame number
	Width     int       // Frame width
	Height    int       // Frame height
}

// Descriptor returns the wire descriptor for the frame
func (f *RawFrame) Descriptor() FrameDescriptor {
	return FrameDescriptor{
		Timestamp: f.Timestamp,
		Width:     f.Width,
		Height:    f.Height,
	}
}

// FrameEvent is emitted by a transport session whenever a logical frame ends
type FrameEvent struct {
	SessionID  string          // Owning session
	Descriptor FrameDescriptor // Descriptor the frame was received with
	Rejected   bool            // True if the frame was discarded as stale
	Chunks     int             // Chunks that carried bytes of this frame
	Groups     int             // Macropixel groups handed to the blit writer
	Clipped    int             // Pixels dropped by surface bounds checks
	Missing    int             // Payload bytes lost before a fixed-mode frame was closed
	Started    time.Time       // Arrival time of the first byte
	Finished   time.Time       // Arrival time of the last byte
}

// Wire and pixel format constants
const (
	BytesPerSourcePixel = 2  // packed 4:2:2
	BytesPerGroup       = 4  // Y0 U Y1 V
	PixelsPerGroup      = 2  // two display pixels per macropixel group
	BytesPerDestPixel   = 4  // B G R A
	DescriptorSize      = 24 // 8-byte sec + 8-byte usec + 4-byte width + 4-byte height

	// 65507 is the largest UDP payload; 65504 is the largest multiple of 4 below it
	DefaultMaxChunk = 65504
)
