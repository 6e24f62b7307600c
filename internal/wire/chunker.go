package wire

import (
	"fmt"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/pkg/types"
)

// Chunker splits frames into transmission units of at most MaxChunk bytes.
// In header mode the first unit of every frame starts with the descriptor.
type Chunker struct {
	maxChunk int
	header   bool
	first    []byte // reused buffer for descriptor + leading payload
}

// NewChunker validates maxChunk and returns a Chunker. maxChunk is rounded
// down to a multiple of 4 so fixed-mode units keep macropixel alignment.
func NewChunker(maxChunk int, header bool) (*Chunker, error) {
	maxChunk &^= types.BytesPerGroup - 1
	floor := types.BytesPerGroup
	if header {
		floor = types.DescriptorSize + types.BytesPerGroup
	}
	if maxChunk < floor {
		return nil, fmt.Errorf("max chunk %d below minimum %d", maxChunk, floor)
	}
	return &Chunker{
		maxChunk: maxChunk,
		header:   header,
	}, nil
}

// MaxChunk returns the effective unit size
func (c *Chunker) MaxChunk() int {
	return c.maxChunk
}

// Split calls emit once per unit, in order. Slices passed to emit are only
// valid until emit returns.
func (c *Chunker) Split(frame *types.RawFrame, emit func(unit []byte) error) error {
	payload := frame.Data
	if want := frame.Width * frame.Height * types.BytesPerSourcePixel; len(payload) != want {
		return fmt.Errorf("frame #%d: have %d payload bytes, %dx%d needs %d",
			frame.FrameNum, len(payload), frame.Width, frame.Height, want)
	}

	if c.header {
		n := min(len(payload), c.maxChunk-types.DescriptorSize)
		c.first = AppendDescriptor(c.first[:0], frame.Descriptor())
		c.first = append(c.first, payload[:n]...)
		if err := emit(c.first); err != nil {
			return err
		}
		payload = payload[n:]
	}

	for len(payload) > 0 {
		n := min(len(payload), c.maxChunk)
		if err := emit(payload[:n]); err != nil {
			return err
		}
		payload = payload[n:]
	}
	return nil
}

// Units returns the number of units Split will emit for a payload size
func (c *Chunker) Units(payload int) int {
	units := 0
	if c.header {
		units = 1
		payload -= min(payload, c.maxChunk-types.DescriptorSize)
	}
	return units + (payload+c.maxChunk-1)/c.maxChunk
}
