package recorder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/wire"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/pkg/types"
)

// Reader reads frames back from a recording
type Reader struct {
	f        *os.File
	r        *bufio.Reader
	maxBytes int
	next     uint64
}

// Open opens a recording. Frames with a payload over maxBytes (0 for no
// limit) are treated as corruption.
func Open(path string, maxBytes int) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	return &Reader{f: f, r: bufio.NewReaderSize(f, 1<<20), maxBytes: maxBytes}, nil
}

// Next returns the next frame, or io.EOF after the last complete one. A
// truncated final frame yields io.ErrUnexpectedEOF.
func (rd *Reader) Next() (*types.RawFrame, error) {
	var hdr [types.DescriptorSize]byte
	if _, err := io.ReadFull(rd.r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, err
	}

	desc, err := wire.ParseDescriptor(hdr[:])
	if err != nil {
		return nil, err
	}
	if err := wire.Validate(desc, rd.maxBytes); err != nil {
		return nil, fmt.Errorf("frame %d: %w", rd.next, err)
	}

	data := make([]byte, desc.PayloadSize())
	if _, err := io.ReadFull(rd.r, data); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("frame %d: %w", rd.next, err)
	}

	frame := &types.RawFrame{
		Data:      data,
		Timestamp: desc.Timestamp,
		FrameNum:  rd.next,
		Width:     desc.Width,
		Height:    desc.Height,
	}
	rd.next++
	return frame, nil
}

// Rewind seeks back to the first frame
func (rd *Reader) Rewind() error {
	if _, err := rd.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	rd.r.Reset(rd.f)
	rd.next = 0
	return nil
}

func (rd *Reader) Close() error { return rd.f.Close() }
