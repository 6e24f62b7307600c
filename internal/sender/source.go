// Package sender produces YUYV frames and pushes them to a receiver in
// transmission units.
package sender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/recorder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/pkg/types"
)

// Source is the capture boundary. Next returns the next frame stamped with
// its capture time.
type Source interface {
	Next(ctx context.Context) (*types.RawFrame, error)
	Close() error
}

// OpenSource parses "pattern", "image:<path>" or "file:<path>". Pattern and
// image sources produce width x height frames; recordings keep their own
// size.
func OpenSource(source string, width, height int) (Source, error) {
	kind, arg, _ := strings.Cut(source, ":")
	switch kind {
	case "pattern":
		return NewTestPattern(width, height)
	case "image":
		return NewImageSource(arg, width, height)
	case "file":
		return NewFileSource(arg)
	default:
		return nil, fmt.Errorf("unknown source %q", source)
	}
}

// FileSource replays a recording in a loop. Timestamps are replaced with
// the replay time so the receiver does not treat old footage as stale.
type FileSource struct {
	rd   *recorder.Reader
	path string
	n    uint64
	now  func() time.Time
}

// NewFileSource opens a recording made by the recorder package
func NewFileSource(path string) (*FileSource, error) {
	rd, err := recorder.Open(path, 0)
	if err != nil {
		return nil, err
	}
	return &FileSource{rd: rd, path: path, now: time.Now}, nil
}

func (s *FileSource) Next(ctx context.Context) (*types.RawFrame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frame, err := s.rd.Next()
	if errors.Is(err, io.EOF) {
		if s.n == 0 {
			return nil, fmt.Errorf("recording %s is empty", s.path)
		}
		if err := s.rd.Rewind(); err != nil {
			return nil, err
		}
		frame, err = s.rd.Next()
	}
	if err != nil {
		return nil, err
	}

	frame.Timestamp = s.now()
	frame.FrameNum = s.n
	s.n++
	return frame, nil
}

func (s *FileSource) Close() error { return s.rd.Close() }
