package sender

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/colorspace"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/recorder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/wire"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/pkg/types"
)

// Options tune a Sender
type Options struct {
	FPS      float64
	MaxChunk int
	Frames   int // stop after this many frames; 0 runs until ctx ends

	Recorder *recorder.Recorder // optional, fed every sent frame
	DumpPPM  string             // optional, first frame written here
	Metrics  *metrics.Metrics
}

// Sender paces frames from a Source onto a Conn
type Sender struct {
	src     Source
	conn    Conn
	chunker *wire.Chunker
	opts    Options
	m       *metrics.Metrics
	log     *logger.Module
}

// New validates opts and builds a sender. header selects descriptor framing.
func New(src Source, conn Conn, header bool, opts Options) (*Sender, error) {
	if opts.FPS <= 0 {
		return nil, fmt.Errorf("fps must be positive, got %v", opts.FPS)
	}
	if opts.MaxChunk == 0 {
		opts.MaxChunk = types.DefaultMaxChunk
	}
	chunker, err := wire.NewChunker(opts.MaxChunk, header)
	if err != nil {
		return nil, err
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &Sender{
		src:     src,
		conn:    conn,
		chunker: chunker,
		opts:    opts,
		m:       m,
		log:     logger.For("Sender"),
	}, nil
}

// Metrics returns the counters updated by Run
func (s *Sender) Metrics() *metrics.Metrics { return s.m }

// Run sends frames until ctx ends, the frame limit is reached, or a send
// fails. Cancellation is not an error.
func (s *Sender) Run(ctx context.Context) error {
	interval := time.Duration(float64(time.Second) / s.opts.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("Sending at %.1f fps, %d-byte units", s.opts.FPS, s.chunker.MaxChunk())

	var sent int
	for {
		start := time.Now()
		if err := s.sendOne(ctx, sent); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		sent++
		if s.opts.Frames > 0 && sent >= s.opts.Frames {
			s.log.Info("Sent %d frames", sent)
			return nil
		}

		// The ticker drops ticks we were too slow for
		if elapsed := time.Since(start); elapsed > interval {
			s.m.FramesSkipped.Add(uint64(elapsed / interval))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sender) sendOne(ctx context.Context, n int) error {
	frame, err := s.src.Next(ctx)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}

	var units, bytes int
	err = s.chunker.Split(frame, func(unit []byte) error {
		if err := s.conn.WriteUnit(ctx, unit); err != nil {
			return err
		}
		units++
		bytes += len(unit)
		return nil
	})
	s.m.ChunksSent.Add(uint64(units))
	s.m.BytesSent.Add(uint64(bytes))
	if err != nil {
		s.m.SendErrors.Add(1)
		return fmt.Errorf("frame #%d: %w", frame.FrameNum, err)
	}
	s.m.FramesSent.Add(1)

	if fps, ok := s.m.Rate.Tick(time.Now()); ok {
		s.log.Info("Frame rate: %.1f fps (%d units/frame)", fps, units)
	}

	if s.opts.Recorder != nil && s.opts.Recorder.SendFrame(frame) {
		st := s.opts.Recorder.GetStatus()
		s.m.RecordingFrames.Store(st.FrameCount)
		s.m.RecordingBytes.Store(st.BytesWritten)
	}
	if n == 0 && s.opts.DumpPPM != "" {
		if err := dumpPPM(s.opts.DumpPPM, frame); err != nil {
			s.log.Warn("PPM dump failed: %v", err)
		} else {
			s.log.Info("Wrote first frame to %s", s.opts.DumpPPM)
		}
	}
	return nil
}

func dumpPPM(path string, frame *types.RawFrame) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = colorspace.WritePPM(f, frame.Data, frame.Width, frame.Height)
	return errors.Join(err, f.Close())
}
