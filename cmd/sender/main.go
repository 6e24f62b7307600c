package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/recorder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/sender"
)

func main() {
	cfg, err := config.ParseSender(os.Args[0], os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	level, _ := logger.ParseLevel(cfg.Logging.Level)
	logger.Init(level, os.Stderr, cfg.Logging.Color)

	logger.Info("Main", "fbstream sender starting...")
	logger.Info("Main", "Source: %s (%dx%d @ %.1f fps)", cfg.Source, cfg.Width, cfg.Height, cfg.FPS)
	logger.Info("Main", "Target: %s %s", cfg.Transport, cfg.Target)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src, err := sender.OpenSource(cfg.Source, cfg.Width, cfg.Height)
	if err != nil {
		log.Fatalf("Failed to open source: %v", err)
	}
	defer src.Close()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, header, err := sender.Dial(dialCtx, cfg.Transport, cfg.Target, config.SplitList(cfg.STUNServers))
	cancel()
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	if !header {
		logger.Info("Main", "Fixed framing: the receiver must expect %dx%d", cfg.Width, cfg.Height)
	}

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		go func() {
			logger.Info("Main", "Metrics on %s", cfg.MetricsAddr)
			if err := m.StartServer(cfg.MetricsAddr); err != nil {
				logger.Error("Main", "Metrics server error: %v", err)
			}
		}()
	}

	var rec *recorder.Recorder
	if cfg.RecordDir != "" {
		rec = recorder.NewRecorder(cfg.RecordDir)
		if err := rec.Start(); err != nil {
			log.Fatalf("Failed to start recording: %v", err)
		}
		m.RecordingActive.Store(1)
		defer func() {
			if err := rec.Close(); err != nil {
				logger.Error("Main", "Recording close: %v", err)
			}
			m.RecordingActive.Store(0)
		}()
	}

	s, err := sender.New(src, conn, header, sender.Options{
		FPS:      cfg.FPS,
		MaxChunk: cfg.MaxChunk,
		Frames:   cfg.Frames,
		Recorder: rec,
		DumpPPM:  cfg.DumpPPM,
		Metrics:  m,
	})
	if err != nil {
		log.Fatalf("Failed to create sender: %v", err)
	}

	runErr := s.Run(ctx)

	snap := m.Snapshot()
	logger.Info("Main", "Sender stopped: %d frames, %d skipped ticks, %d errors",
		snap.FramesSent, m.FramesSkipped.Load(), snap.SendErrors)
	if runErr != nil {
		logger.Error("Main", "%v", runErr)
		stop()
		os.Exit(1)
	}
}
