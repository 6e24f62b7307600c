package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/framebuffer"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/monitor"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/receiver"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/transport"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/webrtc"
)

func main() {
	cfg, err := config.ParseReceiver(os.Args[0], os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize logger
	level, _ := logger.ParseLevel(cfg.Logging.Level)
	logger.Init(level, os.Stderr, cfg.Logging.Color)

	logger.Info("Main", "fbstream receiver starting...")
	logger.Info("Main", "Log level: %s", level)

	surface, err := openSurface(cfg.Framebuffer)
	if err != nil {
		log.Fatalf("Failed to open framebuffer: %v", err)
	}
	defer surface.Close()

	m := metrics.New()
	d := receiver.NewDispatcher(receiver.Config{
		Transport: transport.Config{
			Mode:          transport.ModeHeader,
			FixedWidth:    cfg.FixedWidth,
			FixedHeight:   cfg.FixedHeight,
			FixedUnit:     cfg.FixedChunk,
			StaleAfter:    cfg.StaleAfter,
			MaxFrameBytes: cfg.MaxFrameBytes,
			Now:           time.Now,
		},
		IdleTimeout: cfg.IdleTimeout,
		QueueSize:   cfg.QueueSize,
		MaxChunk:    cfg.MaxChunk,
	}, framebuffer.NewWriter(surface, cfg.PanX, cfg.PanY), m)

	// Bind everything before starting so a busy port aborts startup
	var tcpLn net.Listener
	if cfg.TCPAddr != "" {
		if tcpLn, err = net.Listen("tcp", cfg.TCPAddr); err != nil {
			log.Fatalf("Failed to listen on TCP %s: %v", cfg.TCPAddr, err)
		}
	}
	var udpConn net.PacketConn
	if cfg.UDPAddr != "" {
		if udpConn, err = net.ListenPacket("udp", cfg.UDPAddr); err != nil {
			log.Fatalf("Failed to listen on UDP %s: %v", cfg.UDPAddr, err)
		}
	}

	var (
		rtcSrv     *webrtc.Server
		mon        *monitor.Server
		httpServer *http.Server
	)
	if cfg.MonitorAddr != "" {
		rtcSrv = webrtc.NewServer(config.SplitList(cfg.STUNServers), cfg.MaxWebRTCClients,
			func(peer string, drop func()) webrtc.ByteStream {
				return d.NewStream(peer, transport.ModeHeader, drop)
			})
		mon, err = monitor.NewServer(monitor.Config{
			StatusInterval: cfg.StatusInterval,
			MJPEGInterval:  cfg.MJPEGInterval,
			JPEGQuality:    cfg.JPEGQuality,
		}, d, rtcSrv)
		if err != nil {
			log.Fatalf("Failed to create monitor: %v", err)
		}
		httpServer = &http.Server{
			Addr:    cfg.MonitorAddr,
			Handler: mon.Handler(),
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Main", "Framebuffer: %s (%dx%d, stride %d), pan (%d,%d)",
		cfg.Framebuffer, surface.Width(), surface.Height(), surface.Stride(), cfg.PanX, cfg.PanY)
	logger.Info("Main", "Stale after %v, idle timeout %v", cfg.StaleAfter, cfg.IdleTimeout)

	var wg sync.WaitGroup
	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				logger.Error("Main", "%s stopped: %v", name, err)
				stop()
			}
		}()
	}

	go d.Run(ctx)

	if tcpLn != nil {
		run("TCP listener", func() error { return d.ServeTCP(ctx, tcpLn) })
	}
	if udpConn != nil {
		logger.Info("Main", "UDP expects fixed %dx%d frames in %d byte units", cfg.FixedWidth, cfg.FixedHeight, cfg.FixedChunk)
		run("UDP listener", func() error { return d.ServeUDP(ctx, udpConn) })
	}
	if mon != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mon.Run(ctx)
		}()
		run("HTTP server", func() error {
			logger.Info("Main", "Monitor on %s", cfg.MonitorAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}
	if cfg.MetricsAddr != "" {
		// Not tracked: ListenAndServe has no shutdown hook here
		go func() {
			logger.Info("Main", "Metrics on %s", cfg.MetricsAddr)
			if err := m.StartServer(cfg.MetricsAddr); err != nil {
				logger.Error("Main", "Metrics server error: %v", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("Main", "Shutting down...")

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Main", "HTTP shutdown: %v", err)
		}
		cancel()
	}
	if rtcSrv != nil {
		rtcSrv.Close()
	}
	wg.Wait()
	<-d.Done()

	s := m.Snapshot()
	logger.Info("Main", "Receiver stopped: %d frames drawn, %d stale, %d abandoned, %d malformed",
		s.FramesCompleted, s.FramesRejected, s.FramesAbandoned, s.MalformedDescriptors)
}

// openSurface maps a framebuffer device, or allocates one for mem:WxH
func openSurface(name string) (*framebuffer.Surface, error) {
	if size, ok := strings.CutPrefix(name, "mem:"); ok {
		w, h, err := config.ParseSize(size)
		if err != nil {
			return nil, err
		}
		return framebuffer.NewMemory(w, h)
	}
	return framebuffer.Open(name)
}
