// Package config holds the receiver and sender settings. Values come from
// defaults, then an optional YAML file, then command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/pkg/types"
)

// Logging is shared by both binaries
type Logging struct {
	Level string `yaml:"level"` // debug, info, warn, error, silent
	Color bool   `yaml:"color"`
}

// Receiver configures cmd/receiver
type Receiver struct {
	Logging Logging `yaml:"logging"`

	// Framebuffer device path, or mem:WxH for a headless surface
	Framebuffer string `yaml:"framebuffer"`
	PanX        int    `yaml:"pan_x"`
	PanY        int    `yaml:"pan_y"`

	TCPAddr string `yaml:"tcp_addr"` // header framing
	UDPAddr string `yaml:"udp_addr"` // fixed framing; empty disables

	StaleAfter    time.Duration `yaml:"stale_after"`
	MaxFrameBytes int           `yaml:"max_frame_bytes"`
	FixedWidth    int           `yaml:"fixed_width"`
	FixedHeight   int           `yaml:"fixed_height"`
	FixedChunk    int           `yaml:"fixed_chunk"` // sender's unit size; a shorter datagram ends the frame
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	QueueSize     int           `yaml:"queue_size"`
	MaxChunk      int           `yaml:"max_chunk"` // pooled buffer size per read; UDP always reads 64 KiB

	MonitorAddr      string        `yaml:"monitor_addr"` // empty disables the HTTP monitor
	MaxWebRTCClients int           `yaml:"max_webrtc_clients"`
	STUNServers      string        `yaml:"stun_servers"` // comma-separated; empty uses host candidates only
	StatusInterval   time.Duration `yaml:"status_interval"`
	MJPEGInterval    time.Duration `yaml:"mjpeg_interval"`
	JPEGQuality      int           `yaml:"jpeg_quality"`

	MetricsAddr string `yaml:"metrics_addr"` // empty disables
}

// DefaultReceiver matches the deployed receiver: TCP :8080, pan (300, 0)
func DefaultReceiver() Receiver {
	return Receiver{
		Logging:          Logging{Level: "info", Color: true},
		Framebuffer:      "/dev/fb0",
		PanX:             300,
		PanY:             0,
		TCPAddr:          ":8080",
		StaleAfter:       3 * time.Second,
		MaxFrameBytes:    64 << 20,
		FixedWidth:       320,
		FixedHeight:      180,
		FixedChunk:       types.DefaultMaxChunk,
		IdleTimeout:      10 * time.Second,
		QueueSize:        256,
		MaxChunk:         types.DefaultMaxChunk,
		MonitorAddr:      ":8081",
		MaxWebRTCClients: 4,
		StatusInterval:   2 * time.Second,
		MJPEGInterval:    100 * time.Millisecond,
		JPEGQuality:      80,
		MetricsAddr:      ":9090",
	}
}

// Sender configures cmd/sender
type Sender struct {
	Logging Logging `yaml:"logging"`

	// tcp, udp, ws or webrtc
	Transport string `yaml:"transport"`
	// host:port for tcp/udp, ws:// URL, or the receiver's /offer URL for webrtc
	Target string `yaml:"target"`

	// pattern, image:<path> or file:<recording>
	Source   string  `yaml:"source"`
	Width    int     `yaml:"width"`
	Height   int     `yaml:"height"`
	FPS      float64 `yaml:"fps"`
	MaxChunk int     `yaml:"max_chunk"`
	Frames   int     `yaml:"frames"` // stop after this many frames; 0 runs forever

	STUNServers string `yaml:"stun_servers"` // webrtc only, comma-separated

	RecordDir string `yaml:"record_dir"` // empty disables recording
	DumpPPM   string `yaml:"dump_ppm"`   // write the first frame as PPM

	MetricsAddr string `yaml:"metrics_addr"`
}

// DefaultSender matches the deployed sender: 320x180 over UDP chunks
func DefaultSender() Sender {
	return Sender{
		Logging:   Logging{Level: "info", Color: true},
		Transport: "tcp",
		Target:    "127.0.0.1:8080",
		Source:    "pattern",
		Width:     320,
		Height:    180,
		FPS:       30,
		MaxChunk:  types.DefaultMaxChunk,
	}
}

// Load reads a YAML file into out, which should already hold defaults
func Load(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// Validate checks the receiver settings
func (c *Receiver) Validate() error {
	var errs []error
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Framebuffer == "" {
		errs = append(errs, errors.New("framebuffer is required"))
	} else if strings.HasPrefix(c.Framebuffer, "mem:") {
		if _, _, err := ParseSize(strings.TrimPrefix(c.Framebuffer, "mem:")); err != nil {
			errs = append(errs, fmt.Errorf("framebuffer: %w", err))
		}
	}
	if c.PanX < 0 || c.PanY < 0 {
		errs = append(errs, fmt.Errorf("pan offset (%d,%d) must not be negative", c.PanX, c.PanY))
	}
	if c.TCPAddr == "" && c.UDPAddr == "" && c.MonitorAddr == "" {
		errs = append(errs, errors.New("no listener configured"))
	}
	if c.StaleAfter <= 0 {
		errs = append(errs, fmt.Errorf("stale_after must be positive, got %v", c.StaleAfter))
	}
	if c.UDPAddr != "" && (c.FixedWidth <= 0 || c.FixedHeight <= 0 || c.FixedWidth%2 != 0) {
		errs = append(errs, fmt.Errorf("invalid fixed frame size %dx%d", c.FixedWidth, c.FixedHeight))
	}
	if c.UDPAddr != "" && (c.FixedChunk < 0 || c.FixedChunk%types.BytesPerGroup != 0) {
		errs = append(errs, fmt.Errorf("fixed_chunk must be a multiple of %d, got %d", types.BytesPerGroup, c.FixedChunk))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("queue_size must be positive, got %d", c.QueueSize))
	}
	if c.MaxChunk < types.BytesPerGroup {
		errs = append(errs, fmt.Errorf("max_chunk %d too small", c.MaxChunk))
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("jpeg_quality must be 1-100, got %d", c.JPEGQuality))
	}
	return errors.Join(errs...)
}

// Validate checks the sender settings
func (c *Sender) Validate() error {
	var errs []error
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Transport {
	case "tcp", "udp", "ws", "webrtc":
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}
	if c.Target == "" {
		errs = append(errs, errors.New("target is required"))
	}
	if c.Width <= 0 || c.Height <= 0 || c.Width%2 != 0 {
		errs = append(errs, fmt.Errorf("invalid frame size %dx%d", c.Width, c.Height))
	}
	if c.FPS <= 0 {
		errs = append(errs, fmt.Errorf("fps must be positive, got %v", c.FPS))
	}
	if c.MaxChunk < types.BytesPerGroup {
		errs = append(errs, fmt.Errorf("max_chunk %d too small", c.MaxChunk))
	}
	if c.Frames < 0 {
		errs = append(errs, fmt.Errorf("frames must not be negative, got %d", c.Frames))
	}
	return errors.Join(errs...)
}

// ParseSize parses "WxH"
func ParseSize(s string) (w, h int, err error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid size %q, want WxH", s)
	}
	if w, err = strconv.Atoi(ws); err != nil || w <= 0 {
		return 0, 0, fmt.Errorf("invalid width in %q", s)
	}
	if h, err = strconv.Atoi(hs); err != nil || h <= 0 {
		return 0, 0, fmt.Errorf("invalid height in %q", s)
	}
	return w, h, nil
}

// SplitList splits a comma-separated flag value, dropping empty entries
func SplitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (c *Receiver) bind(fs *flag.FlagSet) {
	fs.StringVar(&c.Logging.Level, "log-level", c.Logging.Level, "Log level (debug, info, warn, error, silent)")
	fs.BoolVar(&c.Logging.Color, "log-color", c.Logging.Color, "Enable colored log output")
	fs.StringVar(&c.Framebuffer, "fb", c.Framebuffer, "Framebuffer device, or mem:WxH for a headless surface")
	fs.IntVar(&c.PanX, "pan-x", c.PanX, "Horizontal pan offset in pixels")
	fs.IntVar(&c.PanY, "pan-y", c.PanY, "Vertical pan offset in pixels")
	fs.StringVar(&c.TCPAddr, "tcp", c.TCPAddr, "TCP listen address (header framing, empty disables)")
	fs.StringVar(&c.UDPAddr, "udp", c.UDPAddr, "UDP listen address (fixed framing, empty disables)")
	fs.DurationVar(&c.StaleAfter, "stale-after", c.StaleAfter, "Discard frames older than this on arrival")
	fs.IntVar(&c.MaxFrameBytes, "max-frame-bytes", c.MaxFrameBytes, "Reject descriptors with a larger payload")
	fs.IntVar(&c.FixedWidth, "fixed-width", c.FixedWidth, "Frame width for fixed framing")
	fs.IntVar(&c.FixedHeight, "fixed-height", c.FixedHeight, "Frame height for fixed framing")
	fs.IntVar(&c.FixedChunk, "fixed-chunk", c.FixedChunk, "Sender unit size for fixed framing (0 counts bytes only)")
	fs.DurationVar(&c.IdleTimeout, "idle-timeout", c.IdleTimeout, "Evict sessions silent for this long (0 disables)")
	fs.IntVar(&c.QueueSize, "queue", c.QueueSize, "Dispatcher queue size in chunks")
	fs.IntVar(&c.MaxChunk, "max-chunk", c.MaxChunk, "Read buffer size per chunk")
	fs.StringVar(&c.MonitorAddr, "http", c.MonitorAddr, "Monitor HTTP address (empty disables)")
	fs.IntVar(&c.MaxWebRTCClients, "max-webrtc", c.MaxWebRTCClients, "Maximum WebRTC senders")
	fs.StringVar(&c.STUNServers, "stun", c.STUNServers, "STUN server URLs (comma-separated)")
	fs.IntVar(&c.JPEGQuality, "jpeg-quality", c.JPEGQuality, "Snapshot JPEG quality")
	fs.StringVar(&c.MetricsAddr, "metrics", c.MetricsAddr, "Prometheus metrics address (empty disables)")
}

func (c *Sender) bind(fs *flag.FlagSet) {
	fs.StringVar(&c.Logging.Level, "log-level", c.Logging.Level, "Log level (debug, info, warn, error, silent)")
	fs.BoolVar(&c.Logging.Color, "log-color", c.Logging.Color, "Enable colored log output")
	fs.StringVar(&c.Transport, "transport", c.Transport, "Transport: tcp, udp, ws or webrtc")
	fs.StringVar(&c.Target, "target", c.Target, "Receiver address, ws:// URL or /offer URL")
	fs.StringVar(&c.Source, "source", c.Source, "Frame source: pattern, image:<path> or file:<recording>")
	fs.IntVar(&c.Width, "width", c.Width, "Frame width")
	fs.IntVar(&c.Height, "height", c.Height, "Frame height")
	fs.Float64Var(&c.FPS, "fps", c.FPS, "Target frames per second")
	fs.IntVar(&c.MaxChunk, "max-chunk", c.MaxChunk, "Largest transmission unit in bytes")
	fs.IntVar(&c.Frames, "frames", c.Frames, "Stop after this many frames (0 runs forever)")
	fs.StringVar(&c.STUNServers, "stun", c.STUNServers, "STUN server URLs (comma-separated)")
	fs.StringVar(&c.RecordDir, "record", c.RecordDir, "Record sent frames into this directory")
	fs.StringVar(&c.DumpPPM, "dump-ppm", c.DumpPPM, "Write the first frame to this PPM file")
	fs.StringVar(&c.MetricsAddr, "metrics", c.MetricsAddr, "Prometheus metrics address (empty disables)")
}

// ParseReceiver builds the receiver config from args (without the program
// name). Flags given explicitly win over the -config file.
func ParseReceiver(name string, args []string) (Receiver, error) {
	cfg := DefaultReceiver()
	err := parse(name, args, func(fs *flag.FlagSet) { cfg.bind(fs) }, func(path string) error {
		cfg = DefaultReceiver()
		return Load(path, &cfg)
	})
	if err != nil {
		return Receiver{}, err
	}
	return cfg, cfg.Validate()
}

// ParseSender is ParseReceiver for the sender
func ParseSender(name string, args []string) (Sender, error) {
	cfg := DefaultSender()
	err := parse(name, args, func(fs *flag.FlagSet) { cfg.bind(fs) }, func(path string) error {
		cfg = DefaultSender()
		return Load(path, &cfg)
	})
	if err != nil {
		return Sender{}, err
	}
	return cfg, cfg.Validate()
}

// parse runs the flag set twice: once to find -config, then again on top of
// the loaded file so explicit flags override it.
func parse(name string, args []string, bind func(*flag.FlagSet), load func(string) error) error {
	var path string
	scan := flag.NewFlagSet(name, flag.ContinueOnError)
	scan.SetOutput(io.Discard)
	scan.StringVar(&path, "config", "", "YAML config file")
	bind(scan)
	if err := scan.Parse(args); err != nil {
		// Report through the real flag set below
		path = ""
	}

	if path != "" {
		if err := load(path); err != nil {
			return err
		}
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.String("config", path, "YAML config file")
	bind(fs)
	return fs.Parse(args)
}
