package sender

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/colorspace"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/framebuffer"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/receiver"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/recorder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/pkg/types"
)

func TestTestPattern_Scrolls(t *testing.T) {
	p, err := NewTestPattern(16, 8)
	require.NoError(t, err)
	ctx := context.Background()

	f0, err := p.Next(ctx)
	require.NoError(t, err)
	f1, err := p.Next(ctx)
	require.NoError(t, err)

	stride := 16 * 2
	require.Len(t, f0.Data, stride*8)
	assert.Equal(t, uint64(0), f0.FrameNum)
	assert.Equal(t, uint64(1), f1.FrameNum)

	// Bars move left by one macropixel
	assert.Equal(t, f0.Data[4:stride], f1.Data[:stride-4])
	// The ramp row does not move
	last := 7 * stride
	assert.Equal(t, f0.Data[last:], f1.Data[last:])
}

func TestTestPattern_InvalidSize(t *testing.T) {
	for _, size := range [][2]int{{0, 8}, {15, 8}, {16, -1}} {
		_, err := NewTestPattern(size[0], size[1])
		assert.Error(t, err, "%dx%d", size[0], size[1])
	}
}

func TestImageSource_ScalesAndEncodes(t *testing.T) {
	want := color.RGBA{200, 40, 40, 255}
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 8; x++ {
			img.SetRGBA(x, y, want)
		}
	}
	path := filepath.Join(t.TempDir(), "still.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	src, err := OpenSource("image:"+path, 4, 2)
	require.NoError(t, err)
	frame, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, frame.Width)
	assert.Equal(t, 2, frame.Height)

	got, err := colorspace.DecodeYUYV(frame.Data, 4, 2)
	require.NoError(t, err)
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			c := got.RGBAAt(x, y)
			assert.InDelta(t, want.R, c.R, 10)
			assert.InDelta(t, want.G, c.G, 10)
			assert.InDelta(t, want.B, c.B, 10)
		}
	}
}

func TestOpenSource_Errors(t *testing.T) {
	_, err := OpenSource("camera", 4, 2)
	assert.Error(t, err)
	_, err = OpenSource("image:"+filepath.Join(t.TempDir(), "missing.png"), 4, 2)
	assert.Error(t, err)
}

func TestFileSource_LoopsAndRestamps(t *testing.T) {
	dir := t.TempDir()
	rec := recorder.NewRecorder(dir)
	require.NoError(t, rec.Start())
	for i := 0; i < 2; i++ {
		require.True(t, rec.SendFrame(&types.RawFrame{
			Data:      bytes.Repeat([]byte{byte(i + 1)}, 8),
			Timestamp: time.Unix(1000, 0),
			Width:     2,
			Height:    2,
		}))
	}
	require.NoError(t, rec.Stop())

	src, err := NewFileSource(filepath.Join(dir, rec.GetStatus().Filename))
	require.NoError(t, err)
	defer src.Close()
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	src.now = func() time.Time { return now }

	ctx := context.Background()
	for i, want := range []byte{1, 2, 1} {
		f, err := src.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, bytes.Repeat([]byte{want}, 8), f.Data)
		assert.Equal(t, uint64(i), f.FrameNum)
		assert.True(t, f.Timestamp.Equal(now))
	}
}

func TestFileSource_EmptyRecording(t *testing.T) {
	dir := t.TempDir()
	rec := recorder.NewRecorder(dir)
	require.NoError(t, rec.Start())
	require.NoError(t, rec.Stop())

	src, err := NewFileSource(filepath.Join(dir, rec.GetStatus().Filename))
	require.NoError(t, err)
	defer src.Close()
	_, err = src.Next(context.Background())
	assert.Error(t, err)
}

func TestNew_InvalidOptions(t *testing.T) {
	p, err := NewTestPattern(4, 2)
	require.NoError(t, err)
	_, err = New(p, nil, true, Options{FPS: 0})
	assert.Error(t, err)
	_, err = New(p, nil, true, Options{FPS: 30, MaxChunk: 16})
	assert.Error(t, err, "header framing needs room for the descriptor")
}

func TestSender_TCPIntoReceiver(t *testing.T) {
	surf, err := framebuffer.NewMemory(64, 32)
	require.NoError(t, err)
	d := receiver.NewDispatcher(receiver.DefaultConfig(), framebuffer.NewWriter(surf, 8, 4), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		<-d.Done()
	}()
	go d.Run(ctx)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go d.ServeTCP(ctx, ln)

	conn, header, err := Dial(ctx, "tcp", ln.Addr().String(), nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.True(t, header)

	src, err := NewTestPattern(16, 8)
	require.NoError(t, err)
	dir := t.TempDir()
	rec := recorder.NewRecorder(filepath.Join(dir, "rec"))
	require.NoError(t, rec.Start())
	ppm := filepath.Join(dir, "first.ppm")

	s, err := New(src, conn, header, Options{
		FPS:      200,
		MaxChunk: 64,
		Frames:   3,
		Recorder: rec,
		DumpPPM:  ppm,
	})
	require.NoError(t, err)
	require.NoError(t, s.Run(ctx))
	require.NoError(t, rec.Stop())

	m := s.Metrics()
	assert.Equal(t, uint64(3), m.FramesSent.Load())
	assert.Equal(t, uint64(3*s.chunker.Units(16*8*2)), m.ChunksSent.Load())
	assert.Equal(t, uint64(3*(types.DescriptorSize+16*8*2)), m.BytesSent.Load())
	assert.Equal(t, uint64(0), m.SendErrors.Load())
	assert.Equal(t, uint64(3), rec.GetStatus().FrameCount)

	require.Eventually(t, func() bool {
		return d.Metrics().FramesCompleted.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	// The surface holds the last pattern frame
	again, err := NewTestPattern(16, 8)
	require.NoError(t, err)
	var last *types.RawFrame
	for i := 0; i < 3; i++ {
		last, err = again.Next(ctx)
		require.NoError(t, err)
	}
	want, err := colorspace.DecodeYUYV(last.Data, 16, 8)
	require.NoError(t, err)
	got, _, err := d.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.Pix, got.Pix)

	data, err := os.ReadFile(ppm)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("P6\n16 8\n255\n")))
	assert.Len(t, data, len("P6\n16 8\n255\n")+16*8*3)
}

func TestSender_UDPFixedFraming(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	ctx := context.Background()
	conn, header, err := Dial(ctx, "udp", pc.LocalAddr().String(), nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.False(t, header)

	src, err := NewTestPattern(8, 2)
	require.NoError(t, err)
	s, err := New(src, conn, header, Options{FPS: 100, MaxChunk: 10, Frames: 1})
	require.NoError(t, err)
	require.NoError(t, s.Run(ctx))

	// 32 payload bytes in units of 8 (10 rounded down to a group multiple)
	var got []byte
	buf := make([]byte, 64)
	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	for len(got) < 32 {
		n, _, err := pc.ReadFrom(buf)
		require.NoError(t, err)
		assert.Equal(t, 8, n)
		got = append(got, buf[:n]...)
	}

	again, err := NewTestPattern(8, 2)
	require.NoError(t, err)
	want, err := again.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.Data, got)
	assert.Equal(t, uint64(4), s.Metrics().ChunksSent.Load())
}

func TestSender_StopsOnCancel(t *testing.T) {
	src, err := NewTestPattern(4, 2)
	require.NoError(t, err)
	s, err := New(src, discard{}, true, Options{FPS: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, uint64(1), s.Metrics().FramesSent.Load())
}

func TestSender_WriteErrorStops(t *testing.T) {
	src, err := NewTestPattern(4, 2)
	require.NoError(t, err)
	s, err := New(src, failing{}, true, Options{FPS: 30})
	require.NoError(t, err)

	err = s.Run(context.Background())
	assert.ErrorIs(t, err, net.ErrClosed)
	assert.Equal(t, uint64(1), s.Metrics().SendErrors.Load())
}

type discard struct{}

func (discard) WriteUnit(context.Context, []byte) error { return nil }
func (discard) Close() error                            { return nil }

type failing struct{}

func (failing) WriteUnit(context.Context, []byte) error { return net.ErrClosed }
func (failing) Close() error                            { return nil }
