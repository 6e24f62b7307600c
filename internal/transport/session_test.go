package transport

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"math/rand"
	"testing"
	"testing/quick"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/colorspace"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/framebuffer"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/wire"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/pkg/types"
)

var testNow = time.Unix(1700000000, 0)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Now = func() time.Time { return testNow }
	return cfg
}

// captureBlitter rebuilds the payload from the runs it receives
type captureBlitter struct {
	frame     []byte
	calls     int
	misaligns int
	starts    []int
}

func (c *captureBlitter) Blit(run []byte, width, height, startByte int) (int, int) {
	if c.frame == nil {
		c.frame = make([]byte, width*height*2)
	}
	if len(run)%4 != 0 || startByte%4 != 0 {
		c.misaligns++
	}
	copy(c.frame[startByte:], run)
	c.calls++
	c.starts = append(c.starts, startByte)
	return len(run) / 4, 0
}

func payload(w, h int, seed int64) []byte {
	p := make([]byte, w*h*2)
	rand.New(rand.NewSource(seed)).Read(p)
	return p
}

func headerFrame(ts time.Time, w, h int, p []byte) []byte {
	buf := wire.AppendDescriptor(nil, types.FrameDescriptor{Timestamp: ts, Width: w, Height: h})
	return append(buf, p...)
}

func splitRandom(stream []byte, r *rand.Rand, maxChunk int) [][]byte {
	var chunks [][]byte
	for len(stream) > 0 {
		n := 1 + r.Intn(maxChunk)
		if n > len(stream) {
			n = len(stream)
		}
		chunks = append(chunks, stream[:n])
		stream = stream[n:]
	}
	return chunks
}

func TestSession_SingleChunkFrame(t *testing.T) {
	p := payload(8, 4, 1)
	var events []types.FrameEvent
	b := &captureBlitter{}
	s := NewSession(testConfig(), b, WithOnFrame(func(ev types.FrameEvent) { events = append(events, ev) }))

	require.NoError(t, s.Feed(headerFrame(testNow, 8, 4, p)))

	assert.Equal(t, p, b.frame)
	assert.Equal(t, 1, b.calls)
	assert.False(t, s.HaveHeader())
	assert.Zero(t, s.Remaining())
	require.Len(t, events, 1)
	assert.Equal(t, 16, events[0].Groups)
	assert.False(t, events[0].Rejected)
	assert.Equal(t, s.ID(), events[0].SessionID)
}

func TestSession_SplitTransparency(t *testing.T) {
	const w, h = 16, 6
	p := payload(w, h, 2)
	stream := headerFrame(testNow, w, h, p)

	f := func(seed int64, maxChunk uint8) bool {
		r := rand.New(rand.NewSource(seed))
		b := &captureBlitter{}
		s := NewSession(testConfig(), b)
		for _, c := range splitRandom(stream, r, int(maxChunk)%37+1) {
			if err := s.Feed(c); err != nil {
				return false
			}
			if s.Remainder() < 0 || s.Remainder() > 3 {
				return false
			}
		}
		return b.misaligns == 0 && bytes.Equal(p, b.frame) && s.Remaining() == 0
	}
	require.NoError(t, quick.Check(f, &quick.Config{MaxCount: 300}))
}

func TestSession_RemainderInvariantByteByByte(t *testing.T) {
	p := payload(6, 2, 3)
	b := &captureBlitter{}
	s := NewSession(testConfig(), b)

	stream := headerFrame(testNow, 6, 2, p)
	prev := -1
	for i := range stream {
		require.NoError(t, s.Feed(stream[i:i+1]))
		assert.GreaterOrEqual(t, s.Remainder(), 0)
		assert.LessOrEqual(t, s.Remainder(), 3)
		if s.HaveHeader() && prev >= 0 {
			assert.Equal(t, prev-1, s.Remaining(), "picSize must drop by one per byte")
		}
		if s.HaveHeader() {
			prev = s.Remaining()
		}
	}
	assert.Equal(t, p, b.frame)
	assert.Equal(t, len(p)/4, b.calls)
}

func TestSession_StaleFrameNeverBlits(t *testing.T) {
	p := payload(8, 8, 4)
	b := &captureBlitter{}
	var events []types.FrameEvent
	s := NewSession(testConfig(), b, WithOnFrame(func(ev types.FrameEvent) { events = append(events, ev) }))

	stream := headerFrame(testNow.Add(-10*time.Second), 8, 8, p)
	chunks := splitRandom(stream, rand.New(rand.NewSource(5)), 20)
	for i, c := range chunks {
		require.NoError(t, s.Feed(c))
		if s.HaveHeader() {
			assert.True(t, s.Rejected(), "chunk %d", i)
		}
	}

	assert.Zero(t, b.calls)
	assert.Zero(t, s.Remaining())
	require.Len(t, events, 1)
	assert.True(t, events[0].Rejected)
	assert.Greater(t, events[0].Chunks, 1)
}

func TestSession_StalenessBoundary(t *testing.T) {
	b := &captureBlitter{}
	s := NewSession(testConfig(), b)

	// A frame exactly at the window is already stale
	require.NoError(t, s.Feed(headerFrame(testNow.Add(-3*time.Second), 2, 1, []byte{1, 2, 3, 4})))
	assert.Zero(t, b.calls)

	require.NoError(t, s.Feed(headerFrame(testNow.Add(-3*time.Second+time.Microsecond), 2, 1, []byte{1, 2, 3, 4})))
	assert.Equal(t, 1, b.calls)
}

func TestSession_FixedMode5Plus3(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = ModeFixed
	cfg.FixedWidth, cfg.FixedHeight = 4, 1
	cfg.FixedUnit = 5
	p := []byte{81, 90, 145, 240, 41, 240, 210, 16}

	render := func(chunks ...[]byte) []byte {
		surf, err := framebuffer.NewMemory(4, 1)
		require.NoError(t, err)
		s := NewSession(cfg, framebuffer.NewWriter(surf, 0, 0))
		for _, c := range chunks {
			require.NoError(t, s.Feed(c))
		}
		return surf.Bytes()
	}

	whole := render(p)
	split := render(p[:5], p[5:])
	assert.Equal(t, whole, split)

	want0, _ := colorspace.Macropixel(p[4:8])
	c := colorspace.RGB{B: whole[8], G: whole[9], R: whole[10]}
	assert.Equal(t, want0, c)
}

func TestSession_FixedModeNeverStale(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = ModeFixed
	cfg.FixedWidth, cfg.FixedHeight = 2, 2
	b := &captureBlitter{}
	s := NewSession(cfg, b)

	require.NoError(t, s.Feed(payload(2, 2, 6)))
	assert.Equal(t, 1, b.calls)
	assert.False(t, s.HaveHeader())
}

func TestSession_FixedModeInvalidSize(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = ModeFixed
	cfg.FixedWidth = 0
	s := NewSession(cfg, &captureBlitter{})
	assert.True(t, errors.Is(s.Feed([]byte{1, 2, 3, 4}), ErrMalformedDescriptor))
}

func fixedUnits(t *testing.T, p []byte, w, h, unit int) [][]byte {
	t.Helper()
	c, err := wire.NewChunker(unit, false)
	require.NoError(t, err)

	var units [][]byte
	require.NoError(t, c.Split(&types.RawFrame{Data: p, Width: w, Height: h}, func(u []byte) error {
		units = append(units, append([]byte(nil), u...))
		return nil
	}))
	return units
}

func fixedSession(unit int) (*Session, *captureBlitter, *[]types.FrameEvent) {
	cfg := testConfig()
	cfg.Mode = ModeFixed
	cfg.FixedWidth, cfg.FixedHeight = 8, 4 // 64 bytes: units of 24, 24, 16
	cfg.FixedUnit = unit

	var events []types.FrameEvent
	b := &captureBlitter{}
	s := NewSession(cfg, b, WithOnFrame(func(ev types.FrameEvent) {
		events = append(events, ev)
	}))
	return s, b, &events
}

func TestSession_FixedModeResyncAfterLostHead(t *testing.T) {
	s, b, events := fixedSession(24)

	var last []byte
	for f := 0; f < 3; f++ {
		last = payload(8, 4, int64(20+f))
		units := fixedUnits(t, last, 8, 4, 24)
		require.Len(t, units, 3)
		if f == 0 {
			units = units[1:]
		}
		for _, u := range units {
			require.NoError(t, s.Feed(u))
		}
	}

	// The short tail closes the damaged frame; later frames start at byte 0
	require.Len(t, *events, 3)
	assert.Equal(t, 24, (*events)[0].Missing)
	assert.Zero(t, (*events)[1].Missing)
	assert.Zero(t, (*events)[2].Missing)
	assert.Equal(t, []int{0, 24, 0, 24, 48, 0, 24, 48}, b.starts)
	assert.Equal(t, last, b.frame)
	assert.False(t, s.HaveHeader())
}

func TestSession_FixedModeResyncAfterLostTail(t *testing.T) {
	s, b, events := fixedSession(24)

	first := fixedUnits(t, payload(8, 4, 30), 8, 4, 24)
	next := payload(8, 4, 31)
	for _, u := range first[:2] {
		require.NoError(t, s.Feed(u))
	}
	assert.Equal(t, 16, s.Remaining())

	// A full unit no longer fits, so it opens the next frame
	for _, u := range fixedUnits(t, next, 8, 4, 24) {
		require.NoError(t, s.Feed(u))
	}

	require.Len(t, *events, 2)
	assert.Equal(t, 16, (*events)[0].Missing)
	assert.Zero(t, (*events)[1].Missing)
	assert.Equal(t, []int{0, 24, 0, 24, 48}, b.starts)
	assert.Equal(t, next, b.frame)
}

func TestSession_FixedModeByteCounting(t *testing.T) {
	s, b, events := fixedSession(0)

	// Without a unit size a lost unit shifts every later frame
	units := fixedUnits(t, payload(8, 4, 40), 8, 4, 24)
	for _, u := range units[1:] {
		require.NoError(t, s.Feed(u))
	}
	assert.Empty(t, *events)
	assert.Equal(t, 24, s.Remaining())
	assert.Equal(t, []int{0, 24}, b.starts)
}

func TestSession_SplitDescriptor(t *testing.T) {
	p := payload(4, 2, 7)
	stream := headerFrame(testNow, 4, 2, p)
	b := &captureBlitter{}
	s := NewSession(testConfig(), b)

	require.NoError(t, s.Feed(stream[:10]))
	assert.False(t, s.HaveHeader())
	assert.True(t, s.InFrame())

	require.NoError(t, s.Feed(stream[10:24]))
	assert.True(t, s.HaveHeader())
	assert.Equal(t, 4, s.Descriptor().Width)
	assert.Equal(t, len(p), s.Remaining())

	require.NoError(t, s.Feed(stream[24:]))
	assert.Equal(t, p, b.frame)
}

func TestSession_MalformedDescriptor(t *testing.T) {
	tests := []struct {
		name string
		w, h int
	}{
		{"zero width", 0, 4},
		{"negative height", 4, -1},
		{"odd width", 3, 2},
		{"too large", 1 << 14, 1 << 14},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.MaxFrameBytes = 1 << 20
			b := &captureBlitter{}
			s := NewSession(cfg, b)

			hdr := wire.AppendDescriptor(nil, types.FrameDescriptor{Timestamp: testNow, Width: tt.w, Height: tt.h})
			err := s.Feed(append(hdr, 1, 2, 3, 4))
			assert.True(t, errors.Is(err, ErrMalformedDescriptor), "got %v", err)
			assert.False(t, s.InFrame())
			assert.Zero(t, b.calls)

			// A good frame afterwards is accepted
			require.NoError(t, s.Feed(headerFrame(testNow, 2, 1, []byte{9, 9, 9, 9})))
			assert.Equal(t, 1, b.calls)
		})
	}
}

func TestSession_ChunkCrossesFrameBoundary(t *testing.T) {
	p1 := payload(4, 2, 8)
	p2 := payload(6, 2, 9)
	stream := append(headerFrame(testNow, 4, 2, p1), headerFrame(testNow, 6, 2, p2)...)

	var events []types.FrameEvent
	b := &captureBlitter{}
	s := NewSession(testConfig(), b, WithOnFrame(func(ev types.FrameEvent) { events = append(events, ev) }))

	// One chunk ends inside the second frame's descriptor
	cut := len(p1) + types.DescriptorSize + 5
	require.NoError(t, s.Feed(stream[:cut]))
	require.Len(t, events, 1)
	assert.Equal(t, p1, b.frame)
	assert.True(t, s.InFrame())

	b.frame = nil
	require.NoError(t, s.Feed(stream[cut:]))
	require.Len(t, events, 2)
	assert.Equal(t, 6, events[1].Descriptor.Width)
	assert.Equal(t, p2, b.frame)
}

func TestSession_ResetAbandonsFrame(t *testing.T) {
	b := &captureBlitter{}
	s := NewSession(testConfig(), b)

	stream := headerFrame(testNow, 4, 4, payload(4, 4, 10))
	require.NoError(t, s.Feed(stream[:30]))
	require.True(t, s.HaveHeader())

	s.Reset()
	assert.False(t, s.InFrame())
	assert.Zero(t, s.Remainder())
	assert.Zero(t, s.Remaining())
}

func TestSession_LastActivity(t *testing.T) {
	now := testNow
	cfg := testConfig()
	cfg.Now = func() time.Time { return now }
	s := NewSession(cfg, &captureBlitter{})
	assert.Equal(t, testNow, s.LastActivity())

	now = now.Add(time.Minute)
	require.NoError(t, s.Feed([]byte{1}))
	assert.Equal(t, now, s.LastActivity())
}

func TestSession_PatternRoundTrip(t *testing.T) {
	const w, h = 32, 8
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	bars := []color.RGBA{
		{255, 255, 255, 255}, {255, 255, 0, 255}, {0, 255, 255, 255}, {0, 255, 0, 255},
		{255, 0, 255, 255}, {255, 0, 0, 255}, {0, 0, 255, 255}, {0, 0, 0, 255},
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, bars[x*len(bars)/w])
		}
	}
	data, _, _ := colorspace.EncodeYUYV(img)
	want, err := colorspace.DecodeYUYV(data, w, h)
	require.NoError(t, err)

	surf, err := framebuffer.NewMemory(w+4, h+2)
	require.NoError(t, err)
	s := NewSession(testConfig(), framebuffer.NewWriter(surf, 4, 2))

	chunker, err := wire.NewChunker(28+12, true)
	require.NoError(t, err)
	err = chunker.Split(&types.RawFrame{Data: data, Width: w, Height: h, Timestamp: testNow}, s.Feed)
	require.NoError(t, err)

	got := surf.Region(image.Rect(4, 2, 4+w, 2+h))
	assert.Equal(t, want.Pix, got.Pix)

	// And the surface is close to the source image
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := img.RGBAAt(x, y)
			g := got.RGBAAt(x, y)
			assert.InDelta(t, int(a.R), int(g.R), 40, "R at (%d,%d)", x, y)
			assert.InDelta(t, int(a.G), int(g.G), 40, "G at (%d,%d)", x, y)
			assert.InDelta(t, int(a.B), int(g.B), 40, "B at (%d,%d)", x, y)
		}
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("fixed")
	require.NoError(t, err)
	assert.Equal(t, ModeFixed, m)
	assert.Equal(t, "fixed", m.String())

	_, err = ParseMode("rtp")
	assert.Error(t, err)
}
