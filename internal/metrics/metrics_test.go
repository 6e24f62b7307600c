package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_ExposesCounters(t *testing.T) {
	m := New()
	m.FramesCompleted.Add(3)
	m.MalformedDescriptors.Add(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, "fbstream_frames_completed_total 3"), text)
	assert.True(t, strings.Contains(text, "fbstream_malformed_descriptors_total 1"), text)
	assert.True(t, strings.Contains(text, "fbstream_fps 0"), text)
}

func TestSnapshot(t *testing.T) {
	m := New()
	m.ChunksReceived.Add(10)
	m.FramesRejected.Add(2)

	s := m.Snapshot()
	assert.Equal(t, uint64(10), s.ChunksReceived)
	assert.Equal(t, uint64(2), s.FramesRejected)
}

func TestUpdateFrameLatency(t *testing.T) {
	m := New()
	now := time.Unix(100, 0)
	m.UpdateFrameLatency(now.Add(-250*time.Millisecond), now)
	assert.Equal(t, uint64(250), m.FrameLatencyMs.Load())

	// Clock skew never goes negative
	m.UpdateFrameLatency(now.Add(time.Second), now)
	assert.Zero(t, m.FrameLatencyMs.Load())
}

func TestRateMeter(t *testing.T) {
	r := NewRateMeter(5 * time.Second)
	base := time.Unix(0, 0)

	// 30 fps for five seconds
	var fps float64
	var closed bool
	for i := 0; i <= 150; i++ {
		fps, closed = r.Tick(base.Add(time.Duration(i) * time.Second / 30))
		if closed {
			break
		}
	}
	require.True(t, closed)
	assert.InDelta(t, 30.2, fps, 0.3)
	assert.Equal(t, fps, r.FPS())

	// A new window starts empty
	_, closed = r.Tick(base.Add(6 * time.Second))
	assert.False(t, closed)
}
