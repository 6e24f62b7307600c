package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(WARN, &buf, false)

	l.Info("Receiver", "hidden %d", 1)
	l.Warn("Receiver", "shown %d", 2)

	out := buf.String()
	assert.False(t, strings.Contains(out, "hidden"))
	assert.True(t, strings.Contains(out, "[WARN] [Receiver] shown 2"), out)
}

func TestLogger_Silent(t *testing.T) {
	var buf bytes.Buffer
	l := New(SILENT, &buf, false)
	l.Error("X", "nothing")
	assert.Zero(t, buf.Len())
}

func TestLogger_Color(t *testing.T) {
	var buf bytes.Buffer
	New(DEBUG, &buf, true).Error("X", "boom")
	assert.True(t, strings.Contains(buf.String(), "\033[31m[ERROR]\033[0m [X] boom"))
}

func TestModule(t *testing.T) {
	var buf bytes.Buffer
	m := New(DEBUG, &buf, false).Module("Dispatcher")

	m.Debug("frame %dx%d", 320, 180)
	assert.Equal(t, "Dispatcher", m.Name())
	assert.True(t, strings.Contains(buf.String(), "[DEBUG] [Dispatcher] frame 320x180"), buf.String())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"Warning", WARN},
		{"error", ERROR},
		{"none", SILENT},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}
