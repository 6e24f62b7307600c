// Package recorder writes sent frames to disk in the header wire format
// (descriptor followed by payload) and reads such recordings back.
package recorder

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/wire"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/pkg/types"
)

// FileExt is the extension of recordings
const FileExt = ".yuyv"

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
)

// Recorder records frames to file
type Recorder struct {
	mu           sync.RWMutex
	file         *os.File
	buf          *bufio.Writer
	filename     string
	basePath     string
	recording    bool
	frameCount   uint64
	bytesWritten uint64
	dropped      atomic.Uint64 // SendFrame only holds the read lock
	startTime    time.Time
	lastErr      error

	frameChan chan *types.RawFrame
	stopChan  chan struct{}
	wg        sync.WaitGroup

	now func() time.Time
}

// NewRecorder creates a recorder writing into basePath
func NewRecorder(basePath string) *Recorder {
	return &Recorder{
		basePath: basePath,
		now:      time.Now,
	}
}

func (r *Recorder) create() (*os.File, string, error) {
	stamp := r.now().Format("20060102_150405")
	name := fmt.Sprintf("recording_%s%s", stamp, FileExt)

	f, err := os.OpenFile(filepath.Join(r.basePath, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		// Second start within the same second
		name = fmt.Sprintf("recording_%s_%s%s", stamp, uuid.NewString()[:8], FileExt)
		f, err = os.OpenFile(filepath.Join(r.basePath, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to create file: %w", err)
	}
	return f, name, nil
}

// Start starts recording to a new file
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return ErrAlreadyRecording
	}
	if err := os.MkdirAll(r.basePath, 0o755); err != nil {
		return fmt.Errorf("failed to create recordings directory: %w", err)
	}

	file, name, err := r.create()
	if err != nil {
		return err
	}

	r.file = file
	r.buf = bufio.NewWriterSize(file, 1<<20)
	r.filename = name
	r.recording = true
	r.frameCount = 0
	r.bytesWritten = 0
	r.dropped.Store(0)
	r.lastErr = nil
	r.startTime = r.now()
	r.frameChan = make(chan *types.RawFrame, 60) // 2 seconds at 30fps
	r.stopChan = make(chan struct{})

	r.wg.Add(1)
	go r.writeFrames(r.frameChan, r.stopChan)

	logger.Info("Recorder", "Recording to %s", filepath.Join(r.basePath, name))
	return nil
}

// Stop flushes queued frames and closes the file
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return ErrNotRecording
	}
	r.recording = false
	close(r.stopChan)
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	if err := r.buf.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("failed to flush file: %w", err))
	}
	if err := r.file.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("failed to sync file: %w", err))
	}
	if err := r.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close file: %w", err))
	}
	r.file = nil
	r.buf = nil

	logger.Info("Recorder", "Stopped %s: %d frames, %d bytes, %d dropped",
		r.filename, r.frameCount, r.bytesWritten, r.dropped.Load())
	return errors.Join(errs...)
}

// SendFrame queues a frame without blocking. It reports false when not
// recording or when the queue is full.
func (r *Recorder) SendFrame(frame *types.RawFrame) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.recording {
		return false
	}
	select {
	case r.frameChan <- frame:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

func (r *Recorder) writeFrames(frames <-chan *types.RawFrame, stop <-chan struct{}) {
	defer r.wg.Done()

	for {
		select {
		case frame := <-frames:
			r.writeFrame(frame)
		case <-stop:
			// SendFrame holds the read lock while queueing and recording is
			// already false, so nothing new arrives once stop is closed
			for {
				select {
				case frame := <-frames:
					r.writeFrame(frame)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) writeFrame(frame *types.RawFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.buf == nil {
		return
	}

	hdr := wire.AppendDescriptor(make([]byte, 0, types.DescriptorSize), frame.Descriptor())
	n1, err := r.buf.Write(hdr)
	if err == nil {
		var n2 int
		n2, err = r.buf.Write(frame.Data)
		n1 += n2
	}
	r.bytesWritten += uint64(n1)
	if err != nil {
		if r.lastErr == nil {
			logger.Error("Recorder", "Write to %s failed: %v", r.filename, err)
		}
		r.lastErr = err
		return
	}
	r.frameCount++
}

// IsRecording returns true if currently recording
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// GetStatus returns the current recording status
func (r *Recorder) GetStatus() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var duration time.Duration
	if r.recording {
		duration = r.now().Sub(r.startTime)
	}
	status := RecordingStatus{
		Recording:    r.recording,
		Filename:     r.filename,
		FrameCount:   r.frameCount,
		BytesWritten: r.bytesWritten,
		Dropped:      r.dropped.Load(),
		DurationMs:   duration.Milliseconds(),
		StartTime:    r.startTime,
	}
	if r.lastErr != nil {
		status.Error = r.lastErr.Error()
	}
	return status
}

// Close stops any active recording
func (r *Recorder) Close() error {
	if r.IsRecording() {
		return r.Stop()
	}
	return nil
}

// RecordingStatus holds the current recording status
type RecordingStatus struct {
	Recording    bool      `json:"recording"`
	Filename     string    `json:"filename"`
	FrameCount   uint64    `json:"frame_count"`
	BytesWritten uint64    `json:"bytes_written"`
	Dropped      uint64    `json:"dropped"`
	DurationMs   int64     `json:"duration_ms"`
	StartTime    time.Time `json:"start_time"`
	Error        string    `json:"error,omitempty"`
}
