// Package monitor serves the receiver's status pages: JSON/protobuf status,
// SSE event streams, JPEG snapshots of the drawn area and an MJPEG feed.
package monitor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/receiver"
)

// Monitor assembles status payloads from a dispatcher
type Monitor struct {
	d         *receiver.Dispatcher
	startTime time.Time
	now       func() time.Time
}

// NewMonitor creates a Monitor for d
func NewMonitor(d *receiver.Dispatcher) *Monitor {
	return &Monitor{
		d:         d,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// Status returns the current receiver status. Sessions are read on the
// dispatcher goroutine; when it has stopped the list is empty.
func (m *Monitor) Status(ctx context.Context) Status {
	now := m.now()
	st := Status{
		Receiver:      m.d.Metrics().Snapshot(),
		Sessions:      []SessionStatus{},
		UptimeSeconds: now.Sub(m.startTime).Seconds(),
		Timestamp:     unixSeconds(now),
	}
	if info, ok := m.d.LastFrame(); ok {
		fs := frameStatus(info)
		st.LastFrame = &fs
	}

	sessions, err := m.d.Sessions(ctx)
	if err == nil {
		for _, s := range sessions {
			st.Sessions = append(st.Sessions, SessionStatus{
				ID:        s.ID,
				Peer:      s.Peer,
				Mode:      s.Mode.String(),
				InFrame:   s.InFrame,
				Remaining: s.Remaining,
				IdleMs:    now.Sub(s.LastActivity).Milliseconds(),
			})
		}
	}
	return st
}

func frameStatus(info receiver.FrameInfo) FrameStatus {
	return FrameStatus{
		Seq:         info.Seq,
		SessionID:   info.SessionID,
		Peer:        info.Peer,
		Width:       info.Descriptor.Width,
		Height:      info.Descriptor.Height,
		Rejected:    info.Rejected,
		CaptureTime: unixSeconds(info.Descriptor.Timestamp),
		LatencyMs:   info.Finished.Sub(info.Descriptor.Timestamp).Milliseconds(),
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

// toStruct converts any JSON-shaped value into a protobuf Struct
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return structpb.NewStruct(fields)
}

// marshalProto encodes v as a serialized google.protobuf.Struct
func marshalProto(v any) ([]byte, error) {
	s, err := toStruct(v)
	if err != nil {
		return nil, fmt.Errorf("protobuf conversion: %w", err)
	}
	return proto.Marshal(s)
}

// serialize pre-encodes v for SSE subscribers
func serialize(v any) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("JSON marshal: %w", err)
	}
	pbData, err := marshalProto(v)
	if err != nil {
		return nil, err
	}
	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}
