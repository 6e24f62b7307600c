package monitor

import "github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/metrics"

// Status is the payload of /api/status and /api/status/stream
type Status struct {
	Receiver      metrics.Snapshot `json:"receiver"`
	LastFrame     *FrameStatus     `json:"last_frame"`
	Sessions      []SessionStatus  `json:"sessions"`
	UptimeSeconds float64          `json:"uptime_seconds"`
	Timestamp     float64          `json:"timestamp"`
}

// FrameStatus describes a completed frame
type FrameStatus struct {
	Seq         uint64  `json:"seq"`
	SessionID   string  `json:"session_id"`
	Peer        string  `json:"peer"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Rejected    bool    `json:"rejected"`
	CaptureTime float64 `json:"capture_time"`
	LatencyMs   int64   `json:"latency_ms"`
}

// SessionStatus describes one live sender
type SessionStatus struct {
	ID        string `json:"id"`
	Peer      string `json:"peer"`
	Mode      string `json:"mode"`
	InFrame   bool   `json:"in_frame"`
	Remaining int    `json:"remaining_bytes"`
	IdleMs    int64  `json:"idle_ms"`
}

// SerializedEvent carries one event in both wire formats so each
// subscriber only picks bytes.
type SerializedEvent struct {
	JSONData     []byte
	ProtobufData []byte // base64 for SSE
}
