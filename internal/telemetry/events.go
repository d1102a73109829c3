package telemetry

import "time"

// Publisher accepts events for asynchronous delivery. Publish never blocks.
type Publisher interface {
	Publish(ev any)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(any) {}

// AuditEvent records a rejected request with its masked bodies.
type AuditEvent struct {
	Timestamp  time.Time `json:"@timestamp"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	DurationMs int64     `json:"duration_ms"`
	RspCode    string    `json:"rsp_code,omitempty"`
	APITranID  string    `json:"x_api_tran_id,omitempty"`
	ClientID   string    `json:"client_id,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Request    string    `json:"request,omitempty"`
	Response   string    `json:"response,omitempty"`
}

// DetectionVerdict is one detector's result inside a DetectionEvent.
type DetectionVerdict struct {
	Detected bool    `json:"detected"`
	Reason   string  `json:"reason,omitempty"`
	Score    float64 `json:"score,omitempty"`
}

// DetectionEvent mirrors the rows the detection middleware writes for one request.
type DetectionEvent struct {
	Timestamp  time.Time                   `json:"@timestamp"`
	RequestID  string                      `json:"request_id"`
	Method     string                      `json:"method"`
	Path       string                      `json:"path"`
	Status     int                         `json:"status"`
	AttackType string                      `json:"attack_type,omitempty"`
	Verdicts   map[string]DetectionVerdict `json:"verdicts"`
}

// RateLimitEvent is published for every anomalous rate limiter window.
type RateLimitEvent struct {
	Timestamp    time.Time `json:"@timestamp"`
	ClientID     string    `json:"client_id"`
	Endpoint     string    `json:"endpoint"`
	RequestCount int       `json:"request_count"`
	Reason       string    `json:"reason"`
}
