package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	cfg "github.com/roastedbeans/certification-authority/internal/config"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWriter) messages() []kafka.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kafka.Message(nil), f.msgs...)
}

func TestKafkaShipperRoutesByEventType(t *testing.T) {
	audit, det := &fakeWriter{}, &fakeWriter{}
	s := newKafkaShipper(cfg.KafkaConfig{Enabled: true, QueueCapacity: 16}, audit, det)
	s.Start()

	s.Publish(AuditEvent{Method: "POST", Path: "/ca/sign_request", Status: 400, RspCode: "40001", ClientID: "bank-1"})
	s.Publish(AuditEvent{Method: "GET", Path: "/mgmts/orgs", Status: 401, APITranID: "BANK000001MABCDEFGHIJKLMN"})
	s.Publish(DetectionEvent{RequestID: "req-1", Method: "GET", Path: "/healthz",
		Verdicts: map[string]DetectionVerdict{"Signature": {Detected: true, Reason: "XSS"}}})
	s.Publish(RateLimitEvent{ClientID: "card-1", Endpoint: "/mgmts/orgs", RequestCount: 120})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	am := audit.messages()
	if len(am) != 3 {
		t.Fatalf("expected 3 audit messages, got %d", len(am))
	}
	if string(am[0].Key) != "bank-1" || string(am[1].Key) != "BANK000001MABCDEFGHIJKLMN" || string(am[2].Key) != "card-1" {
		t.Fatalf("unexpected audit keys: %q %q %q", am[0].Key, am[1].Key, am[2].Key)
	}
	var ev map[string]any
	if err := json.Unmarshal(am[0].Value, &ev); err != nil {
		t.Fatal(err)
	}
	if ev["rsp_code"] != "40001" {
		t.Fatalf("expected rsp_code in payload, got %v", ev)
	}

	dm := det.messages()
	if len(dm) != 1 || string(dm[0].Key) != "req-1" {
		t.Fatalf("expected one detection message keyed by request id, got %+v", dm)
	}
	if !audit.closed || !det.closed {
		t.Fatal("expected writers closed on stop")
	}
}

func TestKafkaShipperDropsWhenFull(t *testing.T) {
	s := newKafkaShipper(cfg.KafkaConfig{Enabled: true, QueueCapacity: 2}, &fakeWriter{}, nil)
	// not started: nothing drains the queue
	for i := 0; i < 5; i++ {
		s.Publish(AuditEvent{Status: 400})
	}
	if s.Dropped() != 3 {
		t.Fatalf("expected 3 dropped events, got %d", s.Dropped())
	}
}

func TestKafkaShipperDisabled(t *testing.T) {
	s, err := NewKafkaShipper(cfg.KafkaConfig{})
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	s.Publish(AuditEvent{})
	s.Stop(context.Background())

	if _, err := NewKafkaShipper(cfg.KafkaConfig{Enabled: true}); err == nil {
		t.Fatal("expected error without brokers")
	}
}
