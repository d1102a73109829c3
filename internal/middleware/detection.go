package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/roastedbeans/certification-authority/internal/detection"
	"github.com/roastedbeans/certification-authority/internal/telemetry"
	"github.com/roastedbeans/certification-authority/internal/util/logger"
)

// HeaderAttackType is set by the traffic generator on attack requests. It
// feeds the ground truth log and is never shown to the detectors.
const HeaderAttackType = "X-Attack-Type"

// ObservationSink stores one observation per request.
type ObservationSink interface {
	Record(o detection.Observation) error
}

// Detection runs the signature and specification detectors on every request
// and records their verdicts with the ground truth.
type Detection struct {
	Signature     detection.Detector
	Specification detection.Detector
	Sink          ObservationSink
	Shipper       telemetry.Publisher
	now           func() time.Time
}

func NewDetection(sig, spec detection.Detector, sink ObservationSink, shipper telemetry.Publisher) *Detection {
	if shipper == nil {
		shipper = telemetry.Nop{}
	}
	return &Detection{Signature: sig, Specification: spec, Sink: sink, Shipper: shipper, now: time.Now}
}

func (m *Detection) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := m.now()
		attackType := r.Header.Get(HeaderAttackType)
		r.Header.Del(HeaderAttackType)

		body := readBody(r)
		dr := &detection.Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			RawURL: r.URL.RequestURI(),
			Header: r.Header.Clone(),
			Body:   body,
		}
		verdicts := detection.InspectAll(m.Signature, m.Specification, dr)

		cw := newCaptureWriter(w)
		next.ServeHTTP(cw, r)

		reqID := chimw.GetReqID(r.Context())
		if reqID == "" {
			reqID = uuid.NewString()
		}
		obs := detection.Observation{
			Time:       start,
			RequestID:  reqID,
			Method:     r.Method,
			URL:        r.URL.RequestURI(),
			Status:     cw.status,
			AttackType: attackType,
			Request:    r.Method + " " + r.URL.RequestURI() + " " + maskBody(body, r.Header.Get("Content-Type")),
			Response:   maskBody(cw.body.Bytes(), "application/json"),
			Verdicts:   verdicts,
		}
		if err := m.Sink.Record(obs); err != nil {
			logger.Errorw("write detection logs", "request_id", reqID, "error", err)
		}

		ev := telemetry.DetectionEvent{
			Timestamp:  start.UTC(),
			RequestID:  reqID,
			Method:     r.Method,
			Path:       r.URL.Path,
			Status:     cw.status,
			AttackType: attackType,
			Verdicts:   make(map[string]telemetry.DetectionVerdict, len(verdicts)),
		}
		for typ, v := range verdicts {
			ev.Verdicts[typ] = telemetry.DetectionVerdict{Detected: v.Detected, Reason: v.Reason, Score: v.Score}
		}
		if v := verdicts[detection.TypeHybrid]; v.Detected {
			logger.Warnw("request flagged", "request_id", reqID, "path", r.URL.Path, "reason", v.Reason)
		}
		m.Shipper.Publish(ev)
	})
}
