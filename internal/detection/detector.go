package detection

import (
	"net/http"
	"net/url"
	"strings"
)

// Request is the view of an HTTP request the detectors inspect.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	RawURL  string
	Header  http.Header
	Body    []byte
	Matched string // route pattern, empty when no route matched
}

// Verdict is one detector's decision on a request.
type Verdict struct {
	Detected bool
	Reason   string
	Score    float64
}

// Detector classifies requests as attacks or benign traffic.
type Detector interface {
	Type() string
	Inspect(r *Request) Verdict
}

// Hybrid flags a request when any of its detectors does.
type Hybrid struct {
	detectors []Detector
}

func NewHybrid(detectors ...Detector) *Hybrid {
	return &Hybrid{detectors: detectors}
}

func (h *Hybrid) Type() string { return TypeHybrid }

func (h *Hybrid) Inspect(r *Request) Verdict {
	var reasons []string
	var v Verdict
	for _, d := range h.detectors {
		dv := d.Inspect(r)
		if dv.Score > v.Score {
			v.Score = dv.Score
		}
		if dv.Detected {
			v.Detected = true
			reasons = append(reasons, d.Type()+": "+dv.Reason)
		}
	}
	v.Reason = strings.Join(reasons, "; ")
	return v
}

// InspectAll runs the signature and specification detectors once and
// derives the hybrid verdict from their results.
func InspectAll(sig, spec Detector, r *Request) map[string]Verdict {
	sv, pv := sig.Inspect(r), spec.Inspect(r)
	hybrid := NewHybrid(fixed{sig.Type(), sv}, fixed{spec.Type(), pv})
	return map[string]Verdict{
		TypeSignature:     sv,
		TypeSpecification: pv,
		TypeHybrid:        hybrid.Inspect(r),
	}
}

type fixed struct {
	typ string
	v   Verdict
}

func (f fixed) Type() string            { return f.typ }
func (f fixed) Inspect(*Request) Verdict { return f.v }
