package detection

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roastedbeans/certification-authority/internal/util/logger"
)

// Correlation modes.
const (
	CorrelatePosition  = "position"
	CorrelateRequestID = "request_id"
)

// RecentLimit is the number of records kept per category in a summary.
const RecentLimit = 5

// Sources are the log paths of one analysis run. RateLimit is optional.
type Sources struct {
	GroundTruth   string
	Signature     string
	Specification string
	Hybrid        string
	RateLimit     string
}

type EngineConfig struct {
	MaxRecords  int    `yaml:"max_records" validate:"gte=0"`
	Correlation string `yaml:"correlation" validate:"omitempty,oneof=position request_id"`
}

// Engine scores detector logs against ground truth.
type Engine struct {
	cfg EngineConfig
	now func() time.Time
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = DefaultMaxRecords
	}
	if cfg.Correlation == "" {
		cfg.Correlation = CorrelatePosition
	}
	return &Engine{cfg: cfg, now: time.Now}
}

type DetectorSummary struct {
	DetectionType string            `json:"detectionType"`
	Records       int               `json:"records"`
	Detected      int               `json:"detected"`
	Matrix        ConfusionMatrix   `json:"confusionMatrix"`
	Metrics       Metrics           `json:"metrics"`
	Recent        []DetectionRecord `json:"recentDetections"`
}

type RateLimitSummary struct {
	Windows       int               `json:"windows"`
	Anomalies     int               `json:"anomalies"`
	TotalRequests int               `json:"totalRequests"`
	Recent        []RateLimitRecord `json:"recentAnomalies"`
}

// Summary is the result of one analysis run.
type Summary struct {
	GeneratedAt   time.Time           `json:"generatedAt"`
	Correlation   string              `json:"correlation"`
	TotalRequests int                 `json:"totalRequests"`
	TotalAttacks  int                 `json:"totalAttacks"`
	MissedAttacks int                 `json:"missedAttacks"`
	Detectors     []DetectorSummary   `json:"detectors"`
	RecentAttacks []GroundTruthRecord `json:"recentAttacks"`
	RateLimit     *RateLimitSummary   `json:"rateLimit,omitempty"`
}

// Detector returns the summary of detectionType.
func (s *Summary) Detector(detectionType string) (DetectorSummary, bool) {
	for _, d := range s.Detectors {
		if d.DetectionType == detectionType {
			return d, true
		}
	}
	return DetectorSummary{}, false
}

type loaded struct {
	truth     []GroundTruthRecord
	detectors map[string][]DetectionRecord
	rateLimit []RateLimitRecord
}

// load reads all logs concurrently and returns once every read finished.
// Any failure fails the whole load.
func (e *Engine) load(ctx context.Context, src Sources) (*loaded, error) {
	paths := map[string]string{
		TypeSignature:     src.Signature,
		TypeSpecification: src.Specification,
		TypeHybrid:        src.Hybrid,
	}
	out := &loaded{detectors: make(map[string][]DetectionRecord, len(paths))}
	results := make([][]DetectionRecord, len(DetectorTypes))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		recs, err := ReadGroundTruth(gctx, src.GroundTruth, e.cfg.MaxRecords)
		if err != nil {
			return fmt.Errorf("ground truth: %w", err)
		}
		out.truth = recs
		return nil
	})
	for i, typ := range DetectorTypes {
		g.Go(func() error {
			recs, err := ReadDetectionLog(gctx, paths[typ], e.cfg.MaxRecords)
			if err != nil {
				return fmt.Errorf("%s log: %w", typ, err)
			}
			results[i] = recs
			return nil
		})
	}
	if src.RateLimit != "" {
		g.Go(func() error {
			recs, err := ReadRateLimitLog(gctx, src.RateLimit, e.cfg.MaxRecords)
			if err != nil {
				return fmt.Errorf("rate limit log: %w", err)
			}
			out.rateLimit = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, typ := range DetectorTypes {
		out.detectors[typ] = results[i]
	}
	return out, nil
}

// Analyze loads the logs of src and scores every detector.
func (e *Engine) Analyze(ctx context.Context, src Sources) (*Summary, error) {
	data, err := e.load(ctx, src)
	if err != nil {
		return nil, err
	}
	s := e.summarize(data)
	logger.Infow("detection analysis finished",
		"requests", s.TotalRequests, "attacks", s.TotalAttacks, "missed", s.MissedAttacks, "correlation", s.Correlation)
	return s, nil
}

// pair is a correlated ground truth and detector record.
type pair struct {
	truth GroundTruthRecord
	det   DetectionRecord
}

func (e *Engine) correlate(truth []GroundTruthRecord, dets []DetectionRecord) []pair {
	if e.cfg.Correlation == CorrelateRequestID {
		byID := make(map[string]GroundTruthRecord, len(truth))
		for _, t := range truth {
			if t.RequestID != "" {
				byID[t.RequestID] = t
			}
		}
		out := make([]pair, 0, len(dets))
		for _, d := range dets {
			if t, ok := byID[d.RequestID]; ok && d.RequestID != "" {
				out = append(out, pair{truth: t, det: d})
			}
		}
		return out
	}

	n := min(len(truth), len(dets))
	out := make([]pair, n)
	for i := 0; i < n; i++ {
		out[i] = pair{truth: truth[i], det: dets[i]}
	}
	return out
}

func (e *Engine) summarize(data *loaded) *Summary {
	s := &Summary{
		GeneratedAt:   e.now().UTC(),
		Correlation:   e.cfg.Correlation,
		TotalRequests: len(data.truth),
	}

	var attacks []GroundTruthRecord
	for _, t := range data.truth {
		if t.Attack() {
			s.TotalAttacks++
			attacks = append(attacks, t)
		}
	}
	s.RecentAttacks = lastN(attacks, RecentLimit)

	for _, typ := range DetectorTypes {
		dets := data.detectors[typ]
		ds := DetectorSummary{DetectionType: typ, Records: len(dets)}
		var positives []DetectionRecord
		for _, d := range dets {
			if d.Positive() {
				ds.Detected++
				positives = append(positives, d)
			}
		}
		for _, p := range e.correlate(data.truth, dets) {
			ds.Matrix.Add(p.truth.Attack(), p.det.Positive())
			if typ == TypeHybrid && p.truth.Attack() && !p.det.Positive() {
				s.MissedAttacks++
			}
		}
		ds.Metrics = ds.Matrix.Metrics()
		ds.Recent = lastN(positives, RecentLimit)
		s.Detectors = append(s.Detectors, ds)
	}

	if data.rateLimit != nil {
		rl := &RateLimitSummary{Windows: len(data.rateLimit)}
		var anomalies []RateLimitRecord
		for _, r := range data.rateLimit {
			if n, err := strconv.Atoi(r.RequestCount); err == nil {
				rl.TotalRequests += n
			}
			if r.Anomaly() {
				rl.Anomalies++
				anomalies = append(anomalies, r)
			}
		}
		rl.Recent = lastN(anomalies, RecentLimit)
		s.RateLimit = rl
	}
	return s
}

// lastN returns up to n trailing elements, newest first.
func lastN[T any](in []T, n int) []T {
	if len(in) < n {
		n = len(in)
	}
	out := make([]T, 0, n)
	for i := len(in) - 1; i >= len(in)-n; i-- {
		out = append(out, in[i])
	}
	return out
}
