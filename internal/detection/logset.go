package detection

import (
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Log file names inside a detection log directory.
const (
	FileSignature     = "signature_detection.csv"
	FileSpecification = "specification_detection.csv"
	FileHybrid        = "hybrid_detection.csv"
	FileGroundTruth   = "ground_truth.csv"
	FileRateLimit     = "rate_limit.csv"
)

// SourcesIn returns the standard log paths under dir.
func SourcesIn(dir string) Sources {
	return Sources{
		GroundTruth:   filepath.Join(dir, FileGroundTruth),
		Signature:     filepath.Join(dir, FileSignature),
		Specification: filepath.Join(dir, FileSpecification),
		Hybrid:        filepath.Join(dir, FileHybrid),
		RateLimit:     filepath.Join(dir, FileRateLimit),
	}
}

// LogSet holds the writers of one log directory.
type LogSet struct {
	mu          sync.Mutex
	detectors   map[string]*LogWriter
	groundTruth *LogWriter
	rateLimit   *LogWriter
}

func OpenLogSet(dir string) (*LogSet, error) {
	src := SourcesIn(dir)
	ls := &LogSet{detectors: map[string]*LogWriter{}}
	open := func(path string, header []string) (*LogWriter, error) {
		w, err := OpenLogWriter(path, header)
		if err != nil {
			_ = ls.Close()
		}
		return w, err
	}
	var err error
	for typ, path := range map[string]string{
		TypeSignature:     src.Signature,
		TypeSpecification: src.Specification,
		TypeHybrid:        src.Hybrid,
	} {
		if ls.detectors[typ], err = open(path, DetectionColumns); err != nil {
			return nil, err
		}
	}
	if ls.groundTruth, err = open(src.GroundTruth, GroundTruthColumns); err != nil {
		return nil, err
	}
	if ls.rateLimit, err = open(src.RateLimit, RateLimitColumns); err != nil {
		return nil, err
	}
	return ls, nil
}

// Observation is everything logged about one request.
type Observation struct {
	Time       time.Time
	RequestID  string
	Method     string
	URL        string
	Status     int
	AttackType string
	Request    string
	Response   string
	Verdicts   map[string]Verdict
}

// Record writes one row per detector and the ground truth row. Rows for the
// same request are written in the same order to every file so positional
// correlation stays aligned.
func (l *LogSet) Record(o Observation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := o.Time.UTC().Format(time.RFC3339Nano)
	var errs []error
	for _, typ := range DetectorTypes {
		v := o.Verdicts[typ]
		rec := DetectionRecord{
			Timestamp:     ts,
			DetectionType: typ,
			Detected:      strconv.FormatBool(v.Detected),
			Reason:        v.Reason,
			Request:       o.Request,
			Response:      o.Response,
			RequestID:     o.RequestID,
		}
		errs = append(errs, l.detectors[typ].Write(rec.row()))
	}
	gt := GroundTruthRecord{
		Timestamp:      ts,
		AttackType:     o.AttackType,
		RequestMethod:  o.Method,
		RequestURL:     o.URL,
		ResponseStatus: strconv.Itoa(o.Status),
		RequestID:      o.RequestID,
	}
	errs = append(errs, l.groundTruth.Write(gt.row()))
	return errors.Join(errs...)
}

// RecordRateLimit writes one rate limiter window.
func (l *LogSet) RecordRateLimit(r RateLimitRecord) error {
	return l.rateLimit.Write(r.row())
}

func (l *LogSet) Close() error {
	var errs []error
	for _, w := range l.detectors {
		if w != nil {
			errs = append(errs, w.Close())
		}
	}
	for _, w := range []*LogWriter{l.groundTruth, l.rateLimit} {
		if w != nil {
			errs = append(errs, w.Close())
		}
	}
	return errors.Join(errs...)
}
