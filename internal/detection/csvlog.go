package detection

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// DefaultMaxRecords caps every loaded log.
const DefaultMaxRecords = 10000

// LogWriter appends rows to a CSV log, writing the header when the file is
// new. It is safe for concurrent use.
type LogWriter struct {
	mu   sync.Mutex
	f    *os.File
	w    *csv.Writer
	path string
}

// OpenLogWriter opens path for appending, creating it and its directory.
func OpenLogWriter(path string, header []string) (*LogWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	lw := &LogWriter{f: f, w: csv.NewWriter(f), path: path}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if st.Size() == 0 {
		if err := lw.Write(header); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return lw, nil
}

func (l *LogWriter) Path() string { return l.path }

// Write appends one row and flushes it.
func (l *LogWriter) Write(row []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Write(row); err != nil {
		return err
	}
	l.w.Flush()
	return l.w.Error()
}

func (l *LogWriter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Flush()
	return l.f.Close()
}

// table is a loaded CSV log with columns looked up by header name.
type table struct {
	cols map[string]int
	rows [][]string
}

// get returns the named column of row. Rows shorter than the header yield
// empty strings for the missing columns.
func (t *table) get(row []string, name string) string {
	i, ok := t.cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

// readTable loads at most max data rows of the CSV file at path. A missing or
// unreadable file is an error; rows of any width are accepted.
func readTable(ctx context.Context, path string, max int) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return &table{cols: map[string]int{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	t := &table{cols: make(map[string]int, len(header))}
	for i, h := range header {
		t.cols[h] = i
	}
	if max <= 0 {
		max = DefaultMaxRecords
	}
	for len(t.rows) < max {
		if len(t.rows)%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

// ReadDetectionLog loads a detector log.
func ReadDetectionLog(ctx context.Context, path string, max int) ([]DetectionRecord, error) {
	t, err := readTable(ctx, path, max)
	if err != nil {
		return nil, err
	}
	out := make([]DetectionRecord, len(t.rows))
	for i, row := range t.rows {
		out[i] = DetectionRecord{
			Index:         i,
			Timestamp:     t.get(row, "timestamp"),
			DetectionType: t.get(row, "detectionType"),
			Detected:      t.get(row, "detected"),
			Reason:        t.get(row, "reason"),
			Request:       t.get(row, "request"),
			Response:      t.get(row, "response"),
			RequestID:     t.get(row, "requestId"),
		}
	}
	return out, nil
}

// ReadGroundTruth loads the traffic generator log.
func ReadGroundTruth(ctx context.Context, path string, max int) ([]GroundTruthRecord, error) {
	t, err := readTable(ctx, path, max)
	if err != nil {
		return nil, err
	}
	out := make([]GroundTruthRecord, len(t.rows))
	for i, row := range t.rows {
		out[i] = GroundTruthRecord{
			Index:          i,
			Timestamp:      t.get(row, "timestamp"),
			AttackType:     t.get(row, "attackType"),
			RequestMethod:  t.get(row, "requestMethod"),
			RequestURL:     t.get(row, "requestUrl"),
			ResponseStatus: t.get(row, "responseStatus"),
			RequestID:      t.get(row, "requestId"),
		}
	}
	return out, nil
}

// ReadRateLimitLog loads the rate limiter window log.
func ReadRateLimitLog(ctx context.Context, path string, max int) ([]RateLimitRecord, error) {
	t, err := readTable(ctx, path, max)
	if err != nil {
		return nil, err
	}
	out := make([]RateLimitRecord, len(t.rows))
	for i, row := range t.rows {
		out[i] = RateLimitRecord{
			Index:        i,
			StartTime:    t.get(row, "startTime"),
			EndTime:      t.get(row, "endTime"),
			IsAnomaly:    t.get(row, "isAnomaly"),
			Reason:       t.get(row, "reason"),
			RequestCount: t.get(row, "requestCount"),
			ClientID:     t.get(row, "clientId"),
			Endpoint:     t.get(row, "endpoint"),
		}
	}
	return out, nil
}
