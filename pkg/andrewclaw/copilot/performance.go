// Package copilot – performance.go appends timing metrics to a JSON array
// file for offline inspection.
package copilot

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"
)

// Metric is one entry of the performance log.
type Metric struct {
	Timestamp       string         `json:"timestamp"`
	MetricName      string         `json:"metric_name"`
	DurationSeconds float64        `json:"duration_seconds"`
	Metadata        map[string]any `json:"metadata"`
}

// PerformanceLog appends metrics to a single file. A nil *PerformanceLog
// is valid and records nothing.
type PerformanceLog struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewPerformanceLog creates a log at path.
func NewPerformanceLog(path string, logger *slog.Logger) *PerformanceLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &PerformanceLog{
		path:   path,
		logger: logger.With("component", "performance"),
		now:    time.Now,
	}
}

// Record appends one metric. Write failures are logged, not returned.
func (p *PerformanceLog) Record(name string, d time.Duration, meta map[string]any) {
	if p == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	m := Metric{
		Timestamp:       p.now().Format(time.RFC3339Nano),
		MetricName:      name,
		DurationSeconds: math.Round(d.Seconds()*1e6) / 1e6,
		Metadata:        meta,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var metrics []Metric
	if err := readJSONFile(p.path, &metrics); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("performance log unreadable, starting over", "path", p.path, "error", err)
		metrics = nil
	}
	metrics = append(metrics, m)
	if err := writeJSONFile(p.path, metrics); err != nil {
		p.logger.Warn("performance log write failed", "error", fmt.Errorf("metric %s: %w", name, err))
	}
}

// Track starts timing name and returns the func that records it.
func (p *PerformanceLog) Track(name string, meta map[string]any) func() {
	start := time.Now()
	return func() { p.Record(name, time.Since(start), meta) }
}

// Metrics returns every recorded metric.
func (p *PerformanceLog) Metrics() ([]Metric, error) {
	if p == nil {
		return nil, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var metrics []Metric
	err := readJSONFile(p.path, &metrics)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return metrics, err
}
