package copilot

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPerformanceLog_Record(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "performance.json")
	p := NewPerformanceLog(path, nil)

	p.Record("turn_execution", 1234567891*time.Nanosecond, map[string]any{"chat_id": "42"})
	stop := p.Track("read_ledger", nil)
	stop()

	metrics, err := p.Metrics()
	if err != nil {
		t.Fatal(err)
	}
	if len(metrics) != 2 {
		t.Fatalf("expected 2 metrics, got %d", len(metrics))
	}
	if metrics[0].MetricName != "turn_execution" || metrics[0].DurationSeconds != 1.234568 {
		t.Errorf("unexpected metric %+v", metrics[0])
	}
	if metrics[0].Metadata["chat_id"] != "42" || metrics[1].Metadata == nil {
		t.Errorf("metadata not kept: %+v", metrics)
	}
}

func TestPerformanceLog_CorruptAndNil(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "performance.json")
	os.WriteFile(path, []byte("{broken"), 0o600)

	p := NewPerformanceLog(path, nil)
	p.Record("x", time.Millisecond, nil)
	if metrics, _ := p.Metrics(); len(metrics) != 1 {
		t.Errorf("expected a fresh log, got %v", metrics)
	}

	var none *PerformanceLog
	none.Record("x", time.Second, nil)
	none.Track("y", nil)()
}
