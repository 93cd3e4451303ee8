package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumValue returns the value of the data point in a counter that carries all
// of the given attributes.
func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		match := true
		for _, a := range attrs {
			v, ok := dp.Attributes.Value(a.Key)
			if !ok || v.Emit() != a.Value.Emit() {
				match = false
				break
			}
		}
		if match {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point with %v", name, attrs)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordChat(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordChat(ctx, "exact")
	m.RecordChat(ctx, "exact")
	m.RecordChat(ctx, "ai")

	rm := collect(t, reader)
	if got := sumValue(t, rm, "parrot.chat.requests", Attr("source", "exact")); got != 2 {
		t.Errorf("exact = %d, want 2", got)
	}
	if got := sumValue(t, rm, "parrot.chat.requests", Attr("source", "ai")); got != 1 {
		t.Errorf("ai = %d, want 1", got)
	}
}

func TestRecordStage(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	stages := []string{StageLexical, StageEmbed, StageVector, StageGenerate, StageWrite}
	for _, s := range stages {
		m.RecordStage(ctx, s, "ok", 120*time.Millisecond)
	}

	rm := collect(t, reader)
	met := findMetric(rm, "parrot.stage.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) != len(stages) {
		t.Fatalf("data points = %d, want %d", len(hist.DataPoints), len(stages))
	}
	for _, dp := range hist.DataPoints {
		if dp.Count != 1 {
			t.Errorf("count = %d, want 1", dp.Count)
		}
		if dp.Sum < 0.119 || dp.Sum > 0.121 {
			t.Errorf("sum = %f, want 0.12", dp.Sum)
		}
	}
}

func TestCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordChatFailure(ctx, "generation")
	m.RecordStoreError(ctx, "postgres", "lexical")
	m.RecordStoreError(ctx, "postgres", "lexical")
	m.RecordProviderError(ctx, "openai", "embeddings")
	m.RecordBreakerTransition(ctx, "llm", "open")
	m.RecordRateLimited(ctx, "memory")
	m.RecordWriteBack(ctx, "mongo", "ok")
	m.RecordScraped(ctx, "joker", 7)

	rm := collect(t, reader)
	tests := []struct {
		name  string
		attrs []attribute.KeyValue
		want  int64
	}{
		{"parrot.chat.failures", []attribute.KeyValue{Attr("kind", "generation")}, 1},
		{"parrot.store.errors", []attribute.KeyValue{Attr("store", "postgres"), Attr("op", "lexical")}, 2},
		{"parrot.provider.errors", []attribute.KeyValue{Attr("provider", "openai"), Attr("kind", "embeddings")}, 1},
		{"parrot.circuit_breaker.transitions", []attribute.KeyValue{Attr("breaker", "llm"), Attr("to", "open")}, 1},
		{"parrot.ratelimit.rejected", []attribute.KeyValue{Attr("backend", "memory")}, 1},
		{"parrot.writeback.results", []attribute.KeyValue{Attr("store", "mongo"), Attr("status", "ok")}, 1},
		{"parrot.scrape.lines", []attribute.KeyValue{Attr("character", "joker")}, 7},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := sumValue(t, rm, tc.name, tc.attrs...); got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestPendingWriteBacks(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.PendingWriteBacks.Add(ctx, 3)
	m.PendingWriteBacks.Add(ctx, -2)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "parrot.writeback.pending"); got != 1 {
		t.Errorf("pending = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
