// Package observe provides observability primitives for Parrot:
// OpenTelemetry metrics, tracing, trace-aware logging, and HTTP middleware
// that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed via
// the Prometheus exporter set up by [InitProvider]. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with their own [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Parrot metrics.
const meterName = "github.com/MrWong99/parrot"

// Pipeline stage names used as the "stage" attribute of StageDuration.
const (
	StageLexical  = "lexical"
	StageEmbed    = "embed"
	StageVector   = "vector"
	StageGenerate = "generate"
	StageWrite    = "write"
)

// Metrics holds all OpenTelemetry instruments for the application. All fields
// are safe for concurrent use.
type Metrics struct {
	// ChatRequests counts answered chat requests. Attribute: source.
	ChatRequests metric.Int64Counter

	// ChatFailures counts chat requests that ended in an error. Attribute: kind.
	ChatFailures metric.Int64Counter

	// StageDuration tracks latency per pipeline stage. Attributes: stage, outcome.
	StageDuration metric.Float64Histogram

	// StoreErrors counts store failures. Attributes: store, op.
	StoreErrors metric.Int64Counter

	// ProviderErrors counts embedding and LLM failures. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Attributes: breaker, to.
	BreakerTransitions metric.Int64Counter

	// RateLimited counts rejected requests. Attribute: backend.
	RateLimited metric.Int64Counter

	// WriteBacks counts cache write outcomes per store. Attributes: store, status.
	WriteBacks metric.Int64Counter

	// PendingWriteBacks tracks write-backs issued but not yet finished.
	PendingWriteBacks metric.Int64UpDownCounter

	// ScrapedLines counts corpus lines ingested by the scraper. Attribute: character.
	ScrapedLines metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, route, status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets covers both sub-millisecond cache hits and multi-second
// model calls.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ChatRequests, err = m.Int64Counter("parrot.chat.requests",
		metric.WithDescription("Answered chat requests by reply source."),
	); err != nil {
		return nil, err
	}
	if met.ChatFailures, err = m.Int64Counter("parrot.chat.failures",
		metric.WithDescription("Chat requests that failed, by error kind."),
	); err != nil {
		return nil, err
	}
	if met.StageDuration, err = m.Float64Histogram("parrot.stage.duration",
		metric.WithDescription("Latency of each retrieval pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StoreErrors, err = m.Int64Counter("parrot.store.errors",
		metric.WithDescription("Store failures by store and operation."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("parrot.provider.errors",
		metric.WithDescription("Provider failures by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("parrot.circuit_breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}
	if met.RateLimited, err = m.Int64Counter("parrot.ratelimit.rejected",
		metric.WithDescription("Requests rejected by the rate limiter."),
	); err != nil {
		return nil, err
	}
	if met.WriteBacks, err = m.Int64Counter("parrot.writeback.results",
		metric.WithDescription("Cache write-back outcomes by store and status."),
	); err != nil {
		return nil, err
	}
	if met.PendingWriteBacks, err = m.Int64UpDownCounter("parrot.writeback.pending",
		metric.WithDescription("Write-backs issued but not yet finished."),
	); err != nil {
		return nil, err
	}
	if met.ScrapedLines, err = m.Int64Counter("parrot.scrape.lines",
		metric.WithDescription("Corpus lines ingested by the scraper."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("parrot.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call from [otel.GetMeterProvider]. Panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordChat counts an answered chat request.
func (m *Metrics) RecordChat(ctx context.Context, source string) {
	m.ChatRequests.Add(ctx, 1, metric.WithAttributes(Attr("source", source)))
}

// RecordChatFailure counts a failed chat request.
func (m *Metrics) RecordChatFailure(ctx context.Context, kind string) {
	m.ChatFailures.Add(ctx, 1, metric.WithAttributes(Attr("kind", kind)))
}

// RecordStage records the latency of one pipeline stage. outcome is a short
// word such as "hit", "miss", "ok" or "error".
func (m *Metrics) RecordStage(ctx context.Context, stage, outcome string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(Attr("stage", stage), Attr("outcome", outcome)),
	)
}

// RecordStoreError counts a store failure.
func (m *Metrics) RecordStoreError(ctx context.Context, store, op string) {
	m.StoreErrors.Add(ctx, 1, metric.WithAttributes(Attr("store", store), Attr("op", op)))
}

// RecordProviderError counts a provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(Attr("provider", provider), Attr("kind", kind)),
	)
}

// RecordBreakerTransition counts a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(Attr("breaker", breaker), Attr("to", to)),
	)
}

// RecordRateLimited counts a rejected request.
func (m *Metrics) RecordRateLimited(ctx context.Context, backend string) {
	m.RateLimited.Add(ctx, 1, metric.WithAttributes(Attr("backend", backend)))
}

// RecordWriteBack counts a write-back outcome for one store.
func (m *Metrics) RecordWriteBack(ctx context.Context, store, status string) {
	m.WriteBacks.Add(ctx, 1, metric.WithAttributes(Attr("store", store), Attr("status", status)))
}

// RecordScraped counts ingested corpus lines.
func (m *Metrics) RecordScraped(ctx context.Context, character string, n int) {
	m.ScrapedLines.Add(ctx, int64(n), metric.WithAttributes(Attr("character", character)))
}
