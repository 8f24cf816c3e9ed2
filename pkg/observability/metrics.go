package observability

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// Metrics records the core's operational signals. All implementations must
// be safe for concurrent use and must never block the caller.
type Metrics interface {
	RecordPipelineStep(ctx context.Context, step string, duration time.Duration, outcome string)
	RecordDocumentProcessed(ctx context.Context, err error)
	RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordToolCall(ctx context.Context, tool string, duration time.Duration, err error)
	SetReviewsPending(ctx context.Context, kind string, count int64)
}

var (
	globalMetrics Metrics = noopMetrics{}
	metricsMu     sync.RWMutex
)

func SetGlobalMetrics(m Metrics) {
	if m == nil {
		m = noopMetrics{}
	}
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics never returns nil; callers do not nil-check.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}

type noopMetrics struct{}

func (noopMetrics) RecordPipelineStep(context.Context, string, time.Duration, string) {}
func (noopMetrics) RecordDocumentProcessed(context.Context, error)                    {}
func (noopMetrics) RecordLLMCall(context.Context, string, time.Duration, int, int, error) {
}
func (noopMetrics) RecordToolCall(context.Context, string, time.Duration, error) {}
func (noopMetrics) SetReviewsPending(context.Context, string, int64)             {}

// PrometheusMetrics implements Metrics on OTel instruments exported through
// the prometheus bridge.
type PrometheusMetrics struct {
	stepDuration    metric.Float64Histogram
	stepsTotal      metric.Int64Counter
	docsProcessed   metric.Int64Counter
	docErrors       metric.Int64Counter
	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrors       metric.Int64Counter
	toolDuration    metric.Float64Histogram
	toolCalls       metric.Int64Counter
	toolErrors      metric.Int64Counter
	reviewsPending  metric.Int64Gauge
}

func InitMetrics(ctx context.Context, cfg MetricsConfig) (Metrics, error) {
	if !cfg.Enabled {
		return noopMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter("scriba")

	m := &PrometheusMetrics{}

	if m.stepDuration, err = meter.Float64Histogram(
		"scriba_pipeline_step_duration_seconds",
		metric.WithDescription("Pipeline step duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create step duration histogram: %w", err)
	}

	if m.stepsTotal, err = meter.Int64Counter(
		"scriba_pipeline_steps_total",
		metric.WithDescription("Total pipeline steps run, by step and outcome"),
	); err != nil {
		return nil, fmt.Errorf("failed to create steps counter: %w", err)
	}

	if m.docsProcessed, err = meter.Int64Counter(
		"scriba_documents_processed_total",
		metric.WithDescription("Total documents run through the pipeline"),
	); err != nil {
		return nil, fmt.Errorf("failed to create documents counter: %w", err)
	}

	if m.docErrors, err = meter.Int64Counter(
		"scriba_document_errors_total",
		metric.WithDescription("Total document runs that ended in an error"),
	); err != nil {
		return nil, fmt.Errorf("failed to create document errors counter: %w", err)
	}

	if m.llmDuration, err = meter.Float64Histogram(
		"scriba_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}

	if m.llmInputTokens, err = meter.Int64Counter(
		"scriba_llm_tokens_input_total",
		metric.WithDescription("Total input tokens sent to LLMs"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm input tokens counter: %w", err)
	}

	if m.llmOutputTokens, err = meter.Int64Counter(
		"scriba_llm_tokens_output_total",
		metric.WithDescription("Total output tokens from LLMs"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm output tokens counter: %w", err)
	}

	if m.llmErrors, err = meter.Int64Counter(
		"scriba_llm_errors_total",
		metric.WithDescription("Total LLM errors"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm errors counter: %w", err)
	}

	if m.toolDuration, err = meter.Float64Histogram(
		"scriba_tool_execution_duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}

	if m.toolCalls, err = meter.Int64Counter(
		"scriba_tool_calls_total",
		metric.WithDescription("Total tool calls"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}

	if m.toolErrors, err = meter.Int64Counter(
		"scriba_tool_errors_total",
		metric.WithDescription("Total tool errors"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool errors counter: %w", err)
	}

	if m.reviewsPending, err = meter.Int64Gauge(
		"scriba_reviews_pending",
		metric.WithDescription("Pending reviews by kind"),
	); err != nil {
		return nil, fmt.Errorf("failed to create reviews gauge: %w", err)
	}

	return m, nil
}

func (m *PrometheusMetrics) RecordPipelineStep(ctx context.Context, step string, duration time.Duration, outcome string) {
	attrs := metric.WithAttributes(
		attribute.String("step", step),
		attribute.String("outcome", outcome),
	)
	m.stepDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("step", step)))
	m.stepsTotal.Add(ctx, 1, attrs)
}

func (m *PrometheusMetrics) RecordDocumentProcessed(ctx context.Context, err error) {
	m.docsProcessed.Add(ctx, 1)
	if err != nil {
		m.docErrors.Add(ctx, 1)
	}
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	attrs := metric.WithAttributes(attribute.String("model", model))

	m.llmDuration.Record(ctx, duration.Seconds(), attrs)
	if inputTokens > 0 {
		m.llmInputTokens.Add(ctx, int64(inputTokens), attrs)
	}
	if outputTokens > 0 {
		m.llmOutputTokens.Add(ctx, int64(outputTokens), attrs)
	}
	if err != nil {
		m.llmErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordToolCall(ctx context.Context, tool string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("tool", tool))

	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	m.toolCalls.Add(ctx, 1, attrs)
	if err != nil {
		m.toolErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) SetReviewsPending(ctx context.Context, kind string, count int64) {
	m.reviewsPending.Record(ctx, count, metric.WithAttributes(attribute.String("kind", kind)))
}

// MetricsHandler serves the prometheus scrape endpoint. The OTel prometheus
// exporter registers against the default registry, so the stock handler works.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
