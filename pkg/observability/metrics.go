package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/deepsense-ai/deepsense/pkg/config"
)

var (
	globalMetrics Metrics
	metricsMu     sync.RWMutex
)

// Metrics records the runtime's key signals. Implementations must tolerate a
// nil receiver so disabled metrics cost nothing at call sites.
type Metrics interface {
	RecordTurn(ctx context.Context, duration time.Duration, transitions int, err error)
	RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error)
	RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordCompaction(ctx context.Context, mode string, duration time.Duration, tokensBefore, tokensAfter int, err error)
}

type PrometheusMetrics struct {
	turnDuration    metric.Float64Histogram
	turnsTotal      metric.Int64Counter
	turnErrorsTotal metric.Int64Counter
	transitionsHist metric.Int64Histogram

	toolDuration    metric.Float64Histogram
	toolCallsTotal  metric.Int64Counter
	toolErrorsTotal metric.Int64Counter

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrorsTotal  metric.Int64Counter

	compactionDuration metric.Float64Histogram
	compactionsTotal   metric.Int64Counter
	compactionErrors   metric.Int64Counter
	tokensSavedTotal   metric.Int64Counter
}

// InitMetrics builds the Prometheus-backed metrics set. When disabled it
// returns an empty recorder whose methods are no-ops.
func InitMetrics(ctx context.Context, cfg config.MetricsConfig) (*PrometheusMetrics, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter("deepsense")

	m := &PrometheusMetrics{}

	if m.turnDuration, err = meter.Float64Histogram(
		"deepsense_turn_duration_seconds",
		metric.WithDescription("Agent turn duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create turn duration histogram: %w", err)
	}

	if m.turnsTotal, err = meter.Int64Counter(
		"deepsense_turns_total",
		metric.WithDescription("Total agent turns"),
	); err != nil {
		return nil, fmt.Errorf("failed to create turns counter: %w", err)
	}

	if m.turnErrorsTotal, err = meter.Int64Counter(
		"deepsense_turn_errors_total",
		metric.WithDescription("Total failed agent turns"),
	); err != nil {
		return nil, fmt.Errorf("failed to create turn errors counter: %w", err)
	}

	if m.transitionsHist, err = meter.Int64Histogram(
		"deepsense_turn_transitions",
		metric.WithDescription("State transitions per agent turn"),
	); err != nil {
		return nil, fmt.Errorf("failed to create transitions histogram: %w", err)
	}

	if m.toolDuration, err = meter.Float64Histogram(
		"deepsense_tool_execution_duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}

	if m.toolCallsTotal, err = meter.Int64Counter(
		"deepsense_tool_calls_total",
		metric.WithDescription("Total tool calls"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}

	if m.toolErrorsTotal, err = meter.Int64Counter(
		"deepsense_tool_errors_total",
		metric.WithDescription("Total tool errors"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool errors counter: %w", err)
	}

	if m.llmDuration, err = meter.Float64Histogram(
		"deepsense_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}

	if m.llmInputTokens, err = meter.Int64Counter(
		"deepsense_llm_tokens_input_total",
		metric.WithDescription("Total input tokens sent to LLM"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm input tokens counter: %w", err)
	}

	if m.llmOutputTokens, err = meter.Int64Counter(
		"deepsense_llm_tokens_output_total",
		metric.WithDescription("Total output tokens from LLM"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm output tokens counter: %w", err)
	}

	if m.llmErrorsTotal, err = meter.Int64Counter(
		"deepsense_llm_errors_total",
		metric.WithDescription("Total LLM errors"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm errors counter: %w", err)
	}

	if m.compactionDuration, err = meter.Float64Histogram(
		"deepsense_compaction_duration_seconds",
		metric.WithDescription("Compaction run duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create compaction duration histogram: %w", err)
	}

	if m.compactionsTotal, err = meter.Int64Counter(
		"deepsense_compactions_total",
		metric.WithDescription("Total compaction runs"),
	); err != nil {
		return nil, fmt.Errorf("failed to create compactions counter: %w", err)
	}

	if m.compactionErrors, err = meter.Int64Counter(
		"deepsense_compaction_errors_total",
		metric.WithDescription("Total failed compaction runs"),
	); err != nil {
		return nil, fmt.Errorf("failed to create compaction errors counter: %w", err)
	}

	if m.tokensSavedTotal, err = meter.Int64Counter(
		"deepsense_compaction_tokens_saved_total",
		metric.WithDescription("Total tokens removed by compaction"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tokens saved counter: %w", err)
	}

	return m, nil
}

func (m *PrometheusMetrics) RecordTurn(ctx context.Context, duration time.Duration, transitions int, err error) {
	if m == nil || m.turnDuration == nil || m.turnsTotal == nil {
		return
	}

	m.turnDuration.Record(ctx, duration.Seconds())
	m.turnsTotal.Add(ctx, 1)

	if transitions > 0 && m.transitionsHist != nil {
		m.transitionsHist.Record(ctx, int64(transitions))
	}

	if err != nil && m.turnErrorsTotal != nil {
		m.turnErrorsTotal.Add(ctx, 1)
	}
}

func (m *PrometheusMetrics) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error) {
	if m == nil || m.toolDuration == nil || m.toolCallsTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("tool", tool),
	}

	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.toolCallsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	if err != nil && m.toolErrorsTotal != nil {
		m.toolErrorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.llmDuration == nil || m.llmInputTokens == nil || m.llmOutputTokens == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("model", model),
	}

	m.llmDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.llmInputTokens.Add(ctx, int64(inputTokens), metric.WithAttributes(attrs...))
	m.llmOutputTokens.Add(ctx, int64(outputTokens), metric.WithAttributes(attrs...))

	if err != nil && m.llmErrorsTotal != nil {
		m.llmErrorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordCompaction(ctx context.Context, mode string, duration time.Duration, tokensBefore, tokensAfter int, err error) {
	if m == nil || m.compactionDuration == nil || m.compactionsTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("mode", mode),
	}

	m.compactionDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.compactionsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	if saved := tokensBefore - tokensAfter; saved > 0 && m.tokensSavedTotal != nil {
		m.tokensSavedTotal.Add(ctx, int64(saved), metric.WithAttributes(attrs...))
	}

	if err != nil && m.compactionErrors != nil {
		m.compactionErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics never returns a nil interface: when no metrics were
// installed, a typed nil *PrometheusMetrics stands in so call sites can
// record unconditionally (its methods are nil-receiver safe).
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	if globalMetrics == nil {
		return (*PrometheusMetrics)(nil)
	}
	return globalMetrics
}
