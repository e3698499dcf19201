// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Recorder receives call measurements from agents, tools and the server.
// The zero *Metrics and NoopRecorder discard everything.
type Recorder interface {
	RecordAgentCall(ctx context.Context, agentName string, duration time.Duration, err error)
	RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordToolCall(ctx context.Context, toolName string, duration time.Duration, err error)
	RecordRemoteCall(ctx context.Context, agentName string, duration time.Duration, err error)
	RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration)
}

// Metrics records measurements with the OpenTelemetry SDK and exposes them
// through a dedicated Prometheus registry.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	registry *promclient.Registry

	agentDuration metric.Float64Histogram
	agentCalls    metric.Int64Counter
	agentErrors   metric.Int64Counter

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrors       metric.Int64Counter

	toolDuration metric.Float64Histogram
	toolCalls    metric.Int64Counter
	toolErrors   metric.Int64Counter

	remoteDuration metric.Float64Histogram
	remoteErrors   metric.Int64Counter

	httpDuration metric.Float64Histogram
	httpRequests metric.Int64Counter
}

// InitMetrics creates the meter provider and instruments. A disabled config
// returns nil, which is a valid no-op Recorder.
func InitMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(
		prometheus.WithRegisterer(registry),
		prometheus.WithNamespace(cfg.Namespace),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(instrumentationName)

	m := &Metrics{provider: provider, registry: registry}
	b := instrumentBuilder{meter: meter}
	m.agentDuration = b.histogram("agent_call_duration_seconds", "Agent call duration in seconds")
	m.agentCalls = b.counter("agent_calls_total", "Total agent calls")
	m.agentErrors = b.counter("agent_errors_total", "Total agent errors")
	m.llmDuration = b.histogram("llm_request_duration_seconds", "LLM request duration in seconds")
	m.llmInputTokens = b.counter("llm_tokens_input_total", "Total input tokens sent to the LLM")
	m.llmOutputTokens = b.counter("llm_tokens_output_total", "Total output tokens from the LLM")
	m.llmErrors = b.counter("llm_errors_total", "Total LLM errors")
	m.toolDuration = b.histogram("tool_execution_duration_seconds", "Tool execution duration in seconds")
	m.toolCalls = b.counter("tool_calls_total", "Total tool calls")
	m.toolErrors = b.counter("tool_errors_total", "Total tool errors")
	m.remoteDuration = b.histogram("remote_call_duration_seconds", "Remote agent call duration in seconds")
	m.remoteErrors = b.counter("remote_errors_total", "Total remote agent errors")
	m.httpDuration = b.histogram("http_request_duration_seconds", "HTTP request duration in seconds")
	m.httpRequests = b.counter("http_requests_total", "Total HTTP requests")
	if b.err != nil {
		return nil, b.err
	}
	return m, nil
}

// instrumentBuilder keeps the first creation error.
type instrumentBuilder struct {
	meter metric.Meter
	err   error
}

func (b *instrumentBuilder) histogram(name, desc string) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("failed to create %s: %w", name, err)
	}
	return h
}

func (b *instrumentBuilder) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("failed to create %s: %w", name, err)
	}
	return c
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

func (m *Metrics) RecordAgentCall(ctx context.Context, agentName string, d time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("agent", agentName))
	m.agentDuration.Record(ctx, d.Seconds(), attrs)
	m.agentCalls.Add(ctx, 1, attrs)
	if err != nil {
		m.agentErrors.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordLLMCall(ctx context.Context, model string, d time.Duration, in, out int, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.llmDuration.Record(ctx, d.Seconds(), attrs)
	m.llmInputTokens.Add(ctx, int64(in), attrs)
	m.llmOutputTokens.Add(ctx, int64(out), attrs)
	if err != nil {
		m.llmErrors.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordToolCall(ctx context.Context, toolName string, d time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("tool", toolName))
	m.toolDuration.Record(ctx, d.Seconds(), attrs)
	m.toolCalls.Add(ctx, 1, attrs)
	if err != nil {
		m.toolErrors.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordRemoteCall(ctx context.Context, agentName string, d time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("remote_agent", agentName))
	m.remoteDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		m.remoteErrors.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)
	m.httpDuration.Record(ctx, d.Seconds(), attrs)
	m.httpRequests.Add(ctx, 1, attrs)
}

// NoopRecorder discards all measurements.
type NoopRecorder struct{}

func (NoopRecorder) RecordAgentCall(context.Context, string, time.Duration, error)         {}
func (NoopRecorder) RecordLLMCall(context.Context, string, time.Duration, int, int, error) {}
func (NoopRecorder) RecordToolCall(context.Context, string, time.Duration, error)          {}
func (NoopRecorder) RecordRemoteCall(context.Context, string, time.Duration, error)        {}
func (NoopRecorder) RecordHTTPRequest(context.Context, string, string, int, time.Duration) {}

var (
	_ Recorder = (*Metrics)(nil)
	_ Recorder = NoopRecorder{}
)
