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

// Package observability provides pluggable telemetry hooks for the
// orchestration core, adapted from the teacher's pkg/observability. This
// package never constructs exporters itself — callers supply an already
// configured OpenTelemetry TracerProvider/MeterProvider (or nothing, to
// get NoopHooks).
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Hooks is the telemetry contract the scheduler, tool loop, and agent
// driver invoke at step/tool/LLM-call boundaries. Implementations must be
// safe for concurrent use.
type Hooks interface {
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)
	RecordStepDuration(ctx context.Context, stepKind string, d time.Duration, err error)
	RecordToolCall(ctx context.Context, tool string, d time.Duration, err error)
	RecordLLMCall(ctx context.Context, provider string, d time.Duration, inputTokens, outputTokens int, err error)
}

// NoopHooks discards everything. It is the zero-configuration default.
type NoopHooks struct{}

func (NoopHooks) StartSpan(ctx context.Context, _ string, _ ...attribute.KeyValue) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}
func (NoopHooks) RecordStepDuration(context.Context, string, time.Duration, error)         {}
func (NoopHooks) RecordToolCall(context.Context, string, time.Duration, error)             {}
func (NoopHooks) RecordLLMCall(context.Context, string, time.Duration, int, int, error)     {}

var _ Hooks = NoopHooks{}

// OTelHooks adapts a caller-supplied TracerProvider/MeterProvider into
// Hooks. Construction of the providers (exporters, resources, samplers)
// is the caller's responsibility — this type only instruments.
type OTelHooks struct {
	tracer trace.Tracer

	stepDuration metric.Float64Histogram
	toolDuration metric.Float64Histogram
	toolErrors   metric.Int64Counter
	llmDuration  metric.Float64Histogram
	llmTokens    metric.Int64Counter
	llmErrors    metric.Int64Counter
}

// NewOTelHooks builds Hooks backed by tp/mp. instrumentationName is used
// as both the tracer and meter instrumentation scope name.
func NewOTelHooks(tp trace.TracerProvider, mp metric.MeterProvider, instrumentationName string) (*OTelHooks, error) {
	meter := mp.Meter(instrumentationName)

	stepDuration, err := meter.Float64Histogram("agentcore.step.duration", metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	toolDuration, err := meter.Float64Histogram("agentcore.tool.duration", metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	toolErrors, err := meter.Int64Counter("agentcore.tool.errors")
	if err != nil {
		return nil, err
	}
	llmDuration, err := meter.Float64Histogram("agentcore.llm.duration", metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	llmTokens, err := meter.Int64Counter("agentcore.llm.tokens")
	if err != nil {
		return nil, err
	}
	llmErrors, err := meter.Int64Counter("agentcore.llm.errors")
	if err != nil {
		return nil, err
	}

	return &OTelHooks{
		tracer:       tp.Tracer(instrumentationName),
		stepDuration: stepDuration,
		toolDuration: toolDuration,
		toolErrors:   toolErrors,
		llmDuration:  llmDuration,
		llmTokens:    llmTokens,
		llmErrors:    llmErrors,
	}, nil
}

func (h *OTelHooks) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return h.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (h *OTelHooks) RecordStepDuration(ctx context.Context, stepKind string, d time.Duration, err error) {
	attrs := []attribute.KeyValue{attribute.String("step_kind", stepKind), attribute.Bool("error", err != nil)}
	h.stepDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

func (h *OTelHooks) RecordToolCall(ctx context.Context, tool string, d time.Duration, err error) {
	attrs := []attribute.KeyValue{attribute.String("tool", tool)}
	h.toolDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
	if err != nil {
		h.toolErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (h *OTelHooks) RecordLLMCall(ctx context.Context, provider string, d time.Duration, inputTokens, outputTokens int, err error) {
	attrs := []attribute.KeyValue{attribute.String("provider", provider)}
	h.llmDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
	h.llmTokens.Add(ctx, int64(inputTokens+outputTokens), metric.WithAttributes(attrs...))
	if err != nil {
		h.llmErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

var _ Hooks = (*OTelHooks)(nil)
