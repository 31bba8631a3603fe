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
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MetricsSnapshot is a point-in-time, Prometheus-shaped summary of
// counters/histograms accumulated by InMemoryMetrics (spec §9 supplemented
// feature: an exporter-free metrics surface for tests and CLI status
// output, modeled on the teacher's PrometheusMetrics but without an
// OTel/Prometheus dependency in the read path).
type MetricsSnapshot struct {
	StepCount        map[string]int64
	StepErrorCount   map[string]int64
	StepTotalSeconds map[string]float64

	ToolCallCount   map[string]int64
	ToolErrorCount  map[string]int64
	ToolTotalSeconds map[string]float64

	LLMCallCount    map[string]int64
	LLMErrorCount   map[string]int64
	LLMTotalSeconds map[string]float64
	LLMTotalTokens  map[string]int64
}

// InMemoryMetrics implements Hooks by accumulating counters in memory,
// readable via Snapshot without touching an exporter. Useful for unit
// tests asserting on call counts and for a lightweight /status endpoint.
type InMemoryMetrics struct {
	mu sync.Mutex

	stepCount        map[string]int64
	stepErrorCount   map[string]int64
	stepTotalSeconds map[string]float64

	toolCallCount    map[string]int64
	toolErrorCount   map[string]int64
	toolTotalSeconds map[string]float64

	llmCallCount    map[string]int64
	llmErrorCount   map[string]int64
	llmTotalSeconds map[string]float64
	llmTotalTokens  map[string]int64
}

// NewInMemoryMetrics builds an empty InMemoryMetrics.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		stepCount:        make(map[string]int64),
		stepErrorCount:   make(map[string]int64),
		stepTotalSeconds: make(map[string]float64),
		toolCallCount:    make(map[string]int64),
		toolErrorCount:   make(map[string]int64),
		toolTotalSeconds: make(map[string]float64),
		llmCallCount:     make(map[string]int64),
		llmErrorCount:    make(map[string]int64),
		llmTotalSeconds:  make(map[string]float64),
		llmTotalTokens:   make(map[string]int64),
	}
}

func (m *InMemoryMetrics) StartSpan(ctx context.Context, _ string, _ ...attribute.KeyValue) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

func (m *InMemoryMetrics) RecordStepDuration(_ context.Context, stepKind string, d time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stepCount[stepKind]++
	m.stepTotalSeconds[stepKind] += d.Seconds()
	if err != nil {
		m.stepErrorCount[stepKind]++
	}
}

func (m *InMemoryMetrics) RecordToolCall(_ context.Context, tool string, d time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolCallCount[tool]++
	m.toolTotalSeconds[tool] += d.Seconds()
	if err != nil {
		m.toolErrorCount[tool]++
	}
}

func (m *InMemoryMetrics) RecordLLMCall(_ context.Context, provider string, d time.Duration, inputTokens, outputTokens int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.llmCallCount[provider]++
	m.llmTotalSeconds[provider] += d.Seconds()
	m.llmTotalTokens[provider] += int64(inputTokens + outputTokens)
	if err != nil {
		m.llmErrorCount[provider]++
	}
}

// Snapshot returns a deep copy of the accumulated counters, safe to
// retain after the call.
func (m *InMemoryMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		StepCount:        copyInt64Map(m.stepCount),
		StepErrorCount:   copyInt64Map(m.stepErrorCount),
		StepTotalSeconds: copyFloat64Map(m.stepTotalSeconds),
		ToolCallCount:    copyInt64Map(m.toolCallCount),
		ToolErrorCount:   copyInt64Map(m.toolErrorCount),
		ToolTotalSeconds: copyFloat64Map(m.toolTotalSeconds),
		LLMCallCount:     copyInt64Map(m.llmCallCount),
		LLMErrorCount:    copyInt64Map(m.llmErrorCount),
		LLMTotalSeconds:  copyFloat64Map(m.llmTotalSeconds),
		LLMTotalTokens:   copyInt64Map(m.llmTotalTokens),
	}
}

func copyInt64Map(src map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func copyFloat64Map(src map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

var _ Hooks = (*InMemoryMetrics)(nil)
