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
	"container/ring"
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RecordedSpan is one entry captured by SpanRecorder (spec §9 supplemented
// feature: a debug span recorder, grounded on the teacher's
// debug_exporter.go in-memory span buffer for its web UI).
type RecordedSpan struct {
	Name      string
	StartedAt time.Time
	Duration  time.Duration
	Err       error
	Attrs     map[string]string
}

// SpanRecorder keeps the last N recorded spans in a fixed-size ring
// buffer, for debug/inspection endpoints. It implements Hooks directly
// (capturing one RecordedSpan per Record*Call boundary) so it can be
// installed as an Agent's Hooks on its own, or composed by calling its
// Record*Call methods from another Hooks implementation's wrapper.
type SpanRecorder struct {
	mu  sync.Mutex
	buf *ring.Ring
}

// NewSpanRecorder builds a recorder retaining the most recent capacity
// spans.
func NewSpanRecorder(capacity int) *SpanRecorder {
	if capacity <= 0 {
		capacity = 256
	}
	return &SpanRecorder{buf: ring.New(capacity)}
}

// Record appends span, evicting the oldest entry once at capacity.
func (r *SpanRecorder) Record(span RecordedSpan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf.Value = span
	r.buf = r.buf.Next()
}

// Recent returns the recorded spans in oldest-to-newest order.
func (r *SpanRecorder) Recent() []RecordedSpan {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]RecordedSpan, 0, r.buf.Len())
	r.buf.Do(func(v any) {
		if v == nil {
			return
		}
		out = append(out, v.(RecordedSpan))
	})
	return out
}

// StartSpan implements Hooks; SpanRecorder only captures completed
// durations at the Record*Call boundaries, so it hands back a no-op span.
func (r *SpanRecorder) StartSpan(ctx context.Context, _ string, _ ...attribute.KeyValue) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

// RecordStepDuration implements Hooks, capturing one RecordedSpan per
// completed step.
func (r *SpanRecorder) RecordStepDuration(_ context.Context, stepKind string, d time.Duration, err error) {
	r.Record(RecordedSpan{
		Name:      "step." + stepKind,
		StartedAt: time.Now().Add(-d),
		Duration:  d,
		Err:       err,
	})
}

// RecordToolCall implements Hooks, capturing one RecordedSpan per MCP
// tool invocation.
func (r *SpanRecorder) RecordToolCall(_ context.Context, tool string, d time.Duration, err error) {
	r.Record(RecordedSpan{
		Name:      "tool." + tool,
		StartedAt: time.Now().Add(-d),
		Duration:  d,
		Err:       err,
		Attrs:     map[string]string{"tool": tool},
	})
}

// RecordLLMCall implements Hooks, capturing one RecordedSpan per LLM
// generation.
func (r *SpanRecorder) RecordLLMCall(_ context.Context, provider string, d time.Duration, inputTokens, outputTokens int, err error) {
	r.Record(RecordedSpan{
		Name:      "llm." + provider,
		StartedAt: time.Now().Add(-d),
		Duration:  d,
		Err:       err,
		Attrs:     map[string]string{"provider": provider},
	})
}

var _ Hooks = (*SpanRecorder)(nil)
