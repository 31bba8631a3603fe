package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanRecorder_RecentReturnsOldestToNewest(t *testing.T) {
	r := NewSpanRecorder(10)
	r.Record(RecordedSpan{Name: "a"})
	r.Record(RecordedSpan{Name: "b"})
	r.Record(RecordedSpan{Name: "c"})

	got := r.Recent()
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].Name, got[1].Name, got[2].Name})
}

func TestSpanRecorder_EvictsOldestAtCapacity(t *testing.T) {
	r := NewSpanRecorder(2)
	r.Record(RecordedSpan{Name: "a"})
	r.Record(RecordedSpan{Name: "b"})
	r.Record(RecordedSpan{Name: "c"})

	got := r.Recent()
	require.Len(t, got, 2)
	assert.Equal(t, []string{"b", "c"}, []string{got[0].Name, got[1].Name})
}

func TestNewSpanRecorder_NonPositiveCapacityDefaults(t *testing.T) {
	r := NewSpanRecorder(0)
	for i := 0; i < 300; i++ {
		r.Record(RecordedSpan{Name: "x"})
	}
	assert.Len(t, r.Recent(), 256)
}

func TestSpanRecorder_ImplementsHooksAndCapturesEachCallKind(t *testing.T) {
	r := NewSpanRecorder(10)
	ctx := context.Background()

	spanCtx, span := r.StartSpan(ctx, "agent.run")
	assert.Equal(t, ctx, spanCtx)
	assert.NotNil(t, span)

	r.RecordStepDuration(ctx, "llm", 5*time.Millisecond, nil)
	r.RecordToolCall(ctx, "search_issues", 2*time.Millisecond, errors.New("tool failed"))
	r.RecordLLMCall(ctx, "openai", 10*time.Millisecond, 100, 50, nil)

	got := r.Recent()
	require.Len(t, got, 3)

	assert.Equal(t, "step.llm", got[0].Name)
	assert.NoError(t, got[0].Err)

	assert.Equal(t, "tool.search_issues", got[1].Name)
	assert.Error(t, got[1].Err)
	assert.Equal(t, "search_issues", got[1].Attrs["tool"])

	assert.Equal(t, "llm.openai", got[2].Name)
	assert.Equal(t, "openai", got[2].Attrs["provider"])
}

var _ Hooks = (*SpanRecorder)(nil)
