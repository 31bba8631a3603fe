package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentcore/pkg/agenterrors"
	"github.com/kadirpekel/agentcore/pkg/llm"
	"github.com/kadirpekel/agentcore/pkg/llm/mock"
	"github.com/kadirpekel/agentcore/pkg/mcp"
	"github.com/kadirpekel/agentcore/pkg/mcp/discovery"
	"github.com/kadirpekel/agentcore/pkg/mcp/pool"
	"github.com/kadirpekel/agentcore/pkg/mcp/validate"
	"github.com/kadirpekel/agentcore/pkg/mcpauth"
	"github.com/kadirpekel/agentcore/pkg/step"
)

// fakeTransport is a minimal mcp.Transport double shared by this package's
// tests, recording every tool call made against it.
type fakeTransport struct {
	mu       sync.Mutex
	tools    []mcp.RawTool
	results  map[string]mcp.CallResult
	callLog  []string
}

func (f *fakeTransport) ListTools(ctx context.Context) ([]mcp.RawTool, error) { return f.tools, nil }

func (f *fakeTransport) CallTool(ctx context.Context, name string, args map[string]any) (mcp.CallResult, error) {
	f.mu.Lock()
	f.callLog = append(f.callLog, name)
	f.mu.Unlock()
	if f.results != nil {
		if r, ok := f.results[name]; ok {
			return r, nil
		}
	}
	return mcp.CallResult{Text: "result-for-" + name}, nil
}

func (f *fakeTransport) Close() error { return nil }

// newRuntime builds a Runtime wired against a fakeTransport through the real
// pool/discovery/validate/mcpauth types, and a default LLM handle around m.
func newRuntime(t *testing.T, ft *fakeTransport, m llm.Model) (*Runtime, *mcp.Handle) {
	t.Helper()
	h := mcp.NewHTTPHandle("https://example.test/mcp", nil)
	p := pool.New(func(ctx context.Context, h *mcp.Handle) (mcp.Transport, error) {
		return ft, nil
	})
	disc := discovery.New(discovery.FromPool(p), time.Hour)
	rt := &Runtime{
		Pool:      p,
		Discovery: disc,
		Validator: validate.New(),
		Auth:      mcpauth.New(nil),
	}
	if m != nil {
		rt.DefaultLLM = llm.NewHandle("test-llm", "mock", m)
	}
	return rt, h
}

func llmStep(prompt string) step.Step {
	return step.Step{Kind: step.KindLLM, Prompt: prompt}
}

func TestRunBody_SequentialExecutionThreadsHistory(t *testing.T) {
	m := mock.NewScripted(mock.Turn{Content: "first"}, mock.Turn{Content: "second"})
	rt, _ := newRuntime(t, nil, m)

	entries := []step.Entry{
		{Step: llmStep("step one")},
		{Step: llmStep("step two")},
	}
	results, err := RunBody(context.Background(), rt, entries, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].LLMOutput)
	assert.Equal(t, "second", results[1].LLMOutput)
	assert.Contains(t, m.Prompts[1], "[Context from previous steps]")
	assert.Contains(t, m.Prompts[1], "first")
}

func TestRunBody_ResetHistoryClearsLocalContextOnly(t *testing.T) {
	m := mock.NewScripted(mock.Turn{Content: "first"}, mock.Turn{Content: "second"})
	rt, _ := newRuntime(t, nil, m)

	entries := []step.Entry{
		{Step: llmStep("step one")},
		{Step: step.Step{Kind: step.KindResetHistory}},
		{Step: llmStep("step two")},
	}
	results, err := RunBody(context.Background(), rt, entries, nil)
	require.NoError(t, err)
	require.Len(t, results, 2, "ResetHistory itself never contributes a StepResult")
	assert.NotContains(t, m.Prompts[1], "[Context from previous steps]",
		"ResetHistory must clear the local context fed into the next step's prompt")
}

func TestRunBody_ErrorAbortsRemainingEntries(t *testing.T) {
	m := mock.NewScripted(mock.Turn{Err: mock.ErrForced("boom")})
	rt, _ := newRuntime(t, nil, m)

	failing := llmStep("step one")
	failing.Retry = &step.RetryConfig{MaxAttempts: 1}
	entries := []step.Entry{
		{Step: failing},
		{Step: llmStep("step two that never runs")},
	}
	results, err := RunBody(context.Background(), rt, entries, nil)
	require.Error(t, err)
	require.Len(t, results, 0, "a failed step contributes no StepResult")
	assert.Len(t, m.Prompts, 1, "a failing step must abort the body before later entries run")
}

func TestRunBody_SeedIsVisibleToFirstStep(t *testing.T) {
	m := mock.NewScripted(mock.Turn{Content: "continued"})
	rt, _ := newRuntime(t, nil, m)

	seed := []step.StepResult{{LLMOutput: "seeded output"}}
	entries := []step.Entry{{Step: llmStep("go on")}}
	_, err := RunBody(context.Background(), rt, entries, seed)
	require.NoError(t, err)
	assert.Contains(t, m.Prompts[0], "seeded output")
}

func TestDispatch_Branch_TakesTrueOrFalseBody(t *testing.T) {
	m := mock.NewScripted(mock.Turn{Content: "true-branch"}, mock.Turn{Content: "false-branch"})
	rt, _ := newRuntime(t, nil, m)

	s := step.Step{
		Kind:        step.KindBranch,
		BranchCond:  func(h []step.StepResult) bool { return true },
		BranchTrue:  []step.Entry{{Step: llmStep("t")}},
		BranchFalse: []step.Entry{{Step: llmStep("f")}},
	}
	results, err := Dispatch(context.Background(), rt, s, nil, nil, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "true-branch", results[0].LLMOutput)
}

func TestDispatch_Switch_FallsBackToDefaultOnUnmatchedKey(t *testing.T) {
	m := mock.NewScripted(mock.Turn{Content: "default-case"})
	rt, _ := newRuntime(t, nil, m)

	s := step.Step{
		Kind:           step.KindSwitch,
		SwitchSelector: func(h []step.StepResult) string { return "unmatched-key" },
		SwitchCases: map[string][]step.Entry{
			"known-key": {{Step: llmStep("known")}},
		},
		SwitchDefault: []step.Entry{{Step: llmStep("default")}},
	}
	results, err := Dispatch(context.Background(), rt, s, nil, nil, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "default-case", results[0].LLMOutput)
}

func TestDispatch_While_StopsWhenConditionFalse(t *testing.T) {
	m := mock.NewScripted(
		mock.Turn{Content: "iter1"},
		mock.Turn{Content: "iter2"},
		mock.Turn{Content: "iter3"},
	)
	rt, _ := newRuntime(t, nil, m)

	count := 0
	s := step.Step{
		Kind: step.KindWhile,
		WhileCond: func(h []step.StepResult) bool {
			count++
			return count <= 2
		},
		WhileBody: []step.Entry{{Step: llmStep("body")}},
	}
	results, err := Dispatch(context.Background(), rt, s, nil, nil, 0)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestDispatch_While_BoundedByDefaultMaxIterations(t *testing.T) {
	m := mock.New("keep going")
	rt, _ := newRuntime(t, nil, m)

	s := step.Step{
		Kind:      step.KindWhile,
		WhileCond: func(h []step.StepResult) bool { return true },
		WhileBody: []step.Entry{{Step: llmStep("body")}},
	}
	results, err := Dispatch(context.Background(), rt, s, nil, nil, 0)
	require.NoError(t, err)
	assert.Len(t, results, step.DefaultWhileMaxIterations)
}

func TestDispatch_ForEach_RunsBodyPerItem(t *testing.T) {
	m := mock.NewScripted(mock.Turn{Content: "a-done"}, mock.Turn{Content: "b-done"})
	rt, _ := newRuntime(t, nil, m)

	s := step.Step{
		Kind:         step.KindForEach,
		ForEachItems: []any{"a", "b"},
		ForEachBody: func(item any) []step.Entry {
			return []step.Entry{{Step: llmStep("process " + item.(string))}}
		},
	}
	results, err := Dispatch(context.Background(), rt, s, nil, nil, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a-done", results[0].LLMOutput)
	assert.Equal(t, "b-done", results[1].LLMOutput)
	assert.Contains(t, m.Prompts[0], "process a")
	assert.Contains(t, m.Prompts[1], "process b")
}

func TestDispatch_RetryUntil_StopsOncePredicateSatisfied(t *testing.T) {
	m := mock.NewScripted(mock.Turn{Content: "not yet"}, mock.Turn{Content: "done"})
	rt, _ := newRuntime(t, nil, m)

	s := step.Step{
		Kind:                step.KindRetryUntil,
		RetryUntilBody:      []step.Entry{{Step: llmStep("try")}},
		RetryUntilPredicate: func(r step.StepResult) bool { return r.LLMOutput == "done" },
	}
	results, err := Dispatch(context.Background(), rt, s, nil, nil, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "done", results[0].LLMOutput)
	assert.Len(t, m.Prompts, 2)
}

func TestDispatch_RetryUntil_ExhaustsAndReturnsRetryExhaustedError(t *testing.T) {
	m := mock.New("never satisfies")
	rt, _ := newRuntime(t, nil, m)

	s := step.Step{
		Kind:                  step.KindRetryUntil,
		RetryUntilBody:        []step.Entry{{Step: llmStep("try")}},
		RetryUntilPredicate:   func(r step.StepResult) bool { return false },
		RetryUntilMaxAttempts: 2,
	}
	_, err := Dispatch(context.Background(), rt, s, nil, nil, 0)
	require.Error(t, err)
	assert.Len(t, m.Prompts, 2)
	var exhausted *agenterrors.RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
}

func TestDispatch_Parallel_List_RunsAllChildrenConcurrently(t *testing.T) {
	m := mock.NewScripted(mock.Turn{Content: "child-a"}, mock.Turn{Content: "child-b"})
	rt, _ := newRuntime(t, nil, m)

	s := step.Step{
		Kind: step.KindParallel,
		ParallelList: []step.Entry{
			{Step: llmStep("a")},
			{Step: llmStep("b")},
		},
	}
	results, err := Dispatch(context.Background(), rt, s, nil, nil, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].ParallelResults, 2)
}

func TestDispatch_Parallel_Map_KeysResultsByName(t *testing.T) {
	m := mock.NewScripted(mock.Turn{Content: "one"}, mock.Turn{Content: "two"})
	rt, _ := newRuntime(t, nil, m)

	s := step.Step{
		Kind: step.KindParallel,
		ParallelMap: map[string]step.Entry{
			"first":  {Step: llmStep("a")},
			"second": {Step: llmStep("b")},
		},
	}
	results, err := Dispatch(context.Background(), rt, s, nil, nil, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Parallel, 2)
	assert.Contains(t, []string{"one", "two"}, results[0].Parallel["first"].LLMOutput)
	assert.Contains(t, []string{"one", "two"}, results[0].Parallel["second"].LLMOutput)
}

func TestDispatch_Parallel_FirstErrorAbortsBatch(t *testing.T) {
	m := mock.NewScripted(mock.Turn{Err: mock.ErrForced("boom")})
	rt, _ := newRuntime(t, nil, m)

	s := step.Step{
		Kind: step.KindParallel,
		ParallelList: []step.Entry{
			{Step: llmStep("a")},
		},
	}
	_, err := Dispatch(context.Background(), rt, s, nil, nil, 0)
	assert.Error(t, err)
}

func TestDispatch_RunSubAgent_DelegatesToRunnable(t *testing.T) {
	rt, _ := newRuntime(t, nil, nil)
	called := false
	sub := runnableFunc(func(ctx context.Context) ([]step.StepResult, error) {
		called = true
		return []step.StepResult{{LLMOutput: "from-sub-agent"}}, nil
	})
	s := step.Step{Kind: step.KindRunSubAgent, SubAgent: sub}
	results, err := Dispatch(context.Background(), rt, s, nil, nil, 0)
	require.NoError(t, err)
	assert.True(t, called)
	require.Len(t, results, 1)
	assert.Equal(t, "from-sub-agent", results[0].LLMOutput)
}

func TestDispatch_RunSubAgent_NilAgentIsAnError(t *testing.T) {
	rt, _ := newRuntime(t, nil, nil)
	s := step.Step{Kind: step.KindRunSubAgent}
	_, err := Dispatch(context.Background(), rt, s, nil, nil, 0)
	assert.Error(t, err)
}

func TestDispatch_UnknownKindIsAnError(t *testing.T) {
	rt, _ := newRuntime(t, nil, nil)
	s := step.Step{Kind: step.Kind("bogus")}
	_, err := Dispatch(context.Background(), rt, s, nil, nil, 0)
	assert.Error(t, err)
}

type runnableFunc func(ctx context.Context) ([]step.StepResult, error)

func (f runnableFunc) RunHistory(ctx context.Context) ([]step.StepResult, error) { return f(ctx) }

func TestRunBody_InvokesPreAndPostHooksWithoutChangingOutcome(t *testing.T) {
	m := mock.New("hooked")
	rt, _ := newRuntime(t, nil, m)

	var preCalled, postCalled bool
	entries := []step.Entry{{Step: step.Step{
		Kind:   step.KindLLM,
		Prompt: "p",
		Pre:    func(ctx context.Context, h []step.StepResult) error { preCalled = true; return nil },
		Post:   func(ctx context.Context, h []step.StepResult) error { postCalled = true; return nil },
	}}}
	results, err := RunBody(context.Background(), rt, entries, nil)
	require.NoError(t, err)
	assert.True(t, preCalled)
	assert.True(t, postCalled)
	assert.Equal(t, "hooked", results[0].LLMOutput)
}

func TestRunBody_HookPanicIsRecoveredAndDoesNotFailTheStep(t *testing.T) {
	m := mock.New("survived")
	rt, _ := newRuntime(t, nil, m)

	entries := []step.Entry{{Step: step.Step{
		Kind:   step.KindLLM,
		Prompt: "p",
		Pre:    func(ctx context.Context, h []step.StepResult) error { panic("hook exploded") },
	}}}
	results, err := RunBody(context.Background(), rt, entries, nil)
	require.NoError(t, err)
	assert.Equal(t, "survived", results[0].LLMOutput)
}

func TestRunBody_OnStepCallbackFiresWithFlattenedIndex(t *testing.T) {
	m := mock.NewScripted(mock.Turn{Content: "one"}, mock.Turn{Content: "two"})
	rt, _ := newRuntime(t, nil, m)

	var indices []int
	rt.OnStep = func(r step.StepResult, index int) { indices = append(indices, index) }

	entries := []step.Entry{{Step: llmStep("a")}, {Step: llmStep("b")}}
	_, err := RunBody(context.Background(), rt, entries, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, indices)
}
