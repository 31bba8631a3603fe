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

// Package agent implements the top-level Agent Driver (spec §2 component
// K) and Token-Streaming Bridge (component L): a fluent builder that
// accumulates an immutable program, and two drivers — Run (full history)
// and Stream (per-step channel) — over the step scheduler.
package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kadirpekel/agentcore/pkg/agenterrors"
	"github.com/kadirpekel/agentcore/pkg/llm"
	"github.com/kadirpekel/agentcore/pkg/mcp"
	"github.com/kadirpekel/agentcore/pkg/mcp/discovery"
	"github.com/kadirpekel/agentcore/pkg/mcp/pool"
	"github.com/kadirpekel/agentcore/pkg/mcp/validate"
	"github.com/kadirpekel/agentcore/pkg/mcpauth"
	"github.com/kadirpekel/agentcore/pkg/observability"
	"github.com/kadirpekel/agentcore/pkg/scheduler"
	"github.com/kadirpekel/agentcore/pkg/step"
)

// Options configures an Agent (spec §6.3 `agent(opts?)`). Pool, Discovery,
// Validator, and Auth are process-wide shared infrastructure (spec §5
// "Shared state") — callers typically build one of each and reuse them
// across every Agent in the process.
type Options struct {
	Name string

	LLM                          *llm.Handle
	Instructions                 string
	Timeout                      time.Duration
	Retry                        *step.RetryConfig
	ContextMaxChars              int
	ContextMaxToolResults        int
	MaxToolIterations            int
	DisableParallelToolExecution bool

	// MCPAuth resolves agent-level fallback auth for a URL with no
	// handle-level AuthRef (spec §4.5 precedence).
	MCPAuth func(url string) *mcp.AuthRef

	Hooks observability.Hooks

	Pool      *pool.Pool
	Discovery *discovery.Cache
	Validator *validate.Validator
	Auth      *mcpauth.Manager

	// HideProgress suppresses the onStep/onToken callbacks' natural
	// counterpart in a CLI progress renderer; the core itself has no UI,
	// so this only exists for callers that inspect it when choosing
	// whether to install their own progress callbacks.
	HideProgress bool
}

// Agent is a builder that accumulates an immutable program and, once
// run, drives it to completion (spec §3 Lifecycle, §4.1 Agent Driver).
type Agent struct {
	opts Options
	rt   *scheduler.Runtime

	mu      sync.Mutex
	program []step.Entry

	running atomic.Bool
}

// New builds an Agent from opts. A nil Hooks falls back to
// observability.NoopHooks.
func New(opts Options) *Agent {
	hooks := opts.Hooks
	if hooks == nil {
		hooks = observability.NoopHooks{}
	}
	rt := &scheduler.Runtime{
		Pool:                         opts.Pool,
		Discovery:                    opts.Discovery,
		Validator:                    opts.Validator,
		Auth:                         opts.Auth,
		Hooks:                        hooks,
		DefaultLLM:                   opts.LLM,
		DefaultInstructions:          opts.Instructions,
		DefaultTimeout:               opts.Timeout,
		DefaultRetry:                 opts.Retry,
		DefaultContextMaxChars:       opts.ContextMaxChars,
		DefaultContextMaxToolResults: opts.ContextMaxToolResults,
		DefaultMaxToolIterations:     opts.MaxToolIterations,
		DisableParallelToolExecution: opts.DisableParallelToolExecution,
		MCPAuth:                      opts.MCPAuth,
	}
	return &Agent{opts: opts, rt: rt}
}

// Name returns the agent's configured name (used in telemetry/errors),
// or "" if unset.
func (a *Agent) Name() string { return a.opts.Name }

// append adds an entry to the program and returns the agent for chaining
// (spec §3 Lifecycle: "the builder accumulates steps immutably from the
// caller's point of view").
func (a *Agent) append(e step.Entry) *Agent {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.program = append(a.program, e)
	return a
}

// Then appends a literal step.
func (a *Agent) Then(s step.Step) *Agent { return a.append(step.Entry{Step: s}) }

// ThenFunc appends a history-dependent step, resolved exactly once
// immediately before dispatch (spec §3 Step factory).
func (a *Agent) ThenFunc(f step.Factory) *Agent { return a.append(step.Entry{Factory: f}) }

// ResetHistory appends a step that clears the context history the
// compactor draws from without affecting the returned history vector
// (spec §4.1).
func (a *Agent) ResetHistory() *Agent {
	return a.append(step.Entry{Step: step.Step{Kind: step.KindResetHistory}})
}

// Parallel appends a list-form parallel step (spec §4.2).
func (a *Agent) Parallel(children []step.Entry) *Agent {
	return a.append(step.Entry{Step: step.Step{Kind: step.KindParallel, ParallelList: children}})
}

// ParallelMap appends a map-form parallel step (spec §4.2, scenario S4).
func (a *Agent) ParallelMap(children map[string]step.Entry) *Agent {
	return a.append(step.Entry{Step: step.Step{Kind: step.KindParallel, ParallelMap: children}})
}

// Branch appends a branch step.
func (a *Agent) Branch(cond func([]step.StepResult) bool, whenTrue, whenFalse []step.Entry) *Agent {
	return a.append(step.Entry{Step: step.Step{
		Kind: step.KindBranch, BranchCond: cond, BranchTrue: whenTrue, BranchFalse: whenFalse,
	}})
}

// Switch appends a switch step.
func (a *Agent) Switch(selector func([]step.StepResult) string, cases map[string][]step.Entry, def []step.Entry) *Agent {
	return a.append(step.Entry{Step: step.Step{
		Kind: step.KindSwitch, SwitchSelector: selector, SwitchCases: cases, SwitchDefault: def,
	}})
}

// While appends a while step. maxIterations <= 0 falls back to
// step.DefaultWhileMaxIterations.
func (a *Agent) While(cond func([]step.StepResult) bool, body []step.Entry, maxIterations int, timeout time.Duration) *Agent {
	return a.append(step.Entry{Step: step.Step{
		Kind: step.KindWhile, WhileCond: cond, WhileBody: body,
		WhileMaxIterations: maxIterations, WhileTimeout: timeout,
	}})
}

// ForEach appends a for-each step, one sub-program per item, sequential.
func (a *Agent) ForEach(items []any, body func(item any) []step.Entry) *Agent {
	return a.append(step.Entry{Step: step.Step{Kind: step.KindForEach, ForEachItems: items, ForEachBody: body}})
}

// RetryUntil appends a retry-until step.
func (a *Agent) RetryUntil(body []step.Entry, predicate func(step.StepResult) bool, maxAttempts int, backoff float64) *Agent {
	return a.append(step.Entry{Step: step.Step{
		Kind: step.KindRetryUntil, RetryUntilBody: body, RetryUntilPredicate: predicate,
		RetryUntilMaxAttempts: maxAttempts, RetryUntilBackoff: backoff,
	}})
}

// RunAgent appends a run-sub-agent step, inlining sub's results (spec
// §4.2 RunSubAgent).
func (a *Agent) RunAgent(sub step.Runnable) *Agent {
	return a.append(step.Entry{Step: step.Step{Kind: step.KindRunSubAgent, SubAgent: sub}})
}

// RunOption configures one Run or Stream call (spec §4.1: "Both drivers
// accept optional onStep(result, index) and onToken(chunk, metadata)
// callbacks").
type RunOption func(*runConfig)

type runConfig struct {
	onStep  scheduler.StepCallback
	onToken scheduler.TokenCallback
}

// WithOnStep installs a callback invoked after every step (including
// ones nested inside control-flow constructs) completes.
func WithOnStep(f func(result step.StepResult, index int)) RunOption {
	return func(c *runConfig) { c.onStep = f }
}

// WithOnToken installs a callback invoked for every streamed token chunk
// produced while generating an LLM step (spec §2 component L).
func WithOnToken(f func(chunk string, meta scheduler.TokenMeta)) RunOption {
	return func(c *runConfig) { c.onToken = f }
}

func newRunConfig(opts []RunOption) *runConfig {
	c := &runConfig{}
	for _, o := range opts {
		o(c)
	}
	return c
}

// snapshot copies the accumulated program; run() snapshots the step list
// at start, and steps appended afterward do not affect the running
// execution (spec §3 Lifecycle, §4.1 Isolation).
func (a *Agent) snapshot() []step.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]step.Entry, len(a.program))
	copy(out, a.program)
	return out
}

// runtimeFor builds a Runtime with this call's onStep/onToken callbacks
// layered on top of the agent's shared infrastructure, without mutating
// the agent's own long-lived Runtime (so concurrent runs of independent
// agents, or future runs of this one, never see a prior call's callbacks).
func (a *Agent) runtimeFor(cfg *runConfig) *scheduler.Runtime {
	rt := *a.rt
	rt.OnStep = cfg.onStep
	rt.OnToken = cfg.onToken
	return &rt
}

// Run executes the snapshotted program to completion and returns the
// full, flattened history (spec §4.1 "run() returning the full history").
func (a *Agent) Run(ctx context.Context, opts ...RunOption) ([]step.StepResult, error) {
	if !a.running.CompareAndSwap(false, true) {
		return nil, &agenterrors.AgentConcurrencyError{Meta: agenterrors.Meta{Provider: a.opts.Name}}
	}
	defer a.running.Store(false)

	cfg := newRunConfig(opts)
	rt := a.runtimeFor(cfg)
	program := a.snapshot()

	spanCtx, span := rt.Hooks.StartSpan(ctx, "agent.run")
	defer span.End()

	results, err := scheduler.RunBody(spanCtx, rt, program, nil)
	rt.Hooks.RecordStepDuration(spanCtx, "agent.run", 0, err)
	if err != nil {
		return results, err
	}

	stampTotals(results)
	return results, nil
}

// RunHistory implements step.Runnable, letting this Agent be used as the
// target of another agent's RunAgent step.
func (a *Agent) RunHistory(ctx context.Context) ([]step.StepResult, error) {
	return a.Run(ctx)
}

// StreamEvent is one element of the channel returned by Stream: either a
// completed step's result, or — as the final element before the channel
// closes, if and only if the run failed — the error that aborted it. A
// zero Err means the event carries a successful step's Result.
type StreamEvent struct {
	Result step.StepResult
	Err    error
}

// Stream executes the snapshotted program, emitting each completed step
// (including ones nested inside control-flow constructs) on the returned
// channel as soon as it's available. The channel is closed when the
// program finishes or fails; on failure, the last event sent before the
// channel closes carries the error in StreamEvent.Err instead of a step
// result, so a caller ranging over the channel can detect a mid-run
// failure without also calling Run.
func (a *Agent) Stream(ctx context.Context, opts ...RunOption) (<-chan StreamEvent, error) {
	if !a.running.CompareAndSwap(false, true) {
		return nil, &agenterrors.AgentConcurrencyError{Meta: agenterrors.Meta{Provider: a.opts.Name}}
	}

	cfg := newRunConfig(opts)
	ch := make(chan StreamEvent)

	userOnStep := cfg.onStep
	cfg.onStep = func(r step.StepResult, i int) {
		if userOnStep != nil {
			userOnStep(r, i)
		}
		select {
		case ch <- StreamEvent{Result: r}:
		case <-ctx.Done():
		}
	}

	rt := a.runtimeFor(cfg)
	program := a.snapshot()

	go func() {
		defer close(ch)
		defer a.running.Store(false)

		spanCtx, span := rt.Hooks.StartSpan(ctx, "agent.run")
		defer span.End()

		// stream() omits aggregates (spec §4.1) — no stampTotals call.
		_, err := scheduler.RunBody(spanCtx, rt, program, nil)
		if err != nil {
			select {
			case ch <- StreamEvent{Err: err}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// stampTotals computes totalDurationMs/totalLlmMs/totalMcpMs across every
// flattened result (recursing into Parallel's nested results) and stamps
// them only on the final element (spec §3 StepResult invariant: "appear
// only on the last element of a completed run()").
func stampTotals(results []step.StepResult) {
	if len(results) == 0 {
		return
	}
	var dur, llmMs, mcpMs int64
	for i := range results {
		d, l, m := sumResult(results[i])
		dur += d
		llmMs += l
		mcpMs += m
	}
	last := &results[len(results)-1]
	last.TotalDurationMs = &dur
	last.TotalLLMMs = &llmMs
	last.TotalMCPMs = &mcpMs
}

func sumResult(r step.StepResult) (dur, llmMs, mcpMs int64) {
	dur = r.DurationMs
	llmMs = r.LLMMs
	for _, tc := range r.ToolCalls {
		mcpMs += tc.Ms
	}
	for _, child := range r.ParallelResults {
		cd, cl, cm := sumResult(child)
		dur += cd
		llmMs += cl
		mcpMs += cm
	}
	for _, child := range r.Parallel {
		cd, cl, cm := sumResult(child)
		dur += cd
		llmMs += cl
		mcpMs += cm
	}
	return dur, llmMs, mcpMs
}

var _ step.Runnable = (*Agent)(nil)
