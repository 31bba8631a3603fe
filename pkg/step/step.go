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

// Package step defines the tagged Step variant the scheduler interprets
// (spec §3 Data Model), as a single struct carrying a Kind tag plus the
// fields relevant to that kind, rather than one type per kind — this
// keeps the scheduler a single dispatch function over one type, per the
// teacher's "interpreter over the variant, not inheritance" convention
// in pkg/reasoning's strategy dispatch.
package step

import (
	"context"
	"time"

	"github.com/kadirpekel/agentcore/pkg/llm"
	"github.com/kadirpekel/agentcore/pkg/mcp"
)

// Kind tags which fields of a Step are meaningful.
type Kind string

const (
	KindLLM          Kind = "llm"
	KindMcpExplicit  Kind = "mcp_explicit"
	KindMcpAuto      Kind = "mcp_auto"
	KindParallel     Kind = "parallel"
	KindBranch       Kind = "branch"
	KindSwitch       Kind = "switch"
	KindWhile        Kind = "while"
	KindForEach      Kind = "for_each"
	KindRetryUntil   Kind = "retry_until"
	KindRunSubAgent  Kind = "run_sub_agent"
	KindResetHistory Kind = "reset_history"
)

// Hook is a pre/post lifecycle callback. A Hook that panics or returns an
// error is logged by the scheduler but never changes the step's outcome
// (spec §4.2, §7).
type Hook func(ctx context.Context, history []StepResult) error

// RetryConfig mirrors pkg/retry.Policy at the step-definition level; the
// scheduler translates it into a retry.Policy plus the step's Timeout as
// the per-attempt timeout.
type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     float64
}

// DefaultMaxAttempts is used when a step sets Retry but leaves
// MaxAttempts at zero (spec §4.7 "default 3").
const DefaultMaxAttempts = 3

// ToolCallRecord is one invocation made during a step (spec §3 toolCalls[]).
type ToolCallRecord struct {
	Name     string // qualified "<handleID>.<rawName>"
	Endpoint string // provider tag
	Result   string
	Ms       int64
	Err      error
}

// StepResult is the outcome of one dispatched step (spec §3 StepResult).
type StepResult struct {
	Prompt    string
	LLMOutput string
	ToolCalls []ToolCallRecord // always non-nil for McpAuto steps

	Parallel        map[string]StepResult
	ParallelResults []StepResult

	DurationMs int64
	LLMMs      int64

	// Aggregated totals, set only on the final element of a completed run.
	TotalDurationMs *int64
	TotalLLMMs      *int64
	TotalMCPMs      *int64

	Err error
}

// Runnable is implemented by a pre-built agent so RunSubAgent steps can
// invoke it without pkg/step importing pkg/agent (which itself imports
// pkg/step for its program representation).
type Runnable interface {
	RunHistory(ctx context.Context) ([]StepResult, error)
}

// Factory resolves a Step from the history accumulated so far. Evaluated
// exactly once, immediately before dispatch (spec §3 Step factory).
type Factory func(history []StepResult) Step

// Entry is one program element: either a literal Step or a Factory to be
// resolved at dispatch time.
type Entry struct {
	Step    Step
	Factory Factory
}

// Resolve returns the concrete Step for this entry, invoking Factory
// against history if set.
func (e Entry) Resolve(history []StepResult) Step {
	if e.Factory != nil {
		return e.Factory(history)
	}
	return e.Step
}

// Step is the tagged variant interpreted by the scheduler.
type Step struct {
	Kind Kind

	// Common modifiers, valid on LLM/McpExplicit/McpAuto steps.
	Timeout               time.Duration
	Retry                 *RetryConfig
	ContextMaxChars       int
	ContextMaxToolResults int
	Pre                   Hook
	Post                  Hook

	// LLM / McpExplicit / McpAuto shared.
	Prompt       string
	Instructions string
	LLM          *llm.Handle

	// McpExplicit.
	MCP  *mcp.Handle
	Tool string
	Args map[string]any

	// McpAuto.
	MCPs                         []*mcp.Handle
	MaxToolIterations            int
	DisableParallelToolExecution bool

	// Parallel (exactly one of ParallelList/ParallelMap set).
	ParallelList []Entry
	ParallelMap  map[string]Entry

	// Branch.
	BranchCond  func(history []StepResult) bool
	BranchTrue  []Entry
	BranchFalse []Entry

	// Switch.
	SwitchSelector func(history []StepResult) string
	SwitchCases    map[string][]Entry
	SwitchDefault  []Entry

	// While.
	WhileCond        func(history []StepResult) bool
	WhileBody        []Entry
	WhileMaxIterations int
	WhileTimeout     time.Duration

	// ForEach.
	ForEachItems []any
	ForEachBody  func(item any) []Entry

	// RetryUntil.
	RetryUntilBody          []Entry
	RetryUntilPredicate     func(result StepResult) bool
	RetryUntilMaxAttempts   int
	RetryUntilBackoff       float64

	// RunSubAgent.
	SubAgent Runnable
}

// DefaultWhileMaxIterations is the bounded safety default applied when a
// While step's caller leaves MaxIterations unspecified (spec §4.2:
// "implementations treat unspecified as a bounded safety default").
const DefaultWhileMaxIterations = 100
