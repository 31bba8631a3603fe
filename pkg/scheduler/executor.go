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

package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/agentcore/pkg/agenterrors"
	"github.com/kadirpekel/agentcore/pkg/contextfrag"
	"github.com/kadirpekel/agentcore/pkg/llm"
	"github.com/kadirpekel/agentcore/pkg/mcp"
	"github.com/kadirpekel/agentcore/pkg/retry"
	"github.com/kadirpekel/agentcore/pkg/step"
	"github.com/kadirpekel/agentcore/pkg/toolloop"
)

// executeLeaf runs a single non-control-flow step (LLM, McpExplicit, or
// McpAuto) under the step's timeout/retry policy (component I + F), given
// the context fragment derived from the immediately preceding step's
// result (component G, spec §4.6).
func executeLeaf(ctx context.Context, rt *Runtime, s step.Step, prev *step.StepResult, index int) (step.StepResult, error) {
	policy := rt.policyFor(s)
	if err := policy.Validate(); err != nil {
		return step.StepResult{}, err
	}

	var result step.StepResult
	var llmMs int64

	// One request ID per logical step invocation, shared across retry
	// attempts, so a step's errors and tool calls can be correlated in logs.
	requestID := uuid.NewString()

	op := func(attemptCtx context.Context) error {
		start := time.Now()
		var err error
		switch s.Kind {
		case step.KindLLM:
			result, llmMs, err = executeLLM(attemptCtx, rt, s, prev, index, requestID)
		case step.KindMcpExplicit:
			result, llmMs, err = executeMcpExplicit(attemptCtx, rt, s, requestID)
		case step.KindMcpAuto:
			result, llmMs, err = executeMcpAuto(attemptCtx, rt, s, prev, requestID)
		default:
			err = fmt.Errorf("scheduler: %s is not a leaf step kind", s.Kind)
		}
		result.DurationMs = time.Since(start).Milliseconds()
		result.LLMMs = llmMs
		return err
	}

	stepID := string(s.Kind)
	err := retry.Do(ctx, stepID, policy, op)
	if err != nil {
		return step.StepResult{Err: err}, err
	}
	return result, nil
}

func (rt *Runtime) policyFor(s step.Step) retry.Policy {
	cfg := s.Retry
	if cfg == nil {
		cfg = rt.DefaultRetry
	}
	maxAttempts := step.DefaultMaxAttempts
	var delay time.Duration
	var backoff float64
	if cfg != nil {
		if cfg.MaxAttempts > 0 {
			maxAttempts = cfg.MaxAttempts
		}
		delay = cfg.Delay
		backoff = cfg.Backoff
	}
	timeout := s.Timeout
	if timeout == 0 {
		timeout = rt.DefaultTimeout
	}
	return retry.Policy{MaxAttempts: maxAttempts, AttemptTimeout: timeout, Delay: delay, Backoff: backoff}
}

func executeLLM(ctx context.Context, rt *Runtime, s step.Step, prev *step.StepResult, index int, requestID string) (step.StepResult, int64, error) {
	handle := s.LLM
	if handle == nil {
		handle = rt.DefaultLLM
	}
	if handle == nil {
		return step.StepResult{}, 0, fmt.Errorf("scheduler: llm step has no llm handle configured")
	}

	instructions := s.Instructions
	if instructions == "" {
		instructions = rt.DefaultInstructions
	}

	prompt := buildLLMPrompt(rt, s, instructions, prev)

	start := time.Now()
	output, err := genLLM(ctx, rt, handle, prompt, index, s.Kind)
	llmMs := time.Since(start).Milliseconds()

	if rt.Hooks != nil {
		rt.Hooks.RecordLLMCall(ctx, handle.Provider(), time.Since(start), usageTokens(handle), 0, err)
	}
	if err != nil {
		return step.StepResult{}, llmMs, agenterrors.NewLLMError(agenterrors.Meta{Provider: handle.Provider(), RequestID: requestID}, 0, err)
	}

	return step.StepResult{Prompt: prompt, LLMOutput: output}, llmMs, nil
}

// genLLM runs a single-shot completion, routing through GenStream and the
// runtime's token callback (component L) when one is configured, or
// through the plain Gen call otherwise.
func genLLM(ctx context.Context, rt *Runtime, handle *llm.Handle, prompt string, index int, kind step.Kind) (string, error) {
	if rt.OnToken == nil {
		return handle.Unwrap().Gen(ctx, prompt)
	}

	chunks, err := handle.Unwrap().GenStream(ctx, prompt)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for c := range chunks {
		if c.Err != nil {
			return sb.String(), c.Err
		}
		sb.WriteString(c.Text)
		rt.OnToken(c.Text, TokenMeta{StepIndex: index, StepKind: kind})
	}
	return sb.String(), nil
}

func buildLLMPrompt(rt *Runtime, s step.Step, instructions string, prev *step.StepResult) string {
	cb := rt.contextBuilder(s.ContextMaxChars, s.ContextMaxToolResults)
	var parts []string
	if instructions != "" {
		parts = append(parts, instructions)
	}
	parts = append(parts, s.Prompt)
	if prev != nil {
		if frag := cb.Build(prev.LLMOutput, toolResultsFrom(prev)); frag != "" {
			parts = append(parts, frag)
		}
	}
	return strings.Join(parts, "\n\n")
}

func toolResultsFrom(prev *step.StepResult) []contextfrag.ToolResult {
	if prev == nil {
		return nil
	}
	out := make([]contextfrag.ToolResult, 0, len(prev.ToolCalls))
	for _, tc := range prev.ToolCalls {
		out = append(out, contextfrag.ToolResult{ToolName: tc.Name, Output: tc.Result, IsError: tc.Err != nil})
	}
	return out
}

func usageTokens(h *llm.Handle) int {
	u := h.Unwrap().GetUsage()
	if u == nil {
		return 0
	}
	return u.TotalTokens
}

func executeMcpExplicit(ctx context.Context, rt *Runtime, s step.Step, requestID string) (step.StepResult, int64, error) {
	if s.MCP == nil {
		return step.StepResult{}, 0, fmt.Errorf("scheduler: mcp-explicit step has no handle configured")
	}

	qualified := mcp.Qualify(s.MCP.ID, s.Tool)

	var llmMs int64
	prompt := s.Prompt
	if s.LLM != nil && prompt != "" {
		handle := s.LLM
		start := time.Now()
		out, err := handle.Unwrap().Gen(ctx, prompt)
		llmMs = time.Since(start).Milliseconds()
		if err != nil {
			return step.StepResult{}, llmMs, agenterrors.NewLLMError(agenterrors.Meta{Provider: handle.Provider(), RequestID: requestID}, 0, err)
		}
		prompt = out
	}

	catalog, err := rt.Discovery.Discover(ctx, []*mcp.Handle{s.MCP})
	if err != nil {
		return step.StepResult{}, llmMs, err
	}

	var def *mcp.ToolDefinition
	for i := range catalog {
		if catalog[i].Name == qualified {
			def = &catalog[i]
			break
		}
	}
	if def == nil {
		return step.StepResult{}, llmMs, &agenterrors.MCPToolError{
			Meta:  agenterrors.Meta{Provider: s.MCP.ProviderTag(), RequestID: requestID},
			Cause: fmt.Errorf("tool %q not found on handle %q", s.Tool, s.MCP.ID),
		}
	}

	if err := rt.Validator.Validate(qualified, def.Parameters, s.Args); err != nil {
		return step.StepResult{}, llmMs, err
	}

	start := time.Now()
	lease, err := rt.Pool.Acquire(ctx, s.MCP)
	if err != nil {
		return step.StepResult{}, llmMs, agenterrors.NewMCPConnectionError(agenterrors.Meta{Provider: s.MCP.ProviderTag(), RequestID: requestID}, err)
	}
	defer lease.Release()

	result, err := lease.Transport.CallTool(ctx, s.Tool, s.Args)
	ms := time.Since(start).Milliseconds()
	if rt.Hooks != nil {
		rt.Hooks.RecordToolCall(ctx, qualified, time.Since(start), err)
	}
	if err != nil {
		return step.StepResult{}, llmMs, agenterrors.NewMCPConnectionError(agenterrors.Meta{Provider: s.MCP.ProviderTag(), RequestID: requestID}, err)
	}
	if result.IsError {
		return step.StepResult{}, llmMs, &agenterrors.MCPToolError{Meta: agenterrors.Meta{Provider: qualified, RequestID: requestID}, Cause: fmt.Errorf("%s", result.Text)}
	}

	return step.StepResult{
		Prompt:    prompt,
		LLMOutput: result.Text,
		ToolCalls: []step.ToolCallRecord{{Name: qualified, Endpoint: s.MCP.ProviderTag(), Result: result.Text, Ms: ms}},
	}, llmMs, nil
}

func executeMcpAuto(ctx context.Context, rt *Runtime, s step.Step, prev *step.StepResult, requestID string) (step.StepResult, int64, error) {
	handle := s.LLM
	if handle == nil {
		handle = rt.DefaultLLM
	}
	if handle == nil {
		return step.StepResult{}, 0, fmt.Errorf("scheduler: mcp-auto step has no llm handle configured")
	}

	instructions := s.Instructions
	if instructions == "" {
		instructions = rt.DefaultInstructions
	}

	maxIter := s.MaxToolIterations
	if maxIter <= 0 {
		maxIter = rt.DefaultMaxToolIterations
	}

	disableParallel := s.DisableParallelToolExecution || rt.DisableParallelToolExecution

	cb := rt.contextBuilder(s.ContextMaxChars, s.ContextMaxToolResults)
	var priorOutput string
	var priorResults []contextfrag.ToolResult
	if prev != nil {
		priorOutput = prev.LLMOutput
		priorResults = toolResultsFrom(prev)
	}

	start := time.Now()
	res, err := toolloop.Run(ctx, toolloop.Deps{Pool: rt.Pool, Discovery: rt.Discovery, Validator: rt.Validator, Auth: rt.Auth}, handle.Unwrap(), s.MCPs, s.Prompt, toolloop.Options{
		Instructions:                  instructions,
		MaxToolIterations:             maxIter,
		DisableParallelToolExecution:  disableParallel,
		ContextBuilder:                cb,
		PriorOutput:                   priorOutput,
		PriorToolResults:              priorResults,
	})
	llmMs := time.Since(start).Milliseconds()
	if rt.Hooks != nil {
		rt.Hooks.RecordLLMCall(ctx, handle.Provider(), time.Since(start), usageTokens(handle), 0, err)
	}
	if err != nil {
		return step.StepResult{}, llmMs, err
	}

	calls := make([]step.ToolCallRecord, len(res.ToolCalls))
	for i, c := range res.ToolCalls {
		calls[i] = step.ToolCallRecord{Name: c.Name, Endpoint: c.Endpoint, Result: c.Result, Ms: c.Ms, Err: c.Err}
	}

	return step.StepResult{Prompt: s.Prompt, LLMOutput: res.Content, ToolCalls: calls}, llmMs, nil
}
