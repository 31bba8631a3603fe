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

// Package toolloop implements the automatic tool-calling loop (spec §2
// component H, §4.3): discover tools, call the LLM with the catalog,
// invoke whatever tools it asks for, feed results back, repeat until the
// model stops requesting tools or the hop limit is reached. Conservative
// intra-batch parallelization is built on golang.org/x/sync/errgroup, the
// same bounded-fan-out primitive the teacher uses in its own concurrent
// tool dispatch (and the one other_examples' toolloop reference uses).
package toolloop

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/agentcore/pkg/agenterrors"
	"github.com/kadirpekel/agentcore/pkg/contextfrag"
	"github.com/kadirpekel/agentcore/pkg/llm"
	"github.com/kadirpekel/agentcore/pkg/mcp"
	"github.com/kadirpekel/agentcore/pkg/mcp/discovery"
	"github.com/kadirpekel/agentcore/pkg/mcp/pool"
	"github.com/kadirpekel/agentcore/pkg/mcp/validate"
	"github.com/kadirpekel/agentcore/pkg/mcpauth"
)

// DefaultMaxToolIterations is the spec §4.3 default hop limit.
const DefaultMaxToolIterations = 4

// NoToolsAvailable is the canonical output when discovery yields an empty
// catalog (spec §4.3 step 1).
const NoToolsAvailable = "No tools available to complete this request."

// Deps bundles the shared resources the loop needs per invocation.
type Deps struct {
	Pool      *pool.Pool
	Discovery *discovery.Cache
	Validator *validate.Validator
	Auth      *mcpauth.Manager
}

// Result is what Run returns: the final textual content plus every tool
// invocation made along the way (always non-nil, per spec §3 invariant 2).
type Result struct {
	Content   string
	ToolCalls []ToolCallRecord
}

// ToolCallRecord mirrors step.ToolCallRecord without importing pkg/step
// (which would cycle back through pkg/agent); callers adapt it.
type ToolCallRecord struct {
	Name     string
	Endpoint string
	Result   string
	Ms       int64
	Err      error
}

// Options configures one Run call.
type Options struct {
	Instructions                 string
	MaxToolIterations             int
	DisableParallelToolExecution bool
	ContextBuilder                *contextfrag.Builder
	PriorOutput                   string
	PriorToolResults               []contextfrag.ToolResult
}

// Run executes the tool-calling loop for prompt against model, discovering
// tools across handles (spec §4.3 algorithm).
func Run(ctx context.Context, deps Deps, model llm.Model, handles []*mcp.Handle, prompt string, opts Options) (Result, error) {
	catalog, err := deps.Discovery.Discover(ctx, handles)
	if err != nil {
		return Result{}, err
	}
	if len(catalog) == 0 {
		return Result{Content: NoToolsAvailable, ToolCalls: []ToolCallRecord{}}, nil
	}

	maxIter := opts.MaxToolIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxToolIterations
	}

	byName := make(map[string]mcp.ToolDefinition, len(catalog))
	tools := make([]llm.ToolDefinition, 0, len(catalog))
	for _, t := range catalog {
		byName[t.Name] = t
		tools = append(tools, llm.ToolDefinition{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}

	workingPrompt := buildInitialPrompt(opts.Instructions, prompt, opts.ContextBuilder, opts.PriorOutput, opts.PriorToolResults)

	var allCalls []ToolCallRecord
	var finalContent string

	for iter := 0; iter < maxIter; iter++ {
		resp, err := model.GenWithTools(ctx, workingPrompt, tools)
		if err != nil {
			return Result{}, agenterrors.NewLLMError(agenterrors.Meta{}, 0, err)
		}

		if len(resp.ToolCalls) == 0 {
			finalContent = resp.Content
			return Result{Content: finalContent, ToolCalls: orEmpty(allCalls)}, nil
		}

		records, resultsText := invokeBatch(ctx, deps, byName, resp.ToolCalls, opts.DisableParallelToolExecution)
		allCalls = append(allCalls, records...)
		finalContent = resp.Content

		workingPrompt = appendToolResultsSection(workingPrompt, resultsText)
	}

	return Result{Content: finalContent, ToolCalls: orEmpty(allCalls)}, nil
}

func orEmpty(calls []ToolCallRecord) []ToolCallRecord {
	if calls == nil {
		return []ToolCallRecord{}
	}
	return calls
}

func buildInitialPrompt(instructions, prompt string, cb *contextfrag.Builder, priorOutput string, priorResults []contextfrag.ToolResult) string {
	var parts []string
	if instructions != "" {
		parts = append(parts, instructions)
	}
	parts = append(parts, prompt)
	if cb != nil {
		if frag := cb.Build(priorOutput, priorResults); frag != "" {
			parts = append(parts, frag)
		}
	}
	return strings.Join(parts, "\n\n")
}

func appendToolResultsSection(prompt string, resultsText []string) string {
	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("\n\n[Tool results]\n")
	for _, r := range resultsText {
		sb.WriteString(r)
		sb.WriteString("\n")
	}
	return sb.String()
}

// invokeBatch invokes every tool call in calls, in eligible-parallel or
// sequential mode per spec §4.3 "conservative intra-batch parallelization",
// returning records in the LLM's emission order regardless of completion
// order (spec §5 ordering guarantee).
func invokeBatch(ctx context.Context, deps Deps, byName map[string]mcp.ToolDefinition, calls []llm.ToolCall, disableParallel bool) ([]ToolCallRecord, []string) {
	records := make([]ToolCallRecord, len(calls))
	texts := make([]string, len(calls))

	if !disableParallel && eligibleForParallel(calls) {
		g, gctx := errgroup.WithContext(ctx)
		for i, call := range calls {
			i, call := i, call
			g.Go(func() error {
				rec, text := invokeOne(gctx, deps, byName, call)
				records[i] = rec
				texts[i] = text
				return nil
			})
		}
		_ = g.Wait()
		return records, texts
	}

	for i, call := range calls {
		rec, text := invokeOne(ctx, deps, byName, call)
		records[i] = rec
		texts[i] = text
	}
	return records, texts
}

// eligibleForParallel implements spec §4.3's three-part test: same tool
// name, every call carries a non-empty, pairwise-distinct ID-like
// top-level argument.
func eligibleForParallel(calls []llm.ToolCall) bool {
	if len(calls) < 2 {
		return false
	}
	name := calls[0].Name
	seen := make(map[string]struct{}, len(calls))
	for _, c := range calls {
		if c.Name != name {
			return false
		}
		id, ok := idLikeArg(c.Arguments)
		if !ok || id == "" {
			return false
		}
		if _, dup := seen[id]; dup {
			return false
		}
		seen[id] = struct{}{}
	}
	return true
}

// idLikeArg looks only at top-level argument keys (spec §9: "must not
// deep-inspect nested objects"), matching a key equal to "id"
// case-insensitively or ending in "id".
func idLikeArg(args map[string]any) (string, bool) {
	for k, v := range args {
		lk := strings.ToLower(k)
		if lk == "id" || strings.HasSuffix(lk, "id") {
			return stringifyID(v), true
		}
	}
	return "", false
}

func stringifyID(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func invokeOne(ctx context.Context, deps Deps, byName map[string]mcp.ToolDefinition, call llm.ToolCall) (ToolCallRecord, string) {
	start := time.Now()

	def, ok := byName[call.Name]
	if !ok {
		err := fmt.Errorf("unknown tool %q", call.Name)
		return ToolCallRecord{Name: call.Name, Err: err}, formatResultText(call.Name, "", err)
	}

	if err := deps.Validator.Validate(call.Name, def.Parameters, call.Arguments); err != nil {
		return ToolCallRecord{Name: call.Name, Endpoint: def.Handle.ProviderTag(), Err: err, Ms: time.Since(start).Milliseconds()},
			formatResultText(call.Name, "", err)
	}

	_, rawName, ok := mcp.SplitQualified(call.Name)
	if !ok {
		err := fmt.Errorf("malformed qualified tool name %q", call.Name)
		return ToolCallRecord{Name: call.Name, Err: err}, formatResultText(call.Name, "", err)
	}

	lease, err := deps.Pool.Acquire(ctx, def.Handle)
	if err != nil {
		wrapped := agenterrors.NewMCPConnectionError(agenterrors.Meta{Provider: def.Handle.ProviderTag()}, err)
		return ToolCallRecord{Name: call.Name, Endpoint: def.Handle.ProviderTag(), Err: wrapped, Ms: time.Since(start).Milliseconds()},
			formatResultText(call.Name, "", wrapped)
	}
	defer lease.Release()

	result, err := lease.Transport.CallTool(ctx, rawName, call.Arguments)
	ms := time.Since(start).Milliseconds()
	if err != nil {
		wrapped := agenterrors.NewMCPConnectionError(agenterrors.Meta{Provider: def.Handle.ProviderTag()}, err)
		return ToolCallRecord{Name: call.Name, Endpoint: def.Handle.ProviderTag(), Err: wrapped, Ms: ms},
			formatResultText(call.Name, "", wrapped)
	}
	if result.IsError {
		wrapped := &agenterrors.MCPToolError{Meta: agenterrors.Meta{Provider: call.Name}, Cause: fmt.Errorf("%s", result.Text)}
		return ToolCallRecord{Name: call.Name, Endpoint: def.Handle.ProviderTag(), Err: wrapped, Ms: ms},
			formatResultText(call.Name, "", wrapped)
	}

	return ToolCallRecord{Name: call.Name, Endpoint: def.Handle.ProviderTag(), Result: result.Text, Ms: ms},
		formatResultText(call.Name, result.Text, nil)
}

func formatResultText(name, result string, err error) string {
	if err != nil {
		return fmt.Sprintf("- %s -> error: %v", name, err)
	}
	return fmt.Sprintf("- %s -> %s", name, result)
}
