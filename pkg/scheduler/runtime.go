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

// Package scheduler realizes the step executor (spec §2 component I) and
// the control-flow scheduler (component J) as a single dispatch function
// over the step.Step tagged variant, per the teacher's "interpreter over
// the variant, not object inheritance" convention (spec §9 design note,
// mirrored in the teacher's pkg/reasoning strategy dispatch).
package scheduler

import (
	"time"

	"github.com/kadirpekel/agentcore/pkg/contextfrag"
	"github.com/kadirpekel/agentcore/pkg/llm"
	"github.com/kadirpekel/agentcore/pkg/mcp"
	"github.com/kadirpekel/agentcore/pkg/mcp/discovery"
	"github.com/kadirpekel/agentcore/pkg/mcp/pool"
	"github.com/kadirpekel/agentcore/pkg/mcp/validate"
	"github.com/kadirpekel/agentcore/pkg/mcpauth"
	"github.com/kadirpekel/agentcore/pkg/observability"
	"github.com/kadirpekel/agentcore/pkg/step"
)

// TokenCallback receives streamed token chunks with step provenance
// metadata (spec §4.1 Telemetry hooks / Token-Streaming Bridge, component L).
type TokenCallback func(chunk string, meta TokenMeta)

// TokenMeta describes where a streamed chunk came from.
type TokenMeta struct {
	StepIndex int
	StepKind  step.Kind
}

// StepCallback is invoked after every step (including ones nested inside
// control-flow constructs) completes.
type StepCallback func(result step.StepResult, index int)

// Runtime bundles the shared resources every dispatched step needs:
// default options (inherited by ephemeral sub-agents spawned for
// control-flow bodies, per spec §4.2 "share the parent's options"), and
// the live MCP/LLM infrastructure.
type Runtime struct {
	Pool      *pool.Pool
	Discovery *discovery.Cache
	Validator *validate.Validator
	Auth      *mcpauth.Manager
	Hooks     observability.Hooks

	DefaultLLM                   *llm.Handle
	DefaultInstructions          string
	DefaultTimeout               time.Duration
	DefaultRetry                 *step.RetryConfig
	DefaultContextMaxChars       int
	DefaultContextMaxToolResults int
	DefaultMaxToolIterations     int
	DisableParallelToolExecution bool

	// MCPAuth resolves the agent-level fallback auth for a URL with no
	// handle-level AuthRef (spec §4.5 precedence).
	MCPAuth func(url string) *mcp.AuthRef

	OnToken TokenCallback
	OnStep  StepCallback
}

// contextBuilder returns a contextfrag.Builder honoring per-step
// overrides, falling back to the runtime defaults.
func (rt *Runtime) contextBuilder(maxChars, maxToolResults int) *contextfrag.Builder {
	opts := []contextfrag.Option{}
	if maxChars > 0 {
		opts = append(opts, contextfrag.WithCharBudget(maxChars))
	} else if rt.DefaultContextMaxChars > 0 {
		opts = append(opts, contextfrag.WithCharBudget(rt.DefaultContextMaxChars))
	}
	if maxToolResults > 0 {
		opts = append(opts, contextfrag.WithMaxToolResults(maxToolResults))
	} else if rt.DefaultContextMaxToolResults > 0 {
		opts = append(opts, contextfrag.WithMaxToolResults(rt.DefaultContextMaxToolResults))
	}
	return contextfrag.New(opts...)
}
