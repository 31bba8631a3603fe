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

// Package llm defines the abstract LLM capability contract the
// orchestration core drives. Concrete provider SDKs (Anthropic, OpenAI,
// Gemini, ...) are deliberately out of scope for this module — callers
// adapt their provider of choice to the Model interface.
package llm

import "context"

// ToolDefinition is a qualified tool description presented to the model
// during tool-augmented generation. Name is always "<handleID>.<rawName>".
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string // qualified "<handleID>.<rawName>"
	Arguments map[string]any
}

// ToolResponse is what GenWithTools returns: either final content, or one
// or more tool calls to satisfy before continuing the loop.
type ToolResponse struct {
	Content   string
	ToolCalls []ToolCall
}

// Usage reports token accounting for the last call made against a Model.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Model is the abstract LLM capability contract (spec §6.1). A Handle
// wraps a Model with an identifier used for provider tagging in errors
// and telemetry.
type Model interface {
	// Gen produces a single-shot completion.
	Gen(ctx context.Context, prompt string) (string, error)

	// GenStream produces a finite, non-restartable sequence of text
	// chunks. Implementations must close the returned channel when the
	// stream ends (or ctx is done) and must never send after an error is
	// delivered.
	GenStream(ctx context.Context, prompt string) (<-chan StreamChunk, error)

	// GenWithTools drives one round of tool-augmented generation.
	GenWithTools(ctx context.Context, prompt string, tools []ToolDefinition) (ToolResponse, error)

	// GetUsage reports token usage for the most recently completed call,
	// or nil if unavailable.
	GetUsage() *Usage
}

// StreamChunk is one piece of a streamed completion.
type StreamChunk struct {
	Text string
	Err  error
}

// Handle identifies a Model instance for provider tagging (spec §4.8:
// "Provider tag derives from the LLM handle id (or llm:<model>)").
type Handle struct {
	ID    string
	Model string
	model Model
}

// NewHandle wraps a Model with an id/model tag.
func NewHandle(id, model string, m Model) *Handle {
	return &Handle{ID: id, Model: model, model: m}
}

// Provider returns the tag used in error/telemetry metadata.
func (h *Handle) Provider() string {
	if h.ID != "" {
		return h.ID
	}
	return "llm:" + h.Model
}

// Unwrap returns the underlying Model.
func (h *Handle) Unwrap() Model { return h.model }
