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

// Package contextfrag builds the bounded context fragment injected ahead
// of a step's prompt (spec §2 component G, §4.6 Context Compactor): the
// prior LLM output plus the last K tool results, truncated to a character
// budget. No templating library in the pack does bounded, truncating
// string assembly better than strings.Builder, so this stays on the
// standard library by design (see DESIGN.md).
package contextfrag

import "strings"

// DefaultCharBudget and DefaultMaxToolResults are the spec §4.6 defaults.
const (
	DefaultCharBudget     = 20480
	DefaultMaxToolResults = 8
)

// unserializable is the sentinel written in place of a tool result whose
// output can't be rendered as text.
const unserializable = "<unserializable result>"

// ToolResult is one recorded tool invocation outcome available for
// inclusion in the fragment.
type ToolResult struct {
	ToolName string
	Output   string
	IsError  bool
}

// Builder assembles bounded context fragments from a running history of
// prior LLM output and tool results.
type Builder struct {
	charBudget     int
	maxToolResults int
}

// Option configures a Builder.
type Option func(*Builder)

// WithCharBudget overrides DefaultCharBudget.
func WithCharBudget(n int) Option { return func(b *Builder) { b.charBudget = n } }

// WithMaxToolResults overrides DefaultMaxToolResults.
func WithMaxToolResults(n int) Option { return func(b *Builder) { b.maxToolResults = n } }

// New builds a Builder with the spec §4.6 defaults, overridable via opts.
func New(opts ...Option) *Builder {
	b := &Builder{charBudget: DefaultCharBudget, maxToolResults: DefaultMaxToolResults}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build renders priorOutput and up to the last maxToolResults entries of
// results into the fragment format, stopping as soon as adding the next
// chunk would exceed charBudget. Only the immediately preceding step is
// ever examined (spec §4.6) — callers pass that step's output and tool
// results, not an accumulated history.
func (b *Builder) Build(priorOutput string, results []ToolResult) string {
	recent := results
	if len(recent) > b.maxToolResults {
		recent = recent[len(recent)-b.maxToolResults:]
	}
	if priorOutput == "" && len(recent) == 0 {
		return ""
	}

	chunks := []string{"\n\n[Context from previous steps]\n"}
	if priorOutput != "" {
		chunks = append(chunks, "Previous LLM answer:\n"+priorOutput+"\n")
	}
	if len(recent) > 0 {
		var trb strings.Builder
		trb.WriteString("Previous tool results:\n")
		for _, r := range recent {
			trb.WriteString("- ")
			trb.WriteString(r.ToolName)
			trb.WriteString(" -> ")
			trb.WriteString(serialize(r))
			trb.WriteString("\n")
		}
		chunks = append(chunks, trb.String())
	}

	var sb strings.Builder
	for _, c := range chunks {
		if sb.Len()+len(c) > b.charBudget {
			break
		}
		sb.WriteString(c)
	}
	return sb.String()
}

func serialize(r ToolResult) string {
	if r.Output == "" {
		return unserializable
	}
	if r.IsError {
		return "[error] " + r.Output
	}
	return r.Output
}
