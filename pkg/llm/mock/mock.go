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

// Package mock provides a deterministic, scriptable implementation of
// llm.Model for tests — the same role the teacher's per-provider
// *_test.go scripted stubs play, generalized into a reusable package so
// driver- and scheduler-level tests don't each hand-roll one.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/kadirpekel/agentcore/pkg/llm"
)

// Turn scripts one call to GenWithTools (or Gen, via Content only).
type Turn struct {
	Content   string
	ToolCalls []llm.ToolCall
	Usage     *llm.Usage
	Err       error
}

// Model replays a fixed script of Turns, one per call, cycling back to
// the last Turn if called more times than scripted (keeps tests from
// panicking on an extra hop instead of masking a real bug silently).
type Model struct {
	mu       sync.Mutex
	turns    []Turn
	calls    int
	Prompts  []string // records every prompt seen, in order
	lastUsed *llm.Usage
}

// New builds a Model that returns resp[i] (as Content) for the i-th call.
func New(resp ...string) *Model {
	turns := make([]Turn, len(resp))
	for i, r := range resp {
		turns[i] = Turn{Content: r}
	}
	return &Model{turns: turns}
}

// NewScripted builds a Model from explicit Turns, for tests that need
// tool calls interleaved with text.
func NewScripted(turns ...Turn) *Model {
	return &Model{turns: turns}
}

func (m *Model) next() Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.turns) == 0 {
		return Turn{Content: ""}
	}
	idx := m.calls
	if idx >= len(m.turns) {
		idx = len(m.turns) - 1
	}
	m.calls++
	t := m.turns[idx]
	m.lastUsed = t.Usage
	return t
}

func (m *Model) record(prompt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prompts = append(m.Prompts, prompt)
}

// Gen implements llm.Model.
func (m *Model) Gen(ctx context.Context, prompt string) (string, error) {
	m.record(prompt)
	t := m.next()
	if t.Err != nil {
		return "", t.Err
	}
	return t.Content, nil
}

// GenStream implements llm.Model by chunking the scripted content into
// one chunk per word.
func (m *Model) GenStream(ctx context.Context, prompt string) (<-chan llm.StreamChunk, error) {
	m.record(prompt)
	t := m.next()
	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		if t.Err != nil {
			select {
			case ch <- llm.StreamChunk{Err: t.Err}:
			case <-ctx.Done():
			}
			return
		}
		for _, word := range splitWords(t.Content) {
			select {
			case ch <- llm.StreamChunk{Text: word}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// GenWithTools implements llm.Model.
func (m *Model) GenWithTools(ctx context.Context, prompt string, tools []llm.ToolDefinition) (llm.ToolResponse, error) {
	m.record(prompt)
	t := m.next()
	if t.Err != nil {
		return llm.ToolResponse{}, t.Err
	}
	return llm.ToolResponse{Content: t.Content, ToolCalls: t.ToolCalls}, nil
}

// GetUsage implements llm.Model.
func (m *Model) GetUsage() *llm.Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUsed
}

func splitWords(s string) []string {
	var words []string
	cur := ""
	for _, r := range s {
		if r == ' ' {
			if cur != "" {
				words = append(words, cur+" ")
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		words = append(words, cur)
	}
	return words
}

// ErrForced is a canned error for scripting failure turns.
func ErrForced(msg string) error { return fmt.Errorf("mock llm: %s", msg) }

var _ llm.Model = (*Model)(nil)
