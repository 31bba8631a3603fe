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

// Package agenterrors defines the typed error taxonomy produced by the
// orchestration core and the classifier that normalizes raw failures into
// it. Every error exposes a Meta struct with a retryability flag so the
// retry engine can decide without inspecting error strings.
package agenterrors

import "fmt"

// Meta carries the diagnostic metadata every taxonomy error exposes.
type Meta struct {
	StepID    string
	Provider  string
	RequestID string
	Retryable bool
}

// TimeoutError indicates a per-attempt timeout fired. Always retryable.
type TimeoutError struct {
	Meta  Meta
	Cause error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout [step=%s provider=%s]: %v", e.Meta.StepID, e.Meta.Provider, e.Cause)
}
func (e *TimeoutError) Unwrap() error { return e.Cause }

// ValidationError indicates tool-call arguments failed schema validation.
// Never retryable.
type ValidationError struct {
	Meta  Meta
	Cause error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed [step=%s]: %v", e.Meta.StepID, e.Cause)
}
func (e *ValidationError) Unwrap() error { return e.Cause }

// LLMError wraps a failure from an LLM call. Retryability depends on the
// provider's HTTP status (set by the caller via NewLLMError).
type LLMError struct {
	Meta       Meta
	StatusCode int
	Cause      error
}

func (e *LLMError) Error() string {
	return fmt.Sprintf("llm error [provider=%s status=%d]: %v", e.Meta.Provider, e.StatusCode, e.Cause)
}
func (e *LLMError) Unwrap() error { return e.Cause }

// NewLLMError classifies an LLM failure's retryability from its status code.
// 5xx, 429, 408, and 0 (transport-level failures with no HTTP status) are
// retryable; anything else is not.
func NewLLMError(meta Meta, statusCode int, cause error) *LLMError {
	meta.Retryable = statusCode == 0 || statusCode == 429 || statusCode == 408 || (statusCode >= 500 && statusCode < 600)
	return &LLMError{Meta: meta, StatusCode: statusCode, Cause: cause}
}

// MCPConnectionError indicates a transport-level MCP failure (discovery,
// connect, or token acquisition). Retryable unless explicitly marked
// otherwise by the caller (e.g. OAuth misconfiguration).
type MCPConnectionError struct {
	Meta  Meta
	Cause error
}

func (e *MCPConnectionError) Error() string {
	return fmt.Sprintf("mcp connection error [provider=%s]: %v", e.Meta.Provider, e.Cause)
}
func (e *MCPConnectionError) Unwrap() error { return e.Cause }

// NewMCPConnectionError builds a retryable MCPConnectionError.
func NewMCPConnectionError(meta Meta, cause error) *MCPConnectionError {
	meta.Retryable = true
	return &MCPConnectionError{Meta: meta, Cause: cause}
}

// MCPToolError indicates the tool itself reported a semantic failure (the
// call succeeded at the transport level but the tool returned an error
// result). Never retryable — retrying won't change the tool's answer.
type MCPToolError struct {
	Meta  Meta
	Cause error
}

func (e *MCPToolError) Error() string {
	return fmt.Sprintf("mcp tool error [tool=%s]: %v", e.Meta.Provider, e.Cause)
}
func (e *MCPToolError) Unwrap() error { return e.Cause }

// RetryExhaustedError is terminal: every attempt failed and the retry
// budget ran out.
type RetryExhaustedError struct {
	Meta     Meta
	Attempts int
	Cause    error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts [step=%s]: %v", e.Attempts, e.Meta.StepID, e.Cause)
}
func (e *RetryExhaustedError) Unwrap() error { return e.Cause }

// AgentConcurrencyError is terminal: a second Run() was attempted on an
// agent instance that already has one in flight.
type AgentConcurrencyError struct {
	Meta Meta
}

func (e *AgentConcurrencyError) Error() string {
	return fmt.Sprintf("agent is already running a program [agent=%s]", e.Meta.Provider)
}

// Retryable reports whether err's taxonomy classification says it may be
// retried. Unrecognized errors are treated as non-retryable, matching the
// spec's "fail fast on anything we can't classify" posture.
func Retryable(err error) bool {
	switch e := err.(type) {
	case *TimeoutError:
		return true
	case *ValidationError:
		return false
	case *LLMError:
		return e.Meta.Retryable
	case *MCPConnectionError:
		return e.Meta.Retryable
	case *MCPToolError:
		return false
	case *RetryExhaustedError, *AgentConcurrencyError:
		return false
	default:
		return false
	}
}

// MetaOf extracts the Meta from any taxonomy error, or a zero Meta for
// anything else.
func MetaOf(err error) Meta {
	switch e := err.(type) {
	case *TimeoutError:
		return e.Meta
	case *ValidationError:
		return e.Meta
	case *LLMError:
		return e.Meta
	case *MCPConnectionError:
		return e.Meta
	case *MCPToolError:
		return e.Meta
	case *RetryExhaustedError:
		return e.Meta
	case *AgentConcurrencyError:
		return e.Meta
	default:
		return Meta{}
	}
}
