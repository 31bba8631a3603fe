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

// Package validate compiles and memoizes JSON Schemas for tool-call
// argument validation (spec §2 component D, §4.4 Schema validator), built
// on github.com/santhosh-tekuri/jsonschema/v5 — the JSON-schema compiler
// present in the pack (haasonsaas-nexus go.mod). Compiled schemas are
// memoized per qualified tool name, not per schema object: a later call
// under the same name reuses the first compiled schema even if it passes
// a different one.
package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kadirpekel/agentcore/pkg/agenterrors"
)

// Validator compiles tool argument schemas once and reuses the compiled
// form for every subsequent call.
type Validator struct {
	mu     sync.Mutex
	cached map[string]*jsonschema.Schema // keyed by qualified tool name
}

// New builds an empty Validator.
func New() *Validator {
	return &Validator{cached: make(map[string]*jsonschema.Schema)}
}

// Validate checks args against the JSON Schema for the tool identified
// by qualifiedName, compiling and memoizing the schema on first use. A
// nil/empty schema is treated as "accepts anything". Failures are
// returned as a non-retryable *agenterrors.ValidationError.
func (v *Validator) Validate(qualifiedName string, schema map[string]any, args map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	compiled, err := v.compile(qualifiedName, schema)
	if err != nil {
		return &agenterrors.ValidationError{
			Meta:  agenterrors.Meta{StepID: qualifiedName, Retryable: false},
			Cause: fmt.Errorf("compiling schema: %w", err),
		}
	}

	// jsonschema validates against decoded JSON values (map[string]any
	// with float64 numbers); round-trip through encoding/json so
	// argument values provided as other Go numeric types validate
	// consistently with what the wire protocol would have produced.
	normalized, err := normalize(args)
	if err != nil {
		return &agenterrors.ValidationError{
			Meta:  agenterrors.Meta{StepID: qualifiedName, Retryable: false},
			Cause: fmt.Errorf("normalizing arguments: %w", err),
		}
	}

	if err := compiled.Validate(normalized); err != nil {
		return &agenterrors.ValidationError{
			Meta:  agenterrors.Meta{StepID: qualifiedName, Retryable: false},
			Cause: err,
		}
	}
	return nil
}

func (v *Validator) compile(qualifiedName string, schema map[string]any) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.cached[qualifiedName]; ok {
		return s, nil
	}

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	resourceName := qualifiedName + ".json"
	if err := compiler.AddResource(resourceName, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cached[qualifiedName] = compiled
	return compiled, nil
}

func normalize(args map[string]any) (any, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
