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

package validate

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateSchema derives a JSON Schema map from a Go argument type's struct
// tags, for MCP tool definitions whose parameters are known at compile time
// rather than fetched from a remote catalog. The result is shaped the same
// way a discovered mcp.ToolDefinition.Parameters map is, so it can be fed
// straight into Validator.Validate.
//
// Supported tags:
//   - json:"name"                     - parameter name
//   - json:",omitempty"                - optional parameter
//   - jsonschema:"required"            - explicitly mark as required
//   - jsonschema:"description=..."     - parameter description
//   - jsonschema:"enum=a|b"            - allowed values
//   - jsonschema:"minimum=N,maximum=M" - numeric bounds
func GenerateSchema[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}

	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("validate: marshal generated schema: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("validate: unmarshal generated schema: %w", err)
	}
	delete(raw, "$schema")
	delete(raw, "$id")

	if raw["type"] != "object" {
		return raw, nil
	}

	out := map[string]any{
		"type":       "object",
		"properties": raw["properties"],
	}
	if required, ok := raw["required"]; ok {
		out["required"] = required
	}
	if addProps, ok := raw["additionalProperties"]; ok {
		out["additionalProperties"] = addProps
	}
	return out, nil
}
