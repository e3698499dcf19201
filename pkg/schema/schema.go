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

// Package schema reflects Go types into JSON schemas for LLM function
// declarations and structured output.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// For returns the JSON schema of T as a plain map.
//
// Supported tags:
//   - json:"name" sets the property name
//   - jsonschema:"required" marks the property as required
//   - jsonschema:"description=..." documents the property
//   - jsonschema:"enum=a,enum=b" restricts values
func For[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	s := reflector.Reflect(new(T))

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	delete(out, "$schema")
	delete(out, "$id")
	if out["type"] == "object" {
		// Function declarations only understand these keys at the top level.
		flat := map[string]any{"type": "object", "properties": out["properties"]}
		if req, ok := out["required"]; ok {
			flat["required"] = req
		}
		if desc, ok := out["description"]; ok {
			flat["description"] = desc
		}
		return flat, nil
	}
	return out, nil
}

// MustFor is like For but panics on error. Use it for package level
// schemas of static types.
func MustFor[T any]() map[string]any {
	s, err := For[T]()
	if err != nil {
		panic(err)
	}
	return s
}
