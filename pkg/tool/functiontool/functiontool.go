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

// Package functiontool creates tools from typed Go functions. The parameter
// schema is reflected from the argument struct's json and jsonschema tags:
//
//	type SendArgs struct {
//	    AgentName string `json:"agent_name" jsonschema:"required,description=Remote agent name"`
//	}
//
//	t, err := functiontool.New(functiontool.Config{Name: "send", Description: "..."},
//	    func(ctx tool.Context, args SendArgs) (map[string]any, error) { ... })
package functiontool

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kadirpekel/concierge/pkg/schema"
	"github.com/kadirpekel/concierge/pkg/tool"
)

// Config defines the configuration for a function tool.
type Config struct {
	Name        string
	Description string
}

// New creates a CallableTool from a typed function.
func New[Args any](cfg Config, fn func(tool.Context, Args) (map[string]any, error)) (tool.CallableTool, error) {
	if cfg.Name == "" {
		return nil, errors.New("tool name is required")
	}
	if cfg.Description == "" {
		return nil, errors.New("tool description is required")
	}
	if fn == nil {
		return nil, fmt.Errorf("tool %s: function is required", cfg.Name)
	}
	s, err := schema.For[Args]()
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema for %s: %w", cfg.Name, err)
	}
	return &functionTool[Args]{cfg: cfg, fn: fn, schema: s}, nil
}

type functionTool[Args any] struct {
	cfg    Config
	fn     func(tool.Context, Args) (map[string]any, error)
	schema map[string]any
}

func (t *functionTool[Args]) Name() string           { return t.cfg.Name }
func (t *functionTool[Args]) Description() string    { return t.cfg.Description }
func (t *functionTool[Args]) IsLongRunning() bool    { return false }
func (t *functionTool[Args]) Schema() map[string]any { return t.schema }

func (t *functionTool[Args]) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
	var typed Args
	if err := decodeArgs(args, &typed); err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", t.cfg.Name, err)
	}
	return t.fn(ctx, typed)
}

// decodeArgs converts the LLM's loosely typed arguments into Args through
// a JSON round trip.
func decodeArgs(args map[string]any, out any) error {
	if args == nil {
		args = map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

var _ tool.CallableTool = (*functionTool[struct{}])(nil)
