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

// Package llmagent provides an agent driven by an LLM reasoning loop: the
// model is called with the session history, requested tools are executed and
// their results fed back until the model produces a final answer.
package llmagent

import (
	"errors"
	"fmt"
	"iter"

	"github.com/kadirpekel/concierge/pkg/agent"
	"github.com/kadirpekel/concierge/pkg/model"
	"github.com/kadirpekel/concierge/pkg/observability"
	"github.com/kadirpekel/concierge/pkg/tool"
)

// DefaultMaxIterations bounds the reasoning loop.
const DefaultMaxIterations = 100

// InstructionProvider builds the system instruction for each LLM call.
type InstructionProvider func(ctx agent.ReadonlyContext) (string, error)

// BeforeModelCallback runs before each LLM call. A non-nil response skips
// the call.
type BeforeModelCallback func(ctx agent.CallbackContext, req *model.Request) (*model.Response, error)

// AfterModelCallback runs after each complete LLM response. A non-nil
// response replaces the original.
type AfterModelCallback func(ctx agent.CallbackContext, resp *model.Response, err error) (*model.Response, error)

// BeforeToolCallback runs before a tool call. A non-nil result skips the tool.
type BeforeToolCallback func(ctx tool.Context, t tool.Tool, args map[string]any) (map[string]any, error)

// AfterToolCallback runs after a tool call. A non-nil result replaces the
// tool's result.
type AfterToolCallback func(ctx tool.Context, t tool.Tool, args, result map[string]any, err error) (map[string]any, error)

// Config contains the configuration for an LLM agent.
type Config struct {
	// Name must be unique within the agent tree.
	Name        string
	Description string
	Model       model.LLM

	// Instruction may contain {state} placeholders. InstructionProvider takes
	// precedence when set.
	Instruction         string
	InstructionProvider InstructionProvider

	GenerateConfig *model.GenerateConfig
	Tools          []tool.Tool
	SubAgents      []agent.Agent

	BeforeAgentCallbacks []agent.BeforeAgentCallback
	AfterAgentCallbacks  []agent.AfterAgentCallback
	BeforeModelCallbacks []BeforeModelCallback
	AfterModelCallbacks  []AfterModelCallback
	BeforeToolCallbacks  []BeforeToolCallback
	AfterToolCallbacks   []AfterToolCallback

	// OutputKey stores the final text answer in session state under this key.
	OutputKey string

	// OutputSchema requests JSON output matching the schema. With OutputKey
	// set, the parsed object is stored instead of the raw text.
	OutputSchema map[string]any

	// MaxIterations caps the number of LLM calls per run.
	MaxIterations int

	// Metrics records LLM and tool calls. Nil disables recording.
	Metrics observability.Recorder
}

type llmAgent struct {
	agent.Agent
	cfg Config
}

// New creates an LLM agent.
func New(cfg Config) (agent.Agent, error) {
	if cfg.Name == "" {
		return nil, errors.New("agent name is required")
	}
	if cfg.Model == nil {
		return nil, fmt.Errorf("agent %q: model is required", cfg.Name)
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopRecorder{}
	}
	seen := make(map[string]bool, len(cfg.Tools))
	for _, t := range cfg.Tools {
		if seen[t.Name()] {
			return nil, fmt.Errorf("agent %q: duplicate tool %q", cfg.Name, t.Name())
		}
		seen[t.Name()] = true
	}

	a := &llmAgent{cfg: cfg}
	base, err := agent.New(agent.Config{
		Name:                 cfg.Name,
		Description:          cfg.Description,
		SubAgents:            cfg.SubAgents,
		BeforeAgentCallbacks: cfg.BeforeAgentCallbacks,
		Run:                  a.run,
		AfterAgentCallbacks:  cfg.AfterAgentCallbacks,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create base agent: %w", err)
	}
	a.Agent = base
	return a, nil
}

func (a *llmAgent) run(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
	return newFlow(a).run(ctx)
}

// OutputKey returns the state key the agent writes its answer to.
func (a *llmAgent) OutputKey() string { return a.cfg.OutputKey }

func (a *llmAgent) findTool(name string) tool.Tool {
	for _, t := range a.cfg.Tools {
		if t.Name() == name {
			return t
		}
	}
	return nil
}
