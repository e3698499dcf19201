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

// Package agenttool exposes an agent as a tool. The wrapped agent runs in an
// isolated in-memory session seeded with a copy of the caller's state; the
// state it writes, such as its output key, is copied back to the caller.
package agenttool

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kadirpekel/concierge/pkg/agent"
	"github.com/kadirpekel/concierge/pkg/runner"
	"github.com/kadirpekel/concierge/pkg/session"
	"github.com/kadirpekel/concierge/pkg/tool"
)

// Config configures an agent tool.
type Config struct {
	// SkipSummarization returns the agent's answer to the user as is,
	// without another LLM turn in the calling agent.
	SkipSummarization bool
}

type agentTool struct {
	agent             agent.Agent
	skipSummarization bool
}

// New wraps ag as a tool named after the agent. cfg may be nil.
func New(ag agent.Agent, cfg *Config) (tool.CallableTool, error) {
	if ag == nil {
		return nil, errors.New("agent is required")
	}
	t := &agentTool{agent: ag}
	if cfg != nil {
		t.skipSummarization = cfg.SkipSummarization
	}
	return t, nil
}

func (t *agentTool) Name() string        { return t.agent.Name() }
func (t *agentTool) Description() string { return t.agent.Description() }
func (t *agentTool) IsLongRunning() bool { return false }

func (t *agentTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"request": map[string]any{
				"type":        "string",
				"description": "The task or request for the " + t.agent.Name() + " agent",
			},
		},
		"required": []string{"request"},
	}
}

func (t *agentTool) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
	request, ok := args["request"].(string)
	if !ok || request == "" {
		return nil, errors.New("request parameter must be a non-empty string")
	}
	if t.skipSummarization {
		ctx.Actions().SkipSummarization = true
	}

	var rc agent.RunConfig
	if p, ok := ctx.(tool.InvocationProvider); ok && p.InvocationContext().RunConfig() != nil {
		rc = *p.InvocationContext().RunConfig()
	}
	// Nested runs are never streamed to the caller.
	rc.StreamingMode = agent.StreamingModeNone

	svc := session.InMemoryService()
	child, err := svc.Create(ctx, &session.CreateRequest{
		AppName: ctx.AppName(),
		UserID:  ctx.UserID(),
		State:   seedState(ctx.ReadonlyState()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create isolated session: %w", err)
	}

	r, err := runner.New(runner.Config{AppName: ctx.AppName(), Agent: t.agent, SessionService: svc})
	if err != nil {
		return nil, err
	}

	var output string
	var events int
	for ev, err := range r.Run(ctx, ctx.UserID(), child.Session.ID(), agent.NewTextContent(request, agent.AuthorUser), rc) {
		if err != nil {
			return nil, fmt.Errorf("agent %s failed: %w", t.agent.Name(), err)
		}
		if ev.Partial {
			continue
		}
		events++
		for k, v := range ev.Actions.StateDelta {
			if strings.HasPrefix(k, session.KeyPrefixTemp) {
				continue
			}
			if err := ctx.State().Set(k, v); err != nil {
				return nil, fmt.Errorf("failed to propagate state %q: %w", k, err)
			}
		}
		if ev.IsFinalResponse() {
			if text := ev.TextContent(); text != "" {
				output = text
			}
		}
	}
	if output == "" {
		output = fmt.Sprintf("Task completed by %s agent", t.agent.Name())
	}

	return map[string]any{
		"result":      output,
		"agent_name":  t.agent.Name(),
		"event_count": events,
	}, nil
}

// seedState copies the caller's state, leaving out private keys that start
// with an underscore and invocation scoped temp keys.
func seedState(state agent.ReadonlyState) map[string]any {
	out := make(map[string]any)
	if state == nil {
		return out
	}
	for k, v := range state.All() {
		if strings.HasPrefix(k, "_") || strings.HasPrefix(k, session.KeyPrefixTemp) {
			continue
		}
		out[k] = v
	}
	return out
}

var _ tool.CallableTool = (*agentTool)(nil)
