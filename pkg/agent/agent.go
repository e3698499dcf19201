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

// Package agent defines the agent abstraction, its invocation context and the
// events agents produce.
package agent

import (
	"errors"
	"fmt"
	"iter"
)

// Agent is the unit of work driven by the runner.
type Agent interface {
	Name() string
	Description() string
	Run(InvocationContext) iter.Seq2[*Event, error]
	SubAgents() []Agent
}

// BeforeAgentCallback runs before the agent. Returning non-nil content skips
// the agent and emits that content as its response.
type BeforeAgentCallback func(CallbackContext) (*Content, error)

// AfterAgentCallback runs after the agent. Returning non-nil content emits
// an additional event with that content.
type AfterAgentCallback func(CallbackContext) (*Content, error)

// Config configures an agent built with New.
type Config struct {
	Name        string
	Description string
	SubAgents   []Agent

	BeforeAgentCallbacks []BeforeAgentCallback
	Run                  func(InvocationContext) iter.Seq2[*Event, error]
	AfterAgentCallbacks  []AfterAgentCallback
}

// New creates an agent from a run function and its callbacks.
func New(cfg Config) (Agent, error) {
	if cfg.Name == "" {
		return nil, errors.New("agent name is required")
	}
	if cfg.Run == nil {
		return nil, fmt.Errorf("agent %q: run function is required", cfg.Name)
	}
	seen := make(map[string]bool)
	for _, sub := range cfg.SubAgents {
		if seen[sub.Name()] {
			return nil, fmt.Errorf("agent %q: duplicate sub-agent %q", cfg.Name, sub.Name())
		}
		seen[sub.Name()] = true
	}
	return &baseAgent{cfg: cfg}, nil
}

type baseAgent struct {
	cfg Config
}

func (a *baseAgent) Name() string        { return a.cfg.Name }
func (a *baseAgent) Description() string { return a.cfg.Description }
func (a *baseAgent) SubAgents() []Agent  { return a.cfg.SubAgents }

func (a *baseAgent) Run(ctx InvocationContext) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		ev, pending, err := a.runBefore(ctx)
		if err != nil || ev != nil {
			yield(ev, err)
			return
		}

		for ev, err := range a.cfg.Run(ctx) {
			if err != nil {
				yield(nil, err)
				return
			}
			if ev != nil {
				if ev.Author == "" {
					ev.Author = a.Name()
				}
				if !ev.Partial && len(pending) > 0 {
					mergeDelta(ev, pending)
					pending = nil
				}
			}
			if !yield(ev, nil) {
				return
			}
		}

		if ctx.Ended() {
			return
		}
		if ev, err := a.runAfter(ctx); err != nil || ev != nil {
			yield(ev, err)
		}
	}
}

// runBefore executes the before callbacks. State written by the callbacks is
// returned as a pending delta that rides on the first complete event.
func (a *baseAgent) runBefore(ctx InvocationContext) (*Event, map[string]any, error) {
	if len(a.cfg.BeforeAgentCallbacks) == 0 {
		return nil, nil, nil
	}
	actions := &EventActions{StateDelta: make(map[string]any)}
	cbCtx := NewCallbackContext(ctx, actions)
	for _, cb := range a.cfg.BeforeAgentCallbacks {
		content, err := cb(cbCtx)
		if err != nil {
			return nil, nil, fmt.Errorf("before agent callback of %q: %w", a.Name(), err)
		}
		if content != nil {
			ctx.EndInvocation()
			ev := a.newEvent(ctx, actions)
			ev.Message = content.ToMessage()
			return ev, nil, nil
		}
	}
	return nil, actions.StateDelta, nil
}

// mergeDelta adds pending changes without overriding what the event set itself.
func mergeDelta(ev *Event, pending map[string]any) {
	if ev.Actions.StateDelta == nil {
		ev.Actions.StateDelta = make(map[string]any, len(pending))
	}
	for k, v := range pending {
		if _, ok := ev.Actions.StateDelta[k]; !ok {
			ev.Actions.StateDelta[k] = v
		}
	}
}

func (a *baseAgent) runAfter(ctx InvocationContext) (*Event, error) {
	actions := &EventActions{StateDelta: make(map[string]any)}
	cbCtx := NewCallbackContext(ctx, actions)
	for _, cb := range a.cfg.AfterAgentCallbacks {
		content, err := cb(cbCtx)
		if err != nil {
			return nil, fmt.Errorf("after agent callback of %q: %w", a.Name(), err)
		}
		if content != nil {
			ev := a.newEvent(ctx, actions)
			ev.Message = content.ToMessage()
			return ev, nil
		}
	}
	return nil, nil
}

func (a *baseAgent) newEvent(ctx InvocationContext, actions *EventActions) *Event {
	ev := NewEvent(ctx.InvocationID())
	ev.Author = a.Name()
	ev.Branch = ctx.Branch()
	ev.Actions = *actions
	return ev
}

// FindAgent searches the tree rooted at root for an agent named name.
func FindAgent(root Agent, name string) Agent {
	if root == nil {
		return nil
	}
	if root.Name() == name {
		return root
	}
	for _, sub := range root.SubAgents() {
		if found := FindAgent(sub, name); found != nil {
			return found
		}
	}
	return nil
}

// ListAgents returns every agent in the tree rooted at root, depth first.
func ListAgents(root Agent) []Agent {
	if root == nil {
		return nil
	}
	out := []Agent{root}
	for _, sub := range root.SubAgents() {
		out = append(out, ListAgents(sub)...)
	}
	return out
}
