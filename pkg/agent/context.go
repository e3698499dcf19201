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

package agent

import (
	"context"
	"iter"

	"github.com/google/uuid"
)

/*
InvocationContext represents the context of an agent invocation.

An invocation starts with a user message, ends with a final response and is
driven by runner.Run(). It may span several agent calls, and each agent call
may span several steps (an LLM call followed by tool executions).

	┌─────────────────────── invocation ──────────────────────────┐
	┌──────────── llm_agent_call_1 ────────────┐ ┌─ agent_call_2 ─┐
	┌──── step_1 ────────┐ ┌───── step_2 ──────┐
	[call_llm] [call_tool] [call_llm] [call_tool]
*/
type InvocationContext interface {
	CallbackContext

	Agent() Agent
	Session() Session
	RunConfig() *RunConfig

	// EndInvocation signals that the invocation should stop after the
	// current step.
	EndInvocation()
	Ended() bool
}

// ReadonlyContext provides read-only access to invocation data.
type ReadonlyContext interface {
	context.Context

	InvocationID() string
	AgentName() string
	UserContent() *Content
	ReadonlyState() ReadonlyState
	UserID() string
	AppName() string
	SessionID() string
	Branch() string
}

// CallbackContext adds mutable state to ReadonlyContext.
type CallbackContext interface {
	ReadonlyContext

	State() State
}

// Session is the view of a conversation session that agents see.
// The session package provides the implementations.
type Session interface {
	ID() string
	AppName() string
	UserID() string
	State() State
	Events() Events
}

// State is a mutable key-value store.
type State interface {
	Get(key string) (any, error)
	Set(key string, value any) error
	Delete(key string) error
	All() iter.Seq2[string, any]
}

// TempClearable is implemented by state stores that hold "temp:" keys.
type TempClearable interface {
	ClearTempKeys()
}

// ReadonlyState provides read-only access to session state.
type ReadonlyState interface {
	Get(key string) (any, error)
	All() iter.Seq2[string, any]
}

// Events provides access to session event history.
type Events interface {
	All() iter.Seq[*Event]
	Len() int
	At(i int) *Event
}

// RunConfig contains runtime configuration for an invocation.
type RunConfig struct {
	StreamingMode StreamingMode
}

// StreamingMode controls how model output is streamed.
type StreamingMode string

const (
	StreamingModeNone StreamingMode = "none"
	StreamingModeSSE  StreamingMode = "sse"
)

type invocationContext struct {
	context.Context

	agent        Agent
	session      Session
	invocationID string
	branch       string
	userContent  *Content
	runConfig    *RunConfig
	ended        bool
}

// InvocationContextParams contains parameters for creating an InvocationContext.
type InvocationContextParams struct {
	Session     Session
	Agent       Agent
	Branch      string
	UserContent *Content
	RunConfig   *RunConfig

	// InvocationID is generated when empty.
	InvocationID string
}

// NewInvocationContext creates a new InvocationContext.
func NewInvocationContext(ctx context.Context, params InvocationContextParams) InvocationContext {
	id := params.InvocationID
	if id == "" {
		id = "e-" + uuid.NewString()
	}
	rc := params.RunConfig
	if rc == nil {
		rc = &RunConfig{StreamingMode: StreamingModeNone}
	}
	return &invocationContext{
		Context:      ctx,
		agent:        params.Agent,
		session:      params.Session,
		invocationID: id,
		branch:       params.Branch,
		userContent:  params.UserContent,
		runConfig:    rc,
	}
}

// WithAgent returns a copy of ctx that runs agent a on the given branch.
func WithAgent(ctx InvocationContext, a Agent, branch string) InvocationContext {
	return &invocationContext{
		Context:      ctx,
		agent:        a,
		session:      ctx.Session(),
		invocationID: ctx.InvocationID(),
		branch:       branch,
		userContent:  ctx.UserContent(),
		runConfig:    ctx.RunConfig(),
	}
}

func (c *invocationContext) Agent() Agent          { return c.agent }
func (c *invocationContext) Session() Session      { return c.session }
func (c *invocationContext) InvocationID() string  { return c.invocationID }
func (c *invocationContext) Branch() string        { return c.branch }
func (c *invocationContext) UserContent() *Content { return c.userContent }
func (c *invocationContext) RunConfig() *RunConfig { return c.runConfig }
func (c *invocationContext) EndInvocation()        { c.ended = true }
func (c *invocationContext) Ended() bool           { return c.ended }

func (c *invocationContext) AgentName() string {
	if c.agent != nil {
		return c.agent.Name()
	}
	return ""
}

func (c *invocationContext) ReadonlyState() ReadonlyState {
	if c.session != nil {
		return c.session.State()
	}
	return nil
}

func (c *invocationContext) State() State {
	if c.session != nil {
		return c.session.State()
	}
	return nil
}

func (c *invocationContext) UserID() string {
	if c.session != nil {
		return c.session.UserID()
	}
	return ""
}

func (c *invocationContext) AppName() string {
	if c.session != nil {
		return c.session.AppName()
	}
	return ""
}

func (c *invocationContext) SessionID() string {
	if c.session != nil {
		return c.session.ID()
	}
	return ""
}

// NewCallbackContext wraps an invocation context so that state writes are
// recorded into actions.StateDelta. A nil actions allocates a fresh one.
func NewCallbackContext(invCtx InvocationContext, actions *EventActions) CallbackContext {
	if actions == nil {
		actions = &EventActions{}
	}
	if actions.StateDelta == nil {
		actions.StateDelta = make(map[string]any)
	}
	return &callbackContext{ReadonlyContext: invCtx, invCtx: invCtx, actions: actions}
}

type callbackContext struct {
	ReadonlyContext
	invCtx  InvocationContext
	actions *EventActions
}

func (c *callbackContext) State() State {
	return &trackedState{delta: c.actions.StateDelta, state: c.invCtx.State()}
}

// trackedState writes through to the session state and records every change
// in delta so that it can be persisted with the next event.
type trackedState struct {
	delta map[string]any
	state State
}

// NewTrackedState returns a State that records changes into delta.
func NewTrackedState(state State, delta map[string]any) State {
	return &trackedState{delta: delta, state: state}
}

func (s *trackedState) Get(key string) (any, error) {
	return s.state.Get(key)
}

func (s *trackedState) Set(key string, val any) error {
	s.delta[key] = val
	return s.state.Set(key, val)
}

func (s *trackedState) Delete(key string) error {
	s.delta[key] = nil
	return s.state.Delete(key)
}

func (s *trackedState) All() iter.Seq2[string, any] {
	return s.state.All()
}

var (
	_ InvocationContext = (*invocationContext)(nil)
	_ CallbackContext   = (*callbackContext)(nil)
	_ State             = (*trackedState)(nil)
)
