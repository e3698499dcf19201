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

package agent_test

import (
	"context"
	"iter"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/concierge/pkg/agent"
	"github.com/kadirpekel/concierge/pkg/session"
)

func replyAgent(t *testing.T, name string, cfg agent.Config) agent.Agent {
	t.Helper()
	cfg.Name = name
	cfg.Run = func(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
		return func(yield func(*agent.Event, error) bool) {
			partial := agent.NewEvent(ctx.InvocationID())
			partial.Partial = true
			if !yield(partial, nil) {
				return
			}
			ev := agent.NewEvent(ctx.InvocationID())
			ev.Message = a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: "hello from " + name})
			yield(ev, nil)
		}
	}
	a, err := agent.New(cfg)
	require.NoError(t, err)
	return a
}

func invocation(t *testing.T, a agent.Agent) agent.InvocationContext {
	t.Helper()
	resp, err := session.InMemoryService().Create(context.Background(), &session.CreateRequest{AppName: "app", UserID: "u"})
	require.NoError(t, err)
	return agent.NewInvocationContext(context.Background(), agent.InvocationContextParams{Agent: a, Session: resp.Session})
}

func collect(t *testing.T, seq iter.Seq2[*agent.Event, error]) []*agent.Event {
	t.Helper()
	var out []*agent.Event
	for ev, err := range seq {
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	_, err := agent.New(agent.Config{})
	assert.Error(t, err)

	_, err = agent.New(agent.Config{Name: "x"})
	assert.Error(t, err)

	sub := replyAgent(t, "sub", agent.Config{})
	_, err = agent.New(agent.Config{
		Name:      "root",
		SubAgents: []agent.Agent{sub, sub},
		Run:       func(agent.InvocationContext) iter.Seq2[*agent.Event, error] { return nil },
	})
	assert.Error(t, err)
}

func TestRun_BeforeCallbackStateRidesOnFirstCompleteEvent(t *testing.T) {
	a := replyAgent(t, "root", agent.Config{
		BeforeAgentCallbacks: []agent.BeforeAgentCallback{
			func(ctx agent.CallbackContext) (*agent.Content, error) {
				return nil, ctx.State().Set("itinerary", map[string]any{"destination": "Oslo"})
			},
		},
	})
	ctx := invocation(t, a)
	events := collect(t, a.Run(ctx))
	require.Len(t, events, 2)

	assert.True(t, events[0].Partial)
	assert.Empty(t, events[0].Actions.StateDelta)
	assert.Equal(t, "root", events[1].Author)
	assert.Contains(t, events[1].Actions.StateDelta, "itinerary")

	v, err := ctx.Session().State().Get("itinerary")
	require.NoError(t, err)
	assert.Equal(t, "Oslo", v.(map[string]any)["destination"])
}

func TestRun_BeforeCallbackShortCircuits(t *testing.T) {
	a := replyAgent(t, "root", agent.Config{
		BeforeAgentCallbacks: []agent.BeforeAgentCallback{
			func(agent.CallbackContext) (*agent.Content, error) {
				return agent.NewTextContent("blocked", "agent"), nil
			},
		},
		AfterAgentCallbacks: []agent.AfterAgentCallback{
			func(agent.CallbackContext) (*agent.Content, error) {
				return agent.NewTextContent("after", "agent"), nil
			},
		},
	})
	ctx := invocation(t, a)
	events := collect(t, a.Run(ctx))
	require.Len(t, events, 1)
	assert.Equal(t, "blocked", events[0].TextContent())
	assert.Equal(t, a2a.MessageRoleAgent, events[0].Message.Role)
	assert.True(t, ctx.Ended())
}

func TestRun_AfterCallbackAddsEvent(t *testing.T) {
	a := replyAgent(t, "root", agent.Config{
		AfterAgentCallbacks: []agent.AfterAgentCallback{
			func(agent.CallbackContext) (*agent.Content, error) {
				return agent.NewTextContent("bye", "agent"), nil
			},
		},
	})
	events := collect(t, a.Run(invocation(t, a)))
	require.Len(t, events, 3)
	assert.Equal(t, "bye", events[2].TextContent())
}

func TestEvent_IsFinalResponse(t *testing.T) {
	ev := agent.NewEvent("inv")
	ev.Message = a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: "hi"})
	assert.True(t, ev.IsFinalResponse())

	ev.Partial = true
	assert.False(t, ev.IsFinalResponse())

	call := agent.NewEvent("inv")
	call.Message = a2a.NewMessage(a2a.MessageRoleAgent, a2a.DataPart{Data: map[string]any{"type": agent.PartTypeToolUse}})
	assert.True(t, call.HasToolCalls())
	assert.False(t, call.IsFinalResponse())

	call.Actions.SkipSummarization = true
	assert.True(t, call.IsFinalResponse())
}

func TestFindAndListAgents(t *testing.T) {
	leaf := replyAgent(t, "leaf", agent.Config{})
	mid := replyAgent(t, "mid", agent.Config{SubAgents: []agent.Agent{leaf}})
	root := replyAgent(t, "root", agent.Config{SubAgents: []agent.Agent{mid}})

	assert.Equal(t, leaf, agent.FindAgent(root, "leaf"))
	assert.Nil(t, agent.FindAgent(root, "nobody"))

	var names []string
	for _, a := range agent.ListAgents(root) {
		names = append(names, a.Name())
	}
	assert.Equal(t, []string{"root", "mid", "leaf"}, names)
}

func TestContent_ToMessage(t *testing.T) {
	msg := agent.NewTextContent("hi", "model").ToMessage()
	assert.Equal(t, a2a.MessageRoleAgent, msg.Role)
	assert.Equal(t, "hi", agent.TextOf(msg.Parts))

	msg = agent.NewTextContent("hi", "user").ToMessage()
	assert.Equal(t, a2a.MessageRoleUser, msg.Role)
}
