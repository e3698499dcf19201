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

package relay

import (
	"context"
	"iter"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/concierge/pkg/agent"
	"github.com/kadirpekel/concierge/pkg/agent/llmagent"
	"github.com/kadirpekel/concierge/pkg/runner"
	"github.com/kadirpekel/concierge/pkg/session"
	"github.com/kadirpekel/concierge/pkg/testutils"
	"github.com/kadirpekel/concierge/pkg/tool"
	"github.com/kadirpekel/concierge/pkg/tool/functiontool"
)

type lookupArgs struct {
	City string `json:"city" jsonschema:"required,description=City name"`
}

func newRelay(t *testing.T, a agent.Agent) *Relay {
	t.Helper()
	r, err := runner.New(runner.Config{AppName: DefaultAppName, Agent: a, SessionService: session.InMemoryService()})
	require.NoError(t, err)
	return New(r)
}

func newLLMRelay(t *testing.T, llm *testutils.ScriptedLLM) *Relay {
	t.Helper()
	lookup, err := functiontool.New(functiontool.Config{Name: "lookup", Description: "Looks up a city"},
		func(_ tool.Context, args lookupArgs) (map[string]any, error) {
			return map[string]any{"response": map[string]any{"city": args.City, "sunny": true}}, nil
		})
	require.NoError(t, err)
	a, err := llmagent.New(llmagent.Config{Name: "root_agent", Model: llm, Tools: []tool.Tool{lookup}})
	require.NoError(t, err)
	return newRelay(t, a)
}

func TestRespond_ToolCallsAndFinalAnswer(t *testing.T) {
	llm := testutils.NewScriptedLLM(
		testutils.ToolCallResponse("call-1", "lookup", map[string]any{"city": "Lisbon"}),
		testutils.TextResponse("Lisbon is sunny."),
	)
	rel := newLLMRelay(t, llm)
	assert.Equal(t, DefaultAppName, rel.AppName)
	assert.Equal(t, DefaultUserID, rel.UserID)
	assert.Equal(t, DefaultSessionID, rel.SessionID)

	msgs := rel.Collect(context.Background(), "is lisbon nice?")
	require.Len(t, msgs, 3)
	for _, m := range msgs {
		assert.Equal(t, RoleAssistant, m.Role)
	}

	assert.True(t, strings.HasPrefix(msgs[0].Content, "🛠️ **Tool Call: lookup**\n```python\n"))
	assert.Contains(t, msgs[0].Content, `"city": "Lisbon"`)
	assert.Contains(t, msgs[0].Content, `"id": "call-1"`)

	assert.True(t, strings.HasPrefix(msgs[1].Content, "⚡ **Tool Response from lookup**\n```json\n"))
	assert.Contains(t, msgs[1].Content, `"sunny": true`)
	assert.NotContains(t, msgs[1].Content, `"response"`)

	assert.Equal(t, "Lisbon is sunny.", msgs[2].Content)
}

func TestRespond_Error(t *testing.T) {
	rel := newLLMRelay(t, testutils.NewScriptedLLM())
	msgs := rel.Collect(context.Background(), "hello")
	require.Len(t, msgs, 1)
	assert.Equal(t, ErrorMessage, msgs[0].Content)
}

func scriptedAgent(t *testing.T, events ...*agent.Event) agent.Agent {
	t.Helper()
	a, err := agent.New(agent.Config{
		Name: "scripted",
		Run: func(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
			return func(yield func(*agent.Event, error) bool) {
				for _, ev := range events {
					ev.InvocationID = ctx.InvocationID()
					if !yield(ev, nil) {
						return
					}
				}
			}
		},
	})
	require.NoError(t, err)
	return a
}

func TestRespond_Escalation(t *testing.T) {
	ev := agent.NewEvent("")
	ev.Actions.Escalate = true
	ev.ErrorMessage = "needs a human"
	msgs := newRelay(t, scriptedAgent(t, ev)).Collect(context.Background(), "help")
	require.Len(t, msgs, 1)
	assert.Equal(t, "Agent escalated: needs a human", msgs[0].Content)

	bare := agent.NewEvent("")
	bare.Actions.Escalate = true
	msgs = newRelay(t, scriptedAgent(t, bare)).Collect(context.Background(), "help")
	require.Len(t, msgs, 1)
	assert.Equal(t, "Agent escalated: No specific message.", msgs[0].Content)
}

func TestRespond_EmptyFinalEventAndStop(t *testing.T) {
	empty := agent.NewEvent("")
	msgs := newRelay(t, scriptedAgent(t, empty)).Collect(context.Background(), "hi")
	assert.Empty(t, msgs)

	first := agent.NewEvent("")
	first.Message = agent.NewTextContent("first", "agent").ToMessage()
	second := agent.NewEvent("")
	second.Message = agent.NewTextContent("second", "agent").ToMessage()
	msgs = newRelay(t, scriptedAgent(t, first, second)).Collect(context.Background(), "hi")
	require.Len(t, msgs, 1)
	assert.Equal(t, "first", msgs[0].Content)
}

func TestRespond_AgentPanic(t *testing.T) {
	a, err := agent.New(agent.Config{
		Name: "broken",
		Run: func(agent.InvocationContext) iter.Seq2[*agent.Event, error] {
			return func(func(*agent.Event, error) bool) {
				panic("index out of range")
			}
		},
	})
	require.NoError(t, err)

	msgs := newRelay(t, a).Collect(context.Background(), "hi")
	require.Len(t, msgs, 1)
	assert.Equal(t, ErrorMessage, msgs[0].Content)
}

func TestRespond_CallerPanicPropagates(t *testing.T) {
	reply := agent.NewEvent("")
	reply.Message = agent.NewTextContent("hello", "agent").ToMessage()
	rel := newRelay(t, scriptedAgent(t, reply))

	assert.PanicsWithValue(t, "caller failed", func() {
		for range rel.Respond(context.Background(), "hi", nil) {
			panic("caller failed")
		}
	})
}

func TestResponseBody(t *testing.T) {
	assert.Equal(t, "plain", responseBody("plain"))
	assert.Equal(t, map[string]any{"a": 1.0}, responseBody(`{"a":1}`))
	assert.Equal(t, "inner", responseBody(map[string]any{"response": "inner"}))
}
