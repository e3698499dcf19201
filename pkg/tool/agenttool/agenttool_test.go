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

package agenttool_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/concierge/pkg/agent"
	"github.com/kadirpekel/concierge/pkg/agent/llmagent"
	"github.com/kadirpekel/concierge/pkg/runner"
	"github.com/kadirpekel/concierge/pkg/session"
	"github.com/kadirpekel/concierge/pkg/testutils"
	"github.com/kadirpekel/concierge/pkg/tool"
	"github.com/kadirpekel/concierge/pkg/tool/agenttool"
)

func TestAgentTool_RunsChildAndPropagatesOutput(t *testing.T) {
	childLLM := testutils.NewScriptedLLM(testutils.TextResponse(`{"places":[{"name":"Madeira"}]}`))
	child, err := llmagent.New(llmagent.Config{
		Name:         "place_agent",
		Description:  "Suggests destinations",
		Model:        childLLM,
		Instruction:  "Traveler profile: {user_profile}",
		OutputKey:    "place",
		OutputSchema: map[string]any{"type": "object"},
	})
	require.NoError(t, err)

	at, err := agenttool.New(child, nil)
	require.NoError(t, err)
	assert.Equal(t, "place_agent", at.Name())
	assert.Equal(t, []string{"request"}, at.Schema()["required"])

	parentLLM := testutils.NewScriptedLLM(
		testutils.ToolCallResponse("c1", "place_agent", map[string]any{"request": "somewhere warm"}),
		testutils.TextResponse("Try Madeira."),
	)
	parent, err := llmagent.New(llmagent.Config{Name: "inspiration_agent", Model: parentLLM, Tools: []tool.Tool{at}})
	require.NoError(t, err)

	svc := session.InMemoryService()
	_, err = svc.Create(context.Background(), &session.CreateRequest{
		AppName:   "app",
		UserID:    "u1",
		SessionID: "s1",
		State: map[string]any{
			"user_profile": "likes hiking",
			"_private":     "hidden",
		},
	})
	require.NoError(t, err)
	r, err := runner.New(runner.Config{AppName: "app", Agent: parent, SessionService: svc})
	require.NoError(t, err)

	var events []*agent.Event
	for ev, err := range r.Run(context.Background(), "u1", "s1", agent.NewTextContent("inspire me", "user"), agent.RunConfig{}) {
		require.NoError(t, err)
		events = append(events, ev)
	}
	require.Len(t, events, 3)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(events[1].ToolResults[0].Content), &result))
	assert.Equal(t, "place_agent", result["agent_name"])
	assert.Contains(t, result["result"], "Madeira")

	childReq := childLLM.Requests()[0]
	assert.Equal(t, "Traveler profile: likes hiking", childReq.SystemInstruction)
	require.Len(t, childReq.Messages, 1)

	got, err := svc.Get(context.Background(), &session.GetRequest{AppName: "app", UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)
	place, err := got.Session.State().Get("place")
	require.NoError(t, err)
	assert.Equal(t, "Madeira", place.(map[string]any)["places"].([]any)[0].(map[string]any)["name"])
}

func TestAgentTool_RejectsMissingRequest(t *testing.T) {
	child, err := llmagent.New(llmagent.Config{Name: "poi_agent", Model: testutils.NewScriptedLLM()})
	require.NoError(t, err)
	at, err := agenttool.New(child, &agenttool.Config{SkipSummarization: true})
	require.NoError(t, err)

	_, err = at.Call(nil, map[string]any{})
	assert.Error(t, err)

	_, err = agenttool.New(nil, nil)
	assert.Error(t, err)
}
