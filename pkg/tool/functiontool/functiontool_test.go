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

package functiontool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/concierge/pkg/tool"
)

type sendArgs struct {
	AgentName string `json:"agent_name" jsonschema:"required,description=The name of the remote agent"`
	Task      string `json:"task" jsonschema:"required,description=The task for the remote agent"`
	Priority  int    `json:"priority,omitempty"`
}

func TestNew_ReflectsSchema(t *testing.T) {
	ft, err := New(Config{Name: "send_message", Description: "Sends a task"},
		func(_ tool.Context, args sendArgs) (map[string]any, error) {
			return map[string]any{"agent": args.AgentName, "task": args.Task, "priority": args.Priority}, nil
		})
	require.NoError(t, err)

	s := ft.Schema()
	assert.Equal(t, "object", s["type"])
	props := s["properties"].(map[string]any)
	assert.Contains(t, props, "agent_name")
	assert.Contains(t, props, "priority")
	assert.ElementsMatch(t, []any{"agent_name", "task"}, s["required"])
	assert.Equal(t, "The name of the remote agent", props["agent_name"].(map[string]any)["description"])

	def := tool.ToDefinition(ft)
	assert.Equal(t, "send_message", def.Name)
	assert.Equal(t, s, def.Parameters)
}

func TestCall_DecodesLooseArguments(t *testing.T) {
	ft, err := New(Config{Name: "send_message", Description: "Sends a task"},
		func(_ tool.Context, args sendArgs) (map[string]any, error) {
			return map[string]any{"agent": args.AgentName, "priority": args.Priority}, nil
		})
	require.NoError(t, err)

	out, err := ft.Call(nil, map[string]any{"agent_name": "planner", "priority": float64(3)})
	require.NoError(t, err)
	assert.Equal(t, "planner", out["agent"])
	assert.Equal(t, 3, out["priority"])

	_, err = ft.Call(nil, map[string]any{"priority": "high"})
	assert.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	fn := func(tool.Context, sendArgs) (map[string]any, error) { return nil, nil }
	_, err := New(Config{Description: "d"}, fn)
	assert.Error(t, err)
	_, err = New(Config{Name: "n"}, fn)
	assert.Error(t, err)
	_, err = New[sendArgs](Config{Name: "n", Description: "d"}, nil)
	assert.Error(t, err)
}
