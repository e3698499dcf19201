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

package concierge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/google/uuid"

	"github.com/kadirpekel/concierge/pkg/agent"
	"github.com/kadirpekel/concierge/pkg/tool"
	"github.com/kadirpekel/concierge/pkg/tool/functiontool"
)

// SendMessageArgs are the arguments of the send_message tool.
type SendMessageArgs struct {
	AgentName string `json:"agent_name" jsonschema:"required,description=The name of the remote agent to send the task to"`
	Task      string `json:"task" jsonschema:"required,description=The comprehensive conversation context summary and goal to be achieved regarding the user inquiry"`
}

// SendMessageTool returns the tool the model uses to talk to remote agents.
func (h *Host) SendMessageTool() (tool.CallableTool, error) {
	return functiontool.New(functiontool.Config{
		Name:        "send_message",
		Description: "Sends a task to a remote agent. This will send a message to the remote agent named agent_name.",
	}, h.sendMessage)
}

func (h *Host) sendMessage(ctx tool.Context, args SendMessageArgs) (map[string]any, error) {
	conn, ok := h.registry.Connection(args.AgentName)
	if !ok {
		return nil, fmt.Errorf("agent %s not found", args.AgentName)
	}
	state := ctx.State()
	if err := state.Set(StateActiveAgent, args.AgentName); err != nil {
		return nil, err
	}

	msg := newRemoteMessage(state, args.Task)
	task, err := conn.SendMessage(ctx, &a2a.MessageSendParams{Message: msg})
	if err != nil {
		return nil, err
	}
	if task == nil {
		slog.Info("Received non-task response, aborting get task", "agent", args.AgentName)
		return map[string]any{"result": nil}, nil
	}
	return FlattenTask(task), nil
}

// newRemoteMessage builds the outgoing message for a remote agent. The context
// id and input metadata carry over from session state; a task id is only set
// when the remote already knows the task.
func newRemoteMessage(state agent.ReadonlyState, text string) *a2a.Message {
	msg := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: text})
	if v, ok := lookup(state, StateTaskID); ok {
		msg.TaskID = a2a.TaskID(fmt.Sprint(v))
	}
	if v, ok := lookup(state, StateContextID); ok {
		msg.ContextID = fmt.Sprint(v)
	} else {
		msg.ContextID = uuid.NewString()
	}
	msg.ID = uuid.NewString()
	if meta, ok := lookupMap(state, StateInputMessageMetadata); ok {
		msg.Metadata = make(map[string]any, len(meta))
		for k, v := range meta {
			msg.Metadata[k] = v
		}
		if id, ok := meta["message_id"].(string); ok && id != "" {
			msg.ID = id
		}
	}
	return msg
}

// FlattenTask reduces a task to the fields the model needs.
func FlattenTask(task *a2a.Task) map[string]any {
	artifacts := make([]any, 0, len(task.Artifacts))
	for _, art := range task.Artifacts {
		if art == nil {
			continue
		}
		artifacts = append(artifacts, strings.Join(ConvertParts(art.Parts), "\n"))
	}
	out := map[string]any{
		"id":         string(task.ID),
		"context_id": task.ContextID,
		"state":      string(task.Status.State),
		"artifacts":  artifacts,
	}
	if task.Status.Message != nil {
		out["status_message"] = strings.Join(ConvertParts(task.Status.Message.Parts), "\n")
	}
	return out
}

// ConvertParts converts every part with ConvertPart.
func ConvertParts(parts a2a.ContentParts) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, ConvertPart(p))
	}
	return out
}

// ConvertPart renders a part as text. Data parts become JSON; other kinds
// are reported as unknown.
func ConvertPart(part a2a.Part) string {
	switch p := part.(type) {
	case a2a.TextPart:
		return p.Text
	case *a2a.TextPart:
		return p.Text
	case a2a.DataPart:
		return dataJSON(p.Data)
	case *a2a.DataPart:
		return dataJSON(p.Data)
	case a2a.FilePart, *a2a.FilePart:
		return "Unknown type: file"
	default:
		return fmt.Sprintf("Unknown type: %T", part)
	}
}

func dataJSON(data map[string]any) string {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Sprintf("Unknown type: data (%v)", err)
	}
	return string(b)
}
