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

// Package relay turns runner events into chat messages for display.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/kadirpekel/concierge/pkg/agent"
	"github.com/kadirpekel/concierge/pkg/runner"
)

// Defaults used by the chat front ends.
const (
	DefaultAppName   = "routing_app"
	DefaultUserID    = "default_user"
	DefaultSessionID = "default_session"
)

// ErrorMessage is shown to the user when a turn fails.
const ErrorMessage = "An error occurred while processing your request. Please check the server logs for details."

// RoleAssistant is the role of every relayed message.
const RoleAssistant = "assistant"

// ChatMessage is one message shown to the user.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Relay runs user messages through a runner and reports what happened as
// chat messages.
type Relay struct {
	Runner    *runner.Runner
	AppName   string
	UserID    string
	SessionID string
}

// New creates a relay with the default user and session.
func New(r *runner.Runner) *Relay {
	return &Relay{
		Runner:    r,
		AppName:   r.AppName(),
		UserID:    DefaultUserID,
		SessionID: DefaultSessionID,
	}
}

// Respond sends message to the agent. Tool calls and tool responses are
// reported as they happen; the sequence ends with the first final answer.
// history is accepted for chat UI compatibility; the session already holds
// the conversation.
func (r *Relay) Respond(ctx context.Context, message string, history []ChatMessage) iter.Seq[ChatMessage] {
	_ = history
	return func(yield func(ChatMessage) bool) {
		content := agent.NewTextContent(message, agent.AuthorUser)
		next, stop := iter.Pull2(r.Runner.Run(ctx, r.UserID, r.SessionID, content, agent.RunConfig{}))
		defer stop()

		for {
			msgs, final, done, err := step(next)
			if err != nil {
				slog.Error("Error in relay", "type", fmt.Sprintf("%T", err), "error", err)
				yield(ChatMessage{Role: RoleAssistant, Content: ErrorMessage})
				return
			}
			for _, msg := range msgs {
				if !yield(msg) {
					return
				}
			}
			if final || done {
				return
			}
		}
	}
}

// step pulls the next runner event and converts it. Panics raised while
// producing or converting the event are returned as errors.
func step(next func() (*agent.Event, error, bool)) (msgs []ChatMessage, final, done bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Relay panicked", "type", fmt.Sprintf("%T", p), "error", p)
			msgs, final, done, err = nil, false, true, fmt.Errorf("panic: %v", p)
		}
	}()

	ev, err, ok := next()
	if !ok {
		return nil, false, true, nil
	}
	if err != nil {
		return nil, false, true, err
	}
	if ev == nil || ev.Partial {
		return nil, false, false, nil
	}
	msgs = toolMessages(ev)
	if ev.IsFinalResponse() {
		if text := finalText(ev); text != "" {
			msgs = append(msgs, ChatMessage{Role: RoleAssistant, Content: text})
		}
		return msgs, true, false, nil
	}
	return msgs, false, false, nil
}

// Collect runs Respond and gathers every message.
func (r *Relay) Collect(ctx context.Context, message string) []ChatMessage {
	var out []ChatMessage
	for msg := range r.Respond(ctx, message, nil) {
		out = append(out, msg)
	}
	return out
}

func toolMessages(ev *agent.Event) []ChatMessage {
	if ev.Message == nil {
		return nil
	}
	var out []ChatMessage
	for _, part := range ev.Message.Parts {
		dp, ok := part.(a2a.DataPart)
		if !ok {
			continue
		}
		kind, _ := dp.Data["type"].(string)
		switch kind {
		case agent.PartTypeToolUse:
			name, _ := dp.Data["name"].(string)
			call := map[string]any{
				"name": name,
				"id":   dp.Data["id"],
				"args": dp.Data["arguments"],
			}
			out = append(out, ChatMessage{
				Role:    RoleAssistant,
				Content: fmt.Sprintf("🛠️ **Tool Call: %s**\n```python\n%s\n```", name, indent(call)),
			})
		case agent.PartTypeToolResult:
			name, _ := dp.Data["tool_name"].(string)
			out = append(out, ChatMessage{
				Role:    RoleAssistant,
				Content: fmt.Sprintf("⚡ **Tool Response from %s**\n```json\n%s\n```", name, indent(responseBody(dp.Data["content"]))),
			})
		}
	}
	return out
}

// responseBody decodes a tool result. A map with a "response" key is
// reduced to that value.
func responseBody(content any) any {
	var v any = content
	if s, ok := content.(string); ok {
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err == nil {
			v = decoded
		}
	}
	if m, ok := v.(map[string]any); ok {
		if resp, ok := m["response"]; ok {
			return resp
		}
	}
	return v
}

func finalText(ev *agent.Event) string {
	if ev.Message != nil && len(ev.Message.Parts) > 0 {
		return ev.TextContent()
	}
	if ev.Actions.Escalate {
		msg := ev.ErrorMessage
		if msg == "" {
			msg = "No specific message."
		}
		return "Agent escalated: " + msg
	}
	return ""
}

func indent(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
	return string(b)
}
