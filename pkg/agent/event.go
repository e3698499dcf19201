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
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/google/uuid"
)

// Event author constants.
const (
	// AuthorUser marks events produced from user input, including tool results
	// that are fed back to the model.
	AuthorUser = "user"

	// AuthorSystem marks system generated events such as errors.
	AuthorSystem = "system"
)

// Event represents an interaction in an agent conversation.
// Events are yielded by Agent.Run(), persisted by the runner and translated
// to A2A events by the server.
type Event struct {
	ID           string
	Timestamp    time.Time
	InvocationID string

	// Branch isolates conversation history for nested agents.
	// Format: "parent/child".
	Branch string

	// Author is the name of the agent that produced this event, or AuthorUser.
	Author string

	Message *a2a.Message
	Actions EventActions

	// LongRunningToolIDs identifies tools awaiting external completion.
	LongRunningToolIDs []string

	// Partial marks a streaming chunk. Partial events are never persisted.
	Partial      bool
	TurnComplete bool
	Interrupted  bool

	ErrorCode    string
	ErrorMessage string

	ToolCalls   []ToolCallState
	ToolResults []ToolResultState

	CustomMetadata map[string]any
}

// ToolCallState describes a tool invocation requested by the model.
type ToolCallState struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
	Status string         `json:"status"`
}

// ToolResultState describes the outcome of a tool invocation.
type ToolResultState struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
	Status     string `json:"status"`
}

// EventActions captures side effects of an event.
type EventActions struct {
	// StateDelta holds state changes to apply when the event is appended.
	// A nil value deletes the key.
	StateDelta map[string]any

	// SkipSummarization ends the reasoning loop after a tool call,
	// returning the tool result as the final answer.
	SkipSummarization bool

	// TransferToAgent names the agent that should handle the next turn.
	TransferToAgent string

	// Escalate signals that the agent gives up and hands control upward.
	Escalate bool

	// RequireInput pauses the invocation until the user responds.
	RequireInput bool
	InputPrompt  string
}

// NewEvent creates an event for the given invocation.
func NewEvent(invocationID string) *Event {
	return &Event{
		ID:           uuid.NewString(),
		Timestamp:    time.Now(),
		InvocationID: invocationID,
		Actions:      EventActions{StateDelta: make(map[string]any)},
	}
}

// IsFinalResponse reports whether the event ends the agent's turn.
func (e *Event) IsFinalResponse() bool {
	if e.Actions.SkipSummarization || len(e.LongRunningToolIDs) > 0 {
		return true
	}
	if e.Partial {
		return false
	}
	return !e.HasToolCalls() && !e.HasToolResults()
}

// HasToolCalls reports whether the event carries tool calls.
func (e *Event) HasToolCalls() bool {
	if len(e.ToolCalls) > 0 {
		return true
	}
	return e.hasDataPartType(PartTypeToolUse)
}

// HasToolResults reports whether the event carries tool results.
func (e *Event) HasToolResults() bool {
	if len(e.ToolResults) > 0 {
		return true
	}
	return e.hasDataPartType(PartTypeToolResult)
}

func (e *Event) hasDataPartType(kind string) bool {
	if e.Message == nil {
		return false
	}
	for _, part := range e.Message.Parts {
		if dp, ok := part.(a2a.DataPart); ok {
			if t, _ := dp.Data["type"].(string); t == kind {
				return true
			}
		}
	}
	return false
}

// TextContent joins the text parts of the event message.
func (e *Event) TextContent() string {
	if e.Message == nil {
		return ""
	}
	return TextOf(e.Message.Parts)
}

// Data part "type" values used to carry tool traffic inside a2a messages.
const (
	PartTypeToolUse    = "tool_use"
	PartTypeToolResult = "tool_result"
)

// TextOf concatenates all text parts.
func TextOf(parts a2a.ContentParts) string {
	var b strings.Builder
	for _, part := range parts {
		if tp, ok := part.(a2a.TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

// Content is the payload handed to a runner: a role plus a2a parts.
type Content struct {
	Role  string
	Parts []a2a.Part
}

// NewTextContent creates content with a single text part.
func NewTextContent(text, role string) *Content {
	return &Content{
		Role:  role,
		Parts: []a2a.Part{a2a.TextPart{Text: text}},
	}
}

// ToMessage converts the content to an a2a message.
func (c *Content) ToMessage() *a2a.Message {
	role := a2a.MessageRoleUser
	if c.Role == "agent" || c.Role == "model" || c.Role == "assistant" {
		role = a2a.MessageRoleAgent
	}
	return a2a.NewMessage(role, c.Parts...)
}

// Text joins the text parts of the content.
func (c *Content) Text() string {
	if c == nil {
		return ""
	}
	return TextOf(c.Parts)
}
