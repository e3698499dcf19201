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

package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/kadirpekel/concierge/pkg/agent"
)

// eventRecord is the persisted shape of an agent.Event.
type eventRecord struct {
	ID                 string                  `json:"id"`
	Timestamp          time.Time               `json:"timestamp"`
	InvocationID       string                  `json:"invocation_id,omitempty"`
	Branch             string                  `json:"branch,omitempty"`
	Author             string                  `json:"author,omitempty"`
	Role               string                  `json:"role,omitempty"`
	Parts              json.RawMessage         `json:"parts,omitempty"`
	MessageMetadata    map[string]any          `json:"message_metadata,omitempty"`
	StateDelta         map[string]any          `json:"state_delta,omitempty"`
	SkipSummarization  bool                    `json:"skip_summarization,omitempty"`
	TransferToAgent    string                  `json:"transfer_to_agent,omitempty"`
	Escalate           bool                    `json:"escalate,omitempty"`
	RequireInput       bool                    `json:"require_input,omitempty"`
	InputPrompt        string                  `json:"input_prompt,omitempty"`
	LongRunningToolIDs []string                `json:"long_running_tool_ids,omitempty"`
	TurnComplete       bool                    `json:"turn_complete,omitempty"`
	Interrupted        bool                    `json:"interrupted,omitempty"`
	ErrorCode          string                  `json:"error_code,omitempty"`
	ErrorMessage       string                  `json:"error_message,omitempty"`
	ToolCalls          []agent.ToolCallState   `json:"tool_calls,omitempty"`
	ToolResults        []agent.ToolResultState `json:"tool_results,omitempty"`
	CustomMetadata     map[string]any          `json:"custom_metadata,omitempty"`
}

func encodeEvent(ev *agent.Event) ([]byte, error) {
	rec := eventRecord{
		ID:                 ev.ID,
		Timestamp:          ev.Timestamp,
		InvocationID:       ev.InvocationID,
		Branch:             ev.Branch,
		Author:             ev.Author,
		StateDelta:         trimTemp(ev.Actions.StateDelta),
		SkipSummarization:  ev.Actions.SkipSummarization,
		TransferToAgent:    ev.Actions.TransferToAgent,
		Escalate:           ev.Actions.Escalate,
		RequireInput:       ev.Actions.RequireInput,
		InputPrompt:        ev.Actions.InputPrompt,
		LongRunningToolIDs: ev.LongRunningToolIDs,
		TurnComplete:       ev.TurnComplete,
		Interrupted:        ev.Interrupted,
		ErrorCode:          ev.ErrorCode,
		ErrorMessage:       ev.ErrorMessage,
		ToolCalls:          ev.ToolCalls,
		ToolResults:        ev.ToolResults,
		CustomMetadata:     ev.CustomMetadata,
	}
	if ev.Message != nil {
		rec.Role = string(ev.Message.Role)
		rec.MessageMetadata = ev.Message.Metadata
		if len(ev.Message.Parts) > 0 {
			parts, err := json.Marshal(ev.Message.Parts)
			if err != nil {
				return nil, fmt.Errorf("marshal message parts: %w", err)
			}
			rec.Parts = parts
		}
	}
	return json.Marshal(rec)
}

func decodeEvent(data []byte) (*agent.Event, error) {
	var rec eventRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	ev := &agent.Event{
		ID:           rec.ID,
		Timestamp:    rec.Timestamp,
		InvocationID: rec.InvocationID,
		Branch:       rec.Branch,
		Author:       rec.Author,
		Actions: agent.EventActions{
			StateDelta:        rec.StateDelta,
			SkipSummarization: rec.SkipSummarization,
			TransferToAgent:   rec.TransferToAgent,
			Escalate:          rec.Escalate,
			RequireInput:      rec.RequireInput,
			InputPrompt:       rec.InputPrompt,
		},
		LongRunningToolIDs: rec.LongRunningToolIDs,
		TurnComplete:       rec.TurnComplete,
		Interrupted:        rec.Interrupted,
		ErrorCode:          rec.ErrorCode,
		ErrorMessage:       rec.ErrorMessage,
		ToolCalls:          rec.ToolCalls,
		ToolResults:        rec.ToolResults,
		CustomMetadata:     rec.CustomMetadata,
	}
	if len(rec.Parts) > 0 {
		parts, err := decodeParts(rec.Parts)
		if err != nil {
			return nil, err
		}
		if len(parts) > 0 {
			ev.Message = &a2a.Message{
				Role:     a2a.MessageRole(rec.Role),
				Parts:    parts,
				Metadata: rec.MessageMetadata,
			}
		}
	}
	return ev, nil
}

func decodeParts(data json.RawMessage) (a2a.ContentParts, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("unmarshal parts: %w", err)
	}
	var parts a2a.ContentParts
	for _, raw := range raws {
		var peek struct {
			Kind string `json:"kind"`
		}
		if err := json.Unmarshal(raw, &peek); err != nil {
			return nil, fmt.Errorf("peek part kind: %w", err)
		}
		switch peek.Kind {
		case "text":
			var p a2a.TextPart
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, err
			}
			parts = append(parts, p)
		case "data":
			var p a2a.DataPart
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, err
			}
			parts = append(parts, p)
		case "file":
			var p a2a.FilePart
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, err
			}
			parts = append(parts, p)
		default:
			slog.Debug("Skipping unknown part kind", "kind", peek.Kind)
		}
	}
	return parts, nil
}

func trimTemp(delta map[string]any) map[string]any {
	if len(delta) == 0 {
		return nil
	}
	out := make(map[string]any, len(delta))
	for k, v := range delta {
		if strings.HasPrefix(k, KeyPrefixTemp) {
			continue
		}
		out[k] = v
	}
	return out
}
