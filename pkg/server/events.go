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

package server

import (
	"errors"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"

	"github.com/kadirpekel/concierge/pkg/agent"
)

// Metadata keys set on the final status event.
const (
	metaKeyEscalate = "concierge:escalate"
	metaKeyTransfer = "concierge:transfer_to_agent"
)

// eventProcessor translates agent events into A2A events.
type eventProcessor struct {
	reqCtx *a2asrv.RequestContext
	meta   invocationMeta

	escalate   bool
	transferTo string

	// responseID is set once the first artifact is sent.
	responseID a2a.ArtifactID

	failed        *a2a.TaskStatusUpdateEvent
	inputRequired *a2a.TaskStatusUpdateEvent
}

func newEventProcessor(reqCtx *a2asrv.RequestContext, meta invocationMeta) *eventProcessor {
	return &eventProcessor{reqCtx: reqCtx, meta: meta}
}

// process returns the artifact update for event, or nil when the event has
// no text to show. Partial chunks are skipped; the complete event follows.
func (p *eventProcessor) process(event *agent.Event) *a2a.TaskArtifactUpdateEvent {
	if event == nil || event.Partial {
		return nil
	}

	p.escalate = p.escalate || event.Actions.Escalate
	if event.Actions.TransferToAgent != "" {
		p.transferTo = event.Actions.TransferToAgent
	}

	if event.ErrorCode != "" && p.failed == nil {
		msg := event.ErrorMessage
		if msg == "" {
			msg = event.ErrorCode
		}
		p.failed = p.makeFailedEvent(errors.New(msg))
	}

	if len(event.LongRunningToolIDs) > 0 || event.Actions.RequireInput {
		var statusMsg *a2a.Message
		if event.Actions.InputPrompt != "" {
			statusMsg = a2a.NewMessageForTask(a2a.MessageRoleAgent, p.reqCtx, a2a.TextPart{Text: event.Actions.InputPrompt})
		}
		ev := a2a.NewStatusUpdateEvent(p.reqCtx, a2a.TaskStateInputRequired, statusMsg)
		ev.Final = true
		ev.Metadata = map[string]any{"input_required": true}
		p.inputRequired = ev
	}

	parts := textParts(event)
	if len(parts) == 0 {
		return nil
	}

	var result *a2a.TaskArtifactUpdateEvent
	if p.responseID == "" {
		result = a2a.NewArtifactEvent(p.reqCtx, parts...)
		p.responseID = result.Artifact.ID
	} else {
		result = a2a.NewArtifactUpdateEvent(p.reqCtx, p.responseID, parts...)
	}
	result.Metadata = map[string]any{"author": event.Author, "event_id": event.ID}
	return result
}

// makeTerminalEvents closes the artifact stream and picks the final status:
// Failed, then InputRequired, then Completed.
func (p *eventProcessor) makeTerminalEvents() []a2a.Event {
	result := make([]a2a.Event, 0, 2)

	if p.responseID != "" {
		ev := a2a.NewArtifactUpdateEvent(p.reqCtx, p.responseID)
		ev.LastChunk = true
		result = append(result, ev)
	}

	final := p.failed
	if final == nil {
		final = p.inputRequired
	}
	if final == nil {
		final = a2a.NewStatusUpdateEvent(p.reqCtx, a2a.TaskStateCompleted, nil)
		final.Final = true
	}
	final.Metadata = p.actionsMeta(final.Metadata)
	return append(result, final)
}

func (p *eventProcessor) makeFailedEvent(cause error) *a2a.TaskStatusUpdateEvent {
	msg := a2a.NewMessageForTask(a2a.MessageRoleAgent, p.reqCtx, a2a.TextPart{Text: cause.Error()})
	ev := a2a.NewStatusUpdateEvent(p.reqCtx, a2a.TaskStateFailed, msg)
	ev.Final = true
	return ev
}

func (p *eventProcessor) actionsMeta(meta map[string]any) map[string]any {
	if !p.escalate && p.transferTo == "" {
		return meta
	}
	if meta == nil {
		meta = make(map[string]any)
	}
	if p.escalate {
		meta[metaKeyEscalate] = true
	}
	if p.transferTo != "" {
		meta[metaKeyTransfer] = p.transferTo
	}
	return meta
}

// textParts returns the user-visible parts of event. Tool traffic stays in
// the session and is not published as artifact content.
func textParts(event *agent.Event) []a2a.Part {
	if event.Message == nil {
		return nil
	}
	var parts []a2a.Part
	for _, part := range event.Message.Parts {
		if tp, ok := part.(a2a.TextPart); ok && tp.Text != "" {
			parts = append(parts, tp)
		}
	}
	return parts
}
