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

// Package testutils provides a scripted LLM and other helpers for tests.
package testutils

import (
	"context"
	"errors"
	"iter"
	"sync"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/kadirpekel/concierge/pkg/model"
	"github.com/kadirpekel/concierge/pkg/tool"
)

// ErrScriptExhausted is returned when the LLM is called more often than
// responses were scripted.
var ErrScriptExhausted = errors.New("scripted llm: no more responses")

// ScriptedLLM replays responses in order and records every request.
type ScriptedLLM struct {
	mu        sync.Mutex
	responses []*model.Response
	requests  []*model.Request
}

// NewScriptedLLM returns an LLM that answers the n-th call with responses[n].
func NewScriptedLLM(responses ...*model.Response) *ScriptedLLM {
	return &ScriptedLLM{responses: responses}
}

func (m *ScriptedLLM) Name() string             { return "scripted" }
func (m *ScriptedLLM) Provider() model.Provider { return model.ProviderUnknown }
func (m *ScriptedLLM) Close() error             { return nil }

// GenerateContent returns the next scripted response. In streaming mode
// the text is also replayed as a partial chunk first.
func (m *ScriptedLLM) GenerateContent(_ context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	var resp *model.Response
	if len(m.responses) > 0 {
		resp, m.responses = m.responses[0], m.responses[1:]
	}
	m.mu.Unlock()

	return func(yield func(*model.Response, error) bool) {
		if resp == nil {
			yield(nil, ErrScriptExhausted)
			return
		}
		if stream {
			if text := resp.TextContent(); text != "" {
				partial := &model.Response{
					Content: &model.Content{Parts: []a2a.Part{a2a.TextPart{Text: text}}, Role: a2a.MessageRoleAgent},
					Partial: true,
				}
				if !yield(partial, nil) {
					return
				}
			}
		}
		yield(resp, nil)
	}
}

// Requests returns the requests received so far.
func (m *ScriptedLLM) Requests() []*model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.Request(nil), m.requests...)
}

// Remaining returns the number of unused responses.
func (m *ScriptedLLM) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.responses)
}

// TextResponse is a final text answer.
func TextResponse(text string) *model.Response {
	return &model.Response{
		Content:      &model.Content{Parts: []a2a.Part{a2a.TextPart{Text: text}}, Role: a2a.MessageRoleAgent},
		TurnComplete: true,
		FinishReason: model.FinishReasonStop,
	}
}

// ToolCallResponse requests a single tool call.
func ToolCallResponse(id, name string, args map[string]any) *model.Response {
	tc := tool.ToolCall{ID: id, Name: name, Args: args}
	return &model.Response{
		Content:      &model.Content{Parts: []a2a.Part{model.ToolUsePart(tc)}, Role: a2a.MessageRoleAgent},
		ToolCalls:    []tool.ToolCall{tc},
		TurnComplete: true,
		FinishReason: model.FinishReasonToolCalls,
	}
}

var _ model.LLM = (*ScriptedLLM)(nil)
