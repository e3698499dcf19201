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

package model

import (
	"iter"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/kadirpekel/concierge/pkg/tool"
)

// StreamingAggregator accumulates streamed chunks. Every delta is echoed as
// a partial response; Close returns the aggregated response that gets
// persisted.
type StreamingAggregator struct {
	text         string
	toolCalls    []tool.ToolCall
	usage        *Usage
	finishReason FinishReason
}

// NewStreamingAggregator creates an empty aggregator.
func NewStreamingAggregator() *StreamingAggregator {
	return &StreamingAggregator{}
}

// ProcessTextDelta records a text chunk and yields it as a partial response.
func (s *StreamingAggregator) ProcessTextDelta(text string) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		if text == "" {
			return
		}
		s.text += text
		yield(&Response{
			Content: &Content{Parts: []a2a.Part{a2a.TextPart{Text: text}}, Role: a2a.MessageRoleAgent},
			Partial: true,
		}, nil)
	}
}

// ProcessToolCall records a complete tool call and yields it as a partial
// response.
func (s *StreamingAggregator) ProcessToolCall(tc tool.ToolCall) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		s.toolCalls = append(s.toolCalls, tc)
		yield(&Response{
			Content:   &Content{Parts: []a2a.Part{ToolUsePart(tc)}, Role: a2a.MessageRoleAgent},
			Partial:   true,
			ToolCalls: []tool.ToolCall{tc},
		}, nil)
	}
}

func (s *StreamingAggregator) SetUsage(u *Usage)              { s.usage = u }
func (s *StreamingAggregator) SetFinishReason(r FinishReason) { s.finishReason = r }

// Close returns the aggregated response, or nil when nothing was streamed.
func (s *StreamingAggregator) Close() *Response {
	if s.text == "" && len(s.toolCalls) == 0 {
		return nil
	}
	var parts []a2a.Part
	if s.text != "" {
		parts = append(parts, a2a.TextPart{Text: s.text})
	}
	for _, tc := range s.toolCalls {
		parts = append(parts, ToolUsePart(tc))
	}
	reason := s.finishReason
	if len(s.toolCalls) > 0 {
		reason = FinishReasonToolCalls
	}
	return &Response{
		Content:      &Content{Parts: parts, Role: a2a.MessageRoleAgent},
		TurnComplete: true,
		ToolCalls:    s.toolCalls,
		Usage:        s.usage,
		FinishReason: reason,
	}
}
