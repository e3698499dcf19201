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

// Package model defines the LLM interface used by the reasoning loop.
//
// GenerateContent handles both modes with one signature: without streaming
// it yields exactly one complete Response; with streaming it yields partial
// responses (Partial=true) followed by one aggregated Response.
package model

import (
	"context"
	"iter"
	"maps"
	"slices"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/kadirpekel/concierge/pkg/agent"
	"github.com/kadirpekel/concierge/pkg/tool"
)

// LLM is the interface for language models.
type LLM interface {
	Name() string
	Provider() Provider
	GenerateContent(ctx context.Context, req *Request, stream bool) iter.Seq2[*Response, error]
	Close() error
}

// Provider identifies the LLM provider.
type Provider string

const (
	ProviderGemini  Provider = "gemini"
	ProviderUnknown Provider = "unknown"
)

// Request contains the input for an LLM call.
type Request struct {
	Messages          []*a2a.Message
	Tools             []tool.Definition
	Config            *GenerateConfig
	SystemInstruction string
}

// GenerateConfig contains generation parameters. Nil pointers leave the
// provider default in place.
type GenerateConfig struct {
	Temperature   *float64
	MaxTokens     *int
	TopP          *float64
	TopK          *int
	StopSequences []string

	// ResponseMIMEType and ResponseSchema request structured output.
	ResponseMIMEType string
	ResponseSchema   map[string]any
}

// Clone returns a copy that can be modified without affecting c.
func (c *GenerateConfig) Clone() *GenerateConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.StopSequences = slices.Clone(c.StopSequences)
	out.ResponseSchema = maps.Clone(c.ResponseSchema)
	return &out
}

// Response is one unit of model output.
type Response struct {
	Content      *Content
	Partial      bool
	TurnComplete bool
	ToolCalls    []tool.ToolCall
	Usage        *Usage
	FinishReason FinishReason
	ErrorCode    string
	ErrorMessage string
}

// TextContent joins the text parts of the response.
func (r *Response) TextContent() string {
	if r == nil || r.Content == nil {
		return ""
	}
	return agent.TextOf(r.Content.Parts)
}

// HasToolCalls reports whether the model requested tool calls.
func (r *Response) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// Content is the message payload of a response.
type Content struct {
	Parts []a2a.Part
	Role  a2a.MessageRole
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// FinishReason explains why generation stopped.
type FinishReason string

const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonLength    FinishReason = "length"
	FinishReasonToolCalls FinishReason = "tool_calls"
	FinishReasonContent   FinishReason = "content_filter"
	FinishReasonError     FinishReason = "error"
)

// ToolUsePart encodes a tool call as an a2a data part.
func ToolUsePart(tc tool.ToolCall) a2a.DataPart {
	return a2a.DataPart{Data: map[string]any{
		"type":      agent.PartTypeToolUse,
		"id":        tc.ID,
		"name":      tc.Name,
		"arguments": tc.Args,
	}}
}

// ToolResultPart encodes a tool result as an a2a data part.
func ToolResultPart(callID, name, content string, isError bool) a2a.DataPart {
	return a2a.DataPart{Data: map[string]any{
		"type":         agent.PartTypeToolResult,
		"tool_call_id": callID,
		"tool_name":    name,
		"content":      content,
		"is_error":     isError,
	}}
}
