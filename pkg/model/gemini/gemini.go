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

// Package gemini implements model.LLM on top of the google.golang.org/genai SDK.
package gemini

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"
	"google.golang.org/genai"

	"github.com/kadirpekel/concierge/pkg/agent"
	"github.com/kadirpekel/concierge/pkg/model"
	"github.com/kadirpekel/concierge/pkg/tool"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gemini-2.5-flash"

// Config contains configuration for the Gemini model.
type Config struct {
	APIKey string
	Model  string

	// Defaults applied when the request config leaves them unset.
	MaxTokens   int
	Temperature float64
}

type geminiModel struct {
	client *genai.Client
	name   string
	config Config
}

// New creates a Gemini model.
func New(ctx context.Context, cfg Config) (model.LLM, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &geminiModel{client: client, name: cfg.Model, config: cfg}, nil
}

func (m *geminiModel) Name() string             { return m.name }
func (m *geminiModel) Provider() model.Provider { return model.ProviderGemini }
func (m *geminiModel) Close() error             { return nil }

func (m *geminiModel) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	if stream {
		return m.generateStream(ctx, req)
	}
	return func(yield func(*model.Response, error) bool) {
		contents := toContents(req.Messages)
		resp, err := m.client.Models.GenerateContent(ctx, m.name, contents, m.buildConfig(req))
		if err != nil {
			yield(nil, fmt.Errorf("gemini generation failed: %w", err))
			return
		}
		yield(parseResponse(resp))
	}
}

func (m *geminiModel) generateStream(ctx context.Context, req *model.Request) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		agg := model.NewStreamingAggregator()
		emitted := make(map[string]bool)
		contents := toContents(req.Messages)

		for chunk, err := range m.client.Models.GenerateContentStream(ctx, m.name, contents, m.buildConfig(req)) {
			if err != nil {
				yield(nil, fmt.Errorf("gemini streaming error: %w", err))
				return
			}
			for resp, err := range processChunk(agg, chunk, emitted) {
				if !yield(resp, err) {
					return
				}
			}
		}
		if final := agg.Close(); final != nil {
			yield(final, nil)
		}
	}
}

// processChunk feeds one streamed chunk through the aggregator. Gemini may
// repeat a function call across chunks, so calls are deduplicated by ID.
func processChunk(agg *model.StreamingAggregator, chunk *genai.GenerateContentResponse, emitted map[string]bool) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		if chunk.UsageMetadata != nil {
			u := chunk.UsageMetadata
			agg.SetUsage(toUsage(u.PromptTokenCount, u.CandidatesTokenCount, u.TotalTokenCount))
		}
		if len(chunk.Candidates) == 0 {
			return
		}
		cand := chunk.Candidates[0]
		if cand.FinishReason != "" {
			agg.SetFinishReason(mapFinishReason(cand.FinishReason))
		}
		if cand.Content == nil {
			return
		}
		for _, part := range cand.Content.Parts {
			if part.Text != "" && !part.Thought {
				for resp, err := range agg.ProcessTextDelta(part.Text) {
					if !yield(resp, err) {
						return
					}
				}
			}
			if part.FunctionCall == nil {
				continue
			}
			tc := toToolCall(part.FunctionCall)
			if emitted[tc.ID] {
				continue
			}
			emitted[tc.ID] = true
			for resp, err := range agg.ProcessToolCall(tc) {
				if !yield(resp, err) {
					return
				}
			}
		}
	}
}

func toToolCall(fc *genai.FunctionCall) tool.ToolCall {
	id := fc.ID
	if id == "" {
		id = stableCallID(fc.Name, fc.Args)
	}
	return tool.ToolCall{ID: id, Name: fc.Name, Args: fc.Args}
}

// stableCallID derives an ID from name and args so that the same call gets
// the same ID in every chunk.
func stableCallID(name string, args map[string]any) string {
	data, _ := json.Marshal(map[string]any{"name": name, "args": args})
	sum := sha256.Sum256(data)
	return fmt.Sprintf("call-%x", sum[:16])
}

func toContents(msgs []*a2a.Message) []*genai.Content {
	var out []*genai.Content
	for _, msg := range msgs {
		if c := messageToContent(msg); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// messageToContent converts an a2a message. Tool traffic carried in data
// parts becomes FunctionCall and FunctionResponse parts.
func messageToContent(msg *a2a.Message) *genai.Content {
	if msg == nil {
		return nil
	}
	var parts []*genai.Part
	for _, p := range msg.Parts {
		switch part := p.(type) {
		case a2a.TextPart:
			if part.Text != "" {
				parts = append(parts, &genai.Part{Text: part.Text})
			}
		case a2a.DataPart:
			if gp := dataPartToGenai(part); gp != nil {
				parts = append(parts, gp)
			}
		case a2a.FilePart:
			if gp := filePartToGenai(part); gp != nil {
				parts = append(parts, gp)
			}
		}
	}
	if len(parts) == 0 {
		return nil
	}
	role := "user"
	if msg.Role == a2a.MessageRoleAgent {
		role = "model"
	}
	return &genai.Content{Parts: parts, Role: role}
}

func dataPartToGenai(part a2a.DataPart) *genai.Part {
	kind, _ := part.Data["type"].(string)
	switch kind {
	case agent.PartTypeToolUse:
		name, _ := part.Data["name"].(string)
		if name == "" {
			return nil
		}
		id, _ := part.Data["id"].(string)
		args, _ := part.Data["arguments"].(map[string]any)
		return &genai.Part{FunctionCall: &genai.FunctionCall{ID: id, Name: name, Args: args}}
	case agent.PartTypeToolResult:
		name, _ := part.Data["tool_name"].(string)
		id, _ := part.Data["tool_call_id"].(string)
		if name == "" && id == "" {
			return nil
		}
		content, _ := part.Data["content"].(string)
		return &genai.Part{FunctionResponse: &genai.FunctionResponse{
			ID:       id,
			Name:     name,
			Response: map[string]any{"result": content},
		}}
	default:
		data, err := json.Marshal(part.Data)
		if err != nil {
			return nil
		}
		return &genai.Part{Text: string(data)}
	}
}

// filePartToGenai goes through JSON so that both inline and URI files are
// read without depending on the concrete file types.
func filePartToGenai(part a2a.FilePart) *genai.Part {
	data, err := json.Marshal(part.File)
	if err != nil {
		return nil
	}
	var f struct {
		MimeType string `json:"mimeType"`
		Bytes    []byte `json:"bytes"`
		URI      string `json:"uri"`
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return nil
	}
	switch {
	case len(f.Bytes) > 0:
		return &genai.Part{InlineData: &genai.Blob{MIMEType: f.MimeType, Data: f.Bytes}}
	case f.URI != "":
		return &genai.Part{FileData: &genai.FileData{MIMEType: f.MimeType, FileURI: f.URI}}
	}
	return nil
}

func (m *geminiModel) buildConfig(req *model.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemInstruction}},
			Role:  "user",
		}
	}
	if gc := req.Config; gc != nil {
		if gc.Temperature != nil {
			cfg.Temperature = genai.Ptr(float32(*gc.Temperature))
		}
		if gc.MaxTokens != nil {
			cfg.MaxOutputTokens = int32(*gc.MaxTokens)
		}
		if gc.TopP != nil {
			cfg.TopP = genai.Ptr(float32(*gc.TopP))
		}
		if gc.TopK != nil {
			cfg.TopK = genai.Ptr(float32(*gc.TopK))
		}
		cfg.StopSequences = gc.StopSequences
		cfg.ResponseMIMEType = gc.ResponseMIMEType
		if gc.ResponseSchema != nil {
			cfg.ResponseSchema = toGenaiSchema(gc.ResponseSchema)
			if cfg.ResponseMIMEType == "" {
				cfg.ResponseMIMEType = "application/json"
			}
		}
	}
	if cfg.Temperature == nil && m.config.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(m.config.Temperature))
	}
	if cfg.MaxOutputTokens == 0 && m.config.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(m.config.MaxTokens)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  toGenaiSchema(t.Parameters),
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return cfg
}

// toGenaiSchema converts a JSON schema map. Gemini expects upper case type
// names.
func toGenaiSchema(s map[string]any) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{}
	if t, ok := s["type"].(string); ok {
		out.Type = genai.Type(strings.ToUpper(t))
	}
	out.Description, _ = s["description"].(string)
	if props, ok := s["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				out.Properties[name] = toGenaiSchema(pm)
			}
		}
	}
	out.Required = stringList(s["required"])
	if items, ok := s["items"].(map[string]any); ok {
		out.Items = toGenaiSchema(items)
	}
	out.Enum = stringList(s["enum"])
	return out
}

func stringList(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		var out []string
		for _, x := range vals {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func parseResponse(resp *genai.GenerateContentResponse) (*model.Response, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, errors.New("empty response from Gemini")
	}
	cand := resp.Candidates[0]
	out := &model.Response{
		TurnComplete: true,
		FinishReason: mapFinishReason(cand.FinishReason),
	}
	if cand.Content != nil {
		var parts []a2a.Part
		for _, part := range cand.Content.Parts {
			if part.Text != "" && !part.Thought {
				parts = append(parts, a2a.TextPart{Text: part.Text})
			}
			if part.FunctionCall != nil {
				tc := toToolCall(part.FunctionCall)
				out.ToolCalls = append(out.ToolCalls, tc)
				parts = append(parts, model.ToolUsePart(tc))
			}
		}
		out.Content = &model.Content{Parts: parts, Role: a2a.MessageRoleAgent}
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = model.FinishReasonToolCalls
	}
	if resp.UsageMetadata != nil {
		u := resp.UsageMetadata
		out.Usage = toUsage(u.PromptTokenCount, u.CandidatesTokenCount, u.TotalTokenCount)
	}
	return out, nil
}

func toUsage(prompt, candidates, total int32) *model.Usage {
	return &model.Usage{
		PromptTokens:     int(prompt),
		CompletionTokens: int(candidates),
		TotalTokens:      int(total),
	}
}

func mapFinishReason(reason genai.FinishReason) model.FinishReason {
	switch reason {
	case genai.FinishReasonMaxTokens:
		return model.FinishReasonLength
	case genai.FinishReasonSafety:
		return model.FinishReasonContent
	default:
		return model.FinishReasonStop
	}
}

var _ model.LLM = (*geminiModel)(nil)
