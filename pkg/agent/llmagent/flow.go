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

package llmagent

import (
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/concierge/pkg/agent"
	"github.com/kadirpekel/concierge/pkg/instruction"
	"github.com/kadirpekel/concierge/pkg/model"
	"github.com/kadirpekel/concierge/pkg/observability"
	"github.com/kadirpekel/concierge/pkg/tool"
)

var tracer = observability.Tracer("llmagent")

// flow is one run of the reasoning loop. The session is the source of truth:
// every step rebuilds the request from the persisted events, so the runner
// must append each yielded event before the next step starts.
type flow struct {
	agent *llmAgent
}

func newFlow(a *llmAgent) *flow {
	return &flow{agent: a}
}

func (f *flow) run(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
	return func(yield func(*agent.Event, error) bool) {
		for i := 0; i < f.agent.cfg.MaxIterations; i++ {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			var last *agent.Event
			for ev, err := range f.runOneStep(ctx) {
				if err != nil {
					yield(nil, err)
					return
				}
				if !yield(ev, nil) {
					return
				}
				last = ev
			}

			if last == nil || last.IsFinalResponse() || last.Actions.Escalate || ctx.Ended() {
				return
			}
			if last.Partial {
				yield(nil, fmt.Errorf("unexpected partial event at end of step"))
				return
			}
		}
		yield(nil, fmt.Errorf("reasoning loop safety limit exceeded (%d iterations)", f.agent.cfg.MaxIterations))
	}
}

// runOneStep performs one LLM call followed by the execution of the tools it
// requested.
func (f *flow) runOneStep(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
	return func(yield func(*agent.Event, error) bool) {
		req, err := f.buildRequest(ctx)
		if err != nil {
			yield(nil, err)
			return
		}

		stateDelta := make(map[string]any)
		resp, err := f.callLLM(ctx, req, stateDelta, yield)
		if err != nil {
			yield(nil, err)
			return
		}
		if resp == nil {
			return
		}
		if resp.Content == nil && resp.ErrorCode == "" && !resp.HasToolCalls() {
			return
		}

		if !yield(f.modelEvent(ctx, resp, stateDelta), nil) {
			return
		}
		if !resp.HasToolCalls() {
			return
		}

		toolEvent := f.handleToolCalls(ctx, resp.ToolCalls)
		if !yield(toolEvent, nil) {
			return
		}
		if target := toolEvent.Actions.TransferToAgent; target != "" {
			f.transfer(ctx, target, yield)
		}
	}
}

func (f *flow) buildRequest(ctx agent.InvocationContext) (*model.Request, error) {
	cfg := f.agent.cfg
	req := &model.Request{
		Messages: f.history(ctx),
		Config:   cfg.GenerateConfig.Clone(),
	}

	switch {
	case cfg.InstructionProvider != nil:
		text, err := cfg.InstructionProvider(ctx)
		if err != nil {
			return nil, fmt.Errorf("instruction provider of %q: %w", cfg.Name, err)
		}
		req.SystemInstruction = text
	case cfg.Instruction != "":
		text, err := instruction.InjectState(ctx, cfg.Instruction)
		if err != nil {
			return nil, fmt.Errorf("instruction of %q: %w", cfg.Name, err)
		}
		req.SystemInstruction = text
	}

	for _, t := range cfg.Tools {
		req.Tools = append(req.Tools, tool.ToDefinition(t))
	}

	if cfg.OutputSchema != nil {
		if req.Config == nil {
			req.Config = &model.GenerateConfig{}
		}
		req.Config.ResponseSchema = cfg.OutputSchema
		req.Config.ResponseMIMEType = "application/json"
	}
	return req, nil
}

// history returns the persisted conversation visible from the current branch.
func (f *flow) history(ctx agent.InvocationContext) []*a2a.Message {
	sess := ctx.Session()
	if sess == nil {
		return nil
	}
	var msgs []*a2a.Message
	for ev := range sess.Events().All() {
		if ev.Message == nil || ev.Partial || !belongsToBranch(ctx.Branch(), ev.Branch) {
			continue
		}
		msgs = append(msgs, ev.Message)
	}
	return msgs
}

// belongsToBranch reports whether an event on eventBranch is visible from
// invocationBranch. Ancestors are visible; siblings are not.
func belongsToBranch(invocationBranch, eventBranch string) bool {
	if invocationBranch == "" || eventBranch == "" || eventBranch == invocationBranch {
		return true
	}
	return strings.HasPrefix(invocationBranch, eventBranch+".")
}

func (f *flow) callLLM(
	ctx agent.InvocationContext,
	req *model.Request,
	stateDelta map[string]any,
	yield func(*agent.Event, error) bool,
) (*model.Response, error) {
	cbCtx := agent.NewCallbackContext(ctx, &agent.EventActions{StateDelta: stateDelta})
	for _, cb := range f.agent.cfg.BeforeModelCallbacks {
		resp, err := cb(cbCtx, req)
		if err != nil {
			return nil, fmt.Errorf("before-model callback failed: %w", err)
		}
		if resp != nil {
			return resp, nil
		}
	}

	llm := f.agent.cfg.Model
	spanCtx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrAgentName, f.agent.Name()),
			attribute.String(observability.AttrLLMModel, llm.Name()),
		))
	defer span.End()

	stream := ctx.RunConfig().StreamingMode == agent.StreamingModeSSE
	start := time.Now()
	var final *model.Response
	var llmErr error
	for resp, err := range llm.GenerateContent(spanCtx, req, stream) {
		if err != nil {
			llmErr = err
			break
		}
		if resp == nil {
			continue
		}
		if resp.Partial {
			if !yield(f.partialEvent(ctx, resp), nil) {
				return nil, nil
			}
			continue
		}
		final = resp
	}

	in, out := 0, 0
	if final != nil && final.Usage != nil {
		in, out = final.Usage.PromptTokens, final.Usage.CompletionTokens
		span.SetAttributes(attribute.Int(observability.AttrTokensInput, in), attribute.Int(observability.AttrTokensOutput, out))
	}
	f.agent.cfg.Metrics.RecordLLMCall(ctx, llm.Name(), time.Since(start), in, out, llmErr)

	for _, cb := range f.agent.cfg.AfterModelCallbacks {
		replaced, err := cb(cbCtx, final, llmErr)
		if err != nil {
			return nil, fmt.Errorf("after-model callback failed: %w", err)
		}
		if replaced != nil {
			final, llmErr = replaced, nil
			break
		}
	}
	if llmErr != nil {
		span.RecordError(llmErr)
		span.SetStatus(codes.Error, llmErr.Error())
		return nil, fmt.Errorf("LLM generation failed: %w", llmErr)
	}
	return final, nil
}

func (f *flow) newEvent(ctx agent.InvocationContext) *agent.Event {
	ev := agent.NewEvent(ctx.InvocationID())
	ev.Author = f.agent.Name()
	ev.Branch = ctx.Branch()
	return ev
}

func (f *flow) partialEvent(ctx agent.InvocationContext, resp *model.Response) *agent.Event {
	ev := f.newEvent(ctx)
	ev.Partial = true
	if resp.Content != nil {
		ev.Message = a2a.NewMessage(a2a.MessageRoleAgent, resp.Content.Parts...)
	}
	return ev
}

// modelEvent turns a complete LLM response into an event. Tool calls are
// always carried as tool_use data parts after any text.
func (f *flow) modelEvent(ctx agent.InvocationContext, resp *model.Response, stateDelta map[string]any) *agent.Event {
	ev := f.newEvent(ctx)
	ev.TurnComplete = resp.TurnComplete
	ev.ErrorCode = resp.ErrorCode
	ev.ErrorMessage = resp.ErrorMessage
	ev.Actions.StateDelta = stateDelta

	var parts []a2a.Part
	if resp.Content != nil {
		for _, p := range resp.Content.Parts {
			if dp, ok := p.(a2a.DataPart); ok && dp.Data["type"] == agent.PartTypeToolUse {
				continue
			}
			parts = append(parts, p)
		}
	}
	for _, tc := range resp.ToolCalls {
		ev.ToolCalls = append(ev.ToolCalls, agent.ToolCallState{ID: tc.ID, Name: tc.Name, Args: tc.Args, Status: "working"})
		parts = append(parts, model.ToolUsePart(tc))
	}
	if len(parts) > 0 {
		ev.Message = a2a.NewMessage(a2a.MessageRoleAgent, parts...)
	}

	if key := f.agent.cfg.OutputKey; key != "" && !resp.HasToolCalls() {
		if text := resp.TextContent(); text != "" {
			ev.Actions.StateDelta[key] = f.outputValue(text)
		}
	}
	return ev
}

// outputValue parses structured output so that later tools can read its
// fields from state. Unparseable output is stored as text.
func (f *flow) outputValue(text string) any {
	if f.agent.cfg.OutputSchema == nil {
		return text
	}
	var v map[string]any
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &v); err != nil {
		slog.Warn("Structured output is not valid JSON", "agent", f.agent.Name(), "error", err)
		return text
	}
	return v
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

// handleToolCalls executes every call and merges the results into a single
// user-role event, the shape models expect tool results in.
func (f *flow) handleToolCalls(ctx agent.InvocationContext, calls []tool.ToolCall) *agent.Event {
	ev := f.newEvent(ctx)
	merged := &agent.EventActions{StateDelta: make(map[string]any)}
	var parts []a2a.Part

	for _, tc := range calls {
		var content string
		var isError bool

		t := f.agent.findTool(tc.Name)
		if t == nil {
			content, isError = fmt.Sprintf("Error: tool %q not found", tc.Name), true
		} else {
			toolCtx := newToolContext(ctx, tc.ID)
			result, err := f.callTool(toolCtx, t, tc.Args)
			if err != nil {
				slog.Warn("Tool call failed", "agent", f.agent.Name(), "tool", tc.Name, "error", err)
				content, isError = fmt.Sprintf("Error: %v", err), true
			} else {
				content = formatToolResult(result)
			}
			mergeActions(merged, toolCtx.Actions())
			if t.IsLongRunning() {
				ev.LongRunningToolIDs = append(ev.LongRunningToolIDs, tc.ID)
			}
		}

		status := "success"
		if isError {
			status = "failed"
		}
		ev.ToolResults = append(ev.ToolResults, agent.ToolResultState{
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			Content:    content,
			IsError:    isError,
			Status:     status,
		})
		parts = append(parts, model.ToolResultPart(tc.ID, tc.Name, content, isError))
	}

	ev.Message = a2a.NewMessage(a2a.MessageRoleUser, parts...)
	ev.Actions = *merged
	return ev
}

func (f *flow) callTool(ctx *toolContext, t tool.Tool, args map[string]any) (map[string]any, error) {
	_, span := tracer.Start(ctx, observability.SpanToolExecution,
		trace.WithAttributes(attribute.String(observability.AttrToolName, t.Name())))
	defer span.End()

	start := time.Now()
	result, err := f.executeTool(ctx, t, args)
	f.agent.cfg.Metrics.RecordToolCall(ctx, t.Name(), time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (f *flow) executeTool(ctx *toolContext, t tool.Tool, args map[string]any) (map[string]any, error) {
	for _, cb := range f.agent.cfg.BeforeToolCallbacks {
		result, err := cb(ctx, t, args)
		if err != nil {
			return nil, fmt.Errorf("before-tool callback failed: %w", err)
		}
		if result != nil {
			return result, nil
		}
	}

	callable, ok := t.(tool.CallableTool)
	if !ok {
		return nil, fmt.Errorf("tool %q is not callable", t.Name())
	}
	result, toolErr := callable.Call(ctx, args)

	for _, cb := range f.agent.cfg.AfterToolCallbacks {
		replaced, err := cb(ctx, t, args, result, toolErr)
		if err != nil {
			return nil, fmt.Errorf("after-tool callback failed: %w", err)
		}
		if replaced != nil {
			result, toolErr = replaced, nil
		}
	}
	return result, toolErr
}

// formatToolResult renders a tool result for the model. Results are JSON so
// that structured fields survive the round trip.
func formatToolResult(result map[string]any) string {
	if result == nil {
		return "null"
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(data)
}

func (f *flow) transfer(ctx agent.InvocationContext, name string, yield func(*agent.Event, error) bool) {
	var target agent.Agent
	for _, sub := range f.agent.SubAgents() {
		if sub.Name() == name {
			target = sub
			break
		}
	}
	if target == nil {
		yield(nil, fmt.Errorf("transfer target agent not found: %s", name))
		return
	}
	for ev, err := range target.Run(agent.WithAgent(ctx, target, ctx.Branch())) {
		if !yield(ev, err) || err != nil {
			return
		}
	}
	ctx.EndInvocation()
}
