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

// Package server exposes an agent over the A2A protocol and serves the chat
// relay over HTTP.
//
//	exec := server.NewExecutor(server.ExecutorConfig{Runner: r})
//	card := server.BuildCard(server.CardConfig{Name: "root_agent", URL: url})
//	srv := server.New(server.Config{Port: 8083}, card, exec,
//	    server.WithRelay(relay.New(r)),
//	    server.WithRegistry(registry))
//	err := srv.Start(ctx)
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/a2aproject/a2a-go/a2asrv/eventqueue"

	"github.com/kadirpekel/concierge/pkg/agent"
	"github.com/kadirpekel/concierge/pkg/auth"
	"github.com/kadirpekel/concierge/pkg/runner"
)

// DefaultUserID is the session user of unauthenticated calls that carry no
// user_id metadata.
const DefaultUserID = "default"

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	Runner    *runner.Runner
	RunConfig agent.RunConfig
}

// Executor implements a2asrv.AgentExecutor on top of a runner.
//
// Event translation:
//   - new task: Submitted
//   - before the run: Working
//   - agent text: an artifact, appended to on later events
//   - after the run: the artifact is closed with LastChunk
//   - then exactly one final status: Failed, InputRequired or Completed
type Executor struct {
	runner    *runner.Runner
	runConfig agent.RunConfig
}

// NewExecutor creates an Executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	return &Executor{runner: cfg.Runner, runConfig: cfg.RunConfig}
}

// Execute implements a2asrv.AgentExecutor.
func (e *Executor) Execute(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	msg := reqCtx.Message
	if msg == nil {
		return errors.New("message not provided")
	}

	if reqCtx.StoredTask == nil {
		event := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateSubmitted, nil)
		if err := queue.Write(ctx, event); err != nil {
			return fmt.Errorf("failed to write submitted event: %w", err)
		}
	}

	meta := toInvocationMeta(ctx, reqCtx)
	slog.Debug("Executing A2A request", "user", meta.userID, "session", meta.sessionID, "task", reqCtx.TaskID)

	working := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateWorking, nil)
	if err := queue.Write(ctx, working); err != nil {
		return fmt.Errorf("failed to write working event: %w", err)
	}

	content := &agent.Content{Role: agent.AuthorUser, Parts: msg.Parts}
	processor := newEventProcessor(reqCtx, meta)

	for event, err := range e.runner.Run(ctx, meta.userID, meta.sessionID, content, e.runConfig) {
		if err != nil {
			slog.Error("Agent run failed", "session", meta.sessionID, "error", err)
			return queue.Write(ctx, processor.makeFailedEvent(fmt.Errorf("agent run failed: %w", err)))
		}
		if update := processor.process(event); update != nil {
			if err := queue.Write(ctx, update); err != nil {
				return fmt.Errorf("failed to write artifact event: %w", err)
			}
		}
	}

	for _, ev := range processor.makeTerminalEvents() {
		if err := queue.Write(ctx, ev); err != nil {
			return fmt.Errorf("failed to write terminal event: %w", err)
		}
	}
	return nil
}

// Cancel implements a2asrv.AgentExecutor.
func (e *Executor) Cancel(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	event := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateCanceled, nil)
	event.Final = true
	return queue.Write(ctx, event)
}

type invocationMeta struct {
	userID    string
	sessionID string
}

// toInvocationMeta maps the A2A context onto a session. The authenticated
// caller wins over the user_id message metadata.
func toInvocationMeta(ctx context.Context, reqCtx *a2asrv.RequestContext) invocationMeta {
	meta := invocationMeta{sessionID: reqCtx.ContextID}

	if callCtx, ok := a2asrv.CallContextFrom(ctx); ok {
		if user := auth.UserFromCallContext(callCtx); user != nil {
			meta.userID = user.Name()
		}
	}
	if meta.userID == "" {
		meta.userID = auth.UserID(ctx)
	}
	if meta.userID == "" && reqCtx.Message != nil {
		if uid, ok := reqCtx.Message.Metadata["user_id"].(string); ok {
			meta.userID = uid
		}
	}
	if meta.userID == "" {
		meta.userID = DefaultUserID
	}
	return meta
}

var _ a2asrv.AgentExecutor = (*Executor)(nil)
