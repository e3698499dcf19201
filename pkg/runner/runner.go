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

// Package runner drives agent invocations within sessions: it loads or
// creates the session, records the user message, runs the agent and
// persists every complete event it yields.
package runner

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/concierge/pkg/agent"
	"github.com/kadirpekel/concierge/pkg/observability"
	"github.com/kadirpekel/concierge/pkg/session"
)

var tracer = observability.Tracer("runner")

// Config contains the configuration for creating a Runner.
type Config struct {
	AppName        string
	Agent          agent.Agent
	SessionService session.Service

	// Metrics records agent calls. Nil disables recording.
	Metrics observability.Recorder
}

// Runner executes the root agent for a given user and session.
type Runner struct {
	appName        string
	rootAgent      agent.Agent
	sessionService session.Service
	metrics        observability.Recorder
}

// New creates a Runner. Agent names must be unique across the tree.
func New(cfg Config) (*Runner, error) {
	if cfg.Agent == nil {
		return nil, errors.New("root agent is required")
	}
	if cfg.SessionService == nil {
		return nil, errors.New("session service is required")
	}
	if cfg.AppName == "" {
		return nil, errors.New("app name is required")
	}
	if err := validateTree(cfg.Agent); err != nil {
		return nil, fmt.Errorf("failed to build agent tree: %w", err)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopRecorder{}
	}
	return &Runner{
		appName:        cfg.AppName,
		rootAgent:      cfg.Agent,
		sessionService: cfg.SessionService,
		metrics:        cfg.Metrics,
	}, nil
}

// AppName returns the application the runner stores sessions under.
func (r *Runner) AppName() string { return r.appName }

// SessionService returns the backing session store.
func (r *Runner) SessionService() session.Service { return r.sessionService }

// Run appends content to the session and runs the agent. Partial events are
// yielded but never persisted. An error ends the sequence.
func (r *Runner) Run(ctx context.Context, userID, sessionID string, content *agent.Content, cfg agent.RunConfig) iter.Seq2[*agent.Event, error] {
	return func(yield func(*agent.Event, error) bool) {
		sess, err := r.getOrCreateSession(ctx, userID, sessionID)
		if err != nil {
			yield(nil, err)
			return
		}
		defer clearTempState(sess)

		ag := r.findAgentToRun(sess)
		spanCtx, span := tracer.Start(ctx, observability.SpanAgentRun,
			trace.WithAttributes(attribute.String(observability.AttrAgentName, ag.Name())))
		defer span.End()

		invCtx := agent.NewInvocationContext(spanCtx, agent.InvocationContextParams{
			Agent:       ag,
			Session:     sess,
			UserContent: content,
			RunConfig:   &cfg,
		})
		if err := r.appendUserMessage(ctx, sess, content, invCtx.InvocationID()); err != nil {
			yield(nil, err)
			return
		}

		start := time.Now()
		var runErr error
		defer func() { r.metrics.RecordAgentCall(ctx, ag.Name(), time.Since(start), runErr) }()

		for ev, err := range ag.Run(invCtx) {
			if err != nil {
				runErr = err
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				yield(nil, err)
				return
			}
			if ev == nil {
				continue
			}
			if !ev.Partial {
				if err := r.sessionService.AppendEvent(ctx, sess, ev); err != nil {
					runErr = err
					yield(nil, fmt.Errorf("failed to persist event: %w", err))
					return
				}
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// FindAgent returns the agent named name, or nil.
func (r *Runner) FindAgent(name string) agent.Agent {
	return agent.FindAgent(r.rootAgent, name)
}

// RootAgent returns the agent tree root.
func (r *Runner) RootAgent() agent.Agent { return r.rootAgent }

func (r *Runner) getOrCreateSession(ctx context.Context, userID, sessionID string) (session.Session, error) {
	resp, err := r.sessionService.Get(ctx, &session.GetRequest{
		AppName:   r.appName,
		UserID:    userID,
		SessionID: sessionID,
	})
	if err == nil {
		return resp.Session, nil
	}
	if !errors.Is(err, session.ErrSessionNotFound) {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	created, err := r.sessionService.Create(ctx, &session.CreateRequest{
		AppName:   r.appName,
		UserID:    userID,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return created.Session, nil
}

func (r *Runner) appendUserMessage(ctx context.Context, sess session.Session, content *agent.Content, invocationID string) error {
	if content == nil {
		return nil
	}
	ev := agent.NewEvent(invocationID)
	ev.Author = agent.AuthorUser
	ev.Message = content.ToMessage()
	if err := r.sessionService.AppendEvent(ctx, sess, ev); err != nil {
		return fmt.Errorf("failed to persist user message: %w", err)
	}
	return nil
}

// findAgentToRun resumes the agent that a transfer last handed the
// conversation to, falling back to the root.
func (r *Runner) findAgentToRun(sess session.Session) agent.Agent {
	events := sess.Events()
	for i := events.Len() - 1; i >= 0; i-- {
		ev := events.At(i)
		if ev == nil || ev.Actions.TransferToAgent == "" {
			continue
		}
		if target := r.FindAgent(ev.Actions.TransferToAgent); target != nil {
			return target
		}
		slog.Debug("Transfer target no longer in agent tree", "agent", ev.Actions.TransferToAgent)
		break
	}
	return r.rootAgent
}

func clearTempState(sess session.Session) {
	if c, ok := sess.State().(agent.TempClearable); ok {
		c.ClearTempKeys()
	}
}

// validateTree rejects agent trees with duplicate names, which would make
// transfers ambiguous.
func validateTree(root agent.Agent) error {
	seen := map[string]bool{root.Name(): true}
	var walk func(parent agent.Agent) error
	walk = func(parent agent.Agent) error {
		for _, sub := range parent.SubAgents() {
			if seen[sub.Name()] {
				return fmt.Errorf("duplicate agent name %q", sub.Name())
			}
			seen[sub.Name()] = true
			if err := walk(sub); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(root)
}
