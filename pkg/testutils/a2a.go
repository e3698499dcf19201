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

package testutils

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/a2aproject/a2a-go/a2asrv/eventqueue"
)

// ReplyExecutor answers every message with a completed task whose status
// message is Reply, or with a bare message when Bare is set. Received
// messages are recorded.
type ReplyExecutor struct {
	Reply string
	Bare  bool

	mu       sync.Mutex
	received []*a2a.Message
}

func (e *ReplyExecutor) Execute(ctx context.Context, reqCtx *a2asrv.RequestContext, q eventqueue.Queue) error {
	e.mu.Lock()
	e.received = append(e.received, reqCtx.Message)
	e.mu.Unlock()

	if e.Bare {
		return q.Write(ctx, a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: e.Reply}))
	}
	if reqCtx.StoredTask == nil {
		if err := q.Write(ctx, a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateSubmitted, nil)); err != nil {
			return err
		}
	}
	msg := a2a.NewMessageForTask(a2a.MessageRoleAgent, reqCtx, a2a.TextPart{Text: e.Reply})
	ev := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateCompleted, msg)
	ev.Final = true
	return q.Write(ctx, ev)
}

func (e *ReplyExecutor) Cancel(ctx context.Context, reqCtx *a2asrv.RequestContext, q eventqueue.Queue) error {
	ev := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateCanceled, nil)
	ev.Final = true
	return q.Write(ctx, ev)
}

// Received returns the messages the executor has seen.
func (e *ReplyExecutor) Received() []*a2a.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*a2a.Message(nil), e.received...)
}

// NewA2AServer serves an agent card named name and a JSON-RPC endpoint
// backed by exec. The server is closed when the test ends.
func NewA2AServer(t *testing.T, name string, exec a2asrv.AgentExecutor) *httptest.Server {
	t.Helper()
	card := &a2a.AgentCard{
		Name:               name,
		Description:        "Test agent " + name,
		Version:            "1.0.0",
		ProtocolVersion:    "0.3.0",
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
		PreferredTransport: a2a.TransportProtocolJSONRPC,
		Skills:             []a2a.AgentSkill{{ID: name, Name: name, Tags: []string{"test"}}},
	}
	mux := http.NewServeMux()
	mux.HandleFunc(a2asrv.WellKnownAgentCardPath, func(w http.ResponseWriter, r *http.Request) {
		a2asrv.NewStaticAgentCardHandler(card).ServeHTTP(w, r)
	})
	mux.Handle("/", a2asrv.NewJSONRPCHandler(a2asrv.NewHandler(exec)))
	srv := httptest.NewServer(mux)
	card.URL = srv.URL + "/"
	t.Cleanup(srv.Close)
	return srv
}
