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
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/concierge/pkg/agent/llmagent"
	"github.com/kadirpekel/concierge/pkg/auth"
	"github.com/kadirpekel/concierge/pkg/observability"
	"github.com/kadirpekel/concierge/pkg/ratelimit"
	"github.com/kadirpekel/concierge/pkg/relay"
	"github.com/kadirpekel/concierge/pkg/remote"
	"github.com/kadirpekel/concierge/pkg/runner"
	"github.com/kadirpekel/concierge/pkg/session"
	"github.com/kadirpekel/concierge/pkg/task"
	"github.com/kadirpekel/concierge/pkg/testutils"
)

type staticValidator struct{}

func (staticValidator) ValidateToken(_ context.Context, token string) (*auth.Claims, error) {
	if token != "good" {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Claims{Subject: "traveler-1"}, nil
}

type fixture struct {
	ts     *httptest.Server
	runner *runner.Runner
	card   *a2a.AgentCard
}

func newFixture(t *testing.T, llm *testutils.ScriptedLLM, opts ...Option) *fixture {
	t.Helper()
	root, err := llmagent.New(llmagent.Config{Name: "root_agent", Description: "Travel concierge", Model: llm})
	require.NoError(t, err)
	r, err := runner.New(runner.Config{AppName: relay.DefaultAppName, Agent: root, SessionService: session.InMemoryService()})
	require.NoError(t, err)

	ts := httptest.NewUnstartedServer(nil)
	card := BuildCard(CardConfig{Name: "root_agent", Description: "Travel concierge", URL: "http://" + ts.Listener.Addr().String() + "/"})
	srv := New(Config{}, card, NewExecutor(ExecutorConfig{Runner: r}), append([]Option{WithRelay(relay.New(r))}, opts...)...)
	ts.Config.Handler = srv.Handler()
	ts.Start()
	t.Cleanup(ts.Close)
	return &fixture{ts: ts, runner: r, card: card}
}

func (f *fixture) send(t *testing.T, text string, metadata map[string]any) *a2a.Task {
	t.Helper()
	conn, err := remote.NewConnection(context.Background(), f.card, f.ts.URL)
	require.NoError(t, err)
	defer conn.Close()

	msg := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: text})
	msg.Metadata = metadata
	task, err := conn.SendMessage(context.Background(), &a2a.MessageSendParams{Message: msg})
	require.NoError(t, err)
	require.NotNil(t, task)
	return task
}

func artifactText(task *a2a.Task) string {
	var b strings.Builder
	for _, art := range task.Artifacts {
		for _, part := range art.Parts {
			if tp, ok := part.(a2a.TextPart); ok {
				b.WriteString(tp.Text)
			}
		}
	}
	return b.String()
}

func TestExecutor_CompletesTask(t *testing.T) {
	f := newFixture(t, testutils.NewScriptedLLM(testutils.TextResponse("Try Lisbon")))

	task := f.send(t, "Somewhere sunny in May", map[string]any{"user_id": "traveler-42"})

	assert.Equal(t, a2a.TaskStateCompleted, task.Status.State)
	assert.Equal(t, "Try Lisbon", artifactText(task))

	resp, err := f.runner.SessionService().Get(context.Background(), &session.GetRequest{
		AppName:   relay.DefaultAppName,
		UserID:    "traveler-42",
		SessionID: task.ContextID,
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, resp.Session.Events().Len(), 2)
}

func TestExecutor_PersistsTasks(t *testing.T) {
	svc, err := session.OpenSQLService("sqlite", ":memory:")
	require.NoError(t, err)
	defer svc.Close()
	tasks, err := task.StoreFor(svc)
	require.NoError(t, err)

	f := newFixture(t, testutils.NewScriptedLLM(testutils.TextResponse("Try Porto")), WithTaskStore(tasks))
	sent := f.send(t, "Somewhere by the sea", nil)

	stored, err := tasks.Get(context.Background(), sent.ID)
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCompleted, stored.Status.State)
	assert.Equal(t, "Try Porto", artifactText(stored))
}

func TestExecutor_RunFailureFailsTask(t *testing.T) {
	f := newFixture(t, testutils.NewScriptedLLM())

	task := f.send(t, "hello", nil)

	assert.Equal(t, a2a.TaskStateFailed, task.Status.State)
	require.NotNil(t, task.Status.Message)
	assert.Contains(t, task.Status.Message.Parts[0].(a2a.TextPart).Text, "agent run failed")
}

func TestToInvocationMeta(t *testing.T) {
	msg := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "hi"})
	reqCtx := &a2asrv.RequestContext{Message: msg, ContextID: "ctx-1"}

	meta := toInvocationMeta(context.Background(), reqCtx)
	assert.Equal(t, DefaultUserID, meta.userID)
	assert.Equal(t, "ctx-1", meta.sessionID)

	msg.Metadata = map[string]any{"user_id": "from-metadata"}
	assert.Equal(t, "from-metadata", toInvocationMeta(context.Background(), reqCtx).userID)

	ctx := auth.ContextWithClaims(context.Background(), &auth.Claims{Subject: "from-token"})
	assert.Equal(t, "from-token", toInvocationMeta(ctx, reqCtx).userID)
}

func TestHealthAndCard(t *testing.T) {
	f := newFixture(t, testutils.NewScriptedLLM())

	resp, err := http.Get(f.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	var health map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, err = http.Get(f.ts.URL + a2asrv.WellKnownAgentCardPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	var card a2a.AgentCard
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&card))
	assert.Equal(t, "root_agent", card.Name)
	assert.True(t, card.Capabilities.Streaming)
}

func TestAgentsRoute(t *testing.T) {
	remoteSrv := testutils.NewA2AServer(t, "inspiration_agent", &testutils.ReplyExecutor{Reply: "ok"})
	registry, err := remote.Discover(context.Background(), []string{remoteSrv.URL})
	require.NoError(t, err)
	t.Cleanup(func() { _ = registry.Close() })

	f := newFixture(t, testutils.NewScriptedLLM(), WithRegistry(registry))

	resp, err := http.Get(f.ts.URL + "/agents")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Agents []a2a.AgentCard `json:"agents"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Agents, 1)
	assert.Equal(t, "inspiration_agent", body.Agents[0].Name)
}

// readSSE returns the data payloads of every "message" event.
func readSSE(t *testing.T, r io.Reader) ([]relay.ChatMessage, bool) {
	t.Helper()
	var (
		msgs  []relay.ChatMessage
		event string
		done  bool
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: ") && event == "message":
			var m relay.ChatMessage
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &m))
			msgs = append(msgs, m)
		case strings.HasPrefix(line, "data: ") && event == "done":
			done = true
		}
	}
	require.NoError(t, sc.Err())
	return msgs, done
}

func TestChat_StreamsRelayMessages(t *testing.T) {
	f := newFixture(t, testutils.NewScriptedLLM(testutils.TextResponse("Kyoto in autumn is lovely")))

	resp, err := http.Post(f.ts.URL+"/chat", "application/json", strings.NewReader(`{"message":"inspire me"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	msgs, done := readSSE(t, resp.Body)
	assert.True(t, done)
	require.Len(t, msgs, 1)
	assert.Equal(t, relay.ChatMessage{Role: relay.RoleAssistant, Content: "Kyoto in autumn is lovely"}, msgs[0])
}

func TestChat_BadRequest(t *testing.T) {
	f := newFixture(t, testutils.NewScriptedLLM())

	for _, body := range []string{`not json`, `{"message":""}`} {
		resp, err := http.Post(f.ts.URL+"/chat", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestRateLimit(t *testing.T) {
	limiter, err := ratelimit.New([]ratelimit.Limit{{Window: ratelimit.WindowMinute, Requests: 1}})
	require.NoError(t, err)
	f := newFixture(t, testutils.NewScriptedLLM(), WithRateLimiter(limiter))

	// Bad requests still count against the caller.
	for i, want := range []int{http.StatusBadRequest, http.StatusTooManyRequests} {
		resp, err := http.Post(f.ts.URL+"/chat", "application/json", strings.NewReader(`{"message":""}`))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, want, resp.StatusCode, "request %d", i)
	}

	resp, err := http.Get(f.ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth(t *testing.T) {
	f := newFixture(t, testutils.NewScriptedLLM(testutils.TextResponse("Welcome back")), WithAuth(staticValidator{}))

	for _, path := range []string{"/health", a2asrv.WellKnownAgentCardPath} {
		resp, err := http.Get(f.ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp, err := http.Post(f.ts.URL+"/chat", "application/json", strings.NewReader(`{"message":"hi"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, f.ts.URL+"/chat", strings.NewReader(`{"message":"hi","session_id":"s-1"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer good")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	msgs, _ := readSSE(t, resp.Body)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Welcome back", msgs[0].Content)

	_, err = f.runner.SessionService().Get(context.Background(), &session.GetRequest{
		AppName:   relay.DefaultAppName,
		UserID:    "traveler-1",
		SessionID: "s-1",
	})
	assert.NoError(t, err)
}

func TestMetricsRoute(t *testing.T) {
	m, err := observability.InitMetrics(observability.MetricsConfig{Enabled: true, Namespace: "concierge_test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	f := newFixture(t, testutils.NewScriptedLLM(), WithMetrics(m))

	resp, err := http.Get(f.ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(f.ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "concierge_test")
}

func TestBuildCard(t *testing.T) {
	card := BuildCard(CardConfig{Name: "root_agent", Description: "d", URL: "http://localhost:8083/"})
	assert.Equal(t, "1.0.0", card.Version)
	require.Len(t, card.Skills, 1)
	assert.Equal(t, "root_agent", card.Skills[0].ID)
	assert.Nil(t, card.SecuritySchemes)

	secured := BuildCard(CardConfig{Name: "root_agent", BearerAuth: true})
	require.Contains(t, secured.SecuritySchemes, a2a.SecuritySchemeName("BearerAuth"))
	assert.Len(t, secured.Security, 1)
}

func TestEventProcessor_TerminalPriority(t *testing.T) {
	reqCtx := &a2asrv.RequestContext{TaskID: a2a.NewTaskID(), ContextID: "ctx"}
	p := newEventProcessor(reqCtx, invocationMeta{})

	events := p.makeTerminalEvents()
	require.Len(t, events, 1)
	assert.Equal(t, a2a.TaskStateCompleted, events[0].(*a2a.TaskStatusUpdateEvent).Status.State)

	p.failed = p.makeFailedEvent(errors.New("boom"))
	p.escalate = true
	events = p.makeTerminalEvents()
	final := events[len(events)-1].(*a2a.TaskStatusUpdateEvent)
	assert.Equal(t, a2a.TaskStateFailed, final.Status.State)
	assert.True(t, final.Final)
	assert.Equal(t, true, final.Metadata[metaKeyEscalate])
}
