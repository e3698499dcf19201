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

package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/concierge/pkg/agent"
)

func newSQLiteService(t *testing.T) *SQLService {
	t.Helper()
	svc, err := OpenSQLService("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func services(t *testing.T) map[string]Service {
	return map[string]Service{
		"memory": InMemoryService(),
		"sqlite": newSQLiteService(t),
	}
}

func textEvent(author, text string, delta map[string]any) *agent.Event {
	ev := agent.NewEvent("inv-1")
	ev.Author = author
	ev.Message = a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: text})
	for k, v := range delta {
		ev.Actions.StateDelta[k] = v
	}
	return ev
}

func TestService_CreateGetAppend(t *testing.T) {
	for name, svc := range services(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			created, err := svc.Create(ctx, &CreateRequest{
				AppName:   "routing_app",
				UserID:    "default_user",
				SessionID: "default_session",
				State:     map[string]any{"itinerary": map[string]any{"destination": "Lisbon"}},
			})
			require.NoError(t, err)
			sess := created.Session
			assert.Equal(t, "default_session", sess.ID())

			ev := textEvent("root_agent", "hello", map[string]any{
				"active_agent":   "inspiration_agent",
				"temp:scratch":   "x",
				"user:home_city": "Berlin",
			})
			require.NoError(t, svc.AppendEvent(ctx, sess, ev))

			got, err := svc.Get(ctx, &GetRequest{AppName: "routing_app", UserID: "default_user", SessionID: "default_session"})
			require.NoError(t, err)

			active, err := got.Session.State().Get("active_agent")
			require.NoError(t, err)
			assert.Equal(t, "inspiration_agent", active)

			city, err := got.Session.State().Get("user:home_city")
			require.NoError(t, err)
			assert.Equal(t, "Berlin", city)

			require.Equal(t, 1, got.Session.Events().Len())
			assert.Equal(t, "hello", got.Session.Events().At(0).TextContent())
			assert.Equal(t, "root_agent", got.Session.Events().At(0).Author)
		})
	}
}

func TestService_GetMissing(t *testing.T) {
	for name, svc := range services(t) {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Get(context.Background(), &GetRequest{AppName: "a", UserID: "u", SessionID: "nope"})
			assert.True(t, errors.Is(err, ErrSessionNotFound))
		})
	}
}

func TestService_PartialEventsAreNotStored(t *testing.T) {
	for name, svc := range services(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created, err := svc.Create(ctx, &CreateRequest{AppName: "a", UserID: "u", SessionID: "s"})
			require.NoError(t, err)

			ev := textEvent("root_agent", "chunk", nil)
			ev.Partial = true
			require.NoError(t, svc.AppendEvent(ctx, created.Session, ev))
			assert.Equal(t, 0, created.Session.Events().Len())
		})
	}
}

func TestService_UserStateSharedAcrossSessions(t *testing.T) {
	for name, svc := range services(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, err := svc.Create(ctx, &CreateRequest{AppName: "a", UserID: "u", SessionID: "s1"})
			require.NoError(t, err)
			require.NoError(t, svc.AppendEvent(ctx, first.Session, textEvent("x", "hi", map[string]any{"user:name": "Ada", "app:theme": "dark"})))

			second, err := svc.Create(ctx, &CreateRequest{AppName: "a", UserID: "u", SessionID: "s2"})
			require.NoError(t, err)

			name, err := second.Session.State().Get("user:name")
			require.NoError(t, err)
			assert.Equal(t, "Ada", name)

			theme, err := second.Session.State().Get("app:theme")
			require.NoError(t, err)
			assert.Equal(t, "dark", theme)
		})
	}
}

func TestService_StateDeltaDeletesNilKeys(t *testing.T) {
	for name, svc := range services(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created, err := svc.Create(ctx, &CreateRequest{AppName: "a", UserID: "u", SessionID: "s", State: map[string]any{"task_id": "t1"}})
			require.NoError(t, err)

			require.NoError(t, svc.AppendEvent(ctx, created.Session, textEvent("x", "", map[string]any{"task_id": nil})))

			got, err := svc.Get(ctx, &GetRequest{AppName: "a", UserID: "u", SessionID: "s"})
			require.NoError(t, err)
			_, err = got.Session.State().Get("task_id")
			assert.ErrorIs(t, err, ErrStateKeyNotExist)
		})
	}
}

func TestService_ListAndDelete(t *testing.T) {
	for name, svc := range services(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []string{"b", "a"} {
				_, err := svc.Create(ctx, &CreateRequest{AppName: "app", UserID: "u", SessionID: id})
				require.NoError(t, err)
			}
			_, err := svc.Create(ctx, &CreateRequest{AppName: "app", UserID: "other", SessionID: "c"})
			require.NoError(t, err)

			list, err := svc.List(ctx, &ListRequest{AppName: "app", UserID: "u"})
			require.NoError(t, err)
			require.Len(t, list.Sessions, 2)
			assert.Equal(t, "a", list.Sessions[0].ID())

			require.NoError(t, svc.Delete(ctx, &DeleteRequest{AppName: "app", UserID: "u", SessionID: "a"}))
			_, err = svc.Get(ctx, &GetRequest{AppName: "app", UserID: "u", SessionID: "a"})
			assert.ErrorIs(t, err, ErrSessionNotFound)
		})
	}
}

func TestSQLService_NumRecentEvents(t *testing.T) {
	svc := newSQLiteService(t)
	ctx := context.Background()
	created, err := svc.Create(ctx, &CreateRequest{AppName: "a", UserID: "u", SessionID: "s"})
	require.NoError(t, err)

	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, svc.AppendEvent(ctx, created.Session, textEvent("x", text, nil)))
	}

	got, err := svc.Get(ctx, &GetRequest{AppName: "a", UserID: "u", SessionID: "s", NumRecentEvents: 2})
	require.NoError(t, err)
	require.Equal(t, 2, got.Session.Events().Len())
	assert.Equal(t, "two", got.Session.Events().At(0).TextContent())
	assert.Equal(t, "three", got.Session.Events().At(1).TextContent())
}

func TestSQLService_StaleSession(t *testing.T) {
	svc := newSQLiteService(t)
	ctx := context.Background()
	created, err := svc.Create(ctx, &CreateRequest{AppName: "a", UserID: "u", SessionID: "s"})
	require.NoError(t, err)

	stale := newMemorySession("a", "u", "s", nil, time.Now().Add(-time.Hour))
	err = svc.AppendEvent(ctx, stale, textEvent("x", "late", nil))
	assert.ErrorIs(t, err, ErrStaleSession)

	require.NoError(t, svc.AppendEvent(ctx, created.Session, textEvent("x", "fresh", nil)))
}

func TestSQLService_RoundTripsToolTraffic(t *testing.T) {
	svc := newSQLiteService(t)
	ctx := context.Background()
	created, err := svc.Create(ctx, &CreateRequest{AppName: "a", UserID: "u", SessionID: "s"})
	require.NoError(t, err)

	ev := agent.NewEvent("inv")
	ev.Author = "root_agent"
	ev.Message = a2a.NewMessage(a2a.MessageRoleAgent, a2a.DataPart{Data: map[string]any{
		"type": agent.PartTypeToolUse, "id": "call-1", "name": "send_message",
		"arguments": map[string]any{"agent_name": "inspiration_agent"},
	}})
	ev.ToolCalls = []agent.ToolCallState{{ID: "call-1", Name: "send_message", Status: "pending"}}
	require.NoError(t, svc.AppendEvent(ctx, created.Session, ev))

	got, err := svc.Get(ctx, &GetRequest{AppName: "a", UserID: "u", SessionID: "s"})
	require.NoError(t, err)
	stored := got.Session.Events().At(0)
	require.NotNil(t, stored)
	assert.True(t, stored.HasToolCalls())
	require.Len(t, stored.Message.Parts, 1)
	dp, ok := stored.Message.Parts[0].(a2a.DataPart)
	require.True(t, ok)
	assert.Equal(t, "send_message", dp.Data["name"])
}

func TestNewSQLService_RejectsUnknownDialect(t *testing.T) {
	_, err := NewSQLService(nil, "sqlite")
	assert.Error(t, err)

	svc := &SQLService{dialect: DialectPostgres}
	assert.Equal(t, "SELECT 1 FROM t WHERE a = $1 AND b = $2", svc.q("SELECT 1 FROM t WHERE a = ? AND b = ?"))
}

func TestMemoryState_ClearTempKeys(t *testing.T) {
	st := newMemoryState(map[string]any{"temp:x": 1, "keep": 2})
	st.ClearTempKeys()
	_, err := st.Get("temp:x")
	assert.ErrorIs(t, err, ErrStateKeyNotExist)
	v, err := st.Get("keep")
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}
