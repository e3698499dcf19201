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

package task

import (
	"context"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/concierge/pkg/session"
)

func newStore(t *testing.T) *SQLStore {
	t.Helper()
	svc, err := session.OpenSQLService("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	store, err := StoreFor(svc)
	require.NoError(t, err)
	return store
}

func TestSQLStore_SaveAndGet(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	task := &a2a.Task{
		ID:        "task-1",
		ContextID: "ctx-1",
		Status:    a2a.TaskStatus{State: a2a.TaskStateWorking},
		History:   []*a2a.Message{a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "Somewhere warm"})},
	}
	require.NoError(t, store.Save(ctx, task))

	got, err := store.Get(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "ctx-1", got.ContextID)
	assert.Equal(t, a2a.TaskStateWorking, got.Status.State)
	require.Len(t, got.History, 1)
	assert.Equal(t, "Somewhere warm", got.History[0].Parts[0].(a2a.TextPart).Text)
	assert.Empty(t, got.Artifacts)

	task.Status = a2a.TaskStatus{State: a2a.TaskStateCompleted}
	task.Artifacts = []*a2a.Artifact{{ID: "art-1", Parts: a2a.ContentParts{a2a.TextPart{Text: "Try Lisbon"}}}}
	task.Metadata = map[string]any{"author": "root_agent"}
	require.NoError(t, store.Save(ctx, task))

	got, err = store.Get(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCompleted, got.Status.State)
	require.Len(t, got.Artifacts, 1)
	assert.Equal(t, "Try Lisbon", got.Artifacts[0].Parts[0].(a2a.TextPart).Text)
	assert.Equal(t, "root_agent", got.Metadata["author"])
}

func TestSQLStore_NotFound(t *testing.T) {
	store := newStore(t)
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, a2a.ErrTaskNotFound)
}

func TestSQLStore_ListByContext(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	for _, id := range []a2a.TaskID{"a", "b"} {
		require.NoError(t, store.Save(ctx, &a2a.Task{ID: id, ContextID: "trip", Status: a2a.TaskStatus{State: a2a.TaskStateSubmitted}}))
	}
	require.NoError(t, store.Save(ctx, &a2a.Task{ID: "c", ContextID: "other", Status: a2a.TaskStatus{State: a2a.TaskStateSubmitted}}))

	ids, err := store.ListByContext(ctx, "trip")
	require.NoError(t, err)
	assert.ElementsMatch(t, []a2a.TaskID{"a", "b"}, ids)
}

func TestNewSQLStore_Validation(t *testing.T) {
	_, err := NewSQLStore(nil, "sqlite")
	assert.Error(t, err)

	svc, err := session.OpenSQLService("sqlite", ":memory:")
	require.NoError(t, err)
	defer svc.Close()
	_, err = NewSQLStore(svc.DB(), "oracle")
	assert.Error(t, err)
}
