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

package instruction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/concierge/pkg/agent"
	"github.com/kadirpekel/concierge/pkg/session"
)

func newContext(t *testing.T, state map[string]any) agent.ReadonlyContext {
	t.Helper()
	resp, err := session.InMemoryService().Create(context.Background(), &session.CreateRequest{
		AppName: "routing_app",
		UserID:  "u1",
		State:   state,
	})
	require.NoError(t, err)
	return agent.NewInvocationContext(context.Background(), agent.InvocationContextParams{
		Session: resp.Session,
	})
}

func TestInjectState(t *testing.T) {
	ctx := newContext(t, map[string]any{
		"destination":  "Kyoto",
		"user:name":    "Ada",
		"app:version":  2,
		"temp:scratch": "tmp",
	})

	tests := []struct {
		name     string
		template string
		want     string
		wantErr  bool
	}{
		{name: "session key", template: "Going to {destination}.", want: "Going to Kyoto."},
		{name: "scoped keys", template: "{user:name} on v{app:version}", want: "Ada on v2"},
		{name: "optional missing", template: "[{budget?}]", want: "[]"},
		{name: "required missing", template: "{budget}", wantErr: true},
		{name: "invalid identifier stays literal", template: `{"name": "x"}`, want: `{"name": "x"}`},
		{name: "unknown prefix stays literal", template: "{foo:bar}", want: "{foo:bar}"},
		{name: "whitespace trimmed", template: "{ destination }", want: "Kyoto"},
		{name: "empty", template: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := InjectState(ctx, tt.template)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
