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

package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/concierge/pkg/auth"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newLimiter(t *testing.T, limits ...Limit) (*Limiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)}
	l, err := New(limits, WithClock(clock.now))
	require.NoError(t, err)
	return l, clock
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		limits []Limit
	}{
		{"no limits", nil},
		{"bad window", []Limit{{Window: "fortnight", Requests: 1}}},
		{"zero requests", []Limit{{Window: WindowMinute}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.limits)
			assert.Error(t, err)
		})
	}
}

func TestLimiter_Allow(t *testing.T) {
	l, clock := newLimiter(t, Limit{Window: WindowMinute, Requests: 2}, Limit{Window: WindowHour, Requests: 3})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := l.Allow(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}

	res, err := l.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "minute")
	assert.Equal(t, time.Minute, res.RetryAfter)
	assert.Equal(t, int64(2), res.Usages[0].Current, "rejected requests are not counted")

	other, err := l.Allow(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	clock.advance(time.Minute)
	res, err = l.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(0), res.Usages[1].Remaining)

	clock.advance(time.Minute)
	res, err = l.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "hour")
}

func TestLimiter_EmptyIdentifier(t *testing.T) {
	l, _ := newLimiter(t, Limit{Window: WindowMinute, Requests: 1})
	_, err := l.Allow(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyIdentifier)
}

func TestLimiter_ResetAndPrune(t *testing.T) {
	l, clock := newLimiter(t, Limit{Window: WindowMinute, Requests: 1})
	ctx := context.Background()

	_, _ = l.Allow(ctx, "alice")
	_, _ = l.Allow(ctx, "bob")
	l.Reset("alice")
	res, err := l.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	assert.Equal(t, 2, l.Prune())
	clock.advance(2 * time.Minute)
	assert.Equal(t, 0, l.Prune())
}

func TestMiddleware(t *testing.T) {
	l, _ := newLimiter(t, Limit{Window: WindowMinute, Requests: 1})
	h := Middleware(l, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(method string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/chat", nil)
		req.RemoteAddr = "10.0.0.7:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := send(http.MethodPost)
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, send(http.MethodOptions).Code)

	second := send(http.MethodPost)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
		RetryAfter int64 `json:"retry_after_seconds"`
	}
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &body))
	assert.Equal(t, "rate_limit_exceeded", body.Error.Code)
	assert.Equal(t, int64(60), body.RetryAfter)
}

func TestDefaultIdentifier(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.5:1234"
	assert.Equal(t, "addr:192.168.1.5", DefaultIdentifier(req))

	ctx := auth.ContextWithClaims(req.Context(), &auth.Claims{Subject: "traveler-1"})
	assert.Equal(t, "user:traveler-1", DefaultIdentifier(req.WithContext(ctx)))
}
