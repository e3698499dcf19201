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
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/kadirpekel/concierge/pkg/auth"
)

// IdentifierFunc names the caller of a request.
type IdentifierFunc func(r *http.Request) string

// DefaultIdentifier prefers the authenticated user and falls back to the
// client address.
func DefaultIdentifier(r *http.Request) string {
	if user := auth.UserID(r.Context()); user != "" {
		return "user:" + user
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

// Middleware rejects requests over the limit with 429. OPTIONS requests pass
// through uncounted. A nil identify uses DefaultIdentifier.
func Middleware(l *Limiter, identify IdentifierFunc) func(http.Handler) http.Handler {
	if identify == nil {
		identify = DefaultIdentifier
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			id := identify(r)
			result, err := l.Allow(r.Context(), id)
			if err != nil {
				slog.Error("Rate limit check failed", "identifier", id, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			setHeaders(w, result)
			if !result.Allowed {
				slog.Warn("Rate limit exceeded", "identifier", id, "path", r.URL.Path)
				writeLimited(w, result)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func setHeaders(w http.ResponseWriter, result *Result) {
	u := result.mostRestrictive()
	if u == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(u.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(u.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(u.ResetsAt.Unix(), 10))
}

func writeLimited(w http.ResponseWriter, result *Result) {
	retry := int64(result.RetryAfter.Seconds())
	if result.RetryAfter > 0 && retry == 0 {
		retry = 1
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    "rate_limit_exceeded",
			"message": result.Reason,
		},
		"retry_after_seconds": retry,
		"usage":               result.Usages,
	})
}
