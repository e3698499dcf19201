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

// Package auth validates JWT bearer tokens against a JWKS endpoint and makes
// the caller's claims available to request handlers.
//
//	server:
//	  auth:
//	    enabled: true
//	    jwks_url: "https://auth.example.com/.well-known/jwks.json"
//	    issuer: "https://auth.example.com"
//	    audience: "concierge"
package auth

import "context"

type contextKey string

const claimsContextKey contextKey = "concierge_auth_claims"

// Claims are the validated claims of a token.
type Claims struct {
	// Subject identifies the user and becomes the session user id.
	Subject string `json:"sub"`
	Email   string `json:"email,omitempty"`
	Role    string `json:"role,omitempty"`

	// Custom holds every claim not mapped above.
	Custom map[string]any `json:"-"`
}

// GetClaim returns a custom claim.
func (c *Claims) GetClaim(key string) (any, bool) {
	if c.Custom == nil {
		return nil, false
	}
	v, ok := c.Custom[key]
	return v, ok
}

// ClaimsFromContext returns the claims stored by the middleware, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	if c, ok := ctx.Value(claimsContextKey).(*Claims); ok {
		return c
	}
	return nil
}

// ContextWithClaims returns ctx carrying claims.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// UserID returns the subject of the authenticated caller, or "".
func UserID(ctx context.Context) string {
	if c := ClaimsFromContext(ctx); c != nil {
		return c.Subject
	}
	return ""
}
