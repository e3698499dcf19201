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

package auth

import (
	"context"

	"github.com/a2aproject/a2a-go/a2asrv"
)

// Interceptor copies the claims stored by Middleware onto the a2a-go call
// context so that agent executors see the authenticated user.
type Interceptor struct {
	// RequireAuth rejects calls that arrive without claims.
	RequireAuth bool
}

// NewInterceptor creates an Interceptor.
func NewInterceptor(requireAuth bool) *Interceptor {
	return &Interceptor{RequireAuth: requireAuth}
}

// Before implements a2asrv.CallInterceptor.
func (i *Interceptor) Before(ctx context.Context, callCtx *a2asrv.CallContext, _ *a2asrv.Request) (context.Context, error) {
	if claims := ClaimsFromContext(ctx); claims != nil {
		callCtx.User = &User{claims: claims}
	} else if i.RequireAuth {
		return ctx, ErrUnauthorized
	}
	return ctx, nil
}

// After implements a2asrv.CallInterceptor.
func (i *Interceptor) After(context.Context, *a2asrv.CallContext, *a2asrv.Response) error {
	return nil
}

// User is the a2asrv.User of an authenticated call.
type User struct {
	claims *Claims
}

// Name returns the token subject.
func (u *User) Name() string { return u.claims.Subject }

// Authenticated is always true.
func (u *User) Authenticated() bool { return true }

// Claims returns the validated claims.
func (u *User) Claims() *Claims { return u.claims }

// UserFromCallContext returns the authenticated user of an a2a call, or nil.
func UserFromCallContext(callCtx *a2asrv.CallContext) *User {
	if callCtx == nil || callCtx.User == nil {
		return nil
	}
	u, _ := callCtx.User.(*User)
	return u
}

var (
	_ a2asrv.CallInterceptor = (*Interceptor)(nil)
	_ a2asrv.User            = (*User)(nil)
)
