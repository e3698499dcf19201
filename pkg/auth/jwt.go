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
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// DefaultRefreshInterval is how often the JWKS is refetched.
const DefaultRefreshInterval = 15 * time.Minute

// TokenValidator validates a raw bearer token.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

// JWTValidatorConfig configures a JWTValidator.
type JWTValidatorConfig struct {
	JWKSURL         string
	Issuer          string
	Audience        string
	RefreshInterval time.Duration
}

// JWTValidator validates tokens signed by keys from a JWKS endpoint. The key
// set is cached and refreshed in the background to follow key rotation.
type JWTValidator struct {
	cfg   JWTValidatorConfig
	cache *jwk.Cache
}

// NewJWTValidator registers the JWKS URL and fetches it once so that a bad
// configuration fails at startup. The refresh goroutine stops with ctx.
func NewJWTValidator(ctx context.Context, cfg JWTValidatorConfig) (*JWTValidator, error) {
	if cfg.JWKSURL == "" {
		return nil, errors.New("jwks url is required")
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(cfg.RefreshInterval)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}
	if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", cfg.JWKSURL, err)
	}
	return &JWTValidator{cfg: cfg, cache: cache}, nil
}

// ValidateToken checks the signature, expiry, issuer and audience of token.
func (v *JWTValidator) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	keyset, err := v.cache.Get(ctx, v.cfg.JWKSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWKS: %w", err)
	}

	opts := []jwt.ParseOption{jwt.WithKeySet(keyset), jwt.WithValidate(true)}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}
	parsed, err := jwt.Parse([]byte(token), opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed.Subject() == "" {
		return nil, ErrMissingClaims
	}

	claims := &Claims{Subject: parsed.Subject(), Custom: make(map[string]any)}
	for k, val := range parsed.PrivateClaims() {
		switch k {
		case "email":
			claims.Email, _ = val.(string)
		case "role":
			claims.Role, _ = val.(string)
		default:
			claims.Custom[k] = val
		}
	}
	return claims, nil
}
