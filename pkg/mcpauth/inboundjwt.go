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

// InboundJWTValidator validates bearer tokens presented to a hosted
// sub-agent (spec §9 supplemented feature: inbound auth for RunSubAgent
// steps exposed over HTTP). Grounded on the teacher's pkg/auth/jwt.go
// JWKS-backed validator, built on github.com/lestrrat-go/jwx/v2.
package mcpauth

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// jwksRefreshInterval bounds how often the JWKS cache re-fetches the
// provider's public keys, tolerating key rotation without a restart.
const jwksRefreshInterval = 15 * time.Minute

// InboundClaims is the subset of JWT claims the orchestration core cares
// about for inbound sub-agent invocations.
type InboundClaims struct {
	Subject string
	Scopes  []string
	Custom  map[string]any
}

// InboundJWTValidator validates inbound bearer tokens against a JWKS
// endpoint, auto-refreshing keys on jwksRefreshInterval.
type InboundJWTValidator struct {
	jwksURL  string
	cache    *jwk.Cache
	issuer   string
	audience string
}

// NewInboundJWTValidator builds a validator that fetches and caches JWKS
// from jwksURL, checking iss/aud on every ValidateToken call.
func NewInboundJWTValidator(ctx context.Context, jwksURL, issuer, audience string) (*InboundJWTValidator, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(jwksRefreshInterval)); err != nil {
		return nil, fmt.Errorf("register jwks url: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("fetch jwks from %s: %w", jwksURL, err)
	}
	return &InboundJWTValidator{jwksURL: jwksURL, cache: cache, issuer: issuer, audience: audience}, nil
}

// ValidateToken verifies tokenString's signature against the cached JWKS
// and checks expiry/issuer/audience, returning the extracted claims.
func (v *InboundJWTValidator) ValidateToken(ctx context.Context, tokenString string) (*InboundClaims, error) {
	keyset, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("get jwks: %w", err)
	}

	token, err := jwt.Parse(
		[]byte(tokenString),
		jwt.WithKeySet(keyset),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims := &InboundClaims{Subject: token.Subject(), Custom: make(map[string]any)}

	if raw, ok := token.Get("scope"); ok {
		if s, ok := raw.(string); ok {
			claims.Scopes = splitScopes(s)
		}
	}

	for iter := token.Iterate(ctx); iter.Next(ctx); {
		pair := iter.Pair()
		key, _ := pair.Key.(string)
		switch key {
		case "sub", "iss", "aud", "exp", "iat", "nbf", "scope":
		default:
			claims.Custom[key] = pair.Value
		}
	}

	return claims, nil
}

func splitScopes(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ' ' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
