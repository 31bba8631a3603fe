package mcpauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

func generateRSAKeyPair(t *testing.T) (*rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return priv, &priv.PublicKey
}

func jwksServer(t *testing.T, pub *rsa.PublicKey) *httptest.Server {
	t.Helper()
	key, err := jwk.FromRaw(pub)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, "test-key-id"))
	require.NoError(t, key.Set(jwk.AlgorithmKey, jwa.RS256))

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(key))

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
}

func signTestJWT(t *testing.T, priv *rsa.PrivateKey, issuer, audience, subject string, claims map[string]any, exp time.Time) string {
	t.Helper()
	token := jwt.New()
	require.NoError(t, token.Set(jwt.IssuerKey, issuer))
	require.NoError(t, token.Set(jwt.AudienceKey, audience))
	require.NoError(t, token.Set(jwt.SubjectKey, subject))
	require.NoError(t, token.Set(jwt.IssuedAtKey, time.Now()))
	require.NoError(t, token.Set(jwt.ExpirationKey, exp))
	for k, v := range claims {
		require.NoError(t, token.Set(k, v))
	}

	key, err := jwk.FromRaw(priv)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, "test-key-id"))

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, key))
	require.NoError(t, err)
	return string(signed)
}

func TestNewInboundJWTValidator_FetchesJWKSOnConstruction(t *testing.T) {
	_, pub := generateRSAKeyPair(t)
	srv := jwksServer(t, pub)
	defer srv.Close()

	v, err := NewInboundJWTValidator(context.Background(), srv.URL, "https://issuer.test", "aud.test")
	require.NoError(t, err)
	require.NotNil(t, v)
}

func TestNewInboundJWTValidator_UnreachableJWKSURLIsAnError(t *testing.T) {
	_, err := NewInboundJWTValidator(context.Background(), "http://127.0.0.1:0/jwks.json", "iss", "aud")
	assert.Error(t, err)
}

func TestValidateToken_ValidTokenReturnsSubjectScopesAndCustomClaims(t *testing.T) {
	priv, pub := generateRSAKeyPair(t)
	srv := jwksServer(t, pub)
	defer srv.Close()

	v, err := NewInboundJWTValidator(context.Background(), srv.URL, "https://issuer.test", "aud.test")
	require.NoError(t, err)

	tok := signTestJWT(t, priv, "https://issuer.test", "aud.test", "user-123", map[string]any{
		"scope":     "tools:read tools:write",
		"tenant_id": "tenant-9",
	}, time.Now().Add(time.Hour))

	claims, err := v.ValidateToken(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.Subject)
	assert.ElementsMatch(t, []string{"tools:read", "tools:write"}, claims.Scopes)
	assert.Equal(t, "tenant-9", claims.Custom["tenant_id"])
}

func TestValidateToken_WrongIssuerIsRejected(t *testing.T) {
	priv, pub := generateRSAKeyPair(t)
	srv := jwksServer(t, pub)
	defer srv.Close()

	v, err := NewInboundJWTValidator(context.Background(), srv.URL, "https://issuer.test", "aud.test")
	require.NoError(t, err)

	tok := signTestJWT(t, priv, "https://wrong-issuer.test", "aud.test", "user-123", nil, time.Now().Add(time.Hour))
	_, err = v.ValidateToken(context.Background(), tok)
	assert.Error(t, err)
}

func TestValidateToken_WrongAudienceIsRejected(t *testing.T) {
	priv, pub := generateRSAKeyPair(t)
	srv := jwksServer(t, pub)
	defer srv.Close()

	v, err := NewInboundJWTValidator(context.Background(), srv.URL, "https://issuer.test", "aud.test")
	require.NoError(t, err)

	tok := signTestJWT(t, priv, "https://issuer.test", "wrong-aud", "user-123", nil, time.Now().Add(time.Hour))
	_, err = v.ValidateToken(context.Background(), tok)
	assert.Error(t, err)
}

func TestValidateToken_ExpiredTokenIsRejected(t *testing.T) {
	priv, pub := generateRSAKeyPair(t)
	srv := jwksServer(t, pub)
	defer srv.Close()

	v, err := NewInboundJWTValidator(context.Background(), srv.URL, "https://issuer.test", "aud.test")
	require.NoError(t, err)

	tok := signTestJWT(t, priv, "https://issuer.test", "aud.test", "user-123", nil, time.Now().Add(-time.Hour))
	_, err = v.ValidateToken(context.Background(), tok)
	assert.Error(t, err)
}

func TestValidateToken_MalformedTokenIsAnError(t *testing.T) {
	_, pub := generateRSAKeyPair(t)
	srv := jwksServer(t, pub)
	defer srv.Close()

	v, err := NewInboundJWTValidator(context.Background(), srv.URL, "https://issuer.test", "aud.test")
	require.NoError(t, err)

	_, err = v.ValidateToken(context.Background(), "not-a-jwt")
	assert.Error(t, err)
}

func TestValidateToken_SignedByUnknownKeyIsRejected(t *testing.T) {
	_, pub := generateRSAKeyPair(t)
	srv := jwksServer(t, pub)
	defer srv.Close()

	otherPriv, _ := generateRSAKeyPair(t)

	v, err := NewInboundJWTValidator(context.Background(), srv.URL, "https://issuer.test", "aud.test")
	require.NoError(t, err)

	tok := signTestJWT(t, otherPriv, "https://issuer.test", "aud.test", "user-123", nil, time.Now().Add(time.Hour))
	_, err = v.ValidateToken(context.Background(), tok)
	assert.Error(t, err)
}
