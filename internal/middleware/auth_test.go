package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"CapIot.telemetry/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testJWT = JWTConfig{Secret: "s3cret", Issuer: "capiot-telemetry", Audience: "capiot-telemetry-api"}

func signHS256(t *testing.T, secret string, claims map[string]any) string {
	t.Helper()
	enc := base64.RawURLEncoding
	header, err := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	signing := enc.EncodeToString(header) + "." + enc.EncodeToString(payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signing))
	return signing + "." + enc.EncodeToString(mac.Sum(nil))
}

func validClaims() map[string]any {
	return map[string]any{
		"iss": testJWT.Issuer,
		"aud": testJWT.Audience,
		"sub": "device-gateway",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
}

func guarded(t *testing.T) http.Handler {
	t.Helper()
	mw, err := NewJWTMiddleware(testJWT)
	require.NoError(t, err)
	return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
}

func TestJWTMiddlewareAcceptsValidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/devices/d1/latest", nil)
	req.Header.Set("Authorization", "Bearer "+signHS256(t, testJWT.Secret, validClaims()))
	rec := httptest.NewRecorder()

	guarded(t).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestJWTMiddlewareRejects(t *testing.T) {
	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	wrongAudience := validClaims()
	wrongAudience["aud"] = "someone-else"

	cases := map[string]string{
		"missing header": "",
		"wrong secret":   "Bearer " + signHS256(t, "other", validClaims()),
		"expired":        "Bearer " + signHS256(t, testJWT.Secret, expired),
		"wrong audience": "Bearer " + signHS256(t, testJWT.Secret, wrongAudience),
		"not a jwt":      "Bearer abc.def",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/devices/d1/latest", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()

			guarded(t).ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), "unauthorized")
		})
	}
}

func TestNewJWTMiddlewareRequiresSecret(t *testing.T) {
	_, err := NewJWTMiddleware(JWTConfig{Issuer: "x", Audience: "y"})
	assert.Error(t, err)
}

func TestRequestLoggerKeepsStatus(t *testing.T) {
	h := RequestLogger(logging.Component("http"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
