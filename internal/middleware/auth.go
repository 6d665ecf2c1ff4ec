package middleware

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"CapIot.telemetry/internal/logging"
	"CapIot.telemetry/internal/models"
	"CapIot.telemetry/internal/utils"
	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/auth0/go-jwt-middleware/v2/validator"
)

// JWTConfig configures HS256 bearer-token validation.
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

// NewJWTMiddleware returns a middleware that rejects requests without a
// valid HS256 bearer token. Validated claims are stored in the request
// context under jwtmiddleware.ContextKey{}.
func NewJWTMiddleware(cfg JWTConfig) (func(http.Handler) http.Handler, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	secret := []byte(cfg.Secret)
	keyFunc := func(context.Context) (interface{}, error) {
		return secret, nil
	}

	v, err := validator.New(
		keyFunc,
		validator.HS256,
		cfg.Issuer,
		[]string{cfg.Audience},
		validator.WithAllowedClockSkew(30*time.Second),
	)
	if err != nil {
		return nil, err
	}

	log := logging.Component("auth")
	mw := jwtmiddleware.New(
		v.ValidateToken,
		jwtmiddleware.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			log.Debug("request rejected", "path", r.URL.Path, "error", err)
			utils.RespondWithError(w, models.NewAPIError(models.ErrorCodeUnauthorized, "missing or invalid bearer token", nil, http.StatusUnauthorized))
		}),
	)
	return mw.CheckJWT, nil
}

// Passthrough is the middleware used when authentication is disabled.
func Passthrough(next http.Handler) http.Handler {
	return next
}

// RequestLogger logs one line per request at debug level.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Debug("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the logger.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}
