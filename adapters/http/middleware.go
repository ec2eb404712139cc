// Package authhttp exposes the guard as plain net/http middleware.
package authhttp

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/PaulFidika/authgate/core"
	"github.com/PaulFidika/authgate/guard"
)

// RateLimiter limits authorization attempts per client.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type options struct {
	limiter RateLimiter
	log     logrus.FieldLogger
}

// Option configures the middleware.
type Option func(*options)

// WithRateLimiter throttles attempts per client address before any token work.
func WithRateLimiter(rl RateLimiter) Option {
	return func(o *options) { o.limiter = rl }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// Require wraps next so it only runs for requests carrying permission.
// The verified claims are attached to the request context.
func Require(g *guard.Guard, permission string, next http.Handler, opts ...Option) http.Handler {
	o := options{log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if o.limiter != nil {
			ok, err := o.limiter.Allow(r.Context(), clientAddr(r))
			if err != nil {
				o.log.WithError(err).Warn("rate limiter unavailable")
			} else if !ok {
				writeJSON(w, http.StatusTooManyRequests, map[string]any{
					"success":     false,
					"code":        "too_many_requests",
					"message":     "Too many requests",
					"error_code":  http.StatusTooManyRequests,
					"http_status": http.StatusTooManyRequests,
				})
				return
			}
		}
		claims, err := g.Authorize(r, permission)
		if err != nil {
			WriteError(w, o.log, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(core.WithClaims(r.Context(), claims)))
	})
}

// WriteError renders err the same way the middleware does. Errors outside the
// taxonomy become a bare 500.
func WriteError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	ae, ok := core.AsAuthError(err)
	if !ok {
		if log != nil {
			log.WithError(err).Error("authorization failed with untyped error")
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "code": "internal_error"})
		return
	}
	if ae.Kind.Retryable() {
		w.Header().Set("Retry-After", "5")
	}
	if ch := ae.Challenge(); ch != "" {
		w.Header().Set("WWW-Authenticate", ch)
	}
	writeJSON(w, ae.Status(), ae.Response())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
