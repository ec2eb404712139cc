package authgin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/PaulFidika/authgate/core"
	"github.com/PaulFidika/authgate/guard"
)

// RateLimiter limits authorization attempts per client.
// Both memorylimiter.Limiter and redislimiter.Limiter satisfy it.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type options struct {
	limiter RateLimiter
	log     logrus.FieldLogger
}

// Option configures the middleware.
type Option func(*options)

// WithRateLimiter throttles attempts per client IP before any token work.
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

func buildOptions(opts []Option) options {
	o := options{log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Require authorizes the request for permission. On success the claims are
// available through ClaimsFromGin and core.ClaimsFromContext; on failure the
// AuthError body is written and the chain is aborted.
func Require(g *guard.Guard, permission string, opts ...Option) gin.HandlerFunc {
	o := buildOptions(opts)
	return func(c *gin.Context) {
		if !allow(c, o) {
			return
		}
		claims, err := g.Authorize(c.Request, permission)
		if err != nil {
			abortWithError(c, o.log, err)
			return
		}
		setClaims(c, claims)
		c.Next()
	}
}

// Handle is the decorator form: h runs only when the request is authorized
// and receives the verified claims.
func Handle(g *guard.Guard, permission string, h func(c *gin.Context, claims *core.Claims), opts ...Option) gin.HandlerFunc {
	o := buildOptions(opts)
	return func(c *gin.Context) {
		if !allow(c, o) {
			return
		}
		claims, err := g.Authorize(c.Request, permission)
		if err != nil {
			abortWithError(c, o.log, err)
			return
		}
		setClaims(c, claims)
		h(c, claims)
	}
}

func allow(c *gin.Context, o options) bool {
	if o.limiter == nil {
		return true
	}
	ok, err := o.limiter.Allow(c.Request.Context(), c.ClientIP())
	if err != nil {
		// Fail open: the limiter is a throttle, not an authorization control.
		o.log.WithError(err).Warn("rate limiter unavailable")
		return true
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"success":     false,
			"code":        "too_many_requests",
			"message":     "Too many requests",
			"error_code":  http.StatusTooManyRequests,
			"http_status": http.StatusTooManyRequests,
		})
		return false
	}
	return true
}

func abortWithError(c *gin.Context, log logrus.FieldLogger, err error) {
	ae, ok := core.AsAuthError(err)
	if !ok {
		log.WithError(err).Error("authorization failed with untyped error")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "code": "internal_error"})
		return
	}
	if ae.Kind.Retryable() {
		c.Header("Retry-After", "5")
	}
	if ch := ae.Challenge(); ch != "" {
		c.Header("WWW-Authenticate", ch)
	}
	c.AbortWithStatusJSON(ae.Status(), ae.Response())
}
