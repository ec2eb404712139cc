// Package guard composes token extraction, key resolution, verification and
// permission checks into a single gate that wraps request handlers.
package guard

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/PaulFidika/authgate/core"
	"github.com/PaulFidika/authgate/jwks"
	jwtkit "github.com/PaulFidika/authgate/jwt"
	memorystore "github.com/PaulFidika/authgate/storage/memory"
	redisstore "github.com/PaulFidika/authgate/storage/redis"
)

// Guard authorizes requests against one identity provider.
// It is safe for concurrent use.
type Guard struct {
	cfg       core.AcceptConfig
	resolver  jwks.Resolver
	verifier  *jwtkit.Verifier
	log       logrus.FieldLogger
	decisions core.DecisionLogger
	now       func() time.Time

	httpClient *http.Client
	rdb        redis.Cmdable
	warmer     *jwks.Warmer
	closers    []func() error
}

// Option configures a Guard.
type Option func(*Guard)

// WithResolver replaces the key-set resolver built from the config.
func WithResolver(r jwks.Resolver) Option {
	return func(g *Guard) { g.resolver = r }
}

// WithHTTPClient sets the client used to fetch the key set.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Guard) { g.httpClient = c }
}

// WithRedis stores cached key sets in Redis instead of process memory.
// Only used when AcceptConfig.CacheTTL > 0.
func WithRedis(rdb redis.Cmdable) Option {
	return func(g *Guard) { g.rdb = rdb }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(g *Guard) {
		if l != nil {
			g.log = l
		}
	}
}

// WithDecisionLogger records every authorization decision.
func WithDecisionLogger(d core.DecisionLogger) Option {
	return func(g *Guard) { g.decisions = d }
}

// WithClock overrides the time source used for expiry checks and decisions.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// New builds a Guard. Without CacheTTL the key set is fetched on every
// verification; with it, keys are cached and refetched once on a kid miss.
func New(cfg core.AcceptConfig, opts ...Option) (*Guard, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Guard{cfg: cfg, log: logrus.StandardLogger(), now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.WithField("domain", cfg.Domain)

	v, err := jwtkit.NewVerifierFromConfig(cfg, jwtkit.WithClock(g.now))
	if err != nil {
		return nil, err
	}
	g.verifier = v

	if g.resolver == nil {
		g.resolver = g.buildResolver()
	}
	if cfg.RefreshSchedule != "" {
		if err := g.startWarmer(); err != nil {
			_ = g.Close()
			return nil, err
		}
	}
	return g, nil
}

func (g *Guard) buildResolver() jwks.Resolver {
	var source interface {
		jwks.Source
		jwks.Resolver
	}
	if g.cfg.JWKSFile != "" {
		source = jwks.NewFileSource(g.cfg.JWKSFile)
	} else {
		source = jwks.NewFetcher(
			jwks.WithHTTPClient(g.httpClient),
			jwks.WithTimeout(g.cfg.FetchTimeout),
			jwks.WithEndpoint(g.cfg.JWKSURL),
			jwks.WithLogger(g.log),
		)
	}
	if g.cfg.CacheTTL <= 0 {
		return source
	}
	var store jwks.Store
	if g.rdb != nil {
		store = redisstore.NewKeySetCache(g.rdb, "", g.cfg.CacheTTL)
	} else {
		mem := memorystore.NewKeySetCache(g.cfg.CacheTTL)
		g.closers = append(g.closers, mem.Close)
		store = mem
	}
	return jwks.NewCache(source, store, g.log,
		jwks.WithMinRefreshInterval(g.cfg.MinRefreshInterval),
		jwks.WithCacheClock(g.now),
	)
}

func (g *Guard) startWarmer() error {
	r, ok := g.resolver.(jwks.Refresher)
	if !ok {
		return errors.New("guard: refresh schedule requires a caching resolver (set CacheTTL)")
	}
	w, err := jwks.NewWarmer(r, g.cfg.RefreshSchedule, g.cfg.FetchTimeout, g.log, g.cfg.Domain)
	if err != nil {
		return err
	}
	w.Start()
	g.warmer = w
	return nil
}

// Config returns the normalized configuration.
func (g *Guard) Config() core.AcceptConfig { return g.cfg }

// Close stops background work owned by the Guard.
func (g *Guard) Close() error {
	if g.warmer != nil {
		g.warmer.Stop()
		g.warmer = nil
	}
	var errs []error
	for _, c := range g.closers {
		errs = append(errs, c())
	}
	g.closers = nil
	return errors.Join(errs...)
}

// Authorize runs the full pipeline for r: extract the bearer token, resolve
// keys, verify, then require permission. The first failure is returned as a
// *core.AuthError, unmodified.
func (g *Guard) Authorize(r *http.Request, permission string) (*core.Claims, error) {
	d := core.NewDecision(g.now(), permission)
	claims, err := g.authorize(r, permission)
	if err != nil {
		d.Kind = core.KindOf(err)
	} else {
		d.Allowed = true
	}
	if claims != nil {
		d.Subject = claims.Subject
	}
	if g.decisions != nil {
		ctx := context.Background()
		if r != nil {
			ctx = r.Context()
		}
		g.decisions.LogDecision(ctx, d)
	}
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (g *Guard) authorize(r *http.Request, permission string) (*core.Claims, error) {
	token, err := core.ExtractBearerToken(r)
	if err != nil {
		return nil, err
	}
	claims, err := g.Authenticate(r.Context(), token)
	if err != nil {
		return nil, err
	}
	if err := core.CheckPermission(permission, claims); err != nil {
		return claims, err
	}
	return claims, nil
}

// Authenticate resolves keys and verifies token. When the token names an
// unknown key and the resolver caches, the key set is refetched exactly once.
func (g *Guard) Authenticate(ctx context.Context, token string) (*core.Claims, error) {
	keys, err := g.resolver.Resolve(ctx, g.cfg.Domain)
	if err != nil {
		return nil, g.asKeySetUnavailable(err)
	}
	claims, err := g.verifier.Verify(token, keys)
	if core.KindOf(err) != core.KindKeyNotFound {
		return claims, err
	}
	r, ok := g.resolver.(jwks.Refresher)
	if !ok {
		return nil, err
	}
	g.log.WithError(err).Debug("kid not in cached key set; refetching")
	keys, rerr := r.Refresh(ctx, g.cfg.Domain)
	if rerr != nil {
		return nil, g.asKeySetUnavailable(rerr)
	}
	return g.verifier.Verify(token, keys)
}

// asKeySetUnavailable keeps resolver failures inside the taxonomy even for
// custom resolvers that return plain errors.
func (g *Guard) asKeySetUnavailable(err error) error {
	if _, ok := core.AsAuthError(err); ok {
		return err
	}
	return core.NewError(core.KindKeySetUnavailable, err)
}
