package jwks

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	jwtkit "github.com/PaulFidika/authgate/jwt"
)

// Cache resolves key sets from a Store, falling back to its Source on a miss.
// Concurrent misses for the same domain share a single fetch.
type Cache struct {
	source Source
	store  Store
	group  singleflight.Group
	log    logrus.FieldLogger

	minRefresh time.Duration
	now        func() time.Time
	mu         sync.Mutex
	fetchedAt  map[string]time.Time
}

// CacheOpt configures a Cache.
type CacheOpt func(*Cache)

// WithMinRefreshInterval makes Refresh serve the stored set instead of
// fetching when the last fetch for the domain is younger than d.
func WithMinRefreshInterval(d time.Duration) CacheOpt {
	return func(c *Cache) { c.minRefresh = d }
}

// WithCacheClock overrides the time source for the refresh interval.
func WithCacheClock(now func() time.Time) CacheOpt {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

var (
	_ Resolver  = (*Cache)(nil)
	_ Refresher = (*Cache)(nil)
)

// NewCache wraps source with store. log may be nil.
func NewCache(source Source, store Store, log logrus.FieldLogger, opts ...CacheOpt) *Cache {
	if log == nil {
		log = logrus.StandardLogger()
	}
	c := &Cache{source: source, store: store, log: log, now: time.Now, fetchedAt: make(map[string]time.Time)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve serves the stored document if present and parseable, else fetches.
func (c *Cache) Resolve(ctx context.Context, domain string) (*jwtkit.KeySet, error) {
	log := c.log.WithField("domain", domain)
	doc, ok, err := c.store.Get(ctx, domain)
	if err != nil {
		log.WithError(err).Warn("jwks cache read failed; fetching")
	}
	if err == nil && ok {
		ks, perr := jwtkit.ParseKeySet(doc)
		if perr == nil {
			return ks, nil
		}
		log.WithError(perr).Warn("discarding unparseable cached jwks")
		if derr := c.store.Del(ctx, domain); derr != nil {
			log.WithError(derr).Warn("jwks cache delete failed")
		}
	}
	return c.fetch(ctx, domain)
}

// Refresh refetches and replaces the stored document, unless this process
// fetched the domain within the minimum refresh interval and the stored
// document is still readable.
func (c *Cache) Refresh(ctx context.Context, domain string) (*jwtkit.KeySet, error) {
	if c.recentlyFetched(domain) {
		if doc, ok, err := c.store.Get(ctx, domain); err == nil && ok {
			if ks, perr := jwtkit.ParseKeySet(doc); perr == nil {
				c.log.WithField("domain", domain).Debug("jwks refresh skipped; fetched recently")
				return ks, nil
			}
		}
	}
	return c.fetch(ctx, domain)
}

func (c *Cache) recentlyFetched(domain string) bool {
	if c.minRefresh <= 0 {
		return false
	}
	c.mu.Lock()
	at, ok := c.fetchedAt[domain]
	c.mu.Unlock()
	return ok && c.now().Sub(at) < c.minRefresh
}

func (c *Cache) fetch(ctx context.Context, domain string) (*jwtkit.KeySet, error) {
	// Detached from the caller so one cancelled request cannot fail the
	// others waiting on the same fetch; the Source applies its own timeout.
	shared := context.WithoutCancel(ctx)
	v, err, _ := c.group.Do(domain, func() (any, error) {
		doc, err := c.source.Fetch(shared, domain)
		if err != nil {
			return nil, err
		}
		ks, err := parse(doc)
		if err != nil {
			return nil, err
		}
		if err := c.store.Put(shared, domain, doc); err != nil {
			c.log.WithField("domain", domain).WithError(err).Warn("jwks cache write failed")
		}
		c.mu.Lock()
		c.fetchedAt[domain] = c.now()
		c.mu.Unlock()
		return ks, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*jwtkit.KeySet), nil
}
