// Package jwks resolves an identity provider's published signing keys.
//
// Fetcher performs one HTTPS GET per Resolve. Cache layers a TTL store and
// fetch collapsing on top of any Source, and supports forced refresh so the
// gate can refetch once when a token names a key it has not seen yet.
// Warmer keeps a cache populated in the background on a cron schedule.
//
// Every failure to obtain or parse a key set is reported as a
// core.KindKeySetUnavailable AuthError, which callers may retry.
package jwks

import (
	"context"

	"github.com/PaulFidika/authgate/core"
	jwtkit "github.com/PaulFidika/authgate/jwt"
)

// Resolver returns the key set for a provider domain.
type Resolver interface {
	Resolve(ctx context.Context, domain string) (*jwtkit.KeySet, error)
}

// Refresher is implemented by resolvers that can serve stale keys and
// therefore need an explicit refetch path.
type Refresher interface {
	Refresh(ctx context.Context, domain string) (*jwtkit.KeySet, error)
}

// Source fetches the raw JWKS document for a domain.
type Source interface {
	Fetch(ctx context.Context, domain string) ([]byte, error)
}

// Store persists raw JWKS documents. Entry lifetime is the store's concern.
type Store interface {
	Get(ctx context.Context, domain string) ([]byte, bool, error)
	Put(ctx context.Context, domain string, doc []byte) error
	Del(ctx context.Context, domain string) error
}

// WellKnownURL returns https://{domain}/.well-known/jwks.json.
func WellKnownURL(domain string) string {
	return "https://" + core.TrimDomain(domain) + core.WellKnownJWKSPath
}

func unavailable(err error) error {
	return core.NewError(core.KindKeySetUnavailable, err)
}

func parse(doc []byte) (*jwtkit.KeySet, error) {
	ks, err := jwtkit.ParseKeySet(doc)
	if err != nil {
		return nil, unavailable(err)
	}
	return ks, nil
}
