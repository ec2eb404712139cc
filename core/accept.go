package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/joeshaw/envdecode"
)

const (
	// DefaultFetchTimeout bounds a single JWKS fetch.
	DefaultFetchTimeout = 5 * time.Second
	// DefaultMinRefreshInterval limits refetches caused by unknown key ids.
	DefaultMinRefreshInterval = 5 * time.Second
	// WellKnownJWKSPath is where providers publish their signing keys.
	WellKnownJWKSPath = "/.well-known/jwks.json"
)

// AcceptConfig configures verification of third-party access tokens (verify-only mode).
type AcceptConfig struct {
	// Domain of the identity provider, e.g. "tenant.us.auth0.com".
	Domain string `env:"AUTH_DOMAIN,required"`
	// Audience every accepted token must carry.
	Audience string `env:"AUTH_AUDIENCE,required"`
	// Issuer defaults to "https://{Domain}/".
	Issuer string `env:"AUTH_ISSUER"`
	// Algorithms is the fixed allow-list; the token header never widens it.
	Algorithms []string `env:"AUTH_ALGORITHMS,default=RS256"`
	// Skew tolerated on exp/nbf/iat.
	Skew time.Duration `env:"AUTH_CLOCK_SKEW,default=0s"`
	// JWKSURL overrides the well-known endpoint derived from Domain.
	JWKSURL string `env:"AUTH_JWKS_URL"`
	// JWKSFile reads keys from a local JWKS document instead of fetching them.
	JWKSFile     string        `env:"AUTH_JWKS_FILE"`
	FetchTimeout time.Duration `env:"AUTH_JWKS_TIMEOUT,default=5s"`
	// CacheTTL of zero fetches the key set on every verification.
	CacheTTL time.Duration `env:"AUTH_JWKS_CACHE_TTL,default=0s"`
	// MinRefreshInterval is the shortest gap between key-set fetches forced by
	// an unknown kid when caching. Zero means the default; negative disables it.
	MinRefreshInterval time.Duration `env:"AUTH_JWKS_MIN_REFRESH"`
	// RefreshSchedule is a cron spec (e.g. "@every 10m") for background key refresh.
	RefreshSchedule string `env:"AUTH_JWKS_REFRESH"`
}

// AcceptConfigFromEnv loads, normalizes and validates an AcceptConfig from the environment.
func AcceptConfigFromEnv() (AcceptConfig, error) {
	var cfg AcceptConfig
	if err := envdecode.Decode(&cfg); err != nil {
		return AcceptConfig{}, fmt.Errorf("accept config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return AcceptConfig{}, err
	}
	return cfg, nil
}

// Normalize fills defaults in place.
func (c *AcceptConfig) Normalize() {
	c.Domain = TrimDomain(c.Domain)
	if strings.TrimSpace(c.Issuer) == "" && c.Domain != "" {
		c.Issuer = "https://" + c.Domain + "/"
	}
	if len(c.Algorithms) == 0 {
		c.Algorithms = []string{jwt.SigningMethodRS256.Alg()}
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.MinRefreshInterval == 0 {
		c.MinRefreshInterval = DefaultMinRefreshInterval
	}
}

// Validate returns an error if required settings are missing or unsafe.
func (c AcceptConfig) Validate() error {
	if c.Domain == "" && c.JWKSURL == "" && c.JWKSFile == "" {
		return errors.New("accept: domain required")
	}
	if strings.TrimSpace(c.Audience) == "" {
		return errors.New("accept: audience required")
	}
	if strings.TrimSpace(c.Issuer) == "" {
		return errors.New("accept: issuer required")
	}
	if c.Skew < 0 || c.CacheTTL < 0 {
		return errors.New("accept: durations must not be negative")
	}
	return ValidateAlgorithms(c.Algorithms)
}

// JWKSEndpoint returns the URL the key set is fetched from.
func (c AcceptConfig) JWKSEndpoint() string {
	if c.JWKSURL != "" {
		return c.JWKSURL
	}
	return "https://" + TrimDomain(c.Domain) + WellKnownJWKSPath
}

// TrimDomain strips a scheme and trailing slashes so "https://x.auth0.com/" becomes "x.auth0.com".
func TrimDomain(domain string) string {
	d := strings.TrimSpace(domain)
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	return strings.TrimRight(d, "/")
}

// ValidateAlgorithms rejects allow-lists that are empty, unsigned, symmetric
// or name algorithms the JWT library does not implement.
func ValidateAlgorithms(algs []string) error {
	if len(algs) == 0 {
		return errors.New("accept: at least one algorithm required")
	}
	for _, alg := range algs {
		switch {
		case alg == "" || strings.EqualFold(alg, "none"):
			return fmt.Errorf("accept: algorithm %q is not allowed", alg)
		case strings.HasPrefix(strings.ToUpper(alg), "HS"):
			return fmt.Errorf("accept: symmetric algorithm %q cannot be verified with a public key set", alg)
		case jwt.GetSigningMethod(alg) == nil:
			return fmt.Errorf("accept: unsupported algorithm %q", alg)
		}
	}
	return nil
}
