package jwtkit

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"

	"github.com/PaulFidika/authgate/core"
)

// Verifier checks tokens against a key set and a fixed policy:
// audience, issuer and an algorithm allow-list.
type Verifier struct {
	audience   string
	issuer     string
	algorithms []string
	leeway     time.Duration
	now        func() time.Time
}

// VerifierOpt configures a Verifier.
type VerifierOpt func(*Verifier)

// WithLeeway tolerates clock skew on exp/nbf/iat.
func WithLeeway(d time.Duration) VerifierOpt {
	return func(v *Verifier) { v.leeway = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) VerifierOpt {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier builds a verifier. The allow-list is validated up front so a
// misconfiguration can never admit unsigned or symmetric tokens.
func NewVerifier(audience, issuer string, algorithms []string, opts ...VerifierOpt) (*Verifier, error) {
	if audience == "" {
		return nil, errors.New("jwtkit: audience required")
	}
	if issuer == "" {
		return nil, errors.New("jwtkit: issuer required")
	}
	if err := core.ValidateAlgorithms(algorithms); err != nil {
		return nil, err
	}
	v := &Verifier{
		audience:   audience,
		issuer:     issuer,
		algorithms: slices.Clone(algorithms),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// NewVerifierFromConfig builds a verifier from a normalized AcceptConfig.
func NewVerifierFromConfig(cfg core.AcceptConfig, opts ...VerifierOpt) (*Verifier, error) {
	return NewVerifier(cfg.Audience, cfg.Issuer, cfg.Algorithms, append([]VerifierOpt{WithLeeway(cfg.Skew)}, opts...)...)
}

// Algorithms returns a copy of the allow-list.
func (v *Verifier) Algorithms() []string { return slices.Clone(v.algorithms) }

// Header is the unverified part of a token needed for key selection.
type Header struct {
	KeyID     string
	Algorithm string
}

// ParseHeader reads kid and alg from the first segment without verifying
// anything or looking at the payload. The token must have three segments and
// a kid.
func ParseHeader(token string) (Header, error) {
	if strings.Count(token, ".") != 2 {
		return Header{}, core.NewError(core.KindMalformedToken, errors.New("token is not a compact JWS"))
	}
	seg, _, _ := strings.Cut(token, ".")
	raw, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return Header{}, core.NewError(core.KindMalformedToken, fmt.Errorf("decode header: %w", err))
	}
	h := jws.NewHeaders()
	if err := json.Unmarshal(raw, h); err != nil {
		return Header{}, core.NewError(core.KindMalformedToken, fmt.Errorf("parse header: %w", err))
	}
	if h.KeyID() == "" {
		return Header{}, core.NewError(core.KindMalformedToken, errors.New("missing kid"))
	}
	return Header{KeyID: h.KeyID(), Algorithm: h.Algorithm().String()}, nil
}

// Verify selects the key named by the token's kid, checks the signature
// against the allow-list and validates exp, aud and iss.
func (v *Verifier) Verify(token string, keys *KeySet) (*core.Claims, error) {
	hdr, err := ParseHeader(token)
	if err != nil {
		return nil, err
	}

	key, ok := keys.LookupKeyID(hdr.KeyID)
	if !ok {
		return nil, core.NewError(core.KindKeyNotFound, fmt.Errorf("kid %q", hdr.KeyID))
	}
	if declared := key.Algorithm().String(); declared != "" && declared != hdr.Algorithm {
		return nil, core.NewError(core.KindTokenUnparseable, fmt.Errorf("key %q is for %s, token uses %s", hdr.KeyID, declared, hdr.Algorithm))
	}
	pub, err := jwk.PublicRawKeyOf(key)
	if err != nil {
		return nil, core.NewError(core.KindTokenUnparseable, fmt.Errorf("export key %q: %w", hdr.KeyID, err))
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(v.algorithms),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(v.audience),
		jwt.WithIssuer(v.issuer),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)
	claims := &core.Claims{}
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return pub, nil
	}); err != nil {
		return nil, classify(err)
	}
	return claims, nil
}

// classify maps a golang-jwt failure onto the taxonomy. Claim checks only run
// after the signature verified, so ErrTokenInvalidClaims implies a valid signature.
func classify(err error) *core.AuthError {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return core.NewError(core.KindExpiredToken, err)
	case errors.Is(err, jwt.ErrTokenInvalidClaims):
		return core.NewError(core.KindClaimMismatch, err)
	default:
		return core.NewError(core.KindTokenUnparseable, err)
	}
}
