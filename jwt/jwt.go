package jwtkit

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Signer mints tokens the way a provider would. Used by the test issuer;
// the gate itself never signs.
type Signer interface {
	// Algorithm returns the JWS algorithm (e.g., RS256, ES256).
	Algorithm() string
	// KID returns the key id written into token headers.
	KID() string
	// Public returns the verification key.
	Public() crypto.PublicKey
	// Sign creates a signed JWT with provided claims.
	Sign(ctx context.Context, claims jwt.MapClaims) (token string, err error)
}

// KeySigner signs with an in-memory RSA or ECDSA key.
type KeySigner struct {
	method jwt.SigningMethod
	key    crypto.Signer
	kid    string
}

// NewRSASigner generates an RS256 signer. bits defaults to 2048.
func NewRSASigner(bits int, kid string) (*KeySigner, error) {
	if bits == 0 {
		bits = 2048
	}
	k, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, err
	}
	return &KeySigner{method: jwt.SigningMethodRS256, key: k, kid: kid}, nil
}

// NewECSigner generates an ES256 signer on P-256.
func NewECSigner(kid string) (*KeySigner, error) {
	k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &KeySigner{method: jwt.SigningMethodES256, key: k, kid: kid}, nil
}

func (s *KeySigner) Algorithm() string        { return s.method.Alg() }
func (s *KeySigner) KID() string              { return s.kid }
func (s *KeySigner) Public() crypto.PublicKey { return s.key.Public() }

// JWK returns the published form of the verification key.
func (s *KeySigner) JWK() JWK {
	j, _ := PublicToJWK(s.Public(), s.kid, s.Algorithm())
	return j
}

func (s *KeySigner) Sign(_ context.Context, claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(s.method, claims)
	if s.kid != "" {
		token.Header["kid"] = s.kid
	}
	return token.SignedString(s.key)
}

// SignWithKID signs claims but writes kid into the header instead of the
// signer's own id. Tests use it to exercise key lookup misses.
func (s *KeySigner) SignWithKID(claims jwt.MapClaims, kid string) (string, error) {
	token := jwt.NewWithClaims(s.method, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	return token.SignedString(s.key)
}
