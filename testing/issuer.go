// Package testing provides a mock identity provider for tests of code that
// sits behind authgate. It serves a JWKS over TLS at
// /.well-known/jwks.json and signs tokens that validate against it.
//
// Example usage:
//
//	issuer := testing.NewTestIssuer()
//	defer issuer.Close()
//
//	g, _ := guard.New(core.AcceptConfig{
//		Domain:   issuer.Domain(),
//		Audience: issuer.Audience(),
//	}, guard.WithHTTPClient(issuer.Client()))
//
//	token := issuer.CreateToken("user-123", "get:images")
package testing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	jwtkit "github.com/PaulFidika/authgate/jwt"
)

// TestIssuer is a TLS httptest server standing in for the identity provider.
type TestIssuer struct {
	server   *httptest.Server
	audience string
	fetches  atomic.Int64

	mu        sync.Mutex
	signer    *jwtkit.KeySigner
	published []jwtkit.JWK
	status    int
	delay     time.Duration
}

// NewTestIssuer creates an issuer with audience "test-api" and one RS256 key.
// Call Close() when done.
func NewTestIssuer() *TestIssuer {
	return NewTestIssuerWithAudience("test-api")
}

// NewTestIssuerWithAudience creates a test issuer with a specific audience claim.
func NewTestIssuerWithAudience(audience string) *TestIssuer {
	signer, err := jwtkit.NewRSASigner(2048, "test-key-1")
	if err != nil {
		panic("failed to create RSA signer: " + err.Error())
	}
	ti := &TestIssuer{
		signer:    signer,
		published: []jwtkit.JWK{signer.JWK()},
		audience:  audience,
		status:    http.StatusOK,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwks.json", ti.handleJWKS)
	ti.server = httptest.NewTLSServer(mux)
	return ti
}

// Domain is the host:port tokens are issued for; jwks.WellKnownURL(Domain())
// resolves to this server.
func (ti *TestIssuer) Domain() string { return ti.server.Listener.Addr().String() }

// Issuer is the iss claim, "https://{Domain}/".
func (ti *TestIssuer) Issuer() string { return "https://" + ti.Domain() + "/" }

// URL returns the base URL of the server.
func (ti *TestIssuer) URL() string { return ti.server.URL }

// JWKSURL returns the key set endpoint.
func (ti *TestIssuer) JWKSURL() string { return ti.server.URL + "/.well-known/jwks.json" }

// Client trusts the server's self-signed certificate.
func (ti *TestIssuer) Client() *http.Client { return ti.server.Client() }

// Audience returns the audience configured for this test issuer.
func (ti *TestIssuer) Audience() string { return ti.audience }

// KID returns the id of the current signing key.
func (ti *TestIssuer) KID() string {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	return ti.signer.KID()
}

// Fetches counts JWKS requests served.
func (ti *TestIssuer) Fetches() int { return int(ti.fetches.Load()) }

// SetStatus makes the JWKS endpoint answer with status and no body
// (http.StatusOK restores normal behaviour).
func (ti *TestIssuer) SetStatus(status int) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.status = status
}

// SetDelay stalls every JWKS response by d.
func (ti *TestIssuer) SetDelay(d time.Duration) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.delay = d
}

// RotateKey switches signing to a fresh RS256 key published alongside the
// old ones, the way providers roll keys.
func (ti *TestIssuer) RotateKey(kid string) {
	signer, err := jwtkit.NewRSASigner(2048, kid)
	if err != nil {
		panic("failed to create RSA signer: " + err.Error())
	}
	ti.useSigner(signer)
}

// useSigner publishes s and signs subsequent tokens with it.
func (ti *TestIssuer) useSigner(s *jwtkit.KeySigner) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.signer = s
	ti.published = append(ti.published, s.JWK())
}

// AddECKey switches signing to a fresh ES256 key.
func (ti *TestIssuer) AddECKey(kid string) {
	signer, err := jwtkit.NewECSigner(kid)
	if err != nil {
		panic("failed to create EC signer: " + err.Error())
	}
	ti.useSigner(signer)
}

// Close shuts down the test server.
func (ti *TestIssuer) Close() {
	if ti.server != nil {
		ti.server.Close()
	}
}

func (ti *TestIssuer) handleJWKS(w http.ResponseWriter, r *http.Request) {
	ti.fetches.Add(1)
	ti.mu.Lock()
	status, delay := ti.status, ti.delay
	ks := jwtkit.JWKS{Keys: append([]jwtkit.JWK(nil), ti.published...)}
	ti.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	jwtkit.ServeJWKS(w, r, ks)
}

// Claims returns the standard payload for subject: iss, aud, exp (+1h),
// iat, and permissions.
func (ti *TestIssuer) Claims(subject string, permissions ...string) jwt.MapClaims {
	now := time.Now()
	if permissions == nil {
		permissions = []string{}
	}
	return jwt.MapClaims{
		"sub":         subject,
		"iss":         ti.Issuer(),
		"aud":         ti.audience,
		"exp":         now.Add(time.Hour).Unix(),
		"iat":         now.Unix(),
		"permissions": permissions,
	}
}

// CreateToken creates a signed token granting permissions.
func (ti *TestIssuer) CreateToken(subject string, permissions ...string) string {
	return ti.Sign(ti.Claims(subject, permissions...))
}

// CreateTokenWithClaims merges extra into the standard claims. A nil value
// deletes the claim.
func (ti *TestIssuer) CreateTokenWithClaims(subject string, extra map[string]any) string {
	claims := ti.Claims(subject)
	for k, v := range extra {
		if v == nil {
			delete(claims, k)
			continue
		}
		claims[k] = v
	}
	return ti.Sign(claims)
}

// CreateExpiredToken creates a token whose exp is an hour in the past.
func (ti *TestIssuer) CreateExpiredToken(subject string, permissions ...string) string {
	claims := ti.Claims(subject, permissions...)
	claims["exp"] = time.Now().Add(-time.Hour).Unix()
	return ti.Sign(claims)
}

// CreateTokenWithKID signs with the current key but names kid in the header.
func (ti *TestIssuer) CreateTokenWithKID(kid, subject string, permissions ...string) string {
	ti.mu.Lock()
	signer := ti.signer
	ti.mu.Unlock()
	tok, err := signer.SignWithKID(ti.Claims(subject, permissions...), kid)
	if err != nil {
		panic("failed to sign token: " + err.Error())
	}
	return tok
}

// CreateUnsignedToken creates an "alg":"none" token that names the current
// kid, for algorithm-confusion tests.
func (ti *TestIssuer) CreateUnsignedToken(subject string, permissions ...string) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, ti.Claims(subject, permissions...))
	tok.Header["kid"] = ti.KID()
	s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		panic("failed to build unsigned token: " + err.Error())
	}
	return s
}

// Sign signs arbitrary claims with the current key.
func (ti *TestIssuer) Sign(claims jwt.MapClaims) string {
	ti.mu.Lock()
	signer := ti.signer
	ti.mu.Unlock()
	tok, err := signer.Sign(context.Background(), claims)
	if err != nil {
		panic("failed to sign token: " + err.Error())
	}
	return tok
}

// BearerHeader formats token as an Authorization header value.
func BearerHeader(token string) string {
	return "Bearer " + strings.TrimSpace(token)
}
