package guard_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/PaulFidika/authgate/core"
	"github.com/PaulFidika/authgate/guard"
	jwtkit "github.com/PaulFidika/authgate/jwt"
	authtesting "github.com/PaulFidika/authgate/testing"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newGuard(t *testing.T, ti *authtesting.TestIssuer, mutate func(*core.AcceptConfig), opts ...guard.Option) *guard.Guard {
	t.Helper()
	cfg := core.AcceptConfig{Domain: ti.Domain(), Audience: ti.Audience()}
	if mutate != nil {
		mutate(&cfg)
	}
	base := []guard.Option{guard.WithHTTPClient(ti.Client()), guard.WithLogger(quietLogger())}
	g, err := guard.New(cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("guard.New: %v", err)
	}
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func request(authorization string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/images", nil)
	if authorization != "" {
		r.Header.Set("Authorization", authorization)
	}
	return r
}

type recordingLogger struct {
	mu        sync.Mutex
	decisions []core.Decision
}

func (l *recordingLogger) LogDecision(_ context.Context, d core.Decision) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.decisions = append(l.decisions, d)
}

func TestAuthorizeSuccess(t *testing.T) {
	ti := authtesting.NewTestIssuer()
	defer ti.Close()
	rec := &recordingLogger{}
	g := newGuard(t, ti, nil, guard.WithDecisionLogger(rec))

	claims, err := g.Authorize(request(authtesting.BearerHeader(ti.CreateToken("user-1", "get:images"))), "get:images")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Errorf("sub = %q", claims.Subject)
	}
	if len(rec.decisions) != 1 || !rec.decisions[0].Allowed || rec.decisions[0].Subject != "user-1" {
		t.Errorf("decisions = %+v", rec.decisions)
	}
}

func TestAuthorizeFailures(t *testing.T) {
	ti := authtesting.NewTestIssuer()
	defer ti.Close()
	g := newGuard(t, ti, nil)
	other := authtesting.NewTestIssuerWithAudience("other-api")
	defer other.Close()

	tests := []struct {
		name   string
		header string
		perm   string
		kind   core.ErrorKind
	}{
		{"missing header", "", "get:images", core.KindMissingHeader},
		{"basic scheme", "Basic abc123", "get:images", core.KindMalformedHeader},
		{"not a jwt", "Bearer abc", "get:images", core.KindMalformedToken},
		{"unknown kid", authtesting.BearerHeader(ti.CreateTokenWithKID("nope", "u")), "", core.KindKeyNotFound},
		{"expired", authtesting.BearerHeader(ti.CreateExpiredToken("u", "get:images")), "get:images", core.KindExpiredToken},
		{"wrong audience", authtesting.BearerHeader(ti.CreateTokenWithClaims("u", map[string]any{"aud": "other-api"})), "", core.KindClaimMismatch},
		{"wrong issuer", authtesting.BearerHeader(ti.CreateTokenWithClaims("u", map[string]any{"iss": "https://evil.example.com/"})), "", core.KindClaimMismatch},
		{"other issuer's key", authtesting.BearerHeader(other.CreateToken("u", "get:images")), "get:images", core.KindTokenUnparseable},
		{"no permissions claim", authtesting.BearerHeader(ti.CreateTokenWithClaims("u", map[string]any{"permissions": nil})), "get:images", core.KindNoPermissionsClaim},
		{"permission denied", authtesting.BearerHeader(ti.CreateToken("u", "get:images")), "post:images", core.KindPermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := g.Authorize(request(tt.header), tt.perm)
			if claims != nil {
				t.Error("claims must be nil on failure")
			}
			if got := core.KindOf(err); got != tt.kind {
				t.Errorf("kind = %v, want %v (err %v)", got, tt.kind, err)
			}
		})
	}
}

func TestAuthorizeNilRequest(t *testing.T) {
	ti := authtesting.NewTestIssuer()
	defer ti.Close()
	rec := &recordingLogger{}
	g := newGuard(t, ti, nil, guard.WithDecisionLogger(rec))

	_, err := g.Authorize(nil, "get:images")
	if core.KindOf(err) != core.KindMissingHeader {
		t.Fatalf("expected missing header, got %v", err)
	}
	if len(rec.decisions) != 1 || rec.decisions[0].Allowed {
		t.Errorf("decisions = %+v", rec.decisions)
	}
}

func TestAuthorizeEmptyPermission(t *testing.T) {
	ti := authtesting.NewTestIssuer()
	defer ti.Close()
	g := newGuard(t, ti, nil)

	if _, err := g.Authorize(request(authtesting.BearerHeader(ti.CreateToken("u"))), ""); err != nil {
		t.Fatalf("empty permission with empty list should pass: %v", err)
	}
}

func TestAuthorizeKeySetUnavailable(t *testing.T) {
	ti := authtesting.NewTestIssuer()
	defer ti.Close()
	g := newGuard(t, ti, nil)
	tok := ti.CreateToken("u", "get:images")
	ti.SetStatus(http.StatusServiceUnavailable)

	_, err := g.Authorize(request(authtesting.BearerHeader(tok)), "get:images")
	if core.KindOf(err) != core.KindKeySetUnavailable {
		t.Fatalf("expected key set unavailable, got %v", err)
	}
}

func TestWithoutCacheFetchesEveryCall(t *testing.T) {
	ti := authtesting.NewTestIssuer()
	defer ti.Close()
	g := newGuard(t, ti, nil)
	hdr := authtesting.BearerHeader(ti.CreateToken("u", "get:images"))

	for i := 0; i < 3; i++ {
		if _, err := g.Authorize(request(hdr), "get:images"); err != nil {
			t.Fatal(err)
		}
	}
	if ti.Fetches() != 3 {
		t.Errorf("fetches = %d, want 3", ti.Fetches())
	}
}

func TestHeaderFailuresSkipKeyFetch(t *testing.T) {
	ti := authtesting.NewTestIssuer()
	defer ti.Close()
	g := newGuard(t, ti, nil)

	_, _ = g.Authorize(request("Basic abc123"), "get:images")
	_, _ = g.Authorize(request(""), "get:images")
	if ti.Fetches() != 0 {
		t.Errorf("fetches = %d, header failures must not fetch keys", ti.Fetches())
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCachedGuardRefetchesOnceOnUnknownKID(t *testing.T) {
	ti := authtesting.NewTestIssuer()
	defer ti.Close()
	clock := &fakeClock{now: time.Now()}
	g := newGuard(t, ti, func(c *core.AcceptConfig) { c.CacheTTL = time.Hour }, guard.WithClock(clock.Now))

	if _, err := g.Authorize(request(authtesting.BearerHeader(ti.CreateToken("u", "get:images"))), "get:images"); err != nil {
		t.Fatal(err)
	}
	if ti.Fetches() != 1 {
		t.Fatalf("fetches = %d after first call", ti.Fetches())
	}

	clock.Advance(10 * time.Second)
	ti.RotateKey("test-key-2")
	if _, err := g.Authorize(request(authtesting.BearerHeader(ti.CreateToken("u", "get:images"))), "get:images"); err != nil {
		t.Fatalf("rotated key: %v", err)
	}
	if ti.Fetches() != 2 {
		t.Errorf("fetches = %d, want exactly one refetch", ti.Fetches())
	}

	clock.Advance(10 * time.Second)
	_, err := g.Authorize(request(authtesting.BearerHeader(ti.CreateTokenWithKID("ghost", "u"))), "")
	if core.KindOf(err) != core.KindKeyNotFound {
		t.Fatalf("expected key not found, got %v", err)
	}
	if ti.Fetches() != 3 {
		t.Errorf("fetches = %d, an unknown kid refetches once and gives up", ti.Fetches())
	}
}

func TestUnknownKIDRefetchIsRateLimited(t *testing.T) {
	ti := authtesting.NewTestIssuer()
	defer ti.Close()
	clock := &fakeClock{now: time.Now()}
	g := newGuard(t, ti, func(c *core.AcceptConfig) { c.CacheTTL = time.Hour }, guard.WithClock(clock.Now))
	ghost := request(authtesting.BearerHeader(ti.CreateTokenWithKID("ghost", "u")))

	// The first request fills the cache and does not fetch a second time.
	if _, err := g.Authorize(ghost, ""); core.KindOf(err) != core.KindKeyNotFound {
		t.Fatalf("expected key not found, got %v", err)
	}
	for i := 0; i < 5; i++ {
		_, _ = g.Authorize(request(authtesting.BearerHeader(ti.CreateTokenWithKID("ghost", "u"))), "")
	}
	if ti.Fetches() != 1 {
		t.Errorf("fetches = %d, unknown kids within the interval must not refetch", ti.Fetches())
	}

	clock.Advance(core.DefaultMinRefreshInterval + time.Second)
	_, _ = g.Authorize(request(authtesting.BearerHeader(ti.CreateTokenWithKID("ghost", "u"))), "")
	if ti.Fetches() != 2 {
		t.Errorf("fetches = %d, want one refetch after the interval", ti.Fetches())
	}
}

func TestUnknownKIDRefetchIntervalDisabled(t *testing.T) {
	ti := authtesting.NewTestIssuer()
	defer ti.Close()
	g := newGuard(t, ti, func(c *core.AcceptConfig) {
		c.CacheTTL = time.Hour
		c.MinRefreshInterval = -1
	})

	_, _ = g.Authorize(request(authtesting.BearerHeader(ti.CreateTokenWithKID("ghost", "u"))), "")
	if ti.Fetches() != 2 {
		t.Errorf("fetches = %d, want resolve plus one refetch", ti.Fetches())
	}
}

func TestJWKSFileConfig(t *testing.T) {
	ti := authtesting.NewTestIssuer()
	defer ti.Close()
	resp, err := ti.Client().Get(ti.JWKSURL())
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	path := t.TempDir() + "/jwks.json"
	writeBody(t, path, resp)

	g := newGuard(t, ti, func(c *core.AcceptConfig) { c.JWKSFile = path })
	if _, err := g.Authorize(request(authtesting.BearerHeader(ti.CreateToken("u", "get:images"))), "get:images"); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if ti.Fetches() != 1 {
		t.Errorf("fetches = %d, file-backed guard must not hit the network", ti.Fetches())
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	bad := []core.AcceptConfig{
		{Audience: "api"},
		{Domain: "tenant.example.com"},
		{Domain: "tenant.example.com", Audience: "api", Algorithms: []string{"HS256"}},
		{Domain: "tenant.example.com", Audience: "api", RefreshSchedule: "@every 1m"},
	}
	for i, cfg := range bad {
		if g, err := guard.New(cfg, guard.WithLogger(quietLogger())); err == nil {
			_ = g.Close()
			t.Errorf("config %d: expected error", i)
		}
	}
}

func TestWithResolver(t *testing.T) {
	ti := authtesting.NewTestIssuer()
	defer ti.Close()
	g := newGuard(t, ti, nil, guard.WithResolver(failingResolver{}))

	_, err := g.Authorize(request(authtesting.BearerHeader(ti.CreateToken("u"))), "")
	if core.KindOf(err) != core.KindKeySetUnavailable {
		t.Fatalf("plain resolver errors should become key set unavailable, got %v", err)
	}
}

type failingResolver struct{}

func (failingResolver) Resolve(context.Context, string) (*jwtkit.KeySet, error) {
	return nil, errors.New("resolver down")
}

func writeBody(t *testing.T, path string, resp *http.Response) {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestCachedGuardWithRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}

	ti := authtesting.NewTestIssuer()
	defer ti.Close()
	defer rdb.Del(context.Background(), "auth:jwks:"+ti.Domain())
	g := newGuard(t, ti, func(c *core.AcceptConfig) { c.CacheTTL = time.Minute }, guard.WithRedis(rdb))

	hdr := authtesting.BearerHeader(ti.CreateToken("u", "get:images"))
	for i := 0; i < 2; i++ {
		if _, err := g.Authorize(request(hdr), "get:images"); err != nil {
			t.Fatalf("Authorize: %v", err)
		}
	}
	if ti.Fetches() > 2 {
		t.Errorf("fetches = %d", ti.Fetches())
	}
	if n, _ := rdb.Exists(context.Background(), "auth:jwks:"+ti.Domain()).Result(); n != 1 {
		t.Error("key set not stored in redis")
	}
}
