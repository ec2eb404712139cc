package authgin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/PaulFidika/authgate/core"
	"github.com/PaulFidika/authgate/guard"
	authtesting "github.com/PaulFidika/authgate/testing"
)

func init() { gin.SetMode(gin.TestMode) }

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newRouter(t *testing.T, ti *authtesting.TestIssuer, opts ...Option) *gin.Engine {
	t.Helper()
	g, err := guard.New(core.AcceptConfig{Domain: ti.Domain(), Audience: ti.Audience()},
		guard.WithHTTPClient(ti.Client()), guard.WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = g.Close() })

	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	r := gin.New()
	r.GET("/images", Require(g, "get:images", opts...), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sub": Subject(c)})
	})
	r.POST("/images", Handle(g, "post:images", func(c *gin.Context, claims *core.Claims) {
		fromCtx, _ := core.ClaimsFromContext(c.Request.Context())
		c.JSON(http.StatusCreated, gin.H{"sub": claims.Subject, "ctx": fromCtx == claims})
	}, opts...))
	return r
}

func serve(r *gin.Engine, method, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/images", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return body
}

func TestRequireGrantsAccess(t *testing.T) {
	ti := authtesting.NewTestIssuer()
	defer ti.Close()
	r := newRouter(t, ti)

	w := serve(r, http.MethodGet, authtesting.BearerHeader(ti.CreateToken("user-1", "get:images")))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	if decode(t, w)["sub"] != "user-1" {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestHandleGrantsAccess(t *testing.T) {
	ti := authtesting.NewTestIssuer()
	defer ti.Close()
	r := newRouter(t, ti)

	w := serve(r, http.MethodPost, authtesting.BearerHeader(ti.CreateToken("user-2", "post:images")))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["sub"] != "user-2" || body["ctx"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestRejectionBodies(t *testing.T) {
	ti := authtesting.NewTestIssuer()
	defer ti.Close()
	r := newRouter(t, ti)

	tests := []struct {
		name      string
		method    string
		header    string
		status    int
		code      string
		challenge string
	}{
		{"missing header", http.MethodGet, "", 401, "missing_header", "Bearer"},
		{"basic", http.MethodGet, "Basic abc123", 401, "malformed_header", `Bearer error="invalid_token"`},
		{"expired", http.MethodGet, authtesting.BearerHeader(ti.CreateExpiredToken("u", "get:images")), 401, "expired_token", `Bearer error="invalid_token"`},
		{"unknown kid", http.MethodGet, authtesting.BearerHeader(ti.CreateTokenWithKID("ghost", "u", "get:images")), 400, "key_not_found", ""},
		{"wrong permission", http.MethodPost, authtesting.BearerHeader(ti.CreateToken("u", "get:images")), 401, "permission_denied", `Bearer error="insufficient_scope"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(r, tt.method, tt.header)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			body := decode(t, w)
			if body["code"] != tt.code || body["success"] != false {
				t.Errorf("body = %v", body)
			}
			if body["error_code"] != float64(tt.status) || body["http_status"] != float64(tt.status) {
				t.Errorf("statuses in body = %v", body)
			}
			if got := w.Header().Get("WWW-Authenticate"); got != tt.challenge {
				t.Errorf("WWW-Authenticate = %q, want %q", got, tt.challenge)
			}
		})
	}
}

func TestKeySetUnavailableIsRetryable(t *testing.T) {
	ti := authtesting.NewTestIssuer()
	defer ti.Close()
	r := newRouter(t, ti)
	tok := ti.CreateToken("u", "get:images")
	ti.SetStatus(http.StatusBadGateway)

	w := serve(r, http.MethodGet, authtesting.BearerHeader(tok))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}

type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allow, s.err
}

func TestRateLimiter(t *testing.T) {
	ti := authtesting.NewTestIssuer()
	defer ti.Close()
	hdr := authtesting.BearerHeader(ti.CreateToken("u", "get:images"))

	deny := &stubLimiter{}
	w := serve(newRouter(t, ti, WithRateLimiter(deny)), http.MethodGet, hdr)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", w.Code)
	}
	if ti.Fetches() != 0 {
		t.Error("throttled requests must not reach verification")
	}
	if len(deny.keys) != 1 || deny.keys[0] == "" {
		t.Errorf("limiter keys = %v", deny.keys)
	}

	broken := &stubLimiter{err: errors.New("redis down")}
	w = serve(newRouter(t, ti, WithRateLimiter(broken)), http.MethodGet, hdr)
	if w.Code != http.StatusOK {
		t.Fatalf("limiter errors should not block, status = %d", w.Code)
	}
}

func TestClaimsFromGinWithoutAuth(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := ClaimsFromGin(c); ok {
		t.Error("unauthorized context should carry no claims")
	}
	if Subject(c) != "" {
		t.Error("subject should be empty")
	}
}
