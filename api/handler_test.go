package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/blueauth/blueauth/config"
	"github.com/blueauth/blueauth/flow"
	"github.com/blueauth/blueauth/health"
	"github.com/blueauth/blueauth/identity"
	"github.com/blueauth/blueauth/session"
	"github.com/blueauth/blueauth/telemetry"
	"github.com/labstack/echo/v4"
)

type capturingMailer struct {
	mu     sync.Mutex
	tokens []string
}

func (m *capturingMailer) SendSignIn(ctx context.Context, to, tok string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = append(m.tokens, tok)
	return nil
}

func (m *capturingMailer) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.tokens) == 0 {
		return ""
	}
	return m.tokens[len(m.tokens)-1]
}

type testServer struct {
	e        *echo.Echo
	ctrl     *flow.Controller
	sessions *session.Manager
	mailer   *capturingMailer
	store    *identity.MemoryStore
}

func newTestServer(t *testing.T, opts config.Options) *testServer {
	t.Helper()
	store := identity.NewMemoryStore(&identity.Identity{ID: "123", Email: "123@example.com"})
	opts.Secret = "api-test-secret"
	opts.AuthEndpoint = "http://example.com/api/auth"
	opts.Gateway = store
	cfg := config.Resolve(opts)

	sessions, err := session.NewManager(cfg)
	if err != nil {
		t.Fatalf("failed to create session manager: %v", err)
	}
	mailer := &capturingMailer{}
	ctrl, err := flow.NewController(cfg, sessions, mailer)
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}

	hm := health.NewManager("test")
	tp, err := telemetry.NewProvider(context.Background(), telemetry.Config{ServiceName: "blueauth-test", SamplingRate: 1, Enabled: true})
	if err != nil {
		t.Fatalf("failed to create telemetry: %v", err)
	}

	h := NewHandler(ctrl, sessions, WithHealth(hm), WithTelemetry(tp))
	e := echo.New()
	h.RegisterRoutes(e.Group("/api/auth"))
	h.RegisterSystemRoutes(e)

	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	return &testServer{e: e, ctrl: ctrl, sessions: sessions, mailer: mailer, store: store}
}

func (s *testServer) rpc(t *testing.T, op string, vars any, cookies ...*http.Cookie) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"operation": op, "variables": vars})
	req := httptest.NewRequest(http.MethodPost, "/api/auth", bytes.NewBuffer(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body %q: %v", rec.Body.String(), err)
	}
	return rec, resp
}

func sessionCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestSignInOverRPC(t *testing.T) {
	s := newTestServer(t, config.Options{})

	// 1. Start
	_, resp := s.rpc(t, "startEmailSignIn", map[string]any{
		"identity":    map[string]any{"email": "123@example.com"},
		"redirectURL": "/dashboard",
	})
	if len(resp.Errors) > 0 || resp.Data["startEmailSignIn"] != true {
		t.Fatalf("unexpected start response %+v", resp)
	}
	s.ctrl.Wait()
	tok := s.mailer.last()
	if tok == "" {
		t.Fatal("expected a sign-in token to be sent")
	}

	// 2. Complete
	rec, resp := s.rpc(t, "completeSignIn", map[string]any{"token": tok})
	if resp.Data["completeSignIn"] != "/dashboard" {
		t.Fatalf("expected redirect /dashboard, got %+v", resp)
	}
	cookie := sessionCookie(rec, "blueauth-session")
	if cookie == nil || cookie.Value == "" {
		t.Fatal("expected session cookie")
	}

	// 3. Whoami
	rec, resp = s.rpc(t, "whoami", nil, cookie)
	who, ok := resp.Data["whoami"].(map[string]any)
	if !ok || who["id"] != "123" || who["email"] != "123@example.com" {
		t.Fatalf("unexpected whoami %+v", resp)
	}
	if sessionCookie(rec, "blueauth-session") == nil {
		t.Error("expected whoami to refresh the session cookie")
	}

	// 4. Sign out
	rec, resp = s.rpc(t, "signOut", nil, cookie)
	if resp.Data["signOut"] != true {
		t.Fatalf("unexpected signOut %+v", resp)
	}
	if !strings.Contains(rec.Header().Get("Set-Cookie"), "Max-Age=0") {
		t.Errorf("expected clearing cookie, got %q", rec.Header().Get("Set-Cookie"))
	}
}

func TestWhoamiAnonymous(t *testing.T) {
	s := newTestServer(t, config.Options{})

	for _, c := range []*http.Cookie{nil, {Name: "blueauth-session", Value: "garbage"}} {
		var cookies []*http.Cookie
		if c != nil {
			cookies = append(cookies, c)
		}
		rec, resp := s.rpc(t, "whoami", nil, cookies...)
		if v, ok := resp.Data["whoami"]; !ok || v != nil {
			t.Errorf("expected whoami null, got %+v", resp)
		}
		if rec.Header().Get("Set-Cookie") != "" {
			t.Error("expected no cookie for anonymous whoami")
		}
	}
}

func TestOperationErrors(t *testing.T) {
	s := newTestServer(t, config.Options{})

	rec, resp := s.rpc(t, "startEmailSignIn", map[string]any{"identity": map[string]any{"email": "nobody@example.com"}})
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for operation errors, got %d", rec.Code)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Message != "no existing identity" {
		t.Errorf("unexpected errors %+v", resp.Errors)
	}

	_, resp = s.rpc(t, "completeSignIn", map[string]any{"token": "garbage"})
	if len(resp.Errors) != 1 {
		t.Errorf("expected token error, got %+v", resp)
	}

	rec, _ = s.rpc(t, "deleteEverything", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown operation, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/auth", strings.NewReader("{"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad body, got %d", rec.Code)
	}
}

func TestRegisterOrStartOverRPC(t *testing.T) {
	tests := []struct {
		name       string
		signIn     bool
		email      string
		wantResult string
		wantCookie bool
	}{
		{"existing identity", true, "123@example.com", "SIGN_IN_STARTED", false},
		{"new identity", false, "new@example.com", "SIGN_IN_STARTED", false},
		{"new identity signed in", true, "new@example.com", "SIGN_IN_COMPLETED", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, config.Options{SignInAfterRegistration: config.Ptr(tt.signIn)})

			rec, resp := s.rpc(t, "registerOrStartEmailSignIn", map[string]any{
				"identity": map[string]any{"email": tt.email},
			})
			if resp.Data["registerOrStartEmailSignIn"] != tt.wantResult {
				t.Fatalf("expected %s, got %+v", tt.wantResult, resp)
			}
			if got := sessionCookie(rec, "blueauth-session") != nil; got != tt.wantCookie {
				t.Errorf("expected cookie=%v, got %v", tt.wantCookie, got)
			}
		})
	}
}

func TestRegisterOverRPC(t *testing.T) {
	s := newTestServer(t, config.Options{})

	_, resp := s.rpc(t, "register", map[string]any{"identity": map[string]any{"email": "new@example.com", "name": "Ann"}})
	created, ok := resp.Data["register"].(map[string]any)
	if !ok || created["email"] != "new@example.com" || created["name"] != "Ann" || created["id"] == nil {
		t.Fatalf("unexpected register response %+v", resp)
	}
	if s.store.Len() != 2 {
		t.Errorf("expected 2 identities, got %d", s.store.Len())
	}

	_, resp = s.rpc(t, "register", map[string]any{"identity": map[string]any{"email": "123@example.com"}})
	if len(resp.Errors) != 1 || resp.Errors[0].Message != flow.ErrIdentityExists.Error() {
		t.Errorf("expected identity exists error, got %+v", resp)
	}
}

func TestSignInLink(t *testing.T) {
	s := newTestServer(t, config.Options{})

	err := s.ctrl.Start(context.Background(), &identity.Identity{Email: "123@example.com"}, flow.StartOptions{WaitForDispatch: true})
	if err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/auth?token="+url.QueryEscape(s.mailer.last()), nil)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d: %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != "/" {
		t.Errorf("expected redirect to /, got %q", loc)
	}
	cookie := sessionCookie(rec, "blueauth-session")
	if cookie == nil {
		t.Fatal("expected session cookie")
	}
	if ident := s.sessions.ResolveCurrentIdentity(context.Background(), cookie.Value); ident == nil || ident.ID != "123" {
		t.Errorf("expected cookie for identity 123, got %v", ident)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/auth?token=garbage", nil)
	rec = httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest || !strings.HasPrefix(rec.Body.String(), "Error: ") {
		t.Errorf("expected 400 Error:, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestRPCOverQuery(t *testing.T) {
	s := newTestServer(t, config.Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/auth?operation=whoami", nil)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if v, ok := resp.Data["whoami"]; !ok || v != nil {
		t.Errorf("expected whoami null, got %s", rec.Body.String())
	}

	q := url.Values{}
	q.Set("operation", "register")
	q.Set("variables", `{"identity":{"email":"query@example.com"}}`)
	req = httptest.NewRequest(http.MethodGet, "/api/auth?"+q.Encode(), nil)
	rec = httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	if !strings.Contains(rec.Body.String(), "query@example.com") {
		t.Errorf("expected register over query, got %s", rec.Body.String())
	}
}

func TestIdentityMiddleware(t *testing.T) {
	s := newTestServer(t, config.Options{})

	sess, err := s.sessions.Issue(context.Background(), &identity.Identity{ID: "123"})
	if err != nil {
		t.Fatalf("failed to issue: %v", err)
	}

	e := echo.New()
	e.Use(IdentityMiddleware(s.sessions))
	e.GET("/me", func(c echo.Context) error {
		ident := CurrentIdentity(c)
		if ident == nil {
			return c.String(http.StatusUnauthorized, "anonymous")
		}
		return c.String(http.StatusOK, ident.ID)
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(s.sessions.Cookie(sess))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "123" {
		t.Errorf("expected identity 123, got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected anonymous, got %d", rec.Code)
	}
}

func TestSystemRoutes(t *testing.T) {
	s := newTestServer(t, config.Options{})

	for _, path := range []string{"/health", "/health/live", "/health/ready", "/metrics"} {
		rec := httptest.NewRecorder()
		s.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}
