package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"form-gateway/internal/config"
	"form-gateway/internal/secevent"
	"form-gateway/middleware/session"
)

func testConfig(webhook string) *config.Config {
	return &config.Config{
		ListenAddr:         "127.0.0.1:0",
		Env:                "test",
		WebhookURL:         webhook,
		WebhookAPIKey:      "k",
		WebhookTimeout:     2 * time.Second,
		WebhookMaxRetries:  0,
		SessionDuration:    time.Hour,
		SessionMaxRequests: 10,
		SessionSweepEvery:  time.Minute,
		MaxLoginAttempts:   5,
		LockoutDuration:    15 * time.Minute,
		RateSubmitMax:      5,
		RateSubmitWindow:   15 * time.Minute,
		RateSessionMax:     3,
		RateSessionWindow:  time.Minute,
		RateGeneralMax:     100,
		RateGeneralWindow:  15 * time.Minute,
		ConcurrencyMax:     10,
		MaxBodyBytes:       1 << 20,
		HoneypotField:      "website",
		PhoneCountryPrefix: "+54",
		AdminIPs:           "127.0.0.1",
		AllowedOrigins:     "https://form.example.org",
		OTelService:        "form-gateway-test",
	}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { _ = a.shutdown(context.Background()) })
	return a
}

func webhookStub(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func do(h http.Handler, method, path string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, bytes.NewReader(body))
	r.RemoteAddr = "203.0.113.7:5000"
	for k, v := range header {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func form(extra map[string]any) []byte {
	m := map[string]any{
		"localidad":    "Centro",
		"departamento": "Capital",
		"provincia":    "Córdoba",
		"nombre":       "Ana",
		"apellido":     "Gómez",
		"telefono":     "+54 351 1234567",
		"email":        "ana@example.com",
	}
	for k, v := range extra {
		m[k] = v
	}
	b, _ := json.Marshal(m)
	return b
}

func issueToken(t *testing.T, h http.Handler) string {
	t.Helper()
	w := do(h, http.MethodPost, "/api/create-session", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("create session: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		SessionToken string `json:"sessionToken"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.SessionToken == "" {
		t.Fatalf("bad session response: %s", w.Body.String())
	}
	return resp.SessionToken
}

func TestRouter_SessionThenSubmit(t *testing.T) {
	hook, calls := webhookStub(t)
	a := newTestApp(t, testConfig(hook.URL))
	h := a.Handler()

	token := issueToken(t, h)
	w := do(h, http.MethodPost, "/api/submit-form", form(nil), map[string]string{
		"Content-Type":     "application/json",
		session.HeaderName: token,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	if atomic.LoadInt32(calls) != 1 {
		t.Fatalf("expected one webhook call, got %d", atomic.LoadInt32(calls))
	}
	for _, k := range []string{"Content-Security-Policy", "Strict-Transport-Security", "X-Content-Type-Options", "X-Frame-Options"} {
		if w.Header().Get(k) == "" {
			t.Fatalf("missing security header %s", k)
		}
	}
}

func TestRouter_CORS(t *testing.T) {
	hook, _ := webhookStub(t)
	a := newTestApp(t, testConfig(hook.URL))

	w := do(a.Handler(), http.MethodOptions, "/api/submit-form", nil, map[string]string{
		"Origin":                         "https://form.example.org",
		"Access-Control-Request-Method":  "POST",
		"Access-Control-Request-Headers": "Content-Type, X-Session-Token",
	})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://form.example.org" {
		t.Fatalf("expected allowed origin, got %q (status %d)", got, w.Code)
	}

	w = do(a.Handler(), http.MethodGet, "/api/health", nil, map[string]string{"Origin": "https://evil.example"})
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unexpected CORS grant for foreign origin")
	}
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected foreign origin to be refused, got %d", w.Code)
	}
}

func TestRouter_NotFoundAndHealth(t *testing.T) {
	hook, _ := webhookStub(t)
	a := newTestApp(t, testConfig(hook.URL))

	w := do(a.Handler(), http.MethodGet, "/nope", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w = do(a.Handler(), http.MethodGet, "/api/health", nil, nil)
	if w.Code != http.StatusOK || bytes.Contains(w.Body.Bytes(), []byte(hook.URL)) {
		t.Fatalf("unexpected health: %d %s", w.Code, w.Body.String())
	}
}

func TestRouter_HealthIsRateLimited(t *testing.T) {
	hook, _ := webhookStub(t)
	cfg := testConfig(hook.URL)
	cfg.RateGeneralMax = 2
	a := newTestApp(t, cfg)

	for i := 0; i < 2; i++ {
		if w := do(a.Handler(), http.MethodGet, "/api/health", nil, nil); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
	}
	w := do(a.Handler(), http.MethodGet, "/api/health", nil, nil)
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected 429 with Retry-After, got %d %v", w.Code, w.Header())
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body["success"] != false {
		t.Fatalf("expected JSON rejection, got %s", w.Body.String())
	}
}

func TestRouter_RecoversPanics(t *testing.T) {
	hook, _ := webhookStub(t)
	a := newTestApp(t, testConfig(hook.URL))
	engine := a.Handler().(*gin.Engine)
	engine.GET("/boom", func(*gin.Context) { panic("boom") })

	w := do(a.Handler(), http.MethodGet, "/boom", nil, nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("boom")) {
		t.Fatalf("panic value leaked: %s", w.Body.String())
	}
}

func TestApp_HoneypotIsAudited(t *testing.T) {
	hook, calls := webhookStub(t)
	cfg := testConfig(hook.URL)
	cfg.AuditDriver = secevent.DriverSQLite
	cfg.AuditDSN = filepath.Join(t.TempDir(), "audit.db")
	a := newTestApp(t, cfg)
	start := time.Now().Add(-time.Minute)

	token := issueToken(t, a.Handler())
	w := do(a.Handler(), http.MethodPost, "/api/submit-form", form(map[string]any{"website": "spam"}), map[string]string{
		session.HeaderName: token,
	})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected disguised 429, got %d", w.Code)
	}
	if atomic.LoadInt32(calls) != 0 {
		t.Fatalf("honeypot must not reach the webhook")
	}

	if err := a.shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	sink, err := secevent.OpenSQL(context.Background(), cfg.AuditDriver, cfg.AuditDSN)
	if err != nil {
		t.Fatalf("reopen audit: %v", err)
	}
	defer sink.Close()
	n, err := sink.CountSince(context.Background(), secevent.KindHoneypot, start)
	if err != nil || n != 1 {
		t.Fatalf("expected one honeypot event, got %d (%v)", n, err)
	}
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	hook, _ := webhookStub(t)
	a := newTestApp(t, testConfig(hook.URL))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop")
	}
}

func TestNew_FailsWithoutWebhook(t *testing.T) {
	cfg := testConfig("")
	if _, err := New(context.Background(), cfg, quietLogger()); err == nil {
		t.Fatalf("expected error without webhook")
	}
}

func TestRouter_NoOriginsRefusesCrossOrigin(t *testing.T) {
	hook, _ := webhookStub(t)
	cfg := testConfig(hook.URL)
	cfg.AllowedOrigins = ""
	a := newTestApp(t, cfg)

	w := do(a.Handler(), http.MethodGet, "/api/health", nil, map[string]string{"Origin": "https://evil.example"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cross origin, got %d", w.Code)
	}

	// httptest usa Host example.com
	w = do(a.Handler(), http.MethodGet, "/api/health", nil, map[string]string{"Origin": "http://example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected same origin to pass, got %d", w.Code)
	}
}

func TestRouter_GeneralWindowCeiling(t *testing.T) {
	hook, _ := webhookStub(t)
	a := newTestApp(t, testConfig(hook.URL))

	for i := 0; i < 100; i++ {
		if w := do(a.Handler(), http.MethodGet, "/health", nil, nil); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
	}
	w := do(a.Handler(), http.MethodGet, "/health", nil, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 101st request denied, got %d", w.Code)
	}
	if w.Header().Get("RateLimit-Remaining") != "0" {
		t.Fatalf("expected window headers, got %v", w.Header())
	}
}

func TestRouter_ForwardedForUsesProxyAppendedEntry(t *testing.T) {
	hook, _ := webhookStub(t)
	cfg := testConfig(hook.URL)
	cfg.TrustedProxyHops = 1
	a := newTestApp(t, cfg)
	h := a.Handler()

	viaProxy := func(path, xff string) *httptest.ResponseRecorder {
		method := http.MethodGet
		if path == "/api/create-session" {
			method = http.MethodPost
		}
		r := httptest.NewRequest(method, path, nil)
		r.RemoteAddr = "10.0.0.1:443"
		r.Header.Set("X-Forwarded-For", xff)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	// trocar a entrada da esquerda não gera identidades novas
	for i, forged := range []string{"198.51.100.1", "198.51.100.2", "198.51.100.3"} {
		if w := viaProxy("/api/create-session", forged+", 7.7.7.7"); w.Code != http.StatusOK {
			t.Fatalf("session %d: expected 200, got %d", i+1, w.Code)
		}
	}
	if w := viaProxy("/api/create-session", "198.51.100.9, 7.7.7.7"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 4th session from 7.7.7.7 limited, got %d", w.Code)
	}

	if w := viaProxy("/api/security-status", "127.0.0.1, 6.6.6.6"); w.Code != http.StatusForbidden {
		t.Fatalf("expected forged admin ip refused, got %d", w.Code)
	}
}
