package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newTestClient(t *testing.T, url string, sleeps *recordedSleeps, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithSleeper(sleeps.sleep), WithLogger(quietLogger())}, opts...)
	c, err := New(Config{
		URL:        url,
		APIKey:     "secret-key",
		MaxRetries: 3,
		Timeout:    2 * time.Second,
	}, opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func testSubmission() Submission {
	return Submission{
		Fields:    map[string]any{"nombre": "Juan", "telefono": "3515551234", "meta": "client supplied"},
		RequestID: "req-1",
		At:        time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		SessionID: "sess-1",
		IP:        "1.2.3.4",
		UserAgent: "Mozilla/5.0",
	}
}

func TestNew_RequiresURLAndKey(t *testing.T) {
	if _, err := New(Config{URL: "http://x"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := New(Config{APIKey: "k"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestDeliver_SendsHeadersAndMeta(t *testing.T) {
	var (
		mu        sync.Mutex
		gotHeader http.Header
		gotBody   map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotHeader = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tp := sdktrace.NewTracerProvider()
	c := newTestClient(t, srv.URL, &recordedSleeps{},
		WithTracerProvider(tp),
		WithPropagator(propagation.TraceContext{}),
	)

	res, err := c.Deliver(context.Background(), testSubmission())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Attempts != 1 || res.Status != http.StatusOK {
		t.Fatalf("unexpected result: %+v", res)
	}

	mu.Lock()
	defer mu.Unlock()
	if got := gotHeader.Get("Authorization"); got != "Bearer secret-key" {
		t.Fatalf("unexpected Authorization: %q", got)
	}
	if got := gotHeader.Get("X-Request-ID"); got != "req-1" {
		t.Fatalf("unexpected X-Request-ID: %q", got)
	}
	if got := gotHeader.Get("X-Timestamp"); got != "2025-01-02T03:04:05.000Z" {
		t.Fatalf("unexpected X-Timestamp: %q", got)
	}
	if gotHeader.Get("Content-Type") != "application/json" || gotHeader.Get("X-Source") == "" {
		t.Fatalf("missing content-type or source headers: %v", gotHeader)
	}
	if gotHeader.Get("Traceparent") == "" {
		t.Fatalf("expected trace context to be propagated")
	}

	meta, ok := gotBody["meta"].(map[string]any)
	if !ok {
		t.Fatalf("expected meta object, got %T", gotBody["meta"])
	}
	if meta["requestId"] != "req-1" || meta["sessionId"] != "sess-1" || meta["ip"] != "1.2.3.4" {
		t.Fatalf("unexpected meta: %v", meta)
	}
	if meta["securityPassed"] != true || meta["serverVersion"] != "2.0" {
		t.Fatalf("unexpected meta flags: %v", meta)
	}
	if gotBody["nombre"] != "Juan" {
		t.Fatalf("fields not forwarded: %v", gotBody)
	}
}

func TestDeliver_RetriesServerErrorsWithBackoff(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sleeps := &recordedSleeps{}
	c := newTestClient(t, srv.URL, sleeps)

	res, err := c.Deliver(context.Background(), testSubmission())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", res.Attempts)
	}
	if len(sleeps.delays) != 2 || sleeps.delays[0] != time.Second || sleeps.delays[1] != 2*time.Second {
		t.Fatalf("unexpected backoff delays: %v", sleeps.delays)
	}
}

func TestDeliver_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "unprocessable: internal detail", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	sleeps := &recordedSleeps{}
	c := newTestClient(t, srv.URL, sleeps)

	_, err := c.Deliver(context.Background(), testSubmission())
	var rejected *ClientRejectedError
	if !errors.As(err, &rejected) || rejected.Status != http.StatusUnprocessableEntity {
		t.Fatalf("expected ClientRejectedError(422), got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 || len(sleeps.delays) != 0 {
		t.Fatalf("expected a single attempt without backoff, got calls=%d sleeps=%v", n, sleeps.delays)
	}
}

func TestDeliver_ExhaustsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sleeps := &recordedSleeps{}
	c := newTestClient(t, srv.URL, sleeps)

	_, err := c.Deliver(context.Background(), testSubmission())
	var failed *FailedError
	if !errors.As(err, &failed) || failed.Attempts != 4 {
		t.Fatalf("expected FailedError after 4 attempts, got %v", err)
	}
	var status *StatusError
	if !errors.As(err, &status) || status.Status != http.StatusBadGateway {
		t.Fatalf("expected last error to carry 502, got %v", failed.Err)
	}
	if n := atomic.LoadInt32(&calls); n != 4 {
		t.Fatalf("expected 4 calls, got %d", n)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(sleeps.delays) != len(want) {
		t.Fatalf("unexpected delays: %v", sleeps.delays)
	}
	for i := range want {
		if sleeps.delays[i] != want[i] {
			t.Fatalf("delay %d: want %v, got %v", i, want[i], sleeps.delays[i])
		}
	}
}

func TestDeliver_TransportErrorIsRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close() // conexão recusada

	sleeps := &recordedSleeps{}
	c := newTestClient(t, url, sleeps)

	_, err := c.Deliver(context.Background(), testSubmission())
	var failed *FailedError
	if !errors.As(err, &failed) || failed.Attempts != 4 || failed.Err == nil {
		t.Fatalf("expected FailedError with transport cause, got %v", err)
	}
}

func TestDeliver_CancelDuringBackoffStops(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c, err := New(Config{URL: srv.URL, APIKey: "k", MaxRetries: 3}, WithLogger(quietLogger()),
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			cancel()
			return sleepCtx(ctx, d)
		}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = c.Deliver(ctx, testSubmission())
	var failed *FailedError
	if !errors.As(err, &failed) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected FailedError wrapping context.Canceled, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected loop to stop after first attempt, got %d calls", n)
	}
}

func TestBackoff_IsCapped(t *testing.T) {
	c, _ := New(Config{URL: "http://x", APIKey: "k", BackoffBase: time.Second, BackoffMax: 5 * time.Second})
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := c.Backoff(i); got != w {
			t.Fatalf("Backoff(%d) = %v, want %v", i, got, w)
		}
	}
}
