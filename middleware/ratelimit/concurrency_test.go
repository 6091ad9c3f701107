package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestConcurrencyMiddleware_TimesOutWhenNoSlot(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	secondDone := make(chan struct{})
	var startedOnce sync.Once

	// handler que segura a vaga até liberarmos (como uma entrega em backoff).
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedOnce.Do(func() { close(started) })
		<-release
		w.WriteHeader(http.StatusOK)
	})

	c := NewConcurrency(ConcurrencyOptions{
		Max:            1,
		RejectStatus:   http.StatusServiceUnavailable,
		AcquireTimeout: 25 * time.Millisecond,
	})
	h := c.Middleware(next)
	if c.Capacity() != 1 {
		t.Fatalf("expected capacity 1, got %d", c.Capacity())
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		r1 := httptest.NewRequest(http.MethodPost, "http://example/api/submit-form", nil)
		w1 := httptest.NewRecorder()
		h.ServeHTTP(w1, r1)
		if w1.Code != http.StatusOK {
			t.Errorf("expected first request 200, got %d", w1.Code)
		}
	}()

	select {
	case <-started:
	case <-time.After(200 * time.Millisecond):
		close(release)
		wg.Wait()
		t.Fatalf("timeout waiting first request to start")
	}
	if got := c.InFlight(); got != 1 {
		t.Errorf("expected InFlight=1 while first request holds the slot, got %d", got)
	}

	go func() {
		defer wg.Done()
		r2 := httptest.NewRequest(http.MethodPost, "http://example/api/submit-form", nil)
		w2 := httptest.NewRecorder()
		h.ServeHTTP(w2, r2)
		if w2.Code != http.StatusServiceUnavailable {
			t.Errorf("expected second request 503, got %d", w2.Code)
		}
		close(secondDone)
	}()

	select {
	case <-secondDone:
	case <-time.After(500 * time.Millisecond):
		close(release)
		wg.Wait()
		t.Fatalf("timeout waiting second request to finish")
	}

	close(release)
	wg.Wait()
	if got := c.InFlight(); got != 0 {
		t.Fatalf("expected InFlight=0 after release, got %d", got)
	}
}

func TestConcurrencyMiddleware_DisabledPassesThrough(t *testing.T) {
	var c *Concurrency = NewConcurrency(ConcurrencyOptions{Max: 0})
	if c != nil || c.Capacity() != 0 || c.InFlight() != 0 {
		t.Fatalf("expected nil limiter when Max=0")
	}
	h := ConcurrencyMiddleware(ConcurrencyOptions{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example/", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected pass-through, got %d", w.Code)
	}
}
