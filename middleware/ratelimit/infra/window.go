package infra

import (
	"context"
	"sync"
	"time"

	"form-gateway/middleware/ratelimit/domain"
)

// WindowStore implementa domain.WindowStore com janelas fixas por chave.
//
// A janela de uma chave começa na primeira requisição e dura `window`; a
// próxima requisição depois disso abre uma janela nova com contador zerado.
type WindowStore struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	size    time.Duration
	nowF    func() time.Time

	cleanupEvery time.Duration
}

type window struct {
	start time.Time
	count int
}

type WindowOption func(*WindowStore)

// WithWindowClock troca o relógio (testes).
func WithWindowClock(now func() time.Time) WindowOption {
	return func(s *WindowStore) { s.nowF = now }
}

func WithWindowCleanupEvery(d time.Duration) WindowOption {
	return func(s *WindowStore) { s.cleanupEvery = d }
}

func NewWindowStore(limit int, size time.Duration, opts ...WindowOption) *WindowStore {
	s := &WindowStore{
		windows:      make(map[string]*window),
		limit:        limit,
		size:         size,
		nowF:         time.Now,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *WindowStore) Limit() int            { return s.limit }
func (s *WindowStore) Window() time.Duration { return s.size }

// Take implementa domain.WindowStore.
func (s *WindowStore) Take(key domain.Key) domain.Decision {
	now := s.nowF()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[string(key)]
	if !ok || !now.Before(w.start.Add(s.size)) {
		w = &window{start: now}
		s.windows[string(key)] = w
	}

	reset := w.start.Add(s.size).Sub(now)
	if w.count >= s.limit {
		return domain.Decision{
			Allowed:    false,
			RetryAfter: reset,
			Limit:      s.limit,
			Remaining:  0,
			Reset:      reset,
		}
	}

	w.count++
	return domain.Decision{
		Allowed:   true,
		Limit:     s.limit,
		Remaining: s.limit - w.count,
		Reset:     reset,
	}
}

// Len retorna quantas janelas estão abertas.
func (s *WindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Cleanup remove janelas já encerradas.
func (s *WindowStore) Cleanup() {
	now := s.nowF()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, w := range s.windows {
		if !now.Before(w.start.Add(s.size)) {
			delete(s.windows, k)
		}
	}
}

func (s *WindowStore) StartJanitor(ctx context.Context) {
	startJanitor(ctx, s.cleanupEvery, s.Cleanup)
}
