package infra

import (
	"context"
	"sync"
	"time"

	"form-gateway/middleware/ratelimit/domain"

	"golang.org/x/time/rate"
)

// Store guarda um token bucket (x/time/rate) por chave. Ele não garante teto
// por janela (isso é do WindowStore); serve para suavizar rajadas por baixo de
// uma janela. Chaves sem uso há mais de idleTTL são descartadas pelo janitor.
type Store struct {
	rps   rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	buckets map[domain.Key]*bucket

	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type StoreOption func(*Store)

func WithIdleTTL(d time.Duration) StoreOption {
	return func(s *Store) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) StoreOption {
	return func(s *Store) { s.cleanupEvery = d }
}

func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func NewStore(rps float64, burst int, opts ...StoreOption) *Store {
	s := &Store{
		rps:          rate.Limit(rps),
		burst:        burst,
		now:          time.Now,
		buckets:      make(map[domain.Key]*bucket),
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewStoreForWindow monta o bucket que acompanha uma janela de max
// requisições: repõe max tokens ao longo da janela e aceita rajadas de até
// burst (burst <= 0 vira max). O idle TTL acompanha a janela para não esquecer
// um IP antes do bucket encher.
func NewStoreForWindow(max int, window time.Duration, burst int, opts ...StoreOption) *Store {
	if max <= 0 {
		max = 1
	}
	if burst <= 0 || burst > max {
		burst = max
	}
	if window <= 0 {
		window = time.Minute
	}
	rps := float64(max) / window.Seconds()
	base := []StoreOption{WithIdleTTL(window)}
	return NewStore(rps, burst, append(base, opts...)...)
}

func (s *Store) RPS() float64 { return float64(s.rps) }
func (s *Store) Burst() int   { return s.burst }

// Get implementa domain.LimiterStore. O limiter devolvido também é domain.Budget.
func (s *Store) Get(key domain.Key) domain.Limiter {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(s.rps, s.burst), now: s.now}
		s.buckets[key] = b
	}
	b.lastSeen = now
	return b
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

func (s *Store) Cleanup() {
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, b := range s.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(s.buckets, k)
		}
	}
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente.
// Pare cancelando o contexto.
func (s *Store) StartJanitor(ctx context.Context) {
	startJanitor(ctx, s.cleanupEvery, s.Cleanup)
}

// bucket guarda o limiter de um IP. lastSeen é protegido pelo mutex do Store.
type bucket struct {
	lim      *rate.Limiter
	now      func() time.Time
	lastSeen time.Time
}

func (b *bucket) Allow() bool { return b.lim.AllowN(b.now(), 1) }

// Wait é quanto falta para um token inteiro voltar ao bucket.
func (b *bucket) Wait() time.Duration {
	tokens := b.lim.TokensAt(b.now())
	if tokens >= 1 || b.lim.Limit() <= 0 {
		return 0
	}
	secs := (1 - tokens) / float64(b.lim.Limit())
	return time.Duration(secs * float64(time.Second))
}

func startJanitor(ctx context.Context, every time.Duration, fn func()) {
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				fn()
			}
		}
	}()
}
