package session

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store mantém token -> sessão.
//
// Um único mutex protege o mapa: as operações são curtas e em memória.
// Validate sempre reconfere a expiração, então o janitor só libera memória.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session

	duration    time.Duration
	maxRequests int
	sweepEvery  time.Duration
	nowF        func() time.Time
	entropy     io.Reader
	newID       func() string
	onSweep     func(removed int)
}

type Option func(*Store)

func WithDuration(d time.Duration) Option {
	return func(s *Store) { s.duration = d }
}

// WithMaxRequests define o teto de requisições aceitas por sessão (0 = sem teto).
func WithMaxRequests(n int) Option {
	return func(s *Store) { s.maxRequests = n }
}

func WithSweepEvery(d time.Duration) Option {
	return func(s *Store) { s.sweepEvery = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.nowF = now }
}

// WithEntropy troca a fonte de bytes do token (testes).
func WithEntropy(r io.Reader) Option {
	return func(s *Store) { s.entropy = r }
}

// WithSweepHook é chamado após cada varredura com a quantidade removida.
func WithSweepHook(fn func(removed int)) Option {
	return func(s *Store) { s.onSweep = fn }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions:    make(map[string]*Session),
		duration:    1 * time.Hour,
		maxRequests: 10,
		sweepEvery:  5 * time.Minute,
		nowF:        time.Now,
		entropy:     defaultEntropy,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.duration <= 0 {
		s.duration = 1 * time.Hour
	}
	return s
}

func (s *Store) Duration() time.Duration { return s.duration }
func (s *Store) MaxRequests() int        { return s.maxRequests }

// Issue cria uma sessão nova para o cliente.
func (s *Store) Issue(clientAddress, userAgent string) (Session, error) {
	token, err := newToken(s.entropy)
	if err != nil {
		return Session{}, err
	}
	now := s.nowF()
	sess := &Session{
		ID:             s.newID(),
		Token:          token,
		ClientAddress:  clientAddress,
		UserAgent:      userAgent,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(s.duration),
	}

	s.mu.Lock()
	s.sessions[token] = sess
	s.mu.Unlock()

	return *sess, nil
}

// Validate confere o token e, se válido, estende a expiração e conta a requisição.
//
// Token ausente => ErrNotFound. Expirado => removido e ErrExpired.
// Quando RequestCount passa do teto a sessão é removida e volta ErrRequestLimit
// junto com o registro atualizado.
func (s *Store) Validate(token string) (Session, error) {
	if token == "" {
		return Session{}, ErrNotFound
	}
	now := s.nowF()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return Session{}, ErrNotFound
	}
	if !sess.Usable(now) {
		delete(s.sessions, token)
		return Session{}, ErrExpired
	}

	sess.RequestCount++
	sess.LastActivityAt = now
	sess.ExpiresAt = now.Add(s.duration)

	if s.maxRequests > 0 && sess.RequestCount > s.maxRequests {
		delete(s.sessions, token)
		return *sess, ErrRequestLimit
	}
	return *sess, nil
}

// Invalidate remove a sessão; retorna false se o token não existia.
func (s *Store) Invalidate(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[token]; !ok {
		return false
	}
	delete(s.sessions, token)
	return true
}

// SweepExpired remove sessões vencidas e retorna quantas saíram.
func (s *Store) SweepExpired() int {
	now := s.nowF()

	s.mu.Lock()
	removed := 0
	for token, sess := range s.sessions {
		if !sess.Usable(now) {
			delete(s.sessions, token)
			removed++
		}
	}
	s.mu.Unlock()

	if s.onSweep != nil {
		s.onSweep(removed)
	}
	return removed
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Snapshot lista as sessões (sem token), da mais antiga para a mais nova.
func (s *Store) Snapshot() []Session {
	s.mu.Lock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		cp := *sess
		cp.Token = ""
		out = append(out, cp)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// StartJanitor roda SweepExpired periodicamente até ctx ser cancelado.
func (s *Store) StartJanitor(ctx context.Context) {
	if s.sweepEvery <= 0 {
		return
	}
	t := time.NewTicker(s.sweepEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.SweepExpired()
			}
		}
	}()
}
