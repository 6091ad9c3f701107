// Package reputation marca IPs suspeitos (ex: honeypot preenchido).
//
// Um IP marcado fica bloqueado até o processo reiniciar: não há expiração
// nem caminho de volta. Os contadores de tentativas são expostos para uma
// política de lockout futura (MaxAttempts/LockoutDuration) mas não bloqueiam
// por conta própria.
package reputation

import (
	"sort"
	"sync"
	"time"
)

type Record struct {
	IP           string    `json:"ip"`
	Attempts     int       `json:"attempts"`
	Flagged      bool      `json:"flagged"`
	FirstSeen    time.Time `json:"firstSeen"`
	LastAttempt  time.Time `json:"lastAttempt"`
	LockoutReady bool      `json:"lockoutThresholdReached"`
}

type Tracker struct {
	mu       sync.RWMutex
	flagged  map[string]struct{}
	attempts map[string]*Record

	maxAttempts     int
	lockoutDuration time.Duration
	nowF            func() time.Time
}

type Option func(*Tracker)

// WithLockout guarda os parâmetros de lockout (apenas informativos hoje).
func WithLockout(maxAttempts int, d time.Duration) Option {
	return func(t *Tracker) {
		t.maxAttempts = maxAttempts
		t.lockoutDuration = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.nowF = now }
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		flagged:     make(map[string]struct{}),
		attempts:    make(map[string]*Record),
		maxAttempts: 5,
		nowF:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) MaxAttempts() int               { return t.maxAttempts }
func (t *Tracker) LockoutDuration() time.Duration { return t.lockoutDuration }

// Flag marca o IP. Idempotente.
func (t *Tracker) Flag(ip string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flagged[ip] = struct{}{}
}

func (t *Tracker) IsFlagged(ip string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.flagged[ip]
	return ok
}

// RecordAttempt soma uma tentativa suspeita e retorna o total do IP.
func (t *Tracker) RecordAttempt(ip string) int {
	now := t.nowF()

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.attempts[ip]
	if !ok {
		rec = &Record{IP: ip, FirstSeen: now}
		t.attempts[ip] = rec
	}
	rec.Attempts++
	rec.LastAttempt = now
	return rec.Attempts
}

func (t *Tracker) Attempts(ip string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if rec, ok := t.attempts[ip]; ok {
		return rec.Attempts
	}
	return 0
}

// FlaggedCount retorna quantos IPs estão marcados.
func (t *Tracker) FlaggedCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.flagged)
}

// Flagged lista os IPs marcados em ordem.
func (t *Tracker) Flagged() []string {
	t.mu.RLock()
	out := make([]string, 0, len(t.flagged))
	for ip := range t.flagged {
		out = append(out, ip)
	}
	t.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Snapshot junta tentativas e marcação por IP, ordenado por IP.
func (t *Tracker) Snapshot() []Record {
	t.mu.RLock()
	out := make([]Record, 0, len(t.attempts)+len(t.flagged))
	seen := make(map[string]struct{}, len(t.attempts))
	for ip, rec := range t.attempts {
		cp := *rec
		_, cp.Flagged = t.flagged[ip]
		cp.LockoutReady = t.maxAttempts > 0 && cp.Attempts >= t.maxAttempts
		out = append(out, cp)
		seen[ip] = struct{}{}
	}
	for ip := range t.flagged {
		if _, ok := seen[ip]; !ok {
			out = append(out, Record{IP: ip, Flagged: true})
		}
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out
}
