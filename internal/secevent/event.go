// Package secevent registra eventos de segurança do gateway (honeypot,
// bloqueios, rejeições e entregas) em um ou mais destinos: tabela SQL,
// tópico Kafka e logs OpenTelemetry.
//
// A gravação é best-effort e assíncrona: nunca atrasa nem derruba a requisição.
package secevent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Kind string

const (
	KindHoneypot         Kind = "honeypot_triggered"
	KindIPBlocked        Kind = "ip_blocked"
	KindRateLimited      Kind = "rate_limited"
	KindBotBlocked       Kind = "bot_blocked"
	KindSessionIssued    Kind = "session_issued"
	KindSessionRejected  Kind = "session_rejected"
	KindSessionLimit     Kind = "session_limit_exceeded"
	KindValidationFailed Kind = "validation_failed"
	KindDelivered        Kind = "submission_delivered"
	KindDeliveryRejected Kind = "delivery_rejected"
	KindDeliveryFailed   Kind = "delivery_failed"
	KindAdminDenied      Kind = "admin_denied"
)

type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	IP        string    `json:"ip"`
	Route     string    `json:"route,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	Country   string    `json:"country,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Sink persiste um evento.
type Sink interface {
	Record(ctx context.Context, ev Event) error
}

// Multi grava em todos os sinks; erros são juntados.
type Multi []Sink

func (m Multi) Record(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

const (
	emitTimeout      = 5 * time.Second
	defaultQueueSize = 1024
	defaultWorkers   = 4
)

// Recorder preenche ID/At e entrega os eventos a um número fixo de workers
// por uma fila limitada. Com a fila cheia o evento é descartado: a requisição
// nunca espera pelo sink. Cada gravação tem timeout próprio, desligado do
// contexto da requisição.
type Recorder struct {
	sink    Sink
	log     logrus.FieldLogger
	timeout time.Duration
	nowF    func() time.Time

	mu      sync.RWMutex
	closed  bool
	queue   chan Event
	workers int
	dropped atomic.Uint64

	wg   sync.WaitGroup
	once sync.Once
}

type RecorderOption func(*Recorder)

// WithQueue define o tamanho da fila e quantos workers a consomem.
func WithQueue(size, workers int) RecorderOption {
	return func(r *Recorder) {
		if size > 0 {
			r.queue = make(chan Event, size)
		}
		if workers > 0 {
			r.workers = workers
		}
	}
}

func NewRecorder(sink Sink, log logrus.FieldLogger, opts ...RecorderOption) *Recorder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := &Recorder{
		sink:    sink,
		log:     log,
		timeout: emitTimeout,
		nowF:    time.Now,
		queue:   make(chan Event, defaultQueueSize),
		workers: defaultWorkers,
	}
	for _, opt := range opts {
		opt(r)
	}
	if sink == nil {
		return r
	}
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.work()
	}
	return r
}

func (r *Recorder) work() {
	defer r.wg.Done()
	for ev := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.sink.Record(ctx, ev); err != nil {
			r.log.WithError(err).WithField("kind", ev.Kind).Warn("security event not recorded")
		}
		cancel()
	}
}

// Emit é seguro com receiver nil ou sem sink. Depois de Close, ou com a fila
// cheia, o evento é contado em Dropped e descartado.
func (r *Recorder) Emit(ev Event) {
	if r == nil || r.sink == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = r.nowF().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.queue <- ev:
	default:
		if r.dropped.Add(1)%100 == 1 {
			r.log.WithField("kind", ev.Kind).Warn("security event queue full, dropping")
		}
	}
}

// Dropped conta os eventos descartados desde a criação.
func (r *Recorder) Dropped() uint64 {
	if r == nil {
		return 0
	}
	return r.dropped.Load()
}

// Close fecha a fila e espera os workers gravarem o que já estava nela, ou
// ctx acabar. Pode ser chamado mais de uma vez.
func (r *Recorder) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
