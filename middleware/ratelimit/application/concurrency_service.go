package application

import (
	"context"
	"sync/atomic"
	"time"

	"form-gateway/middleware/ratelimit/domain"
)

// ConcurrencyService concentra a regra de aquisição/liberação de vagas com timeout,
// sem saber nada sobre HTTP. Entregas ao webhook podem segurar uma vaga por
// vários segundos (tentativas + backoff), por isso o número em voo é exposto.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration

	inFlight atomic.Int64
}

// Acquire tenta adquirir uma vaga.
// - Se `AcquireTimeout <= 0`, espera indefinidamente (até ctx cancelar).
// - Se `AcquireTimeout > 0`, espera até o timeout.
// Retorna (release, ok). Se ok=false, nenhuma vaga foi adquirida.
func (s *ConcurrencyService) Acquire(ctx context.Context) (func(), bool) {
	if s.Pool == nil {
		s.inFlight.Add(1)
		return s.releaseFunc(func() {}), true
	}

	acqCtx := ctx
	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}

	release, ok := s.Pool.Acquire(acqCtx)
	if !ok {
		return nil, false
	}
	s.inFlight.Add(1)
	return s.releaseFunc(release), true
}

// InFlight retorna quantas vagas estão ocupadas agora.
func (s *ConcurrencyService) InFlight() int64 {
	return s.inFlight.Load()
}

func (s *ConcurrencyService) releaseFunc(release func()) func() {
	var once atomic.Bool
	return func() {
		if !once.CompareAndSwap(false, true) {
			return
		}
		s.inFlight.Add(-1)
		release()
	}
}
