package infra

import (
	"context"

	"form-gateway/middleware/ratelimit/domain"
)

// SlotPool é um semáforo de capacidade fixa: cada vaga é uma requisição em voo.
type SlotPool struct {
	slots chan struct{}
}

var _ domain.SlotPool = (*SlotPool)(nil)

func NewChanPool(max int) *SlotPool {
	if max <= 0 {
		max = 1
	}
	return &SlotPool{slots: make(chan struct{}, max)}
}

func (p *SlotPool) Cap() int { return cap(p.slots) }

// Acquire tenta uma vaga livre na hora e, se não houver, espera até ctx acabar.
func (p *SlotPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case p.slots <- struct{}{}:
		return p.release, true
	default:
	}

	select {
	case p.slots <- struct{}{}:
		return p.release, true
	case <-ctx.Done():
		return nil, false
	}
}

func (p *SlotPool) release() { <-p.slots }
