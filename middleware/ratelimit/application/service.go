package application

import (
	"time"

	"form-gateway/middleware/ratelimit/domain"
)

// Service decide um nível de rate limit. Não sabe nada de HTTP: devolve a
// Decision e quem chama escreve status e headers.
//
// Windows (janela fixa) é o teto do nível. Store (token bucket) é opcional e
// fica por baixo dela, suavizando rajadas: quando ele nega, a janela não é
// consumida. Sem nenhum dos dois o nível está desligado e tudo passa.
type Service struct {
	Store   domain.LimiterStore
	Windows domain.WindowStore
	// RetryAfter é usado quando o limiter não informa a espera (padrão 1s).
	RetryAfter time.Duration
}

func (s Service) Decide(key domain.Key) domain.Decision {
	if s.Store != nil {
		if dec := s.decideBucket(s.Store.Get(key)); !dec.Allowed {
			return dec
		}
	}
	if s.Windows == nil {
		return domain.Decision{Allowed: true}
	}
	dec := s.Windows.Take(key)
	if !dec.Allowed && dec.RetryAfter <= 0 {
		dec.RetryAfter = s.fallback()
	}
	return dec
}

func (s Service) decideBucket(lim domain.Limiter) domain.Decision {
	if lim == nil || lim.Allow() {
		return domain.Decision{Allowed: true}
	}
	dec := domain.Decision{RetryAfter: s.fallback()}
	if b, ok := lim.(domain.Budget); ok {
		if wait := b.Wait(); wait > 0 {
			dec.RetryAfter = wait
		}
	}
	return dec
}

func (s Service) fallback() time.Duration {
	if s.RetryAfter <= 0 {
		return time.Second
	}
	return s.RetryAfter
}

// Enabled indica se existe algum limiter configurado.
func (s Service) Enabled() bool {
	return s.Windows != nil || s.Store != nil
}
