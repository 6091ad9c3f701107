package domain

// Camada de domínio do rate limit.
//
// Dois níveis convivem no gateway:
//   - token bucket grosso por IP (Limiter/LimiterStore), compartilhado por todas as rotas;
//   - janela fixa por rota (WindowStore), com teto exato por janela.

import "time"

type Key string

// Limiter representa algo que pode decidir se uma ação é permitida agora.
// A camada de infra usa golang.org/x/time/rate.
type Limiter interface {
	Allow() bool
}

// Budget é opcional: limiters que sabem quanto falta para a próxima vaga.
// Com ele a decisão do nível grosso traz um Retry-After exato.
type Budget interface {
	Limiter
	Wait() time.Duration
}

// LimiterStore obtém um limiter por chave (ex: IP).
type LimiterStore interface {
	Get(Key) Limiter
}

// WindowStore conta requisições por chave dentro de uma janela fixa.
//
// Take é atômico por chave: consulta e incremento acontecem juntos.
// Uma chave nunca é admitida mais de Limit vezes na mesma janela.
type WindowStore interface {
	Take(Key) Decision
}

type Decision struct {
	Allowed bool
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Para janelas fixas é o tempo restante da janela atual.
	RetryAfter time.Duration

	// Limit/Remaining/Reset só são preenchidos por WindowStore (0 = desconhecido).
	Limit     int
	Remaining int
	Reset     time.Duration
}
