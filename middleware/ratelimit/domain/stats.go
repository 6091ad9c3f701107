package domain

import (
	"context"
	"time"
)

// StatsEvent representa um evento de decisão do rate limit.
//
// Tier identifica qual nível decidiu ("general", "submit", "session").
// Cuidado com cardinalidade: Key só deve ser persistida se explicitamente pedido.
type StatsEvent struct {
	Key     Key
	Tier    string
	Allowed bool

	Method string
	Path   string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas do rate limit.
//
// O chamador trata erro como best-effort (não derruba request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
