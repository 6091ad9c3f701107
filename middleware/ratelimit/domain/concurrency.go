package domain

import "context"

// SlotPool limita quantas requisições ficam em voo ao mesmo tempo no gateway.
//
// Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar; o release
// retornado deve ser chamado uma vez quando a requisição termina.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}
