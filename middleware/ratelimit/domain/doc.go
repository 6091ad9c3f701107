// Package domain define contratos e tipos de domínio para rate limit e concorrência.
//
// Este pacote não depende de net/http nem de implementações concretas, o que
// permite que o pipeline do gatekeeper consulte os limiters diretamente, na
// ordem que ele define, sem passar por middlewares HTTP.
package domain
