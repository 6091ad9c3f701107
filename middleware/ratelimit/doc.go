// Package ratelimit fornece adapters HTTP (net/http) para rate limit e limite de concorrência.
//
// Camadas:
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (decisão allow/deny, acquire/timeout) sem net/http
//   - infra: janela fixa, token bucket, semáforo e contadores
//   - ratelimit (este pacote): middlewares HTTP, extração de chave/IP e headers
//
// No gatekeeper as rotas de formulário consultam application.Service direto,
// porque a ordem dos estágios (reputação antes do limiter) é do pipeline.
// O Middleware daqui protege as rotas auxiliares (health, status) e o
// ConcurrencyMiddleware envolve o router inteiro.
package ratelimit
