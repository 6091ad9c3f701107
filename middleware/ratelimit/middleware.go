package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"time"

	"form-gateway/middleware/ratelimit/application"
	"form-gateway/middleware/ratelimit/domain"
)

type KeyFunc func(r *http.Request) string

// RejectFunc escreve a resposta de bloqueio. O padrão é texto simples com o status.
type RejectFunc func(w http.ResponseWriter, r *http.Request, dec domain.Decision)

type Options struct {
	Store               domain.LimiterStore
	Windows             domain.WindowStore
	Stats               domain.StatsStore
	Tier                string
	KeyFn               KeyFunc
	KeyHeader           string
	TrustedProxyHops    int
	RejectStatus        int
	RetryAfter          time.Duration
	AddRateLimitHeaders bool
	OnReject            RejectFunc
}

type rateInfo interface {
	RPS() float64
	Burst() int
}

func DefaultKeyFunc(keyHeader string, trustedHops int) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}
		return ClientIP(r, trustedHops)
	}
}

// ClientIP retorna o IP do cliente. trustedHops é o número de proxies na
// frente do serviço: cada um acrescenta o par que o contatou ao fim do
// X-Forwarded-For, então o cliente é a entrada trustedHops contando da direita
// (o RemoteAddr é o hop 0). Entradas à esquerda disso vêm do próprio cliente e
// são ignoradas. Com trustedHops 0 os headers não contam.
func ClientIP(r *http.Request, trustedHops int) string {
	peer := remoteHost(r)
	if trustedHops <= 0 {
		return peer
	}
	xff := r.Header.Values("X-Forwarded-For")
	if len(xff) == 0 {
		return peer
	}

	var chain []string
	for _, v := range xff {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				chain = append(chain, part)
			}
		}
	}
	if len(chain) == 0 {
		return peer
	}

	// menos entradas que hops: a mais à esquerda é o mais longe que se chega
	idx := len(chain) - trustedHops
	if idx < 0 {
		idx = 0
	}
	// um hop confiável com lixo no meio do caminho invalida a cadeia
	for i := len(chain) - 1; i >= idx; i-- {
		if net.ParseIP(chain[i]) == nil {
			return peer
		}
	}
	return chain[idx]
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// WriteDecisionHeaders escreve os headers RateLimit-* (quando a decisão veio de
// uma janela) e Retry-After em segundos, arredondado para cima.
func WriteDecisionHeaders(h http.Header, dec domain.Decision) {
	if dec.Limit > 0 {
		h.Set("RateLimit-Limit", formatInt(dec.Limit))
		h.Set("RateLimit-Remaining", formatInt(dec.Remaining))
		h.Set("RateLimit-Reset", formatInt(ceilSeconds(dec.Reset)))
	}
	if !dec.Allowed {
		h.Set("Retry-After", formatInt(ceilSeconds(dec.RetryAfter)))
	}
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	s := int(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	return s
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.RetryAfter == 0 {
		opts.RetryAfter = 1 * time.Second
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustedProxyHops)
	}
	if opts.OnReject == nil {
		status := opts.RejectStatus
		opts.OnReject = func(w http.ResponseWriter, _ *http.Request, _ domain.Decision) {
			http.Error(w, http.StatusText(status), status)
		}
	}

	svc := application.Service{
		Store:      opts.Store,
		Windows:    opts.Windows,
		RetryAfter: opts.RetryAfter,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)

			if opts.AddRateLimitHeaders {
				w.Header().Set("X-RateLimit-Key", key)
				if ri, ok := opts.Store.(rateInfo); ok && opts.Windows == nil {
					w.Header().Set("X-RateLimit-RPS", formatFloat(ri.RPS()))
					w.Header().Set("X-RateLimit-Burst", formatInt(ri.Burst()))
				}
			}

			dec := svc.Decide(domain.Key(key))
			if opts.Stats != nil {
				_ = opts.Stats.Record(r.Context(), domain.StatsEvent{
					Key:     domain.Key(key),
					Tier:    opts.Tier,
					Allowed: dec.Allowed,
					Method:  r.Method,
					Path:    r.URL.Path,
					At:      time.Now(),
				})
			}
			WriteDecisionHeaders(w.Header(), dec)
			if !dec.Allowed {
				opts.OnReject(w, r, dec)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
