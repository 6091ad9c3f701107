package ratelimit

import (
	"net/http"
	"time"

	"form-gateway/middleware/ratelimit/application"
	"form-gateway/middleware/ratelimit/infra"
)

type ConcurrencyOptions struct {
	Max            int
	RejectStatus   int
	AcquireTimeout time.Duration
	// OnReject escreve a resposta quando não há vaga; padrão é texto simples.
	OnReject http.HandlerFunc
}

// Concurrency é o limite de requisições em voo com contador exposto.
type Concurrency struct {
	svc  *application.ConcurrencyService
	pool *infra.SlotPool
	opts ConcurrencyOptions
}

// NewConcurrency retorna nil quando Max <= 0 (sem limite).
func NewConcurrency(opts ConcurrencyOptions) *Concurrency {
	if opts.Max <= 0 {
		return nil
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}
	if opts.OnReject == nil {
		status := opts.RejectStatus
		opts.OnReject = func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, http.StatusText(status), status)
		}
	}
	pool := infra.NewChanPool(opts.Max)
	return &Concurrency{
		svc: &application.ConcurrencyService{
			Pool:           pool,
			AcquireTimeout: opts.AcquireTimeout,
		},
		pool: pool,
		opts: opts,
	}
}

// InFlight é seguro com receiver nil.
func (c *Concurrency) InFlight() int64 {
	if c == nil {
		return 0
	}
	return c.svc.InFlight()
}

// Capacity é o número de vagas; 0 quando não há limite.
func (c *Concurrency) Capacity() int {
	if c == nil {
		return 0
	}
	return c.pool.Cap()
}

func (c *Concurrency) Middleware(next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		release, ok := c.svc.Acquire(r.Context())
		if !ok {
			c.opts.OnReject(w, r)
			return
		}
		defer release()

		next.ServeHTTP(w, r)
	})
}

func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	return NewConcurrency(opts).Middleware
}
