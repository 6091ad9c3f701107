// Package gatekeeper é o pipeline que fica entre o formulário público e o
// webhook de automação.
//
// Envio: reputação do IP -> rate limit -> honeypot -> sessão ->
// limpeza/validação -> entrega. Emissão de sessão: reputação -> rate limit ->
// token. Toda recusa vira uma resposta JSON na borda HTTP.
package gatekeeper

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"form-gateway/internal/clientinfo"
	"form-gateway/internal/delivery"
	"form-gateway/internal/sanitize"
	"form-gateway/internal/secevent"
	"form-gateway/internal/telemetry"
	"form-gateway/middleware/ratelimit/domain"
	"form-gateway/middleware/ratelimit/infra"
	"form-gateway/middleware/reputation"
	"form-gateway/middleware/session"
)

// Deliverer entrega uma submissão validada (implementado por *delivery.Client).
type Deliverer interface {
	Deliver(ctx context.Context, sub delivery.Submission) (delivery.Result, error)
}

// Limiter decide por chave (implementado por application.Service).
type Limiter interface {
	Decide(key domain.Key) domain.Decision
}

// StatsReader expõe os contadores de decisões para o status admin.
type StatsReader interface {
	Total() infra.Counters
	ByTier() map[string]infra.Counters
}

// SharedStats lê os contadores somados de todas as réplicas.
type SharedStats interface {
	Snapshot(ctx context.Context) (infra.StatsSnapshot, error)
}

// Limits são os limiters por nível. Nil desliga o nível.
type Limits struct {
	General Limiter
	Submit  Limiter
	Session Limiter

	// SubmitWindow é usado como Retry-After do honeypot.
	SubmitWindow time.Duration
	SubmitMax    int
}

type Deps struct {
	Sessions   *session.Store
	Reputation *reputation.Tracker
	Limits     Limits
	Deliverer  Deliverer

	Stats       domain.StatsStore
	StatsReader StatsReader
	SharedStats SharedStats
	Events      *secevent.Recorder
	Metrics     *telemetry.Metrics
	Geo         clientinfo.Locator
	Log         logrus.FieldLogger
	// InFlight informa as requisições em voo para o status admin.
	InFlight func() int64
	// Observer recebe o resultado de cada requisição.
	Observer func(Outcome)
}

type Options struct {
	HoneypotField string
	MaxBodyBytes  int64
	Rules         sanitize.Rules
	// TrustedHops é o número de proxies na frente; 0 ignora X-Forwarded-For.
	TrustedHops int
	// Development libera loopback do limite de envio.
	Development bool
	BlockBots   bool
	AdminIPs    []string

	WebhookConfigured bool
	APIKeyConfigured  bool
	Version           string
}

type Pipeline struct {
	deps Deps
	opts Options

	admin map[string]struct{}
	nowF  func() time.Time
	newID func() string
}

var errMissingDeps = errors.New("gatekeeper: sessions, reputation and deliverer are required")

func New(deps Deps, opts Options) (*Pipeline, error) {
	if deps.Sessions == nil || deps.Reputation == nil || deps.Deliverer == nil {
		return nil, errMissingDeps
	}
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	if opts.HoneypotField == "" {
		opts.HoneypotField = "website"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 << 20
	}
	if len(opts.Rules.Required) == 0 {
		opts.Rules = sanitize.DefaultRules()
	}
	if opts.Version == "" {
		opts.Version = "2.0"
	}
	admin := make(map[string]struct{}, len(opts.AdminIPs))
	for _, ip := range opts.AdminIPs {
		admin[ip] = struct{}{}
	}
	return &Pipeline{
		deps:  deps,
		opts:  opts,
		admin: admin,
		nowF:  time.Now,
		newID: uuid.NewString,
	}, nil
}

// flow acompanha uma requisição pelas etapas.
type flow struct {
	route     string
	ip        string
	userAgent string
	reached   State
	requestID string
	sessionID string
}

func (f *flow) advance(s State) { f.reached = s }

func (p *Pipeline) checkIP(f *flow) *Rejection {
	if p.deps.Reputation.IsFlagged(f.ip) {
		p.emit(f, secevent.KindIPBlocked, "")
		return forbidden()
	}
	f.advance(IPChecked)
	return nil
}

// checkRate consulta os níveis em ordem; o primeiro que negar decide.
func (p *Pipeline) checkRate(ctx context.Context, f *flow, method string, tiers ...tier) (*Rejection, domain.Decision) {
	var last domain.Decision
	for _, t := range tiers {
		if t.lim == nil {
			continue
		}
		dec := t.lim.Decide(domain.Key(f.ip))
		p.recordStats(ctx, f, method, t.name, dec.Allowed)
		last = dec
		if !dec.Allowed {
			p.emit(f, secevent.KindRateLimited, t.name)
			return tooManyRequests(dec.RetryAfter), dec
		}
	}
	f.advance(RateChecked)
	return nil, last
}

type tier struct {
	name string
	lim  Limiter
}

func (p *Pipeline) recordStats(ctx context.Context, f *flow, method, tierName string, allowed bool) {
	if p.deps.Stats == nil {
		return
	}
	err := p.deps.Stats.Record(ctx, domain.StatsEvent{
		Key:     domain.Key(f.ip),
		Tier:    tierName,
		Allowed: allowed,
		Method:  method,
		Path:    f.route,
		At:      p.nowF(),
	})
	if err != nil {
		p.deps.Log.WithError(err).Debug("rate stats not recorded")
	}
}

func (p *Pipeline) emit(f *flow, kind secevent.Kind, detail string) {
	p.deps.Events.Emit(secevent.Event{
		Kind:      kind,
		IP:        f.ip,
		Route:     f.route,
		SessionID: f.sessionID,
		RequestID: f.requestID,
		UserAgent: f.userAgent,
		Detail:    detail,
	})
}

func (p *Pipeline) country(ip string) string {
	if p.deps.Geo == nil {
		return ""
	}
	return p.deps.Geo.Country(ip)
}

func isLoopback(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}

func (p *Pipeline) finish(ctx context.Context, f *flow, rej *Rejection) Outcome {
	out := Outcome{
		Route:     f.route,
		IP:        f.ip,
		Reached:   f.reached,
		Final:     Accepted,
		Status:    200,
		RequestID: f.requestID,
		SessionID: f.sessionID,
	}
	entry := p.deps.Log.WithFields(logrus.Fields{
		"route":      f.route,
		"ip":         f.ip,
		"reached":    f.reached.String(),
		"request_id": f.requestID,
		"session_id": f.sessionID,
	})
	if rej != nil {
		out.Class = rej.Class
		out.Status = rej.Status
		out.Final = Rejected
		if rej.Class == ClassServiceUnavailable {
			out.Final = Errored
		}
		entry = entry.WithFields(logrus.Fields{"class": rej.Class, "status": rej.Status})
		if rej.Err != nil {
			entry = entry.WithError(rej.Err)
		}
		if out.Final == Errored {
			entry.Error("request errored")
		} else {
			entry.Warn("request rejected")
		}
	} else {
		entry.Info("request accepted")
	}

	p.deps.Metrics.Outcome(ctx, f.route, out.Final.String(), string(out.Class))
	if p.deps.Observer != nil {
		p.deps.Observer(out)
	}
	return out
}
