// Package app monta o gateway: infraestrutura opcional, componentes em
// memória, pipeline, roteador HTTP e ciclo de vida do processo.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"form-gateway/internal/config"
	"form-gateway/internal/delivery"
	"form-gateway/internal/gatekeeper"
	"form-gateway/internal/sanitize"
	"form-gateway/internal/secevent"
	"form-gateway/internal/telemetry"
	"form-gateway/middleware/ratelimit"
	"form-gateway/middleware/ratelimit/application"
	"form-gateway/middleware/ratelimit/infra"
	"form-gateway/middleware/reputation"
	"form-gateway/middleware/session"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	cfg *config.Config
	log *logrus.Logger

	infra    *Infra
	events   *secevent.Recorder
	sessions *session.Store
	janitors []func(context.Context)

	handler     http.Handler
	server      *http.Server
	concurrency int
}

func New(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*App, error) {
	in, err := setupInfra(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a, err := build(cfg, log, in)
	if err != nil {
		_ = in.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func build(cfg *config.Config, log *logrus.Logger, in *Infra) (*App, error) {
	a := &App{cfg: cfg, log: log, infra: in}

	a.sessions = session.NewStore(
		session.WithDuration(cfg.SessionDuration),
		session.WithMaxRequests(cfg.SessionMaxRequests),
		session.WithSweepEvery(cfg.SessionSweepEvery),
		session.WithSweepHook(func(removed int) {
			log.WithField("removed", removed).Debug("expired sessions swept")
		}),
	)
	rep := reputation.NewTracker(reputation.WithLockout(cfg.MaxLoginAttempts, cfg.LockoutDuration))

	general := infra.NewWindowStore(cfg.RateGeneralMax, cfg.RateGeneralWindow)
	submit := infra.NewWindowStore(cfg.RateSubmitMax, cfg.RateSubmitWindow)
	sessionWin := infra.NewWindowStore(cfg.RateSessionMax, cfg.RateSessionWindow)

	a.janitors = append(a.janitors,
		a.sessions.StartJanitor,
		general.StartJanitor,
		submit.StartJanitor,
		sessionWin.StartJanitor,
	)

	generalTier := application.Service{Windows: general}
	if cfg.RateGeneralBurst > 0 {
		smoothing := infra.NewStoreForWindow(cfg.RateGeneralMax, cfg.RateGeneralWindow, cfg.RateGeneralBurst)
		generalTier.Store = smoothing
		a.janitors = append(a.janitors, smoothing.StartJanitor)
	}

	a.events = secevent.NewRecorder(in.Sinks, log)

	deliverer, err := delivery.New(delivery.Config{
		URL:         cfg.WebhookURL,
		APIKey:      cfg.WebhookAPIKey,
		MaxRetries:  cfg.WebhookMaxRetries,
		BackoffBase: cfg.WebhookBackoffBase,
		BackoffMax:  cfg.WebhookBackoffMax,
		Timeout:     cfg.WebhookTimeout,
	},
		delivery.WithLogger(log),
		delivery.WithTracerProvider(in.Providers.TracerProvider),
		delivery.WithMeterProvider(in.Providers.MeterProvider),
		delivery.WithPropagator(otel.GetTextMapPropagator()),
	)
	if err != nil {
		return nil, fmt.Errorf("delivery: %w", err)
	}

	metrics, err := telemetry.NewMetrics(in.Providers.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	conc := ratelimit.NewConcurrency(ratelimit.ConcurrencyOptions{
		Max:            cfg.ConcurrencyMax,
		AcquireTimeout: cfg.ConcurrencyTimeout,
		OnReject:       gatekeeper.WriteBusy,
	})
	err = telemetry.RegisterGauges(in.Providers.MeterProvider, telemetry.Gauges{
		ActiveSessions: func() int64 { return int64(a.sessions.Len()) },
		FlaggedIPs:     func() int64 { return int64(rep.FlaggedCount()) },
		InFlight:       conc.InFlight,
	})
	if err != nil {
		return nil, fmt.Errorf("gauges: %w", err)
	}

	rules := sanitize.DefaultRules()
	rules.PhonePrefix = cfg.PhoneCountryPrefix

	deps := gatekeeper.Deps{
		Sessions:   a.sessions,
		Reputation: rep,
		Limits: gatekeeper.Limits{
			General:      generalTier,
			Submit:       application.Service{Windows: submit},
			Session:      application.Service{Windows: sessionWin},
			SubmitWindow: cfg.RateSubmitWindow,
			SubmitMax:    cfg.RateSubmitMax,
		},
		Deliverer:   deliverer,
		Stats:       in.Stats,
		StatsReader: in.MemStats,
		Events:      a.events,
		Metrics:     metrics,
		Log:         log,
		InFlight:    conc.InFlight,
	}
	if in.Geo != nil {
		deps.Geo = in.Geo
	}
	if in.Shared != nil {
		deps.SharedStats = in.Shared
	}

	pipeline, err := gatekeeper.New(deps, gatekeeper.Options{
		HoneypotField:     cfg.HoneypotField,
		MaxBodyBytes:      cfg.MaxBodyBytes,
		Rules:             rules,
		TrustedHops:       cfg.TrustedProxyHops,
		Development:       cfg.Development(),
		BlockBots:         cfg.BlockBotUserAgents,
		AdminIPs:          cfg.AdminIPList(),
		WebhookConfigured: cfg.WebhookURL != "",
		APIKeyConfigured:  cfg.WebhookAPIKey != "",
	})
	if err != nil {
		return nil, err
	}

	a.concurrency = conc.Capacity()
	var busy func(http.Handler) http.Handler
	if conc != nil {
		busy = conc.Middleware
	}
	a.handler = newRouter(cfg, log, routes{
		pipeline:    pipeline,
		concurrency: busy,
		statusLimit: ratelimit.Middleware(ratelimit.Options{
			Store:            generalTier.Store,
			Windows:          general,
			Stats:            in.Stats,
			Tier:             "general",
			TrustedProxyHops: cfg.TrustedProxyHops,
			OnReject:         gatekeeper.WriteRateLimited,
		}),
	})

	a.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// a entrega pode levar várias tentativas com timeout próprio
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  90 * time.Second,
	}
	return a, nil
}

func (a *App) Handler() http.Handler { return a.handler }

// Run serve até ctx ser cancelado e então desliga na ordem: servidor, eventos
// pendentes, infraestrutura.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, start := range a.janitors {
		start(gctx)
	}

	g.Go(func() error {
		a.log.WithFields(logrus.Fields{
			"addr":        a.cfg.ListenAddr,
			"env":         a.cfg.Env,
			"submitLimit": a.cfg.RateSubmitMax,
			"submitEvery": a.cfg.RateSubmitWindow.String(),
			"concurrency": a.concurrency,
		}).Info("gateway listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *App) shutdown(ctx context.Context) error {
	a.log.Info("shutting down")
	err := a.server.Shutdown(ctx)
	if werr := a.events.Close(ctx); werr != nil {
		a.log.WithError(werr).Warn("pending security events dropped")
	}
	return errors.Join(err, a.infra.Close(ctx))
}
