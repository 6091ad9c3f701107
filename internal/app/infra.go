package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"form-gateway/internal/clientinfo"
	"form-gateway/internal/config"
	"form-gateway/internal/secevent"
	"form-gateway/internal/telemetry"
	"form-gateway/middleware/ratelimit/domain"
	"form-gateway/middleware/ratelimit/infra"
)

// Infra são as dependências externas opcionais. Tudo que não está configurado
// fica nil e o gateway segue só com memória.
type Infra struct {
	Providers *telemetry.Providers
	Redis     *redis.Client
	Geo       *clientinfo.GeoIPReader

	// Stats recebe toda decisão de rate limit; MemStats alimenta o status admin.
	Stats    domain.StatsStore
	MemStats *infra.MemoryStatsStore
	// Shared só existe com Redis: contadores somados entre réplicas.
	Shared *infra.RedisStatsStore

	Sinks secevent.Multi

	closers []func(context.Context) error
}

func setupInfra(ctx context.Context, cfg *config.Config, log *logrus.Logger) (_ *Infra, err error) {
	in := &Infra{}
	defer func() {
		if err != nil {
			_ = in.Close(context.Background())
		}
	}()

	providers, err := telemetry.NewProviders(ctx, cfg.OTelEndpoint, cfg.OTelService, cfg.OTelInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	providers.SetGlobal()
	in.Providers = providers
	in.closers = append(in.closers, providers.Shutdown)
	log.WithFields(logrus.Fields{"endpoint": cfg.OTelEndpoint, "exporting": providers.Exporting}).Info("telemetry ready")

	in.MemStats = infra.NewMemoryStatsStore(infra.WithTrackKeys(cfg.RateStatsTrackKeys))
	stats := infra.MultiStats{in.MemStats}
	if cfg.RateStatsEnabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RateStatsRedisAddr,
			Password: cfg.RateStatsRedisPassword,
			DB:       cfg.RateStatsRedisDB,
		})
		in.closers = append(in.closers, func(context.Context) error { return rdb.Close() })

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			return nil, fmt.Errorf("redis stats ping: %w", err)
		}
		in.Redis = rdb
		in.Shared = infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.RateStatsPrefix),
			infra.WithStatsTTL(cfg.RateStatsTTL),
			infra.WithStatsBucket(cfg.RateStatsBucket),
			infra.WithStatsTrackKeys(cfg.RateStatsTrackKeys),
		)
		stats = append(stats, in.Shared)
		log.WithField("addr", cfg.RateStatsRedisAddr).Info("redis rate stats ready")
	}
	in.Stats = stats

	in.Sinks = secevent.Multi{secevent.NewLogSink(log)}
	if cfg.AuditDriver != "" {
		sink, err := secevent.OpenSQL(ctx, cfg.AuditDriver, cfg.AuditDSN)
		if err != nil {
			return nil, fmt.Errorf("audit store: %w", err)
		}
		in.closers = append(in.closers, func(context.Context) error { return sink.Close() })
		in.Sinks = append(in.Sinks, sink)
		log.WithField("driver", cfg.AuditDriver).Info("audit store ready")
	}
	if brokers := cfg.KafkaBrokerList(); len(brokers) > 0 {
		sink, err := secevent.NewKafkaSink(brokers, cfg.SecurityEventsTopic)
		if err != nil {
			return nil, fmt.Errorf("kafka sink: %w", err)
		}
		in.closers = append(in.closers, func(context.Context) error { return sink.Close() })
		in.Sinks = append(in.Sinks, sink)
		log.WithFields(logrus.Fields{"brokers": brokers, "topic": cfg.SecurityEventsTopic}).Info("kafka security events ready")
	}
	if providers.Exporting {
		in.Sinks = append(in.Sinks, secevent.NewOTelSink(providers.LoggerProvider))
	}

	if cfg.GeoIPDBPath != "" {
		geo, err := clientinfo.OpenGeoIP(cfg.GeoIPDBPath)
		if err != nil {
			return nil, err
		}
		in.Geo = geo
		in.closers = append(in.closers, func(context.Context) error { return geo.Close() })
	}
	return in, nil
}

// Close fecha na ordem inversa da abertura.
func (in *Infra) Close(ctx context.Context) error {
	var first error
	for i := len(in.closers) - 1; i >= 0; i-- {
		if err := in.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	in.closers = nil
	return first
}
