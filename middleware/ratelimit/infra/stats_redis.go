package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"form-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore grava os contadores de decisão em hashes do Redis, somando
// todas as réplicas do gateway que usam o mesmo prefixo:
//
//	<prefix>:total                  allowed / denied
//	<prefix>:tier                   "<tier>:allowed" / "<tier>:denied"
//	<prefix>:route                  "<path>:allowed" / "<path>:denied"
//	<prefix>:minute:<YYYYMMDDhhmm>  série por minuto (expira com ttl)
//	<prefix>:key:<ip>               por IP, só com trackKeys (expira com ttl)
type RedisStatsStore struct {
	rdb redis.Cmdable

	prefix    string
	ttl       time.Duration
	bucket    string // "minute" (padrão) ou "none"
	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb redis.Cmdable, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "gatekeeper:ratelimit",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	outcome := outcomeField(ev.Allowed)

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.key("total"), outcome, 1)
	if tier := strings.TrimSpace(ev.Tier); tier != "" {
		pipe.HIncrBy(ctx, s.key("tier"), tier+":"+outcome, 1)
	}
	if path := strings.TrimSpace(ev.Path); path != "" {
		pipe.HIncrBy(ctx, s.key("route"), path+":"+outcome, 1)
	}

	expiring := make([]string, 0, 2)
	if s.bucket == "minute" {
		expiring = append(expiring, s.key("minute", at.UTC().Format("200601021504")))
	}
	if ip := strings.TrimSpace(string(ev.Key)); s.trackKeys && ip != "" {
		expiring = append(expiring, s.key("key", ip))
	}
	for _, k := range expiring {
		pipe.HIncrBy(ctx, k, outcome, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, k, s.ttl)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

// StatsSnapshot é a visão agregada de todas as réplicas.
type StatsSnapshot struct {
	Total   Counters            `json:"total"`
	ByTier  map[string]Counters `json:"byTier"`
	ByRoute map[string]Counters `json:"byRoute"`
}

// Snapshot lê os contadores cumulativos (total, por nível e por rota).
func (s *RedisStatsStore) Snapshot(ctx context.Context) (StatsSnapshot, error) {
	pipe := s.rdb.Pipeline()
	total := pipe.HGetAll(ctx, s.key("total"))
	tiers := pipe.HGetAll(ctx, s.key("tier"))
	routes := pipe.HGetAll(ctx, s.key("route"))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return StatsSnapshot{}, fmt.Errorf("redis stats snapshot: %w", err)
	}
	return StatsSnapshot{
		Total:   parseCounters(total.Val()),
		ByTier:  parseGrouped(tiers.Val()),
		ByRoute: parseGrouped(routes.Val()),
	}, nil
}

func outcomeField(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}

func parseCounters(h map[string]string) Counters {
	var c Counters
	c.Allowed, _ = strconv.ParseInt(h["allowed"], 10, 64)
	c.Denied, _ = strconv.ParseInt(h["denied"], 10, 64)
	return c
}

// parseGrouped lê campos "<grupo>:allowed|denied". O grupo pode conter ':'
// (paths), então o corte é no último.
func parseGrouped(h map[string]string) map[string]Counters {
	out := make(map[string]Counters)
	for field, raw := range h {
		i := strings.LastIndexByte(field, ':')
		if i <= 0 {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		group := field[:i]
		c := out[group]
		switch field[i+1:] {
		case "allowed":
			c.Allowed += n
		case "denied":
			c.Denied += n
		default:
			continue
		}
		out[group] = c
	}
	return out
}
