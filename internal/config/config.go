// Package config carrega a configuração do gateway de .env e variáveis de ambiente.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ListenAddr string `mapstructure:"LISTEN_ADDR"`
	Env        string `mapstructure:"APP_ENV"`

	WebhookURL         string        `mapstructure:"WEBHOOK_URL"`
	WebhookAPIKey      string        `mapstructure:"WEBHOOK_API_KEY"`
	WebhookTimeout     time.Duration `mapstructure:"WEBHOOK_TIMEOUT"`
	WebhookMaxRetries  int           `mapstructure:"WEBHOOK_MAX_RETRIES"`
	WebhookBackoffBase time.Duration `mapstructure:"WEBHOOK_BACKOFF_BASE"`
	WebhookBackoffMax  time.Duration `mapstructure:"WEBHOOK_BACKOFF_MAX"`

	SessionDuration    time.Duration `mapstructure:"SESSION_DURATION"`
	SessionMaxRequests int           `mapstructure:"SESSION_MAX_REQUESTS"`
	SessionSweepEvery  time.Duration `mapstructure:"SESSION_SWEEP_EVERY"`

	MaxLoginAttempts int           `mapstructure:"MAX_LOGIN_ATTEMPTS"`
	LockoutDuration  time.Duration `mapstructure:"LOCKOUT_DURATION"`

	RateSubmitMax     int           `mapstructure:"RATE_SUBMIT_MAX"`
	RateSubmitWindow  time.Duration `mapstructure:"RATE_SUBMIT_WINDOW"`
	RateSessionMax    int           `mapstructure:"RATE_SESSION_MAX"`
	RateSessionWindow time.Duration `mapstructure:"RATE_SESSION_WINDOW"`
	RateGeneralMax    int           `mapstructure:"RATE_GENERAL_MAX"`
	RateGeneralWindow time.Duration `mapstructure:"RATE_GENERAL_WINDOW"`
	RateGeneralBurst  int           `mapstructure:"RATE_GENERAL_BURST"`
	TrustedProxyHops  int           `mapstructure:"TRUSTED_PROXY_HOPS"`

	ConcurrencyMax     int           `mapstructure:"CONCURRENCY_MAX"`
	ConcurrencyTimeout time.Duration `mapstructure:"CONCURRENCY_TIMEOUT"`

	MaxBodyBytes       int64  `mapstructure:"MAX_BODY_BYTES"`
	HoneypotField      string `mapstructure:"HONEYPOT_FIELD"`
	PhoneCountryPrefix string `mapstructure:"PHONE_COUNTRY_PREFIX"`
	AllowedOrigins     string `mapstructure:"ALLOWED_ORIGINS"`
	AdminIPs           string `mapstructure:"ADMIN_IPS"`
	BlockBotUserAgents bool   `mapstructure:"BLOCK_BOT_USER_AGENTS"`
	GeoIPDBPath        string `mapstructure:"GEOIP_DB_PATH"`

	RateStatsEnabled       bool          `mapstructure:"RATE_STATS_ENABLED"`
	RateStatsRedisAddr     string        `mapstructure:"RATE_STATS_REDIS_ADDR"`
	RateStatsRedisPassword string        `mapstructure:"RATE_STATS_REDIS_PASSWORD"`
	RateStatsRedisDB       int           `mapstructure:"RATE_STATS_REDIS_DB"`
	RateStatsPrefix        string        `mapstructure:"RATE_STATS_PREFIX"`
	RateStatsTTL           time.Duration `mapstructure:"RATE_STATS_TTL"`
	RateStatsBucket        string        `mapstructure:"RATE_STATS_BUCKET"`
	RateStatsTrackKeys     bool          `mapstructure:"RATE_STATS_TRACK_KEYS"`

	AuditDriver string `mapstructure:"AUDIT_DRIVER"`
	AuditDSN    string `mapstructure:"AUDIT_DSN"`

	KafkaBrokers        string `mapstructure:"KAFKA_BROKERS"`
	SecurityEventsTopic string `mapstructure:"SECURITY_EVENTS_TOPIC"`

	OTelEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTelService  string `mapstructure:"OTEL_SERVICE_NAME"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

// Load lê .env (se existir) e o ambiente. Falha quando o webhook não está
// configurado ou algum limite é inválido.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // .env é opcional

	v.AutomaticEnv()
	// nomes antigos do proxy
	_ = v.BindEnv("WEBHOOK_URL", "WEBHOOK_URL", "N8N_WEBHOOK_URL")
	_ = v.BindEnv("WEBHOOK_API_KEY", "WEBHOOK_API_KEY", "N8N_API_KEY")

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LISTEN_ADDR", ":8003")
	v.SetDefault("APP_ENV", "")

	v.SetDefault("WEBHOOK_URL", "")
	v.SetDefault("WEBHOOK_API_KEY", "")
	v.SetDefault("WEBHOOK_TIMEOUT", 30*time.Second)
	v.SetDefault("WEBHOOK_MAX_RETRIES", 3)
	v.SetDefault("WEBHOOK_BACKOFF_BASE", 1*time.Second)
	v.SetDefault("WEBHOOK_BACKOFF_MAX", 5*time.Second)

	v.SetDefault("SESSION_DURATION", 1*time.Hour)
	v.SetDefault("SESSION_MAX_REQUESTS", 10)
	v.SetDefault("SESSION_SWEEP_EVERY", 5*time.Minute)
	v.SetDefault("MAX_LOGIN_ATTEMPTS", 5)
	v.SetDefault("LOCKOUT_DURATION", 15*time.Minute)

	v.SetDefault("RATE_SUBMIT_MAX", 5)
	v.SetDefault("RATE_SUBMIT_WINDOW", 15*time.Minute)
	v.SetDefault("RATE_SESSION_MAX", 3)
	v.SetDefault("RATE_SESSION_WINDOW", 1*time.Minute)
	v.SetDefault("RATE_GENERAL_MAX", 100)
	v.SetDefault("RATE_GENERAL_WINDOW", 15*time.Minute)
	v.SetDefault("RATE_GENERAL_BURST", 0)
	v.SetDefault("TRUSTED_PROXY_HOPS", 1)

	v.SetDefault("CONCURRENCY_MAX", 100)
	v.SetDefault("CONCURRENCY_TIMEOUT", time.Duration(0))

	v.SetDefault("MAX_BODY_BYTES", int64(10<<20))
	v.SetDefault("HONEYPOT_FIELD", "website")
	v.SetDefault("PHONE_COUNTRY_PREFIX", "+54")
	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("ADMIN_IPS", "127.0.0.1")
	v.SetDefault("BLOCK_BOT_USER_AGENTS", false)
	v.SetDefault("GEOIP_DB_PATH", "")

	v.SetDefault("RATE_STATS_ENABLED", false)
	v.SetDefault("RATE_STATS_REDIS_ADDR", "")
	v.SetDefault("RATE_STATS_REDIS_PASSWORD", "")
	v.SetDefault("RATE_STATS_REDIS_DB", 0)
	v.SetDefault("RATE_STATS_PREFIX", "gatekeeper:ratelimit")
	v.SetDefault("RATE_STATS_TTL", 24*time.Hour)
	v.SetDefault("RATE_STATS_BUCKET", "minute")
	v.SetDefault("RATE_STATS_TRACK_KEYS", false)

	v.SetDefault("AUDIT_DRIVER", "")
	v.SetDefault("AUDIT_DSN", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("SECURITY_EVENTS_TOPIC", "gateway-security-events")

	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "form-gateway")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.WebhookURL) == "" {
		return errors.New("config: WEBHOOK_URL (or N8N_WEBHOOK_URL) is required")
	}
	if u, err := url.Parse(c.WebhookURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("config: WEBHOOK_URL must be an absolute http(s) url")
	}
	if strings.TrimSpace(c.WebhookAPIKey) == "" {
		return errors.New("config: WEBHOOK_API_KEY (or N8N_API_KEY) is required")
	}
	if c.WebhookMaxRetries < 0 {
		return errors.New("config: WEBHOOK_MAX_RETRIES must be >= 0")
	}
	if c.SessionDuration <= 0 {
		return errors.New("config: SESSION_DURATION must be > 0")
	}
	for name, n := range map[string]int{
		"RATE_SUBMIT_MAX":  c.RateSubmitMax,
		"RATE_SESSION_MAX": c.RateSessionMax,
		"RATE_GENERAL_MAX": c.RateGeneralMax,
	} {
		if n <= 0 {
			return fmt.Errorf("config: %s must be > 0", name)
		}
	}
	if c.RateSubmitWindow <= 0 || c.RateSessionWindow <= 0 || c.RateGeneralWindow <= 0 {
		return errors.New("config: rate windows must be > 0")
	}
	if c.RateGeneralBurst < 0 {
		return errors.New("config: RATE_GENERAL_BURST must be >= 0")
	}
	if c.TrustedProxyHops < 0 {
		return errors.New("config: TRUSTED_PROXY_HOPS must be >= 0")
	}
	if c.ConcurrencyMax < 0 {
		return errors.New("config: CONCURRENCY_MAX must be >= 0")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("config: MAX_BODY_BYTES must be > 0")
	}
	if c.RateStatsEnabled && strings.TrimSpace(c.RateStatsRedisAddr) == "" {
		return errors.New("config: RATE_STATS_REDIS_ADDR is required when RATE_STATS_ENABLED=true")
	}
	if c.AuditDriver != "" && c.AuditDSN == "" {
		return errors.New("config: AUDIT_DSN is required when AUDIT_DRIVER is set")
	}
	for _, ip := range c.AdminIPList() {
		if net.ParseIP(ip) == nil {
			return fmt.Errorf("config: ADMIN_IPS has invalid ip %q", ip)
		}
	}
	return nil
}

// Development liga o modo em que loopback não passa pelo limite de envio.
func (c *Config) Development() bool {
	return strings.EqualFold(c.Env, "development")
}

func (c *Config) AdminIPList() []string       { return splitList(c.AdminIPs) }
func (c *Config) AllowedOriginList() []string { return splitList(c.AllowedOrigins) }
func (c *Config) KafkaBrokerList() []string   { return splitList(c.KafkaBrokers) }

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
