package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "form-gateway/internal/delivery"

type Config struct {
	URL    string
	APIKey string

	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// Timeout vale por tentativa; estourar conta como falha de transporte.
	Timeout time.Duration

	UserAgent     string
	Source        string
	ServerVersion string
}

func (c *Config) setDefaults() {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 1 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 5 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "form-gateway/2.0"
	}
	if c.Source == "" {
		c.Source = "form-gateway"
	}
	if c.ServerVersion == "" {
		c.ServerVersion = "2.0"
	}
}

// Sleeper espera d ou até ctx acabar.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Result struct {
	Status   int
	Attempts int
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	sleep      Sleeper
	log        logrus.FieldLogger

	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	attempts   metric.Int64Counter
	outcomes   metric.Int64Counter
	duration   metric.Float64Histogram
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithSleeper(s Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) { c.log = l }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tracer = tp.Tracer(instrumentationName) }
}

func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(c *Client) { c.propagator = p }
}

// WithMeterProvider registra os contadores de tentativas/resultados.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Client) {
		meter := mp.Meter(instrumentationName)
		c.attempts, _ = meter.Int64Counter("gateway.delivery.attempts",
			metric.WithDescription("Webhook delivery attempts by outcome"))
		c.outcomes, _ = meter.Int64Counter("gateway.delivery.results",
			metric.WithDescription("Final delivery results"))
		c.duration, _ = meter.Float64Histogram("gateway.delivery.duration",
			metric.WithDescription("Total delivery time including retries"),
			metric.WithUnit("s"))
	}
}

func New(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNotConfigured
	}
	cfg.setDefaults()

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		sleep:      sleepCtx,
		log:        logrus.StandardLogger(),
		propagator: otel.GetTextMapPropagator(),
	}
	WithTracerProvider(otel.GetTracerProvider())(c)
	WithMeterProvider(otel.GetMeterProvider())(c)
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Backoff retorna a espera antes da tentativa attempt+1: min(base*2^attempt, max).
func (c *Client) Backoff(attempt int) time.Duration {
	d := c.cfg.BackoffBase
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= c.cfg.BackoffMax {
			return c.cfg.BackoffMax
		}
	}
	if d > c.cfg.BackoffMax {
		return c.cfg.BackoffMax
	}
	return d
}

// Deliver envia a submissão. Retorna nil em 2xx, *ClientRejectedError em 4xx
// e *FailedError quando as tentativas acabam (ou ctx é cancelado no backoff).
func (c *Client) Deliver(ctx context.Context, sub Submission) (Result, error) {
	started := time.Now()
	ctx, span := c.tracer.Start(ctx, "delivery.Deliver",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gateway.request_id", sub.RequestID),
			attribute.String("gateway.session_id", sub.SessionID),
		))
	defer span.End()

	payload, err := json.Marshal(sub.body(c.cfg))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode")
		return Result{}, &FailedError{Attempts: 0, Err: fmt.Errorf("encode payload: %w", err)}
	}

	log := c.log.WithFields(logrus.Fields{
		"request_id": sub.RequestID,
		"session_id": sub.SessionID,
	})

	maxAttempts := c.cfg.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		status, err := c.send(ctx, sub, payload)
		span.AddEvent("attempt", trace.WithAttributes(
			attribute.Int("attempt", attempt+1),
			attribute.Int("http.status_code", status),
		))

		switch {
		case err == nil && status >= 200 && status < 300:
			c.count(ctx, c.attempts, "delivered")
			c.finish(ctx, started, "delivered")
			span.SetAttributes(attribute.Int("gateway.delivery.attempts", attempt+1))
			log.WithField("attempts", attempt+1).Info("webhook delivery succeeded")
			return Result{Status: status, Attempts: attempt + 1}, nil

		case err == nil && status >= 400 && status < 500:
			c.count(ctx, c.attempts, "client_rejected")
			c.finish(ctx, started, "client_rejected")
			span.SetStatus(codes.Error, "client rejected")
			log.WithField("status", status).Warn("webhook rejected submission, not retrying")
			return Result{Status: status, Attempts: attempt + 1}, &ClientRejectedError{Status: status}

		case err == nil:
			lastErr = &StatusError{Status: status}
		default:
			lastErr = err
		}
		c.count(ctx, c.attempts, "retryable")
		log.WithError(lastErr).WithField("attempt", attempt+1).Warn("webhook attempt failed")

		if attempt+1 < maxAttempts {
			if err := c.sleep(ctx, c.Backoff(attempt)); err != nil {
				lastErr = err
				c.finish(ctx, started, "failed")
				span.RecordError(err)
				span.SetStatus(codes.Error, "canceled")
				return Result{Attempts: attempt + 1}, &FailedError{Attempts: attempt + 1, Err: lastErr}
			}
		}
	}

	c.finish(ctx, started, "failed")
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "retries exhausted")
	log.WithError(lastErr).Error("all webhook attempts failed")
	return Result{Attempts: maxAttempts}, &FailedError{Attempts: maxAttempts, Err: lastErr}
}

func (c *Client) send(ctx context.Context, sub Submission, payload []byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("X-Request-ID", sub.RequestID)
	req.Header.Set("X-Timestamp", timestamp(sub.At))
	req.Header.Set("X-Source", c.cfg.Source)
	c.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

func (c *Client) count(ctx context.Context, counter metric.Int64Counter, outcome string) {
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (c *Client) finish(ctx context.Context, started time.Time, outcome string) {
	c.count(ctx, c.outcomes, outcome)
	if c.duration != nil {
		c.duration.Record(ctx, time.Since(started).Seconds(),
			metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}
