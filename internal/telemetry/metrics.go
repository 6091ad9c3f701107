package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "form-gateway"

// Metrics são os instrumentos do pipeline. Métodos aceitam receiver nil.
type Metrics struct {
	requests metric.Int64Counter
	sessions metric.Int64Counter
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	requests, err := meter.Int64Counter("gateway.requests",
		metric.WithDescription("Gatekeeper outcomes by route and final state"))
	if err != nil {
		return nil, err
	}
	sessions, err := meter.Int64Counter("gateway.sessions.issued",
		metric.WithDescription("Sessions issued"))
	if err != nil {
		return nil, err
	}
	return &Metrics{requests: requests, sessions: sessions}, nil
}

// Outcome conta o resultado final de uma requisição (accepted, rejected, errored)
// com a classe de rejeição quando houver.
func (m *Metrics) Outcome(ctx context.Context, route, state, class string) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.route", route),
		attribute.String("gateway.state", state),
	}
	if class != "" {
		attrs = append(attrs, attribute.String("gateway.rejection", class))
	}
	m.requests.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) SessionIssued(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessions.Add(ctx, 1)
}

// Gauges lê os valores atuais dos componentes em memória.
type Gauges struct {
	ActiveSessions func() int64
	FlaggedIPs     func() int64
	InFlight       func() int64
}

// RegisterGauges cria instrumentos observáveis para os contadores em memória.
func RegisterGauges(mp metric.MeterProvider, g Gauges) error {
	meter := mp.Meter(meterName)
	sessions, err := meter.Int64ObservableGauge("gateway.sessions.active")
	if err != nil {
		return err
	}
	flagged, err := meter.Int64ObservableGauge("gateway.reputation.flagged")
	if err != nil {
		return err
	}
	inflight, err := meter.Int64ObservableGauge("gateway.requests.in_flight")
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		if g.ActiveSessions != nil {
			o.ObserveInt64(sessions, g.ActiveSessions())
		}
		if g.FlaggedIPs != nil {
			o.ObserveInt64(flagged, g.FlaggedIPs())
		}
		if g.InFlight != nil {
			o.ObserveInt64(inflight, g.InFlight())
		}
		return nil
	}, sessions, flagged, inflight)
	return err
}
