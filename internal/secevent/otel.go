package secevent

import (
	"context"

	otellog "go.opentelemetry.io/otel/log"
)

// OTelSink emite o evento como registro de log OpenTelemetry.
type OTelSink struct {
	logger otellog.Logger
}

func NewOTelSink(provider otellog.LoggerProvider) *OTelSink {
	return &OTelSink{logger: provider.Logger("form-gateway/secevent")}
}

func (s *OTelSink) Record(ctx context.Context, ev Event) error {
	rec := otellog.Record{}
	rec.SetTimestamp(ev.At)
	rec.SetSeverity(severity(ev.Kind))
	rec.SetSeverityText(severity(ev.Kind).String())
	rec.SetEventName(string(ev.Kind))
	rec.SetBody(otellog.StringValue(string(ev.Kind)))
	rec.AddAttributes(
		otellog.String("event.id", ev.ID),
		otellog.String("client.address", ev.IP),
	)
	optional := [][2]string{
		{"http.route", ev.Route},
		{"gateway.session_id", ev.SessionID},
		{"gateway.request_id", ev.RequestID},
		{"user_agent.original", ev.UserAgent},
		{"client.geo.country", ev.Country},
		{"event.detail", ev.Detail},
	}
	for _, kv := range optional {
		if kv[1] != "" {
			rec.AddAttributes(otellog.String(kv[0], kv[1]))
		}
	}
	s.logger.Emit(ctx, rec)
	return nil
}

func severity(k Kind) otellog.Severity {
	switch k {
	case KindSessionIssued, KindDelivered:
		return otellog.SeverityInfo
	case KindDeliveryFailed:
		return otellog.SeverityError
	default:
		return otellog.SeverityWarn
	}
}
