package secevent

import (
	"context"

	"github.com/sirupsen/logrus"
	otellog "go.opentelemetry.io/otel/log"
)

// LogSink escreve o evento no log da aplicação. Sempre ligado.
type LogSink struct {
	log logrus.FieldLogger
}

func NewLogSink(log logrus.FieldLogger) *LogSink {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Record(_ context.Context, ev Event) error {
	entry := s.log.WithFields(logrus.Fields{
		"event_id":   ev.ID,
		"kind":       string(ev.Kind),
		"ip":         ev.IP,
		"route":      ev.Route,
		"session_id": ev.SessionID,
		"request_id": ev.RequestID,
		"detail":     ev.Detail,
	})
	switch severity(ev.Kind) {
	case otellog.SeverityInfo:
		entry.Info("security event")
	case otellog.SeverityError:
		entry.Error("security event")
	default:
		entry.Warn("security event")
	}
	return nil
}
