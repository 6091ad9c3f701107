package secevent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/embedded"
)

type memorySink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (m *memorySink) Record(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return m.err
}

func (m *memorySink) all() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

func TestMulti_RecordsEverywhereAndJoinsErrors(t *testing.T) {
	ok := &memorySink{}
	bad := &memorySink{err: errors.New("boom")}

	err := Multi{ok, nil, bad}.Record(context.Background(), Event{Kind: KindHoneypot})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(ok.all()) != 1 || len(bad.all()) != 1 {
		t.Fatalf("expected both sinks to be called")
	}
}

func TestRecorder_FillsIDAndTimestamp(t *testing.T) {
	sink := &memorySink{}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	r := NewRecorder(sink, logger)

	r.Emit(Event{Kind: KindIPBlocked, IP: "1.2.3.4"})
	r.Emit(Event{Kind: KindRateLimited, IP: "1.2.3.4"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Close(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	events := sink.all()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	for _, ev := range events {
		if ev.ID == "" || ev.At.IsZero() {
			t.Fatalf("expected id and timestamp, got %+v", ev)
		}
	}
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	r.Emit(Event{Kind: KindHoneypot})
	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	NewRecorder(nil, nil).Emit(Event{Kind: KindHoneypot})
}

type blockingSink struct {
	started chan struct{}
	release chan struct{}
	memorySink
}

func (b *blockingSink) Record(ctx context.Context, ev Event) error {
	select {
	case b.started <- struct{}{}:
	default:
	}
	<-b.release
	return b.memorySink.Record(ctx, ev)
}

func TestRecorder_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	sink := &blockingSink{started: make(chan struct{}, 1), release: make(chan struct{})}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	r := NewRecorder(sink, logger, WithQueue(1, 1))

	r.Emit(Event{Kind: KindRateLimited})
	<-sink.started
	for i := 0; i < 9; i++ {
		r.Emit(Event{Kind: KindRateLimited})
	}
	// um gravando, um na fila
	if got := r.Dropped(); got != 8 {
		t.Fatalf("expected 8 dropped, got %d", got)
	}

	close(sink.release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := len(sink.all()); got != 2 {
		t.Fatalf("expected 2 recorded, got %d", got)
	}

	r.Emit(Event{Kind: KindHoneypot})
	if got := r.Dropped(); got != 9 {
		t.Fatalf("expected emit after close to be dropped, got %d", got)
	}
	if err := r.Close(ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestSQLSink_SQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")
	sink, err := OpenSQL(ctx, DriverSQLite, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sink.Close()

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	events := []Event{
		{ID: "e1", Kind: KindHoneypot, IP: "1.2.3.4", At: base},
		{ID: "e2", Kind: KindHoneypot, IP: "1.2.3.4", Route: "/api/submit-form", At: base.Add(10 * time.Second)},
		{ID: "e3", Kind: KindRateLimited, IP: "5.6.7.8", At: base.Add(20 * time.Second)},
	}
	for _, ev := range events {
		if err := sink.Record(ctx, ev); err != nil {
			t.Fatalf("record %s: %v", ev.ID, err)
		}
	}

	n, err := sink.CountSince(ctx, KindHoneypot, base.Add(5*time.Second))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 honeypot event after cutoff, got %d", n)
	}

	// segunda abertura não falha com a tabela existente
	again, err := OpenSQL(ctx, DriverSQLite, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	again.Close()
}

func TestOpenSQL_RejectsUnknownDriver(t *testing.T) {
	if _, err := OpenSQL(context.Background(), "oracle", "x"); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestInsertQuery_UsesDialectPlaceholders(t *testing.T) {
	if q := insertQuery(DriverPostgres); !strings.Contains(q, "$10") || strings.Contains(q, "?") {
		t.Fatalf("unexpected postgres query: %s", q)
	}
	if q := insertQuery(DriverMySQL); strings.Count(q, "?") != 10 {
		t.Fatalf("unexpected mysql query: %s", q)
	}
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSink_PublishesJSONKeyedByIP(t *testing.T) {
	fw := &fakeWriter{}
	sink := NewKafkaSinkWithWriter(fw)

	ev := Event{ID: "e1", Kind: KindHoneypot, IP: "1.2.3.4", At: time.Now().UTC()}
	if err := sink.Record(context.Background(), ev); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(fw.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fw.msgs))
	}
	msg := fw.msgs[0]
	if string(msg.Key) != "1.2.3.4" {
		t.Fatalf("unexpected key: %q", msg.Key)
	}
	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil || decoded.Kind != KindHoneypot {
		t.Fatalf("unexpected payload %s (%v)", msg.Value, err)
	}
	if err := sink.Close(); err != nil || !fw.closed {
		t.Fatalf("expected writer to be closed")
	}
}

func TestNewKafkaSink_RequiresBrokersAndTopic(t *testing.T) {
	if _, err := NewKafkaSink(nil, "topic"); err == nil {
		t.Fatalf("expected error without brokers")
	}
}

type fakeLogger struct {
	embedded.Logger
	recs []otellog.Record
}

func (l *fakeLogger) Emit(_ context.Context, r otellog.Record) { l.recs = append(l.recs, r) }

func (l *fakeLogger) Enabled(context.Context, otellog.EnabledParameters) bool { return true }

type fakeProvider struct {
	embedded.LoggerProvider
	l *fakeLogger
}

func (p fakeProvider) Logger(string, ...otellog.LoggerOption) otellog.Logger { return p.l }

func TestOTelSink_EmitsRecordWithAttributes(t *testing.T) {
	l := &fakeLogger{}
	sink := NewOTelSink(fakeProvider{l: l})

	ev := Event{ID: "e1", Kind: KindDeliveryFailed, IP: "1.2.3.4", RequestID: "r1", At: time.Now()}
	if err := sink.Record(context.Background(), ev); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(l.recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(l.recs))
	}
	rec := l.recs[0]
	if rec.Severity() != otellog.SeverityError {
		t.Fatalf("expected error severity, got %v", rec.Severity())
	}
	attrs := map[string]string{}
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value.AsString()
		return true
	})
	if attrs["client.address"] != "1.2.3.4" || attrs["gateway.request_id"] != "r1" {
		t.Fatalf("unexpected attributes: %v", attrs)
	}
	if _, ok := attrs["gateway.session_id"]; ok {
		t.Fatalf("empty fields must not become attributes")
	}
}

func TestLogSink_WritesEntry(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetFormatter(&logrus.JSONFormatter{})

	sink := NewLogSink(log)
	if err := sink.Record(context.Background(), Event{ID: "e1", Kind: KindHoneypot, IP: "1.2.3.4"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"kind":"honeypot_triggered"`) || !strings.Contains(out, `"level":"warning"`) {
		t.Fatalf("unexpected log line: %s", out)
	}
}
