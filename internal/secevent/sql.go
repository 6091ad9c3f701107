package secevent

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Drivers aceitos em AUDIT_DRIVER.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "pgx"
)

var schemas = map[string]string{
	DriverSQLite: `CREATE TABLE IF NOT EXISTS security_events (
		id         TEXT PRIMARY KEY,
		kind       TEXT NOT NULL,
		ip         TEXT NOT NULL,
		route      TEXT,
		session_id TEXT,
		request_id TEXT,
		user_agent TEXT,
		country    TEXT,
		detail     TEXT,
		created_at DATETIME NOT NULL
	)`,
	DriverMySQL: `CREATE TABLE IF NOT EXISTS security_events (
		id         VARCHAR(36) PRIMARY KEY,
		kind       VARCHAR(64) NOT NULL,
		ip         VARCHAR(64) NOT NULL,
		route      VARCHAR(255),
		session_id VARCHAR(36),
		request_id VARCHAR(36),
		user_agent TEXT,
		country    VARCHAR(8),
		detail     TEXT,
		created_at DATETIME(3) NOT NULL,
		INDEX idx_security_events_ip (ip, created_at)
	)`,
	DriverPostgres: `CREATE TABLE IF NOT EXISTS security_events (
		id         UUID PRIMARY KEY,
		kind       TEXT NOT NULL,
		ip         TEXT NOT NULL,
		route      TEXT,
		session_id TEXT,
		request_id TEXT,
		user_agent TEXT,
		country    TEXT,
		detail     TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

// SQLSink grava eventos na tabela security_events.
type SQLSink struct {
	db     *sql.DB
	driver string
	insert string
}

// OpenSQL abre o banco e cria a tabela se necessário.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLSink, error) {
	if _, ok := schemas[driver]; !ok {
		return nil, fmt.Errorf("secevent: unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("secevent: open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// um escritor por vez evita SQLITE_BUSY com as gravações assíncronas
		db.SetMaxOpenConns(1)
	}
	s, err := NewSQLSink(ctx, db, driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLSink usa um *sql.DB já aberto.
func NewSQLSink(ctx context.Context, db *sql.DB, driver string) (*SQLSink, error) {
	schema, ok := schemas[driver]
	if !ok {
		return nil, fmt.Errorf("secevent: unsupported driver %q", driver)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("secevent: ping %s: %w", driver, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("secevent: create schema: %w", err)
	}
	return &SQLSink{db: db, driver: driver, insert: insertQuery(driver)}, nil
}

func insertQuery(driver string) string {
	cols := []string{"id", "kind", "ip", "route", "session_id", "request_id", "user_agent", "country", "detail", "created_at"}
	ph := make([]string, len(cols))
	for i := range cols {
		if driver == DriverPostgres {
			ph[i] = fmt.Sprintf("$%d", i+1)
		} else {
			ph[i] = "?"
		}
	}
	return "INSERT INTO security_events (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(ph, ", ") + ")"
}

func (s *SQLSink) Record(ctx context.Context, ev Event) error {
	_, err := s.db.ExecContext(ctx, s.insert,
		ev.ID, string(ev.Kind), ev.IP,
		nullable(ev.Route), nullable(ev.SessionID), nullable(ev.RequestID),
		nullable(ev.UserAgent), nullable(ev.Country), nullable(ev.Detail),
		ev.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("secevent: insert: %w", err)
	}
	return nil
}

// CountSince conta eventos de um tipo desde t (usado no status admin).
func (s *SQLSink) CountSince(ctx context.Context, kind Kind, t time.Time) (int, error) {
	q := "SELECT COUNT(*) FROM security_events WHERE kind = ? AND created_at >= ?"
	if s.driver == DriverPostgres {
		q = "SELECT COUNT(*) FROM security_events WHERE kind = $1 AND created_at >= $2"
	}
	var n int
	if err := s.db.QueryRowContext(ctx, q, string(kind), t.UTC()).Scan(&n); err != nil {
		return 0, fmt.Errorf("secevent: count: %w", err)
	}
	return n, nil
}

func (s *SQLSink) Close() error {
	return s.db.Close()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
