package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/affinity/internal/history"
)

// Options selects where events go.
type Options struct {
	Addr     string // host:port of the native protocol
	Database string
	Username string
	Password string
	Table    string
}

// Sink sends launch events to ClickHouse using the official ClickHouse Go client.
type Sink struct {
	conn  driver.Conn
	table string
}

func New(o Options) (*Sink, error) {
	if o.Database == "" {
		o.Database = "default"
	}
	if o.Username == "" {
		o.Username = "default"
	}
	if o.Table == "" {
		o.Table = history.Table
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{o.Addr},
		Auth: clickhouse.Auth{
			Database: o.Database,
			Username: o.Username,
			Password: o.Password,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	s := &Sink{conn: conn, table: o.Table}
	if err := s.ensureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	return s.conn.Exec(ctx, createTableQuery(s.table))
}

func createTableQuery(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id String,
		occurred_at DateTime64(3),
		profile String,
		path String,
		pid Int64,
		name String,
		status LowCardinality(String),
		attempts UInt32,
		respawns UInt32,
		cores String,
		priority LowCardinality(String),
		err_kind String,
		error String,
		duration_ns Int64
	) ENGINE = MergeTree ORDER BY (profile, occurred_at)`, table)
}

func insertQuery(table string) string {
	return fmt.Sprintf(`INSERT INTO %s (id, occurred_at, profile, path, pid, name, status, attempts, respawns, cores, priority, err_kind, error, duration_ns) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, table)
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	err := s.conn.Exec(ctx, insertQuery(s.table),
		e.ID,
		e.OccurredAt.UTC(),
		e.Profile,
		e.Path,
		int64(e.PID),
		e.Name,
		e.Status,
		uint32(e.Attempts),
		uint32(e.Respawns),
		e.Cores,
		e.Priority,
		e.ErrKind,
		e.Error,
		int64(e.Duration),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}
