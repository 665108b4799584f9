package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/affinity/internal/history"
)

// Sink writes launch events to a SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one connection keeps :memory: databases coherent
	db.SetMaxOpenConns(1)

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + history.Table + `(
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			occurred_at TIMESTAMP NOT NULL,
			profile TEXT NOT NULL,
			path TEXT NOT NULL,
			pid INTEGER NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			respawns INTEGER NOT NULL,
			cores TEXT NOT NULL,
			priority TEXT NOT NULL,
			err_kind TEXT NULL,
			error TEXT NULL,
			duration_ns INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_launch_history_profile ON ` + history.Table + `(profile);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO `+history.Table+`(id, occurred_at, profile, path, pid, name, status, attempts, respawns, cores, priority, err_kind, error, duration_ns)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		e.ID, e.OccurredAt.UTC(), e.Profile, e.Path, e.PID, e.Name, e.Status, e.Attempts, e.Respawns,
		e.Cores, e.Priority, nullable(e.ErrKind), nullable(e.Error), int64(e.Duration))
	return err
}

// Recent returns up to limit events, newest first. A limit of zero or less
// returns everything.
func (s *Sink) Recent(ctx context.Context, limit int) ([]history.Event, error) {
	q := `SELECT id, occurred_at, profile, path, pid, name, status, attempts, respawns, cores, priority, err_kind, error, duration_ns
		FROM ` + history.Table + ` ORDER BY seq DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []history.Event
	for rows.Next() {
		var (
			e        history.Event
			kind     sql.NullString
			msg      sql.NullString
			nanos    int64
			occurred time.Time
		)
		if err := rows.Scan(&e.ID, &occurred, &e.Profile, &e.Path, &e.PID, &e.Name, &e.Status,
			&e.Attempts, &e.Respawns, &e.Cores, &e.Priority, &kind, &msg, &nanos); err != nil {
			return nil, err
		}
		e.OccurredAt = occurred.UTC()
		e.ErrKind, e.Error = kind.String, msg.String
		e.Duration = time.Duration(nanos)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
