package plotstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite plot store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SQLiteDSNForFile builds a DSN for a database file at path.
func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite plot store: empty path")
	}
	// WAL for concurrent readers + writer. busy_timeout to avoid transient SQLITE_BUSY.
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path), nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite plot store: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS plots (
		  plot_id TEXT PRIMARY KEY,
		  parent_id TEXT NOT NULL DEFAULT '',
		  session_id TEXT NOT NULL,
		  code TEXT NOT NULL DEFAULT '',
		  created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS plots_by_created
		  ON plots(created_at_ms DESC, plot_id ASC);`,
		`CREATE INDEX IF NOT EXISTS plots_by_session
		  ON plots(session_id, created_at_ms DESC);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite plot store: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, r Record) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite plot store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	r = normalizeRecord(r)
	if r.ID == "" {
		return errors.New("sqlite plot store: id is empty")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plots (plot_id, parent_id, session_id, code, created_at_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(plot_id) DO UPDATE SET
			parent_id = excluded.parent_id,
			session_id = excluded.session_id,
			code = CASE
				WHEN excluded.code <> '' THEN excluded.code
				ELSE plots.code
			END,
			created_at_ms = excluded.created_at_ms
	`, r.ID, r.ParentID, r.SessionID, r.Code, r.CreatedAtMs)
	if err != nil {
		return errors.Wrap(err, "sqlite plot store: save plot")
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Record, bool, error) {
	if s == nil || s.db == nil {
		return Record{}, false, errors.New("sqlite plot store: db is nil")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Record{}, false, errors.New("sqlite plot store: id is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var r Record
	err := s.db.QueryRowContext(ctx, `
		SELECT plot_id, parent_id, session_id, code, created_at_ms
		FROM plots
		WHERE plot_id = ?
	`, id).Scan(&r.ID, &r.ParentID, &r.SessionID, &r.Code, &r.CreatedAtMs)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, errors.Wrap(err, "sqlite plot store: get plot")
	}
	return r, true, nil
}

func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite plot store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	opts = normalizeListOptions(opts)

	query := `
		SELECT plot_id, parent_id, session_id, code, created_at_ms
		FROM plots
	`
	where := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if opts.SessionID != "" {
		where = append(where, `session_id = ?`)
		args = append(args, opts.SessionID)
	}
	if opts.SinceMs > 0 {
		where = append(where, `created_at_ms >= ?`)
		args = append(args, opts.SinceMs)
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY created_at_ms DESC, plot_id ASC LIMIT ?`
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite plot store: list plots")
	}
	defer func() { _ = rows.Close() }()

	out := make([]Record, 0)
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.ParentID, &r.SessionID, &r.Code, &r.CreatedAtMs); err != nil {
			return nil, errors.Wrap(err, "sqlite plot store: scan plot")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite plot store: iterate plots")
	}
	return out, nil
}
