package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// Store is the row-oriented datastore client. It speaks to an embedded SQLite
// file or to a hosted Postgres database, chosen by the DSN passed to New.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// New opens the datastore and applies the schema. DSNs starting with
// postgres:// or postgresql:// use Postgres; anything else is a SQLite path.
func New(dsn string) (*Store, error) {
	s := &Store{}
	var err error
	if isPostgresDSN(dsn) {
		s.dialect = dialectPostgres
		s.db, err = sql.Open("pgx", dsn)
	} else {
		s.dialect = dialectSQLite
		s.db, err = sql.Open("sqlite", sqliteDSN(dsn))
		if err == nil {
			// One connection keeps :memory: databases shared and serialises writers.
			s.db.SetMaxOpenConns(1)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := s.db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite"
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		plan TEXT NOT NULL DEFAULT 'free',
		is_premium INTEGER NOT NULL DEFAULT 0,
		goal TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chat_exchanges (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		question TEXT NOT NULL,
		answer TEXT,
		subject TEXT NOT NULL DEFAULT 'geral',
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS essay_records (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		theme TEXT NOT NULL,
		body TEXT NOT NULL,
		total_score INTEGER NOT NULL,
		competency_1 INTEGER NOT NULL,
		competency_2 INTEGER NOT NULL,
		competency_3 INTEGER NOT NULL,
		competency_4 INTEGER NOT NULL,
		competency_5 INTEGER NOT NULL,
		feedback TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS exam_results (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		question_count INTEGER NOT NULL,
		correct_count INTEGER NOT NULL,
		percent_correct INTEGER NOT NULL,
		time_spent_minutes INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		prompt TEXT NOT NULL,
		options TEXT NOT NULL,
		correct_option TEXT NOT NULL,
		subject TEXT NOT NULL,
		difficulty INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		plan TEXT NOT NULL DEFAULT 'free',
		is_premium BOOLEAN NOT NULL DEFAULT FALSE,
		goal TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chat_exchanges (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		question TEXT NOT NULL,
		answer TEXT,
		subject TEXT NOT NULL DEFAULT 'geral',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS essay_records (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		theme TEXT NOT NULL,
		body TEXT NOT NULL,
		total_score INTEGER NOT NULL,
		competency_1 INTEGER NOT NULL,
		competency_2 INTEGER NOT NULL,
		competency_3 INTEGER NOT NULL,
		competency_4 INTEGER NOT NULL,
		competency_5 INTEGER NOT NULL,
		feedback TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS exam_results (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		question_count INTEGER NOT NULL,
		correct_count INTEGER NOT NULL,
		percent_correct INTEGER NOT NULL,
		time_spent_minutes INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		prompt TEXT NOT NULL,
		options TEXT NOT NULL,
		correct_option TEXT NOT NULL,
		subject TEXT NOT NULL,
		difficulty INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_chat_exchanges_user_created ON chat_exchanges (user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_essay_records_user_created ON essay_records (user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_exam_results_user_created ON exam_results (user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_questions_subject ON questions (subject)`,
}

func (s *Store) migrate(ctx context.Context) error {
	schema := sqliteSchema
	if s.dialect == dialectPostgres {
		schema = postgresSchema
	}
	for _, stmt := range append(schema, indexes...) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	return rebindDollar(query)
}

func rebindDollar(query string) string {
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}
