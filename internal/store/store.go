package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

// Driver selects the SQL backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

type Store struct {
	db         *sql.DB
	driver     Driver
	sessionTTL time.Duration
}

// New opens a SQLite database at dbPath. ":memory:" gives a private in-memory database.
func New(dbPath string) (*Store, error) {
	return Open(context.Background(), DriverSQLite, dbPath)
}

// Open connects to the given backend and ensures the schema exists.
// For sqlite dsn is a file path; for postgres it is a connection URL.
func Open(ctx context.Context, driver Driver, dsn string) (*Store, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite"
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
		drvName = "pgx"
		if dsn == "" {
			dsn = "postgres://localhost:5432/examrunner?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite && strings.Contains(dsn, ":memory:") {
		// Every new connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func sqliteDSN(path string) string {
	if path == "" {
		path = "examrunner.db"
	}
	if path == ":memory:" {
		return "file::memory:?_pragma=foreign_keys(1)"
	}
	if strings.HasPrefix(path, "file:") {
		return path
	}
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns the backend in use.
func (s *Store) Driver() Driver { return s.driver }

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := schemaSQLite
	if s.driver == DriverPostgres {
		schema = schemaPostgres
	}
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'student',
	active BOOLEAN NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS auth_sessions (
	id TEXT PRIMARY KEY,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS exams (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	definition TEXT NOT NULL,
	source_hash TEXT NOT NULL DEFAULT '',
	imported_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS imported_files (
	path TEXT PRIMARY KEY,
	hash TEXT NOT NULL,
	imported_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS attempts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	exam_id TEXT NOT NULL REFERENCES exams(id),
	student_id INTEGER NOT NULL REFERENCES users(id),
	status TEXT NOT NULL DEFAULT 'in_progress',
	answers TEXT NOT NULL DEFAULT '{}',
	total_score REAL NOT NULL DEFAULT 0,
	max_score REAL NOT NULL DEFAULT 0,
	manual_grades TEXT NOT NULL DEFAULT '{}',
	started_at DATETIME NOT NULL,
	completed_at DATETIME,
	graded_by INTEGER REFERENCES users(id),
	graded_at DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS attempts_exam_student ON attempts(exam_id, student_id);

CREATE TABLE IF NOT EXISTS event_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	typ TEXT NOT NULL,
	data TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'student',
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS auth_sessions (
	id TEXT PRIMARY KEY,
	user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS exams (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	definition TEXT NOT NULL,
	source_hash TEXT NOT NULL DEFAULT '',
	imported_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS imported_files (
	path TEXT PRIMARY KEY,
	hash TEXT NOT NULL,
	imported_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS attempts (
	id BIGSERIAL PRIMARY KEY,
	exam_id TEXT NOT NULL REFERENCES exams(id),
	student_id BIGINT NOT NULL REFERENCES users(id),
	status TEXT NOT NULL DEFAULT 'in_progress',
	answers TEXT NOT NULL DEFAULT '{}',
	total_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	max_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	manual_grades TEXT NOT NULL DEFAULT '{}',
	started_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	graded_by BIGINT REFERENCES users(id),
	graded_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS attempts_exam_student ON attempts(exam_id, student_id);

CREATE TABLE IF NOT EXISTS event_log (
	id BIGSERIAL PRIMARY KEY,
	typ TEXT NOT NULL,
	data TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`
