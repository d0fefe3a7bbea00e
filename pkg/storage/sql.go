package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Dialect captures the differences between the supported SQL engines
type Dialect struct {
	Name     string
	Driver   string
	blobType string
	numbered bool
}

var (
	Postgres = Dialect{Name: "postgres", Driver: "postgres", blobType: "BYTEA", numbered: true}
	SQLite   = Dialect{Name: "sqlite", Driver: "sqlite3", blobType: "BLOB"}
)

func (d Dialect) bind(n int) string {
	if d.numbered {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// SQLKV keeps one row per key in the portal_kv table
type SQLKV struct {
	db      *sql.DB
	dialect Dialect
	owned   bool

	getQuery    string
	insertQuery string
	updateQuery string
	upsertQuery string
	deleteQuery string
}

// NewSQLKV wraps an open database and creates the table if missing
func NewSQLKV(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLKV, error) {
	b := dialect.bind
	s := &SQLKV{
		db:      db,
		dialect: dialect,
		getQuery: fmt.Sprintf(
			"SELECT value, version FROM portal_kv WHERE kv_key = %s", b(1)),
		insertQuery: fmt.Sprintf(
			"INSERT INTO portal_kv (kv_key, value, version, updated_at) VALUES (%s, %s, 1, %s) ON CONFLICT (kv_key) DO NOTHING",
			b(1), b(2), b(3)),
		updateQuery: fmt.Sprintf(
			"UPDATE portal_kv SET value = %s, version = version + 1, updated_at = %s WHERE kv_key = %s AND version = %s",
			b(1), b(2), b(3), b(4)),
		upsertQuery: fmt.Sprintf(
			"INSERT INTO portal_kv (kv_key, value, version, updated_at) VALUES (%s, %s, 1, %s) "+
				"ON CONFLICT (kv_key) DO UPDATE SET value = excluded.value, version = portal_kv.version + 1, updated_at = excluded.updated_at "+
				"RETURNING version",
			b(1), b(2), b(3)),
		deleteQuery: fmt.Sprintf("DELETE FROM portal_kv WHERE kv_key = %s", b(1)),
	}

	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLKV opens a connection pool for cfg.Type ("postgres" or "sqlite")
func OpenSQLKV(ctx context.Context, cfg Config) (*SQLKV, error) {
	var (
		dialect Dialect
		dsn     string
	)
	switch cfg.Type {
	case "postgres":
		dialect, dsn = Postgres, cfg.PostgresURL
	case "sqlite":
		dialect, dsn = SQLite, cfg.SQLitePath
	default:
		return nil, fmt.Errorf("not a SQL storage type: %s", cfg.Type)
	}

	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", dialect.Name, err)
	}

	if dialect == SQLite {
		// One writer at a time; also keeps ":memory:" on a single database.
		db.SetMaxOpenConns(1)
	} else if cfg.SQLMaxConns > 0 {
		db.SetMaxOpenConns(cfg.SQLMaxConns)
		db.SetMaxIdleConns(cfg.SQLMaxConns / 2)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	timeout := cfg.SQLTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", dialect.Name, err)
	}

	s, err := NewSQLKV(ctx, db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

func (s *SQLKV) migrate(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS portal_kv (
	kv_key TEXT PRIMARY KEY,
	value %s NOT NULL,
	version BIGINT NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`, s.dialect.blobType)

	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create portal_kv table: %w", err)
	}
	return nil
}

func (s *SQLKV) Get(ctx context.Context, key string) (Entry, error) {
	var e Entry
	err := s.db.QueryRowContext(ctx, s.getQuery, key).Scan(&e.Value, &e.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("%s get failed: %w", s.dialect.Name, err)
	}
	return e, nil
}

func (s *SQLKV) Put(ctx context.Context, key string, value []byte, expected int64) (int64, error) {
	now := time.Now().UTC()

	switch {
	case expected == AnyVersion:
		var version int64
		if err := s.db.QueryRowContext(ctx, s.upsertQuery, key, value, now).Scan(&version); err != nil {
			return 0, fmt.Errorf("%s upsert failed: %w", s.dialect.Name, err)
		}
		return version, nil

	case expected == 0:
		res, err := s.db.ExecContext(ctx, s.insertQuery, key, value, now)
		if err != nil {
			return 0, fmt.Errorf("%s insert failed: %w", s.dialect.Name, err)
		}
		if err := checkAffected(res); err != nil {
			return 0, err
		}
		return 1, nil

	default:
		res, err := s.db.ExecContext(ctx, s.updateQuery, value, now, key, expected)
		if err != nil {
			return 0, fmt.Errorf("%s update failed: %w", s.dialect.Name, err)
		}
		if err := checkAffected(res); err != nil {
			return 0, err
		}
		return expected + 1, nil
	}
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (s *SQLKV) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.deleteQuery, key); err != nil {
		return fmt.Errorf("%s delete failed: %w", s.dialect.Name, err)
	}
	return nil
}

func (s *SQLKV) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLKV) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
