// Package persistence implements the email and chain repositories on a
// relational store. SQLite is the default backend; PostgreSQL via the pgx
// stdlib driver is the alternate for multi-host deployments.
package persistence

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"mailintel_server/pkg/apperr"
)

// Store owns a fixed pool of database handles. Handles are checked out per
// operation through a channel, so concurrent workers queue instead of
// piling write transactions onto SQLite. Each handle is pinned to a single
// underlying connection; pool size is workers plus two, leaving headroom
// for the monitor and the ops API while workers saturate their share.
type Store struct {
	driver  string
	handles chan *sqlx.DB
	all     []*sqlx.DB
	log     zerolog.Logger
}

const poolHeadroom = 2

// Open builds the handle pool and bootstraps the schema. dsn is a file
// path or file: URL for sqlite3, a postgres URL for pgx.
func Open(driver, dsn string, workers int, log zerolog.Logger) (*Store, error) {
	if workers < 1 {
		workers = 1
	}
	size := workers + poolHeadroom

	s := &Store{
		driver:  driver,
		handles: make(chan *sqlx.DB, size),
		log:     log.With().Str("component", "store").Str("driver", driver).Logger(),
	}

	openDSN := dsn
	if driver == "sqlite3" {
		openDSN = sqliteDSN(dsn)
	}

	for i := 0; i < size; i++ {
		db, err := sqlx.Open(driver, openDSN)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open handle %d: %w", i, err)
		}
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if driver == "sqlite3" {
			if _, err := db.Exec("PRAGMA mmap_size = 268435456"); err != nil {
				s.Close()
				return nil, fmt.Errorf("set mmap on handle %d: %w", i, err)
			}
		}
		s.all = append(s.all, db)
		s.handles <- db
	}

	if err := s.bootstrap(); err != nil {
		s.Close()
		return nil, err
	}
	s.log.Info().Int("handles", size).Msg("store ready")
	return s, nil
}

// sqliteDSN layers the required pragmas onto the DSN: WAL journaling, a
// ten second busy timeout, 64 MiB page cache and enforced foreign keys.
func sqliteDSN(dsn string) string {
	path := dsn
	query := url.Values{}
	if strings.HasPrefix(dsn, "file:") {
		if i := strings.IndexByte(dsn, '?'); i >= 0 {
			path = dsn[:i]
			if q, err := url.ParseQuery(dsn[i+1:]); err == nil {
				query = q
			}
		}
	} else {
		path = "file:" + dsn
	}
	set := func(key, value string) {
		if query.Get(key) == "" {
			query.Set(key, value)
		}
	}
	set("_journal_mode", "WAL")
	set("_busy_timeout", "10000")
	set("_cache_size", "-65536")
	set("_foreign_keys", "on")
	set("_synchronous", "NORMAL")
	return path + "?" + query.Encode()
}

// acquire checks out a handle, or gives up when the context ends first.
func (s *Store) acquire(ctx context.Context) (*sqlx.DB, error) {
	select {
	case db := <-s.handles:
		return db, nil
	case <-ctx.Done():
		return nil, apperr.Cancelled("store handle acquire")
	}
}

func (s *Store) release(db *sqlx.DB) {
	s.handles <- db
}

// with runs fn on a pooled handle.
func (s *Store) with(ctx context.Context, fn func(db *sqlx.DB) error) error {
	db, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer s.release(db)
	return fn(db)
}

// withTx runs fn inside a transaction on a pooled handle.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return s.with(ctx, func(db *sqlx.DB) error {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// Ping checks out one handle and round-trips it to the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.with(ctx, func(db *sqlx.DB) error {
		return db.PingContext(ctx)
	})
}

// Close tears down every handle. Safe to call after a partial Open.
func (s *Store) Close() {
	for _, db := range s.all {
		_ = db.Close()
	}
	s.all = nil
}

const schema = `
CREATE TABLE IF NOT EXISTS emails (
	id                TEXT PRIMARY KEY,
	subject           TEXT NOT NULL DEFAULT '',
	body              TEXT NOT NULL DEFAULT '',
	sender            TEXT NOT NULL DEFAULT '',
	recipients        TEXT NOT NULL DEFAULT '[]',
	received_at       TIMESTAMP NOT NULL,
	conversation_id   TEXT NOT NULL DEFAULT '',
	has_attachments   BOOLEAN NOT NULL DEFAULT FALSE,
	importance        TEXT NOT NULL DEFAULT 'normal',
	state             TEXT NOT NULL DEFAULT 'pending',
	chain_id          TEXT NOT NULL DEFAULT '',
	chain_score       DOUBLE PRECISION NOT NULL DEFAULT 0,
	chain_bucket      TEXT NOT NULL DEFAULT '',
	recommended_phase INTEGER NOT NULL DEFAULT 0,
	phase_used        INTEGER NOT NULL DEFAULT 0,
	worker_id         TEXT NOT NULL DEFAULT '',
	claimed_at        TIMESTAMP,
	analyzed_at       TIMESTAMP,
	result            TEXT,
	last_error        TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_emails_state ON emails (state, chain_score);
CREATE INDEX IF NOT EXISTS idx_emails_chain ON emails (chain_id);
CREATE INDEX IF NOT EXISTS idx_emails_analyzed_at ON emails (analyzed_at);

CREATE TABLE IF NOT EXISTS chains (
	chain_id           TEXT PRIMARY KEY,
	member_ids         TEXT NOT NULL DEFAULT '[]',
	participants       TEXT NOT NULL DEFAULT '[]',
	completeness       TEXT NOT NULL DEFAULT '',
	completeness_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	workflow_type      TEXT NOT NULL DEFAULT '',
	recommended_phase  INTEGER NOT NULL DEFAULT 0,
	first_message_at   TIMESTAMP,
	last_message_at    TIMESTAMP,
	estimated_value    DOUBLE PRECISION NOT NULL DEFAULT 0,
	updated_at         TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chains_score ON chains (completeness_score);
`

func (s *Store) bootstrap() error {
	return s.with(context.Background(), func(db *sqlx.DB) error {
		for _, stmt := range strings.Split(schema, ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("bootstrap schema: %w", err)
			}
		}
		return nil
	})
}

// isBusy reports whether err is a lock contention error worth retrying.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "55P03") // postgres lock_not_available
}
