// Package store implements the durable telemetry repository on a single-file
// SQLite database, plus the optional Redis live-state mirror client.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Repository is the durable store: an append-only sample log, derived rollup
// buckets, rollup progress markers, and fired alerts.
//
// SQLite works best with a single writer, so the pool is pinned to one
// connection; WAL mode keeps readers from blocking on the ingestion writes.
type Repository struct {
	conn *sql.DB
}

// Open opens (creating if needed) the SQLite database at path.
func Open(path string) (*Repository, error) {
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Repository{conn: conn}, nil
}

// Close closes the underlying connection.
func (r *Repository) Close() error {
	return r.conn.Close()
}

// Ping reports database reachability.
func (r *Repository) Ping(ctx context.Context) error {
	return r.conn.PingContext(ctx)
}
