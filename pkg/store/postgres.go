package store

import (
	"database/sql"
	"fmt"

	// lib/pq is the pure-Go Postgres driver used for the production backend.
	_ "github.com/lib/pq"
)

// NewPostgresStore opens a Postgres-backed Store using dsn (a
// "postgres://..." connection string or libpq keyword/value string).
func NewPostgresStore(dsn string) (Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	return &sqlStore{db: db, dialect: postgresDialect}, nil
}
