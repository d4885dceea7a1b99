package store

import (
	"database/sql"
	"fmt"

	// modernc.org/sqlite is a pure-Go SQLite driver; no cgo toolchain
	// requirement, matching why the donor repo picked it for its embedded
	// default backend.
	_ "modernc.org/sqlite"
)

// NewSQLiteStore opens (creating if necessary) a SQLite-backed Store at
// path. Use ":memory:" for an ephemeral, process-local store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// SQLite only tolerates a single writer; a connection pool of one
	// avoids SQLITE_BUSY surfacing as spurious transaction failures under
	// the single-writer model this kernel assumes.
	db.SetMaxOpenConns(1)
	return &sqlStore{db: db, dialect: sqliteDialect}, nil
}
