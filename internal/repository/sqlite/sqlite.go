// Package sqlite implements the repository interfaces using SQLite as the
// storage backend.
//
// WHY SQLITE?
// SQLite is an embedded database: it lives inside the Go binary as a single
// file per store. No separate database server to install, configure, or
// manage, which matches how this dashboard is deployed (one container, one
// data directory).
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo, which needs a C compiler and makes
// cross-compilation painful. modernc.org/sqlite is a pure Go translation of
// the SQLite C code, so it works everywhere Go works.
//
// THREE INDEPENDENT STORES:
// Identity, vault, and history each get their own database file (users.db,
// vault.db, history.db). They share nothing except user IDs as logical
// foreign keys; a cross-store cascade is coordinated by the session layer,
// not by SQL. This file holds the shared open/configure logic; users.go,
// vault.go, and history.go implement the stores.
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	// Side-effect import: the driver registers itself with database/sql
	// under the name "sqlite".
	_ "modernc.org/sqlite"

	"github.com/sakif/seriescope/internal/apperror"
)

// open creates a connection pool for one store file and applies the
// pragmas every store needs:
//
//   - journal_mode=WAL     readers don't block during a write
//   - foreign_keys=ON      referential integrity (snapshots → records)
//   - busy_timeout=5000    a writer waiting on another writer retries for
//     up to 5s instead of failing immediately with SQLITE_BUSY; writes to
//     different stores never contend since each store is its own file
//
// Any failure here is wrapped as ErrStorageUnavailable: per the error
// policy, a store that cannot be opened at startup is fatal.
func open(dbPath string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, apperror.StorageUnavailable(fmt.Errorf("opening %s: %w", dbPath, err))
	}

	// Ping forces a real connection so a bad path or a permission problem
	// on the data directory surfaces now, not on the first query.
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, apperror.StorageUnavailable(fmt.Errorf("pinging %s: %w", dbPath, err))
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, apperror.StorageUnavailable(fmt.Errorf("%s on %s: %w", pragma, dbPath, err))
		}
	}

	return conn, nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint
// failure on the given index ("table.column" or a comma-joined list for
// composite constraints). The driver exposes this only through the error
// text, so we match on the stable "UNIQUE constraint failed" prefix SQLite
// has used for decades.
func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, constraint)
}
