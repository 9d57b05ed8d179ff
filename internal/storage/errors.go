// internal/storage/errors.go
package storage

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"syscall"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"mcp-meal-vision/internal/failure"
)

// mapError converts driver failures into the store's raw failure types.
// Anything it does not recognise is returned unchanged.
func mapError(err error, permission string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return &failure.StoreUnavailable{Err: err}
	}
	if errors.Is(err, syscall.ENOSPC) {
		return &failure.StorageFullError{Err: err}
	}

	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}

	// Extended result codes keep the primary code in the low byte.
	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_CANTOPEN,
		sqlite3.SQLITE_IOERR, sqlite3.SQLITE_PROTOCOL:
		return &failure.StoreUnavailable{Err: err}
	case sqlite3.SQLITE_FULL:
		return &failure.StorageFullError{Err: err}
	case sqlite3.SQLITE_PERM, sqlite3.SQLITE_AUTH, sqlite3.SQLITE_READONLY:
		return &failure.StoreAccessDenied{Permissions: []string{permission}, Err: err}
	}
	return err
}
