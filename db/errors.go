package db

import (
	"strings"

	"github.com/linuxautomates/gitsei-sub052/errors"
)

// ErrDatabaseClosed is returned when operations are attempted on a closed database.
// Typically seen during shutdown when workers outlive the connection.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed checks if an error indicates the database connection is closed.
// The driver returns its own error types, so raw messages are matched as a fallback.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}

	return strings.Contains(err.Error(), "database is closed")
}
