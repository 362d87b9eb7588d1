package commands

import (
	"database/sql"

	"github.com/linuxautomates/gitsei-sub052/am"
	"github.com/linuxautomates/gitsei-sub052/db"
	"github.com/linuxautomates/gitsei-sub052/errors"
	"github.com/linuxautomates/gitsei-sub052/logger"
)

// dbPath overrides the configured database path for every command
var dbPath string

// openDatabase opens and migrates the database at path.
// If path is empty, it is taken from am config.
func openDatabase(path string) (*sql.DB, error) {
	if path == "" {
		configured, err := am.GetDatabasePath()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get database path")
		}
		if configured == "" {
			path = "etl.db"
		} else {
			path = configured
		}
	}

	database, err := db.OpenWithMigrations(path, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", path)
	}
	return database, nil
}
