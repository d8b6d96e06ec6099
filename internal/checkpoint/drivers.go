package checkpoint

import (
	"fmt"

	_ "github.com/mattn/go-sqlite3" // registers "sqlite3" (cgo)
	_ "modernc.org/sqlite"          // registers "sqlite" (pure Go)
)

// Supported database/sql driver names.
const (
	DriverSQLite  = "sqlite"
	DriverSQLite3 = "sqlite3"
)

// dataSourceName builds a DSN enabling WAL and a busy timeout. The two
// drivers spell their pragmas differently.
func dataSourceName(driver, path string) (string, error) {
	switch driver {
	case DriverSQLite, "":
		return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path), nil
	case DriverSQLite3:
		return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path), nil
	default:
		return "", fmt.Errorf("unknown sqlite driver %q", driver)
	}
}
