package shared

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// DriverFor maps a database URL to the registered database/sql driver name.
// postgres:// and postgresql:// select pgx, mysql:// selects the MySQL
// driver (with the scheme stripped, since that driver takes a bare DSN), and
// anything else is treated as a SQLite path.
func DriverFor(url string) (driver, dsn string, err error) {
	switch {
	case url == "":
		return "", "", ErrMissingDSN
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return "pgx", url, nil
	case strings.HasPrefix(url, "mysql://"):
		return "mysql", strings.TrimPrefix(url, "mysql://"), nil
	case strings.HasPrefix(url, "sqlite://"):
		return "sqlite3", strings.TrimPrefix(url, "sqlite://"), nil
	case strings.Contains(url, "://"):
		return "", "", fmt.Errorf("%w: %s", ErrUnknownDriver, url)
	default:
		return "sqlite3", url, nil
	}
}

// NewDatabase opens a connection to the database identified by the given
// URL, selecting the driver from the URL scheme.
// Returns an open database connection or an error if connection fails.
func NewDatabase(url string) (*sql.DB, error) {
	driver, dsn, err := DriverFor(url)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// ConfigureDatabase sets connection pool settings for the database.
// Recommended for production use to limit connections and improve performance.
func ConfigureDatabase(db *sql.DB, maxOpenConns, maxIdleConns int) {
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
}
