// Package provider turns a configured database into an open ledger driver.
package provider

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/root-talis/fluentrun/config"
	"github.com/root-talis/fluentrun/driver"
	"github.com/root-talis/fluentrun/driver/mysql"
	"github.com/root-talis/fluentrun/driver/postgres"
	"github.com/root-talis/fluentrun/driver/sqlite"
)

type Kind string

const (
	Postgres Kind = "postgres"
	MySQL    Kind = "mysql"
	SQLite   Kind = "sqlite"
)

var (
	ErrNotSupported = fmt.Errorf("%w: provider not supported", config.ErrConfiguration)
	ErrConnection   = errors.New("failed to connect to database")

	aliases = map[string]Kind{ //nolint:gochecknoglobals
		"postgres":   Postgres,
		"postgresql": Postgres,
		"mysql":      MySQL,
		"mariadb":    MySQL,
		"sqlite":     SQLite,
		"sqlite3":    SQLite,
	}
)

// Resolve maps a configured provider name to a supported kind, ignoring case.
func Resolve(name string) (Kind, error) {
	kind, ok := aliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("%w: '%s'", ErrNotSupported, name)
	}

	return kind, nil
}

// Open validates target, connects to it and returns its ledger driver.
// Closing the driver closes the connection.
func Open(ctx context.Context, target config.DatabaseTarget) (driver.Driver, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	kind, err := Resolve(target.Provider)
	if err != nil {
		return nil, err
	}

	var conn *sql.DB
	var open func(*sql.DB) driver.Driver

	switch kind {
	case Postgres:
		conn, err = sql.Open(postgres.DriverName, target.ConnectionString)
		open = func(conn *sql.DB) driver.Driver {
			return postgres.NewDriver(conn, postgres.DriverConfig{MigrationsTableName: target.LedgerTable})
		}

	case MySQL:
		var dsn *mysqldriver.Config
		dsn, err = mysqlConfig(target.ConnectionString)
		if err != nil {
			return nil, err
		}

		conn, err = sql.Open(mysql.DriverName, dsn.FormatDSN())
		open = func(conn *sql.DB) driver.Driver {
			return mysql.NewDriver(conn, mysql.DriverConfig{
				DatabaseName:        dsn.DBName,
				MigrationsTableName: target.LedgerTable,
			})
		}

	case SQLite:
		conn, err = sqlite.Open(target.ConnectionString)
		open = func(conn *sql.DB) driver.Driver {
			return sqlite.NewDriver(conn, sqlite.DriverConfig{MigrationsTableName: target.LedgerTable})
		}
	}

	if err != nil {
		return nil, fmt.Errorf("%w '%s': %w", ErrConnection, target.Name, err)
	}

	if err = conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w '%s': %w", ErrConnection, target.Name, err)
	}

	return open(conn), nil
}

// mysqlConfig parses a go-sql-driver DSN and enables multi-statement scripts,
// which SQL file steps rely on.
func mysqlConfig(connectionString string) (*mysqldriver.Config, error) {
	dsn, err := mysqldriver.ParseDSN(connectionString)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid mysql connection string: %w", config.ErrConfiguration, err)
	}

	dsn.MultiStatements = true

	return dsn, nil
}
