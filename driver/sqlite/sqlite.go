package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/root-talis/fluentrun/driver"
	"github.com/root-talis/fluentrun/driver/sqldriver"
)

// DriverName is the database/sql driver name registered by modernc.org/sqlite.
const DriverName = "sqlite"

type DriverConfig struct {
	MigrationsTableName string
}

type dialect struct {
	config DriverConfig
}

func NewDriver(conn *sql.DB, config DriverConfig, opts ...sqldriver.Option) driver.Driver {
	return sqldriver.New(conn, dialect{config: config}, opts...)
}

// Open opens a SQLite database limited to a single connection, which keeps
// ":memory:" databases alive and serialises writers.
func Open(dsn string) (*sql.DB, error) {
	conn, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	conn.SetMaxOpenConns(1)

	return conn, nil
}

func (dialect) Name() string {
	return "sqlite"
}

func (d dialect) EscapedTableName() string {
	return `"` + strings.ReplaceAll(d.config.MigrationsTableName, `"`, `""`) + `"`
}

func (dialect) CreateTableStatement(escapedTableName string) string {
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s ("+
			"id             integer primary key autoincrement, "+
			"version        integer not null, "+
			"migration_name text null, "+
			"direction      text not null, "+
			"start_time     datetime default CURRENT_TIMESTAMP not null, "+
			"end_time       datetime null"+
			")",
		escapedTableName,
	)
}

func (dialect) Placeholder(int) string {
	return "?"
}

func (dialect) TransactionalDDL() bool {
	return true
}
