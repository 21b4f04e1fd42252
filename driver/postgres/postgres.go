package postgres

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/root-talis/fluentrun/driver"
	"github.com/root-talis/fluentrun/driver/sqldriver"
)

// DriverName is the database/sql driver name registered by pgx.
const DriverName = "pgx"

type DriverConfig struct {
	// SchemaName qualifies the ledger table; empty means the search_path default.
	SchemaName          string
	MigrationsTableName string
}

type dialect struct {
	config DriverConfig
}

// NewDriver returns a ledger stored in a PostgreSQL table. PostgreSQL runs DDL
// transactionally, so a step and its ledger entry commit or roll back together.
func NewDriver(conn *sql.DB, config DriverConfig, opts ...sqldriver.Option) driver.Driver {
	return sqldriver.New(conn, dialect{config: config}, opts...)
}

func (dialect) Name() string {
	return "postgres"
}

func (d dialect) EscapedTableName() string {
	if d.config.SchemaName == "" {
		return quoteIdentifier(d.config.MigrationsTableName)
	}

	return quoteIdentifier(d.config.SchemaName) + "." + quoteIdentifier(d.config.MigrationsTableName)
}

func (dialect) CreateTableStatement(escapedTableName string) string {
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s ("+
			"id             bigserial primary key, "+
			"version        bigint not null, "+
			"migration_name varchar(100) null, "+
			"direction      char(1) not null, "+
			"start_time     timestamp default CURRENT_TIMESTAMP not null, "+
			"end_time       timestamp null"+
			")",
		escapedTableName,
	)
}

func (dialect) Placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func (dialect) TransactionalDDL() bool {
	return true
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
