package mysql

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql" // registers the "mysql" database/sql driver

	"github.com/root-talis/fluentrun/driver"
	"github.com/root-talis/fluentrun/driver/sqldriver"
)

// DriverName is the database/sql driver name registered by go-sql-driver/mysql.
const DriverName = "mysql"

type DriverConfig struct {
	// DatabaseName qualifies the ledger table; empty means the connection's default schema.
	DatabaseName        string
	MigrationsTableName string
}

type dialect struct {
	config DriverConfig
}

// NewDriver returns a ledger stored in a MySQL or MariaDB table.
// DDL statements commit implicitly there, so a failed ledger write after a
// successful step is reported as driver.ErrLedgerInconsistency.
func NewDriver(conn *sql.DB, config DriverConfig, opts ...sqldriver.Option) driver.Driver {
	return sqldriver.New(conn, dialect{config: config}, opts...)
}

func (dialect) Name() string {
	return "mysql"
}

func (d dialect) EscapedTableName() string {
	if d.config.DatabaseName == "" {
		return fmt.Sprintf("`%s`", escapeMysqlString(d.config.MigrationsTableName))
	}

	return fmt.Sprintf(
		"`%s`.`%s`",
		escapeMysqlString(d.config.DatabaseName),
		escapeMysqlString(d.config.MigrationsTableName),
	)
}

func (dialect) CreateTableStatement(escapedTableName string) string {
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s ("+
			"id             int not null auto_increment, "+
			"version        bigint, "+
			"migration_name varchar(100) null, "+
			"direction      char(1) null, "+ // "u" or "d"
			"start_time     datetime default CURRENT_TIMESTAMP not null, "+
			"end_time       datetime null, "+
			"primary key (id)"+
			") default charset utf8",
		escapedTableName,
	)
}

func (dialect) Placeholder(int) string {
	return "?"
}

func (dialect) TransactionalDDL() bool {
	return false
}

// originally from https://gist.github.com/siddontang/8875771
func escapeMysqlString(sql string) string { //nolint:cyclop
	const prealloc = 2
	dest := make([]rune, 0, prealloc*len(sql))

	for _, character := range sql {
		var escape rune

		switch character {
		case 0:
			escape = '0'
		case '\n':
			escape = 'n'
		case '\r':
			escape = 'r'
		case '\\':
			escape = '\\'
		case '\'':
			escape = '\''
		case '"':
			escape = '"'
		case '`':
			escape = '`'
		case '\032':
			escape = 'Z'
		}

		if escape != 0 {
			dest = append(dest, '\\', escape)
		} else {
			dest = append(dest, character)
		}
	}

	return string(dest)
}
