// Package sqldriver implements the migrations ledger on top of database/sql.
// Engine specifics (DDL, quoting, placeholders) come from a Dialect.
package sqldriver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/root-talis/fluentrun/driver"
	"github.com/root-talis/fluentrun/migration"
)

type Dialect interface {
	// Name is used in error messages only.
	Name() string

	// EscapedTableName is the fully qualified, quoted ledger table name.
	EscapedTableName() string

	CreateTableStatement(escapedTableName string) string

	// Placeholder returns the bind parameter for the n-th argument, starting at 1.
	Placeholder(n int) string

	// TransactionalDDL reports whether schema changes are rolled back together
	// with the surrounding transaction.
	TransactionalDDL() bool
}

type sqlDriver struct {
	conn    *sql.DB
	dialect Dialect
	now     func() time.Time
	ready   bool
}

// ---

type Option func(*sqlDriver)

// WithClock overrides the clock used for ledger timestamps.
func WithClock(now func() time.Time) Option {
	return func(drv *sqlDriver) {
		drv.now = now
	}
}

func New(conn *sql.DB, dialect Dialect, opts ...Option) driver.Driver {
	drv := &sqlDriver{
		conn:    conn,
		dialect: dialect,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(drv)
	}

	return drv
}

// ---

func (drv *sqlDriver) ListMigrationsLog(ctx context.Context) ([]migration.Log, error) {
	tableName := drv.dialect.EscapedTableName()

	if err := drv.ensureMigrationsTableExists(ctx, tableName); err != nil {
		return nil, fmt.Errorf("failed to list migrations log: %w", err)
	}

	rows, err := drv.conn.QueryContext(ctx, fmt.Sprintf(
		"SELECT version, migration_name, direction, start_time FROM %s ORDER BY id",
		tableName,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations log: %w", err)
	}
	defer rows.Close()

	return fetchMigrationsLog(rows)
}

func (drv *sqlDriver) AppliedVersionsDescending(ctx context.Context) ([]migration.Version, error) {
	log, err := drv.ListMigrationsLog(ctx)
	if err != nil {
		return nil, err
	}

	return driver.AppliedVersions(log), nil
}

func (drv *sqlDriver) Migrate(
	ctx context.Context,
	mig migration.Migration,
	dir migration.Direction,
	step migration.StepFunc,
) error {
	tableName := drv.dialect.EscapedTableName()

	if err := drv.ensureMigrationsTableExists(ctx, tableName); err != nil {
		return fmt.Errorf("failed to prepare migration %d: %w", mig.Version, err)
	}

	tx, err := drv.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for migration %d: %w", mig.Version, err)
	}

	if err = drv.checkLedgerState(ctx, tx, tableName, mig, dir); err != nil {
		return rollback(tx, err)
	}

	startedAt := drv.now().UTC().Truncate(time.Second)

	if step == nil {
		return rollback(tx, fmt.Errorf("%w: migration %d (%s) has no %s step", driver.ErrExecution, mig.Version, mig.Name, dir))
	}

	if err = step(ctx, tx); err != nil {
		return rollback(tx, fmt.Errorf("%w: migration %d (%s) %s: %w", driver.ErrExecution, mig.Version, mig.Name, dir, err))
	}

	if err = drv.appendLog(ctx, tx, tableName, mig, dir, startedAt); err != nil {
		return rollback(tx, fmt.Errorf("%w: migration %d (%s) %s: %w", drv.ledgerWriteError(), mig.Version, mig.Name, dir, err))
	}

	if err = tx.Commit(); err != nil {
		commitErr := driver.ErrExecution
		if !drv.dialect.TransactionalDDL() {
			commitErr = driver.ErrLedgerInconsistency
		}

		return fmt.Errorf("%w: failed to commit migration %d (%s) %s: %w", commitErr, mig.Version, mig.Name, dir, err)
	}

	return nil
}

func (drv *sqlDriver) Close() error {
	return drv.conn.Close()
}

// ---

// ledgerWriteError classifies a failed log insert. Without transactional DDL
// the step's schema change has already been committed implicitly.
func (drv *sqlDriver) ledgerWriteError() error {
	if drv.dialect.TransactionalDDL() {
		return driver.ErrLedger
	}

	return driver.ErrLedgerInconsistency
}

func (drv *sqlDriver) checkLedgerState(
	ctx context.Context,
	tx *sql.Tx,
	tableName string,
	mig migration.Migration,
	dir migration.Direction,
) error {
	var direction string

	err := tx.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT direction FROM %s WHERE version = %s ORDER BY id DESC LIMIT 1",
		tableName,
		drv.dialect.Placeholder(1),
	), int64(mig.Version)).Scan(&direction)

	applied := false

	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("%w: failed to read ledger state of migration %d: %w", driver.ErrLedger, mig.Version, err)
	default:
		parsed, err := parseDirection(direction)
		if err != nil {
			return err
		}
		applied = parsed == migration.Up
	}

	switch {
	case dir == migration.Up && applied:
		return fmt.Errorf("%w: %d (%s)", driver.ErrAlreadyApplied, mig.Version, mig.Name)
	case dir == migration.Down && !applied:
		return fmt.Errorf("%w: %d (%s)", driver.ErrNotApplied, mig.Version, mig.Name)
	}

	return nil
}

func (drv *sqlDriver) appendLog(
	ctx context.Context,
	tx *sql.Tx,
	tableName string,
	mig migration.Migration,
	dir migration.Direction,
	startedAt time.Time,
) error {
	placeholders := make([]string, 0, 5)
	for i := 1; i <= 5; i++ {
		placeholders = append(placeholders, drv.dialect.Placeholder(i))
	}

	_, err := tx.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (version, migration_name, direction, start_time, end_time) VALUES (%s)",
		tableName,
		strings.Join(placeholders, ", "),
	),
		int64(mig.Version),
		mig.Name,
		string(dir),
		startedAt,
		drv.now().UTC().Truncate(time.Second),
	)

	return err
}

func (drv *sqlDriver) ensureMigrationsTableExists(ctx context.Context, escapedTableName string) error {
	if drv.ready {
		return nil
	}

	_, err := drv.conn.ExecContext(ctx, drv.dialect.CreateTableStatement(escapedTableName))
	if err != nil {
		return fmt.Errorf("failed to create migrations table %s in %s: %w", escapedTableName, drv.dialect.Name(), err)
	}

	drv.ready = true

	return nil
}

// ---

func fetchMigrationsLog(rows *sql.Rows) ([]migration.Log, error) {
	result := make([]migration.Log, 0)
	for rows.Next() {
		var log migration.Log
		var version int64
		var name sql.NullString
		var direction string
		var appliedAt interface{}

		err := rows.Scan(
			&version,
			&name,
			&direction,
			&appliedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", driver.ErrInvalidLogTable, err)
		}

		log.Version = migration.Version(version)
		log.Name = name.String

		log.Direction, err = parseDirection(direction)
		if err != nil {
			return nil, err
		}

		log.AppliedAt = parseTimestamp(appliedAt)

		result = append(result, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", driver.ErrInvalidLogTable, err)
	}

	return result, nil
}

func parseDirection(direction string) (migration.Direction, error) {
	switch strings.ToLower(strings.TrimSpace(direction)) {
	case "u":
		return migration.Up, nil
	case "d":
		return migration.Down, nil
	default:
		return 0, fmt.Errorf("%w: direction \"%s\" is unknown", driver.ErrInvalidLogTable, direction)
	}
}

var timestampLayouts = []string{ //nolint:gochecknoglobals
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	time.RFC3339Nano,
}

// parseTimestamp accepts whatever the engine's driver hands back for a
// datetime column. Unparseable values yield the zero time.
func parseTimestamp(value interface{}) time.Time {
	var text string

	switch v := value.(type) {
	case time.Time:
		return v.UTC()
	case []byte:
		text = string(v)
	case string:
		text = v
	default:
		return time.Time{}
	}

	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, text); err == nil {
			return parsed.UTC()
		}
	}

	return time.Time{}
}

func rollback(tx *sql.Tx, err error) error {
	if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
		return fmt.Errorf("%w (also failed to roll back transaction: %v)", err, rbErr)
	}

	return err
}
