// Package dispatch runs one parsed command against the configured databases.
// Databases are processed one at a time in declared order, and a failing
// database never stops the next one.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/root-talis/fluentrun"
	"github.com/root-talis/fluentrun/config"
	"github.com/root-talis/fluentrun/driver"
	"github.com/root-talis/fluentrun/migration"
	"github.com/root-talis/fluentrun/source"
	"github.com/root-talis/fluentrun/source/files"
	"github.com/root-talis/fluentrun/source/registry"
	"github.com/root-talis/fluentrun/stub"
)

// Connector opens the ledger of one database.
type Connector func(ctx context.Context, target config.DatabaseTarget) (driver.Driver, error)

// SourceFactory builds the steps of one database.
type SourceFactory func(target config.DatabaseTarget) (source.Source, error)

type Dispatcher struct {
	Targets []config.DatabaseTarget
	Connect Connector
	Sources SourceFactory
	// Namespaces with registered steps; those without a configured database are reported.
	Namespaces    []string
	MigrationsDir string
	Now           func() time.Time
	Out           io.Writer
	Err           io.Writer
	Logger        *slog.Logger
}

type Result struct {
	Database   string
	Report     *fluentrun.Report
	Validation *fluentrun.ValidationResult
	Err        error
}

type Summary struct {
	Results []Result
	// Stub and Err are set by Create only.
	Stub *stub.Stub
	Err  error
}

// Failed reports whether any database or the stub generation failed.
func (s Summary) Failed() bool {
	return s.Err != nil || lo.SomeBy(s.Results, func(r Result) bool {
		return r.Err != nil
	})
}

func (d *Dispatcher) Run(ctx context.Context, cmd Command) Summary {
	if cmd.Kind == Create {
		return d.create(cmd)
	}

	d.warnAboutUnconfiguredNamespaces()

	targets := lo.Filter(d.Targets, func(target config.DatabaseTarget, _ int) bool {
		return cmd.Database == "" || strings.EqualFold(target.Name, cmd.Database)
	})

	var summary Summary
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			summary.Results = append(summary.Results, Result{Database: target.Name, Err: err})
			continue
		}

		result := d.runOne(ctx, cmd, target)
		if result.Err != nil {
			d.logger().Error("database failed", "database", target.Name, "command", cmd.Kind.String(), "error", result.Err)
			fmt.Fprintf(d.Err, "Error: '%s' failed: %s\n", target.Name, result.Err)

			if fluentrun.IsLedgerInconsistency(result.Err) {
				fmt.Fprintf(d.Err, "The ledger of '%s' no longer matches its schema and needs manual repair.\n", target.Name)
			}
		}

		summary.Results = append(summary.Results, result)
	}

	return summary
}

// ---

func (d *Dispatcher) runOne(ctx context.Context, cmd Command, target config.DatabaseTarget) (result Result) {
	result.Database = target.Name

	src, err := d.Sources(target)
	if err != nil {
		result.Err = fmt.Errorf("failed to load migrations: %w", err)
		return result
	}

	drv, err := d.Connect(ctx, target)
	if err != nil {
		result.Err = err
		return result
	}

	defer func() {
		if err := drv.Close(); err != nil {
			d.logger().Warn("failed to close connection", "database", target.Name, "error", err)
		}
	}()

	migrator := fluentrun.New(src, drv, fluentrun.WithLogger(d.logger().With("database", target.Name)))

	switch cmd.Kind {
	case Migrate:
		fmt.Fprintf(d.Out, "\n→ Applying migrations for '%s'...\n", target.Name)
		result.Report, result.Err = migrator.Migrate(ctx)

	case Rollback:
		fmt.Fprintf(d.Out, "\n→ Rolling back '%s' to %d...\n", target.Name, *cmd.TargetVersion)
		result.Report, result.Err = migrator.RollbackTo(ctx, *cmd.TargetVersion)

	case RollbackPrevious:
		applied, err := drv.AppliedVersionsDescending(ctx)
		if err != nil {
			result.Err = fmt.Errorf("failed to get the list of applied migrations: %w", err)
			return result
		}

		if len(applied) < 2 {
			fmt.Fprintf(d.Out, "No previous migration to roll back for '%s'.\n", target.Name)
			result.Report = &fluentrun.Report{Direction: migration.Down, NothingToRollBack: true}
			return result
		}

		fmt.Fprintf(d.Out, "\n→ Rolling back '%s' to previous version %d...\n", target.Name, applied[1])
		result.Report, result.Err = migrator.RollbackPrevious(ctx)

	case RollbackAll:
		fmt.Fprintf(d.Out, "\n→ Rolling back all migrations for '%s'...\n", target.Name)
		result.Report, result.Err = migrator.RollbackAll(ctx)

	case Status:
		fmt.Fprintf(d.Out, "\n→ Migration status for '%s':\n", target.Name)
		result.Validation, result.Err = migrator.Validate(ctx)
		if result.Err == nil {
			d.printStatus(result.Validation)
		}
	}

	if result.Report != nil {
		d.printReport(result.Report)
	}

	return result
}

func (d *Dispatcher) printReport(report *fluentrun.Report) {
	verb := "applied"
	if report.Direction == migration.Down {
		verb = "reverted"
	}

	if len(report.Executed) == 0 {
		fmt.Fprintf(d.Out, "Nothing %s.\n", verb)
		return
	}

	for _, mig := range report.Executed {
		fmt.Fprintf(d.Out, "  %s %d %s\n", verb, mig.Version, mig.Name)
	}
}

func (d *Dispatcher) printStatus(result *fluentrun.ValidationResult) {
	for _, state := range result.Migrations {
		appliedAt := ""
		if !state.AppliedAt.IsZero() {
			appliedAt = state.AppliedAt.Format(time.RFC3339)
		}

		fmt.Fprintf(d.Out, "  %d  %-8s %-25s %s\n", state.Version, state.Status, appliedAt, state.Name)
	}

	fmt.Fprintf(d.Out, "%d applied, %d pending, %d missing.\n", result.AppliedCount, result.PendingCount, result.MissingCount)
}

func (d *Dispatcher) create(cmd Command) Summary {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}

	s, err := stub.Generate(d.MigrationsDir, cmd.Database, cmd.MigrationName, now())
	if err == nil {
		err = stub.Write(s)
	}

	if err != nil {
		fmt.Fprintf(d.Err, "Error: %s\n", err)
		return Summary{Err: err}
	}

	fmt.Fprintf(d.Out, "Created migration stub: %s\n", s.Path())

	return Summary{Stub: &s}
}

func (d *Dispatcher) warnAboutUnconfiguredNamespaces() {
	for _, namespace := range d.Namespaces {
		configured := lo.ContainsBy(d.Targets, func(target config.DatabaseTarget) bool {
			return strings.EqualFold(target.Name, namespace)
		})

		if !configured {
			d.logger().Warn("migrations are registered for a database that is not configured", "namespace", namespace)
		}
	}
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}

	return d.Logger
}

// ---

// DefaultSources combines the Go steps registered for a database's namespace
// with the SQL steps found in <migrationsDir>/<namespace>, when that folder exists.
func DefaultSources(reg *registry.Registry, migrationsDir string) SourceFactory {
	return func(target config.DatabaseTarget) (source.Source, error) {
		namespace := strings.ToLower(target.Name)
		sources := []source.Source{reg.Source(namespace)}

		stat, err := os.Stat(filepath.Join(migrationsDir, namespace))
		switch {
		case errors.Is(err, os.ErrNotExist):
			return source.Merge(sources...), nil
		case err != nil:
			return nil, fmt.Errorf("failed to read migrations folder: %w", err)
		case !stat.IsDir():
			return source.Merge(sources...), nil
		}

		sqlSource, err := files.NewFilesSource(os.DirFS(migrationsDir), namespace)
		if err != nil {
			return nil, err
		}

		return source.Merge(append(sources, sqlSource)...), nil
	}
}
