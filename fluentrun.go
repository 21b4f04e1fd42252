package fluentrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/root-talis/fluentrun/driver"
	"github.com/root-talis/fluentrun/migration"
	"github.com/root-talis/fluentrun/source"
)

// ---

// Migrator runs the steps of one database against that database's ledger.
type Migrator interface {
	Validate(ctx context.Context) (*ValidationResult, error)

	// Migrate applies every pending step, ascending.
	Migrate(ctx context.Context) (*Report, error)
	// Upgrade applies pending steps with versions up to maxVersion, ascending.
	Upgrade(ctx context.Context, maxVersion migration.Version) (*Report, error)

	// RollbackTo reverts applied steps with versions above toVersion, descending.
	RollbackTo(ctx context.Context, toVersion migration.Version) (*Report, error)
	// RollbackPrevious reverts the most recently applied step only.
	RollbackPrevious(ctx context.Context) (*Report, error)
	RollbackAll(ctx context.Context) (*Report, error)
}

type ValidationResult struct {
	Migrations   []migration.State
	AppliedCount uint
	PendingCount uint
	MissingCount uint
}

// Report describes what a command did. On failure it still lists the steps
// that completed before the failing one.
type Report struct {
	Direction         migration.Direction
	Target            migration.Version
	Executed          []migration.Migration
	NothingToRollBack bool
}

var (
	ErrMissingMigrations = fmt.Errorf("%w: applied migrations are missing from the registry", driver.ErrLedger)
)

// ---

type Option func(*migrator)

func WithLogger(logger *slog.Logger) Option {
	return func(m *migrator) {
		m.logger = logger
	}
}

// Observer is notified around every executed step.
type Observer interface {
	StepStarted(step migration.Migration, dir migration.Direction)
	StepFinished(step migration.Migration, dir migration.Direction, elapsed time.Duration, err error)
}

func WithObserver(observer Observer) Option {
	return func(m *migrator) {
		m.observer = observer
	}
}

type migrator struct {
	source   source.Source
	driver   driver.Driver
	logger   *slog.Logger
	observer Observer
}

func New(source source.Source, driver driver.Driver, opts ...Option) Migrator {
	m := &migrator{
		source: source,
		driver: driver,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// ---

func (m *migrator) Validate(ctx context.Context) (*ValidationResult, error) {
	availableMigrations, err := m.source.GetAvailableMigrations()
	if err != nil {
		return nil, fmt.Errorf("failed to get the list of available migrations: %w", err)
	}

	appliedMigrations, err := m.loadMigrationsStateFromDB(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get the list of applied migrations: %w", err)
	}

	result := ValidationResult{
		Migrations: make([]migration.State, 0, len(availableMigrations)),
	}

	available := make(map[migration.Version]bool, len(availableMigrations))
	for _, availableMigration := range availableMigrations {
		available[availableMigration.Version] = true

		entry, ok := appliedMigrations[availableMigration.Version]

		status := migration.Pending
		if ok {
			status = entry.Status
		}

		if status == migration.Pending {
			result.PendingCount++
		} else {
			result.AppliedCount++
		}

		result.Migrations = append(result.Migrations, migration.State{
			Description: availableMigration.Description(),
			Status:      status,
			AppliedAt:   entry.AppliedAt,
		})
	}

	for _, applied := range appliedMigrations {
		if available[applied.Version] || applied.Status != migration.Applied {
			continue
		}

		applied.Description.CanUndo = false

		result.Migrations = append(result.Migrations, migration.State{
			Description: applied.Description,
			Status:      migration.Missing,
			AppliedAt:   applied.AppliedAt,
		})
		result.MissingCount++
	}

	sort.Slice(result.Migrations, func(i, j int) bool {
		return result.Migrations[i].Version < result.Migrations[j].Version
	})

	return &result, nil
}

func (m *migrator) Migrate(ctx context.Context) (*Report, error) {
	return m.Upgrade(ctx, migration.Latest)
}

func (m *migrator) Upgrade(ctx context.Context, maxVersion migration.Version) (*Report, error) {
	report := &Report{Direction: migration.Up, Target: maxVersion}

	steps, applied, err := m.loadStepsAndAppliedVersions(ctx)
	if err != nil {
		return report, err
	}

	isApplied := lo.SliceToMap(applied, func(v migration.Version) (migration.Version, bool) {
		return v, true
	})

	pending := lo.Filter(steps, func(step migration.Step, _ int) bool {
		return !isApplied[step.Version] && step.Version <= maxVersion
	})

	if len(pending) == 0 {
		m.logger.Info("no pending migrations", "applied", len(applied))
		return report, nil
	}

	for _, step := range pending {
		if err = m.run(ctx, step, migration.Up, step.Up); err != nil {
			return report, err
		}

		report.Executed = append(report.Executed, step.Migration)
	}

	return report, nil
}

func (m *migrator) RollbackTo(ctx context.Context, toVersion migration.Version) (*Report, error) {
	report := &Report{Direction: migration.Down, Target: toVersion}

	steps, applied, err := m.loadStepsAndAppliedVersions(ctx)
	if err != nil {
		return report, err
	}

	return report, m.revert(ctx, report, steps, applied, toVersion)
}

func (m *migrator) RollbackPrevious(ctx context.Context) (*Report, error) {
	report := &Report{Direction: migration.Down}

	steps, applied, err := m.loadStepsAndAppliedVersions(ctx)
	if err != nil {
		return report, err
	}

	if len(applied) < 2 {
		report.NothingToRollBack = true
		return report, nil
	}

	report.Target = applied[1]

	return report, m.revert(ctx, report, steps, applied, report.Target)
}

func (m *migrator) RollbackAll(ctx context.Context) (*Report, error) {
	return m.RollbackTo(ctx, 0)
}

// ---

// revert walks applied versions highest first, stopping at toVersion.
func (m *migrator) revert(
	ctx context.Context,
	report *Report,
	steps []migration.Step,
	applied []migration.Version,
	toVersion migration.Version,
) error {
	byVersion := lo.KeyBy(steps, func(step migration.Step) migration.Version {
		return step.Version
	})

	toRevert := lo.Filter(applied, func(v migration.Version, _ int) bool {
		return v > toVersion
	})

	if len(toRevert) == 0 {
		m.logger.Info("nothing to roll back", "target", toVersion)
		return nil
	}

	for _, version := range toRevert {
		step := byVersion[version]

		if err := m.run(ctx, step, migration.Down, step.Down); err != nil {
			return err
		}

		report.Executed = append(report.Executed, step.Migration)
	}

	return nil
}

func (m *migrator) run(ctx context.Context, step migration.Step, dir migration.Direction, fn migration.StepFunc) error {
	logger := m.logger.With("version", uint64(step.Version), "name", step.Name, "direction", dir.String())

	if m.observer != nil {
		m.observer.StepStarted(step.Migration, dir)
	}

	logger.Info("running migration")
	startedAt := time.Now()

	err := m.driver.Migrate(ctx, step.Migration, dir, fn)
	elapsed := time.Since(startedAt)

	if m.observer != nil {
		m.observer.StepFinished(step.Migration, dir, elapsed, err)
	}

	if err != nil {
		logger.Error("migration failed", "error", err, "elapsed", elapsed)
		return fmt.Errorf("migration %d (%s) %s failed: %w", step.Version, step.Name, dir, err)
	}

	logger.Info("migration done", "elapsed", elapsed)

	return nil
}

// loadStepsAndAppliedVersions reads the registry and the ledger and refuses to
// continue when the ledger mentions versions the registry does not know.
func (m *migrator) loadStepsAndAppliedVersions(ctx context.Context) ([]migration.Step, []migration.Version, error) {
	steps, err := m.source.GetAvailableMigrations()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get the list of available migrations: %w", err)
	}

	applied, err := m.driver.AppliedVersionsDescending(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get the list of applied migrations: %w", err)
	}

	known := lo.SliceToMap(steps, func(step migration.Step) (migration.Version, bool) {
		return step.Version, true
	})

	missing := lo.Filter(applied, func(v migration.Version, _ int) bool {
		return !known[v]
	})

	if len(missing) > 0 {
		return nil, nil, fmt.Errorf("%w: %v", ErrMissingMigrations, missing)
	}

	return steps, applied, nil
}

func (m *migrator) loadMigrationsStateFromDB(ctx context.Context) (map[migration.Version]migration.State, error) {
	migrations, err := m.driver.ListMigrationsLog(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations from db: %w", err)
	}

	result := make(map[migration.Version]migration.State, len(migrations))
	for _, mig := range migrations {
		var status migration.Status
		var appliedAt time.Time

		switch mig.Direction {
		case migration.Up:
			status = migration.Applied
			appliedAt = mig.AppliedAt
		case migration.Down:
			status = migration.Pending
		}

		result[mig.Version] = migration.State{
			Description: migration.Description{
				Migration: mig.Migration,
				CanUndo:   false,
			},
			Status:    status,
			AppliedAt: appliedAt,
		}
	}

	return result, nil
}

// IsLedgerInconsistency reports whether err needs manual repair of the ledger.
func IsLedgerInconsistency(err error) bool {
	return errors.Is(err, driver.ErrLedgerInconsistency)
}
