package driver

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/root-talis/fluentrun/migration"
)

// Driver is the version ledger of one target database together with the
// capability to run a step and its ledger update as a single unit of work.
type Driver interface {
	// ListMigrationsLog returns the full ledger history, oldest entry first.
	ListMigrationsLog(ctx context.Context) ([]migration.Log, error)

	// AppliedVersionsDescending returns currently applied versions, highest first.
	AppliedVersionsDescending(ctx context.Context) ([]migration.Version, error)

	// Migrate runs step in direction dir and records the result in the ledger.
	Migrate(ctx context.Context, mig migration.Migration, dir migration.Direction, step migration.StepFunc) error

	Close() error
}

var (
	ErrInvalidLogTable = errors.New("an error has occurred when reading log table")

	ErrLedger              = errors.New("ledger error")
	ErrAlreadyApplied      = fmt.Errorf("%w: migration is already applied", ErrLedger)
	ErrNotApplied          = fmt.Errorf("%w: migration is not applied", ErrLedger)
	ErrExecution           = errors.New("migration step failed")
	ErrLedgerInconsistency = errors.New("schema change was applied but the ledger was not updated, manual repair required")
)

// AppliedVersions folds a ledger history into the versions currently applied,
// highest first. A version is applied when its latest log entry goes up.
func AppliedVersions(log []migration.Log) []migration.Version {
	last := make(map[migration.Version]migration.Direction, len(log))
	for _, entry := range log {
		last[entry.Version] = entry.Direction
	}

	result := make([]migration.Version, 0, len(last))
	for version, direction := range last {
		if direction == migration.Up {
			result = append(result, version)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i] > result[j]
	})

	return result
}
