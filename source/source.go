package source

import (
	"errors"
	"fmt"
	"sort"

	"github.com/root-talis/fluentrun/migration"
)

// Source lists the steps known for one database namespace, ascending by version.
type Source interface {
	GetAvailableMigrations() ([]migration.Step, error)
}

var (
	ErrMigrationDuplicated = errors.New("migration version already exists with different name")
)

// ---

type mergedSource struct {
	sources []Source
}

// Merge combines several sources of the same namespace into one. Two steps
// sharing a version are an error, whichever source they come from.
func Merge(sources ...Source) Source {
	return &mergedSource{sources: sources}
}

func (m *mergedSource) GetAvailableMigrations() ([]migration.Step, error) {
	all := make([]migration.Step, 0)

	for _, src := range m.sources {
		steps, err := src.GetAvailableMigrations()
		if err != nil {
			return nil, err
		}

		all = append(all, steps...)
	}

	return Sorted(all)
}

// Sorted orders steps ascending by version and rejects duplicate versions.
func Sorted(steps []migration.Step) ([]migration.Step, error) {
	result := make([]migration.Step, len(steps))
	copy(result, steps)

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Version < result[j].Version
	})

	for i := 1; i < len(result); i++ {
		if result[i].Version == result[i-1].Version {
			return nil, fmt.Errorf(
				"%w: migration %d is defined as \"%s\" and as \"%s\"",
				ErrMigrationDuplicated,
				result[i].Version,
				result[i-1].Name,
				result[i].Name,
			)
		}
	}

	return result, nil
}
