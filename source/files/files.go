// Package files reads SQL migration steps from a directory. A step consists
// of V<version>_<name>.up.sql and an optional V<version>_<name>.down.sql,
// where version is a 14-digit timestamp.
package files

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strconv"
	"strings"
	"unicode"

	"github.com/root-talis/fluentrun/migration"
	"github.com/root-talis/fluentrun/source"
)

const (
	versionLength = 14

	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

var (
	ErrMigrationsDirectoryIsNotADirectory = errors.New("migrations directory is not a directory")
	ErrMissingUpScript                    = errors.New("migration has a down script but no up script")
)

type filesSource struct {
	fs            fs.FS
	migrationsDir string
	namespace     string
}

// NewFilesSource returns a source reading dir inside fsys. The directory must exist.
func NewFilesSource(fsys fs.FS, dir string) (source.Source, error) {
	stat, err := fs.Stat(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat migrations directory: %w", err)
	}

	if !stat.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrMigrationsDirectoryIsNotADirectory, dir)
	}

	return &filesSource{
		fs:            fsys,
		migrationsDir: dir,
		namespace:     strings.ToLower(path.Base(dir)),
	}, nil
}

func (src *filesSource) GetAvailableMigrations() ([]migration.Step, error) {
	dirEntries, err := fs.ReadDir(src.fs, src.migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read contents of migrations directory: %w", err)
	}

	// find all suitable scripts and pair up/down files by version
	scripts := make(scriptMap)
	for _, entry := range dirEntries {
		if entry.IsDir() || !entry.Type().IsRegular() {
			continue
		}

		fileName := entry.Name()

		var direction migration.Direction
		switch {
		case strings.HasSuffix(fileName, upSuffix):
			direction = migration.Up
		case strings.HasSuffix(fileName, downSuffix):
			direction = migration.Down
		default:
			continue
		}

		mig, err := getValidMigrationFromFileName(fileName)
		if err != nil {
			continue
		}

		if err = scripts.add(mig, direction, path.Join(src.migrationsDir, fileName)); err != nil {
			return nil, fmt.Errorf("failed to parse directory entries: %w", err)
		}
	}

	steps := make([]migration.Step, 0, len(scripts))
	for _, script := range scripts {
		if script.up == "" {
			return nil, fmt.Errorf("%w: %d (%s)", ErrMissingUpScript, script.Version, script.Name)
		}

		step := migration.Step{
			Migration: script.Migration,
			Namespace: src.namespace,
			Up:        src.execFile(script.up),
		}
		if script.down != "" {
			step.Down = src.execFile(script.down)
		}

		steps = append(steps, step)
	}

	return source.Sorted(steps)
}

// execFile reads the script when the step runs, so listing stays cheap.
func (src *filesSource) execFile(filePath string) migration.StepFunc {
	return func(ctx context.Context, tx migration.Tx) error {
		script, err := fs.ReadFile(src.fs, filePath)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", filePath, err)
		}

		if strings.TrimSpace(string(script)) == "" {
			return nil
		}

		if _, err = tx.ExecContext(ctx, string(script)); err != nil {
			return fmt.Errorf("failed to execute %s: %w", filePath, err)
		}

		return nil
	}
}

// ---

type script struct {
	migration.Migration
	up   string
	down string
}

type scriptMap map[migration.Version]*script

func (m scriptMap) add(mig migration.Migration, direction migration.Direction, filePath string) error {
	existing, exists := m[mig.Version]

	switch {
	case !exists:
		existing = &script{Migration: mig}
		m[mig.Version] = existing

	case existing.Name != mig.Name:
		return fmt.Errorf(
			"%w: migration %d already exists with name \"%s\" (new name \"%s\" is encountered)",
			source.ErrMigrationDuplicated,
			mig.Version,
			existing.Name,
			mig.Name,
		)
	}

	if direction == migration.Up {
		existing.up = filePath
	} else {
		existing.down = filePath
	}

	return nil
}

func getValidMigrationFromFileName(fileName string) (migration.Migration, error) {
	if !strings.HasPrefix(fileName, "V") {
		return migration.Migration{}, fmt.Errorf("migration file name is invalid: %s", fileName)
	}

	migrationFullName := strings.TrimPrefix(fileName, "V")
	migrationFullName = strings.TrimSuffix(migrationFullName, upSuffix)
	migrationFullName = strings.TrimSuffix(migrationFullName, downSuffix)

	asRunes := []rune(migrationFullName)

	if len(asRunes) < versionLength+2 {
		return migration.Migration{}, fmt.Errorf("migration file name is too short to be valid: %s", fileName)
	}

	version := asRunes[:versionLength]

	for _, c := range version {
		if !unicode.IsDigit(c) {
			return migration.Migration{}, fmt.Errorf(
				"migration file name does not contain a valid version (symbol \"%c\" is not allowed): %s",
				c,
				fileName,
			)
		}
	}

	versionAsInt, err := strconv.ParseUint(string(version), 10, migration.VersionBits)
	if err != nil {
		return migration.Migration{}, fmt.Errorf("migration file name does not contain a valid version: %s", fileName)
	}

	nameAsRunes := asRunes[versionLength:]
	if nameAsRunes[0] != '_' {
		return migration.Migration{}, fmt.Errorf(
			"migration file is missing an underscore after version (%c given): %s",
			nameAsRunes[0],
			fileName,
		)
	}

	return migration.Migration{
		Version: migration.Version(versionAsInt),
		Name:    string(nameAsRunes[1:]),
	}, nil
}
