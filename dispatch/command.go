package dispatch

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/root-talis/fluentrun/migration"
)

type Kind int

const (
	Migrate Kind = iota
	Rollback
	RollbackPrevious
	RollbackAll
	Status
	Create
)

var kinds = map[string]Kind{ //nolint:gochecknoglobals
	"migrate":       Migrate,
	"rollback":      Rollback,
	"rollback-prev": RollbackPrevious,
	"rollback-all":  RollbackAll,
	"status":        Status,
	"create":        Create,
}

func (k Kind) String() string {
	for token, kind := range kinds {
		if kind == k {
			return token
		}
	}

	return fmt.Sprintf("Kind(%d)", int(k))
}

// requiresDatabase reports whether the command refuses to run on every database.
func (k Kind) requiresDatabase() bool {
	return k == Rollback || k == RollbackPrevious || k == RollbackAll
}

type Command struct {
	Kind Kind
	// Database is the configured spelling of the selected database; empty
	// selects every configured database. For Create it is taken verbatim.
	Database      string
	TargetVersion *migration.Version
	MigrationName string
}

var (
	ErrUsage          = errors.New("invalid arguments")
	ErrUnknownCommand = fmt.Errorf("%w: unknown command", ErrUsage)
)

// UsageError carries the text shown to the operator. It matches ErrUsage,
// and ErrUnknownCommand as well when the command itself was not recognised.
type UsageError struct {
	Lines          []string
	unknownCommand bool
}

func (e *UsageError) Error() string {
	return strings.Join(e.Lines, "\n")
}

func (e *UsageError) Is(target error) bool {
	return target == ErrUsage || (e.unknownCommand && target == ErrUnknownCommand) //nolint:errorlint
}

// Parse interprets command line arguments against the configured database
// names. Tokens are case-insensitive and an empty argument list means migrate.
func Parse(args []string, databases []string) (Command, error) {
	token := "migrate"
	if len(args) > 0 {
		token = strings.ToLower(args[0])
	}

	kind, ok := kinds[token]
	if !ok {
		return Command{}, &UsageError{
			Lines:          []string{fmt.Sprintf("Unknown command '%s'. Valid: create, migrate, rollback, rollback-prev, rollback-all, status.", token)},
			unknownCommand: true,
		}
	}

	cmd := Command{Kind: kind}

	if kind == Create {
		if len(args) < 3 {
			return cmd, &UsageError{Lines: []string{"Usage: create <DatabaseName> <MigrationName>"}}
		}

		cmd.Database = args[1]
		cmd.MigrationName = args[2]

		return cmd, nil
	}

	rest := args
	if len(rest) > 0 {
		rest = rest[1:]
	}

	if len(rest) > 0 {
		name, found := lo.Find(databases, func(db string) bool {
			return strings.EqualFold(db, rest[0])
		})

		switch {
		case found:
			cmd.Database = name
			rest = rest[1:]
		case !kind.requiresDatabase():
			return cmd, &UsageError{Lines: []string{
				fmt.Sprintf("Unknown database '%s'.", rest[0]),
				validDatabases(databases),
			}}
		}
	}

	if kind.requiresDatabase() && cmd.Database == "" {
		return cmd, &UsageError{Lines: []string{commandUsage(kind), validDatabases(databases)}}
	}

	if kind == Rollback {
		if len(rest) > 0 {
			if version, err := strconv.ParseUint(rest[0], 10, migration.VersionBits); err == nil {
				target := migration.Version(version)
				cmd.TargetVersion = &target
			}
		}

		if cmd.TargetVersion == nil {
			return cmd, &UsageError{Lines: []string{commandUsage(kind)}}
		}
	}

	return cmd, nil
}

func commandUsage(kind Kind) string {
	if kind == Rollback {
		return fmt.Sprintf("Usage: %s <DatabaseName> <Version>", kind)
	}

	return fmt.Sprintf("Usage: %s <DatabaseName>", kind)
}

func validDatabases(databases []string) string {
	return "Valid DatabaseName values: " + strings.Join(databases, ", ")
}
