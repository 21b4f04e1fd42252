// Package stub generates empty Go migration steps that register themselves
// with the process-wide registry.
package stub

import (
	"bytes"
	"errors"
	"fmt"
	"go/format"
	"go/token"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/root-talis/fluentrun/migration"
)

var (
	ErrTargetDirectoryMissing = errors.New("migrations folder not found")
	ErrInvalidName            = errors.New("invalid migration name")
	ErrStubExists             = errors.New("migration stub already exists")
)

type Stub struct {
	Dir      string
	FileName string
	Package  string
	Version  migration.Version
	Contents []byte
}

func (s Stub) Path() string {
	return filepath.Join(s.Dir, s.FileName)
}

var stubTemplate = template.Must(template.New("stub").Parse(`package {{ .Package }}

import (
	"context"

	"github.com/root-talis/fluentrun/migration"
	"github.com/root-talis/fluentrun/source/registry"
)

func init() {
	registry.Register({{ printf "%q" .Namespace }}, migration.Step{
		Migration: migration.Migration{Version: {{ .Version }}, Name: {{ printf "%q" .Name }}},
		Up: func(ctx context.Context, tx migration.Tx) error {
			return nil
		},
		Down: func(ctx context.Context, tx migration.Tx) error {
			return nil
		},
	})
}
`)) //nolint:gochecknoglobals

// Generate builds the stub for a new step of databaseName. The step lives in
// <migrationsDir>/<lower(databaseName)>, which must already exist, and is
// versioned by now.
func Generate(migrationsDir, databaseName, migrationName string, now time.Time) (Stub, error) {
	namespace := strings.ToLower(strings.TrimSpace(databaseName))
	if namespace == "" || strings.ContainsAny(namespace, `/\`) || namespace == "." || namespace == ".." {
		return Stub{}, fmt.Errorf("%w: database name '%s'", ErrInvalidName, databaseName)
	}

	if err := validateName(migrationName); err != nil {
		return Stub{}, err
	}

	dir := filepath.Join(migrationsDir, namespace)

	stat, err := os.Stat(dir)
	if err != nil || !stat.IsDir() {
		return Stub{}, fmt.Errorf("%w: '%s'. Create it first", ErrTargetDirectoryMissing, dir)
	}

	timestamp := now.Format(migration.VersionLayout)

	version, err := strconv.ParseUint(timestamp, 10, migration.VersionBits)
	if err != nil {
		return Stub{}, fmt.Errorf("failed to derive version from %s: %w", timestamp, err)
	}

	stub := Stub{
		Dir:      dir,
		FileName: fmt.Sprintf("%s_%s_%s.go", timestamp, namespace, migrationName),
		Package:  packageName(namespace),
		Version:  migration.Version(version),
	}

	var buf bytes.Buffer
	err = stubTemplate.Execute(&buf, struct {
		Package   string
		Namespace string
		Version   migration.Version
		Name      string
	}{
		Package:   stub.Package,
		Namespace: namespace,
		Version:   stub.Version,
		Name:      migrationName,
	})
	if err != nil {
		return Stub{}, fmt.Errorf("failed to render migration stub: %w", err)
	}

	if stub.Contents, err = format.Source(buf.Bytes()); err != nil {
		return Stub{}, fmt.Errorf("failed to format migration stub: %w", err)
	}

	return stub, nil
}

// Write creates the stub file. An existing file is never overwritten.
func Write(stub Stub) error {
	file, err := os.OpenFile(stub.Path(), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644) //nolint:gosec
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: %s", ErrStubExists, stub.Path())
	}

	if err != nil {
		return fmt.Errorf("failed to create %s: %w", stub.Path(), err)
	}

	if _, err = file.Write(stub.Contents); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to write %s: %w", stub.Path(), err)
	}

	return file.Close()
}

// ---

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	}

	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return fmt.Errorf("%w: symbol '%c' is not allowed in '%s'", ErrInvalidName, c, name)
		}
	}

	// the go tool would treat the file as a test
	if strings.HasSuffix(strings.ToLower(name), "_test") || strings.EqualFold(name, "test") {
		return fmt.Errorf("%w: '%s' would produce a _test.go file", ErrInvalidName, name)
	}

	return nil
}

// packageName derives a Go package name from a namespace. "main" and Go
// keywords get a suffix so the package stays importable.
func packageName(namespace string) string {
	var b strings.Builder
	for _, c := range namespace {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_':
			b.WriteRune(c)
		default:
			b.WriteRune('_')
		}
	}

	name := b.String()
	if name[0] >= '0' && name[0] <= '9' {
		name = "db" + name
	}

	if name == "main" || token.IsKeyword(name) {
		name += "migrations"
	}

	return name
}
