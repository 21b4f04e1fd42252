package stub_test

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root-talis/fluentrun/migration"
	"github.com/root-talis/fluentrun/stub"
)

var now = time.Date(2024, 3, 7, 14, 5, 9, 0, time.Local) //nolint:gochecknoglobals

func migrationsDir(t *testing.T, databases ...string) string {
	t.Helper()

	dir := t.TempDir()
	for _, db := range databases {
		require.NoError(t, os.Mkdir(filepath.Join(dir, db), 0o755))
	}

	return dir
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	dir := migrationsDir(t, "orders")

	s, err := stub.Generate(dir, "Orders", "AddCustomerIndex", now)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "orders"), s.Dir)
	assert.Equal(t, "20240307140509_orders_AddCustomerIndex.go", s.FileName)
	assert.Equal(t, filepath.Join(dir, "orders", "20240307140509_orders_AddCustomerIndex.go"), s.Path())
	assert.Equal(t, "orders", s.Package)
	assert.Equal(t, migration.Version(20240307140509), s.Version)

	contents := string(s.Contents)
	assert.Contains(t, contents, "package orders\n")
	assert.Contains(t, contents, `registry.Register("orders", migration.Step{`)
	assert.Contains(t, contents, `migration.Migration{Version: 20240307140509, Name: "AddCustomerIndex"}`)

	file, err := parser.ParseFile(token.NewFileSet(), s.FileName, s.Contents, parser.AllErrors)
	require.NoError(t, err)
	assert.Equal(t, "orders", file.Name.Name)
}

var packageNameTestTable = []struct { //nolint:gochecknoglobals
	database string
	expected string
}{
	/* s0 */ {database: "Main", expected: "mainmigrations"},
	/* s1 */ {database: "2fa", expected: "db2fa"},
	/* s2 */ {database: "type", expected: "typemigrations"},
	/* s3 */ {database: "my-db", expected: "my_db"},
	/* s4 */ {database: "Billing", expected: "billing"},
}

func TestGenerateProducesImportablePackages(t *testing.T) {
	t.Parallel()

	for _, test := range packageNameTestTable {
		dir := migrationsDir(t, strings.ToLower(test.database))

		s, err := stub.Generate(dir, test.database, "Init", now)
		require.NoError(t, err, test.database)

		assert.Equal(t, test.expected, s.Package, test.database)

		file, err := parser.ParseFile(token.NewFileSet(), s.FileName, s.Contents, parser.PackageClauseOnly)
		require.NoError(t, err, test.database)
		assert.Equal(t, test.expected, file.Name.Name, test.database)
	}
}

var generateErrorsTestTable = []struct { //nolint:gochecknoglobals
	name          string
	database      string
	migrationName string
	expectedError error
}{
	/* e0 */ {
		name:          "test e0: missing database folder",
		database:      "Reporting",
		migrationName: "Init",
		expectedError: stub.ErrTargetDirectoryMissing,
	},
	/* e1 */ {
		name:          "test e1: empty migration name",
		database:      "Orders",
		expectedError: stub.ErrInvalidName,
	},
	/* e2 */ {
		name:          "test e2: path separator in migration name",
		database:      "Orders",
		migrationName: "../escape",
		expectedError: stub.ErrInvalidName,
	},
	/* e3 */ {
		name:          "test e3: name producing a test file",
		database:      "Orders",
		migrationName: "users_test",
		expectedError: stub.ErrInvalidName,
	},
	/* e4 */ {
		name:          "test e4: path separator in database name",
		database:      "orders/../../etc",
		migrationName: "Init",
		expectedError: stub.ErrInvalidName,
	},
	/* e5 */ {
		name:          "test e5: whitespace in migration name",
		database:      "Orders",
		migrationName: "add users",
		expectedError: stub.ErrInvalidName,
	},
}

func TestGenerateErrors(t *testing.T) {
	t.Parallel()

	dir := migrationsDir(t, "orders")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "reporting"), nil, 0o600))

	for _, test := range generateErrorsTestTable {
		_, err := stub.Generate(dir, test.database, test.migrationName, now)
		assert.ErrorIs(t, err, test.expectedError, test.name)
	}
}

func TestWriteRefusesToOverwrite(t *testing.T) {
	t.Parallel()

	dir := migrationsDir(t, "orders")

	s, err := stub.Generate(dir, "orders", "Init", now)
	require.NoError(t, err)

	require.NoError(t, stub.Write(s))

	written, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, s.Contents, written)

	s.Contents = []byte("package orders\n")
	assert.ErrorIs(t, stub.Write(s), stub.ErrStubExists)

	written, err = os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.NotEqual(t, s.Contents, written)
}
