package provider_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root-talis/fluentrun/config"
	"github.com/root-talis/fluentrun/provider"
)

var resolveTestTable = []struct { //nolint:gochecknoglobals
	name          string
	expected      provider.Kind
	expectedError error
}{
	/* s0 */ {name: "Postgres", expected: provider.Postgres},
	/* s1 */ {name: "postgresql", expected: provider.Postgres},
	/* s2 */ {name: "MySql", expected: provider.MySQL},
	/* s3 */ {name: "MariaDB", expected: provider.MySQL},
	/* s4 */ {name: "SQLite", expected: provider.SQLite},
	/* s5 */ {name: " sqlite3 ", expected: provider.SQLite},
	/* e0 */ {name: "SqlServer", expectedError: provider.ErrNotSupported},
	/* e1 */ {name: "", expectedError: provider.ErrNotSupported},
}

func TestResolve(t *testing.T) {
	t.Parallel()

	for _, test := range resolveTestTable {
		kind, err := provider.Resolve(test.name)

		if test.expectedError != nil {
			assert.ErrorIs(t, err, test.expectedError, test.name)
			assert.ErrorIs(t, err, config.ErrConfiguration, test.name)
			continue
		}

		assert.NoError(t, err, test.name)
		assert.Equal(t, test.expected, kind, test.name)
	}
}

var openErrorsTestTable = []struct { //nolint:gochecknoglobals
	name          string
	target        config.DatabaseTarget
	expectedError error
}{
	/* e0 */ {
		name:          "test e0: unsupported provider fails before connecting",
		target:        config.DatabaseTarget{Name: "Main", Provider: "Oracle", ConnectionString: "oracle://nowhere"},
		expectedError: provider.ErrNotSupported,
	},
	/* e1 */ {
		name:          "test e1: missing connection string",
		target:        config.DatabaseTarget{Name: "Main", Provider: "Postgres"},
		expectedError: config.ErrConfiguration,
	},
	/* e2 */ {
		name:          "test e2: malformed mysql connection string",
		target:        config.DatabaseTarget{Name: "Main", Provider: "MySql", ConnectionString: "not a dsn"},
		expectedError: config.ErrConfiguration,
	},
	/* e3 */ {
		name: "test e3: unreachable database",
		target: config.DatabaseTarget{
			Name:             "Main",
			Provider:         "Sqlite",
			ConnectionString: "file:/nonexistent-dir/fluentrun/db.sqlite?mode=ro",
			LedgerTable:      config.DefaultLedgerTable,
		},
		expectedError: provider.ErrConnection,
	},
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()

	for _, test := range openErrorsTestTable {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			drv, err := provider.Open(context.Background(), test.target)
			assert.Nil(t, drv)
			assert.ErrorIs(t, err, test.expectedError)
		})
	}
}

func TestOpenSqlite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	target := config.DatabaseTarget{
		Name:             "Local",
		Provider:         "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "local.db"),
		LedgerTable:      "custom_log",
	}

	drv, err := provider.Open(ctx, target)
	require.NoError(t, err)

	log, err := drv.ListMigrationsLog(ctx)
	assert.NoError(t, err)
	assert.Empty(t, log)

	assert.NoError(t, drv.Close())
}
