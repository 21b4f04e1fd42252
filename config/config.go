// Package config loads the target databases from layered settings files and
// environment variables. Sources are merged in this order, later ones win:
//
//  1. ~/.fluentrun/Secrets/secrets.json (optional)
//  2. appsettings.json in the config directory (required)
//  3. appsettings.<Environment>.json (optional)
//  4. FLUENTRUN_ environment variables, "__" separating nested keys
//
// Databases are read from FluentMigrator.Databases.<Name>.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	EnvPrefix          = "FLUENTRUN"
	DefaultEnvironment = "Production"
	DefaultProvider    = "Postgres"
	DefaultLedgerTable = "migrations_log"

	settingsFile = "appsettings.json"
	databasesKey = "fluentmigrator.databases"
)

var (
	ErrConfiguration = errors.New("configuration error")

	// environment variables consulted after an explicit environment, in order
	environmentVariables = []string{ //nolint:gochecknoglobals
		EnvPrefix + "_ENVIRONMENT",
		"DOTNET_ENVIRONMENT",
		"ASPNETCORE_ENVIRONMENT",
	}
)

// DatabaseTarget is one configured database.
type DatabaseTarget struct {
	Name             string
	Provider         string
	ConnectionString string
	LedgerTable      string
}

// Validate reports settings that make the database unusable. A missing
// connection string only fails the database it belongs to.
func (t DatabaseTarget) Validate() error {
	if strings.TrimSpace(t.ConnectionString) == "" {
		return fmt.Errorf("%w: ConnectionString missing for %s", ErrConfiguration, t.Name)
	}

	return nil
}

type Options struct {
	// Dir holds appsettings.json and its per-environment variants.
	Dir string
	// Environment overrides environment detection when not empty.
	Environment string
	// SecretsFile overrides the user secrets location; empty means the default.
	SecretsFile string
}

type Config struct {
	Environment string
	// Databases in declared order.
	Databases []DatabaseTarget
}

// Names returns the configured database names in declared order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Databases))
	for _, db := range c.Databases {
		names = append(names, db.Name)
	}

	return names
}

// DetectEnvironment returns explicit if set, otherwise the first non-empty
// environment variable of FLUENTRUN_ENVIRONMENT, DOTNET_ENVIRONMENT and
// ASPNETCORE_ENVIRONMENT, otherwise "Production".
func DetectEnvironment(explicit string) string {
	if explicit != "" {
		return explicit
	}

	for _, name := range environmentVariables {
		if value := os.Getenv(name); value != "" {
			return value
		}
	}

	return DefaultEnvironment
}

// DefaultSecretsFile returns ~/.fluentrun/Secrets/secrets.json.
func DefaultSecretsFile() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user home directory: %w", err)
	}

	return filepath.Join(home, ".fluentrun", "Secrets", "secrets.json"), nil
}

// Load merges every configuration source and returns the databases it declares.
func Load(opts Options) (*Config, error) {
	environment := DetectEnvironment(opts.Environment)

	secretsFile := opts.SecretsFile
	if secretsFile == "" {
		// without a home directory there are simply no user secrets
		secretsFile, _ = DefaultSecretsFile()
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	files := []struct {
		path     string
		required bool
	}{
		{path: secretsFile},
		{path: filepath.Join(opts.Dir, settingsFile), required: true},
		{path: filepath.Join(opts.Dir, fmt.Sprintf("appsettings.%s.json", environment))},
	}

	var names nameList
	for _, file := range files {
		if file.path == "" {
			continue
		}

		data, err := os.ReadFile(file.path)
		switch {
		case errors.Is(err, os.ErrNotExist) && !file.required:
			continue
		case err != nil:
			return nil, fmt.Errorf("%w: failed to read %s: %w", ErrConfiguration, file.path, err)
		}

		if err = v.MergeConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("%w: failed to parse %s: %w", ErrConfiguration, file.path, err)
		}

		fileNames, err := databaseNames(data)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse %s: %w", ErrConfiguration, file.path, err)
		}

		names.add(fileNames...)
	}

	names.add(databaseNamesFromEnvironment(os.Environ())...)

	config := &Config{
		Environment: environment,
		Databases:   make([]DatabaseTarget, 0, len(names)),
	}

	for _, name := range names {
		key := databasesKey + "." + strings.ToLower(name)

		target := DatabaseTarget{
			Name:             name,
			Provider:         v.GetString(key + ".provider"),
			ConnectionString: v.GetString(key + ".connectionstring"),
			LedgerTable:      v.GetString(key + ".ledgertable"),
		}

		if target.Provider == "" {
			target.Provider = DefaultProvider
		}

		if target.LedgerTable == "" {
			target.LedgerTable = DefaultLedgerTable
		}

		config.Databases = append(config.Databases, target)
	}

	return config, nil
}

// databaseNamesFromEnvironment finds databases declared only through
// environment variables such as
// FLUENTRUN_FLUENTMIGRATOR__DATABASES__REPORTING__CONNECTIONSTRING.
func databaseNamesFromEnvironment(environ []string) []string {
	prefix := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(databasesKey, ".", "__")) + "__"

	var names []string
	for _, entry := range environ {
		key, _, _ := strings.Cut(entry, "=")
		if !strings.HasPrefix(strings.ToUpper(key), prefix) {
			continue
		}

		name, _, found := strings.Cut(key[len(prefix):], "__")
		if found && name != "" {
			names = append(names, name)
		}
	}

	return names
}

// nameList keeps first-seen order and compares names case-insensitively.
type nameList []string

func (l *nameList) add(names ...string) {
	for _, name := range names {
		if !l.contains(name) {
			*l = append(*l, name)
		}
	}
}

func (l nameList) contains(name string) bool {
	for _, existing := range l {
		if strings.EqualFold(existing, name) {
			return true
		}
	}

	return false
}
