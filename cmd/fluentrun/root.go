package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/root-talis/fluentrun/config"
	"github.com/root-talis/fluentrun/dispatch"
	"github.com/root-talis/fluentrun/provider"
	"github.com/root-talis/fluentrun/source/registry"
)

type RunConfig struct {
	ConfigDir     string `mapstructure:"config-dir"`
	Environment   string `mapstructure:"environment"`
	MigrationsDir string `mapstructure:"migrations-dir"`
	LogLevel      string `mapstructure:"log-level"`
	LogFormat     string `mapstructure:"log-format"`
}

const (
	exitFailure = 1
	exitUsage   = 2
)

// exitError carries the process exit status of a failed run.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

var errDatabasesFailed = errors.New("one or more databases failed")

var vipRoot *viper.Viper

var rootCmd = &cobra.Command{
	Use:   "fluentrun [command] [database] [arguments]",
	Short: "Applies and reverts versioned schema migrations across several databases",
	Long: `fluentrun tracks which migrations have been applied to each configured database
and applies or reverts them.

Commands:
  migrate [database]               apply pending migrations (default)
  rollback <database> <version>    revert migrations above version
  rollback-prev <database>         revert the most recent migration
  rollback-all <database>          revert every migration
  status [database]                show applied, pending and missing migrations
  create <database> <name>         generate an empty Go migration`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	flags := []pflag.Flag{
		{Name: "config-dir", DefValue: defaultConfigDir(), Usage: "Directory holding appsettings.json"},
		{Name: "environment", Usage: "Environment name selecting appsettings.<environment>.json"},
		{Name: "migrations-dir", DefValue: "migrations", Usage: "Directory holding one migrations folder per database"},
		{Name: "log-level", DefValue: "info", Usage: "Log level: debug, info, warn or error"},
		{Name: "log-format", DefValue: "text", Usage: "Log format: text or json"},
	}

	vipRoot = viper.New()
	vipRoot.SetEnvPrefix(config.EnvPrefix)
	vipRoot.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	vipRoot.AutomaticEnv()

	for _, flag := range flags {
		rootCmd.Flags().String(flag.Name, flag.DefValue, flag.Usage)
		_ = vipRoot.BindPFlag(flag.Name, rootCmd.Flags().Lookup(flag.Name))
	}
}

func run(cmd *cobra.Command, args []string) error {
	var runConfig RunConfig
	if err := vipRoot.Unmarshal(&runConfig); err != nil {
		return &exitError{code: exitUsage, err: err}
	}

	logger, err := initLogger(runConfig.LogLevel, runConfig.LogFormat, cmd.ErrOrStderr())
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}

	var cfg config.Config
	if !isCreate(args) {
		loaded, err := config.Load(config.Options{
			Dir:         runConfig.ConfigDir,
			Environment: runConfig.Environment,
		})
		if err != nil {
			return &exitError{code: exitFailure, err: err}
		}

		cfg = *loaded
		logger.Debug("configuration loaded", "environment", cfg.Environment, "databases", cfg.Names())
	}

	command, err := dispatch.Parse(args, cfg.Names())
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}

	dispatcher := &dispatch.Dispatcher{
		Targets:       cfg.Databases,
		Connect:       provider.Open,
		Sources:       dispatch.DefaultSources(registry.Default(), runConfig.MigrationsDir),
		Namespaces:    registry.Default().Namespaces(),
		MigrationsDir: runConfig.MigrationsDir,
		Now:           time.Now,
		Out:           cmd.OutOrStdout(),
		Err:           cmd.ErrOrStderr(),
		Logger:        logger,
	}

	summary := dispatcher.Run(cmd.Context(), command)
	if summary.Failed() {
		// failures have been reported by the dispatcher already
		return &exitError{code: exitFailure, err: errDatabasesFailed}
	}

	return nil
}

func isCreate(args []string) bool {
	return len(args) > 0 && strings.EqualFold(args[0], "create")
}

// defaultConfigDir prefers the executable's directory when it holds the
// settings file, and the working directory otherwise.
func defaultConfigDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}

	dir := filepath.Dir(exe)
	if _, err = os.Stat(filepath.Join(dir, "appsettings.json")); err != nil {
		return "."
	}

	return dir
}

func exitCode(err error) int {
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}

	// cobra flag parsing errors
	return exitUsage
}

func reportError(err error) {
	if errors.Is(err, errDatabasesFailed) {
		return
	}

	fmt.Fprintln(rootCmd.ErrOrStderr(), err)
}
