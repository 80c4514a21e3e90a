// Package cli implements the binvis command-line interface using Cobra.
// Each subcommand maps to one capability (download, plan, convert, etc.).
package cli

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/binvis/binvis/internal/app"
)

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd := newRootCmd(version)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "binvis",
		Short: "Binance Data Vision archive downloader",
		Long: `binvis mirrors historical market-data archives from Binance Data Vision.
Archives are verified against their published SHA-256 digest, unpacked next to
their remote path, and optionally re-encoded as Feather files. Files that are
already present locally are never fetched again.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	addPersistentFlags(rootCmd)

	rootCmd.AddCommand(
		downloadCmd(version),
		planCmd(),
		convertCmd(),
		symbolsCmd(),
		historyCmd(),
		configCmd(),
	)
	return rootCmd
}

func init() {
	cobra.OnInitialize(initConfig)
}

// configInits counts initConfig runs.
var configInits atomic.Int32

func initConfig() {
	configInits.Add(1)
	viper.SetEnvPrefix("BINVIS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// ─── Configuration Overrides ────────────────────────────────────────────────
// Every flag below overrides one config.toml key. Precedence is
// flag > BINVIS_* env > config file > default.

func addPersistentFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.String("config", "", "config file (default $BINVIS_HOME/config.toml)")
	pf.String("output-dir", "", "root of the local mirror")
	pf.Int("max-concurrent", 0, "simultaneous downloads")
	pf.Int("extract-workers", 0, "archive extraction workers")
	pf.Duration("timeout", 0, "per-request timeout")
	pf.Float64("requests-per-second", 0, "request pacing (0 = unlimited)")
	pf.String("base-url", "", "archive portal base url")
	pf.Bool("to-feather", false, "convert extracted CSV files to Feather")
	pf.Bool("delete-csv", false, "delete CSV files after a successful conversion")
	pf.String("compression", "", "Feather body compression: none, lz4 or zstd")
	pf.String("metrics-addr", "", "serve /metrics and /api/status on this address while downloading")
	pf.Bool("report", false, "record runs in the history database")
	pf.String("log-level", "", "debug, info, warn or error")
	pf.String("log-format", "", "text or json")
	pf.String("log-file", "", "also write logs to this file")

	for _, name := range []string{
		"config", "output-dir", "max-concurrent", "extract-workers", "timeout",
		"requests-per-second", "base-url", "to-feather", "delete-csv", "compression",
		"metrics-addr", "report", "log-level", "log-format", "log-file",
	} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}
}

// loadConfig reads the config file and applies flag and env overrides.
func loadConfig() (app.Config, error) {
	var (
		cfg app.Config
		err error
	)
	if path := viper.GetString("config"); path != "" {
		cfg, err = app.LoadConfigFrom(path)
	} else {
		cfg, err = app.LoadConfig()
	}
	if err != nil {
		return cfg, err
	}

	if viper.IsSet("output-dir") {
		cfg.Download.OutputDir = viper.GetString("output-dir")
	}
	if viper.IsSet("max-concurrent") {
		cfg.Download.MaxConcurrent = viper.GetInt("max-concurrent")
	}
	if viper.IsSet("extract-workers") {
		cfg.Download.ExtractWorkers = viper.GetInt("extract-workers")
	}
	if viper.IsSet("timeout") {
		cfg.Download.Timeout = app.Duration{Duration: viper.GetDuration("timeout")}
	}
	if viper.IsSet("requests-per-second") {
		cfg.Download.RequestsPerSecond = viper.GetFloat64("requests-per-second")
	}
	if viper.IsSet("base-url") {
		cfg.Download.BaseURL = viper.GetString("base-url")
	}
	if viper.IsSet("to-feather") {
		cfg.Convert.Enabled = viper.GetBool("to-feather")
	}
	if viper.IsSet("delete-csv") {
		cfg.Convert.DeleteSource = viper.GetBool("delete-csv")
	}
	if viper.IsSet("compression") {
		cfg.Convert.Compression = viper.GetString("compression")
	}
	if viper.IsSet("metrics-addr") {
		cfg.Telemetry.MetricsAddr = viper.GetString("metrics-addr")
	}
	if viper.IsSet("report") {
		cfg.Report.Enabled = viper.GetBool("report")
	}
	if viper.IsSet("log-level") {
		cfg.Logging.Level = viper.GetString("log-level")
	}
	if viper.IsSet("log-format") {
		cfg.Logging.Format = viper.GetString("log-format")
	}
	if viper.IsSet("log-file") {
		cfg.Logging.File = viper.GetString("log-file")
	}

	return cfg, cfg.Validate()
}

// withApp loads config, builds the logger and the App, and runs fn.
func withApp(cmd *cobra.Command, version string, fn func(a *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	a.SetVersion(version)

	return fn(a)
}
