package app

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/binvis/binvis/internal/infra/convert"
	"github.com/binvis/binvis/internal/infra/planner"
	"github.com/binvis/binvis/internal/infra/symbols"
	"github.com/binvis/binvis/internal/infra/vision"
)

// ConfigFileName is the config file inside the binvis home directory.
const ConfigFileName = "config.toml"

// Config holds all binvis configuration.
type Config struct {
	Download  DownloadConfig  `toml:"download" yaml:"download"`
	Convert   ConvertConfig   `toml:"convert" yaml:"convert"`
	Symbols   SymbolsConfig   `toml:"symbols" yaml:"symbols"`
	Telemetry TelemetryConfig `toml:"telemetry" yaml:"telemetry"`
	Report    ReportConfig    `toml:"report" yaml:"report"`
	Logging   LoggingConfig   `toml:"logging" yaml:"logging"`
}

// DownloadConfig controls fetching and the output tree.
type DownloadConfig struct {
	OutputDir          string   `toml:"output_dir" yaml:"output_dir"`
	MaxConcurrent      int      `toml:"max_concurrent" yaml:"max_concurrent"`
	ExtractWorkers     int      `toml:"extract_workers" yaml:"extract_workers"`
	Timeout            Duration `toml:"timeout" yaml:"timeout"`
	RequestsPerSecond  float64  `toml:"requests_per_second" yaml:"requests_per_second"`
	BaseURL            string   `toml:"base_url" yaml:"base_url"`
	ChecksumSuffix     string   `toml:"checksum_suffix" yaml:"checksum_suffix"`
	ArtifactExtensions []string `toml:"artifact_extensions" yaml:"artifact_extensions"`
	UserAgent          string   `toml:"user_agent" yaml:"user_agent"`
}

// ConvertConfig controls CSV to Feather conversion.
type ConvertConfig struct {
	Enabled      bool   `toml:"enabled" yaml:"enabled"`
	DeleteSource bool   `toml:"delete_source" yaml:"delete_source"`
	Compression  string `toml:"compression" yaml:"compression"`
}

// SymbolsConfig controls identifier resolution.
type SymbolsConfig struct {
	Timeout Duration `toml:"timeout" yaml:"timeout"`
	// Endpoints overrides the exchange-info endpoint per market name.
	Endpoints map[string]symbols.Endpoint `toml:"endpoints" yaml:"endpoints,omitempty"`
}

// TelemetryConfig controls the status server.
type TelemetryConfig struct {
	MetricsAddr string `toml:"metrics_addr" yaml:"metrics_addr"`
}

// ReportConfig controls the run history store.
type ReportConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Dir     string `toml:"dir" yaml:"dir"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	File   string `toml:"file" yaml:"file"`
	Format string `toml:"format" yaml:"format"`
}

// Duration is a time.Duration that reads and writes as "300s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	homeDir := binvisHome()
	return Config{
		Download: DownloadConfig{
			OutputDir:          "./downloaded_data",
			MaxConcurrent:      5,
			ExtractWorkers:     runtime.NumCPU(),
			Timeout:            Duration{300 * time.Second},
			BaseURL:            vision.DefaultBaseURL,
			ChecksumSuffix:     vision.DefaultChecksumSuffix,
			ArtifactExtensions: append([]string(nil), planner.DefaultArtifactExtensions...),
			UserAgent:          "binvis",
		},
		Convert: ConvertConfig{
			Compression: convert.CompressionNone,
		},
		Symbols: SymbolsConfig{
			Timeout: Duration{symbols.DefaultTimeout},
		},
		Report: ReportConfig{
			Dir: homeDir,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads $BINVIS_HOME/config.toml, falling back to defaults.
func LoadConfig() (Config, error) {
	return LoadConfigFrom(ConfigPath())
}

// LoadConfigFrom reads config from path. A missing file yields defaults.
func LoadConfigFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Download.ExtractWorkers <= 0 {
		cfg.Download.ExtractWorkers = runtime.NumCPU()
	}
	return cfg, cfg.Validate()
}

// SaveConfig writes cfg to $BINVIS_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	if c.Download.MaxConcurrent <= 0 {
		return fmt.Errorf("download.max_concurrent must be positive, got %d", c.Download.MaxConcurrent)
	}
	if c.Download.RequestsPerSecond < 0 {
		return fmt.Errorf("download.requests_per_second must not be negative")
	}
	switch c.Convert.Compression {
	case "", convert.CompressionNone, convert.CompressionLZ4, convert.CompressionZstd:
	default:
		return fmt.Errorf("convert.compression: unknown codec %q", c.Convert.Compression)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format: unknown format %q", c.Logging.Format)
	}
	return nil
}

// ConfigPath returns the config file location.
func ConfigPath() string {
	return filepath.Join(binvisHome(), ConfigFileName)
}

// binvisHome returns the binvis data directory.
func binvisHome() string {
	if env := os.Getenv("BINVIS_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".binvis")
}

// Home is exported for use by the CLI.
func Home() string {
	return binvisHome()
}
