// Package app provides application-layer orchestration services.
// It wires domain logic with infrastructure, never the reverse.
package app

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/binvis/binvis/internal/domain"
	"github.com/binvis/binvis/internal/infra/convert"
	"github.com/binvis/binvis/internal/infra/governor"
	"github.com/binvis/binvis/internal/infra/pipeline"
	"github.com/binvis/binvis/internal/infra/planner"
	"github.com/binvis/binvis/internal/infra/sqlite"
	"github.com/binvis/binvis/internal/infra/symbols"
	"github.com/binvis/binvis/internal/infra/vision"
)

// App is the binvis runtime. It wires together all services.
type App struct {
	Config    Config
	Logger    *slog.Logger
	Builder   *vision.Builder
	Resolver  *symbols.Resolver
	Planner   *planner.Planner
	Extractor *pipeline.ExtractPool
	Converter *convert.Converter // nil unless conversion is enabled
	Pipeline  *pipeline.Pipeline
	Governor  *governor.Governor
	Reports   *sqlite.DB // nil unless the report store is enabled

	version string
	now     func() time.Time
}

// New creates an App with the given configuration.
func New(cfg Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	builder, err := vision.NewBuilder(cfg.Download.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("base url: %w", err)
	}

	resolver, err := newResolver(cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Builder:  builder,
		Resolver: resolver,
		version:  "dev",
		now:      time.Now,
	}

	a.Planner = planner.New(planner.Config{
		OutputDir:          cfg.Download.OutputDir,
		ArtifactExtensions: cfg.Download.ArtifactExtensions,
	}, builder, resolver, logger.With("component", "planner"))

	var conv domain.Converter
	if cfg.Convert.Enabled {
		a.Converter, err = NewConverter(cfg.Convert, logger)
		if err != nil {
			return nil, err
		}
		conv = a.Converter
	}

	a.Extractor = pipeline.NewExtractPool(cfg.Download.ExtractWorkers)
	a.Pipeline = pipeline.New(pipeline.Config{
		Timeout:           cfg.Download.Timeout.Duration,
		RequestsPerSecond: cfg.Download.RequestsPerSecond,
		ChecksumSuffix:    cfg.Download.ChecksumSuffix,
		UserAgent:         cfg.Download.UserAgent,
		ConvertExtension:  convert.SourceExt,
	}, a.Extractor, conv, logger.With("component", "pipeline"))

	a.Governor = governor.New(governor.Config{
		MaxConcurrent: cfg.Download.MaxConcurrent,
	}, a.Pipeline, logger.With("component", "governor"))

	if cfg.Report.Enabled {
		db, err := sqlite.Open(cfg.Report.Dir)
		if err != nil {
			a.Extractor.Close()
			return nil, fmt.Errorf("open report store: %w", err)
		}
		a.Reports = db
	}

	return a, nil
}

// SetVersion sets the version reported by the status server.
func (a *App) SetVersion(v string) { a.version = v }

// SetClock overrides the time source for run timestamps and default ranges.
func (a *App) SetClock(now func() time.Time) {
	a.now = now
	a.Planner.SetClock(now)
}

// Close releases the extraction workers and the report store.
func (a *App) Close() {
	a.Extractor.Close()
	if a.Reports != nil {
		_ = a.Reports.Close()
	}
}

// NewConverter builds a converter from the [convert] section.
func NewConverter(cfg ConvertConfig, logger *slog.Logger) (*convert.Converter, error) {
	conv, err := convert.New(convert.Options{
		DeleteSource: cfg.DeleteSource,
		Compression:  cfg.Compression,
	}, logger.With("component", "convert"))
	if err != nil {
		return nil, fmt.Errorf("converter: %w", err)
	}
	return conv, nil
}

func newResolver(cfg Config, logger *slog.Logger) (*symbols.Resolver, error) {
	opts := []symbols.Option{symbols.WithUserAgent(cfg.Download.UserAgent)}
	for name, ep := range cfg.Symbols.Endpoints {
		m, err := domain.ParseMarket(strings.TrimSpace(name))
		if err != nil {
			return nil, fmt.Errorf("symbols.endpoints: %w", err)
		}
		opts = append(opts, symbols.WithEndpoint(m, ep))
	}
	return symbols.NewResolver(cfg.Symbols.Timeout.Duration, logger.With("component", "symbols"), opts...), nil
}
