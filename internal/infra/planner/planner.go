// Package planner expands a download request into the list of tasks whose
// artifacts are not yet on disk.
//
// The expansion is the cartesian product markets × granularities ×
// categories × identifiers × intervals × period labels, filtered by the
// domain capability table. The filesystem is the only state consulted: a
// task is dropped when any of its artifact siblings already exists.
package planner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/binvis/binvis/internal/domain"
)

// DefaultArtifactExtensions are the sibling forms that mark a task done.
var DefaultArtifactExtensions = []string{".csv", ".feather"}

// Request selects what to plan. Zero-valued slices mean "nothing" except
// Identifiers, where empty means "resolve per market".
type Request struct {
	Markets     []domain.Market
	Categories  []domain.Category
	Identifiers []string
	Intervals   []domain.Interval
	Start       *time.Time
	End         *time.Time
	Granularity domain.GranularitySelector
}

// Plan is the outcome of planning.
type Plan struct {
	Tasks       []domain.Task
	Skipped     int
	Identifiers []string

	// NoIdentifiers is set when resolution produced nothing; Tasks is
	// empty in that case.
	NoIdentifiers bool
}

// Config holds planner settings.
type Config struct {
	OutputDir          string
	ArtifactExtensions []string
}

// Planner implements task expansion.
type Planner struct {
	cfg      Config
	builder  domain.AddressBuilder
	resolver domain.SymbolResolver
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a planner. resolver may be nil if callers always pass
// identifiers.
func New(cfg Config, builder domain.AddressBuilder, resolver domain.SymbolResolver, logger *slog.Logger) *Planner {
	if len(cfg.ArtifactExtensions) == 0 {
		cfg.ArtifactExtensions = DefaultArtifactExtensions
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Planner{
		cfg:      cfg,
		builder:  builder,
		resolver: resolver,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides the time source used for default ranges.
func (p *Planner) SetClock(now func() time.Time) { p.now = now }

// Plan expands req. Only caller configuration mistakes are returned as
// errors; an empty plan is a valid result.
func (p *Planner) Plan(ctx context.Context, req Request) (Plan, error) {
	var plan Plan

	markets := dedupe(req.Markets)
	categories := dedupe(req.Categories)
	intervals := dedupe(req.Intervals)

	ids := dedupe(req.Identifiers)
	if len(ids) == 0 {
		ids = p.resolve(ctx, markets)
		if len(ids) == 0 {
			p.logger.Error("no identifiers found for any selected market")
			plan.NoIdentifiers = true
			return plan, nil
		}
		p.logger.Info("proceeding with resolved identifiers", "count", len(ids))
	}
	plan.Identifiers = ids

	warnedNoInterval := make(map[domain.Category]bool)
	now := p.now()

	for _, market := range markets {
		p.warnUnsupported(market, categories, req.Granularity)

		for _, g := range domain.Granularities(market) {
			if !req.Granularity.Includes(g) {
				continue
			}
			var permitted []domain.Category
			for _, c := range categories {
				if domain.Permits(market, g, c) {
					permitted = append(permitted, c)
				} else {
					p.logger.Debug("category not published", "market", market, "granularity", g, "category", c)
				}
			}
			if len(permitted) == 0 {
				continue
			}

			start, end := ResolveRange(req.Start, req.End, g, now)
			labels := DateLabels(start, end, g)

			for _, c := range permitted {
				axis := []domain.Interval{domain.NoInterval}
				if c.IsBarSeries() {
					if len(intervals) == 0 {
						if !warnedNoInterval[c] {
							p.logger.Warn("bar-series category requested without intervals", "category", c)
							warnedNoInterval[c] = true
						}
						continue
					}
					axis = intervals
				}
				for _, id := range ids {
					for _, iv := range axis {
						for _, label := range labels {
							if err := ctx.Err(); err != nil {
								return plan, err
							}
							task, err := p.task(market, g, c, id, label, iv)
							if err != nil {
								return plan, err
							}
							if p.exists(task) {
								plan.Skipped++
								p.logger.Debug("skipping existing artifact", "path", task.LocalPath)
								continue
							}
							plan.Tasks = append(plan.Tasks, task)
						}
					}
				}
			}
		}
	}

	return plan, nil
}

// task builds one descriptor.
func (p *Planner) task(market domain.Market, g domain.Granularity, c domain.Category, id, label string, iv domain.Interval) (domain.Task, error) {
	addr, err := p.builder.Build(market, c, id, label, iv, g == domain.Monthly)
	if err != nil {
		if errors.Is(err, domain.ErrIntervalRequired) {
			return domain.Task{}, fmt.Errorf("plan %s %s: %w", market, c, err)
		}
		return domain.Task{}, fmt.Errorf("build address: %w", err)
	}
	rel, err := p.builder.Relative(addr)
	if err != nil {
		return domain.Task{}, err
	}
	return domain.Task{
		RemoteAddress: addr,
		Market:        market,
		Identifier:    id,
		Category:      c,
		Granularity:   g,
		PeriodLabel:   label,
		LocalPath:     filepath.Join(p.cfg.OutputDir, filepath.FromSlash(rel)),
		Interval:      iv,
	}, nil
}

// exists reports whether any artifact form of the task is already on disk.
func (p *Planner) exists(t domain.Task) bool {
	for _, ext := range p.cfg.ArtifactExtensions {
		if _, err := os.Stat(t.ArtifactPath(ext)); err == nil {
			return true
		}
	}
	return false
}

// resolve unions identifiers across markets. A failing market contributes
// nothing.
func (p *Planner) resolve(ctx context.Context, markets []domain.Market) []string {
	if p.resolver == nil {
		return nil
	}
	p.logger.Info("no identifiers provided, resolving per market")
	set := make(map[string]struct{})
	for _, m := range markets {
		ids, err := p.resolver.Resolve(ctx, m)
		if err != nil {
			p.logger.Error("symbol resolution failed", "market", m, "error", err)
			continue
		}
		if len(ids) == 0 {
			p.logger.Warn("no identifiers for market", "market", m)
			continue
		}
		for _, id := range ids {
			set[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// warnUnsupported logs once per market for categories no selected
// granularity publishes.
func (p *Planner) warnUnsupported(market domain.Market, categories []domain.Category, sel domain.GranularitySelector) {
	for _, c := range categories {
		supported := false
		for _, g := range domain.Granularities(market) {
			if sel.Includes(g) && domain.Permits(market, g, c) {
				supported = true
				break
			}
		}
		if !supported {
			p.logger.Warn("category unsupported for market", "market", market, "category", c, "granularity", string(sel))
		}
	}
}

func dedupe[T comparable](in []T) []T {
	seen := make(map[T]struct{}, len(in))
	out := make([]T, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
