package app

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/binvis/binvis/internal/api"
	"github.com/binvis/binvis/internal/domain"
	"github.com/binvis/binvis/internal/health"
	"github.com/binvis/binvis/internal/infra/metrics"
	"github.com/binvis/binvis/internal/infra/planner"
)

// Plan expands req without touching the network beyond symbol resolution.
func (a *App) Plan(ctx context.Context, req planner.Request) (planner.Plan, error) {
	return a.Planner.Plan(ctx, req)
}

// Download plans req, runs every surviving task and returns the run report.
// An error means the batch never started; per-task failures are reported
// through the report's outcomes.
func (a *App) Download(ctx context.Context, req planner.Request) (domain.RunReport, error) {
	report := domain.RunReport{
		ID:        uuid.NewString(),
		StartedAt: a.now().UTC(),
	}

	plan, err := a.Planner.Plan(ctx, req)
	if err != nil {
		return report, fmt.Errorf("plan: %w", err)
	}
	report.Skipped = plan.Skipped
	metrics.TasksSkipped.Add(float64(plan.Skipped))

	switch {
	case plan.NoIdentifiers:
		report.Status = domain.RunNoIdentifiers
	case len(plan.Tasks) == 0:
		a.Logger.Warn("no new files to download", "skipped", plan.Skipped)
		report.Status = domain.RunUpToDate
	default:
		report.Planned = len(plan.Tasks)
		metrics.TasksPlanned.Add(float64(report.Planned))
		a.Logger.Info("starting download", "tasks", report.Planned, "skipped", plan.Skipped,
			"max_concurrent", a.Config.Download.MaxConcurrent)

		stop := a.startStatusServer(ctx)
		batch := a.Governor.Run(ctx, plan.Tasks)
		stop()

		report.Outcomes = batch.Outcomes
		report.Results = batch.Results
		report.Succeeded = batch.Succeeded()
		report.Failed = batch.Total() - report.Succeeded
		report.Bytes = batch.Bytes()
		report.Status = domain.RunCompleted
		if ctx.Err() != nil {
			report.Status = domain.RunInterrupted
		}

		a.Logger.Info(fmt.Sprintf("download completed: %d/%d successful", report.Succeeded, batch.Total()),
			"failed", report.Failed, "bytes", humanize.Bytes(uint64(report.Bytes)), "status", report.Status)
	}

	report.FinishedAt = a.now().UTC()
	a.record(report)
	return report, nil
}

// startStatusServer runs the status server and its health checks for the
// duration of a batch when an address is configured. A bind failure is
// logged and the batch proceeds.
func (a *App) startStatusServer(ctx context.Context) func() {
	addr := a.Config.Telemetry.MetricsAddr
	if addr == "" {
		return func() {}
	}

	// A nil *sqlite.DB must not reach NewChecker as a non-nil Pinger.
	var checker *health.Checker
	if a.Reports != nil {
		checker = health.NewChecker(a.Config.Download.OutputDir, a.Reports)
	} else {
		checker = health.NewChecker(a.Config.Download.OutputDir, nil)
	}

	srv := api.NewServer(a.Governor, a.version, a.Logger.With("component", "api"))
	srv.SetHealth(checker)
	_, stopServer, err := srv.Start(addr)
	if err != nil {
		a.Logger.Error("status server not started", "addr", addr, "error", err)
		return func() {}
	}

	checkCtx, cancel := context.WithCancel(ctx)
	go checker.Run(checkCtx)

	return func() {
		cancel()
		stopServer()
	}
}

func (a *App) record(report domain.RunReport) {
	if a.Reports == nil {
		return
	}
	if err := a.Reports.RecordRun(report); err != nil {
		a.Logger.Error("record run", "run", report.ID, "error", err)
		return
	}
	a.Logger.Debug("run recorded", "run", report.ID)
}
