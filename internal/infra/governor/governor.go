// Package governor runs pipeline executions under a fixed concurrency
// limit and collects one terminal outcome per task.
package governor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/binvis/binvis/internal/domain"
	"github.com/binvis/binvis/internal/infra/metrics"
)

// Processor runs one task to a terminal result.
// Implemented by pipeline.Pipeline.
type Processor interface {
	Process(ctx context.Context, task domain.Task) domain.Result
}

// Config controls governor behavior.
type Config struct {
	MaxConcurrent int // simultaneous pipeline executions (default: 5)
}

// DefaultConfig returns safe defaults.
func DefaultConfig() Config {
	return Config{MaxConcurrent: 5}
}

// Status is a point-in-time view of a running batch.
type Status struct {
	Planned   int64 `json:"planned"`
	Completed int64 `json:"completed"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	InFlight  int64 `json:"in_flight"`
	Bytes     int64 `json:"bytes"`
}

// Governor dispatches tasks to a bounded set of workers. One failing or
// panicking task never affects its siblings.
type Governor struct {
	cfg      Config
	proc     Processor
	logger   *slog.Logger
	onResult func(domain.Result)

	planned, completed, succeeded, failed, inFlight, bytes atomic.Int64
}

// New creates a governor.
func New(cfg Config, proc Processor, logger *slog.Logger) *Governor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Governor{cfg: cfg, proc: proc, logger: logger}
}

// OnResult registers a callback invoked once per terminal result, from the
// collecting goroutine. Must be set before Run.
func (g *Governor) OnResult(fn func(domain.Result)) { g.onResult = fn }

// Status returns live counters for the current or last batch.
func (g *Governor) Status() Status {
	return Status{
		Planned:   g.planned.Load(),
		Completed: g.completed.Load(),
		Succeeded: g.succeeded.Load(),
		Failed:    g.failed.Load(),
		InFlight:  g.inFlight.Load(),
		Bytes:     g.bytes.Load(),
	}
}

// Run executes every task and returns once each has a terminal outcome.
// After ctx is cancelled, tasks not yet started resolve to false with
// ReasonCancelled; in-flight tasks observe ctx themselves.
func (g *Governor) Run(ctx context.Context, tasks []domain.Task) domain.Batch {
	g.reset(len(tasks))
	batch := domain.Batch{
		Outcomes: make(map[string]bool, len(tasks)),
		Results:  make([]domain.Result, 0, len(tasks)),
	}
	if len(tasks) == 0 {
		return batch
	}

	workers := g.cfg.MaxConcurrent
	if workers > len(tasks) {
		workers = len(tasks)
	}

	jobs := make(chan domain.Task)
	results := make(chan domain.Result, workers)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range jobs {
				results <- g.execute(ctx, task)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, task := range tasks {
			jobs <- task
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		batch.Outcomes[res.Task.RemoteAddress] = res.OK
		batch.Results = append(batch.Results, res)
		if g.onResult != nil {
			g.onResult(res)
		}
	}
	return batch
}

// execute runs one task inside its own panic boundary.
func (g *Governor) execute(ctx context.Context, task domain.Task) domain.Result {
	if err := ctx.Err(); err != nil {
		res := domain.Failed(task, domain.ReasonCancelled, err)
		g.record(res)
		return res
	}

	g.inFlight.Add(1)
	metrics.TasksActive.Inc()
	start := time.Now()

	var res domain.Result
	var catcher panics.Catcher
	catcher.Try(func() { res = g.proc.Process(ctx, task) })
	if r := catcher.Recovered(); r != nil {
		g.logger.Error("task panicked", "task", task.RemoteAddress, "panic", r.Value)
		res = domain.Failed(task, domain.ReasonPanic, r.AsError())
	}
	res.Task = task
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}

	metrics.TasksActive.Dec()
	metrics.TaskDuration.Observe(res.Duration.Seconds())
	g.inFlight.Add(-1)
	g.record(res)
	return res
}

func (g *Governor) record(res domain.Result) {
	g.completed.Add(1)
	category := string(res.Task.Category)
	if res.OK {
		g.succeeded.Add(1)
		g.bytes.Add(res.Bytes)
		metrics.TasksCompleted.WithLabelValues(category).Inc()
		return
	}
	g.failed.Add(1)
	metrics.TasksFailed.WithLabelValues(category, string(res.Reason)).Inc()
}

func (g *Governor) reset(planned int) {
	g.planned.Store(int64(planned))
	g.completed.Store(0)
	g.succeeded.Store(0)
	g.failed.Store(0)
	g.inFlight.Store(0)
	g.bytes.Store(0)
}
