package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Task describes one archive to fetch. Planner-created, read-only afterwards.
type Task struct {
	RemoteAddress string      `json:"remote_address" yaml:"remote_address"`
	Market        Market      `json:"market" yaml:"market"`
	Identifier    string      `json:"identifier" yaml:"identifier"`
	Category      Category    `json:"category" yaml:"category"`
	Granularity   Granularity `json:"granularity" yaml:"granularity"`
	PeriodLabel   string      `json:"period_label" yaml:"period_label"`
	LocalPath     string      `json:"local_path" yaml:"local_path"`
	Interval      Interval    `json:"interval,omitempty" yaml:"interval,omitempty"`
}

// HasInterval reports whether the task carries a bar interval.
func (t Task) HasInterval() bool { return t.Interval != NoInterval }

// Validate checks that the interval is present exactly for bar-series
// categories.
func (t Task) Validate() error {
	if t.Category.IsBarSeries() && !t.HasInterval() {
		return fmt.Errorf("%s: %w", t.Category, ErrIntervalRequired)
	}
	if !t.Category.IsBarSeries() && t.HasInterval() {
		return fmt.Errorf("%s does not take an interval (got %s)", t.Category, t.Interval)
	}
	return nil
}

// ArtifactPath returns LocalPath with its extension replaced by ext.
func (t Task) ArtifactPath(ext string) string {
	return ReplaceExt(t.LocalPath, ext)
}

// ReplaceExt swaps the final extension of path for ext.
func ReplaceExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// ─── Outcomes ───────────────────────────────────────────────────────────────

// FailureReason classifies why a task resolved to false.
type FailureReason string

const (
	ReasonNone                FailureReason = ""
	ReasonNotFound            FailureReason = "not_found"
	ReasonHTTPStatus          FailureReason = "http_status"
	ReasonTransport           FailureReason = "transport"
	ReasonChecksumUnavailable FailureReason = "checksum_unavailable"
	ReasonChecksumMismatch    FailureReason = "checksum_mismatch"
	ReasonExtract             FailureReason = "extract"
	ReasonIO                  FailureReason = "io"
	ReasonCancelled           FailureReason = "cancelled"
	ReasonPanic               FailureReason = "panic"
)

// Result is the terminal state of one task.
type Result struct {
	Task      Task          `json:"task"`
	OK        bool          `json:"ok"`
	Reason    FailureReason `json:"reason,omitempty"`
	Error     string        `json:"error,omitempty"`
	Bytes     int64         `json:"bytes"`
	Extracted []string      `json:"extracted,omitempty"`
	Converted int           `json:"converted"`
	Duration  time.Duration `json:"duration"`
}

// Failed builds a failed Result for t.
func Failed(t Task, reason FailureReason, err error) Result {
	r := Result{Task: t, Reason: reason}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Batch is what the governor returns once every task is terminal.
// Outcomes is keyed by remote address; a duplicated address keeps the
// last result.
type Batch struct {
	Outcomes map[string]bool
	Results  []Result
}

// Succeeded counts true outcomes.
func (b Batch) Succeeded() int {
	n := 0
	for _, ok := range b.Outcomes {
		if ok {
			n++
		}
	}
	return n
}

// Total returns the number of distinct remote addresses.
func (b Batch) Total() int { return len(b.Outcomes) }

// Bytes sums downloaded archive bytes over successful results.
func (b Batch) Bytes() int64 {
	var n int64
	for _, r := range b.Results {
		if r.OK {
			n += r.Bytes
		}
	}
	return n
}

// ─── Run Report ─────────────────────────────────────────────────────────────

// RunStatus separates the ways a batch can end.
type RunStatus string

const (
	RunCompleted     RunStatus = "completed"
	RunUpToDate      RunStatus = "up_to_date"
	RunNoIdentifiers RunStatus = "no_identifiers"
	RunInterrupted   RunStatus = "interrupted"
)

// RunReport summarizes one invocation of the downloader.
type RunReport struct {
	ID         string          `json:"id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Status     RunStatus       `json:"status"`
	Planned    int             `json:"planned"`
	Skipped    int             `json:"skipped"`
	Succeeded  int             `json:"succeeded"`
	Failed     int             `json:"failed"`
	Bytes      int64           `json:"bytes"`
	Outcomes   map[string]bool `json:"-"`
	Results    []Result        `json:"-"`
}
