package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/binvis/binvis/internal/infra/governor"
)

// ─── Progress Bar ───────────────────────────────────────────────────────────
// A terminal progress line for a download batch.
// Shows: [============>.................]  42% | 126/300 | 3 failed | 1.2 GB | 45 MB/s | ETA 35s

const barWidth = 30 // Characters for the progress bar

type progressBar struct {
	mu      sync.Mutex
	out     io.Writer
	started time.Time
	now     func() time.Time
	drawn   bool
}

func newProgressBar(out io.Writer) *progressBar {
	return &progressBar{out: out, started: time.Now(), now: time.Now}
}

// update redraws the line from a status snapshot. Safe to call from the
// governor's result callback.
func (p *progressBar) update(st governor.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	clearLine(p.out)
	fmt.Fprint(p.out, p.render(st, p.now()))
	p.drawn = true
}

// finish ends the line so later output starts on a fresh row.
func (p *progressBar) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drawn {
		fmt.Fprintln(p.out)
		p.drawn = false
	}
}

func (p *progressBar) render(st governor.Status, now time.Time) string {
	pct := 0.0
	if st.Planned > 0 {
		pct = float64(st.Completed) / float64(st.Planned) * 100
	}
	if pct > 100 {
		pct = 100
	}

	elapsed := now.Sub(p.started)
	return fmt.Sprintf("  %s %3.0f%% | %d/%d | %d failed | %s | %s | %s",
		bar(pct), pct, st.Completed, st.Planned, st.Failed,
		humanize.Bytes(uint64(st.Bytes)), speed(st.Bytes, elapsed), eta(pct, elapsed))
}

// bar builds [=======>............].
func bar(pct float64) string {
	filled := int(pct / 100 * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}
	empty := barWidth - filled

	switch {
	case filled == barWidth:
		return "[" + strings.Repeat("=", filled) + "]"
	case filled > 0:
		return "[" + strings.Repeat("=", filled-1) + ">" + strings.Repeat(".", empty) + "]"
	default:
		return "[" + strings.Repeat(".", barWidth) + "]"
	}
}

func speed(bytes int64, elapsed time.Duration) string {
	if elapsed < 500*time.Millisecond {
		return "-- B/s"
	}
	return humanize.Bytes(uint64(float64(bytes)/elapsed.Seconds())) + "/s"
}

func eta(pct float64, elapsed time.Duration) string {
	if pct <= 0 || pct >= 100 || elapsed < time.Second {
		return "ETA --"
	}

	total := elapsed.Seconds() / (pct / 100)
	remaining := int(total - elapsed.Seconds())
	if remaining < 0 {
		remaining = 0
	}

	if remaining < 60 {
		return fmt.Sprintf("ETA %ds", remaining)
	}
	if remaining < 3600 {
		return fmt.Sprintf("ETA %dm%ds", remaining/60, remaining%60)
	}
	return fmt.Sprintf("ETA %dh%dm", remaining/3600, (remaining%3600)/60)
}

func clearLine(w io.Writer) {
	fmt.Fprint(w, "\r\033[K")
}
