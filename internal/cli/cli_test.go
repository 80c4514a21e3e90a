package cli

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/binvis/binvis/internal/app"
	"github.com/binvis/binvis/internal/domain"
	"github.com/binvis/binvis/internal/infra/governor"
)

// runCLI executes a fresh command tree with args and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("BINVIS_HOME", home)
	return home
}

// ─── Selection ──────────────────────────────────────────────────────────────

func TestSelection_Defaults(t *testing.T) {
	var sel selection
	sel.granularity = "both"
	req, err := sel.request()
	if err != nil {
		t.Fatal(err)
	}
	if len(req.Markets) != len(domain.AllMarkets()) {
		t.Errorf("Markets = %v, want all", req.Markets)
	}
	if len(req.Categories) != len(domain.AllCategories()) {
		t.Errorf("Categories = %d, want all", len(req.Categories))
	}
	if len(req.Intervals) != len(domain.AllIntervals()) {
		t.Errorf("Intervals = %d, want all", len(req.Intervals))
	}
	if req.Identifiers != nil {
		t.Errorf("Identifiers = %v, want nil (resolve)", req.Identifiers)
	}
	if req.Start != nil || req.End != nil {
		t.Error("dates should be unset")
	}
	if req.Granularity != domain.SelectBoth {
		t.Errorf("Granularity = %q", req.Granularity)
	}
}

func TestSelection_Explicit(t *testing.T) {
	sel := selection{
		markets:     []string{"futures-um"},
		categories:  []string{"klines"},
		symbols:     []string{"ETHUSDT"},
		intervals:   []string{"1h", "4h"},
		startDate:   "2025-03-01",
		endDate:     "2025-03-05",
		granularity: "daily",
	}
	req, err := sel.request()
	if err != nil {
		t.Fatal(err)
	}
	if len(req.Markets) != 1 || req.Markets[0] != domain.MarketFuturesUM {
		t.Errorf("Markets = %v", req.Markets)
	}
	if len(req.Intervals) != 2 || req.Intervals[1] != domain.Interval4h {
		t.Errorf("Intervals = %v", req.Intervals)
	}
	if req.Start == nil || req.Start.Day() != 1 || req.End == nil || req.End.Day() != 5 {
		t.Errorf("range = %v..%v", req.Start, req.End)
	}
	if req.Granularity != domain.SelectDaily {
		t.Errorf("Granularity = %q", req.Granularity)
	}
}

func TestSelection_Errors(t *testing.T) {
	tests := []struct {
		name string
		sel  selection
		want error
	}{
		{"market", selection{markets: []string{"margin"}}, domain.ErrUnknownMarket},
		{"category", selection{categories: []string{"orderbook"}}, domain.ErrUnknownCategory},
		{"interval", selection{intervals: []string{"7m"}}, domain.ErrUnknownInterval},
		{"date", selection{startDate: "2025/01/01"}, domain.ErrInvalidDate},
		{"granularity", selection{granularity: "weekly"}, domain.ErrUnknownGranularity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.sel.request(); !errors.Is(err, tt.want) {
				t.Errorf("request() error = %v, want %v", err, tt.want)
			}
		})
	}
}

// ─── Logging ────────────────────────────────────────────────────────────────

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"debug", "INFO", "", "warn", "error"} {
		if _, err := parseLevel(s); err != nil {
			t.Errorf("parseLevel(%q) error: %v", s, err)
		}
	}
	if _, err := parseLevel("loud"); err == nil {
		t.Error("parseLevel(loud) should fail")
	}
}

func TestNewLogger_FileMirror(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "binvis.log")
	var stderr bytes.Buffer
	logger, closeLog, err := newLogger(app.LoggingConfig{Level: "debug", File: path, Format: "json"}, &stderr)
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("hello", "k", "v")
	closeLog()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Errorf("log file = %q", data)
	}
	if !strings.Contains(stderr.String(), `"k":"v"`) {
		t.Errorf("stderr = %q", stderr.String())
	}
}

// ─── Progress ───────────────────────────────────────────────────────────────

func TestProgressBar_Render(t *testing.T) {
	p := newProgressBar(io.Discard)
	p.started = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	line := p.render(governor.Status{Planned: 4, Completed: 2, Failed: 1, Bytes: 2_000_000}, p.started.Add(10*time.Second))
	for _, want := range []string{" 50%", "2/4", "1 failed", "2.0 MB", "200 kB/s", "ETA 10s"} {
		if !strings.Contains(line, want) {
			t.Errorf("render() = %q, missing %q", line, want)
		}
	}
}

func TestBar(t *testing.T) {
	tests := []struct {
		pct  float64
		want string
	}{
		{0, "[" + strings.Repeat(".", barWidth) + "]"},
		{100, "[" + strings.Repeat("=", barWidth) + "]"},
	}
	for _, tt := range tests {
		if got := bar(tt.pct); got != tt.want {
			t.Errorf("bar(%v) = %q, want %q", tt.pct, got, tt.want)
		}
	}
	if got := bar(50); !strings.Contains(got, ">") || len(got) != barWidth+2 {
		t.Errorf("bar(50) = %q", got)
	}
}

func TestETA(t *testing.T) {
	tests := []struct {
		pct     float64
		elapsed time.Duration
		want    string
	}{
		{0, time.Minute, "ETA --"},
		{100, time.Minute, "ETA --"},
		{50, 30 * time.Second, "ETA 30s"},
		{25, time.Minute, "ETA 3m0s"},
		{1, time.Minute, "ETA 1h39m"},
	}
	for _, tt := range tests {
		if got := eta(tt.pct, tt.elapsed); got != tt.want {
			t.Errorf("eta(%v, %v) = %q, want %q", tt.pct, tt.elapsed, got, tt.want)
		}
	}
}

// ─── Config Overrides ───────────────────────────────────────────────────────

func TestLoadConfig_EnvOverride(t *testing.T) {
	isolateHome(t)
	t.Setenv("BINVIS_MAX_CONCURRENT", "9")
	t.Setenv("BINVIS_TO_FEATHER", "true")

	newRootCmd("test")
	initConfig()

	cfg, err := loadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Download.MaxConcurrent != 9 {
		t.Errorf("MaxConcurrent = %d, want 9", cfg.Download.MaxConcurrent)
	}
	if !cfg.Convert.Enabled {
		t.Error("Convert.Enabled should follow BINVIS_TO_FEATHER")
	}
	if cfg.Download.OutputDir != "./downloaded_data" {
		t.Errorf("OutputDir = %q, want default", cfg.Download.OutputDir)
	}
}

func TestConfigInitShow(t *testing.T) {
	home := isolateHome(t)

	out, err := runCLI(t, "config", "init")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, filepath.Join(home, "config.toml")) {
		t.Errorf("config init output = %q", out)
	}
	if _, err := runCLI(t, "config", "init"); err == nil {
		t.Error("second config init without --force should fail")
	}

	out, err = runCLI(t, "config", "show", "--format", "yaml", "--max-concurrent", "7")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "max_concurrent: 7") {
		t.Errorf("config show = %q, want flag override", out)
	}
}

// ─── Commands ───────────────────────────────────────────────────────────────

func TestInitConfig_OncePerExecute(t *testing.T) {
	isolateHome(t)
	for i := 0; i < 5; i++ {
		newRootCmd("test")
	}

	before := configInits.Load()
	if _, err := runCLI(t, "config", "show"); err != nil {
		t.Fatalf("config show: %v", err)
	}
	if got := configInits.Load() - before; got != 1 {
		t.Errorf("initConfig ran %d times, want 1", got)
	}
}

func TestPlan_JSON(t *testing.T) {
	isolateHome(t)
	dir := t.TempDir()

	out, err := runCLI(t, "plan",
		"--markets", "spot", "--categories", "trades,klines", "--intervals", "1m",
		"--symbols", "BTCUSDT", "--start-date", "2025-01-01", "--end-date", "2025-01-02",
		"--granularity", "daily", "--output-dir", dir, "--format", "json")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	var got planOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(got.Tasks) != 4 {
		t.Errorf("tasks = %d, want 4", len(got.Tasks))
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Error("plan must not create anything under the output dir")
	}
}

func TestPlan_BadFormat(t *testing.T) {
	isolateHome(t)
	if _, err := runCLI(t, "plan", "--symbols", "BTCUSDT", "--format", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestConvert_Dir(t *testing.T) {
	isolateHome(t)
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.csv"), []byte("1,2,3\n4,5,6\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "b.csv"), []byte(""), 0o644)

	out, err := runCLI(t, "convert", dir, "--delete-source")
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if !strings.Contains(out, "converted 1, failed 1") {
		t.Errorf("convert output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.csv")); !os.IsNotExist(err) {
		t.Error("a.csv should be deleted after conversion")
	}
}

func TestDownloadThenHistory(t *testing.T) {
	isolateHome(t)
	dir := t.TempDir()

	var archive bytes.Buffer
	zw := zip.NewWriter(&archive)
	w, _ := zw.Create("BTCUSDT-trades-2025-01-01.csv")
	w.Write([]byte("1,93576.0,0.004,374.304,1735689600010,true\n"))
	zw.Close()
	sum := sha256.Sum256(archive.Bytes())

	const path = "/data/spot/daily/trades/BTCUSDT/BTCUSDT-trades-2025-01-01.zip"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case path:
			w.Write(archive.Bytes())
		case path + ".CHECKSUM":
			w.Write([]byte(hex.EncodeToString(sum[:]) + "  BTCUSDT-trades-2025-01-01.zip\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	args := []string{"download",
		"--markets", "spot", "--categories", "trades", "--symbols", "BTCUSDT",
		"--start-date", "2025-01-01", "--end-date", "2025-01-01", "--granularity", "daily",
		"--output-dir", dir, "--base-url", srv.URL + "/data/", "--report", "-q"}

	out, err := runCLI(t, args...)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if !strings.Contains(out, string(domain.RunCompleted)) {
		t.Errorf("download output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "spot/daily/trades/BTCUSDT/BTCUSDT-trades-2025-01-01.csv")); err != nil {
		t.Errorf("extracted csv missing: %v", err)
	}

	out, err = runCLI(t, args...)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, string(domain.RunUpToDate)) {
		t.Errorf("second download output = %q", out)
	}

	out, err = runCLI(t, "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, string(domain.RunCompleted)) || !strings.Contains(out, string(domain.RunUpToDate)) {
		t.Errorf("history output = %q", out)
	}
}

func TestHistory_UnknownRun(t *testing.T) {
	isolateHome(t)
	if _, err := runCLI(t, "history", "does-not-exist"); err == nil {
		t.Error("expected error for unknown run")
	}
}
