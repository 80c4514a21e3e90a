// Package pipeline runs one download task end to end:
// fetch, checksum, verify, extract, convert, cleanup.
//
// Process never returns an error. Every failure becomes a Result with
// OK=false and a FailureReason, and leaves no archive or partial file
// behind.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/time/rate"

	"github.com/binvis/binvis/internal/domain"
	"github.com/binvis/binvis/internal/infra/metrics"
	"github.com/binvis/binvis/internal/infra/vision"
)

// partSuffix marks an archive that is still being written.
const partSuffix = ".part"

// copyBufferSize matches the read size used for streaming bodies.
const copyBufferSize = 256 * 1024

// Config holds pipeline settings.
type Config struct {
	// Timeout is the ceiling for one HTTP exchange, body included.
	Timeout time.Duration
	// RequestsPerSecond paces archive and checksum requests. 0 = unlimited.
	RequestsPerSecond float64
	ChecksumSuffix    string
	UserAgent         string
	// ConvertExtension selects which extracted files go to the converter.
	ConvertExtension string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:          300 * time.Second,
		ChecksumSuffix:   vision.DefaultChecksumSuffix,
		UserAgent:        "binvis",
		ConvertExtension: ".csv",
	}
}

// Pipeline processes tasks. It is safe for concurrent use.
type Pipeline struct {
	cfg       Config
	client    *http.Client
	limiter   *rate.Limiter
	extractor *ExtractPool
	converter domain.Converter
	logger    *slog.Logger
}

// New creates a pipeline. extractor is required; converter may be nil to
// disable conversion.
func New(cfg Config, extractor *ExtractPool, converter domain.Converter, logger *slog.Logger) *Pipeline {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.ChecksumSuffix == "" {
		cfg.ChecksumSuffix = vision.DefaultChecksumSuffix
	}
	if cfg.ConvertExtension == "" {
		cfg.ConvertExtension = ".csv"
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	p := &Pipeline{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.Timeout},
		extractor: extractor,
		converter: converter,
		logger:    logger,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return p
}

// SetHTTPClient replaces the HTTP client (used by tests).
func (p *Pipeline) SetHTTPClient(c *http.Client) { p.client = c }

// Process runs the task and reports its terminal state.
func (p *Pipeline) Process(ctx context.Context, task domain.Task) (res domain.Result) {
	start := time.Now()
	log := p.logger.With("task", task.RemoteAddress)
	archive := task.LocalPath
	var extracted []string

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panic", "panic", r)
			removeQuiet(archive + partSuffix)
			removeQuiet(archive)
			for _, path := range extracted {
				removeQuiet(path)
			}
			res = domain.Failed(task, domain.ReasonPanic, fmt.Errorf("panic: %v", r))
		}
		res.Duration = time.Since(start)
	}()

	if err := os.MkdirAll(filepath.Dir(archive), 0o755); err != nil {
		log.Error("create output directory", "error", err)
		return domain.Failed(task, domain.ReasonIO, err)
	}

	// 1. Fetch
	log.Info("downloading")
	n, err := p.fetch(ctx, task.RemoteAddress, archive)
	if err != nil {
		reason := p.classify(ctx, err)
		switch reason {
		case domain.ReasonNotFound:
			log.Warn("file not found")
		case domain.ReasonCancelled:
			log.Warn("download cancelled")
		default:
			log.Error("download failed", "error", err)
		}
		return domain.Failed(task, reason, err)
	}
	metrics.DownloadBytes.Add(float64(n))
	log.Debug("downloaded", "size", humanize.Bytes(uint64(n)))

	// 2-4. Checksum
	if reason, err := p.verify(ctx, task.RemoteAddress, archive, log); err != nil {
		removeQuiet(archive)
		return domain.Failed(task, reason, err)
	}

	// 5. Extract
	extractStart := time.Now()
	extracted, err = p.extractor.Extract(ctx, archive, filepath.Dir(archive))
	metrics.ExtractDuration.Observe(time.Since(extractStart).Seconds())
	if err != nil {
		removeQuiet(archive)
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			log.Warn("extraction abandoned", "error", err)
			return domain.Failed(task, domain.ReasonCancelled, err)
		}
		log.Error("extraction failed", "error", err)
		return domain.Failed(task, domain.ReasonExtract, err)
	}
	log.Debug("extracted", "files", len(extracted))

	// 6. Convert
	converted := p.convertAll(extracted, log)
	// Past this point a panic must not take the extracted files with it.
	done := extracted
	extracted = nil

	// 7. Cleanup
	if err := os.Remove(archive); err != nil && !os.IsNotExist(err) {
		log.Warn("remove archive", "error", err)
	}
	log.Info("processed", "files", len(done), "converted", converted, "size", humanize.Bytes(uint64(n)))

	return domain.Result{
		Task:      task,
		OK:        true,
		Bytes:     n,
		Extracted: done,
		Converted: converted,
	}
}

// convertAll runs the converter over the matching extracted files. A
// converter panic counts as one failed conversion.
func (p *Pipeline) convertAll(paths []string, log *slog.Logger) int {
	if p.converter == nil {
		return 0
	}
	converted := 0
	for _, path := range paths {
		if !strings.EqualFold(filepath.Ext(path), p.cfg.ConvertExtension) {
			continue
		}
		var ok bool
		if r := panics.Try(func() { ok = p.converter.Convert(path) }); r != nil {
			metrics.Conversions.WithLabelValues("failed").Inc()
			log.Error("conversion panicked", "path", path, "panic", r.Value)
			continue
		}
		if ok {
			converted++
		}
	}
	return converted
}

// fetch streams address into dst via dst.part, renaming on success.
func (p *Pipeline) fetch(ctx context.Context, address, dst string) (int64, error) {
	resp, err := p.get(ctx, address)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, fmt.Errorf("%s: %w", address, domain.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return 0, fmt.Errorf("HTTP %d: %w", resp.StatusCode, domain.ErrHTTPStatus)
	}

	tmp := dst + partSuffix
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}

	buf := make([]byte, copyBufferSize)
	n, err := io.CopyBuffer(f, resp.Body, buf)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("write archive: %w", err)
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		os.Remove(tmp)
		return 0, fmt.Errorf("short body: got %d of %d bytes", n, resp.ContentLength)
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("rename: %w", err)
	}
	return n, nil
}

// verify fetches the published digest and compares it with the local file.
func (p *Pipeline) verify(ctx context.Context, address, archive string, log *slog.Logger) (domain.FailureReason, error) {
	checksumURL := vision.ChecksumAddress(address, p.cfg.ChecksumSuffix)
	expected, err := p.fetchChecksum(ctx, checksumURL)
	if err != nil {
		if ctx.Err() != nil {
			return domain.ReasonCancelled, err
		}
		log.Error("failed to fetch checksum", "url", checksumURL, "error", err)
		return domain.ReasonChecksumUnavailable, err
	}

	actual, err := hashFile(archive)
	if err != nil {
		log.Error("hash archive", "error", err)
		return domain.ReasonIO, err
	}

	if !digestsMatch(expected, actual) {
		log.Error("checksum validation failed", "expected", expected, "actual", actual)
		return domain.ReasonChecksumMismatch, fmt.Errorf("expected %s, got %s: %w", expected, actual, domain.ErrChecksumMismatch)
	}
	log.Debug("checksum validation passed", "file", filepath.Base(archive))
	return domain.ReasonNone, nil
}

func (p *Pipeline) fetchChecksum(ctx context.Context, checksumURL string) (string, error) {
	resp, err := p.get(ctx, checksumURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrChecksumUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %w", resp.StatusCode, domain.ErrChecksumUnavailable)
	}
	return parseChecksum(resp.Body)
}

func (p *Pipeline) get(ctx context.Context, address string) (*http.Response, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	return p.client.Do(req)
}

// classify maps a fetch error onto a failure reason.
func (p *Pipeline) classify(ctx context.Context, err error) domain.FailureReason {
	switch {
	case ctx.Err() != nil:
		return domain.ReasonCancelled
	case errors.Is(err, domain.ErrNotFound):
		return domain.ReasonNotFound
	case errors.Is(err, domain.ErrHTTPStatus):
		return domain.ReasonHTTPStatus
	}
	var pathErr *os.PathError
	var linkErr *os.LinkError
	if errors.As(err, &pathErr) || errors.As(err, &linkErr) {
		return domain.ReasonIO
	}
	return domain.ReasonTransport
}

// removeQuiet deletes path, tolerating absence.
func removeQuiet(path string) {
	_ = os.Remove(path)
}
