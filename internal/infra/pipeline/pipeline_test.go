package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/binvis/binvis/internal/domain"
	"github.com/binvis/binvis/internal/infra/convert"
)

// ─── Fake Portal ────────────────────────────────────────────────────────────

// portal serves archives and checksum files from memory.
type portal struct {
	mu    sync.Mutex
	files map[string][]byte
	codes map[string]int
	srv   *httptest.Server
}

func newPortal(t *testing.T) *portal {
	t.Helper()
	p := &portal{files: make(map[string][]byte), codes: make(map[string]int)}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		code, hasCode := p.codes[r.URL.Path]
		body, ok := p.files[r.URL.Path]
		p.mu.Unlock()
		if hasCode {
			w.WriteHeader(code)
			return
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *portal) put(path string, body []byte) {
	p.mu.Lock()
	p.files[path] = body
	p.mu.Unlock()
}

func (p *portal) status(path string, code int) {
	p.mu.Lock()
	p.codes[path] = code
	p.mu.Unlock()
}

// publish serves archive at path together with a valid checksum file.
func (p *portal) publish(path string, archive []byte) {
	p.put(path, archive)
	p.put(path+".CHECKSUM", []byte(sha256Hex(archive)+"  "+filepath.Base(path)+"\n"))
}

func makeZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		if strings.HasSuffix(name, "/") {
			if _, err := zw.Create(name); err != nil {
				t.Fatal(err)
			}
			continue
		}
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(content))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

type countingConverter struct {
	mu    sync.Mutex
	paths []string
	ok    bool
	panic bool
}

func (c *countingConverter) Convert(path string) bool {
	if c.panic {
		panic("converter exploded")
	}
	c.mu.Lock()
	c.paths = append(c.paths, path)
	c.mu.Unlock()
	return c.ok
}

const archivePath = "/data/spot/daily/trades/BTCUSDT/BTCUSDT-trades-2025-01-01.zip"

func newTestPipeline(t *testing.T, conv domain.Converter) (*Pipeline, *portal, domain.Task, string) {
	t.Helper()
	dir := t.TempDir()
	portal := newPortal(t)

	pool := NewExtractPool(2)
	t.Cleanup(pool.Close)

	p := New(DefaultConfig(), pool, conv, nil)
	task := domain.Task{
		RemoteAddress: portal.srv.URL + archivePath,
		Market:        domain.MarketSpot,
		Identifier:    "BTCUSDT",
		Category:      domain.CategoryTrades,
		Granularity:   domain.Daily,
		PeriodLabel:   "2025-01-01",
		LocalPath:     filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(archivePath, "/data/"))),
	}
	return p, portal, task, dir
}

// regularFiles lists every non-directory under root.
func regularFiles(t *testing.T, root string) []string {
	t.Helper()
	var out []string
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			out = append(out, path)
		}
		return nil
	})
	return out
}

// ─── Process Tests ──────────────────────────────────────────────────────────

func TestProcess_Success(t *testing.T) {
	conv := &countingConverter{ok: true}
	p, portal, task, _ := newTestPipeline(t, conv)
	portal.publish(archivePath, makeZip(t, map[string]string{
		"a/b/BTCUSDT-trades-2025-01-01.csv": "1,2,3\n",
		"a/":                                "",
		"notes.txt":                         "hello",
	}))

	res := p.Process(context.Background(), task)
	if !res.OK {
		t.Fatalf("Process() failed: reason=%s err=%s", res.Reason, res.Error)
	}

	parent := filepath.Dir(task.LocalPath)
	flat := filepath.Join(parent, "BTCUSDT-trades-2025-01-01.csv")
	if _, err := os.Stat(flat); err != nil {
		t.Errorf("flattened csv missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(parent, "a", "b", "BTCUSDT-trades-2025-01-01.csv")); !os.IsNotExist(err) {
		t.Error("nested directory structure should be discarded")
	}
	if _, err := os.Stat(task.LocalPath); !os.IsNotExist(err) {
		t.Error("archive should be deleted after extraction")
	}
	if _, err := os.Stat(task.LocalPath + partSuffix); !os.IsNotExist(err) {
		t.Error("part file left behind")
	}
	if len(res.Extracted) != 2 {
		t.Errorf("Extracted = %v, want 2 files", res.Extracted)
	}
	if len(conv.paths) != 1 || conv.paths[0] != flat {
		t.Errorf("converter called with %v, want [%s]", conv.paths, flat)
	}
	if res.Converted != 1 {
		t.Errorf("Converted = %d, want 1", res.Converted)
	}
	if res.Bytes == 0 {
		t.Error("Bytes should be recorded")
	}
}

func TestProcess_ConversionFailureKeepsSuccess(t *testing.T) {
	conv := &countingConverter{ok: false}
	p, portal, task, _ := newTestPipeline(t, conv)
	portal.publish(archivePath, makeZip(t, map[string]string{"x.csv": "1\n"}))

	res := p.Process(context.Background(), task)
	if !res.OK {
		t.Fatalf("conversion failure must not fail the task: %+v", res)
	}
	if res.Converted != 0 {
		t.Errorf("Converted = %d, want 0", res.Converted)
	}
}

func TestProcess_UppercaseChecksum(t *testing.T) {
	p, portal, task, _ := newTestPipeline(t, nil)
	archive := makeZip(t, map[string]string{"x.csv": "1\n"})
	portal.put(archivePath, archive)
	portal.put(archivePath+".CHECKSUM", []byte(strings.ToUpper(sha256Hex(archive))))

	if res := p.Process(context.Background(), task); !res.OK {
		t.Errorf("Process() = %+v, want OK", res)
	}
}

func TestProcess_NotFound(t *testing.T) {
	p, _, task, dir := newTestPipeline(t, nil)

	res := p.Process(context.Background(), task)
	if res.OK || res.Reason != domain.ReasonNotFound {
		t.Errorf("Process() = %+v, want not_found", res)
	}
	if files := regularFiles(t, dir); len(files) != 0 {
		t.Errorf("files left behind: %v", files)
	}
}

func TestProcess_HTTPError(t *testing.T) {
	p, portal, task, dir := newTestPipeline(t, nil)
	portal.status(archivePath, http.StatusServiceUnavailable)

	res := p.Process(context.Background(), task)
	if res.OK || res.Reason != domain.ReasonHTTPStatus {
		t.Errorf("Process() = %+v, want http_status", res)
	}
	if files := regularFiles(t, dir); len(files) != 0 {
		t.Errorf("files left behind: %v", files)
	}
}

func TestProcess_ChecksumUnavailable(t *testing.T) {
	tests := []struct {
		name     string
		checksum []byte
	}{
		{"missing", nil},
		{"empty", []byte("   \n")},
		{"garbled", []byte("not-a-digest trailing tokens")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, portal, task, dir := newTestPipeline(t, nil)
			portal.put(archivePath, makeZip(t, map[string]string{"x.csv": "1\n"}))
			if tt.checksum != nil {
				portal.put(archivePath+".CHECKSUM", tt.checksum)
			}

			res := p.Process(context.Background(), task)
			if res.OK || res.Reason != domain.ReasonChecksumUnavailable {
				t.Errorf("Process() = %+v, want checksum_unavailable", res)
			}
			if files := regularFiles(t, dir); len(files) != 0 {
				t.Errorf("files left behind: %v", files)
			}
		})
	}
}

func TestProcess_ChecksumMismatchRemovesArchive(t *testing.T) {
	p, portal, task, dir := newTestPipeline(t, nil)
	portal.put(archivePath, makeZip(t, map[string]string{"x.csv": "1\n"}))
	portal.put(archivePath+".CHECKSUM", []byte(sha256Hex([]byte("something else"))+"  x.zip"))

	res := p.Process(context.Background(), task)
	if res.OK || res.Reason != domain.ReasonChecksumMismatch {
		t.Errorf("Process() = %+v, want checksum_mismatch", res)
	}
	if _, err := os.Stat(task.LocalPath); !os.IsNotExist(err) {
		t.Error("raw archive must be absent after mismatch")
	}
	if files := regularFiles(t, dir); len(files) != 0 {
		t.Errorf("files left behind: %v", files)
	}
}

func TestProcess_CorruptArchive(t *testing.T) {
	p, portal, task, dir := newTestPipeline(t, nil)
	portal.publish(archivePath, []byte("this is not a zip file"))

	res := p.Process(context.Background(), task)
	if res.OK || res.Reason != domain.ReasonExtract {
		t.Errorf("Process() = %+v, want extract", res)
	}
	if files := regularFiles(t, dir); len(files) != 0 {
		t.Errorf("files left behind: %v", files)
	}
}

func TestProcess_ConverterPanicKeepsSuccess(t *testing.T) {
	conv := &countingConverter{panic: true}
	p, portal, task, dir := newTestPipeline(t, conv)
	portal.publish(archivePath, makeZip(t, map[string]string{"x.csv": "1\n"}))

	res := p.Process(context.Background(), task)
	if !res.OK {
		t.Fatalf("converter panic must not fail the task: %+v", res)
	}
	if res.Converted != 0 {
		t.Errorf("Converted = %d, want 0", res.Converted)
	}
	csv := filepath.Join(filepath.Dir(task.LocalPath), "x.csv")
	if _, err := os.Stat(csv); err != nil {
		t.Errorf("extracted csv should remain: %v", err)
	}
	if files := regularFiles(t, dir); len(files) != 1 {
		t.Errorf("files = %v, want only x.csv", files)
	}
}

func TestProcess_HeaderOnlyCSVKeepsSuccess(t *testing.T) {
	conv, err := convert.New(convert.Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	p, portal, task, dir := newTestPipeline(t, conv)
	portal.publish(archivePath, makeZip(t, map[string]string{
		"BTCUSDT-trades-2025-01-01.csv": "id,price,qty\n",
	}))

	res := p.Process(context.Background(), task)
	if !res.OK || res.Converted != 0 {
		t.Fatalf("Process() = %+v, want OK with no conversions", res)
	}
	files := regularFiles(t, dir)
	if len(files) != 1 || filepath.Ext(files[0]) != ".csv" {
		t.Errorf("files = %v, want only the csv", files)
	}
}

// panicHandler is a slog.Handler that panics on one message.
type panicHandler struct{ msg string }

func (h panicHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h panicHandler) Handle(_ context.Context, r slog.Record) error {
	if r.Message == h.msg {
		panic("handler exploded on " + h.msg)
	}
	return nil
}

func (h panicHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h panicHandler) WithGroup(string) slog.Handler      { return h }

func TestProcess_PanicAfterExtractRemovesFiles(t *testing.T) {
	p, portal, task, dir := newTestPipeline(t, nil)
	p.logger = slog.New(panicHandler{msg: "extracted"})
	portal.publish(archivePath, makeZip(t, map[string]string{"x.csv": "1\n", "y.csv": "2\n"}))

	res := p.Process(context.Background(), task)
	if res.OK || res.Reason != domain.ReasonPanic {
		t.Errorf("Process() = %+v, want panic", res)
	}
	if files := regularFiles(t, dir); len(files) != 0 {
		t.Errorf("files left behind: %v", files)
	}
}

func TestProcess_PanicDuringFetchRemovesArchive(t *testing.T) {
	p, portal, task, dir := newTestPipeline(t, nil)
	portal.publish(archivePath, makeZip(t, map[string]string{"x.csv": "1\n"}))
	p.SetHTTPClient(&http.Client{Transport: panicOnChecksum{http.DefaultTransport}})

	res := p.Process(context.Background(), task)
	if res.OK || res.Reason != domain.ReasonPanic {
		t.Errorf("Process() = %+v, want panic", res)
	}
	if files := regularFiles(t, dir); len(files) != 0 {
		t.Errorf("files left behind: %v", files)
	}
}

// panicOnChecksum passes archive requests through and panics on checksum
// requests, after the archive is already on disk.
type panicOnChecksum struct{ next http.RoundTripper }

func (rt panicOnChecksum) RoundTrip(req *http.Request) (*http.Response, error) {
	if strings.HasSuffix(req.URL.Path, ".CHECKSUM") {
		panic("transport exploded")
	}
	return rt.next.RoundTrip(req)
}

func TestProcess_Cancelled(t *testing.T) {
	p, portal, task, dir := newTestPipeline(t, nil)
	portal.publish(archivePath, makeZip(t, map[string]string{"x.csv": "1\n"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := p.Process(ctx, task)
	if res.OK || res.Reason != domain.ReasonCancelled {
		t.Errorf("Process() = %+v, want cancelled", res)
	}
	if files := regularFiles(t, dir); len(files) != 0 {
		t.Errorf("files left behind: %v", files)
	}
}

// ─── Checksum Tests ─────────────────────────────────────────────────────────

func TestParseChecksum(t *testing.T) {
	digest := sha256Hex([]byte("abc"))
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"digest and name", digest + "  BTCUSDT-1d-2025-01-01.zip\n", digest, false},
		{"digest only", digest, digest, false},
		{"leading whitespace", "\n\t " + digest + " x", digest, false},
		{"mixed case", strings.ToUpper(digest), strings.ToUpper(digest), false},
		{"empty", "", "", true},
		{"short token", "abc123 file.zip", "", true},
		{"non hex", strings.Repeat("z", 64), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseChecksum(strings.NewReader(tt.in))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseChecksum() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseChecksum() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHashFile_MatchesReference(t *testing.T) {
	// Larger than one chunk so the loop runs more than once.
	data := bytes.Repeat([]byte("binvis-"), digestChunk/3)
	path := filepath.Join(t.TempDir(), "blob")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := hashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != sha256Hex(data) {
		t.Errorf("hashFile() = %s, want %s", got, sha256Hex(data))
	}
	if !digestsMatch(strings.ToUpper(got), got) {
		t.Error("digest comparison should be case-insensitive")
	}
}

// ─── Extraction Tests ───────────────────────────────────────────────────────

func TestExtractFlat_FlattensNestedEntries(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "x.zip")
	os.WriteFile(archive, makeZip(t, map[string]string{
		"a/b/c.csv": "c",
		"d.csv":     "d",
		"a/b/":      "",
	}), 0o644)

	paths, err := extractFlat(archive, dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 2 {
		t.Errorf("paths = %v, want 2", paths)
	}
	got, err := os.ReadFile(filepath.Join(dir, "c.csv"))
	if err != nil || string(got) != "c" {
		t.Errorf("c.csv = %q, %v", got, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "a")); !os.IsNotExist(err) {
		t.Error("directory entries must not be recreated")
	}
}

func TestExtractPool_WorkerPanicBecomesError(t *testing.T) {
	orig := extractFunc
	extractFunc = func(archive, dest string) ([]string, error) {
		if filepath.Base(archive) == "bad.zip" {
			panic("zip reader exploded")
		}
		return orig(archive, dest)
	}
	defer func() { extractFunc = orig }()

	pool := NewExtractPool(1)
	defer pool.Close()

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.zip")
	os.WriteFile(bad, makeZip(t, map[string]string{"x.csv": "x"}), 0o644)
	if _, err := pool.Extract(context.Background(), bad, dir); err == nil {
		t.Fatal("expected error from panicking extraction")
	}

	// The single worker must survive to serve the next job.
	good := filepath.Join(dir, "good.zip")
	os.WriteFile(good, makeZip(t, map[string]string{"y.csv": "y"}), 0o644)
	paths, err := pool.Extract(context.Background(), good, dir)
	if err != nil || len(paths) != 1 {
		t.Errorf("Extract() = %v, %v", paths, err)
	}
}

func TestExtractPool_ConcurrentCallers(t *testing.T) {
	pool := NewExtractPool(2)
	defer pool.Close()

	root := t.TempDir()
	var wg sync.WaitGroup
	errs := make(chan error, 6)
	for i := 0; i < 6; i++ {
		dir := filepath.Join(root, string(rune('a'+i)))
		os.MkdirAll(dir, 0o755)
		archive := filepath.Join(dir, "x.zip")
		os.WriteFile(archive, makeZip(t, map[string]string{"nested/y.csv": "y"}), 0o644)

		wg.Add(1)
		go func() {
			defer wg.Done()
			paths, err := pool.Extract(context.Background(), archive, dir)
			if err == nil && len(paths) != 1 {
				err = os.ErrInvalid
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Extract: %v", err)
		}
	}
}
