package pipeline

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/sourcegraph/conc/panics"
)

// ExtractPool runs archive extraction on a fixed set of workers, separate
// from the governor's download slots. A caller blocks until its own job is
// done; the job is abandoned only if ctx ends before a worker takes it.
type ExtractPool struct {
	jobs      chan extractJob
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type extractJob struct {
	archive string
	dest    string
	reply   chan extractReply
}

type extractReply struct {
	paths []string
	err   error
}

// NewExtractPool starts workers goroutines. workers <= 0 selects NumCPU.
func NewExtractPool(workers int) *ExtractPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	p := &ExtractPool{jobs: make(chan extractJob)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *ExtractPool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		var reply extractReply
		if r := panics.Try(func() { reply.paths, reply.err = extractFunc(job.archive, job.dest) }); r != nil {
			reply = extractReply{err: fmt.Errorf("extract %s: %w", job.archive, r.AsError())}
		}
		job.reply <- reply
	}
}

// Extract unpacks archive into dest, flattening internal directories, and
// returns the written paths.
func (p *ExtractPool) Extract(ctx context.Context, archive, dest string) ([]string, error) {
	job := extractJob{archive: archive, dest: dest, reply: make(chan extractReply, 1)}
	select {
	case p.jobs <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	r := <-job.reply
	return r.paths, r.err
}

// Close stops the workers after in-flight jobs finish. Extract must not be
// called after Close.
func (p *ExtractPool) Close() {
	p.closeOnce.Do(func() {
		close(p.jobs)
		p.wg.Wait()
	})
}

// extractFunc is swapped in tests.
var extractFunc = extractFlat

// extractFlat writes every regular entry of the zip at archivePath to
// destDir/<base name>. On failure, files written so far are removed.
func extractFlat(archivePath, destDir string) (paths []string, err error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", destDir, err)
	}

	seen := make(map[string]bool)
	complete := false
	defer func() {
		if !complete {
			for _, p := range paths {
				os.Remove(p)
			}
			paths = nil
		}
	}()

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(filepath.FromSlash(f.Name))
		if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
			continue
		}

		outPath := filepath.Join(destDir, name)
		if !seen[outPath] {
			seen[outPath] = true
			paths = append(paths, outPath)
		}
		if err := writeEntry(f, outPath); err != nil {
			return paths, err
		}
	}
	complete = true
	return paths, nil
}

func writeEntry(f *zip.File, outPath string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s in zip: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", outPath, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return out.Close()
}
