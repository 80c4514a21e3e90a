// Package convert re-encodes extracted CSV files as Arrow IPC files
// (Feather v2) next to the source.
package convert

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	arrowcsv "github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/sourcegraph/conc/panics"

	"github.com/binvis/binvis/internal/domain"
	"github.com/binvis/binvis/internal/infra/metrics"
)

const (
	// SourceExt is the extension of files the converter accepts.
	SourceExt = ".csv"
	// TargetExt is the extension of written artifacts.
	TargetExt = ".feather"

	defaultChunkRows = 64 * 1024
)

// Compression codecs for record batch bodies.
const (
	CompressionNone = "none"
	CompressionLZ4  = "lz4"
	CompressionZstd = "zstd"
)

// Options controls conversion.
type Options struct {
	DeleteSource bool
	Compression  string
	// ChunkRows is the number of rows per record batch.
	ChunkRows int
}

// Tally counts directory conversion results.
type Tally struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Converter implements domain.Converter.
type Converter struct {
	opts   Options
	mem    memory.Allocator
	logger *slog.Logger
}

// New validates opts and returns a converter.
func New(opts Options, logger *slog.Logger) (*Converter, error) {
	switch opts.Compression {
	case "":
		opts.Compression = CompressionNone
	case CompressionNone, CompressionLZ4, CompressionZstd:
	default:
		return nil, fmt.Errorf("unknown compression %q (want none, lz4 or zstd)", opts.Compression)
	}
	if opts.ChunkRows <= 0 {
		opts.ChunkRows = defaultChunkRows
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Converter{opts: opts, mem: memory.NewGoAllocator(), logger: logger}, nil
}

// TargetPath returns the artifact path for a source file.
func TargetPath(src string) string { return domain.ReplaceExt(src, TargetExt) }

// Convert writes the columnar artifact for path and reports success.
// On failure no artifact exists and the source is untouched.
func (c *Converter) Convert(path string) bool {
	var rows int64
	var err error
	if r := panics.Try(func() { rows, err = c.ConvertFile(path) }); r != nil {
		err = r.AsError()
	}
	if err != nil {
		metrics.Conversions.WithLabelValues("failed").Inc()
		c.logger.Error("conversion failed", "path", path, "error", err)
		return false
	}
	metrics.Conversions.WithLabelValues("ok").Inc()
	c.logger.Debug("converted", "path", TargetPath(path), "rows", rows)

	if c.opts.DeleteSource {
		if err := os.Remove(path); err != nil {
			c.logger.Warn("delete source", "path", path, "error", err)
		}
	}
	return true
}

// ConvertFile does the work behind Convert and returns the row count.
// A source without data rows fails with domain.ErrEmptySource.
func (c *Converter) ConvertFile(path string) (rows int64, err error) {
	src, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	lay, err := scanLayout(src)
	if err != nil {
		return 0, err
	}
	if lay.rows == 0 {
		return 0, domain.ErrEmptySource
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewind source: %w", err)
	}
	body := io.Reader(src)
	if lay.synthetic {
		body = io.MultiReader(strings.NewReader(strings.Join(lay.names, ",")+"\n"), src)
	}

	dst := TargetPath(path)
	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create artifact: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			out.Close()
			os.Remove(tmp)
		}
	}()

	rows, err = c.encode(body, lay.schema(), out)
	if err != nil {
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return 0, fmt.Errorf("rename artifact: %w", err)
	}
	committed = true
	return rows, nil
}

// encode streams CSV records into an IPC file on w. r must start with a
// header line matching schema.
func (c *Converter) encode(r io.Reader, schema *arrow.Schema, w io.Writer) (int64, error) {
	rdr := arrowcsv.NewReader(r, schema,
		arrowcsv.WithHeader(true),
		arrowcsv.WithChunk(c.opts.ChunkRows),
		arrowcsv.WithAllocator(c.mem),
		arrowcsv.WithNullReader(true, ""),
	)
	defer rdr.Release()

	fw, err := ipc.NewFileWriter(w, c.writerOptions(schema)...)
	if err != nil {
		return 0, fmt.Errorf("open ipc writer: %w", err)
	}
	var rows int64
	for rdr.Next() {
		if err := rdr.Err(); err != nil {
			break
		}
		rec := rdr.Record()
		if err := fw.Write(rec); err != nil {
			fw.Close()
			return 0, fmt.Errorf("write record batch: %w", err)
		}
		rows += rec.NumRows()
	}
	if err := rdr.Err(); err != nil {
		fw.Close()
		return 0, fmt.Errorf("parse csv: %w", err)
	}
	if err := fw.Close(); err != nil {
		return 0, fmt.Errorf("finish ipc file: %w", err)
	}
	return rows, nil
}

func (c *Converter) writerOptions(schema *arrow.Schema) []ipc.Option {
	opts := []ipc.Option{ipc.WithSchema(schema), ipc.WithAllocator(c.mem)}
	switch c.opts.Compression {
	case CompressionLZ4:
		opts = append(opts, ipc.WithLZ4())
	case CompressionZstd:
		opts = append(opts, ipc.WithZstd())
	}
	return opts
}

// ConvertDir converts every CSV file directly inside dir.
// Subdirectories are not visited.
func (c *Converter) ConvertDir(dir string) (Tally, error) {
	var tally Tally
	entries, err := os.ReadDir(dir)
	if err != nil {
		return tally, fmt.Errorf("read %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), SourceExt) {
			continue
		}
		if c.Convert(filepath.Join(dir, e.Name())) {
			tally.Succeeded++
		} else {
			tally.Failed++
		}
	}
	c.logger.Info("directory conversion finished", "dir", dir, "succeeded", tally.Succeeded, "failed", tally.Failed)
	return tally, nil
}

// ─── Layout Scan ────────────────────────────────────────────────────────────

// columnKind orders the types a column can settle on. A column only ever
// widens: int to float, and anything to string.
type columnKind int

const (
	kindNull columnKind = iota
	kindInt
	kindFloat
	kindBool
	kindString
)

func (k columnKind) dataType() arrow.DataType {
	switch k {
	case kindInt:
		return arrow.PrimitiveTypes.Int64
	case kindFloat:
		return arrow.PrimitiveTypes.Float64
	case kindBool:
		return arrow.FixedWidthTypes.Boolean
	default:
		return arrow.BinaryTypes.String
	}
}

// widen returns the narrowest kind holding both k and the value v.
func (k columnKind) widen(v string) columnKind {
	if v == "" || k == kindString {
		return k
	}
	switch k {
	case kindNull, kindInt:
		if _, err := strconv.ParseInt(v, 10, 64); err == nil {
			return kindInt
		}
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			return kindFloat
		}
		if k == kindNull {
			if _, err := strconv.ParseBool(v); err == nil {
				return kindBool
			}
		}
	case kindFloat:
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			return kindFloat
		}
	case kindBool:
		if _, err := strconv.ParseBool(v); err == nil {
			return kindBool
		}
	}
	return kindString
}

// layout is what a full pass over a CSV file learns about it.
type layout struct {
	names     []string
	synthetic bool // names were generated, not read
	kinds     []columnKind
	rows      int64
}

func (l layout) schema() *arrow.Schema {
	fields := make([]arrow.Field, len(l.names))
	for i, name := range l.names {
		fields[i] = arrow.Field{Name: name, Type: l.kinds[i].dataType(), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

// scanLayout reads every record of src once to find the header, the column
// types and the number of data rows. A first row made only of non-numeric
// fields is taken as the header; otherwise column_0..column_n is used.
// Rows with a different field count than the first are an error.
func scanLayout(src io.Reader) (layout, error) {
	r := csv.NewReader(bufio.NewReader(src))
	r.ReuseRecord = true

	first, err := r.Read()
	if errors.Is(err, io.EOF) {
		return layout{}, domain.ErrEmptySource
	}
	if err != nil {
		return layout{}, fmt.Errorf("parse first line: %w", err)
	}

	lay := layout{kinds: make([]columnKind, len(first))}
	if isHeader(first) {
		lay.names = append([]string(nil), first...)
	} else {
		lay.synthetic = true
		lay.names = make([]string, len(first))
		for i := range lay.names {
			lay.names[i] = "column_" + strconv.Itoa(i)
		}
		lay.observe(first)
	}

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return lay, nil
		}
		if err != nil {
			return layout{}, fmt.Errorf("parse csv: %w", err)
		}
		lay.observe(rec)
	}
}

func (l *layout) observe(rec []string) {
	for i, v := range rec {
		l.kinds[i] = l.kinds[i].widen(v)
	}
	l.rows++
}

func isHeader(fields []string) bool {
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			return false
		}
		if _, err := strconv.ParseFloat(f, 64); err == nil {
			return false
		}
	}
	return true
}
