package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"modcompat/internal/direct"
	"modcompat/internal/facts"
	"modcompat/internal/patches"
	"modcompat/internal/refgraph"
	"modcompat/internal/storage"
	"modcompat/internal/version"
)

// ErrNoRun is returned when the store holds no analysis run yet.
var ErrNoRun = errors.New("no analysis run recorded")

// zstdMagic is the frame header of a zstd stream.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Source is the store a report is read from.
type Source interface {
	LoadSnapshot() (*facts.Snapshot, error)
	LoadClosure() (*refgraph.Closure, error)
	LatestRun() (*storage.RunSummary, error)
	ListFindings(filter storage.FindingFilter) ([]*storage.StoredFinding, error)
}

// Exporter builds and writes analysis reports
type Exporter struct {
	source Source
	direct *direct.Analyzer
	logger *slog.Logger
}

// NewExporter creates a new exporter
func NewExporter(source Source, directOpts direct.Options, logger *slog.Logger) *Exporter {
	return &Exporter{
		source: source,
		direct: direct.NewAnalyzer(directOpts, logger),
		logger: logger,
	}
}

// Export assembles the report of the latest stored run
func (e *Exporter) Export(ctx context.Context, opts Options) (*Report, error) {
	run, err := e.source.LatestRun()
	if err != nil {
		return nil, fmt.Errorf("failed to load latest run: %w", err)
	}
	if run == nil {
		return nil, ErrNoRun
	}

	e.logger.Debug("Starting report export",
		"run", run.ID,
		"minSeverity", string(opts.MinSeverity),
		"includeClosure", opts.IncludeClosure,
	)

	snap, err := e.source.LoadSnapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to load facts: %w", err)
	}
	if len(run.ModFilter) > 0 {
		snap = snap.Restrict(run.ModFilter)
	}

	stored, err := e.source.ListFindings(storage.FindingFilter{
		MinSeverity: opts.MinSeverity,
		Mods:        opts.Mods,
		Limit:       opts.MaxFindings,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load findings: %w", err)
	}

	closure, err := e.source.LoadClosure()
	if err != nil {
		return nil, fmt.Errorf("failed to load closure: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &Report{
		Metadata: ReportMetadata{
			Tool:         "modcompat",
			Version:      version.Version,
			Generated:    time.Now().UTC().Format(time.RFC3339),
			ModCount:     len(snap.Mods),
			FindingCount: len(stored),
			ClosureRows:  closure.Len(),
		},
		Run:             run,
		Findings:        stored,
		Winners:         e.direct.Winners(snap),
		ExecutionOrders: patches.AllExecutionOrders(snap),
		ClosureStats:    closure.Stats(),
	}
	if report.Findings == nil {
		report.Findings = []*storage.StoredFinding{}
	}
	if opts.IncludeClosure {
		report.Closure = closure.Edges
	}

	org := NewOrganizer(snap, stored).Organize()
	report.Summary = org.Summary
	report.Mods = org.Mods

	return report, nil
}

// Write encodes the report as indented JSON, zstd-compressed when
// compress is set.
func Write(w io.Writer, report *Report, compress bool) error {
	if !compress {
		return encode(w, report)
	}

	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	if err := encode(zw, report); err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish zstd stream: %w", err)
	}
	return nil
}

func encode(w io.Writer, report *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// Read decodes a report written by Write, detecting compression from the
// stream header.
func Read(r io.Reader) (*Report, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(zstdMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}

	var src io.Reader = br
	if bytes.Equal(head, zstdMagic) {
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	var report Report
	if err := json.NewDecoder(src).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &report, nil
}

// WriteFile writes the report to path. A ".zst" extension forces
// compression.
func WriteFile(path string, report *Report, compress bool) error {
	if strings.HasSuffix(path, CompressedExt) {
		compress = true
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := Write(f, report, compress); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadFile reads a report written by WriteFile.
func ReadFile(path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}
