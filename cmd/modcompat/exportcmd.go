package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"modcompat/internal/export"
	"modcompat/internal/findings"
)

var (
	exportOutput         string
	exportFormat         string
	exportNoCompress     bool
	exportIncludeClosure bool
	exportMinSeverity    string
	exportMods           []string
	exportMaxFindings    int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the report of the latest analysis run",
	Long: `Export the full compatibility report of the latest run.

The JSON report holds the run, the findings with their scores, the summary,
a per-mod overview, load-order winners, the simulated execution order of
every patched method and closure statistics. It is zstd-compressed unless
--no-compress is given or export.compress is false; a .zst output name
always compresses. The text format is a readable overview.

Without --output the report is written to the configured export directory
(.modcompat/reports by default). Use --output - for stdout.

Examples:
  modcompat export
  modcompat export --output report.json.zst --include-closure
  modcompat export --format text --output -
  modcompat export --min-severity high --mods Hardcore`,
	Run: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (- for stdout)")
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "Output format (json, text)")
	exportCmd.Flags().BoolVar(&exportNoCompress, "no-compress", false, "Write plain JSON")
	exportCmd.Flags().BoolVar(&exportIncludeClosure, "include-closure", false, "Include every closure row")
	exportCmd.Flags().StringVar(&exportMinSeverity, "min-severity", "low", "Only include findings at or above this severity")
	exportCmd.Flags().StringSliceVar(&exportMods, "mods", nil, "Only include findings involving these mod ids")
	exportCmd.Flags().IntVar(&exportMaxFindings, "max-findings", 0, "Limit total findings (0 = unlimited)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) {
	start := time.Now()
	repoRoot := mustGetRepoRoot()
	cfg := mustLoadConfig(repoRoot)
	logger := newLogger(cfg)

	minSeverity, err := findings.ParseSeverity(exportMinSeverity)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if exportFormat != export.FormatJSON && exportFormat != export.FormatText {
		fmt.Fprintf(os.Stderr, "Error: unsupported format: %s\n", exportFormat)
		os.Exit(1)
	}

	store := mustOpenStore(repoRoot, cfg, logger)
	defer store.DB.Close()

	opts := export.DefaultOptions()
	opts.MinSeverity = minSeverity
	opts.Mods = exportMods
	opts.IncludeClosure = exportIncludeClosure
	opts.MaxFindings = exportMaxFindings
	opts.Compress = cfg.Export.Compress && !exportNoCompress
	opts.Format = exportFormat

	exporter := export.NewExporter(store, cfg.Direct, logger)
	report, err := exporter.Export(newContext(), opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error exporting: %v\n", err)
		os.Exit(1)
	}

	path := exportOutput
	if path == "" {
		path = defaultReportPath(cfg.ExportDir(repoRoot), report.Run.ID, opts)
	}

	switch {
	case opts.Format == export.FormatText && path == "-":
		fmt.Println(export.RenderText(report))
	case opts.Format == export.FormatText:
		if err := writeTextReport(path, export.RenderText(report)); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing report: %v\n", err)
			os.Exit(1)
		}
	case path == "-":
		if err := export.Write(os.Stdout, report, false); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing report: %v\n", err)
			os.Exit(1)
		}
	default:
		if err := export.WriteFile(path, report, opts.Compress); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing report: %v\n", err)
			os.Exit(1)
		}
	}

	if path != "-" {
		fmt.Fprintf(os.Stderr, "Report written to %s\n", path)
	}

	logger.Debug("Export completed",
		"run", report.Run.ID,
		"findings", report.Metadata.FindingCount,
		"mods", report.Metadata.ModCount,
		"duration", time.Since(start).Milliseconds(),
	)
}

// defaultReportPath names the report file after the run it describes.
func defaultReportPath(dir, runID string, opts export.Options) string {
	name := "report-" + runID
	switch {
	case opts.Format == export.FormatText:
		name += ".txt"
	case opts.Compress:
		name += ".json" + export.CompressedExt
	default:
		name += ".json"
	}
	return filepath.Join(dir, name)
}

func writeTextReport(path, text string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return os.WriteFile(path, []byte(text), 0644)
}
