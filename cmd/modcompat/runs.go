package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"modcompat/internal/envelope"
	"modcompat/internal/storage"
)

var (
	runsFormat    string
	runsLimit     int
	runsSince     time.Duration
	runsRetention time.Duration
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List past analysis runs",
	Long: `List past analysis runs, newest first.

Examples:
  modcompat runs
  modcompat runs --limit 5 --format json
  modcompat runs metrics --since 168h
  modcompat runs cleanup --retention 720h`,
	Run: runRuns,
}

var runsMetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show per-analyzer statistics across runs",
	Run:   runRunsMetrics,
}

var runsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete run history older than the retention period",
	Run:   runRunsCleanup,
}

func init() {
	runsCmd.PersistentFlags().StringVar(&runsFormat, "format", "human", "Output format (json, human)")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum runs to list")
	runsMetricsCmd.Flags().DurationVar(&runsSince, "since", 30*24*time.Hour, "Only runs newer than this")
	runsCleanupCmd.Flags().DurationVar(&runsRetention, "retention", 90*24*time.Hour, "Keep runs newer than this")

	runsCmd.AddCommand(runsMetricsCmd)
	runsCmd.AddCommand(runsCleanupCmd)
	rootCmd.AddCommand(runsCmd)
}

// RunsResponseCLI is the CLI response format for runs.
type RunsResponseCLI struct {
	Runs []*storage.RunSummary `json:"runs"`
}

// MetricsResponseCLI is the CLI response format for runs metrics.
type MetricsResponseCLI struct {
	Since     string             `json:"since"`
	Analyzers []AnalyzerStatsCLI `json:"analyzers"`
}

// AnalyzerStatsCLI summarizes one analyzer.
type AnalyzerStatsCLI struct {
	Analyzer     string  `json:"analyzer"`
	Runs         int64   `json:"runs"`
	Failures     int64   `json:"failures"`
	AvgFindings  float64 `json:"avgFindings"`
	AvgLatencyMs float64 `json:"avgLatencyMs"`
}

func runRuns(cmd *cobra.Command, args []string) {
	repoRoot := mustGetRepoRoot()
	cfg := mustLoadConfig(repoRoot)
	logger := newLogger(cfg)

	store := mustOpenStore(repoRoot, cfg, logger)
	defer store.DB.Close()

	runs, err := store.ListRuns(runsLimit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing runs: %v\n", err)
		os.Exit(1)
	}
	if runs == nil {
		runs = []*storage.RunSummary{}
	}

	printOutput(envelope.Operational(&RunsResponseCLI{Runs: runs}), runsFormat)
}

func runRunsMetrics(cmd *cobra.Command, args []string) {
	repoRoot := mustGetRepoRoot()
	cfg := mustLoadConfig(repoRoot)
	logger := newLogger(cfg)

	store := mustOpenStore(repoRoot, cfg, logger)
	defer store.DB.Close()

	since := time.Now().Add(-runsSince)
	aggs, err := store.DB.GetAnalyzerAggregates(since)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading analyzer metrics: %v\n", err)
		os.Exit(1)
	}

	cliResponse := &MetricsResponseCLI{
		Since:     since.UTC().Format(time.RFC3339),
		Analyzers: make([]AnalyzerStatsCLI, 0, len(aggs)),
	}
	for _, name := range sortedKeys(aggs) {
		a := aggs[name]
		cliResponse.Analyzers = append(cliResponse.Analyzers, AnalyzerStatsCLI{
			Analyzer:     a.Analyzer,
			Runs:         a.Runs,
			Failures:     a.Failures,
			AvgFindings:  a.AvgFindings(),
			AvgLatencyMs: a.AvgLatencyMs(),
		})
	}

	printOutput(envelope.Operational(cliResponse), runsFormat)
}

func runRunsCleanup(cmd *cobra.Command, args []string) {
	repoRoot := mustGetRepoRoot()
	cfg := mustLoadConfig(repoRoot)
	logger := newLogger(cfg)

	store := mustOpenStore(repoRoot, cfg, logger)
	defer store.DB.Close()

	deleted, err := store.DB.CleanupOldRuns(runsRetention)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error cleaning up runs: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Deleted %d run(s) older than %s\n", deleted, runsRetention)
}

func sortedKeys(m map[string]*storage.AnalyzerAggregate) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
