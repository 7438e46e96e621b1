package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"modcompat/internal/engine"
	"modcompat/internal/envelope"
	"modcompat/internal/findings"
	"modcompat/internal/storage"
)

var (
	analyzeFormat  string
	analyzeMods    []string
	analyzeLimit   int
	analyzeFailOn  string
	analyzeTimeout time.Duration
)

// exitIncompatible is the exit code when findings reach --fail-on.
const exitIncompatible = 2

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run every conflict analyzer over the imported facts",
	Long: `Analyze the imported facts for conflicts between mods.

Builds the transitive reference closure, runs the direct, effect, indirect
and patch analyzers, validates and scores the findings and stores the run.
A failing analyzer is reported as a diagnostic; the others still run.

Exits with status 2 when a finding reaches --fail-on.

Examples:
  modcompat analyze
  modcompat analyze --mods BetterGuns,Hardcore
  modcompat analyze --fail-on critical --format json
  modcompat analyze --fail-on none --limit 0`,
	Run: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeFormat, "format", "human", "Output format (json, human)")
	analyzeCmd.Flags().StringSliceVar(&analyzeMods, "mods", nil, "Restrict the analysis to these mods (id or name)")
	analyzeCmd.Flags().IntVar(&analyzeLimit, "limit", 50, "Maximum findings to print (0 for all)")
	analyzeCmd.Flags().StringVar(&analyzeFailOn, "fail-on", "high", "Exit 2 when a finding reaches this severity (low, medium, high, critical, none)")
	analyzeCmd.Flags().DurationVar(&analyzeTimeout, "timeout", 0, "Abort the analysis after this duration (0 for no limit)")
	rootCmd.AddCommand(analyzeCmd)
}

// AnalyzeResponseCLI is the CLI response format for analyze.
type AnalyzeResponseCLI struct {
	RunID          string                `json:"runId"`
	ModFilter      []string              `json:"modFilter,omitempty"`
	Summary        findings.Summary      `json:"summary"`
	Findings       []FindingCLI          `json:"findings"`
	Diagnostics    []findings.Diagnostic `json:"diagnostics,omitempty"`
	Dropped        int                   `json:"dropped"`
	ClosureRows    int                   `json:"closureRows"`
	PatchedTargets int                   `json:"patchedTargets"`
	Winners        int                   `json:"winners"`
	DurationMs     int64                 `json:"durationMs"`
}

// FindingCLI is a single finding in CLI format.
type FindingCLI struct {
	ID          string   `json:"id"`
	PatternID   string   `json:"patternId"`
	Category    string   `json:"category"`
	Severity    string   `json:"severity"`
	Confidence  string   `json:"confidence"`
	Mods        []string `json:"mods"`
	Entities    []string `json:"entities,omitempty"`
	ConflictKey string   `json:"conflictKey,omitempty"`
	Explanation string   `json:"explanation"`
	Score       *float64 `json:"score,omitempty"`
}

func runAnalyze(cmd *cobra.Command, args []string) {
	start := time.Now()
	repoRoot := mustGetRepoRoot()
	cfg := mustLoadConfig(repoRoot)
	logger := newLogger(cfg)

	var failOn findings.Severity
	if analyzeFailOn != "none" {
		sev, err := findings.ParseSeverity(analyzeFailOn)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		failOn = sev
	}

	opts, err := cfg.EngineOptions(repoRoot)
	if err != nil {
		exitWithError("loading scoring profile", err)
	}

	store := mustOpenStore(repoRoot, cfg, logger)
	defer store.DB.Close()

	ctx := newContext()
	if analyzeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, analyzeTimeout)
		defer cancel()
	}

	runID := uuid.New().String()
	if err := loggerFactory.StartRun(runID); err != nil {
		logger.Warn("Failed to start run log", "run", runID, "error", err)
	}
	result, err := engine.New(store, opts, logger).WithRunID(runID).Run(ctx, analyzeMods)
	if err != nil {
		exitWithError("running analysis", err)
	}

	cliResponse := convertAnalyzeResult(result)
	cliResponse.DurationMs = time.Since(start).Milliseconds()

	shown := cliResponse.Findings
	if analyzeLimit > 0 && len(shown) > analyzeLimit {
		cliResponse.Findings = shown[:analyzeLimit]
	}

	run := &storage.RunSummary{
		ID:           result.RunID,
		StartedAt:    result.StartedAt,
		CompletedAt:  result.CompletedAt,
		ModFilter:    result.ModFilter,
		FindingCount: len(result.Findings),
		DroppedCount: result.Dropped,
		ClosureRows:  result.Closure.Len(),
		Diagnostics:  result.Diagnostics,
	}
	resp := envelope.New().
		Data(cliResponse).
		FromRun(run, result.Findings).
		WithTruncation(len(cliResponse.Findings) < len(shown), len(cliResponse.Findings), len(shown), "limit").
		SuggestCalls(analyzeSuggestions(result)).
		Build()

	printOutput(resp, analyzeFormat)

	logger.Debug("Analysis completed",
		"run", result.RunID,
		"findings", len(result.Findings),
		"duration", cliResponse.DurationMs,
	)

	if failOn != "" && reaches(result.Findings, failOn) {
		store.DB.Close()
		closeLogger()
		os.Exit(exitIncompatible)
	}
}

func convertAnalyzeResult(result *engine.Result) *AnalyzeResponseCLI {
	cli := &AnalyzeResponseCLI{
		RunID:          result.RunID,
		ModFilter:      result.ModFilter,
		Summary:        result.Summary,
		Findings:       make([]FindingCLI, 0, len(result.Findings)),
		Diagnostics:    result.Diagnostics,
		Dropped:        result.Dropped,
		ClosureRows:    result.Closure.Len(),
		PatchedTargets: len(result.ExecutionOrders),
		Winners:        len(result.Winners),
	}

	for _, f := range result.Findings {
		item := convertFinding(f)
		if s, ok := result.ScoreOf(f.ID); ok {
			total := s.Total
			item.Score = &total
		}
		cli.Findings = append(cli.Findings, item)
	}

	return cli
}

func convertFinding(f findings.Finding) FindingCLI {
	return FindingCLI{
		ID:          f.ID,
		PatternID:   f.PatternID,
		Category:    string(f.Category),
		Severity:    string(f.Severity),
		Confidence:  string(f.Confidence),
		Mods:        f.Participants.Mods,
		Entities:    f.Participants.Entities,
		ConflictKey: f.ConflictKey,
		Explanation: f.Explanation,
	}
}

// reaches reports whether any finding is at least threshold.
func reaches(fs []findings.Finding, threshold findings.Severity) bool {
	for _, f := range fs {
		if f.Severity.AtLeast(threshold) {
			return true
		}
	}
	return false
}

func analyzeSuggestions(result *engine.Result) map[string]string {
	calls := make(map[string]string)
	if result.Summary.Critical+result.Summary.High > 0 {
		calls["findings --min-severity=high"] = "List the findings that break compatibility"
	}
	if len(result.ExecutionOrders) > 0 {
		calls["simulate "+result.ExecutionOrders[0].Target()] = "Inspect the simulated patch order"
	}
	if len(result.Findings) > 0 {
		calls["export"] = "Write the full report"
	}
	return calls
}
