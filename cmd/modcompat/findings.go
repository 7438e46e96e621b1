package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"modcompat/internal/envelope"
	"modcompat/internal/findings"
	"modcompat/internal/relevance"
	"modcompat/internal/storage"
)

var (
	findingsFormat      string
	findingsMinSeverity string
	findingsMods        []string
	findingsPattern     string
	findingsCategory    string
	findingsLimit       int
)

var findingsCmd = &cobra.Command{
	Use:   "findings [finding-id]",
	Short: "List the findings of the latest analysis run",
	Long: `List the stored findings of the latest run, most severe first.

With a finding id, show that finding in full.

Examples:
  modcompat findings
  modcompat findings --min-severity high
  modcompat findings --mods Hardcore --pattern D2
  modcompat findings --category patch --format json
  modcompat findings 3f2a9c1e-...`,
	Args: cobra.MaximumNArgs(1),
	Run:  runFindings,
}

func init() {
	findingsCmd.Flags().StringVar(&findingsFormat, "format", "human", "Output format (json, human)")
	findingsCmd.Flags().StringVar(&findingsMinSeverity, "min-severity", "low", "Minimum severity (low, medium, high, critical)")
	findingsCmd.Flags().StringSliceVar(&findingsMods, "mods", nil, "Only findings involving these mod ids")
	findingsCmd.Flags().StringVar(&findingsPattern, "pattern", "", "Only findings of this pattern id")
	findingsCmd.Flags().StringVar(&findingsCategory, "category", "", "Only findings of this category")
	findingsCmd.Flags().IntVar(&findingsLimit, "limit", 100, "Maximum results to return (0 for all)")
	rootCmd.AddCommand(findingsCmd)
}

// FindingsResponseCLI is the CLI response format for findings.
type FindingsResponseCLI struct {
	RunID    string       `json:"runId"`
	Findings []FindingCLI `json:"findings"`
}

// FindingDetailCLI is one finding with its details and score breakdown.
type FindingDetailCLI struct {
	FindingCLI
	Details map[string]interface{} `json:"details,omitempty"`
	Scoring *relevance.Score       `json:"scoring,omitempty"`
}

func runFindings(cmd *cobra.Command, args []string) {
	repoRoot := mustGetRepoRoot()
	cfg := mustLoadConfig(repoRoot)
	logger := newLogger(cfg)

	store := mustOpenStore(repoRoot, cfg, logger)
	defer store.DB.Close()
	run := mustLatestRun(store)

	if len(args) == 1 {
		showFinding(store, run, args[0])
		return
	}

	minSeverity, err := findings.ParseSeverity(findingsMinSeverity)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	filter := storage.FindingFilter{
		MinSeverity: minSeverity,
		Mods:        findingsMods,
		Pattern:     findingsPattern,
		Category:    findings.Category(findingsCategory),
	}
	if findingsLimit > 0 {
		// One extra row tells whether the list was cut.
		filter.Limit = findingsLimit + 1
	}

	stored, err := store.ListFindings(filter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing findings: %v\n", err)
		os.Exit(1)
	}

	truncated := findingsLimit > 0 && len(stored) > findingsLimit
	if truncated {
		stored = stored[:findingsLimit]
	}

	cliResponse := &FindingsResponseCLI{
		RunID:    run.ID,
		Findings: make([]FindingCLI, 0, len(stored)),
	}
	plain := make([]findings.Finding, 0, len(stored))
	for _, sf := range stored {
		cliResponse.Findings = append(cliResponse.Findings, convertStoredFinding(sf))
		plain = append(plain, sf.Finding)
	}

	resp := envelope.New().
		Data(cliResponse).
		FromRun(run, plain).
		WithTruncation(truncated, len(stored), run.FindingCount, "limit").
		Build()

	printOutput(resp, findingsFormat)
}

func showFinding(store *storage.Store, run *storage.RunSummary, id string) {
	sf, err := store.GetFinding(id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading finding: %v\n", err)
		os.Exit(1)
	}
	if sf == nil {
		fmt.Fprintf(os.Stderr, "Error: finding %s not found in run %s\n", id, run.ID)
		os.Exit(1)
	}

	detail := &FindingDetailCLI{
		FindingCLI: convertStoredFinding(sf),
		Details:    sf.Details,
		Scoring:    sf.Score,
	}

	resp := envelope.New().
		Data(detail).
		FromRun(run, []findings.Finding{sf.Finding}).
		Build()

	printOutput(resp, findingsFormat)
}

func convertStoredFinding(sf *storage.StoredFinding) FindingCLI {
	item := convertFinding(sf.Finding)
	if sf.Score != nil {
		total := sf.Score.Total
		item.Score = &total
	}
	return item
}
