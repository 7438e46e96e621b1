package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"modcompat/internal/envelope"
	"modcompat/internal/storage"
)

var (
	searchFormat string
	searchLimit  int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search over the stored findings",
	Long: `Search finding explanations, pattern ids and participants of the latest run.

Exact phrase matches rank first, then prefix matches, then substring matches.

Examples:
  modcompat search gunBase
  modcompat search "load order"
  modcompat search Hardcore --limit 5`,
	Args: cobra.ExactArgs(1),
	Run:  runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchFormat, "format", "human", "Output format (json, human)")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "Maximum results to return")
	rootCmd.AddCommand(searchCmd)
}

// SearchResponseCLI is the CLI response format for search.
type SearchResponseCLI struct {
	Query      string                 `json:"query"`
	Matches    []storage.FindingMatch `json:"matches"`
	DurationMs int64                  `json:"durationMs"`
}

func runSearch(cmd *cobra.Command, args []string) {
	start := time.Now()
	repoRoot := mustGetRepoRoot()
	cfg := mustLoadConfig(repoRoot)
	logger := newLogger(cfg)

	store := mustOpenStore(repoRoot, cfg, logger)
	defer store.DB.Close()
	run := mustLatestRun(store)

	matches, err := store.SearchFindings(newContext(), args[0], searchLimit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error searching findings: %v\n", err)
		os.Exit(1)
	}
	if matches == nil {
		matches = []storage.FindingMatch{}
	}

	cliResponse := &SearchResponseCLI{
		Query:      args[0],
		Matches:    matches,
		DurationMs: time.Since(start).Milliseconds(),
	}

	resp := envelope.New().
		Data(cliResponse).
		FromRun(run, nil).
		Build()
	if len(matches) > 0 {
		resp.SuggestedNextCalls = append(resp.SuggestedNextCalls, envelope.SuggestedCall{
			Command: "findings",
			Params:  map[string]interface{}{"arg": matches[0].ID},
			Reason:  "Show the best match in full",
		})
	}

	printOutput(resp, searchFormat)

	logger.Debug("Search completed",
		"query", args[0],
		"matches", len(matches),
		"duration", cliResponse.DurationMs,
	)
}
