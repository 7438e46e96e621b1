package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"modcompat/internal/envelope"
	"modcompat/internal/refgraph"
)

var (
	closureFormat     string
	closureDependents string
	closureReachable  string
	closureMaxDepth   int
)

var closureCmd = &cobra.Command{
	Use:   "closure",
	Short: "Query the transitive reference closure",
	Long: `Query the reference closure stored by the latest analyze.

Without a query flag, print closure statistics.

Examples:
  modcompat closure
  modcompat closure --dependents item-gun-base
  modcompat closure --reachable recipe-gun-pistol --max-depth 2`,
	Run: runClosure,
}

func init() {
	closureCmd.Flags().StringVar(&closureFormat, "format", "human", "Output format (json, human)")
	closureCmd.Flags().StringVar(&closureDependents, "dependents", "", "List definitions that transitively reference this definition id")
	closureCmd.Flags().StringVar(&closureReachable, "reachable", "", "List definitions reachable from this definition id")
	closureCmd.Flags().IntVar(&closureMaxDepth, "max-depth", 0, "Only rows up to this depth (0 for all)")
	closureCmd.MarkFlagsMutuallyExclusive("dependents", "reachable")
	rootCmd.AddCommand(closureCmd)
}

// ClosureResponseCLI is the CLI response format for closure queries.
type ClosureResponseCLI struct {
	DefinitionID string           `json:"definitionId,omitempty"`
	Direction    string           `json:"direction,omitempty"` // "dependents" or "reachable"
	Rows         []ClosureEdgeCLI `json:"rows,omitempty"`
	Stats        *refgraph.Stats  `json:"stats,omitempty"`
}

// ClosureEdgeCLI is one closure row in CLI format.
type ClosureEdgeCLI struct {
	SourceID string   `json:"sourceId"`
	TargetID string   `json:"targetId"`
	Depth    int      `json:"depth"`
	Path     string   `json:"path"`
	Tags     []string `json:"tags"`
}

func runClosure(cmd *cobra.Command, args []string) {
	repoRoot := mustGetRepoRoot()
	cfg := mustLoadConfig(repoRoot)
	logger := newLogger(cfg)

	store := mustOpenStore(repoRoot, cfg, logger)
	defer store.DB.Close()
	run := mustLatestRun(store)

	cliResponse := &ClosureResponseCLI{}

	var (
		rows []refgraph.TransitiveEdge
		err  error
	)
	switch {
	case closureDependents != "":
		cliResponse.DefinitionID, cliResponse.Direction = closureDependents, "dependents"
		rows, err = store.Dependents(closureDependents)
	case closureReachable != "":
		cliResponse.DefinitionID, cliResponse.Direction = closureReachable, "reachable"
		rows, err = store.Reachable(closureReachable)
	default:
		closure, lerr := store.LoadClosure()
		if lerr != nil {
			fmt.Fprintf(os.Stderr, "Error loading closure: %v\n", lerr)
			os.Exit(1)
		}
		stats := closure.Stats()
		cliResponse.Stats = &stats
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error querying closure: %v\n", err)
		os.Exit(1)
	}

	if cliResponse.Direction != "" && !store.DefinitionExists(cliResponse.DefinitionID) {
		fmt.Fprintf(os.Stderr, "Error: unknown definition %q\n", cliResponse.DefinitionID)
		os.Exit(1)
	}

	for _, e := range rows {
		if closureMaxDepth > 0 && e.Depth > closureMaxDepth {
			continue
		}
		cliResponse.Rows = append(cliResponse.Rows, ClosureEdgeCLI{
			SourceID: e.SourceID,
			TargetID: e.TargetID,
			Depth:    e.Depth,
			Path:     formatPath(e),
			Tags:     e.Tags,
		})
	}

	resp := envelope.New().
		Data(cliResponse).
		FromRun(run, nil).
		Build()

	printOutput(resp, closureFormat)
}

// formatPath renders a closure path as "source -tag-> def -tag-> target".
func formatPath(e refgraph.TransitiveEdge) string {
	s := e.SourceID
	for _, step := range e.Path {
		s += " -" + step.Tag + "-> " + step.DefinitionID
	}
	return s
}
