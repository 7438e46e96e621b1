package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	apperrors "modcompat/internal/errors"
	"modcompat/internal/facts"
	"modcompat/internal/storage"
)

var (
	importFormat    string
	importDryRun    bool
	importNormalize string
)

var importCmd = &cobra.Command{
	Use:   "import <bundle>",
	Short: "Import a fact bundle into the fact store",
	Long: `Import the facts produced by the extraction front end.

The bundle is a JSON, YAML or TOML file holding mods, definitions, overlay
operations, reference edges, binary patches and method facts. It is
validated as a whole and replaces every previously imported fact. The
stored reference closure is cleared until the next analyze; findings of
earlier runs are kept.

Examples:
  modcompat import facts.json
  modcompat import facts.yaml --dry-run
  modcompat import facts.toml --format human
  modcompat import facts.json --dry-run --normalize facts.yaml`,
	Args: cobra.ExactArgs(1),
	Run:  runImport,
}

func init() {
	importCmd.Flags().StringVar(&importFormat, "format", "human", "Output format (json, human)")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Validate the bundle without importing it")
	importCmd.Flags().StringVar(&importNormalize, "normalize", "", "Also write the bundle with canonical selectors and patch ids to this file (.json, .yaml or .toml)")
	rootCmd.AddCommand(importCmd)
}

// ImportResponseCLI is the CLI response format for import.
type ImportResponseCLI struct {
	Bundle           string             `json:"bundle"`
	Format           string             `json:"format"`
	DryRun           bool               `json:"dryRun"`
	Counts           storage.FactCounts `json:"counts"`
	InvalidSelectors []InvalidSelector  `json:"invalidSelectors,omitempty"`
	DurationMs       int64              `json:"durationMs"`
}

// InvalidSelector is an operation whose selector failed grammar validation.
// It is kept and analyzed with its best-effort canonical form.
type InvalidSelector struct {
	ModID    string `json:"modId"`
	Selector string `json:"selector"`
	Error    string `json:"error"`
}

func runImport(cmd *cobra.Command, args []string) {
	start := time.Now()
	repoRoot := mustGetRepoRoot()
	cfg := mustLoadConfig(repoRoot)
	logger := newLogger(cfg)

	path := args[0]
	format, err := facts.FormatFromPath(path)
	if err != nil {
		exitWithError("reading bundle", apperrors.New(apperrors.FactsInvalid, "unsupported bundle", err))
	}

	bundle, err := facts.LoadBundle(path)
	if err != nil {
		exitWithError("reading bundle", apperrors.New(apperrors.FactsInvalid, "failed to decode bundle", err))
	}
	if err := facts.Validate(bundle); err != nil {
		exitWithError("validating bundle", apperrors.New(apperrors.FactsInvalid, "bundle failed validation", err))
	}

	snap := facts.NewSnapshot(bundle)
	if importNormalize != "" {
		if err := writeNormalized(importNormalize, bundle, snap); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing normalized bundle: %v\n", err)
			os.Exit(1)
		}
	}

	response := &ImportResponseCLI{
		Bundle: path,
		Format: string(format),
		DryRun: importDryRun,
		Counts: storage.FactCounts{
			Mods:        len(bundle.Mods),
			Definitions: len(bundle.Definitions),
			Operations:  len(bundle.Operations),
			Edges:       len(bundle.Edges),
			Patches:     len(bundle.Patches),
			Methods:     len(bundle.Methods),
		},
		InvalidSelectors: invalidSelectors(snap),
	}

	if !importDryRun {
		store := mustOpenStore(repoRoot, cfg, logger)
		defer store.DB.Close()

		counts, err := store.ImportBundle(bundle)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error importing bundle: %v\n", err)
			os.Exit(1)
		}
		response.Counts = counts
	}
	response.DurationMs = time.Since(start).Milliseconds()

	printOutput(response, importFormat)

	logger.Info("Fact bundle imported",
		"bundle", path,
		"dryRun", importDryRun,
		"mods", response.Counts.Mods,
		"operations", response.Counts.Operations,
		"invalidSelectors", len(response.InvalidSelectors),
		"duration", response.DurationMs,
	)
}

func invalidSelectors(snap *facts.Snapshot) []InvalidSelector {
	var out []InvalidSelector
	for _, op := range snap.Operations {
		if !op.ValidSelector() {
			out = append(out, InvalidSelector{
				ModID:    op.ModID,
				Selector: op.RawSelector,
				Error:    op.SelectorError,
			})
		}
	}
	return out
}

// writeNormalized writes the bundle with the derived fields of snap filled
// in, in the format of the path's extension.
func writeNormalized(path string, b *facts.Bundle, snap *facts.Snapshot) error {
	format, err := facts.FormatFromPath(path)
	if err != nil {
		return err
	}

	normalized := *b
	normalized.Operations = snap.Operations
	normalized.Patches = snap.Patches

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := facts.EncodeBundle(f, &normalized, format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
