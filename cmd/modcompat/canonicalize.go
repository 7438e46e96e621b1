package main

import (
	"os"

	"github.com/spf13/cobra"

	"modcompat/internal/envelope"
	"modcompat/internal/selector"
)

var (
	canonicalizeFormat string
	canonicalizeKind   string
	canonicalizeFile   string
)

var canonicalizeCmd = &cobra.Command{
	Use:   "canonicalize <selector>...",
	Short: "Print the canonical form and hash of overlay selectors",
	Long: `Normalize overlay selectors the way the analyzers compare them.

Whitespace is collapsed, quoting is unified and "and"-joined predicates are
sorted. Invalid selectors still get a best-effort canonical form. With
--kind, the conflict key the direct analyzer groups by is printed too.

Exits with status 1 when any selector is syntactically invalid.

Examples:
  modcompat canonicalize "/items/item[ @name = \"gunPistol\" ]"
  modcompat canonicalize --kind Set --file items.xml "/items/item[@name='gunPistol']/@value"`,
	Args: cobra.MinimumNArgs(1),
	Run:  runCanonicalize,
}

func init() {
	canonicalizeCmd.Flags().StringVar(&canonicalizeFormat, "format", "human", "Output format (json, human)")
	canonicalizeCmd.Flags().StringVar(&canonicalizeKind, "kind", "", "Operation kind for the conflict key")
	canonicalizeCmd.Flags().StringVar(&canonicalizeFile, "file", "", "Target file that scopes the conflict key")
	rootCmd.AddCommand(canonicalizeCmd)
}

// CanonicalizeResponseCLI is the CLI response format for canonicalize.
type CanonicalizeResponseCLI struct {
	Selectors []CanonicalSelectorCLI `json:"selectors"`
}

// CanonicalSelectorCLI is one canonicalized selector.
type CanonicalSelectorCLI struct {
	Raw string `json:"raw"`
	selector.Result
	ConflictKey string `json:"conflictKey,omitempty"`
}

func runCanonicalize(cmd *cobra.Command, args []string) {
	cliResponse := &CanonicalizeResponseCLI{Selectors: make([]CanonicalSelectorCLI, 0, len(args))}

	invalid := false
	for _, raw := range args {
		res := selector.Canonicalize(raw)
		item := CanonicalSelectorCLI{Raw: raw, Result: res}
		if canonicalizeKind != "" {
			item.ConflictKey = selector.ComputeScopedConflictKey(canonicalizeFile, res.Canonical, canonicalizeKind)
		}
		if !res.IsValidSyntax {
			invalid = true
		}
		cliResponse.Selectors = append(cliResponse.Selectors, item)
	}

	printOutput(envelope.Operational(cliResponse), canonicalizeFormat)

	if invalid {
		os.Exit(1)
	}
}
