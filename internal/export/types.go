// Package export writes analysis reports: the latest run, its scored
// findings, the reference closure and the patch execution orders, as JSON
// that is optionally zstd-compressed.
package export

import (
	"modcompat/internal/direct"
	"modcompat/internal/findings"
	"modcompat/internal/patches"
	"modcompat/internal/refgraph"
	"modcompat/internal/storage"
)

// Report is the main export structure
type Report struct {
	Metadata        ReportMetadata            `json:"metadata"`
	Run             *storage.RunSummary       `json:"run"`
	Summary         findings.Summary          `json:"summary"`
	Mods            []ModSummary              `json:"mods"`
	Findings        []*storage.StoredFinding  `json:"findings"`
	Winners         []direct.Winner           `json:"winners,omitempty"`
	ExecutionOrders []patches.ExecutionOrder  `json:"executionOrders,omitempty"`
	Closure         []refgraph.TransitiveEdge `json:"closure,omitempty"`
	ClosureStats    refgraph.Stats            `json:"closureStats"`
}

// ReportMetadata contains metadata about the export
type ReportMetadata struct {
	Tool         string `json:"tool"`
	Version      string `json:"version"`
	Generated    string `json:"generated"` // ISO 8601 timestamp
	ModCount     int    `json:"modCount"`
	FindingCount int    `json:"findingCount"`
	ClosureRows  int    `json:"closureRows"`
}

// ModSummary is the per-mod overview of a report.
type ModSummary struct {
	ModID        string            `json:"modId"`
	Name         string            `json:"name"`
	LoadOrder    int               `json:"loadOrder"`
	FindingCount int               `json:"findingCount"`
	Worst        findings.Severity `json:"worst,omitempty"`
	Patterns     []string          `json:"patterns,omitempty"`
}

// Options configures the export
type Options struct {
	MinSeverity    findings.Severity // Only include findings at or above this tier
	Mods           []string          // Only include findings involving these mods
	IncludeClosure bool              // Include every closure row (default: false)
	MaxFindings    int               // Limit total findings (default: unlimited)
	Compress       bool              // zstd-compress the JSON output
	Format         string            // Output format: "json" | "text"
}

// DefaultOptions returns the default export options.
func DefaultOptions() Options {
	return Options{
		MinSeverity: findings.SeverityLow,
		Compress:    true,
		Format:      FormatJSON,
	}
}

// Output formats
const (
	FormatJSON = "json"
	FormatText = "text"
)

// CompressedExt is the file extension of compressed reports.
const CompressedExt = ".zst"
