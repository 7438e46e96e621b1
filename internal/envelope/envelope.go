// Package envelope provides the standard wrapper for machine-readable CLI
// responses. Every JSON response carries metadata about the analysis run it
// came from, how much the findings can be trusted, truncation, warnings and
// suggested follow-up commands.
package envelope

// ConfidenceTier represents the quality tier of results.
type ConfidenceTier string

const (
	// TierHigh indicates a clean run whose findings are mostly high confidence.
	TierHigh ConfidenceTier = "high"
	// TierMedium indicates mixed finding confidence.
	TierMedium ConfidenceTier = "medium"
	// TierLow indicates mostly heuristic findings or a degraded run.
	TierLow ConfidenceTier = "low"
	// TierSpeculative indicates a run with failed analyzers.
	TierSpeculative ConfidenceTier = "speculative"
)

// ConfidenceFactor explains one component of the confidence score.
type ConfidenceFactor struct {
	Factor string  `json:"factor"` // e.g., "finding_confidence", "analyzer_failures"
	Status string  `json:"status"` // e.g., "clean", "degraded"
	Impact float64 `json:"impact"` // contribution to score (-1.0 to 1.0)
}

// Confidence describes result quality.
type Confidence struct {
	Score   float64            `json:"score"`             // 0.0 - 1.0
	Tier    ConfidenceTier     `json:"tier"`              // high, medium, low, speculative
	Reasons []string           `json:"reasons,omitempty"` // why this tier
	Factors []ConfidenceFactor `json:"factors,omitempty"`
}

// Provenance describes which analysis run produced the result.
type Provenance struct {
	RunID       string   `json:"runId"`
	CompletedAt string   `json:"completedAt,omitempty"`
	ModFilter   []string `json:"modFilter,omitempty"`
	ClosureRows int      `json:"closureRows"`
}

// Truncation describes result trimming.
type Truncation struct {
	IsTruncated bool   `json:"isTruncated"`
	Shown       int    `json:"shown,omitempty"`  // items returned
	Total       int    `json:"total,omitempty"`  // total available
	Reason      string `json:"reason,omitempty"` // "limit", "min-severity", etc.
}

// Meta holds response metadata.
type Meta struct {
	Confidence *Confidence `json:"confidence,omitempty"`
	Provenance *Provenance `json:"provenance,omitempty"`
	Truncation *Truncation `json:"truncation,omitempty"`
}

// SuggestedCall represents a recommended follow-up command.
type SuggestedCall struct {
	Command string                 `json:"command"`          // subcommand name
	Params  map[string]interface{} `json:"params,omitempty"` // pre-filled arguments and flags
	Reason  string                 `json:"reason,omitempty"` // why this is suggested
}

// Warning represents a non-fatal issue.
type Warning struct {
	Code    string `json:"code,omitempty"` // machine-readable code
	Message string `json:"message"`        // human-readable message
}

// Response is the standard envelope for JSON command output.
type Response struct {
	SchemaVersion      string          `json:"schemaVersion"`
	Data               interface{}     `json:"data"`
	Meta               *Meta           `json:"meta,omitempty"`
	Warnings           []Warning       `json:"warnings,omitempty"`
	Error              *string         `json:"error,omitempty"`
	SuggestedNextCalls []SuggestedCall `json:"suggestedNextCalls,omitempty"`
}

// CurrentSchemaVersion is the current envelope schema version.
const CurrentSchemaVersion = "1.0"
