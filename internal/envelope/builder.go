package envelope

import (
	"sort"
	"strings"
	"time"

	"modcompat/internal/findings"
	"modcompat/internal/storage"
)

// Builder constructs Response envelopes using a fluent API.
type Builder struct {
	resp *Response
}

// New creates a new envelope builder.
func New() *Builder {
	return &Builder{
		resp: &Response{
			SchemaVersion: CurrentSchemaVersion,
		},
	}
}

// Data sets the command-specific payload.
func (b *Builder) Data(data interface{}) *Builder {
	b.resp.Data = data
	return b
}

func (b *Builder) meta() *Meta {
	if b.resp.Meta == nil {
		b.resp.Meta = &Meta{}
	}
	return b.resp.Meta
}

// FromRun populates provenance and confidence from an analysis run and the
// findings the response is about. Analyzer failures recorded on the run
// become warnings.
func (b *Builder) FromRun(run *storage.RunSummary, fs []findings.Finding) *Builder {
	if run == nil {
		return b
	}

	m := b.meta()
	m.Provenance = &Provenance{
		RunID:       run.ID,
		ModFilter:   run.ModFilter,
		ClosureRows: run.ClosureRows,
	}
	if !run.CompletedAt.IsZero() {
		m.Provenance.CompletedAt = run.CompletedAt.UTC().Format(time.RFC3339)
	}

	factors := generateConfidenceFactors(run, fs)
	score := 1.0
	for _, f := range factors {
		score += f.Impact
	}
	if score < 0 {
		score = 0
	}

	m.Confidence = &Confidence{
		Score:   score,
		Tier:    ScoreToTier(score),
		Factors: factors,
	}
	if len(run.Diagnostics) > 0 {
		m.Confidence.Reasons = append(m.Confidence.Reasons, "analyzer-failures")
	}
	if run.DroppedCount > 0 {
		m.Confidence.Reasons = append(m.Confidence.Reasons, "dropped-findings")
	}

	for _, d := range run.Diagnostics {
		b.WarningWithCode(d.Code, d.String())
	}

	return b
}

// generateConfidenceFactors explains the confidence score of a run.
func generateConfidenceFactors(run *storage.RunSummary, fs []findings.Finding) []ConfidenceFactor {
	var factors []ConfidenceFactor

	mean := FindingConfidence(fs)
	status := "high"
	if mean < 1.0 {
		status = "mixed"
	}
	factors = append(factors, ConfidenceFactor{
		Factor: "finding_confidence",
		Status: status,
		Impact: mean - 1.0,
	})

	// A failed analyzer hides a whole conflict family
	if n := len(run.Diagnostics); n > 0 {
		impact := -0.3 * float64(n)
		if impact < -0.9 {
			impact = -0.9
		}
		factors = append(factors, ConfidenceFactor{
			Factor: "analyzer_failures",
			Status: "degraded",
			Impact: impact,
		})
	} else {
		factors = append(factors, ConfidenceFactor{
			Factor: "analyzer_failures",
			Status: "clean",
			Impact: 0.0,
		})
	}

	if run.DroppedCount > 0 {
		factors = append(factors, ConfidenceFactor{
			Factor: "dropped_findings",
			Status: "present",
			Impact: -0.05,
		})
	}

	return factors
}

// WithTruncation adds truncation metadata.
func (b *Builder) WithTruncation(truncated bool, shown, total int, reason string) *Builder {
	if !truncated {
		return b
	}

	b.meta().Truncation = &Truncation{
		IsTruncated: true,
		Shown:       shown,
		Total:       total,
		Reason:      reason,
	}

	return b
}

// SuggestCalls converts follow-up command lines such as
// "findings --min-severity=high" into structured suggested calls.
func (b *Builder) SuggestCalls(commands map[string]string) *Builder {
	if len(commands) == 0 {
		return b
	}

	for line, reason := range commands {
		call := ParseCommand(line)
		if call != nil {
			call.Reason = reason
			b.resp.SuggestedNextCalls = append(b.resp.SuggestedNextCalls, *call)
		}
	}

	// Map iteration order is random
	sort.SliceStable(b.resp.SuggestedNextCalls, func(i, j int) bool {
		return b.resp.SuggestedNextCalls[i].Command < b.resp.SuggestedNextCalls[j].Command
	})
	return b
}

// Warning adds a warning message.
func (b *Builder) Warning(msg string) *Builder {
	b.resp.Warnings = append(b.resp.Warnings, Warning{Message: msg})
	return b
}

// WarningWithCode adds a warning with a code.
func (b *Builder) WarningWithCode(code, msg string) *Builder {
	b.resp.Warnings = append(b.resp.Warnings, Warning{Code: code, Message: msg})
	return b
}

// Error sets the error field.
func (b *Builder) Error(err error) *Builder {
	if err != nil {
		msg := err.Error()
		b.resp.Error = &msg
	}
	return b
}

// Build returns the completed response envelope.
func (b *Builder) Build() *Response {
	return b.resp
}

// ParseCommand converts a command line to a SuggestedCall.
func ParseCommand(line string) *SuggestedCall {
	// Format: "command positional --flag=value"
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}

	command := parts[0]
	params := make(map[string]interface{})

	position := 0
	for _, part := range parts[1:] {
		if strings.HasPrefix(part, "--") {
			kv := strings.SplitN(strings.TrimPrefix(part, "--"), "=", 2)
			if len(kv) == 2 {
				params[kv[0]] = kv[1]
			} else {
				params[kv[0]] = true
			}
			continue
		}
		params[inferPositionalParam(command, position)] = part
		position++
	}

	return &SuggestedCall{
		Command: command,
		Params:  params,
	}
}

// inferPositionalParam names positional arguments by command.
func inferPositionalParam(command string, position int) string {
	commandParams := map[string][]string{
		"import":       {"bundle"},
		"search":       {"query"},
		"simulate":     {"target"},
		"closure":      {"definitionId"},
		"canonicalize": {"selector"},
	}

	if params, ok := commandParams[command]; ok && position < len(params) {
		return params[position]
	}
	return "arg"
}

// Operational creates a simple envelope for commands that do not depend on
// an analysis run. These always have full confidence.
func Operational(data interface{}) *Response {
	return &Response{
		SchemaVersion: CurrentSchemaVersion,
		Data:          data,
		Meta: &Meta{
			Confidence: &Confidence{
				Score: 1.0,
				Tier:  TierHigh,
			},
		},
	}
}
