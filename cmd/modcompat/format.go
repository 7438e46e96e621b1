package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"modcompat/internal/envelope"
	"modcompat/internal/facts"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatHuman OutputFormat = "human"
)

// Human output styles. lipgloss drops the colors when stdout is not a
// terminal.
var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	severityStyles = map[string]lipgloss.Style{
		"critical": lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		"high":     lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		"medium":   lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		"low":      lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
	}
)

// FormatResponse formats a response according to the specified format
func FormatResponse(resp interface{}, format OutputFormat) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(resp)
	case FormatHuman:
		return formatHuman(resp)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// formatJSON formats the response as JSON
func formatJSON(resp interface{}) (string, error) {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

// formatHuman formats the response in human-readable format
func formatHuman(resp interface{}) (string, error) {
	switch v := resp.(type) {
	case *envelope.Response:
		return formatEnvelopeHuman(v)
	case *ImportResponseCLI:
		return formatImportHuman(v)
	case *AnalyzeResponseCLI:
		return formatAnalyzeHuman(v)
	case *FindingsResponseCLI:
		return formatFindingsHuman(v)
	case *FindingDetailCLI:
		return formatFindingDetailHuman(v)
	case *SearchResponseCLI:
		return formatSearchHuman(v)
	case *ClosureResponseCLI:
		return formatClosureHuman(v)
	case *SimulateResponseCLI:
		return formatSimulateHuman(v)
	case *CanonicalizeResponseCLI:
		return formatCanonicalizeHuman(v)
	case *RunsResponseCLI:
		return formatRunsHuman(v)
	case *MetricsResponseCLI:
		return formatMetricsHuman(v)
	default:
		// For unknown types, fall back to JSON
		return formatJSON(resp)
	}
}

// formatEnvelopeHuman formats the payload, then the envelope's notes.
func formatEnvelopeHuman(resp *envelope.Response) (string, error) {
	body, err := formatHuman(resp.Data)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(body)

	if resp.Meta != nil && resp.Meta.Truncation != nil {
		tr := resp.Meta.Truncation
		b.WriteString(dimStyle.Render(fmt.Sprintf("\n(showing %d of %d, %s)", tr.Shown, tr.Total, tr.Reason)))
		b.WriteString("\n")
	}

	if len(resp.Warnings) > 0 {
		b.WriteString("\n" + warnStyle.Render("Warnings:") + "\n")
		for _, w := range resp.Warnings {
			b.WriteString(fmt.Sprintf("  ! %s\n", w.Message))
		}
	}

	if resp.Meta != nil && resp.Meta.Confidence != nil && resp.Meta.Provenance != nil {
		c := resp.Meta.Confidence
		b.WriteString(dimStyle.Render(fmt.Sprintf("\nRun %s, confidence %s (%.2f)", resp.Meta.Provenance.RunID, c.Tier, c.Score)))
		b.WriteString("\n")
	}

	if len(resp.SuggestedNextCalls) > 0 {
		b.WriteString("\nNext:\n")
		for _, call := range resp.SuggestedNextCalls {
			b.WriteString(fmt.Sprintf("  modcompat %s%s  # %s\n", call.Command, formatParams(call.Params), call.Reason))
		}
	}

	return strings.TrimRight(b.String(), "\n"), nil
}

func formatParams(params map[string]interface{}) string {
	var positional, flags []string
	for _, k := range sortedParamKeys(params) {
		v := params[k]
		switch {
		case k == "arg" || isPositional(k):
			positional = append(positional, fmt.Sprint(v))
		case v == true:
			flags = append(flags, "--"+k)
		default:
			flags = append(flags, fmt.Sprintf("--%s=%v", k, v))
		}
	}
	parts := append(positional, flags...)
	if len(parts) == 0 {
		return ""
	}
	return " " + strings.Join(parts, " ")
}

func isPositional(name string) bool {
	switch name {
	case "bundle", "query", "target", "definitionId", "selector":
		return true
	}
	return false
}

func sortedParamKeys(params map[string]interface{}) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func severityLabel(sev string) string {
	label := strings.ToUpper(sev)
	if style, ok := severityStyles[sev]; ok {
		return style.Render(label)
	}
	return label
}

func formatImportHuman(resp *ImportResponseCLI) (string, error) {
	var b strings.Builder

	if resp.DryRun {
		b.WriteString(headerStyle.Render(fmt.Sprintf("Bundle %s is valid (%s)", resp.Bundle, resp.Format)) + "\n")
	} else {
		b.WriteString(headerStyle.Render(fmt.Sprintf("Imported %s (%s)", resp.Bundle, resp.Format)) + "\n")
	}
	b.WriteString(strings.Repeat("─", 50) + "\n")

	c := resp.Counts
	b.WriteString(fmt.Sprintf("  Mods:            %d\n", c.Mods))
	b.WriteString(fmt.Sprintf("  Definitions:     %d\n", c.Definitions))
	b.WriteString(fmt.Sprintf("  Operations:      %d\n", c.Operations))
	b.WriteString(fmt.Sprintf("  Reference edges: %d\n", c.Edges))
	b.WriteString(fmt.Sprintf("  Patches:         %d\n", c.Patches))
	b.WriteString(fmt.Sprintf("  Methods:         %d\n", c.Methods))

	if len(resp.InvalidSelectors) > 0 {
		b.WriteString("\n" + warnStyle.Render(fmt.Sprintf("Invalid selectors (%d):", len(resp.InvalidSelectors))) + "\n")
		for _, s := range resp.InvalidSelectors {
			b.WriteString(fmt.Sprintf("  [%s] %s\n    %s\n", s.ModID, s.Selector, s.Error))
		}
	}

	return b.String(), nil
}

func formatAnalyzeHuman(resp *AnalyzeResponseCLI) (string, error) {
	var b strings.Builder

	s := resp.Summary
	verdict := okStyle.Render("COMPATIBLE")
	switch {
	case !s.Compatible:
		verdict = severityStyles["critical"].Render("INCOMPATIBLE")
	case s.CompatibleWithCaveats:
		verdict = warnStyle.Render("COMPATIBLE WITH CAVEATS")
	}

	b.WriteString(headerStyle.Render("Mod Compatibility Analysis") + "\n")
	b.WriteString(strings.Repeat("─", 60) + "\n")
	b.WriteString(fmt.Sprintf("Verdict: %s\n", verdict))
	b.WriteString(fmt.Sprintf("Findings: %d (critical %d, high %d, medium %d, low %d)\n",
		s.Total, s.Critical, s.High, s.Medium, s.Low))
	b.WriteString(fmt.Sprintf("Closure rows: %d | Patched methods: %d | Overridden targets: %d\n",
		resp.ClosureRows, resp.PatchedTargets, resp.Winners))
	if len(resp.ModFilter) > 0 {
		b.WriteString(fmt.Sprintf("Mods: %s\n", strings.Join(resp.ModFilter, ", ")))
	}
	if resp.Dropped > 0 {
		b.WriteString(dimStyle.Render(fmt.Sprintf("Dropped %d finding(s) referencing unknown mods or definitions", resp.Dropped)) + "\n")
	}
	b.WriteString("\n")

	writeFindings(&b, resp.Findings)

	if len(resp.Diagnostics) > 0 {
		b.WriteString(warnStyle.Render("Analyzer failures:") + "\n")
		for _, d := range resp.Diagnostics {
			b.WriteString(fmt.Sprintf("  %s\n", d.String()))
		}
	}

	b.WriteString(dimStyle.Render(fmt.Sprintf("Completed in %dms", resp.DurationMs)) + "\n")
	return b.String(), nil
}

func writeFindings(b *strings.Builder, fs []FindingCLI) {
	for _, f := range fs {
		line := fmt.Sprintf("%s %s", severityLabel(f.Severity), headerStyle.Render(f.PatternID))
		if f.Score != nil {
			line += dimStyle.Render(fmt.Sprintf("  score %.2f", *f.Score))
		}
		b.WriteString(line + "\n")
		b.WriteString(fmt.Sprintf("  %s\n", f.Explanation))
		if len(f.Mods) > 0 {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  mods: %s", strings.Join(f.Mods, ", "))) + "\n")
		}
		b.WriteString("\n")
	}
}

func formatFindingsHuman(resp *FindingsResponseCLI) (string, error) {
	var b strings.Builder

	b.WriteString(headerStyle.Render(fmt.Sprintf("Findings of run %s", resp.RunID)) + "\n")
	b.WriteString(strings.Repeat("─", 60) + "\n\n")

	if len(resp.Findings) == 0 {
		b.WriteString("No findings match.\n")
		return b.String(), nil
	}
	writeFindings(&b, resp.Findings)
	return b.String(), nil
}

func formatFindingDetailHuman(resp *FindingDetailCLI) (string, error) {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("%s %s\n", severityLabel(resp.Severity), headerStyle.Render(resp.PatternID)))
	b.WriteString(strings.Repeat("─", 60) + "\n")
	b.WriteString(fmt.Sprintf("ID:         %s\n", resp.ID))
	b.WriteString(fmt.Sprintf("Category:   %s\n", resp.Category))
	b.WriteString(fmt.Sprintf("Confidence: %s\n", resp.Confidence))
	b.WriteString(fmt.Sprintf("Mods:       %s\n", strings.Join(resp.Mods, ", ")))
	if len(resp.Entities) > 0 {
		b.WriteString(fmt.Sprintf("Entities:   %s\n", strings.Join(resp.Entities, ", ")))
	}
	b.WriteString(fmt.Sprintf("\n%s\n", resp.Explanation))

	if resp.Scoring != nil {
		sc := resp.Scoring
		b.WriteString(fmt.Sprintf("\nRelevance %.2f (connectivity %.2f, entity type %.2f, cross-mod %.2f, keyword %.2f, penalty %.2f)\n",
			sc.Total, sc.Connectivity, sc.EntityType, sc.ModCrossReference, sc.Keyword, sc.ArtifactPenalty))
	}

	if len(resp.Details) > 0 {
		b.WriteString("\nDetails:\n")
		for _, k := range sortedParamKeys(resp.Details) {
			val, _ := json.Marshal(resp.Details[k])
			b.WriteString(fmt.Sprintf("  %s: %s\n", k, val))
		}
	}

	return b.String(), nil
}

func formatSearchHuman(resp *SearchResponseCLI) (string, error) {
	var b strings.Builder

	b.WriteString(headerStyle.Render(fmt.Sprintf("Search: %q", resp.Query)) + "\n")
	b.WriteString(strings.Repeat("─", 60) + "\n")

	if len(resp.Matches) == 0 {
		b.WriteString("No matching findings.\n")
		return b.String(), nil
	}
	for _, m := range resp.Matches {
		b.WriteString(fmt.Sprintf("%s %s %s\n", severityLabel(m.Severity), headerStyle.Render(m.PatternID), dimStyle.Render("("+m.MatchType+")")))
		b.WriteString(fmt.Sprintf("  %s\n", m.Explanation))
		b.WriteString(dimStyle.Render("  "+m.ID) + "\n")
	}
	return b.String(), nil
}

func formatClosureHuman(resp *ClosureResponseCLI) (string, error) {
	var b strings.Builder

	if resp.Stats != nil {
		st := resp.Stats
		b.WriteString(headerStyle.Render("Reference Closure") + "\n")
		b.WriteString(strings.Repeat("─", 40) + "\n")
		b.WriteString(fmt.Sprintf("Rows:      %d\n", st.Rows))
		b.WriteString(fmt.Sprintf("Sources:   %d\n", st.Sources))
		b.WriteString(fmt.Sprintf("Targets:   %d\n", st.Targets))
		b.WriteString(fmt.Sprintf("Max depth: %d\n", st.MaxDepth))
		for d := 1; d <= st.MaxDepth; d++ {
			if n := st.ByDepth[d]; n > 0 {
				b.WriteString(fmt.Sprintf("  depth %-2d %d\n", d, n))
			}
		}
		return b.String(), nil
	}

	title := "Dependents of " + resp.DefinitionID
	if resp.Direction == "reachable" {
		title = "Reachable from " + resp.DefinitionID
	}
	b.WriteString(headerStyle.Render(title) + "\n")
	b.WriteString(strings.Repeat("─", 60) + "\n")

	if len(resp.Rows) == 0 {
		b.WriteString("None.\n")
		return b.String(), nil
	}
	for _, r := range resp.Rows {
		other := r.SourceID
		if resp.Direction == "reachable" {
			other = r.TargetID
		}
		b.WriteString(fmt.Sprintf("  %-30s depth %d  %s\n", other, r.Depth, dimStyle.Render(r.Path)))
	}
	return b.String(), nil
}

func formatSimulateHuman(resp *SimulateResponseCLI) (string, error) {
	var b strings.Builder

	if len(resp.Orders) == 0 {
		b.WriteString("No patched methods.\n")
		return b.String(), nil
	}

	for _, o := range resp.Orders {
		b.WriteString(headerStyle.Render(o.Target) + "\n")
		originalShown := false
		for i, e := range o.Entries {
			if !originalShown && (e.Kind == facts.After || e.Kind == facts.ExceptionHandler) {
				b.WriteString(dimStyle.Render("     -- original body --") + "\n")
				originalShown = true
			}
			veto := ""
			if e.CanVeto {
				veto = warnStyle.Render(" [can veto]")
			}
			b.WriteString(fmt.Sprintf("  %2d. %-16s %-20s %s (priority %d, load order %d)%s\n",
				i+1, e.Kind, e.ModID, e.PatchContainer, e.Priority, e.LoadOrder, veto))
		}
		if !originalShown {
			b.WriteString(dimStyle.Render("     -- original body --") + "\n")
		}
		for _, v := range o.Vetoes {
			b.WriteString(warnStyle.Render(fmt.Sprintf("  %s can skip: %s", v.ModID, strings.Join(v.Skips, ", "))) + "\n")
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func formatCanonicalizeHuman(resp *CanonicalizeResponseCLI) (string, error) {
	var b strings.Builder

	for _, s := range resp.Selectors {
		b.WriteString(fmt.Sprintf("%s\n", s.Raw))
		b.WriteString(fmt.Sprintf("  canonical: %s\n", s.Canonical))
		b.WriteString(fmt.Sprintf("  hash:      %s\n", s.Hash))
		if s.ConflictKey != "" {
			b.WriteString(fmt.Sprintf("  key:       %s\n", s.ConflictKey))
		}
		if !s.IsValidSyntax {
			b.WriteString(severityStyles["critical"].Render("  invalid: "+s.SyntaxError) + "\n")
		}
	}
	return b.String(), nil
}

func formatRunsHuman(resp *RunsResponseCLI) (string, error) {
	var b strings.Builder

	b.WriteString(headerStyle.Render("Analysis Runs") + "\n")
	b.WriteString(strings.Repeat("─", 80) + "\n")
	if len(resp.Runs) == 0 {
		b.WriteString("No runs recorded.\n")
		return b.String(), nil
	}
	for _, r := range resp.Runs {
		status := ""
		if len(r.Diagnostics) > 0 {
			status = warnStyle.Render(fmt.Sprintf(" %d failure(s)", len(r.Diagnostics)))
		}
		b.WriteString(fmt.Sprintf("%s  %s  findings %-4d dropped %-3d closure %d%s\n",
			r.ID, r.CompletedAt.Local().Format("2006-01-02 15:04:05"), r.FindingCount, r.DroppedCount, r.ClosureRows, status))
	}
	return b.String(), nil
}

func formatMetricsHuman(resp *MetricsResponseCLI) (string, error) {
	var b strings.Builder

	b.WriteString(headerStyle.Render("Analyzer Metrics since "+resp.Since) + "\n")
	b.WriteString(strings.Repeat("─", 70) + "\n")
	if len(resp.Analyzers) == 0 {
		b.WriteString("No runs recorded.\n")
		return b.String(), nil
	}
	b.WriteString(fmt.Sprintf("%-12s %6s %9s %13s %12s\n", "ANALYZER", "RUNS", "FAILURES", "AVG FINDINGS", "AVG MS"))
	for _, a := range resp.Analyzers {
		b.WriteString(fmt.Sprintf("%-12s %6d %9d %13.1f %12.1f\n", a.Analyzer, a.Runs, a.Failures, a.AvgFindings, a.AvgLatencyMs))
	}
	return b.String(), nil
}
