package export

import (
	"fmt"
	"sort"
	"strings"

	"modcompat/internal/facts"
	"modcompat/internal/findings"
	"modcompat/internal/storage"
)

// Organizer groups report findings for reading. It adds:
// 1. Mod map (findings per mod with the worst tier)
// 2. Summary counts over the exported findings
type Organizer struct {
	snap     *facts.Snapshot
	findings []*storage.StoredFinding
}

// NewOrganizer creates a new organizer.
func NewOrganizer(snap *facts.Snapshot, fs []*storage.StoredFinding) *Organizer {
	return &Organizer{snap: snap, findings: fs}
}

// Organized contains the structured output.
type Organized struct {
	Summary findings.Summary `json:"summary"`
	Mods    []ModSummary     `json:"mods"`
}

// Organize builds the per-mod overview and the summary.
func (o *Organizer) Organize() *Organized {
	plain := make([]findings.Finding, len(o.findings))
	for i, f := range o.findings {
		plain[i] = f.Finding
	}
	result := &Organized{Summary: findings.Summarize(plain)}

	byMod := make(map[string]*ModSummary)
	patterns := make(map[string]map[string]bool)
	for _, m := range o.snap.Mods {
		byMod[m.ID] = &ModSummary{ModID: m.ID, Name: m.Name, LoadOrder: m.LoadOrder}
		patterns[m.ID] = make(map[string]bool)
	}

	for _, f := range o.findings {
		for _, modID := range f.Participants.Mods {
			s, ok := byMod[modID]
			if !ok {
				continue
			}
			s.FindingCount++
			if f.Severity.Rank() > s.Worst.Rank() {
				s.Worst = f.Severity
			}
			patterns[modID][f.PatternID] = true
		}
	}

	result.Mods = make([]ModSummary, 0, len(byMod))
	for id, s := range byMod {
		for p := range patterns[id] {
			s.Patterns = append(s.Patterns, p)
		}
		sort.Strings(s.Patterns)
		result.Mods = append(result.Mods, *s)
	}

	// Worst mods first, then load order
	sort.Slice(result.Mods, func(i, j int) bool {
		a, b := result.Mods[i], result.Mods[j]
		if a.Worst.Rank() != b.Worst.Rank() {
			return a.Worst.Rank() > b.Worst.Rank()
		}
		if a.FindingCount != b.FindingCount {
			return a.FindingCount > b.FindingCount
		}
		return a.LoadOrder < b.LoadOrder
	})

	return result
}

// RenderText renders a report as a plain text overview.
func RenderText(report *Report) string {
	var sb strings.Builder

	sb.WriteString("# Mod Compatibility Report\n")
	fmt.Fprintf(&sb, "# Generated: %s by %s %s\n", report.Metadata.Generated, report.Metadata.Tool, report.Metadata.Version)
	if report.Run != nil {
		fmt.Fprintf(&sb, "# Run: %s\n", report.Run.ID)
	}
	fmt.Fprintf(&sb, "# Mods: %d | Findings: %d | Closure rows: %d\n\n",
		report.Metadata.ModCount, report.Metadata.FindingCount, report.Metadata.ClosureRows)

	s := report.Summary
	verdict := "INCOMPATIBLE"
	switch {
	case s.Total == 0:
		verdict = "COMPATIBLE"
	case s.Compatible:
		verdict = "COMPATIBLE WITH CAVEATS"
	}
	fmt.Fprintf(&sb, "Verdict: %s (critical=%d high=%d medium=%d low=%d)\n\n",
		verdict, s.Critical, s.High, s.Medium, s.Low)

	sb.WriteString("## Mod Map\n\n")
	sb.WriteString("| Mod | Load order | Findings | Worst | Patterns |\n")
	sb.WriteString("|-----|------------|----------|-------|----------|\n")
	for _, m := range report.Mods {
		worst := string(m.Worst)
		if worst == "" {
			worst = "-"
		}
		pats := strings.Join(m.Patterns, ", ")
		if pats == "" {
			pats = "-"
		}
		fmt.Fprintf(&sb, "| %s | %d | %d | %s | %s |\n", m.Name, m.LoadOrder, m.FindingCount, worst, pats)
	}
	sb.WriteString("\n")

	if len(report.Findings) > 0 {
		sb.WriteString("## Findings\n\n")
		for _, f := range report.Findings {
			line := fmt.Sprintf("[%s/%s] %s: %s", f.Severity, f.Confidence, f.PatternID, f.Explanation)
			if f.Score != nil {
				line += fmt.Sprintf(" (score %.2f)", f.Score.Total)
			}
			sb.WriteString(line + "\n")
		}
		sb.WriteString("\n")
	}

	if len(report.ExecutionOrders) > 0 {
		sb.WriteString("## Patch Execution Order\n\n")
		for _, o := range report.ExecutionOrders {
			fmt.Fprintf(&sb, "%s\n", o.Target())
			for i, e := range o.Entries {
				fmt.Fprintf(&sb, "  %d. %-14s %s %s (priority %d)\n", i+1, e.Kind, e.ModID, e.PatchContainer, e.Priority)
			}
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "---\n")
	fmt.Fprintf(&sb, "Total: %d mods, %d findings\n", report.Metadata.ModCount, report.Metadata.FindingCount)

	return sb.String()
}
