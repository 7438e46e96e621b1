// Package findings defines the common record emitted by every conflict
// analyzer, with its severity and confidence scales.
package findings

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Severity ranks how badly a conflict can break the game.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from 1 (low) to 4 (critical); unknown is 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Downgrade returns the next lower severity. Low stays Low.
func (s Severity) Downgrade() Severity {
	switch s {
	case SeverityCritical:
		return SeverityHigh
	case SeverityHigh:
		return SeverityMedium
	}
	return SeverityLow
}

// AtLeast reports whether s is min or worse.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

// ParseSeverity parses a case-insensitive severity name.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if sev.Rank() == 0 {
		return "", fmt.Errorf("unknown severity %q (want low, medium, high or critical)", s)
	}
	return sev, nil
}

// Confidence is how sure the analyzer is that the conflict is real.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Rank orders confidences from 1 (low) to 3 (high).
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceLow:
		return 1
	case ConfidenceMedium:
		return 2
	case ConfidenceHigh:
		return 3
	}
	return 0
}

// Downgrade returns the next lower confidence. Low stays Low.
func (c Confidence) Downgrade() Confidence {
	if c == ConfidenceHigh {
		return ConfidenceMedium
	}
	return ConfidenceLow
}

// Category is the analyzer family that produced a finding.
type Category string

const (
	CategoryDirect   Category = "direct"
	CategoryEffect   Category = "effect"
	CategoryIndirect Category = "indirect"
	CategoryPatch    Category = "patch"
)

// Participants are the mods and entities involved in a finding. Entities
// are definition ids when the entity resolved, otherwise a readable key.
type Participants struct {
	Mods     []string `json:"mods"`
	Entities []string `json:"entities"`
}

// Finding is one detected conflict or risk.
type Finding struct {
	ID           string         `json:"id"`
	PatternID    string         `json:"pattern_id"`
	Category     Category       `json:"category"`
	Severity     Severity       `json:"severity"`
	Confidence   Confidence     `json:"confidence"`
	Participants Participants   `json:"participants"`
	ConflictKey  string         `json:"conflict_key,omitempty"`
	Explanation  string         `json:"explanation"`
	Details      map[string]any `json:"details,omitempty"`
}

var namespace = uuid.MustParse("6f1c3b0e-4d0a-5b8e-9c61-3a7d2f9e0b14")

// New builds a finding and derives its id. The id is stable across runs
// for the same pattern, key and participants.
func New(pattern string, category Category, sev Severity, conf Confidence, mods, entities []string, key, explanation string) Finding {
	f := Finding{
		PatternID:  pattern,
		Category:   category,
		Severity:   sev,
		Confidence: conf,
		Participants: Participants{
			Mods:     uniqueSorted(mods),
			Entities: uniqueSorted(entities),
		},
		ConflictKey: key,
		Explanation: explanation,
	}
	f.ID = f.computeID()
	return f
}

// With attaches a detail entry and returns the finding.
func (f Finding) With(key string, value any) Finding {
	if f.Details == nil {
		f.Details = make(map[string]any)
	}
	f.Details[key] = value
	return f
}

func (f Finding) computeID() string {
	name := strings.Join([]string{
		f.PatternID,
		f.ConflictKey,
		strings.Join(f.Participants.Mods, ","),
		strings.Join(f.Participants.Entities, ","),
	}, "|")
	return uuid.NewSHA1(namespace, []byte(name)).String()
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Sort orders findings by severity (worst first), then pattern and id.
func Sort(fs []Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		if fs[i].Severity.Rank() != fs[j].Severity.Rank() {
			return fs[i].Severity.Rank() > fs[j].Severity.Rank()
		}
		if fs[i].PatternID != fs[j].PatternID {
			return fs[i].PatternID < fs[j].PatternID
		}
		return fs[i].ID < fs[j].ID
	})
}

// Filter keeps findings at or above min severity that involve at least
// one of mods (all findings when mods is empty).
func Filter(fs []Finding, min Severity, mods []string) []Finding {
	want := make(map[string]bool, len(mods))
	for _, m := range mods {
		want[m] = true
	}
	var out []Finding
	for _, f := range fs {
		if min != "" && !f.Severity.AtLeast(min) {
			continue
		}
		if len(want) > 0 && !involvesAny(f, want) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func involvesAny(f Finding, mods map[string]bool) bool {
	for _, m := range f.Participants.Mods {
		if mods[m] {
			return true
		}
	}
	return false
}
