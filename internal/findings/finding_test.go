package findings

import (
	"testing"
)

func TestSeverityOrdering(t *testing.T) {
	tests := []struct {
		sev       Severity
		rank      int
		downgrade Severity
	}{
		{SeverityCritical, 4, SeverityHigh},
		{SeverityHigh, 3, SeverityMedium},
		{SeverityMedium, 2, SeverityLow},
		{SeverityLow, 1, SeverityLow},
	}
	for _, tc := range tests {
		if got := tc.sev.Rank(); got != tc.rank {
			t.Errorf("%s.Rank() = %d, want %d", tc.sev, got, tc.rank)
		}
		if got := tc.sev.Downgrade(); got != tc.downgrade {
			t.Errorf("%s.Downgrade() = %s, want %s", tc.sev, got, tc.downgrade)
		}
	}
	if !SeverityHigh.AtLeast(SeverityMedium) || SeverityLow.AtLeast(SeverityMedium) {
		t.Error("AtLeast mismatch")
	}
}

func TestParseSeverity(t *testing.T) {
	if s, err := ParseSeverity(" High "); err != nil || s != SeverityHigh {
		t.Errorf("ParseSeverity(High) = %q, %v", s, err)
	}
	if _, err := ParseSeverity("severe"); err == nil {
		t.Error("ParseSeverity(severe) should fail")
	}
}

func TestNewStableID(t *testing.T) {
	a := New("P", CategoryDirect, SeverityHigh, ConfidenceHigh, []string{"b", "a", "a"}, []string{"e1"}, "k", "x")
	b := New("P", CategoryDirect, SeverityLow, ConfidenceLow, []string{"a", "b"}, []string{"e1", ""}, "k", "different text")
	if a.ID != b.ID {
		t.Errorf("IDs differ for same pattern/key/participants: %s vs %s", a.ID, b.ID)
	}
	if len(a.Participants.Mods) != 2 || a.Participants.Mods[0] != "a" {
		t.Errorf("participants not deduplicated and sorted: %v", a.Participants.Mods)
	}
	if len(b.Participants.Entities) != 1 {
		t.Errorf("empty entity should be dropped: %v", b.Participants.Entities)
	}

	c := New("P", CategoryDirect, SeverityHigh, ConfidenceHigh, []string{"a", "c"}, []string{"e1"}, "k", "x")
	if a.ID == c.ID {
		t.Error("different participants should yield different IDs")
	}

	d := a.With("winner", "b")
	if d.Details["winner"] != "b" || d.ID != a.ID {
		t.Errorf("With() = %+v", d)
	}
}

func TestSortAndFilter(t *testing.T) {
	fs := []Finding{
		New("B", CategoryPatch, SeverityLow, ConfidenceHigh, []string{"m1"}, nil, "", ""),
		New("A", CategoryDirect, SeverityCritical, ConfidenceHigh, []string{"m2"}, nil, "", ""),
		New("A", CategoryDirect, SeverityMedium, ConfidenceHigh, []string{"m1", "m3"}, nil, "", ""),
	}
	Sort(fs)
	if fs[0].Severity != SeverityCritical || fs[2].Severity != SeverityLow {
		t.Errorf("Sort order = %s, %s, %s", fs[0].Severity, fs[1].Severity, fs[2].Severity)
	}

	if got := Filter(fs, SeverityMedium, nil); len(got) != 2 {
		t.Errorf("Filter(medium) = %d findings, want 2", len(got))
	}
	if got := Filter(fs, "", []string{"m1"}); len(got) != 2 {
		t.Errorf("Filter(mods=m1) = %d findings, want 2", len(got))
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name       string
		severities []Severity
		compatible bool
		caveats    bool
	}{
		{"empty", nil, true, false},
		{"low only", []Severity{SeverityLow, SeverityMedium}, true, true},
		{"high", []Severity{SeverityLow, SeverityHigh}, false, false},
		{"critical", []Severity{SeverityCritical}, false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var fs []Finding
			for i, s := range tc.severities {
				fs = append(fs, New("P", CategoryEffect, s, ConfidenceHigh, []string{string(rune('a' + i))}, nil, "", ""))
			}
			sum := Summarize(fs)
			if sum.Total != len(tc.severities) {
				t.Errorf("Total = %d, want %d", sum.Total, len(tc.severities))
			}
			if sum.Compatible != tc.compatible || sum.CompatibleWithCaveats != tc.caveats {
				t.Errorf("Compatible=%v caveats=%v, want %v %v", sum.Compatible, sum.CompatibleWithCaveats, tc.compatible, tc.caveats)
			}
			if len(fs) > 0 && sum.ByCategory[CategoryEffect] != len(fs) {
				t.Errorf("ByCategory = %v", sum.ByCategory)
			}
		})
	}
}
