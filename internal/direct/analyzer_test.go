package direct

import (
	"context"
	"testing"

	"modcompat/internal/facts"
	"modcompat/internal/findings"
	"modcompat/internal/slogutil"
	"modcompat/internal/testutil"
)

func newTestAnalyzer() *Analyzer {
	return NewAnalyzer(DefaultOptions(), slogutil.NewDiscardLogger())
}

func byPattern(fs []findings.Finding, pattern string) []findings.Finding {
	var out []findings.Finding
	for _, f := range fs {
		if f.PatternID == pattern {
			out = append(out, f)
		}
	}
	return out
}

func TestSameTargetRealConflict(t *testing.T) {
	snap := testutil.NewSnapshotBuilder().
		Mod("A", 1).Mod("B", 2).Mod("C", 3).
		Set("A", "item", "gunPistol", "DamageEntity", "10").
		Set("B", "item", "gunPistol", "DamageEntity", "20").
		Op(facts.Operation{
			ModID:       "C",
			Kind:        facts.OpSet,
			RawSelector: " /Items/Item[ @name = \"gunPistol\" ]/Property[@Name='DamageEntity']/@Value ",
			NewValue:    testutil.Str("10"),
		}).
		Build(t)

	fs := newTestAnalyzer().SameTargetCollisions(snap)
	if len(fs) != 1 {
		t.Fatalf("SameTargetCollisions() = %d findings, want 1: %+v", len(fs), fs)
	}
	f := fs[0]
	if f.Details["classification"] != string(RealConflict) {
		t.Errorf("classification = %v, want %s", f.Details["classification"], RealConflict)
	}
	if got := f.Participants.Mods; len(got) != 3 || got[0] != "A" || got[1] != "B" || got[2] != "C" {
		t.Errorf("participants = %v, want [A B C]", got)
	}
	if f.Details["winner"] != "C" || f.Details["winningValue"] != "10" {
		t.Errorf("winner = %v/%v, want C/10", f.Details["winner"], f.Details["winningValue"])
	}
	if f.Severity != findings.SeverityLow {
		t.Errorf("severity = %s, want low", f.Severity)
	}
	if f.Confidence != findings.ConfidenceHigh {
		t.Errorf("confidence = %s, want high", f.Confidence)
	}
}

func TestSameTargetAppendsWithDistinctValues(t *testing.T) {
	snap := testutil.NewSnapshotBuilder().
		Mod("A", 1).Mod("B", 2).Mod("C", 3).
		Append("A", "item", "gunPistol", "v1").
		Append("B", "item", "gunPistol", "v2").
		Append("C", "item", "gunPistol", "v1").
		Build(t)

	fs := newTestAnalyzer().SameTargetCollisions(snap)
	if len(fs) != 1 {
		t.Fatalf("SameTargetCollisions() = %d findings, want 1: %+v", len(fs), fs)
	}
	f := fs[0]
	if f.Details["classification"] != string(RealConflict) {
		t.Errorf("classification = %v, want %s", f.Details["classification"], RealConflict)
	}
	if got := f.Participants.Mods; len(got) != 3 || got[0] != "A" || got[1] != "B" || got[2] != "C" {
		t.Errorf("participants = %v, want [A B C]", got)
	}
	if f.Confidence != findings.ConfidenceHigh {
		t.Errorf("confidence = %s, want high", f.Confidence)
	}
}

func TestSameTargetClassification(t *testing.T) {
	tests := []struct {
		name string
		ops  []facts.Operation
		want Classification
	}{
		{
			name: "same value",
			ops: []facts.Operation{
				{ModID: "A", Kind: facts.OpSet, NewValue: testutil.Str("5")},
				{ModID: "B", Kind: facts.OpSet, NewValue: testutil.Str("5")},
			},
			want: SameValue,
		},
		{
			name: "appends with one value",
			ops: []facts.Operation{
				{ModID: "A", Kind: facts.OpAppend, NewValue: testutil.Str("<a/>")},
				{ModID: "B", Kind: facts.OpInsertAfter, NewValue: testutil.Str("<a/>")},
			},
			want: Complementary,
		},
		{
			name: "appends without values",
			ops: []facts.Operation{
				{ModID: "A", Kind: facts.OpAppend},
				{ModID: "B", Kind: facts.OpInsertBefore},
			},
			want: Complementary,
		},
		{
			name: "appends with distinct values",
			ops: []facts.Operation{
				{ModID: "A", Kind: facts.OpAppend, NewValue: testutil.Str("<a/>")},
				{ModID: "B", Kind: facts.OpInsertAfter, NewValue: testutil.Str("<b/>")},
			},
			want: RealConflict,
		},
		{
			name: "set and remove",
			ops: []facts.Operation{
				{ModID: "A", Kind: facts.OpSet, NewValue: testutil.Str("5")},
				{ModID: "B", Kind: facts.OpRemove},
			},
			want: SameValue,
		},
		{
			name: "distinct values",
			ops: []facts.Operation{
				{ModID: "A", Kind: facts.OpSet, NewValue: testutil.Str("5")},
				{ModID: "B", Kind: facts.OpAppend, NewValue: testutil.Str("6")},
			},
			want: RealConflict,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.ops); got != tc.want {
				t.Errorf("Classify() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestSameTargetSeverity(t *testing.T) {
	snap := testutil.NewSnapshotBuilder().
		Mod("A", 1).Mod("B", 2).
		Set("A", "progression", "perkMiner", "level", "3").
		Set("B", "progression", "perkMiner", "level", "4").
		Set("A", "item", "playerMaleStats", "health", "1").
		Set("B", "item", "playerMaleStats", "health", "2").
		Set("A", "item", "plainItem", "x", "1").
		Set("B", "item", "plainItem", "x", "2").
		Build(t)

	fs := newTestAnalyzer().SameTargetCollisions(snap)
	want := []findings.Severity{findings.SeverityMedium, findings.SeverityMedium, findings.SeverityLow}
	if len(fs) != len(want) {
		t.Fatalf("got %d findings, want %d", len(fs), len(want))
	}
	for i, f := range fs {
		if f.Severity != want[i] {
			t.Errorf("finding %d (%s) severity = %s, want %s", i, f.Details["selector"], f.Severity, want[i])
		}
	}
}

func TestSameTargetSingleModIgnored(t *testing.T) {
	snap := testutil.NewSnapshotBuilder().
		Mod("A", 1).
		Set("A", "item", "x", "p", "1").
		Set("A", "item", "x", "p", "2").
		Build(t)
	if fs := newTestAnalyzer().SameTargetCollisions(snap); len(fs) != 0 {
		t.Errorf("single-mod group produced %d findings", len(fs))
	}
}

func TestDestructiveWinnerFollowsLoadOrder(t *testing.T) {
	tests := []struct {
		name        string
		orderA      int
		orderB      int
		wantOutcome Outcome
		wantWinner  string
	}{
		{"remover later", 1, 2, RemoverWins, "B"},
		{"editor later", 2, 1, EditorWins, "A"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			snap := testutil.NewSnapshotBuilder().
				Mod("A", tc.orderA).Mod("B", tc.orderB).
				Op(facts.Operation{ModID: "A", Kind: facts.OpSet, RawSelector: "/items/item[@name='x']/@value", NewValue: testutil.Str("1")}).
				Op(facts.Operation{ModID: "B", Kind: facts.OpRemove, RawSelector: "/items/item[@name='x']/@value"}).
				Build(t)

			fs := newTestAnalyzer().DestructiveConflicts(snap)
			if len(fs) != 1 {
				t.Fatalf("DestructiveConflicts() = %d findings, want 1", len(fs))
			}
			f := fs[0]
			if f.Details["outcome"] != string(tc.wantOutcome) || f.Details["winner"] != tc.wantWinner {
				t.Errorf("outcome/winner = %v/%v, want %s/%s", f.Details["outcome"], f.Details["winner"], tc.wantOutcome, tc.wantWinner)
			}
			if f.Severity != findings.SeverityHigh {
				t.Errorf("severity = %s, want high", f.Severity)
			}
		})
	}
}

func TestDestructiveAncestorRemoval(t *testing.T) {
	snap := testutil.NewSnapshotBuilder().
		Mod("mod1", 1).Mod("mod2", 2).
		Def("a", "item", "itemA", "").
		Set("mod1", "item", "itemA", "damage", "10").
		Set("mod1", "item", "itemA", "range", "5").
		Remove("mod2", "item", "itemA").
		Build(t)

	fs := newTestAnalyzer().DestructiveConflicts(snap)
	if len(fs) != 1 {
		t.Fatalf("DestructiveConflicts() = %d findings, want 1 per mod pair", len(fs))
	}
	if fs[0].Details["outcome"] != string(RemoverWins) {
		t.Errorf("outcome = %v, want REMOVER_WINS", fs[0].Details["outcome"])
	}
	if len(fs[0].Participants.Entities) != 1 || fs[0].Participants.Entities[0] != "a" {
		t.Errorf("entities = %v, want [a]", fs[0].Participants.Entities)
	}
}

func TestDestructiveIgnoresOtherFilesAndSameMod(t *testing.T) {
	snap := testutil.NewSnapshotBuilder().
		Mod("A", 1).Mod("B", 2).
		Op(facts.Operation{ModID: "A", Kind: facts.OpSet, RawSelector: "/x/y", TargetFile: "items.xml", NewValue: testutil.Str("1")}).
		Op(facts.Operation{ModID: "B", Kind: facts.OpRemove, RawSelector: "/x/y", TargetFile: "blocks.xml"}).
		Op(facts.Operation{ModID: "B", Kind: facts.OpSet, RawSelector: "/x/y", TargetFile: "blocks.xml", NewValue: testutil.Str("2")}).
		Build(t)
	if fs := newTestAnalyzer().DestructiveConflicts(snap); len(fs) != 0 {
		t.Errorf("DestructiveConflicts() = %+v, want none", fs)
	}
}

func TestContestedEntityRisk(t *testing.T) {
	a := newTestAnalyzer()
	tests := []struct {
		name string
		key  facts.EntityKey
		ops  []facts.Operation
		want findings.Severity
	}{
		{
			name: "edit and remove",
			key:  facts.EntityKey{Type: "item", Name: "x"},
			ops:  []facts.Operation{{ModID: "A", Kind: facts.OpSet}, {ModID: "B", Kind: facts.OpRemove}},
			want: findings.SeverityHigh,
		},
		{
			name: "three mods",
			key:  facts.EntityKey{Type: "item", Name: "x"},
			ops:  []facts.Operation{{ModID: "A", Kind: facts.OpSet}, {ModID: "B", Kind: facts.OpSet}, {ModID: "C", Kind: facts.OpAppend}},
			want: findings.SeverityMedium,
		},
		{
			name: "reserved prefix",
			key:  facts.EntityKey{Type: "entity_class", Name: "playerMale"},
			ops:  []facts.Operation{{ModID: "A", Kind: facts.OpSet}, {ModID: "B", Kind: facts.OpSet}},
			want: findings.SeverityMedium,
		},
		{
			name: "two mods",
			key:  facts.EntityKey{Type: "item", Name: "x"},
			ops:  []facts.Operation{{ModID: "A", Kind: facts.OpSet}, {ModID: "B", Kind: facts.OpSet}},
			want: findings.SeverityLow,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := a.EntityRisk(tc.key, tc.ops); got != tc.want {
				t.Errorf("EntityRisk() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestWinners(t *testing.T) {
	snap := testutil.NewSnapshotBuilder().
		Mod("A", 3).Mod("B", 1).Mod("C", 2).
		Set("A", "item", "x", "p", "a").
		Set("B", "item", "x", "p", "b").
		Set("C", "item", "x", "p", "c").
		Set("C", "item", "y", "p", "only").
		Build(t)

	ws := newTestAnalyzer().Winners(snap)
	if len(ws) != 1 {
		t.Fatalf("Winners() = %d, want 1", len(ws))
	}
	w := ws[0]
	if w.ModID != "A" || w.Value == nil || *w.Value != "a" || w.LoadOrder != 3 {
		t.Errorf("winner = %+v, want mod A value a", w)
	}
	if len(w.Overridden) != 2 || w.Overridden[0] != "B" || w.Overridden[1] != "C" {
		t.Errorf("overridden = %v, want [B C]", w.Overridden)
	}
}

func TestAnalyzeEndToEndDirect(t *testing.T) {
	snap := testutil.NewSnapshotBuilder().
		Mod("mod1", 1).Mod("mod2", 2).
		Def("a", "item", "itemA", "").
		Def("b", "item", "itemB", "itemA").
		Set("mod1", "item", "itemA", "damage", "10").
		Remove("mod2", "item", "itemA").
		Build(t)

	fs, err := newTestAnalyzer().Analyze(context.Background(), snap)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if n := len(byPattern(fs, PatternEditVsRemove)); n != 1 {
		t.Errorf("edit-vs-remove findings = %d, want 1", n)
	}
	contested := byPattern(fs, PatternContestedEntity)
	if len(contested) != 1 || contested[0].Severity != findings.SeverityHigh {
		t.Errorf("contested findings = %+v, want one high", contested)
	}
	if n := len(byPattern(fs, PatternSameTarget)); n != 0 {
		t.Errorf("same-target findings = %d, want 0", n)
	}
}
