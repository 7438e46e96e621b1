package engine

import (
	"context"
	"errors"
	"testing"

	"modcompat/internal/direct"
	apperrors "modcompat/internal/errors"
	"modcompat/internal/facts"
	"modcompat/internal/findings"
	"modcompat/internal/indirect"
	"modcompat/internal/slogutil"
	"modcompat/internal/storage"
	"modcompat/internal/testutil"
)

// scenario is the two-mod inheritance case: mod1 edits itemA, mod2
// removes it, and itemB inherits from itemA.
func scenario() *testutil.SnapshotBuilder {
	return testutil.NewSnapshotBuilder().
		Mod("mod1", 1).Mod("mod2", 2).
		Def("a", "item", "itemA", "").
		Def("b", "item", "itemB", "itemA").
		Set("mod1", "item", "itemA", "damage", "10").
		Remove("mod2", "item", "itemA")
}

func newTestEngine(store Store) *Engine {
	return New(store, DefaultOptions(), slogutil.NewDiscardLogger())
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

func TestAnalyzeScenario(t *testing.T) {
	snap := scenario().Build(t)

	res, err := newTestEngine(nil).Analyze(context.Background(), snap, snap)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	destructive := byPattern(res.Findings, direct.PatternEditVsRemove)
	if len(destructive) != 1 {
		t.Fatalf("edit-vs-remove findings = %d, want 1", len(destructive))
	}
	if destructive[0].Details["outcome"] != string(direct.RemoverWins) || destructive[0].Details["winner"] != "mod2" {
		t.Errorf("outcome/winner = %v/%v, want REMOVER_WINS/mod2", destructive[0].Details["outcome"], destructive[0].Details["winner"])
	}

	contested := byPattern(res.Findings, direct.PatternContestedEntity)
	if len(contested) != 1 || contested[0].Severity != findings.SeverityHigh {
		t.Errorf("contested = %+v, want one high finding", contested)
	}

	broken := byPattern(res.Findings, indirect.PatternBrokenInheritanceChain)
	if len(broken) != 1 {
		t.Fatalf("broken inheritance findings = %d, want 1", len(broken))
	}
	p := broken[0].Participants
	if len(p.Mods) != 1 || p.Mods[0] != "mod2" || len(p.Entities) != 2 || p.Entities[1] != "b" {
		t.Errorf("broken inheritance participants = %+v, want mod2 and [a b]", p)
	}

	if res.Summary.Compatible {
		t.Error("Summary.Compatible = true, want false")
	}
	if len(res.Scores) != len(res.Findings) {
		t.Errorf("scores = %d, findings = %d", len(res.Scores), len(res.Findings))
	}
	for i := 1; i < len(res.Findings); i++ {
		if res.Findings[i].Severity.Rank() > res.Findings[i-1].Severity.Rank() {
			t.Errorf("findings not sorted by severity at %d", i)
		}
	}
	if res.Closure.Len() != 1 {
		t.Errorf("closure rows = %d, want 1", res.Closure.Len())
	}
	if len(res.Metrics) != 4 || len(res.Diagnostics) != 0 || res.Dropped != 0 {
		t.Errorf("metrics = %d, diagnostics = %+v, dropped = %d", len(res.Metrics), res.Diagnostics, res.Dropped)
	}
}

type rejectMod struct {
	facts.IDChecker
	mod string
}

func (r rejectMod) ModExists(id string) bool {
	return id != r.mod && r.IDChecker.ModExists(id)
}

func TestAnalyzeDropsUnvalidatedIndirectFindings(t *testing.T) {
	snap := scenario().Build(t)

	res, err := newTestEngine(nil).Analyze(context.Background(), snap, rejectMod{IDChecker: snap, mod: "mod2"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", res.Dropped)
	}
	if n := len(byPattern(res.Findings, indirect.PatternBrokenInheritanceChain)); n != 0 {
		t.Errorf("broken inheritance findings = %d, want 0", n)
	}
	// Direct findings are not validated against the store.
	if n := len(byPattern(res.Findings, direct.PatternEditVsRemove)); n != 1 {
		t.Errorf("edit-vs-remove findings = %d, want 1", n)
	}
}

func TestAnalyzeIsolatesRuleFailure(t *testing.T) {
	snap := scenario().Build(t)

	rules := append(indirect.Rules(), indirect.Rule{
		ID:   "exploding",
		Tier: findings.SeverityLow,
		Eval: func(*indirect.Input) []findings.Finding { panic("boom") },
	})
	res, err := newTestEngine(nil).WithIndirectRules(rules).Analyze(context.Background(), snap, nil)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if len(res.Diagnostics) != 1 {
		t.Fatalf("diagnostics = %+v, want 1", res.Diagnostics)
	}
	d := res.Diagnostics[0]
	if d.Analyzer != "indirect" || d.Rule != "exploding" {
		t.Errorf("diagnostic = %+v", d)
	}
	if len(byPattern(res.Findings, indirect.PatternBrokenInheritanceChain)) != 1 {
		t.Error("other indirect rules must still report")
	}
	if len(byPattern(res.Findings, direct.PatternContestedEntity)) != 1 {
		t.Error("other analyzers must still report")
	}
}

func TestAnalyzeCancelled(t *testing.T) {
	snap := scenario().Build(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := newTestEngine(nil).Analyze(ctx, snap, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Analyze() error = %v, want context.Canceled", err)
	}
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	db, err := storage.Open(t.TempDir(), slogutil.NewDiscardLogger())
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return storage.NewStore(db)
}

func TestRunPersists(t *testing.T) {
	store := openStore(t)
	if _, err := store.ImportBundle(scenario().Bundle()); err != nil {
		t.Fatal(err)
	}

	res, err := newTestEngine(store).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	run, err := store.LatestRun()
	if err != nil {
		t.Fatal(err)
	}
	if run == nil || run.ID != res.RunID || run.FindingCount != len(res.Findings) || run.ClosureRows != 1 {
		t.Errorf("LatestRun() = %+v", run)
	}

	stored, err := store.ListFindings(storage.FindingFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != len(res.Findings) {
		t.Errorf("stored findings = %d, want %d", len(stored), len(res.Findings))
	}
	for _, f := range stored {
		if f.Score == nil {
			t.Errorf("finding %s has no stored score", f.PatternID)
		}
	}

	closure, err := store.LoadClosure()
	if err != nil {
		t.Fatal(err)
	}
	if closure.Len() != 1 {
		t.Errorf("stored closure rows = %d, want 1", closure.Len())
	}
}

func TestRunWithFixedRunID(t *testing.T) {
	store := openStore(t)
	if _, err := store.ImportBundle(scenario().Bundle()); err != nil {
		t.Fatal(err)
	}

	res, err := newTestEngine(store).WithRunID("run-fixed").Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.RunID != "run-fixed" {
		t.Errorf("RunID = %q, want run-fixed", res.RunID)
	}
	run, err := store.LatestRun()
	if err != nil {
		t.Fatal(err)
	}
	if run == nil || run.ID != "run-fixed" {
		t.Errorf("LatestRun() = %+v, want run-fixed", run)
	}
}

func TestRunModFilter(t *testing.T) {
	store := openStore(t)
	if _, err := store.ImportBundle(scenario().Bundle()); err != nil {
		t.Fatal(err)
	}

	res, err := newTestEngine(store).Run(context.Background(), []string{"MOD1"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.ModFilter) != 1 || res.ModFilter[0] != "mod1" {
		t.Errorf("ModFilter = %v, want [mod1]", res.ModFilter)
	}
	if len(res.Findings) != 0 || !res.Summary.Compatible {
		t.Errorf("single-mod run findings = %+v", res.Findings)
	}
}

func TestRunErrors(t *testing.T) {
	empty := openStore(t)
	_, err := newTestEngine(empty).Run(context.Background(), nil)
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.Code != apperrors.FactsUnavailable {
		t.Errorf("Run() on empty store error = %v, want FACTS_UNAVAILABLE", err)
	}

	store := openStore(t)
	if _, err := store.ImportBundle(scenario().Bundle()); err != nil {
		t.Fatal(err)
	}
	_, err = newTestEngine(store).Run(context.Background(), []string{"mod9"})
	if !errors.As(err, &appErr) || appErr.Code != apperrors.TargetNotFound {
		t.Errorf("Run() with unknown mod error = %v, want TARGET_NOT_FOUND", err)
	}
}
