package storage

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"modcompat/internal/facts"
	"modcompat/internal/findings"
	"modcompat/internal/refgraph"
	"modcompat/internal/relevance"
	"modcompat/internal/testutil"
)

func setupTestDB(t *testing.T) (*DB, string) {
	tmpDir := t.TempDir()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := Open(tmpDir, logger)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	return db, tmpDir
}

func teardownTestDB(t *testing.T, db *DB) {
	if err := db.Close(); err != nil {
		t.Errorf("Failed to close database: %v", err)
	}
}

func testBundle() *facts.Bundle {
	return testutil.NewSnapshotBuilder().
		Mod("mod1", 1).Mod("mod2", 2).
		Def("d1", "item", "itemA", "").
		Def("d2", "item", "itemB", "itemA").
		Edge("d2", "item", "itemA", facts.TagExtends).
		Set("mod1", "item", "itemA", "damage", "10").
		Remove("mod2", "item", "itemA").
		Op(facts.Operation{
			ModID:            "mod1",
			Kind:             facts.OpSet,
			RawSelector:      "/buffs/buff[@name='buffX']/effect_group/passive_effect[@name='Health']/@operation",
			TargetEntityType: "buff",
			TargetEntityName: "buffX",
			NewValue:         testutil.Str("perc_add"),
			Effect: &facts.EffectContext{
				Kind:            facts.EffectPassive,
				EffectName:      "Health",
				Operation:       "perc_add",
				EditedAttribute: "operation",
			},
		}).
		Patch(facts.Patch{
			ModID:              "mod1",
			PatchContainerName: "HealthPatch",
			TargetEntityType:   "EntityPlayer",
			TargetMethodName:   "OnUpdate",
			InterceptionKind:   facts.Before,
			Priority:           testutil.Int(500),
			AfterIDs:           []string{"mod2"},
			CanVetoOriginal:    true,
		}).
		Method(facts.MethodFact{TypeName: "EntityPlayer", MethodName: "OnUpdate", CallerCount: 4, IsVirtual: true}).
		Bundle()
}

func TestDatabaseInitialization(t *testing.T) {
	db, tmpDir := setupTestDB(t)
	defer teardownTestDB(t, db)

	dbPath := filepath.Join(tmpDir, ".modcompat", "modcompat.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatalf("Database file was not created at %s", dbPath)
	}
	if db.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", db.Path(), dbPath)
	}

	version, err := db.getSchemaVersion()
	if err != nil {
		t.Fatalf("Failed to get schema version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("Expected schema version %d, got %d", currentSchemaVersion, version)
	}
}

func TestReopenKeepsData(t *testing.T) {
	db, tmpDir := setupTestDB(t)
	if _, err := NewFactRepository(db).ImportBundle(testBundle()); err != nil {
		t.Fatalf("ImportBundle() error = %v", err)
	}
	teardownTestDB(t, db)

	db, err := Open(tmpDir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer teardownTestDB(t, db)

	counts, err := NewFactRepository(db).Counts()
	if err != nil {
		t.Fatal(err)
	}
	if counts.Mods != 2 || counts.Definitions != 2 || counts.Operations != 3 || counts.Patches != 1 {
		t.Errorf("Counts() = %+v", counts)
	}
}

func TestFactRepositoryRoundTrip(t *testing.T) {
	db, _ := setupTestDB(t)
	defer teardownTestDB(t, db)

	repo := NewFactRepository(db)
	want := facts.NewSnapshot(testBundle())

	counts, err := repo.ImportBundle(testBundle())
	if err != nil {
		t.Fatalf("ImportBundle() error = %v", err)
	}
	if counts.Operations != 3 || counts.Edges != 1 || counts.Methods != 1 {
		t.Errorf("ImportBundle() counts = %+v", counts)
	}

	got, err := repo.LoadSnapshot()
	if err != nil {
		t.Fatalf("LoadSnapshot() error = %v", err)
	}

	if len(got.Operations) != len(want.Operations) {
		t.Fatalf("operations = %d, want %d", len(got.Operations), len(want.Operations))
	}
	for i := range want.Operations {
		g, w := got.Operations[i], want.Operations[i]
		if g.Kind != w.Kind || g.CanonicalSelector != w.CanonicalSelector || g.SelectorHash != w.SelectorHash || g.Value() != w.Value() {
			t.Errorf("operations[%d] = %+v, want %+v", i, g, w)
		}
	}
	if op := got.Operations[1]; op.NewValue != nil {
		t.Errorf("remove operation value = %q, want nil", *op.NewValue)
	}
	if ec := got.Operations[2].Effect; ec == nil || ec.Operation != "perc_add" || ec.EditedAttribute != "operation" {
		t.Errorf("effect context = %+v", ec)
	}

	p := got.Patches[0]
	if p.ID != want.Patches[0].ID || p.PriorityValue() != 500 || !p.CanVetoOriginal || len(p.AfterIDs) != 1 || p.BeforeIDs != nil {
		t.Errorf("patch = %+v", p)
	}
	if d, ok := got.Definition("d2"); !ok || d.ParentName != "itemA" {
		t.Errorf("definition d2 = %+v, %v", d, ok)
	}
	if m, ok := got.Method("EntityPlayer", "OnUpdate"); !ok || m.CallerCount != 4 || !m.IsVirtual {
		t.Errorf("method = %+v, %v", m, ok)
	}

	if !repo.ModExists("mod2") || repo.ModExists("mod3") {
		t.Error("ModExists() mismatch")
	}
	if !repo.DefinitionExists("d1") || repo.DefinitionExists("itemA") {
		t.Error("DefinitionExists() mismatch")
	}
}

func TestImportReplacesFacts(t *testing.T) {
	db, _ := setupTestDB(t)
	defer teardownTestDB(t, db)

	repo := NewFactRepository(db)
	if _, err := repo.ImportBundle(testBundle()); err != nil {
		t.Fatal(err)
	}
	small := testutil.NewSnapshotBuilder().Mod("only", 1).Bundle()
	if _, err := repo.ImportBundle(small); err != nil {
		t.Fatal(err)
	}
	counts, err := repo.Counts()
	if err != nil {
		t.Fatal(err)
	}
	if counts != (FactCounts{Mods: 1}) {
		t.Errorf("Counts() after re-import = %+v", counts)
	}
}

func TestClosureRepository(t *testing.T) {
	db, _ := setupTestDB(t)
	defer teardownTestDB(t, db)

	b := testutil.NewSnapshotBuilder().
		Def("a", "item", "a", "").
		Def("b", "item", "b", "a").
		Def("c", "item", "c", "b").
		Edge("b", "item", "a", facts.TagExtends).
		Edge("c", "item", "b", facts.TagExtends).
		Bundle()
	if _, err := NewFactRepository(db).ImportBundle(b); err != nil {
		t.Fatal(err)
	}
	closure, err := refgraph.BuildClosure(t.Context(), b.Definitions, b.Edges)
	if err != nil {
		t.Fatal(err)
	}

	repo := NewClosureRepository(db)
	if err := repo.ReplaceClosure(closure); err != nil {
		t.Fatalf("ReplaceClosure() error = %v", err)
	}
	// Replacing twice must not duplicate rows.
	if err := repo.ReplaceClosure(closure); err != nil {
		t.Fatalf("ReplaceClosure() second call error = %v", err)
	}

	loaded, err := repo.LoadClosure()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Len() != 3 {
		t.Fatalf("LoadClosure() rows = %d, want 3", loaded.Len())
	}
	row, ok := loaded.Lookup("c", "a")
	if !ok || row.Depth != 2 || len(row.Path) != 2 || !row.ExtendsOnly() {
		t.Errorf("c->a = %+v, %v", row, ok)
	}

	deps, err := repo.Dependents("a")
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 2 || deps[0].SourceID != "b" || deps[1].SourceID != "c" {
		t.Errorf("Dependents(a) = %+v", deps)
	}
	reach, err := repo.Reachable("c")
	if err != nil {
		t.Fatal(err)
	}
	if len(reach) != 2 || reach[0].TargetID != "b" {
		t.Errorf("Reachable(c) = %+v", reach)
	}
}

func testRun(id string, at time.Time) *RunRecord {
	f1 := findings.New("REMOVER_WINS", findings.CategoryDirect, findings.SeverityHigh, findings.ConfidenceHigh,
		[]string{"mod1", "mod2"}, []string{"d1"}, "k1", "mod2 removes itemA after mod1 edits it").
		With("winner", "mod2")
	f2 := findings.New("ADDITIVE_STACKING", findings.CategoryIndirect, findings.SeverityLow, findings.ConfidenceMedium,
		[]string{"mod1"}, []string{"d2"}, "k2", "appends stack on itemB")
	return &RunRecord{
		ID:          id,
		StartedAt:   at,
		CompletedAt: at.Add(time.Second),
		ModFilter:   []string{"mod1", "mod2"},
		Findings:    []findings.Finding{f2, f1},
		Scores: []relevance.Scored{
			{FindingID: f1.ID, Score: relevance.Score{Connectivity: 5, Total: 47}},
		},
		Diagnostics: []findings.Diagnostic{
			{Analyzer: "indirect", Rule: "additiveStacking", Code: "RULE_FAILED", Message: "boom"},
		},
		ClosureRows: 3,
		Metrics: []AnalyzerMetric{
			{Analyzer: "direct", Findings: 1, DurationMs: 3},
			{Analyzer: "indirect", Findings: 1, DurationMs: 5, Failed: true},
		},
	}
}

func TestFindingRepositorySaveAndList(t *testing.T) {
	db, _ := setupTestDB(t)
	defer teardownTestDB(t, db)

	repo := NewFindingRepository(db)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	run := testRun("run-1", now)
	if err := repo.SaveRun(run); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	all, err := repo.ListFindings(FindingFilter{})
	if err != nil {
		t.Fatalf("ListFindings() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListFindings() = %d findings, want 2", len(all))
	}
	top := all[0]
	if top.PatternID != "REMOVER_WINS" || top.Score == nil || top.Score.Total != 47 {
		t.Errorf("first finding = %+v", top)
	}
	if len(top.Participants.Mods) != 2 || top.Details["winner"] != "mod2" {
		t.Errorf("first finding participants/details = %+v %v", top.Participants, top.Details)
	}
	if all[1].Score != nil {
		t.Errorf("unscored finding has score %+v", all[1].Score)
	}

	tests := []struct {
		name   string
		filter FindingFilter
		want   int
	}{
		{"min severity", FindingFilter{MinSeverity: findings.SeverityMedium}, 1},
		{"mod", FindingFilter{Mods: []string{"mod2"}}, 1},
		{"either mod", FindingFilter{Mods: []string{"mod1", "mod2"}}, 2},
		{"pattern", FindingFilter{Pattern: "ADDITIVE_STACKING"}, 1},
		{"category", FindingFilter{Category: findings.CategoryDirect}, 1},
		{"limit", FindingFilter{Limit: 1}, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := repo.ListFindings(tc.filter)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tc.want {
				t.Errorf("ListFindings(%+v) = %d findings, want %d", tc.filter, len(got), tc.want)
			}
		})
	}

	f, err := repo.GetFinding(top.ID)
	if err != nil || f == nil || f.ConflictKey != "k1" {
		t.Errorf("GetFinding() = %+v, %v", f, err)
	}
	if missing, err := repo.GetFinding("nope"); err != nil || missing != nil {
		t.Errorf("GetFinding(nope) = %+v, %v", missing, err)
	}
}

func TestSaveRunReplacesFindings(t *testing.T) {
	db, _ := setupTestDB(t)
	defer teardownTestDB(t, db)

	repo := NewFindingRepository(db)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.SaveRun(testRun("run-1", t0)); err != nil {
		t.Fatal(err)
	}
	second := testRun("run-2", t0.Add(time.Hour))
	second.Findings = second.Findings[:1]
	second.Scores = nil
	second.Diagnostics = nil
	if err := repo.SaveRun(second); err != nil {
		t.Fatal(err)
	}

	all, err := repo.ListFindings(FindingFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("findings after second run = %d, want 1", len(all))
	}

	latest, err := repo.LatestRun()
	if err != nil {
		t.Fatal(err)
	}
	if latest == nil || latest.ID != "run-2" || latest.FindingCount != 1 || len(latest.Diagnostics) != 0 {
		t.Errorf("LatestRun() = %+v", latest)
	}

	first, err := repo.GetRun("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if first == nil || len(first.Diagnostics) != 1 || first.Diagnostics[0].Rule != "additiveStacking" {
		t.Errorf("GetRun(run-1) = %+v", first)
	}
	if !first.StartedAt.Equal(t0) || len(first.ModFilter) != 2 {
		t.Errorf("GetRun(run-1) times/filter = %v %v", first.StartedAt, first.ModFilter)
	}

	runs, err := repo.ListRuns(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != "run-2" {
		t.Errorf("ListRuns() = %+v", runs)
	}
}

func TestLatestRunEmpty(t *testing.T) {
	db, _ := setupTestDB(t)
	defer teardownTestDB(t, db)

	run, err := NewFindingRepository(db).LatestRun()
	if err != nil || run != nil {
		t.Errorf("LatestRun() = %+v, %v; want nil, nil", run, err)
	}
}

func TestStoreImplementsFactInterfaces(t *testing.T) {
	db, _ := setupTestDB(t)
	defer teardownTestDB(t, db)

	var (
		_ facts.Source    = NewStore(db)
		_ facts.IDChecker = NewStore(db)
	)
}
