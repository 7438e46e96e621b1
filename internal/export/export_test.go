package export

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"modcompat/internal/direct"
	"modcompat/internal/engine"
	"modcompat/internal/facts"
	"modcompat/internal/findings"
	"modcompat/internal/slogutil"
	"modcompat/internal/storage"
	"modcompat/internal/testutil"
)

func setupStore(t *testing.T, b *testutil.SnapshotBuilder) *storage.Store {
	t.Helper()
	logger := slogutil.NewDiscardLogger()
	db, err := storage.Open(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := storage.NewStore(db)
	if b == nil {
		return store
	}
	if _, err := store.ImportBundle(b.Bundle()); err != nil {
		t.Fatalf("ImportBundle() error = %v", err)
	}
	if _, err := engine.New(store, engine.DefaultOptions(), logger).Run(context.Background(), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return store
}

func scenario() *testutil.SnapshotBuilder {
	return testutil.NewSnapshotBuilder().
		Mod("mod1", 1).Mod("mod2", 2).Mod("mod3", 3).
		Def("a", "item", "itemA", "").
		Def("b", "item", "itemB", "itemA").
		Set("mod1", "item", "itemA", "damage", "10").
		Remove("mod2", "item", "itemA").
		Patch(facts.Patch{
			ModID:              "mod3",
			PatchContainerName: "UpdatePatch",
			TargetEntityType:   "EntityAlive",
			TargetMethodName:   "OnUpdateLive",
			InterceptionKind:   facts.Before,
		})
}

func newTestExporter(store *storage.Store) *Exporter {
	return NewExporter(store, direct.DefaultOptions(), slogutil.NewDiscardLogger())
}

func TestExport(t *testing.T) {
	store := setupStore(t, scenario())

	report, err := newTestExporter(store).Export(context.Background(), DefaultOptions())
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	if report.Run == nil {
		t.Fatal("report has no run")
	}
	if report.Metadata.Tool != "modcompat" || report.Metadata.ModCount != 3 {
		t.Errorf("metadata = %+v", report.Metadata)
	}
	if report.Metadata.FindingCount != len(report.Findings) || len(report.Findings) == 0 {
		t.Errorf("FindingCount = %d, findings = %d", report.Metadata.FindingCount, len(report.Findings))
	}
	if report.Summary.Compatible {
		t.Error("Summary.Compatible = true, want false")
	}
	if len(report.ExecutionOrders) != 1 || report.ExecutionOrders[0].Target() != "EntityAlive.OnUpdateLive" {
		t.Errorf("ExecutionOrders = %+v", report.ExecutionOrders)
	}
	if report.Closure != nil {
		t.Errorf("Closure included without IncludeClosure")
	}
	if report.ClosureStats.Rows != 1 {
		t.Errorf("ClosureStats.Rows = %d, want 1", report.ClosureStats.Rows)
	}

	opts := DefaultOptions()
	opts.IncludeClosure = true
	opts.MinSeverity = findings.SeverityCritical
	report, err = newTestExporter(store).Export(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Closure) != 1 {
		t.Errorf("Closure rows = %d, want 1", len(report.Closure))
	}
	for _, f := range report.Findings {
		if f.Severity != findings.SeverityCritical {
			t.Errorf("finding %s below the minimum severity", f.PatternID)
		}
	}
}

func TestExportWithoutRun(t *testing.T) {
	store := setupStore(t, nil)

	_, err := newTestExporter(store).Export(context.Background(), DefaultOptions())
	if !errors.Is(err, ErrNoRun) {
		t.Errorf("Export() error = %v, want ErrNoRun", err)
	}
}

func TestWriteRead(t *testing.T) {
	store := setupStore(t, scenario())
	report, err := newTestExporter(store).Export(context.Background(), DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		compress bool
	}{
		{"plain", false},
		{"zstd", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Write(&buf, report, tt.compress); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if got := bytes.HasPrefix(buf.Bytes(), zstdMagic); got != tt.compress {
				t.Errorf("zstd header present = %v, want %v", got, tt.compress)
			}

			back, err := Read(&buf)
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if back.Run.ID != report.Run.ID || len(back.Findings) != len(report.Findings) {
				t.Errorf("Read() run = %s with %d findings, want %s with %d",
					back.Run.ID, len(back.Findings), report.Run.ID, len(report.Findings))
			}
		})
	}
}

func TestWriteFileExtensionForcesCompression(t *testing.T) {
	store := setupStore(t, scenario())
	report, err := newTestExporter(store).Export(context.Background(), DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "reports", "latest.json"+CompressedExt)
	if err := WriteFile(path, report, false); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	back, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if back.Metadata.FindingCount != report.Metadata.FindingCount {
		t.Errorf("FindingCount = %d, want %d", back.Metadata.FindingCount, report.Metadata.FindingCount)
	}
}

func TestOrganize(t *testing.T) {
	snap := scenario().Build(t)
	fs := []*storage.StoredFinding{
		{Finding: findings.Finding{PatternID: "P1", Severity: findings.SeverityMedium, Participants: findings.Participants{Mods: []string{"mod1", "mod3"}}}},
		{Finding: findings.Finding{PatternID: "P2", Severity: findings.SeverityHigh, Participants: findings.Participants{Mods: []string{"mod3"}}}},
		{Finding: findings.Finding{PatternID: "P3", Severity: findings.SeverityLow, Participants: findings.Participants{Mods: []string{"unknown"}}}},
	}

	org := NewOrganizer(snap, fs).Organize()

	if org.Summary.Total != 3 || org.Summary.High != 1 {
		t.Errorf("Summary = %+v", org.Summary)
	}
	var order []string
	for _, m := range org.Mods {
		order = append(order, m.ModID)
	}
	if got := strings.Join(order, ","); got != "mod3,mod1,mod2" {
		t.Errorf("mod order = %s, want mod3,mod1,mod2", got)
	}
	if m := org.Mods[0]; m.FindingCount != 2 || m.Worst != findings.SeverityHigh || strings.Join(m.Patterns, ",") != "P1,P2" {
		t.Errorf("mod3 summary = %+v", m)
	}
	if m := org.Mods[2]; m.FindingCount != 0 || m.Worst != "" {
		t.Errorf("mod2 summary = %+v", m)
	}
}

func TestRenderText(t *testing.T) {
	store := setupStore(t, scenario())
	report, err := newTestExporter(store).Export(context.Background(), DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}

	text := RenderText(report)
	for _, want := range []string{
		"# Mod Compatibility Report",
		"Verdict: INCOMPATIBLE",
		"| mod2 |",
		direct.PatternEditVsRemove,
		"EntityAlive.OnUpdateLive",
		"UpdatePatch",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("RenderText() missing %q", want)
		}
	}
}
