package storage

import (
	"testing"
	"time"
)

func TestAnalyzerAggregates(t *testing.T) {
	db, _ := setupTestDB(t)
	defer teardownTestDB(t, db)

	repo := NewFindingRepository(db)
	now := time.Now()
	if err := repo.SaveRun(testRun("run-1", now.Add(-time.Minute))); err != nil {
		t.Fatal(err)
	}
	if err := repo.SaveRun(testRun("run-2", now)); err != nil {
		t.Fatal(err)
	}

	aggs, err := db.GetAnalyzerAggregates(now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("GetAnalyzerAggregates() error = %v", err)
	}
	if len(aggs) != 2 {
		t.Fatalf("aggregates = %d, want 2", len(aggs))
	}
	ind := aggs["indirect"]
	if ind == nil || ind.Runs != 2 || ind.Failures != 2 || ind.TotalMs != 10 {
		t.Errorf("indirect aggregate = %+v", ind)
	}
	if ind.AvgLatencyMs() != 5 || ind.AvgFindings() != 1 {
		t.Errorf("averages = %v, %v", ind.AvgLatencyMs(), ind.AvgFindings())
	}

	none, err := db.GetAnalyzerAggregates(now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("future window aggregates = %+v", none)
	}
}

func TestAnalyzerAggregateZeroRuns(t *testing.T) {
	var a AnalyzerAggregate
	if a.AvgFindings() != 0 || a.AvgLatencyMs() != 0 {
		t.Error("zero aggregate should average to 0")
	}
}

func TestCleanupOldRuns(t *testing.T) {
	db, _ := setupTestDB(t)
	defer teardownTestDB(t, db)

	repo := NewFindingRepository(db)
	old := time.Now().Add(-48 * time.Hour)
	if err := repo.SaveRun(testRun("old", old)); err != nil {
		t.Fatal(err)
	}
	if err := repo.SaveRun(testRun("new", time.Now())); err != nil {
		t.Fatal(err)
	}

	removed, err := db.CleanupOldRuns(24 * time.Hour)
	if err != nil {
		t.Fatalf("CleanupOldRuns() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("CleanupOldRuns() removed %d, want 1", removed)
	}
	if run, _ := repo.GetRun("old"); run != nil {
		t.Error("old run still present")
	}
	aggs, err := db.GetAnalyzerAggregates(old.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if aggs["direct"].Runs != 1 {
		t.Errorf("metrics of removed run not cascaded: %+v", aggs["direct"])
	}
}
