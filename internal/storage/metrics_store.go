package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// AnalyzerMetric is the outcome of one analyzer in one run.
type AnalyzerMetric struct {
	Analyzer   string
	Findings   int
	DurationMs int64
	Failed     bool
}

// AnalyzerAggregate summarizes an analyzer across runs.
type AnalyzerAggregate struct {
	Analyzer      string `json:"analyzer"`
	Runs          int64  `json:"runs"`
	Failures      int64  `json:"failures"`
	TotalFindings int64  `json:"totalFindings"`
	TotalMs       int64  `json:"totalMs"`
}

// AvgFindings returns the average number of findings per run
func (a *AnalyzerAggregate) AvgFindings() float64 {
	if a.Runs == 0 {
		return 0
	}
	return float64(a.TotalFindings) / float64(a.Runs)
}

// AvgLatencyMs returns the average latency in milliseconds
func (a *AnalyzerAggregate) AvgLatencyMs() float64 {
	if a.Runs == 0 {
		return 0
	}
	return float64(a.TotalMs) / float64(a.Runs)
}

// createAnalyzerMetricsTable creates the per-run analyzer metrics table.
func createAnalyzerMetricsTable(tx *sql.Tx) error {
	return execAll(tx, "analyzer_metrics table", []string{
		`CREATE TABLE IF NOT EXISTS analyzer_metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			analyzer TEXT NOT NULL,
			finding_count INTEGER NOT NULL,
			execution_ms INTEGER NOT NULL,
			failed INTEGER NOT NULL DEFAULT 0,
			recorded_at TEXT NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS idx_analyzer_metrics_recorded ON analyzer_metrics(recorded_at)",
	})
}

func recordAnalyzerMetrics(tx *sql.Tx, runID string, at time.Time, metrics []AnalyzerMetric) error {
	for _, m := range metrics {
		if _, err := tx.Exec(`
			INSERT INTO analyzer_metrics (run_id, analyzer, finding_count, execution_ms, failed, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, runID, m.Analyzer, m.Findings, m.DurationMs, m.Failed, at.UTC().Format(timeLayout)); err != nil {
			return fmt.Errorf("failed to record analyzer metric: %w", err)
		}
	}
	return nil
}

// GetAnalyzerAggregates returns aggregated metrics per analyzer for runs
// recorded since the given time.
func (db *DB) GetAnalyzerAggregates(since time.Time) (map[string]*AnalyzerAggregate, error) {
	rows, err := db.Query(`
		SELECT analyzer,
		       COUNT(*) AS runs,
		       SUM(failed) AS failures,
		       SUM(finding_count) AS total_findings,
		       SUM(execution_ms) AS total_ms
		FROM analyzer_metrics
		WHERE recorded_at >= ?
		GROUP BY analyzer
		ORDER BY analyzer
	`, since.UTC().Format(timeLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]*AnalyzerAggregate)
	for rows.Next() {
		var agg AnalyzerAggregate
		if err := rows.Scan(&agg.Analyzer, &agg.Runs, &agg.Failures, &agg.TotalFindings, &agg.TotalMs); err != nil {
			return nil, err
		}
		result[agg.Analyzer] = &agg
	}

	return result, rows.Err()
}

// CleanupOldRuns removes runs older than the retention period, with their
// diagnostics and metrics. Findings of the latest run are kept.
func (db *DB) CleanupOldRuns(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().Format(timeLayout)
	result, err := db.Exec(`
		DELETE FROM runs
		WHERE completed_at < ?
		AND id NOT IN (SELECT DISTINCT run_id FROM findings)
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
