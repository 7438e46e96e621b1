package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// FindingMatch is one full-text search hit over stored findings.
type FindingMatch struct {
	ID          string  `json:"id"`
	PatternID   string  `json:"patternId"`
	Severity    string  `json:"severity"`
	Explanation string  `json:"explanation"`
	MatchType   string  `json:"matchType"` // "exact", "prefix" or "substring"
	Rank        float64 `json:"rank"`
}

// createFindingsFTSTable creates the FTS5 index over findings and the
// triggers that keep it in sync with the findings table.
func createFindingsFTSTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS findings_fts USING fts5(
			pattern_id,
			explanation,
			participants_text,
			content='findings',
			content_rowid='rowid'
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create findings_fts table: %w", err)
	}

	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS findings_fts_ai AFTER INSERT ON findings BEGIN
			INSERT INTO findings_fts(rowid, pattern_id, explanation, participants_text)
			VALUES (new.rowid, new.pattern_id, new.explanation, new.participants_text);
		END`,

		`CREATE TRIGGER IF NOT EXISTS findings_fts_au AFTER UPDATE ON findings BEGIN
			INSERT INTO findings_fts(findings_fts, rowid, pattern_id, explanation, participants_text)
			VALUES ('delete', old.rowid, old.pattern_id, old.explanation, old.participants_text);
			INSERT INTO findings_fts(rowid, pattern_id, explanation, participants_text)
			VALUES (new.rowid, new.pattern_id, new.explanation, new.participants_text);
		END`,

		`CREATE TRIGGER IF NOT EXISTS findings_fts_ad AFTER DELETE ON findings BEGIN
			INSERT INTO findings_fts(findings_fts, rowid, pattern_id, explanation, participants_text)
			VALUES ('delete', old.rowid, old.pattern_id, old.explanation, old.participants_text);
		END`,
	}

	for _, trigger := range triggers {
		if _, err := tx.Exec(trigger); err != nil {
			return fmt.Errorf("failed to create trigger: %w", err)
		}
	}
	return nil
}

// SearchFindings searches finding explanations, pattern ids and
// participants. Exact phrase hits come first, then prefix hits, then
// substring matches.
func (r *FindingRepository) SearchFindings(ctx context.Context, query string, limit int) ([]FindingMatch, error) {
	if limit <= 0 {
		limit = 20
	}

	var results []FindingMatch

	query = strings.TrimSpace(query)
	if query == "" {
		return results, nil
	}

	seen := make(map[string]bool)
	add := func(matches []FindingMatch) {
		for _, m := range matches {
			if len(results) >= limit || seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			results = append(results, m)
		}
	}

	exact, err := r.searchFTS(ctx, fmt.Sprintf(`"%s"`, escapeFTS5Query(query)), "exact", limit)
	if err != nil {
		return nil, err
	}
	add(exact)

	if len(results) < limit {
		prefix, err := r.searchFTS(ctx, fmt.Sprintf(`"%s"*`, escapeFTS5Query(query)), "prefix", limit)
		if err == nil {
			add(prefix)
		}
	}

	if len(results) < limit {
		like, err := r.searchLike(ctx, query, limit)
		if err != nil {
			return nil, err
		}
		add(like)
	}

	return results, nil
}

func (r *FindingRepository) searchFTS(ctx context.Context, ftsQuery, matchType string, limit int) ([]FindingMatch, error) {
	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT f.id, f.pattern_id, f.severity, f.explanation,
		       bm25(findings_fts, 0.5, 1.0, 0.8) AS rank
		FROM findings_fts
		JOIN findings f ON f.rowid = findings_fts.rowid
		WHERE findings_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search findings: %w", err)
	}
	defer rows.Close()

	var out []FindingMatch
	for rows.Next() {
		m := FindingMatch{MatchType: matchType}
		if err := rows.Scan(&m.ID, &m.PatternID, &m.Severity, &m.Explanation, &m.Rank); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *FindingRepository) searchLike(ctx context.Context, query string, limit int) ([]FindingMatch, error) {
	pattern := "%" + strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(query) + "%"

	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT id, pattern_id, severity, explanation
		FROM findings
		WHERE explanation LIKE ? ESCAPE '\' OR participants_text LIKE ? ESCAPE '\' OR pattern_id LIKE ? ESCAPE '\'
		ORDER BY severity_rank DESC, id
		LIMIT ?
	`, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search findings: %w", err)
	}
	defer rows.Close()

	var out []FindingMatch
	for rows.Next() {
		m := FindingMatch{MatchType: "substring"}
		if err := rows.Scan(&m.ID, &m.PatternID, &m.Severity, &m.Explanation); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// escapeFTS5Query escapes a term for use inside an FTS5 phrase.
func escapeFTS5Query(query string) string {
	return strings.ReplaceAll(query, `"`, `""`)
}
