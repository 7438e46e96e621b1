package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"modcompat/internal/facts"
	"modcompat/internal/findings"
	"modcompat/internal/refgraph"
	"modcompat/internal/relevance"
)

// FactCounts reports how many records of each kind are stored.
type FactCounts struct {
	Mods        int `json:"mods"`
	Definitions int `json:"definitions"`
	Operations  int `json:"operations"`
	Edges       int `json:"referenceEdges"`
	Patches     int `json:"patches"`
	Methods     int `json:"methods"`
}

// FactRepository stores the input fact set.
type FactRepository struct {
	db *DB
}

// NewFactRepository creates a new fact repository
func NewFactRepository(db *DB) *FactRepository {
	return &FactRepository{db: db}
}

// ImportBundle replaces the stored facts with the bundle in one
// transaction. Selectors are canonicalized and patch ids filled first.
func (r *FactRepository) ImportBundle(b *facts.Bundle) (FactCounts, error) {
	snap := facts.NewSnapshot(b)

	err := r.db.WithTx(func(tx *sql.Tx) error {
		for _, table := range []string{"operations", "reference_edges", "patches", "methods", "definitions", "mods", "transitive_edges"} {
			if _, err := tx.Exec("DELETE FROM " + table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}

		for _, m := range snap.Mods {
			if _, err := tx.Exec(`
				INSERT INTO mods (id, name, load_order, has_data_overlay, has_binary_patches)
				VALUES (?, ?, ?, ?, ?)
			`, m.ID, m.Name, m.LoadOrder, m.HasDataOverlay, m.HasBinaryPatches); err != nil {
				return fmt.Errorf("failed to insert mod %s: %w", m.ID, err)
			}
		}

		for _, d := range snap.Definitions {
			if _, err := tx.Exec(`
				INSERT INTO definitions (id, entity_type, name, parent_name, source_file, source_line)
				VALUES (?, ?, ?, ?, ?, ?)
			`, d.ID, d.EntityType, d.Name, nullString(d.ParentName), nullString(d.Source.File), nullInt(d.Source.Line)); err != nil {
				return fmt.Errorf("failed to insert definition %s: %w", d.ID, err)
			}
		}

		for i, op := range snap.Operations {
			effectJSON, err := marshalOptional(op.Effect)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(`
				INSERT INTO operations (
					seq, mod_id, kind, raw_selector, canonical_selector, selector_hash, selector_error,
					target_file, target_entity_type, target_entity_name, property_name, new_value,
					source_file, source_line, effect_json
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`,
				i, op.ModID, string(op.Kind), op.RawSelector, op.CanonicalSelector, op.SelectorHash,
				nullString(op.SelectorError), nullString(op.TargetFile), nullString(op.TargetEntityType),
				nullString(op.TargetEntityName), nullString(op.PropertyName), op.NewValue,
				nullString(op.Source.File), nullInt(op.Source.Line), effectJSON,
			); err != nil {
				return fmt.Errorf("failed to insert operation %d: %w", i, err)
			}
		}

		for i, e := range snap.Edges {
			if _, err := tx.Exec(`
				INSERT INTO reference_edges (seq, source_definition_id, target_entity_type, target_entity_name, context_tag, mod_id)
				VALUES (?, ?, ?, ?, ?, ?)
			`, i, e.SourceDefinitionID, e.TargetEntityType, e.TargetEntityName, e.ContextTag, nullString(e.ModID)); err != nil {
				return fmt.Errorf("failed to insert reference edge %d: %w", i, err)
			}
		}

		for i, p := range snap.Patches {
			beforeJSON, err := marshalOptional(p.BeforeIDs)
			if err != nil {
				return err
			}
			afterJSON, err := marshalOptional(p.AfterIDs)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(`
				INSERT INTO patches (
					id, seq, mod_id, patch_container, target_entity_type, target_method_name,
					interception_kind, priority, before_ids, after_ids, can_veto_original,
					mutates_return_value, mutates_shared_state, is_guarded, guard_description,
					is_dynamic, parameter_signature, source_file, source_line
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`,
				p.ID, i, p.ModID, p.PatchContainerName, p.TargetEntityType, p.TargetMethodName,
				string(p.InterceptionKind), p.Priority, beforeJSON, afterJSON, p.CanVetoOriginal,
				p.MutatesReturnValue, p.MutatesSharedState, p.IsGuarded, nullString(p.GuardDescription),
				p.IsDynamic, nullString(p.ParameterSignature), nullString(p.Source.File), nullInt(p.Source.Line),
			); err != nil {
				return fmt.Errorf("failed to insert patch %s: %w", p.ID, err)
			}
		}

		for _, m := range snap.Methods {
			if _, err := tx.Exec(`
				INSERT INTO methods (type_name, method_name, parameter_signature, is_abstract, is_virtual, caller_count, is_entry_point)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, m.TypeName, m.MethodName, nullString(m.ParameterSignature), m.IsAbstract, m.IsVirtual, m.CallerCount, m.IsEntryPoint); err != nil {
				return fmt.Errorf("failed to insert method %s: %w", m.Target(), err)
			}
		}
		return nil
	})
	if err != nil {
		return FactCounts{}, err
	}

	counts := FactCounts{
		Mods:        len(snap.Mods),
		Definitions: len(snap.Definitions),
		Operations:  len(snap.Operations),
		Edges:       len(snap.Edges),
		Patches:     len(snap.Patches),
		Methods:     len(snap.Methods),
	}
	r.db.logger.Info("Imported fact bundle",
		"mods", counts.Mods,
		"definitions", counts.Definitions,
		"operations", counts.Operations,
		"edges", counts.Edges,
		"patches", counts.Patches,
	)
	return counts, nil
}

// LoadSnapshot reads the stored facts in their original order.
func (r *FactRepository) LoadSnapshot() (*facts.Snapshot, error) {
	var b facts.Bundle

	rows, err := r.db.Query(`SELECT id, name, load_order, has_data_overlay, has_binary_patches FROM mods ORDER BY load_order`)
	if err != nil {
		return nil, fmt.Errorf("failed to query mods: %w", err)
	}
	for rows.Next() {
		var m facts.Mod
		if err := rows.Scan(&m.ID, &m.Name, &m.LoadOrder, &m.HasDataOverlay, &m.HasBinaryPatches); err != nil {
			rows.Close()
			return nil, err
		}
		b.Mods = append(b.Mods, m)
	}
	rows.Close()

	rows, err = r.db.Query(`SELECT id, entity_type, name, parent_name, source_file, source_line FROM definitions ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query definitions: %w", err)
	}
	for rows.Next() {
		var d facts.Definition
		var parent, file sql.NullString
		var line sql.NullInt64
		if err := rows.Scan(&d.ID, &d.EntityType, &d.Name, &parent, &file, &line); err != nil {
			rows.Close()
			return nil, err
		}
		d.ParentName = parent.String
		d.Source = facts.SourceLocation{File: file.String, Line: int(line.Int64)}
		b.Definitions = append(b.Definitions, d)
	}
	rows.Close()

	if b.Operations, err = r.loadOperations(); err != nil {
		return nil, err
	}

	rows, err = r.db.Query(`SELECT source_definition_id, target_entity_type, target_entity_name, context_tag, mod_id FROM reference_edges ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query reference edges: %w", err)
	}
	for rows.Next() {
		var e facts.ReferenceEdge
		var modID sql.NullString
		if err := rows.Scan(&e.SourceDefinitionID, &e.TargetEntityType, &e.TargetEntityName, &e.ContextTag, &modID); err != nil {
			rows.Close()
			return nil, err
		}
		e.ModID = modID.String
		b.Edges = append(b.Edges, e)
	}
	rows.Close()

	if b.Patches, err = r.loadPatches(); err != nil {
		return nil, err
	}

	rows, err = r.db.Query(`SELECT type_name, method_name, parameter_signature, is_abstract, is_virtual, caller_count, is_entry_point FROM methods ORDER BY type_name, method_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query methods: %w", err)
	}
	for rows.Next() {
		var m facts.MethodFact
		var sig sql.NullString
		if err := rows.Scan(&m.TypeName, &m.MethodName, &sig, &m.IsAbstract, &m.IsVirtual, &m.CallerCount, &m.IsEntryPoint); err != nil {
			rows.Close()
			return nil, err
		}
		m.ParameterSignature = sig.String
		b.Methods = append(b.Methods, m)
	}
	rows.Close()

	return facts.NewSnapshot(&b), nil
}

func (r *FactRepository) loadOperations() ([]facts.Operation, error) {
	rows, err := r.db.Query(`
		SELECT mod_id, kind, raw_selector, canonical_selector, selector_hash, selector_error,
		       target_file, target_entity_type, target_entity_name, property_name, new_value,
		       source_file, source_line, effect_json
		FROM operations
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	var ops []facts.Operation
	for rows.Next() {
		var op facts.Operation
		var kind string
		var selErr, file, etype, ename, prop, value, srcFile, effectJSON sql.NullString
		var srcLine sql.NullInt64
		if err := rows.Scan(
			&op.ModID, &kind, &op.RawSelector, &op.CanonicalSelector, &op.SelectorHash, &selErr,
			&file, &etype, &ename, &prop, &value, &srcFile, &srcLine, &effectJSON,
		); err != nil {
			return nil, err
		}
		op.Kind = facts.OperationKind(kind)
		op.SelectorError = selErr.String
		op.TargetFile = file.String
		op.TargetEntityType = etype.String
		op.TargetEntityName = ename.String
		op.PropertyName = prop.String
		if value.Valid {
			v := value.String
			op.NewValue = &v
		}
		op.Source = facts.SourceLocation{File: srcFile.String, Line: int(srcLine.Int64)}
		if effectJSON.Valid {
			var ec facts.EffectContext
			if err := json.Unmarshal([]byte(effectJSON.String), &ec); err != nil {
				return nil, fmt.Errorf("failed to decode effect context: %w", err)
			}
			op.Effect = &ec
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (r *FactRepository) loadPatches() ([]facts.Patch, error) {
	rows, err := r.db.Query(`
		SELECT id, mod_id, patch_container, target_entity_type, target_method_name,
		       interception_kind, priority, before_ids, after_ids, can_veto_original,
		       mutates_return_value, mutates_shared_state, is_guarded, guard_description,
		       is_dynamic, parameter_signature, source_file, source_line
		FROM patches
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query patches: %w", err)
	}
	defer rows.Close()

	var ps []facts.Patch
	for rows.Next() {
		var p facts.Patch
		var kind string
		var priority, srcLine sql.NullInt64
		var before, after, guard, sig, srcFile sql.NullString
		if err := rows.Scan(
			&p.ID, &p.ModID, &p.PatchContainerName, &p.TargetEntityType, &p.TargetMethodName,
			&kind, &priority, &before, &after, &p.CanVetoOriginal,
			&p.MutatesReturnValue, &p.MutatesSharedState, &p.IsGuarded, &guard,
			&p.IsDynamic, &sig, &srcFile, &srcLine,
		); err != nil {
			return nil, err
		}
		p.InterceptionKind = facts.InterceptionKind(kind)
		if priority.Valid {
			v := int(priority.Int64)
			p.Priority = &v
		}
		if err := unmarshalOptional(before, &p.BeforeIDs); err != nil {
			return nil, err
		}
		if err := unmarshalOptional(after, &p.AfterIDs); err != nil {
			return nil, err
		}
		p.GuardDescription = guard.String
		p.ParameterSignature = sig.String
		p.Source = facts.SourceLocation{File: srcFile.String, Line: int(srcLine.Int64)}
		ps = append(ps, p)
	}
	return ps, rows.Err()
}

// ModExists reports whether a mod with the id is stored.
func (r *FactRepository) ModExists(id string) bool {
	return r.exists("SELECT 1 FROM mods WHERE id = ?", id)
}

// DefinitionExists reports whether a definition with the id is stored.
func (r *FactRepository) DefinitionExists(id string) bool {
	return r.exists("SELECT 1 FROM definitions WHERE id = ?", id)
}

func (r *FactRepository) exists(query, id string) bool {
	var one int
	err := r.db.QueryRow(query, id).Scan(&one)
	if err != nil && err != sql.ErrNoRows {
		r.db.logger.Warn("existence check failed", "id", id, "error", err.Error())
	}
	return err == nil
}

// Counts returns the number of stored records of each kind.
func (r *FactRepository) Counts() (FactCounts, error) {
	var c FactCounts
	targets := []struct {
		table string
		dst   *int
	}{
		{"mods", &c.Mods},
		{"definitions", &c.Definitions},
		{"operations", &c.Operations},
		{"reference_edges", &c.Edges},
		{"patches", &c.Patches},
		{"methods", &c.Methods},
	}
	for _, t := range targets {
		if err := r.db.QueryRow("SELECT COUNT(*) FROM " + t.table).Scan(t.dst); err != nil {
			return FactCounts{}, fmt.Errorf("failed to count %s: %w", t.table, err)
		}
	}
	return c, nil
}

// ClosureRepository stores the transitive reference closure.
type ClosureRepository struct {
	db *DB
}

// NewClosureRepository creates a new closure repository
func NewClosureRepository(db *DB) *ClosureRepository {
	return &ClosureRepository{db: db}
}

// ReplaceClosure deletes every stored row and inserts the closure, in one
// transaction.
func (r *ClosureRepository) ReplaceClosure(c *refgraph.Closure) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM transitive_edges"); err != nil {
			return fmt.Errorf("failed to clear transitive edges: %w", err)
		}
		stmt, err := tx.Prepare(`
			INSERT INTO transitive_edges (source_definition_id, target_definition_id, depth, path_json, context_tags)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, e := range c.Edges {
			path, err := json.Marshal(e.Path)
			if err != nil {
				return fmt.Errorf("failed to encode path: %w", err)
			}
			tags, err := json.Marshal(e.Tags)
			if err != nil {
				return fmt.Errorf("failed to encode tags: %w", err)
			}
			if _, err := stmt.Exec(e.SourceID, e.TargetID, e.Depth, string(path), string(tags)); err != nil {
				return fmt.Errorf("failed to insert closure row %s->%s: %w", e.SourceID, e.TargetID, err)
			}
		}
		return nil
	})
}

// LoadClosure reads every stored closure row.
func (r *ClosureRepository) LoadClosure() (*refgraph.Closure, error) {
	rows, err := r.query("", nil)
	if err != nil {
		return nil, err
	}
	return refgraph.NewClosure(rows), nil
}

// Dependents returns the rows whose target is the definition, shallowest
// first.
func (r *ClosureRepository) Dependents(definitionID string) ([]refgraph.TransitiveEdge, error) {
	return r.query("WHERE target_definition_id = ?", []interface{}{definitionID})
}

// Reachable returns the rows whose source is the definition, shallowest
// first.
func (r *ClosureRepository) Reachable(definitionID string) ([]refgraph.TransitiveEdge, error) {
	return r.query("WHERE source_definition_id = ?", []interface{}{definitionID})
}

func (r *ClosureRepository) query(where string, args []interface{}) ([]refgraph.TransitiveEdge, error) {
	rows, err := r.db.Query(`
		SELECT source_definition_id, target_definition_id, depth, path_json, context_tags
		FROM transitive_edges `+where+`
		ORDER BY depth, source_definition_id, target_definition_id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitive edges: %w", err)
	}
	defer rows.Close()

	var out []refgraph.TransitiveEdge
	for rows.Next() {
		var e refgraph.TransitiveEdge
		var path, tags string
		if err := rows.Scan(&e.SourceID, &e.TargetID, &e.Depth, &path, &tags); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(path), &e.Path); err != nil {
			return nil, fmt.Errorf("failed to decode path: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RunRecord is everything one analysis run produced.
type RunRecord struct {
	ID          string
	StartedAt   time.Time
	CompletedAt time.Time
	ModFilter   []string
	Findings    []findings.Finding
	Scores      []relevance.Scored
	Diagnostics []findings.Diagnostic
	Dropped     int
	ClosureRows int
	Metrics     []AnalyzerMetric
}

// RunSummary is a stored run without its findings.
type RunSummary struct {
	ID           string                `json:"id"`
	StartedAt    time.Time             `json:"startedAt"`
	CompletedAt  time.Time             `json:"completedAt"`
	ModFilter    []string              `json:"modFilter,omitempty"`
	FindingCount int                   `json:"findingCount"`
	DroppedCount int                   `json:"droppedCount"`
	ClosureRows  int                   `json:"closureRows"`
	Diagnostics  []findings.Diagnostic `json:"diagnostics,omitempty"`
}

// StoredFinding is a finding with its relevance score, if one was computed.
type StoredFinding struct {
	findings.Finding
	Score *relevance.Score `json:"score,omitempty"`
}

// FindingFilter narrows ListFindings.
type FindingFilter struct {
	MinSeverity findings.Severity
	Mods        []string
	Pattern     string
	Category    findings.Category
	Limit       int
}

// FindingRepository stores analysis runs and the findings of the latest
// run.
type FindingRepository struct {
	db *DB
}

// NewFindingRepository creates a new finding repository
func NewFindingRepository(db *DB) *FindingRepository {
	return &FindingRepository{db: db}
}

// SaveRun records a run and replaces the stored findings with its
// findings, scores and diagnostics, in one transaction.
func (r *FindingRepository) SaveRun(run *RunRecord) error {
	modFilter, err := marshalOptional(run.ModFilter)
	if err != nil {
		return err
	}

	return r.db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO runs (id, started_at, completed_at, mod_filter, finding_count, dropped_count, closure_rows)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			run.ID,
			run.StartedAt.UTC().Format(timeLayout),
			run.CompletedAt.UTC().Format(timeLayout),
			modFilter,
			len(run.Findings),
			run.Dropped,
			run.ClosureRows,
		); err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}

		if _, err := tx.Exec("DELETE FROM findings"); err != nil {
			return fmt.Errorf("failed to clear findings: %w", err)
		}

		for _, f := range run.Findings {
			if err := insertFinding(tx, run.ID, f); err != nil {
				return err
			}
		}

		for _, s := range run.Scores {
			if _, err := tx.Exec(`
				INSERT INTO finding_scores (finding_id, connectivity, entity_type, mod_cross_reference, keyword, artifact_penalty, total)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, s.FindingID, s.Score.Connectivity, s.Score.EntityType, s.Score.ModCrossReference,
				s.Score.Keyword, s.Score.ArtifactPenalty, s.Score.Total); err != nil {
				return fmt.Errorf("failed to insert score for %s: %w", s.FindingID, err)
			}
		}

		for _, d := range run.Diagnostics {
			if _, err := tx.Exec(`
				INSERT INTO diagnostics (run_id, analyzer, rule, code, message)
				VALUES (?, ?, ?, ?, ?)
			`, run.ID, d.Analyzer, nullString(d.Rule), d.Code, d.Message); err != nil {
				return fmt.Errorf("failed to insert diagnostic: %w", err)
			}
		}

		return recordAnalyzerMetrics(tx, run.ID, run.CompletedAt, run.Metrics)
	})
}

func insertFinding(tx *sql.Tx, runID string, f findings.Finding) error {
	details, err := marshalOptional(f.Details)
	if err != nil {
		return err
	}
	participants := strings.Join(append(append([]string(nil), f.Participants.Mods...), f.Participants.Entities...), " ")

	if _, err := tx.Exec(`
		INSERT INTO findings (
			id, run_id, pattern_id, category, severity, severity_rank, confidence,
			conflict_key, explanation, participants_text, details_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		f.ID, runID, f.PatternID, string(f.Category), string(f.Severity), f.Severity.Rank(),
		string(f.Confidence), nullString(f.ConflictKey), f.Explanation, participants, details,
	); err != nil {
		return fmt.Errorf("failed to insert finding %s: %w", f.ID, err)
	}

	for _, role := range []struct {
		name string
		ids  []string
	}{
		{"mod", f.Participants.Mods},
		{"entity", f.Participants.Entities},
	} {
		for _, id := range role.ids {
			if _, err := tx.Exec(`
				INSERT INTO finding_participants (finding_id, role, participant_id) VALUES (?, ?, ?)
			`, f.ID, role.name, id); err != nil {
				return fmt.Errorf("failed to insert participant of %s: %w", f.ID, err)
			}
		}
	}
	return nil
}

// ListFindings returns stored findings, worst first and then by relevance.
func (r *FindingRepository) ListFindings(filter FindingFilter) ([]*StoredFinding, error) {
	var where []string
	var args []interface{}

	if filter.MinSeverity != "" {
		where = append(where, "f.severity_rank >= ?")
		args = append(args, filter.MinSeverity.Rank())
	}
	if filter.Pattern != "" {
		where = append(where, "f.pattern_id = ?")
		args = append(args, filter.Pattern)
	}
	if filter.Category != "" {
		where = append(where, "f.category = ?")
		args = append(args, string(filter.Category))
	}
	if len(filter.Mods) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.Mods)), ",")
		where = append(where, `f.id IN (
			SELECT finding_id FROM finding_participants
			WHERE role = 'mod' AND participant_id IN (`+placeholders+`))`)
		for _, m := range filter.Mods {
			args = append(args, m)
		}
	}

	query := `
		SELECT f.id, f.pattern_id, f.category, f.severity, f.confidence, f.conflict_key,
		       f.explanation, f.details_json,
		       s.connectivity, s.entity_type, s.mod_cross_reference, s.keyword, s.artifact_penalty, s.total
		FROM findings f
		LEFT JOIN finding_scores s ON s.finding_id = f.id`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY f.severity_rank DESC, COALESCE(s.total, 0) DESC, f.pattern_id, f.id"
	if filter.Limit > 0 {
		query += "\n\t\tLIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	var out []*StoredFinding
	for rows.Next() {
		sf, err := scanFinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sf)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, sf := range out {
		if err := r.loadParticipants(sf); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GetFinding returns one stored finding, or nil when it does not exist.
func (r *FindingRepository) GetFinding(id string) (*StoredFinding, error) {
	rows, err := r.db.Query(`
		SELECT f.id, f.pattern_id, f.category, f.severity, f.confidence, f.conflict_key,
		       f.explanation, f.details_json,
		       s.connectivity, s.entity_type, s.mod_cross_reference, s.keyword, s.artifact_penalty, s.total
		FROM findings f
		LEFT JOIN finding_scores s ON s.finding_id = f.id
		WHERE f.id = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query finding: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	sf, err := scanFinding(rows)
	if err != nil {
		return nil, err
	}
	rows.Close()
	if err := r.loadParticipants(sf); err != nil {
		return nil, err
	}
	return sf, nil
}

func scanFinding(rows *sql.Rows) (*StoredFinding, error) {
	var sf StoredFinding
	var category, severity, confidence string
	var key, details sql.NullString
	var conn, etype, xref, kw, penalty, total sql.NullFloat64

	if err := rows.Scan(
		&sf.ID, &sf.PatternID, &category, &severity, &confidence, &key,
		&sf.Explanation, &details,
		&conn, &etype, &xref, &kw, &penalty, &total,
	); err != nil {
		return nil, err
	}
	sf.Category = findings.Category(category)
	sf.Severity = findings.Severity(severity)
	sf.Confidence = findings.Confidence(confidence)
	sf.ConflictKey = key.String
	if err := unmarshalOptional(details, &sf.Details); err != nil {
		return nil, err
	}
	if total.Valid {
		sf.Score = &relevance.Score{
			Connectivity:      conn.Float64,
			EntityType:        etype.Float64,
			ModCrossReference: xref.Float64,
			Keyword:           kw.Float64,
			ArtifactPenalty:   penalty.Float64,
			Total:             total.Float64,
		}
	}
	return &sf, nil
}

func (r *FindingRepository) loadParticipants(sf *StoredFinding) error {
	rows, err := r.db.Query(`
		SELECT role, participant_id FROM finding_participants
		WHERE finding_id = ?
		ORDER BY participant_id
	`, sf.ID)
	if err != nil {
		return fmt.Errorf("failed to query participants: %w", err)
	}
	defer rows.Close()

	sf.Participants = findings.Participants{Mods: []string{}, Entities: []string{}}
	for rows.Next() {
		var role, id string
		if err := rows.Scan(&role, &id); err != nil {
			return err
		}
		if role == "mod" {
			sf.Participants.Mods = append(sf.Participants.Mods, id)
		} else {
			sf.Participants.Entities = append(sf.Participants.Entities, id)
		}
	}
	return rows.Err()
}

// LatestRun returns the most recent run, or nil when none was recorded.
func (r *FindingRepository) LatestRun() (*RunSummary, error) {
	var id string
	err := r.db.QueryRow(`SELECT id FROM runs ORDER BY completed_at DESC, rowid DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest run: %w", err)
	}
	return r.GetRun(id)
}

// GetRun returns a run with its diagnostics, or nil when it does not exist.
func (r *FindingRepository) GetRun(id string) (*RunSummary, error) {
	var s RunSummary
	var started, completed string
	var modFilter sql.NullString

	err := r.db.QueryRow(`
		SELECT id, started_at, completed_at, mod_filter, finding_count, dropped_count, closure_rows
		FROM runs WHERE id = ?
	`, id).Scan(&s.ID, &started, &completed, &modFilter, &s.FindingCount, &s.DroppedCount, &s.ClosureRows)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	if s.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}
	if s.CompletedAt, err = time.Parse(timeLayout, completed); err != nil {
		return nil, fmt.Errorf("failed to parse completed_at: %w", err)
	}
	if err := unmarshalOptional(modFilter, &s.ModFilter); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(`
		SELECT analyzer, rule, code, message FROM diagnostics
		WHERE run_id = ?
		ORDER BY rowid
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query diagnostics: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var d findings.Diagnostic
		var rule sql.NullString
		if err := rows.Scan(&d.Analyzer, &rule, &d.Code, &d.Message); err != nil {
			return nil, err
		}
		d.Rule = rule.String
		s.Diagnostics = append(s.Diagnostics, d)
	}
	return &s, rows.Err()
}

// ListRuns returns the most recent runs, newest first.
func (r *FindingRepository) ListRuns(limit int) ([]*RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(`SELECT id FROM runs ORDER BY completed_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	out := make([]*RunSummary, 0, len(ids))
	for _, id := range ids {
		s, err := r.GetRun(id)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Store bundles the repositories over one database.
type Store struct {
	*FactRepository
	*ClosureRepository
	*FindingRepository
	DB *DB
}

// NewStore creates the repositories over db.
func NewStore(db *DB) *Store {
	return &Store{
		FactRepository:    NewFactRepository(db),
		ClosureRepository: NewClosureRepository(db),
		FindingRepository: NewFindingRepository(db),
		DB:                db,
	}
}

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// nullString maps the empty string to NULL.
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nullInt maps zero to NULL.
func nullInt(n int) interface{} {
	if n == 0 {
		return nil
	}
	return n
}

// marshalOptional encodes v as JSON, or NULL for nil and empty values.
func marshalOptional(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case *facts.EffectContext:
		if t == nil {
			return nil, nil
		}
	case []string:
		if len(t) == 0 {
			return nil, nil
		}
	case map[string]any:
		if len(t) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json column: %w", err)
	}
	return string(data), nil
}

func unmarshalOptional(s sql.NullString, dst interface{}) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s.String), dst); err != nil {
		return fmt.Errorf("failed to decode json column: %w", err)
	}
	return nil
}
