package storage

import (
	"database/sql"
	"fmt"
)

// Schema version tracking
const currentSchemaVersion = 1

// initializeSchema creates all tables for a new database
func (db *DB) initializeSchema() error {
	return db.WithTx(func(tx *sql.Tx) error {
		if err := createSchemaVersionTable(tx); err != nil {
			return err
		}

		creators := []func(*sql.Tx) error{
			createFactTables,
			createTransitiveEdgesTable,
			createRunTables,
			createFindingsTables,
			createFindingsFTSTable,
			createAnalyzerMetricsTable,
		}
		for _, create := range creators {
			if err := create(tx); err != nil {
				return err
			}
		}

		if err := setSchemaVersion(tx, currentSchemaVersion); err != nil {
			return err
		}

		db.logger.Info("Database schema initialized", "version", currentSchemaVersion)
		return nil
	})
}

// runMigrations runs any pending schema migrations
func (db *DB) runMigrations() error {
	version, err := db.getSchemaVersion()
	if err != nil {
		return err
	}

	if version == currentSchemaVersion {
		db.logger.Debug("Database schema is up to date", "version", version)
		return nil
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	db.logger.Info("Running database migrations",
		"from_version", version,
		"to_version", currentSchemaVersion,
	)

	// A database without a version predates the schema; create it in place.
	if version == 0 {
		return db.initializeSchema()
	}
	return nil
}

// getSchemaVersion gets the current schema version
func (db *DB) getSchemaVersion() (int, error) {
	var tableName string
	err := db.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableName)

	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return version, nil
}

// setSchemaVersion sets the schema version
func setSchemaVersion(tx *sql.Tx, version int) error {
	_, err := tx.Exec("DELETE FROM schema_version")
	if err != nil {
		return err
	}
	_, err = tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version)
	return err
}

// createSchemaVersionTable creates the schema_version tracking table
func createSchemaVersionTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	return err
}

func execAll(tx *sql.Tx, what string, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create %s: %w", what, err)
		}
	}
	return nil
}

// createFactTables creates the input fact tables. They are replaced as a
// whole on every import.
func createFactTables(tx *sql.Tx) error {
	return execAll(tx, "fact tables", []string{
		`CREATE TABLE IF NOT EXISTS mods (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			load_order INTEGER NOT NULL UNIQUE,
			has_data_overlay INTEGER NOT NULL DEFAULT 0,
			has_binary_patches INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS definitions (
			id TEXT PRIMARY KEY,
			entity_type TEXT NOT NULL,
			name TEXT NOT NULL,
			parent_name TEXT,
			source_file TEXT,
			source_line INTEGER,
			UNIQUE (entity_type, name)
		)`,
		`CREATE TABLE IF NOT EXISTS operations (
			seq INTEGER PRIMARY KEY,
			mod_id TEXT NOT NULL REFERENCES mods(id) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			raw_selector TEXT NOT NULL,
			canonical_selector TEXT NOT NULL,
			selector_hash TEXT NOT NULL,
			selector_error TEXT,
			target_file TEXT,
			target_entity_type TEXT,
			target_entity_name TEXT,
			property_name TEXT,
			new_value TEXT,
			source_file TEXT,
			source_line INTEGER,
			effect_json TEXT
		)`,
		"CREATE INDEX IF NOT EXISTS idx_operations_mod ON operations(mod_id)",
		"CREATE INDEX IF NOT EXISTS idx_operations_hash ON operations(selector_hash)",
		"CREATE INDEX IF NOT EXISTS idx_operations_entity ON operations(target_entity_type, target_entity_name)",
		`CREATE TABLE IF NOT EXISTS reference_edges (
			seq INTEGER PRIMARY KEY,
			source_definition_id TEXT NOT NULL REFERENCES definitions(id) ON DELETE CASCADE,
			target_entity_type TEXT NOT NULL,
			target_entity_name TEXT NOT NULL,
			context_tag TEXT NOT NULL,
			mod_id TEXT
		)`,
		"CREATE INDEX IF NOT EXISTS idx_reference_edges_target ON reference_edges(target_entity_type, target_entity_name)",
		`CREATE TABLE IF NOT EXISTS patches (
			id TEXT PRIMARY KEY,
			seq INTEGER NOT NULL,
			mod_id TEXT NOT NULL REFERENCES mods(id) ON DELETE CASCADE,
			patch_container TEXT NOT NULL,
			target_entity_type TEXT NOT NULL,
			target_method_name TEXT NOT NULL,
			interception_kind TEXT NOT NULL,
			priority INTEGER,
			before_ids TEXT,
			after_ids TEXT,
			can_veto_original INTEGER NOT NULL DEFAULT 0,
			mutates_return_value INTEGER NOT NULL DEFAULT 0,
			mutates_shared_state INTEGER NOT NULL DEFAULT 0,
			is_guarded INTEGER NOT NULL DEFAULT 0,
			guard_description TEXT,
			is_dynamic INTEGER NOT NULL DEFAULT 0,
			parameter_signature TEXT,
			source_file TEXT,
			source_line INTEGER
		)`,
		"CREATE INDEX IF NOT EXISTS idx_patches_target ON patches(target_entity_type, target_method_name)",
		`CREATE TABLE IF NOT EXISTS methods (
			type_name TEXT NOT NULL,
			method_name TEXT NOT NULL,
			parameter_signature TEXT,
			is_abstract INTEGER NOT NULL DEFAULT 0,
			is_virtual INTEGER NOT NULL DEFAULT 0,
			caller_count INTEGER NOT NULL DEFAULT 0,
			is_entry_point INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (type_name, method_name)
		)`,
	})
}

// createTransitiveEdgesTable creates the closure table, rebuilt in full
// on every analysis run.
func createTransitiveEdgesTable(tx *sql.Tx) error {
	return execAll(tx, "transitive_edges table", []string{
		`CREATE TABLE IF NOT EXISTS transitive_edges (
			source_definition_id TEXT NOT NULL,
			target_definition_id TEXT NOT NULL,
			depth INTEGER NOT NULL CHECK(depth >= 1),
			path_json TEXT NOT NULL,
			context_tags TEXT NOT NULL,
			PRIMARY KEY (source_definition_id, target_definition_id),
			CHECK(source_definition_id != target_definition_id)
		)`,
		"CREATE INDEX IF NOT EXISTS idx_transitive_edges_target ON transitive_edges(target_definition_id)",
	})
}

// createRunTables creates the analysis run log.
func createRunTables(tx *sql.Tx) error {
	return execAll(tx, "run tables", []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			completed_at TEXT NOT NULL,
			mod_filter TEXT,
			finding_count INTEGER NOT NULL,
			dropped_count INTEGER NOT NULL DEFAULT 0,
			closure_rows INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS diagnostics (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			analyzer TEXT NOT NULL,
			rule TEXT,
			code TEXT NOT NULL,
			message TEXT NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS idx_diagnostics_run ON diagnostics(run_id)",
	})
}

// createFindingsTables creates the findings of the latest run and their
// relevance scores.
func createFindingsTables(tx *sql.Tx) error {
	return execAll(tx, "findings tables", []string{
		`CREATE TABLE IF NOT EXISTS findings (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT UNIQUE NOT NULL,
			run_id TEXT NOT NULL,
			pattern_id TEXT NOT NULL,
			category TEXT NOT NULL,
			severity TEXT NOT NULL CHECK(severity IN ('low', 'medium', 'high', 'critical')),
			severity_rank INTEGER NOT NULL,
			confidence TEXT NOT NULL CHECK(confidence IN ('low', 'medium', 'high')),
			conflict_key TEXT,
			explanation TEXT NOT NULL,
			participants_text TEXT NOT NULL,
			details_json TEXT
		)`,
		"CREATE INDEX IF NOT EXISTS idx_findings_severity ON findings(severity_rank)",
		"CREATE INDEX IF NOT EXISTS idx_findings_pattern ON findings(pattern_id)",
		`CREATE TABLE IF NOT EXISTS finding_participants (
			finding_id TEXT NOT NULL REFERENCES findings(id) ON DELETE CASCADE,
			role TEXT NOT NULL CHECK(role IN ('mod', 'entity')),
			participant_id TEXT NOT NULL,
			PRIMARY KEY (finding_id, role, participant_id)
		)`,
		"CREATE INDEX IF NOT EXISTS idx_finding_participants_id ON finding_participants(participant_id)",
		`CREATE TABLE IF NOT EXISTS finding_scores (
			finding_id TEXT PRIMARY KEY REFERENCES findings(id) ON DELETE CASCADE,
			connectivity REAL NOT NULL,
			entity_type REAL NOT NULL,
			mod_cross_reference REAL NOT NULL,
			keyword REAL NOT NULL,
			artifact_penalty REAL NOT NULL,
			total REAL NOT NULL
		)`,
	})
}
