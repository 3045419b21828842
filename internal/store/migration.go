package store

import (
	"database/sql"
)

const currentSchemaVersion = 3

// RunMigrations applies any pending database migrations
func (s *SQLiteStore) RunMigrations() error {
	version, err := s.getSchemaVersion()
	if err != nil {
		return storageErr("read schema version", err)
	}

	if version < 2 {
		if err := s.migrateToV2(); err != nil {
			return storageErr("migration to v2", err)
		}
	}

	if version < 3 {
		if err := s.migrateToV3(); err != nil {
			return storageErr("migration to v3", err)
		}
	}

	return nil
}

// getSchemaVersion returns the current schema version, 1 if not set
func (s *SQLiteStore) getSchemaVersion() (int, error) {
	var tableName string
	err := s.db.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='fleetsync_schema_version'
	`).Scan(&tableName)

	if err == sql.ErrNoRows {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	err = s.db.QueryRow("SELECT COALESCE(MAX(version), 1) FROM fleetsync_schema_version").Scan(&version)
	if err != nil {
		return 1, nil
	}

	return version, nil
}

// migrateToV2 stores the captured photo alongside its record.
func (s *SQLiteStore) migrateToV2() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS fleetsync_schema_version (
		version INTEGER PRIMARY KEY
	)`); err != nil {
		return err
	}

	columns := []struct{ name, ddl string }{
		{"photo_name", `ALTER TABLE pending_logs ADD COLUMN photo_name TEXT`},
		{"photo_content_type", `ALTER TABLE pending_logs ADD COLUMN photo_content_type TEXT`},
		{"photo_data", `ALTER TABLE pending_logs ADD COLUMN photo_data BLOB`},
	}
	for _, c := range columns {
		// SQLite doesn't have IF NOT EXISTS for ALTER TABLE, so we check first
		if s.columnExists("pending_logs", c.name) {
			continue
		}
		if _, err := s.db.Exec(c.ddl); err != nil {
			return err
		}
	}

	_, err := s.db.Exec("INSERT OR REPLACE INTO fleetsync_schema_version (version) VALUES (?)", 2)
	return err
}

// migrateToV3 adds the synced flag.
func (s *SQLiteStore) migrateToV3() error {
	if !s.columnExists("pending_logs", "synced") {
		if _, err := s.db.Exec(`ALTER TABLE pending_logs ADD COLUMN synced BOOLEAN NOT NULL DEFAULT 0`); err != nil {
			return err
		}
	}
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_pending_logs_synced ON pending_logs(synced)`); err != nil {
		return err
	}

	_, err := s.db.Exec("INSERT OR REPLACE INTO fleetsync_schema_version (version) VALUES (?)", currentSchemaVersion)
	return err
}

// columnExists checks if a column exists in a table
func (s *SQLiteStore) columnExists(table, column string) bool {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM pragma_table_info(?)
		WHERE name = ?
	`, table, column).Scan(&count)
	return err == nil && count > 0
}
