package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sentinelops/fleetsync/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the SQLite-backed Queue.
type SQLiteStore struct {
	db *sql.DB
}

var _ Queue = (*SQLiteStore)(nil)

// NewSQLite opens or creates a SQLite queue at dbPath in WAL mode.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, storageErr("create database directory", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, storageErr("open database", err)
	}
	// A single writer avoids SQLITE_BUSY between the router and the engine.
	db.SetMaxOpenConns(1)

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Initialize creates the v1 schema and the sync_state table.
func (s *SQLiteStore) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pending_logs (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL,
		operator_id TEXT,
		type TEXT NOT NULL,
		hours_reading REAL DEFAULT 0,
		answers JSON,
		gps_location JSON,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pending_logs_created ON pending_logs(created_at);

	CREATE TABLE IF NOT EXISTS sync_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return storageErr("create schema", err)
	}
	return nil
}

// LastSynced returns the time of the last completed sync run, or the
// zero time if none was recorded.
func (s *SQLiteStore) LastSynced(ctx context.Context) (time.Time, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, keyLastSync).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, storageErr("read last sync", err)
	}
	return parseMillis(v), nil
}

// MarkSynced records t as the last completed sync run.
func (s *SQLiteStore) MarkSynced(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		keyLastSync, formatMillis(t))
	if err != nil {
		return storageErr("record last sync", err)
	}
	return nil
}

const pendingColumns = `id, asset_id, operator_id, type, hours_reading, answers, gps_location,
	created_at, synced, photo_name, photo_content_type, photo_data`

// Add inserts a record. A duplicate ID fails the primary key constraint.
func (s *SQLiteStore) Add(ctx context.Context, log *models.PendingLog) error {
	if log.ID == "" {
		return fmt.Errorf("pending log has no id")
	}

	var gps []byte
	if log.GPSLocation != nil {
		var err error
		gps, err = json.Marshal(log.GPSLocation)
		if err != nil {
			return fmt.Errorf("marshal gps location: %w", err)
		}
	}

	var photoName, photoType sql.NullString
	var photoData []byte
	if log.Photo != nil {
		photoName = sql.NullString{String: log.Photo.Name, Valid: true}
		photoType = sql.NullString{String: log.Photo.ContentType, Valid: true}
		photoData = log.Photo.Data
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_logs (`+pendingColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.AssetID, nullString(log.OperatorID), string(log.Type), log.HoursReading,
		nullJSON(log.Answers), nullJSON(gps), log.CreatedAt, log.Synced,
		photoName, photoType, photoData,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("pending log '%s' already exists", log.ID)
		}
		return storageErr("insert pending log", err)
	}
	return nil
}

// ListPending returns unsynced records, oldest first. A row that cannot
// be decoded is logged and left out.
func (s *SQLiteStore) ListPending(ctx context.Context) ([]*models.PendingLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pendingColumns+` FROM pending_logs WHERE synced = 0 ORDER BY created_at, id`)
	if err != nil {
		return nil, storageErr("list pending logs", err)
	}
	defer rows.Close()

	var pending []*models.PendingLog
	for rows.Next() {
		log, err := scanPendingLog(rows)
		if err != nil {
			slog.Warn("skipping undecodable pending log", "error", err)
			continue
		}
		pending = append(pending, log)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list pending logs", err)
	}
	return pending, nil
}

// Get retrieves a record by ID. Returns ErrNotFound if missing.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.PendingLog, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pendingColumns+` FROM pending_logs WHERE id = ?`, id)
	log, err := scanPendingLog(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get pending log", err)
	}
	return log, nil
}

// Remove deletes a record. Returns ErrNotFound if missing.
func (s *SQLiteStore) Remove(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_logs WHERE id = ?`, id)
	if err != nil {
		return storageErr("delete pending log", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("delete pending log", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of records, optionally only the unsynced ones.
func (s *SQLiteStore) Count(ctx context.Context, pendingOnly bool) (int, error) {
	query := `SELECT COUNT(*) FROM pending_logs`
	if pendingOnly {
		query += ` WHERE synced = 0`
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, storageErr("count pending logs", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPendingLog(row rowScanner) (*models.PendingLog, error) {
	var (
		log                  models.PendingLog
		operatorID           sql.NullString
		logType              string
		answers, gps         []byte
		photoName, photoType sql.NullString
		photoData            []byte
	)
	err := row.Scan(&log.ID, &log.AssetID, &operatorID, &logType, &log.HoursReading,
		&answers, &gps, &log.CreatedAt, &log.Synced, &photoName, &photoType, &photoData)
	if err != nil {
		return nil, err
	}

	log.OperatorID = operatorID.String
	log.Type = models.SubmissionType(logType)
	if len(answers) > 0 {
		log.Answers = json.RawMessage(answers)
	}
	if len(gps) > 0 {
		var loc models.GPSLocation
		if err := json.Unmarshal(gps, &loc); err != nil {
			return nil, fmt.Errorf("unmarshal gps location: %w", err)
		}
		log.GPSLocation = &loc
	}
	if photoName.Valid {
		log.Photo = &models.Photo{Name: photoName.String, ContentType: photoType.String, Data: photoData}
	}
	return &log, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
