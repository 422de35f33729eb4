// internal/storage/store.go
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Corphon/AdScriptStudio/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes shape.
const schemaVersion = 1

const (
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

var (
	// ErrNotFound is returned when a script id is unknown.
	ErrNotFound = errors.New("script not found")
	// ErrSchemaMismatch means the database was created by a different schema version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
)

// Store persists scripts and their revisions in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens <dataDir>/scripts.db.
func Open(ctx context.Context, dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "scripts.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	// one connection keeps per-connection pragmas in force and serializes writers
	db.SetMaxOpenConns(1)

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to start over)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// CreateScript stores a new script and its first revision (number 0).
func (s *Store) CreateScript(ctx context.Context, session *models.ScriptSession) error {
	if session == nil || session.ID == "" {
		return errors.New("create script: session id is required")
	}
	briefJSON, err := json.Marshal(session.Brief)
	if err != nil {
		return fmt.Errorf("marshal brief: %w", err)
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	session.Latest.ScriptID = session.ID
	session.Latest.Number = 0
	if session.Latest.CreatedAt.IsZero() {
		session.Latest.CreatedAt = session.CreatedAt
	}
	rev, err := encodeRevision(session.Latest)
	if err != nil {
		return err
	}

	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scripts (id, brief_json, created_at) VALUES (?, ?, ?)`,
			session.ID, string(briefJSON), formatTime(session.CreatedAt),
		); err != nil {
			return fmt.Errorf("insert script: %w", err)
		}
		if err := insertRevision(ctx, tx, rev); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// AppendRevision stores rev as the next revision of its script and sets rev.Number.
func (s *Store) AppendRevision(ctx context.Context, rev *models.Revision) error {
	if rev == nil || rev.ScriptID == "" {
		return errors.New("append revision: script id is required")
	}
	if rev.CreatedAt.IsZero() {
		rev.CreatedAt = time.Now().UTC()
	}

	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var next sql.NullInt64
		if err := tx.QueryRowContext(ctx,
			`SELECT MAX(number) + 1 FROM revisions WHERE script_id = ?`, rev.ScriptID,
		).Scan(&next); err != nil {
			return fmt.Errorf("next revision number: %w", err)
		}
		if !next.Valid {
			return fmt.Errorf("append revision %s: %w", rev.ScriptID, ErrNotFound)
		}
		rev.Number = int(next.Int64)

		encoded, err := encodeRevision(*rev)
		if err != nil {
			return err
		}
		if err := insertRevision(ctx, tx, encoded); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// GetScript returns the script with its latest revision.
func (s *Store) GetScript(ctx context.Context, id string) (*models.ScriptSession, error) {
	var briefJSON, createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT brief_json, created_at FROM scripts WHERE id = ?`, id,
	).Scan(&briefJSON, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get script %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get script: %w", err)
	}

	session := &models.ScriptSession{ID: id, CreatedAt: parseTime(createdAt)}
	if err := json.Unmarshal([]byte(briefJSON), &session.Brief); err != nil {
		return nil, fmt.Errorf("decode brief: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+revisionColumns+` FROM revisions WHERE script_id = ? ORDER BY number DESC LIMIT 1`, id)
	latest, err := scanRevision(row)
	if err != nil {
		return nil, fmt.Errorf("get latest revision: %w", err)
	}
	session.Latest = *latest
	return session, nil
}

// ListRevisions returns every revision of a script, oldest first.
func (s *Store) ListRevisions(ctx context.Context, id string) ([]models.Revision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+revisionColumns+` FROM revisions WHERE script_id = ? ORDER BY number`, id)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	var revisions []models.Revision
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		revisions = append(revisions, *rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revisions: %w", err)
	}
	if len(revisions) == 0 {
		return nil, fmt.Errorf("list revisions %s: %w", id, ErrNotFound)
	}
	return revisions, nil
}

const revisionColumns = `script_id, number, lines_json, instruction, selected_json, validation_json, created_at`

type revisionRow struct {
	scriptID       string
	number         int
	linesJSON      string
	instruction    sql.NullString
	selectedJSON   sql.NullString
	validationJSON sql.NullString
	createdAt      string
}

type rowScanner interface {
	Scan(dest ...any) error
}

func encodeRevision(rev models.Revision) (revisionRow, error) {
	lines := rev.Lines
	if lines == nil {
		lines = models.Script{}
	}
	linesJSON, err := json.Marshal(lines)
	if err != nil {
		return revisionRow{}, fmt.Errorf("marshal lines: %w", err)
	}
	row := revisionRow{
		scriptID:    rev.ScriptID,
		number:      rev.Number,
		linesJSON:   string(linesJSON),
		instruction: nullableString(rev.Instruction),
		createdAt:   formatTime(rev.CreatedAt),
	}
	if rev.Selected != nil {
		data, err := json.Marshal(rev.Selected)
		if err != nil {
			return revisionRow{}, fmt.Errorf("marshal selection: %w", err)
		}
		row.selectedJSON = nullableString(string(data))
	}
	if rev.Validation != nil {
		data, err := json.Marshal(rev.Validation)
		if err != nil {
			return revisionRow{}, fmt.Errorf("marshal validation: %w", err)
		}
		row.validationJSON = nullableString(string(data))
	}
	return row, nil
}

func insertRevision(ctx context.Context, tx *sql.Tx, row revisionRow) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO revisions (`+revisionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.scriptID, row.number, row.linesJSON, row.instruction, row.selectedJSON, row.validationJSON, row.createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert revision: %w", err)
	}
	return nil
}

func scanRevision(scanner rowScanner) (*models.Revision, error) {
	var row revisionRow
	if err := scanner.Scan(
		&row.scriptID, &row.number, &row.linesJSON, &row.instruction,
		&row.selectedJSON, &row.validationJSON, &row.createdAt,
	); err != nil {
		return nil, err
	}

	rev := &models.Revision{
		ScriptID:    row.scriptID,
		Number:      row.number,
		Instruction: row.instruction.String,
		CreatedAt:   parseTime(row.createdAt),
	}
	if err := json.Unmarshal([]byte(row.linesJSON), &rev.Lines); err != nil {
		return nil, fmt.Errorf("decode lines: %w", err)
	}
	if row.selectedJSON.Valid {
		if err := json.Unmarshal([]byte(row.selectedJSON.String), &rev.Selected); err != nil {
			return nil, fmt.Errorf("decode selection: %w", err)
		}
	}
	if row.validationJSON.Valid {
		var meta models.ValidationMetadata
		if err := json.Unmarshal([]byte(row.validationJSON.String), &meta); err != nil {
			return nil, fmt.Errorf("decode validation: %w", err)
		}
		rev.Validation = &meta
	}
	return rev, nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
