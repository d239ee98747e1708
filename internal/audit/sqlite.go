package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const createAuditTable = `
CREATE TABLE IF NOT EXISTS audit_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	ts          TEXT    NOT NULL,
	action      TEXT    NOT NULL,
	actor_id    TEXT    NOT NULL DEFAULT '',
	entity_type TEXT    NOT NULL DEFAULT '',
	entity_id   TEXT    NOT NULL DEFAULT '',
	success     INTEGER NOT NULL,
	severity    TEXT    NOT NULL,
	details     TEXT
)`

// SQLiteSink persists entries into the audit_log table.
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the SQLite database at path in WAL mode.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open audit database %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping audit database %q: %w", path, err)
	}
	return db, nil
}

// NewSQLiteSink creates the audit table if it does not exist.
func NewSQLiteSink(ctx context.Context, db *sql.DB) (*SQLiteSink, error) {
	if db == nil {
		return nil, fmt.Errorf("audit: nil database")
	}
	if _, err := db.ExecContext(ctx, createAuditTable); err != nil {
		return nil, fmt.Errorf("create audit_log: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Log(ctx context.Context, entry Entry) error {
	var details []byte
	if len(entry.Details) > 0 {
		encoded, err := json.Marshal(entry.Details)
		if err != nil {
			return err
		}
		details = encoded
	}

	success := 0
	if entry.Success {
		success = 1
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (ts, action, actor_id, entity_type, entity_id, success, severity, details)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp.UTC().Format(time.RFC3339Nano),
		entry.Action,
		entry.ActorID,
		entry.EntityType,
		entry.EntityID,
		success,
		entry.Severity.String(),
		string(details),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Recent returns the newest entries first, limited to n.
func (s *SQLiteSink) Recent(ctx context.Context, n int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, action, actor_id, entity_type, entity_id, success, severity, details
		 FROM audit_log ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			ts, severity string
			success      int
			details      sql.NullString
			entry        Entry
		)
		if err := rows.Scan(&ts, &entry.Action, &entry.ActorID, &entry.EntityType, &entry.EntityID, &success, &severity, &details); err != nil {
			return nil, err
		}
		entry.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		entry.Success = success == 1
		entry.Severity = parseSeverity(severity)
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &entry.Details); err != nil {
				return nil, err
			}
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func parseSeverity(s string) Severity {
	switch s {
	case "warning":
		return SeverityWarning
	case "security":
		return SeveritySecurity
	default:
		return SeverityInfo
	}
}
