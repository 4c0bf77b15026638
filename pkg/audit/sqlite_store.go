// Package audit persists the two append-only event tables behind the
// permission engine: confidence_events (one row per scored outcome) and
// permission_events (one row per grant/downgrade/registration). Rows are
// immutable once written; the only ordering guarantee is per-agent
// temporal ordering.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/guardrail-labs/trustgate/pkg/ladder"
	"github.com/guardrail-labs/trustgate/pkg/policy"
	"github.com/guardrail-labs/trustgate/pkg/trust"
)

// timeLayout is fixed-width so lexicographic ordering of stored
// timestamps matches chronological ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a SQLite-backed append-only audit log.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the audit database at path and runs migrations.
// Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db %s: %w", path, err)
	}
	// The engine serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return NewStore(db)
}

// NewStore wraps an existing database handle and runs migrations.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS confidence_events (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		confidence_before REAL NOT NULL,
		confidence_after REAL NOT NULL,
		event_type TEXT NOT NULL DEFAULT '',
		success INTEGER NOT NULL,
		recorded_at TEXT NOT NULL,
		metadata_json TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_confidence_agent_time
		ON confidence_events(agent_id, recorded_at);
	CREATE TABLE IF NOT EXISTS permission_events (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		permission TEXT NOT NULL,
		granted_by TEXT,
		granted_at TEXT NOT NULL,
		expires_at TEXT,
		confidence_at_grant REAL,
		justification TEXT,
		approval_signature TEXT,
		metadata_json TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_permission_agent_time
		ON permission_events(agent_id, granted_at);`
	_, err := s.db.ExecContext(context.Background(), query)
	if err != nil {
		return fmt.Errorf("migrate audit schema: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendConfidenceEvent implements trust.EventStore.
func (s *Store) AppendConfidenceEvent(ctx context.Context, ev trust.Event) error {
	metaJSON, _ := json.Marshal(ev.Metadata)
	query := `INSERT INTO confidence_events (
		id, agent_id, confidence_before, confidence_after, event_type, success, recorded_at, metadata_json
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		ev.ID, ev.AgentID, ev.Before, ev.After, string(ev.Kind),
		boolToInt(ev.Success), ev.RecordedAt.UTC().Format(timeLayout), string(metaJSON),
	)
	if err != nil {
		return fmt.Errorf("insert confidence event: %w", err)
	}
	return nil
}

// ConfidenceEvents implements trust.EventStore: per-agent events newer than
// since, oldest first.
func (s *Store) ConfidenceEvents(ctx context.Context, agentID string, since time.Time) ([]trust.Event, error) {
	query := `
		SELECT id, agent_id, confidence_before, confidence_after, event_type, success, recorded_at, metadata_json
		FROM confidence_events
		WHERE agent_id = ? AND recorded_at > ?
		ORDER BY recorded_at ASC`
	rows, err := s.db.QueryContext(ctx, query, agentID, since.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("query confidence events: %w", err)
	}
	return scanConfidenceRows(rows)
}

// ConfidenceEventsSince implements trust.EventStore: all agents' events
// newer than since, oldest first. Used for startup rehydration.
func (s *Store) ConfidenceEventsSince(ctx context.Context, since time.Time) ([]trust.Event, error) {
	query := `
		SELECT id, agent_id, confidence_before, confidence_after, event_type, success, recorded_at, metadata_json
		FROM confidence_events
		WHERE recorded_at > ?
		ORDER BY recorded_at ASC`
	rows, err := s.db.QueryContext(ctx, query, since.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("query confidence events: %w", err)
	}
	return scanConfidenceRows(rows)
}

// AppendPermissionEvent implements policy.AuditSink.
func (s *Store) AppendPermissionEvent(ctx context.Context, ev policy.PermissionEvent) error {
	metaJSON, _ := json.Marshal(ev.Metadata)
	query := `INSERT INTO permission_events (
		id, agent_id, event_type, permission, granted_by, granted_at, expires_at,
		confidence_at_grant, justification, approval_signature, metadata_json
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var expires string
	if !ev.ExpiresAt.IsZero() {
		expires = ev.ExpiresAt.UTC().Format(timeLayout)
	}
	_, err := s.db.ExecContext(ctx, query,
		ev.ID, ev.AgentID, ev.EventType, string(ev.Permission), ev.GrantedBy,
		ev.GrantedAt.UTC().Format(timeLayout), expires,
		ev.ConfidenceAtGrant, ev.Justification, ev.ApprovalSignature, string(metaJSON),
	)
	if err != nil {
		return fmt.Errorf("insert permission event: %w", err)
	}
	return nil
}

// PermissionEvents returns the agent's permission history, oldest first.
func (s *Store) PermissionEvents(ctx context.Context, agentID string) ([]policy.PermissionEvent, error) {
	query := `
		SELECT id, agent_id, event_type, permission, granted_by, granted_at, expires_at,
			confidence_at_grant, justification, approval_signature, metadata_json
		FROM permission_events
		WHERE agent_id = ?
		ORDER BY granted_at ASC`
	rows, err := s.db.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("query permission events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []policy.PermissionEvent
	for rows.Next() {
		var (
			ev         policy.PermissionEvent
			permission string
			grantedBy  sql.NullString
			grantedAt  string
			expiresAt  sql.NullString
			confidence sql.NullFloat64
			justif     sql.NullString
			signature  sql.NullString
			metaJSON   sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.AgentID, &ev.EventType, &permission, &grantedBy,
			&grantedAt, &expiresAt, &confidence, &justif, &signature, &metaJSON); err != nil {
			return nil, err
		}
		ev.Permission = ladder.Level(permission)
		ev.GrantedBy = grantedBy.String
		ev.GrantedAt = parseTime(grantedAt)
		if expiresAt.Valid && expiresAt.String != "" {
			ev.ExpiresAt = parseTime(expiresAt.String)
		}
		ev.ConfidenceAtGrant = confidence.Float64
		ev.Justification = justif.String
		ev.ApprovalSignature = signature.String
		if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
			_ = json.Unmarshal([]byte(metaJSON.String), &ev.Metadata)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func scanConfidenceRows(rows *sql.Rows) ([]trust.Event, error) {
	defer func() { _ = rows.Close() }()

	var events []trust.Event
	for rows.Next() {
		var (
			ev         trust.Event
			kind       string
			success    int
			recordedAt string
			metaJSON   sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.AgentID, &ev.Before, &ev.After,
			&kind, &success, &recordedAt, &metaJSON); err != nil {
			return nil, err
		}
		ev.Kind = trust.EventKind(kind)
		ev.Success = success != 0
		ev.RecordedAt = parseTime(recordedAt)
		if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
			_ = json.Unmarshal([]byte(metaJSON.String), &ev.Metadata)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
