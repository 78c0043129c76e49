package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// AuditLog is an append-only SQLite-backed record of every intervention
// submitted, acknowledged, or applied, independent of the in-memory-only
// live intervention state the Intervention Channel owns. It exists for
// operator forensics after restart, not for reconstructing live state —
// the Intervention Channel never reads it back.
type AuditLog struct {
	db *sql.DB
}

// NewAuditLog wraps an already opened audit database handle and creates
// its schema if missing.
func NewAuditLog(db *sql.DB) (*AuditLog, error) {
	log := &AuditLog{db: db}
	if err := log.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	return log, nil
}

func (a *AuditLog) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS intervention_audit (
		id TEXT NOT NULL,
		swarm_id TEXT NOT NULL,
		agent_id TEXT,
		action TEXT NOT NULL,
		message TEXT NOT NULL,
		status TEXT NOT NULL,
		metadata TEXT,
		recorded_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_intervention_audit_swarm ON intervention_audit(swarm_id, recorded_at);
	CREATE INDEX IF NOT EXISTS idx_intervention_audit_id ON intervention_audit(id);
	`

	_, err := a.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to execute audit schema: %w", err)
	}
	return nil
}

// Record appends one row describing an intervention's status at a point
// in time. Every status transition (pending, acknowledged, applied,
// rejected) gets its own row — the table is a log, not a mutable
// projection, so history survives even if the live record is later
// cleaned up.
func (a *AuditLog) Record(rec InterventionRecord) error {
	var metadataJSON []byte
	if rec.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal intervention metadata: %w", err)
		}
	}

	query := `
		INSERT INTO intervention_audit (id, swarm_id, agent_id, action, message, status, metadata, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := a.db.Exec(query,
		rec.ID, rec.SwarmID, rec.AgentID, rec.Action, rec.Message, rec.Status,
		string(metadataJSON), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit row: %w", err)
	}
	return nil
}

// History returns every recorded row for one swarm's interventions,
// oldest first, regardless of whether the live intervention still
// exists.
func (a *AuditLog) History(swarmID string) ([]InterventionRecord, error) {
	query := `
		SELECT id, swarm_id, agent_id, action, message, status, metadata, recorded_at
		FROM intervention_audit
		WHERE swarm_id = ?
		ORDER BY recorded_at ASC
	`
	rows, err := a.db.Query(query, swarmID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit history: %w", err)
	}
	defer rows.Close()

	var records []InterventionRecord
	for rows.Next() {
		var rec InterventionRecord
		var agentID sql.NullString
		var metadataJSON sql.NullString

		if err := rows.Scan(&rec.ID, &rec.SwarmID, &agentID, &rec.Action, &rec.Message, &rec.Status, &metadataJSON, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		if agentID.Valid {
			rec.AgentID = agentID.String
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit metadata: %w", err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit rows: %w", err)
	}
	return records, nil
}

// Cleanup deletes audit rows older than olderThan, mirroring the
// retention cleanup the live Intervention Channel applies to in-memory
// state.
func (a *AuditLog) Cleanup(olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan)
	_, err := a.db.Exec(`DELETE FROM intervention_audit WHERE recorded_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup audit rows: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (a *AuditLog) Close() error {
	return a.db.Close()
}
