// ABOUTME: Decision audit log: which handler chose what, which tools ran, and which stages changed
// ABOUTME: Entries are append-only and listed newest first with optional filters

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendAudit appends a new entry to the audit log.
// Generates ID and Timestamp if not set.
func (s *SQLiteStore) AppendAudit(ctx context.Context, e *AuditEntry) error {
	if !e.DecisionType.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidDecisionType, e.DecisionType)
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var detailJSON *string
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling audit detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	query := `
		INSERT INTO audit_log (audit_id, conversation_id, decision_type, agent_id, summary, success, duration_ms, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		nullString(e.ConversationID),
		string(e.DecisionType),
		nullString(e.AgentID),
		e.Summary,
		e.Success,
		e.DurationMS,
		formatTS(e.Timestamp),
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log",
		"id", e.ID,
		"conversation_id", e.ConversationID,
		"decision_type", e.DecisionType,
	)
	return nil
}

// normalizeAuditLimit applies default (100) and cap (1000) to audit limit.
func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

const auditLogQuery = `
	SELECT audit_id, conversation_id, decision_type, agent_id, summary, success, duration_ms, ts, detail_json
	FROM audit_log
	WHERE (? IS NULL OR conversation_id = ?)
	  AND (? IS NULL OR decision_type = ?)
	  AND (? IS NULL OR ts >= ?)
	  AND (? IS NULL OR ts <= ?)
	ORDER BY ts DESC, rowid DESC
	LIMIT ?
`

// ListAudit returns audit entries matching the filter, newest first.
func (s *SQLiteStore) ListAudit(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	var typeStr, sinceStr, untilStr *string
	if f.DecisionType != nil {
		v := string(*f.DecisionType)
		typeStr = &v
	}
	if f.Since != nil {
		v := formatTS(*f.Since)
		sinceStr = &v
	}
	if f.Until != nil {
		v := formatTS(*f.Until)
		untilStr = &v
	}

	rows, err := s.db.QueryContext(ctx, auditLogQuery,
		f.ConversationID, f.ConversationID,
		typeStr, typeStr,
		sinceStr, sinceStr,
		untilStr, untilStr,
		normalizeAuditLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []AuditEntry{}
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return entries, nil
}

// scanAuditEntry scans a row into an AuditEntry.
func scanAuditEntry(scanner interface{ Scan(dest ...any) error }) (AuditEntry, error) {
	var e AuditEntry
	var conversationID, agentID, detailJSON *string
	var typeStr, tsStr string

	if err := scanner.Scan(
		&e.ID,
		&conversationID,
		&typeStr,
		&agentID,
		&e.Summary,
		&e.Success,
		&e.DurationMS,
		&tsStr,
		&detailJSON,
	); err != nil {
		return e, fmt.Errorf("scanning audit entry: %w", err)
	}

	e.DecisionType = DecisionType(typeStr)
	if conversationID != nil {
		e.ConversationID = *conversationID
	}
	if agentID != nil {
		e.AgentID = *agentID
	}

	var err error
	e.Timestamp, err = parseTS(tsStr)
	if err != nil {
		return e, fmt.Errorf("parsing timestamp: %w", err)
	}

	if detailJSON != nil {
		if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
			return e, fmt.Errorf("unmarshaling detail: %w", err)
		}
	}
	return e, nil
}

// nullString returns nil for empty strings so the column stores NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
