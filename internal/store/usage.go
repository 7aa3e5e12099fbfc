// ABOUTME: SQLite implementation for token usage tracking
// ABOUTME: Stores per-turn token consumption reported by the agent pipeline

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SaveUsage stores a token usage record. Generates ID and CreatedAt if not set.
func (s *SQLiteStore) SaveUsage(ctx context.Context, usage *TokenUsage) error {
	if usage.ID == "" {
		usage.ID = uuid.New().String()
	}
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}

	query := `
		INSERT INTO token_usage (
			id, conversation_id, request_id, agent_id,
			input_tokens, output_tokens, total_tokens, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		usage.ID,
		usage.ConversationID,
		usage.RequestID,
		usage.AgentID,
		usage.InputTokens,
		usage.OutputTokens,
		usage.TotalTokens,
		formatTS(usage.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting usage: %w", err)
	}

	s.logger.Debug("saved token usage",
		"id", usage.ID,
		"conversation_id", usage.ConversationID,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
	)
	return nil
}

// GetConversationUsage retrieves all usage records for a conversation, oldest first.
func (s *SQLiteStore) GetConversationUsage(ctx context.Context, conversationID string) ([]*TokenUsage, error) {
	query := `
		SELECT id, conversation_id, request_id, agent_id,
		       input_tokens, output_tokens, total_tokens, created_at
		FROM token_usage
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying conversation usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var usages []*TokenUsage
	for rows.Next() {
		usage, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		usages = append(usages, usage)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage rows: %w", err)
	}
	return usages, nil
}

// GetUsageStats returns aggregated usage statistics with optional filters.
func (s *SQLiteStore) GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error) {
	query := `
		SELECT
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(total_tokens), 0),
			COUNT(*)
		FROM token_usage
		WHERE 1=1
	`
	args := []any{}

	if filter.ConversationID != nil {
		query += " AND conversation_id = ?"
		args = append(args, *filter.ConversationID)
	}
	if filter.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, formatTS(*filter.Since))
	}
	if filter.Until != nil {
		query += " AND created_at < ?"
		args = append(args, formatTS(*filter.Until))
	}

	var stats UsageStats
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.TotalInput,
		&stats.TotalOutput,
		&stats.TotalTokens,
		&stats.RequestCount,
	)
	if err != nil {
		return nil, fmt.Errorf("querying usage stats: %w", err)
	}
	return &stats, nil
}

// scanUsage scans a single usage row into a TokenUsage struct.
func scanUsage(rows *sql.Rows) (*TokenUsage, error) {
	var usage TokenUsage
	var createdAtStr string

	err := rows.Scan(
		&usage.ID,
		&usage.ConversationID,
		&usage.RequestID,
		&usage.AgentID,
		&usage.InputTokens,
		&usage.OutputTokens,
		&usage.TotalTokens,
		&createdAtStr,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning usage row: %w", err)
	}

	usage.CreatedAt, err = parseTS(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &usage, nil
}
