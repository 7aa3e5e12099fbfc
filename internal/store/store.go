// ABOUTME: Ledger interfaces and data types for funnel-gateway decision auditing
// ABOUTME: Defines AuditEntry, TokenUsage and the stores the tracker and dispatcher write to

package store

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidDecisionType is returned when an audit entry carries an unknown decision type.
var ErrInvalidDecisionType = errors.New("invalid decision type")

// DecisionType classifies an audit entry.
type DecisionType string

const (
	DecisionAgentSelection     DecisionType = "agent_selection"
	DecisionToolCall           DecisionType = "tool_call"
	DecisionStageTransition    DecisionType = "stage_transition"
	DecisionResponseGeneration DecisionType = "response_generation"
	DecisionError              DecisionType = "error"
)

// ValidDecisionTypes lists all valid decision types.
var ValidDecisionTypes = []DecisionType{
	DecisionAgentSelection,
	DecisionToolCall,
	DecisionStageTransition,
	DecisionResponseGeneration,
	DecisionError,
}

// Valid reports whether d is a known decision type.
func (d DecisionType) Valid() bool {
	for _, v := range ValidDecisionTypes {
		if d == v {
			return true
		}
	}
	return false
}

// AuditEntry records one decision taken while serving a conversation.
type AuditEntry struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	DecisionType   DecisionType   `json:"decision_type"`
	AgentID        string         `json:"agent_id,omitempty"` // handler that made the decision
	Summary        string         `json:"summary"`
	Success        bool           `json:"success"`
	DurationMS     int64          `json:"duration_ms"`
	Timestamp      time.Time      `json:"timestamp"`
	Detail         map[string]any `json:"detail,omitempty"`
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	ConversationID *string
	DecisionType   *DecisionType
	Since          *time.Time
	Until          *time.Time
	Limit          int // default 100, max 1000
}

// TokenUsage records model token consumption for one conversation turn.
type TokenUsage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	RequestID      string    `json:"request_id"`
	AgentID        string    `json:"agent_id"`
	InputTokens    int64     `json:"input_tokens"`
	OutputTokens   int64     `json:"output_tokens"`
	TotalTokens    int64     `json:"total_tokens"`
	CreatedAt      time.Time `json:"created_at"`
}

// UsageFilter specifies filtering options for usage statistics.
type UsageFilter struct {
	ConversationID *string
	Since          *time.Time
	Until          *time.Time
}

// UsageStats aggregates token usage.
type UsageStats struct {
	TotalInput   int64 `json:"total_input"`
	TotalOutput  int64 `json:"total_output"`
	TotalTokens  int64 `json:"total_tokens"`
	RequestCount int64 `json:"request_count"`
}

// AuditStore persists decision audit entries.
type AuditStore interface {
	AppendAudit(ctx context.Context, e *AuditEntry) error
	ListAudit(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// UsageStore persists token usage.
type UsageStore interface {
	SaveUsage(ctx context.Context, usage *TokenUsage) error
	GetConversationUsage(ctx context.Context, conversationID string) ([]*TokenUsage, error)
	GetUsageStats(ctx context.Context, f UsageFilter) (*UsageStats, error)
}

// Store is the complete ledger.
type Store interface {
	AuditStore
	UsageStore
	Close() error
}
