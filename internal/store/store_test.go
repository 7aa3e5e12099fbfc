// ABOUTME: Tests for the SQLite decision ledger
// ABOUTME: Covers audit append/list filters, usage aggregation, and the dispatch auditor

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/funnel-gateway/internal/dispatch"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewSQLiteStore_Memory(t *testing.T) {
	s, err := NewSQLiteStore(MemoryPath, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.AppendAudit(context.Background(), &AuditEntry{DecisionType: DecisionError, Summary: "boom"}))

	entries, err := s.ListAudit(context.Background(), AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAuditStore_Append(t *testing.T) {
	s := setupTestStore(t)

	entry := &AuditEntry{
		ConversationID: "conv-1",
		DecisionType:   DecisionAgentSelection,
		AgentID:        "sales_agent",
		Summary:        "handoff to sales_agent",
		Success:        true,
		Detail:         map[string]any{"from": "researcher"},
	}
	require.NoError(t, s.AppendAudit(context.Background(), entry))

	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.Timestamp.IsZero())

	entries, err := s.ListAudit(context.Background(), AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	got := entries[0]
	assert.Equal(t, "conv-1", got.ConversationID)
	assert.Equal(t, DecisionAgentSelection, got.DecisionType)
	assert.Equal(t, "sales_agent", got.AgentID)
	assert.True(t, got.Success)
	assert.Equal(t, "researcher", got.Detail["from"])
}

func TestAuditStore_RejectsUnknownType(t *testing.T) {
	s := setupTestStore(t)

	err := s.AppendAudit(context.Background(), &AuditEntry{DecisionType: "guess", Summary: "x"})
	assert.True(t, errors.Is(err, ErrInvalidDecisionType))
}

func TestAuditStore_List_Filters(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	seed := []AuditEntry{
		{ConversationID: "a", DecisionType: DecisionToolCall, Summary: "get_products", Timestamp: base},
		{ConversationID: "a", DecisionType: DecisionStageTransition, Summary: "intake->qualification", Timestamp: base.Add(time.Second)},
		{ConversationID: "b", DecisionType: DecisionToolCall, Summary: "get_lead_info", Timestamp: base.Add(2 * time.Second)},
	}
	for i := range seed {
		require.NoError(t, s.AppendAudit(ctx, &seed[i]))
	}

	t.Run("newest first", func(t *testing.T) {
		entries, err := s.ListAudit(ctx, AuditFilter{})
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, "get_lead_info", entries[0].Summary)
	})

	t.Run("by conversation", func(t *testing.T) {
		conv := "a"
		entries, err := s.ListAudit(ctx, AuditFilter{ConversationID: &conv})
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("by decision type", func(t *testing.T) {
		dt := DecisionToolCall
		entries, err := s.ListAudit(ctx, AuditFilter{DecisionType: &dt})
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("since", func(t *testing.T) {
		since := base.Add(500 * time.Millisecond)
		entries, err := s.ListAudit(ctx, AuditFilter{Since: &since})
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("limit", func(t *testing.T) {
		entries, err := s.ListAudit(ctx, AuditFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})
}

func TestNormalizeAuditLimit(t *testing.T) {
	assert.Equal(t, 100, normalizeAuditLimit(0))
	assert.Equal(t, 5, normalizeAuditLimit(5))
	assert.Equal(t, 1000, normalizeAuditLimit(5000))
}

func TestUsageStore(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveUsage(ctx, &TokenUsage{ConversationID: "a", RequestID: "r1", AgentID: "swarm", InputTokens: 100, OutputTokens: 40}))
	require.NoError(t, s.SaveUsage(ctx, &TokenUsage{ConversationID: "a", RequestID: "r2", AgentID: "swarm", InputTokens: 10, OutputTokens: 5}))
	require.NoError(t, s.SaveUsage(ctx, &TokenUsage{ConversationID: "b", RequestID: "r3", AgentID: "swarm", InputTokens: 1, OutputTokens: 1}))

	usages, err := s.GetConversationUsage(ctx, "a")
	require.NoError(t, err)
	require.Len(t, usages, 2)
	assert.Equal(t, "r1", usages[0].RequestID)
	assert.Equal(t, int64(140), usages[0].TotalTokens)

	conv := "a"
	stats, err := s.GetUsageStats(ctx, UsageFilter{ConversationID: &conv})
	require.NoError(t, err)
	assert.Equal(t, UsageStats{TotalInput: 110, TotalOutput: 45, TotalTokens: 155, RequestCount: 2}, *stats)

	all, err := s.GetUsageStats(ctx, UsageFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), all.RequestCount)
}

func TestDispatchAuditor(t *testing.T) {
	s := setupTestStore(t)
	auditor := NewDispatchAuditor(s, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	auditor.ObserveDispatch(ctx, dispatch.Event{
		ConversationID: "conv-9",
		Operation:      "get_lead_info",
		Capability:     "crm",
		Path:           dispatch.PathDirect,
		Success:        false,
		Err:            errors.New("boom"),
		Duration:       15 * time.Millisecond,
	})

	entries, err := s.ListAudit(context.Background(), AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, DecisionToolCall, e.DecisionType)
	assert.Equal(t, "conv-9", e.ConversationID)
	assert.Equal(t, "get_lead_info", e.Summary)
	assert.Equal(t, int64(15), e.DurationMS)
	assert.Equal(t, "direct", e.Detail["path"])
	assert.Equal(t, "boom", e.Detail["error"])
}
