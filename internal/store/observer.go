// ABOUTME: Records every dispatched tool call as a tool_call audit entry
// ABOUTME: Plugged into the dispatcher as an observer

package store

import (
	"context"
	"log/slog"

	"github.com/2389/funnel-gateway/internal/dispatch"
)

// DispatchAuditor appends a tool_call entry for each dispatch event.
type DispatchAuditor struct {
	audit  AuditStore
	logger *slog.Logger
}

// NewDispatchAuditor creates an auditor writing to audit. Pass nil logger for default.
func NewDispatchAuditor(audit AuditStore, logger *slog.Logger) *DispatchAuditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DispatchAuditor{audit: audit, logger: logger.With("component", "dispatch_auditor")}
}

// ObserveDispatch implements dispatch.Observer.
func (a *DispatchAuditor) ObserveDispatch(ctx context.Context, ev dispatch.Event) {
	detail := map[string]any{
		"operation":  ev.Operation,
		"capability": ev.Capability,
		"path":       string(ev.Path),
		"parameters": ev.Parameters,
	}
	if ev.Err != nil {
		detail["error"] = ev.Err.Error()
	}

	entry := &AuditEntry{
		ConversationID: ev.ConversationID,
		DecisionType:   DecisionToolCall,
		Summary:        ev.Operation,
		Success:        ev.Success,
		DurationMS:     ev.Duration.Milliseconds(),
		Detail:         detail,
	}
	// The request may already be finished; the entry must still land.
	if err := a.audit.AppendAudit(context.WithoutCancel(ctx), entry); err != nil {
		a.logger.Warn("failed to audit tool call", "operation", ev.Operation, "error", err)
	}
}

var _ dispatch.Observer = (*DispatchAuditor)(nil)
