// ABOUTME: Conversation tracker: runs turns through the pipeline and derives funnel stages
// ABOUTME: Records stage transitions, handler usage, closed sales, audit entries and token usage

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/funnel-gateway/internal/dispatch"
	"github.com/2389/funnel-gateway/internal/store"
)

// Config holds the tracker's collaborators.
type Config struct {
	Pipeline    Pipeline
	Audit       store.AuditStore
	Usage       store.UsageStore
	Broadcaster *EventBroadcaster

	// MaxActive bounds retained conversations. Zero uses DefaultMaxActive.
	MaxActive int
	// IdleTTL expires untouched conversations. Zero uses DefaultIdleTTL.
	IdleTTL time.Duration

	Logger *slog.Logger
}

// Tracker owns conversations and the funnel metrics derived from them.
type Tracker struct {
	pipeline    Pipeline
	audit       store.AuditStore
	usage       store.UsageStore
	broadcaster *EventBroadcaster
	metrics     *accumulator
	convs       *conversationStore
	logger      *slog.Logger
}

// NewTracker creates a tracker. Pipeline is required; the ledger stores and
// broadcaster are optional.
func NewTracker(cfg Config) (*Tracker, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("conversation tracker requires a pipeline")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "conversation")

	metrics := newAccumulator()
	return &Tracker{
		pipeline:    cfg.Pipeline,
		audit:       cfg.Audit,
		usage:       cfg.Usage,
		broadcaster: cfg.Broadcaster,
		metrics:     metrics,
		convs:       newConversationStore(cfg.MaxActive, cfg.IdleTTL, metrics, logger),
		logger:      logger,
	}, nil
}

// Broadcaster returns the event broadcaster, or nil when none is configured.
func (t *Tracker) Broadcaster() *EventBroadcaster { return t.broadcaster }

// CreateConversation starts a conversation in the intake stage.
func (t *Tracker) CreateConversation(ctx context.Context, leadID string) *Conversation {
	return t.create(leadID).snapshot()
}

func (t *Tracker) create(leadID string) *record {
	r := newRecord(uuid.New().String(), leadID, time.Now().UTC())
	t.convs.put(r)
	t.metrics.conversationStarted()

	t.logger.Info("conversation created",
		"conversation_id", r.conv.ID,
		"lead_id", leadID)
	return r
}

// GetConversation returns a snapshot of a conversation.
func (t *Tracker) GetConversation(id string) (*Conversation, bool) {
	r, ok := t.convs.get(id)
	if !ok {
		return nil, false
	}
	return r.snapshot(), true
}

// ActiveConversations returns the number of retained conversations.
func (t *Tracker) ActiveConversations() int {
	return t.convs.size()
}

// SnapshotMetrics returns the derived funnel metrics.
func (t *Tracker) SnapshotMetrics() MetricsView {
	return t.metrics.snapshot(t.convs.size())
}

// Close drops all retained conversations without counting them as evictions
// and closes every event subscription.
func (t *Tracker) Close() {
	t.convs.close()
	if t.broadcaster != nil {
		t.broadcaster.Close()
	}
}

type turnIDKey struct{}

// WithTurnID sets the id that tags the events of the turn run under ctx.
// ProcessMessage generates one when none is set.
func WithTurnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, turnIDKey{}, id)
}

// TurnIDFrom returns the turn id carried by ctx, or "".
func TurnIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(turnIDKey{}).(string)
	return id
}

// ProcessMessage runs one user turn. An empty conversationID starts a new
// conversation. Failures are reported on the Result, never as a Go error.
func (t *Tracker) ProcessMessage(ctx context.Context, text, conversationID string, extra map[string]any) *Result {
	var r *record
	if conversationID != "" {
		var ok bool
		r, ok = t.convs.get(conversationID)
		if !ok {
			t.logger.Warn("conversation not found", "conversation_id", conversationID)
			return &Result{
				ConversationID: conversationID,
				Error:          ErrConversationNotFound.Error(),
				ErrorType:      ErrorTypeNotFound,
			}
		}
	} else {
		r = t.create("")
	}

	r.turn.Lock()
	defer r.turn.Unlock()

	id := r.conv.ID
	requestID := TurnIDFrom(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
		ctx = WithTurnID(ctx, requestID)
	}
	ctx = dispatch.WithConversationID(ctx, id)
	start := time.Now()

	r.mu.Lock()
	r.conv.Messages = append(r.conv.Messages, Message{
		Role:      RoleUser,
		Content:   text,
		Timestamp: start.UTC(),
	})
	r.touch(start.UTC())
	oldStage := r.conv.Stage
	r.mu.Unlock()
	t.convs.put(r)

	t.publish(ctx, id, EventMessage, map[string]any{"role": RoleUser, "content": text})

	t.logger.Info("processing message",
		"conversation_id", id,
		"message_length", len(text))

	out, err := t.runPipeline(ctx, PipelineRequest{
		ConversationID: id,
		Message:        text,
		History:        r.history(),
		Context:        extra,
	})
	if err != nil {
		return t.fail(ctx, r, err, time.Since(start))
	}

	handlers := out.Handlers()
	last := HandlerResearcher
	if len(handlers) > 0 {
		last = handlers[len(handlers)-1]
	}
	newStage := StageForHandler(last)
	now := time.Now().UTC()

	t.recordAudit(ctx, &store.AuditEntry{
		ConversationID: id,
		DecisionType:   store.DecisionAgentSelection,
		AgentID:        last,
		Summary:        "handled by " + last,
		Success:        true,
		Detail:         map[string]any{"handlers": handlers},
	})

	r.mu.Lock()
	if oldStage != newStage {
		entered, measured := r.stageEnteredAt[oldStage]
		t.metrics.stageChanged(oldStage, newStage, start.Sub(entered), measured)
		r.stageEnteredAt[newStage] = start.UTC()
	}
	r.conv.Stage = newStage
	r.conv.ActiveHandler = last

	closedNow := false
	if newStage == StageClosing && slices.Contains(handlers, HandlerClosing) && !r.saleClosed {
		r.saleClosed = true
		r.conv.Metadata["sale_closed"] = true
		r.conv.Metadata["sale_closed_at"] = now
		closedNow = true
	}
	if newStage == StageCompleted && !r.completed {
		r.completed = true
		r.conv.Metadata["completed_at"] = now
		t.metrics.conversationCompleted()
	}

	metadata := turnMetadata(out, handlers)
	if out.Response != "" {
		r.conv.Messages = append(r.conv.Messages, Message{
			Role:      RoleAgent,
			Content:   out.Response,
			Timestamp: now,
			HandlerID: SwarmAgentID,
			Metadata: map[string]any{
				"node_history": out.NodeHistory,
				"status":       status(out),
			},
		})
	}
	r.touch(now)
	r.publishStatus()
	r.mu.Unlock()
	t.convs.put(r)

	t.metrics.handlersUsed(handlers)
	if closedNow {
		t.metrics.saleClosed()
		t.logger.Info("sale closed", "conversation_id", id)
	}

	if oldStage != newStage {
		t.recordAudit(ctx, &store.AuditEntry{
			ConversationID: id,
			DecisionType:   store.DecisionStageTransition,
			AgentID:        last,
			Summary:        TransitionKey(oldStage, newStage),
			Success:        true,
			Detail:         map[string]any{"from": oldStage, "to": newStage},
		})
		t.publish(ctx, id, EventStageTransition, map[string]any{"from": oldStage, "to": newStage})
		t.logger.Debug("stage transition",
			"conversation_id", id,
			"from", oldStage,
			"to", newStage)
	}

	t.recordUsage(ctx, id, requestID, out.AccumulatedUsage)
	t.recordAudit(ctx, &store.AuditEntry{
		ConversationID: id,
		DecisionType:   store.DecisionResponseGeneration,
		AgentID:        SwarmAgentID,
		Summary:        truncate(out.Response, 200),
		Success:        true,
		DurationMS:     time.Since(start).Milliseconds(),
		Detail: map[string]any{
			"status":          status(out),
			"execution_count": out.ExecutionCount,
		},
	})

	res := &Result{
		ConversationID: id,
		Response:       out.Response,
		AgentID:        SwarmAgentID,
		Stage:          newStage,
		Metadata:       metadata,
	}
	t.publish(ctx, id, EventResponse, map[string]any{
		"response": res.Response,
		"agent_id": res.AgentID,
		"stage":    res.Stage,
		"metadata": res.Metadata,
	})
	t.publish(ctx, id, EventDone, map[string]any{"stage": newStage})
	return res
}

// runPipeline calls the pipeline, turning a panic or a missing result into an error.
func (t *Tracker) runPipeline(ctx context.Context, req PipelineRequest) (out *PipelineResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = fmt.Errorf("pipeline panicked: %v", rec)
		}
	}()
	out, err = t.pipeline.Process(ctx, req)
	if err == nil && out == nil {
		err = errors.New("pipeline returned no result")
	}
	return out, err
}

func (t *Tracker) fail(ctx context.Context, r *record, err error, elapsed time.Duration) *Result {
	id := r.conv.ID
	errType := ErrorTypePipeline
	if errors.Is(err, context.DeadlineExceeded) {
		errType = ErrorTypeTimeout
	}

	t.logger.Error("pipeline failed",
		"conversation_id", id,
		"error_type", errType,
		"error", err)

	t.recordAudit(ctx, &store.AuditEntry{
		ConversationID: id,
		DecisionType:   store.DecisionError,
		Summary:        "pipeline failed",
		Success:        false,
		DurationMS:     elapsed.Milliseconds(),
		Detail:         map[string]any{"error": err.Error(), "error_type": errType},
	})

	res := &Result{
		ConversationID: id,
		Error:          "failed to process message",
		ErrorType:      errType,
	}
	t.publish(ctx, id, EventError, map[string]any{"error": res.Error, "error_type": errType})
	t.publish(ctx, id, EventDone, map[string]any{"stage": r.snapshot().Stage})
	return res
}

func (t *Tracker) recordAudit(ctx context.Context, e *store.AuditEntry) {
	if t.audit == nil {
		return
	}
	if err := t.audit.AppendAudit(context.WithoutCancel(ctx), e); err != nil {
		t.logger.Warn("failed to append audit entry",
			"conversation_id", e.ConversationID,
			"decision_type", e.DecisionType,
			"error", err)
	}
}

func (t *Tracker) recordUsage(ctx context.Context, conversationID, requestID string, u Usage) {
	if t.usage == nil || (u.InputTokens == 0 && u.OutputTokens == 0 && u.TotalTokens == 0) {
		return
	}
	err := t.usage.SaveUsage(context.WithoutCancel(ctx), &store.TokenUsage{
		ConversationID: conversationID,
		RequestID:      requestID,
		AgentID:        SwarmAgentID,
		InputTokens:    u.InputTokens,
		OutputTokens:   u.OutputTokens,
		TotalTokens:    u.TotalTokens,
	})
	if err != nil {
		t.logger.Warn("failed to save token usage",
			"conversation_id", conversationID,
			"error", err)
	}
}

func (t *Tracker) publish(ctx context.Context, conversationID string, et EventType, data map[string]any) {
	if t.broadcaster == nil {
		return
	}
	ev := newEvent(et, conversationID, data)
	ev.TurnID = TurnIDFrom(ctx)
	t.broadcaster.Publish(conversationID, ev, "")
}

func turnMetadata(out *PipelineResult, handlers []string) map[string]any {
	return map[string]any{
		"handlers_used":     handlers,
		"handoffs":          max(len(handlers)-1, 0),
		"node_history":      out.NodeHistory,
		"execution_count":   out.ExecutionCount,
		"execution_time":    out.ExecutionTime.Seconds(),
		"accumulated_usage": out.AccumulatedUsage,
		"status":            status(out),
	}
}

func status(out *PipelineResult) string {
	if out.Status == "" {
		return "completed"
	}
	return out.Status
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}
