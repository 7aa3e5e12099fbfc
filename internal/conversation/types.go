// ABOUTME: Conversation, message, stage and pipeline types owned by the tracker
// ABOUTME: Stages are derived from the handler trace the pipeline reports

package conversation

import (
	"context"
	"errors"
	"time"
)

// ErrConversationNotFound is returned when a conversation id is unknown or evicted.
var ErrConversationNotFound = errors.New("conversation not found")

// Stage is a phase of the sales funnel.
type Stage string

const (
	StageIntake        Stage = "intake"
	StageQualification Stage = "qualification"
	StagePresentation  Stage = "presentation"
	StageNegotiation   Stage = "negotiation"
	StageClosing       Stage = "closing"
	StageCompleted     Stage = "completed"
)

// Stages lists every stage in funnel order.
var Stages = []Stage{
	StageIntake,
	StageQualification,
	StagePresentation,
	StageNegotiation,
	StageClosing,
	StageCompleted,
}

// Handler identifiers reported by the pipeline.
const (
	HandlerResearcher    = "researcher"
	HandlerSales         = "sales_agent"
	HandlerQualification = "qualification_agent"
	HandlerPresentation  = "presentation_agent"
	HandlerNegotiation   = "negotiation_agent"
	HandlerClosing       = "closing_agent"
	HandlerCompletion    = "completion"

	// SwarmAgentID tags agent messages and results.
	SwarmAgentID = "swarm"
)

var handlerStages = map[string]Stage{
	HandlerResearcher:    StageIntake,
	HandlerSales:         StageQualification,
	HandlerQualification: StageQualification,
	HandlerPresentation:  StagePresentation,
	HandlerNegotiation:   StageNegotiation,
	HandlerClosing:       StageClosing,
	HandlerCompletion:    StageCompleted,
}

// StageForHandler maps a handler id to its stage. Unknown handlers map to intake.
func StageForHandler(handler string) Stage {
	if s, ok := handlerStages[handler]; ok {
		return s
	}
	return StageIntake
}

// Role identifies who authored a message.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Message is one entry in a conversation's log.
type Message struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	HandlerID string         `json:"handler_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Conversation is a read-only snapshot of a tracked conversation.
type Conversation struct {
	ID            string         `json:"conversation_id"`
	LeadID        string         `json:"lead_id,omitempty"`
	Messages      []Message      `json:"messages"`
	Stage         Stage          `json:"stage"`
	ActiveHandler string         `json:"active_handler,omitempty"`
	Metadata      map[string]any `json:"metadata"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Node is one step of the pipeline's execution trace.
type Node struct {
	NodeID string `json:"node_id"`
	Status string `json:"status,omitempty"`
}

// Usage is token consumption reported by the pipeline.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// PipelineRequest is the input handed to the agent pipeline.
type PipelineRequest struct {
	ConversationID string
	Message        string
	History        []Message
	Context        map[string]any
}

// PipelineResult is what the agent pipeline reports back.
type PipelineResult struct {
	Response         string
	Status           string
	NodeHistory      []Node
	ExecutionCount   int
	ExecutionTime    time.Duration
	AccumulatedUsage Usage
}

// Handlers returns the handler ids of the trace in order.
func (r *PipelineResult) Handlers() []string {
	out := make([]string, 0, len(r.NodeHistory))
	for _, n := range r.NodeHistory {
		out = append(out, n.NodeID)
	}
	return out
}

// Pipeline produces a response to a user message.
type Pipeline interface {
	Process(ctx context.Context, req PipelineRequest) (*PipelineResult, error)
}

// PipelineFunc adapts a function to Pipeline.
type PipelineFunc func(ctx context.Context, req PipelineRequest) (*PipelineResult, error)

func (f PipelineFunc) Process(ctx context.Context, req PipelineRequest) (*PipelineResult, error) {
	return f(ctx, req)
}

// Error types carried by a failed Result.
const (
	ErrorTypePipeline     = "pipeline_error"
	ErrorTypeNotFound     = "conversation_not_found"
	ErrorTypeTimeout      = "timeout"
	ErrorTypeInvalidInput = "invalid_input"
)

// Result is the outcome of processing one message. A failed turn sets
// Error and ErrorType and still carries the conversation id.
type Result struct {
	ConversationID string         `json:"conversation_id"`
	Response       string         `json:"response,omitempty"`
	AgentID        string         `json:"agent_id,omitempty"`
	Stage          Stage          `json:"stage,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Error          string         `json:"error,omitempty"`
	ErrorType      string         `json:"error_type,omitempty"`
}

// Failed reports whether the turn failed.
func (r *Result) Failed() bool { return r.ErrorType != "" }
