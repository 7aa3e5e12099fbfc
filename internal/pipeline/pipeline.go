// ABOUTME: Deterministic sales pipeline that routes a turn through researcher and a specialist
// ABOUTME: Specialists call capabilities through the cached retrying tool client

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/funnel-gateway/internal/capability"
	"github.com/2389/funnel-gateway/internal/conversation"
	"github.com/2389/funnel-gateway/internal/toolclient"
)

// Node statuses.
const (
	StatusCompleted = "completed"
	StatusHandoff   = "handoff"
	StatusFailed    = "failed"
)

// DefaultProductID is offered when the user has not picked a product.
const DefaultProductID = "maquinona_001"

// Config configures a Pipeline.
type Config struct {
	Tools  *toolclient.Client
	Logger *slog.Logger
}

// Pipeline implements conversation.Pipeline with keyword routing.
type Pipeline struct {
	tools  *toolclient.Client
	logger *slog.Logger
}

var _ conversation.Pipeline = (*Pipeline)(nil)

// New creates a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Tools == nil {
		return nil, errors.New("pipeline requires a tool client")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		tools:  cfg.Tools,
		logger: logger.With("component", "pipeline"),
	}, nil
}

// turn carries what handlers need to answer one message.
type turn struct {
	req    conversation.PipelineRequest
	email  string
	leadID string
}

// Process answers one user message. The researcher always receives the
// message first and hands off when a specialist matches.
func (p *Pipeline) Process(ctx context.Context, req conversation.PipelineRequest) (*conversation.PipelineResult, error) {
	start := time.Now()

	target := classify(req.Message)
	if target == "" {
		target = previousHandler(req.History)
	}
	if target == "" {
		target = conversation.HandlerResearcher
	}

	t := &turn{
		req:    req,
		email:  findEmail(req.Message, req.History),
		leadID: contextString(req.Context, "lead_id"),
	}

	var nodes []conversation.Node
	if target != conversation.HandlerResearcher {
		nodes = append(nodes, conversation.Node{NodeID: conversation.HandlerResearcher, Status: StatusHandoff})
	}

	response, err := p.handle(ctx, target, t)
	status := StatusCompleted
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", target, err)
		}
		p.logger.Warn("handler tool call failed",
			"conversation_id", req.ConversationID,
			"handler", target,
			"error", err)
		status = StatusFailed
		response = "I could not complete that step right now. Could you try again in a moment?"
	}
	nodes = append(nodes, conversation.Node{NodeID: target, Status: status})

	p.track(ctx, t, target)

	p.logger.Debug("turn handled",
		"conversation_id", req.ConversationID,
		"handler", target,
		"status", status)

	in := wordCount(req.Message)
	for _, m := range req.History {
		in += wordCount(m.Content)
	}
	out := wordCount(response)

	return &conversation.PipelineResult{
		Response:       response,
		Status:         status,
		NodeHistory:    nodes,
		ExecutionCount: len(nodes),
		ExecutionTime:  time.Since(start),
		AccumulatedUsage: conversation.Usage{
			InputTokens:  int64(in),
			OutputTokens: int64(out),
			TotalTokens:  int64(in + out),
		},
	}, nil
}

func (p *Pipeline) handle(ctx context.Context, handler string, t *turn) (string, error) {
	switch handler {
	case conversation.HandlerQualification, conversation.HandlerSales:
		return p.qualify(ctx, t)
	case conversation.HandlerPresentation:
		return p.present(ctx)
	case conversation.HandlerNegotiation:
		return p.negotiate(ctx, t)
	case conversation.HandlerClosing:
		return p.closeSale(ctx, t)
	default:
		return p.research(ctx)
	}
}

func (p *Pipeline) research(ctx context.Context) (string, error) {
	res, err := checked(p.tools.Catalog().Products(ctx, "", ""))
	if err != nil {
		return "", err
	}
	names := namesOf(res, "products", "name")
	if len(names) == 0 {
		return "We help restaurants sell more with payments and marketing tools. What does your business look like?", nil
	}
	return fmt.Sprintf("We offer %s. Tell me a bit about your restaurant so I can suggest the best fit.", strings.Join(names, " and ")), nil
}

func (p *Pipeline) qualify(ctx context.Context, t *turn) (string, error) {
	leadData := map[string]any{}
	greeting := "Thanks"
	if t.email != "" {
		leadData["email"] = t.email
		// An unknown email is not an error; the lead is simply new to us.
		if res, err := p.tools.CRM().LeadByEmail(ctx, t.email); err == nil && res.Success {
			if lead, ok := res.Payload["lead"].(map[string]any); ok {
				if name, _ := lead["name"].(string); name != "" {
					greeting = "Thanks, " + name
				}
				if id, _ := lead["id"].(string); id != "" && t.leadID == "" {
					t.leadID = id
				}
			}
		}
	}

	res, err := checked(p.tools.Call(ctx, "qualificar_lead", map[string]any{
		"lead_data":        leadData,
		"conversa_context": t.req.Message,
	}))
	if err != nil {
		return "", err
	}
	score, _ := res.Get("score")
	return fmt.Sprintf("%s. Based on what you shared your fit score is %v/100. Would you like to see how the solution works?", greeting, score), nil
}

func (p *Pipeline) present(ctx context.Context) (string, error) {
	res, err := checked(p.tools.Call(ctx, "recomendar_produtos", map[string]any{"limit": 2}))
	if err != nil {
		return "", err
	}
	names := namesOf(res, "recomendacoes", "nome")
	if len(names) == 0 {
		return "Let me walk you through the solution. Which part of your operation matters most?", nil
	}
	return fmt.Sprintf("Here is what I recommend: %s. Each one plugs into your existing checkout.", strings.Join(names, ", ")), nil
}

func (p *Pipeline) negotiate(ctx context.Context, t *turn) (string, error) {
	profile := map[string]any{}
	if size := contextString(t.req.Context, "porte"); size != "" {
		profile["porte"] = size
	}
	res, err := checked(p.tools.Call(ctx, "calcular_preco_personalizado", map[string]any{
		"produto_id":         productID(t),
		"perfil_restaurante": profile,
	}))
	if err != nil {
		return "", err
	}
	final, _ := res.Get("preco_final")
	return fmt.Sprintf("I can offer a personalised price of R$ %v per month. Shall we move forward?", final), nil
}

func (p *Pipeline) closeSale(ctx context.Context, t *turn) (string, error) {
	res, err := checked(p.tools.CRM().CompletePurchase(ctx, toolclient.Purchase{
		LeadID:        t.leadID,
		ProductID:     productID(t),
		CustomerName:  contextString(t.req.Context, "customer_name"),
		CustomerEmail: t.email,
	}))
	if err != nil {
		return "", err
	}
	if id, _ := res.Payload["lead_id"].(string); id != "" {
		t.leadID = id
	}
	compra, _ := res.Get("compra_id")
	return fmt.Sprintf("Done! Your order %v is confirmed. Welcome aboard.", compra), nil
}

// track records the stage the handler represents. Analytics failures never
// fail the turn.
func (p *Pipeline) track(ctx context.Context, t *turn, handler string) {
	stage := conversation.StageForHandler(handler)
	_, err := checked(p.tools.Analytics().TrackEvent(ctx, "stage_entry", t.leadID, string(stage), map[string]any{
		"handler":         handler,
		"conversation_id": t.req.ConversationID,
	}))
	if err != nil {
		p.logger.Debug("failed to track stage event", "stage", stage, "error", err)
	}
}

// checked turns a failed result into an error.
func checked(res *capability.Result, err error) (*capability.Result, error) {
	if err != nil {
		return nil, err
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func namesOf(res *capability.Result, listKey, nameKey string) []string {
	items, _ := res.Payload[listKey].([]any)
	var names []string
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if n, _ := m[nameKey].(string); n != "" {
			names = append(names, n)
		}
	}
	return names
}

func productID(t *turn) string {
	if id := contextString(t.req.Context, "product_id"); id != "" {
		return id
	}
	return DefaultProductID
}

func contextString(ctx map[string]any, key string) string {
	s, _ := ctx[key].(string)
	return s
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
