// ABOUTME: HTTP API handlers for conversations, funnel metrics, operations and the audit ledger
// ABOUTME: Provides POST /chat and an SSE variant at POST /chat/stream

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/funnel-gateway/internal/capability"
	"github.com/2389/funnel-gateway/internal/conversation"
	"github.com/2389/funnel-gateway/internal/dispatch"
	"github.com/2389/funnel-gateway/internal/store"
)

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// ChatRequest is the JSON request body for POST /chat and POST /chat/stream.
type ChatRequest struct {
	Message        string         `json:"message"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
}

// CreateConversationRequest is the JSON request body for POST /conversation.
type CreateConversationRequest struct {
	LeadID string `json:"lead_id,omitempty"`
}

// CreateConversationResponse is the JSON response for POST /conversation.
type CreateConversationResponse struct {
	ConversationID string             `json:"conversation_id"`
	Stage          conversation.Stage `json:"stage"`
	CreatedAt      time.Time          `json:"created_at"`
}

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status              string `json:"status"`
	Version             string `json:"version"`
	ActiveConversations int    `json:"active_conversations"`
	Uptime              string `json:"uptime"`
}

// OperationInfo describes one dispatchable operation for GET /api/operations.
type OperationInfo struct {
	Name        string                 `json:"name"`
	Capability  string                 `json:"capability"`
	Description string                 `json:"description"`
	Defaults    map[string]any         `json:"defaults,omitempty"`
	Mutating    bool                   `json:"mutating"`
	Parameters  []capability.ParamSpec `json:"parameters"`
}

// registerRoutes mounts the API on mux, instrumented when metrics are enabled.
func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	routes := []struct {
		pattern string
		handler http.HandlerFunc
	}{
		{"/", g.handleRoot},
		{"/health", g.handleHealth},
		{"/conversation", g.handleCreateConversation},
		{"/conversation/", g.handleGetConversation},
		{"/chat", g.handleChat},
		{"/chat/stream", g.handleChatStream},
		{"/metrics", g.handleMetrics},
		{"/api/operations", g.handleListOperations},
		{"/api/dispatch", g.handleDispatch},
		{"/api/audit", g.handleAudit},
		{"/api/usage", g.handleUsage},
	}
	for _, r := range routes {
		var h http.Handler = r.handler
		if g.metrics != nil {
			h = g.metrics.Middleware(r.pattern, h)
		}
		mux.Handle(r.pattern, h)
	}
}

// handleRoot describes the service.
func (g *Gateway) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		g.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]any{
		"service":      "funnel-gateway",
		"version":      g.version,
		"capabilities": g.dispatcher.Capabilities(),
		"endpoints": []string{
			"POST /conversation",
			"GET /conversation/{id}",
			"POST /chat",
			"POST /chat/stream",
			"GET /metrics",
			"GET /api/operations",
			"POST /api/dispatch",
			"GET /api/audit",
			"GET /api/usage",
		},
	})
}

// handleHealth reports liveness and the number of retained conversations.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	g.sendJSON(w, http.StatusOK, HealthResponse{
		Status:              "healthy",
		Version:             g.version,
		ActiveConversations: g.tracker.ActiveConversations(),
		Uptime:              time.Since(g.startedAt).Round(time.Second).String(),
	})
}

// handleCreateConversation handles POST /conversation.
func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req CreateConversationRequest
	if err := decodeBody(r, &req, true); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv := g.tracker.CreateConversation(r.Context(), req.LeadID)
	g.sendJSON(w, http.StatusCreated, CreateConversationResponse{
		ConversationID: conv.ID,
		Stage:          conv.Stage,
		CreatedAt:      conv.CreatedAt,
	})
}

// handleGetConversation handles GET /conversation/{id}.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/conversation/")
	if id == "" || strings.Contains(id, "/") {
		g.sendJSONError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}

	conv, ok := g.tracker.GetConversation(id)
	if !ok {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	g.sendJSON(w, http.StatusOK, conv)
}

// handleChat handles POST /chat. A failed turn still answers 200 with the
// error fields set; an unknown conversation answers 404.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, err := parseChatRequest(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := g.tracker.ProcessMessage(r.Context(), req.Message, req.ConversationID, req.Context)
	status := http.StatusOK
	if res.ErrorType == conversation.ErrorTypeNotFound {
		status = http.StatusNotFound
	}
	g.sendJSON(w, status, res)
}

// handleChatStream handles POST /chat/stream. The turn's conversation events
// are relayed as SSE between a "started" and a final "done" event carrying
// the turn result.
func (g *Gateway) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, err := parseChatRequest(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Check streaming support before processing (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	broadcaster := g.tracker.Broadcaster()
	if broadcaster == nil {
		g.sendJSONError(w, http.StatusServiceUnavailable, "event streaming is not configured")
		return
	}

	convID := req.ConversationID
	if convID == "" {
		leadID, _ := req.Context["lead_id"].(string)
		convID = g.tracker.CreateConversation(r.Context(), leadID).ID
	} else if _, ok := g.tracker.GetConversation(convID); !ok {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}

	// Other turns may run on the same conversation; only this turn's events
	// are relayed.
	turnID := uuid.New().String()
	ctx := conversation.WithTurnID(r.Context(), turnID)
	events, _ := broadcaster.Subscribe(ctx, convID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	g.writeSSEEvent(w, "started", map[string]string{"conversation_id": convID})
	flusher.Flush()

	resCh := make(chan *conversation.Result, 1)
	go func() {
		resCh <- g.tracker.ProcessMessage(ctx, req.Message, convID, req.Context)
	}()

	var res *conversation.Result
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.TurnID != turnID {
				continue
			}
			if ev.Type != conversation.EventDone {
				g.writeSSEEvent(w, string(ev.Type), ev)
				flusher.Flush()
				continue
			}
			if res == nil {
				select {
				case res = <-resCh:
				case <-ctx.Done():
					return
				}
			}
			g.writeSSEEvent(w, "done", res)
			flusher.Flush()
			return

		case res = <-resCh:
			// Keep relaying buffered events until the done event arrives.
			// A turn rejected before processing publishes nothing.
			resCh = nil
			if res.ErrorType == conversation.ErrorTypeNotFound {
				g.writeSSEEvent(w, "error", map[string]string{"error": res.Error, "error_type": res.ErrorType})
				g.writeSSEEvent(w, "done", res)
				flusher.Flush()
				return
			}
		}
	}
}

// handleMetrics returns the funnel MetricsView.
func (g *Gateway) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	g.sendJSON(w, http.StatusOK, g.tracker.SnapshotMetrics())
}

// handleListOperations handles GET /api/operations?capability=.
func (g *Gateway) handleListOperations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	catalog := g.dispatcher.Catalog()
	ops := catalog.All()
	if name := r.URL.Query().Get("capability"); name != "" {
		ops = catalog.ForCapability(name)
	}

	specs := make(map[string]capability.OperationSpec)
	discovered := make(map[string]bool)
	out := make([]OperationInfo, 0, len(ops))
	for _, op := range ops {
		if !discovered[op.Capability] {
			discovered[op.Capability] = true
			for _, s := range g.dispatcher.DiscoverOperations(r.Context(), op.Capability) {
				specs[s.Name] = s
			}
		}
		params := specs[op.Name].Params
		if params == nil {
			params = []capability.ParamSpec{}
		}
		out = append(out, OperationInfo{
			Name:        op.Name,
			Capability:  op.Capability,
			Description: op.Description,
			Defaults:    op.Defaults,
			Mutating:    op.Mutating,
			Parameters:  params,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Capability != out[j].Capability {
			return out[i].Capability < out[j].Capability
		}
		return out[i].Name < out[j].Name
	})

	g.sendJSON(w, http.StatusOK, map[string]any{"operations": out, "count": len(out)})
}

// handleDispatch handles POST /api/dispatch, calling an operation directly
// without the result cache.
func (g *Gateway) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var call dispatch.Call
	if err := decodeBody(r, &call, false); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if call.Operation == "" {
		g.sendJSONError(w, http.StatusBadRequest, "operation is required")
		return
	}

	res, err := g.dispatcher.Dispatch(r.Context(), call)
	switch {
	case errors.Is(err, dispatch.ErrOperationNotFound):
		g.sendJSONError(w, http.StatusNotFound, err.Error())
	case dispatch.IsCallerError(err):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	case dispatch.IsTransport(err):
		g.sendJSONError(w, http.StatusBadGateway, err.Error())
	case err != nil:
		g.logger.Error("dispatch failed", "operation", call.Operation, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "dispatch failed")
	default:
		g.sendJSON(w, http.StatusOK, res)
	}
}

// handleAudit handles GET /api/audit?conversation_id=&decision_type=&limit=.
func (g *Gateway) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	var filter store.AuditFilter
	if id := q.Get("conversation_id"); id != "" {
		filter.ConversationID = &id
	}
	if dt := q.Get("decision_type"); dt != "" {
		d := store.DecisionType(dt)
		if !d.Valid() {
			g.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid decision_type %q", dt))
			return
		}
		filter.DecisionType = &d
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	entries, err := g.store.ListAudit(r.Context(), filter)
	if err != nil {
		g.logger.Error("failed to list audit entries", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if entries == nil {
		entries = []store.AuditEntry{}
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

// handleUsage handles GET /api/usage?conversation_id=.
func (g *Gateway) handleUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var filter store.UsageFilter
	if id := r.URL.Query().Get("conversation_id"); id != "" {
		filter.ConversationID = &id
	}
	stats, err := g.store.GetUsageStats(r.Context(), filter)
	if err != nil {
		g.logger.Error("failed to get usage stats", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, stats)
}

// parseChatRequest parses and validates a ChatRequest.
func parseChatRequest(r *http.Request) (*ChatRequest, error) {
	var req ChatRequest
	if err := decodeBody(r, &req, false); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, errors.New("message is required")
	}
	return &req, nil
}

// decodeBody decodes a size-limited JSON body. An empty body is accepted
// when allowEmpty is set.
func decodeBody(r *http.Request, v any, allowEmpty bool) error {
	err := json.NewDecoder(io.LimitReader(r.Body, MaxRequestBodySize)).Decode(v)
	if errors.Is(err, io.EOF) && allowEmpty {
		return nil
	}
	if err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}
