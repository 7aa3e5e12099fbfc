// ABOUTME: MCP server exposing every dispatcher operation as a tool over SSE
// ABOUTME: Adds conversation tools for sending messages and reading funnel metrics

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/2389/funnel-gateway/internal/capability"
	"github.com/2389/funnel-gateway/internal/conversation"
	"github.com/2389/funnel-gateway/internal/dispatch"
)

// Endpoint paths served by RegisterRoutes.
const (
	SSEPath     = "/mcp/sse"
	MessagePath = "/mcp/message"
)

// Conversation tool names.
const (
	ToolSendMessage   = "funnel_send_message"
	ToolFunnelMetrics = "funnel_metrics"
)

// Operations describes the dispatcher's operation catalog.
type Operations interface {
	Catalog() *dispatch.Catalog
	DiscoverOperations(ctx context.Context, name string) []capability.OperationSpec
}

// ToolCaller executes an operation.
type ToolCaller interface {
	Call(ctx context.Context, operation string, params map[string]any) (*capability.Result, error)
}

// Conversations is the tracker surface exposed as tools.
type Conversations interface {
	ProcessMessage(ctx context.Context, text, conversationID string, extra map[string]any) *conversation.Result
	SnapshotMetrics() conversation.MetricsView
}

// Config configures the MCP server.
type Config struct {
	Operations    Operations
	Tools         ToolCaller
	Conversations Conversations // optional

	// BaseURL is the externally reachable gateway URL, used in the SSE
	// endpoint event sent to clients.
	BaseURL string
	Version string
	Logger  *slog.Logger
}

// Server wraps an MCP server and its SSE transport.
type Server struct {
	mcp    *server.MCPServer
	sse    *server.SSEServer
	tools  ToolCaller
	convs  Conversations
	names  []string
	logger *slog.Logger
}

// NewServer builds the MCP server and registers one tool per catalog operation.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Operations == nil || cfg.Tools == nil {
		return nil, errors.New("mcp server requires operations and a tool caller")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		mcp: server.NewMCPServer(
			"funnel-gateway",
			version,
			server.WithToolCapabilities(true),
		),
		tools:  cfg.Tools,
		convs:  cfg.Conversations,
		logger: logger.With("component", "mcp"),
	}
	s.sse = server.NewSSEServer(
		s.mcp,
		server.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")),
		server.WithSSEEndpoint(SSEPath),
		server.WithMessageEndpoint(MessagePath),
		server.WithKeepAlive(true),
		server.WithKeepAliveInterval(30*time.Second),
	)

	tools := s.operationTools(context.Background(), cfg.Operations)
	if s.convs != nil {
		tools = append(tools, s.conversationTools()...)
	}
	for _, t := range tools {
		s.names = append(s.names, t.Tool.Name)
	}
	s.mcp.AddTools(tools...)

	s.logger.Info("mcp tools registered", "count", len(tools))
	return s, nil
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// ToolNames returns the registered tool names in registration order.
func (s *Server) ToolNames() []string { return append([]string(nil), s.names...) }

// RegisterRoutes mounts the SSE and message endpoints on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle(SSEPath, s.sse)
	mux.Handle(MessagePath, s.sse)
}

// Shutdown closes open SSE sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.sse.Shutdown(ctx)
}

func (s *Server) operationTools(ctx context.Context, ops Operations) []server.ServerTool {
	catalog := ops.Catalog()

	specs := make(map[string]capability.OperationSpec)
	seen := make(map[string]bool)
	for _, op := range catalog.All() {
		if seen[op.Capability] {
			continue
		}
		seen[op.Capability] = true
		for _, spec := range ops.DiscoverOperations(ctx, op.Capability) {
			specs[spec.Name] = spec
		}
	}

	out := make([]server.ServerTool, 0, catalog.Len())
	for _, op := range catalog.All() {
		description := op.Description
		spec, ok := specs[op.Name]
		if description == "" && ok {
			description = spec.Description
		}
		out = append(out, server.ServerTool{
			Tool: mcp.Tool{
				Name:        op.Name,
				Description: fmt.Sprintf("[%s] %s", op.Capability, description),
				InputSchema: inputSchema(spec, ok),
			},
			Handler: s.operationHandler(op.Name),
		})
	}
	return out
}

func (s *Server) operationHandler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)

		res, err := s.tools.Call(ctx, name, args)
		if err != nil {
			s.logger.Warn("mcp tool call failed", "operation", name, "error", err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !res.Success {
			return mcp.NewToolResultError(res.Error), nil
		}
		return jsonResult(res)
	}
}

func (s *Server) conversationTools() []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.Tool{
				Name:        ToolSendMessage,
				Description: "Send a user message to a sales conversation and return the agent reply",
				InputSchema: mcp.ToolInputSchema{
					Type: "object",
					Properties: map[string]any{
						"message": map[string]any{
							"type":        "string",
							"description": "User message",
						},
						"conversation_id": map[string]any{
							"type":        "string",
							"description": "Existing conversation; omit to start a new one",
						},
					},
					Required: []string{"message"},
				},
			},
			Handler: s.handleSendMessage,
		},
		{
			Tool: mcp.Tool{
				Name:        ToolFunnelMetrics,
				Description: "Return conversation funnel metrics",
				InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]any{}},
			},
			Handler: func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return jsonResult(s.convs.SnapshotMetrics())
			},
		},
	}
}

func (s *Server) handleSendMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(req)
	msg, _ := args["message"].(string)
	if strings.TrimSpace(msg) == "" {
		return mcp.NewToolResultError("message is required"), nil
	}
	convID, _ := args["conversation_id"].(string)

	res := s.convs.ProcessMessage(ctx, msg, convID, nil)
	if res.Failed() {
		return mcp.NewToolResultError(fmt.Sprintf("%s (%s, conversation %s)", res.Error, res.ErrorType, res.ConversationID)), nil
	}
	return jsonResult(res)
}

func arguments(req mcp.CallToolRequest) map[string]any {
	if args, ok := req.Params.Arguments.(map[string]any); ok {
		return args
	}
	return map[string]any{}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// inputSchema converts an operation spec to an MCP input schema. Unknown
// operations accept any object.
func inputSchema(spec capability.OperationSpec, ok bool) mcp.ToolInputSchema {
	schema := mcp.ToolInputSchema{Type: "object", Properties: map[string]any{}}
	if !ok {
		return schema
	}
	for _, p := range spec.Params {
		prop := map[string]any{}
		if p.Type != "" {
			prop["type"] = p.Type
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		schema.Properties[p.Name] = prop
	}
	schema.Required = spec.Required()
	return schema
}
