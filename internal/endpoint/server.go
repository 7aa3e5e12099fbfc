// ABOUTME: HTTP endpoint exposing one capability provider over the call/tools/health wire protocol.
// ABOUTME: Lets the dispatcher reach a provider across a network boundary.

package endpoint

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/2389/funnel-gateway/internal/capability"
)

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// CallRequest is the JSON body for POST /mcp/call.
type CallRequest struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
}

// CallError is the JSON body of a failed POST /mcp/call.
type CallError struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type,omitempty"`
}

// ToolInfo describes one operation in GET /mcp/tools.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolsResponse is the JSON response for GET /mcp/tools.
type ToolsResponse struct {
	Tools []ToolInfo `json:"tools"`
}

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Server string `json:"server"`
}

// Server serves a single provider.
type Server struct {
	provider capability.Provider
	logger   *slog.Logger
	mux      *http.ServeMux
}

// NewServer creates an endpoint for the provider.
func NewServer(provider capability.Provider, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		provider: provider,
		logger:   logger.With("component", "endpoint", "capability", provider.Name()),
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("/mcp/call", s.handleCall)
	s.mux.HandleFunc("/mcp/tools", s.handleTools)
	s.mux.HandleFunc("/health", s.handleHealth)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleCall handles POST /mcp/call.
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		s.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.sendJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	var req CallRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ToolName == "" {
		s.sendJSONError(w, http.StatusBadRequest, "tool_name is required")
		return
	}

	s.logger.Debug("→ call", "tool_name", req.ToolName)
	result, err := s.provider.Call(r.Context(), req.ToolName, req.Parameters)
	if err != nil {
		level := slog.LevelError
		if capability.ErrorType(err) != "" {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "call failed", "tool_name", req.ToolName, "error", err)
		s.sendCallError(w, err)
		return
	}

	s.logger.Debug("← call", "tool_name", req.ToolName, "success", result.Success)
	s.sendJSON(w, http.StatusOK, result)
}

// handleTools handles GET /mcp/tools.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		s.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ops := s.provider.Operations()
	resp := ToolsResponse{Tools: make([]ToolInfo, 0, len(ops))}
	for _, op := range ops {
		resp.Tools = append(resp.Tools, ToolInfo{
			Name:        op.Name,
			Description: op.Description,
			Parameters:  op.Schema(),
		})
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		s.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.sendJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Server: s.provider.Name()})
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, map[string]string{"error": message})
}

// sendCallError writes a failed call. Caller errors carry an error_type so
// remote clients can tell them apart from provider failures.
func (s *Server) sendCallError(w http.ResponseWriter, err error) {
	body := CallError{Error: err.Error(), ErrorType: capability.ErrorType(err)}
	s.sendJSON(w, http.StatusInternalServerError, body)
}
