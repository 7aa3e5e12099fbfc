// ABOUTME: Tests for the gateway HTTP API over the fully wired component graph
// ABOUTME: Covers conversations, chat and SSE streaming, operations, dispatch, audit and metrics

package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/funnel-gateway/internal/config"
	"github.com/2389/funnel-gateway/internal/conversation"
)

func setupGatewayTest(t *testing.T, opts ...Option) (*Gateway, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.Metrics.Enabled = true
	cfg.MCP.Enabled = true
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond

	gw, err := New(cfg, nil, opts...)
	require.NoError(t, err)
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = gw.Shutdown(context.Background())
	})
	return gw, srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func chat(t *testing.T, srv *httptest.Server, msg, convID string) conversation.Result {
	t.Helper()
	resp := postJSON(t, srv.URL+"/chat", ChatRequest{Message: msg, ConversationID: convID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decode[conversation.Result](t, resp)
}

func TestHealthAndRoot(t *testing.T) {
	_, srv := setupGatewayTest(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	health := decode[HealthResponse](t, resp)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "dev", health.Version)
	assert.Equal(t, 0, health.ActiveConversations)

	resp, err = http.Get(srv.URL + "/")
	require.NoError(t, err)
	info := decode[map[string]any](t, resp)
	assert.Equal(t, "funnel-gateway", info["service"])
	assert.Len(t, info["capabilities"], 9)

	resp, err = http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConversationLifecycle(t *testing.T) {
	_, srv := setupGatewayTest(t)

	resp := postJSON(t, srv.URL+"/conversation", CreateConversationRequest{LeadID: "lead_001"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[CreateConversationResponse](t, resp)
	require.NotEmpty(t, created.ConversationID)
	assert.Equal(t, conversation.StageIntake, created.Stage)

	res := chat(t, srv, "What do you offer?", created.ConversationID)
	assert.Equal(t, created.ConversationID, res.ConversationID)
	assert.Equal(t, conversation.SwarmAgentID, res.AgentID)

	resp, err := http.Get(srv.URL + "/conversation/" + created.ConversationID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	conv := decode[conversation.Conversation](t, resp)
	assert.Equal(t, "lead_001", conv.LeadID)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, conversation.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, conversation.RoleAgent, conv.Messages[1].Role)

	resp, err = http.Get(srv.URL + "/conversation/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateConversation_EmptyBody(t *testing.T) {
	_, srv := setupGatewayTest(t)

	resp, err := http.Post(srv.URL+"/conversation", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[CreateConversationResponse](t, resp)
	assert.NotEmpty(t, created.ConversationID)
}

func TestChat_FullFunnel(t *testing.T) {
	_, srv := setupGatewayTest(t)

	first := chat(t, srv, "What do you offer?", "")
	require.Empty(t, first.Error)
	id := first.ConversationID

	for _, msg := range []string{
		"My email is ana@example.com and the budget is 5000",
		"show me the solution",
		"price is too high",
		"let's buy",
	} {
		res := chat(t, srv, msg, id)
		require.Empty(t, res.Error, msg)
	}

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	m := decode[conversation.MetricsView](t, resp)
	assert.Equal(t, int64(1), m.TotalConversations)
	assert.Equal(t, int64(1), m.ClosedSales)
	assert.Len(t, m.StageTransitions, 4)
	assert.InDelta(t, 100.0, m.SalesConversionRate, 0.001)
}

func TestChat_Errors(t *testing.T) {
	_, srv := setupGatewayTest(t)

	t.Run("unknown conversation", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/chat", ChatRequest{Message: "hi", ConversationID: "missing"})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		res := decode[conversation.Result](t, resp)
		assert.Equal(t, conversation.ErrorTypeNotFound, res.ErrorType)
		assert.Equal(t, "missing", res.ConversationID)
	})

	t.Run("empty message", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/chat", ChatRequest{Message: "  "})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		body := decode[map[string]string](t, resp)
		assert.Equal(t, "message is required", body["error"])
	})

	t.Run("invalid json", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/chat", "application/json", strings.NewReader("{"))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("wrong method", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/chat")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestChat_PipelineFailure(t *testing.T) {
	failing := conversation.PipelineFunc(func(context.Context, conversation.PipelineRequest) (*conversation.PipelineResult, error) {
		return nil, errors.New("model unavailable")
	})
	_, srv := setupGatewayTest(t, WithPipeline(failing))

	res := chat(t, srv, "hello", "")
	assert.Equal(t, conversation.ErrorTypePipeline, res.ErrorType)
	assert.NotEmpty(t, res.ConversationID)
	assert.NotContains(t, res.Error, "model unavailable")
}

// readSSE returns the event names and data payloads of a finished stream.
func readSSE(t *testing.T, body io.Reader) ([]string, []string) {
	t.Helper()
	var names, data []string
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			names = append(names, strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}
	require.NoError(t, scanner.Err())
	return names, data
}

func TestChatStream(t *testing.T) {
	_, srv := setupGatewayTest(t)

	resp := postJSON(t, srv.URL+"/chat/stream", ChatRequest{Message: "show me a demo"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	names, data := readSSE(t, resp.Body)
	assert.Equal(t, []string{"started", "message", "stage_transition", "response", "done"}, names)

	var started map[string]string
	require.NoError(t, json.Unmarshal([]byte(data[0]), &started))
	var done conversation.Result
	require.NoError(t, json.Unmarshal([]byte(data[len(data)-1]), &done))
	assert.Equal(t, started["conversation_id"], done.ConversationID)
	assert.Equal(t, conversation.StagePresentation, done.Stage)
}

func TestChatStream_IgnoresOverlappingTurn(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	echo := conversation.PipelineFunc(func(ctx context.Context, req conversation.PipelineRequest) (*conversation.PipelineResult, error) {
		if req.Message == "first" {
			close(entered)
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return &conversation.PipelineResult{Response: "reply to " + req.Message}, nil
	})
	_, srv := setupGatewayTest(t, WithPipeline(echo))

	created := decode[CreateConversationResponse](t, postJSON(t, srv.URL+"/conversation", CreateConversationRequest{}))
	convID := created.ConversationID

	firstDone := make(chan int, 1)
	go func() {
		data, _ := json.Marshal(ChatRequest{Message: "first", ConversationID: convID})
		resp, err := http.Post(srv.URL+"/chat", "application/json", bytes.NewReader(data))
		if err != nil {
			firstDone <- 0
			return
		}
		resp.Body.Close()
		firstDone <- resp.StatusCode
	}()
	<-entered

	resp := postJSON(t, srv.URL+"/chat/stream", ChatRequest{Message: "second", ConversationID: convID})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	close(release)

	names, data := readSSE(t, resp.Body)
	assert.Equal(t, []string{"started", "message", "response", "done"}, names)
	assert.Contains(t, data[1], `"content":"second"`)
	assert.Contains(t, data[2], "reply to second")
	for _, d := range data {
		assert.NotContains(t, d, "reply to first")
		assert.NotContains(t, d, `"content":"first"`)
	}
	var done conversation.Result
	require.NoError(t, json.Unmarshal([]byte(data[3]), &done))
	assert.Equal(t, "reply to second", done.Response)

	assert.Equal(t, http.StatusOK, <-firstDone)
}

func TestChatStream_UnknownConversation(t *testing.T) {
	_, srv := setupGatewayTest(t)

	resp := postJSON(t, srv.URL+"/chat/stream", ChatRequest{Message: "hi", ConversationID: "missing"})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListOperations(t *testing.T) {
	_, srv := setupGatewayTest(t)

	resp, err := http.Get(srv.URL + "/api/operations")
	require.NoError(t, err)
	all := decode[struct {
		Operations []OperationInfo `json:"operations"`
		Count      int             `json:"count"`
	}](t, resp)
	assert.Equal(t, 23, all.Count)

	resp, err = http.Get(srv.URL + "/api/operations?capability=crm")
	require.NoError(t, err)
	crm := decode[struct {
		Operations []OperationInfo `json:"operations"`
	}](t, resp)
	require.Len(t, crm.Operations, 4)
	for _, op := range crm.Operations {
		assert.Equal(t, "crm", op.Capability)
		if op.Name == "update_lead_status" {
			require.NotEmpty(t, op.Parameters)
			assert.Equal(t, "lead_id", op.Parameters[0].Name)
			assert.True(t, op.Parameters[0].Required)
		}
	}
}

func TestDispatch(t *testing.T) {
	_, srv := setupGatewayTest(t)

	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
	}{
		{"success", map[string]any{"operation": "get_lead_info", "parameters": map[string]any{"lead_id": "lead_001"}}, http.StatusOK},
		{"failed result is still 200", map[string]any{"operation": "get_lead_info", "parameters": map[string]any{"lead_id": "lead_999"}}, http.StatusOK},
		{"unknown operation", map[string]any{"operation": "get_leed_info"}, http.StatusNotFound},
		{"missing parameter", map[string]any{"operation": "update_lead_status"}, http.StatusBadRequest},
		{"no operation", map[string]any{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/api/dispatch", tt.body)
			resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestAuditAndUsage(t *testing.T) {
	_, srv := setupGatewayTest(t)

	res := chat(t, srv, "show me the solution", "")
	id := res.ConversationID

	resp, err := http.Get(srv.URL + "/api/audit?conversation_id=" + id)
	require.NoError(t, err)
	audit := decode[struct {
		Entries []map[string]any `json:"entries"`
		Count   int              `json:"count"`
	}](t, resp)
	assert.Positive(t, audit.Count)
	types := map[string]bool{}
	for _, e := range audit.Entries {
		types[e["decision_type"].(string)] = true
	}
	assert.True(t, types["agent_selection"])
	assert.True(t, types["tool_call"])
	assert.True(t, types["response_generation"])

	resp, err = http.Get(srv.URL + "/api/audit?conversation_id=" + id + "&decision_type=stage_transition&limit=1")
	require.NoError(t, err)
	one := decode[struct {
		Count int `json:"count"`
	}](t, resp)
	assert.Equal(t, 1, one.Count)

	for _, q := range []string{"decision_type=bogus", "limit=0", "limit=abc"} {
		resp, err = http.Get(srv.URL + "/api/audit?" + q)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}

	resp, err = http.Get(srv.URL + "/api/usage?conversation_id=" + id)
	require.NoError(t, err)
	usage := decode[map[string]int64](t, resp)
	assert.Equal(t, int64(1), usage["request_count"])
	assert.Positive(t, usage["total_tokens"])
}

func scrape(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, err := http.Get(srv.URL + "/metrics/prometheus")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestPrometheusEndpoint(t *testing.T) {
	_, srv := setupGatewayTest(t)
	chat(t, srv, "What do you offer?", "")

	text := scrape(t, srv)
	assert.Contains(t, text, "funnel_conversations_total 1")
	assert.Contains(t, text, `funnel_dispatch_total{capability="catalog"`)
	assert.Contains(t, text, "funnel_cache_misses_total")

	// The request counter is recorded after the response is written.
	assert.Eventually(t, func() bool {
		return strings.Contains(scrape(t, srv), `funnel_http_requests_total{method="POST",route="/chat",status="200"} 1`)
	}, 2*time.Second, 20*time.Millisecond)
}

func TestNew_MetricsAndMCPDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Enabled = false
	cfg.MCP.Enabled = false
	gw, err := New(cfg, nil)
	require.NoError(t, err)
	defer func() { _ = gw.Shutdown(context.Background()) }()

	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	for _, path := range []string{"/metrics/prometheus", "/mcp/sse"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestNew_BadOperationsFile(t *testing.T) {
	cfg := config.Default()
	cfg.Dispatch.OperationsFile = "/does/not/exist.toml"
	_, err := New(cfg, nil)
	assert.Error(t, err)
}
