// ABOUTME: Tests for the capability endpoint wire protocol.
// ABOUTME: Covers call success, validation errors, tool listing, and health.

package endpoint

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/funnel-gateway/internal/capability"
)

func setupEndpointTest(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(capability.NewCatalog(capability.Options{}), nil))
	t.Cleanup(srv.Close)
	return srv
}

func postCall(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url+"/mcp/call", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestServer_Call_Success(t *testing.T) {
	srv := setupEndpointTest(t)

	resp, out := postCall(t, srv.URL, `{"tool_name":"get_product_details","parameters":{"product_id":"maquinona_001"}}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["success"])
	assert.NotNil(t, out["product"])
}

func TestServer_Call_FailedResultIsStill200(t *testing.T) {
	srv := setupEndpointTest(t)

	resp, out := postCall(t, srv.URL, `{"tool_name":"get_product_details","parameters":{"product_id":"nope"}}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "product not found", out["error"])
}

func TestServer_Call_Errors(t *testing.T) {
	srv := setupEndpointTest(t)

	tests := []struct {
		name      string
		body      string
		status    int
		errMsg    string
		errorType string
	}{
		{"missing tool_name", `{"parameters":{}}`, http.StatusBadRequest, "tool_name is required", ""},
		{"invalid json", `{not json`, http.StatusBadRequest, "invalid JSON body", ""},
		{"unknown tool", `{"tool_name":"get_producs"}`, http.StatusInternalServerError, "unknown operation", capability.ErrorTypeUnknownOperation},
		{"missing params", `{"tool_name":"search_products"}`, http.StatusInternalServerError, "missing [query]", capability.ErrorTypeMissingParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := postCall(t, srv.URL, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Contains(t, out["error"], tt.errMsg)
			if tt.errorType == "" {
				assert.NotContains(t, out, "error_type")
			} else {
				assert.Equal(t, tt.errorType, out["error_type"])
			}
		})
	}
}

func TestServer_Call_MethodNotAllowed(t *testing.T) {
	srv := setupEndpointTest(t)

	resp, err := http.Get(srv.URL + "/mcp/call")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_Tools(t *testing.T) {
	srv := setupEndpointTest(t)

	resp, err := http.Get(srv.URL + "/mcp/tools")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out ToolsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Tools, 4)
	assert.Equal(t, "get_products", out.Tools[0].Name)
	assert.Equal(t, "object", out.Tools[1].Parameters["type"])
	assert.Equal(t, []any{"product_id"}, out.Tools[1].Parameters["required"])
}

func TestServer_Health(t *testing.T) {
	srv := setupEndpointTest(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, HealthResponse{Status: "healthy", Server: "catalog"}, out)
}

func TestGroup_SkipsProvidersWithoutAddress(t *testing.T) {
	providers := map[string]capability.Provider{
		"crm":     capability.NewCRM(capability.Options{}),
		"catalog": capability.NewCatalog(capability.Options{}),
	}
	g := NewGroup(providers, map[string]string{"crm": "127.0.0.1:0"}, nil)
	assert.Equal(t, []string{"crm"}, g.Names())
}
