// ABOUTME: Network fallback path: POST /mcp/call and GET /mcp/tools against a capability endpoint.
// ABOUTME: Maps every transport failure onto a TransportError kind.

package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/2389/funnel-gateway/internal/capability"
)

// maxResponseSize caps how much of an endpoint response is read.
const maxResponseSize = 4 << 20

// Target is the network location of a capability endpoint.
type Target struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
}

func (t Target) url(path string) string {
	return strings.TrimRight(t.BaseURL, "/") + path
}

type callBody struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
}

type toolsBody struct {
	Tools []struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"tools"`
}

type remoteClient struct {
	http *http.Client
}

func (c *remoteClient) call(ctx context.Context, target Target, operation string, params map[string]any, timeout time.Duration) (*capability.Result, error) {
	endpoint := target.url("/mcp/call")
	fail := func(kind Kind, err error) *TransportError {
		return &TransportError{Kind: kind, Operation: operation, Endpoint: endpoint, Timeout: timeout, Err: err}
	}

	if params == nil {
		params = map[string]any{}
	}
	body, err := json.Marshal(callBody{ToolName: operation, Parameters: params})
	if err != nil {
		return nil, fail(KindUnexpected, fmt.Errorf("encoding request: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fail(KindUnexpected, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fail(classify(ctx, err), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fail(classify(ctx, err), err)
	}

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error     string `json:"error"`
			ErrorType string `json:"error_type"`
		}
		_ = json.Unmarshal(data, &e)
		if sentinel := capability.ErrorForType(e.ErrorType); sentinel != nil {
			detail := strings.TrimPrefix(e.Error, sentinel.Error()+": ")
			return nil, fmt.Errorf("%w: %s (via %s)", sentinel, detail, endpoint)
		}
		te := fail(KindBadStatus, nil)
		te.Status = resp.StatusCode
		te.Detail = e.Error
		return nil, te
	}

	var result capability.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fail(KindMalformedResponse, err)
	}
	return &result, nil
}

func (c *remoteClient) tools(ctx context.Context, target Target, timeout time.Duration) ([]capability.OperationSpec, error) {
	endpoint := target.url("/mcp/tools")
	fail := func(kind Kind, err error) *TransportError {
		return &TransportError{Kind: kind, Operation: "list_tools", Endpoint: endpoint, Timeout: timeout, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fail(KindUnexpected, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fail(classify(ctx, err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		te := fail(KindBadStatus, nil)
		te.Status = resp.StatusCode
		return nil, te
	}

	var body toolsBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&body); err != nil {
		return nil, fail(KindMalformedResponse, err)
	}

	specs := make([]capability.OperationSpec, 0, len(body.Tools))
	for _, t := range body.Tools {
		specs = append(specs, capability.SpecFromSchema(t.Name, t.Description, t.Parameters))
	}
	return specs, nil
}

// classify maps a client error to a transport kind.
func classify(ctx context.Context, err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnection
	}
	return KindUnexpected
}
