// Package mcp exposes the gateway to Model Context Protocol clients.
//
// Every operation in the dispatcher catalog becomes an MCP tool whose input
// schema comes from the capability's operation specs. Calls go through the
// cached retrying tool client, so MCP clients see the same results as the
// conversation pipeline. When a tracker is configured two more tools are
// registered:
//
//   - funnel_send_message: run a user turn through a conversation
//   - funnel_metrics: return the funnel MetricsView
//
// The transport is SSE, mounted on the gateway mux:
//
//	GET  /mcp/sse      event stream; the first event names the message URL
//	POST /mcp/message  JSON-RPC requests (initialize, tools/list, tools/call)
//
// Tool failures are reported as tool results with isError set, never as
// JSON-RPC errors.
package mcp
