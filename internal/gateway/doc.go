// Package gateway wires funnel-gateway together and serves its HTTP API.
//
// # Composition
//
// New builds the component graph from a config.Config:
//
//	capability.Registry → providers → dispatch.Dispatcher
//	    observers: store.DispatchAuditor, metrics.Metrics
//	dispatch.Dispatcher → toolclient.Client (cache + retry)
//	toolclient.Client → pipeline.Pipeline → conversation.Tracker
//	dispatch.Dispatcher + toolclient.Client + Tracker → mcp.Server
//
// The SQLite ledger receives tool call audits from the dispatcher and
// decision audits plus token usage from the tracker.
//
// # HTTP API
//
//	GET  /                       service info
//	GET  /health                 {status, version, active_conversations}
//	POST /conversation           start a conversation
//	GET  /conversation/{id}      conversation snapshot
//	POST /chat                   process one message
//	POST /chat/stream            same, streamed as SSE
//	GET  /metrics                funnel MetricsView
//	GET  /api/operations         operation catalog with parameter specs
//	POST /api/dispatch           call an operation directly, uncached
//	GET  /api/audit              audit entries
//	GET  /api/usage              aggregated token usage
//
// Prometheus exposition is mounted at metrics.path and the MCP SSE server
// at /mcp/sse when enabled.
//
// # Streaming
//
// POST /chat/stream subscribes to the conversation's events before the turn
// starts and relays them:
//
//	event: started           {conversation_id}
//	event: message           user message recorded
//	event: stage_transition  {from, to}
//	event: response          agent reply
//	event: error             failed turn
//	event: done              final turn Result
package gateway
