// Package endpoint serves capability providers over a small JSON-over-HTTP
// wire protocol so the dispatcher can reach them across a network boundary.
//
// # Routes
//
//	POST /mcp/call   {"tool_name": "...", "parameters": {...}}
//	GET  /mcp/tools  {"tools": [{"name", "description", "parameters"}]}
//	GET  /health     {"status": "healthy", "server": "<capability>"}
//
// A call returns 200 with the flattened capability result (including
// success=false results), 400 when tool_name is missing or the body is not
// JSON, and 500 with {"error": "..."} when the provider rejects the call.
//
// Group runs one server per capability, each on its own address.
package endpoint
