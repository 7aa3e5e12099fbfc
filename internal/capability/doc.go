// Package capability defines the in-process capability providers that back
// the tool-dispatch layer.
//
// # Overview
//
// A provider implements a handful of named operations for one business
// domain (crm, catalog, analytics, pricing, qualification, recommendation,
// restaurant, ifood, contract). Operations are declared as a table of
// OperationSpec plus Handler, so parameter validation and unknown-operation
// errors behave the same across every domain.
//
// # Results
//
// Every operation returns a *Result. Success is false exactly when Error is
// set. On the wire the payload is flattened next to "success" and "error":
//
//	{"success": true, "lead": {...}}
//	{"success": false, "error": "lead not found", "lead_id": "x"}
//
// # Registry
//
// Registry constructs providers lazily, one per (name, latency mode), and
// shares a single construction between concurrent first callers:
//
//	reg := capability.NewRegistry(logger)
//	crm, err := reg.Get(capability.CRM, false)
//
// Unknown names fail with ErrUnknownCapability. Clear releases every cached
// provider.
//
// # Latency Simulation
//
// With latency mode on, each call sleeps for the provider's simulated
// round-trip (100ms, 150ms for crm) before executing. The sleep ends early
// when the call's context is cancelled.
package capability
