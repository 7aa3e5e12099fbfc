// Package config handles configuration loading for funnel-gateway.
//
// # Configuration File
//
// Location, first match wins:
//
//  1. Path from the FUNNEL_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/funnel/gateway.yaml
//  3. ~/.config/funnel/gateway.yaml
//
// A missing file means defaults; `funnel-gateway init` writes DefaultYAML.
//
// # Environment Variable Expansion
//
// Values can reference environment variables with ${VAR_NAME}:
//
//	capabilities:
//	  targets:
//	    crm: "${CRM_ENDPOINT}"
//
// Unset variables expand to the empty string.
//
// # Durations
//
// Durations use time.ParseDuration syntax ("500ms", "30s", "24h") and are
// parsed from the raw strings into the typed fields after unmarshaling.
//
// # Sections
//
//	server:         http_addr
//	database:       path (":memory:" by default)
//	capabilities:   latency_mode, host, base_port, targets, remote
//	dispatch:       timeout, operations_file (TOML catalog overlay)
//	cache:          max_entries, analytics_ttl, catalog_ttl, crm_ttl
//	retry:          max_attempts, base_delay, multiplier, max_delay
//	conversations:  max_active, idle_ttl
//	logging:        level, format (text or json)
//	metrics:        enabled, path
//	mcp:            enabled, base_url
//
// Capability endpoints listen on host:base_port+offset, where PortOffsets
// puts crm at 1, catalog at 2 and so on up to qualification at 10.
package config
