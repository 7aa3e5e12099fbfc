// Package metrics exposes gateway instrumentation in the Prometheus format.
//
// Metrics implements dispatch.Observer, counting every capability dispatch
// by operation, path and outcome, and wraps HTTP handlers to count requests.
// FunnelCollector and CacheCollector read tracker and cache snapshots at
// scrape time. All collectors share one private registry served by Handler.
package metrics
