// Package toolclient decorates the dispatcher with a bounded TTL cache and
// a retry policy.
//
// Read operations are cached per capability (analytics for five minutes,
// catalog and CRM for an hour by default). Mutating operations bypass the
// cache, are retried, and on success invalidate cached reads that reference
// the same identifier. CRMClient, CatalogClient and AnalyticsClient give
// typed access to their capability's operations.
package toolclient
