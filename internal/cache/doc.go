// Package cache provides a bounded, TTL-based cache for serialized
// capability results, shared by the cached tool clients.
package cache
