// ABOUTME: Cached, retrying decorator around the dispatcher.
// ABOUTME: Reads are served from a per-capability TTL cache; mutations invalidate related entries.

package toolclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/funnel-gateway/internal/cache"
	"github.com/2389/funnel-gateway/internal/capability"
	"github.com/2389/funnel-gateway/internal/dispatch"
	"github.com/2389/funnel-gateway/internal/retry"
)

// DefaultMaxEntries bounds the result cache when no cache is supplied.
const DefaultMaxEntries = 1000

// Dispatcher is the subset of *dispatch.Dispatcher the client needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, call dispatch.Call) (*capability.Result, error)
	Catalog() *dispatch.Catalog
}

// identifierParams name parameters that identify a record. A mutation
// carrying one invalidates every cached read that references it.
var identifierParams = []string{"lead_id", "email", "product_id", "produto_id", "cnpj"}

// DefaultTTLs returns the cache lifetime per capability.
func DefaultTTLs() map[string]time.Duration {
	return map[string]time.Duration{
		capability.Analytics: 5 * time.Minute,
		capability.Catalog:   time.Hour,
		capability.CRM:       time.Hour,
	}
}

// Config contains configuration options for the Client.
type Config struct {
	Dispatcher Dispatcher
	// Cache is shared storage for results; one is created when nil.
	Cache *cache.Cache
	// TTLs maps capability name to cache lifetime. Capabilities without an
	// entry are never cached.
	TTLs   map[string]time.Duration
	Retry  retry.Policy
	Logger *slog.Logger
}

// Client wraps dispatch with caching and retries.
type Client struct {
	dispatcher Dispatcher
	cache      *cache.Cache
	ownsCache  bool
	ttls       map[string]time.Duration
	policy     retry.Policy
	logger     *slog.Logger
}

// New creates a Client.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		dispatcher: cfg.Dispatcher,
		cache:      cfg.Cache,
		ttls:       cfg.TTLs,
		policy:     cfg.Retry,
		logger:     logger.With("component", "toolclient"),
	}
	if c.cache == nil {
		c.cache = cache.New(DefaultMaxEntries, 0)
		c.ownsCache = true
	}
	if c.ttls == nil {
		c.ttls = DefaultTTLs()
	}
	if c.policy.MaxAttempts == 0 {
		c.policy = retry.DefaultPolicy()
	}
	if c.policy.Logger == nil {
		c.policy.Logger = c.logger
	}
	return c
}

// Close releases the cache if the client created it.
func (c *Client) Close() {
	if c.ownsCache {
		c.cache.Close()
	}
}

// CacheStats reports result cache counters.
func (c *Client) CacheStats() cache.Stats {
	return c.cache.Stats()
}

// CacheKey is the deterministic cache key for an operation and its parameters.
// encoding/json writes map keys in sorted order.
func CacheKey(operation string, params map[string]any) (string, error) {
	if params == nil {
		params = map[string]any{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encoding cache key: %w", err)
	}
	return operation + ":" + string(data), nil
}

// Call dispatches an operation through the cache and retry policy.
func (c *Client) Call(ctx context.Context, operation string, params map[string]any) (*capability.Result, error) {
	op, known := c.dispatcher.Catalog().Lookup(operation)
	if !known {
		return c.dispatcher.Dispatch(ctx, dispatch.Call{Operation: operation, Parameters: params})
	}

	if op.Mutating {
		return c.mutate(ctx, op, params)
	}

	ttl := c.ttls[op.Capability]
	key, err := CacheKey(operation, params)
	if err != nil || ttl <= 0 {
		return c.execute(ctx, operation, params)
	}

	if data, ok := c.cache.Get(key); ok {
		var res capability.Result
		if err := json.Unmarshal(data, &res); err == nil {
			c.logger.Debug("cache hit", "operation", operation)
			return &res, nil
		}
		c.cache.Delete(key)
	}

	gen := c.cache.Generation()
	res, err := c.execute(ctx, operation, params)
	if err != nil {
		return nil, err
	}
	if res.Success {
		if data, err := json.Marshal(res); err == nil {
			if !c.cache.SetIfGeneration(key, data, ttl, gen) {
				c.logger.Debug("result not cached, invalidated while in flight", "operation", operation)
			}
		}
	}
	return res, nil
}

func (c *Client) execute(ctx context.Context, operation string, params map[string]any) (*capability.Result, error) {
	return retry.Result(ctx, c.policy, func(ctx context.Context) (*capability.Result, error) {
		return c.dispatcher.Dispatch(ctx, dispatch.Call{Operation: operation, Parameters: params})
	})
}

func (c *Client) mutate(ctx context.Context, op dispatch.OperationConfig, params map[string]any) (*capability.Result, error) {
	res, err := c.execute(ctx, op.Name, params)
	if err != nil || !res.Success {
		return res, err
	}

	removed := 0
	matched := false
	for _, name := range identifierParams {
		v, ok := params[name]
		if !ok {
			continue
		}
		matched = true
		if frag, ok := identifierFragment(name, v); ok {
			removed += c.cache.InvalidateContaining(frag)
		}
	}
	if !matched {
		// No identifier: drop every cached read of the same capability.
		for _, sibling := range c.dispatcher.Catalog().ForCapability(op.Capability) {
			removed += c.cache.InvalidateContaining(sibling.Name + ":")
		}
	}
	if removed > 0 {
		c.logger.Debug("invalidated cached results", "operation", op.Name, "entries", removed)
	}
	return res, nil
}

// identifierFragment renders name/value the way it appears inside a cache key.
func identifierFragment(name string, v any) (string, bool) {
	data, err := json.Marshal(map[string]any{name: v})
	if err != nil || len(data) < 2 {
		return "", false
	}
	return string(data[1 : len(data)-1]), true
}
