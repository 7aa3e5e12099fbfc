// ABOUTME: Routes a named operation to an in-process capability provider or its network endpoint.
// ABOUTME: Merges declared defaults, falls back on direct failure, and notifies observers.

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/funnel-gateway/internal/capability"
)

// DefaultTimeout is the default timeout for network dispatch.
const DefaultTimeout = 30 * time.Second

// maxDiscoveryTimeout caps tool listing over the network.
const maxDiscoveryTimeout = 10 * time.Second

// Call is a single operation invocation.
type Call struct {
	// Capability optionally pins the capability; it must match the catalog.
	Capability string         `json:"capability,omitempty"`
	Operation  string         `json:"operation"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Path identifies how a call was served.
type Path string

const (
	PathDirect Path = "direct"
	PathRemote Path = "remote"
	PathNone   Path = "none"
)

// Event describes one completed dispatch.
type Event struct {
	ConversationID string
	Operation      string
	Capability     string
	Parameters     map[string]any
	Path           Path
	Success        bool
	Err            error
	Duration       time.Duration
}

// Observer receives an Event after every dispatch.
type Observer interface {
	ObserveDispatch(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) ObserveDispatch(ctx context.Context, ev Event) { f(ctx, ev) }

type conversationKey struct{}

// WithConversationID tags ctx so dispatch events can be linked to a conversation.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationKey{}, id)
}

// ConversationIDFrom returns the conversation id set by WithConversationID.
func ConversationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(conversationKey{}).(string)
	return id
}

// Config contains configuration options for the Dispatcher.
type Config struct {
	Catalog    *Catalog
	Providers  map[string]capability.Provider
	Targets    map[string]Target
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	Observers  []Observer
}

// Dispatcher resolves operations to providers.
type Dispatcher struct {
	catalog   *Catalog
	providers map[string]capability.Provider
	targets   map[string]Target
	timeout   time.Duration
	remote    *remoteClient
	logger    *slog.Logger
	observers []Observer
}

// New creates a Dispatcher. A nil catalog is derived from the providers.
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	catalog := cfg.Catalog
	if catalog == nil {
		catalog = CatalogFromProviders(cfg.Providers)
	}

	providers := make(map[string]capability.Provider, len(cfg.Providers))
	for name, p := range cfg.Providers {
		providers[name] = p
	}
	targets := make(map[string]Target, len(cfg.Targets))
	for name, t := range cfg.Targets {
		targets[name] = t
	}

	return &Dispatcher{
		catalog:   catalog,
		providers: providers,
		targets:   targets,
		timeout:   timeout,
		remote:    &remoteClient{http: client},
		logger:    logger.With("component", "dispatcher"),
		observers: cfg.Observers,
	}
}

// Catalog returns the operation catalog.
func (d *Dispatcher) Catalog() *Catalog { return d.catalog }

// Timeout returns the network dispatch timeout.
func (d *Dispatcher) Timeout() time.Duration { return d.timeout }

// Capabilities returns the capabilities named by the catalog, in declaration order.
func (d *Dispatcher) Capabilities() []string {
	seen := make(map[string]bool)
	var out []string
	for _, op := range d.catalog.All() {
		if !seen[op.Capability] {
			seen[op.Capability] = true
			out = append(out, op.Capability)
		}
	}
	return out
}

// Dispatch runs one operation. A returned Result may still carry success=false;
// a returned error means the call could not be completed.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) (*capability.Result, error) {
	start := time.Now()
	ev := Event{
		ConversationID: ConversationIDFrom(ctx),
		Operation:      call.Operation,
		Capability:     call.Capability,
		Parameters:     call.Parameters,
		Path:           PathNone,
	}

	result, err := d.dispatch(ctx, call, &ev)

	ev.Duration = time.Since(start)
	ev.Err = err
	ev.Success = err == nil && result != nil && result.Success
	for _, o := range d.observers {
		o.ObserveDispatch(ctx, ev)
	}
	return result, err
}

func (d *Dispatcher) dispatch(ctx context.Context, call Call, ev *Event) (*capability.Result, error) {
	op, ok := d.catalog.Lookup(call.Operation)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOperationNotFound, capability.UnknownNameMessage(call.Operation, d.catalog.Names()))
	}
	if call.Capability != "" && call.Capability != op.Capability {
		return nil, fmt.Errorf("%w: %q is served by %q, not %q", ErrOperationNotFound, op.Name, op.Capability, call.Capability)
	}
	ev.Capability = op.Capability

	params := mergeParams(op.Defaults, call.Parameters)
	ev.Parameters = params

	var directErr error
	if p, ok := d.providers[op.Capability]; ok {
		ev.Path = PathDirect
		d.logger.Debug("→ dispatching direct", "operation", op.Name, "capability", op.Capability)
		result, err := p.Call(ctx, op.Name, params)
		if err == nil {
			return result, nil
		}
		directErr = err
		d.logger.Warn("direct call failed, falling back to endpoint",
			"operation", op.Name,
			"capability", op.Capability,
			"error", err,
		)
	}

	target, ok := d.targets[op.Capability]
	if !ok {
		if directErr != nil {
			return nil, directErr
		}
		return nil, fmt.Errorf("%w: %q", ErrNoRoute, op.Capability)
	}

	ev.Path = PathRemote
	d.logger.Debug("→ dispatching remote", "operation", op.Name, "capability", op.Capability, "endpoint", target.BaseURL)
	result, err := d.remote.call(ctx, target, op.Name, params, d.timeout)
	if err != nil {
		if directErr != nil && isCallerError(directErr) {
			return nil, fmt.Errorf("%w (remote fallback: %w)", directErr, err)
		}
		return nil, err
	}
	return result, nil
}

// ListOperations returns the operation names a capability serves. Failures
// degrade to an empty slice.
func (d *Dispatcher) ListOperations(ctx context.Context, name string) []string {
	specs := d.DiscoverOperations(ctx, name)
	out := make([]string, 0, len(specs))
	for _, s := range specs {
		out = append(out, s.Name)
	}
	return out
}

// DiscoverOperations returns the operation specs of a capability, preferring
// the in-process provider. Failures degrade to an empty slice.
func (d *Dispatcher) DiscoverOperations(ctx context.Context, name string) []capability.OperationSpec {
	if p, ok := d.providers[name]; ok {
		return p.Operations()
	}
	target, ok := d.targets[name]
	if !ok {
		d.logger.Warn("no provider or endpoint for capability", "capability", name)
		return []capability.OperationSpec{}
	}

	specs, err := d.remote.tools(ctx, target, min(d.timeout, maxDiscoveryTimeout))
	if err != nil {
		d.logger.Warn("operation discovery failed", "capability", name, "error", err)
		return []capability.OperationSpec{}
	}
	return specs
}

// IsCallerError reports whether err was caused by the request itself
// rather than by the provider or transport.
func IsCallerError(err error) bool {
	return errors.Is(err, ErrOperationNotFound) || isCallerError(err)
}

func isCallerError(err error) bool {
	return errors.Is(err, capability.ErrMissingParameter) ||
		errors.Is(err, capability.ErrUnknownOperation) ||
		errors.Is(err, capability.ErrUnknownCapability)
}

// mergeParams overlays caller parameters on declared defaults.
func mergeParams(defaults, params map[string]any) map[string]any {
	out := make(map[string]any, len(defaults)+len(params))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range params {
		out[k] = v
	}
	return out
}
