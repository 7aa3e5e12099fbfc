// ABOUTME: Registry lazily constructs and caches one provider per (name, latency mode).
// ABOUTME: Concurrent first requests for the same key share a single construction.

package capability

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Capability names.
const (
	CRM            = "crm"
	Catalog        = "catalog"
	Analytics      = "analytics"
	IFood          = "ifood"
	Restaurant     = "restaurant"
	Recommendation = "recommendation"
	Contract       = "contract"
	Pricing        = "pricing"
	Qualification  = "qualification"
)

// Factory constructs a provider.
type Factory func(Options) Provider

// DefaultFactories returns the constructors for every known capability.
func DefaultFactories() map[string]Factory {
	return map[string]Factory{
		CRM:            NewCRM,
		Catalog:        NewCatalog,
		Analytics:      NewAnalytics,
		IFood:          NewIFood,
		Restaurant:     NewRestaurant,
		Recommendation: NewRecommendation,
		Contract:       NewContract,
		Pricing:        NewPricing,
		Qualification:  NewQualification,
	}
}

type registryKey struct {
	name    string
	latency bool
}

func (k registryKey) String() string {
	return fmt.Sprintf("%s/%t", k.name, k.latency)
}

// Registry owns provider instances for the process. Create one with
// NewRegistry at the composition root and pass it to consumers.
type Registry struct {
	mu        sync.RWMutex
	providers map[registryKey]Provider
	factories map[string]Factory
	group     singleflight.Group
	logger    *slog.Logger
}

// NewRegistry creates a registry over the default factories.
func NewRegistry(logger *slog.Logger) *Registry {
	return NewRegistryWithFactories(DefaultFactories(), logger)
}

// NewRegistryWithFactories creates a registry over the given factories.
func NewRegistryWithFactories(factories map[string]Factory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	f := make(map[string]Factory, len(factories))
	for name, fn := range factories {
		f[name] = fn
	}
	return &Registry{
		providers: make(map[registryKey]Provider),
		factories: f,
		logger:    logger.With("component", "capability_registry"),
	}
}

// Names returns the known capability names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the provider for name, constructing it on first use.
func (r *Registry) Get(name string, latencyMode bool) (Provider, error) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownCapability, name, strings.Join(r.Names(), ", "))
	}

	key := registryKey{name: name, latency: latencyMode}
	if p := r.lookup(key); p != nil {
		return p, nil
	}

	v, err, _ := r.group.Do(key.String(), func() (any, error) {
		// A previous flight may have stored the provider after our lookup.
		if p := r.lookup(key); p != nil {
			return p, nil
		}
		p := factory(Options{SimulateLatency: latencyMode, Logger: r.logger})
		if p == nil {
			return nil, fmt.Errorf("constructing capability %q: factory returned nil", name)
		}

		r.mu.Lock()
		r.providers[key] = p
		r.mu.Unlock()

		r.logger.Info("capability provider created", "capability", name, "latency_mode", latencyMode)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Provider), nil
}

func (r *Registry) lookup(key registryKey) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[key]
}

// GetAll returns a provider for every known capability.
func (r *Registry) GetAll(latencyMode bool) map[string]Provider {
	out := make(map[string]Provider, len(r.factories))
	for _, name := range r.Names() {
		p, err := r.Get(name, latencyMode)
		if err != nil {
			r.logger.Error("failed to create capability provider", "capability", name, "error", err)
			continue
		}
		out[name] = p
	}
	return out
}

// Clear releases all cached providers. Later Get calls reconstruct them.
func (r *Registry) Clear() {
	r.mu.Lock()
	n := len(r.providers)
	r.providers = make(map[registryKey]Provider)
	r.mu.Unlock()

	r.logger.Info("capability registry cleared", "released", n)
}

// Len returns the number of constructed providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
