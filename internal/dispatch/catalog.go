// ABOUTME: Operation catalog: the declared configuration (capability, defaults, description) per operation.
// ABOUTME: Built from provider declarations and optionally overridden by a TOML catalog file.

package dispatch

import (
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/2389/funnel-gateway/internal/capability"
)

// OperationConfig is the declared configuration of one dispatchable operation.
type OperationConfig struct {
	Name        string         `toml:"name"`
	Capability  string         `toml:"capability"`
	Description string         `toml:"description"`
	Defaults    map[string]any `toml:"defaults"`
	Mutating    bool           `toml:"mutating"`
}

// Catalog is an immutable, ordered set of operation configurations.
type Catalog struct {
	ops   map[string]OperationConfig
	order []string
}

// NewCatalog builds a catalog. Operation names must be unique and every
// operation must name a capability.
func NewCatalog(ops ...OperationConfig) (*Catalog, error) {
	c := &Catalog{ops: make(map[string]OperationConfig, len(ops))}
	for _, op := range ops {
		if op.Name == "" {
			return nil, fmt.Errorf("operation without name")
		}
		if op.Capability == "" {
			return nil, fmt.Errorf("operation %q has no capability", op.Name)
		}
		if _, dup := c.ops[op.Name]; dup {
			return nil, fmt.Errorf("duplicate operation %q", op.Name)
		}
		c.ops[op.Name] = op
		c.order = append(c.order, op.Name)
	}
	return c, nil
}

// mutatingOperations change provider state and must never be served from cache.
var mutatingOperations = map[string]bool{
	"update_lead_status": true,
	"concluir_compra":    true,
	"track_event":        true,
}

// CatalogFromProviders declares every operation of every provider, in
// capability-name order.
func CatalogFromProviders(providers map[string]capability.Provider) *Catalog {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)

	c := &Catalog{ops: make(map[string]OperationConfig)}
	for _, name := range names {
		for _, spec := range providers[name].Operations() {
			if _, dup := c.ops[spec.Name]; dup {
				continue
			}
			c.ops[spec.Name] = OperationConfig{
				Name:        spec.Name,
				Capability:  name,
				Description: spec.Description,
				Mutating:    mutatingOperations[spec.Name],
			}
			c.order = append(c.order, spec.Name)
		}
	}
	return c
}

type catalogFile struct {
	Operations []OperationConfig `toml:"operation"`
}

// LoadCatalogFile reads a TOML catalog:
//
//	[[operation]]
//	name = "get_products"
//	capability = "catalog"
//	description = "List restaurant products"
//	[operation.defaults]
//	target_audience = "restaurantes"
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}
	var f catalogFile
	if _, err := toml.Decode(string(data), &f); err != nil {
		return nil, fmt.Errorf("parsing catalog file: %w", err)
	}
	return NewCatalog(f.Operations...)
}

// Overlay returns a catalog with other's operations replacing or extending c's.
// Unset descriptions in other keep c's description.
func (c *Catalog) Overlay(other *Catalog) *Catalog {
	out := &Catalog{ops: make(map[string]OperationConfig, len(c.ops)+len(other.ops))}
	for _, name := range c.order {
		out.ops[name] = c.ops[name]
		out.order = append(out.order, name)
	}
	for _, name := range other.order {
		op := other.ops[name]
		prev, existed := out.ops[name]
		if existed && op.Description == "" {
			op.Description = prev.Description
		}
		if existed && !op.Mutating {
			op.Mutating = prev.Mutating
		}
		out.ops[name] = op
		if !existed {
			out.order = append(out.order, name)
		}
	}
	return out
}

// Lookup returns the configuration for an operation.
func (c *Catalog) Lookup(name string) (OperationConfig, bool) {
	op, ok := c.ops[name]
	return op, ok
}

// Names returns operation names in declaration order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// All returns every operation configuration in declaration order.
func (c *Catalog) All() []OperationConfig {
	out := make([]OperationConfig, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.ops[name])
	}
	return out
}

// ForCapability returns the operations declared for one capability.
func (c *Catalog) ForCapability(name string) []OperationConfig {
	var out []OperationConfig
	for _, n := range c.order {
		if c.ops[n].Capability == name {
			out = append(out, c.ops[n])
		}
	}
	return out
}

// Len returns the number of operations.
func (c *Catalog) Len() int { return len(c.order) }
