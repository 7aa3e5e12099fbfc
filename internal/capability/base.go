// ABOUTME: Table-driven provider base: operation lookup, parameter validation, latency simulation.
// ABOUTME: Concrete providers declare operations with handlers and embed this behaviour.

package capability

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// DefaultLatency is the simulated round-trip applied when latency mode is on.
const DefaultLatency = 100 * time.Millisecond

// Handler executes one operation with already-validated parameters.
type Handler func(ctx context.Context, params map[string]any) *Result

// Operation pairs a declared spec with its handler.
type Operation struct {
	Spec    OperationSpec
	Handler Handler
}

// Options configure provider construction.
type Options struct {
	SimulateLatency bool
	Latency         time.Duration // zero means the provider's default
	Logger          *slog.Logger
}

// tableProvider is the shared Provider implementation for the mock domains.
type tableProvider struct {
	name     string
	ops      map[string]*Operation
	order    []string
	simulate bool
	latency  time.Duration
	logger   *slog.Logger
}

func newTableProvider(name string, opts Options, defaultLatency time.Duration, ops ...*Operation) *tableProvider {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	latency := opts.Latency
	if latency == 0 {
		latency = defaultLatency
	}
	p := &tableProvider{
		name:     name,
		ops:      make(map[string]*Operation, len(ops)),
		simulate: opts.SimulateLatency,
		latency:  latency,
		logger:   logger.With("component", "capability", "capability", name),
	}
	for _, op := range ops {
		p.ops[op.Spec.Name] = op
		p.order = append(p.order, op.Spec.Name)
	}
	return p
}

func (p *tableProvider) Name() string { return p.name }

func (p *tableProvider) Operations() []OperationSpec {
	specs := make([]OperationSpec, 0, len(p.order))
	for _, name := range p.order {
		specs = append(specs, p.ops[name].Spec)
	}
	return specs
}

func (p *tableProvider) Call(ctx context.Context, operation string, params map[string]any) (res *Result, err error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	op, ok := p.ops[operation]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, UnknownNameMessage(operation, p.order))
	}
	if params == nil {
		params = map[string]any{}
	}
	if err := validateRequired(op.Spec, params); err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("operation panicked", "operation", operation, "panic", r)
			res = nil
			err = fmt.Errorf("operation %s panicked: %v", operation, r)
		}
	}()

	res = op.Handler(ctx, params)
	if res == nil {
		return nil, fmt.Errorf("operation %s returned no result", operation)
	}
	return res, nil
}

// wait applies the simulated latency, returning early if ctx ends.
func (p *tableProvider) wait(ctx context.Context) error {
	if !p.simulate || p.latency <= 0 {
		return nil
	}
	t := time.NewTimer(p.latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// validateRequired reports missing required parameters. Empty strings count as missing.
func validateRequired(spec OperationSpec, params map[string]any) error {
	var missing []string
	for _, name := range spec.Required() {
		v, ok := params[name]
		if !ok || v == nil {
			missing = append(missing, name)
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	provided := make([]string, 0, len(params))
	for k := range params {
		provided = append(provided, k)
	}
	sort.Strings(provided)
	providedText := "none"
	if len(provided) > 0 {
		providedText = strings.Join(provided, ", ")
	}
	expected := make([]string, 0, len(spec.Params))
	for _, p := range spec.Params {
		expected = append(expected, p.Name)
	}

	return fmt.Errorf("%w: operation %q missing [%s]; provided [%s]; expected [%s]",
		ErrMissingParameter, spec.Name,
		strings.Join(missing, ", "), providedText, strings.Join(expected, ", "))
}

// SimilarNames returns known names that contain, or are contained in, target
// (case-insensitive), preserving the order of known.
func SimilarNames(target string, known []string) []string {
	t := strings.ToLower(target)
	var out []string
	for _, k := range known {
		kl := strings.ToLower(k)
		if strings.Contains(kl, t) || strings.Contains(t, kl) {
			out = append(out, k)
		}
	}
	return out
}

// UnknownNameMessage describes an unknown name: up to 5 similar names,
// otherwise up to 10 known names, otherwise that none exist.
func UnknownNameMessage(name string, known []string) string {
	msg := fmt.Sprintf("%q not found.", name)
	if similar := SimilarNames(name, known); len(similar) > 0 {
		if len(similar) > 5 {
			similar = similar[:5]
		}
		return msg + " Similar: " + strings.Join(similar, ", ")
	}
	if len(known) > 0 {
		shown := known
		if len(shown) > 10 {
			shown = shown[:10]
		}
		return msg + " Available: " + strings.Join(shown, ", ")
	}
	return msg + " None available."
}

// Parameter helpers. JSON decoding produces float64 for numbers, so integer
// helpers accept both.

func stringParam(params map[string]any, key string) string {
	switch v := params[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

func floatParam(params map[string]any, key string, def float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

func mapParam(params map[string]any, key string) map[string]any {
	if m, ok := params[key].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func param(name, typ string, required bool, desc string) ParamSpec {
	return ParamSpec{Name: name, Type: typ, Required: required, Description: desc}
}
