// ABOUTME: Tests for the capability registry lifecycle and construction guarantees.
// ABOUTME: Covers lazy construction, per-key caching, concurrent first access, and Clear.

package capability

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingFactory wraps a factory and counts constructions.
func countingFactory(fn Factory, n *atomic.Int32, delay time.Duration) Factory {
	return func(opts Options) Provider {
		n.Add(1)
		time.Sleep(delay)
		return fn(opts)
	}
}

func TestRegistry_Get_CachesPerKey(t *testing.T) {
	var n atomic.Int32
	reg := NewRegistryWithFactories(map[string]Factory{
		CRM: countingFactory(NewCRM, &n, 0),
	}, nil)

	a, err := reg.Get(CRM, false)
	require.NoError(t, err)
	b, err := reg.Get(CRM, false)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, int32(1), n.Load())

	// Latency mode is part of the key
	c, err := reg.Get(CRM, true)
	require.NoError(t, err)
	assert.NotSame(t, a, c)
	assert.Equal(t, int32(2), n.Load())
	assert.Equal(t, 2, reg.Len())
}

func TestRegistry_Get_ConcurrentFirstAccessConstructsOnce(t *testing.T) {
	var n atomic.Int32
	reg := NewRegistryWithFactories(map[string]Factory{
		Catalog: countingFactory(NewCatalog, &n, 20*time.Millisecond),
	}, nil)

	const callers = 50
	results := make([]Provider, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := reg.Get(Catalog, false)
			assert.NoError(t, err)
			results[i] = p
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), n.Load())
	for _, p := range results {
		assert.Same(t, results[0], p)
	}
}

func TestRegistry_Get_UnknownCapability(t *testing.T) {
	reg := NewRegistry(nil)

	p, err := reg.Get("billing", false)
	assert.Nil(t, p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownCapability))
	assert.Contains(t, err.Error(), "billing")
	assert.Equal(t, 0, reg.Len(), "failed lookups must not register anything")
}

func TestRegistry_Clear_Reconstructs(t *testing.T) {
	var n atomic.Int32
	reg := NewRegistryWithFactories(map[string]Factory{
		Pricing: countingFactory(NewPricing, &n, 0),
	}, nil)

	first, err := reg.Get(Pricing, false)
	require.NoError(t, err)

	reg.Clear()
	assert.Equal(t, 0, reg.Len())

	second, err := reg.Get(Pricing, false)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, int32(2), n.Load())
}

func TestRegistry_GetAll(t *testing.T) {
	reg := NewRegistry(nil)

	all := reg.GetAll(false)
	assert.Len(t, all, 9)
	for name, p := range all {
		assert.Equal(t, name, p.Name())
		assert.NotEmpty(t, p.Operations())
	}
}

func TestRegistry_LatencyMode_SimulatesDelay(t *testing.T) {
	reg := NewRegistry(nil)
	p, err := reg.Get(Contract, true)
	require.NoError(t, err)

	start := time.Now()
	res, err := p.Call(context.Background(), "buscar_historico_contratos", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.GreaterOrEqual(t, time.Since(start), DefaultLatency)
}
