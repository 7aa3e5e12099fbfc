// ABOUTME: Tests for dispatch routing, fallback, error kinds, and the TOML catalog.
// ABOUTME: Capability endpoints are served from httptest servers.

package dispatch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/funnel-gateway/internal/capability"
	"github.com/2389/funnel-gateway/internal/endpoint"
)

var minimalParams = map[string]map[string]any{
	"get_lead_info":                  {"lead_id": "lead_001"},
	"update_lead_status":             {"lead_id": "lead_002", "status": "contacted"},
	"get_sales_history":              {},
	"concluir_compra":                {},
	"get_products":                   {},
	"get_product_details":            {"product_id": "maquinona_001"},
	"search_products":                {"query": "maquinona"},
	"retorna_preco":                  {},
	"get_conversion_metrics":         {},
	"get_funnel_analytics":           {},
	"track_event":                    {"event_type": "stage_entry"},
	"calcular_preco_personalizado":   {"produto_id": "maquinona_001"},
	"obter_taxas_especiais":          {"produto_id": "maquinona_001"},
	"qualificar_lead":                {},
	"calcular_lead_score":            {},
	"recomendar_produtos":            {},
	"avaliar_fit_produto":            {"produto_id": "maquinona_001"},
	"obter_info_restaurante":         {},
	"analisar_perfil_restaurante":    {},
	"buscar_cliente_ifood":           {},
	"verificar_produtos_contratados": {},
	"buscar_historico_contratos":     {},
	"verificar_renovacoes_pendentes": {},
}

// failingProvider errors on every call but declares the wrapped provider's operations.
type failingProvider struct {
	capability.Provider
	calls int
	mu    sync.Mutex
}

func (f *failingProvider) Call(context.Context, string, map[string]any) (*capability.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return nil, errors.New("provider crashed")
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) ObserveDispatch(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func setupDispatchTest(t *testing.T) (*Dispatcher, *recorder) {
	t.Helper()
	rec := &recorder{}
	d := New(Config{
		Providers: capability.NewRegistry(nil).GetAll(false),
		Observers: []Observer{rec},
	})
	return d, rec
}

func serveProvider(t *testing.T, p capability.Provider) string {
	t.Helper()
	srv := httptest.NewServer(endpoint.NewServer(p, nil))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestDispatch_AllOperationsDirect(t *testing.T) {
	d, rec := setupDispatchTest(t)
	require.Equal(t, len(minimalParams), d.Catalog().Len())

	for _, name := range d.Catalog().Names() {
		t.Run(name, func(t *testing.T) {
			params, ok := minimalParams[name]
			require.True(t, ok)
			res, err := d.Dispatch(context.Background(), Call{Operation: name, Parameters: params})
			require.NoError(t, err)
			assert.True(t, res.Success, "error: %s", res.Error)
			assert.Equal(t, PathDirect, rec.last().Path)
		})
	}
}

func TestDispatch_AllOperationsRemote(t *testing.T) {
	reg := capability.NewRegistry(nil)
	providers := reg.GetAll(false)
	targets := make(map[string]Target, len(providers))
	for name, p := range providers {
		targets[name] = Target{BaseURL: serveProvider(t, p)}
	}

	rec := &recorder{}
	d := New(Config{
		Catalog:   CatalogFromProviders(providers),
		Targets:   targets,
		Observers: []Observer{rec},
	})

	for _, name := range d.Catalog().Names() {
		t.Run(name, func(t *testing.T) {
			res, err := d.Dispatch(context.Background(), Call{Operation: name, Parameters: minimalParams[name]})
			require.NoError(t, err)
			assert.True(t, res.Success, "error: %s", res.Error)
			assert.Equal(t, PathRemote, rec.last().Path)
		})
	}
}

func TestDispatch_UnknownOperation(t *testing.T) {
	d, rec := setupDispatchTest(t)

	_, err := d.Dispatch(context.Background(), Call{Operation: "get_lead"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOperationNotFound))
	assert.False(t, IsTransport(err))
	assert.True(t, IsCallerError(err))
	assert.Contains(t, err.Error(), "Similar: get_lead_info")
	assert.Equal(t, PathNone, rec.last().Path)
	assert.False(t, rec.last().Success)
}

func TestDispatch_CapabilityMismatch(t *testing.T) {
	d, _ := setupDispatchTest(t)

	_, err := d.Dispatch(context.Background(), Call{Capability: "crm", Operation: "get_products"})
	assert.True(t, errors.Is(err, ErrOperationNotFound))
}

func TestDispatch_FallsBackWhenDirectFails(t *testing.T) {
	catalog := capability.NewCatalog(capability.Options{})
	broken := &failingProvider{Provider: catalog}
	rec := &recorder{}
	d := New(Config{
		Providers: map[string]capability.Provider{"catalog": broken},
		Targets:   map[string]Target{"catalog": {BaseURL: serveProvider(t, catalog)}},
		Observers: []Observer{rec},
	})

	res, err := d.Dispatch(context.Background(), Call{Operation: "get_product_details", Parameters: map[string]any{"product_id": "maquinona_001"}})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, broken.calls)
	assert.Equal(t, PathRemote, rec.last().Path)
	assert.Equal(t, "catalog", rec.last().Capability)
}

func TestDispatch_DirectFailureWithoutTarget(t *testing.T) {
	broken := &failingProvider{Provider: capability.NewCatalog(capability.Options{})}
	d := New(Config{Providers: map[string]capability.Provider{"catalog": broken}})

	_, err := d.Dispatch(context.Background(), Call{Operation: "get_products"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider crashed")
}

func TestDispatch_NoRoute(t *testing.T) {
	catalog, err := NewCatalog(OperationConfig{Name: "ping", Capability: "nowhere"})
	require.NoError(t, err)
	d := New(Config{Catalog: catalog})

	_, err = d.Dispatch(context.Background(), Call{Operation: "ping"})
	assert.True(t, errors.Is(err, ErrNoRoute))
}

func TestDispatch_MergesDefaults(t *testing.T) {
	catalog, err := NewCatalog(OperationConfig{
		Name:       "search_products",
		Capability: "catalog",
		Defaults:   map[string]any{"query": "cardapio"},
	})
	require.NoError(t, err)
	d := New(Config{
		Catalog:   catalog,
		Providers: map[string]capability.Provider{"catalog": capability.NewCatalog(capability.Options{})},
	})

	res, err := d.Dispatch(context.Background(), Call{Operation: "search_products"})
	require.NoError(t, err)
	assert.True(t, res.Success)

	// Caller parameters win over declared defaults.
	res, err = d.Dispatch(context.Background(), Call{Operation: "search_products", Parameters: map[string]any{"query": "maquinona"}})
	require.NoError(t, err)
	q, _ := res.Get("query")
	assert.Equal(t, "maquinona", q)
}

func TestDispatch_TransportErrorKinds(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(slow.Close)

	unavailable := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"down for maintenance"}`))
	}))
	t.Cleanup(unavailable.Close)

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	t.Cleanup(garbage.Close)

	tests := []struct {
		name     string
		url      string
		sentinel error
		kind     Kind
	}{
		{"connection", closedURL, ErrConnectionFailure, KindConnection},
		{"timeout", slow.URL, ErrTimeout, KindTimeout},
		{"bad status", unavailable.URL, ErrBadStatus, KindBadStatus},
		{"malformed", garbage.URL, ErrMalformedResponse, KindMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			catalog, err := NewCatalog(OperationConfig{Name: "get_products", Capability: "catalog"})
			require.NoError(t, err)
			d := New(Config{
				Catalog: catalog,
				Targets: map[string]Target{"catalog": {BaseURL: tt.url}},
				Timeout: 100 * time.Millisecond,
			})

			_, err = d.Dispatch(context.Background(), Call{Operation: "get_products"})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.sentinel), "got %v", err)

			var te *TransportError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tt.kind, te.Kind)
			assert.Equal(t, "get_products", te.Operation)
			assert.Equal(t, 100*time.Millisecond, te.Timeout)
		})
	}
}

func TestDispatch_BadStatusCarriesDetail(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"operation search_products panicked: boom"}`))
	}))
	t.Cleanup(broken.Close)

	d := New(Config{
		Catalog: CatalogFromProviders(map[string]capability.Provider{"catalog": capability.NewCatalog(capability.Options{})}),
		Targets: map[string]Target{"catalog": {BaseURL: broken.URL}},
	})

	_, err := d.Dispatch(context.Background(), Call{Operation: "search_products", Parameters: map[string]any{"query": "x"}})
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusInternalServerError, te.Status)
	assert.Contains(t, te.Detail, "panicked")
	assert.False(t, IsCallerError(err))
}

func TestDispatch_RemoteCallerErrors(t *testing.T) {
	catalogURL := serveProvider(t, capability.NewCatalog(capability.Options{}))
	catalog, err := NewCatalog(
		OperationConfig{Name: "search_products", Capability: "catalog"},
		OperationConfig{Name: "get_producs", Capability: "catalog"},
	)
	require.NoError(t, err)
	d := New(Config{
		Catalog: catalog,
		Targets: map[string]Target{"catalog": {BaseURL: catalogURL}},
	})

	tests := []struct {
		name      string
		operation string
		sentinel  error
		detail    string
	}{
		{"missing parameter", "search_products", capability.ErrMissingParameter, "missing [query]"},
		{"unknown operation", "get_producs", capability.ErrUnknownOperation, "get_producs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Dispatch(context.Background(), Call{Operation: tt.operation})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.sentinel), "got %v", err)
			assert.True(t, IsCallerError(err))
			assert.False(t, IsTransport(err))
			assert.Contains(t, err.Error(), tt.detail)
			assert.Contains(t, err.Error(), catalogURL)
		})
	}
}

func TestDispatch_CallerErrorSurvivesFailedFallback(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	d := New(Config{
		Providers: map[string]capability.Provider{"crm": capability.NewCRM(capability.Options{})},
		Targets:   map[string]Target{"crm": {BaseURL: closedURL}},
	})

	_, err := d.Dispatch(context.Background(), Call{Operation: "update_lead_status", Parameters: map[string]any{"notes": "x"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, capability.ErrMissingParameter))
	assert.True(t, errors.Is(err, ErrConnectionFailure))
	assert.True(t, IsCallerError(err))
}

func TestDispatch_ConversationIDReachesObservers(t *testing.T) {
	d, rec := setupDispatchTest(t)

	ctx := WithConversationID(context.Background(), "conv-1")
	_, err := d.Dispatch(ctx, Call{Operation: "get_products"})
	require.NoError(t, err)
	assert.Equal(t, "conv-1", rec.last().ConversationID)
	assert.True(t, rec.last().Success)
}

func TestDiscoverOperations(t *testing.T) {
	crm := capability.NewCRM(capability.Options{})
	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	d := New(Config{
		Catalog: CatalogFromProviders(map[string]capability.Provider{"crm": crm}),
		Targets: map[string]Target{
			"crm":     {BaseURL: serveProvider(t, crm)},
			"catalog": {BaseURL: closedURL},
		},
	})

	t.Run("remote", func(t *testing.T) {
		names := d.ListOperations(context.Background(), "crm")
		assert.Equal(t, []string{"get_lead_info", "update_lead_status", "get_sales_history", "concluir_compra"}, names)

		specs := d.DiscoverOperations(context.Background(), "crm")
		require.Len(t, specs, 4)
		assert.Equal(t, []string{"lead_id", "status"}, specs[1].Required())
	})

	t.Run("unreachable degrades to empty", func(t *testing.T) {
		assert.Empty(t, d.ListOperations(context.Background(), "catalog"))
		assert.NotNil(t, d.DiscoverOperations(context.Background(), "catalog"))
	})

	t.Run("unknown degrades to empty", func(t *testing.T) {
		assert.Empty(t, d.ListOperations(context.Background(), "nope"))
	})
}

func TestLoadCatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "operations.toml")
	content := `
[[operation]]
name = "search_products"
capability = "catalog"
description = "Search with a default query"
[operation.defaults]
query = "maquinona"

[[operation]]
name = "ping"
capability = "crm"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	file, err := LoadCatalogFile(path)
	require.NoError(t, err)
	require.Equal(t, 2, file.Len())

	op, ok := file.Lookup("search_products")
	require.True(t, ok)
	assert.Equal(t, "maquinona", op.Defaults["query"])

	base := CatalogFromProviders(capability.NewRegistry(nil).GetAll(false))
	merged := base.Overlay(file)
	assert.Equal(t, base.Len()+1, merged.Len())

	ping, ok := merged.Lookup("ping")
	require.True(t, ok)
	assert.Equal(t, "crm", ping.Capability)

	search, _ := merged.Lookup("search_products")
	assert.Equal(t, "Search with a default query", search.Description)
}

func TestNewCatalog_Validation(t *testing.T) {
	_, err := NewCatalog(OperationConfig{Name: "a", Capability: "x"}, OperationConfig{Name: "a", Capability: "y"})
	assert.Error(t, err)

	_, err = NewCatalog(OperationConfig{Name: "a"})
	assert.Error(t, err)
}

func TestCatalogFromProviders_MarksMutating(t *testing.T) {
	c := CatalogFromProviders(capability.NewRegistry(nil).GetAll(false))

	op, _ := c.Lookup("update_lead_status")
	assert.True(t, op.Mutating)
	op, _ = c.Lookup("get_products")
	assert.False(t, op.Mutating)
}
