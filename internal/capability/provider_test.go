// ABOUTME: Tests for provider operations, parameter validation and result encoding.
// ABOUTME: Every declared operation must succeed with its minimal valid parameters.

package capability

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimalParams lists the smallest valid parameter set for each operation.
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

func TestProviders_MinimalParamsSucceed(t *testing.T) {
	reg := NewRegistry(nil)
	ctx := context.Background()

	seen := 0
	for name, p := range reg.GetAll(false) {
		for _, op := range p.Operations() {
			params, ok := minimalParams[op.Name]
			require.True(t, ok, "no minimal params for %s/%s", name, op.Name)

			t.Run(name+"/"+op.Name, func(t *testing.T) {
				res, err := p.Call(ctx, op.Name, params)
				require.NoError(t, err)
				assert.True(t, res.Success, "error: %s", res.Error)
				assert.Empty(t, res.Error)
			})
			seen++
		}
	}
	assert.Equal(t, len(minimalParams), seen)
}

func TestProvider_Call_MissingRequired(t *testing.T) {
	p := NewCRM(Options{})

	_, err := p.Call(context.Background(), "update_lead_status", map[string]any{"notes": "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingParameter))
	assert.Contains(t, err.Error(), "missing [lead_id, status]")
	assert.Contains(t, err.Error(), "provided [notes]")
	assert.Contains(t, err.Error(), "expected [lead_id, status, notes]")
}

func TestProvider_Call_MissingRequired_NoneProvided(t *testing.T) {
	p := NewCatalog(Options{})

	_, err := p.Call(context.Background(), "get_product_details", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provided [none]")
}

func TestProvider_Call_UnknownOperation(t *testing.T) {
	p := NewCRM(Options{})

	t.Run("similar names", func(t *testing.T) {
		_, err := p.Call(context.Background(), "LEAD", nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnknownOperation))
		assert.Contains(t, err.Error(), "Similar: get_lead_info, update_lead_status")
	})

	t.Run("lists available", func(t *testing.T) {
		_, err := p.Call(context.Background(), "xyz", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Available: get_lead_info")
	})
}

func TestUnknownNameMessage(t *testing.T) {
	many := []string{"a1", "a2", "a3", "a4", "a5", "a6", "a7"}
	msg := UnknownNameMessage("a", many)
	assert.Contains(t, msg, "Similar: a1, a2, a3, a4, a5")
	assert.NotContains(t, msg, "a6")

	assert.Contains(t, UnknownNameMessage("zzz", nil), "None available.")
}

func TestProvider_Call_LatencyRespectsContext(t *testing.T) {
	p := NewCRM(Options{SimulateLatency: true, Latency: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Call(ctx, "get_lead_info", map[string]any{"lead_id": "lead_001"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCRM_UpdateThenRead(t *testing.T) {
	p := NewCRM(Options{})
	ctx := context.Background()

	res, err := p.Call(ctx, "update_lead_status", map[string]any{"lead_id": "lead_001", "status": "qualified"})
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = p.Call(ctx, "get_lead_info", map[string]any{"email": "JOHN.DOE@example.com"})
	require.NoError(t, err)
	lead, _ := res.Get("lead")
	assert.Equal(t, "qualified", lead.(map[string]any)["status"])

	res, err = p.Call(ctx, "update_lead_status", map[string]any{"lead_id": "lead_001", "status": "bogus"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "invalid status")
}

func TestResult_JSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(OK(map[string]any{"lead_id": "lead_001"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"lead_id":"lead_001"}`, string(data))

	// An error without success flag decodes as a failure
	var r Result
	require.NoError(t, json.Unmarshal([]byte(`{"error":"Lead not found","lead_id":"x"}`), &r))
	assert.False(t, r.Success)
	assert.Equal(t, "Lead not found", r.Error)
	assert.Equal(t, "x", r.Payload["lead_id"])

	// success=false without an error still carries one
	require.NoError(t, json.Unmarshal([]byte(`{"success":false}`), &r))
	assert.NotEmpty(t, r.Error)
}

func TestOperationSpec_SchemaRoundTrip(t *testing.T) {
	spec := OperationSpec{
		Name:        "get_product_details",
		Description: "details",
		Params:      []ParamSpec{param("product_id", "string", true, "id")},
	}

	data, err := json.Marshal(spec.Schema())
	require.NoError(t, err)
	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))

	back := SpecFromSchema(spec.Name, spec.Description, schema)
	assert.Equal(t, spec, back)
}
