// ABOUTME: Pricing provider: personalised quotes and special card-rate lookups.
// ABOUTME: Discounts scale with restaurant size; rates are fixed tables.

package capability

import (
	"context"
	"math"
)

type pricing struct{}

// NewPricing builds the pricing provider.
func NewPricing(opts Options) Provider {
	p := pricing{}
	return newTableProvider("pricing", opts, DefaultLatency,
		&Operation{
			Spec: OperationSpec{
				Name:        "calcular_preco_personalizado",
				Description: "Compute a personalised price for a restaurant profile",
				Params: []ParamSpec{
					param("produto_id", "string", true, "Product identifier"),
					param("perfil_restaurante", "object", false, "Restaurant profile (porte, faturamento_mensal)"),
					param("configuracoes", "object", false, "Extra configuration"),
				},
			},
			Handler: p.personalised,
		},
		&Operation{
			Spec: OperationSpec{
				Name:        "obter_taxas_especiais",
				Description: "Look up special card rates for a customer",
				Params: []ParamSpec{
					param("cnpj", "string", false, "Customer CNPJ"),
					param("produto_id", "string", true, "Product identifier"),
				},
			},
			Handler: p.specialRates,
		},
	)
}

func (pricing) personalised(_ context.Context, params map[string]any) *Result {
	profile := mapParam(params, "perfil_restaurante")
	size := stringParam(profile, "porte")
	base := floatParam(params, "preco_base", 99.9)

	discount := 0.0
	switch size {
	case "grande":
		discount = 0.15
	case "medio":
		discount = 0.10
	}
	final := math.Round(base*(1-discount)*100) / 100

	return OK(map[string]any{
		"produto_id":  stringParam(params, "produto_id"),
		"preco_base":  base,
		"desconto":    discount,
		"preco_final": final,
		"porte":       size,
		"taxas": map[string]any{
			"credito": 2.99,
			"debito":  1.99,
		},
	})
}

func (pricing) specialRates(_ context.Context, params map[string]any) *Result {
	return OK(map[string]any{
		"cnpj":       stringParam(params, "cnpj"),
		"produto_id": stringParam(params, "produto_id"),
		"taxas_especiais": map[string]any{
			"credito":       2.49,
			"debito":        1.79,
			"vale_refeicao": 1.99,
		},
	})
}
