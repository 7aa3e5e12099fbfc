// ABOUTME: Restaurant and iFood providers: restaurant profile lookups and iFood customer records.
// ABOUTME: Both key their records by CNPJ and share the same sample restaurant.

package capability

import (
	"context"
	"strings"
)

// DefaultCNPJ identifies the sample restaurant used when no CNPJ is given.
const DefaultCNPJ = "12345678000190"

var sampleRestaurant = map[string]any{
	"cnpj":               DefaultCNPJ,
	"nome":               "Restaurante Sabor Caseiro",
	"cidade":             "São Paulo",
	"estado":             "SP",
	"mesas":              24,
	"faturamento_mensal": 180000.0,
	"segmento":           "comida brasileira",
}

func cnpjParam(params map[string]any) string {
	c := strings.NewReplacer(".", "", "/", "", "-", "").Replace(stringParam(params, "cnpj"))
	if c == "" {
		return DefaultCNPJ
	}
	return c
}

type restaurant struct{}

// NewRestaurant builds the restaurant provider.
func NewRestaurant(opts Options) Provider {
	r := restaurant{}
	return newTableProvider("restaurant", opts, DefaultLatency,
		&Operation{
			Spec: OperationSpec{
				Name:        "obter_info_restaurante",
				Description: "Get restaurant registration data by CNPJ",
				Params:      []ParamSpec{param("cnpj", "string", false, "Restaurant CNPJ")},
			},
			Handler: r.info,
		},
		&Operation{
			Spec: OperationSpec{
				Name:        "analisar_perfil_restaurante",
				Description: "Classify the restaurant's size and profile",
				Params:      []ParamSpec{param("cnpj", "string", false, "Restaurant CNPJ")},
			},
			Handler: r.profile,
		},
	)
}

func (restaurant) info(_ context.Context, params map[string]any) *Result {
	cnpj := cnpjParam(params)
	if cnpj != DefaultCNPJ {
		return Fail("restaurant not found", map[string]any{"cnpj": cnpj})
	}
	return OK(map[string]any{"restaurante": sampleRestaurant})
}

func (restaurant) profile(_ context.Context, params map[string]any) *Result {
	cnpj := cnpjParam(params)
	if cnpj != DefaultCNPJ {
		return Fail("restaurant not found", map[string]any{"cnpj": cnpj})
	}
	revenue, _ := sampleRestaurant["faturamento_mensal"].(float64)
	size := "pequeno"
	switch {
	case revenue >= 150000:
		size = "grande"
	case revenue >= 50000:
		size = "medio"
	}
	return OK(map[string]any{
		"cnpj":  cnpj,
		"porte": size,
		"perfil": map[string]any{
			"mesas":              sampleRestaurant["mesas"],
			"faturamento_mensal": revenue,
			"segmento":           sampleRestaurant["segmento"],
		},
	})
}

type ifood struct{}

// NewIFood builds the iFood provider.
func NewIFood(opts Options) Provider {
	f := ifood{}
	return newTableProvider("ifood", opts, DefaultLatency,
		&Operation{
			Spec: OperationSpec{
				Name:        "buscar_cliente_ifood",
				Description: "Look up the iFood merchant record for a CNPJ",
				Params:      []ParamSpec{param("cnpj", "string", false, "Merchant CNPJ")},
			},
			Handler: f.customer,
		},
		&Operation{
			Spec: OperationSpec{
				Name:        "verificar_produtos_contratados",
				Description: "List iFood products already contracted by the merchant",
				Params:      []ParamSpec{param("cnpj", "string", false, "Merchant CNPJ")},
			},
			Handler: f.contracted,
		},
	)
}

func (ifood) customer(_ context.Context, params map[string]any) *Result {
	cnpj := cnpjParam(params)
	if cnpj != DefaultCNPJ {
		return OK(map[string]any{"cnpj": cnpj, "cliente_ifood": false})
	}
	return OK(map[string]any{
		"cnpj":          cnpj,
		"cliente_ifood": true,
		"merchant_id":   "merchant_001",
		"avaliacao":     4.7,
		"pedidos_mes":   1350,
	})
}

func (ifood) contracted(_ context.Context, params map[string]any) *Result {
	cnpj := cnpjParam(params)
	products := []any{}
	if cnpj == DefaultCNPJ {
		products = append(products, map[string]any{"produto": "iFood Delivery", "desde": "2022-03-01"})
	}
	return OK(map[string]any{"cnpj": cnpj, "produtos": products, "count": len(products)})
}
