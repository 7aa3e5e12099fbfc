// ABOUTME: Recommendation provider: product suggestions and product-fit evaluation.
// ABOUTME: Recommendations are drawn from the catalog product set in catalog order.

package capability

import "context"

type recommendation struct{}

// NewRecommendation builds the recommendation provider.
func NewRecommendation(opts Options) Provider {
	r := recommendation{}
	return newTableProvider("recommendation", opts, DefaultLatency,
		&Operation{
			Spec: OperationSpec{
				Name:        "recomendar_produtos",
				Description: "Recommend products for a restaurant profile",
				Params: []ParamSpec{
					param("perfil_restaurante", "object", false, "Restaurant profile"),
					param("limit", "integer", false, "Maximum recommendations (default 3)"),
				},
			},
			Handler: r.recommend,
		},
		&Operation{
			Spec: OperationSpec{
				Name:        "avaliar_fit_produto",
				Description: "Evaluate how well a product fits a restaurant",
				Params: []ParamSpec{
					param("produto_id", "string", true, "Product identifier"),
					param("perfil_restaurante", "object", false, "Restaurant profile"),
				},
			},
			Handler: r.fit,
		},
	)
}

func (recommendation) recommend(_ context.Context, params map[string]any) *Result {
	limit := intParam(params, "limit", 3)
	out := make([]any, 0, limit)
	for i, p := range catalogProducts {
		if i >= limit {
			break
		}
		out = append(out, map[string]any{
			"produto_id": p.ID,
			"nome":       p.Name,
			"relevancia": 1.0 - float64(i)*0.2,
		})
	}
	return OK(map[string]any{"recomendacoes": out, "count": len(out)})
}

func (recommendation) fit(_ context.Context, params map[string]any) *Result {
	id := stringParam(params, "produto_id")
	if _, ok := findProduct(id, ""); !ok {
		return Fail("product not found", map[string]any{"produto_id": id})
	}
	profile := mapParam(params, "perfil_restaurante")
	score := 0.7
	if intParam(profile, "mesas", 0) >= 10 {
		score = 0.9
	}
	return OK(map[string]any{
		"produto_id": id,
		"fit_score":  score,
		"adequado":   score >= 0.7,
	})
}
