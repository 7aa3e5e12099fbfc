// ABOUTME: Contract provider: contract history and pending renewals per customer.
// ABOUTME: Only the sample restaurant has contracts; other CNPJs return empty lists.

package capability

import (
	"context"
	"time"
)

type contract struct{}

// NewContract builds the contract provider.
func NewContract(opts Options) Provider {
	c := contract{}
	return newTableProvider("contract", opts, DefaultLatency,
		&Operation{
			Spec: OperationSpec{
				Name:        "buscar_historico_contratos",
				Description: "List historical contracts for a customer",
				Params:      []ParamSpec{param("cnpj", "string", false, "Customer CNPJ")},
			},
			Handler: c.history,
		},
		&Operation{
			Spec: OperationSpec{
				Name:        "verificar_renovacoes_pendentes",
				Description: "List contracts due for renewal in the next N days",
				Params: []ParamSpec{
					param("cnpj", "string", false, "Customer CNPJ"),
					param("dias", "integer", false, "Look-ahead window in days (default 30)"),
				},
			},
			Handler: c.renewals,
		},
	)
}

func (contract) contracts(cnpj string) []map[string]any {
	if cnpj != DefaultCNPJ {
		return nil
	}
	now := time.Now().UTC()
	return []map[string]any{
		{"id": "contrato_001", "produto": "iFood Delivery", "status": "ativo", "vencimento": now.AddDate(0, 0, 20).Format("2006-01-02")},
		{"id": "contrato_000", "produto": "Maquininha legado", "status": "encerrado", "vencimento": now.AddDate(-1, 0, 0).Format("2006-01-02")},
	}
}

func (c contract) history(_ context.Context, params map[string]any) *Result {
	cnpj := cnpjParam(params)
	list := make([]any, 0)
	for _, ct := range c.contracts(cnpj) {
		list = append(list, ct)
	}
	return OK(map[string]any{"cnpj": cnpj, "contratos": list, "count": len(list)})
}

func (c contract) renewals(_ context.Context, params map[string]any) *Result {
	cnpj := cnpjParam(params)
	days := intParam(params, "dias", 30)
	limit := time.Now().UTC().AddDate(0, 0, days).Format("2006-01-02")
	today := time.Now().UTC().Format("2006-01-02")

	pending := make([]any, 0)
	for _, ct := range c.contracts(cnpj) {
		due, _ := ct["vencimento"].(string)
		if ct["status"] == "ativo" && due >= today && due <= limit {
			pending = append(pending, ct)
		}
	}
	return OK(map[string]any{"cnpj": cnpj, "renovacoes": pending, "count": len(pending)})
}
