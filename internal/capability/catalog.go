// ABOUTME: Catalog provider: product listing, details, search, and list prices.
// ABOUTME: Serves a static product set; every read is deterministic.

package capability

import (
	"context"
	"strings"
)

type product struct {
	ID             string
	Name           string
	Description    string
	Category       string
	TargetAudience string
	Price          float64
	Features       []string
	PaymentMethods []string
}

func (p product) toMap() map[string]any {
	return map[string]any{
		"id":              p.ID,
		"name":            p.Name,
		"description":     p.Description,
		"category":        p.Category,
		"target_audience": p.TargetAudience,
		"price":           p.Price,
		"currency":        "BRL",
		"features":        toAnySlice(p.Features),
		"payment_methods": toAnySlice(p.PaymentMethods),
	}
}

var catalogProducts = []product{
	{
		ID:             "maquinona_001",
		Name:           "Maquinona iFood Pago",
		Description:    "Payment terminal with built-in marketing intelligence for restaurants",
		Category:       "Pagamentos e Marketing",
		TargetAudience: "restaurantes",
		Features: []string{
			"Loyalty and cashback campaigns",
			"Sales insights and weekly reports",
			"Competitive special rates",
			"Accepts meal vouchers",
			"Automatic WhatsApp notifications",
		},
		PaymentMethods: []string{"Cartão de Crédito", "Cartão de Débito", "Vale Refeição", "Outros"},
	},
	{
		ID:             "cardapio_001",
		Name:           "Cardápio Digital",
		Description:    "QR-code menu with ordering integrated into the payment terminal",
		Category:       "Gestão",
		TargetAudience: "restaurantes",
		Price:          49.9,
		Features:       []string{"QR-code ordering", "Menu analytics"},
		PaymentMethods: []string{"Cartão de Crédito", "Pix"},
	},
}

type catalog struct{}

// NewCatalog builds the catalog provider.
func NewCatalog(opts Options) Provider {
	c := catalog{}
	return newTableProvider("catalog", opts, DefaultLatency,
		&Operation{
			Spec: OperationSpec{
				Name:        "get_products",
				Description: "List products, optionally filtered by category and audience",
				Params: []ParamSpec{
					param("category", "string", false, "Category filter"),
					param("target_audience", "string", false, "Audience filter"),
					param("limit", "integer", false, "Maximum products (default 100)"),
				},
			},
			Handler: c.getProducts,
		},
		&Operation{
			Spec: OperationSpec{
				Name:        "get_product_details",
				Description: "Get the full record of one product",
				Params:      []ParamSpec{param("product_id", "string", true, "Product identifier")},
			},
			Handler: c.getProductDetails,
		},
		&Operation{
			Spec: OperationSpec{
				Name:        "search_products",
				Description: "Search products by name, description or feature text",
				Params: []ParamSpec{
					param("query", "string", true, "Search text"),
					param("limit", "integer", false, "Maximum products (default 10)"),
				},
			},
			Handler: c.searchProducts,
		},
		&Operation{
			Spec: OperationSpec{
				Name:        "retorna_preco",
				Description: "Return the list price of a product by id or name",
				Params: []ParamSpec{
					param("product_id", "string", false, "Product identifier"),
					param("product_name", "string", false, "Product name"),
				},
			},
			Handler: c.price,
		},
	)
}

func (catalog) getProducts(_ context.Context, params map[string]any) *Result {
	category := stringParam(params, "category")
	audience := stringParam(params, "target_audience")
	limit := intParam(params, "limit", 100)

	out := make([]any, 0, len(catalogProducts))
	for _, p := range catalogProducts {
		if category != "" && !strings.EqualFold(p.Category, category) {
			continue
		}
		if audience != "" && !strings.EqualFold(p.TargetAudience, audience) {
			continue
		}
		if len(out) >= limit {
			break
		}
		out = append(out, p.toMap())
	}
	return OK(map[string]any{"count": len(out), "products": out})
}

func findProduct(id, name string) (product, bool) {
	for _, p := range catalogProducts {
		if id != "" && p.ID == id {
			return p, true
		}
		if id == "" && name != "" && strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return product{}, false
}

func (catalog) getProductDetails(_ context.Context, params map[string]any) *Result {
	id := stringParam(params, "product_id")
	p, ok := findProduct(id, "")
	if !ok {
		return Fail("product not found", map[string]any{"product_id": id})
	}
	return OK(map[string]any{"product": p.toMap()})
}

func (catalog) searchProducts(_ context.Context, params map[string]any) *Result {
	q := strings.ToLower(stringParam(params, "query"))
	limit := intParam(params, "limit", 10)

	out := make([]any, 0)
	for _, p := range catalogProducts {
		haystack := strings.ToLower(p.Name + " " + p.Description + " " + strings.Join(p.Features, " "))
		if !strings.Contains(haystack, q) {
			continue
		}
		if len(out) >= limit {
			break
		}
		out = append(out, p.toMap())
	}
	return OK(map[string]any{"query": q, "count": len(out), "products": out})
}

func (catalog) price(_ context.Context, params map[string]any) *Result {
	id, name := stringParam(params, "product_id"), stringParam(params, "product_name")
	if id == "" && name == "" {
		id = catalogProducts[0].ID
	}
	p, ok := findProduct(id, name)
	if !ok {
		return Fail("product not found", map[string]any{"product_id": id, "product_name": name})
	}
	return OK(map[string]any{
		"product_id":   p.ID,
		"product_name": p.Name,
		"price":        p.Price,
		"currency":     "BRL",
		"rates": map[string]any{
			"credit": 2.99,
			"debit":  1.99,
		},
	})
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
