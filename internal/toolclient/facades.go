// ABOUTME: Typed facades over the cached client for the CRM, catalog and analytics capabilities.
// ABOUTME: Each method maps its arguments onto one operation's parameters.

package toolclient

import (
	"context"

	"github.com/2389/funnel-gateway/internal/capability"
)

// CRMClient exposes the CRM operations.
type CRMClient struct{ c *Client }

// CRM returns the CRM facade.
func (c *Client) CRM() CRMClient { return CRMClient{c: c} }

// LeadInfo looks a lead up by id.
func (f CRMClient) LeadInfo(ctx context.Context, leadID string) (*capability.Result, error) {
	return f.c.Call(ctx, "get_lead_info", map[string]any{"lead_id": leadID})
}

// LeadByEmail looks a lead up by email.
func (f CRMClient) LeadByEmail(ctx context.Context, email string) (*capability.Result, error) {
	return f.c.Call(ctx, "get_lead_info", map[string]any{"email": email})
}

// UpdateLeadStatus sets a lead's status. notes may be empty.
func (f CRMClient) UpdateLeadStatus(ctx context.Context, leadID, status, notes string) (*capability.Result, error) {
	params := map[string]any{"lead_id": leadID, "status": status}
	if notes != "" {
		params["notes"] = notes
	}
	return f.c.Call(ctx, "update_lead_status", params)
}

// SalesHistory lists sales, optionally filtered by lead. limit <= 0 uses the provider default.
func (f CRMClient) SalesHistory(ctx context.Context, leadID string, limit int) (*capability.Result, error) {
	params := map[string]any{}
	if leadID != "" {
		params["lead_id"] = leadID
	}
	if limit > 0 {
		params["limit"] = limit
	}
	return f.c.Call(ctx, "get_sales_history", params)
}

// Purchase describes a completed purchase.
type Purchase struct {
	LeadID        string
	ProductID     string
	ProductName   string
	CustomerName  string
	CustomerEmail string
}

func (p Purchase) params() map[string]any {
	out := map[string]any{}
	set := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	set("lead_id", p.LeadID)
	set("product_id", p.ProductID)
	set("product_name", p.ProductName)
	set("customer_name", p.CustomerName)
	set("customer_email", p.CustomerEmail)
	return out
}

// CompletePurchase records a purchase, creating the lead if needed.
func (f CRMClient) CompletePurchase(ctx context.Context, p Purchase) (*capability.Result, error) {
	return f.c.Call(ctx, "concluir_compra", p.params())
}

// CatalogClient exposes the product catalog operations.
type CatalogClient struct{ c *Client }

// Catalog returns the catalog facade.
func (c *Client) Catalog() CatalogClient { return CatalogClient{c: c} }

// Products lists products. Empty filters are omitted.
func (f CatalogClient) Products(ctx context.Context, category, audience string) (*capability.Result, error) {
	params := map[string]any{}
	if category != "" {
		params["category"] = category
	}
	if audience != "" {
		params["target_audience"] = audience
	}
	return f.c.Call(ctx, "get_products", params)
}

// ProductDetails returns one product.
func (f CatalogClient) ProductDetails(ctx context.Context, productID string) (*capability.Result, error) {
	return f.c.Call(ctx, "get_product_details", map[string]any{"product_id": productID})
}

// Search runs a free-text product search.
func (f CatalogClient) Search(ctx context.Context, query string) (*capability.Result, error) {
	return f.c.Call(ctx, "search_products", map[string]any{"query": query})
}

// Price returns pricing for a product.
func (f CatalogClient) Price(ctx context.Context, productID string) (*capability.Result, error) {
	params := map[string]any{}
	if productID != "" {
		params["product_id"] = productID
	}
	return f.c.Call(ctx, "retorna_preco", params)
}

// AnalyticsClient exposes the funnel analytics operations.
type AnalyticsClient struct{ c *Client }

// Analytics returns the analytics facade.
func (c *Client) Analytics() AnalyticsClient { return AnalyticsClient{c: c} }

// ConversionMetrics returns conversion metrics, optionally for one stage.
func (f AnalyticsClient) ConversionMetrics(ctx context.Context, stage string) (*capability.Result, error) {
	params := map[string]any{}
	if stage != "" {
		params["stage"] = stage
	}
	return f.c.Call(ctx, "get_conversion_metrics", params)
}

// FunnelAnalytics returns the funnel breakdown.
func (f AnalyticsClient) FunnelAnalytics(ctx context.Context) (*capability.Result, error) {
	return f.c.Call(ctx, "get_funnel_analytics", map[string]any{})
}

// TrackEvent records an analytics event.
func (f AnalyticsClient) TrackEvent(ctx context.Context, eventType, leadID, stage string, metadata map[string]any) (*capability.Result, error) {
	params := map[string]any{"event_type": eventType}
	if leadID != "" {
		params["lead_id"] = leadID
	}
	if stage != "" {
		params["stage"] = stage
	}
	if metadata != nil {
		params["metadata"] = metadata
	}
	return f.c.Call(ctx, "track_event", params)
}
