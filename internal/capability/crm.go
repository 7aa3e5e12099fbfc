// ABOUTME: CRM provider: lead lookup, lead status updates, sales history, and purchase completion.
// ABOUTME: Holds an in-memory lead book and sales ledger seeded with sample records.

package capability

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CRMLatency is the simulated latency of the CRM provider.
const CRMLatency = 150 * time.Millisecond

// Lead statuses accepted by update_lead_status.
var leadStatuses = map[string]bool{
	"new":          true,
	"contacted":    true,
	"qualified":    true,
	"presentation": true,
	"negotiation":  true,
	"closed_won":   true,
	"closed_lost":  true,
	"nurturing":    true,
}

type lead struct {
	ID        string
	Email     string
	Name      string
	Company   string
	Phone     string
	Status    string
	Source    string
	Notes     string
	UpdatedAt time.Time
}

func (l *lead) toMap() map[string]any {
	return map[string]any{
		"id":         l.ID,
		"email":      l.Email,
		"name":       l.Name,
		"company":    l.Company,
		"phone":      l.Phone,
		"status":     l.Status,
		"source":     l.Source,
		"notes":      l.Notes,
		"updated_at": l.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type crm struct {
	mu    sync.Mutex
	leads map[string]*lead
	sales []map[string]any
}

// NewCRM builds the CRM provider.
func NewCRM(opts Options) Provider {
	c := &crm{leads: make(map[string]*lead)}
	c.seed()
	return newTableProvider("crm", opts, CRMLatency,
		&Operation{
			Spec: OperationSpec{
				Name:        "get_lead_info",
				Description: "Get lead information by lead_id or email",
				Params: []ParamSpec{
					param("lead_id", "string", false, "Lead identifier"),
					param("email", "string", false, "Lead email"),
				},
			},
			Handler: c.getLeadInfo,
		},
		&Operation{
			Spec: OperationSpec{
				Name:        "update_lead_status",
				Description: "Update a lead's funnel status",
				Params: []ParamSpec{
					param("lead_id", "string", true, "Lead identifier"),
					param("status", "string", true, "New status"),
					param("notes", "string", false, "Notes appended to the lead"),
				},
			},
			Handler: c.updateLeadStatus,
		},
		&Operation{
			Spec: OperationSpec{
				Name:        "get_sales_history",
				Description: "List closed sales, optionally for one lead",
				Params: []ParamSpec{
					param("lead_id", "string", false, "Filter by lead"),
					param("limit", "integer", false, "Maximum records (default 10)"),
				},
			},
			Handler: c.getSalesHistory,
		},
		&Operation{
			Spec: OperationSpec{
				Name:        "concluir_compra",
				Description: "Complete a purchase and mark the lead as closed_won",
				Params: []ParamSpec{
					param("lead_id", "string", false, "Lead identifier"),
					param("product_id", "string", false, "Product identifier"),
					param("product_name", "string", false, "Product name"),
					param("customer_name", "string", false, "Customer name"),
					param("customer_email", "string", false, "Customer email"),
				},
			},
			Handler: c.completePurchase,
		},
	)
}

func (c *crm) seed() {
	now := time.Now().UTC()
	for _, l := range []*lead{
		{ID: "lead_001", Email: "john.doe@example.com", Name: "John Doe", Company: "Acme Corp", Phone: "+1-555-0101", Status: "new", Source: "website"},
		{ID: "lead_002", Email: "jane.smith@example.com", Name: "Jane Smith", Company: "TechStart Inc", Phone: "+1-555-0102", Status: "qualified", Source: "referral"},
		{ID: "lead_003", Email: "bob.wilson@example.com", Name: "Bob Wilson", Company: "Global Solutions", Phone: "+1-555-0103", Status: "presentation", Source: "event"},
	} {
		l.UpdatedAt = now
		c.leads[l.ID] = l
	}
	c.sales = []map[string]any{
		{"id": "sale_001", "lead_id": "lead_001", "product_id": "prod_001", "amount": 5000.0, "status": "closed_won", "closed_at": now.AddDate(0, 0, -30).Format(time.RFC3339)},
		{"id": "sale_002", "lead_id": "lead_002", "product_id": "prod_002", "amount": 12000.0, "status": "closed_won", "closed_at": now.AddDate(0, 0, -15).Format(time.RFC3339)},
	}
}

func (c *crm) findByEmail(email string) *lead {
	for _, l := range c.leads {
		if strings.EqualFold(l.Email, email) {
			return l
		}
	}
	return nil
}

func (c *crm) getLeadInfo(_ context.Context, params map[string]any) *Result {
	id, email := stringParam(params, "lead_id"), stringParam(params, "email")
	if id == "" && email == "" {
		return Fail("lead_id or email is required", map[string]any{"hint": "provide at least one of: lead_id, email"})
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var l *lead
	if id != "" {
		l = c.leads[id]
	} else {
		l = c.findByEmail(email)
	}
	if l == nil {
		return Fail("lead not found", map[string]any{"lead_id": id, "email": email})
	}
	return OK(map[string]any{"lead": l.toMap()})
}

func (c *crm) updateLeadStatus(_ context.Context, params map[string]any) *Result {
	id, status := stringParam(params, "lead_id"), stringParam(params, "status")
	if !leadStatuses[status] {
		return Fail("invalid status: "+status, map[string]any{"lead_id": id})
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.leads[id]
	if !ok {
		return Fail("lead not found", map[string]any{"lead_id": id})
	}
	l.Status = status
	if notes := stringParam(params, "notes"); notes != "" {
		if l.Notes != "" {
			l.Notes += "\n"
		}
		l.Notes += notes
	}
	l.UpdatedAt = time.Now().UTC()
	return OK(map[string]any{
		"lead_id":    id,
		"new_status": status,
		"updated_at": l.UpdatedAt.Format(time.RFC3339),
	})
}

func (c *crm) getSalesHistory(_ context.Context, params map[string]any) *Result {
	id := stringParam(params, "lead_id")
	limit := intParam(params, "limit", 10)

	c.mu.Lock()
	defer c.mu.Unlock()

	sales := make([]any, 0, len(c.sales))
	for _, s := range c.sales {
		if id != "" && s["lead_id"] != id {
			continue
		}
		if len(sales) >= limit {
			break
		}
		sales = append(sales, s)
	}
	return OK(map[string]any{"count": len(sales), "sales": sales})
}

func (c *crm) completePurchase(_ context.Context, params map[string]any) *Result {
	id := stringParam(params, "lead_id")
	email := stringParam(params, "customer_email")
	name := stringParam(params, "customer_name")
	now := time.Now().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()

	var l *lead
	switch {
	case id != "":
		l = c.leads[id]
	case email != "":
		l = c.findByEmail(email)
	}
	if l == nil {
		if id == "" {
			id = "lead_" + shortID()
		}
		l = &lead{ID: id, Email: email, Name: name}
		c.leads[id] = l
	}
	l.Status = "closed_won"
	l.UpdatedAt = now

	productID := stringParam(params, "product_id")
	if productID == "" {
		productID = "prod_001"
	}
	productName := stringParam(params, "product_name")
	if productName == "" {
		productName = "Produto"
	}

	compraID := "compra_" + shortID()
	c.sales = append(c.sales, map[string]any{
		"id":           compraID,
		"lead_id":      l.ID,
		"product_id":   productID,
		"product_name": productName,
		"amount":       0.0,
		"status":       "closed_won",
		"closed_at":    now.Format(time.RFC3339),
	})

	return OK(map[string]any{
		"compra_id":    compraID,
		"lead_id":      l.ID,
		"product_id":   productID,
		"product_name": productName,
		"status":       "closed_won",
		"closed_at":    now.Format(time.RFC3339),
	})
}

func shortID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}
