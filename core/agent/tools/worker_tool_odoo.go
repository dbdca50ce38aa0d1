package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"jenn_worker/core/domain"
	"jenn_worker/core/port/out"
)

// NewOdooTools returns the Odoo tool set bound to one client.
func NewOdooTools(client out.OdooClient) []Tool {
	return []Tool{
		&OdooPartnerSearchTool{client: client},
		&OdooCRMLeadCreateTool{client: client},
		&OdooSaleOrderSearchTool{client: client},
		&OdooInvoiceCreateTool{client: client},
	}
}

// =============================================================================
// odoo_partner_search
// =============================================================================

type OdooPartnerSearchTool struct {
	client out.OdooClient
}

func (t *OdooPartnerSearchTool) Name() string           { return "odoo_partner_search" }
func (t *OdooPartnerSearchTool) Category() ToolCategory { return CategoryOdoo }
func (t *OdooPartnerSearchTool) Access() ToolAccess     { return AccessRead }

func (t *OdooPartnerSearchTool) Description() string {
	return "Search Odoo contacts/companies (res.partner) by email or name."
}

func (t *OdooPartnerSearchTool) Parameters() []ParameterSpec {
	return []ParameterSpec{
		{Name: "query", Type: "string", Description: "Email address or part of the name", Required: true},
		{Name: "limit", Type: "integer", Description: "Maximum partners to return", Default: 10},
	}
}

func (t *OdooPartnerSearchTool) Execute(ctx context.Context, _ domain.AccountRef, args map[string]any) (*ToolResult, error) {
	query := strings.TrimSpace(getStringArg(args, "query", ""))
	if query == "" {
		return failed(errors.New("query is empty")), nil
	}

	rows, err := t.client.SearchRead(ctx, "res.partner",
		[]any{"|", []any{"email", "ilike", query}, []any{"name", "ilike", query}},
		[]string{"id", "name", "email", "phone", "is_company"},
		clampLimit(getIntArg(args, "limit", 10), 50))
	if err != nil {
		return failed(err), nil
	}
	return &ToolResult{Success: true, Data: rows, Message: fmt.Sprintf("Found %d partners", len(rows))}, nil
}

// =============================================================================
// odoo_crm_lead_create
// =============================================================================

type OdooCRMLeadCreateTool struct {
	client out.OdooClient
}

func (t *OdooCRMLeadCreateTool) Name() string           { return "odoo_crm_lead_create" }
func (t *OdooCRMLeadCreateTool) Category() ToolCategory { return CategoryOdoo }
func (t *OdooCRMLeadCreateTool) Access() ToolAccess     { return AccessWrite }

func (t *OdooCRMLeadCreateTool) Description() string {
	return "Create a CRM lead in Odoo. Only use when the email clearly is a new sales opportunity."
}

func (t *OdooCRMLeadCreateTool) Parameters() []ParameterSpec {
	return []ParameterSpec{
		{Name: "name", Type: "string", Description: "Lead title", Required: true},
		{Name: "email_from", Type: "string", Description: "Contact email"},
		{Name: "partner_name", Type: "string", Description: "Company name"},
		{Name: "description", Type: "string", Description: "Notes, usually a summary of the email"},
	}
}

func (t *OdooCRMLeadCreateTool) Execute(ctx context.Context, _ domain.AccountRef, args map[string]any) (*ToolResult, error) {
	values := map[string]any{"name": getStringArg(args, "name", "")}
	for _, k := range []string{"email_from", "partner_name", "description"} {
		if v := getStringArg(args, k, ""); v != "" {
			values[k] = v
		}
	}

	id, err := t.client.Create(ctx, "crm.lead", values)
	if err != nil {
		return failed(err), nil
	}
	return &ToolResult{Success: true, Data: map[string]any{"lead_id": id}, Message: "Lead created"}, nil
}

// =============================================================================
// odoo_sale_order_search
// =============================================================================

type OdooSaleOrderSearchTool struct {
	client out.OdooClient
}

func (t *OdooSaleOrderSearchTool) Name() string           { return "odoo_sale_order_search" }
func (t *OdooSaleOrderSearchTool) Category() ToolCategory { return CategoryOdoo }
func (t *OdooSaleOrderSearchTool) Access() ToolAccess     { return AccessRead }

func (t *OdooSaleOrderSearchTool) Description() string {
	return "Search Odoo sale orders by order name, customer reference or partner."
}

func (t *OdooSaleOrderSearchTool) Parameters() []ParameterSpec {
	return []ParameterSpec{
		{Name: "reference", Type: "string", Description: "Order name (S00042) or customer reference"},
		{Name: "partner_id", Type: "integer", Description: "Odoo partner id"},
		{Name: "limit", Type: "integer", Description: "Maximum orders to return", Default: 10},
	}
}

func (t *OdooSaleOrderSearchTool) Execute(ctx context.Context, _ domain.AccountRef, args map[string]any) (*ToolResult, error) {
	filter := []any{}
	if ref := getStringArg(args, "reference", ""); ref != "" {
		filter = append(filter, "|", []any{"name", "ilike", ref}, []any{"client_order_ref", "=", ref})
	}
	if pid := getInt64Arg(args, "partner_id"); pid > 0 {
		filter = append(filter, []any{"partner_id", "=", pid})
	}

	rows, err := t.client.SearchRead(ctx, "sale.order", filter,
		[]string{"id", "name", "client_order_ref", "partner_id", "amount_total", "state", "date_order"},
		clampLimit(getIntArg(args, "limit", 10), 50))
	if err != nil {
		return failed(err), nil
	}
	return &ToolResult{Success: true, Data: rows, Message: fmt.Sprintf("Found %d orders", len(rows))}, nil
}

// =============================================================================
// odoo_invoice_create
// =============================================================================

type OdooInvoiceCreateTool struct {
	client out.OdooClient
}

type invoiceLine struct {
	Name      string  `json:"name"`
	Quantity  float64 `json:"quantity"`
	UnitPrice float64 `json:"price_unit"`
}

func (t *OdooInvoiceCreateTool) Name() string           { return "odoo_invoice_create" }
func (t *OdooInvoiceCreateTool) Category() ToolCategory { return CategoryOdoo }
func (t *OdooInvoiceCreateTool) Access() ToolAccess     { return AccessWrite }

func (t *OdooInvoiceCreateTool) Description() string {
	return "Create a customer invoice in Odoo. Only use when the email explicitly asks for an invoice."
}

func (t *OdooInvoiceCreateTool) Parameters() []ParameterSpec {
	return []ParameterSpec{
		{Name: "partner_id", Type: "integer", Description: "Odoo partner id of the customer", Required: true},
		{Name: "lines_json", Type: "string", Description: `JSON array of lines: [{"name":"...","quantity":1,"price_unit":10.0}]`, Required: true},
		{Name: "post", Type: "boolean", Description: "Post (validate) the invoice after creating it", Default: false},
	}
}

func (t *OdooInvoiceCreateTool) Execute(ctx context.Context, _ domain.AccountRef, args map[string]any) (*ToolResult, error) {
	partnerID := getInt64Arg(args, "partner_id")
	if partnerID <= 0 {
		return failed(errors.New("partner_id must be a positive id")), nil
	}

	var lines []invoiceLine
	if err := json.Unmarshal([]byte(getStringArg(args, "lines_json", "")), &lines); err != nil {
		return failed(fmt.Errorf("lines_json: %w", err)), nil
	}
	if len(lines) == 0 {
		return failed(errors.New("lines_json has no lines")), nil
	}

	commands := make([]any, 0, len(lines))
	for _, l := range lines {
		if l.Quantity == 0 {
			l.Quantity = 1
		}
		commands = append(commands, []any{0, 0, map[string]any{
			"name":       l.Name,
			"quantity":   l.Quantity,
			"price_unit": l.UnitPrice,
		}})
	}

	id, err := t.client.Create(ctx, "account.move", map[string]any{
		"move_type":        "out_invoice",
		"partner_id":       partnerID,
		"invoice_line_ids": commands,
	})
	if err != nil {
		return failed(err), nil
	}

	data := map[string]any{"invoice_id": id, "posted": false}
	if getBoolArg(args, "post", false) {
		if _, err := t.client.Call(ctx, "account.move", "action_post", []any{[]any{id}}, nil); err != nil {
			return &ToolResult{Success: true, Data: data, Message: "Invoice created as draft; posting failed: " + err.Error()}, nil
		}
		data["posted"] = true
	}
	return &ToolResult{Success: true, Data: data, Message: "Invoice created"}, nil
}
