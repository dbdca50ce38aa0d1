package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"jenn_worker/core/domain"
	"jenn_worker/core/port/out"
)

// NewQuickBooksTools returns the QuickBooks Online tool set bound to one client.
func NewQuickBooksTools(client out.QuickBooksClient) []Tool {
	return []Tool{
		&QuickBooksCustomerSearchTool{client: client},
		&QuickBooksInvoiceSearchTool{client: client},
	}
}

// qbQuote escapes a value for a QuickBooks query string literal.
func qbQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

type QuickBooksCustomerSearchTool struct {
	client out.QuickBooksClient
}

func (t *QuickBooksCustomerSearchTool) Name() string           { return "quickbooks_customer_search" }
func (t *QuickBooksCustomerSearchTool) Category() ToolCategory { return CategoryQuickBooks }
func (t *QuickBooksCustomerSearchTool) Access() ToolAccess     { return AccessRead }

func (t *QuickBooksCustomerSearchTool) Description() string {
	return "Search QuickBooks customers by display name or primary email."
}

func (t *QuickBooksCustomerSearchTool) Parameters() []ParameterSpec {
	return []ParameterSpec{
		{Name: "name", Type: "string", Description: "Part of the customer display name"},
		{Name: "email", Type: "string", Description: "Exact primary email address"},
		{Name: "limit", Type: "integer", Description: "Maximum customers to return", Default: 10},
	}
}

func (t *QuickBooksCustomerSearchTool) Execute(ctx context.Context, _ domain.AccountRef, args map[string]any) (*ToolResult, error) {
	var where string
	switch name, email := strings.TrimSpace(getStringArg(args, "name", "")), strings.TrimSpace(getStringArg(args, "email", "")); {
	case email != "":
		where = "PrimaryEmailAddr = " + qbQuote(email)
	case name != "":
		where = "DisplayName LIKE " + qbQuote("%"+name+"%")
	default:
		return failed(errors.New("name or email is required")), nil
	}

	q := fmt.Sprintf("SELECT * FROM Customer WHERE %s MAXRESULTS %d", where, clampLimit(getIntArg(args, "limit", 10), 100))
	resp, err := t.client.Query(ctx, q)
	if err != nil {
		return failed(err), nil
	}
	return &ToolResult{Success: true, Data: resp["Customer"]}, nil
}

type QuickBooksInvoiceSearchTool struct {
	client out.QuickBooksClient
}

func (t *QuickBooksInvoiceSearchTool) Name() string           { return "quickbooks_invoice_search" }
func (t *QuickBooksInvoiceSearchTool) Category() ToolCategory { return CategoryQuickBooks }
func (t *QuickBooksInvoiceSearchTool) Access() ToolAccess     { return AccessRead }

func (t *QuickBooksInvoiceSearchTool) Description() string {
	return "Search QuickBooks invoices by document number or customer id, newest first."
}

func (t *QuickBooksInvoiceSearchTool) Parameters() []ParameterSpec {
	return []ParameterSpec{
		{Name: "doc_number", Type: "string", Description: "Invoice number"},
		{Name: "customer_id", Type: "string", Description: "QuickBooks customer id"},
		{Name: "limit", Type: "integer", Description: "Maximum invoices to return", Default: 10},
	}
}

func (t *QuickBooksInvoiceSearchTool) Execute(ctx context.Context, _ domain.AccountRef, args map[string]any) (*ToolResult, error) {
	var conds []string
	if doc := strings.TrimSpace(getStringArg(args, "doc_number", "")); doc != "" {
		conds = append(conds, "DocNumber = "+qbQuote(doc))
	}
	if cid := strings.TrimSpace(getStringArg(args, "customer_id", "")); cid != "" {
		conds = append(conds, "CustomerRef = "+qbQuote(cid))
	}

	q := "SELECT * FROM Invoice"
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += fmt.Sprintf(" ORDERBY TxnDate DESC MAXRESULTS %d", clampLimit(getIntArg(args, "limit", 10), 100))

	resp, err := t.client.Query(ctx, q)
	if err != nil {
		return failed(err), nil
	}
	return &ToolResult{Success: true, Data: resp["Invoice"]}, nil
}
