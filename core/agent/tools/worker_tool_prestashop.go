package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"jenn_worker/core/domain"
	"jenn_worker/core/port/out"
)

// NewPrestaShopTools returns the PrestaShop tool set bound to one client.
func NewPrestaShopTools(client out.PrestaShopClient) []Tool {
	return []Tool{
		&PrestaShopOrderGetTool{client: client},
		&PrestaShopOrderSearchTool{client: client},
		&PrestaShopCustomerSearchTool{client: client},
	}
}

type PrestaShopOrderGetTool struct {
	client out.PrestaShopClient
}

func (t *PrestaShopOrderGetTool) Name() string           { return "prestashop_order_get" }
func (t *PrestaShopOrderGetTool) Category() ToolCategory { return CategoryPrestaShop }
func (t *PrestaShopOrderGetTool) Access() ToolAccess     { return AccessRead }

func (t *PrestaShopOrderGetTool) Description() string {
	return "Get one PrestaShop order with its lines, by numeric id or by reference (e.g. XKBKNABJK)."
}

func (t *PrestaShopOrderGetTool) Parameters() []ParameterSpec {
	return []ParameterSpec{
		{Name: "order_id", Type: "integer", Description: "PrestaShop order id"},
		{Name: "reference", Type: "string", Description: "PrestaShop order reference"},
	}
}

func (t *PrestaShopOrderGetTool) Execute(ctx context.Context, _ domain.AccountRef, args map[string]any) (*ToolResult, error) {
	var (
		order *domain.SourceOrder
		err   error
	)
	switch id, ref := getInt64Arg(args, "order_id"), strings.TrimSpace(getStringArg(args, "reference", "")); {
	case id > 0:
		order, err = t.client.GetOrder(ctx, id)
	case ref != "":
		order, err = t.client.FindOrderByReference(ctx, ref)
	default:
		return failed(errors.New("order_id or reference is required")), nil
	}
	if err != nil {
		return failed(err), nil
	}
	if order == nil {
		return failed(errors.New("order not found")), nil
	}
	return &ToolResult{Success: true, Data: order}, nil
}

type PrestaShopOrderSearchTool struct {
	client out.PrestaShopClient
}

func (t *PrestaShopOrderSearchTool) Name() string           { return "prestashop_order_search" }
func (t *PrestaShopOrderSearchTool) Category() ToolCategory { return CategoryPrestaShop }
func (t *PrestaShopOrderSearchTool) Access() ToolAccess     { return AccessRead }

func (t *PrestaShopOrderSearchTool) Description() string {
	return "Search PrestaShop orders by reference or customer id, newest first."
}

func (t *PrestaShopOrderSearchTool) Parameters() []ParameterSpec {
	return []ParameterSpec{
		{Name: "reference", Type: "string", Description: "Order reference"},
		{Name: "customer_id", Type: "integer", Description: "PrestaShop customer id"},
		{Name: "limit", Type: "integer", Description: "Maximum orders to return", Default: 10},
	}
}

func (t *PrestaShopOrderSearchTool) Execute(ctx context.Context, _ domain.AccountRef, args map[string]any) (*ToolResult, error) {
	orders, err := t.client.SearchOrders(ctx, out.PrestaShopOrderFilter{
		Reference:  strings.TrimSpace(getStringArg(args, "reference", "")),
		CustomerID: getInt64Arg(args, "customer_id"),
		Limit:      clampLimit(getIntArg(args, "limit", 10), 50),
	})
	if err != nil {
		return failed(err), nil
	}
	return &ToolResult{Success: true, Data: orders, Message: fmt.Sprintf("Found %d orders", len(orders))}, nil
}

type PrestaShopCustomerSearchTool struct {
	client out.PrestaShopClient
}

func (t *PrestaShopCustomerSearchTool) Name() string           { return "prestashop_customer_search" }
func (t *PrestaShopCustomerSearchTool) Category() ToolCategory { return CategoryPrestaShop }
func (t *PrestaShopCustomerSearchTool) Access() ToolAccess     { return AccessRead }

func (t *PrestaShopCustomerSearchTool) Description() string {
	return "Find PrestaShop customers by email address."
}

func (t *PrestaShopCustomerSearchTool) Parameters() []ParameterSpec {
	return []ParameterSpec{
		{Name: "email", Type: "string", Description: "Customer email", Required: true},
		{Name: "limit", Type: "integer", Description: "Maximum customers to return", Default: 5},
	}
}

func (t *PrestaShopCustomerSearchTool) Execute(ctx context.Context, _ domain.AccountRef, args map[string]any) (*ToolResult, error) {
	email := strings.TrimSpace(getStringArg(args, "email", ""))
	if email == "" {
		return failed(errors.New("email is empty")), nil
	}
	customers, err := t.client.SearchCustomers(ctx, email, clampLimit(getIntArg(args, "limit", 5), 20))
	if err != nil {
		return failed(err), nil
	}
	return &ToolResult{Success: true, Data: customers, Message: fmt.Sprintf("Found %d customers", len(customers))}, nil
}
