package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"jenn_worker/core/domain"
	"jenn_worker/pkg/apperr"
)

// OrderSyncer copies a PrestaShop order into Odoo.
type OrderSyncer interface {
	SyncOrder(ctx context.Context, req domain.SyncOrderRequest) (*domain.BridgeSyncResult, error)
}

// BridgeOrderTool exposes the order bridge to the agent. Register it only when both the
// PrestaShop and Odoo connectors are enabled.
type BridgeOrderTool struct {
	syncer OrderSyncer
}

func NewBridgeOrderTool(syncer OrderSyncer) *BridgeOrderTool {
	return &BridgeOrderTool{syncer: syncer}
}

func (t *BridgeOrderTool) Name() string           { return "bridge_prestashop_order_to_odoo" }
func (t *BridgeOrderTool) Category() ToolCategory { return CategoryBridge }
func (t *BridgeOrderTool) Access() ToolAccess     { return AccessWrite }

func (t *BridgeOrderTool) Description() string {
	return "Copy a PrestaShop order into Odoo as a sale order. Safe to repeat: an order already copied is reported, not duplicated."
}

func (t *BridgeOrderTool) Parameters() []ParameterSpec {
	return []ParameterSpec{
		{Name: "order_id", Type: "integer", Description: "PrestaShop order id"},
		{Name: "reference", Type: "string", Description: "PrestaShop order reference"},
		{Name: "confirm", Type: "boolean", Description: "Confirm the Odoo sale order after creating it", Default: false},
	}
}

func (t *BridgeOrderTool) Execute(ctx context.Context, account domain.AccountRef, args map[string]any) (*ToolResult, error) {
	req := domain.SyncOrderRequest{
		EmailAccountID:       account.EmailAccountID,
		SourceOrderID:        getInt64Arg(args, "order_id"),
		SourceOrderReference: strings.TrimSpace(getStringArg(args, "reference", "")),
		Confirm:              getBoolArg(args, "confirm", false),
	}
	if req.SourceOrderID > 0 && req.SourceOrderReference != "" {
		// Prefer the id; the model often repeats the reference it just read.
		req.SourceOrderReference = ""
	}
	if req.SourceOrderID <= 0 && req.SourceOrderReference == "" {
		return failed(errors.New("order_id or reference is required")), nil
	}

	result, err := t.syncer.SyncOrder(ctx, req)
	if apperr.IsCode(err, apperr.CodeNotFound) {
		return failed(fmt.Errorf("%w; search PrestaShop orders to find the right id or reference", err)), nil
	}
	if err != nil {
		return failed(err), nil
	}
	msg := "Odoo sale order created"
	if result.Status == domain.BridgeStatusAlreadyExists {
		msg = "Order already exists in Odoo"
	}
	return &ToolResult{Success: true, Data: result, Message: msg}, nil
}
