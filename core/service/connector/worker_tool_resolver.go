package connector

import (
	"context"
	"fmt"

	"jenn_worker/core/agent/tools"
	"jenn_worker/core/domain"
	"jenn_worker/core/port/out"
	"jenn_worker/pkg/logger"
)

// ToolResolver builds the agent tool registry from an account's active connections.
type ToolResolver struct {
	connections out.ConnectionRepository
	clients     out.ConnectorClientFactory
	bridge      tools.OrderSyncer
}

// NewToolResolver wires the resolver. bridge may be nil to never expose the order bridge tool.
func NewToolResolver(connections out.ConnectionRepository, clients out.ConnectorClientFactory, bridge tools.OrderSyncer) *ToolResolver {
	return &ToolResolver{connections: connections, clients: clients, bridge: bridge}
}

// ToolsFor returns the tools of every valid active connection. A connection whose credentials
// fail validation is skipped, not fatal. The bridge tool is added only when both PrestaShop and
// Odoo are usable.
func (r *ToolResolver) ToolsFor(ctx context.Context, emailAccountID int64) (*tools.Registry, error) {
	conns, err := r.connections.ListActive(ctx, emailAccountID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}

	registry := tools.NewRegistry()
	enabled := make(map[domain.ConnectorType]bool, len(conns))
	for _, conn := range conns {
		if conn == nil || !conn.IsActive || conn.Credentials == nil {
			continue
		}
		if err := conn.Credentials.Validate(); err != nil {
			logger.WithError(err).WithField("email_account_id", emailAccountID).
				Warn("[ToolResolver.ToolsFor] skipping %s connection %d", conn.Type, conn.ID)
			continue
		}

		switch creds := conn.Credentials.(type) {
		case domain.OdooCredentials:
			registry.RegisterAll(tools.NewOdooTools(r.clients.Odoo(creds))...)
		case domain.PrestaShopCredentials:
			registry.RegisterAll(tools.NewPrestaShopTools(r.clients.PrestaShop(creds))...)
		case domain.QuickBooksCredentials:
			registry.RegisterAll(tools.NewQuickBooksTools(r.clients.QuickBooks(creds))...)
		default:
			continue
		}
		enabled[conn.Credentials.Connector()] = true
	}

	if r.bridge != nil && enabled[domain.ConnectorPrestaShop] && enabled[domain.ConnectorOdoo] {
		registry.Register(tools.NewBridgeOrderTool(r.bridge))
	}
	return registry, nil
}
