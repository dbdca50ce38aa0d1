package out

import (
	"context"

	"jenn_worker/core/domain"
)

// =============================================================================
// Connector registry
// =============================================================================

// ConnectionRepository loads connector connections with decrypted, typed credentials.
type ConnectionRepository interface {
	ListActive(ctx context.Context, emailAccountID int64) ([]*domain.Connection, error)
	// GetActive returns nil, nil when the account has no active connection of that type.
	GetActive(ctx context.Context, emailAccountID int64, t domain.ConnectorType) (*domain.Connection, error)
	Save(ctx context.Context, conn *domain.Connection) error
}

// EntityMappingStore caches source -> target ids resolved by bridges.
type EntityMappingStore interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, emailAccountID int64, kind domain.EntityKind, sourceSystem, sourceKey string) (*domain.EntityMapping, error)
	Put(ctx context.Context, m *domain.EntityMapping) error
}

// AgentRunLog stores agent run audits.
type AgentRunLog interface {
	Save(ctx context.Context, run *domain.AgentRun) error
}

// =============================================================================
// External business systems
// =============================================================================

// OdooClient speaks Odoo's external JSON-RPC API (execute_kw).
type OdooClient interface {
	SearchRead(ctx context.Context, model string, filter []any, fields []string, limit int) ([]map[string]any, error)
	Create(ctx context.Context, model string, values map[string]any) (int64, error)
	Call(ctx context.Context, model, method string, args []any, kwargs map[string]any) (any, error)
}

// PrestaShopOrderFilter narrows an order search. Zero values are ignored.
type PrestaShopOrderFilter struct {
	Reference  string
	CustomerID int64
	Limit      int
}

// PrestaShopClient reads the PrestaShop webservice.
type PrestaShopClient interface {
	// GetOrder and FindOrderByReference return nil, nil when the order does not exist.
	GetOrder(ctx context.Context, id int64) (*domain.SourceOrder, error)
	FindOrderByReference(ctx context.Context, reference string) (*domain.SourceOrder, error)
	SearchOrders(ctx context.Context, filter PrestaShopOrderFilter) ([]*domain.SourceOrder, error)
	GetCustomer(ctx context.Context, id int64) (*domain.SourceCustomer, error)
	SearchCustomers(ctx context.Context, email string, limit int) ([]*domain.SourceCustomer, error)
}

// QuickBooksClient runs QuickBooks Online queries.
type QuickBooksClient interface {
	Query(ctx context.Context, query string) (map[string]any, error)
}

// ConnectorClientFactory builds clients from typed credentials.
type ConnectorClientFactory interface {
	Odoo(creds domain.OdooCredentials) OdooClient
	PrestaShop(creds domain.PrestaShopCredentials) PrestaShopClient
	QuickBooks(creds domain.QuickBooksCredentials) QuickBooksClient
}
