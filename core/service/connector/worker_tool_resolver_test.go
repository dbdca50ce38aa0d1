package connector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jenn_worker/core/domain"
	"jenn_worker/core/port/out"
)

type listConnections []*domain.Connection

func (l listConnections) ListActive(context.Context, int64) ([]*domain.Connection, error) {
	return l, nil
}

func (l listConnections) GetActive(_ context.Context, _ int64, t domain.ConnectorType) (*domain.Connection, error) {
	for _, c := range l {
		if c.Type == t {
			return c, nil
		}
	}
	return nil, nil
}

func (l listConnections) Save(context.Context, *domain.Connection) error { return nil }

type nilFactory struct{}

func (nilFactory) Odoo(domain.OdooCredentials) out.OdooClient                   { return nil }
func (nilFactory) PrestaShop(domain.PrestaShopCredentials) out.PrestaShopClient { return nil }
func (nilFactory) QuickBooks(domain.QuickBooksCredentials) out.QuickBooksClient { return nil }

type noopSyncer struct{}

func (noopSyncer) SyncOrder(context.Context, domain.SyncOrderRequest) (*domain.BridgeSyncResult, error) {
	return &domain.BridgeSyncResult{Status: domain.BridgeStatusCreated}, nil
}

var (
	odooConn = &domain.Connection{ID: 1, Type: domain.ConnectorOdoo, IsActive: true,
		Credentials: domain.OdooCredentials{URL: "https://erp.example.com", Database: "db", Username: "u", APIKey: "k"}}
	shopConn = &domain.Connection{ID: 2, Type: domain.ConnectorPrestaShop, IsActive: true,
		Credentials: domain.PrestaShopCredentials{URL: "https://shop.example.com", APIKey: "k"}}
	qbConn = &domain.Connection{ID: 3, Type: domain.ConnectorQuickBooks, IsActive: true,
		Credentials: domain.QuickBooksCredentials{RealmID: "123", RefreshToken: "r"}}
	brokenShop = &domain.Connection{ID: 4, Type: domain.ConnectorPrestaShop, IsActive: true,
		Credentials: domain.PrestaShopCredentials{URL: "not a url"}}
)

func TestToolsFor_NoConnectionsMeansNoTools(t *testing.T) {
	reg, err := NewToolResolver(listConnections{}, nilFactory{}, noopSyncer{}).ToolsFor(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, reg.Len())
}

func TestToolsFor_BridgeNeedsBothSides(t *testing.T) {
	reg, err := NewToolResolver(listConnections{odooConn, qbConn}, nilFactory{}, noopSyncer{}).ToolsFor(context.Background(), 1)
	require.NoError(t, err)
	assert.NotContains(t, reg.ListNames(), "bridge_prestashop_order_to_odoo")
	assert.Contains(t, reg.ListNames(), "odoo_invoice_create")
	assert.Contains(t, reg.ListNames(), "quickbooks_invoice_search")

	reg, err = NewToolResolver(listConnections{odooConn, shopConn}, nilFactory{}, noopSyncer{}).ToolsFor(context.Background(), 1)
	require.NoError(t, err)
	assert.Contains(t, reg.ListNames(), "bridge_prestashop_order_to_odoo")
	assert.Contains(t, reg.ListNames(), "prestashop_order_get")
}

func TestToolsFor_InvalidConnectionIsSkipped(t *testing.T) {
	reg, err := NewToolResolver(listConnections{odooConn, brokenShop}, nilFactory{}, noopSyncer{}).ToolsFor(context.Background(), 1)
	require.NoError(t, err)
	for _, name := range reg.ListNames() {
		assert.NotContains(t, name, "prestashop")
	}
}
