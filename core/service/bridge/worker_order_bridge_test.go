package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jenn_worker/core/domain"
	"jenn_worker/core/port/out"
	"jenn_worker/pkg/apperr"
)

// fakeOdoo keeps records per model and understands the "=" and "=ilike" domain operators.
type fakeOdoo struct {
	mu         sync.Mutex
	records    map[string][]map[string]any
	nextID     int64
	creates    []string
	confirmErr error
	confirmed  []int64
}

func newFakeOdoo() *fakeOdoo {
	return &fakeOdoo{records: map[string][]map[string]any{}, nextID: 100}
}

func (f *fakeOdoo) seed(model string, values map[string]any) int64 {
	f.nextID++
	row := map[string]any{"id": float64(f.nextID)}
	for k, v := range values {
		row[k] = v
	}
	f.records[model] = append(f.records[model], row)
	return f.nextID
}

func (f *fakeOdoo) SearchRead(_ context.Context, model string, filter []any, _ []string, limit int) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rows []map[string]any
	for _, row := range f.records[model] {
		if matchesAll(row, filter) {
			rows = append(rows, row)
		}
		if limit > 0 && len(rows) == limit {
			break
		}
	}
	return rows, nil
}

func matchesAll(row map[string]any, filter []any) bool {
	for _, term := range filter {
		t := term.([]any)
		field, op, want := t[0].(string), t[1].(string), fmt.Sprint(t[2])
		got := fmt.Sprint(row[field])
		switch op {
		case "=":
			if got != want {
				return false
			}
		case "=ilike":
			if !strings.EqualFold(got, want) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (f *fakeOdoo) Create(_ context.Context, model string, values map[string]any) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, model)
	return f.seed(model, values), nil
}

func (f *fakeOdoo) Call(_ context.Context, model, method string, args []any, _ map[string]any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	f.confirmed = append(f.confirmed, args[0].([]int64)...)
	return true, nil
}

func (f *fakeOdoo) created(model string) int {
	n := 0
	for _, m := range f.creates {
		if m == model {
			n++
		}
	}
	return n
}

type fakeShop struct {
	orders    map[int64]*domain.SourceOrder
	customers map[int64]*domain.SourceCustomer
	calls     int
}

func (f *fakeShop) GetOrder(_ context.Context, id int64) (*domain.SourceOrder, error) {
	f.calls++
	return f.orders[id], nil
}

func (f *fakeShop) FindOrderByReference(_ context.Context, ref string) (*domain.SourceOrder, error) {
	f.calls++
	for _, o := range f.orders {
		if o.Reference == ref {
			return o, nil
		}
	}
	return nil, nil
}

func (f *fakeShop) SearchOrders(context.Context, out.PrestaShopOrderFilter) ([]*domain.SourceOrder, error) {
	return nil, nil
}

func (f *fakeShop) GetCustomer(_ context.Context, id int64) (*domain.SourceCustomer, error) {
	f.calls++
	return f.customers[id], nil
}

func (f *fakeShop) SearchCustomers(context.Context, string, int) ([]*domain.SourceCustomer, error) {
	return nil, nil
}

type fakeFactory struct {
	odoo *fakeOdoo
	shop *fakeShop
}

func (f fakeFactory) Odoo(domain.OdooCredentials) out.OdooClient                   { return f.odoo }
func (f fakeFactory) PrestaShop(domain.PrestaShopCredentials) out.PrestaShopClient { return f.shop }
func (f fakeFactory) QuickBooks(domain.QuickBooksCredentials) out.QuickBooksClient { return nil }

type memConnections map[domain.ConnectorType]*domain.Connection

func (m memConnections) ListActive(context.Context, int64) ([]*domain.Connection, error) {
	var all []*domain.Connection
	for _, c := range m {
		all = append(all, c)
	}
	return all, nil
}

func (m memConnections) GetActive(_ context.Context, _ int64, t domain.ConnectorType) (*domain.Connection, error) {
	return m[t], nil
}

func (m memConnections) Save(context.Context, *domain.Connection) error { return nil }

type memMappings struct {
	mu   sync.Mutex
	rows map[string]*domain.EntityMapping
}

func (m *memMappings) key(account int64, kind domain.EntityKind, system, source string) string {
	return fmt.Sprintf("%d/%s/%s/%s", account, kind, system, source)
}

func (m *memMappings) Get(_ context.Context, account int64, kind domain.EntityKind, system, source string) (*domain.EntityMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[m.key(account, kind, system, source)], nil
}

func (m *memMappings) Put(_ context.Context, e *domain.EntityMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows == nil {
		m.rows = map[string]*domain.EntityMapping{}
	}
	m.rows[m.key(e.EmailAccountID, e.Kind, e.SourceSystem, e.SourceKey)] = e
	return nil
}

type heldLocker struct{ held map[string]bool }

func (l *heldLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(context.Context) error, error) {
	if l.held[key] {
		return nil, out.ErrLockNotAcquired
	}
	return func(context.Context) error { return nil }, nil
}

func validConnections() memConnections {
	return memConnections{
		domain.ConnectorPrestaShop: {
			Type: domain.ConnectorPrestaShop, IsActive: true,
			Credentials: domain.PrestaShopCredentials{URL: "https://shop.example.com", APIKey: "ps-key"},
		},
		domain.ConnectorOdoo: {
			Type: domain.ConnectorOdoo, IsActive: true,
			Credentials: domain.OdooCredentials{URL: "https://erp.example.com", Database: "prod", Username: "bot", APIKey: "od-key"},
		},
	}
}

func sampleShop() *fakeShop {
	return &fakeShop{
		orders: map[int64]*domain.SourceOrder{
			7: {
				ID: 7, Reference: "XKBKNABJK", CustomerID: 3, TotalPaid: 59.8,
				Lines: []domain.SourceOrderLine{
					{ProductID: 1, ProductReference: "demo_1", ProductName: "Hummingbird T-shirt", Quantity: 2, UnitPrice: 19.9},
					{ProductID: 2, ProductReference: "demo_2", ProductName: "Mug", Quantity: 1, UnitPrice: 20},
				},
			},
		},
		customers: map[int64]*domain.SourceCustomer{
			3: {ID: 3, Email: "jane@example.com", FirstName: "Jane", LastName: "Doe"},
		},
	}
}

func TestSyncOrder_CreatesThenReportsExisting(t *testing.T) {
	odoo, shop := newFakeOdoo(), sampleShop()
	partner := odoo.seed("res.partner", map[string]any{"name": "Jane Doe", "email": "JANE@example.com"})
	product := odoo.seed("product.product", map[string]any{"name": "T-shirt", "default_code": "demo_1"})
	b := NewOrderBridge(validConnections(), fakeFactory{odoo: odoo, shop: shop}, &memMappings{}, nil)

	first, err := b.SyncOrder(context.Background(), domain.SyncOrderRequest{EmailAccountID: 1, SourceOrderID: 7, Confirm: true})
	require.NoError(t, err)
	assert.Equal(t, domain.BridgeStatusCreated, first.Status)
	assert.Equal(t, partner, first.CustomerID)
	assert.Equal(t, 2, first.LineCount)
	assert.True(t, first.Confirmed)
	assert.Equal(t, []int64{first.OrderID}, odoo.confirmed)

	// demo_2 has no counterpart, so a stub product is created.
	assert.Equal(t, 0, odoo.created("res.partner"))
	assert.Equal(t, 1, odoo.created("product.product"))
	order := odoo.records["sale.order"][0]
	assert.Equal(t, "XKBKNABJK", order["client_order_ref"])
	lines := order["order_line"].([]any)
	assert.Equal(t, product, lines[0].([]any)[2].(map[string]any)["product_id"])

	second, err := b.SyncOrder(context.Background(), domain.SyncOrderRequest{EmailAccountID: 1, SourceOrderReference: "XKBKNABJK"})
	require.NoError(t, err)
	assert.Equal(t, domain.BridgeStatusAlreadyExists, second.Status)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Len(t, odoo.records["sale.order"], 1)
}

func TestSyncOrder_CreatesPartnerWhenUnknown(t *testing.T) {
	odoo, shop := newFakeOdoo(), sampleShop()
	mappings := &memMappings{}
	b := NewOrderBridge(validConnections(), fakeFactory{odoo: odoo, shop: shop}, mappings, nil)

	res, err := b.SyncOrder(context.Background(), domain.SyncOrderRequest{EmailAccountID: 1, SourceOrderID: 7})
	require.NoError(t, err)
	assert.Equal(t, 1, odoo.created("res.partner"))
	assert.False(t, res.Confirmed)
	assert.Empty(t, odoo.confirmed)

	m, _ := mappings.Get(context.Background(), 1, domain.EntityCustomer, sourceSystem, "3")
	require.NotNil(t, m)
	assert.Equal(t, res.CustomerID, m.TargetID)
}

func TestSyncOrder_ConfirmFailureIsNotFatal(t *testing.T) {
	odoo, shop := newFakeOdoo(), sampleShop()
	odoo.confirmErr = errors.New("missing warehouse")
	b := NewOrderBridge(validConnections(), fakeFactory{odoo: odoo, shop: shop}, nil, nil)

	res, err := b.SyncOrder(context.Background(), domain.SyncOrderRequest{EmailAccountID: 1, SourceOrderID: 7, Confirm: true})
	require.NoError(t, err)
	assert.Equal(t, domain.BridgeStatusCreated, res.Status)
	assert.False(t, res.Confirmed)
}

func TestSyncOrder_ConfigurationErrorBeforeAnyCall(t *testing.T) {
	for name, conns := range map[string]memConnections{
		"missing odoo": {domain.ConnectorPrestaShop: validConnections()[domain.ConnectorPrestaShop]},
		"invalid prestashop": {
			domain.ConnectorPrestaShop: {Type: domain.ConnectorPrestaShop, IsActive: true, Credentials: domain.PrestaShopCredentials{URL: "ftp://x"}},
			domain.ConnectorOdoo:       validConnections()[domain.ConnectorOdoo],
		},
	} {
		t.Run(name, func(t *testing.T) {
			odoo, shop := newFakeOdoo(), sampleShop()
			b := NewOrderBridge(conns, fakeFactory{odoo: odoo, shop: shop}, nil, nil)

			_, err := b.SyncOrder(context.Background(), domain.SyncOrderRequest{EmailAccountID: 1, SourceOrderID: 7})
			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Zero(t, shop.calls)
			assert.Empty(t, odoo.creates)
		})
	}
}

func TestSyncOrder_RequestValidation(t *testing.T) {
	b := NewOrderBridge(validConnections(), fakeFactory{odoo: newFakeOdoo(), shop: sampleShop()}, nil, nil)

	_, err := b.SyncOrder(context.Background(), domain.SyncOrderRequest{EmailAccountID: 1})
	assert.True(t, apperr.IsCode(err, apperr.CodeValidationFailed))

	_, err = b.SyncOrder(context.Background(), domain.SyncOrderRequest{EmailAccountID: 1, SourceOrderID: 7, SourceOrderReference: "X"})
	assert.True(t, apperr.IsCode(err, apperr.CodeValidationFailed))

	_, err = b.SyncOrder(context.Background(), domain.SyncOrderRequest{EmailAccountID: 1, SourceOrderID: 999})
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
}

func TestSyncOrder_LockedReferenceIsRejected(t *testing.T) {
	odoo := newFakeOdoo()
	locker := &heldLocker{held: map[string]bool{"bridge:order:1:XKBKNABJK": true}}
	b := NewOrderBridge(validConnections(), fakeFactory{odoo: odoo, shop: sampleShop()}, nil, locker)

	_, err := b.SyncOrder(context.Background(), domain.SyncOrderRequest{EmailAccountID: 1, SourceOrderID: 7})
	assert.ErrorIs(t, err, ErrOrderInProgress)
	assert.Empty(t, odoo.creates)
}

func TestSyncOrder_RepeatedCallsCreateOnce(t *testing.T) {
	odoo, shop := newFakeOdoo(), sampleShop()
	b := NewOrderBridge(validConnections(), fakeFactory{odoo: odoo, shop: shop}, &memMappings{}, nil)

	for i := 0; i < 5; i++ {
		_, err := b.SyncOrder(context.Background(), domain.SyncOrderRequest{EmailAccountID: 1, SourceOrderID: 7})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, odoo.created("sale.order"))
	assert.Equal(t, 1, odoo.created("res.partner"))
	assert.Equal(t, 2, odoo.created("product.product"))
}
