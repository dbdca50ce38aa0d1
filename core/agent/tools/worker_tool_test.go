package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jenn_worker/core/agent/llm"
	"jenn_worker/core/domain"
	"jenn_worker/core/port/out"
	"jenn_worker/pkg/apperr"
)

// Mock clients for testing
type mockOdoo struct {
	searches []string
	creates  []map[string]any
	calls    []string
	rows     []map[string]any
	nextID   int64
	callErr  error
}

func (m *mockOdoo) SearchRead(_ context.Context, model string, _ []any, _ []string, _ int) ([]map[string]any, error) {
	m.searches = append(m.searches, model)
	return m.rows, nil
}

func (m *mockOdoo) Create(_ context.Context, model string, values map[string]any) (int64, error) {
	m.nextID++
	values["_model"] = model
	m.creates = append(m.creates, values)
	return m.nextID, nil
}

func (m *mockOdoo) Call(_ context.Context, model, method string, _ []any, _ map[string]any) (any, error) {
	m.calls = append(m.calls, model+"."+method)
	return true, m.callErr
}

type mockPrestaShop struct {
	orders map[int64]*domain.SourceOrder
}

func (m *mockPrestaShop) GetOrder(_ context.Context, id int64) (*domain.SourceOrder, error) {
	return m.orders[id], nil
}

func (m *mockPrestaShop) FindOrderByReference(_ context.Context, ref string) (*domain.SourceOrder, error) {
	for _, o := range m.orders {
		if o.Reference == ref {
			return o, nil
		}
	}
	return nil, nil
}

func (m *mockPrestaShop) SearchOrders(context.Context, out.PrestaShopOrderFilter) ([]*domain.SourceOrder, error) {
	return nil, nil
}

func (m *mockPrestaShop) GetCustomer(context.Context, int64) (*domain.SourceCustomer, error) {
	return nil, nil
}

func (m *mockPrestaShop) SearchCustomers(_ context.Context, email string, _ int) ([]*domain.SourceCustomer, error) {
	return []*domain.SourceCustomer{{ID: 9, Email: email}}, nil
}

type mockQuickBooks struct {
	queries []string
}

func (m *mockQuickBooks) Query(_ context.Context, q string) (map[string]any, error) {
	m.queries = append(m.queries, q)
	return map[string]any{"Customer": []any{}, "Invoice": []any{}}, nil
}

type mockSyncer struct {
	got domain.SyncOrderRequest
	err error
}

func (m *mockSyncer) SyncOrder(_ context.Context, req domain.SyncOrderRequest) (*domain.BridgeSyncResult, error) {
	m.got = req
	if m.err != nil {
		return nil, m.err
	}
	return &domain.BridgeSyncResult{Status: domain.BridgeStatusAlreadyExists, OrderID: 5, OrderName: "S00005"}, nil
}

var testAccount = domain.AccountRef{EmailAccountID: 42, Email: "ops@shop.test"}

func newTestRegistry(odoo *mockOdoo) *Registry {
	r := NewRegistry()
	r.RegisterAll(NewOdooTools(odoo)...)
	r.RegisterAll(NewPrestaShopTools(&mockPrestaShop{orders: map[int64]*domain.SourceOrder{
		7: {ID: 7, Reference: "XKBKNABJK"},
	}})...)
	return r
}

func TestRegistryDefinitionsAreSortedAndTyped(t *testing.T) {
	r := newTestRegistry(&mockOdoo{})

	names := r.ListNames()
	assert.Equal(t, []string{
		"odoo_crm_lead_create", "odoo_invoice_create", "odoo_partner_search", "odoo_sale_order_search",
		"prestashop_customer_search", "prestashop_order_get", "prestashop_order_search",
	}, names)
	prestashop := 0
	for _, def := range r.GetDefinitions() {
		if def.Category == CategoryPrestaShop {
			prestashop++
		}
		if def.Name != "odoo_invoice_create" {
			continue
		}
		assert.Equal(t, AccessWrite, def.Access)
		assert.ElementsMatch(t, []string{"partner_id", "lines_json"}, def.Parameters.Required)

		spec := def.ToSpec()
		assert.Contains(t, spec.Description, "[WRITE]")
		assert.Equal(t, "object", spec.Parameters["type"])
	}
	assert.Equal(t, 3, prestashop)
}

func TestRegistryExecuteValidatesRequired(t *testing.T) {
	r := newTestRegistry(&mockOdoo{})

	res, err := r.Execute(context.Background(), testAccount, "odoo_crm_lead_create", map[string]any{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "name")

	res, err = r.Execute(context.Background(), testAccount, "odoo_crm_lead_create", map[string]any{"name": "  "})
	require.NoError(t, err)
	assert.False(t, res.Success)

	res, err = r.Execute(context.Background(), testAccount, "odoo_invoice_create", map[string]any{
		"partner_id": float64(1), "lines_json": "[]", "post": "yes",
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "post must be true or false")

	_, err = r.Execute(context.Background(), testAccount, "nope", nil)
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestExecutorInvoke(t *testing.T) {
	odoo := &mockOdoo{rows: []map[string]any{{"id": float64(3), "name": "Acme"}}}
	exec := NewExecutor(newTestRegistry(odoo), testAccount)

	assert.Len(t, exec.Specs(), 7)

	payload, err := exec.Invoke(context.Background(), llm.ToolCall{ID: "c1", Name: "odoo_partner_search", Arguments: `{"query":"acme",}`})
	require.NoError(t, err)
	var res ToolResult
	require.NoError(t, json.Unmarshal([]byte(payload), &res))
	assert.True(t, res.Success)
	assert.Equal(t, []string{"res.partner"}, odoo.searches)

	_, err = exec.Invoke(context.Background(), llm.ToolCall{ID: "c2", Name: "prestashop_order_get", Arguments: `{"order_id": 999}`})
	assert.EqualError(t, err, "order not found")

	_, err = exec.Invoke(context.Background(), llm.ToolCall{ID: "c3", Name: "missing_tool", Arguments: `{}`})
	assert.Error(t, err)
}

func TestOdooInvoiceCreate(t *testing.T) {
	odoo := &mockOdoo{}
	tool := &OdooInvoiceCreateTool{client: odoo}

	res, err := tool.Execute(context.Background(), testAccount, map[string]any{
		"partner_id": float64(12),
		"lines_json": `[{"name":"Widget","quantity":2,"price_unit":9.5},{"name":"Setup","price_unit":20}]`,
		"post":       true,
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	require.Len(t, odoo.creates, 1)
	created := odoo.creates[0]
	assert.Equal(t, "account.move", created["_model"])
	assert.Equal(t, "out_invoice", created["move_type"])
	assert.Equal(t, int64(12), created["partner_id"])
	assert.Len(t, created["invoice_line_ids"], 2)
	assert.Equal(t, []string{"account.move.action_post"}, odoo.calls)
	assert.Equal(t, true, res.Data.(map[string]any)["posted"])
}

func TestOdooInvoiceCreate_PostFailureKeepsDraft(t *testing.T) {
	odoo := &mockOdoo{callErr: errors.New("missing journal")}
	tool := &OdooInvoiceCreateTool{client: odoo}

	res, err := tool.Execute(context.Background(), testAccount, map[string]any{
		"partner_id": float64(12),
		"lines_json": `[{"name":"Widget","quantity":1,"price_unit":1}]`,
		"post":       true,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, false, res.Data.(map[string]any)["posted"])
	assert.Contains(t, res.Message, "missing journal")
}

func TestOdooInvoiceCreate_RejectsBadLines(t *testing.T) {
	tool := &OdooInvoiceCreateTool{client: &mockOdoo{}}

	res, err := tool.Execute(context.Background(), testAccount, map[string]any{"partner_id": float64(1), "lines_json": "nope"})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestQuickBooksQueries(t *testing.T) {
	qb := &mockQuickBooks{}
	tools := NewQuickBooksTools(qb)

	_, err := tools[0].Execute(context.Background(), testAccount, map[string]any{"name": "O'Brien"})
	require.NoError(t, err)
	_, err = tools[1].Execute(context.Background(), testAccount, map[string]any{"doc_number": "1001", "limit": float64(500)})
	require.NoError(t, err)

	assert.Equal(t, []string{
		`SELECT * FROM Customer WHERE DisplayName LIKE '%O\'Brien%' MAXRESULTS 10`,
		`SELECT * FROM Invoice WHERE DocNumber = '1001' ORDERBY TxnDate DESC MAXRESULTS 100`,
	}, qb.queries)
}

func TestBridgeOrderTool(t *testing.T) {
	syncer := &mockSyncer{}
	tool := NewBridgeOrderTool(syncer)

	res, err := tool.Execute(context.Background(), testAccount, map[string]any{"order_id": float64(7), "reference": "XKBKNABJK", "confirm": true})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Order already exists in Odoo", res.Message)
	assert.Equal(t, domain.SyncOrderRequest{EmailAccountID: 42, SourceOrderID: 7, Confirm: true}, syncer.got)

	res, err = tool.Execute(context.Background(), testAccount, map[string]any{})
	require.NoError(t, err)
	assert.False(t, res.Success)

	syncer.err = apperr.NotFound("prestashop order")
	res, err = tool.Execute(context.Background(), testAccount, map[string]any{"reference": "MISSING01"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "search PrestaShop orders")
}
