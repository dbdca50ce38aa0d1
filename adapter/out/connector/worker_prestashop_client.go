package connector

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"jenn_worker/core/domain"
	"jenn_worker/core/port/out"
	"jenn_worker/pkg/httputil"
)

// =============================================================================
// PrestaShop webservice (output_format=JSON)
// =============================================================================

// flexNumber accepts both "12.50" and 12.5; the webservice emits most numbers as strings.
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*n = flexNumber(f)
	return nil
}

type psOrderRow struct {
	ProductID        flexNumber `json:"product_id"`
	ProductReference string     `json:"product_reference"`
	ProductName      string     `json:"product_name"`
	Quantity         flexNumber `json:"product_quantity"`
	UnitPrice        flexNumber `json:"unit_price_tax_incl"`
}

type psOrder struct {
	ID           flexNumber `json:"id"`
	Reference    string     `json:"reference"`
	CustomerID   flexNumber `json:"id_customer"`
	CurrencyID   flexNumber `json:"id_currency"`
	TotalPaid    flexNumber `json:"total_paid"`
	Associations struct {
		OrderRows []psOrderRow `json:"order_rows"`
	} `json:"associations"`
}

func (o *psOrder) toDomain() *domain.SourceOrder {
	order := &domain.SourceOrder{
		ID:         int64(o.ID),
		Reference:  o.Reference,
		CustomerID: int64(o.CustomerID),
		TotalPaid:  float64(o.TotalPaid),
	}
	if o.CurrencyID > 0 {
		order.Currency = strconv.FormatInt(int64(o.CurrencyID), 10)
	}
	for _, r := range o.Associations.OrderRows {
		order.Lines = append(order.Lines, domain.SourceOrderLine{
			ProductID:        int64(r.ProductID),
			ProductReference: r.ProductReference,
			ProductName:      r.ProductName,
			Quantity:         float64(r.Quantity),
			UnitPrice:        float64(r.UnitPrice),
		})
	}
	return order
}

type psCustomer struct {
	ID        flexNumber `json:"id"`
	Email     string     `json:"email"`
	FirstName string     `json:"firstname"`
	LastName  string     `json:"lastname"`
	Company   string     `json:"company"`
}

func (c *psCustomer) toDomain() *domain.SourceCustomer {
	return &domain.SourceCustomer{
		ID:        int64(c.ID),
		Email:     c.Email,
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Company:   c.Company,
	}
}

// PrestaShopClient implements out.PrestaShopClient.
type PrestaShopClient struct {
	t     *transport
	creds domain.PrestaShopCredentials
}

func newPrestaShopClient(t *transport, creds domain.PrestaShopCredentials) *PrestaShopClient {
	return &PrestaShopClient{t: t, creds: creds}
}

func (c *PrestaShopClient) get(ctx context.Context, resource string, query url.Values, dst any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("output_format", "JSON")
	endpoint := strings.TrimRight(c.creds.URL, "/") + "/api/" + resource + "?" + query.Encode()
	return c.t.do(ctx, http.MethodGet, endpoint, nil, dst, func(r *http.Request) {
		r.SetBasicAuth(c.creds.APIKey, "")
	})
}

func isNotFound(err error) bool {
	var se *httputil.StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// decodeList handles the webservice answering [] instead of {"orders": []} when nothing matches.
func decodeList(raw json.RawMessage, key string, dst any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] == '[' {
		return nil
	}
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &wrapper); err != nil {
		return err
	}
	items, ok := wrapper[key]
	if !ok {
		return nil
	}
	return json.Unmarshal(items, dst)
}

func (c *PrestaShopClient) GetOrder(ctx context.Context, id int64) (*domain.SourceOrder, error) {
	var resp struct {
		Order *psOrder `json:"order"`
	}
	err := c.get(ctx, "orders/"+strconv.FormatInt(id, 10), nil, &resp)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if resp.Order == nil {
		return nil, nil
	}
	return resp.Order.toDomain(), nil
}

func (c *PrestaShopClient) FindOrderByReference(ctx context.Context, reference string) (*domain.SourceOrder, error) {
	orders, err := c.SearchOrders(ctx, out.PrestaShopOrderFilter{Reference: reference, Limit: 1})
	if err != nil || len(orders) == 0 {
		return nil, err
	}
	return orders[0], nil
}

func (c *PrestaShopClient) SearchOrders(ctx context.Context, filter out.PrestaShopOrderFilter) ([]*domain.SourceOrder, error) {
	q := url.Values{}
	q.Set("display", "full")
	q.Set("sort", "[id_DESC]")
	if filter.Reference != "" {
		q.Set("filter[reference]", "["+filter.Reference+"]")
	}
	if filter.CustomerID > 0 {
		q.Set("filter[id_customer]", "["+strconv.FormatInt(filter.CustomerID, 10)+"]")
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}

	var raw json.RawMessage
	if err := c.get(ctx, "orders", q, &raw); err != nil {
		return nil, err
	}
	var rows []psOrder
	if err := decodeList(raw, "orders", &rows); err != nil {
		return nil, err
	}
	orders := make([]*domain.SourceOrder, len(rows))
	for i := range rows {
		orders[i] = rows[i].toDomain()
	}
	return orders, nil
}

func (c *PrestaShopClient) GetCustomer(ctx context.Context, id int64) (*domain.SourceCustomer, error) {
	var resp struct {
		Customer *psCustomer `json:"customer"`
	}
	err := c.get(ctx, "customers/"+strconv.FormatInt(id, 10), nil, &resp)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if resp.Customer == nil {
		return nil, nil
	}
	return resp.Customer.toDomain(), nil
}

func (c *PrestaShopClient) SearchCustomers(ctx context.Context, email string, limit int) ([]*domain.SourceCustomer, error) {
	q := url.Values{}
	q.Set("display", "full")
	q.Set("filter[email]", "["+email+"]")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var raw json.RawMessage
	if err := c.get(ctx, "customers", q, &raw); err != nil {
		return nil, err
	}
	var rows []psCustomer
	if err := decodeList(raw, "customers", &rows); err != nil {
		return nil, err
	}
	customers := make([]*domain.SourceCustomer, len(rows))
	for i := range rows {
		customers[i] = rows[i].toDomain()
	}
	return customers, nil
}
