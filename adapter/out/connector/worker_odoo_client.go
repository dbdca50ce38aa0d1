package connector

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/goccy/go-json"

	"jenn_worker/core/domain"
)

// =============================================================================
// Odoo external API (JSON-RPC execute_kw)
// =============================================================================

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int64     `json:"id"`
}

type rpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// RPCError is an Odoo server-side fault.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"data"`
}

func (e *RPCError) Error() string {
	if e.Data.Message != "" {
		return fmt.Sprintf("odoo: %s: %s", e.Data.Name, e.Data.Message)
	}
	return "odoo: " + e.Message
}

// OdooClient implements out.OdooClient.
type OdooClient struct {
	t     *transport
	creds domain.OdooCredentials
	seq   atomic.Int64

	mu  sync.Mutex
	uid int64
}

func newOdooClient(t *transport, creds domain.OdooCredentials) *OdooClient {
	return &OdooClient{t: t, creds: creds}
}

func (c *OdooClient) rpc(ctx context.Context, service, method string, args []any, out any) error {
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  rpcParams{Service: service, Method: method, Args: args},
		ID:      c.seq.Add(1),
	}
	var resp rpcResponse
	endpoint := strings.TrimRight(c.creds.URL, "/") + "/jsonrpc"
	if err := c.t.do(ctx, http.MethodPost, endpoint, req, &resp, nil); err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(resp.Result, out)
}

// login resolves and caches the numeric user id. Odoo answers false for bad credentials.
func (c *OdooClient) login(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.uid > 0 {
		return c.uid, nil
	}

	var raw json.RawMessage
	if err := c.rpc(ctx, "common", "authenticate", []any{c.creds.Database, c.creds.Username, c.creds.APIKey, map[string]any{}}, &raw); err != nil {
		return 0, err
	}
	var uid int64
	if err := json.Unmarshal(raw, &uid); err != nil || uid <= 0 {
		return 0, fmt.Errorf("%w: odoo rejected login for %s", domain.ErrInvalidCredentials, c.creds.Username)
	}
	c.uid = uid
	return uid, nil
}

func (c *OdooClient) executeKW(ctx context.Context, model, method string, args []any, kwargs map[string]any, out any) error {
	uid, err := c.login(ctx)
	if err != nil {
		return err
	}
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return c.rpc(ctx, "object", "execute_kw",
		[]any{c.creds.Database, uid, c.creds.APIKey, model, method, args, kwargs}, out)
}

func (c *OdooClient) SearchRead(ctx context.Context, model string, filter []any, fields []string, limit int) ([]map[string]any, error) {
	if filter == nil {
		filter = []any{}
	}
	kwargs := map[string]any{}
	if len(fields) > 0 {
		kwargs["fields"] = fields
	}
	if limit > 0 {
		kwargs["limit"] = limit
	}
	var rows []map[string]any
	if err := c.executeKW(ctx, model, "search_read", []any{filter}, kwargs, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *OdooClient) Create(ctx context.Context, model string, values map[string]any) (int64, error) {
	var raw json.RawMessage
	if err := c.executeKW(ctx, model, "create", []any{values}, nil, &raw); err != nil {
		return 0, err
	}
	// Newer versions return a list of ids even for a single record.
	var id int64
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, nil
	}
	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil || len(ids) == 0 {
		return 0, fmt.Errorf("odoo: unexpected create result %s", string(raw))
	}
	return ids[0], nil
}

func (c *OdooClient) Call(ctx context.Context, model, method string, args []any, kwargs map[string]any) (any, error) {
	var result any
	if err := c.executeKW(ctx, model, method, args, kwargs, &result); err != nil {
		return nil, err
	}
	return result, nil
}
