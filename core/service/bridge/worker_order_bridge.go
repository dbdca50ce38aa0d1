package bridge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"jenn_worker/core/domain"
	"jenn_worker/core/port/out"
	"jenn_worker/pkg/apperr"
	"jenn_worker/pkg/logger"
	"jenn_worker/pkg/metrics"
)

// =============================================================================
// OrderBridge - PrestaShop 주문 -> Odoo sale.order
// =============================================================================

const (
	sourceSystem = "prestashop"
	targetSystem = "odoo"

	DefaultLockTTL = 2 * time.Minute
)

// ConfigurationError reports a connector connection that is missing or unusable.
// It is raised before any external system is contacted.
type ConfigurationError struct {
	Connector domain.ConnectorType
	Reason    string
	Err       error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s connection %s: %v", e.Connector, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s connection %s", e.Connector, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ErrOrderInProgress is returned when another caller is copying the same order.
var ErrOrderInProgress = errors.New("order sync already in progress")

type OrderBridge struct {
	connections out.ConnectionRepository
	clients     out.ConnectorClientFactory
	mappings    out.EntityMappingStore
	locker      out.Locker
	lockTTL     time.Duration
}

// NewOrderBridge wires the bridge. mappings and locker are optional.
func NewOrderBridge(
	connections out.ConnectionRepository,
	clients out.ConnectorClientFactory,
	mappings out.EntityMappingStore,
	locker out.Locker,
) *OrderBridge {
	return &OrderBridge{
		connections: connections,
		clients:     clients,
		mappings:    mappings,
		locker:      locker,
		lockTTL:     DefaultLockTTL,
	}
}

// SyncOrder copies one PrestaShop order into Odoo. Repeating the call for an order that was
// already copied reports already_exists and writes nothing.
func (b *OrderBridge) SyncOrder(ctx context.Context, req domain.SyncOrderRequest) (*domain.BridgeSyncResult, error) {
	req.SourceOrderReference = strings.TrimSpace(req.SourceOrderReference)
	hasID, hasRef := req.SourceOrderID > 0, req.SourceOrderReference != ""
	if hasID == hasRef {
		return nil, apperr.ValidationFailed("exactly one of source_order_id or source_order_reference is required")
	}

	psCreds, odooCreds, err := b.credentials(ctx, req.EmailAccountID)
	if err != nil {
		return nil, err
	}
	ps := b.clients.PrestaShop(psCreds)
	odoo := b.clients.Odoo(odooCreds)

	log := logger.WithContext(ctx).WithFields(map[string]any{
		"email_account_id": req.EmailAccountID,
		"order_id":         req.SourceOrderID,
		"reference":        req.SourceOrderReference,
	})

	var order *domain.SourceOrder
	if hasID {
		order, err = ps.GetOrder(ctx, req.SourceOrderID)
	} else {
		order, err = ps.FindOrderByReference(ctx, req.SourceOrderReference)
	}
	if err != nil {
		return nil, apperr.ExternalError(sourceSystem, err)
	}
	if order == nil {
		return nil, apperr.NotFound("prestashop order")
	}
	if order.Reference == "" {
		return nil, apperr.ValidationFailed("prestashop order has no reference")
	}

	release, err := b.lock(ctx, req.EmailAccountID, order.Reference)
	if err != nil {
		return nil, err
	}
	defer release()

	result, err := b.copyOrder(ctx, ps, odoo, req, order, log)
	if err != nil {
		metrics.BridgeOrders.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.BridgeOrders.WithLabelValues(string(result.Status)).Inc()
	return result, nil
}

func (b *OrderBridge) credentials(ctx context.Context, accountID int64) (domain.PrestaShopCredentials, domain.OdooCredentials, error) {
	var ps domain.PrestaShopCredentials
	var odoo domain.OdooCredentials

	psConn, err := b.connections.GetActive(ctx, accountID, domain.ConnectorPrestaShop)
	if err != nil {
		return ps, odoo, fmt.Errorf("load prestashop connection: %w", err)
	}
	odooConn, err := b.connections.GetActive(ctx, accountID, domain.ConnectorOdoo)
	if err != nil {
		return ps, odoo, fmt.Errorf("load odoo connection: %w", err)
	}

	if err := typed(psConn, domain.ConnectorPrestaShop, &ps); err != nil {
		return ps, odoo, err
	}
	if err := typed(odooConn, domain.ConnectorOdoo, &odoo); err != nil {
		return ps, odoo, err
	}
	return ps, odoo, nil
}

func typed[C domain.ConnectorCredentials](conn *domain.Connection, t domain.ConnectorType, dst *C) error {
	if conn == nil || !conn.IsActive {
		return &ConfigurationError{Connector: t, Reason: "is not configured"}
	}
	c, ok := conn.Credentials.(C)
	if !ok {
		return &ConfigurationError{Connector: t, Reason: "has credentials of the wrong type"}
	}
	if err := c.Validate(); err != nil {
		return &ConfigurationError{Connector: t, Reason: "is invalid", Err: err}
	}
	*dst = c
	return nil
}

func (b *OrderBridge) lock(ctx context.Context, accountID int64, reference string) (func(), error) {
	if b.locker == nil {
		return func() {}, nil
	}
	key := "bridge:order:" + strconv.FormatInt(accountID, 10) + ":" + reference
	release, err := b.locker.Acquire(ctx, key, b.lockTTL)
	if errors.Is(err, out.ErrLockNotAcquired) {
		return nil, fmt.Errorf("%w: %s", ErrOrderInProgress, reference)
	}
	if err != nil {
		return nil, fmt.Errorf("acquire bridge lock: %w", err)
	}
	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logger.WithError(err).Warn("[OrderBridge.SyncOrder] failed to release lock %s", key)
		}
	}, nil
}

func (b *OrderBridge) copyOrder(
	ctx context.Context,
	ps out.PrestaShopClient,
	odoo out.OdooClient,
	req domain.SyncOrderRequest,
	order *domain.SourceOrder,
	log *logger.Logger,
) (*domain.BridgeSyncResult, error) {
	existing, err := findOrder(ctx, odoo, order.Reference)
	if err != nil {
		return nil, apperr.ExternalError(targetSystem, err)
	}
	if existing != nil {
		log.Info("[OrderBridge.SyncOrder] order %s already in odoo as %s", order.Reference, existing.Name)
		return &domain.BridgeSyncResult{
			Status:    domain.BridgeStatusAlreadyExists,
			OrderID:   existing.ID,
			OrderName: existing.Name,
		}, nil
	}

	customer, err := ps.GetCustomer(ctx, order.CustomerID)
	if err != nil {
		log.WithError(err).Warn("[OrderBridge.SyncOrder] customer %d lookup failed", order.CustomerID)
	}
	if customer == nil {
		customer = &domain.SourceCustomer{ID: order.CustomerID}
	}

	partnerID, err := b.resolvePartner(ctx, odoo, req.EmailAccountID, customer)
	if err != nil {
		return nil, apperr.ExternalError(targetSystem, fmt.Errorf("resolve partner: %w", err))
	}

	lines := make([]any, 0, len(order.Lines))
	for _, line := range order.Lines {
		target := domain.TargetOrderLine{
			Name:      lineName(line),
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		}
		productID, err := b.resolveProduct(ctx, odoo, req.EmailAccountID, line)
		if err != nil {
			log.WithError(err).Warn("[OrderBridge.SyncOrder] product %d (%s) unresolved, keeping line without product",
				line.ProductID, line.ProductReference)
		}
		target.ProductID = productID
		lines = append(lines, []any{0, 0, lineValues(target)})
	}

	orderID, err := odoo.Create(ctx, "sale.order", map[string]any{
		"partner_id":       partnerID,
		"client_order_ref": order.Reference,
		"origin":           "PrestaShop #" + strconv.FormatInt(order.ID, 10),
		"order_line":       lines,
	})
	if err != nil {
		return nil, apperr.ExternalError(targetSystem, fmt.Errorf("create sale.order: %w", err))
	}
	b.remember(ctx, req.EmailAccountID, domain.EntityOrder, strconv.FormatInt(order.ID, 10), orderID)

	result := &domain.BridgeSyncResult{
		Status:     domain.BridgeStatusCreated,
		OrderID:    orderID,
		CustomerID: partnerID,
		LineCount:  len(lines),
	}
	if req.Confirm {
		if _, err := odoo.Call(ctx, "sale.order", "action_confirm", []any{[]int64{orderID}}, nil); err != nil {
			log.WithError(err).Warn("[OrderBridge.SyncOrder] confirm sale.order %d failed", orderID)
		} else {
			result.Confirmed = true
		}
	}

	log.Info("[OrderBridge.SyncOrder] created sale.order %d for %s with %d lines", orderID, order.Reference, len(lines))
	return result, nil
}

func findOrder(ctx context.Context, odoo out.OdooClient, reference string) (*domain.TargetOrder, error) {
	rows, err := odoo.SearchRead(ctx, "sale.order",
		[]any{[]any{"client_order_ref", "=", reference}},
		[]string{"id", "name"}, 1)
	if err != nil {
		return nil, fmt.Errorf("search sale.order: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	name, _ := rows[0]["name"].(string)
	return &domain.TargetOrder{ID: idOf(rows[0]), Name: name}, nil
}

// =============================================================================
// Partner / product resolution
// =============================================================================

func (b *OrderBridge) resolvePartner(ctx context.Context, odoo out.OdooClient, accountID int64, c *domain.SourceCustomer) (int64, error) {
	key := strconv.FormatInt(c.ID, 10)
	if id := b.cached(ctx, accountID, domain.EntityCustomer, key); id > 0 {
		return id, nil
	}

	var lookups [][]any
	if email := strings.TrimSpace(c.Email); email != "" {
		lookups = append(lookups, []any{[]any{"email", "=ilike", email}})
	}
	name := strings.TrimSpace(c.FullName())
	if name != "" {
		lookups = append(lookups, []any{[]any{"name", "=ilike", name}})
	}
	for _, filter := range lookups {
		id, err := firstID(ctx, odoo, "res.partner", filter)
		if err != nil {
			return 0, err
		}
		if id > 0 {
			b.remember(ctx, accountID, domain.EntityCustomer, key, id)
			return id, nil
		}
	}

	if name == "" {
		name = c.Email
	}
	if name == "" {
		name = "PrestaShop customer " + key
	}
	values := map[string]any{"name": name}
	if c.Email != "" {
		values["email"] = c.Email
	}
	if c.Company != "" {
		values["company_name"] = c.Company
	}
	id, err := odoo.Create(ctx, "res.partner", values)
	if err != nil {
		return 0, fmt.Errorf("create res.partner: %w", err)
	}
	b.remember(ctx, accountID, domain.EntityCustomer, key, id)
	return id, nil
}

func (b *OrderBridge) resolveProduct(ctx context.Context, odoo out.OdooClient, accountID int64, line domain.SourceOrderLine) (int64, error) {
	key := strconv.FormatInt(line.ProductID, 10)
	if id := b.cached(ctx, accountID, domain.EntityProduct, key); id > 0 {
		return id, nil
	}

	var lookups [][]any
	if ref := strings.TrimSpace(line.ProductReference); ref != "" {
		lookups = append(lookups, []any{[]any{"default_code", "=", ref}})
	}
	if name := strings.TrimSpace(line.ProductName); name != "" {
		lookups = append(lookups, []any{[]any{"name", "=ilike", name}})
	}
	for _, filter := range lookups {
		id, err := firstID(ctx, odoo, "product.product", filter)
		if err != nil {
			return 0, err
		}
		if id > 0 {
			b.remember(ctx, accountID, domain.EntityProduct, key, id)
			return id, nil
		}
	}

	values := map[string]any{
		"name":       lineName(line),
		"list_price": line.UnitPrice,
		"type":       "consu",
	}
	if line.ProductReference != "" {
		values["default_code"] = line.ProductReference
	}
	id, err := odoo.Create(ctx, "product.product", values)
	if err != nil {
		return 0, fmt.Errorf("create product.product: %w", err)
	}
	b.remember(ctx, accountID, domain.EntityProduct, key, id)
	return id, nil
}

func (b *OrderBridge) cached(ctx context.Context, accountID int64, kind domain.EntityKind, key string) int64 {
	if b.mappings == nil || key == "0" {
		return 0
	}
	m, err := b.mappings.Get(ctx, accountID, kind, sourceSystem, key)
	if err != nil {
		logger.WithError(err).Warn("[OrderBridge] mapping lookup %s/%s failed", kind, key)
		return 0
	}
	if m == nil {
		return 0
	}
	return m.TargetID
}

func (b *OrderBridge) remember(ctx context.Context, accountID int64, kind domain.EntityKind, key string, targetID int64) {
	if b.mappings == nil || key == "0" {
		return
	}
	err := b.mappings.Put(ctx, &domain.EntityMapping{
		EmailAccountID: accountID,
		Kind:           kind,
		SourceSystem:   sourceSystem,
		SourceKey:      key,
		TargetSystem:   targetSystem,
		TargetID:       targetID,
	})
	if err != nil {
		logger.WithError(err).Warn("[OrderBridge] mapping store %s/%s failed", kind, key)
	}
}

func firstID(ctx context.Context, odoo out.OdooClient, model string, filter []any) (int64, error) {
	rows, err := odoo.SearchRead(ctx, model, filter, []string{"id"}, 1)
	if err != nil {
		return 0, fmt.Errorf("search %s: %w", model, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return idOf(rows[0]), nil
}

// idOf reads an Odoo id, which arrives as a JSON number.
func idOf(row map[string]any) int64 {
	switch v := row["id"].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

func lineName(line domain.SourceOrderLine) string {
	switch {
	case line.ProductName != "":
		return line.ProductName
	case line.ProductReference != "":
		return line.ProductReference
	default:
		return "Product " + strconv.FormatInt(line.ProductID, 10)
	}
}

func lineValues(l domain.TargetOrderLine) map[string]any {
	v := map[string]any{
		"name":            l.Name,
		"product_uom_qty": l.Quantity,
		"price_unit":      l.UnitPrice,
	}
	if l.ProductID > 0 {
		v["product_id"] = l.ProductID
	}
	return v
}
