package domain

// =============================================================================
// Cross-system order bridge (PrestaShop -> Odoo)
// =============================================================================

type BridgeStatus string

const (
	BridgeStatusCreated       BridgeStatus = "created"
	BridgeStatusAlreadyExists BridgeStatus = "already_exists"
)

// SyncOrderRequest asks the bridge to copy one source order. Exactly one of SourceOrderID and
// SourceOrderReference must be set.
type SyncOrderRequest struct {
	EmailAccountID       int64  `json:"email_account_id"`
	SourceOrderID        int64  `json:"source_order_id,omitempty"`
	SourceOrderReference string `json:"source_order_reference,omitempty"`
	Confirm              bool   `json:"confirm,omitempty"`
}

// BridgeSyncResult is a tagged union on Status:
// created carries OrderID/CustomerID/LineCount/Confirmed, already_exists carries OrderID/OrderName.
type BridgeSyncResult struct {
	Status     BridgeStatus `json:"status"`
	OrderID    int64        `json:"odoo_order_id"`
	OrderName  string       `json:"odoo_order_name,omitempty"`
	CustomerID int64        `json:"customer_id,omitempty"`
	LineCount  int          `json:"line_count,omitempty"`
	Confirmed  bool         `json:"confirmed,omitempty"`
}

// SourceOrder is the PrestaShop order the bridge copies.
type SourceOrder struct {
	ID         int64             `json:"id"`
	Reference  string            `json:"reference"`
	CustomerID int64             `json:"customer_id"`
	Currency   string            `json:"currency,omitempty"`
	TotalPaid  float64           `json:"total_paid"`
	Lines      []SourceOrderLine `json:"lines"`
}

type SourceOrderLine struct {
	ProductID        int64   `json:"product_id"`
	ProductReference string  `json:"product_reference"`
	ProductName      string  `json:"product_name"`
	Quantity         float64 `json:"quantity"`
	UnitPrice        float64 `json:"unit_price"`
}

type SourceCustomer struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Company   string `json:"company,omitempty"`
}

// FullName composes first and last name the way the target system stores partner names.
func (c *SourceCustomer) FullName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	default:
		return c.FirstName + " " + c.LastName
	}
}

// TargetOrderLine is a resolved line ready to be written to the target system.
type TargetOrderLine struct {
	ProductID int64   `json:"product_id,omitempty"`
	Name      string  `json:"name"`
	Quantity  float64 `json:"product_uom_qty"`
	UnitPrice float64 `json:"price_unit"`
}

// TargetOrder is an existing order found in the target system.
type TargetOrder struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// EntityKind names what a bridge mapping points at.
type EntityKind string

const (
	EntityCustomer EntityKind = "customer"
	EntityProduct  EntityKind = "product"
	EntityOrder    EntityKind = "order"
)

// EntityMapping remembers source -> target id pairs resolved by a bridge.
type EntityMapping struct {
	EmailAccountID int64      `json:"email_account_id"`
	Kind           EntityKind `json:"kind"`
	SourceSystem   string     `json:"source_system"`
	SourceKey      string     `json:"source_key"`
	TargetSystem   string     `json:"target_system"`
	TargetID       int64      `json:"target_id"`
}
