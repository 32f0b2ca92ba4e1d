package domain

import (
	"strings"
	"time"
)

// AdHocProductID reports whether a product line references a one-off item
// that is not tracked in inventory. Such lines never touch stock.
func AdHocProductID(id string) bool {
	return strings.HasPrefix(id, "custom-") || strings.HasPrefix(id, "mock-")
}

type Item struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	Name           string    `json:"name"`
	SKU            string    `json:"sku"`
	Barcode        string    `json:"barcode,omitempty"`
	UnitCostCents  int64     `json:"unit_cost_cents"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	Stock          int       `json:"stock"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}

type ItemCreateRequest struct {
	Name           string `json:"name"`
	SKU            string `json:"sku"`
	Barcode        string `json:"barcode,omitempty"`
	UnitCostCents  int64  `json:"unit_cost_cents"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	InitialStock   int    `json:"initial_stock"`
}

type ItemRestockRequest struct {
	Qty  int    `json:"qty"`
	Note string `json:"note,omitempty"`
}

type Location struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type LocationCreateRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	TenantID    string `json:"tenant_id"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
	TenantID string
}

// IsAdmin reports whether the actor holds the privileged cross-tenant role.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

type LineItem struct {
	Kind            string  `json:"kind"`
	ServiceID       string  `json:"service_id,omitempty"`
	ProductID       string  `json:"product_id,omitempty"`
	Name            string  `json:"name"`
	Qty             int     `json:"qty"`
	UnitPriceCents  int64   `json:"unit_price_cents"`
	DiscountPercent float64 `json:"discount_percent"`
	TotalCents      int64   `json:"total_cents"`
}

type Transaction struct {
	ID              string     `json:"id"`
	TenantID        string     `json:"tenant_id"`
	InvoiceNumber   int64      `json:"invoice_number"`
	EmployeeID      string     `json:"employee_id"`
	ClientID        string     `json:"client_id,omitempty"`
	SubtotalCents   int64      `json:"subtotal_cents"`
	TaxCents        int64      `json:"tax_cents"`
	TipCents        int64      `json:"tip_cents"`
	TotalCents      int64      `json:"total_cents"`
	PaymentMethod   string     `json:"payment_method"`
	CashAmountCents int64      `json:"cash_amount_cents,omitempty"`
	CardAmountCents int64      `json:"card_amount_cents,omitempty"`
	CardLast4       string     `json:"card_last4,omitempty"`
	Status          string     `json:"status"`
	IdempotencyKey  string     `json:"-"`
	VoidReason      string     `json:"void_reason,omitempty"`
	VoidedAt        *time.Time `json:"voided_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	Items           []LineItem `json:"items"`
}

type SaleCreateRequest struct {
	IdempotencyKey  string     `json:"idempotency_key,omitempty"`
	EmployeeID      string     `json:"employee_id"`
	ClientID        string     `json:"client_id,omitempty"`
	PaymentMethod   string     `json:"payment_method"`
	CashAmountCents int64      `json:"cash_amount_cents,omitempty"`
	CardAmountCents int64      `json:"card_amount_cents,omitempty"`
	CardNumber      string     `json:"card_number,omitempty"`
	TaxCents        int64      `json:"tax_cents"`
	TipCents        int64      `json:"tip_cents"`
	Items           []LineItem `json:"items"`
}

type SaleResponse struct {
	TransactionID   string     `json:"transaction_id"`
	InvoiceNumber   int64      `json:"invoice_number"`
	Status          string     `json:"status"`
	PaymentMethod   string     `json:"payment_method"`
	SubtotalCents   int64      `json:"subtotal_cents"`
	TaxCents        int64      `json:"tax_cents"`
	TipCents        int64      `json:"tip_cents"`
	TotalCents      int64      `json:"total_cents"`
	CashAmountCents int64      `json:"cash_amount_cents,omitempty"`
	CardAmountCents int64      `json:"card_amount_cents,omitempty"`
	CardLast4       string     `json:"card_last4,omitempty"`
	ItemCount       int        `json:"item_count"`
	Items           []LineItem `json:"items"`
	Duplicate       bool       `json:"duplicate"`
	CreatedAt       string     `json:"created_at"`
}

type SaleDetailResponse struct {
	Transaction   Transaction `json:"transaction"`
	DailySequence int         `json:"daily_sequence"`
}

type SaleSearchRequest struct {
	From           *time.Time `json:"from,omitempty"`
	To             *time.Time `json:"to,omitempty"`
	ClientID       string     `json:"client_id,omitempty"`
	MinTotalCents  *int64     `json:"min_total_cents,omitempty"`
	MaxTotalCents  *int64     `json:"max_total_cents,omitempty"`
	PaymentMethod  string     `json:"payment_method,omitempty"`
	Status         string     `json:"status,omitempty"`
	InvoicePattern string     `json:"invoice_pattern,omitempty"`
}

type SaleSearchResponse struct {
	Transactions []Transaction `json:"transactions"`
	Truncated    bool          `json:"truncated"`
}

type VoidSaleRequest struct {
	Reason string `json:"reason"`
}

type TransferItem struct {
	ItemID          string `json:"item_id"`
	Name            string `json:"name"`
	SKU             string `json:"sku"`
	Barcode         string `json:"barcode,omitempty"`
	UnitCostCents   int64  `json:"unit_cost_cents"`
	QtySent         int    `json:"qty_sent"`
	QtyReceived     *int   `json:"qty_received,omitempty"`
	DiscrepancyNote string `json:"discrepancy_note,omitempty"`
}

type InventoryTransfer struct {
	ID              string         `json:"id"`
	TenantID        string         `json:"tenant_id"`
	TransferNumber  string         `json:"transfer_number"`
	FromLocationID  string         `json:"from_location_id"`
	ToLocationID    string         `json:"to_location_id"`
	Status          string         `json:"status"`
	Reason          string         `json:"reason,omitempty"`
	Notes           string         `json:"notes,omitempty"`
	TotalItems      int            `json:"total_items"`
	TotalValueCents int64          `json:"total_value_cents"`
	RequestedBy     string         `json:"requested_by"`
	RequestedAt     time.Time      `json:"requested_at"`
	ApprovedBy      string         `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time     `json:"approved_at,omitempty"`
	ShippedBy       string         `json:"shipped_by,omitempty"`
	ShippedAt       *time.Time     `json:"shipped_at,omitempty"`
	ReceivedBy      string         `json:"received_by,omitempty"`
	ReceivedAt      *time.Time     `json:"received_at,omitempty"`
	Items           []TransferItem `json:"items"`
}

type TransferItemRequest struct {
	ItemID string `json:"item_id"`
	Qty    int    `json:"qty"`
}

type TransferCreateRequest struct {
	FromLocationID string                `json:"from_location_id"`
	ToLocationID   string                `json:"to_location_id"`
	Reason         string                `json:"reason,omitempty"`
	Notes          string                `json:"notes,omitempty"`
	Items          []TransferItemRequest `json:"items"`
}

type TransferReceiveItem struct {
	ItemID          string `json:"item_id"`
	QtyReceived     *int   `json:"qty_received,omitempty"`
	DiscrepancyNote string `json:"discrepancy_note,omitempty"`
}

type TransferReceiveRequest struct {
	Items []TransferReceiveItem `json:"items,omitempty"`
	Notes string                `json:"notes,omitempty"`
}

type TransferCancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

type TransferResponse struct {
	Transfer InventoryTransfer `json:"transfer"`
}

type TransferGroupedListResponse struct {
	Pending   []InventoryTransfer `json:"pending"`
	InTransit []InventoryTransfer `json:"in_transit"`
	Completed []InventoryTransfer `json:"completed"`
	Cancelled []InventoryTransfer `json:"cancelled"`
	Counts    TransferGroupCounts `json:"counts"`
}

type TransferGroupCounts struct {
	Pending   int `json:"pending"`
	InTransit int `json:"in_transit"`
	Completed int `json:"completed"`
	Cancelled int `json:"cancelled"`
}

// IdempotencyRecord is the durable side of the sale idempotency guard.
type IdempotencyRecord struct {
	Key          string
	TenantID     string
	ResponseJSON []byte
	CreatedAt    time.Time
}

type StockMovement struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	ItemID    string    `json:"item_id"`
	Delta     int       `json:"delta"`
	Kind      string    `json:"kind"`
	RefID     string    `json:"ref_id,omitempty"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Supplier struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

type SupplierCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type PurchaseOrderItem struct {
	ItemID        string `json:"item_id"`
	Qty           int    `json:"qty"`
	UnitCostCents int64  `json:"unit_cost_cents"`
}

type PurchaseOrder struct {
	ID         string              `json:"id"`
	TenantID   string              `json:"tenant_id"`
	SupplierID string              `json:"supplier_id"`
	LocationID string              `json:"location_id,omitempty"`
	Status     string              `json:"status"`
	CreatedAt  time.Time           `json:"created_at"`
	ReceivedAt *time.Time          `json:"received_at,omitempty"`
	ReceivedBy string              `json:"received_by,omitempty"`
	Items      []PurchaseOrderItem `json:"items"`
}

type PurchaseOrderCreateRequest struct {
	SupplierID string              `json:"supplier_id"`
	LocationID string              `json:"location_id,omitempty"`
	Items      []PurchaseOrderItem `json:"items"`
}

type PurchaseOrderUpdateRequest struct {
	SupplierID *string             `json:"supplier_id,omitempty"`
	LocationID *string             `json:"location_id,omitempty"`
	Items      []PurchaseOrderItem `json:"items,omitempty"`
}

type PurchaseOrderResponse struct {
	PurchaseOrder PurchaseOrder `json:"purchase_order"`
}

type PurchaseOrderListResponse struct {
	PurchaseOrders []PurchaseOrder `json:"purchase_orders"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	TenantID  string
	Active    bool
	CreatedAt time.Time
}

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleStaff   = "staff"
)

const (
	LineItemKindService = "SERVICE"
	LineItemKindProduct = "PRODUCT"
)

const (
	PaymentCash       = "CASH"
	PaymentCreditCard = "CREDIT_CARD"
	PaymentDebitCard  = "DEBIT_CARD"
	PaymentSplit      = "SPLIT"
	PaymentGiftCard   = "GIFT_CARD"
	PaymentEBT        = "EBT"
)

const (
	TxStatusCompleted = "COMPLETED"
	TxStatusVoided    = "VOIDED"
)

const (
	TransferStatusPending     = "PENDING"
	TransferStatusApproved    = "APPROVED"
	TransferStatusInTransit   = "IN_TRANSIT"
	TransferStatusReceived    = "RECEIVED"
	TransferStatusDiscrepancy = "DISCREPANCY"
	TransferStatusCancelled   = "CANCELLED"
)

const (
	POStatusDraft     = "DRAFT"
	POStatusReceived  = "RECEIVED"
	POStatusCancelled = "CANCELLED"
)

const (
	MovementSale             = "SALE"
	MovementTransferOut      = "TRANSFER_OUT"
	MovementTransferIn       = "TRANSFER_IN"
	MovementTransferReversal = "TRANSFER_REVERSAL"
	MovementPurchaseOrder    = "PURCHASE_ORDER"
	MovementRestock          = "RESTOCK"
	MovementAdjustment       = "ADJUSTMENT"
	MovementVoid             = "VOID"
)
