package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"salonpos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrDuplicateKey      = errors.New("duplicate idempotency key")
)

// WrongStatusError rejects a state transition attempted from a status the
// transition does not accept. Expected lists every status it does accept.
type WrongStatusError struct {
	Current  string
	Expected []string
}

func (e *WrongStatusError) Error() string {
	return fmt.Sprintf("wrong status %s, expected %s", e.Current, strings.Join(e.Expected, " or "))
}

// TransferPatch carries the optional first-write-wins fields a transition may
// set. Nil fields are left untouched; non-nil fields are written only when the
// stored value is still empty.
type TransferPatch struct {
	ApprovedBy *string
	ApprovedAt *time.Time
	ShippedBy  *string
	ShippedAt  *time.Time
	ReceivedBy *string
	ReceivedAt *time.Time
	Notes      *string
}

// TransferReceipt records per-item received quantities for the RECEIVE
// transition. Keyed by item ID.
type TransferReceipt struct {
	QtyReceived     map[string]int
	DiscrepancyNote map[string]string
}

type SaleFilter struct {
	From           *time.Time
	To             *time.Time
	ClientID       string
	MinTotalCents  *int64
	MaxTotalCents  *int64
	PaymentMethod  string
	Status         string
	InvoicePattern string
	Limit          int
}

type TransferFilter struct {
	Status     string
	LocationID string
	Limit      int
}

type Repository interface {
	ListItems(ctx context.Context, tenantID string) ([]domain.Item, error)
	CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	GetItemByID(ctx context.Context, tenantID string, itemID string) (*domain.Item, error)
	GetItemsByIDs(ctx context.Context, tenantID string, itemIDs []string) (map[string]domain.Item, error)
	AdjustStock(ctx context.Context, tenantID string, itemID string, delta int, movement domain.StockMovement) (*domain.Item, error)
	ListStockMovements(ctx context.Context, tenantID string, itemID string, limit int) ([]domain.StockMovement, error)

	CreateLocation(ctx context.Context, loc domain.Location) (*domain.Location, error)
	GetLocationByID(ctx context.Context, tenantID string, locationID string) (*domain.Location, error)
	ListLocations(ctx context.Context, tenantID string) ([]domain.Location, error)

	CreateSale(ctx context.Context, tx domain.Transaction, allowOversell bool) (*domain.Transaction, error)
	FindSaleByID(ctx context.Context, tenantID string, id string) (*domain.Transaction, error)
	CountDailySequence(ctx context.Context, tenantID string, at time.Time) (int, error)
	SearchSales(ctx context.Context, tenantID string, filter SaleFilter) ([]domain.Transaction, error)
	VoidSale(ctx context.Context, tenantID string, id string, reason string, at time.Time) (*domain.Transaction, error)

	FindIdempotencyRecord(ctx context.Context, tenantID string, key string) (*domain.IdempotencyRecord, error)
	CreateIdempotencyRecord(ctx context.Context, rec domain.IdempotencyRecord) error

	CreateTransfer(ctx context.Context, transfer domain.InventoryTransfer) (*domain.InventoryTransfer, error)
	GetTransferByID(ctx context.Context, tenantID string, transferID string) (*domain.InventoryTransfer, error)
	ListTransfers(ctx context.Context, tenantID string, filter TransferFilter) ([]domain.InventoryTransfer, error)
	TransitionTransfer(ctx context.Context, tenantID string, transferID string, fromStatuses []string, toStatus string, patch TransferPatch, receipt *TransferReceipt) (*domain.InventoryTransfer, error)

	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context, tenantID string) ([]domain.Supplier, error)

	CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error)
	GetPurchaseOrderByID(ctx context.Context, tenantID string, purchaseOrderID string) (*domain.PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, tenantID string, status string, limit int) ([]domain.PurchaseOrder, error)
	UpdatePurchaseOrder(ctx context.Context, tenantID string, po domain.PurchaseOrder) (*domain.PurchaseOrder, error)
	DeletePurchaseOrder(ctx context.Context, tenantID string, purchaseOrderID string) error
	ReceivePurchaseOrder(ctx context.Context, tenantID string, purchaseOrderID string, receivedBy string, receivedAt time.Time) (*domain.PurchaseOrder, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, tenantID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
}
