package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"salonpos/backend/internal/domain"
	"salonpos/backend/internal/idempotency"
	"salonpos/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const (
	saleSearchLimit     = 100
	transferListLimit   = 50
	splitToleranceCents = 1
)

type Service struct {
	repo          store.Repository
	guard         *idempotency.Guard
	allowOversell bool
}

func New(repo store.Repository, guard *idempotency.Guard, allowOversell bool) *Service {
	if guard == nil {
		guard = idempotency.NewGuard(repo, nil)
	}
	return &Service{
		repo:          repo,
		guard:         guard,
		allowOversell: allowOversell,
	}
}

// scope returns the tenant filter for read operations. Admins see across
// tenants; everyone else is confined to their own, and anything outside it
// surfaces as not found.
func scope(actor domain.Actor) string {
	if actor.IsAdmin() {
		return ""
	}
	return actor.TenantID
}

func actorOrSystem(ctx context.Context) domain.Actor {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{Username: "system", Role: "system"}
	}
	return actor
}

// --- items & locations ---

func (s *Service) ListItems(ctx context.Context) ([]domain.Item, error) {
	actor := actorOrSystem(ctx)
	return s.repo.ListItems(ctx, scope(actor))
}

func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (domain.Item, error) {
	actor := actorOrSystem(ctx)

	req.Name = strings.TrimSpace(req.Name)
	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	if req.Name == "" || req.SKU == "" {
		return domain.Item{}, fmt.Errorf("%w: name and sku are required", store.ErrInvalidRequest)
	}
	if req.UnitPriceCents < 1 || req.UnitCostCents < 0 || req.InitialStock < 0 {
		return domain.Item{}, store.ErrInvalidRequest
	}

	created, err := s.repo.CreateItem(ctx, domain.Item{
		TenantID:       actor.TenantID,
		Name:           req.Name,
		SKU:            req.SKU,
		Barcode:        strings.TrimSpace(req.Barcode),
		UnitCostCents:  req.UnitCostCents,
		UnitPriceCents: req.UnitPriceCents,
		Stock:          req.InitialStock,
		Active:         true,
	})
	if err != nil {
		return domain.Item{}, err
	}

	s.logAudit(ctx, "item_create", "item", created.ID, fmt.Sprintf("sku=%s,price=%d,stock=%d", created.SKU, created.UnitPriceCents, created.Stock))
	return *created, nil
}

func (s *Service) GetItem(ctx context.Context, itemID string) (domain.Item, error) {
	actor := actorOrSystem(ctx)
	item, err := s.repo.GetItemByID(ctx, scope(actor), itemID)
	if err != nil {
		return domain.Item{}, err
	}
	return *item, nil
}

func (s *Service) RestockItem(ctx context.Context, itemID string, req domain.ItemRestockRequest) (domain.Item, error) {
	actor := actorOrSystem(ctx)
	if req.Qty < 1 {
		return domain.Item{}, fmt.Errorf("%w: restock qty must be positive", store.ErrInvalidRequest)
	}

	updated, err := s.repo.AdjustStock(ctx, scope(actor), itemID, req.Qty, domain.StockMovement{
		Kind: domain.MovementRestock,
		Note: strings.TrimSpace(req.Note),
	})
	if err != nil {
		return domain.Item{}, err
	}

	s.logAudit(ctx, "item_restock", "item", itemID, fmt.Sprintf("qty=%d", req.Qty))
	return *updated, nil
}

func (s *Service) ListStockMovements(ctx context.Context, itemID string, limit int) ([]domain.StockMovement, error) {
	actor := actorOrSystem(ctx)
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListStockMovements(ctx, scope(actor), itemID, limit)
}

func (s *Service) ListLocations(ctx context.Context) ([]domain.Location, error) {
	actor := actorOrSystem(ctx)
	return s.repo.ListLocations(ctx, scope(actor))
}

func (s *Service) CreateLocation(ctx context.Context, req domain.LocationCreateRequest) (domain.Location, error) {
	actor := actorOrSystem(ctx)

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Location{}, fmt.Errorf("%w: location name is required", store.ErrInvalidRequest)
	}

	created, err := s.repo.CreateLocation(ctx, domain.Location{
		TenantID: actor.TenantID,
		Name:     req.Name,
		Address:  strings.TrimSpace(req.Address),
		Active:   true,
	})
	if err != nil {
		return domain.Location{}, err
	}

	s.logAudit(ctx, "location_create", "location", created.ID, created.Name)
	return *created, nil
}

// --- sales ---

func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.SaleResponse, error) {
	actor := actorOrSystem(ctx)

	if req.EmployeeID == "" {
		req.EmployeeID = actor.Username
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentCash
	}
	if !isSupportedPaymentMethod(req.PaymentMethod) {
		return domain.SaleResponse{}, fmt.Errorf("%w: unsupported payment method %s", store.ErrInvalidRequest, req.PaymentMethod)
	}
	if req.TaxCents < 0 || req.TipCents < 0 {
		return domain.SaleResponse{}, store.ErrInvalidRequest
	}
	if len(req.Items) == 0 {
		return domain.SaleResponse{}, fmt.Errorf("%w: at least one line item is required", store.ErrInvalidRequest)
	}

	lines := make([]domain.LineItem, 0, len(req.Items))
	subtotal := int64(0)
	for _, line := range req.Items {
		validated, err := validateLineItem(line)
		if err != nil {
			return domain.SaleResponse{}, err
		}
		validated.TotalCents = lineTotalCents(validated.UnitPriceCents, validated.Qty, validated.DiscountPercent)
		subtotal += validated.TotalCents
		lines = append(lines, validated)
	}

	total := subtotal + req.TaxCents + req.TipCents

	if req.PaymentMethod == domain.PaymentSplit {
		if req.CashAmountCents < 0 || req.CardAmountCents < 0 {
			return domain.SaleResponse{}, store.ErrInvalidRequest
		}
		diff := req.CashAmountCents + req.CardAmountCents - total
		if diff < -splitToleranceCents || diff > splitToleranceCents {
			return domain.SaleResponse{}, fmt.Errorf("%w: split amounts %d do not cover total %d", store.ErrInvalidRequest, req.CashAmountCents+req.CardAmountCents, total)
		}
	}

	cardLast4 := maskCardNumber(req.CardNumber)

	if cached, err := s.guard.Lookup(ctx, actor.TenantID, req.IdempotencyKey); err != nil {
		return domain.SaleResponse{}, err
	} else if cached != nil {
		return *cached, nil
	}

	tx := domain.Transaction{
		ID:              uuid.NewString(),
		TenantID:        actor.TenantID,
		EmployeeID:      req.EmployeeID,
		ClientID:        req.ClientID,
		SubtotalCents:   subtotal,
		TaxCents:        req.TaxCents,
		TipCents:        req.TipCents,
		TotalCents:      total,
		PaymentMethod:   req.PaymentMethod,
		CashAmountCents: req.CashAmountCents,
		CardAmountCents: req.CardAmountCents,
		CardLast4:       cardLast4,
		Status:          domain.TxStatusCompleted,
		IdempotencyKey:  req.IdempotencyKey,
		CreatedAt:       time.Now().UTC(),
		Items:           lines,
	}

	created, err := s.repo.CreateSale(ctx, tx, s.allowOversell)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	// The store returns the earlier transaction when a concurrent duplicate
	// slipped past the guard. Detect that by ID.
	duplicate := created.ID != tx.ID

	resp := toSaleResponse(created, duplicate)
	if !duplicate {
		s.guard.Remember(ctx, actor.TenantID, req.IdempotencyKey, &resp)
		s.logAudit(ctx, "sale_create", "transaction", created.ID, fmt.Sprintf("invoice=%d,total=%d,payment=%s,items=%d", created.InvoiceNumber, created.TotalCents, created.PaymentMethod, len(created.Items)))
	}

	return resp, nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.SaleDetailResponse, error) {
	actor := actorOrSystem(ctx)

	tx, err := s.repo.FindSaleByID(ctx, scope(actor), saleID)
	if err != nil {
		return domain.SaleDetailResponse{}, err
	}

	seq, err := s.repo.CountDailySequence(ctx, tx.TenantID, tx.CreatedAt)
	if err != nil {
		return domain.SaleDetailResponse{}, err
	}

	return domain.SaleDetailResponse{Transaction: *tx, DailySequence: seq}, nil
}

func (s *Service) SearchSales(ctx context.Context, req domain.SaleSearchRequest) (domain.SaleSearchResponse, error) {
	actor := actorOrSystem(ctx)

	if req.PaymentMethod != "" && !isSupportedPaymentMethod(req.PaymentMethod) {
		return domain.SaleSearchResponse{}, store.ErrInvalidRequest
	}

	sales, err := s.repo.SearchSales(ctx, scope(actor), store.SaleFilter{
		From:           req.From,
		To:             req.To,
		ClientID:       req.ClientID,
		MinTotalCents:  req.MinTotalCents,
		MaxTotalCents:  req.MaxTotalCents,
		PaymentMethod:  req.PaymentMethod,
		Status:         req.Status,
		InvoicePattern: req.InvoicePattern,
		Limit:          saleSearchLimit + 1,
	})
	if err != nil {
		return domain.SaleSearchResponse{}, err
	}

	truncated := false
	if len(sales) > saleSearchLimit {
		sales = sales[:saleSearchLimit]
		truncated = true
	}
	return domain.SaleSearchResponse{Transactions: sales, Truncated: truncated}, nil
}

func (s *Service) VoidSale(ctx context.Context, saleID string, req domain.VoidSaleRequest) (domain.Transaction, error) {
	actor := actorOrSystem(ctx)
	if actor.Role != domain.RoleAdmin && actor.Role != domain.RoleManager {
		return domain.Transaction{}, fmt.Errorf("manager role required")
	}
	if strings.TrimSpace(req.Reason) == "" {
		req.Reason = "unspecified"
	}

	voided, err := s.repo.VoidSale(ctx, scope(actor), saleID, req.Reason, time.Now().UTC())
	if err != nil {
		return domain.Transaction{}, err
	}

	s.logAudit(ctx, "sale_void", "transaction", saleID, req.Reason)
	return *voided, nil
}

// --- transfers ---

func (s *Service) CreateTransfer(ctx context.Context, req domain.TransferCreateRequest) (domain.TransferResponse, error) {
	actor := actorOrSystem(ctx)

	if req.FromLocationID == "" || req.ToLocationID == "" {
		return domain.TransferResponse{}, fmt.Errorf("%w: both locations are required", store.ErrInvalidRequest)
	}
	if req.FromLocationID == req.ToLocationID {
		return domain.TransferResponse{}, fmt.Errorf("%w: source and destination must differ", store.ErrInvalidRequest)
	}
	if len(req.Items) == 0 {
		return domain.TransferResponse{}, fmt.Errorf("%w: at least one item is required", store.ErrInvalidRequest)
	}

	from, err := s.repo.GetLocationByID(ctx, scope(actor), req.FromLocationID)
	if err != nil {
		return domain.TransferResponse{}, err
	}
	if _, err := s.repo.GetLocationByID(ctx, scope(actor), req.ToLocationID); err != nil {
		return domain.TransferResponse{}, err
	}
	tenantID := from.TenantID

	itemIDs := make([]string, 0, len(req.Items))
	for _, line := range req.Items {
		if line.ItemID == "" || line.Qty < 1 {
			return domain.TransferResponse{}, fmt.Errorf("%w: transfer lines need an item and a positive qty", store.ErrInvalidRequest)
		}
		itemIDs = append(itemIDs, line.ItemID)
	}
	items, err := s.repo.GetItemsByIDs(ctx, tenantID, itemIDs)
	if err != nil {
		return domain.TransferResponse{}, err
	}

	totalItems := 0
	totalValue := int64(0)
	transferItems := make([]domain.TransferItem, 0, len(req.Items))
	for _, line := range req.Items {
		item, ok := items[line.ItemID]
		if !ok {
			return domain.TransferResponse{}, fmt.Errorf("%w: item %s", store.ErrNotFound, line.ItemID)
		}
		totalItems += line.Qty
		totalValue += item.UnitCostCents * int64(line.Qty)
		transferItems = append(transferItems, domain.TransferItem{
			ItemID:        item.ID,
			Name:          item.Name,
			SKU:           item.SKU,
			Barcode:       item.Barcode,
			UnitCostCents: item.UnitCostCents,
			QtySent:       line.Qty,
		})
	}

	created, err := s.repo.CreateTransfer(ctx, domain.InventoryTransfer{
		TenantID:        tenantID,
		FromLocationID:  req.FromLocationID,
		ToLocationID:    req.ToLocationID,
		Reason:          strings.TrimSpace(req.Reason),
		Notes:           strings.TrimSpace(req.Notes),
		TotalItems:      totalItems,
		TotalValueCents: totalValue,
		RequestedBy:     actor.Username,
		RequestedAt:     time.Now().UTC(),
		Items:           transferItems,
	})
	if err != nil {
		return domain.TransferResponse{}, err
	}

	s.logAudit(ctx, "transfer_create", "transfer", created.ID, fmt.Sprintf("number=%s,from=%s,to=%s,items=%d", created.TransferNumber, created.FromLocationID, created.ToLocationID, created.TotalItems))
	return domain.TransferResponse{Transfer: *created}, nil
}

func (s *Service) GetTransfer(ctx context.Context, transferID string) (domain.TransferResponse, error) {
	actor := actorOrSystem(ctx)
	transfer, err := s.repo.GetTransferByID(ctx, scope(actor), transferID)
	if err != nil {
		return domain.TransferResponse{}, err
	}
	return domain.TransferResponse{Transfer: *transfer}, nil
}

func (s *Service) ListTransfers(ctx context.Context, status string, locationID string) (domain.TransferGroupedListResponse, error) {
	actor := actorOrSystem(ctx)

	transfers, err := s.repo.ListTransfers(ctx, scope(actor), store.TransferFilter{
		Status:     status,
		LocationID: locationID,
		Limit:      transferListLimit,
	})
	if err != nil {
		return domain.TransferGroupedListResponse{}, err
	}

	resp := domain.TransferGroupedListResponse{
		Pending:   []domain.InventoryTransfer{},
		InTransit: []domain.InventoryTransfer{},
		Completed: []domain.InventoryTransfer{},
		Cancelled: []domain.InventoryTransfer{},
	}
	for _, transfer := range transfers {
		switch transfer.Status {
		case domain.TransferStatusPending:
			resp.Pending = append(resp.Pending, transfer)
		case domain.TransferStatusApproved, domain.TransferStatusInTransit:
			resp.InTransit = append(resp.InTransit, transfer)
		case domain.TransferStatusReceived, domain.TransferStatusDiscrepancy:
			resp.Completed = append(resp.Completed, transfer)
		case domain.TransferStatusCancelled:
			resp.Cancelled = append(resp.Cancelled, transfer)
		}
	}
	resp.Counts = domain.TransferGroupCounts{
		Pending:   len(resp.Pending),
		InTransit: len(resp.InTransit),
		Completed: len(resp.Completed),
		Cancelled: len(resp.Cancelled),
	}
	return resp, nil
}

func (s *Service) ApproveTransfer(ctx context.Context, transferID string) (domain.TransferResponse, error) {
	actor := actorOrSystem(ctx)
	now := time.Now().UTC()

	transfer, err := s.repo.TransitionTransfer(ctx, scope(actor), transferID,
		[]string{domain.TransferStatusPending},
		domain.TransferStatusApproved,
		store.TransferPatch{ApprovedBy: &actor.Username, ApprovedAt: &now},
		nil)
	if err != nil {
		return domain.TransferResponse{}, err
	}

	s.logAudit(ctx, "transfer_approve", "transfer", transferID, transfer.TransferNumber)
	return domain.TransferResponse{Transfer: *transfer}, nil
}

func (s *Service) ShipTransfer(ctx context.Context, transferID string) (domain.TransferResponse, error) {
	actor := actorOrSystem(ctx)
	now := time.Now().UTC()

	// Shipping straight from PENDING backfills the approval fields: whoever
	// ships an unapproved transfer implicitly approves it.
	transfer, err := s.repo.TransitionTransfer(ctx, scope(actor), transferID,
		[]string{domain.TransferStatusPending, domain.TransferStatusApproved},
		domain.TransferStatusInTransit,
		store.TransferPatch{
			ApprovedBy: &actor.Username, ApprovedAt: &now,
			ShippedBy: &actor.Username, ShippedAt: &now,
		},
		nil)
	if err != nil {
		return domain.TransferResponse{}, err
	}

	s.logAudit(ctx, "transfer_ship", "transfer", transferID, transfer.TransferNumber)
	return domain.TransferResponse{Transfer: *transfer}, nil
}

func (s *Service) ReceiveTransfer(ctx context.Context, transferID string, req domain.TransferReceiveRequest) (domain.TransferResponse, error) {
	actor := actorOrSystem(ctx)
	now := time.Now().UTC()

	current, err := s.repo.GetTransferByID(ctx, scope(actor), transferID)
	if err != nil {
		return domain.TransferResponse{}, err
	}

	receipt := &store.TransferReceipt{
		QtyReceived:     make(map[string]int, len(current.Items)),
		DiscrepancyNote: make(map[string]string),
	}
	reported := make(map[string]domain.TransferReceiveItem, len(req.Items))
	for _, line := range req.Items {
		reported[line.ItemID] = line
	}

	// Quantities the caller does not mention default to what was sent. Any
	// mismatch downgrades the whole transfer to DISCREPANCY.
	targetStatus := domain.TransferStatusReceived
	for _, line := range current.Items {
		received := line.QtySent
		if rep, ok := reported[line.ItemID]; ok {
			if rep.QtyReceived != nil {
				if *rep.QtyReceived < 0 {
					return domain.TransferResponse{}, fmt.Errorf("%w: received qty cannot be negative", store.ErrInvalidRequest)
				}
				received = *rep.QtyReceived
			}
			if note := strings.TrimSpace(rep.DiscrepancyNote); note != "" {
				receipt.DiscrepancyNote[line.ItemID] = note
			}
		}
		receipt.QtyReceived[line.ItemID] = received
		if received != line.QtySent {
			targetStatus = domain.TransferStatusDiscrepancy
		}
	}

	patch := store.TransferPatch{ReceivedBy: &actor.Username, ReceivedAt: &now}
	if notes := strings.TrimSpace(req.Notes); notes != "" {
		patch.Notes = &notes
	}

	transfer, err := s.repo.TransitionTransfer(ctx, scope(actor), transferID,
		[]string{domain.TransferStatusInTransit},
		targetStatus,
		patch,
		receipt)
	if err != nil {
		return domain.TransferResponse{}, err
	}

	s.logAudit(ctx, "transfer_receive", "transfer", transferID, fmt.Sprintf("number=%s,status=%s", transfer.TransferNumber, transfer.Status))
	return domain.TransferResponse{Transfer: *transfer}, nil
}

func (s *Service) CancelTransfer(ctx context.Context, transferID string, req domain.TransferCancelRequest) (domain.TransferResponse, error) {
	actor := actorOrSystem(ctx)

	patch := store.TransferPatch{}
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		patch.Notes = &reason
	}

	transfer, err := s.repo.TransitionTransfer(ctx, scope(actor), transferID,
		[]string{domain.TransferStatusPending, domain.TransferStatusApproved, domain.TransferStatusInTransit},
		domain.TransferStatusCancelled,
		patch,
		nil)
	if err != nil {
		return domain.TransferResponse{}, err
	}

	s.logAudit(ctx, "transfer_cancel", "transfer", transferID, transfer.TransferNumber)
	return domain.TransferResponse{Transfer: *transfer}, nil
}

// --- suppliers & purchase orders ---

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	actor := actorOrSystem(ctx)

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Supplier{}, fmt.Errorf("%w: supplier name is required", store.ErrInvalidRequest)
	}

	created, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		TenantID: actor.TenantID,
		Name:     req.Name,
		Phone:    strings.TrimSpace(req.Phone),
	})
	if err != nil {
		return domain.Supplier{}, err
	}

	s.logAudit(ctx, "supplier_create", "supplier", created.ID, created.Name)
	return *created, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	actor := actorOrSystem(ctx)
	return s.repo.ListSuppliers(ctx, scope(actor))
}

func (s *Service) CreatePurchaseOrder(ctx context.Context, req domain.PurchaseOrderCreateRequest) (domain.PurchaseOrderResponse, error) {
	actor := actorOrSystem(ctx)

	if req.SupplierID == "" || len(req.Items) == 0 {
		return domain.PurchaseOrderResponse{}, store.ErrInvalidRequest
	}
	for _, item := range req.Items {
		if item.ItemID == "" || item.Qty < 1 || item.UnitCostCents < 1 {
			return domain.PurchaseOrderResponse{}, store.ErrInvalidRequest
		}
	}

	created, err := s.repo.CreatePurchaseOrder(ctx, domain.PurchaseOrder{
		TenantID:   actor.TenantID,
		SupplierID: req.SupplierID,
		LocationID: req.LocationID,
		Status:     domain.POStatusDraft,
		Items:      req.Items,
	})
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}

	s.logAudit(ctx, "po_create", "purchase_order", created.ID, fmt.Sprintf("supplier=%s,items=%d", created.SupplierID, len(created.Items)))
	return domain.PurchaseOrderResponse{PurchaseOrder: *created}, nil
}

func (s *Service) GetPurchaseOrder(ctx context.Context, purchaseOrderID string) (domain.PurchaseOrderResponse, error) {
	actor := actorOrSystem(ctx)
	po, err := s.repo.GetPurchaseOrderByID(ctx, scope(actor), purchaseOrderID)
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	return domain.PurchaseOrderResponse{PurchaseOrder: *po}, nil
}

func (s *Service) ListPurchaseOrders(ctx context.Context, status string) (domain.PurchaseOrderListResponse, error) {
	actor := actorOrSystem(ctx)
	orders, err := s.repo.ListPurchaseOrders(ctx, scope(actor), status, 50)
	if err != nil {
		return domain.PurchaseOrderListResponse{}, err
	}
	return domain.PurchaseOrderListResponse{PurchaseOrders: orders}, nil
}

func (s *Service) UpdatePurchaseOrder(ctx context.Context, purchaseOrderID string, req domain.PurchaseOrderUpdateRequest) (domain.PurchaseOrderResponse, error) {
	actor := actorOrSystem(ctx)

	existing, err := s.repo.GetPurchaseOrderByID(ctx, scope(actor), purchaseOrderID)
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}

	updated := *existing
	if req.SupplierID != nil {
		if *req.SupplierID == "" {
			return domain.PurchaseOrderResponse{}, store.ErrInvalidRequest
		}
		updated.SupplierID = *req.SupplierID
	}
	if req.LocationID != nil {
		updated.LocationID = *req.LocationID
	}
	if len(req.Items) > 0 {
		updated.Items = req.Items
	}

	saved, err := s.repo.UpdatePurchaseOrder(ctx, scope(actor), updated)
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}

	s.logAudit(ctx, "po_update", "purchase_order", saved.ID, fmt.Sprintf("supplier=%s,items=%d", saved.SupplierID, len(saved.Items)))
	return domain.PurchaseOrderResponse{PurchaseOrder: *saved}, nil
}

func (s *Service) DeletePurchaseOrder(ctx context.Context, purchaseOrderID string) error {
	actor := actorOrSystem(ctx)

	if err := s.repo.DeletePurchaseOrder(ctx, scope(actor), purchaseOrderID); err != nil {
		return err
	}

	s.logAudit(ctx, "po_delete", "purchase_order", purchaseOrderID, "")
	return nil
}

func (s *Service) ReceivePurchaseOrder(ctx context.Context, purchaseOrderID string) (domain.PurchaseOrderResponse, error) {
	actor := actorOrSystem(ctx)

	received, err := s.repo.ReceivePurchaseOrder(ctx, scope(actor), purchaseOrderID, actor.Username, time.Now().UTC())
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}

	s.logAudit(ctx, "po_receive", "purchase_order", purchaseOrderID, fmt.Sprintf("items=%d", len(received.Items)))
	return domain.PurchaseOrderResponse{PurchaseOrder: *received}, nil
}

// --- audit ---

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	actor := actorOrSystem(ctx)

	day := time.Now().UTC()
	if date != "" {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid date %q", store.ErrInvalidRequest, date)
		}
		day = parsed
	}
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, scope(actor), from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor := actorOrSystem(ctx)

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            uuid.NewString(),
		TenantID:      actor.TenantID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

// --- helpers ---

func validateLineItem(line domain.LineItem) (domain.LineItem, error) {
	switch line.Kind {
	case domain.LineItemKindService:
		if line.ServiceID == "" || line.ProductID != "" {
			return domain.LineItem{}, fmt.Errorf("%w: service lines reference exactly one service", store.ErrInvalidRequest)
		}
	case domain.LineItemKindProduct:
		if line.ProductID == "" || line.ServiceID != "" {
			return domain.LineItem{}, fmt.Errorf("%w: product lines reference exactly one product", store.ErrInvalidRequest)
		}
	default:
		return domain.LineItem{}, fmt.Errorf("%w: unknown line item kind %q", store.ErrInvalidRequest, line.Kind)
	}
	if line.Qty < 1 {
		return domain.LineItem{}, fmt.Errorf("%w: qty must be positive", store.ErrInvalidRequest)
	}
	if line.UnitPriceCents < 1 {
		return domain.LineItem{}, fmt.Errorf("%w: unit price must be positive", store.ErrInvalidRequest)
	}
	if line.DiscountPercent < 0 || line.DiscountPercent > 100 {
		return domain.LineItem{}, fmt.Errorf("%w: discount must be between 0 and 100", store.ErrInvalidRequest)
	}
	return line, nil
}

// lineTotalCents computes price x qty x (1 - discount/100), rounded half up
// to whole cents.
func lineTotalCents(unitPriceCents int64, qty int, discountPercent float64) int64 {
	gross := decimal.NewFromInt(unitPriceCents).Mul(decimal.NewFromInt(int64(qty)))
	if discountPercent == 0 {
		return gross.IntPart()
	}
	factor := decimal.NewFromInt(100).Sub(decimal.NewFromFloat(discountPercent)).Div(decimal.NewFromInt(100))
	return gross.Mul(factor).Round(0).IntPart()
}

func maskCardNumber(cardNumber string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, cardNumber)
	if len(digits) < 4 {
		return ""
	}
	return digits[len(digits)-4:]
}

func toSaleResponse(tx *domain.Transaction, duplicate bool) domain.SaleResponse {
	return domain.SaleResponse{
		TransactionID:   tx.ID,
		InvoiceNumber:   tx.InvoiceNumber,
		Status:          tx.Status,
		PaymentMethod:   tx.PaymentMethod,
		SubtotalCents:   tx.SubtotalCents,
		TaxCents:        tx.TaxCents,
		TipCents:        tx.TipCents,
		TotalCents:      tx.TotalCents,
		CashAmountCents: tx.CashAmountCents,
		CardAmountCents: tx.CardAmountCents,
		CardLast4:       tx.CardLast4,
		ItemCount:       len(tx.Items),
		Items:           tx.Items,
		Duplicate:       duplicate,
		CreatedAt:       tx.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentCash, domain.PaymentCreditCard, domain.PaymentDebitCard,
		domain.PaymentSplit, domain.PaymentGiftCard, domain.PaymentEBT:
		return true
	}
	return false
}
