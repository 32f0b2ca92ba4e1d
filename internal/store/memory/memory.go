package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"salonpos/backend/internal/domain"
	"salonpos/backend/internal/store"
)

type Store struct {
	mu              sync.RWMutex
	itemsByID       map[string]domain.Item
	locationsByID   map[string]domain.Location
	salesByID       map[string]*domain.Transaction
	salesByIdem     map[string]*domain.Transaction
	idemRecords     map[string]domain.IdempotencyRecord
	transfersByID   map[string]*domain.InventoryTransfer
	suppliersByID   map[string]domain.Supplier
	poByID          map[string]domain.PurchaseOrder
	stockMovements  []domain.StockMovement
	auditLogs       []domain.AuditLog
	sequences       map[string]int64
	usersByUsername map[string]domain.UserAccount
}

const seedTenant = "tenant-demo"

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"manager", staffPwd, domain.RoleManager},
		{"staff", staffPwd, domain.RoleStaff},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			TenantID:  seedTenant,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		itemsByID:       make(map[string]domain.Item),
		locationsByID:   make(map[string]domain.Location),
		salesByID:       make(map[string]*domain.Transaction),
		salesByIdem:     make(map[string]*domain.Transaction),
		idemRecords:     make(map[string]domain.IdempotencyRecord),
		transfersByID:   make(map[string]*domain.InventoryTransfer),
		suppliersByID:   make(map[string]domain.Supplier),
		poByID:          make(map[string]domain.PurchaseOrder),
		stockMovements:  make([]domain.StockMovement, 0, 128),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		sequences:       make(map[string]int64),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	items := []domain.Item{
		{ID: "item-shampoo", TenantID: seedTenant, Name: "Keratin Shampoo 500ml", SKU: "RET-SHAMPOO-01", Barcode: "8400001", UnitCostCents: 850, UnitPriceCents: 2200, Stock: 40, Active: true, CreatedAt: now},
		{ID: "item-conditioner", TenantID: seedTenant, Name: "Argan Conditioner 500ml", SKU: "RET-COND-01", Barcode: "8400002", UnitCostCents: 900, UnitPriceCents: 2400, Stock: 36, Active: true, CreatedAt: now},
		{ID: "item-serum", TenantID: seedTenant, Name: "Repair Serum 50ml", SKU: "RET-SERUM-01", Barcode: "8400003", UnitCostCents: 1400, UnitPriceCents: 3800, Stock: 24, Active: true, CreatedAt: now},
		{ID: "item-polish", TenantID: seedTenant, Name: "Gel Polish Ruby", SKU: "RET-POLISH-01", Barcode: "8400004", UnitCostCents: 300, UnitPriceCents: 1200, Stock: 60, Active: true, CreatedAt: now},
		{ID: "item-wax", TenantID: seedTenant, Name: "Styling Wax 100g", SKU: "RET-WAX-01", Barcode: "8400005", UnitCostCents: 500, UnitPriceCents: 1600, Stock: 30, Active: true, CreatedAt: now},
		{ID: "item-oil", TenantID: seedTenant, Name: "Cuticle Oil 15ml", SKU: "RET-OIL-01", Barcode: "8400006", UnitCostCents: 250, UnitPriceCents: 900, Stock: 50, Active: true, CreatedAt: now},
	}
	locations := []domain.Location{
		{ID: "loc-downtown", TenantID: seedTenant, Name: "Downtown Salon", Address: "12 Main St", Active: true, CreatedAt: now},
		{ID: "loc-uptown", TenantID: seedTenant, Name: "Uptown Salon", Address: "480 Hill Ave", Active: true, CreatedAt: now},
		{ID: "loc-warehouse", TenantID: seedTenant, Name: "Central Warehouse", Address: "3 Depot Rd", Active: true, CreatedAt: now},
	}

	s := New()
	for _, item := range items {
		s.itemsByID[item.ID] = item
	}
	for _, loc := range locations {
		s.locationsByID[loc.ID] = loc
	}
	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) ListItems(_ context.Context, tenantID string) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Item, 0, len(s.itemsByID))
	for _, item := range s.itemsByID {
		if tenantID != "" && item.TenantID != tenantID {
			continue
		}
		if !item.Active {
			continue
		}
		items = append(items, item)
	}

	slices.SortFunc(items, func(a, b domain.Item) int {
		return cmpString(a.Name, b.Name)
	})

	return items, nil
}

func (s *Store) CreateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	if item.TenantID == "" || item.Name == "" || item.SKU == "" || item.UnitPriceCents < 1 {
		return nil, store.ErrInvalidRequest
	}
	if item.Stock < 0 {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	for _, existing := range s.itemsByID {
		if existing.TenantID == item.TenantID && existing.SKU == item.SKU {
			return nil, store.ErrInvalidRequest
		}
	}

	item.Active = true
	s.itemsByID[item.ID] = item
	created := item
	return &created, nil
}

func (s *Store) GetItemByID(_ context.Context, tenantID string, itemID string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.itemsByID[itemID]
	if !ok || (tenantID != "" && item.TenantID != tenantID) {
		return nil, store.ErrNotFound
	}
	copyItem := item
	return &copyItem, nil
}

func (s *Store) GetItemsByIDs(_ context.Context, tenantID string, itemIDs []string) (map[string]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Item, len(itemIDs))
	for _, id := range itemIDs {
		item, ok := s.itemsByID[id]
		if !ok || !item.Active {
			continue
		}
		if tenantID != "" && item.TenantID != tenantID {
			continue
		}
		result[id] = item
	}
	return result, nil
}

func (s *Store) AdjustStock(_ context.Context, tenantID string, itemID string, delta int, movement domain.StockMovement) (*domain.Item, error) {
	if delta == 0 {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.itemsByID[itemID]
	if !ok || (tenantID != "" && item.TenantID != tenantID) {
		return nil, store.ErrNotFound
	}
	if delta < 0 && item.Stock+delta < 0 {
		return nil, store.ErrInsufficientStock
	}

	item.Stock += delta
	s.itemsByID[itemID] = item
	s.appendMovementLocked(item.TenantID, itemID, delta, movement)

	updated := item
	return &updated, nil
}

func (s *Store) ListStockMovements(_ context.Context, tenantID string, itemID string, limit int) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockMovement, 0, 64)
	for _, mv := range s.stockMovements {
		if tenantID != "" && mv.TenantID != tenantID {
			continue
		}
		if itemID != "" && mv.ItemID != itemID {
			continue
		}
		result = append(result, mv)
	}
	slices.SortFunc(result, func(a, b domain.StockMovement) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateLocation(_ context.Context, loc domain.Location) (*domain.Location, error) {
	loc.Name = strings.TrimSpace(loc.Name)
	if loc.TenantID == "" || loc.Name == "" {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if loc.ID == "" {
		loc.ID = uuid.NewString()
	}
	if loc.CreatedAt.IsZero() {
		loc.CreatedAt = time.Now().UTC()
	}
	loc.Active = true
	s.locationsByID[loc.ID] = loc
	created := loc
	return &created, nil
}

func (s *Store) GetLocationByID(_ context.Context, tenantID string, locationID string) (*domain.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loc, ok := s.locationsByID[locationID]
	if !ok || (tenantID != "" && loc.TenantID != tenantID) {
		return nil, store.ErrNotFound
	}
	copyLoc := loc
	return &copyLoc, nil
}

func (s *Store) ListLocations(_ context.Context, tenantID string) ([]domain.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	locations := make([]domain.Location, 0, len(s.locationsByID))
	for _, loc := range s.locationsByID {
		if tenantID != "" && loc.TenantID != tenantID {
			continue
		}
		if !loc.Active {
			continue
		}
		locations = append(locations, loc)
	}
	slices.SortFunc(locations, func(a, b domain.Location) int {
		return cmpString(a.Name, b.Name)
	})
	return locations, nil
}

func (s *Store) CreateSale(_ context.Context, tx domain.Transaction, allowOversell bool) (*domain.Transaction, error) {
	if tx.TenantID == "" || len(tx.Items) == 0 {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.IdempotencyKey != "" {
		if existing, ok := s.salesByIdem[idemMapKey(tx.TenantID, tx.IdempotencyKey)]; ok {
			return cloneSale(existing), nil
		}
	}

	// Verify stock for every tracked product line before mutating anything,
	// so a failing sale leaves no partial writes behind.
	type decrement struct {
		itemID string
		qty    int
	}
	decrements := make([]decrement, 0, len(tx.Items))
	for _, line := range tx.Items {
		if line.Kind != domain.LineItemKindProduct || domain.AdHocProductID(line.ProductID) {
			continue
		}
		item, ok := s.itemsByID[line.ProductID]
		if !ok || !item.Active || item.TenantID != tx.TenantID {
			return nil, fmt.Errorf("%w: product %s unavailable", store.ErrInvalidRequest, line.ProductID)
		}
		if !allowOversell && item.Stock-line.Qty < 0 {
			return nil, store.ErrInsufficientStock
		}
		decrements = append(decrements, decrement{itemID: line.ProductID, qty: line.Qty})
	}

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	if tx.Status == "" {
		tx.Status = domain.TxStatusCompleted
	}
	tx.InvoiceNumber = s.nextSequenceLocked(tx.TenantID, "invoice")

	for _, dec := range decrements {
		item := s.itemsByID[dec.itemID]
		item.Stock -= dec.qty
		s.itemsByID[dec.itemID] = item
		s.appendMovementLocked(tx.TenantID, dec.itemID, -dec.qty, domain.StockMovement{
			Kind:  domain.MovementSale,
			RefID: tx.ID,
		})
	}

	txCopy := cloneSale(&tx)
	s.salesByID[tx.ID] = txCopy
	if tx.IdempotencyKey != "" {
		s.salesByIdem[idemMapKey(tx.TenantID, tx.IdempotencyKey)] = txCopy
	}

	return cloneSale(txCopy), nil
}

func (s *Store) FindSaleByID(_ context.Context, tenantID string, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.salesByID[id]
	if !ok || (tenantID != "" && tx.TenantID != tenantID) {
		return nil, store.ErrNotFound
	}
	return cloneSale(tx), nil
}

func (s *Store) CountDailySequence(_ context.Context, tenantID string, at time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dayStart := dateUTC(at)
	dayEnd := dayStart.Add(24 * time.Hour)
	count := 0
	for _, tx := range s.salesByID {
		if tx.TenantID != tenantID {
			continue
		}
		if tx.CreatedAt.Before(dayStart) || !tx.CreatedAt.Before(dayEnd) {
			continue
		}
		if tx.CreatedAt.After(at) {
			continue
		}
		count++
	}
	return count, nil
}

func (s *Store) SearchSales(_ context.Context, tenantID string, filter store.SaleFilter) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, 64)
	for _, tx := range s.salesByID {
		if tenantID != "" && tx.TenantID != tenantID {
			continue
		}
		if filter.From != nil && tx.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && tx.CreatedAt.After(*filter.To) {
			continue
		}
		if filter.ClientID != "" && tx.ClientID != filter.ClientID {
			continue
		}
		if filter.MinTotalCents != nil && tx.TotalCents < *filter.MinTotalCents {
			continue
		}
		if filter.MaxTotalCents != nil && tx.TotalCents > *filter.MaxTotalCents {
			continue
		}
		if filter.PaymentMethod != "" && tx.PaymentMethod != filter.PaymentMethod {
			continue
		}
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		if filter.InvoicePattern != "" && !strings.Contains(fmt.Sprintf("%d", tx.InvoiceNumber), filter.InvoicePattern) {
			continue
		}
		result = append(result, *cloneSale(tx))
	}

	slices.SortFunc(result, func(a, b domain.Transaction) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) VoidSale(_ context.Context, tenantID string, id string, reason string, at time.Time) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.salesByID[id]
	if !ok || (tenantID != "" && tx.TenantID != tenantID) {
		return nil, store.ErrNotFound
	}
	if tx.Status != domain.TxStatusCompleted {
		return nil, &store.WrongStatusError{Current: tx.Status, Expected: []string{domain.TxStatusCompleted}}
	}

	for _, line := range tx.Items {
		if line.Kind != domain.LineItemKindProduct || domain.AdHocProductID(line.ProductID) {
			continue
		}
		item, exists := s.itemsByID[line.ProductID]
		if !exists {
			continue
		}
		item.Stock += line.Qty
		s.itemsByID[line.ProductID] = item
		s.appendMovementLocked(tx.TenantID, line.ProductID, line.Qty, domain.StockMovement{
			Kind:  domain.MovementVoid,
			RefID: tx.ID,
			Note:  reason,
		})
	}

	tx.Status = domain.TxStatusVoided
	tx.VoidReason = reason
	tx.VoidedAt = &at

	return cloneSale(tx), nil
}

func (s *Store) FindIdempotencyRecord(_ context.Context, tenantID string, key string) (*domain.IdempotencyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.idemRecords[idemMapKey(tenantID, key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyRec := rec
	copyRec.ResponseJSON = slices.Clone(rec.ResponseJSON)
	return &copyRec, nil
}

func (s *Store) CreateIdempotencyRecord(_ context.Context, rec domain.IdempotencyRecord) error {
	if rec.Key == "" || rec.TenantID == "" {
		return store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mapKey := idemMapKey(rec.TenantID, rec.Key)
	if _, exists := s.idemRecords[mapKey]; exists {
		return store.ErrDuplicateKey
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.ResponseJSON = slices.Clone(rec.ResponseJSON)
	s.idemRecords[mapKey] = rec
	return nil
}

func (s *Store) CreateTransfer(_ context.Context, transfer domain.InventoryTransfer) (*domain.InventoryTransfer, error) {
	if transfer.TenantID == "" || len(transfer.Items) == 0 {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if transfer.ID == "" {
		transfer.ID = uuid.NewString()
	}
	if transfer.RequestedAt.IsZero() {
		transfer.RequestedAt = time.Now().UTC()
	}
	transfer.Status = domain.TransferStatusPending
	transfer.TransferNumber = fmt.Sprintf("TR-%04d", s.nextSequenceLocked(transfer.TenantID, "transfer"))

	stored := cloneTransfer(&transfer)
	s.transfersByID[transfer.ID] = stored
	return cloneTransfer(stored), nil
}

func (s *Store) GetTransferByID(_ context.Context, tenantID string, transferID string) (*domain.InventoryTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	transfer, ok := s.transfersByID[transferID]
	if !ok || (tenantID != "" && transfer.TenantID != tenantID) {
		return nil, store.ErrNotFound
	}
	return cloneTransfer(transfer), nil
}

func (s *Store) ListTransfers(_ context.Context, tenantID string, filter store.TransferFilter) ([]domain.InventoryTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.InventoryTransfer, 0, 32)
	for _, transfer := range s.transfersByID {
		if tenantID != "" && transfer.TenantID != tenantID {
			continue
		}
		if filter.Status != "" && transfer.Status != filter.Status {
			continue
		}
		if filter.LocationID != "" && transfer.FromLocationID != filter.LocationID && transfer.ToLocationID != filter.LocationID {
			continue
		}
		result = append(result, *cloneTransfer(transfer))
	}
	slices.SortFunc(result, func(a, b domain.InventoryTransfer) int {
		if a.RequestedAt.Equal(b.RequestedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.RequestedAt.After(b.RequestedAt) {
			return -1
		}
		return 1
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) TransitionTransfer(_ context.Context, tenantID string, transferID string, fromStatuses []string, toStatus string, patch store.TransferPatch, receipt *store.TransferReceipt) (*domain.InventoryTransfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	transfer, ok := s.transfersByID[transferID]
	if !ok || (tenantID != "" && transfer.TenantID != tenantID) {
		return nil, store.ErrNotFound
	}
	if !slices.Contains(fromStatuses, transfer.Status) {
		return nil, &store.WrongStatusError{Current: transfer.Status, Expected: fromStatuses}
	}

	priorStatus := transfer.Status

	switch toStatus {
	case domain.TransferStatusInTransit:
		for i := range transfer.Items {
			line := &transfer.Items[i]
			item, exists := s.itemsByID[line.ItemID]
			if !exists {
				continue
			}
			item.Stock -= line.QtySent
			s.itemsByID[line.ItemID] = item
			s.appendMovementLocked(transfer.TenantID, line.ItemID, -line.QtySent, domain.StockMovement{
				Kind:  domain.MovementTransferOut,
				RefID: transfer.ID,
			})
		}
	case domain.TransferStatusReceived, domain.TransferStatusDiscrepancy:
		for i := range transfer.Items {
			line := &transfer.Items[i]
			received := line.QtySent
			if receipt != nil {
				if qty, has := receipt.QtyReceived[line.ItemID]; has {
					received = qty
				}
				if note, has := receipt.DiscrepancyNote[line.ItemID]; has {
					line.DiscrepancyNote = note
				}
			}
			recCopy := received
			line.QtyReceived = &recCopy
			if received == 0 {
				continue
			}
			item, exists := s.itemsByID[line.ItemID]
			if !exists {
				continue
			}
			item.Stock += received
			s.itemsByID[line.ItemID] = item
			s.appendMovementLocked(transfer.TenantID, line.ItemID, received, domain.StockMovement{
				Kind:  domain.MovementTransferIn,
				RefID: transfer.ID,
			})
		}
	case domain.TransferStatusCancelled:
		if priorStatus == domain.TransferStatusInTransit {
			for _, line := range transfer.Items {
				item, exists := s.itemsByID[line.ItemID]
				if !exists {
					continue
				}
				item.Stock += line.QtySent
				s.itemsByID[line.ItemID] = item
				s.appendMovementLocked(transfer.TenantID, line.ItemID, line.QtySent, domain.StockMovement{
					Kind:  domain.MovementTransferReversal,
					RefID: transfer.ID,
				})
			}
		}
	}

	transfer.Status = toStatus
	applyTransferPatch(transfer, patch)

	return cloneTransfer(transfer), nil
}

// applyTransferPatch writes patch fields only where the stored value is still
// empty, so concurrent transitions keep the first recorded actor.
func applyTransferPatch(transfer *domain.InventoryTransfer, patch store.TransferPatch) {
	if patch.ApprovedBy != nil && transfer.ApprovedBy == "" {
		transfer.ApprovedBy = *patch.ApprovedBy
	}
	if patch.ApprovedAt != nil && transfer.ApprovedAt == nil {
		at := *patch.ApprovedAt
		transfer.ApprovedAt = &at
	}
	if patch.ShippedBy != nil && transfer.ShippedBy == "" {
		transfer.ShippedBy = *patch.ShippedBy
	}
	if patch.ShippedAt != nil && transfer.ShippedAt == nil {
		at := *patch.ShippedAt
		transfer.ShippedAt = &at
	}
	if patch.ReceivedBy != nil && transfer.ReceivedBy == "" {
		transfer.ReceivedBy = *patch.ReceivedBy
	}
	if patch.ReceivedAt != nil && transfer.ReceivedAt == nil {
		at := *patch.ReceivedAt
		transfer.ReceivedAt = &at
	}
	if patch.Notes != nil && *patch.Notes != "" {
		transfer.Notes = *patch.Notes
	}
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	supplier.Name = strings.TrimSpace(supplier.Name)
	if supplier.TenantID == "" || supplier.Name == "" {
		return nil, store.ErrInvalidRequest
	}
	if supplier.ID == "" {
		supplier.ID = uuid.NewString()
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}

	s.suppliersByID[supplier.ID] = supplier
	copySupplier := supplier
	return &copySupplier, nil
}

func (s *Store) ListSuppliers(_ context.Context, tenantID string) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.suppliersByID))
	for _, supplier := range s.suppliersByID {
		if tenantID != "" && supplier.TenantID != tenantID {
			continue
		}
		suppliers = append(suppliers, supplier)
	}
	slices.SortFunc(suppliers, func(a, b domain.Supplier) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.Name, b.Name)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return suppliers, nil
}

func (s *Store) CreatePurchaseOrder(_ context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if po.TenantID == "" || po.SupplierID == "" || len(po.Items) == 0 {
		return nil, store.ErrInvalidRequest
	}
	if supplier, exists := s.suppliersByID[po.SupplierID]; !exists || supplier.TenantID != po.TenantID {
		return nil, store.ErrNotFound
	}
	for _, item := range po.Items {
		if item.ItemID == "" || item.Qty < 1 || item.UnitCostCents < 1 {
			return nil, store.ErrInvalidRequest
		}
	}
	if po.ID == "" {
		po.ID = uuid.NewString()
	}
	if po.CreatedAt.IsZero() {
		po.CreatedAt = time.Now().UTC()
	}
	if po.Status == "" {
		po.Status = domain.POStatusDraft
	}

	s.poByID[po.ID] = clonePurchaseOrder(po)
	saved := clonePurchaseOrder(s.poByID[po.ID])
	return &saved, nil
}

func (s *Store) GetPurchaseOrderByID(_ context.Context, tenantID string, purchaseOrderID string) (*domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	po, exists := s.poByID[purchaseOrderID]
	if !exists || (tenantID != "" && po.TenantID != tenantID) {
		return nil, store.ErrNotFound
	}
	copyPO := clonePurchaseOrder(po)
	return &copyPO, nil
}

func (s *Store) ListPurchaseOrders(_ context.Context, tenantID string, status string, limit int) ([]domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.PurchaseOrder, 0, len(s.poByID))
	for _, po := range s.poByID {
		if tenantID != "" && po.TenantID != tenantID {
			continue
		}
		if status != "" && po.Status != status {
			continue
		}
		result = append(result, clonePurchaseOrder(po))
	}
	slices.SortFunc(result, func(a, b domain.PurchaseOrder) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) UpdatePurchaseOrder(_ context.Context, tenantID string, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.poByID[po.ID]
	if !exists || (tenantID != "" && existing.TenantID != tenantID) {
		return nil, store.ErrNotFound
	}
	if existing.Status != domain.POStatusDraft {
		return nil, &store.WrongStatusError{Current: existing.Status, Expected: []string{domain.POStatusDraft}}
	}
	for _, item := range po.Items {
		if item.ItemID == "" || item.Qty < 1 || item.UnitCostCents < 1 {
			return nil, store.ErrInvalidRequest
		}
	}

	existing.SupplierID = po.SupplierID
	existing.LocationID = po.LocationID
	existing.Items = po.Items
	s.poByID[po.ID] = clonePurchaseOrder(existing)
	saved := clonePurchaseOrder(s.poByID[po.ID])
	return &saved, nil
}

func (s *Store) DeletePurchaseOrder(_ context.Context, tenantID string, purchaseOrderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	po, exists := s.poByID[purchaseOrderID]
	if !exists || (tenantID != "" && po.TenantID != tenantID) {
		return store.ErrNotFound
	}
	if po.Status != domain.POStatusDraft {
		return &store.WrongStatusError{Current: po.Status, Expected: []string{domain.POStatusDraft}}
	}
	delete(s.poByID, purchaseOrderID)
	return nil
}

func (s *Store) ReceivePurchaseOrder(_ context.Context, tenantID string, purchaseOrderID string, receivedBy string, receivedAt time.Time) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	po, exists := s.poByID[purchaseOrderID]
	if !exists || (tenantID != "" && po.TenantID != tenantID) {
		return nil, store.ErrNotFound
	}
	if po.Status != domain.POStatusDraft {
		return nil, &store.WrongStatusError{Current: po.Status, Expected: []string{domain.POStatusDraft}}
	}
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	for _, item := range po.Items {
		stockItem, ok := s.itemsByID[item.ItemID]
		if !ok || stockItem.TenantID != po.TenantID {
			return nil, fmt.Errorf("%w: item %s unavailable", store.ErrInvalidRequest, item.ItemID)
		}
		stockItem.Stock += item.Qty
		s.itemsByID[item.ItemID] = stockItem
		s.appendMovementLocked(po.TenantID, item.ItemID, item.Qty, domain.StockMovement{
			Kind:  domain.MovementPurchaseOrder,
			RefID: po.ID,
		})
	}

	po.Status = domain.POStatusReceived
	po.ReceivedBy = strings.TrimSpace(receivedBy)
	if po.ReceivedBy == "" {
		po.ReceivedBy = "system"
	}
	po.ReceivedAt = &receivedAt
	s.poByID[purchaseOrderID] = po
	updated := clonePurchaseOrder(po)
	return &updated, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, tenantID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if tenantID != "" && entry.TenantID != tenantID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRequest
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidRequest
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.usersByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyUser := user
	return &copyUser, nil
}

// appendMovementLocked records a stock mutation in the movement ledger.
// Callers must hold s.mu.
func (s *Store) appendMovementLocked(tenantID string, itemID string, delta int, mv domain.StockMovement) {
	mv.ID = uuid.NewString()
	mv.TenantID = tenantID
	mv.ItemID = itemID
	mv.Delta = delta
	if mv.CreatedAt.IsZero() {
		mv.CreatedAt = time.Now().UTC()
	}
	s.stockMovements = append(s.stockMovements, mv)
}

func (s *Store) nextSequenceLocked(tenantID string, name string) int64 {
	key := tenantID + "::" + name
	s.sequences[key]++
	return s.sequences[key]
}

func idemMapKey(tenantID string, key string) string {
	return tenantID + "::" + key
}

func dateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneSale(src *domain.Transaction) *domain.Transaction {
	if src == nil {
		return nil
	}
	dup := *src
	dupItems := make([]domain.LineItem, len(src.Items))
	copy(dupItems, src.Items)
	dup.Items = dupItems
	if src.VoidedAt != nil {
		at := *src.VoidedAt
		dup.VoidedAt = &at
	}
	return &dup
}

func cloneTransfer(src *domain.InventoryTransfer) *domain.InventoryTransfer {
	if src == nil {
		return nil
	}
	dup := *src
	dupItems := make([]domain.TransferItem, len(src.Items))
	copy(dupItems, src.Items)
	for i := range dupItems {
		if dupItems[i].QtyReceived != nil {
			qty := *dupItems[i].QtyReceived
			dupItems[i].QtyReceived = &qty
		}
	}
	dup.Items = dupItems
	if src.ApprovedAt != nil {
		at := *src.ApprovedAt
		dup.ApprovedAt = &at
	}
	if src.ShippedAt != nil {
		at := *src.ShippedAt
		dup.ShippedAt = &at
	}
	if src.ReceivedAt != nil {
		at := *src.ReceivedAt
		dup.ReceivedAt = &at
	}
	return &dup
}

func clonePurchaseOrder(src domain.PurchaseOrder) domain.PurchaseOrder {
	dup := src
	items := make([]domain.PurchaseOrderItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	if src.ReceivedAt != nil {
		at := *src.ReceivedAt
		dup.ReceivedAt = &at
	}
	return dup
}
