package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"salonpos/backend/internal/domain"
	"salonpos/backend/internal/store"
)

func seedItem(t *testing.T, s *Store, id string, stock int) {
	t.Helper()
	_, err := s.CreateItem(context.Background(), domain.Item{
		ID:             id,
		TenantID:       seedTenant,
		Name:           "Test Item " + id,
		SKU:            "SKU-" + id,
		UnitCostCents:  100,
		UnitPriceCents: 300,
		Stock:          stock,
	})
	if err != nil {
		t.Fatalf("seed item %s: %v", id, err)
	}
}

func saleFor(itemID string, qty int, idemKey string) domain.Transaction {
	return domain.Transaction{
		TenantID:       seedTenant,
		EmployeeID:     "staff",
		PaymentMethod:  domain.PaymentCash,
		IdempotencyKey: idemKey,
		Items: []domain.LineItem{
			{Kind: domain.LineItemKindProduct, ProductID: itemID, Qty: qty, UnitPriceCents: 300, TotalCents: int64(qty) * 300},
		},
	}
}

func TestConcurrentLastUnitSale(t *testing.T) {
	s := New()
	seedItem(t, s, "race-item", 1)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = s.CreateSale(context.Background(), saleFor("race-item", 1, fmt.Sprintf("race-%d", n)), false)
		}(i)
	}
	wg.Wait()

	okCount := 0
	for _, err := range errs {
		if err == nil {
			okCount++
		} else if !errors.Is(err, store.ErrInsufficientStock) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if okCount != 1 {
		t.Fatalf("exactly one sale should win the last unit, got %d", okCount)
	}

	item, err := s.GetItemByID(context.Background(), seedTenant, "race-item")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.Stock != 0 {
		t.Fatalf("expected stock 0, got %d", item.Stock)
	}
}

func TestConcurrentIdempotentSaleDecrementsOnce(t *testing.T) {
	s := New()
	seedItem(t, s, "idem-item", 10)

	const workers = 8
	var wg sync.WaitGroup
	ids := make([]string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			tx, err := s.CreateSale(context.Background(), saleFor("idem-item", 2, "same-key"), false)
			if err != nil {
				t.Errorf("sale %d failed: %v", n, err)
				return
			}
			ids[n] = tx.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("sale %d resolved to different transaction %s vs %s", i, ids[i], ids[0])
		}
	}

	item, err := s.GetItemByID(context.Background(), seedTenant, "idem-item")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.Stock != 8 {
		t.Fatalf("expected single decrement to 8, got %d", item.Stock)
	}
}

func TestConcurrentShipDecrementsOnce(t *testing.T) {
	s := New()
	seedItem(t, s, "ship-item", 20)

	transfer, err := s.CreateTransfer(context.Background(), domain.InventoryTransfer{
		TenantID:       seedTenant,
		FromLocationID: "loc-a",
		ToLocationID:   "loc-b",
		RequestedBy:    "manager",
		Items: []domain.TransferItem{
			{ItemID: "ship-item", QtySent: 5, UnitCostCents: 100},
		},
	})
	if err != nil {
		t.Fatalf("create transfer: %v", err)
	}

	const workers = 6
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			shipper := fmt.Sprintf("shipper-%d", n)
			now := transfer.RequestedAt
			_, errs[n] = s.TransitionTransfer(context.Background(), seedTenant, transfer.ID,
				[]string{domain.TransferStatusPending, domain.TransferStatusApproved},
				domain.TransferStatusInTransit,
				store.TransferPatch{ShippedBy: &shipper, ShippedAt: &now},
				nil)
		}(i)
	}
	wg.Wait()

	okCount := 0
	var wrongStatus *store.WrongStatusError
	for _, err := range errs {
		if err == nil {
			okCount++
		} else if !errors.As(err, &wrongStatus) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if okCount != 1 {
		t.Fatalf("exactly one ship should win, got %d", okCount)
	}

	item, err := s.GetItemByID(context.Background(), seedTenant, "ship-item")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.Stock != 15 {
		t.Fatalf("expected one decrement to 15, got %d", item.Stock)
	}
}

func TestTransferNumbersArePerTenant(t *testing.T) {
	s := New()

	mk := func(tenant string) string {
		transfer, err := s.CreateTransfer(context.Background(), domain.InventoryTransfer{
			TenantID:       tenant,
			FromLocationID: "loc-a",
			ToLocationID:   "loc-b",
			Items:          []domain.TransferItem{{ItemID: "whatever", QtySent: 1}},
		})
		if err != nil {
			t.Fatalf("create transfer for %s: %v", tenant, err)
		}
		return transfer.TransferNumber
	}

	if got := mk("tenant-a"); got != "TR-0001" {
		t.Fatalf("tenant-a first transfer: %s", got)
	}
	if got := mk("tenant-a"); got != "TR-0002" {
		t.Fatalf("tenant-a second transfer: %s", got)
	}
	if got := mk("tenant-b"); got != "TR-0001" {
		t.Fatalf("tenant-b sequence must be independent, got %s", got)
	}
}

func TestIdempotencyRecordDuplicateKey(t *testing.T) {
	s := New()

	rec := domain.IdempotencyRecord{Key: "k1", TenantID: seedTenant, ResponseJSON: []byte(`{"ok":true}`)}
	if err := s.CreateIdempotencyRecord(context.Background(), rec); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if err := s.CreateIdempotencyRecord(context.Background(), rec); !errors.Is(err, store.ErrDuplicateKey) {
		t.Fatalf("expected duplicate key error, got %v", err)
	}

	found, err := s.FindIdempotencyRecord(context.Background(), seedTenant, "k1")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if string(found.ResponseJSON) != `{"ok":true}` {
		t.Fatalf("unexpected payload %s", found.ResponseJSON)
	}
	if _, err := s.FindIdempotencyRecord(context.Background(), "tenant-other", "k1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("records must be tenant scoped, got %v", err)
	}
}
