package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"salonpos/backend/internal/domain"
)

func saleBody(idemKey string) domain.SaleCreateRequest {
	return domain.SaleCreateRequest{
		IdempotencyKey: idemKey,
		PaymentMethod:  domain.PaymentCash,
		Items: []domain.LineItem{
			{Kind: domain.LineItemKindProduct, ProductID: "item-shampoo", Name: "Keratin Shampoo", Qty: 1, UnitPriceCents: 2200},
		},
	}
}

func TestCreateSaleEndpoint(t *testing.T) {
	_, handler := newTestAPI(t)
	token := loginAs(t, handler, "staff", "test-staff-pass")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, saleBody("http-sale-1"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp domain.SaleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TotalCents != 2200 || resp.Duplicate {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// Retrying the same idempotency key replays the response with 200.
	retry := doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, saleBody("http-sale-1"))
	if retry.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d", retry.Code)
	}
	var replay domain.SaleResponse
	if err := json.Unmarshal(retry.Body.Bytes(), &replay); err != nil {
		t.Fatalf("decode replay: %v", err)
	}
	if !replay.Duplicate || replay.TransactionID != resp.TransactionID {
		t.Fatalf("replay mismatch: %+v vs %+v", replay, resp)
	}
}

func TestCreateSaleOversellConflict(t *testing.T) {
	_, handler := newTestAPI(t)
	token := loginAs(t, handler, "staff", "test-staff-pass")

	body := saleBody("http-oversell")
	body.Items[0].Qty = 999

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateSaleRejectsUnknownFields(t *testing.T) {
	_, handler := newTestAPI(t)
	token := loginAs(t, handler, "staff", "test-staff-pass")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"idempotency_key": "http-unknown",
		"payment_method":  "CASH",
		"surprise_field":  true,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestVoidSaleForbiddenForStaff(t *testing.T) {
	_, handler := newTestAPI(t)
	staffToken := loginAs(t, handler, "staff", "test-staff-pass")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", staffToken, saleBody("http-void"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create failed: %d", rec.Code)
	}
	var sale domain.SaleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &sale); err != nil {
		t.Fatalf("decode: %v", err)
	}

	voidRec := doJSON(t, handler, http.MethodPost, "/api/v1/sales/"+sale.TransactionID+"/void", staffToken, domain.VoidSaleRequest{Reason: "oops"})
	if voidRec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff void, got %d", voidRec.Code)
	}

	managerToken := loginAs(t, handler, "manager", "test-staff-pass")
	voidRec = doJSON(t, handler, http.MethodPost, "/api/v1/sales/"+sale.TransactionID+"/void", managerToken, domain.VoidSaleRequest{Reason: "client refund"})
	if voidRec.Code != http.StatusOK {
		t.Fatalf("manager void failed: %d %s", voidRec.Code, voidRec.Body.String())
	}
}

func TestTransferEndpointsLifecycle(t *testing.T) {
	_, handler := newTestAPI(t)
	token := loginAs(t, handler, "manager", "test-staff-pass")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/transfers", token, domain.TransferCreateRequest{
		FromLocationID: "loc-warehouse",
		ToLocationID:   "loc-downtown",
		Items:          []domain.TransferItemRequest{{ItemID: "item-serum", Qty: 4}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create transfer failed: %d %s", rec.Code, rec.Body.String())
	}
	var created domain.TransferResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id := created.Transfer.ID

	for _, action := range []string{"approve", "ship"} {
		actionRec := doJSON(t, handler, http.MethodPost, "/api/v1/transfers/"+id+"/"+action, token, nil)
		if actionRec.Code != http.StatusOK {
			t.Fatalf("%s failed: %d %s", action, actionRec.Code, actionRec.Body.String())
		}
	}

	receiveRec := doJSON(t, handler, http.MethodPost, "/api/v1/transfers/"+id+"/receive", token, domain.TransferReceiveRequest{})
	if receiveRec.Code != http.StatusOK {
		t.Fatalf("receive failed: %d %s", receiveRec.Code, receiveRec.Body.String())
	}
	var received domain.TransferResponse
	if err := json.Unmarshal(receiveRec.Body.Bytes(), &received); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if received.Transfer.Status != domain.TransferStatusReceived {
		t.Fatalf("expected RECEIVED, got %s", received.Transfer.Status)
	}

	// A second ship attempt hits the status guard.
	conflictRec := doJSON(t, handler, http.MethodPost, "/api/v1/transfers/"+id+"/ship", token, nil)
	if conflictRec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for re-ship, got %d", conflictRec.Code)
	}

	listRec := doJSON(t, handler, http.MethodGet, "/api/v1/transfers", token, nil)
	if listRec.Code != http.StatusOK {
		t.Fatalf("list failed: %d", listRec.Code)
	}
	var grouped domain.TransferGroupedListResponse
	if err := json.Unmarshal(listRec.Body.Bytes(), &grouped); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if grouped.Counts.Completed != 1 {
		t.Fatalf("expected 1 completed transfer, got %+v", grouped.Counts)
	}
}

func TestItemEndpointsRoleRules(t *testing.T) {
	_, handler := newTestAPI(t)
	staffToken := loginAs(t, handler, "staff", "test-staff-pass")
	managerToken := loginAs(t, handler, "manager", "test-staff-pass")

	newItem := domain.ItemCreateRequest{
		Name:           "Nail File Pack",
		SKU:            "ret-file-01",
		UnitCostCents:  120,
		UnitPriceCents: 400,
		InitialStock:   25,
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/items", staffToken, newItem)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("staff item create should be 403, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/items", managerToken, newItem)
	if rec.Code != http.StatusCreated {
		t.Fatalf("manager item create failed: %d %s", rec.Code, rec.Body.String())
	}
	var createdWrapper struct {
		Item domain.Item `json:"item"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &createdWrapper); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if createdWrapper.Item.SKU != "RET-FILE-01" {
		t.Fatalf("sku should be upper-cased, got %s", createdWrapper.Item.SKU)
	}

	restockRec := doJSON(t, handler, http.MethodPost, "/api/v1/items/"+createdWrapper.Item.ID+"/restock", managerToken, domain.ItemRestockRequest{Qty: 5})
	if restockRec.Code != http.StatusOK {
		t.Fatalf("restock failed: %d %s", restockRec.Code, restockRec.Body.String())
	}
	var restocked struct {
		Item domain.Item `json:"item"`
	}
	if err := json.Unmarshal(restockRec.Body.Bytes(), &restocked); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if restocked.Item.Stock != 30 {
		t.Fatalf("expected stock 30 after restock, got %d", restocked.Item.Stock)
	}
}

func TestPurchaseOrderEndpoints(t *testing.T) {
	_, handler := newTestAPI(t)
	token := loginAs(t, handler, "manager", "test-staff-pass")

	supRec := doJSON(t, handler, http.MethodPost, "/api/v1/suppliers", token, domain.SupplierCreateRequest{Name: "Glow Distribution"})
	if supRec.Code != http.StatusCreated {
		t.Fatalf("create supplier failed: %d %s", supRec.Code, supRec.Body.String())
	}
	var supplierWrapper struct {
		Supplier domain.Supplier `json:"supplier"`
	}
	if err := json.Unmarshal(supRec.Body.Bytes(), &supplierWrapper); err != nil {
		t.Fatalf("decode supplier: %v", err)
	}

	poRec := doJSON(t, handler, http.MethodPost, "/api/v1/purchase-orders", token, domain.PurchaseOrderCreateRequest{
		SupplierID: supplierWrapper.Supplier.ID,
		Items:      []domain.PurchaseOrderItem{{ItemID: "item-polish", Qty: 20, UnitCostCents: 300}},
	})
	if poRec.Code != http.StatusCreated {
		t.Fatalf("create PO failed: %d %s", poRec.Code, poRec.Body.String())
	}
	var po domain.PurchaseOrderResponse
	if err := json.Unmarshal(poRec.Body.Bytes(), &po); err != nil {
		t.Fatalf("decode PO: %v", err)
	}

	receiveRec := doJSON(t, handler, http.MethodPost, "/api/v1/purchase-orders/"+po.PurchaseOrder.ID+"/receive", token, nil)
	if receiveRec.Code != http.StatusOK {
		t.Fatalf("receive PO failed: %d %s", receiveRec.Code, receiveRec.Body.String())
	}

	deleteRec := doJSON(t, handler, http.MethodDelete, "/api/v1/purchase-orders/"+po.PurchaseOrder.ID, token, nil)
	if deleteRec.Code != http.StatusConflict {
		t.Fatalf("deleting a received PO should be 409, got %d", deleteRec.Code)
	}
}

func TestSaleSearchQueryValidation(t *testing.T) {
	_, handler := newTestAPI(t)
	token := loginAs(t, handler, "staff", "test-staff-pass")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/sales?from=not-a-time", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad timestamp, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/sales?payment_method=CASH", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search failed: %d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "transactions") {
		t.Fatalf("expected transactions payload, got %s", rec.Body.String())
	}
}
