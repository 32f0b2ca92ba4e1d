package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"salonpos/backend/internal/domain"
	"salonpos/backend/internal/store"
	"salonpos/backend/internal/store/memory"
)

type flakyCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	failGet bool
	failSet bool
}

func newFlakyCache() *flakyCache {
	return &flakyCache{data: make(map[string][]byte)}
}

func (c *flakyCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return nil, false, errors.New("cache down")
	}
	payload, ok := c.data[key]
	return payload, ok, nil
}

func (c *flakyCache) Set(_ context.Context, key string, payload []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSet {
		return errors.New("cache down")
	}
	c.data[key] = payload
	return nil
}

func TestGuardRemembersAndReplays(t *testing.T) {
	repo := memory.New()
	guard := NewGuard(repo, newFlakyCache())
	ctx := context.Background()

	resp := &domain.SaleResponse{TransactionID: "tx-1", InvoiceNumber: 7, TotalCents: 4200}
	guard.Remember(ctx, "tenant-demo", "key-1", resp)

	replay, err := guard.Lookup(ctx, "tenant-demo", "key-1")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if replay == nil || replay.TransactionID != "tx-1" || !replay.Duplicate {
		t.Fatalf("unexpected replay: %+v", replay)
	}
}

func TestGuardEmptyKeyIsNoop(t *testing.T) {
	repo := memory.New()
	guard := NewGuard(repo, nil)
	ctx := context.Background()

	guard.Remember(ctx, "tenant-demo", "", &domain.SaleResponse{TransactionID: "tx-2"})
	found, err := guard.Lookup(ctx, "tenant-demo", "")
	if err != nil || found != nil {
		t.Fatalf("empty key must be a miss: %v %v", found, err)
	}
}

func TestGuardFallsBackToRepoWhenCacheFails(t *testing.T) {
	repo := memory.New()
	cache := newFlakyCache()
	guard := NewGuard(repo, cache)
	ctx := context.Background()

	guard.Remember(ctx, "tenant-demo", "key-2", &domain.SaleResponse{TransactionID: "tx-3"})

	cache.mu.Lock()
	cache.failGet = true
	cache.mu.Unlock()

	replay, err := guard.Lookup(ctx, "tenant-demo", "key-2")
	if err != nil {
		t.Fatalf("lookup must survive cache failure: %v", err)
	}
	if replay == nil || replay.TransactionID != "tx-3" {
		t.Fatalf("durable record should answer: %+v", replay)
	}
}

func TestGuardKeysAreTenantScoped(t *testing.T) {
	repo := memory.New()
	guard := NewGuard(repo, newFlakyCache())
	ctx := context.Background()

	guard.Remember(ctx, "tenant-a", "shared-key", &domain.SaleResponse{TransactionID: "tx-a"})

	replay, err := guard.Lookup(ctx, "tenant-b", "shared-key")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if replay != nil {
		t.Fatalf("key from another tenant must not replay: %+v", replay)
	}
}

func TestGuardSurvivesCacheWriteFailure(t *testing.T) {
	repo := memory.New()
	cache := newFlakyCache()
	cache.failSet = true
	guard := NewGuard(repo, cache)
	ctx := context.Background()

	guard.Remember(ctx, "tenant-demo", "key-3", &domain.SaleResponse{TransactionID: "tx-4"})

	replay, err := guard.Lookup(ctx, "tenant-demo", "key-3")
	if err != nil || replay == nil || replay.TransactionID != "tx-4" {
		t.Fatalf("durable path broken: %+v %v", replay, err)
	}
}

type downRepo struct {
	store.Repository
}

func (downRepo) FindIdempotencyRecord(context.Context, string, string) (*domain.IdempotencyRecord, error) {
	return nil, errors.New("record store unreachable")
}

func TestGuardFailsOpenWhenDurableReadFails(t *testing.T) {
	guard := NewGuard(downRepo{memory.New()}, newFlakyCache())

	got, err := guard.Lookup(context.Background(), "tenant-demo", "key-1")
	if err != nil {
		t.Fatalf("durable read failure must not surface an error: %v", err)
	}
	if got != nil {
		t.Fatalf("durable read failure must read as a miss, got %+v", got)
	}
}
