// Package idempotency guards sale submissions against duplicate processing.
// The durable record in the repository is authoritative; a redis cache in
// front of it shortcuts replays and is allowed to fail without affecting
// correctness.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"salonpos/backend/internal/cache"
	"salonpos/backend/internal/domain"
	"salonpos/backend/internal/store"
)

const cacheTTL = 24 * time.Hour

type Guard struct {
	repo  store.Repository
	cache cache.ResponseCache
}

func NewGuard(repo store.Repository, responseCache cache.ResponseCache) *Guard {
	if responseCache == nil {
		responseCache = cache.NoopResponseCache{}
	}
	return &Guard{repo: repo, cache: responseCache}
}

// Lookup returns the stored response for a previously processed key, or nil
// when the key is unseen. Read errors on either tier are treated as misses:
// a broken cache or an unreachable record store must never block a sale, and
// the unique key on the transactions table still catches a true duplicate.
func (g *Guard) Lookup(ctx context.Context, tenantID string, key string) (*domain.SaleResponse, error) {
	if key == "" {
		return nil, nil
	}

	if payload, found, err := g.cache.Get(ctx, cacheKey(tenantID, key)); err != nil {
		log.Printf("[idempotency] WARN cache read failed for key %s: %v", key, err)
	} else if found {
		var resp domain.SaleResponse
		if err := json.Unmarshal(payload, &resp); err == nil {
			resp.Duplicate = true
			return &resp, nil
		}
		log.Printf("[idempotency] WARN cached payload for key %s is corrupt, falling through", key)
	}

	rec, err := g.repo.FindIdempotencyRecord(ctx, tenantID, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("[idempotency] WARN durable record read failed for key %s: %v", key, err)
		}
		return nil, nil
	}

	var resp domain.SaleResponse
	if err := json.Unmarshal(rec.ResponseJSON, &resp); err != nil {
		log.Printf("[idempotency] WARN durable record for key %s is corrupt: %v", key, err)
		return nil, nil
	}
	resp.Duplicate = true
	return &resp, nil
}

// Remember persists the response for a committed sale. Called after the sale
// transaction commits, so a failure here is logged and swallowed: the sale
// stands, and the unique key on the transactions table still catches a
// concurrent duplicate.
func (g *Guard) Remember(ctx context.Context, tenantID string, key string, resp *domain.SaleResponse) {
	if key == "" || resp == nil {
		return
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		log.Printf("[idempotency] WARN marshal response for key %s: %v", key, err)
		return
	}

	err = g.repo.CreateIdempotencyRecord(ctx, domain.IdempotencyRecord{
		Key:          key,
		TenantID:     tenantID,
		ResponseJSON: payload,
	})
	if err != nil && !errors.Is(err, store.ErrDuplicateKey) {
		log.Printf("[idempotency] WARN durable record write failed for key %s: %v", key, err)
	}

	if err := g.cache.Set(ctx, cacheKey(tenantID, key), payload, cacheTTL); err != nil {
		log.Printf("[idempotency] WARN cache write failed for key %s: %v", key, err)
	}
}

func cacheKey(tenantID string, key string) string {
	return "idem:" + tenantID + ":" + key
}
