package cache

import (
	"context"
	"time"
)

// ResponseCache holds serialized sale responses keyed by idempotency key for
// fast duplicate replay. The durable record in the store remains the source
// of truth; this layer only shortcuts the lookup.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

type NoopResponseCache struct{}

func (NoopResponseCache) Get(_ context.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}

func (NoopResponseCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	return nil
}
