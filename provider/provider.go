// Package provider defines the byte store behind backend/kv.
//
// Values handed to Set must come back from Get unchanged. The "item:<ns>:"
// keyspace belongs to the kv backend; records written there by anything else
// fail frame validation and are deleted on read.
package provider

import (
	"context"
	"time"
)

// Provider is a concurrency-safe byte store with optional TTLs.
type Provider interface {
	// Get returns (value, true, nil) on hit and (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value. cost is a hint for cost-aware stores; ttl <= 0 means
	// no expiry where the store supports it. ok=false means the store dropped
	// the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	Del(ctx context.Context, key string) error

	Close(ctx context.Context) error
}

// BatchGetter is implemented by providers that can fetch many keys in one
// round trip. Missing keys are absent from the result.
type BatchGetter interface {
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)
}

// GetMany uses p's BatchGetter when it has one and falls back to Get per key.
func GetMany(ctx context.Context, p Provider, keys []string) (map[string][]byte, error) {
	if bg, ok := p.(BatchGetter); ok {
		return bg.GetMany(ctx, keys)
	}
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		b, ok, err := p.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = b
		}
	}
	return out, nil
}
