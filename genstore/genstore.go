// Package genstore keeps a revision counter per stored item. The kv backend
// stamps every record with the revision current at write time; records whose
// stamp no longer matches are treated as absent.
package genstore

import "context"

type GenStore interface {
	// Snapshot returns the current revision of key; unknown keys are at 0.
	Snapshot(ctx context.Context, key string) (uint64, error)
	// SnapshotMany returns a revision for every key in keys.
	SnapshotMany(ctx context.Context, keys []string) (map[string]uint64, error)
	// Bump increments the revision of key and returns the new value.
	Bump(ctx context.Context, key string) (uint64, error)
	Close(ctx context.Context) error
}
