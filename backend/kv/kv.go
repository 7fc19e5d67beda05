// Package kv stores items as revision-stamped records in a byte Provider and
// exposes them as an itemstore.Adapter (see Bind).
//
// Keys:
//
//	item:<ns>:<id>   record: wire frame of (revision, codec payload)
//
// Every id has a revision in a GenStore. Writes stamp the record with the
// revision current at write time; Delete bumps the revision and drops the
// record. A record whose stamp no longer matches reads as not found and is
// deleted, so a failed or racing delete can never resurrect an item.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/itemstore"
	"github.com/unkn0wn-root/itemstore/codec"
	"github.com/unkn0wn-root/itemstore/genstore"
	"github.com/unkn0wn-root/itemstore/internal/util"
	"github.com/unkn0wn-root/itemstore/internal/wire"
	"github.com/unkn0wn-root/itemstore/provider"
)

const keyspace = "item"

// SetCostFunc returns the cost hint passed to Provider.Set.
type SetCostFunc func(storageKey string, record []byte) int64

// Config configures a Backend. Namespace, Provider and Codec are required.
type Config[V any] struct {
	Namespace string
	Provider  provider.Provider
	Codec     codec.Codec[V]

	GenStore       genstore.GenStore // nil => in-process genstore.Local, closed with the Backend
	TTL            time.Duration     // record TTL; 0 => no expiry
	Logger         itemstore.Logger  // if nil, NopLogger is used
	Hooks          Hooks             // if nil, NopHooks is used
	NewID          func() string     // nil => uuid.NewString
	ComputeSetCost SetCostFunc       // nil => record length
	MaxBatch       int               // cap for multi-item adapter calls; 0 => unbounded

	// Deliver runs adapter I/O on its own goroutine and posts completions
	// through this queue (typically an *itemstore.Loop). nil => adapter calls
	// complete synchronously on the caller's goroutine.
	Deliver itemstore.Queue
}

// Backend is safe for concurrent use.
type Backend[V any] struct {
	ns       string
	provider provider.Provider
	codec    codec.Codec[V]
	gens     genstore.GenStore
	ownGens  bool
	ttl      time.Duration
	log      itemstore.Logger
	hooks    Hooks
	newID    func() string
	cost     SetCostFunc
	maxBatch int
	deliver  itemstore.Queue
}

func New[V any](cfg Config[V]) (*Backend[V], error) {
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("kv: namespace is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("kv: provider is required")
	}
	if cfg.Codec == nil {
		return nil, fmt.Errorf("kv: codec is required")
	}
	if cfg.MaxBatch < 0 {
		return nil, fmt.Errorf("kv: MaxBatch must not be negative")
	}
	b := &Backend[V]{
		ns:       cfg.Namespace,
		provider: cfg.Provider,
		codec:    cfg.Codec,
		gens:     cfg.GenStore,
		ttl:      cfg.TTL,
		log:      cfg.Logger,
		hooks:    cfg.Hooks,
		newID:    cfg.NewID,
		cost:     cfg.ComputeSetCost,
		maxBatch: cfg.MaxBatch,
		deliver:  cfg.Deliver,
	}

	// defaults
	if b.gens == nil {
		b.gens = genstore.NewLocal(0, 0)
		b.ownGens = true
	}
	if b.log == nil {
		b.log = itemstore.NopLogger{}
	}
	if b.hooks == nil {
		b.hooks = NopHooks{}
	}
	if b.newID == nil {
		b.newID = uuid.NewString
	}
	if b.cost == nil {
		b.cost = func(_ string, record []byte) int64 { return int64(len(record)) }
	}
	return b, nil
}

// Close closes the provider and, when the Backend created it, the revision store.
func (b *Backend[V]) Close(ctx context.Context) error {
	var genErr error
	if b.ownGens {
		genErr = b.gens.Close(ctx)
	}
	return errors.Join(genErr, b.provider.Close(ctx))
}

func (b *Backend[V]) key(id string) string { return util.ItemKey(keyspace, b.ns, id) }

// Get returns the live value of id or ErrNotFound.
func (b *Backend[V]) Get(ctx context.Context, id string) (V, error) {
	var zero V
	k := b.key(id)
	raw, ok, err := b.provider.Get(ctx, k)
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, ErrNotFound
	}
	rev, err := b.gens.Snapshot(ctx, k)
	if err != nil {
		b.hooks.RevisionError(1, err)
		return zero, err
	}
	return b.decode(ctx, k, raw, rev)
}

// GetMany returns the live values among ids. Missing ids are absent from the
// result.
func (b *Backend[V]) GetMany(ctx context.Context, ids []string) (map[string]V, error) {
	out := make(map[string]V, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = b.key(id)
	}
	raws, err := provider.GetMany(ctx, b.provider, keys)
	if err != nil {
		return nil, err
	}
	revs, err := b.gens.SnapshotMany(ctx, keys)
	if err != nil {
		b.hooks.RevisionError(len(keys), err)
		return nil, err
	}
	for i, id := range ids {
		raw, ok := raws[keys[i]]
		if !ok {
			continue
		}
		v, err := b.decode(ctx, keys[i], raw, revs[keys[i]])
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, nil
}

// decode validates a record against the current revision, deleting it when
// it cannot be served.
func (b *Backend[V]) decode(ctx context.Context, k string, raw []byte, cur uint64) (V, error) {
	var zero V
	rev, payload, err := wire.Decode(raw)
	if err != nil {
		b.heal(ctx, k, "corrupt")
		return zero, ErrNotFound
	}
	if rev != cur {
		b.heal(ctx, k, "stale_revision")
		return zero, ErrNotFound
	}
	v, err := b.codec.Decode(payload)
	if err != nil {
		b.heal(ctx, k, "value_decode")
		return zero, ErrNotFound
	}
	return v, nil
}

func (b *Backend[V]) heal(ctx context.Context, k, reason string) {
	_ = b.provider.Del(ctx, k)
	b.log.Debug("self-heal record", itemstore.Fields{"key": k, "reason": reason})
	b.hooks.SelfHeal(k, reason)
}

// Put stores v under id, stamped with the id's current revision.
func (b *Backend[V]) Put(ctx context.Context, id string, v V) error {
	k := b.key(id)
	payload, err := b.codec.Encode(v)
	if err != nil {
		return err
	}
	rev, err := b.gens.Snapshot(ctx, k)
	if err != nil {
		b.hooks.RevisionError(1, err)
		return err
	}
	record, err := wire.Encode(rev, payload)
	if err != nil {
		return err
	}
	ok, err := b.provider.Set(ctx, k, record, b.cost(k, record), b.ttl)
	if err != nil {
		return err
	}
	if !ok {
		b.log.Debug("set rejected by provider", itemstore.Fields{"key": k})
		b.hooks.SetRejected(k)
		return ErrRejected
	}
	return nil
}

// Create stores v under a fresh id and returns the id.
func (b *Backend[V]) Create(ctx context.Context, v V) (string, error) {
	id := b.newID()
	if err := b.Put(ctx, id, v); err != nil {
		return "", err
	}
	return id, nil
}

// Delete bumps the revision of id and drops its record. Deleting an unknown
// id succeeds.
func (b *Backend[V]) Delete(ctx context.Context, id string) error {
	k := b.key(id)
	_, bumpErr := b.gens.Bump(ctx, k)
	if bumpErr != nil {
		b.hooks.RevisionError(1, bumpErr)
	}
	delErr := b.provider.Del(ctx, k)
	if bumpErr == nil && delErr == nil {
		return nil
	}
	if bumpErr != nil && delErr != nil {
		b.log.Warn("delete outage", itemstore.Fields{"id": id, "bump_err": bumpErr, "del_err": delErr})
		b.hooks.DeleteOutage(id, bumpErr, delErr)
	}
	return &DeleteError{ID: id, BumpErr: bumpErr, DelErr: delErr}
}
