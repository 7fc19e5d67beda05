package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/unkn0wn-root/itemstore"
)

// Bind returns an adapter serving every itemstore capability from b.
//
// Writes are applied on the backend side: the stored value is read (zero
// when absent), t.Apply folds the request's update into it and the result
// is put back. Missing ids in multi-item reads are left out of the result.
func Bind[V, U any](b *Backend[V], t itemstore.Transforms[V, U]) itemstore.Adapter[V, U] {
	return itemstore.Adapter[V, U]{
		Transforms: t,

		CreateSingle: func(ctx context.Context, req itemstore.CreateRequest[V], done func(string, error)) {
			b.run(func() func() {
				id, err := b.Create(ctx, req.Data)
				return func() { done(id, err) }
			})
		},
		CreateAndReadSingle: func(ctx context.Context, req itemstore.CreateRequest[V], done func(string, V, error)) {
			b.run(func() func() {
				id, err := b.Create(ctx, req.Data)
				return func() { done(id, req.Data, err) }
			})
		},
		CreateMultiple: func(ctx context.Context, reqs []itemstore.CreateRequest[V], done func([]string, error)) {
			b.run(func() func() {
				ids, _, err := b.createAll(ctx, reqs)
				return func() { done(ids, err) }
			})
		},
		CreateAndReadMultiple: func(ctx context.Context, reqs []itemstore.CreateRequest[V], done func([]string, map[string]V, error)) {
			b.run(func() func() {
				ids, data, err := b.createAll(ctx, reqs)
				return func() { done(ids, data, err) }
			})
		},

		WriteSingle: func(ctx context.Context, req itemstore.WriteRequest[V, U], done func(error)) {
			b.run(func() func() {
				_, err := write(ctx, b, t, req)
				return func() { done(err) }
			})
		},
		WriteAndReadSingle: func(ctx context.Context, req itemstore.WriteRequest[V, U], done func(V, error)) {
			b.run(func() func() {
				v, err := write(ctx, b, t, req)
				return func() { done(v, err) }
			})
		},
		WriteMultiple: func(ctx context.Context, reqs []itemstore.WriteRequest[V, U], done func(error)) {
			b.run(func() func() {
				_, err := writeAll(ctx, b, t, reqs)
				return func() { done(err) }
			})
		},
		WriteAndReadMultiple: func(ctx context.Context, reqs []itemstore.WriteRequest[V, U], done func(map[string]V, error)) {
			b.run(func() func() {
				data, err := writeAll(ctx, b, t, reqs)
				return func() { done(data, err) }
			})
		},

		DeleteSingle: func(ctx context.Context, req itemstore.DeleteRequest, done func(error)) {
			b.run(func() func() {
				err := b.Delete(ctx, req.ID)
				return func() { done(err) }
			})
		},
		DeleteMultiple: func(ctx context.Context, reqs []itemstore.DeleteRequest, done func(error)) {
			b.run(func() func() {
				failed := map[string]error{}
				for _, r := range reqs {
					if err := b.Delete(ctx, r.ID); err != nil {
						failed[r.ID] = err
					}
				}
				err := batchErr(failed)
				return func() { done(err) }
			})
		},

		ReadSingle: func(ctx context.Context, req itemstore.ReadRequest[V], done func(V, error)) {
			b.run(func() func() {
				v, err := b.Get(ctx, req.ID)
				return func() { done(v, err) }
			})
		},
		ReadMultiple: func(ctx context.Context, reqs []itemstore.ReadRequest[V], done func(map[string]V, error)) {
			b.run(func() func() {
				ids := make([]string, len(reqs))
				for i, r := range reqs {
					ids[i] = r.ID
				}
				data, err := b.GetMany(ctx, ids)
				return func() { done(data, err) }
			})
		},

		MaxCreateItems: b.maxBatch,
		MaxWriteItems:  b.maxBatch,
		MaxDeleteItems: b.maxBatch,
		MaxReadItems:   b.maxBatch,
	}
}

// run executes work and then the completion it returns. With Deliver set,
// work runs on a new goroutine and the completion is posted back.
func (b *Backend[V]) run(work func() func()) {
	if b.deliver == nil {
		work()()
		return
	}
	go func() {
		complete := work()
		b.deliver.Post(complete)
	}()
}

// createAll stops at the first failure; ids created before it are returned.
func (b *Backend[V]) createAll(ctx context.Context, reqs []itemstore.CreateRequest[V]) ([]string, map[string]V, error) {
	ids := make([]string, 0, len(reqs))
	data := make(map[string]V, len(reqs))
	for _, r := range reqs {
		id, err := b.Create(ctx, r.Data)
		if err != nil {
			return ids, data, err
		}
		ids = append(ids, id)
		data[id] = r.Data
	}
	return ids, data, nil
}

func write[V, U any](ctx context.Context, b *Backend[V], t itemstore.Transforms[V, U], req itemstore.WriteRequest[V, U]) (V, error) {
	cur, err := b.Get(ctx, req.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return cur, err
	}
	next := t.Apply(cur, req.Update)
	if err := b.Put(ctx, req.ID, next); err != nil {
		var zero V
		return zero, err
	}
	return next, nil
}

// writeAll applies every request. Failed ids are absent from the result and
// named in a *itemstore.BatchError.
func writeAll[V, U any](ctx context.Context, b *Backend[V], t itemstore.Transforms[V, U], reqs []itemstore.WriteRequest[V, U]) (map[string]V, error) {
	out := make(map[string]V, len(reqs))
	failed := map[string]error{}
	for _, r := range reqs {
		v, err := write(ctx, b, t, r)
		if err != nil {
			failed[r.ID] = fmt.Errorf("kv: write %q: %w", r.ID, err)
			continue
		}
		out[r.ID] = v
	}
	return out, batchErr(failed)
}

func batchErr(failed map[string]error) error {
	if len(failed) == 0 {
		return nil
	}
	return &itemstore.BatchError{Errs: failed}
}
