// Package asynchook moves hook calls off the caller's goroutine.
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{SelfHealEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	store, _ := itemstore.New(itemstore.Options[Note, Patch]{Adapter: a, Hooks: hooks})
//	backend, _ := kv.New(kv.Config[Note]{..., Hooks: hooks})
//
// Events are dropped when the queue is full.
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/itemstore"
	"github.com/unkn0wn-root/itemstore/backend/kv"
)

// Hooks wraps an itemstore.Hooks. When inner also implements kv.Hooks, the
// backend events are forwarded too; otherwise they are discarded.
type Hooks struct {
	inner   itemstore.Hooks
	backend kv.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var (
	_ itemstore.Hooks = (*Hooks)(nil)
	_ kv.Hooks        = (*Hooks)(nil)
)

func New(inner itemstore.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}
	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	if bh, ok := inner.(kv.Hooks); ok {
		h.backend = bh
	} else {
		h.backend = kv.NopHooks{}
	}
	h.wg.Add(workers)
	for range workers {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events after Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped returns how many events were discarded.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) BatchDispatched(op itemstore.Op, n int) {
	h.try(func() { h.inner.BatchDispatched(op, n) })
}
func (h *Hooks) AdapterError(op itemstore.Op, ids []string, err error) {
	ids = append([]string(nil), ids...)
	h.try(func() { h.inner.AdapterError(op, ids, err) })
}
func (h *Hooks) DuplicateCompletion(op itemstore.Op) { h.try(func() { h.inner.DuplicateCompletion(op) }) }
func (h *Hooks) ItemRemoved(id string)               { h.try(func() { h.inner.ItemRemoved(id) }) }
func (h *Hooks) SchedulerIdle()                      { h.try(h.inner.SchedulerIdle) }

func (h *Hooks) SelfHeal(k, reason string) { h.try(func() { h.backend.SelfHeal(k, reason) }) }
func (h *Hooks) SetRejected(k string)      { h.try(func() { h.backend.SetRejected(k) }) }
func (h *Hooks) RevisionError(n int, err error) {
	h.try(func() { h.backend.RevisionError(n, err) })
}
func (h *Hooks) DeleteOutage(id string, bumpErr, delErr error) {
	h.try(func() { h.backend.DeleteOutage(id, bumpErr, delErr) })
}
