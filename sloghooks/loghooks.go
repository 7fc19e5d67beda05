// Package sloghooks logs itemstore and kv backend events to a *slog.Logger.
package sloghooks

import (
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/itemstore"
	"github.com/unkn0wn-root/itemstore/backend/kv"
	"github.com/unkn0wn-root/itemstore/internal/util"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	DispatchEvery uint64
	SelfHealEvery uint64
	// LogIdle enables a debug line per scheduler idle transition.
	LogIdle bool
	// Optional id/key redactor. Defaults to a SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	dispatchCtr atomic.Uint64
	selfHealCtr atomic.Uint64
}

var (
	_ itemstore.Hooks = (*Hooks)(nil)
	_ kv.Hooks        = (*Hooks)(nil)
)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	return util.ShortHash(k)
}

func (h *Hooks) redactAll(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = h.redact(id)
	}
	return out
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n <= 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) BatchDispatched(op itemstore.Op, size int) {
	if h.l == nil || !sample(h.opts.DispatchEvery, &h.dispatchCtr) {
		return
	}
	h.l.Debug("itemstore.batch_dispatched",
		"op", string(op),
		"size", size)
}

func (h *Hooks) AdapterError(op itemstore.Op, ids []string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("itemstore.adapter_error",
		"op", string(op),
		"ids", h.redactAll(ids),
		"err", err)
}

func (h *Hooks) DuplicateCompletion(op itemstore.Op) {
	if h.l == nil {
		return
	}
	h.l.Warn("itemstore.duplicate_completion", "op", string(op))
}

func (h *Hooks) ItemRemoved(id string) {
	if h.l == nil {
		return
	}
	h.l.Debug("itemstore.item_removed", "id", h.redact(id))
}

func (h *Hooks) SchedulerIdle() {
	if h.l == nil || !h.opts.LogIdle {
		return
	}
	h.l.Debug("itemstore.scheduler_idle")
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("kv.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) SetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("kv.set_rejected", "key", h.redact(storageKey))
}

func (h *Hooks) RevisionError(count int, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("kv.revision_error",
		"count", count,
		"err", err)
}

func (h *Hooks) DeleteOutage(id string, bumpErr, delErr error) {
	if h.l == nil {
		return
	}
	h.l.Error("kv.delete_outage",
		"id", h.redact(id),
		"bump_err", bumpErr,
		"del_err", delErr)
}
