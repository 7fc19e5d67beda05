package kv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/itemstore"
	"github.com/unkn0wn-root/itemstore/codec"
	"github.com/unkn0wn-root/itemstore/genstore"
	"github.com/unkn0wn-root/itemstore/internal/wire"
	"github.com/unkn0wn-root/itemstore/provider"
)

// memProvider is an in-memory provider. failKey is rejected on Set and
// fails on Del.
type memProvider struct {
	mu      sync.Mutex
	m       map[string][]byte
	reject  bool
	delErr  error
	failKey string
	closed  bool
}

var (
	_ provider.Provider    = (*memProvider)(nil)
	_ provider.BatchGetter = (*memProvider)(nil)
)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string][]byte)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.m[key]
	return v, ok, nil
}

func (p *memProvider) GetMany(_ context.Context, keys []string) (map[string][]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := p.m[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reject || key == p.failKey {
		return false, nil
	}
	p.m[key] = value
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.delErr != nil {
		return p.delErr
	}
	if key == p.failKey {
		return errors.New("del refused")
	}
	delete(p.m, key)
	return nil
}

func (p *memProvider) Close(context.Context) error { p.closed = true; return nil }

func (p *memProvider) has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.m[key]
	return ok
}

func (p *memProvider) raw(key string) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.m[key]
}

func (p *memProvider) put(key string, raw []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[key] = raw
}

// flakyGens fails Bump when bumpErr is set.
type flakyGens struct {
	*genstore.Local
	bumpErr error
}

func (g *flakyGens) Bump(ctx context.Context, key string) (uint64, error) {
	if g.bumpErr != nil {
		return 0, g.bumpErr
	}
	return g.Local.Bump(ctx, key)
}

type recHooks struct {
	mu       sync.Mutex
	heals    []string
	rejected []string
	revErrs  int
	outages  []string
}

func (h *recHooks) SelfHeal(k, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.heals = append(h.heals, reason+" "+k)
}

func (h *recHooks) SetRejected(k string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rejected = append(h.rejected, k)
}

func (h *recHooks) RevisionError(int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.revErrs++
}

func (h *recHooks) DeleteOutage(id string, _, _ error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outages = append(h.outages, id)
}

type note struct {
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

type patch struct {
	Title *string `json:"title,omitempty"`
	Done  *bool   `json:"done,omitempty"`
}

func notePatches() itemstore.Transforms[note, patch] {
	return itemstore.Transforms[note, patch]{
		ApplyUpdate: func(n note, p patch) note {
			if p.Title != nil {
				n.Title = *p.Title
			}
			if p.Done != nil {
				n.Done = *p.Done
			}
			return n
		},
		MergeUpdates: func(a, b patch) patch {
			if b.Title != nil {
				a.Title = b.Title
			}
			if b.Done != nil {
				a.Done = b.Done
			}
			return a
		},
	}
}

func seqIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("n%d", n)
	}
}

func newTestBackend(t *testing.T, p provider.Provider, opt func(*Config[note])) *Backend[note] {
	t.Helper()
	cfg := Config[note]{
		Namespace: "notes",
		Provider:  p,
		Codec:     codec.JSON[note]{},
		NewID:     seqIDs(),
	}
	if opt != nil {
		opt(&cfg)
	}
	b, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestNewValidation(t *testing.T) {
	p := newMemProvider()
	cases := map[string]Config[note]{
		"namespace": {Provider: p, Codec: codec.JSON[note]{}},
		"provider":  {Namespace: "n", Codec: codec.JSON[note]{}},
		"codec":     {Namespace: "n", Provider: p},
		"batch":     {Namespace: "n", Provider: p, Codec: codec.JSON[note]{}, MaxBatch: -1},
	}
	for name, cfg := range cases {
		if _, err := New(cfg); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, newMemProvider(), nil)

	if _, err := b.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing: %v", err)
	}
	if err := b.Put(ctx, "a", note{Title: "milk"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := b.Get(ctx, "a")
	if err != nil || got.Title != "milk" {
		t.Fatalf("Get = %+v, %v", got, err)
	}

	id, err := b.Create(ctx, note{Title: "eggs"})
	if err != nil || id != "n1" {
		t.Fatalf("Create = %q, %v", id, err)
	}
}

func TestRecordLayout(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	b := newTestBackend(t, mp, nil)
	if err := b.Put(ctx, "a", note{Title: "x"}); err != nil {
		t.Fatal(err)
	}
	rev, payload, err := wire.Decode(mp.raw("item:notes:a"))
	if err != nil {
		t.Fatalf("wire.Decode: %v", err)
	}
	if rev != 0 || string(payload) != `{"title":"x","done":false}` {
		t.Fatalf("record = rev %d payload %s", rev, payload)
	}
}

func TestGetMany(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	b := newTestBackend(t, mp, nil)
	_ = b.Put(ctx, "a", note{Title: "1"})
	_ = b.Put(ctx, "c", note{Title: "3"})
	mp.put("item:notes:d", []byte("junk"))

	got, err := b.GetMany(ctx, []string{"a", "b", "c", "d"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got["a"].Title != "1" || got["c"].Title != "3" {
		t.Fatalf("GetMany = %+v", got)
	}
	if mp.has("item:notes:d") {
		t.Fatal("corrupt record should be healed")
	}
}

func TestDeleteInvalidatesStaleRecord(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	h := &recHooks{}
	b := newTestBackend(t, mp, func(c *Config[note]) { c.Hooks = h })

	_ = b.Put(ctx, "a", note{Title: "old"})
	old := mp.raw("item:notes:a")
	if err := b.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := b.Delete(ctx, "never"); err != nil {
		t.Fatalf("Delete unknown: %v", err)
	}

	// a racing writer puts back the pre-delete record
	mp.put("item:notes:a", old)
	if _, err := b.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stale Get: %v", err)
	}
	if mp.has("item:notes:a") {
		t.Fatal("stale record should be deleted")
	}
	if len(h.heals) != 1 || h.heals[0] != "stale_revision item:notes:a" {
		t.Fatalf("heals = %v", h.heals)
	}

	// writes after the delete carry the new revision
	_ = b.Put(ctx, "a", note{Title: "new"})
	if got, err := b.Get(ctx, "a"); err != nil || got.Title != "new" {
		t.Fatalf("Get after rewrite = %+v, %v", got, err)
	}
}

func TestSelfHealReasons(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	h := &recHooks{}
	b := newTestBackend(t, mp, func(c *Config[note]) { c.Hooks = h })

	mp.put("item:notes:corrupt", []byte("not a frame"))
	bad, _ := wire.Encode(0, []byte("{nope"))
	mp.put("item:notes:undecodable", bad)

	for _, id := range []string{"corrupt", "undecodable"} {
		if _, err := b.Get(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s: %v", id, err)
		}
	}
	want := []string{"corrupt item:notes:corrupt", "value_decode item:notes:undecodable"}
	if fmt.Sprint(h.heals) != fmt.Sprint(want) {
		t.Fatalf("heals = %v, want %v", h.heals, want)
	}
}

func TestPutRejected(t *testing.T) {
	mp := newMemProvider()
	mp.reject = true
	h := &recHooks{}
	b := newTestBackend(t, mp, func(c *Config[note]) { c.Hooks = h })

	if err := b.Put(context.Background(), "a", note{}); !errors.Is(err, ErrRejected) {
		t.Fatalf("Put: %v", err)
	}
	if len(h.rejected) != 1 {
		t.Fatalf("rejected = %v", h.rejected)
	}
}

func TestPutTooLarge(t *testing.T) {
	b := newTestBackend(t, newMemProvider(), func(c *Config[note]) {
		c.Codec = codec.Limit[note]{Inner: codec.JSON[note]{}, MaxEncode: 8}
	})
	if err := b.Put(context.Background(), "a", note{Title: "a long title"}); !errors.Is(err, codec.ErrTooLarge) {
		t.Fatalf("Put: %v", err)
	}
}

func TestDeleteErrors(t *testing.T) {
	ctx := context.Background()
	bumpErr := errors.New("gens down")
	delErr := errors.New("store down")

	mp := newMemProvider()
	gens := &flakyGens{Local: genstore.NewLocal(0, 0)}
	h := &recHooks{}
	b := newTestBackend(t, mp, func(c *Config[note]) {
		c.GenStore = gens
		c.Hooks = h
	})
	_ = b.Put(ctx, "a", note{Title: "x"})

	// bump fails: the record is still dropped
	gens.bumpErr = bumpErr
	err := b.Delete(ctx, "a")
	var de *DeleteError
	if !errors.As(err, &de) || de.ID != "a" || !errors.Is(err, bumpErr) || errors.Is(err, delErr) {
		t.Fatalf("bump failure: %v", err)
	}
	if mp.has("item:notes:a") {
		t.Fatal("record should be deleted")
	}
	if h.revErrs != 1 || len(h.outages) != 0 {
		t.Fatalf("hooks: revErrs=%d outages=%v", h.revErrs, h.outages)
	}

	// both fail
	_ = b.Put(ctx, "a", note{Title: "x"})
	mp.delErr = delErr
	err = b.Delete(ctx, "a")
	if !errors.Is(err, bumpErr) || !errors.Is(err, delErr) {
		t.Fatalf("outage: %v", err)
	}
	if len(h.outages) != 1 || h.outages[0] != "a" {
		t.Fatalf("outages = %v", h.outages)
	}

	// delete fails alone: the bumped revision hides the record
	gens.bumpErr = nil
	err = b.Delete(ctx, "a")
	if !errors.As(err, &de) || de.BumpErr != nil || !errors.Is(err, delErr) {
		t.Fatalf("del failure: %v", err)
	}
	mp.delErr = nil
	if _, err := b.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after failed delete: %v", err)
	}
}

func TestCloseOwnsGenStore(t *testing.T) {
	mp := newMemProvider()
	b := newTestBackend(t, mp, nil)
	if err := b.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !mp.closed || !b.ownGens {
		t.Fatalf("closed=%v ownGens=%v", mp.closed, b.ownGens)
	}

	shared := genstore.NewLocal(0, 0)
	b = newTestBackend(t, newMemProvider(), func(c *Config[note]) { c.GenStore = shared })
	if b.ownGens {
		t.Fatal("caller-provided GenStore must not be owned")
	}
}
