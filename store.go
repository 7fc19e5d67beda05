package itemstore

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/unkn0wn-root/itemstore/internal/util"
)

/*
record states:

	{outdated}                         no data yet, a read is wanted
	{data}                              data available
	{data, outdated}                    data available, a read is wanted
	{data, update, optimistic}          data available, local edit pending
	{update}                            no data, local edit pending
*/
type item[V, U any] struct {
	data          V
	hasData       bool
	err           error
	update        U
	hasUpdate     bool
	optimistic    V
	hasOptimistic bool
	outdated      bool
	tick          int64

	handlers []*listener[V]
	infos    []*listener[V]
	waiting  int
}

func (it *item[V, U]) exposed() (V, bool) {
	if it.hasOptimistic {
		return it.optimistic, true
	}
	return it.data, it.hasData
}

func (it *item[V, U]) listening() bool { return len(it.handlers) > 0 || it.waiting > 0 }

// listener is one entry of an item's value or info list.
// Exactly one of change, info, wait is set.
type listener[V any] struct {
	key     any
	sub     *Subscription
	change  func(V)
	info    func()
	wait    func()
	removed bool
}

// Subscription is a closeable handle for one registered handler.
type Subscription struct {
	id     string
	closed bool
	close  func()
}

func (s *Subscription) ID() string { return s.id }

func (s *Subscription) Closed() bool { return s.closed }

// Close stops future notifications. It does not abort an outstanding read.
// Safe to call multiple times.
func (s *Subscription) Close() {
	if s == nil || s.closed {
		return
	}
	s.closed = true
	if s.close != nil {
		s.close()
	}
}

type pendingCreate[V any] struct {
	req     CreateRequest[V]
	handler CreateHandler[V]
}

type pendingDelete struct {
	req     DeleteRequest
	handler func(error)
}

// Store is the reactive item cache and request scheduler.
type Store[V, U any] struct {
	adapter  Adapter[V, U]
	caps     Capability
	ctx      context.Context
	queue    Queue
	deferred *deferQueue
	equal    func(a, b V) bool
	log      Logger
	hooks    Hooks

	items      map[string]*item[V, U]
	tick       int64
	invalid    []string
	invalidSet map[string]struct{}
	creates    []pendingCreate[V]
	deletes    []pendingDelete
	requesting bool
}

func newStore[V, U any](opts Options[V, U]) (*Store[V, U], error) {
	a := opts.Adapter
	if a.MaxCreateItems < 0 || a.MaxWriteItems < 0 || a.MaxDeleteItems < 0 || a.MaxReadItems < 0 {
		return nil, fmt.Errorf("itemstore: batch caps must not be negative")
	}

	s := &Store[V, U]{
		adapter:    a,
		caps:       a.Capabilities(),
		items:      make(map[string]*item[V, U], len(opts.InitialData)),
		invalidSet: make(map[string]struct{}),
	}

	// defaults
	s.log = coalesce[Logger](opts.Logger, NopLogger{})
	s.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	s.ctx = coalesce[context.Context](opts.Context, context.Background())
	if opts.Queue != nil {
		s.queue = opts.Queue
	} else {
		s.deferred = &deferQueue{}
		s.queue = s.deferred
	}
	if opts.Equal != nil {
		s.equal = opts.Equal
	} else {
		s.equal = func(a, b V) bool { return util.Same(a, b) }
	}

	for id, v := range opts.InitialData {
		s.items[id] = &item[V, U]{data: v, hasData: true}
	}
	return s, nil
}

// enter marks a store call on the stack so default-queue work runs after it.
// Use as: defer s.enter()()
func (s *Store[V, U]) enter() func() {
	if s.deferred == nil {
		return func() {}
	}
	s.deferred.hold()
	return s.deferred.release
}

// Capabilities returns the adapter capability set computed in New.
func (s *Store[V, U]) Capabilities() Capability { return s.caps }

func (s *Store[V, U]) current(it *item[V, U]) bool {
	return it.hasData && !it.outdated && it.tick == s.tick
}

// record returns the item for id, creating an empty one if needed.
func (s *Store[V, U]) record(id string) *item[V, U] {
	it := s.items[id]
	if it == nil {
		it = &item[V, U]{tick: s.tick}
		s.items[id] = it
	}
	return it
}

// needsRead reports whether a registration should trigger a fetch.
func (s *Store[V, U]) needsRead(it *item[V, U]) bool {
	return !it.outdated && (!it.hasData || it.tick != s.tick)
}

// GetItem returns the optimistic value if an edit is pending, else the
// committed data. Never triggers I/O.
func (s *Store[V, U]) GetItem(id string) (V, bool) {
	it := s.items[id]
	if it == nil {
		var zero V
		return zero, false
	}
	return it.exposed()
}

func (s *Store[V, U]) IsItemAvailable(id string) bool {
	it := s.items[id]
	return it != nil && it.hasData
}

func (s *Store[V, U]) IsItemUpToDate(id string) bool {
	it := s.items[id]
	return it != nil && s.current(it)
}

func (s *Store[V, U]) GetItemInfo(id string) ItemInfo {
	it := s.items[id]
	if it == nil {
		return ItemInfo{}
	}
	return ItemInfo{
		Available: it.hasData,
		Outdated:  it.outdated || it.tick != s.tick,
		Updated:   it.hasUpdate,
		Listening: it.listening(),
		Err:       it.err,
	}
}

// GetData returns committed data for every item that has some.
// ok is false when no item has data.
func (s *Store[V, U]) GetData() (map[string]V, bool) {
	out := make(map[string]V)
	for id, it := range s.items {
		if it.hasData {
			out[id] = it.data
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// InvalidateItem marks id outdated and enqueues a read.
func (s *Store[V, U]) InvalidateItem(id string) error {
	if id == "" {
		return ErrEmptyID
	}
	if !s.caps.Any(capRead) {
		return &CapabilityError{Op: "InvalidateItem", Need: capRead}
	}
	defer s.enter()()

	it := s.record(id)
	changed := !it.outdated
	it.outdated = true
	s.enqueue(id)
	if changed {
		s.fireInfo(id, it)
	}
	return nil
}

// ListenToItem registers h for value changes of id. Registering the same
// (id, h) pair again returns the existing Subscription.
func (s *Store[V, U]) ListenToItem(id string, h Handler[V]) (*Subscription, error) {
	if !util.Identifiable(h) {
		return nil, ErrInvalidHandler
	}
	return s.listen(id, h, func(v V) { h.ItemChanged(id, v) })
}

// Subscribe is ListenToItem for an untyped Notifier.
func (s *Store[V, U]) Subscribe(id string, n Notifier) (*Subscription, error) {
	if !util.Identifiable(n) {
		return nil, ErrInvalidHandler
	}
	return s.listen(id, n, func(V) { n.Notify(id) })
}

func (s *Store[V, U]) listen(id string, key any, fire func(V)) (*Subscription, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	defer s.enter()()

	it, ok := s.items[id]
	if !ok {
		it = &item[V, U]{outdated: true, tick: s.tick}
		s.items[id] = it
		l := s.addListener(id, it, key, fire)
		s.enqueue(id)
		return l.sub, nil
	}
	for _, l := range it.handlers {
		if l.key == key {
			return l.sub, nil
		}
	}
	l := s.addListener(id, it, key, fire)
	if s.needsRead(it) {
		it.outdated = true
		s.enqueue(id)
	}
	return l.sub, nil
}

func (s *Store[V, U]) addListener(id string, it *item[V, U], key any, fire func(V)) *listener[V] {
	l := &listener[V]{key: key, change: fire}
	l.sub = &Subscription{id: id, close: func() {
		l.removed = true
		if cur := s.items[id]; cur != nil {
			cur.handlers = slices.DeleteFunc(cur.handlers, func(x *listener[V]) bool { return x == l })
		}
	}}
	it.handlers = append(it.handlers, l)
	return l
}

// ListenToItemInfo registers n for metadata changes (availability, staleness,
// error, pending edit). It never triggers a fetch.
func (s *Store[V, U]) ListenToItemInfo(id string, n Notifier) (*Subscription, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	if !util.Identifiable(n) {
		return nil, ErrInvalidHandler
	}
	it := s.record(id)
	for _, l := range it.infos {
		if l.info != nil && l.key == n {
			return l.sub, nil
		}
	}
	l := &listener[V]{key: n, info: func() { n.Notify(id) }}
	l.sub = &Subscription{id: id, close: func() {
		l.removed = true
		if cur := s.items[id]; cur != nil {
			s.dropInfo(cur, l)
		}
	}}
	it.infos = append(it.infos, l)
	return l.sub, nil
}

// WaitForItem calls fn exactly once: right away when id is current,
// otherwise when it becomes current or is deleted. It keeps no persistent
// subscription.
func (s *Store[V, U]) WaitForItem(id string, fn func()) error {
	if id == "" {
		return ErrEmptyID
	}
	if fn == nil {
		return ErrInvalidHandler
	}
	defer s.enter()()

	it, ok := s.items[id]
	if ok && s.current(it) {
		fn()
		return nil
	}
	if !ok {
		it = &item[V, U]{outdated: true, tick: s.tick}
		s.items[id] = it
	}
	it.infos = append(it.infos, &listener[V]{wait: fn})
	it.waiting++
	switch {
	case !ok:
		s.enqueue(id)
	case s.needsRead(it):
		it.outdated = true
		s.enqueue(id)
	}
	return nil
}

func (s *Store[V, U]) dropInfo(it *item[V, U], l *listener[V]) {
	n := len(it.infos)
	it.infos = slices.DeleteFunc(it.infos, func(x *listener[V]) bool { return x == l })
	if l.wait != nil && len(it.infos) < n {
		it.waiting--
	}
}

// UpdateItem applies update optimistically, merges it into any pending edit
// and enqueues a write.
func (s *Store[V, U]) UpdateItem(id string, update U) error {
	if id == "" {
		return ErrEmptyID
	}
	if !s.caps.Any(capWrite) {
		return &CapabilityError{Op: "UpdateItem", Need: capWrite}
	}
	defer s.enter()()

	it := s.record(id)
	if it.hasData {
		base, _ := it.exposed()
		it.optimistic = s.adapter.Apply(base, update)
		it.hasOptimistic = true
	}
	if it.hasUpdate {
		it.update = s.adapter.Merge(it.update, update)
	} else {
		it.update = update
		it.hasUpdate = true
	}
	if it.hasData {
		s.fireChange(it, it.optimistic)
	}
	s.fireInfo(id, it)
	s.enqueue(id)
	return nil
}

// CreateItem enqueues data for a create call. No record exists until the
// adapter assigns an id.
func (s *Store[V, U]) CreateItem(data V, handler CreateHandler[V]) error {
	if !s.caps.Any(capCreate) {
		return &CapabilityError{Op: "CreateItem", Need: capCreate}
	}
	defer s.enter()()

	s.creates = append(s.creates, pendingCreate[V]{req: CreateRequest[V]{Data: data}, handler: handler})
	s.arm()
	return nil
}

// DeleteItem enqueues a delete. On success the record is removed.
func (s *Store[V, U]) DeleteItem(id string, handler func(error)) error {
	if id == "" {
		return ErrEmptyID
	}
	if !s.caps.Any(capDelete) {
		return &CapabilityError{Op: "DeleteItem", Need: capDelete}
	}
	defer s.enter()()

	s.deletes = append(s.deletes, pendingDelete{req: DeleteRequest{ID: id}, handler: handler})
	s.arm()
	return nil
}

// Outdate marks one item as behind the global tick without enqueueing.
// The next registration on it triggers the read.
func (s *Store[V, U]) Outdate(id string) {
	it := s.items[id]
	if it == nil {
		return
	}
	defer s.enter()()
	it.tick = s.tick - 1
	s.fireInfo(id, it)
}

// OutdateAll bumps the global tick; every item becomes stale lazily.
func (s *Store[V, U]) OutdateAll() { s.tick++ }

// Refresh marks id outdated, enqueues a read and fires info handlers,
// unless it is already outdated.
func (s *Store[V, U]) Refresh(id string) error {
	if id == "" {
		return ErrEmptyID
	}
	if !s.caps.Any(capRead) {
		return &CapabilityError{Op: "Refresh", Need: capRead}
	}
	defer s.enter()()

	it := s.record(id)
	if it.outdated {
		return nil
	}
	it.outdated = true
	s.enqueue(id)
	s.fireInfo(id, it)
	return nil
}

// RefreshAll bumps the global tick and re-enqueues every observed item
// (value handlers or waiters), or every item when force is set. Unobserved
// items refetch lazily once someone registers on them.
//
// The tick is bumped even when the adapter cannot read; the error reports
// that nothing will be refetched.
func (s *Store[V, U]) RefreshAll(force bool) error {
	s.tick++
	if !s.caps.Any(capRead) {
		return &CapabilityError{Op: "RefreshAll", Need: capRead}
	}
	defer s.enter()()

	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		it := s.items[id]
		if it == nil || it.outdated || !(force || it.listening()) {
			continue
		}
		it.outdated = true
		s.enqueue(id)
		s.fireInfo(id, it)
	}
	return nil
}

// SetItemData commits fresh server data through ApplyNewData and clears the error.
func (s *Store[V, U]) SetItemData(id string, data V) {
	defer s.enter()()

	it := s.record(id)
	prev, hadPrev := it.exposed()
	next := s.adapter.NewData(it.data, data)
	it.err = nil
	s.finalize(id, it, next, prev, hadPrev)
}

// SetItemError records err and commits the value ApplyNewError derives from it.
func (s *Store[V, U]) SetItemError(id string, err error) {
	defer s.enter()()

	it := s.record(id)
	prev, hadPrev := it.exposed()
	next := s.adapter.NewError(it.data, err)
	it.err = err
	s.finalize(id, it, next, prev, hadPrev)
}

func (s *Store[V, U]) finalize(id string, it *item[V, U], next, prev V, hadPrev bool) {
	if it.hasUpdate {
		it.update = s.adapter.Rebase(it.update, it.data, next)
		it.optimistic = s.adapter.Apply(next, it.update)
		it.hasOptimistic = true
	}
	it.data = next
	it.hasData = true
	it.outdated = false
	it.tick = s.tick
	if !it.hasUpdate {
		s.dequeue(id)
	}

	s.fireInfo(id, it)
	cur, _ := it.exposed()
	if !hadPrev || !s.equal(prev, cur) {
		s.fireChange(it, cur)
	}
}

// removeItem drops the record after a successful delete. Info listeners
// are told once and pending waiters are released.
func (s *Store[V, U]) removeItem(id string) {
	it := s.items[id]
	if it == nil {
		return
	}
	delete(s.items, id)
	s.dequeue(id)
	for _, l := range it.handlers {
		l.removed = true
	}
	for _, l := range slices.Clone(it.infos) {
		if l.removed {
			continue
		}
		l.removed = true
		switch {
		case l.info != nil:
			l.info()
		case l.wait != nil:
			l.wait()
		}
	}
	it.infos, it.waiting = nil, 0
	s.hooks.ItemRemoved(id)
	s.log.Debug("item removed", Fields{"id": id})
}

// fireChange notifies value handlers in subscription order over a snapshot.
func (s *Store[V, U]) fireChange(it *item[V, U], v V) {
	for _, l := range slices.Clone(it.handlers) {
		if !l.removed {
			l.change(v)
		}
	}
}

// fireInfo notifies info listeners and releases waiters once the item is current.
func (s *Store[V, U]) fireInfo(id string, it *item[V, U]) {
	for _, l := range slices.Clone(it.infos) {
		if l.removed {
			continue
		}
		if l.wait == nil {
			l.info()
			continue
		}
		if s.items[id] == it && s.current(it) {
			l.removed = true
			s.dropInfo(it, l)
			l.wait()
		}
	}
}

func (s *Store[V, U]) enqueue(id string) {
	if _, ok := s.invalidSet[id]; ok {
		return
	}
	s.invalid = append(s.invalid, id)
	s.invalidSet[id] = struct{}{}
	s.arm()
}

func (s *Store[V, U]) dequeue(id string) {
	if _, ok := s.invalidSet[id]; !ok {
		return
	}
	delete(s.invalidSet, id)
	if i := slices.Index(s.invalid, id); i >= 0 {
		s.invalid = slices.Delete(s.invalid, i, i+1)
	}
}
