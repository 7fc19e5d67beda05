package itemstore

import (
	"slices"
	"sort"
)

// variant is the adapter call chosen for one tier on one turn.
type variant int

const (
	none variant = iota
	andReadMultiple
	multiple
	andReadSingle
	single
)

// pick chooses the call for n pending records. Batches go before singles and
// read-back variants before plain ones; a batch of one prefers a single call.
func pick(caps, arMulti, multi, arSingle, one Capability, n int) variant {
	if n == 0 {
		return none
	}
	if n == 1 {
		switch {
		case caps.Has(arSingle):
			return andReadSingle
		case caps.Has(one) && !caps.Has(arMulti):
			return single
		}
	}
	switch {
	case caps.Has(arMulti):
		return andReadMultiple
	case caps.Has(multi):
		return multiple
	case caps.Has(arSingle):
		return andReadSingle
	case caps.Has(one):
		return single
	}
	return none
}

// limit is the batch size to collect for a tier; 0 => unbounded.
func (s *Store[V, U]) limit(batch Capability, max int) int {
	if s.caps.Any(batch) {
		return max
	}
	return 1
}

func clamp(n, lim int) int {
	if lim > 0 && n > lim {
		return lim
	}
	return n
}

// arm starts the drain loop unless it is already running. Work enqueued
// while draining is picked up by the loop's next turn.
func (s *Store[V, U]) arm() {
	if s.requesting {
		return
	}
	s.requesting = true
	s.queue.Post(s.request)
}

// request runs one scheduler turn: at most one adapter call, tiers in the
// fixed order create, write, delete, read.
func (s *Store[V, U]) request() {
	defer s.enter()()

	if s.dispatchCreate() || s.dispatchWrite() || s.dispatchDelete() || s.dispatchRead() {
		return
	}
	s.requesting = false
	s.log.Debug("scheduler idle", nil)
	s.hooks.SchedulerIdle()
}

// settle guards one adapter completion. The first call routes the result and
// then re-arms the loop; later calls are reported and ignored.
func (s *Store[V, U]) settle(op Op) func(route func()) {
	settled := false
	return func(route func()) {
		if settled {
			s.log.Warn("duplicate adapter completion ignored", Fields{"op": op})
			s.hooks.DuplicateCompletion(op)
			return
		}
		settled = true
		defer s.enter()()
		defer s.queue.Post(s.request)
		route()
	}
}

func (s *Store[V, U]) dispatched(op Op, n int) {
	s.log.Debug("dispatch", Fields{"op": op, "size": n})
	s.hooks.BatchDispatched(op, n)
}

func (s *Store[V, U]) failed(op Op, ids []string, err error) {
	s.log.Warn("adapter call failed", Fields{"op": op, "ids": ids, "err": err})
	s.hooks.AdapterError(op, ids, err)
}

func (s *Store[V, U]) dispatchCreate() bool {
	n := clamp(len(s.creates), s.limit(CapCreateMultiple|CapCreateAndReadMultiple, s.adapter.MaxCreateItems))
	v := pick(s.caps, CapCreateAndReadMultiple, CapCreateMultiple, CapCreateAndReadSingle, CapCreateSingle, n)
	if v == none {
		return false
	}
	if v == andReadSingle || v == single {
		n = 1
	}
	batch := slices.Clone(s.creates[:n])
	s.creates = slices.Delete(s.creates, 0, n)

	switch v {
	case single:
		p := batch[0]
		settle := s.settle(OpCreate)
		s.dispatched(OpCreate, 1)
		s.adapter.CreateSingle(s.ctx, p.req, func(id string, err error) {
			settle(func() {
				if err != nil {
					s.failed(OpCreate, nil, err)
				}
				p.notify(CreateResult[V]{ID: id}, err)
			})
		})
	case andReadSingle:
		p := batch[0]
		settle := s.settle(OpCreateAndRead)
		s.dispatched(OpCreateAndRead, 1)
		s.adapter.CreateAndReadSingle(s.ctx, p.req, func(id string, data V, err error) {
			settle(func() {
				res := CreateResult[V]{ID: id}
				if err != nil {
					s.failed(OpCreateAndRead, nil, err)
				} else if id != "" {
					s.SetItemData(id, data)
					res.Data, res.HasData = data, true
				}
				p.notify(res, err)
			})
		})
	case multiple:
		settle := s.settle(OpCreateMultiple)
		s.dispatched(OpCreateMultiple, len(batch))
		s.adapter.CreateMultiple(s.ctx, createRequests(batch), func(ids []string, err error) {
			settle(func() {
				if err != nil {
					s.failed(OpCreateMultiple, nil, err)
				}
				for i, p := range batch {
					id := at(ids, i)
					p.notify(CreateResult[V]{ID: id}, createErr(err, id))
				}
			})
		})
	case andReadMultiple:
		settle := s.settle(OpCreateAndReadMulti)
		s.dispatched(OpCreateAndReadMulti, len(batch))
		s.adapter.CreateAndReadMultiple(s.ctx, createRequests(batch), func(ids []string, data map[string]V, err error) {
			settle(func() {
				if err != nil {
					s.failed(OpCreateAndReadMulti, nil, err)
				}
				for _, id := range sortedKeys(data) {
					s.SetItemData(id, data[id])
				}
				for i, p := range batch {
					res := CreateResult[V]{ID: at(ids, i)}
					if res.ID != "" {
						res.Data, res.HasData = data[res.ID]
					}
					p.notify(res, createErr(err, res.ID))
				}
			})
		})
	}
	return true
}

// createErr narrows a multi-create error to one position: a position that
// was assigned an id succeeded.
func createErr(err error, id string) error {
	if id != "" {
		return nil
	}
	return err
}

func (p pendingCreate[V]) notify(res CreateResult[V], err error) {
	if p.handler != nil {
		p.handler(res, err)
	}
}

func createRequests[V any](batch []pendingCreate[V]) []CreateRequest[V] {
	out := make([]CreateRequest[V], len(batch))
	for i, p := range batch {
		out[i] = p.req
	}
	return out
}

// collectWrites returns queued ids with a pending edit, in queue order.
func (s *Store[V, U]) collectWrites(lim int) []string {
	var ids []string
	for _, id := range s.invalid {
		if it := s.items[id]; it != nil && it.hasUpdate {
			ids = append(ids, id)
			if lim > 0 && len(ids) >= lim {
				break
			}
		}
	}
	return ids
}

// takeWrite flushes the pending edit of id into a request. The optimistic
// value becomes the committed data, marked outdated until the server answers.
// Read-back writes leave the queue now; plain writes stay queued so the read
// tier refreshes them.
func (s *Store[V, U]) takeWrite(id string, andRead bool) WriteRequest[V, U] {
	it := s.items[id]
	req := WriteRequest[V, U]{
		ID:         id,
		Update:     it.update,
		OldData:    it.data,
		HasOldData: it.hasData,
		NewData:    it.optimistic,
		HasNewData: it.hasOptimistic,
	}
	var zu U
	var zv V
	it.outdated = true
	if it.hasOptimistic {
		it.data, it.hasData = it.optimistic, true
	}
	it.update, it.hasUpdate = zu, false
	it.optimistic, it.hasOptimistic = zv, false
	if andRead {
		s.dequeue(id)
	}
	return req
}

// wrote settles a successful plain write. With a read capability the item
// stays queued for the read tier; without one the written value is current.
func (s *Store[V, U]) wrote(id string) {
	if s.caps.Any(capRead) {
		return
	}
	it := s.items[id]
	if it == nil {
		return
	}
	it.outdated = false
	it.tick = s.tick
	if !it.hasUpdate {
		s.dequeue(id)
	}
	s.fireInfo(id, it)
}

func (s *Store[V, U]) dispatchWrite() bool {
	ids := s.collectWrites(s.limit(CapWriteMultiple|CapWriteAndReadMultiple, s.adapter.MaxWriteItems))
	v := pick(s.caps, CapWriteAndReadMultiple, CapWriteMultiple, CapWriteAndReadSingle, CapWriteSingle, len(ids))
	if v == none {
		return false
	}
	if v == andReadSingle || v == single {
		ids = ids[:1]
	}
	andRead := v == andReadSingle || v == andReadMultiple
	reqs := make([]WriteRequest[V, U], len(ids))
	for i, id := range ids {
		reqs[i] = s.takeWrite(id, andRead)
	}
	for _, id := range ids {
		if it := s.items[id]; it != nil {
			s.fireInfo(id, it)
		}
	}

	switch v {
	case single:
		settle := s.settle(OpWrite)
		s.dispatched(OpWrite, 1)
		s.adapter.WriteSingle(s.ctx, reqs[0], func(err error) {
			settle(func() {
				if err != nil {
					s.failed(OpWrite, ids, err)
					s.SetItemError(ids[0], err)
					return
				}
				s.wrote(ids[0])
			})
		})
	case andReadSingle:
		settle := s.settle(OpWriteAndRead)
		s.dispatched(OpWriteAndRead, 1)
		s.adapter.WriteAndReadSingle(s.ctx, reqs[0], func(data V, err error) {
			settle(func() {
				if err != nil {
					s.failed(OpWriteAndRead, ids, err)
					s.SetItemError(ids[0], err)
					return
				}
				s.SetItemData(ids[0], data)
			})
		})
	case multiple:
		settle := s.settle(OpWriteMultiple)
		s.dispatched(OpWriteMultiple, len(reqs))
		s.adapter.WriteMultiple(s.ctx, reqs, func(err error) {
			settle(func() {
				if err != nil {
					s.failed(OpWriteMultiple, ids, err)
				}
				for _, id := range ids {
					if e := itemErr(err, id); e != nil {
						s.SetItemError(id, e)
					} else {
						s.wrote(id)
					}
				}
			})
		})
	case andReadMultiple:
		settle := s.settle(OpWriteAndReadMulti)
		s.dispatched(OpWriteAndReadMulti, len(reqs))
		s.adapter.WriteAndReadMultiple(s.ctx, reqs, func(data map[string]V, err error) {
			settle(func() { s.routeBatch(OpWriteAndReadMulti, ids, data, err) })
		})
	}
	return true
}

func (s *Store[V, U]) dispatchDelete() bool {
	n := clamp(len(s.deletes), s.limit(CapDeleteMultiple, s.adapter.MaxDeleteItems))
	v := pick(s.caps, 0, CapDeleteMultiple, 0, CapDeleteSingle, n)
	if v == none {
		return false
	}
	if v == single {
		n = 1
	}
	batch := slices.Clone(s.deletes[:n])
	s.deletes = slices.Delete(s.deletes, 0, n)

	if v == single {
		p := batch[0]
		settle := s.settle(OpDelete)
		s.dispatched(OpDelete, 1)
		s.adapter.DeleteSingle(s.ctx, p.req, func(err error) {
			settle(func() {
				if err != nil {
					s.failed(OpDelete, []string{p.req.ID}, err)
				}
				s.deleted(p, err)
			})
		})
		return true
	}

	reqs := make([]DeleteRequest, len(batch))
	ids := make([]string, len(batch))
	for i, p := range batch {
		reqs[i] = p.req
		ids[i] = p.req.ID
	}
	settle := s.settle(OpDeleteMultiple)
	s.dispatched(OpDeleteMultiple, len(reqs))
	s.adapter.DeleteMultiple(s.ctx, reqs, func(err error) {
		settle(func() {
			if err != nil {
				s.failed(OpDeleteMultiple, ids, err)
			}
			for _, p := range batch {
				s.deleted(p, itemErr(err, p.req.ID))
			}
		})
	})
	return true
}

// deleted drops the record on success; a failure is recorded on the item
// when one exists. The handler always receives the raw error.
func (s *Store[V, U]) deleted(p pendingDelete, err error) {
	id := p.req.ID
	if err != nil {
		if _, ok := s.items[id]; ok {
			s.SetItemError(id, err)
		}
	} else {
		s.removeItem(id)
	}
	if p.handler != nil {
		p.handler(err)
	}
}

// collectReads returns queued outdated ids without a pending edit and prunes
// entries that no longer need work.
func (s *Store[V, U]) collectReads(lim int) []string {
	var ids []string
	for _, id := range slices.Clone(s.invalid) {
		it := s.items[id]
		if it == nil || (!it.outdated && !it.hasUpdate) {
			s.dequeue(id)
			continue
		}
		if !it.outdated || it.hasUpdate {
			continue
		}
		ids = append(ids, id)
		if lim > 0 && len(ids) >= lim {
			break
		}
	}
	return ids
}

func (s *Store[V, U]) dispatchRead() bool {
	ids := s.collectReads(s.limit(CapReadMultiple, s.adapter.MaxReadItems))
	v := pick(s.caps, 0, CapReadMultiple, 0, CapReadSingle, len(ids))
	if v == none {
		return false
	}
	if v == single {
		ids = ids[:1]
	}
	reqs := make([]ReadRequest[V], len(ids))
	for i, id := range ids {
		it := s.items[id]
		reqs[i] = ReadRequest[V]{ID: id, OldData: it.data, HasOldData: it.hasData}
		s.dequeue(id)
	}

	if v == single {
		id := ids[0]
		settle := s.settle(OpRead)
		s.dispatched(OpRead, 1)
		s.adapter.ReadSingle(s.ctx, reqs[0], func(data V, err error) {
			settle(func() {
				if err != nil {
					s.failed(OpRead, ids, err)
					s.SetItemError(id, err)
					return
				}
				s.SetItemData(id, data)
			})
		})
		return true
	}

	settle := s.settle(OpReadMultiple)
	s.dispatched(OpReadMultiple, len(reqs))
	s.adapter.ReadMultiple(s.ctx, reqs, func(data map[string]V, err error) {
		settle(func() { s.routeBatch(OpReadMultiple, ids, data, err) })
	})
	return true
}

// routeBatch commits a keyed batch result. Returned ids are committed even
// when the call failed. Other requested ids get their share of err, or
// ErrNotReturned when the call did not fail for them. Extra ids are
// committed too.
func (s *Store[V, U]) routeBatch(op Op, ids []string, data map[string]V, err error) {
	if err != nil {
		s.failed(op, ids, err)
	}
	for _, id := range ids {
		if v, ok := data[id]; ok {
			s.SetItemData(id, v)
			continue
		}
		e := itemErr(err, id)
		if e == nil {
			e = ErrNotReturned
		}
		s.SetItemError(id, e)
	}
	for _, id := range sortedKeys(data) {
		if !slices.Contains(ids, id) {
			s.SetItemData(id, data[id])
		}
	}
}

func at(ids []string, i int) string {
	if i < len(ids) {
		return ids[i]
	}
	return ""
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
