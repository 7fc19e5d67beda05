package itemstore

import (
	"context"
	"strings"
)

// Capability is a bit set of the I/O operations an Adapter declares.
type Capability uint32

const (
	CapCreateSingle Capability = 1 << iota
	CapCreateAndReadSingle
	CapCreateMultiple
	CapCreateAndReadMultiple
	CapWriteSingle
	CapWriteAndReadSingle
	CapWriteMultiple
	CapWriteAndReadMultiple
	CapDeleteSingle
	CapDeleteMultiple
	CapReadSingle
	CapReadMultiple
)

const (
	capCreate = CapCreateSingle | CapCreateAndReadSingle | CapCreateMultiple | CapCreateAndReadMultiple
	capWrite  = CapWriteSingle | CapWriteAndReadSingle | CapWriteMultiple | CapWriteAndReadMultiple
	capDelete = CapDeleteSingle | CapDeleteMultiple
	capRead   = CapReadSingle | CapReadMultiple
)

var capNames = []string{
	"create_single", "create_and_read_single", "create_multiple", "create_and_read_multiple",
	"write_single", "write_and_read_single", "write_multiple", "write_and_read_multiple",
	"delete_single", "delete_multiple", "read_single", "read_multiple",
}

// Has reports whether every bit of o is set in c.
func (c Capability) Has(o Capability) bool { return o != 0 && c&o == o }

// Any reports whether at least one bit of o is set in c.
func (c Capability) Any(o Capability) bool { return c&o != 0 }

func (c Capability) String() string {
	var parts []string
	for i, n := range capNames {
		if c&(1<<i) != 0 {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, ",")
}

// CreateRequest carries raw data for a create call.
type CreateRequest[V any] struct {
	Data V
}

// WriteRequest describes one flushed local edit.
// OldData is the committed value before the edit, NewData the optimistic value.
type WriteRequest[V, U any] struct {
	ID         string
	Update     U
	OldData    V
	HasOldData bool
	NewData    V
	HasNewData bool
}

type ReadRequest[V any] struct {
	ID         string
	OldData    V
	HasOldData bool
}

type DeleteRequest struct {
	ID string
}

// Transforms are the pure data hooks. Nil fields fall back to defaults:
// ApplyUpdate and MergeUpdates shallow-merge map[string]any values (else the
// update replaces when it is a V / the later update wins), RebaseUpdate keeps
// the update unchanged, ApplyNewData replaces, ApplyNewError yields the zero V.
type Transforms[V, U any] struct {
	ApplyUpdate   func(data V, update U) V
	MergeUpdates  func(a, b U) U
	RebaseUpdate  func(update U, oldData, newData V) U
	ApplyNewData  func(oldData, newData V) V
	ApplyNewError func(oldData V, err error) V
}

func (t Transforms[V, U]) Apply(data V, update U) V {
	if t.ApplyUpdate != nil {
		return t.ApplyUpdate(data, update)
	}
	return applyUpdate(data, update)
}

func (t Transforms[V, U]) Merge(a, b U) U {
	if t.MergeUpdates != nil {
		return t.MergeUpdates(a, b)
	}
	return mergeUpdates(a, b)
}

func (t Transforms[V, U]) Rebase(update U, oldData, newData V) U {
	if t.RebaseUpdate != nil {
		return t.RebaseUpdate(update, oldData, newData)
	}
	return update
}

func (t Transforms[V, U]) NewData(oldData, newData V) V {
	if t.ApplyNewData != nil {
		return t.ApplyNewData(oldData, newData)
	}
	return newData
}

func (t Transforms[V, U]) NewError(oldData V, err error) V {
	if t.ApplyNewError != nil {
		return t.ApplyNewError(oldData, err)
	}
	var zero V
	return zero
}

// Adapter describes a backend. Every I/O field is optional; the store
// computes the capability set once in New and only calls declared fields.
// Completion callbacks must be invoked exactly once, on the store's
// execution context (see Queue and Loop).
//
// Multi-item reads return values keyed by id. Multi-item creates return ids
// positionally matching the request slice.
//
// A multi-item call may fail for some items only. Keyed results are
// committed for every id they contain, even alongside an error; a
// *BatchError names the ids that failed, any other error applies to every id
// without a result. For creates, a position that was assigned an id counts
// as created.
type Adapter[V, U any] struct {
	Transforms[V, U]

	CreateSingle          func(ctx context.Context, req CreateRequest[V], done func(id string, err error))
	CreateAndReadSingle   func(ctx context.Context, req CreateRequest[V], done func(id string, data V, err error))
	CreateMultiple        func(ctx context.Context, reqs []CreateRequest[V], done func(ids []string, err error))
	CreateAndReadMultiple func(ctx context.Context, reqs []CreateRequest[V], done func(ids []string, data map[string]V, err error))

	WriteSingle          func(ctx context.Context, req WriteRequest[V, U], done func(err error))
	WriteAndReadSingle   func(ctx context.Context, req WriteRequest[V, U], done func(data V, err error))
	WriteMultiple        func(ctx context.Context, reqs []WriteRequest[V, U], done func(err error))
	WriteAndReadMultiple func(ctx context.Context, reqs []WriteRequest[V, U], done func(data map[string]V, err error))

	DeleteSingle   func(ctx context.Context, req DeleteRequest, done func(err error))
	DeleteMultiple func(ctx context.Context, reqs []DeleteRequest, done func(err error))

	ReadSingle   func(ctx context.Context, req ReadRequest[V], done func(data V, err error))
	ReadMultiple func(ctx context.Context, reqs []ReadRequest[V], done func(data map[string]V, err error))

	// Batch caps for the Multiple variants; 0 => unbounded.
	MaxCreateItems int
	MaxWriteItems  int
	MaxDeleteItems int
	MaxReadItems   int
}

// Capabilities returns the set of declared I/O fields.
func (a *Adapter[V, U]) Capabilities() Capability {
	var c Capability
	set := func(ok bool, bit Capability) {
		if ok {
			c |= bit
		}
	}
	set(a.CreateSingle != nil, CapCreateSingle)
	set(a.CreateAndReadSingle != nil, CapCreateAndReadSingle)
	set(a.CreateMultiple != nil, CapCreateMultiple)
	set(a.CreateAndReadMultiple != nil, CapCreateAndReadMultiple)
	set(a.WriteSingle != nil, CapWriteSingle)
	set(a.WriteAndReadSingle != nil, CapWriteAndReadSingle)
	set(a.WriteMultiple != nil, CapWriteMultiple)
	set(a.WriteAndReadMultiple != nil, CapWriteAndReadMultiple)
	set(a.DeleteSingle != nil, CapDeleteSingle)
	set(a.DeleteMultiple != nil, CapDeleteMultiple)
	set(a.ReadSingle != nil, CapReadSingle)
	set(a.ReadMultiple != nil, CapReadMultiple)
	return c
}
