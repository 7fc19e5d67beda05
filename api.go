package itemstore

import "context"

// Handler receives the exposed value of an item every time it changes.
// Identity matters: registering the same handler twice on one id yields the
// same Subscription, so implementations should be pointers (see NewHandler).
type Handler[V any] interface {
	ItemChanged(id string, value V)
}

// Notifier is the untyped counterpart of Handler, used where one observer
// spans stores of different value types (Lease, ListenToItemInfo).
type Notifier interface {
	Notify(id string)
}

type handlerFunc[V any] struct{ fn func(id string, value V) }

func (h *handlerFunc[V]) ItemChanged(id string, value V) { h.fn(id, value) }

// NewHandler wraps fn in a Handler with pointer identity.
func NewHandler[V any](fn func(id string, value V)) Handler[V] {
	return &handlerFunc[V]{fn: fn}
}

type notifierFunc struct{ fn func(id string) }

func (n *notifierFunc) Notify(id string) { n.fn(id) }

// NewNotifier wraps fn in a Notifier with pointer identity.
func NewNotifier(fn func(id string)) Notifier {
	return &notifierFunc{fn: fn}
}

// Waiter is the read surface Fetch resolves dependencies against.
type Waiter interface {
	IsItemUpToDate(id string) bool
	WaitForItem(id string, fn func()) error
}

// Subscriber is the subscribe surface a Lease captures against.
type Subscriber interface {
	Subscribe(id string, n Notifier) (*Subscription, error)
}

// ItemInfo is a metadata snapshot. Updated means a local edit is pending.
type ItemInfo struct {
	Available bool
	Outdated  bool
	Updated   bool
	Listening bool
	Err       error
}

// CreateResult is passed to a CreateHandler. HasData is set when the adapter
// read the created item back.
type CreateResult[V any] struct {
	ID      string
	Data    V
	HasData bool
}

type CreateHandler[V any] func(res CreateResult[V], err error)

// Options configure a Store. Only Adapter matters for I/O; everything else
// has a default.
type Options[V, U any] struct {
	Adapter Adapter[V, U]

	// Queue defers scheduler turns. nil => run after the outermost store call returns.
	Queue Queue

	// Context is handed to every adapter call. nil => context.Background().
	Context context.Context

	// InitialData seeds committed, current records.
	InitialData map[string]V

	// Equal decides whether the exposed value changed. nil => reference identity.
	Equal func(a, b V) bool

	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used
}

// New builds a Store. The Store is not safe for concurrent use: drive it from
// one goroutine, or through a Loop.
func New[V, U any](opts Options[V, U]) (*Store[V, U], error) {
	return newStore(opts)
}
