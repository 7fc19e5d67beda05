package itemstore

import "slices"

// NewSubscription builds a handle for custom Subscriber implementations.
// close runs once, on the first Close.
func NewSubscription(id string, close func()) *Subscription {
	return &Subscription{id: id, close: close}
}

type leaseNotifier struct {
	fn func(id string)
}

func (n *leaseNotifier) Notify(id string) {
	if n.fn != nil {
		n.fn(id)
	}
}

// Lease holds the subscriptions of one reactive computation and swaps them
// on every Capture. The zero value is ready to use.
type Lease struct {
	n      *leaseNotifier
	held   []*Subscription
	closed bool
}

// LeaseScope collects the subscriptions of one Capture.
type LeaseScope struct {
	lease *Lease
	subs  []*Subscription
}

// ListenTo subscribes the lease to id on src.
func (sc *LeaseScope) ListenTo(src Subscriber, id string) error {
	sub, err := src.Subscribe(id, sc.lease.n)
	if err != nil {
		return err
	}
	if !slices.Contains(sc.subs, sub) {
		sc.subs = append(sc.subs, sub)
	}
	return nil
}

// Capture runs fn and replaces the held subscriptions with the ones fn opened.
// Subscriptions held before and reopened by fn stay open; the rest are closed,
// also when fn fails or panics. onChange receives the id of every change
// notification until the next Capture or Close.
func (l *Lease) Capture(fn func(*LeaseScope) error, onChange func(id string)) error {
	if l.n == nil {
		l.n = &leaseNotifier{}
	}
	l.n.fn = onChange
	l.closed = false

	sc := &LeaseScope{lease: l}
	defer func() {
		for _, old := range l.held {
			if !slices.Contains(sc.subs, old) {
				old.Close()
			}
		}
		l.held = sc.subs
	}()
	return fn(sc)
}

// Held returns the number of open subscriptions.
func (l *Lease) Held() int { return len(l.held) }

// Close releases every held subscription. Safe to call multiple times.
func (l *Lease) Close() {
	if l.closed {
		return
	}
	l.closed = true
	for _, sub := range l.held {
		sub.Close()
	}
	l.held = nil
	if l.n != nil {
		l.n.fn = nil
	}
}
