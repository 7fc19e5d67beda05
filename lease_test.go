package itemstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource hands out one subscription per open id and counts closes.
type fakeSource struct {
	open   map[string]*Subscription
	n      map[string]Notifier
	opened []string
	closed []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{open: map[string]*Subscription{}, n: map[string]Notifier{}}
}

func (f *fakeSource) Subscribe(id string, n Notifier) (*Subscription, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	if sub, ok := f.open[id]; ok {
		return sub, nil
	}
	f.opened = append(f.opened, id)
	sub := NewSubscription(id, func() {
		f.closed = append(f.closed, id)
		delete(f.open, id)
		delete(f.n, id)
	})
	f.open[id] = sub
	f.n[id] = n
	return sub, nil
}

func (f *fakeSource) emit(id string) {
	if n := f.n[id]; n != nil {
		n.Notify(id)
	}
}

func listenAll(src Subscriber, ids ...string) func(*LeaseScope) error {
	return func(sc *LeaseScope) error {
		for _, id := range ids {
			if err := sc.ListenTo(src, id); err != nil {
				return err
			}
		}
		return nil
	}
}

func TestLeaseCaptureKeepsOverlap(t *testing.T) {
	src := newFakeSource()
	var l Lease
	var got []string
	onChange := func(id string) { got = append(got, id) }

	require.NoError(t, l.Capture(listenAll(src, "a", "b", "a"), onChange))
	assert.Equal(t, 2, l.Held())
	assert.Equal(t, []string{"a", "b"}, src.opened)

	require.NoError(t, l.Capture(listenAll(src, "b", "c"), onChange))
	assert.Equal(t, 2, l.Held())
	assert.Equal(t, []string{"a", "b", "c"}, src.opened)
	assert.Equal(t, []string{"a"}, src.closed)

	src.emit("c")
	src.emit("a")
	assert.Equal(t, []string{"c"}, got)
}

func TestLeaseClosesDroppedOnError(t *testing.T) {
	src := newFakeSource()
	var l Lease
	require.NoError(t, l.Capture(listenAll(src, "a", "b"), func(string) {}))

	boom := errors.New("boom")
	err := l.Capture(func(sc *LeaseScope) error {
		if err := sc.ListenTo(src, "b"); err != nil {
			return err
		}
		return boom
	}, func(string) {})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a"}, src.closed)
	assert.Equal(t, 1, l.Held())
}

func TestLeaseListenToError(t *testing.T) {
	src := newFakeSource()
	var l Lease
	err := l.Capture(listenAll(src, "a", ""), func(string) {})
	assert.ErrorIs(t, err, ErrEmptyID)
	assert.Equal(t, 1, l.Held())
}

func TestLeaseClosesDroppedOnPanic(t *testing.T) {
	src := newFakeSource()
	var l Lease
	require.NoError(t, l.Capture(listenAll(src, "a", "b"), func(string) {}))

	assert.Panics(t, func() {
		_ = l.Capture(func(sc *LeaseScope) error {
			_ = sc.ListenTo(src, "a")
			panic("render")
		}, func(string) {})
	})
	assert.Equal(t, []string{"b"}, src.closed)
	assert.Equal(t, 1, l.Held())
}

func TestLeaseCloseIdempotent(t *testing.T) {
	src := newFakeSource()
	var l Lease
	calls := 0
	require.NoError(t, l.Capture(listenAll(src, "a", "b"), func(string) { calls++ }))

	l.Close()
	l.Close()
	assert.Zero(t, l.Held())
	assert.ElementsMatch(t, []string{"a", "b"}, src.closed)
	assert.Len(t, src.closed, 2)

	src.emit("a")
	assert.Zero(t, calls)

	// a closed lease can capture again
	require.NoError(t, l.Capture(listenAll(src, "c"), func(string) { calls++ }))
	src.emit("c")
	assert.Equal(t, 1, calls)
}

func TestLeaseWithStore(t *testing.T) {
	var calls []string
	s := newTestStore(t, Options[string, string]{Adapter: readEcho(&calls)})
	var l Lease
	var changed []string
	onChange := func(id string) { changed = append(changed, id) }

	require.NoError(t, l.Capture(listenAll(s, "x", "y"), onChange))
	assert.Equal(t, []string{"x", "y"}, calls)
	assert.Equal(t, []string{"x", "y"}, changed)
	assert.True(t, s.GetItemInfo("x").Listening)

	require.NoError(t, l.Capture(listenAll(s, "y"), onChange))
	assert.False(t, s.GetItemInfo("x").Listening)
	assert.True(t, s.GetItemInfo("y").Listening)

	changed = nil
	s.SetItemData("x", "nx")
	s.SetItemData("y", "ny")
	assert.Equal(t, []string{"y"}, changed)

	l.Close()
	assert.False(t, s.GetItemInfo("y").Listening)
}
