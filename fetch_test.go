package itemstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pendingReads never completes reads on its own.
func pendingReads() Adapter[string, string] {
	return Adapter[string, string]{
		ReadSingle: func(context.Context, ReadRequest[string], func(string, error)) {},
	}
}

func TestFetchWaitsForItem(t *testing.T) {
	s := newTestStore(t, Options[string, string]{Adapter: pendingReads()})
	afterSet := false
	called := 0

	Fetch(func(d *Dependencies) (struct{}, error) {
		d.ListenTo(s, "2")
		return struct{}{}, nil
	}, func(_ struct{}, err error) {
		require.NoError(t, err)
		assert.True(t, afterSet)
		called++
	})

	s.SetItemData("1", "d1")
	afterSet = true
	s.SetItemData("2", "d2")
	afterSet = false
	assert.Equal(t, 1, called)
}

func TestFetchWaitsForEveryItem(t *testing.T) {
	s := newTestStore(t, Options[string, string]{Adapter: pendingReads()})
	afterSet := false
	called := 0

	Fetch(func(d *Dependencies) (int, error) {
		n := 0
		for _, id := range []string{"2", "3", "4"} {
			if d.ListenTo(s, id) {
				n++
			}
		}
		return n, nil
	}, func(n int, err error) {
		require.NoError(t, err)
		assert.True(t, afterSet)
		assert.Equal(t, 3, n)
		called++
	})

	s.SetItemData("1", "d1")
	s.SetItemData("2", "d2")
	s.SetItemData("3", "d3")
	afterSet = true
	s.SetItemError("4", errors.New("e4"))
	afterSet = false
	assert.Equal(t, 1, called)
}

func TestFetchDiscoversDependenciesProgressively(t *testing.T) {
	s := newTestStore(t, Options[string, string]{Adapter: pendingReads()})
	afterSet := false
	passes := 0
	called := 0

	Fetch(func(d *Dependencies) (string, error) {
		passes++
		if !d.ListenTo(s, "2") {
			return "", nil
		}
		if !d.ListenTo(s, "3") {
			return "", nil
		}
		d.ListenTo(s, "4")
		v, _ := s.GetItem("3")
		return v, nil
	}, func(v string, err error) {
		require.NoError(t, err)
		assert.True(t, afterSet)
		assert.Equal(t, "d3", v)
		called++
	})

	s.SetItemData("1", "d1")
	s.SetItemData("2", "d2")
	s.SetItemData("3", "d3")
	afterSet = true
	s.SetItemError("4", errors.New("e4"))
	afterSet = false
	assert.Equal(t, 1, called)
	assert.Equal(t, 4, passes)
}

func TestFetchWithSynchronousAdapter(t *testing.T) {
	var calls []string
	s := newTestStore(t, Options[string, string]{Adapter: readEcho(&calls)})
	passes := 0
	var got []string

	Fetch(func(d *Dependencies) (string, error) {
		passes++
		for _, id := range []string{"2", "3", "4"} {
			if !d.ListenTo(s, id) {
				return "", nil
			}
		}
		v, _ := s.GetItem("4")
		return v, nil
	}, func(v string, err error) {
		require.NoError(t, err)
		got = append(got, v)
	})

	assert.Equal(t, []string{"data4"}, got)
	assert.Equal(t, []string{"2", "3", "4"}, calls)
	assert.Equal(t, 4, passes)
}

func TestFetchRerunsWhenDependencyArrivesMidPass(t *testing.T) {
	var calls []string
	s := newTestStore(t, Options[string, string]{Adapter: readEcho(&calls)})
	var got []string

	Fetch(func(d *Dependencies) (string, error) {
		if !d.ListenTo(s, "a") {
			return "", nil
		}
		v, _ := s.GetItem("a")
		return v, nil
	}, func(v string, err error) {
		require.NoError(t, err)
		got = append(got, v)
	})

	assert.Equal(t, []string{"dataa"}, got)
	assert.True(t, s.IsItemUpToDate("a"))
}

func TestFetchMixedSynchronousAndPendingDependencies(t *testing.T) {
	s := newTestStore(t, Options[string, string]{Adapter: Adapter[string, string]{
		ReadSingle: func(_ context.Context, req ReadRequest[string], done func(string, error)) {
			if req.ID == "fast" {
				done("f", nil)
			}
		},
	}})
	passes := 0
	var got []string

	Fetch(func(d *Dependencies) (string, error) {
		passes++
		fast := d.ListenTo(s, "fast")
		slow := d.ListenTo(s, "slow")
		if !fast || !slow {
			return "", nil
		}
		a, _ := s.GetItem("fast")
		b, _ := s.GetItem("slow")
		return a + b, nil
	}, func(v string, err error) {
		require.NoError(t, err)
		got = append(got, v)
	})

	assert.Empty(t, got)
	assert.Equal(t, 1, passes)

	s.SetItemData("slow", "s")
	assert.Equal(t, []string{"fs"}, got)
	assert.Equal(t, 2, passes)
}

func TestFetchSurvivesDeletedDependency(t *testing.T) {
	q := &ManualQueue{}
	h := &held{}
	s := newTestStore(t, Options[string, string]{Queue: q, Adapter: Adapter[string, string]{
		ReadSingle: func(_ context.Context, req ReadRequest[string], done func(string, error)) {
			h.add("read:"+req.ID, func() { done("data"+req.ID, nil) })
		},
		DeleteSingle: func(_ context.Context, _ DeleteRequest, done func(error)) { done(nil) },
	}})
	passes := 0
	var got []string

	Fetch(func(d *Dependencies) (string, error) {
		passes++
		if !d.ListenTo(s, "a") {
			return "", nil
		}
		v, _ := s.GetItem("a")
		return v, nil
	}, func(v string, err error) {
		require.NoError(t, err)
		got = append(got, v)
	})

	require.NoError(t, s.DeleteItem("a", nil))
	q.Flush()
	assert.Equal(t, 2, passes)
	assert.Equal(t, []string{"read:a"}, h.ops)
	assert.Empty(t, got)

	h.complete(t)
	assert.Equal(t, []string{"dataa"}, got)
	assert.Equal(t, 3, passes)
}

func TestFetchDoesNotWaitForCurrentItems(t *testing.T) {
	q := &ManualQueue{}
	s := newTestStore(t, Options[string, string]{Adapter: pendingReads(), Queue: q})
	s.SetItemData("1", "d1")
	s.SetItemData("2", "d2")
	s.SetItemData("3", "")
	s.SetItemError("4", errors.New("e4"))
	called := 0

	Fetch(func(d *Dependencies) (bool, error) {
		return d.ListenTo(s, "2") && d.ListenTo(s, "3") && d.ListenTo(s, "4"), nil
	}, func(ok bool, err error) {
		require.NoError(t, err)
		assert.True(t, ok)
		called++
	})

	assert.Equal(t, 1, called)
	assert.Zero(t, q.Len())
}

func TestFetchWaitsForMissingOnly(t *testing.T) {
	q := &ManualQueue{}
	s := newTestStore(t, Options[string, string]{Adapter: pendingReads(), Queue: q})
	s.SetItemData("1", "d1")
	s.SetItemData("2", "d2")
	called := 0

	Fetch(func(d *Dependencies) (struct{}, error) {
		d.ListenTo(s, "2")
		d.ListenTo(s, "3")
		d.ListenTo(s, "4")
		return struct{}{}, nil
	}, func(_ struct{}, err error) {
		require.NoError(t, err)
		called++
	})

	assert.Equal(t, 0, called)
	s.SetItemData("3", "d3")
	assert.Equal(t, 0, called)
	s.SetItemError("4", errors.New("e4"))
	assert.Equal(t, 1, called)
}

func TestFetchWaitsForOutdatedItems(t *testing.T) {
	q := &ManualQueue{}
	s := newTestStore(t, Options[string, string]{Adapter: pendingReads(), Queue: q})
	for _, id := range []string{"1", "2", "3"} {
		s.SetItemData(id, "d"+id)
	}
	s.SetItemError("4", errors.New("e4"))
	s.OutdateAll()
	require.False(t, s.IsItemUpToDate("1"))
	called := 0

	Fetch(func(d *Dependencies) (struct{}, error) {
		d.ListenTo(s, "2")
		d.ListenTo(s, "3")
		d.ListenTo(s, "4")
		return struct{}{}, nil
	}, func(_ struct{}, err error) {
		require.NoError(t, err)
		called++
	})

	assert.Equal(t, 0, called)
	s.SetItemData("1", "nd1")
	s.SetItemData("2", "nd2")
	s.SetItemData("3", "d3")
	s.SetItemError("4", errors.New("e4"))
	assert.Equal(t, 1, called)
}

func TestFetchErrorPoisons(t *testing.T) {
	s := newTestStore(t, Options[string, string]{Adapter: pendingReads()})
	boom := errors.New("boom")
	var errs []error
	passes := 0

	Fetch(func(d *Dependencies) (int, error) {
		passes++
		d.ListenTo(s, "a")
		return 0, boom
	}, func(_ int, err error) { errs = append(errs, err) })

	s.SetItemData("a", "1")
	assert.Equal(t, []error{boom}, errs)
	assert.Equal(t, 1, passes)
}

func TestFetchReportsWaitErrors(t *testing.T) {
	s := newTestStore(t, Options[string, string]{Adapter: pendingReads()})
	var got error
	called := 0

	Fetch(func(d *Dependencies) (int, error) {
		d.ListenTo(s, "")
		return 1, nil
	}, func(_ int, err error) {
		got = err
		called++
	})

	assert.Equal(t, 1, called)
	assert.ErrorIs(t, got, ErrEmptyID)
}

func TestFetchPanicPoisonsAndPropagates(t *testing.T) {
	s := newTestStore(t, Options[string, string]{Adapter: pendingReads()})
	passes := 0
	called := 0

	Fetch(func(d *Dependencies) (int, error) {
		passes++
		if passes == 2 {
			panic("second pass")
		}
		d.ListenTo(s, "a")
		return 0, nil
	}, func(int, error) { called++ })

	assert.PanicsWithValue(t, "second pass", func() { s.SetItemData("a", "1") })
	assert.Equal(t, 2, passes)
	assert.Zero(t, called)

	s.SetItemData("a", "2")
	assert.Equal(t, 2, passes)
}
