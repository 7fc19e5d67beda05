package itemstore

// poisoned is far enough below zero that late waiter callbacks never bring
// the counter back to zero.
const poisoned = -1 << 30

// Dependencies is handed to a Fetch body on every pass.
type Dependencies struct {
	state *fetchState
}

// ListenTo reports whether id is current in src. When it is not, Fetch waits
// for it and re-runs the whole body once every pending dependency resolved.
func (d *Dependencies) ListenTo(src Waiter, id string) bool {
	if src.IsItemUpToDate(id) {
		return true
	}
	st := d.state
	if st.pending <= poisoned/2 {
		return false
	}
	st.pending++
	if err := src.WaitForItem(id, st.ready); err != nil {
		st.pending--
		if st.err == nil {
			st.err = err
		}
	}
	return false
}

type fetchState struct {
	pending int
	err     error
	run     func()

	// running is set while fn executes; stale records a dependency that
	// became current during that pass, after fn may already have seen it
	// as missing.
	running bool
	stale   bool
}

func (st *fetchState) ready() {
	st.pending--
	if st.running {
		st.stale = true
		return
	}
	if st.pending == 0 {
		st.run()
	}
}

// Fetch resolves the item dependencies fn discovers and calls callback exactly
// once: with fn's result when every dependency it touched was current, or with
// the first error. fn may be run several times; each pass starts from scratch,
// so later dependencies may depend on the data of earlier ones.
//
// A panic in fn poisons the fetch and propagates to the caller of the pass.
func Fetch[R any](fn func(*Dependencies) (R, error), callback func(R, error)) {
	st := &fetchState{}
	deps := &Dependencies{state: st}
	done := false
	finish := func(r R, err error) {
		if done {
			return
		}
		done = true
		st.pending = poisoned
		callback(r, err)
	}

	pass := func() (r R, err error) {
		st.pending = 1
		st.err = nil
		st.stale = false
		st.running = true
		completed := false
		defer func() {
			st.running = false
			if !completed {
				st.pending = poisoned
				done = true
			}
		}()
		r, err = fn(deps)
		completed = true
		return r, err
	}

	// A pass whose dependencies all arrived before it returned is repeated
	// right away; otherwise the last pending dependency starts the next one.
	st.run = func() {
		for {
			r, err := pass()
			if err == nil {
				err = st.err
			}
			if err != nil {
				var zero R
				finish(zero, err)
				return
			}
			st.pending--
			if st.pending != 0 {
				return
			}
			if !st.stale {
				finish(r, nil)
				return
			}
		}
	}
	st.run()
}
