package genstore

import (
	"context"
	"sync"
	"time"
)

var _ GenStore = (*Local)(nil)

type localRev struct {
	rev     uint64
	touched time.Time
}

// Local keeps revisions in process memory. With a retention period, entries
// untouched for that long are pruned, which resets them to 0.
type Local struct {
	mu   sync.RWMutex
	revs map[string]localRev
	now  func() time.Time

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewLocal returns a Local store. A background prune runs every interval
// when both interval and retention are positive.
func NewLocal(interval, retention time.Duration) *Local {
	s := &Local{revs: make(map[string]localRev), now: time.Now}
	if interval <= 0 || retention <= 0 {
		return s
	}
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				s.Prune(retention)
			case <-s.stop:
				return
			}
		}
	}()
	return s
}

func (s *Local) Snapshot(_ context.Context, key string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revs[key].rev, nil
}

// SnapshotMany reads every key under one lock.
func (s *Local) SnapshotMany(_ context.Context, keys []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(keys))
	s.mu.RLock()
	for _, k := range keys {
		out[k] = s.revs[k].rev
	}
	s.mu.RUnlock()
	return out, nil
}

func (s *Local) Bump(_ context.Context, key string) (uint64, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.revs[key]
	r.rev++
	r.touched = now
	s.revs[key] = r
	return r.rev, nil
}

// Prune drops entries last bumped before now-retention and returns how many
// were dropped.
func (s *Local) Prune(retention time.Duration) int {
	if retention <= 0 {
		return 0
	}
	cutoff := s.now().Add(-retention)
	n := 0
	s.mu.Lock()
	for k, r := range s.revs {
		if r.touched.Before(cutoff) {
			delete(s.revs, k)
			n++
		}
	}
	s.mu.Unlock()
	return n
}

// Close stops the prune loop. Safe to call multiple times.
func (s *Local) Close(context.Context) error {
	s.once.Do(func() {
		if s.stop != nil {
			close(s.stop)
			s.wg.Wait()
		}
	})
	return nil
}
