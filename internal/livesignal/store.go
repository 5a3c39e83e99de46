package livesignal

import (
	"sync"
	"sync/atomic"
	"time"
)

// snapshot is an immutable view of every stored signal. A new snapshot is
// built for each write; only the maps of feeds touched by the write are
// copied.
type snapshot struct {
	feeds map[Feed]map[string]Signal
}

func (s *snapshot) count() int {
	n := 0
	for _, m := range s.feeds {
		n += len(m)
	}
	return n
}

// Store holds the latest signal per (feed, entity). Reads are lock-free and
// always observe a complete snapshot; writes are serialized and publish a new
// snapshot atomically, so readers never wait on writers.
type Store struct {
	mu      sync.Mutex
	current atomic.Pointer[snapshot]
}

// NewStore creates an empty store.
func NewStore() *Store {
	s := &Store{}
	s.current.Store(&snapshot{feeds: map[Feed]map[string]Signal{}})
	return s
}

// UpsertResult reports what a batch write did.
type UpsertResult struct {
	Applied int
	// Superseded counts signals ignored because a newer one was stored.
	Superseded int
}

// Upsert stores sig unless a signal with a newer timestamp is already held
// for the same key. Equal timestamps replace the stored signal.
func (s *Store) Upsert(sig Signal) bool {
	return s.UpsertBatch([]Signal{sig}).Applied == 1
}

// UpsertBatch applies signals in one snapshot swap. Out-of-order arrivals are
// resolved by timestamp, never by arrival order.
func (s *Store) UpsertBatch(signals []Signal) UpsertResult {
	var res UpsertResult
	if len(signals) == 0 {
		return res
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.current.Load()
	next := &snapshot{feeds: make(map[Feed]map[string]Signal, len(old.feeds))}
	for f, m := range old.feeds {
		next.feeds[f] = m
	}

	copied := map[Feed]bool{}
	for _, sig := range signals {
		m := next.feeds[sig.Feed]
		if prev, ok := m[sig.EntityID]; ok && prev.Timestamp.After(sig.Timestamp) {
			res.Superseded++
			continue
		}
		if !copied[sig.Feed] {
			cp := make(map[string]Signal, len(m)+1)
			for k, v := range m {
				cp[k] = v
			}
			m = cp
			next.feeds[sig.Feed] = m
			copied[sig.Feed] = true
		}
		m[sig.EntityID] = sig
		res.Applied++
	}

	if res.Applied > 0 {
		s.current.Store(next)
	}
	return res
}

// Prune removes signals whose source timestamp is before cutoff and returns
// how many were removed.
func (s *Store) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.current.Load()
	next := &snapshot{feeds: make(map[Feed]map[string]Signal, len(old.feeds))}
	removed := 0
	for f, m := range old.feeds {
		kept := make(map[string]Signal, len(m))
		for k, v := range m {
			if v.Timestamp.Before(cutoff) {
				removed++
				continue
			}
			kept[k] = v
		}
		next.feeds[f] = kept
	}

	if removed > 0 {
		s.current.Store(next)
	}
	return removed
}

// Len returns the number of stored signals.
func (s *Store) Len() int {
	return s.current.Load().count()
}

// CountByFeed returns the number of stored signals per feed.
func (s *Store) CountByFeed() map[Feed]int {
	snap := s.current.Load()
	out := make(map[Feed]int, len(snap.feeds))
	for f, m := range snap.feeds {
		out[f] = len(m)
	}
	return out
}

func (s *Store) load() *snapshot {
	return s.current.Load()
}
