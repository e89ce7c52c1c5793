package services

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"ariaview/broadcast"
	"ariaview/metrics"
	"ariaview/types"
)

// Store owns the published snapshot. Every change goes through one write
// section, which stamps a new version and publishes it to the broadcaster,
// so subscribers see versions in commit order.
type Store struct {
	mu      sync.RWMutex
	current types.Snapshot
	version uint64
	// touched maps a gid to the version of its last point update
	touched map[string]uint64

	bus *broadcast.Broadcaster[types.Snapshot]
}

// NewStore starts with an empty snapshot at version 1
func NewStore() *Store {
	initial := types.NewSnapshot(nil)
	initial.Version = 1
	return &Store{
		current: initial,
		version: 1,
		touched: make(map[string]uint64),
		bus:     broadcast.New(initial),
	}
}

// Read returns the published snapshot
func (s *Store) Read() types.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Version returns the version of the published snapshot
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Subscribe returns a subscription whose first value is the published snapshot
func (s *Store) Subscribe() *broadcast.Subscription[types.Snapshot] {
	return s.bus.Subscribe()
}

// Close ends all subscriptions
func (s *Store) Close() {
	s.bus.Close()
}

// Propose replaces the snapshot when next differs from it. It reports
// whether a new version was published.
func (s *Store) Propose(next types.Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(next)
}

// Put inserts or replaces one job
func (s *Store) Put(rec types.JobRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.touchLocked(rec.GID, s.current.With(rec))
}

// Drop removes one job
func (s *Store) Drop(gid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.touchLocked(gid, s.current.Without(gid))
}

// touchLocked commits a point update and marks gid only when a new version
// was published; a suppressed update must not shadow later polls.
func (s *Store) touchLocked(gid string, next types.Snapshot) bool {
	if !s.commitLocked(next) {
		return false
	}
	s.touched[gid] = s.version
	return true
}

// Reconcile proposes a full poll result. base is the version that was
// current when the poll started; jobs point updated after base keep their
// current state (or absence) so a slow poll cannot bring back data that a
// notification already replaced.
func (s *Store) Reconcile(base uint64, polled types.Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := polled
	for gid, at := range s.touched {
		if at <= base {
			delete(s.touched, gid)
			continue
		}
		if rec, ok := s.current.Get(gid); ok {
			next = next.With(rec)
		} else {
			next = next.Without(gid)
		}
	}
	return s.commitLocked(next)
}

func (s *Store) commitLocked(next types.Snapshot) bool {
	if next.Equal(s.current) {
		metrics.SnapshotSuppressed.Inc()
		return false
	}

	s.version++
	next.Version = s.version
	s.current = next
	s.bus.Publish(next)
	metrics.RecordSnapshot(next)

	log.WithFields(log.Fields{
		"version": next.Version,
		"jobs":    next.Len(),
	}).Debug("Published snapshot")
	return true
}
