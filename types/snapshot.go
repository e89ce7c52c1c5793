package types

import "slices"

// Snapshot is an immutable, ordered view of every known job at one instant.
// Modifying methods return a new Snapshot and leave the receiver untouched.
type Snapshot struct {
	// Version is stamped by the store when the snapshot is published
	Version uint64

	order []string
	jobs  map[string]JobRecord
}

// NewSnapshot builds a snapshot from records in order. When a gid repeats,
// the later record wins and keeps the position of the first occurrence.
func NewSnapshot(records []JobRecord) Snapshot {
	s := Snapshot{
		order: make([]string, 0, len(records)),
		jobs:  make(map[string]JobRecord, len(records)),
	}
	for _, rec := range records {
		if _, exists := s.jobs[rec.GID]; !exists {
			s.order = append(s.order, rec.GID)
		}
		s.jobs[rec.GID] = rec.Clone()
	}
	return s
}

func (s Snapshot) Len() int {
	return len(s.order)
}

// Get returns a copy of the record for gid
func (s Snapshot) Get(gid string) (JobRecord, bool) {
	rec, ok := s.jobs[gid]
	if !ok {
		return JobRecord{}, false
	}
	return rec.Clone(), true
}

func (s Snapshot) Has(gid string) bool {
	_, ok := s.jobs[gid]
	return ok
}

// GIDs returns the job ids in snapshot order
func (s Snapshot) GIDs() []string {
	return slices.Clone(s.order)
}

// Jobs flattens the snapshot into a list in snapshot order
func (s Snapshot) Jobs() []JobRecord {
	jobs := make([]JobRecord, 0, len(s.order))
	for _, gid := range s.order {
		jobs = append(jobs, s.jobs[gid].Clone())
	}
	return jobs
}

// With returns a copy with rec inserted, or replaced in place if present
func (s Snapshot) With(rec JobRecord) Snapshot {
	next := s.clone()
	if _, exists := next.jobs[rec.GID]; !exists {
		next.order = append(next.order, rec.GID)
	}
	next.jobs[rec.GID] = rec.Clone()
	return next
}

// Without returns a copy with gid removed
func (s Snapshot) Without(gid string) Snapshot {
	if !s.Has(gid) {
		return s
	}
	next := s.clone()
	delete(next.jobs, gid)
	next.order = slices.DeleteFunc(next.order, func(id string) bool { return id == gid })
	return next
}

// Equal compares contents and order; Version is ignored
func (s Snapshot) Equal(o Snapshot) bool {
	if !slices.Equal(s.order, o.order) {
		return false
	}
	for _, gid := range s.order {
		if !s.jobs[gid].Equal(o.jobs[gid]) {
			return false
		}
	}
	return true
}

// CountByStatus returns the number of jobs per status
func (s Snapshot) CountByStatus() map[JobStatus]int {
	counts := make(map[JobStatus]int, len(JobStatuses))
	for _, rec := range s.jobs {
		counts[rec.Status]++
	}
	return counts
}

// clone copies the index; records are shared because they are never mutated
func (s Snapshot) clone() Snapshot {
	next := Snapshot{
		Version: s.Version,
		order:   slices.Clone(s.order),
		jobs:    make(map[string]JobRecord, len(s.jobs)+1),
	}
	for gid, rec := range s.jobs {
		next.jobs[gid] = rec
	}
	return next
}
