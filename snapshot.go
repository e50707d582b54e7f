package timetable

import (
	"sync"
	"sync/atomic"

	"github.com/opentransit/timetable/model"
)

type patternDateKey struct {
	pattern *TripPattern
	date    model.ServiceDate
}

type tripDateKey struct {
	feedID string
	tripID string
	date   model.ServiceDate
}

// Snapshot is a layered view of the transit schedule: a map of
// realtime Timetables overlaying the published schedule, present only
// for pattern-days that realtime data has actually touched.
//
// A snapshot starts out dirty (mutable) inside a publisher's builder,
// and is frozen by Commit. Once frozen it is immutable and can be
// read from any number of threads without locking. Readers that hold
// a frozen snapshot keep seeing its exact contents no matter how many
// commits happen after; they pick up changes only by re-fetching the
// current snapshot from the publisher.
type Snapshot struct {
	timetables       map[patternDateKey]*Timetable
	lastAddedPattern map[tripDateKey]*TripPattern

	// Pattern-days deep-copied by this builder. Cleared on
	// commit; a frozen snapshot's timetables are never written.
	touched map[patternDateKey]bool

	dirty bool
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		timetables:       map[patternDateKey]*Timetable{},
		lastAddedPattern: map[tripDateKey]*TripPattern{},
		touched:          map[patternDateKey]bool{},
	}
}

// The effective timetable for a pattern on a date: the realtime
// overlay if one exists, the published schedule otherwise. Lock-free.
func (s *Snapshot) Resolve(pattern *TripPattern, date model.ServiceDate) *Timetable {
	if date != "" {
		if tt, found := s.timetables[patternDateKey{pattern, date}]; found {
			return tt
		}
	}
	return pattern.Scheduled()
}

// Stages new times for one trip on one pattern-day. The pattern-day's
// timetable is deep-copied the first time this builder touches it;
// further updates in the same batch write into that copy.
func (s *Snapshot) Update(pattern *TripPattern, date model.ServiceDate, tt *TripTimes) error {
	if !s.dirty {
		return ErrSnapshotFrozen
	}

	key := patternDateKey{pattern, date}
	timetable, found := s.timetables[key]
	if !found || !s.touched[key] {
		if !found {
			timetable = pattern.Scheduled()
		}
		timetable = timetable.Copy(date)
		s.timetables[key] = timetable
		s.touched[key] = true
	}

	timetable.SetTripTimes(tt)
	return nil
}

// Records the pattern created on the fly for an added trip, so later
// updates to the same trip find it again.
func (s *Snapshot) SetLastAddedTripPattern(feedID, tripID string, date model.ServiceDate, pattern *TripPattern) error {
	if !s.dirty {
		return ErrSnapshotFrozen
	}
	s.lastAddedPattern[tripDateKey{feedID, tripID, date}] = pattern
	return nil
}

func (s *Snapshot) LastAddedTripPattern(feedID, tripID string, date model.ServiceDate) *TripPattern {
	return s.lastAddedPattern[tripDateKey{feedID, tripID, date}]
}

func (s *Snapshot) IsDirty() bool {
	return s.dirty
}

// Number of pattern-days carrying a realtime overlay.
func (s *Snapshot) NumOverlays() int {
	return len(s.timetables)
}

func (s *Snapshot) freeze() {
	s.dirty = false
	s.touched = map[patternDateKey]bool{}
}

// Shallow copy used to seed the next builder: overlays carry over by
// reference, only pattern-days touched by the next batch get copied.
func (s *Snapshot) copyForBuilder() *Snapshot {
	c := newSnapshot()
	for k, v := range s.timetables {
		c.timetables[k] = v
	}
	for k, v := range s.lastAddedPattern {
		c.lastAddedPattern[k] = v
	}
	c.dirty = true
	return c
}

// SnapshotPublisher owns the currently published snapshot and the
// single-writer builder protocol. Readers call Current at any time
// without blocking; an updater thread brackets its batch between
// Begin and Commit. Writers never block readers.
type SnapshotPublisher struct {
	mu      sync.Mutex
	builder *Snapshot
	current atomic.Pointer[Snapshot]
}

func NewSnapshotPublisher() *SnapshotPublisher {
	p := &SnapshotPublisher{}
	initial := newSnapshot()
	p.current.Store(initial)
	return p
}

// The most recently committed snapshot. Never nil.
func (p *SnapshotPublisher) Current() *Snapshot {
	return p.current.Load()
}

// Acquires the builder lock and returns a dirty snapshot seeded from
// the current one. Blocks if another updater holds the builder.
func (p *SnapshotPublisher) Begin() *Snapshot {
	p.mu.Lock()
	p.builder = p.current.Load().copyForBuilder()
	return p.builder
}

// Freezes the builder and atomically publishes it. Readers holding
// the previous snapshot are unaffected until they re-fetch.
func (p *SnapshotPublisher) Commit() *Snapshot {
	s := p.builder
	s.freeze()
	p.current.Store(s)
	p.builder = nil
	p.mu.Unlock()
	return s
}

// Discards the builder; the previously committed snapshot stays
// current. Used when a batch fails structurally.
func (p *SnapshotPublisher) Abort() {
	p.builder = nil
	p.mu.Unlock()
}
