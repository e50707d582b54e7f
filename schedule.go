package timetable

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/opentransit/timetable/dedup"
	"github.com/opentransit/timetable/model"
	"github.com/opentransit/timetable/storage"
)

// Schedule is the static transit model for one feed: all trip
// patterns with their published timetables, the trip and route
// indexes, and the service calendar. It also owns the snapshot
// publisher through which realtime overlays are read.
//
// A Schedule is built once, single-threaded, and is read-only
// afterwards. All runtime modification happens in snapshots.
type Schedule struct {
	FeedID string

	patterns       []*TripPattern
	patternsByTrip map[string]*TripPattern
	patternsByKey  map[string]*TripPattern
	trips          map[string]*model.Trip
	routes         map[string]*model.Route

	serviceCodes   map[string]int
	serviceByCode  []string
	reader         storage.FeedReader
	nextPatternSeq int

	publisher *SnapshotPublisher
}

// Builds a Schedule from the static records of one feed. Trips whose
// stop times are not monotonically increasing are dropped with a
// warning; everything else is grouped into patterns and deduplicated.
func NewSchedule(feedID string, reader storage.FeedReader) (*Schedule, error) {
	s := &Schedule{
		FeedID:         feedID,
		patternsByTrip: map[string]*TripPattern{},
		patternsByKey:  map[string]*TripPattern{},
		trips:          map[string]*model.Trip{},
		routes:         map[string]*model.Route{},
		serviceCodes:   map[string]int{},
		reader:         reader,
		publisher:      NewSnapshotPublisher(),
	}

	routes, err := reader.Routes()
	if err != nil {
		return nil, fmt.Errorf("loading routes: %w", err)
	}
	for _, r := range routes {
		s.routes[r.ID] = r
	}

	trips, err := reader.Trips()
	if err != nil {
		return nil, fmt.Errorf("loading trips: %w", err)
	}

	stopTimesByTrip, err := reader.StopTimesByTrip()
	if err != nil {
		return nil, fmt.Errorf("loading stop times: %w", err)
	}

	// Process trips in a stable order so pattern IDs come out the
	// same across builds of the same feed.
	sort.Slice(trips, func(i, j int) bool {
		return trips[i].ID < trips[j].ID
	})

	d := dedup.NewDeduplicator()

	for _, trip := range trips {
		trip.FeedID = feedID
		s.trips[trip.ID] = trip

		stopTimes := stopTimesByTrip[trip.ID]
		if len(stopTimes) == 0 {
			log.Warn().
				Str("feed_id", feedID).
				Str("trip_id", trip.ID).
				Msg("trip has no stop times, skipping")
			continue
		}

		run := make([]model.StopTime, len(stopTimes))
		for i, st := range stopTimes {
			run[i] = *st
		}

		tt, err := NewTripTimes(trip, run, d)
		if err != nil {
			// Already logged; a bad trip doesn't sink the feed.
			continue
		}
		tt.SetServiceCode(s.serviceCode(trip.ServiceID))

		pattern := s.patternFor(trip, run)
		pattern.AddTripTimes(tt)
		s.patternsByTrip[trip.ID] = pattern
	}

	return s, nil
}

// Finds or creates the pattern matching a trip's stop sequence and
// boarding rules.
func (s *Schedule) patternFor(trip *model.Trip, stopTimes []model.StopTime) *TripPattern {
	sp := NewStopPattern(stopTimes)
	key := trip.RouteID + "\x00" + sp.Key()
	if pattern, found := s.patternsByKey[key]; found {
		return pattern
	}

	s.nextPatternSeq++
	pattern := NewTripPattern(
		fmt.Sprintf("%s:%s:%03d", s.FeedID, trip.RouteID, s.nextPatternSeq),
		s.FeedID,
		s.routes[trip.RouteID],
		sp,
	)
	s.patterns = append(s.patterns, pattern)
	s.patternsByKey[key] = pattern
	return pattern
}

// Maps a service ID to a small integer code. Codes are dense and
// assigned in first-seen order.
func (s *Schedule) serviceCode(serviceID string) int {
	if code, found := s.serviceCodes[serviceID]; found {
		return code
	}
	code := len(s.serviceByCode)
	s.serviceCodes[serviceID] = code
	s.serviceByCode = append(s.serviceByCode, serviceID)
	return code
}

func (s *Schedule) Publisher() *SnapshotPublisher {
	return s.publisher
}

func (s *Schedule) Patterns() []*TripPattern {
	return s.patterns
}

func (s *Schedule) Trip(tripID string) (*model.Trip, bool) {
	t, found := s.trips[tripID]
	return t, found
}

func (s *Schedule) Route(routeID string) (*model.Route, bool) {
	r, found := s.routes[routeID]
	return r, found
}

// The pattern a trip rides according to the static schedule. Patterns
// created at runtime for added trips are found through the snapshot,
// not here.
func (s *Schedule) PatternForTrip(tripID string) (*TripPattern, bool) {
	p, found := s.patternsByTrip[tripID]
	return p, found
}

// Finds an existing pattern equal to sp on the given route.
func (s *Schedule) FindPattern(routeID string, sp *StopPattern) (*TripPattern, bool) {
	key := routeID + "\x00" + sp.Key()
	p, found := s.patternsByKey[key]
	return p, found
}

// The effective timetable for a pattern on a date, read through the
// currently published snapshot.
func (s *Schedule) Resolve(pattern *TripPattern, date model.ServiceDate) *Timetable {
	return s.publisher.Current().Resolve(pattern, date)
}

// Locates a trip's effective times on a date, realtime included.
// Runtime-added patterns win over the static index, since a modified
// trip may have moved to a different pattern.
func (s *Schedule) TripTimesOnDate(tripID string, date model.ServiceDate) (*TripTimes, bool) {
	snapshot := s.publisher.Current()

	pattern := snapshot.LastAddedTripPattern(s.FeedID, tripID, date)
	if pattern == nil {
		var found bool
		pattern, found = s.patternsByTrip[tripID]
		if !found {
			return nil, false
		}
	}

	return snapshot.Resolve(pattern, date).TripTimesForTrip(tripID)
}

// Service codes active on the given date, for filtering timetables to
// the trips that actually run.
func (s *Schedule) ActiveServiceCodes(date model.ServiceDate) (map[int]bool, error) {
	serviceIDs, err := s.reader.ActiveServices(date)
	if err != nil {
		return nil, fmt.Errorf("loading active services: %w", err)
	}

	codes := map[int]bool{}
	for _, id := range serviceIDs {
		if code, found := s.serviceCodes[id]; found {
			codes[code] = true
		}
	}
	return codes, nil
}

// The trips of a timetable that run on the given date, in timetable
// order. Cancelled trips are included; callers that only want
// boardable runs filter on IsCanceled.
func (s *Schedule) RunningTripTimes(t *Timetable, date model.ServiceDate) ([]*TripTimes, error) {
	codes, err := s.ActiveServiceCodes(date)
	if err != nil {
		return nil, err
	}

	running := []*TripTimes{}
	for _, tt := range t.TripTimes() {
		// Added trips have no static calendar entry.
		if tt.ServiceCode() == -1 && tt.RealTimeState() != model.StateScheduled {
			running = append(running, tt)
			continue
		}
		if codes[tt.ServiceCode()] {
			running = append(running, tt)
		}
	}
	return running, nil
}
