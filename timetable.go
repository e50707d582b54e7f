package timetable

import (
	"sort"

	"github.com/opentransit/timetable/model"
)

// Timetable is the ordered list of all TripTimes riding one pattern,
// either the published schedule (service date "") or a realtime
// overlay for a single service date.
//
// The list is kept sorted by SortIndex ascending. Trip search relies
// on that order, together with the assumption that trips do not
// overtake each other along a pattern; feeds that violate it are
// rejected upstream.
type Timetable struct {
	pattern     *TripPattern
	serviceDate model.ServiceDate

	tripTimes []*TripTimes
}

func NewTimetable(pattern *TripPattern, date model.ServiceDate) *Timetable {
	return &Timetable{
		pattern:     pattern,
		serviceDate: date,
	}
}

// Returns a copy bound to the given service date. The TripTimes
// themselves are shared; this is the copy-on-write step a snapshot
// takes before replacing trips for one pattern-day.
func (t *Timetable) Copy(date model.ServiceDate) *Timetable {
	return &Timetable{
		pattern:     t.pattern,
		serviceDate: date,
		tripTimes:   append([]*TripTimes(nil), t.tripTimes...),
	}
}

func (t *Timetable) Pattern() *TripPattern {
	return t.pattern
}

func (t *Timetable) ServiceDate() model.ServiceDate {
	return t.serviceDate
}

func (t *Timetable) NumTrips() int {
	return len(t.tripTimes)
}

func (t *Timetable) TripTimesAt(i int) *TripTimes {
	return t.tripTimes[i]
}

// The backing slice, sorted by SortIndex. Callers must not modify it.
func (t *Timetable) TripTimes() []*TripTimes {
	return t.tripTimes
}

func (t *Timetable) TripTimesForTrip(tripID string) (*TripTimes, bool) {
	for _, tt := range t.tripTimes {
		if tt.trip.ID == tripID {
			return tt, true
		}
	}
	return nil, false
}

// Inserts a run at its sorted position.
func (t *Timetable) AddTripTimes(tt *TripTimes) {
	i := sort.Search(len(t.tripTimes), func(i int) bool {
		return t.tripTimes[i].SortIndex() > tt.SortIndex()
	})
	t.tripTimes = append(t.tripTimes, nil)
	copy(t.tripTimes[i+1:], t.tripTimes[i:])
	t.tripTimes[i] = tt
}

// Replaces the run for tt's trip, or inserts it if the trip is not
// yet present. The entry is re-positioned if the new sort key moved.
func (t *Timetable) SetTripTimes(tt *TripTimes) {
	for i, existing := range t.tripTimes {
		if existing.trip.ID == tt.trip.ID {
			t.tripTimes = append(t.tripTimes[:i], t.tripTimes[i+1:]...)
			break
		}
	}
	t.AddTripTimes(tt)
}

// The earliest run departing stop i at or after the given time, or
// nil. Runs cancelled outright are skipped.
func (t *Timetable) NextDeparture(i int, after int) *TripTimes {
	for _, tt := range t.tripTimes {
		if tt.IsCanceled() {
			continue
		}
		if tt.DepartureTime(i) >= after {
			return tt
		}
	}
	return nil
}
