package timetable

import (
	"fmt"
	"strings"

	"github.com/opentransit/timetable/model"
)

// StopPattern is the ordered list of stops a set of trips all visit,
// together with the boarding rules at each. Trips with the same
// StopPattern share one TripPattern.
type StopPattern struct {
	stops    []string
	pickups  []model.PickDrop
	dropoffs []model.PickDrop
}

func NewStopPattern(stopTimes []model.StopTime) *StopPattern {
	sp := &StopPattern{
		stops:    make([]string, len(stopTimes)),
		pickups:  make([]model.PickDrop, len(stopTimes)),
		dropoffs: make([]model.PickDrop, len(stopTimes)),
	}
	for i, st := range stopTimes {
		sp.stops[i] = st.StopID
		sp.pickups[i] = st.PickupType
		sp.dropoffs[i] = st.DropOffType
	}
	return sp
}

func (sp *StopPattern) NumStops() int {
	return len(sp.stops)
}

func (sp *StopPattern) StopID(i int) string {
	return sp.stops[i]
}

func (sp *StopPattern) Pickup(i int) model.PickDrop {
	return sp.pickups[i]
}

func (sp *StopPattern) DropOff(i int) model.PickDrop {
	return sp.dropoffs[i]
}

// A grouping key: two trips with equal keys ride the same pattern.
func (sp *StopPattern) Key() string {
	var sb strings.Builder
	for i, stop := range sp.stops {
		sb.WriteString(stop)
		fmt.Fprintf(&sb, "|%d:%d;", sp.pickups[i], sp.dropoffs[i])
	}
	return sb.String()
}

func (sp *StopPattern) Equal(other *StopPattern) bool {
	if other == nil || len(sp.stops) != len(other.stops) {
		return false
	}
	for i := range sp.stops {
		if sp.stops[i] != other.stops[i] ||
			sp.pickups[i] != other.pickups[i] ||
			sp.dropoffs[i] != other.dropoffs[i] {
			return false
		}
	}
	return true
}

// TripPattern is the static shape shared by all trips riding the same
// stop sequence on the same route. It owns the scheduled Timetable;
// realtime variants of that timetable live in snapshots, never here.
// Patterns are built once and not mutated at runtime.
type TripPattern struct {
	ID     string
	FeedID string
	Route  *model.Route

	stopPattern *StopPattern
	scheduled   *Timetable

	// Set on patterns synthesized at runtime for added or
	// rerouted trips.
	CreatedByRealtime bool
}

func NewTripPattern(id string, feedID string, route *model.Route, sp *StopPattern) *TripPattern {
	p := &TripPattern{
		ID:          id,
		FeedID:      feedID,
		Route:       route,
		stopPattern: sp,
	}
	p.scheduled = NewTimetable(p, "")
	return p
}

func (p *TripPattern) StopPattern() *StopPattern {
	return p.stopPattern
}

func (p *TripPattern) NumStops() int {
	return p.stopPattern.NumStops()
}

func (p *TripPattern) StopID(i int) string {
	return p.stopPattern.StopID(i)
}

// The timetable holding the published schedule for this pattern. Used
// directly whenever no realtime overlay exists for a service date.
func (p *TripPattern) Scheduled() *Timetable {
	return p.scheduled
}

// Adds a scheduled run to the pattern. Build-time only.
func (p *TripPattern) AddTripTimes(tt *TripTimes) {
	p.scheduled.AddTripTimes(tt)
}
