package timetable_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentransit/timetable"
	"github.com/opentransit/timetable/model"
)

func buildPattern(t *testing.T) *timetable.TripPattern {
	sp := timetable.NewStopPattern([]model.StopTime{
		{StopID: "s1", StopSequence: 1},
		{StopID: "s2", StopSequence: 2},
		{StopID: "s3", StopSequence: 3},
	})
	return timetable.NewTripPattern("p1", "test", &model.Route{ID: "R1"}, sp)
}

func TestTimetableSortInvariant(t *testing.T) {
	pattern := buildPattern(t)
	tab := pattern.Scheduled()

	// Insert out of order
	late := buildTripTimes(t, &model.Trip{ID: "late"}, [][2]int{{900, 900}, {960, 960}, {1020, 1020}})
	early := buildTripTimes(t, &model.Trip{ID: "early"}, [][2]int{{100, 100}, {160, 160}, {220, 220}})
	mid := buildTripTimes(t, &model.Trip{ID: "mid"}, [][2]int{{500, 500}, {560, 560}, {620, 620}})

	tab.AddTripTimes(late)
	tab.AddTripTimes(early)
	tab.AddTripTimes(mid)

	require.Equal(t, 3, tab.NumTrips())
	assert.Equal(t, "early", tab.TripTimesAt(0).Trip().ID)
	assert.Equal(t, "mid", tab.TripTimesAt(1).Trip().ID)
	assert.Equal(t, "late", tab.TripTimesAt(2).Trip().ID)

	for i := 0; i < tab.NumTrips()-1; i++ {
		assert.LessOrEqual(t, tab.TripTimesAt(i).SortIndex(), tab.TripTimesAt(i+1).SortIndex())
	}
}

func TestTimetableSetTripTimes(t *testing.T) {
	pattern := buildPattern(t)
	tab := pattern.Scheduled()

	a := buildTripTimes(t, &model.Trip{ID: "a"}, [][2]int{{100, 100}, {160, 160}, {220, 220}})
	b := buildTripTimes(t, &model.Trip{ID: "b"}, [][2]int{{500, 500}, {560, 560}, {620, 620}})
	tab.AddTripTimes(a)
	tab.AddTripTimes(b)

	// Replace a with a delayed variant that moves past b
	delayed := a.CopyForUpdate()
	delayed.UpdateArrivalDelay(0, 600)
	delayed.UpdateDepartureDelay(0, 600)
	tab.SetTripTimes(delayed)

	require.Equal(t, 2, tab.NumTrips())
	assert.Equal(t, "b", tab.TripTimesAt(0).Trip().ID)
	assert.Equal(t, "a", tab.TripTimesAt(1).Trip().ID)

	// Replacing a trip not in the timetable inserts it
	c := buildTripTimes(t, &model.Trip{ID: "c"}, [][2]int{{50, 50}, {110, 110}, {170, 170}})
	tab.SetTripTimes(c)
	assert.Equal(t, 3, tab.NumTrips())
	assert.Equal(t, "c", tab.TripTimesAt(0).Trip().ID)
}

func TestTimetableTripTimesForTrip(t *testing.T) {
	pattern := buildPattern(t)
	tab := pattern.Scheduled()

	a := buildTripTimes(t, &model.Trip{ID: "a"}, [][2]int{{100, 100}, {160, 160}, {220, 220}})
	tab.AddTripTimes(a)

	tt, found := tab.TripTimesForTrip("a")
	require.True(t, found)
	assert.Equal(t, a, tt)

	_, found = tab.TripTimesForTrip("nope")
	assert.False(t, found)
}

func TestTimetableNextDeparture(t *testing.T) {
	pattern := buildPattern(t)
	tab := pattern.Scheduled()

	a := buildTripTimes(t, &model.Trip{ID: "a"}, [][2]int{{100, 100}, {160, 160}, {220, 220}})
	b := buildTripTimes(t, &model.Trip{ID: "b"}, [][2]int{{500, 500}, {560, 560}, {620, 620}})
	tab.AddTripTimes(a)
	tab.AddTripTimes(b)

	next := tab.NextDeparture(0, 90)
	require.NotNil(t, next)
	assert.Equal(t, "a", next.Trip().ID)

	next = tab.NextDeparture(1, 200)
	require.NotNil(t, next)
	assert.Equal(t, "b", next.Trip().ID)

	assert.Nil(t, tab.NextDeparture(0, 1000))

	// Cancelled runs are not boardable
	cancelled := a.CopyForUpdate()
	cancelled.Cancel()
	tab.SetTripTimes(cancelled)

	next = tab.NextDeparture(0, 90)
	require.NotNil(t, next)
	assert.Equal(t, "b", next.Trip().ID)
}

func TestTimetableCopyIsolation(t *testing.T) {
	pattern := buildPattern(t)
	tab := pattern.Scheduled()

	a := buildTripTimes(t, &model.Trip{ID: "a"}, [][2]int{{100, 100}, {160, 160}, {220, 220}})
	tab.AddTripTimes(a)

	clone := tab.Copy(model.ServiceDate("20200115"))
	assert.Equal(t, model.ServiceDate("20200115"), clone.ServiceDate())

	delayed := a.CopyForUpdate()
	delayed.UpdateArrivalDelay(0, 60)
	clone.SetTripTimes(delayed)

	// The scheduled timetable still holds the original
	orig, found := tab.TripTimesForTrip("a")
	require.True(t, found)
	assert.True(t, orig.IsScheduled())
	assert.Equal(t, 100, orig.ArrivalTime(0))
}

func TestStopPatternEqual(t *testing.T) {
	sp1 := timetable.NewStopPattern([]model.StopTime{
		{StopID: "s1", PickupType: model.PickDropRegular},
		{StopID: "s2", DropOffType: model.PickDropNone},
	})
	sp2 := timetable.NewStopPattern([]model.StopTime{
		{StopID: "s1", PickupType: model.PickDropRegular},
		{StopID: "s2", DropOffType: model.PickDropNone},
	})
	sp3 := timetable.NewStopPattern([]model.StopTime{
		{StopID: "s1"},
		{StopID: "s2", DropOffType: model.PickDropPhone},
	})
	sp4 := timetable.NewStopPattern([]model.StopTime{
		{StopID: "s1"},
	})

	assert.True(t, sp1.Equal(sp2))
	assert.Equal(t, sp1.Key(), sp2.Key())
	assert.False(t, sp1.Equal(sp3))
	assert.NotEqual(t, sp1.Key(), sp3.Key())
	assert.False(t, sp1.Equal(sp4))
	assert.False(t, sp1.Equal(nil))
}
