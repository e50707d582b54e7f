package timetable_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentransit/timetable"
	"github.com/opentransit/timetable/model"
	"github.com/opentransit/timetable/testutil"
)

// A simple schedule fixture. Trips t1 and t2 cover the same four
// stops s1-s4. Trip t3 covers z1-z3. Full service all days of 2020;
// the "weekend" service only runs saturday and sunday.
func SimpleScheduleFixture(t *testing.T) *timetable.Schedule {
	return testutil.BuildSchedule(t, "memory", map[string][]string{
		"calendar.txt": {
			"service_id,start_date,end_date,monday,tuesday,wednesday,thursday,friday,saturday,sunday",
			"everyday,20200101,20210101,1,1,1,1,1,1,1",
			"weekend,20200101,20210101,0,0,0,0,0,1,1",
		},
		"routes.txt": {
			"route_id,route_short_name,route_type",
			"R1,R_1,1",
			"R2,R_2,1",
		},
		"trips.txt": {
			"service_id,trip_id,route_id,trip_headsign",
			"everyday,t1,R1,Downtown",
			"everyday,t2,R1,Downtown",
			"weekend,t3,R2,Airport",
		},
		"stop_times.txt": {
			"trip_id,stop_id,stop_sequence,departure_time,arrival_time",
			"t1,s1,1,23:0:0,23:0:0",
			"t1,s2,2,23:1:0,23:1:0",
			"t1,s3,3,23:2:0,23:2:0",
			"t1,s4,4,23:3:0,23:3:0",
			"t2,s1,1,23:10:0,23:10:0",
			"t2,s2,2,23:11:0,23:11:0",
			"t2,s3,3,23:12:0,23:12:0",
			"t2,s4,4,23:13:0,23:13:0",
			"t3,z1,1,23:5:0,23:5:0",
			"t3,z2,2,23:6:0,23:6:0",
			"t3,z3,3,23:7:0,23:7:0",
		},
	})
}

func TestSchedulePatternGrouping(t *testing.T) {
	schedule := SimpleScheduleFixture(t)

	// t1 and t2 share a pattern, t3 rides its own
	require.Equal(t, 2, len(schedule.Patterns()))

	p1, found := schedule.PatternForTrip("t1")
	require.True(t, found)
	p2, found := schedule.PatternForTrip("t2")
	require.True(t, found)
	p3, found := schedule.PatternForTrip("t3")
	require.True(t, found)

	assert.Equal(t, p1, p2)
	assert.NotEqual(t, p1, p3)

	assert.Equal(t, 4, p1.NumStops())
	assert.Equal(t, "s2", p1.StopID(1))
	assert.Equal(t, "R1", p1.Route.ID)
	assert.Equal(t, 3, p3.NumStops())

	// The shared pattern's timetable holds both runs, in
	// departure order
	tab := p1.Scheduled()
	require.Equal(t, 2, tab.NumTrips())
	assert.Equal(t, "t1", tab.TripTimesAt(0).Trip().ID)
	assert.Equal(t, "t2", tab.TripTimesAt(1).Trip().ID)

	// 23:00:00 past midnight
	assert.Equal(t, 82800, tab.TripTimesAt(0).ArrivalTime(0))
}

func TestScheduleServiceCodes(t *testing.T) {
	schedule := SimpleScheduleFixture(t)

	t1, _ := schedule.TripTimesOnDate("t1", "20200115")
	t3, _ := schedule.TripTimesOnDate("t3", "20200115")
	require.NotNil(t, t1)
	require.NotNil(t, t3)

	assert.NotEqual(t, -1, t1.ServiceCode())
	assert.NotEqual(t, -1, t3.ServiceCode())
	assert.NotEqual(t, t1.ServiceCode(), t3.ServiceCode())

	// Wednesday: only "everyday" runs
	codes, err := schedule.ActiveServiceCodes("20200115")
	require.NoError(t, err)
	assert.True(t, codes[t1.ServiceCode()])
	assert.False(t, codes[t3.ServiceCode()])

	// Saturday: both run
	codes, err = schedule.ActiveServiceCodes("20200118")
	require.NoError(t, err)
	assert.True(t, codes[t1.ServiceCode()])
	assert.True(t, codes[t3.ServiceCode()])
}

func TestScheduleRunningTripTimes(t *testing.T) {
	schedule := SimpleScheduleFixture(t)

	p3, found := schedule.PatternForTrip("t3")
	require.True(t, found)

	// Wednesday: weekend service is off
	running, err := schedule.RunningTripTimes(schedule.Resolve(p3, "20200115"), "20200115")
	require.NoError(t, err)
	assert.Equal(t, 0, len(running))

	// Saturday
	running, err = schedule.RunningTripTimes(schedule.Resolve(p3, "20200118"), "20200118")
	require.NoError(t, err)
	require.Equal(t, 1, len(running))
	assert.Equal(t, "t3", running[0].Trip().ID)
}

func TestScheduleTripTimesOnDate(t *testing.T) {
	schedule := SimpleScheduleFixture(t)

	tt, found := schedule.TripTimesOnDate("t1", "20200115")
	require.True(t, found)
	assert.True(t, tt.IsScheduled())
	assert.Equal(t, 82800, tt.ArrivalTime(0))

	_, found = schedule.TripTimesOnDate("ghost", "20200115")
	assert.False(t, found)
}

func TestScheduleDropsBrokenTrips(t *testing.T) {
	schedule := testutil.BuildSchedule(t, "memory", map[string][]string{
		"calendar.txt": {
			"service_id,start_date,end_date,monday,tuesday,wednesday,thursday,friday,saturday,sunday",
			"everyday,20200101,20210101,1,1,1,1,1,1,1",
		},
		"routes.txt": {
			"route_id,route_short_name,route_type",
			"R1,R_1,1",
		},
		"trips.txt": {
			"service_id,trip_id,route_id",
			"everyday,good,R1",
			"everyday,broken,R1",
		},
		"stop_times.txt": {
			"trip_id,stop_id,stop_sequence,departure_time,arrival_time",
			"good,s1,1,10:0:0,10:0:0",
			"good,s2,2,10:5:0,10:5:0",
			"broken,s1,1,10:0:0,10:0:0",
			"broken,s2,2,9:0:0,9:0:0",
		},
	})

	// The broken trip is dropped, the good one survives
	_, found := schedule.PatternForTrip("good")
	assert.True(t, found)
	_, found = schedule.PatternForTrip("broken")
	assert.False(t, found)
}

func TestScheduleFindPattern(t *testing.T) {
	schedule := SimpleScheduleFixture(t)

	sp := timetable.NewStopPattern([]model.StopTime{
		{StopID: "s1", StopSequence: 1},
		{StopID: "s2", StopSequence: 2},
		{StopID: "s3", StopSequence: 3},
		{StopID: "s4", StopSequence: 4},
	})

	p, found := schedule.FindPattern("R1", sp)
	require.True(t, found)
	expected, _ := schedule.PatternForTrip("t1")
	assert.Equal(t, expected, p)

	// Same stops on a different route is a different pattern
	_, found = schedule.FindPattern("R2", sp)
	assert.False(t, found)
}
