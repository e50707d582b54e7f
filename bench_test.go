package timetable_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opentransit/timetable"
	"github.com/opentransit/timetable/dedup"
	"github.com/opentransit/timetable/model"
)

func benchStopTimes(start int, n int) []model.StopTime {
	stopTimes := make([]model.StopTime, n)
	for i := 0; i < n; i++ {
		stopTimes[i] = model.StopTime{
			StopID:       fmt.Sprintf("s%d", i),
			StopSequence: uint32(i + 1),
			Arrival:      start + i*120,
			Departure:    start + i*120 + 20,
		}
	}
	return stopTimes
}

func BenchmarkTripTimesConstruction(b *testing.B) {
	trip := &model.Trip{ID: "bench"}
	stopTimes := benchStopTimes(28800, 40)
	d := dedup.NewDeduplicator()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := timetable.NewTripTimes(trip, stopTimes, d)
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkScheduledArrivalQuery(b *testing.B) {
	trip := &model.Trip{ID: "bench"}
	tt, err := timetable.NewTripTimes(trip, benchStopTimes(28800, 40), dedup.NewDeduplicator())
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	total := 0
	for i := 0; i < b.N; i++ {
		total += tt.ArrivalTime(i % 40)
	}
	_ = total
}

func BenchmarkSnapshotResolve(b *testing.B) {
	sp := timetable.NewStopPattern(benchStopTimes(28800, 40))
	pattern := timetable.NewTripPattern("p", "bench", nil, sp)
	d := dedup.NewDeduplicator()

	publisher := timetable.NewSnapshotPublisher()
	builder := publisher.Begin()
	for i := 0; i < 100; i++ {
		trip := &model.Trip{ID: fmt.Sprintf("t%d", i)}
		tt, err := timetable.NewTripTimes(trip, benchStopTimes(28800+i*300, 40), d)
		require.NoError(b, err)
		pattern.AddTripTimes(tt)

		delayed := tt.CopyForUpdate()
		delayed.UpdateArrivalDelay(5, 60)
		require.NoError(b, builder.Update(pattern, "20200115", delayed))
	}
	snapshot := publisher.Commit()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tab := snapshot.Resolve(pattern, "20200115")
		if tab.NumTrips() != 100 {
			b.Fatal("bad timetable")
		}
	}
}

func BenchmarkApplyDelayBatch(b *testing.B) {
	sp := timetable.NewStopPattern(benchStopTimes(28800, 40))
	pattern := timetable.NewTripPattern("p", "bench", nil, sp)
	d := dedup.NewDeduplicator()
	trip := &model.Trip{ID: "t0"}
	tt, err := timetable.NewTripTimes(trip, benchStopTimes(28800, 40), d)
	require.NoError(b, err)
	pattern.AddTripTimes(tt)

	publisher := timetable.NewSnapshotPublisher()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		builder := publisher.Begin()
		delayed := tt.CopyForUpdate()
		delayed.UpdateArrivalDelay(5, i%600)
		if err := builder.Update(pattern, "20200115", delayed); err != nil {
			b.Fatal(err)
		}
		publisher.Commit()
	}
}
