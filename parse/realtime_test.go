package parse_test

import (
	"testing"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	proto "google.golang.org/protobuf/proto"

	"github.com/opentransit/timetable"
	"github.com/opentransit/timetable/model"
	"github.com/opentransit/timetable/parse"
)

// Helpers for building gtfs-realtime feeds
type StopUpdate struct {
	StopID         string
	StopSequence   uint32
	ArrivalSet     bool
	ArrivalDelay   int32
	ArrivalTime    time.Time
	DepartureSet   bool
	DepartureDelay int32
	DepartureTime  time.Time
	SchedRel       string
}

type TripUpdate struct {
	TripID      string
	RouteID     string
	StartDate   string
	SchedRel    string
	StopUpdates []StopUpdate
}

func buildFeed(t *testing.T, tripUpdates []TripUpdate) [][]byte {
	entity := make([]*gtfsproto.FeedEntity, 0, len(tripUpdates))

	for _, tripUpdate := range tripUpdates {
		stopTimeUpdate := make([]*gtfsproto.TripUpdate_StopTimeUpdate, 0, len(tripUpdate.StopUpdates))

		for _, stopUpdate := range tripUpdate.StopUpdates {
			var scheduleRelationship gtfsproto.TripUpdate_StopTimeUpdate_ScheduleRelationship
			switch stopUpdate.SchedRel {
			case "SKIPPED":
				scheduleRelationship = gtfsproto.TripUpdate_StopTimeUpdate_SKIPPED
			case "NO_DATA":
				scheduleRelationship = gtfsproto.TripUpdate_StopTimeUpdate_NO_DATA
			case "", "SCHEDULED":
				scheduleRelationship = gtfsproto.TripUpdate_StopTimeUpdate_SCHEDULED
			default:
				t.Fatalf("bad SchedRel: %s", stopUpdate.SchedRel)
			}

			stup := &gtfsproto.TripUpdate_StopTimeUpdate{
				ScheduleRelationship: &scheduleRelationship,
				StopSequence:         proto.Uint32(stopUpdate.StopSequence),
			}
			if stopUpdate.StopID != "" {
				stup.StopId = proto.String(stopUpdate.StopID)
			}
			if stopUpdate.ArrivalSet {
				stup.Arrival = &gtfsproto.TripUpdate_StopTimeEvent{}
				if !stopUpdate.ArrivalTime.IsZero() {
					stup.Arrival.Time = proto.Int64(stopUpdate.ArrivalTime.Unix())
				} else {
					stup.Arrival.Delay = proto.Int32(stopUpdate.ArrivalDelay)
				}
			}
			if stopUpdate.DepartureSet {
				stup.Departure = &gtfsproto.TripUpdate_StopTimeEvent{}
				if !stopUpdate.DepartureTime.IsZero() {
					stup.Departure.Time = proto.Int64(stopUpdate.DepartureTime.Unix())
				} else {
					stup.Departure.Delay = proto.Int32(stopUpdate.DepartureDelay)
				}
			}

			stopTimeUpdate = append(stopTimeUpdate, stup)
		}

		tripScheduleRelationship := gtfsproto.TripDescriptor_SCHEDULED
		switch tripUpdate.SchedRel {
		case "CANCELED":
			tripScheduleRelationship = gtfsproto.TripDescriptor_CANCELED
		case "ADDED":
			tripScheduleRelationship = gtfsproto.TripDescriptor_ADDED
		}

		trip := &gtfsproto.TripDescriptor{
			TripId:               proto.String(tripUpdate.TripID),
			ScheduleRelationship: &tripScheduleRelationship,
		}
		if tripUpdate.RouteID != "" {
			trip.RouteId = proto.String(tripUpdate.RouteID)
		}
		if tripUpdate.StartDate != "" {
			trip.StartDate = proto.String(tripUpdate.StartDate)
		}

		entity = append(entity, &gtfsproto.FeedEntity{
			Id: proto.String(tripUpdate.TripID),
			TripUpdate: &gtfsproto.TripUpdate{
				Trip:           trip,
				StopTimeUpdate: stopTimeUpdate,
			},
		})
	}

	incrementality := gtfsproto.FeedHeader_FULL_DATASET
	timestamp := uint64(time.Date(2020, 1, 15, 23, 0, 0, 0, time.UTC).Unix())
	header := &gtfsproto.FeedHeader{
		GtfsRealtimeVersion: proto.String("2.0"),
		Incrementality:      &incrementality,
		Timestamp:           proto.Uint64(timestamp),
	}

	feed := &gtfsproto.FeedMessage{Header: header, Entity: entity}

	data, err := proto.Marshal(feed)
	require.NoError(t, err)

	return [][]byte{data}
}

func TestParseRealtimeDelays(t *testing.T) {
	feed := buildFeed(t, []TripUpdate{
		{
			TripID: "t1",
			StopUpdates: []StopUpdate{
				{
					StopSequence: 2,
					DepartureSet: true, DepartureDelay: 30,
				},
				{
					StopSequence: 3,
					ArrivalSet:   true,
					ArrivalTime:  time.Date(2020, 1, 15, 23, 2, 45, 0, time.UTC),
				},
			},
		},
	})

	batch, stats, err := parse.ParseRealtime("test", feed, time.UTC, "20200115")
	require.NoError(t, err)

	assert.Equal(t, "test", batch.FeedID)
	assert.Equal(t, 1, stats.NumScheduledTrips)
	assert.Equal(t, uint64(time.Date(2020, 1, 15, 23, 0, 0, 0, time.UTC).Unix()), stats.Timestamp)

	require.Equal(t, 1, len(batch.Records))
	record := batch.Records[0]
	assert.Equal(t, timetable.TripDelay, record.Kind)
	assert.Equal(t, "t1", record.TripID)
	assert.Equal(t, model.ServiceDate("20200115"), record.ServiceDate)

	require.Equal(t, 2, len(record.StopUpdates))

	up := record.StopUpdates[0]
	assert.Equal(t, 2, up.StopSequence)
	assert.True(t, up.DepartureDelaySet)
	assert.Equal(t, 30, up.DepartureDelay)
	assert.False(t, up.ArrivalDelaySet)

	// Absolute timestamps convert to seconds past midnight
	up = record.StopUpdates[1]
	assert.True(t, up.ArrivalTimeSet)
	assert.Equal(t, 23*3600+2*60+45, up.ArrivalTime)
}

func TestParseRealtimeCancellation(t *testing.T) {
	feed := buildFeed(t, []TripUpdate{
		{TripID: "t1", SchedRel: "CANCELED", StartDate: "20200116"},
	})

	batch, stats, err := parse.ParseRealtime("test", feed, time.UTC, "20200115")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NumCanceledTrips)

	require.Equal(t, 1, len(batch.Records))
	assert.Equal(t, timetable.TripCancel, batch.Records[0].Kind)
	assert.Equal(t, "t1", batch.Records[0].TripID)

	// trip_update start_date overrides the default
	assert.Equal(t, model.ServiceDate("20200116"), batch.Records[0].ServiceDate)
}

func TestParseRealtimeSkippedAndNoData(t *testing.T) {
	feed := buildFeed(t, []TripUpdate{
		{
			TripID: "t1",
			StopUpdates: []StopUpdate{
				{StopSequence: 2, SchedRel: "SKIPPED"},
				{StopSequence: 3, SchedRel: "NO_DATA"},
			},
		},
	})

	batch, _, err := parse.ParseRealtime("test", feed, time.UTC, "20200115")
	require.NoError(t, err)

	require.Equal(t, 1, len(batch.Records))
	ups := batch.Records[0].StopUpdates
	require.Equal(t, 2, len(ups))
	assert.True(t, ups[0].Skipped)
	assert.True(t, ups[1].NoData)
}

func TestParseRealtimeAddedTrip(t *testing.T) {
	feed := buildFeed(t, []TripUpdate{
		{
			TripID:   "extra",
			RouteID:  "R1",
			SchedRel: "ADDED",
			StopUpdates: []StopUpdate{
				{
					StopID:       "s1",
					StopSequence: 1,
					ArrivalSet:   true,
					ArrivalTime:  time.Date(2020, 1, 15, 23, 30, 0, 0, time.UTC),
				},
				{
					StopID:       "s2",
					StopSequence: 2,
					ArrivalSet:   true,
					ArrivalTime:  time.Date(2020, 1, 15, 23, 35, 0, 0, time.UTC),
				},
			},
		},
	})

	batch, stats, err := parse.ParseRealtime("test", feed, time.UTC, "20200115")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NumAddedTrips)

	require.Equal(t, 1, len(batch.Records))
	record := batch.Records[0]
	assert.Equal(t, timetable.TripAdded, record.Kind)
	require.NotNil(t, record.Trip)
	assert.Equal(t, "R1", record.Trip.RouteID)

	require.Equal(t, 2, len(record.StopTimes))
	assert.Equal(t, "s1", record.StopTimes[0].StopID)
	assert.Equal(t, 23*3600+30*60, record.StopTimes[0].Arrival)
	assert.Equal(t, "s2", record.StopTimes[1].StopID)
}

func TestParseRealtimeRejectsBadFeeds(t *testing.T) {
	// Garbage bytes
	_, _, err := parse.ParseRealtime("test", [][]byte{{0xff, 0xff, 0xff}}, time.UTC, "20200115")
	assert.Error(t, err)

	// Unsupported version
	incrementality := gtfsproto.FeedHeader_FULL_DATASET
	feed := &gtfsproto.FeedMessage{
		Header: &gtfsproto.FeedHeader{
			GtfsRealtimeVersion: proto.String("3.0"),
			Incrementality:      &incrementality,
		},
	}
	data, marshalErr := proto.Marshal(feed)
	require.NoError(t, marshalErr)
	_, _, err = parse.ParseRealtime("test", [][]byte{data}, time.UTC, "20200115")
	assert.Error(t, err)
}

func TestParseRealtimeBlankTripIDSkipped(t *testing.T) {
	feed := buildFeed(t, []TripUpdate{
		{TripID: ""},
	})

	batch, _, err := parse.ParseRealtime("test", feed, time.UTC, "20200115")
	require.NoError(t, err)
	assert.Equal(t, 0, len(batch.Records))
}
