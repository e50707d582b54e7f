package parse

import (
	"fmt"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	proto "google.golang.org/protobuf/proto"

	"github.com/opentransit/timetable"
	"github.com/opentransit/timetable/model"
)

// Translates GTFS Realtime feeds into the core's update batch. The
// batch can then be handed to a timetable.Applier.
//
// Times on the wire are POSIX timestamps; the core wants seconds past
// midnight on a service date, so the feed's timezone is needed for
// the conversion.

// Counts kept while parsing, to simplify debugging down the road.
type RealtimeStats struct {
	Timestamp           uint64
	NumScheduledTrips   int
	NumAddedTrips       int
	NumCanceledTrips    int
	NumUnscheduledTrips int
	NumDuplicatedTrips  int
}

func ParseRealtime(
	feedID string,
	feeds [][]byte,
	loc *time.Location,
	defaultDate model.ServiceDate,
) (timetable.UpdateBatch, *RealtimeStats, error) {

	batch := timetable.UpdateBatch{FeedID: feedID}
	stats := &RealtimeStats{}

	for _, feed := range feeds {
		f := &gtfsproto.FeedMessage{}
		err := proto.Unmarshal(feed, f)
		if err != nil {
			return batch, nil, fmt.Errorf("unmarshaling protobuf: %w", err)
		}

		header := f.GetHeader()

		version := header.GetGtfsRealtimeVersion()
		if version != "2.0" && version != "1.0" {
			return batch, nil, fmt.Errorf("version %s not supported", version)
		}

		if header.GetIncrementality() != gtfsproto.FeedHeader_FULL_DATASET {
			return batch, nil, fmt.Errorf("feed incrementality %s not supported", header.GetIncrementality())
		}

		stats.Timestamp = header.GetTimestamp()

		for _, entity := range f.GetEntity() {
			if entity.TripUpdate == nil {
				continue
			}
			err := processTripUpdate(&batch, stats, entity.TripUpdate, loc, defaultDate)
			if err != nil {
				return batch, nil, fmt.Errorf("processing trip update: %w", err)
			}
		}
	}

	return batch, stats, nil
}

func processTripUpdate(
	batch *timetable.UpdateBatch,
	stats *RealtimeStats,
	tu *gtfsproto.TripUpdate,
	loc *time.Location,
	defaultDate model.ServiceDate,
) error {

	trip := tu.Trip
	if trip == nil {
		return fmt.Errorf("trip_update missing trip")
	}

	// Blank trip ID is allowed by the spec when (route_id,
	// direction_id, start_time, start_date) uniquely identifies
	// the trip. We don't support that.
	if trip.GetTripId() == "" {
		return nil
	}

	date := defaultDate
	if trip.GetStartDate() != "" {
		date = model.ServiceDate(trip.GetStartDate())
	}

	switch trip.GetScheduleRelationship() {

	case gtfsproto.TripDescriptor_SCHEDULED:
		record := timetable.TripUpdateRecord{
			Kind:        timetable.TripDelay,
			TripID:      trip.GetTripId(),
			ServiceDate: date,
		}
		for _, stup := range tu.GetStopTimeUpdate() {
			up, ok := convertStopTimeUpdate(stup, loc, date)
			if !ok {
				continue
			}
			record.StopUpdates = append(record.StopUpdates, up)
		}
		batch.Records = append(batch.Records, record)
		stats.NumScheduledTrips++

	case gtfsproto.TripDescriptor_CANCELED:
		batch.Records = append(batch.Records, timetable.TripUpdateRecord{
			Kind:        timetable.TripCancel,
			TripID:      trip.GetTripId(),
			ServiceDate: date,
		})
		stats.NumCanceledTrips++

	case gtfsproto.TripDescriptor_ADDED:
		record, err := convertAddedTrip(tu, loc, date)
		if err != nil {
			return err
		}
		batch.Records = append(batch.Records, record)
		stats.NumAddedTrips++

	case gtfsproto.TripDescriptor_UNSCHEDULED:
		// Frequency based trips. Not supported!
		stats.NumUnscheduledTrips++

	case gtfsproto.TripDescriptor_DUPLICATED:
		// Copy of a trip in the schedule. Not supported!
		stats.NumDuplicatedTrips++
	}

	return nil
}

func convertStopTimeUpdate(
	stup *gtfsproto.TripUpdate_StopTimeUpdate,
	loc *time.Location,
	date model.ServiceDate,
) (timetable.StopTimeUpdate, bool) {

	up := timetable.StopTimeUpdate{
		StopSequence: int(stup.GetStopSequence()),
	}

	switch stup.GetScheduleRelationship() {
	case gtfsproto.TripUpdate_StopTimeUpdate_SKIPPED:
		up.Skipped = true
		return up, true
	case gtfsproto.TripUpdate_StopTimeUpdate_NO_DATA:
		up.NoData = true
		return up, true
	case gtfsproto.TripUpdate_StopTimeUpdate_UNSCHEDULED:
		// Frequency based trips. Not supported!
		return up, false
	}

	if stup.Arrival != nil {
		if stup.Arrival.Time != nil {
			up.ArrivalTimeSet = true
			up.ArrivalTime = secondsPastMidnight(stup.GetArrival().GetTime(), loc, date)
		} else if stup.Arrival.Delay != nil {
			up.ArrivalDelaySet = true
			up.ArrivalDelay = int(stup.GetArrival().GetDelay())
		}
	}
	if stup.Departure != nil {
		if stup.Departure.Time != nil {
			up.DepartureTimeSet = true
			up.DepartureTime = secondsPastMidnight(stup.GetDeparture().GetTime(), loc, date)
		} else if stup.Departure.Delay != nil {
			up.DepartureDelaySet = true
			up.DepartureDelay = int(stup.GetDeparture().GetDelay())
		}
	}

	return up, true
}

func convertAddedTrip(
	tu *gtfsproto.TripUpdate,
	loc *time.Location,
	date model.ServiceDate,
) (timetable.TripUpdateRecord, error) {

	trip := tu.Trip
	record := timetable.TripUpdateRecord{
		Kind:        timetable.TripAdded,
		TripID:      trip.GetTripId(),
		ServiceDate: date,
		Trip: &model.Trip{
			ID:          trip.GetTripId(),
			RouteID:     trip.GetRouteId(),
			DirectionID: int8(trip.GetDirectionId()),
		},
	}

	for _, stup := range tu.GetStopTimeUpdate() {
		if stup.GetStopId() == "" {
			return record, fmt.Errorf("added trip %q stop_time_update missing stop_id", trip.GetTripId())
		}

		var arrival, departure int
		arrivalSet := stup.Arrival != nil && stup.Arrival.Time != nil
		departureSet := stup.Departure != nil && stup.Departure.Time != nil
		switch {
		case arrivalSet && departureSet:
			arrival = secondsPastMidnight(stup.GetArrival().GetTime(), loc, date)
			departure = secondsPastMidnight(stup.GetDeparture().GetTime(), loc, date)
		case arrivalSet:
			arrival = secondsPastMidnight(stup.GetArrival().GetTime(), loc, date)
			departure = arrival
		case departureSet:
			departure = secondsPastMidnight(stup.GetDeparture().GetTime(), loc, date)
			arrival = departure
		default:
			return record, fmt.Errorf("added trip %q stop_time_update missing times", trip.GetTripId())
		}
		record.StopTimes = append(record.StopTimes, model.StopTime{
			TripID:       trip.GetTripId(),
			StopID:       stup.GetStopId(),
			StopSequence: stup.GetStopSequence(),
			Arrival:      arrival,
			Departure:    departure,
		})
	}

	if len(record.StopTimes) == 0 {
		return record, fmt.Errorf("added trip %q has no stop_time_updates", trip.GetTripId())
	}

	return record, nil
}

// Converts a POSIX timestamp to seconds past midnight on the service
// date. Midnight is noon minus 12 hours, which holds up on days with
// a DST transition; trips crossing midnight come out above 86400.
func secondsPastMidnight(unix int64, loc *time.Location, date model.ServiceDate) int {
	day, err := date.Time(loc)
	if err != nil {
		return int(unix)
	}
	noon := time.Date(day.Year(), day.Month(), day.Day(), 12, 0, 0, 0, loc)
	midnight := noon.Add(-12 * time.Hour)
	return int(time.Unix(unix, 0).In(loc).Sub(midnight) / time.Second)
}
