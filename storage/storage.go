package storage

import (
	"github.com/opentransit/timetable/model"
)

// Persistence for static schedule records. The timetable core reads
// routes, trips and stop times once at build time to assemble
// patterns and scheduled trip times, and queries the service calendar
// per date afterwards. Realtime overlays are never written here.

type Storage interface {
	// Gets a reader for the feed with the given ID.
	GetReader(feedID string) (FeedReader, error)

	// Gets a writer for the feed with the given ID. Writing a
	// feed ID that already exists replaces it.
	GetWriter(feedID string) (FeedWriter, error)

	// IDs of all feeds present.
	ListFeeds() ([]string, error)
}

// Writes GTFS records for a single feed.
//
// As stop_times.txt tends to be very large, BeginStopTimes() and
// EndStopTimes() are called before and after all calls to
// WriteStopTime(), allowing transactions/batching/whathaveyou.
type FeedWriter interface {
	WriteAgency(agency *model.Agency) error
	WriteRoute(route *model.Route) error
	WriteTrip(trip *model.Trip) error
	WriteCalendar(cal *model.Calendar) error
	WriteCalendarDate(caldate *model.CalendarDate) error
	WriteStopTime(stopTime *model.StopTime) error
	BeginStopTimes() error
	EndStopTimes() error
	Close() error
}

type FeedReader interface {
	Agencies() ([]*model.Agency, error)
	Routes() ([]*model.Route, error)
	Trips() ([]*model.Trip, error)
	Calendars() ([]*model.Calendar, error)
	CalendarDates() ([]*model.CalendarDate, error)

	// All stop times for a trip, ordered by stop_sequence.
	StopTimesForTrip(tripID string) ([]*model.StopTime, error)

	// All stop times in the feed, grouped by trip ID. Each group
	// is ordered by stop_sequence.
	StopTimesByTrip() (map[string][]*model.StopTime, error)

	// Service IDs for all services active on the given date.
	ActiveServices(date model.ServiceDate) ([]string, error)
}
