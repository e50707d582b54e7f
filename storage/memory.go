package storage

import (
	"fmt"
	"sort"
	"time"

	"github.com/opentransit/timetable/model"
)

// In memory implementation of Storage below

type MemoryStorage struct {
	Feeds map[string]*MemoryFeed
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		Feeds: map[string]*MemoryFeed{},
	}
}

func (s *MemoryStorage) ListFeeds() ([]string, error) {
	ids := []string{}
	for id := range s.Feeds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStorage) GetReader(feedID string) (FeedReader, error) {
	f, ok := s.Feeds[feedID]
	if !ok {
		return nil, fmt.Errorf("feed not found")
	}
	return f, nil
}

func (s *MemoryStorage) GetWriter(feedID string) (FeedWriter, error) {
	f := &MemoryFeed{
		agency:          map[string]*model.Agency{},
		routes:          map[string]*model.Route{},
		trips:           map[string]*model.Trip{},
		calendar:        map[string]*model.Calendar{},
		calendarDate:    map[string][]*model.CalendarDate{},
		stopTimesByTrip: map[string][]*model.StopTime{},
	}

	s.Feeds[feedID] = f

	return f, nil
}

type MemoryFeed struct {
	agency          map[string]*model.Agency
	routes          map[string]*model.Route
	trips           map[string]*model.Trip
	calendar        map[string]*model.Calendar
	calendarDate    map[string][]*model.CalendarDate
	stopTimesByTrip map[string][]*model.StopTime
}

func (f *MemoryFeed) WriteAgency(agency *model.Agency) error {
	f.agency[agency.ID] = agency
	return nil
}

func (f *MemoryFeed) WriteRoute(route *model.Route) error {
	f.routes[route.ID] = route
	return nil
}

func (f *MemoryFeed) WriteTrip(trip *model.Trip) error {
	f.trips[trip.ID] = trip
	return nil
}

func (f *MemoryFeed) WriteCalendar(row *model.Calendar) error {
	f.calendar[row.ServiceID] = row
	return nil
}

func (f *MemoryFeed) WriteCalendarDate(row *model.CalendarDate) error {
	f.calendarDate[row.ServiceID] = append(f.calendarDate[row.ServiceID], row)
	return nil
}

func (f *MemoryFeed) BeginStopTimes() error {
	return nil
}

func (f *MemoryFeed) WriteStopTime(stopTime *model.StopTime) error {
	f.stopTimesByTrip[stopTime.TripID] = append(f.stopTimesByTrip[stopTime.TripID], stopTime)
	return nil
}

func (f *MemoryFeed) EndStopTimes() error {
	for _, sts := range f.stopTimesByTrip {
		sort.Slice(sts, func(i, j int) bool {
			return sts[i].StopSequence < sts[j].StopSequence
		})
	}
	return nil
}

func (f *MemoryFeed) Close() error {
	return nil
}

func (f *MemoryFeed) Agencies() ([]*model.Agency, error) {
	agencies := []*model.Agency{}
	for _, v := range f.agency {
		agencies = append(agencies, v)
	}
	return agencies, nil
}

func (f *MemoryFeed) Routes() ([]*model.Route, error) {
	routes := []*model.Route{}
	for _, v := range f.routes {
		routes = append(routes, v)
	}
	return routes, nil
}

func (f *MemoryFeed) Trips() ([]*model.Trip, error) {
	trips := []*model.Trip{}
	for _, v := range f.trips {
		trips = append(trips, v)
	}
	return trips, nil
}

func (f *MemoryFeed) Calendars() ([]*model.Calendar, error) {
	cals := []*model.Calendar{}
	for _, v := range f.calendar {
		cals = append(cals, v)
	}
	return cals, nil
}

func (f *MemoryFeed) CalendarDates() ([]*model.CalendarDate, error) {
	cds := []*model.CalendarDate{}
	for _, v := range f.calendarDate {
		cds = append(cds, v...)
	}
	return cds, nil
}

func (f *MemoryFeed) StopTimesForTrip(tripID string) ([]*model.StopTime, error) {
	return f.stopTimesByTrip[tripID], nil
}

func (f *MemoryFeed) StopTimesByTrip() (map[string][]*model.StopTime, error) {
	return f.stopTimesByTrip, nil
}

func (f *MemoryFeed) ActiveServices(date model.ServiceDate) ([]string, error) {
	services := map[string]bool{}

	parsedDate, err := time.Parse("20060102", string(date))
	if err != nil {
		return nil, fmt.Errorf("invalid date: %s", date)
	}

	for _, calendar := range f.calendar {
		if calendar.Weekday&(1<<parsedDate.Weekday()) == 0 {
			continue
		}
		if calendar.StartDate > string(date) {
			continue
		}
		if calendar.EndDate < string(date) {
			continue
		}
		services[calendar.ServiceID] = true
	}

	for _, cds := range f.calendarDate {
		for _, cd := range cds {
			if cd.Date == string(date) {
				if cd.ExceptionType == 1 {
					services[cd.ServiceID] = true
				} else if cd.ExceptionType == 2 {
					services[cd.ServiceID] = false
				}
			}
		}
	}

	activeServices := []string{}
	for serviceID, active := range services {
		if active {
			activeServices = append(activeServices, serviceID)
		}
	}
	sort.Strings(activeServices)

	return activeServices, nil
}
