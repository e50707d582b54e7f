package timetable

import (
	"github.com/opentransit/timetable/model"
)

// The producer-facing update contract. A batch is a sequence of typed
// records referencing trips by (feed ID, trip ID, service date) and
// stops by GTFS stop_sequence. Batches typically come out of
// parse.ParseRealtime, but producers can construct them directly.

type UpdateKind int

const (
	// Delay or exact-time predictions for some of a trip's stops,
	// possibly with skipped stops and observability flags mixed
	// in.
	TripDelay UpdateKind = iota

	// The whole trip is cancelled.
	TripCancel

	// A trip not present in the static schedule.
	TripAdded

	// A scheduled trip rerouted or otherwise structurally
	// changed, possibly onto a different pattern.
	TripModified

	// Observed actual times for stops the vehicle has passed.
	TripObservation
)

func (k UpdateKind) String() string {
	switch k {
	case TripDelay:
		return "delay"
	case TripCancel:
		return "cancel"
	case TripAdded:
		return "added"
	case TripModified:
		return "modified"
	case TripObservation:
		return "observation"
	}
	return "unknown"
}

// A prediction (or observation) for a single stop, addressed by GTFS
// stop_sequence. Times are absolute seconds past midnight on the
// record's service date; delays are relative to schedule.
type StopTimeUpdate struct {
	StopSequence int

	ArrivalDelaySet   bool
	ArrivalDelay      int
	ArrivalTimeSet    bool
	ArrivalTime       int
	DepartureDelaySet bool
	DepartureDelay    int
	DepartureTimeSet  bool
	DepartureTime     int

	// The vehicle will not stop here.
	Skipped bool

	// No realtime data for this stop: fall back to schedule and
	// stop propagating earlier delays.
	NoData bool

	// A prediction exists but is known to be low quality.
	PredictionInaccurate bool
}

// One realtime message about one trip on one service day.
type TripUpdateRecord struct {
	Kind        UpdateKind
	TripID      string
	ServiceDate model.ServiceDate

	StopUpdates []StopTimeUpdate

	// For added and modified trips: the trip descriptor and the
	// full run of stop times defining the (possibly new) pattern.
	Trip      *model.Trip
	StopTimes []model.StopTime
}

type UpdateBatch struct {
	FeedID  string
	Records []TripUpdateRecord
}

// Per-record outcome of an Apply call. Err is nil for applied
// records; failed records carry one of the sentinel errors, possibly
// wrapped.
type RecordOutcome struct {
	TripID      string
	ServiceDate model.ServiceDate
	Kind        UpdateKind
	Err         error
}

type UpdateResult struct {
	Applied  int
	Rejected int
	Outcomes []RecordOutcome
}

func (r *UpdateResult) add(record TripUpdateRecord, err error) {
	r.Outcomes = append(r.Outcomes, RecordOutcome{
		TripID:      record.TripID,
		ServiceDate: record.ServiceDate,
		Kind:        record.Kind,
		Err:         err,
	})
	if err == nil {
		r.Applied++
	} else {
		r.Rejected++
	}
}
