package timetable

import (
	"hash/fnv"

	"github.com/rs/zerolog/log"

	"github.com/opentransit/timetable/dedup"
	"github.com/opentransit/timetable/model"
)

// TripTimes holds the arrival and departure times for a single run of
// a single trip, along with per-stop boarding rules and realtime
// metadata. All times are seconds past midnight on the service day,
// as in GTFS.
//
// The scheduled arrays are normalized so that the first arrival is
// zero, with the original offset kept in timeShift. This makes the
// arrays identical for trips that differ only in start time, which is
// what lets the Deduplicator share them, and what makes
// frequency-based trips cheap to materialize.
//
// A scheduled TripTimes has nil overlay arrays and must be treated as
// immutable; it is shared across service days and across snapshots.
// Mutating methods may only be called on a copy obtained via
// CopyForUpdate, and only until the owning snapshot is committed.
type TripTimes struct {
	trip        *model.Trip
	serviceCode int
	timeShift   int

	scheduledArrivals   []int
	scheduledDepartures []int

	// Realtime overlay. Nil when the trip runs on schedule. Unlike
	// the scheduled arrays these hold absolute times, not shifted.
	arrivals   []int
	departures []int

	recorded             []bool
	predictionInaccurate []bool

	pickups      []model.PickDrop
	dropoffs     []model.PickDrop
	ownsPickDrop bool

	pickupBookings  []*model.BookingInfo
	dropOffBookings []*model.BookingInfo

	// Per-stop headsign overrides. Nil means the trip headsign
	// applies at every stop.
	headsigns []string

	// GTFS stop_sequence per stop. Realtime feeds reference stops
	// by these, and each trip can use its own numbering scheme, so
	// they live here rather than on the pattern.
	stopSequences []int

	timepoints *dedup.BitSet

	state model.RealTimeState
}

// Builds a TripTimes from an ordered run of stop times. The stop
// times must have non-decreasing times; anything else is a feed error
// and gets rejected here.
func NewTripTimes(trip *model.Trip, stopTimes []model.StopTime, d *dedup.Deduplicator) (*TripTimes, error) {
	n := len(stopTimes)
	if n == 0 {
		return nil, ErrMalformedSchedule
	}

	shift := stopTimes[0].Arrival

	arrivals := make([]int, n)
	departures := make([]int, n)
	sequences := make([]int, n)
	timepoints := dedup.NewBitSet(n)
	pickups := make([]model.PickDrop, n)
	dropoffs := make([]model.PickDrop, n)
	pickupBookings := make([]*model.BookingInfo, n)
	dropOffBookings := make([]*model.BookingInfo, n)

	for i, st := range stopTimes {
		arrivals[i] = st.Arrival - shift
		departures[i] = st.Departure - shift
		sequences[i] = int(st.StopSequence)
		timepoints.Set(i, st.Timepoint)
		pickups[i] = st.PickupType
		dropoffs[i] = st.DropOffType
		pickupBookings[i] = st.PickupBooking
		dropOffBookings[i] = st.DropOffBooking
	}

	tt := &TripTimes{
		trip:                trip,
		serviceCode:         -1,
		timeShift:           shift,
		scheduledArrivals:   d.IntSlice(arrivals),
		scheduledDepartures: d.IntSlice(departures),
		stopSequences:       d.IntSlice(sequences),
		timepoints:          d.BitSet(timepoints),
		pickups:             d.PickDrops(pickups),
		dropoffs:            d.PickDrops(dropoffs),
		pickupBookings:      d.BookingInfos(pickupBookings),
		dropOffBookings:     d.BookingInfos(dropOffBookings),
		headsigns:           d.StringSlice(makeHeadsigns(trip, stopTimes)),
		state:               model.StateScheduled,
	}

	if !tt.TimesIncreasing() {
		log.Warn().
			Str("trip_id", trip.ID).
			Str("feed_id", trip.FeedID).
			Msg("rejecting trip with non-monotonic stop times")
		return nil, ErrMalformedSchedule
	}

	return tt, nil
}

// Returns a per-stop headsign array, or nil if the trip headsign
// covers every stop. An all-empty array is also folded to nil.
func makeHeadsigns(trip *model.Trip, stopTimes []model.StopTime) []string {
	useStopHeadsigns := trip.Headsign == ""
	if !useStopHeadsigns {
		for _, st := range stopTimes {
			if st.Headsign != "" && st.Headsign != trip.Headsign {
				useStopHeadsigns = true
				break
			}
		}
	}
	if !useStopHeadsigns {
		return nil
	}

	allEmpty := true
	hs := make([]string, len(stopTimes))
	for i, st := range stopTimes {
		hs[i] = st.Headsign
		if st.Headsign != "" {
			allEmpty = false
		}
	}
	if allEmpty {
		return nil
	}
	return hs
}

// Returns a mutable copy suitable for applying realtime updates. The
// scheduled arrays are shared with the receiver; overlay arrays and
// flags are deep-copied so the original stays untouched.
func (tt *TripTimes) CopyForUpdate() *TripTimes {
	c := *tt
	if tt.arrivals != nil {
		c.arrivals = append([]int(nil), tt.arrivals...)
		c.departures = append([]int(nil), tt.departures...)
	}
	if tt.recorded != nil {
		c.recorded = append([]bool(nil), tt.recorded...)
		c.predictionInaccurate = append([]bool(nil), tt.predictionInaccurate...)
	}
	if tt.ownsPickDrop {
		c.pickups = append([]model.PickDrop(nil), tt.pickups...)
		c.dropoffs = append([]model.PickDrop(nil), tt.dropoffs...)
	}
	return &c
}

func (tt *TripTimes) Trip() *model.Trip {
	return tt.trip
}

func (tt *TripTimes) NumStops() int {
	return len(tt.scheduledArrivals)
}

func (tt *TripTimes) ServiceCode() int {
	return tt.serviceCode
}

// Set after construction, once the service calendar has been
// resolved to a code.
func (tt *TripTimes) SetServiceCode(code int) {
	tt.serviceCode = code
}

func (tt *TripTimes) TimeShift() int {
	return tt.timeShift
}

// The time the vehicle arrives at stop i according to the published
// schedule, ignoring any realtime data.
func (tt *TripTimes) ScheduledArrivalTime(i int) int {
	return tt.scheduledArrivals[i] + tt.timeShift
}

func (tt *TripTimes) ScheduledDepartureTime(i int) int {
	return tt.scheduledDepartures[i] + tt.timeShift
}

// The effective arrival time at stop i: the realtime value if an
// overlay exists, the scheduled value otherwise.
func (tt *TripTimes) ArrivalTime(i int) int {
	if tt.arrivals == nil {
		return tt.ScheduledArrivalTime(i)
	}
	return tt.arrivals[i] // updated times are not time shifted
}

func (tt *TripTimes) DepartureTime(i int) int {
	if tt.departures == nil {
		return tt.ScheduledDepartureTime(i)
	}
	return tt.departures[i]
}

// How long the vehicle waits at stop i.
func (tt *TripTimes) DwellTime(i int) int {
	return tt.DepartureTime(i) - tt.ArrivalTime(i)
}

// How long the vehicle takes from stop i to stop i+1.
func (tt *TripTimes) RunningTime(i int) int {
	return tt.ArrivalTime(i+1) - tt.DepartureTime(i)
}

func (tt *TripTimes) ArrivalDelay(i int) int {
	return tt.ArrivalTime(i) - tt.ScheduledArrivalTime(i)
}

func (tt *TripTimes) DepartureDelay(i int) int {
	return tt.DepartureTime(i) - tt.ScheduledDepartureTime(i)
}

// Key used to keep a Timetable sorted. Trips are assumed not to
// overtake each other along a pattern, so first-stop arrival is
// enough.
func (tt *TripTimes) SortIndex() int {
	return tt.ArrivalTime(0)
}

func (tt *TripTimes) Headsign(i int) string {
	if tt.headsigns == nil {
		return tt.trip.Headsign
	}
	return tt.headsigns[i]
}

func (tt *TripTimes) StopSequence(i int) int {
	return tt.stopSequences[i]
}

// Maps a GTFS stop_sequence to a stop index. Sequence numbers can be
// non-contiguous, hence the scan.
func (tt *TripTimes) FindStopIndex(stopSequence int) (int, bool) {
	for i, seq := range tt.stopSequences {
		if seq == stopSequence {
			return i, true
		}
	}
	return 0, false
}

func (tt *TripTimes) IsTimepoint(i int) bool {
	return tt.timepoints.Get(i)
}

func (tt *TripTimes) PickupType(i int) model.PickDrop {
	return tt.pickups[i]
}

func (tt *TripTimes) DropOffType(i int) model.PickDrop {
	return tt.dropoffs[i]
}

func (tt *TripTimes) PickupBookingInfo(i int) *model.BookingInfo {
	return tt.pickupBookings[i]
}

func (tt *TripTimes) DropOffBookingInfo(i int) *model.BookingInfo {
	return tt.dropOffBookings[i]
}

func (tt *TripTimes) RealTimeState() model.RealTimeState {
	return tt.state
}

// Any non-scheduled state implies realtime data, so the overlay is
// materialized on the way in.
func (tt *TripTimes) SetRealTimeState(state model.RealTimeState) {
	if state != model.StateScheduled {
		tt.ensureTimesArrays()
	}
	tt.state = state
}

// True if no realtime data of any kind has been attached, i.e. the
// overlay is absent. Every transition out of SCHEDULED, cancellation
// included, materializes the overlay, so a cancelled trip is not
// scheduled even though its times equal the schedule.
func (tt *TripTimes) IsScheduled() bool {
	return tt.arrivals == nil && tt.departures == nil
}

func (tt *TripTimes) IsCanceled() bool {
	return tt.state == model.StateCanceled
}

// True if both boarding and alighting are cancelled at stop i.
func (tt *TripTimes) IsCancelledStop(i int) bool {
	return tt.pickups[i] == model.PickDropCancelled && tt.dropoffs[i] == model.PickDropCancelled
}

func (tt *TripTimes) IsRecordedStop(i int) bool {
	if tt.recorded == nil {
		return false
	}
	return tt.recorded[i]
}

func (tt *TripTimes) IsPredictionInaccurate(i int) bool {
	if tt.predictionInaccurate == nil {
		return false
	}
	return tt.predictionInaccurate[i]
}

// Cancel the entire trip. The overlay is materialized (unchanged
// from schedule) so the run is no longer in the flyweight scheduled
// representation, but no arrival or departure moves.
func (tt *TripTimes) Cancel() {
	tt.ensureTimesArrays()
	tt.state = model.StateCanceled
}

// Cancel both pickup and dropoff at stop i. Times are not modified.
func (tt *TripTimes) CancelStop(i int) {
	tt.ensureTimesArrays()
	tt.ensureOwnPickDrop()
	tt.pickups[i] = model.PickDropCancelled
	tt.dropoffs[i] = model.PickDropCancelled
}

func (tt *TripTimes) SetRecorded(i int, recorded bool) {
	tt.ensureTimesArrays()
	tt.recorded[i] = recorded
}

func (tt *TripTimes) SetPredictionInaccurate(i int, inaccurate bool) {
	tt.ensureTimesArrays()
	tt.predictionInaccurate[i] = inaccurate
}

// Set the absolute arrival time at stop i.
func (tt *TripTimes) UpdateArrivalTime(i int, time int) {
	tt.ensureTimesArrays()
	tt.arrivals[i] = time
}

func (tt *TripTimes) UpdateDepartureTime(i int, time int) {
	tt.ensureTimesArrays()
	tt.departures[i] = time
}

// Set the arrival time at stop i to schedule plus delay. Negative
// delays (running early) are allowed.
func (tt *TripTimes) UpdateArrivalDelay(i int, delay int) {
	tt.ensureTimesArrays()
	tt.arrivals[i] = tt.ScheduledArrivalTime(i) + delay
}

func (tt *TripTimes) UpdateDepartureDelay(i int, delay int) {
	tt.ensureTimesArrays()
	tt.departures[i] = tt.ScheduledDepartureTime(i) + delay
}

// Lazily allocates the overlay arrays as time-shifted copies of the
// scheduled times, flipping the state to UPDATED. Until some update
// method runs, a TripTimes stays in the flyweight scheduled
// representation.
func (tt *TripTimes) ensureTimesArrays() {
	if tt.arrivals != nil {
		return
	}
	n := len(tt.scheduledArrivals)
	tt.arrivals = make([]int, n)
	tt.departures = make([]int, n)
	for i := 0; i < n; i++ {
		tt.arrivals[i] = tt.scheduledArrivals[i] + tt.timeShift
		tt.departures[i] = tt.scheduledDepartures[i] + tt.timeShift
	}
	tt.recorded = make([]bool, n)
	tt.predictionInaccurate = make([]bool, n)
	if tt.state == model.StateScheduled {
		tt.state = model.StateUpdated
	}
}

func (tt *TripTimes) ensureOwnPickDrop() {
	if tt.ownsPickDrop {
		return
	}
	tt.pickups = append([]model.PickDrop(nil), tt.pickups...)
	tt.dropoffs = append([]model.PickDrop(nil), tt.dropoffs...)
	tt.ownsPickDrop = true
}

// Checks that the effective times contain no negative dwell or
// running time. Update batches that would break this get rejected.
func (tt *TripTimes) TimesIncreasing() bool {
	prevDep := -1 << 31
	for i := 0; i < len(tt.scheduledArrivals); i++ {
		arr := tt.ArrivalTime(i)
		dep := tt.DepartureTime(i)
		if dep < arr {
			log.Warn().
				Str("trip_id", tt.trip.ID).
				Int("stop_index", i).
				Msg("negative dwell time")
			return false
		}
		if arr < prevDep {
			log.Warn().
				Str("trip_id", tt.trip.ID).
				Int("stop_index", i).
				Msg("negative running time")
			return false
		}
		prevDep = dep
	}
	return true
}

// Returns a copy shifted so that the vehicle passes stop i at the
// given time (departing if depart is set, arriving otherwise). Only
// the scheduled times can be shifted, so this returns nil when a
// realtime overlay exists. Frequency-based trips are materialized
// through here.
func (tt *TripTimes) TimeShifted(i int, time int, depart bool) *TripTimes {
	if tt.arrivals != nil || tt.departures != nil {
		return nil
	}
	shifted := *tt
	if depart {
		shifted.timeShift += time - tt.DepartureTime(i)
	} else {
		shifted.timeShift += time - tt.ArrivalTime(i)
	}
	return &shifted
}

// Materializes a frequency-based service: virtual runs of tt
// departing its first stop every headway seconds in [start, end).
// All runs share the scheduled arrays and differ only in timeShift,
// so a dense headway costs a few words per run, not a copy of the
// times. Returns nil if tt carries realtime data.
func MaterializeFrequency(tt *TripTimes, start, end, headway int) []*TripTimes {
	if headway <= 0 {
		return nil
	}
	runs := []*TripTimes{}
	for departure := start; departure < end; departure += headway {
		run := tt.TimeShifted(0, departure, true)
		if run == nil {
			return nil
		}
		runs = append(runs, run)
	}
	return runs
}

// A fingerprint of the scheduled hop times, stable across feed
// versions. Hops rather than stops: arrival at the first stop and
// departure from the last are irrelevant, and leaving them out keeps
// the hash identical when an entire trip is shifted in time.
func (tt *TripTimes) SemanticHash() uint64 {
	h := fnv.New64a()
	var buf [4]byte
	putInt := func(v int) {
		buf[0] = byte(v)
		buf[1] = byte(v >> 8)
		buf[2] = byte(v >> 16)
		buf[3] = byte(v >> 24)
		h.Write(buf[:])
	}
	for hop := 0; hop < tt.NumStops()-1; hop++ {
		putInt(tt.scheduledDepartures[hop])
		putInt(tt.scheduledArrivals[hop+1])
	}
	return h.Sum64()
}
