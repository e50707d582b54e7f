package timetable

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/opentransit/timetable/dedup"
	"github.com/opentransit/timetable/metrics"
	"github.com/opentransit/timetable/model"
)

// Applier turns realtime update batches into new snapshots. One
// applier serves one feed; if several feeds update the same schedule,
// each needs its own applier and they serialize on the publisher's
// builder lock.
//
// Per-record failures are reported in the UpdateResult and do not
// poison the batch. Only a structural failure (a frozen-snapshot
// write, which indicates a bug) aborts the whole batch, in which case
// the previously published snapshot stays current.
type Applier struct {
	schedule *Schedule

	// Allow creating TripPatterns at runtime for added or
	// modified trips that fit no existing pattern. Off by
	// default: a misbehaving feed then cannot grow the pattern
	// set without bound.
	SynthesizePatterns bool

	// Optional instrumentation.
	Metrics *metrics.Collector

	// Interning for TripTimes built at runtime. Only ever touched
	// while holding the publisher's builder lock.
	dedup *dedup.Deduplicator

	addedPatternSeq int
}

func NewApplier(schedule *Schedule) *Applier {
	return &Applier{
		schedule: schedule,
		dedup:    dedup.NewDeduplicator(),
	}
}

// Applies a batch and publishes the resulting snapshot. Returns the
// per-record outcomes. A non-nil error means the batch was aborted
// as a whole and no snapshot was published.
func (a *Applier) Apply(batch UpdateBatch) (UpdateResult, error) {
	started := time.Now()

	publisher := a.schedule.Publisher()
	builder := publisher.Begin()

	result := UpdateResult{}
	for _, record := range batch.Records {
		err := a.applyRecord(builder, batch.FeedID, record)
		if errors.Is(err, ErrSnapshotFrozen) {
			publisher.Abort()
			return UpdateResult{}, fmt.Errorf("applying %s for trip %s: %w", record.Kind, record.TripID, err)
		}
		if err != nil {
			log.Warn().
				Str("feed_id", batch.FeedID).
				Str("trip_id", record.TripID).
				Str("kind", record.Kind.String()).
				Str("service_date", string(record.ServiceDate)).
				Err(err).
				Msg("rejecting realtime update")
		}
		result.add(record, err)
	}

	snapshot := publisher.Commit()

	if a.Metrics != nil {
		a.Metrics.RecordsApplied.Add(float64(result.Applied))
		for _, outcome := range result.Outcomes {
			if outcome.Err != nil {
				a.Metrics.RecordsRejected.WithLabelValues(rejectionReason(outcome.Err)).Inc()
			}
		}
		a.Metrics.SnapshotsPublished.Inc()
		a.Metrics.SnapshotOverlays.Set(float64(snapshot.NumOverlays()))
		a.Metrics.BatchDuration.Observe(time.Since(started).Seconds())
	}

	return result, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrUnknownTrip):
		return "unknown_trip"
	case errors.Is(err, ErrUnknownStopSequence):
		return "unknown_stop_sequence"
	case errors.Is(err, ErrInconsistentUpdate):
		return "inconsistent_update"
	case errors.Is(err, ErrPatternStructureRequired):
		return "pattern_structure_required"
	case errors.Is(err, ErrMalformedSchedule):
		return "malformed_schedule"
	}
	return "other"
}

func (a *Applier) applyRecord(builder *Snapshot, feedID string, record TripUpdateRecord) error {
	if !record.ServiceDate.Valid() {
		return fmt.Errorf("invalid service date %q: %w", record.ServiceDate, ErrUnknownTrip)
	}

	switch record.Kind {
	case TripDelay, TripObservation:
		return a.applyTimes(builder, feedID, record)
	case TripCancel:
		return a.applyCancel(builder, feedID, record)
	case TripAdded:
		return a.applyAdded(builder, feedID, record)
	case TripModified:
		return a.applyModified(builder, feedID, record)
	}
	return fmt.Errorf("unknown record kind %d: %w", record.Kind, ErrInconsistentUpdate)
}

// Locates the trip's pattern and its effective TripTimes in the
// builder. Runtime-added patterns win over the static index, since a
// modified trip may have moved to a different pattern.
func (a *Applier) resolveTrip(builder *Snapshot, feedID string, record TripUpdateRecord) (*TripPattern, *TripTimes, error) {
	pattern := builder.LastAddedTripPattern(feedID, record.TripID, record.ServiceDate)
	if pattern == nil {
		var found bool
		pattern, found = a.schedule.PatternForTrip(record.TripID)
		if !found {
			return nil, nil, fmt.Errorf("trip %q on %s: %w", record.TripID, record.ServiceDate, ErrUnknownTrip)
		}
	}

	tt, found := builder.Resolve(pattern, record.ServiceDate).TripTimesForTrip(record.TripID)
	if !found {
		return nil, nil, fmt.Errorf("trip %q missing from timetable: %w", record.TripID, ErrUnknownTrip)
	}
	return pattern, tt, nil
}

type indexedStopUpdate struct {
	index  int
	update StopTimeUpdate
}

// Applies delay/time predictions (and observations) to one trip. In
// GTFS-rt, a delay holds for all later stops until the next update,
// so gaps between and after updated stops get the previous stop's
// departure delay propagated into them.
func (a *Applier) applyTimes(builder *Snapshot, feedID string, record TripUpdateRecord) error {
	pattern, tt, err := a.resolveTrip(builder, feedID, record)
	if err != nil {
		return err
	}

	updated := tt.CopyForUpdate()

	// Resolve stop sequences up front so an unknown sequence
	// rejects the record before any mutation.
	ups := make([]indexedStopUpdate, 0, len(record.StopUpdates))
	for _, up := range record.StopUpdates {
		i, found := updated.FindStopIndex(up.StopSequence)
		if !found {
			return fmt.Errorf("trip %q stop_sequence %d: %w", record.TripID, up.StopSequence, ErrUnknownStopSequence)
		}
		ups = append(ups, indexedStopUpdate{i, up})
	}
	if len(ups) == 0 {
		return nil
	}
	sort.Slice(ups, func(i, j int) bool {
		return ups[i].index < ups[j].index
	})

	cur := 0
	propagating := false
	propagatedDelay := 0

	for i := ups[0].index; i < updated.NumStops(); i++ {
		if cur < len(ups) && ups[cur].index == i {
			up := ups[cur].update
			cur++

			if up.Skipped {
				updated.CancelStop(i)
				continue
			}
			if up.NoData {
				propagating = false
				continue
			}

			arrDelay, arrSet := resolveDelay(up.ArrivalDelaySet, up.ArrivalDelay, up.ArrivalTimeSet, up.ArrivalTime, updated.ScheduledArrivalTime(i))
			depDelay, depSet := resolveDelay(up.DepartureDelaySet, up.DepartureDelay, up.DepartureTimeSet, up.DepartureTime, updated.ScheduledDepartureTime(i))

			// Lacking one side, borrow the other. An early
			// arrival is read as a return to schedule
			// rather than an early departure.
			if !depSet && arrSet {
				depDelay = max(arrDelay, 0)
			}
			if !arrSet && depSet {
				arrDelay = depDelay
			}
			if !arrSet && !depSet {
				arrDelay = 0
				depDelay = 0
			}

			updated.UpdateArrivalDelay(i, arrDelay)
			updated.UpdateDepartureDelay(i, depDelay)

			if record.Kind == TripObservation {
				updated.SetRecorded(i, true)
			}
			if up.PredictionInaccurate {
				updated.SetPredictionInaccurate(i, true)
			}

			propagating = true
			propagatedDelay = depDelay
			continue
		}

		if propagating {
			updated.UpdateArrivalDelay(i, propagatedDelay)
			updated.UpdateDepartureDelay(i, propagatedDelay)
		}
	}

	if !updated.TimesIncreasing() {
		return fmt.Errorf("trip %q on %s: %w", record.TripID, record.ServiceDate, ErrInconsistentUpdate)
	}

	return builder.Update(pattern, record.ServiceDate, updated)
}

func resolveDelay(delaySet bool, delay int, timeSet bool, absTime int, scheduled int) (int, bool) {
	if delaySet {
		return delay, true
	}
	if timeSet {
		return absTime - scheduled, true
	}
	return 0, false
}

func (a *Applier) applyCancel(builder *Snapshot, feedID string, record TripUpdateRecord) error {
	pattern, tt, err := a.resolveTrip(builder, feedID, record)
	if err != nil {
		return err
	}

	cancelled := tt.CopyForUpdate()
	cancelled.Cancel()
	return builder.Update(pattern, record.ServiceDate, cancelled)
}

func (a *Applier) applyAdded(builder *Snapshot, feedID string, record TripUpdateRecord) error {
	if _, found := a.schedule.Trip(record.TripID); found {
		return fmt.Errorf("added trip %q already in schedule: %w", record.TripID, ErrInconsistentUpdate)
	}
	if len(record.StopTimes) == 0 {
		return fmt.Errorf("added trip %q has no stop times: %w", record.TripID, ErrMalformedSchedule)
	}

	trip := record.Trip
	if trip == nil {
		trip = &model.Trip{ID: record.TripID}
	}
	trip.FeedID = feedID

	pattern, err := a.patternForStopTimes(trip, record.StopTimes)
	if err != nil {
		return fmt.Errorf("added trip %q: %w", record.TripID, err)
	}

	tt, err := NewTripTimes(trip, record.StopTimes, a.dedup)
	if err != nil {
		return fmt.Errorf("added trip %q: %w", record.TripID, err)
	}
	tt.SetRealTimeState(model.StateAdded)

	if err := builder.Update(pattern, record.ServiceDate, tt); err != nil {
		return err
	}
	return builder.SetLastAddedTripPattern(feedID, record.TripID, record.ServiceDate, pattern)
}

func (a *Applier) applyModified(builder *Snapshot, feedID string, record TripUpdateRecord) error {
	oldPattern, oldTimes, err := a.resolveTrip(builder, feedID, record)
	if err != nil {
		return err
	}
	if len(record.StopTimes) == 0 {
		return fmt.Errorf("modified trip %q has no stop times: %w", record.TripID, ErrMalformedSchedule)
	}

	trip := record.Trip
	if trip == nil {
		trip = oldTimes.Trip()
	}

	newPattern := oldPattern
	sp := NewStopPattern(record.StopTimes)
	if !oldPattern.StopPattern().Equal(sp) {
		newPattern, err = a.patternForStopTimes(trip, record.StopTimes)
		if err != nil {
			return fmt.Errorf("modified trip %q: %w", record.TripID, err)
		}
	}

	tt, err := NewTripTimes(trip, record.StopTimes, a.dedup)
	if err != nil {
		return fmt.Errorf("modified trip %q: %w", record.TripID, err)
	}
	tt.SetServiceCode(oldTimes.ServiceCode())
	tt.SetRealTimeState(model.StateModified)

	if newPattern != oldPattern {
		// The run leaves its old pattern; mark it cancelled
		// there so trip search doesn't board it twice.
		ghost := oldTimes.CopyForUpdate()
		ghost.Cancel()
		if err := builder.Update(oldPattern, record.ServiceDate, ghost); err != nil {
			return err
		}
		if err := builder.SetLastAddedTripPattern(feedID, record.TripID, record.ServiceDate, newPattern); err != nil {
			return err
		}
	}

	return builder.Update(newPattern, record.ServiceDate, tt)
}

// Finds an existing pattern fitting the stop times, or synthesizes
// one when allowed.
func (a *Applier) patternForStopTimes(trip *model.Trip, stopTimes []model.StopTime) (*TripPattern, error) {
	sp := NewStopPattern(stopTimes)
	if pattern, found := a.schedule.FindPattern(trip.RouteID, sp); found {
		return pattern, nil
	}
	if !a.SynthesizePatterns {
		return nil, ErrPatternStructureRequired
	}

	route, _ := a.schedule.Route(trip.RouteID)
	a.addedPatternSeq++
	pattern := NewTripPattern(
		fmt.Sprintf("%s:%s:rt%03d", a.schedule.FeedID, trip.RouteID, a.addedPatternSeq),
		a.schedule.FeedID,
		route,
		sp,
	)
	pattern.CreatedByRealtime = true
	return pattern, nil
}
